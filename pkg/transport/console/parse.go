package console

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an input line.
type Kind int

const (
	KindEmpty Kind = iota
	KindRequest
	KindSetConfig
	KindSetCredits
	KindBalance
)

var commands = map[string]Kind{
	"/setconfig":  KindSetConfig,
	"/setcredits": KindSetCredits,
	"/balance":    KindBalance,
}

// ErrMissingMessage is returned for a line with a requester but no text.
var ErrMissingMessage = errors.New("missing message")

// Line is one parsed input line: `<requester> <text>` or
// `<requester> /<command> [args...]`.
type Line struct {
	Kind      Kind
	Requester string
	Text      string
	Args      []string
}

// ParseLine parses one line of input.
func ParseLine(s string) (Line, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return Line{Kind: KindEmpty}, nil
	}
	line := Line{Requester: fields[0]}
	if len(fields) == 1 {
		return line, ErrMissingMessage
	}

	if strings.HasPrefix(fields[1], "/") {
		kind, ok := commands[strings.ToLower(fields[1])]
		if !ok {
			return line, fmt.Errorf("unknown command %s", fields[1])
		}
		line.Kind = kind
		line.Args = fields[2:]
		return line, nil
	}

	line.Kind = KindRequest
	line.Text = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), fields[0]))
	return line, nil
}
