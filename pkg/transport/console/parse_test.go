package console

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Line
	}{
		{"blank", "   ", Line{Kind: KindEmpty}},
		{"request", "alice check https://www.chess.com/live/game/1 please",
			Line{Kind: KindRequest, Requester: "alice", Text: "check https://www.chess.com/live/game/1 please"}},
		{"request with extra spaces", "  bob   https://x.test/1  ",
			Line{Kind: KindRequest, Requester: "bob", Text: "https://x.test/1"}},
		{"setconfig", "admin /setconfig user pass",
			Line{Kind: KindSetConfig, Requester: "admin", Args: []string{"user", "pass"}}},
		{"setcredits", "admin /SetCredits alice 7",
			Line{Kind: KindSetCredits, Requester: "admin", Args: []string{"alice", "7"}}},
		{"balance", "alice /balance",
			Line{Kind: KindBalance, Requester: "alice", Args: []string{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLine(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLine_Errors(t *testing.T) {
	line, err := ParseLine("alice")
	assert.ErrorIs(t, err, ErrMissingMessage)
	assert.Equal(t, "alice", line.Requester)

	line, err = ParseLine("alice /frobnicate now")
	assert.ErrorContains(t, err, "unknown command /frobnicate")
	assert.Equal(t, "alice", line.Requester)
}
