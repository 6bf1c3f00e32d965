package orchestrator

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultHost is the site whose game links are accepted.
const DefaultHost = "www.chess.com"

var urlPattern = regexp.MustCompile(`https?://\S+`)

// TargetResolver maps live game links on one host to their analysis
// review pages.
type TargetResolver struct {
	host string
	game *regexp.Regexp
}

// NewTargetResolver compiles the game link pattern for host. An empty host
// means DefaultHost.
func NewTargetResolver(host string) *TargetResolver {
	if host == "" {
		host = DefaultHost
	}
	return &TargetResolver{
		host: host,
		game: regexp.MustCompile(`^https://` + regexp.QuoteMeta(host) + `/live/game/(\d+)$`),
	}
}

// Host returns the accepted site host.
func (r *TargetResolver) Host() string {
	return r.host
}

// Resolve finds the first URL in text and returns its review page.
// Anything other than a live game link is ErrInvalidTarget.
func (r *TargetResolver) Resolve(text string) (string, error) {
	raw := urlPattern.FindString(text)
	if raw == "" {
		return "", fmt.Errorf("%w: no link in message", ErrInvalidTarget)
	}
	// Chat text often ends a link with punctuation.
	raw = strings.TrimRight(raw, ".,;:!?)]>'\"")

	m := r.game.FindStringSubmatch(raw)
	if m == nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidTarget, raw)
	}
	return fmt.Sprintf("https://%s/analysis/game/live/%s/review", r.host, m[1]), nil
}
