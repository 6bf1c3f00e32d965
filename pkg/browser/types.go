package browser

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/entrhq/reviewbot/pkg/session"
)

// Default values for browser sessions.
const (
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 800
	DefaultTimeout        = 30 * time.Second
	DefaultLoginURL       = "https://www.chess.com/login"
	DefaultHomeMarker     = "/home"
)

// Options configures the Chromium sessions the Manager launches.
type Options struct {
	// Headless controls whether the browser runs without a visible window
	Headless bool `yaml:"headless"`

	// Viewport sets the initial viewport size
	Viewport Viewport `yaml:"viewport"`

	// Timeout is the default timeout for page operations
	Timeout time.Duration `yaml:"timeout"`

	// SkipInstall skips the driver download on startup, for hosts where
	// the browsers are provisioned ahead of time.
	SkipInstall bool `yaml:"skip_install"`

	// ArtifactDir receives screenshots. Empty means the OS temp dir.
	ArtifactDir string `yaml:"artifact_dir"`

	Login LoginPage `yaml:"login"`
}

// Viewport represents the browser viewport dimensions.
type Viewport struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// LoginPage describes the site's login form.
type LoginPage struct {
	URL string `yaml:"url"`

	// HomeMarker is a URL fragment present only after a successful login.
	HomeMarker string `yaml:"home_marker"`

	ConsentSelector  string `yaml:"consent_selector"`
	IdentitySelector string `yaml:"identity_selector"`
	SecretSelector   string `yaml:"secret_selector"`
	SubmitSelector   string `yaml:"submit_selector"`
}

// DefaultOptions returns headless Chromium options for the chess.com login form.
func DefaultOptions() Options {
	return Options{
		Headless: true,
		Viewport: Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight},
		Timeout:  DefaultTimeout,
		Login: LoginPage{
			URL:              DefaultLoginURL,
			HomeMarker:       DefaultHomeMarker,
			ConsentSelector:  `button:has-text("Accept"), button:has-text("Allow all")`,
			IdentitySelector: "#login-username",
			SecretSelector:   "#login-password",
			SubmitSelector:   "#login",
		},
	}
}

// Validate checks the options for values that would make every login fail.
func (o Options) Validate() error {
	if o.Viewport.Width <= 0 || o.Viewport.Height <= 0 {
		return fmt.Errorf("invalid viewport %dx%d", o.Viewport.Width, o.Viewport.Height)
	}
	if o.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if !strings.HasPrefix(o.Login.URL, "http://") && !strings.HasPrefix(o.Login.URL, "https://") {
		return fmt.Errorf("login url %q is not http(s)", o.Login.URL)
	}
	if o.Login.HomeMarker == "" {
		return errors.New("login home marker is required")
	}
	for name, sel := range map[string]string{
		"identity_selector": o.Login.IdentitySelector,
		"secret_selector":   o.Login.SecretSelector,
		"submit_selector":   o.Login.SubmitSelector,
	} {
		if sel == "" {
			return fmt.Errorf("login %s is required", name)
		}
	}
	return nil
}

// millis converts d to the float milliseconds playwright expects.
func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// loggedIn reports whether pageURL shows the post-login landing page.
func loggedIn(pageURL, marker string) bool {
	return marker != "" && strings.Contains(pageURL, marker)
}

// skipLogin reports whether the form can be skipped because the stored
// cookies already opened the home page.
func skipLogin(login session.Login, pageURL, marker string) bool {
	return !login.Force && loggedIn(pageURL, marker)
}

// homePattern turns the marker into a glob for Page.WaitForURL.
func homePattern(marker string) string {
	return "**" + marker + "**"
}
