package session

import (
	"context"
	"errors"
	"time"
)

// State is a node of the session state machine.
type State string

const (
	StateStart                    State = "start"
	StateNoProfile                State = "no_profile"
	StateProfilePresentUnverified State = "profile_present_unverified"
	StateSessionActive            State = "session_active"
	StateSessionExpired           State = "session_expired"
	StateAuthenticated            State = "authenticated"
	StateNavigatedToTarget        State = "navigated_to_target"
	StateSucceeded                State = "succeeded"
	StateFailed                   State = "failed"
)

// Terminal reports whether no further transition leaves s.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Transitions lists every legal move. Failed is reachable from every
// non-terminal state because any driver fault ends the run.
var Transitions = map[State][]State{
	StateStart:                    {StateNoProfile, StateProfilePresentUnverified, StateFailed},
	StateNoProfile:                {StateAuthenticated, StateFailed},
	StateProfilePresentUnverified: {StateSessionActive, StateSessionExpired, StateFailed},
	StateSessionExpired:           {StateAuthenticated, StateFailed},
	StateAuthenticated:            {StateNavigatedToTarget, StateFailed},
	StateSessionActive:            {StateSucceeded, StateFailed},
	StateNavigatedToTarget:        {StateSucceeded, StateFailed},
	StateSucceeded:                nil,
	StateFailed:                   nil,
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to State) bool {
	for _, s := range Transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Signal is the result of a bounded wait for a page element.
type Signal int

const (
	// SignalTimeout means the element did not appear before the deadline.
	SignalTimeout Signal = iota
	// SignalPresent means the element appeared.
	SignalPresent
)

func (s Signal) String() string {
	if s == SignalPresent {
		return "present"
	}
	return "timeout"
}

var (
	// ErrAuthentication marks a failed interactive login.
	ErrAuthentication = errors.New("authentication failed")

	// ErrSignalTimeout marks a bounded wait that expired where the run
	// could not continue without the signal.
	ErrSignalTimeout = errors.New("signal timeout")

	// ErrNoCredentials is returned when a login is needed but no
	// credentials are configured.
	ErrNoCredentials = errors.New("no credentials configured")
)

// Artifact is a captured screenshot.
type Artifact struct {
	// Path is where the image was written, if it was written to disk.
	Path string
	// Data holds the encoded image.
	Data []byte
}

// Login is everything an interactive login needs.
type Login struct {
	Identity string
	Secret   string

	// ConsentTimeout bounds the wait for an optional consent dialog.
	ConsentTimeout time.Duration
	// FieldTimeout bounds the wait for the login form and the post-login page.
	FieldTimeout time.Duration

	// Force re-enters the credentials even when the stored cookies still
	// open the home page. Set when a resumed session failed its probe.
	Force bool
}

// Provider drives one live automation session. Implementations are not
// required to be safe for concurrent use; the gate ensures one caller.
type Provider interface {
	// Authenticate performs the interactive login. A rejected or timed
	// out login is reported as an error wrapping ErrAuthentication.
	Authenticate(ctx context.Context, login Login) error

	// Navigate loads url in the session's page.
	Navigate(ctx context.Context, url string) error

	// WaitForSignal waits up to timeout for selector. An elapsed timeout
	// is SignalTimeout with a nil error; err is reserved for driver faults.
	WaitForSignal(ctx context.Context, selector string, timeout time.Duration) (Signal, error)

	// CaptureArtifact takes a screenshot of the current page.
	CaptureArtifact(ctx context.Context) (Artifact, error)

	// Release tears the session down. It must be idempotent.
	Release() error
}

// Launcher creates a live session backed by the profile at profileDir.
type Launcher interface {
	Launch(ctx context.Context, profileDir string) (Provider, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, profileDir string) (Provider, error)

// Launch calls f.
func (f LauncherFunc) Launch(ctx context.Context, profileDir string) (Provider, error) {
	return f(ctx, profileDir)
}

// Outcome is the terminal result of one run.
type Outcome struct {
	// State is StateSucceeded or StateFailed.
	State State
	// Trail lists every state visited, in order, starting with StateStart.
	Trail []State
	// Target is the URL the run was asked to open.
	Target string
	// Reauthenticated is set when a stale profile forced a second login.
	Reauthenticated bool
	// Artifact is the result screenshot on success.
	Artifact *Artifact
	// LoginArtifact is the home page right after a login, if one ran and
	// the capture worked.
	LoginArtifact *Artifact
	// Diagnostic is a best-effort screenshot taken on failure.
	Diagnostic *Artifact
	// Err describes the failure. Nil on success.
	Err error
	// Duration is the wall time of the run.
	Duration time.Duration
}

// Succeeded reports whether the run reached StateSucceeded.
func (o Outcome) Succeeded() bool {
	return o.State == StateSucceeded
}
