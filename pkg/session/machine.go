// Package session drives the shared browser session through login and
// navigation to a target page.
//
// A run starts from the persisted profile: with no profile it logs in
// first; with a profile it goes straight to the target and probes whether
// the stored session is still alive, logging in again once if it is not.
// Every bounded wait is a single attempt whose timeout is a state
// transition, and the provider is released on every exit path.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/entrhq/reviewbot/pkg/logging"
	"github.com/entrhq/reviewbot/pkg/profile"
)

// Credentials identify the bot account on the target site.
type Credentials struct {
	Identity string `json:"identity" yaml:"identity"`
	Secret   string `json:"secret" yaml:"secret"`
}

// Empty reports whether either half is missing.
func (c Credentials) Empty() bool {
	return c.Identity == "" || c.Secret == ""
}

// Policy holds the bounded waits and the page signals the machine probes.
type Policy struct {
	ConsentTimeout  time.Duration `yaml:"consent_timeout"`
	FieldTimeout    time.Duration `yaml:"field_timeout"`
	LivenessTimeout time.Duration `yaml:"liveness_timeout"`
	ReadyTimeout    time.Duration `yaml:"ready_timeout"`

	// LivenessSelector appears on the target page only for a logged-in session.
	LivenessSelector string `yaml:"liveness_selector"`
	// ReadySelector appears once the target page has finished rendering.
	ReadySelector string `yaml:"ready_selector"`
}

// DefaultPolicy returns the standard timeouts and chess.com review selectors.
func DefaultPolicy() Policy {
	return Policy{
		ConsentTimeout:   5 * time.Second,
		FieldTimeout:     15 * time.Second,
		LivenessTimeout:  15 * time.Second,
		ReadyTimeout:     20 * time.Second,
		LivenessSelector: "#notifications-request, .home-user-info, [data-user-activity-key]",
		ReadySelector:    ".board, wc-chess-board",
	}
}

// Machine runs the session state machine against profiles in one directory.
type Machine struct {
	launcher   Launcher
	policy     Policy
	profileDir string
	logger     *logging.Logger
}

// NewMachine returns a Machine launching sessions on profileDir.
func NewMachine(launcher Launcher, profileDir string, policy Policy, logger *logging.Logger) *Machine {
	if logger == nil {
		logger = logging.Discard("session")
	}
	return &Machine{
		launcher:   launcher,
		policy:     policy,
		profileDir: profileDir,
		logger:     logger,
	}
}

// ProfileDir returns the profile directory the machine runs against.
func (m *Machine) ProfileDir() string {
	return m.profileDir
}

// run is the mutable state of one execution.
type run struct {
	m        *Machine
	ctx      context.Context
	provider Provider
	creds    Credentials
	state    State
	onTarget bool
	out      *Outcome
}

// Run opens a session, drives it to target and returns the terminal
// outcome. It never returns an error: driver faults, timeouts and panics
// all end in StateFailed with Outcome.Err set.
func (m *Machine) Run(ctx context.Context, target string, creds Credentials) (out Outcome) {
	started := time.Now()
	out = Outcome{Target: target, Trail: []State{StateStart}}
	r := &run{m: m, ctx: ctx, creds: creds, state: StateStart, out: &out}
	defer func() { out.Duration = time.Since(started) }()

	first := StateNoProfile
	if profile.Exists(m.profileDir) {
		first = StateProfilePresentUnverified
	}

	provider, err := m.launcher.Launch(ctx, m.profileDir)
	if err != nil {
		r.fail(fmt.Errorf("failed to launch session: %w", err))
		return out
	}
	r.provider = provider

	defer func() {
		if err := provider.Release(); err != nil {
			m.logger.Warnf("release failed: %v", err)
		}
	}()
	defer func() {
		if p := recover(); p != nil {
			m.logger.Errorf("run panicked in %s: %v", r.state, p)
			r.fail(fmt.Errorf("panic in state %s: %v", r.state, p))
		}
	}()

	m.logger.Infof("run started for %s (first state %s)", target, first)
	r.enter(first)
	for !r.state.Terminal() {
		r.enter(r.step())
	}
	m.logger.Infof("run finished in state %s after %v", out.State, time.Since(started))
	return out
}

// enter moves to next, diverting to Failed if the move is not in the table.
func (r *run) enter(next State) {
	if next == StateFailed {
		// fail has already recorded the cause.
		return
	}
	if !CanTransition(r.state, next) {
		r.fail(fmt.Errorf("illegal transition %s -> %s", r.state, next))
		return
	}
	r.m.logger.Debugf("%s -> %s", r.state, next)
	r.state = next
	r.out.Trail = append(r.out.Trail, next)
	if next == StateSucceeded {
		r.out.State = StateSucceeded
	}
}

// step performs the work of the current state and returns the next one.
func (r *run) step() State {
	p := r.m.policy
	switch r.state {
	case StateNoProfile:
		if err := r.login(false); err != nil {
			return r.fail(err)
		}
		return StateAuthenticated

	case StateProfilePresentUnverified:
		if err := r.navigate(); err != nil {
			return r.fail(err)
		}
		sig, err := r.provider.WaitForSignal(r.ctx, p.LivenessSelector, p.LivenessTimeout)
		if err != nil {
			return r.fail(fmt.Errorf("liveness probe: %w", err))
		}
		if sig == SignalPresent {
			return StateSessionActive
		}
		r.m.logger.Infof("stored session did not respond within %v, logging in again", p.LivenessTimeout)
		return StateSessionExpired

	case StateSessionExpired:
		r.out.Reauthenticated = true
		if err := r.login(true); err != nil {
			return r.fail(err)
		}
		if err := r.navigate(); err != nil {
			return r.fail(err)
		}
		return StateAuthenticated

	case StateAuthenticated:
		if !r.onTarget {
			if err := r.navigate(); err != nil {
				return r.fail(err)
			}
		}
		return StateNavigatedToTarget

	case StateSessionActive, StateNavigatedToTarget:
		sig, err := r.provider.WaitForSignal(r.ctx, p.ReadySelector, p.ReadyTimeout)
		if err != nil {
			return r.fail(fmt.Errorf("ready probe: %w", err))
		}
		if sig != SignalPresent {
			return r.fail(fmt.Errorf("%w: target not ready after %v", ErrSignalTimeout, p.ReadyTimeout))
		}
		artifact, err := r.provider.CaptureArtifact(r.ctx)
		if err != nil {
			return r.fail(fmt.Errorf("capture result: %w", err))
		}
		r.out.Artifact = &artifact
		return StateSucceeded

	default:
		return r.fail(fmt.Errorf("no step defined for state %s", r.state))
	}
}

func (r *run) login(force bool) error {
	if r.creds.Empty() {
		return ErrNoCredentials
	}
	p := r.m.policy
	err := r.provider.Authenticate(r.ctx, Login{
		Identity:       r.creds.Identity,
		Secret:         r.creds.Secret,
		ConsentTimeout: p.ConsentTimeout,
		FieldTimeout:   p.FieldTimeout,
		Force:          force,
	})
	if err != nil {
		if errors.Is(err, ErrAuthentication) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	r.onTarget = false
	r.m.logger.Infof("logged in as %s", r.creds.Identity)

	// The home page screenshot is a courtesy; a failed capture is not a failed login.
	if shot, err := r.provider.CaptureArtifact(r.ctx); err != nil {
		r.m.logger.Warnf("login screenshot failed: %v", err)
	} else {
		r.out.LoginArtifact = &shot
	}
	return nil
}

func (r *run) navigate() error {
	if err := r.provider.Navigate(r.ctx, r.out.Target); err != nil {
		return fmt.Errorf("navigate to target: %w", err)
	}
	r.onTarget = true
	return nil
}

// fail records err, moves to Failed and takes a best-effort diagnostic.
func (r *run) fail(err error) State {
	if r.state.Terminal() {
		return r.state
	}
	r.m.logger.Errorf("run failed in state %s: %v", r.state, err)
	r.state = StateFailed
	r.out.State = StateFailed
	r.out.Err = err
	r.out.Trail = append(r.out.Trail, StateFailed)

	if r.provider != nil {
		if diag, derr := r.captureDiagnostic(); derr != nil {
			r.m.logger.Warnf("diagnostic capture failed: %v", derr)
		} else {
			r.out.Diagnostic = &diag
		}
	}
	return StateFailed
}

func (r *run) captureDiagnostic() (diag Artifact, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic during diagnostic capture: %v", p)
		}
	}()
	return r.provider.CaptureArtifact(r.ctx)
}
