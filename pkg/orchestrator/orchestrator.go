// Package orchestrator handles review requests end to end: it resolves the
// target, charges the requester, serializes runs on the shared browser
// session, reports progress and results, and compacts the profile before
// the next run may start.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/entrhq/reviewbot/pkg/clock"
	"github.com/entrhq/reviewbot/pkg/gate"
	"github.com/entrhq/reviewbot/pkg/ledger"
	"github.com/entrhq/reviewbot/pkg/logging"
	"github.com/entrhq/reviewbot/pkg/profile"
	"github.com/entrhq/reviewbot/pkg/session"
)

var (
	// ErrQuotaExceeded is returned when the requester has no credits left today.
	ErrQuotaExceeded = errors.New("daily quota exceeded")
	// ErrInvalidTarget is returned when the request carries no usable game link.
	ErrInvalidTarget = errors.New("invalid target")
	// ErrNoCredentials is returned when no site account is configured.
	ErrNoCredentials = errors.New("no credentials configured")
	// ErrInvalidCredentials is returned when a rotation lacks identity or secret.
	ErrInvalidCredentials = errors.New("identity and secret are required")
	// ErrRunFailed wraps the cause of a run that ended in the failed state.
	ErrRunFailed = errors.New("review run failed")
	// ErrClosed is returned for requests arriving after Close.
	ErrClosed = errors.New("orchestrator closed")
)

// Request is one inbound review request.
type Request struct {
	Requester string
	Text      string
}

// Notifier delivers messages back to the requester. Progress updates
// replace the previous progress message where the transport allows it.
type Notifier interface {
	SendText(ctx context.Context, text string) error
	SendProgress(ctx context.Context, text string) error
	SendArtifact(ctx context.Context, artifact session.Artifact, caption string) error
}

// Runner executes one session run. *session.Machine implements it.
type Runner interface {
	Run(ctx context.Context, target string, creds session.Credentials) session.Outcome
	ProfileDir() string
}

// Compactor shrinks the profile between runs. *profile.Compactor implements it.
type Compactor interface {
	Compact(dir string) (profile.Stats, error)
}

// CredentialStore holds the site account used for logins.
type CredentialStore interface {
	Current() session.Credentials
	Rotate(c session.Credentials) (session.Credentials, error)
}

// Progress sets how many ticks are sent and how far apart.
type Progress struct {
	Ticks    int           `yaml:"ticks"`
	Interval time.Duration `yaml:"interval"`
}

// DefaultProgress sends 10 ticks over 15 seconds.
func DefaultProgress() Progress {
	return Progress{Ticks: 10, Interval: 1500 * time.Millisecond}
}

// Orchestrator wires the ledger, gate, runner and compactor together.
type Orchestrator struct {
	ledger    *ledger.Ledger
	runner    Runner
	compactor Compactor
	creds     CredentialStore

	gate     *gate.Gate
	clock    clock.Clock
	targets  *TargetResolver
	progress Progress
	logger   *logging.Logger

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithGate shares an existing gate, e.g. with other users of the profile.
func WithGate(g *gate.Gate) Option {
	return func(o *Orchestrator) { o.gate = g }
}

// WithClock sets the clock driving progress ticks.
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithHost sets the site host accepted in game links.
func WithHost(host string) Option {
	return func(o *Orchestrator) {
		if host != "" {
			o.targets = NewTargetResolver(host)
		}
	}
}

// WithProgress sets the progress tick cadence.
func WithProgress(p Progress) Option {
	return func(o *Orchestrator) { o.progress = p }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// New creates an Orchestrator.
func New(l *ledger.Ledger, runner Runner, compactor Compactor, creds CredentialStore, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		ledger:    l,
		runner:    runner,
		compactor: compactor,
		creds:     creds,
		gate:      gate.New(),
		clock:     clock.Real(),
		targets:   NewTargetResolver(DefaultHost),
		progress:  DefaultProgress(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.Discard("orchestrator")
	}
	return o
}

// begin registers an in-flight call unless the orchestrator is closed.
func (o *Orchestrator) begin() error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return ErrClosed
	}
	o.inflight.Add(1)
	return nil
}

// Handle processes one request to completion. Refusals return
// ErrInvalidTarget, ErrNoCredentials or ErrQuotaExceeded after the
// requester has been told; a failed run returns an error wrapping
// ErrRunFailed. Delivery errors are logged, never returned.
func (o *Orchestrator) Handle(ctx context.Context, req Request, n Notifier) error {
	if err := o.begin(); err != nil {
		return err
	}
	defer o.inflight.Done()

	target, err := o.targets.Resolve(req.Text)
	if err != nil {
		o.send(ctx, n, invalidTargetText(o.targets.Host()))
		return err
	}

	if o.creds.Current().Empty() {
		o.send(ctx, n, msgNoCredentials)
		return ErrNoCredentials
	}

	acct, ok, err := o.ledger.Charge(ctx, req.Requester)
	if err != nil {
		o.send(ctx, n, msgInternalError)
		return fmt.Errorf("failed to charge %s: %w", req.Requester, err)
	}
	if !ok {
		o.logger.Infof("refused %s: no credits left", req.Requester)
		o.send(ctx, n, quotaText(o.ledger.Allotment()))
		return ErrQuotaExceeded
	}
	o.logger.Infof("accepted request from %s for %s (%d credits left)", req.Requester, target, acct.Credits)
	o.send(ctx, n, msgAcknowledge)

	if o.gate.Held() {
		o.logger.Debugf("request from %s queued behind %d waiter(s)", req.Requester, o.gate.Waiting())
	}
	release := o.gate.Acquire()
	defer release()
	defer o.compact()

	// Credentials may have been rotated while this request was queued.
	creds := o.creds.Current()
	outcome := o.execute(ctx, target, creds, n)
	o.report(ctx, req.Requester, outcome, n)

	if !outcome.Succeeded() {
		return fmt.Errorf("%w: %v", ErrRunFailed, outcome.Err)
	}
	return nil
}

// execute runs the session in the background and sends progress ticks
// until it finishes or the ticks run out.
func (o *Orchestrator) execute(ctx context.Context, target string, creds session.Credentials, n Notifier) session.Outcome {
	done := make(chan session.Outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				o.logger.Errorf("session run panicked: %v", p)
				done <- session.Outcome{
					State:  session.StateFailed,
					Target: target,
					Err:    fmt.Errorf("panic: %v", p),
				}
			}
		}()
		done <- o.runner.Run(ctx, target, creds)
	}()

	for i := 0; ; {
		var tick <-chan time.Time
		if i < o.progress.Ticks {
			tick = o.clock.After(o.progress.Interval)
		}
		select {
		case out := <-done:
			return out
		case <-tick:
			if err := n.SendProgress(ctx, progressText(i, o.progress.Ticks)); err != nil {
				o.logger.Warnf("failed to send progress: %v", err)
			}
			i++
		}
	}
}

func (o *Orchestrator) report(ctx context.Context, requester string, out session.Outcome, n Notifier) {
	if !out.Succeeded() {
		o.logger.Errorf("review of %s for %s failed: %v (trail %v)", out.Target, requester, out.Err, out.Trail)
		o.send(ctx, n, msgFailure)
		if out.Diagnostic != nil {
			o.sendArtifact(ctx, n, *out.Diagnostic, msgDiagnostic)
		}
		return
	}

	o.logger.Infof("review of %s for %s done in %v (reauthenticated=%t)", out.Target, requester, out.Duration, out.Reauthenticated)
	if out.LoginArtifact != nil {
		o.sendArtifact(ctx, n, *out.LoginArtifact, msgLoggedIn)
	}
	o.send(ctx, n, msgReviewReady)
	o.send(ctx, n, out.Target)
	if out.Artifact != nil {
		o.sendArtifact(ctx, n, *out.Artifact, msgArtifact)
	}

	acct, found, err := o.ledger.Balance(ctx, requester)
	switch {
	case err != nil:
		o.logger.Warnf("failed to read balance for %s: %v", requester, err)
	case found:
		o.send(ctx, n, balanceText(acct.Credits))
	}
}

// compact runs while the gate is still held, so no run sees a half
// compacted profile. Failures only cost disk space.
func (o *Orchestrator) compact() {
	stats, err := o.compactor.Compact(o.runner.ProfileDir())
	if err != nil {
		o.logger.Errorf("profile compaction skipped: %v", err)
		return
	}
	o.logger.Infof("profile compacted: kept %d files (%d bytes), dropped %d", stats.Kept, stats.KeptBytes, stats.Dropped)
}

func (o *Orchestrator) send(ctx context.Context, n Notifier, text string) {
	if err := n.SendText(ctx, text); err != nil {
		o.logger.Warnf("failed to send message: %v", err)
	}
}

func (o *Orchestrator) sendArtifact(ctx context.Context, n Notifier, a session.Artifact, caption string) {
	if err := n.SendArtifact(ctx, a, caption); err != nil {
		o.logger.Warnf("failed to send artifact %s: %v", a.Path, err)
	}
}

// Close refuses new requests and waits for in-flight ones to finish.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.inflight.Wait()
}
