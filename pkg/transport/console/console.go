// Package console is a line-oriented transport: it reads requests and
// admin commands from an input stream and writes replies to an output
// stream. It stands in for a chat transport when running the bot locally.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/entrhq/reviewbot/pkg/ledger"
	"github.com/entrhq/reviewbot/pkg/logging"
	"github.com/entrhq/reviewbot/pkg/orchestrator"
	"github.com/entrhq/reviewbot/pkg/session"
	"golang.org/x/sync/errgroup"
)

// maxPending bounds how many lines are being handled at once.
const maxPending = 64

// Backend is the orchestrator surface the transport drives.
type Backend interface {
	Handle(ctx context.Context, req orchestrator.Request, n orchestrator.Notifier) error
	SetCredits(ctx context.Context, requester string, amount int) error
	RotateCredentials(ctx context.Context, c session.Credentials) (session.Credentials, bool, error)
	Balance(ctx context.Context, requester string) (ledger.Account, bool, error)
}

// Transport reads lines from in and dispatches them to the backend.
type Transport struct {
	backend Backend
	in      io.Reader
	out     *Writer
	admins  map[string]bool
	logger  *logging.Logger
}

// Option configures a Transport.
type Option func(*Transport)

// WithAdmins restricts /setconfig and /setcredits to the given requesters.
// Without it every requester may use them.
func WithAdmins(ids ...string) Option {
	return func(t *Transport) {
		for _, id := range ids {
			if t.admins == nil {
				t.admins = make(map[string]bool)
			}
			t.admins[id] = true
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(t *Transport) { t.logger = logger }
}

// New creates a Transport.
func New(backend Backend, in io.Reader, out *Writer, opts ...Option) *Transport {
	t := &Transport{
		backend: backend,
		in:      in,
		out:     out,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = logging.Discard("console")
	}
	return t
}

// Serve handles lines until the input ends or ctx is done, then waits for
// the lines already accepted. Each line is handled on its own goroutine,
// so a long review does not block other requesters.
func (t *Transport) Serve(ctx context.Context) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(t.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				scanErr <- nil
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	var g errgroup.Group
	g.SetLimit(maxPending)

	for done := false; !done; {
		select {
		case <-ctx.Done():
			done = true
		case line, ok := <-lines:
			if !ok {
				done = true
				break
			}
			g.Go(func() error {
				t.dispatch(ctx, line)
				return nil
			})
		}
	}

	_ = g.Wait()
	select {
	case err := <-scanErr:
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
	default:
	}
	return nil
}

func (t *Transport) dispatch(ctx context.Context, raw string) {
	line, err := ParseLine(raw)
	if err != nil {
		if line.Requester != "" {
			t.reply(line.Requester, t.out.Error(line.Requester, err.Error()))
		}
		return
	}

	switch line.Kind {
	case KindEmpty:
	case KindRequest:
		err := t.backend.Handle(ctx, orchestrator.Request{Requester: line.Requester, Text: line.Text}, NewNotifier(line.Requester, t.out))
		if err != nil {
			t.logger.Infof("request from %s ended: %v", line.Requester, err)
		}
	case KindSetConfig:
		t.setConfig(ctx, line)
	case KindSetCredits:
		t.setCredits(ctx, line)
	case KindBalance:
		t.balance(ctx, line)
	}
}

func (t *Transport) isAdmin(requester string) bool {
	return t.admins == nil || t.admins[requester]
}

func (t *Transport) setConfig(ctx context.Context, line Line) {
	who := line.Requester
	if !t.isAdmin(who) {
		t.reply(who, t.out.Error(who, "You are not allowed to change the configuration."))
		return
	}
	if len(line.Args) != 2 {
		t.reply(who, t.out.Text(who, "Usage: /setconfig <username> <password>"))
		return
	}

	saved, removed, err := t.backend.RotateCredentials(ctx, session.Credentials{Identity: line.Args[0], Secret: line.Args[1]})
	switch {
	case err != nil && saved.Empty():
		t.logger.Errorf("credential rotation by %s failed: %v", who, err)
		t.reply(who, t.out.Error(who, "❌ Failed to save new configuration. Please check the logs."))
	case err != nil:
		t.logger.Errorf("profile removal after rotation by %s failed: %v", who, err)
		t.reply(who, t.out.Text(who, "✅ Configuration updated successfully!"))
		t.reply(who, t.out.Error(who, "⚠️ Could not remove the old browser session. You may need to delete it manually."))
	default:
		t.reply(who, t.out.Text(who, "✅ Configuration updated successfully!"))
		if removed {
			t.reply(who, t.out.Text(who, "🧹 The old browser session has been cleared."))
		}
	}
}

func (t *Transport) setCredits(ctx context.Context, line Line) {
	who := line.Requester
	if !t.isAdmin(who) {
		t.reply(who, t.out.Error(who, "You are not allowed to change credits."))
		return
	}
	if len(line.Args) != 2 {
		t.reply(who, t.out.Text(who, "Usage: /setcredits <requester> <amount>"))
		return
	}
	target := line.Args[0]
	amount, err := strconv.Atoi(line.Args[1])
	if err != nil {
		t.reply(who, t.out.Error(who, fmt.Sprintf("%q is not a number.", line.Args[1])))
		return
	}

	err = t.backend.SetCredits(ctx, target, amount)
	switch {
	case err == nil:
		t.reply(who, t.out.Text(who, fmt.Sprintf("Credits for %s set to %d.", target, amount)))
	case errors.Is(err, ledger.ErrNotFound):
		t.reply(who, t.out.Error(who, fmt.Sprintf("%s has not requested a review yet.", target)))
	case errors.Is(err, ledger.ErrInvalidAmount):
		t.reply(who, t.out.Error(who, "Credits cannot be negative."))
	default:
		t.logger.Errorf("setting credits for %s failed: %v", target, err)
		t.reply(who, t.out.Error(who, "Failed to update credits. Please check the logs."))
	}
}

func (t *Transport) balance(ctx context.Context, line Line) {
	who := line.Requester
	acct, found, err := t.backend.Balance(ctx, who)
	switch {
	case err != nil:
		t.logger.Errorf("balance for %s failed: %v", who, err)
		t.reply(who, t.out.Error(who, "Could not read your balance right now."))
	case !found:
		t.reply(who, t.out.Text(who, "You have not requested a review yet. Your daily credits start with your first request."))
	default:
		t.reply(who, t.out.Text(who, fmt.Sprintf("You have %d credit(s) left (last reset %s).", acct.Credits, acct.LastResetDate)))
	}
}

func (t *Transport) reply(requester string, err error) {
	if err != nil {
		t.logger.Warnf("failed to write reply to %s: %v", requester, err)
	}
}
