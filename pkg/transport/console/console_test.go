package console

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/entrhq/reviewbot/pkg/ledger"
	"github.com/entrhq/reviewbot/pkg/orchestrator"
	"github.com/entrhq/reviewbot/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu        sync.Mutex
	requests  []orchestrator.Request
	credits   map[string]int
	rotated   []session.Credentials
	rotateErr error
	removed   bool
}

func (b *fakeBackend) Handle(ctx context.Context, req orchestrator.Request, n orchestrator.Notifier) error {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	b.mu.Unlock()

	_ = n.SendProgress(ctx, "working 50%")
	_ = n.SendArtifact(ctx, session.Artifact{Path: "/tmp/review.png"}, "Analysis page is ready.")
	return n.SendText(ctx, "done for "+req.Requester)
}

func (b *fakeBackend) SetCredits(_ context.Context, requester string, amount int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if amount < 0 {
		return ledger.ErrInvalidAmount
	}
	if _, ok := b.credits[requester]; !ok {
		return fmt.Errorf("failed to set credits: %w", ledger.ErrNotFound)
	}
	b.credits[requester] = amount
	return nil
}

func (b *fakeBackend) RotateCredentials(_ context.Context, c session.Credentials) (session.Credentials, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rotateErr != nil {
		return session.Credentials{}, false, b.rotateErr
	}
	b.rotated = append(b.rotated, c)
	return c, b.removed, nil
}

func (b *fakeBackend) Balance(_ context.Context, requester string) (ledger.Account, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.credits[requester]
	return ledger.Account{Credits: n, LastResetDate: "2025-03-01"}, ok, nil
}

func serve(t *testing.T, b *fakeBackend, input string, opts ...Option) string {
	t.Helper()
	var out bytes.Buffer
	tr := New(b, strings.NewReader(input), NewWriter(&out), opts...)
	require.NoError(t, tr.Serve(context.Background()))
	return out.String()
}

func TestServe_Requests(t *testing.T) {
	b := &fakeBackend{}
	out := serve(t, b, "alice https://www.chess.com/live/game/1\n\nbob https://www.chess.com/live/game/2\n")

	assert.ElementsMatch(t, []orchestrator.Request{
		{Requester: "alice", Text: "https://www.chess.com/live/game/1"},
		{Requester: "bob", Text: "https://www.chess.com/live/game/2"},
	}, b.requests)
	assert.Contains(t, out, "→ alice done for alice")
	assert.Contains(t, out, "→ bob working 50%")
	assert.Contains(t, out, "Analysis page is ready. [/tmp/review.png]")
}

func TestServe_ParseErrors(t *testing.T) {
	out := serve(t, &fakeBackend{}, "alice\nbob /nope\n")
	assert.Contains(t, out, "→ alice missing message")
	assert.Contains(t, out, "→ bob unknown command /nope")
}

func TestServe_SetConfig(t *testing.T) {
	t.Run("rotates and reports profile removal", func(t *testing.T) {
		b := &fakeBackend{removed: true}
		out := serve(t, b, "admin /setconfig user pass\n")
		assert.Equal(t, []session.Credentials{{Identity: "user", Secret: "pass"}}, b.rotated)
		assert.Contains(t, out, "Configuration updated successfully")
		assert.Contains(t, out, "old browser session has been cleared")
	})

	t.Run("usage", func(t *testing.T) {
		b := &fakeBackend{}
		out := serve(t, b, "admin /setconfig onlyuser\n")
		assert.Empty(t, b.rotated)
		assert.Contains(t, out, "Usage: /setconfig <username> <password>")
	})

	t.Run("save failure", func(t *testing.T) {
		b := &fakeBackend{rotateErr: errors.New("disk full")}
		out := serve(t, b, "admin /setconfig user pass\n")
		assert.Contains(t, out, "Failed to save new configuration")
	})

	t.Run("restricted to admins", func(t *testing.T) {
		b := &fakeBackend{}
		out := serve(t, b, "mallory /setconfig user pass\nroot /setconfig user pass\n", WithAdmins("root"))
		assert.Len(t, b.rotated, 1)
		assert.Contains(t, out, "→ mallory You are not allowed")
	})
}

func TestServe_SetCredits(t *testing.T) {
	b := &fakeBackend{credits: map[string]int{"alice": 0}}
	out := serve(t, b, strings.Join([]string{
		"admin /setcredits alice 9",
		"admin /setcredits ghost 1",
		"admin /setcredits alice -2",
		"admin /setcredits alice lots",
		"admin /setcredits alice",
	}, "\n"))

	assert.Equal(t, 9, b.credits["alice"])
	assert.Contains(t, out, "Credits for alice set to 9.")
	assert.Contains(t, out, "ghost has not requested a review yet.")
	assert.Contains(t, out, "Credits cannot be negative.")
	assert.Contains(t, out, `"lots" is not a number.`)
	assert.Contains(t, out, "Usage: /setcredits <requester> <amount>")
}

func TestServe_Balance(t *testing.T) {
	b := &fakeBackend{credits: map[string]int{"alice": 2}}
	out := serve(t, b, "alice /balance\nbob /balance\n")

	assert.Contains(t, out, "→ alice You have 2 credit(s) left (last reset 2025-03-01).")
	assert.Contains(t, out, "→ bob You have not requested a review yet.")
}

func TestServe_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	// A pipe that never delivers input would block forever without ctx.
	tr := New(&fakeBackend{}, blockingReader{}, NewWriter(&out))
	assert.NoError(t, tr.Serve(ctx))
}

type blockingReader struct{}

func (blockingReader) Read([]byte) (int, error) { select {} }

func TestWriter_ProgressInPlaceOnTerminal(t *testing.T) {
	var out bytes.Buffer
	w := NewWriter(&out)
	w.tty = true

	require.NoError(t, w.Progress("alice", "10%"))
	require.NoError(t, w.Progress("alice", "20%"))
	require.NoError(t, w.Text("alice", "done"))

	assert.Equal(t, clearLine+"→ alice 10%"+clearLine+"→ alice 20%\n→ alice done\n", out.String())
}

func TestWriter_ProgressLinesWhenPiped(t *testing.T) {
	var out bytes.Buffer
	w := NewWriter(&out)

	require.NoError(t, w.Progress("alice", "10%"))
	require.NoError(t, w.Text("alice", "done"))

	assert.Equal(t, "→ alice 10%\n→ alice done\n", out.String())
}
