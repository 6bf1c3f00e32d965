package console

import (
	"context"

	"github.com/entrhq/reviewbot/pkg/orchestrator"
	"github.com/entrhq/reviewbot/pkg/session"
)

// Notifier sends one requester's replies to a Writer.
type Notifier struct {
	requester string
	out       *Writer
}

var _ orchestrator.Notifier = (*Notifier)(nil)

// NewNotifier returns a Notifier for requester.
func NewNotifier(requester string, out *Writer) *Notifier {
	return &Notifier{requester: requester, out: out}
}

func (n *Notifier) SendText(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return n.out.Text(n.requester, text)
}

func (n *Notifier) SendProgress(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return n.out.Progress(n.requester, text)
}

func (n *Notifier) SendArtifact(ctx context.Context, a session.Artifact, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return n.out.Artifact(n.requester, caption, a.Path)
}
