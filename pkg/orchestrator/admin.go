package orchestrator

import (
	"context"
	"fmt"

	"github.com/entrhq/reviewbot/pkg/ledger"
	"github.com/entrhq/reviewbot/pkg/profile"
	"github.com/entrhq/reviewbot/pkg/session"
)

// SetCredits overrides the credits of an existing requester.
func (o *Orchestrator) SetCredits(ctx context.Context, requester string, amount int) error {
	if err := o.begin(); err != nil {
		return err
	}
	defer o.inflight.Done()

	if err := o.ledger.SetAbsolute(ctx, requester, amount); err != nil {
		return fmt.Errorf("failed to set credits: %w", err)
	}
	return nil
}

// Balance returns a requester's stored account without creating it.
func (o *Orchestrator) Balance(ctx context.Context, requester string) (ledger.Account, bool, error) {
	return o.ledger.Balance(ctx, requester)
}

// RotateCredentials saves new site credentials and removes the profile so
// the next run logs in with them. It waits for the running review, if
// any. It returns the saved snapshot and whether a profile was removed.
func (o *Orchestrator) RotateCredentials(ctx context.Context, c session.Credentials) (session.Credentials, bool, error) {
	if c.Empty() {
		return session.Credentials{}, false, ErrInvalidCredentials
	}
	if err := o.begin(); err != nil {
		return session.Credentials{}, false, err
	}
	defer o.inflight.Done()

	release := o.gate.Acquire()
	defer release()

	saved, err := o.creds.Rotate(c)
	if err != nil {
		return session.Credentials{}, false, fmt.Errorf("failed to save credentials: %w", err)
	}
	o.logger.Infof("credentials rotated to %s", saved.Identity)

	removed, err := profile.Invalidate(o.runner.ProfileDir())
	if err != nil {
		return saved, false, fmt.Errorf("credentials saved but the old profile could not be removed: %w", err)
	}
	if removed {
		o.logger.Infof("removed profile %s", o.runner.ProfileDir())
	}
	return saved, removed, nil
}
