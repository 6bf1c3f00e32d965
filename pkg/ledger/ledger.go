// Package ledger tracks the per-requester daily request quota.
//
// Credits are restored by two independent paths: a lazy refresh when a
// requester is seen on a new calendar day, and a scheduled bulk reset that
// restores every account regardless of activity. Both are absolute
// assignments to the allotment, never increments, so running both on the
// same day cannot grant more than one allotment.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/entrhq/reviewbot/pkg/clock"
	"github.com/entrhq/reviewbot/pkg/logging"
)

var (
	// ErrNotFound is returned by administrative operations on a requester
	// that has never made a request.
	ErrNotFound = errors.New("ledger: account not found")

	// ErrInvalidAmount is returned when an override would make credits negative.
	ErrInvalidAmount = errors.New("ledger: credits cannot be negative")
)

// Ledger serializes every read-modify-write of the account store.
type Ledger struct {
	mu        sync.Mutex
	store     Store
	allotment int
	clock     clock.Clock
	location  *time.Location
	logger    *logging.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithAllotment sets the daily allotment.
func WithAllotment(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.allotment = n
		}
	}
}

// WithClock sets the time source used to decide "today".
func WithClock(c clock.Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

// WithLocation sets the time zone in which calendar days roll over.
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) {
		if loc != nil {
			l.location = loc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// New returns a Ledger backed by store.
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:     store,
		allotment: DefaultAllotment,
		clock:     clock.Real(),
		location:  time.Local,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = logging.Discard("ledger")
	}
	return l
}

// Allotment returns the daily allotment.
func (l *Ledger) Allotment() int {
	return l.allotment
}

// Today returns the current calendar date in the ledger's time zone.
func (l *Ledger) Today() string {
	return l.clock.Now().In(l.location).Format(DateLayout)
}

// GetOrInit returns the requester's account, creating it with a full
// allotment if absent and refreshing it if it was last reset on another day.
func (l *Ledger) GetOrInit(ctx context.Context, requester string) (Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.getOrInitLocked(ctx, requester)
}

func (l *Ledger) getOrInitLocked(ctx context.Context, requester string) (Account, error) {
	today := l.Today()

	acct, found, err := l.store.Get(ctx, requester)
	if err != nil {
		return Account{}, fmt.Errorf("failed to load account %q: %w", requester, err)
	}

	switch {
	case !found:
		acct = Account{Credits: l.allotment, LastResetDate: today}
		l.logger.Infof("created account for %s with %d credits", requester, acct.Credits)
	case !acct.valid():
		l.logger.Warnf("repairing malformed account for %s: %+v", requester, acct)
		acct = Account{Credits: l.allotment, LastResetDate: today}
	case acct.LastResetDate != today:
		l.logger.Debugf("daily refresh for %s (last reset %s)", requester, acct.LastResetDate)
		acct = Account{Credits: l.allotment, LastResetDate: today}
	default:
		return acct, nil
	}

	if err := l.store.Put(ctx, requester, acct); err != nil {
		return Account{}, fmt.Errorf("failed to save account %q: %w", requester, err)
	}
	return acct, nil
}

// Charge spends one credit. It returns the account after the attempt and
// false, without mutating anything, when no credits are left.
func (l *Ledger) Charge(ctx context.Context, requester string) (Account, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, err := l.getOrInitLocked(ctx, requester)
	if err != nil {
		return Account{}, false, err
	}
	if acct.Credits <= 0 {
		return acct, false, nil
	}

	acct.Credits--
	if err := l.store.Put(ctx, requester, acct); err != nil {
		return Account{}, false, fmt.Errorf("failed to save account %q: %w", requester, err)
	}
	return acct, true, nil
}

// Balance returns the stored account without refreshing or creating it.
func (l *Ledger) Balance(ctx context.Context, requester string) (Account, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Get(ctx, requester)
}

// SetAbsolute overrides a requester's credits. The account must already
// exist and LastResetDate is left alone.
func (l *Ledger) SetAbsolute(ctx context.Context, requester string, amount int) error {
	if amount < 0 {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acct, found, err := l.store.Get(ctx, requester)
	if err != nil {
		return fmt.Errorf("failed to load account %q: %w", requester, err)
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, requester)
	}

	acct.Credits = amount
	if err := l.store.Put(ctx, requester, acct); err != nil {
		return fmt.Errorf("failed to save account %q: %w", requester, err)
	}
	l.logger.Infof("credits for %s set to %d", requester, amount)
	return nil
}

// ResetAll restores every account that has not been refreshed today to the
// allotment in one batch write. Accounts already stamped with today's date
// are left alone, so neither path can grant a second allotment on the same
// day. LastResetDate is not touched. It returns the number of accounts reset.
func (l *Ledger) ResetAll(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	accounts, err := l.store.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list accounts: %w", err)
	}

	today := l.Today()
	due := make(map[string]Account, len(accounts))
	for requester, acct := range accounts {
		if acct.valid() && acct.LastResetDate == today {
			continue
		}
		acct.Credits = l.allotment
		due[requester] = acct
	}
	if len(due) == 0 {
		l.logger.Debugf("no accounts due for reset on %s", today)
		return 0, nil
	}

	if err := l.store.PutAll(ctx, due); err != nil {
		return 0, fmt.Errorf("failed to save accounts: %w", err)
	}
	l.logger.Infof("reset %d of %d accounts to %d credits", len(due), len(accounts), l.allotment)
	return len(due), nil
}
