package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/entrhq/reviewbot/pkg/logging"
)

// Store persists accounts keyed by requester id. Implementations need not
// serialize read-modify-write sequences; the Ledger does that.
type Store interface {
	// Get returns the stored account and whether it exists.
	Get(ctx context.Context, requester string) (Account, bool, error)

	// Put stores a single account.
	Put(ctx context.Context, requester string, acct Account) error

	// All returns every stored account.
	All(ctx context.Context) (map[string]Account, error)

	// PutAll stores a batch of accounts in one write.
	PutAll(ctx context.Context, accounts map[string]Account) error

	// Close releases the backing resources.
	Close() error
}

// Drivers accepted by Open.
const (
	DriverMemory   = "memory"
	DriverJSON     = "json"
	DriverBolt     = "bolt"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open returns the store for driver. location is a file path for json, bolt
// and sqlite, and a connection string for postgres.
func Open(driver, location string, logger *logging.Logger) (Store, error) {
	switch driver {
	case DriverMemory, "":
		return NewMemoryStore(), nil
	case DriverJSON:
		return NewFileStore(location, logger)
	case DriverBolt:
		return OpenBolt(location)
	case DriverSQLite:
		return OpenSQLite(location)
	case DriverPostgres:
		return OpenPostgres(location)
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", driver)
	}
}

// MemoryStore keeps accounts in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]Account
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]Account)}
}

func (s *MemoryStore) Get(_ context.Context, requester string) (Account, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[requester]
	return acct, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, requester string, acct Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[requester] = acct
	return nil
}

func (s *MemoryStore) All(_ context.Context) (map[string]Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Account, len(s.accounts))
	for k, v := range s.accounts {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) PutAll(_ context.Context, accounts map[string]Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range accounts {
		s.accounts[k] = v
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }
