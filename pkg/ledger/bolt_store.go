package ledger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var accountsBucket = []byte("accounts")

// BoltStore keeps one JSON value per requester in a bbolt bucket.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) the database file at path.
func OpenBolt(path string) (*BoltStore, error) {
	if path == "" {
		return nil, fmt.Errorf("bolt ledger path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(accountsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Get(_ context.Context, requester string) (Account, bool, error) {
	var (
		acct  Account
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(accountsBucket).Get([]byte(requester))
		if v == nil {
			return nil
		}
		found = true
		acct = decodeAccount(v)
		return nil
	})
	return acct, found, err
}

func (s *BoltStore) Put(_ context.Context, requester string, acct Account) error {
	raw, err := encodeAccount(acct)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(accountsBucket).Put([]byte(requester), raw)
	})
}

func (s *BoltStore) All(_ context.Context) (map[string]Account, error) {
	out := make(map[string]Account)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(accountsBucket).ForEach(func(k, v []byte) error {
			out[string(k)] = decodeAccount(v)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) PutAll(_ context.Context, accounts map[string]Account) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(accountsBucket)
		for requester, acct := range accounts {
			raw, err := encodeAccount(acct)
			if err != nil {
				return err
			}
			if err := bucket.Put([]byte(requester), raw); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
