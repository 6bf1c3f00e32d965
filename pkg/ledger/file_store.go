package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/entrhq/reviewbot/pkg/logging"
)

const fileStoreVersion = "1"

// FileStore keeps the whole account set in one JSON document and rewrites
// it atomically (temp file + rename) on every mutation.
type FileStore struct {
	path    string
	records map[string]json.RawMessage
	mu      sync.RWMutex
	logger  *logging.Logger
}

type fileDocument struct {
	Version  string                     `json:"version"`
	Accounts map[string]json.RawMessage `json:"accounts"`
}

// NewFileStore opens the document at path. A missing file is an empty ledger.
// If path is empty, defaults to ~/.reviewbot/credits.json.
func NewFileStore(path string, logger *logging.Logger) (*FileStore, error) {
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(homeDir, ".reviewbot", "credits.json")
	}
	if logger == nil {
		logger = logging.Discard("ledger.file")
	}

	s := &FileStore{
		path:    path,
		records: make(map[string]json.RawMessage),
		logger:  logger,
	}
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("failed to load ledger from %s: %w", path, err)
	}
	return s, nil
}

// load reads the document. Entries are kept raw; a malformed entry is
// repaired by the ledger on next use rather than failing the load.
func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read ledger file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("ledger file is not valid JSON")
	}

	accounts := gjson.GetBytes(data, "accounts")
	if !accounts.Exists() {
		return nil
	}
	if !accounts.IsObject() {
		return fmt.Errorf("ledger file: accounts is %s, expected object", accounts.Type)
	}

	accounts.ForEach(func(key, value gjson.Result) bool {
		if !value.IsObject() {
			s.logger.Warnf("dropping malformed ledger entry %q: %s", key.String(), value.Raw)
			return true
		}
		s.records[key.String()] = json.RawMessage(value.Raw)
		return true
	})
	return nil
}

// save writes the document atomically. Caller holds s.mu.
func (s *FileStore) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0750); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}

	tempPath := s.path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temp ledger file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(fileDocument{Version: fileStoreVersion, Accounts: s.records}); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode ledger: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temp ledger file: %w", err)
	}

	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp ledger file: %w", err)
	}
	return nil
}

func (s *FileStore) Get(_ context.Context, requester string) (Account, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.records[requester]
	if !ok {
		return Account{}, false, nil
	}
	return decodeAccount(raw), true, nil
}

func (s *FileStore) Put(_ context.Context, requester string, acct Account) error {
	raw, err := encodeAccount(acct)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.records[requester]
	s.records[requester] = raw
	if err := s.save(); err != nil {
		if had {
			s.records[requester] = prev
		} else {
			delete(s.records, requester)
		}
		return err
	}
	return nil
}

func (s *FileStore) All(_ context.Context) (map[string]Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Account, len(s.records))
	for k, raw := range s.records {
		out[k] = decodeAccount(raw)
	}
	return out, nil
}

func (s *FileStore) PutAll(_ context.Context, accounts map[string]Account) error {
	encoded := make(map[string]json.RawMessage, len(accounts))
	for k, acct := range accounts {
		raw, err := encodeAccount(acct)
		if err != nil {
			return err
		}
		encoded[k] = raw
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	previous := make(map[string]json.RawMessage, len(s.records))
	for k, v := range s.records {
		previous[k] = v
	}
	for k, raw := range encoded {
		s.records[k] = raw
	}
	if err := s.save(); err != nil {
		s.records = previous
		return err
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
