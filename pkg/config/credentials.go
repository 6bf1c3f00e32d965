package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/entrhq/reviewbot/pkg/logging"
	"github.com/entrhq/reviewbot/pkg/session"
)

// Environment variables consulted when the credential file has no usable entry.
const (
	EnvIdentity = "REVIEWBOT_IDENTITY"
	EnvSecret   = "REVIEWBOT_SECRET"
)

// CredentialStore keeps the site account in a JSON file. Readers get
// value snapshots, so a rotation never changes credentials under a
// running login.
type CredentialStore struct {
	mu      sync.RWMutex
	path    string
	current session.Credentials
	source  string
	logger  *logging.Logger
}

// NewCredentialStore loads credentials from path, falling back to the
// environment when the file is missing, unreadable or incomplete.
func NewCredentialStore(path string, logger *logging.Logger) (*CredentialStore, error) {
	if path == "" {
		return nil, fmt.Errorf("credential file path is required")
	}
	if logger == nil {
		logger = logging.Discard("credentials")
	}
	s := &CredentialStore{path: path, logger: logger}
	s.load()
	return s, nil
}

func (s *CredentialStore) load() {
	creds, err := readCredentials(s.path)
	switch {
	case err == nil && !creds.Empty():
		s.current, s.source = creds, "file"
		s.logger.Infof("loaded credentials from %s", s.path)
		return
	case err != nil && !os.IsNotExist(err):
		s.logger.Warnf("credential file %s is invalid, falling back to environment: %v", s.path, err)
	default:
		s.logger.Infof("no credentials in %s, falling back to environment", s.path)
	}

	s.current = session.Credentials{
		Identity: os.Getenv(EnvIdentity),
		Secret:   os.Getenv(EnvSecret),
	}
	s.source = "env"
	if s.current.Empty() {
		s.logger.Warnf("no credentials configured")
	}
}

func readCredentials(path string) (session.Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return session.Credentials{}, err
	}
	var creds session.Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return session.Credentials{}, fmt.Errorf("failed to decode credential file: %w", err)
	}
	return creds, nil
}

// Current returns the active credentials.
func (s *CredentialStore) Current() session.Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Source reports where the active credentials came from: "file" or "env".
func (s *CredentialStore) Source() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.source
}

// Rotate saves c and makes it current. On error the previous credentials
// stay active.
func (s *CredentialStore) Rotate(c session.Credentials) (session.Credentials, error) {
	if c.Empty() {
		return session.Credentials{}, fmt.Errorf("identity and secret are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.save(c); err != nil {
		return session.Credentials{}, err
	}
	s.current, s.source = c, "file"
	s.logger.Infof("credentials saved to %s", s.path)
	return c, nil
}

func (s *CredentialStore) save(c session.Credentials) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create credential directory: %w", err)
	}

	// Create temp file for atomic write
	tempPath := s.path + ".tmp"
	file, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp credential file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(c); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode credentials: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
