// Package profile manages the persisted browser profile directory: it
// probes whether one exists, deletes it when credentials change, and
// compacts it down to a whitelist after every run.
package profile

import (
	"fmt"
	"os"
)

// Exists reports whether dir is a directory with at least one entry.
// A freshly created empty directory counts as no profile.
func Exists(dir string) bool {
	if dir == "" {
		return false
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	return len(entries) > 0
}

// Invalidate deletes the profile so the next run logs in from scratch.
// It reports whether anything was removed.
func Invalidate(dir string) (bool, error) {
	if dir == "" {
		return false, fmt.Errorf("profile directory is not set")
	}
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat profile: %w", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("failed to remove profile: %w", err)
	}
	return true, nil
}
