package profile

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gobwas/glob"
	"github.com/google/uuid"

	"github.com/entrhq/reviewbot/pkg/logging"
)

// ErrCompaction wraps every compaction failure. The live profile is left
// untouched whenever it is returned.
var ErrCompaction = errors.New("profile compaction failed")

// DefaultWhitelist keeps the identity and session state of a Chromium
// profile and drops caches, logs and crash dumps. Patterns are slash
// separated and relative to the profile root; ** crosses directories.
var DefaultWhitelist = []string{
	"Local State",
	"Default/Preferences",
	"Default/Secure Preferences",
	"Default/Cookies",
	"Default/Cookies-journal",
	"Default/Network/Cookies",
	"Default/Network/Cookies-journal",
	"Default/Login Data",
	"Default/Login Data-journal",
	"Default/Web Data",
	"Default/Local Storage/**",
	"Default/Session Storage/**",
	"Default/IndexedDB/**",
}

// Stats summarizes one compaction.
type Stats struct {
	Kept      int
	KeptBytes int64
	Dropped   int
}

// Compactor prunes a profile to the whitelist by copying the kept files
// into a staging directory and swapping it in with renames.
type Compactor struct {
	whitelist []glob.Glob
	logger    *logging.Logger

	// copyFile is replaced in tests to inject failures.
	copyFile func(src, dst string, mode fs.FileMode) error
}

// NewCompactor compiles patterns. An empty list uses DefaultWhitelist.
func NewCompactor(patterns []string, logger *logging.Logger) (*Compactor, error) {
	if len(patterns) == 0 {
		patterns = DefaultWhitelist
	}
	if logger == nil {
		logger = logging.Discard("profile")
	}

	c := &Compactor{
		logger:   logger,
		copyFile: copyFile,
	}
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid whitelist pattern '%s': %w", pattern, err)
		}
		c.whitelist = append(c.whitelist, g)
	}
	return c, nil
}

// Keeps reports whether a profile-relative, slash-separated path is whitelisted.
func (c *Compactor) Keeps(rel string) bool {
	for _, g := range c.whitelist {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

// Compact replaces dir with a copy holding only whitelisted files. A
// missing or empty profile is a no-op. On failure the staging copy is
// removed and dir is unchanged.
func (c *Compactor) Compact(dir string) (Stats, error) {
	var stats Stats
	if !Exists(dir) {
		return stats, nil
	}

	suffix := uuid.New().String()
	staging := dir + ".staging-" + suffix
	if err := os.MkdirAll(staging, 0700); err != nil {
		return stats, fmt.Errorf("%w: create staging: %v", ErrCompaction, err)
	}

	if err := c.stage(dir, staging, &stats); err != nil {
		c.discard(staging)
		return Stats{}, fmt.Errorf("%w: %v", ErrCompaction, err)
	}

	backup := dir + ".old-" + suffix
	if err := os.Rename(dir, backup); err != nil {
		c.discard(staging)
		return Stats{}, fmt.Errorf("%w: move live profile aside: %v", ErrCompaction, err)
	}
	if err := os.Rename(staging, dir); err != nil {
		if rerr := os.Rename(backup, dir); rerr != nil {
			c.logger.Errorf("failed to restore profile from %s: %v", backup, rerr)
		}
		c.discard(staging)
		return Stats{}, fmt.Errorf("%w: swap in staging: %v", ErrCompaction, err)
	}
	if err := os.RemoveAll(backup); err != nil {
		// The new profile is already live; only disk space is at stake.
		c.logger.Warnf("failed to remove old profile %s: %v", backup, err)
	}

	c.logger.Debugf("compacted profile %s: kept %d files (%d bytes), dropped %d", dir, stats.Kept, stats.KeptBytes, stats.Dropped)
	return stats, nil
}

func (c *Compactor) stage(dir, staging string, stats *Stats) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if !c.Keeps(filepath.ToSlash(rel)) {
			stats.Dropped++
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		dst := filepath.Join(staging, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
			return err
		}
		if err := c.copyFile(path, dst, info.Mode().Perm()); err != nil {
			return fmt.Errorf("copy %s: %w", rel, err)
		}
		stats.Kept++
		stats.KeptBytes += info.Size()
		return nil
	})
}

func (c *Compactor) discard(staging string) {
	if err := os.RemoveAll(staging); err != nil {
		c.logger.Warnf("failed to remove staging %s: %v", staging, err)
	}
}

func copyFile(src, dst string, mode fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
