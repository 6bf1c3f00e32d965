package profile

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTree creates files under root from a map of slash paths to contents.
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0700))
		require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	}
}

// readTree returns every regular file under root keyed by slash path.
func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}

func sampleProfile() map[string]string {
	return map[string]string{
		"Local State":                              "state",
		"Default/Preferences":                      "prefs",
		"Default/Network/Cookies":                  "cookies",
		"Default/Login Data":                       "login",
		"Default/Local Storage/leveldb/000003.log": "ls",
		"Default/Session Storage/MANIFEST-000001":  "ss",
		"Default/Cache/Cache_Data/data_0":          "cache",
		"Default/GPUCache/index":                   "gpu",
		"Crashpad/reports/abc.dmp":                 "crash",
		"chrome_debug.log":                         "log",
	}
}

func TestCompact_KeepsOnlyWhitelist(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "profile")
	writeTree(t, dir, sampleProfile())

	c, err := NewCompactor(nil, nil)
	require.NoError(t, err)

	stats, err := c.Compact(dir)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"Local State":                              "state",
		"Default/Preferences":                      "prefs",
		"Default/Network/Cookies":                  "cookies",
		"Default/Login Data":                       "login",
		"Default/Local Storage/leveldb/000003.log": "ls",
		"Default/Session Storage/MANIFEST-000001":  "ss",
	}, readTree(t, dir))
	assert.Equal(t, 6, stats.Kept)
	assert.Equal(t, 4, stats.Dropped)

	entries, err := os.ReadDir(filepath.Dir(dir))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.Contains(e.Name(), ".staging-") || strings.Contains(e.Name(), ".old-"),
			"leftover %s", e.Name())
	}
}

func TestCompact_FailureLeavesProfileUntouched(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "profile")
	files := sampleProfile()
	writeTree(t, dir, files)
	before := readTree(t, dir)

	c, err := NewCompactor(nil, nil)
	require.NoError(t, err)

	calls := 0
	c.copyFile = func(src, dst string, mode fs.FileMode) error {
		calls++
		if calls == 3 {
			return errors.New("disk full")
		}
		return copyFile(src, dst, mode)
	}

	_, err = c.Compact(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCompaction)
	assert.Equal(t, before, readTree(t, dir), "live profile must be byte-for-byte unchanged")

	entries, err := os.ReadDir(filepath.Dir(dir))
	require.NoError(t, err)
	require.Len(t, entries, 1, "staging directory must be discarded")
	assert.Equal(t, "profile", entries[0].Name())
}

func TestCompact_MissingProfileIsNoop(t *testing.T) {
	c, err := NewCompactor(nil, nil)
	require.NoError(t, err)

	stats, err := c.Compact(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
}

func TestCompact_Idempotent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "profile")
	writeTree(t, dir, sampleProfile())

	c, err := NewCompactor(nil, nil)
	require.NoError(t, err)
	_, err = c.Compact(dir)
	require.NoError(t, err)
	first := readTree(t, dir)

	stats, err := c.Compact(dir)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Dropped)
	assert.Equal(t, first, readTree(t, dir))
}

func TestNewCompactor_InvalidPattern(t *testing.T) {
	_, err := NewCompactor([]string{"Default/[unterminated"}, nil)
	assert.Error(t, err)
}

func TestKeeps(t *testing.T) {
	c, err := NewCompactor([]string{"Default/*", "Default/IndexedDB/**"}, nil)
	require.NoError(t, err)

	assert.True(t, c.Keeps("Default/Preferences"))
	assert.False(t, c.Keeps("Default/Cache/data_0"), "* must not cross directories")
	assert.True(t, c.Keeps("Default/IndexedDB/https_www.chess.com_0.indexeddb.leveldb/LOG"))
	assert.False(t, c.Keeps("Local State"))
}

func TestExistsAndInvalidate(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "profile")

	assert.False(t, Exists(dir))
	require.NoError(t, os.MkdirAll(dir, 0700))
	assert.False(t, Exists(dir), "empty directory is not a profile")

	writeTree(t, dir, map[string]string{"Local State": "x"})
	assert.True(t, Exists(dir))

	removed, err := Invalidate(dir)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, Exists(dir))

	removed, err = Invalidate(dir)
	require.NoError(t, err)
	assert.False(t, removed)
}
