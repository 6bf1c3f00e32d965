package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/entrhq/reviewbot/pkg/ledger"
	"github.com/entrhq/reviewbot/pkg/logging"
	"github.com/entrhq/reviewbot/pkg/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reviewbot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ledger.DriverJSON, cfg.Ledger.Driver)
	assert.Equal(t, ledger.DefaultAllotment, cfg.Ledger.Allotment)
	assert.Equal(t, "00:00", cfg.Schedule.ResetAt)
	assert.Equal(t, time.Hour, cfg.Schedule.Grace)
	assert.Equal(t, profile.DefaultWhitelist, cfg.Profile.Whitelist)
	assert.Equal(t, 10, cfg.Progress.Ticks)
	assert.Equal(t, 20*time.Second, cfg.Session.ReadyTimeout)
	assert.Equal(t, "www.chess.com", cfg.Target.Host)
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
ledger:
  driver: sqlite
  path: /var/lib/reviewbot/credits.db
  allotment: 5
  timezone: UTC
schedule:
  reset_at: "03:30"
  grace: 15m
session:
  ready_timeout: 45s
progress:
  ticks: 4
  interval: 2s
logging:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, path, cfg.ConfigFilePath)
	assert.Equal(t, ledger.DriverSQLite, cfg.Ledger.Driver)
	assert.Equal(t, "/var/lib/reviewbot/credits.db", cfg.Ledger.Location())
	assert.Equal(t, 5, cfg.Ledger.Allotment)
	assert.Equal(t, 15*time.Minute, cfg.Schedule.Grace)
	assert.Equal(t, 45*time.Second, cfg.Session.ReadyTimeout)
	assert.Equal(t, 15*time.Second, cfg.Session.FieldTimeout, "unset fields keep their defaults")
	assert.Equal(t, 4, cfg.Progress.Ticks)
	assert.Equal(t, 2*time.Second, cfg.Progress.Interval)
	assert.Equal(t, logging.LevelDebug, cfg.LogLevel())

	loc, err := cfg.Ledger.TimeLocation()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestLoad_ExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	path := writeConfig(t, "profile:\n  dir: ~/profiles/bot\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "profiles", "bot"), cfg.Profile.Dir)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "ledger: [not, a, map]\n"))
	assert.Error(t, err)
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.ConfigFilePath)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown driver", func(c *Config) { c.Ledger.Driver = "redis" }, "invalid ledger driver"},
		{"postgres without dsn", func(c *Config) { c.Ledger.Driver = ledger.DriverPostgres }, "ledger.dsn"},
		{"bolt without path", func(c *Config) { c.Ledger.Driver = ledger.DriverBolt; c.Ledger.Path = "" }, "ledger.path"},
		{"zero allotment", func(c *Config) { c.Ledger.Allotment = 0 }, "allotment"},
		{"bad timezone", func(c *Config) { c.Ledger.Timezone = "Mars/Olympus" }, "timezone"},
		{"bad reset time", func(c *Config) { c.Schedule.ResetAt = "25:00" }, "reset_at"},
		{"negative grace", func(c *Config) { c.Schedule.Grace = -time.Second }, "grace"},
		{"no profile dir", func(c *Config) { c.Profile.Dir = "" }, "profile.dir"},
		{"bad whitelist", func(c *Config) { c.Profile.Whitelist = []string{"Default/[x"} }, "whitelist"},
		{"bad browser", func(c *Config) { c.Browser.Timeout = 0 }, "browser"},
		{"zero session timeout", func(c *Config) { c.Session.LivenessTimeout = 0 }, "liveness_timeout"},
		{"no ready selector", func(c *Config) { c.Session.ReadySelector = "" }, "selectors"},
		{"negative ticks", func(c *Config) { c.Progress.Ticks = -1 }, "ticks"},
		{"ticks without interval", func(c *Config) { c.Progress.Interval = 0 }, "interval"},
		{"host with scheme", func(c *Config) { c.Target.Host = "https://chess.com" }, "target host"},
		{"no credential path", func(c *Config) { c.Credentials.Path = "" }, "credentials.path"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_MemoryDriverNeedsNoPath(t *testing.T) {
	cfg := Default()
	cfg.Ledger.Driver = ledger.DriverMemory
	cfg.Ledger.Path = ""
	assert.NoError(t, cfg.Validate())
}
