// Package config loads the bot's YAML configuration and persists the site
// credentials used for logins.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/entrhq/reviewbot/pkg/browser"
	"github.com/entrhq/reviewbot/pkg/ledger"
	"github.com/entrhq/reviewbot/pkg/logging"
	"github.com/entrhq/reviewbot/pkg/orchestrator"
	"github.com/entrhq/reviewbot/pkg/profile"
	"github.com/entrhq/reviewbot/pkg/scheduler"
	"github.com/entrhq/reviewbot/pkg/session"
	"gopkg.in/yaml.v3"
)

// Config is the complete application configuration.
type Config struct {
	Ledger      LedgerConfig          `yaml:"ledger"`
	Schedule    ScheduleConfig        `yaml:"schedule"`
	Profile     ProfileConfig         `yaml:"profile"`
	Browser     browser.Options       `yaml:"browser"`
	Session     session.Policy        `yaml:"session"`
	Progress    orchestrator.Progress `yaml:"progress"`
	Target      TargetConfig          `yaml:"target"`
	Credentials CredentialsConfig     `yaml:"credentials"`
	Logging     LoggingConfig         `yaml:"logging"`

	// ConfigFilePath is the file the config was loaded from, if any.
	ConfigFilePath string `yaml:"-"`
}

// LedgerConfig selects the credit ledger backend.
type LedgerConfig struct {
	// Driver is one of memory, json, bolt, sqlite or postgres.
	Driver string `yaml:"driver"`
	// Path is the file for json, bolt and sqlite.
	Path string `yaml:"path"`
	// DSN is the connection string for postgres.
	DSN       string `yaml:"dsn"`
	Allotment int    `yaml:"allotment"`
	// Timezone decides when a day starts, e.g. "Asia/Kolkata". "Local" uses the host zone.
	Timezone string `yaml:"timezone"`
}

// Location returns the store location for the configured driver.
func (l LedgerConfig) Location() string {
	if l.Driver == ledger.DriverPostgres {
		return l.DSN
	}
	return l.Path
}

// TimeLocation loads the configured time zone.
func (l LedgerConfig) TimeLocation() (*time.Location, error) {
	if l.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(l.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", l.Timezone, err)
	}
	return loc, nil
}

// ScheduleConfig sets the daily bulk credit reset.
type ScheduleConfig struct {
	// ResetAt is the local reset time as HH:MM.
	ResetAt string        `yaml:"reset_at"`
	Grace   time.Duration `yaml:"grace"`
}

// ProfileConfig locates the browser profile and what survives compaction.
type ProfileConfig struct {
	Dir       string   `yaml:"dir"`
	Whitelist []string `yaml:"whitelist"`
}

// TargetConfig sets the site whose game links are accepted.
type TargetConfig struct {
	Host string `yaml:"host"`
}

// CredentialsConfig locates the credential file.
type CredentialsConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig defines logging configuration
type LoggingConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
}

// DataDir returns ~/.reviewbot, or .reviewbot when there is no home dir.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".reviewbot"
	}
	return filepath.Join(home, ".reviewbot")
}

// Default returns a configuration suitable for a single local bot.
func Default() *Config {
	dir := DataDir()
	browserOpts := browser.DefaultOptions()
	browserOpts.ArtifactDir = filepath.Join(dir, "artifacts")

	return &Config{
		Ledger: LedgerConfig{
			Driver:    ledger.DriverJSON,
			Path:      filepath.Join(dir, "credits.json"),
			Allotment: ledger.DefaultAllotment,
			Timezone:  "Local",
		},
		Schedule: ScheduleConfig{
			ResetAt: "00:00",
			Grace:   scheduler.DefaultGrace,
		},
		Profile: ProfileConfig{
			Dir:       filepath.Join(dir, "chrome_profile"),
			Whitelist: append([]string(nil), profile.DefaultWhitelist...),
		},
		Browser:  browserOpts,
		Session:  session.DefaultPolicy(),
		Progress: orchestrator.DefaultProgress(),
		Target:   TargetConfig{Host: orchestrator.DefaultHost},
		Credentials: CredentialsConfig{
			Path: filepath.Join(dir, "config.json"),
		},
		Logging: LoggingConfig{
			Dir:   filepath.Join(dir, "logs"),
			Level: "info",
		},
	}
}

// Load reads path over Default and expands a leading ~ in every path.
// An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		cfg.ConfigFilePath = path
	}

	for _, p := range []*string{
		&cfg.Ledger.Path,
		&cfg.Profile.Dir,
		&cfg.Browser.ArtifactDir,
		&cfg.Credentials.Path,
		&cfg.Logging.Dir,
	} {
		*p = expandHome(*p)
	}
	return cfg, nil
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Ledger.Driver {
	case ledger.DriverMemory, ledger.DriverJSON, ledger.DriverBolt, ledger.DriverSQLite:
		if c.Ledger.Driver != ledger.DriverMemory && c.Ledger.Path == "" {
			return fmt.Errorf("ledger.path is required for driver %s", c.Ledger.Driver)
		}
	case ledger.DriverPostgres:
		if c.Ledger.DSN == "" {
			return fmt.Errorf("ledger.dsn is required for driver postgres")
		}
	default:
		return fmt.Errorf("invalid ledger driver: %s (must be memory, json, bolt, sqlite or postgres)", c.Ledger.Driver)
	}
	if c.Ledger.Allotment <= 0 {
		return fmt.Errorf("ledger.allotment must be positive")
	}
	if _, err := c.Ledger.TimeLocation(); err != nil {
		return err
	}

	if _, err := scheduler.ParseTimeOfDay(c.Schedule.ResetAt); err != nil {
		return fmt.Errorf("schedule.reset_at: %w", err)
	}
	if c.Schedule.Grace < 0 {
		return fmt.Errorf("schedule.grace cannot be negative")
	}

	if c.Profile.Dir == "" {
		return fmt.Errorf("profile.dir is required")
	}
	if _, err := profile.NewCompactor(c.Profile.Whitelist, nil); err != nil {
		return fmt.Errorf("profile.whitelist: %w", err)
	}

	if err := c.Browser.Validate(); err != nil {
		return fmt.Errorf("browser: %w", err)
	}

	s := c.Session
	for name, d := range map[string]time.Duration{
		"consent_timeout":  s.ConsentTimeout,
		"field_timeout":    s.FieldTimeout,
		"liveness_timeout": s.LivenessTimeout,
		"ready_timeout":    s.ReadyTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("session.%s must be positive", name)
		}
	}
	if s.LivenessSelector == "" || s.ReadySelector == "" {
		return fmt.Errorf("session selectors are required")
	}

	if c.Progress.Ticks < 0 {
		return fmt.Errorf("progress.ticks cannot be negative")
	}
	if c.Progress.Ticks > 0 && c.Progress.Interval <= 0 {
		return fmt.Errorf("progress.interval must be positive when ticks are enabled")
	}

	if c.Target.Host == "" || strings.ContainsAny(c.Target.Host, "/:") {
		return fmt.Errorf("invalid target host: %q", c.Target.Host)
	}

	if c.Credentials.Path == "" {
		return fmt.Errorf("credentials.path is required")
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid logging level: %s (must be 'debug', 'info', 'warn', or 'error')", c.Logging.Level)
	}
	return nil
}

// LogLevel returns the parsed logging level.
func (c *Config) LogLevel() logging.Level {
	return logging.ParseLevel(c.Logging.Level)
}
