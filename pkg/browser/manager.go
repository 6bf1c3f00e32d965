package browser

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/entrhq/reviewbot/pkg/logging"
	"github.com/entrhq/reviewbot/pkg/session"
	"github.com/playwright-community/playwright-go"
)

// Manager owns the Playwright driver and launches one persistent Chromium
// context per run. It implements session.Launcher.
type Manager struct {
	mu          sync.Mutex
	playwright  *playwright.Playwright
	opts        Options
	logger      *logging.Logger
	initialized bool
}

var _ session.Launcher = (*Manager)(nil)

// NewManager creates a new manager. The driver starts on first use.
func NewManager(opts Options, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Discard("browser")
	}
	return &Manager{opts: opts, logger: logger}
}

// Initialize installs (unless skipped) and starts the Playwright driver.
// It is safe to call more than once.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initLocked()
}

func (m *Manager) initLocked() error {
	if m.initialized {
		return nil
	}

	// Driver output would interleave with the console transport.
	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}

	if !m.opts.SkipInstall {
		if err := playwright.Install(opts); err != nil {
			return fmt.Errorf("failed to install playwright: %w", err)
		}
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	m.playwright = pw
	m.initialized = true
	m.logger.Infof("playwright driver started")
	return nil
}

// Launch opens a persistent Chromium context on profileDir and returns it
// as a session.Provider. The caller must Release it.
func (m *Manager) Launch(ctx context.Context, profileDir string) (session.Provider, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.initLocked(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(profileDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create profile dir: %w", err)
	}

	bc, err := m.playwright.Chromium.LaunchPersistentContext(profileDir, playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless: playwright.Bool(m.opts.Headless),
		Viewport: &playwright.Size{
			Width:  m.opts.Viewport.Width,
			Height: m.opts.Viewport.Height,
		},
		Args:   []string{"--no-sandbox", "--disable-dev-shm-usage"},
		Locale: playwright.String("en-US"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	// A persistent context opens with one blank page already.
	var page playwright.Page
	if pages := bc.Pages(); len(pages) > 0 {
		page = pages[0]
	} else if page, err = bc.NewPage(); err != nil {
		_ = bc.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(millis(m.opts.Timeout))

	m.logger.Debugf("launched chromium on %s", profileDir)
	return &Session{
		context:     bc,
		page:        page,
		login:       m.opts.Login,
		artifactDir: m.opts.ArtifactDir,
		logger:      m.logger,
	}, nil
}

// Shutdown stops the Playwright driver. Sessions must be released first.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized && m.playwright != nil {
		if err := m.playwright.Stop(); err != nil {
			return fmt.Errorf("failed to stop playwright: %w", err)
		}
		m.initialized = false
	}
	return nil
}
