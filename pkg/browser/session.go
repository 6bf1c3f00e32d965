package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/entrhq/reviewbot/pkg/logging"
	"github.com/entrhq/reviewbot/pkg/session"
	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"
)

// Session is one live browser context bound to the persisted profile.
type Session struct {
	context     playwright.BrowserContext
	page        playwright.Page
	login       LoginPage
	artifactDir string
	logger      *logging.Logger

	releaseOnce sync.Once
	releaseErr  error
}

var _ session.Provider = (*Session)(nil)

// Authenticate opens the login page and submits the form unless the
// profile already lands on the home page. A forced login drops the stored
// cookies first so the form is always shown.
func (s *Session) Authenticate(ctx context.Context, login session.Login) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if login.Force {
		if err := s.context.ClearCookies(); err != nil {
			return fmt.Errorf("failed to clear cookies: %w", err)
		}
	}
	if _, err := s.page.Goto(s.login.URL); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	if skipLogin(login, s.page.URL(), s.login.HomeMarker) {
		s.logger.Infof("profile already logged in")
		return nil
	}

	if s.login.ConsentSelector != "" {
		err := s.page.Locator(s.login.ConsentSelector).First().Click(playwright.LocatorClickOptions{
			Timeout: playwright.Float(millis(login.ConsentTimeout)),
		})
		switch {
		case err == nil:
		case errors.Is(err, playwright.ErrTimeout):
			s.logger.Debugf("consent banner not shown")
		default:
			return fmt.Errorf("consent click failed: %w", err)
		}
	}

	fieldTimeout := playwright.Float(millis(login.FieldTimeout))
	if err := s.page.Locator(s.login.IdentitySelector).Fill(login.Identity, playwright.LocatorFillOptions{Timeout: fieldTimeout}); err != nil {
		return fmt.Errorf("%w: identity field: %v", session.ErrAuthentication, err)
	}
	if err := s.page.Locator(s.login.SecretSelector).Fill(login.Secret, playwright.LocatorFillOptions{Timeout: fieldTimeout}); err != nil {
		return fmt.Errorf("%w: secret field: %v", session.ErrAuthentication, err)
	}
	if err := s.page.Locator(s.login.SubmitSelector).Click(playwright.LocatorClickOptions{Timeout: fieldTimeout}); err != nil {
		return fmt.Errorf("%w: submit: %v", session.ErrAuthentication, err)
	}
	if err := s.page.WaitForURL(homePattern(s.login.HomeMarker), playwright.PageWaitForURLOptions{Timeout: fieldTimeout}); err != nil {
		return fmt.Errorf("%w: home page not reached: %v", session.ErrAuthentication, err)
	}
	return nil
}

// Navigate navigates the session's page to url.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.page.Goto(url); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

// WaitForSignal waits once for selector to become visible. A playwright
// timeout is reported as SignalTimeout, not as an error.
func (s *Session) WaitForSignal(ctx context.Context, selector string, timeout time.Duration) (session.Signal, error) {
	if err := ctx.Err(); err != nil {
		return session.SignalTimeout, err
	}
	state := playwright.WaitForSelectorState("visible")
	_, err := s.page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		State:   &state,
		Timeout: playwright.Float(millis(timeout)),
	})
	if err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			return session.SignalTimeout, nil
		}
		return session.SignalTimeout, fmt.Errorf("wait failed: %w", err)
	}
	return session.SignalPresent, nil
}

// CaptureArtifact screenshots the current viewport into the artifact dir.
func (s *Session) CaptureArtifact(ctx context.Context) (session.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return session.Artifact{}, err
	}
	path, err := artifactPath(s.artifactDir)
	if err != nil {
		return session.Artifact{}, err
	}
	data, err := s.page.Screenshot(playwright.PageScreenshotOptions{
		Path: playwright.String(path),
	})
	if err != nil {
		return session.Artifact{}, fmt.Errorf("screenshot failed: %w", err)
	}
	return session.Artifact{Path: path, Data: data}, nil
}

// Release closes the page and the context. Later calls return the first
// call's result.
func (s *Session) Release() error {
	s.releaseOnce.Do(func() {
		_ = s.page.Close() // Ignore errors, the context close below covers it
		s.releaseErr = s.context.Close()
	})
	return s.releaseErr
}

// artifactPath returns a fresh screenshot path inside dir, creating dir.
func artifactPath(dir string) (string, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "reviewbot")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create artifact dir: %w", err)
	}
	return filepath.Join(dir, "review-"+uuid.NewString()+".png"), nil
}
