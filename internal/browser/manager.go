package browser

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"strings"
	"sync"

	"github.com/playwright-community/playwright-go"

	"imagerelay/internal/config"
)

// session couples a live Page with its liveness probe and teardown. Produced
// by the connect function, replaced wholesale on repair.
type session struct {
	page  Page
	alive func() bool
	close func() error
}

// Status is a point-in-time snapshot of the shared session for health checks.
type Status struct {
	Connected bool   `json:"connected"`
	Busy      bool   `json:"busy"`
	URL       string `json:"url,omitempty"`
}

// Manager owns the single browser session shared by all generations. Acquire
// serializes on a mutex, so concurrent callers that find a dead session
// trigger exactly one reconnect between them.
type Manager struct {
	mu  sync.Mutex
	cfg config.Config
	sel Selectors

	pw   *playwright.Playwright
	sess *session

	// connect is swapped out in tests.
	connect  func(ctx context.Context) (*session, error)
	onRepair func()
}

func NewManager(cfg config.Config) *Manager {
	m := &Manager{cfg: cfg, sel: DefaultSelectors()}
	m.connect = m.connectPlaywright
	return m
}

// SetRepairHook registers a callback fired each time a dead session is
// replaced. Wired to the session repair counter in main.
func (m *Manager) SetRepairHook(fn func()) {
	m.onRepair = fn
}

// Selectors returns the selector set sessions are built with.
func (m *Manager) Selectors() Selectors {
	return m.sel
}

// Acquire returns a live Page, reconnecting first if the previous session
// died. The caller must not retain the Page across generations.
func (m *Manager) Acquire(ctx context.Context) (Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess != nil {
		if m.sess.alive() {
			return m.sess.page, nil
		}
		log.Printf("browser: session lost, reconnecting")
		_ = m.sess.close()
		m.sess = nil
		if m.onRepair != nil {
			m.onRepair()
		}
	}

	sess, err := m.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSession, err)
	}
	m.sess = sess
	return sess.page, nil
}

// Status never blocks: when a generation holds the manager lock it reports
// busy instead of waiting for it.
func (m *Manager) Status() Status {
	if !m.mu.TryLock() {
		return Status{Connected: true, Busy: true}
	}
	defer m.mu.Unlock()

	st := Status{}
	if m.sess != nil && m.sess.alive() {
		st.Connected = true
		st.URL = m.sess.page.URL()
	}
	return st
}

// Shutdown tears down the session and stops the Playwright driver.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess != nil {
		_ = m.sess.close()
		m.sess = nil
	}
	if m.pw != nil {
		if err := m.pw.Stop(); err != nil {
			return fmt.Errorf("stop playwright: %w", err)
		}
		m.pw = nil
	}
	return nil
}

func (m *Manager) connectPlaywright(ctx context.Context) (*session, error) {
	if err := m.ensureDriver(); err != nil {
		return nil, err
	}

	browser, attached, err := m.openBrowser()
	if err != nil {
		return nil, err
	}

	pwPage, err := m.pickPage(ctx, browser)
	if err != nil {
		_ = browser.Close()
		return nil, err
	}

	page := newPlaywrightPage(pwPage, m.sel, float64(m.cfg.NavigationTimeout.Milliseconds()))
	mode := "attached"
	if !attached {
		mode = "launched"
	}
	log.Printf("browser: session ready (%s, url=%s)", mode, pwPage.URL())

	return &session{
		page: page,
		alive: func() bool {
			return browser.IsConnected() && !pwPage.IsClosed()
		},
		close: func() error {
			// Closing an attached browser only drops the CDP connection,
			// the user's Chrome stays up.
			return browser.Close()
		},
	}, nil
}

func (m *Manager) ensureDriver() error {
	if m.pw != nil {
		return nil
	}
	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}
	if err := playwright.Install(opts); err != nil {
		return fmt.Errorf("install playwright driver: %w", err)
	}
	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("start playwright driver: %w", err)
	}
	m.pw = pw
	return nil
}

func (m *Manager) openBrowser() (playwright.Browser, bool, error) {
	switch m.cfg.LaunchPolicy {
	case config.LaunchAttach:
		b, err := m.pw.Chromium.ConnectOverCDP(m.cfg.BrowserDebugURL)
		if err != nil {
			return nil, false, fmt.Errorf("attach to %s: %w", m.cfg.BrowserDebugURL, err)
		}
		return b, true, nil
	case config.LaunchManaged:
		b, err := m.launchManaged()
		return b, false, err
	default: // config.LaunchAuto
		if b, err := m.pw.Chromium.ConnectOverCDP(m.cfg.BrowserDebugURL); err == nil {
			return b, true, nil
		} else {
			log.Printf("browser: attach to %s failed (%v), launching managed browser", m.cfg.BrowserDebugURL, err)
		}
		b, err := m.launchManaged()
		return b, false, err
	}
}

func (m *Manager) launchManaged() (playwright.Browser, error) {
	b, err := m.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	return b, nil
}

// pickPage reuses an open tab already on the target host when attached to a
// user's browser, so an established logged-in thread keeps being driven.
// Otherwise it opens a fresh page and navigates it.
func (m *Manager) pickPage(ctx context.Context, browser playwright.Browser) (playwright.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	host := targetHost(m.cfg.TargetURL)

	var bctx playwright.BrowserContext
	if ctxs := browser.Contexts(); len(ctxs) > 0 {
		bctx = ctxs[0]
		for _, page := range bctx.Pages() {
			if host != "" && strings.Contains(page.URL(), host) {
				return page, nil
			}
		}
	} else {
		created, err := browser.NewContext()
		if err != nil {
			return nil, fmt.Errorf("create context: %w", err)
		}
		bctx = created
	}

	page, err := bctx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	if _, err := page.Goto(m.cfg.TargetURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(m.cfg.NavigationTimeout.Milliseconds())),
	}); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("open %s: %w", m.cfg.TargetURL, err)
	}
	return page, nil
}

func targetHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
