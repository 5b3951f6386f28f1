// Package browser drives the live UFile interview page over the Chrome
// DevTools protocol. Exactly one authenticated page is shared process-wide;
// callers serialize mutations through the fill orchestrator's session lock.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"taxpilot/internal/config"
	"taxpilot/internal/logging"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
)

var (
	// ErrFieldNotFound is returned when a slip section or box control cannot
	// be located on the live page. Never swallowed: a missing field must
	// surface as a terminal failure for its task.
	ErrFieldNotFound = errors.New("field not found")

	// ErrSessionLost marks a dead or logged-out browsing context. Fatal to
	// the current session; the orchestrator re-authenticates before any
	// further task proceeds.
	ErrSessionLost = errors.New("browser session lost")

	// ErrNotAuthenticated is returned when the page sits on the login form
	// and no credentials are configured.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// UFilePage is the single long-lived handle to the UFile browsing context.
type UFilePage struct {
	cfg config.BrowserConfig

	mu         sync.Mutex
	browser    *rod.Browser
	page       *rod.Page
	controlURL string
}

// New creates an unconnected page handle.
func New(cfg config.BrowserConfig) *UFilePage {
	return &UFilePage{cfg: cfg}
}

// Connect attaches to a running Chrome via the configured control URL, or
// launches one. Reuses the first existing tab so a browser prepared by
// `taxpilot browser` (with the login form already submitted) is picked up
// as-is.
func (u *UFilePage) Connect(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.browser != nil {
		if _, err := u.browser.Version(); err == nil {
			return nil
		}
		logging.SessionWarn("stale browser connection, reconnecting")
		_ = u.browser.Close()
		u.browser = nil
		u.page = nil
	}

	controlURL := u.cfg.ControlURL
	if controlURL == "" {
		url, err := launchChrome(u.cfg)
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	pages, err := browser.Pages()
	if err != nil {
		_ = browser.Close()
		return fmt.Errorf("list pages: %w", err)
	}

	var page *rod.Page
	if len(pages) > 0 {
		page = pages[0]
		logging.Session("attached to existing page")
	} else {
		page, err = browser.Page(proto.TargetCreateTarget{URL: u.cfg.LoginURL})
		if err != nil {
			_ = browser.Close()
			return fmt.Errorf("create page: %w", err)
		}
		logging.Session("opened new page at login")
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             viewportWidth(u.cfg),
		Height:            viewportHeight(u.cfg),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		logging.SessionWarn("failed to set viewport: %v", err)
	}

	u.browser = browser
	u.page = page
	u.controlURL = controlURL
	return nil
}

// ControlURL returns the DevTools endpoint of the connected browser, empty
// before Connect. Written to the control file so other commands can attach.
func (u *UFilePage) ControlURL() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.controlURL
}

func launchChrome(cfg config.BrowserConfig) (string, error) {
	if len(cfg.Launch) == 0 {
		return launcher.New().Headless(cfg.Headless).Launch()
	}

	bin := cfg.Launch[0]
	launch := launcher.New().Bin(bin).Headless(cfg.Headless)
	for _, rawFlag := range cfg.Launch[1:] {
		flagStr := strings.TrimLeft(rawFlag, "-")
		name, val, hasVal := strings.Cut(flagStr, "=")
		if hasVal {
			launch = launch.Set(flags.Flag(name), val)
		} else {
			launch = launch.Set(flags.Flag(name))
		}
	}
	url, err := launch.Launch()
	if err != nil {
		// Fallback without extra flags
		fallback := launcher.New().Bin(bin).Headless(cfg.Headless)
		alt, altErr := fallback.Launch()
		if altErr != nil {
			return "", fmt.Errorf("%w (fallback: %v)", err, altErr)
		}
		return alt, nil
	}
	return url, nil
}

// Close tears down the browsing context.
func (u *UFilePage) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.page = nil
	if u.browser != nil {
		err := u.browser.Close()
		u.browser = nil
		return err
	}
	return nil
}

// IsConnected reports whether a live page is attached.
func (u *UFilePage) IsConnected() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.page != nil
}

// livePage returns the shared page or ErrSessionLost.
func (u *UFilePage) livePage() (*rod.Page, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.page == nil {
		return nil, ErrSessionLost
	}
	return u.page, nil
}

// currentURL reads the page's location, mapping a dead target to
// ErrSessionLost.
func (u *UFilePage) currentURL(ctx context.Context) (string, error) {
	page, err := u.livePage()
	if err != nil {
		return "", err
	}
	info, err := page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSessionLost, err)
	}
	return info.URL, nil
}

// EnsureAuthenticated verifies the session is logged in, performing the
// login flow when the page sits on the login form and credentials are
// configured.
func (u *UFilePage) EnsureAuthenticated(ctx context.Context) error {
	url, err := u.currentURL(ctx)
	if err != nil {
		return err
	}
	if !strings.Contains(url, "/account/login") {
		return nil
	}
	if u.cfg.Username == "" || u.cfg.Password == "" {
		return ErrNotAuthenticated
	}

	logging.Session("login form detected, authenticating as %s", u.cfg.Username)
	page, err := u.livePage()
	if err != nil {
		return err
	}
	p := page.Context(ctx).Timeout(u.cfg.NavigationTimeout())

	user, err := p.Element(`input[name="Username"]`)
	if err != nil {
		return fmt.Errorf("%w: username field: %v", ErrSessionLost, err)
	}
	if err := user.SelectAllText(); err == nil {
		_ = user.Input(u.cfg.Username)
	}

	pass, err := p.Element(`input[name="Password"]`)
	if err != nil {
		return fmt.Errorf("%w: password field: %v", ErrSessionLost, err)
	}
	if err := pass.SelectAllText(); err == nil {
		_ = pass.Input(u.cfg.Password)
	}

	submit, err := p.Element(`button[type="submit"]`)
	if err != nil {
		return fmt.Errorf("%w: submit button: %v", ErrSessionLost, err)
	}
	if err := submit.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("login click: %w", err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("%w: post-login load: %v", ErrSessionLost, err)
	}

	url, err = u.currentURL(ctx)
	if err != nil {
		return err
	}
	if strings.Contains(url, "/account/login") {
		return ErrNotAuthenticated
	}
	logging.Session("authenticated")
	return nil
}

// Reconnect drops the dead context and runs the full
// re-authentication/re-navigation cycle.
func (u *UFilePage) Reconnect(ctx context.Context, taxYear int) error {
	u.mu.Lock()
	u.page = nil
	if u.browser != nil {
		_ = u.browser.Close()
		u.browser = nil
	}
	u.mu.Unlock()

	if err := u.Connect(ctx); err != nil {
		return err
	}
	if err := u.EnsureAuthenticated(ctx); err != nil {
		return err
	}
	return u.SelectTaxYear(ctx, taxYear)
}

// SelectTaxYear makes sure the interview shows the given year's return.
// UFile keeps one return per year; the year appears in the interview header
// once a return is open.
func (u *UFilePage) SelectTaxYear(ctx context.Context, year int) error {
	page, err := u.livePage()
	if err != nil {
		return err
	}
	p := page.Context(ctx).Timeout(u.cfg.CallTimeout())

	want := fmt.Sprintf("%d", year)
	res, err := p.Evaluate(&rod.EvalOptions{
		JS: `
		() => {
			const header = document.querySelector('.interview-header, .tax-year-label, h1');
			return header ? header.innerText : '';
		}
		`,
		ByValue: true,
	})
	if err != nil {
		return fmt.Errorf("%w: read year header: %v", ErrSessionLost, err)
	}
	if res != nil && strings.Contains(res.Value.String(), want) {
		return nil
	}

	// Not on the right return: pick it from the year chooser.
	link, err := p.ElementR("a, button", want)
	if err != nil {
		return fmt.Errorf("%w: tax year %d not selectable", ErrFieldNotFound, year)
	}
	if err := link.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("select tax year %d: %w", year, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("%w: year load: %v", ErrSessionLost, err)
	}
	logging.Session("selected tax year %d", year)
	return nil
}

func viewportWidth(cfg config.BrowserConfig) int {
	if cfg.ViewportWidth <= 0 {
		return 1280
	}
	return cfg.ViewportWidth
}

func viewportHeight(cfg config.BrowserConfig) int {
	if cfg.ViewportHeight <= 0 {
		return 900
	}
	return cfg.ViewportHeight
}

// settleDelay is the small pause UFile's interview UI needs after a click
// before its fieldsets render.
const settleDelay = 500 * time.Millisecond
