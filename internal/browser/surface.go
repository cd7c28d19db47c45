// Package browser drives the remote scheduling surface through a Chrome
// instance controlled by Rod. It is the concrete Remote Action Gateway: every
// action restores the stored credential into a fresh page, verifies the
// surface presents an authenticated view, and reports typed outcomes.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"sessionmate-mcp-server/internal/config"
	"sessionmate-mcp-server/internal/schedule"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
)

// Surface owns the detached Chrome instance. Every action works on its own
// page so history queries can run concurrently; the most recent interesting
// page (mutating actions, any failure) is retained so the diagnostic capturer
// can still photograph it.
type Surface struct {
	cfg config.BrowserConfig

	mu         sync.Mutex
	browser    *rod.Browser
	page       *rod.Page
	controlURL string
}

// NewSurface builds a surface; Start must run before any gateway call.
func NewSurface(cfg config.BrowserConfig) *Surface {
	return &Surface{cfg: cfg}
}

// Start connects to an existing Chrome or launches a new one using Rod's launcher.
func (s *Surface) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browser != nil {
		// Try a simple operation to test connection health.
		if _, err := s.browser.Version(); err == nil {
			return nil
		}
		log.Printf("stale browser connection detected, reconnecting...")
		_ = s.browser.Close()
		s.browser = nil
		s.page = nil
		s.controlURL = ""
	}

	controlURL := s.cfg.DebuggerURL
	if controlURL == "" && len(s.cfg.Launch) > 0 {
		bin := s.cfg.Launch[0]
		launch := launcher.New().Bin(bin).Headless(s.cfg.IsHeadless())
		for _, rawFlag := range s.cfg.Launch[1:] {
			name, val, hasVal := splitLaunchFlag(rawFlag)
			if hasVal {
				launch = launch.Set(flags.Flag(name), val)
			} else {
				launch = launch.Set(flags.Flag(name))
			}
		}
		url, err := launch.Launch()
		if err != nil {
			// Fallback: let Rod pick the port and defaults.
			fallback := launcher.New().Bin(bin).Headless(s.cfg.IsHeadless())
			alt, altErr := fallback.Launch()
			if altErr != nil {
				return fmt.Errorf("launch chrome: %w (fallback: %v)", err, altErr)
			}
			controlURL = alt
		} else {
			controlURL = url
		}
	}

	if controlURL == "" {
		return errors.New("no debugger_url or launch command provided")
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	s.browser = browser
	s.controlURL = controlURL
	log.Printf("browser connected at %s", controlURL)
	return nil
}

// IsConnected returns whether the browser is currently connected.
func (s *Surface) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.browser != nil
}

// ControlURL returns the WebSocket debugger URL for the connected browser.
func (s *Surface) ControlURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.controlURL
}

// Shutdown closes the active page and the underlying browser.
func (s *Surface) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.page != nil {
		_ = s.page.Close()
		s.page = nil
	}
	var err error
	if s.browser != nil {
		err = s.browser.Close()
		s.browser = nil
	}
	s.controlURL = ""
	log.Printf("browser shutdown complete")
	return err
}

// Screenshot photographs the page from the most recent action. Used as the
// diagnostic capture shooter.
func (s *Surface) Screenshot(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	page := s.page
	s.mu.Unlock()

	if page == nil {
		return nil, errors.New("no active page")
	}
	return page.Context(ctx).Timeout(5 * time.Second).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

// openPage creates a fresh page at the given URL. The page is private to the
// caller until retained; pages in use by other goroutines are never touched,
// so concurrent queries each get their own.
func (s *Surface) openPage(ctx context.Context, url string) (*rod.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browser == nil {
		return nil, errors.New("browser not connected")
	}

	page, err := s.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             s.cfg.GetViewportWidth(),
		Height:            s.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		log.Printf("warning: failed to set viewport: %v", err)
	}

	if url != "" {
		if err := page.Timeout(s.cfg.NavigationTimeout()).Navigate(url); err != nil {
			s.retainLocked(page)
			return nil, fmt.Errorf("navigate %s: %w", url, err)
		}
		if err := page.Timeout(s.cfg.NavigationTimeout()).WaitLoad(); err != nil {
			s.retainLocked(page)
			return nil, fmt.Errorf("wait load %s: %w", url, err)
		}
	}
	return page, nil
}

// retain marks page as the one Screenshot photographs, closing the previously
// retained page. Callers must be done sharing: mutating actions retain their
// page up front (the dispatcher runs them exclusively), queries only retain
// on failure, once nothing else will touch the page.
func (s *Surface) retain(page *rod.Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retainLocked(page)
}

func (s *Surface) retainLocked(page *rod.Page) {
	if s.page != nil && s.page != page {
		_ = s.page.Close()
	}
	s.page = page
}

func (s *Surface) url(path string) string {
	return strings.TrimRight(s.cfg.BaseURL, "/") + path
}

// snapshotCredential captures cookies + localStorage from an authenticated
// page into a credential artifact.
func (s *Surface) snapshotCredential(page *rod.Page) (*schedule.Credential, error) {
	cookiesRes, err := proto.NetworkGetCookies{}.Call(page)
	if err != nil {
		return nil, fmt.Errorf("get cookies: %w", err)
	}

	cred := &schedule.Credential{
		CreatedAt:    time.Now(),
		Cookies:      make([]schedule.CookieRecord, 0, len(cookiesRes.Cookies)),
		LocalStorage: snapshotStorage(page, "localStorage"),
	}
	for _, c := range cookiesRes.Cookies {
		cred.Cookies = append(cred.Cookies, schedule.CookieRecord{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  float64(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}
	return cred, nil
}

// restoreCredential injects the stored cookies into a page before navigation
// and the storage snapshot after.
func restoreCredential(page *rod.Page, cred *schedule.Credential) error {
	params := cookieParams(cred)
	if len(params) > 0 {
		if err := page.SetCookies(params); err != nil {
			return fmt.Errorf("set cookies: %w", err)
		}
	}
	return nil
}

func cookieParams(cred *schedule.Credential) []*proto.NetworkCookieParam {
	if cred == nil {
		return nil
	}
	params := make([]*proto.NetworkCookieParam, 0, len(cred.Cookies))
	for _, c := range cred.Cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  proto.TimeSinceEpoch(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: proto.NetworkCookieSameSite(c.SameSite),
		})
	}
	return params
}

func snapshotStorage(page *rod.Page, store string) string {
	jsFunc := fmt.Sprintf(`() => {
		try {
			const out = {};
			for (const key of Object.keys(%s)) {
				out[key] = %s.getItem(key);
			}
			return JSON.stringify(out);
		} catch (e) {
			return "{}";
		}
	}`, store, store)

	res, err := page.Evaluate(&rod.EvalOptions{
		JS:           jsFunc,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil || res == nil || res.Value.Nil() {
		return "{}"
	}
	return res.Value.String()
}

func restoreStorage(page *rod.Page, localJSON string) {
	_, _ = page.Evaluate(&rod.EvalOptions{
		JS: `
		(local) => {
			try {
				const l = JSON.parse(local || "{}");
				Object.entries(l).forEach(([k, v]) => localStorage.setItem(k, v));
			} catch (e) {}
		}
		`,
		JSArgs:       []interface{}{localJSON},
		ByValue:      true,
		AwaitPromise: true,
		UserGesture:  true,
	})
}

// splitLaunchFlag normalizes a raw CLI flag ("--foo=bar" or "-foo") into a
// launcher flag name plus optional value.
func splitLaunchFlag(raw string) (name, val string, hasVal bool) {
	flagStr := strings.TrimLeft(raw, "-")
	return strings.Cut(flagStr, "=")
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
