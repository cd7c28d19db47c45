package browser

import (
	"context"
	"testing"
	"time"

	"sessionmate-mcp-server/internal/config"
	"sessionmate-mcp-server/internal/schedule"

	"github.com/go-rod/rod"
)

func testBrowserConfig() config.BrowserConfig {
	cfg := config.DefaultConfig().Browser
	cfg.BaseURL = "https://app.example.com"
	return cfg
}

func TestSplitLaunchFlag(t *testing.T) {
	cases := []struct {
		raw     string
		name    string
		val     string
		hasVal  bool
	}{
		{"--remote-debugging-port=9222", "remote-debugging-port", "9222", true},
		{"-headless", "headless", "", false},
		{"--no-sandbox", "no-sandbox", "", false},
		{"--window-size=1280,720", "window-size", "1280,720", true},
	}
	for _, tc := range cases {
		name, val, hasVal := splitLaunchFlag(tc.raw)
		if name != tc.name || val != tc.val || hasVal != tc.hasVal {
			t.Errorf("splitLaunchFlag(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tc.raw, name, val, hasVal, tc.name, tc.val, tc.hasVal)
		}
	}
}

func TestRetainKeepsPagePrivateUntilHandedOver(t *testing.T) {
	s := NewSurface(testBrowserConfig())
	pageA := &rod.Page{}

	// First retain just installs the page for Screenshot.
	s.retain(pageA)
	if s.page != pageA {
		t.Fatal("expected retained page to be installed")
	}

	// Re-retaining the same page must not close it out from under the
	// caller; the previous-page close only fires for a different page.
	s.retain(pageA)
	if s.page != pageA {
		t.Fatal("expected same page to stay retained")
	}
}

func TestScreenshotWithoutPage(t *testing.T) {
	s := NewSurface(testBrowserConfig())
	if _, err := s.Screenshot(context.Background()); err == nil {
		t.Fatal("expected error when no page has been retained")
	}
}

func TestSurfaceURLs(t *testing.T) {
	s := NewSurface(testBrowserConfig())

	if got := s.url("/sessions"); got != "https://app.example.com/sessions" {
		t.Errorf("unexpected sessions URL %q", got)
	}

	start := time.Date(2026, 3, 14, 9, 15, 0, 0, time.UTC)
	if got := s.calendarURL(start); got != "https://app.example.com/calendar?date=2026-03-14" {
		t.Errorf("unexpected calendar URL %q", got)
	}
}

func TestSurfaceURLTrimsTrailingSlash(t *testing.T) {
	cfg := testBrowserConfig()
	cfg.BaseURL = "https://app.example.com/"
	s := NewSurface(cfg)
	if got := s.url("/login"); got != "https://app.example.com/login" {
		t.Errorf("unexpected URL %q", got)
	}
}

func TestCookieParams(t *testing.T) {
	cred := &schedule.Credential{
		Cookies: []schedule.CookieRecord{
			{Name: "sid", Value: "abc", Domain: ".example.com", Path: "/", Secure: true, HTTPOnly: true, SameSite: "Lax"},
			{Name: "csrf", Value: "tok", Domain: "app.example.com", Path: "/"},
		},
	}
	params := cookieParams(cred)
	if len(params) != 2 {
		t.Fatalf("expected 2 params, got %d", len(params))
	}
	if params[0].Name != "sid" || params[0].Value != "abc" {
		t.Errorf("unexpected first cookie %+v", params[0])
	}
	if !params[0].Secure || !params[0].HTTPOnly {
		t.Error("expected secure/httponly flags to carry over")
	}
	if string(params[0].SameSite) != "Lax" {
		t.Errorf("unexpected samesite %q", params[0].SameSite)
	}

	if got := cookieParams(nil); got != nil {
		t.Errorf("expected nil params for nil credential, got %v", got)
	}
}

func TestParseSessionRow(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	row := sessionRow{
		ID:       "sess_9",
		Start:    "2026-03-14T14:00:00Z",
		Duration: 50,
		Status:   "matched",
		Partner:  "alice",
		Title:    "deep work",
	}
	rec, err := parseSessionRow(row, now)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if rec.ID != "sess_9" {
		t.Errorf("unexpected id %q", rec.ID)
	}
	if !rec.EndTime.Equal(rec.StartTime.Add(50 * time.Minute)) {
		t.Errorf("expected end = start + 50m, got %v", rec.EndTime)
	}
	if rec.Status != schedule.StatusMatched {
		t.Errorf("expected remote-reported status to win, got %q", rec.Status)
	}
}

func TestParseSessionRowDerivesDurationFromEnd(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	row := sessionRow{
		ID:    "sess_10",
		Start: "2026-03-14T10:00:00Z",
		End:   "2026-03-14T10:25:00Z",
	}
	rec, err := parseSessionRow(row, now)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if rec.Duration != schedule.Duration25 {
		t.Errorf("expected duration 25 derived from end, got %d", rec.Duration)
	}
	if rec.Status != schedule.StatusCompleted {
		t.Errorf("expected locally derived completed status, got %q", rec.Status)
	}
}

func TestParseSessionRowRejectsBadStart(t *testing.T) {
	now := time.Now()
	if _, err := parseSessionRow(sessionRow{ID: "x", Start: "not-a-time", Duration: 25}, now); err == nil {
		t.Error("expected error for unparseable start")
	}
	if _, err := parseSessionRow(sessionRow{ID: "x", Start: "2026-03-14T10:00:00Z"}, now); err == nil {
		t.Error("expected error when neither duration nor end is usable")
	}
}

func TestParseSessionRowSynthesizesID(t *testing.T) {
	rec, err := parseSessionRow(sessionRow{Start: "2026-03-14T10:00:00Z", Duration: 25}, time.Now())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if rec.ID == "" {
		t.Error("expected synthetic id for rows without one")
	}
}
