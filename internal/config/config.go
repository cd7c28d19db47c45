package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures every tunable setting for the sessionmate MCP server.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Browser BrowserConfig `yaml:"browser"`
	MCP     MCPConfig     `yaml:"mcp"`
	State   StateConfig   `yaml:"state"`
}

type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	LogFile string `yaml:"log_file"`
}

// BrowserConfig configures how we attach to or launch Chrome and where the
// remote scheduling surface lives.
type BrowserConfig struct {
	// Control endpoint for Rod (e.g., ws://localhost:9222). Required when launch is empty.
	DebuggerURL string `yaml:"debugger_url"`
	// Optional launch command to start Chrome in detached mode.
	Launch []string `yaml:"launch"`
	// AutoStart controls whether the server launches/attaches to Chrome at startup.
	AutoStart bool `yaml:"auto_start"`
	// Headless controls whether Chrome runs in headless mode (default: true).
	// Interactive authentication generally wants a visible window.
	Headless *bool `yaml:"headless"`

	// BaseURL of the remote scheduling surface (e.g., https://app.example.com).
	BaseURL string `yaml:"base_url"`
	// LoginPath is where unauthenticated visits get bounced (default: /login).
	LoginPath string `yaml:"login_path"`
	// CalendarPath hosts the slot grid for booking (default: /calendar).
	CalendarPath string `yaml:"calendar_path"`
	// SessionsPath hosts the session list (default: /sessions).
	SessionsPath string `yaml:"sessions_path"`
	// AuthedMarker is a CSS selector present only on authenticated pages
	// (default: [data-authed]).
	AuthedMarker string `yaml:"authed_marker"`

	// Default navigation timeout (e.g., "15s").
	DefaultNavigationTimeout string `yaml:"default_navigation_timeout"`
	// Per-step wait for elements/outcomes during actions (e.g., "10s").
	DefaultActionTimeout string `yaml:"default_action_timeout"`
	// Ceiling for interactive login (e.g., "5m").
	AuthTimeout string `yaml:"auth_timeout"`

	// Viewport for new pages (default: 1920x1080).
	ViewportWidth  int `yaml:"viewport_width"`
	ViewportHeight int `yaml:"viewport_height"`
}

type MCPConfig struct {
	// When set, starts an SSE server on this port instead of stdio-only.
	SSEPort int `yaml:"sse_port"`
}

// StateConfig locates the private on-disk state (credential, settings,
// captures) and tunes its lifecycle.
type StateConfig struct {
	// Dir is the owner-only state root (default: ~/.sessionmate).
	Dir string `yaml:"dir"`
	// CredentialMaxAge before authenticate refreshes instead of reusing (e.g., "12h").
	CredentialMaxAge string `yaml:"credential_max_age"`
	// SlotGridMinutes is the remote surface's start-time grid (default: 15).
	SlotGridMinutes int `yaml:"slot_grid_minutes"`
	// ListWindowDays is the default history span when no end date is given (default: 14).
	ListWindowDays int `yaml:"list_window_days"`
	// CaptureKeep bounds retained diagnostic artifacts (default: 20).
	CaptureKeep int `yaml:"capture_keep"`
}

// DefaultConfig provides reasonable defaults for local development.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:    "sessionmate-mcp",
			Version: "0.1.0",
			LogFile: "sessionmate-mcp.log",
		},
		Browser: BrowserConfig{
			AutoStart:                true,
			LoginPath:                "/login",
			CalendarPath:             "/calendar",
			SessionsPath:             "/sessions",
			AuthedMarker:             "[data-authed]",
			DefaultNavigationTimeout: "15s",
			DefaultActionTimeout:     "10s",
			AuthTimeout:              "5m",
			ViewportWidth:            1920,
			ViewportHeight:           1080,
		},
		MCP: MCPConfig{
			SSEPort: 0,
		},
		State: StateConfig{
			SlotGridMinutes: 15,
			ListWindowDays:  14,
			CaptureKeep:     20,
		},
	}
}

// Load reads YAML config from disk and overlays defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, errors.New("config path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// Validate ensures required fields exist so the server can start deterministically.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if c.Browser.BaseURL == "" {
		return errors.New("browser.base_url is required")
	}
	if c.Browser.AutoStart {
		if c.Browser.DebuggerURL == "" && len(c.Browser.Launch) == 0 {
			return errors.New("browser.debugger_url or browser.launch must be provided")
		}
	}
	return nil
}

// StateDir returns the state root, defaulting to ~/.sessionmate.
func (s StateConfig) StateDir() string {
	if s.Dir != "" {
		return s.Dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sessionmate"
	}
	return filepath.Join(home, ".sessionmate")
}

// MaxCredentialAge returns the parsed credential max age with a sane default.
func (s StateConfig) MaxCredentialAge() time.Duration {
	return parseDurationOr(s.CredentialMaxAge, 12*time.Hour)
}

// SlotGrid returns the slot grid step.
func (s StateConfig) SlotGrid() time.Duration {
	if s.SlotGridMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(s.SlotGridMinutes) * time.Minute
}

// ListWindow returns the default history span.
func (s StateConfig) ListWindow() time.Duration {
	if s.ListWindowDays <= 0 {
		return 14 * 24 * time.Hour
	}
	return time.Duration(s.ListWindowDays) * 24 * time.Hour
}

// KeepCaptures returns how many diagnostic artifacts to retain.
func (s StateConfig) KeepCaptures() int {
	if s.CaptureKeep <= 0 {
		return 20
	}
	return s.CaptureKeep
}

// NavigationTimeout returns the parsed navigation timeout with a sane default.
func (b BrowserConfig) NavigationTimeout() time.Duration {
	return parseDurationOr(b.DefaultNavigationTimeout, 15*time.Second)
}

// ActionTimeout returns the parsed per-step action timeout with a sane default.
func (b BrowserConfig) ActionTimeout() time.Duration {
	return parseDurationOr(b.DefaultActionTimeout, 10*time.Second)
}

// AuthCeiling returns the interactive login ceiling with a sane default.
func (b BrowserConfig) AuthCeiling() time.Duration {
	return parseDurationOr(b.AuthTimeout, 5*time.Minute)
}

// IsHeadless returns whether Chrome should run in headless mode (default: true).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return true
	}
	return *b.Headless
}

// GetViewportWidth returns the viewport width with a sane default.
func (b BrowserConfig) GetViewportWidth() int {
	if b.ViewportWidth <= 0 {
		return 1920
	}
	return b.ViewportWidth
}

// GetViewportHeight returns the viewport height with a sane default.
func (b BrowserConfig) GetViewportHeight() int {
	if b.ViewportHeight <= 0 {
		return 1080
	}
	return b.ViewportHeight
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
