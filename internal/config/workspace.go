package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// WorkspaceDirName is the per-project marker directory.
	WorkspaceDirName = ".sessionmate"
	// WorkspaceConfigFile lives inside the workspace directory.
	WorkspaceConfigFile = "config.yaml"
	// MaxSearchDepth bounds the upward walk during discovery.
	MaxSearchDepth = 10
)

// WorkspaceOptions controls workspace discovery during load.
type WorkspaceOptions struct {
	// Disable skips workspace discovery entirely.
	Disable bool
	// ExplicitDir uses this workspace root instead of walking up from cwd.
	ExplicitDir string
}

// DiscoverWorkspace walks up from startDir looking for a directory containing
// .sessionmate/config.yaml. Returns "" (no error) when none is found within
// MaxSearchDepth levels.
func DiscoverWorkspace(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}
	for depth := 0; depth <= MaxSearchDepth; depth++ {
		marker := filepath.Join(dir, WorkspaceDirName, WorkspaceConfigFile)
		if info, err := os.Stat(marker); err == nil && !info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
	return "", nil
}

// LoadWithWorkspace layers configuration: defaults, then the discovered
// workspace config, then the explicit config file (if any). Relative paths in
// the workspace config resolve against the workspace directory so the server
// behaves the same no matter where it is launched from. Returns the config
// and the workspace root ("" when none applied).
func LoadWithWorkspace(explicitPath string, opts WorkspaceOptions) (Config, string, error) {
	cfg := DefaultConfig()

	wsRoot := ""
	if !opts.Disable {
		if opts.ExplicitDir != "" {
			wsRoot = opts.ExplicitDir
		} else if cwd, err := os.Getwd(); err == nil {
			wsRoot, _ = DiscoverWorkspace(cwd)
		}
	}

	if wsRoot != "" {
		wsDir := filepath.Join(wsRoot, WorkspaceDirName)
		raw, err := os.ReadFile(filepath.Join(wsDir, WorkspaceConfigFile))
		if err != nil {
			return cfg, "", fmt.Errorf("read workspace config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, "", fmt.Errorf("parse workspace config: %w", err)
		}
		cfg = resolveWorkspacePaths(cfg, wsDir)
	}

	if explicitPath != "" {
		raw, err := os.ReadFile(explicitPath)
		if err != nil {
			return cfg, wsRoot, err
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, wsRoot, fmt.Errorf("parse config %s: %w", explicitPath, err)
		}
	}

	return cfg, wsRoot, cfg.Validate()
}

// resolveWorkspacePaths anchors relative paths at the workspace directory.
// An unset state dir defaults into the workspace so credential, settings, and
// captures stay with the project.
func resolveWorkspacePaths(cfg Config, wsDir string) Config {
	if cfg.Server.LogFile != "" && !filepath.IsAbs(cfg.Server.LogFile) {
		cfg.Server.LogFile = filepath.Join(wsDir, cfg.Server.LogFile)
	}
	if cfg.State.Dir == "" {
		cfg.State.Dir = wsDir
	} else if !filepath.IsAbs(cfg.State.Dir) {
		cfg.State.Dir = filepath.Join(wsDir, cfg.State.Dir)
	}
	return cfg
}

const workspaceConfigTemplate = `# sessionmate workspace configuration.
# Values here override built-in defaults; a config file passed with -config
# overrides both.

server:
  name: sessionmate-mcp

browser:
  # Base URL of the scheduling site, e.g. https://app.example.com
  base_url: ""
  # Set a debugger_url (ws://localhost:9222) or a launch command, or disable
  # auto_start to connect on first use.
  auto_start: false

state:
  # Credential, settings, and diagnostic captures stay inside this workspace
  # unless dir points elsewhere.
`

const workspaceGitignore = `credential.json
settings.json
captures/
*.log
`

// InitWorkspace scaffolds a .sessionmate workspace under root. Fails when one
// already exists so a re-run cannot clobber a live credential.
func InitWorkspace(root string) error {
	wsDir := filepath.Join(root, WorkspaceDirName)
	if _, err := os.Stat(wsDir); err == nil {
		return fmt.Errorf("workspace already exists at %s", wsDir)
	}
	if err := os.MkdirAll(filepath.Join(wsDir, "captures"), 0o700); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	if err := os.WriteFile(filepath.Join(wsDir, WorkspaceConfigFile), []byte(workspaceConfigTemplate), 0o644); err != nil {
		return fmt.Errorf("write workspace config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(wsDir, ".gitignore"), []byte(workspaceGitignore), 0o644); err != nil {
		return fmt.Errorf("write workspace gitignore: %w", err)
	}
	return nil
}
