package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"sessionmate-mcp-server/internal/browser"
	"sessionmate-mcp-server/internal/capture"
	"sessionmate-mcp-server/internal/config"
	"sessionmate-mcp-server/internal/credstore"
	"sessionmate-mcp-server/internal/dispatch"
	mcpserver "sessionmate-mcp-server/internal/mcp"
)

func main() {
	configPath := flag.String("config", "", "Path to an explicit config file (overrides any workspace config)")
	ssePort := flag.Int("sse-port", 0, "Optional SSE port override (falls back to config)")
	noWorkspace := flag.Bool("no-workspace", false, "Skip .sessionmate workspace discovery")
	initWorkspace := flag.Bool("init-workspace", false, "Scaffold a .sessionmate workspace in the current directory and exit")
	flag.Parse()

	if *initWorkspace {
		if err := config.InitWorkspace("."); err != nil {
			log.Fatalf("failed to init workspace: %v", err)
		}
		log.Printf("workspace created at %s; set browser.base_url in %s/%s to get started",
			config.WorkspaceDirName, config.WorkspaceDirName, config.WorkspaceConfigFile)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, wsRoot, err := config.LoadWithWorkspace(*configPath, config.WorkspaceOptions{Disable: *noWorkspace})
	if err != nil {
		// Before we can redirect logs, write to stderr as last resort
		log.Fatalf("failed to load config: %v", err)
	}
	if *ssePort != 0 {
		cfg.MCP.SSEPort = *ssePort
	}

	// Redirect logging to file for stdio mode (stderr interferes with MCP protocol)
	if cfg.MCP.SSEPort == 0 && cfg.Server.LogFile != "" {
		logFile, err := os.OpenFile(cfg.Server.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			log.SetOutput(logFile)
			defer logFile.Close()
		} else {
			// If we can't open log file, disable logging to avoid stderr pollution
			log.SetOutput(io.Discard)
		}
	}

	if wsRoot != "" {
		log.Printf("using workspace at %s", wsRoot)
	}

	stateDir := cfg.State.StateDir()
	store, err := credstore.Open(stateDir)
	if err != nil {
		log.Fatalf("failed to open credential store at %s: %v", stateDir, err)
	}

	surface := browser.NewSurface(cfg.Browser)
	if cfg.Browser.AutoStart {
		if err := surface.Start(ctx); err != nil {
			log.Fatalf("failed to start browser surface: %v", err)
		}
	} else {
		log.Printf("browser auto-start disabled; first action will connect on demand")
	}
	defer func() {
		if err := surface.Shutdown(context.Background()); err != nil {
			log.Printf("browser shutdown: %v", err)
		}
	}()

	capturer, err := capture.New(filepath.Join(stateDir, "captures"), cfg.State.KeepCaptures(), surface.Screenshot)
	if err != nil {
		log.Fatalf("failed to initialize diagnostic capture: %v", err)
	}

	dispatcher := dispatch.New(surface, store, capturer, dispatch.Options{
		CredentialMaxAge: cfg.State.MaxCredentialAge(),
		SlotGrid:         cfg.State.SlotGrid(),
		ListWindow:       cfg.State.ListWindow(),
	})

	server, err := mcpserver.NewServer(cfg, dispatcher)
	if err != nil {
		log.Fatalf("failed to initialize MCP server: %v", err)
	}

	var startErr error
	if cfg.MCP.SSEPort > 0 {
		log.Printf("starting sessionmate MCP SSE server on port %d", cfg.MCP.SSEPort)
		startErr = server.StartSSE(ctx, cfg.MCP.SSEPort)
	} else {
		log.Printf("starting sessionmate MCP stdio server")
		startErr = server.Start(ctx)
	}

	if startErr != nil && !errors.Is(startErr, context.Canceled) {
		log.Fatalf("server exited with error: %v", startErr)
	}
}
