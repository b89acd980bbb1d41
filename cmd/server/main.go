package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"guidepost-server/internal/agent"
	"guidepost-server/internal/api"
	"guidepost-server/internal/config"
	"guidepost-server/internal/dom"
	"guidepost-server/internal/facts"
	mcpserver "guidepost-server/internal/mcp"
	"guidepost-server/internal/overlay"
	"guidepost-server/internal/recorder"
	"guidepost-server/internal/store"
)

func main() {
	configPath := flag.String("config", "", "Path to a Guidepost config file (overrides workspace config)")
	workspaceDir := flag.String("workspace", "", "Workspace root containing .guidepost/ (default: discover from cwd)")
	initWorkspace := flag.Bool("init", false, "Create a .guidepost/ workspace in the current directory and exit")
	ssePort := flag.Int("sse-port", 0, "Optional MCP SSE port override (falls back to config)")
	httpPort := flag.Int("http-port", 0, "Optional UI API port override (falls back to config)")
	startURL := flag.String("url", "", "URL to open in the driven page at startup")
	flag.Parse()

	// Local secrets (agent token etc.) come from .env when present.
	_ = godotenv.Load()

	if *initWorkspace {
		cwd, err := os.Getwd()
		if err != nil {
			log.Fatalf("failed to resolve working directory: %v", err)
		}
		if err := config.InitWorkspace(cwd); err != nil {
			log.Fatalf("failed to init workspace: %v", err)
		}
		fmt.Printf("initialized workspace at %s\n", filepath.Join(cwd, config.WorkspaceDirName))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, wsDir, err := config.LoadWithWorkspace(*configPath, config.WorkspaceOptions{ExplicitDir: *workspaceDir})
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if wsDir != "" {
		log.Printf("using workspace %s", wsDir)
	}
	if *ssePort != 0 {
		cfg.MCP.SSEPort = *ssePort
	}
	if *httpPort != 0 {
		cfg.HTTP.Port = *httpPort
	}

	// stdio MCP mode needs stdout/stderr clean for the protocol, so logs
	// go to a file.
	if cfg.MCP.SSEPort == 0 && cfg.Server.LogFile != "" {
		logFile, err := os.OpenFile(cfg.Server.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			log.SetOutput(logFile)
			defer logFile.Close()
		} else {
			log.SetOutput(io.Discard)
		}
	}

	factEngine, err := facts.NewEngine(cfg.Facts)
	if err != nil {
		log.Fatalf("failed to initialize fact engine: %v", err)
	}

	driver := dom.NewRodDriver(cfg.Browser)
	if cfg.Browser.AutoStart {
		if err := driver.Connect(ctx, *startURL); err != nil {
			log.Fatalf("failed to connect to browser: %v", err)
		}
		defer driver.Close()
	} else {
		log.Printf("browser auto-start disabled; connect later via config")
	}

	messages, err := store.NewMessageStore(filepath.Join(cfg.Storage.DataDir, "messages.db"))
	if err != nil {
		log.Fatalf("failed to open message store: %v", err)
	}
	defer messages.Close()

	traces, err := recorder.NewRecorder(filepath.Join(cfg.Storage.DataDir, "traces"))
	if err != nil {
		log.Fatalf("failed to initialize trace recorder: %v", err)
	}
	defer traces.Close()

	svc := overlay.New(cfg, overlay.Deps{
		Driver:   driver,
		Client:   agent.NewClient(cfg.Agent),
		Messages: messages,
		Facts:    factEngine,
		Slot:     store.NewFileSlot(cfg.Walkthrough.SlotPath),
		Tracer:   traces,
	})

	if cfg.Browser.AutoStart {
		if err := svc.Start(ctx); err != nil {
			log.Fatalf("failed to start overlay: %v", err)
		}
	}

	if cfg.HTTP.Port > 0 {
		httpServer := &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.HTTP.Port),
			Handler: api.NewHandler(svc),
		}
		go func() {
			log.Printf("starting Guidepost UI API on port %d", cfg.HTTP.Port)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("UI API server exited: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpServer.Shutdown(shutdownCtx)
		}()
	}

	server, err := mcpserver.NewServer(cfg, svc, factEngine)
	if err != nil {
		log.Fatalf("failed to initialize MCP server: %v", err)
	}

	var startErr error
	if cfg.MCP.SSEPort > 0 {
		log.Printf("starting Guidepost MCP SSE server on port %d", cfg.MCP.SSEPort)
		startErr = server.StartSSE(ctx, cfg.MCP.SSEPort)
	} else {
		log.Printf("starting Guidepost MCP stdio server")
		startErr = server.Start(ctx)
	}

	if startErr != nil && !errors.Is(startErr, context.Canceled) {
		log.Fatalf("server exited with error: %v", startErr)
	}
}
