package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/opsgrid/inquest/internal/agentrt"
	"github.com/opsgrid/inquest/internal/auth"
	"github.com/opsgrid/inquest/internal/bridge"
	"github.com/opsgrid/inquest/internal/config"
	"github.com/opsgrid/inquest/internal/mcp"
	"github.com/opsgrid/inquest/internal/registry"
	"github.com/opsgrid/inquest/internal/server"
	"github.com/opsgrid/inquest/internal/storage"
	"github.com/opsgrid/inquest/internal/telemetry"
	"github.com/opsgrid/inquest/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("INQUEST_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("inquest starting", "version", version, "port", cfg.Port,
		"runtime_configured", cfg.RuntimeConfigured())

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, true)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Connect to the archive database (optional).
	var db *storage.DB
	if cfg.DatabaseURL != "" {
		db, err = storage.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		defer db.Close()

		if err := db.RunMigrations(ctx, migrations.FS); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
	} else {
		logger.Info("archive: disabled (no DATABASE_URL)")
	}

	// Capability registry.
	var reg *registry.Registry
	if cfg.RegistryPath != "" {
		reg = registry.New(cfg.RegistryPath)
		if snap, err := reg.Snapshot(); err != nil {
			logger.Warn("capability registry not loaded at startup", "error", err)
		} else {
			logger.Info("capability registry loaded", "capabilities", snap.Names())
		}
	}

	// Agent runtime client and supervisor. When no runtime is configured the
	// supervisor stays nil and submissions stream the synthetic walkthrough.
	var supervisor *bridge.Supervisor
	if cfg.RuntimeConfigured() {
		rt := agentrt.NewHTTPClient(cfg.RuntimeURL, cfg.RuntimeAPIKey, logger)
		var archive bridge.Archive
		if db != nil {
			archive = db
		}
		supervisor = bridge.NewSupervisor(rt, cfg.MaxAttempts, archive, logger)
	} else {
		logger.Info("runtime: disabled, serving synthetic walkthroughs")
	}

	// Bearer auth (optional).
	verifier := auth.NewVerifier(cfg.AuthSecret)
	if verifier == nil {
		logger.Info("auth: disabled (no INQUEST_AUTH_SECRET)")
	}

	// MCP server, mounted at /mcp.
	mcpSrv := mcp.New(supervisor, reg, version, logger)

	srv := server.New(server.ServerConfig{
		Supervisor:    supervisor,
		Registry:      reg,
		DB:            db,
		Verifier:      verifier,
		MCPServer:     mcpSrv.MCPServer(),
		Logger:        logger,
		Port:          cfg.Port,
		ReadTimeout:   cfg.ReadTimeout,
		WriteTimeout:  cfg.WriteTimeout,
		Version:       version,
		MaxInputBytes: cfg.MaxInputBytes,
	})

	// Start HTTP server in background.
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// Graceful shutdown. Draining in-flight SSE streams gets the long phase;
	// in-flight runs finish against the archive with their own budget.
	slog.Info("inquest shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	httpCancel()

	slog.Info("inquest stopped")
	return nil
}
