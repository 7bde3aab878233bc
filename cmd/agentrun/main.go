package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/lumenclass/agentrun/internal/agents"
	"github.com/lumenclass/agentrun/internal/engine"
	"github.com/lumenclass/agentrun/internal/enrollment"
	"github.com/lumenclass/agentrun/internal/logging"
	"github.com/lumenclass/agentrun/internal/scheduler"
	"github.com/lumenclass/agentrun/internal/service"
	"github.com/lumenclass/agentrun/internal/store"
	"github.com/lumenclass/agentrun/pkg/mcp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "agentrun:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	registry, err := agents.NewRegistry(
		agents.NewPublishingAgent(),
		agents.NewEnrollmentAgent(
			enrollment.NewStoreCreator(st),
			enrollment.NewLogNotifier(logger),
			logger,
		),
	)
	if err != nil {
		return fmt.Errorf("build registry: %w", err)
	}

	runner := engine.NewRunner(st, logger)
	svc := service.NewExecutionService(st, registry, runner, service.NewRoleScopeChecker(), logger)

	if cfg.JanitorEnabled {
		janitor := scheduler.NewJanitor(st, cfg.JanitorCron, cfg.StaleAfter(), logger)
		if err := janitor.Start(ctx); err != nil {
			return fmt.Errorf("start janitor: %w", err)
		}
		defer janitor.Stop()
	}

	srv := mcp.NewAgentRunServer(mcp.AgentRunServerDeps{
		Service: svc,
		Store:   st,
		Logger:  logger,
	})

	logger.Info("agentrun serving on stdio", slog.String("db", cfg.DBPath))
	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	// Logs go to stderr; stdout carries the MCP transport.
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}
