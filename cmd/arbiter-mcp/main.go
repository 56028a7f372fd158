// ABOUTME: Stdio MCP transport binary for local agent clients
// ABOUTME: Serves newline-delimited JSON-RPC on stdin/stdout over the shared dispatcher

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/arbiterhq/arbiter/internal/config"
	"github.com/arbiterhq/arbiter/internal/conversation"
	"github.com/arbiterhq/arbiter/internal/jobs"
	"github.com/arbiterhq/arbiter/internal/mcp"
	"github.com/arbiterhq/arbiter/internal/state"
	"github.com/arbiterhq/arbiter/internal/tools"
)

// getConfigPath mirrors the server binary's lookup so both read one file.
func getConfigPath() string {
	if envPath := os.Getenv("ARBITER_CONFIG"); envPath != "" {
		return envPath
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "arbiter.yaml"
		}
		configDir = homeDir + "/.config"
	}
	return configDir + "/arbiter/arbiter.yaml"
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Stdout carries protocol frames; logs go to stderr only
	level := slog.LevelWarn
	if cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	store, err := newStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing state store: %w", err)
	}
	defer store.Close()

	convs := conversation.NewManager(conversation.ManagerConfig{
		Store:  store,
		TTL:    cfg.State.DefaultTTL,
		Logger: logger,
	})
	shared := conversation.NewSharedMemory(store, nil, cfg.State.DefaultTTL, logger)
	jobSvc := jobs.NewService(cfg.Jobs.Retention, logger)

	registry := tools.NewRegistry(logger)
	handlers := []tools.Handler{
		&tools.ConversationHistoryTool{Conversations: convs},
		&tools.SharedMemoryReadTool{Shared: shared},
		&tools.SharedMemoryWriteTool{Shared: shared},
		&tools.JobStatusTool{Jobs: jobSvc},
		&tools.JobCancelTool{Jobs: jobSvc},
	}
	for _, h := range handlers {
		if err := registry.Register(h); err != nil {
			return fmt.Errorf("registering tools: %w", err)
		}
	}

	dispatcher := mcp.NewDispatcher(registry, logger)
	transport := mcp.NewStdioTransport(dispatcher, os.Stdin, os.Stdout, logger)
	return transport.Run(ctx)
}

// newStore builds the state backend named by config. A multi-instance
// deployment points this binary and the server at the same redis instance so
// both see one state space.
func newStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (state.Store, error) {
	if cfg.State.Backend == "redis" {
		return state.NewRedisStore(ctx, state.RedisConfig{
			Addr:       cfg.State.Redis.Addr,
			Password:   cfg.State.Redis.Password,
			DB:         cfg.State.Redis.DB,
			DefaultTTL: cfg.State.DefaultTTL,
			Logger:     logger,
		})
	}
	return state.NewMemoryStore(logger, state.WithDefaultTTL(cfg.State.DefaultTTL)), nil
}
