// ABOUTME: Gateway orchestrator wiring state, channels, jobs, tools, and MCP
// ABOUTME: Owns the HTTP server lifecycle and component teardown

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/arbiterhq/arbiter/internal/auth"
	"github.com/arbiterhq/arbiter/internal/channel"
	"github.com/arbiterhq/arbiter/internal/config"
	"github.com/arbiterhq/arbiter/internal/conversation"
	"github.com/arbiterhq/arbiter/internal/jobs"
	"github.com/arbiterhq/arbiter/internal/mcp"
	"github.com/arbiterhq/arbiter/internal/state"
	"github.com/arbiterhq/arbiter/internal/tools"
	"github.com/arbiterhq/arbiter/internal/transcript"
)

// InvokeRequest carries one user message into the agent backend.
type InvokeRequest struct {
	ConversationID string
	UserID         string
	Message        string
}

// Invoker is the agent backend that answers intelligent queries. The gateway
// runs each invocation as a background job and streams the reply over the
// conversation's channel; the backend itself lives outside this process.
type Invoker interface {
	Invoke(ctx context.Context, req InvokeRequest, reporter *jobs.Reporter) (string, error)
}

// Gateway wires the coordination components behind one HTTP server.
type Gateway struct {
	config     *config.Config
	store      state.Store
	convs      *conversation.Manager
	agentState *conversation.AgentState
	shared     *conversation.SharedMemory
	channels   *channel.Manager
	jobs       *jobs.Service
	scheduler  *jobs.Scheduler
	transcript *transcript.Store
	registry   *tools.Registry
	mcpServer  *mcp.Server
	mcpTokens  *mcp.TokenStore
	invoker    Invoker
	httpServer *http.Server
	logger     *slog.Logger
}

// Options carries the injectable collaborators for New. Everything left nil
// is constructed from config.
type Options struct {
	Invoker  Invoker        // agent backend; nil disables intelligent-query
	Operator tools.Operator // infrastructure operator for azure_operation; nil disables it
	Store    state.Store    // state backend override, used by tests
	Logger   *slog.Logger
}

// initStore creates the state backend named by config.
func initStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (state.Store, error) {
	switch cfg.State.Backend {
	case "redis":
		return state.NewRedisStore(ctx, state.RedisConfig{
			Addr:       cfg.State.Redis.Addr,
			Password:   cfg.State.Redis.Password,
			DB:         cfg.State.Redis.DB,
			DefaultTTL: cfg.State.DefaultTTL,
			Logger:     logger,
		})
	case "memory", "":
		return state.NewMemoryStore(logger, state.WithDefaultTTL(cfg.State.DefaultTTL)), nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.State.Backend)
	}
}

// New assembles a Gateway from configuration.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Gateway, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store := opts.Store
	if store == nil {
		var err error
		store, err = initStore(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("initializing state store: %w", err)
		}
	}

	channels := channel.NewManager(channel.Config{
		MaxConnectionsPerUser: cfg.Channel.MaxConnectionsPerUser,
		IdleTimeout:           cfg.Channel.IdleConnectionTimeout,
		MaxChunkSize:          cfg.Channel.MaxChunkSize,
		MinChunkDelay:         cfg.Channel.MinChunkDelay,
		StreamTimeout:         cfg.Channel.StreamTimeout,
		Logger:                logger,
	})

	convs := conversation.NewManager(conversation.ManagerConfig{
		Store:  store,
		TTL:    cfg.State.DefaultTTL,
		Logger: logger,
	})
	agentState := conversation.NewAgentState(store, cfg.State.DefaultTTL, logger)
	shared := conversation.NewSharedMemory(store, channels, cfg.State.DefaultTTL, logger)

	jobSvc := jobs.NewService(cfg.Jobs.Retention, logger)
	jobSvc.OnTerminal(func(job *jobs.Job) {
		if job.ConversationID == "" {
			return
		}
		payload, err := json.Marshal(map[string]string{
			"jobId":  job.JobID,
			"status": string(job.Status),
		})
		if err != nil {
			return
		}
		channels.SendToConversation(context.Background(), job.ConversationID,
			channel.NewMessage(job.ConversationID, channel.TypeJobCompleted, string(payload), ""))
	})
	scheduler, err := jobs.NewScheduler(jobSvc, cfg.Jobs.CleanupSchedule, logger)
	if err != nil {
		return nil, fmt.Errorf("creating cleanup scheduler: %w", err)
	}

	archive, err := transcript.NewStore(cfg.Database.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing transcript archive: %w", err)
	}

	registry := tools.NewRegistry(logger)
	if err := registerBuiltinTools(registry, convs, shared, jobSvc, opts.Operator); err != nil {
		return nil, fmt.Errorf("registering builtin tools: %w", err)
	}

	var verifier auth.TokenVerifier
	if cfg.MCP.JWTSecret != "" {
		verifier = auth.NewJWTVerifier([]byte(cfg.MCP.JWTSecret))
	}
	mcpTokens := mcp.NewTokenStore()
	mcpServer, err := mcp.NewServer(mcp.ServerConfig{
		Dispatcher:    mcp.NewDispatcher(registry, logger),
		Logger:        logger,
		TokenVerifier: verifier,
		TokenStore:    mcpTokens,
		RequireAuth:   cfg.MCP.RequireAuth,
	})
	if err != nil {
		return nil, fmt.Errorf("creating MCP server: %w", err)
	}

	g := &Gateway{
		config:     cfg,
		store:      store,
		convs:      convs,
		agentState: agentState,
		shared:     shared,
		channels:   channels,
		jobs:       jobSvc,
		scheduler:  scheduler,
		transcript: archive,
		registry:   registry,
		mcpServer:  mcpServer,
		mcpTokens:  mcpTokens,
		invoker:    opts.Invoker,
		logger:     logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()
	g.registerRoutes(mux, verifier)

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// registerBuiltinTools wires the coordination tools into the registry.
func registerBuiltinTools(registry *tools.Registry, convs *conversation.Manager, shared *conversation.SharedMemory, jobSvc *jobs.Service, operator tools.Operator) error {
	handlers := []tools.Handler{
		&tools.ConversationHistoryTool{Conversations: convs},
		&tools.SharedMemoryReadTool{Shared: shared},
		&tools.SharedMemoryWriteTool{Shared: shared},
		&tools.JobStatusTool{Jobs: jobSvc},
		&tools.JobCancelTool{Jobs: jobSvc},
	}
	if operator != nil {
		handlers = append(handlers, &tools.AzureOperationTool{Operator: operator, Jobs: jobSvc})
	}
	for _, h := range handlers {
		if err := registry.Register(h); err != nil {
			return err
		}
	}
	return nil
}

// registerRoutes mounts all HTTP endpoints. Chat and job routes go behind
// auth middleware when a JWT secret is configured.
func (g *Gateway) registerRoutes(mux *http.ServeMux, verifier auth.TokenVerifier) {
	mux.HandleFunc("/health", g.handleHealth)

	wrap := func(h http.HandlerFunc) http.Handler { return h }
	if verifier != nil && g.config.MCP.RequireAuth {
		middleware := auth.Middleware(verifier)
		wrap = func(h http.HandlerFunc) http.Handler { return middleware(h) }
		g.logger.Info("HTTP auth middleware enabled")
	}

	mux.Handle("/api/chat/intelligent-query", wrap(g.handleIntelligentQuery))
	mux.Handle("/api/chat/history/", wrap(g.handleHistory))
	mux.Handle("/api/chat/stream/", wrap(g.handleStream))
	mux.Handle("/api/jobs/", wrap(g.handleJobStatus))

	// Token administration always sits behind JWT auth, even when the chat
	// routes are open. Without a verifier there is no way to protect minting,
	// so the endpoints are not mounted at all.
	if verifier != nil {
		adminAuth := auth.Middleware(verifier)
		mux.Handle("/api/mcp/tokens", adminAuth(http.HandlerFunc(g.handleMCPTokenCreate)))
		mux.Handle("/api/mcp/tokens/", adminAuth(http.HandlerFunc(g.handleMCPTokenRevoke)))
	}

	g.mcpServer.RegisterRoutes(mux)
}

// Registry exposes the tool registry, used by the stdio transport binary.
func (g *Gateway) Registry() *tools.Registry {
	return g.registry
}

// TokenStore exposes the MCP token store for token administration.
func (g *Gateway) TokenStore() *mcp.TokenStore {
	return g.mcpTokens
}

// Run starts the HTTP server and the cleanup scheduler, blocking until the
// context is canceled or the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", g.config.Server.HTTPAddr, err)
	}

	g.scheduler.Start()

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the run context is already
// canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server and releases every component.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.scheduler.Stop()
	g.channels.Close()
	errs = appendCloseError(errs, "transcript close", g.transcript.Close())
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
