// Concierge - conversation orchestration server for customer support.
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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/careline/concierge/internal/api"
	"github.com/careline/concierge/internal/config"
	"github.com/careline/concierge/internal/directory"
	"github.com/careline/concierge/internal/handoff"
	"github.com/careline/concierge/internal/identity"
	"github.com/careline/concierge/internal/llm"
	"github.com/careline/concierge/internal/middleware"
	"github.com/careline/concierge/internal/orchestrator"
	"github.com/careline/concierge/internal/store"
	"github.com/careline/concierge/internal/verify"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "store", cfg.StoreDriver, "dev", cfg.IsDevelopment())

	st, err := openStore(cfg)
	if err != nil {
		slog.Error("Failed to initialize session store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("Failed to close session store", "error", closeErr)
		}
	}()

	if err := st.Ping(context.Background()); err != nil {
		slog.Error("Session store health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Session store connected")

	client, err := llm.NewClient(llm.Config{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
	})
	if err != nil {
		slog.Error("Failed to initialize model client", "error", err)
		os.Exit(1)
	}

	book := directory.SeedDemo()
	engine := verify.NewEngine(book, llm.NewRouter(client), nil)

	var sink orchestrator.HandoffSink = handoff.NoopSink{}
	if cfg.Handoff.Enabled {
		fileSink, err := handoff.NewFileSink(handoff.Config{
			Enabled:       cfg.Handoff.Enabled,
			Dir:           cfg.Handoff.Dir,
			GlobalEnabled: cfg.Handoff.GlobalEnabled,
			GlobalPath:    cfg.Handoff.GlobalPath,
			QueueSize:     cfg.Handoff.QueueSize,
		}, logger)
		if err != nil {
			slog.Error("Failed to initialize handoff sink", "error", err)
			os.Exit(1)
		}
		defer func() { _ = fileSink.Close() }()
		sink = fileSink
	}

	hub := api.NewHub()
	orch := orchestrator.New(st, engine, orchestrator.Collaborators{
		Classifier: llm.NewClassifier(client),
		FAQ:        llm.NewFAQResponder(client, nil),
		Account:    llm.NewAccountResponder(client, book),
		Summarizer: llm.NewSummarizer(client),
		Approvals:  api.NewApprovalHandler(hub, llm.NewApprovalInterpreter(client)),
	}, sink, orchestrator.Options{
		ConfidenceThreshold:   cfg.ConfidenceThreshold,
		AuthSessionTTL:        cfg.AuthSessionTTL,
		MaxApprovalIterations: cfg.MaxApprovalIterations,
	})

	limiter := api.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)
	restHandler := api.NewHandler(orch, st, limiter, cfg.TurnTimeout)
	wsHandler := api.NewWSHandler(orch, hub, limiter, cfg.TurnTimeout, cfg.IsDevelopment())

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	restHandler.RegisterRoutes(r)
	r.Get("/ws/chat", wsHandler.ServeHTTP)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // websocket turns can outlive any fixed write window
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store.StartTTLWorker(ctx, st, cfg.SessionTTL)

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Graceful shutdown failed", "error", err)
	}
	slog.Info("Server stopped")
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		return store.NewMemoryStore(), nil
	case config.DriverSQLite:
		return store.NewSQLite(cfg.DBPath)
	case config.DriverRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return store.NewRedis(client, cfg.SessionTTL), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
