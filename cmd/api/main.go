// Package main is the entry point for the relay server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-relay/internal/config"
	"github.com/capitalize-ai/chat-relay/internal/gateway"
	"github.com/capitalize-ai/chat-relay/internal/handler"
	"github.com/capitalize-ai/chat-relay/internal/llm"
	"github.com/capitalize-ai/chat-relay/internal/middleware"
	"github.com/capitalize-ai/chat-relay/internal/service"
	"github.com/capitalize-ai/chat-relay/internal/tools"
	"github.com/capitalize-ai/chat-relay/pkg/logger"
	"github.com/capitalize-ai/chat-relay/pkg/tracing"
)

const serviceName = "chat-relay"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewForEnv(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting relay server",
		zap.String("storage", cfg.StorageBackend),
		zap.String("backend", cfg.Backend),
		zap.String("describer", cfg.Describer),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, serviceName, cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	// Storage
	stores, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open storage", zap.Error(err))
		os.Exit(1)
	}
	defer stores.Close()

	// Generative backend and media describer
	backend, err := newBackend(cfg)
	if err != nil {
		log.Error("failed to create backend", zap.Error(err))
		os.Exit(1)
	}
	describer, err := newDescriber(cfg)
	if err != nil {
		log.Warn("media description disabled", zap.Error(err))
	}

	// Messaging gateway
	wa, err := gateway.NewClient(cfg.WhapiURL, cfg.WhapiToken, nil, log)
	if err != nil {
		log.Error("failed to create gateway client", zap.Error(err))
		os.Exit(1)
	}

	// Initialize services
	engine := service.NewEngine(service.Dependencies{
		Conversations: stores.Conversations,
		History:       stores.History,
		Registry:      tools.NewRegistry(stores.Reminders),
		Backend:       llm.Instrumented(backend, cfg.BackendTimeout),
		Messenger:     wa,
		Participants:  service.NewParticipantCache(wa, cfg.ParticipantTTL, cfg.GroupDefaultParticipants, log),
		Classifier:    service.NewClassifier(cfg.SilencePhrases, cfg.PausePhrases),
	}, service.EngineConfig{
		AssistantName: cfg.AssistantName,
		MentionToken:  cfg.MentionToken,
		SelfMentions:  cfg.SelfMentions,
		ResumePhrases: cfg.ResumePhrases,
		PauseReaction: cfg.PauseReaction,
		PauseText:     cfg.PauseText,
		HistoryLimit:  cfg.HistoryLimit,
		MaxToolRounds: cfg.MaxToolRounds,
		Prompts: service.Prompts{
			Direct:   cfg.DirectPrompt,
			Group:    cfg.GroupPrompt,
			Paused:   cfg.PausedPrompt,
			Greeting: cfg.GreetingPrompt,
		},
	}, log)

	dispatcher := service.NewDispatcher(engine, service.NewContentResolver(describer), cfg.EventTimeout, log)
	conversationSvc := service.NewConversationService(stores.Conversations, stores.History, engine, log)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(stores.Checks)
	messageHandler := handler.NewMessageHandler(dispatcher, log)
	conversationHandler := handler.NewConversationHandler(conversationSvc, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Gateway webhook
	r.With(middleware.RateLimit(cfg.RateLimitRequests*10, cfg.RateLimitWindow)).
		Post("/whapi", messageHandler.Webhook)

	// Debug surface
	r.Route("/debug", func(r chi.Router) {
		r.Use(middleware.CORS(cfg.CORSOrigins))
		r.Use(middleware.Auth(cfg.DebugJWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Get("/conversations", conversationHandler.List)
		r.Route("/conversations/{id}", func(r chi.Router) {
			r.Get("/", conversationHandler.Timeline)
			r.With(middleware.RequireScope(cfg.DebugJWTSecret, middleware.ScopeReplay)).
				Post("/replay", conversationHandler.Replay)
		})
	})

	if cfg.DebugJWTSecret == "" {
		log.Warn("debug surface is unauthenticated, set DEBUG_JWT_SECRET to protect it")
	}

	// Periodic storage stats
	if stores.Stats != nil {
		go recordStats(ctx, stores.Stats, log)
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			stop()
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		log.Warn("queued events canceled", zap.Error(err))
	}

	log.Info("server stopped")
}

func recordStats(ctx context.Context, stats func(context.Context) error, log *logger.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := stats(ctx); err != nil {
				log.Debug("storage stats failed", zap.Error(err))
			}
		}
	}
}
