package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/custodia-labs/docsync-core/internal/core/ports/driven"
	"github.com/custodia-labs/docsync-core/internal/core/ports/driving"
)

// Pinger is a simple health check interface
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	router     *http.ServeMux
	version    string
	logger     *slog.Logger

	// Services
	syncOrchestrator driving.SyncOrchestrator
	subscriptions    driving.SubscriptionManager
	documents        driving.DocumentService

	// Infrastructure
	tokens    driven.TokenProvider
	taskQueue driven.TaskQueue
	db        Pinger // document store health check
	blobs     Pinger // blob store health check (optional)

	jwtSecret string
}

// Config holds server configuration
type Config struct {
	Host      string
	Port      int
	Version   string
	JWTSecret string
	Logger    *slog.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Host:    "0.0.0.0",
		Port:    8080,
		Version: "dev",
	}
}

// NewServer creates a new HTTP server
func NewServer(
	cfg Config,
	syncOrchestrator driving.SyncOrchestrator,
	subscriptions driving.SubscriptionManager,
	documents driving.DocumentService,
	tokens driven.TokenProvider,
	taskQueue driven.TaskQueue,
	db Pinger,
	blobs Pinger, // can be nil
) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		router:           http.NewServeMux(),
		version:          cfg.Version,
		logger:           logger,
		syncOrchestrator: syncOrchestrator,
		subscriptions:    subscriptions,
		documents:        documents,
		tokens:           tokens,
		taskQueue:        taskQueue,
		db:               db,
		blobs:            blobs,
		jwtSecret:        cfg.JWTSecret,
	}

	logging := NewLoggingMiddleware(logger)
	recovery := NewRecoveryMiddleware(logger)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      recovery.Handler(logging.Handler(s.router)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	authMiddleware := NewAuthMiddleware(s.jwtSecret)

	// Health endpoints (no auth)
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /version", s.handleVersion)

	// Sync endpoints
	s.router.Handle("POST /api/v1/connections/{id}/sync",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleStartSync)))
	s.router.Handle("GET /api/v1/connections/{id}/sync-status",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleSyncStatus)))

	// Document endpoints
	s.router.Handle("GET /api/v1/connections/{id}/documents",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleListDocuments)))
	s.router.Handle("GET /api/v1/connections/{id}/documents/{docId}",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleGetDocument)))
	s.router.Handle("GET /api/v1/documents/subscribed",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleListSubscribed)))

	// Subscription endpoint
	s.router.Handle("PATCH /api/v1/connections/{id}/documents/subscription",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleSetSubscription)))

	// Connection teardown
	s.router.Handle("DELETE /api/v1/connections/{id}",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleDisconnect)))

	// Webhooks from the integration platform (validated by schema, not JWT)
	s.router.HandleFunc("POST /api/v1/webhooks/on-create", s.handleDocumentCreated)
	s.router.HandleFunc("POST /api/v1/webhooks/on-update", s.handleDocumentUpdated)
	s.router.HandleFunc("POST /api/v1/webhooks/on-delete", s.handleDocumentDeleted)
	s.router.HandleFunc("POST /api/v1/webhooks/notification", s.handleFlowNotification)
}

// Start starts the HTTP server with graceful shutdown
func (s *Server) Start() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		s.logger.Info("starting server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-stop
	s.logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// Stop stops the server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
