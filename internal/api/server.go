// Package api provides the HTTP surface of the daemon: route registration,
// request/response mapping onto the engine packages, and RFC 7807 error
// responses.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gonogo/rtm/internal/api/middleware"
	"github.com/gonogo/rtm/internal/report"
	"github.com/gonogo/rtm/internal/scanner"
	"github.com/gonogo/rtm/internal/store"
	"github.com/gonogo/rtm/internal/tracker"
)

// Server represents the rtmd HTTP API server.
type Server struct {
	httpServer   *http.Server
	logger       *slog.Logger
	config       *ServerConfig
	startTime    time.Time
	apiKeyStore  store.APIKeyStore
	rateLimiter  middleware.RateLimiter
	reportStore  store.ReportStore
	adminStore   store.AdminStore
	engine       *report.Engine
	scanner      *scanner.Scanner         // optional: nil disables POST /api/v1/scan
	synchronizer *tracker.Synchronizer    // optional: nil disables POST /api/v1/sync
}

// NewServer creates a new HTTP server instance with structured logging and middleware stack.
//
// Dependencies are injected explicitly rather than being part of ServerConfig.
// This follows the dependency injection pattern where configuration (what) is
// separated from dependencies (how).
//
// Parameters:
//   - cfg: pure server configuration (ports, timeouts, CORS settings)
//   - apiKeyStore: API key storage implementation (nil disables authentication)
//   - rateLimiter: rate limiter implementation (nil disables rate limiting)
//   - reportStore: read-only query store (REQUIRED - panics if nil)
//   - adminStore: administrative write store (REQUIRED - panics if nil)
//   - engine: the query & report engine built over reportStore (REQUIRED - panics if nil)
//   - scn: source scanner (nil disables POST /api/v1/scan)
//   - sync: tracker synchronizer (nil disables POST /api/v1/sync)
func NewServer(
	cfg *ServerConfig,
	apiKeyStore store.APIKeyStore,
	rateLimiter middleware.RateLimiter,
	reportStore store.ReportStore,
	adminStore store.AdminStore,
	engine *report.Engine,
	scn *scanner.Scanner,
	sync *tracker.Synchronizer,
) *Server {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	if reportStore == nil || adminStore == nil || engine == nil {
		logger.Error("reportStore, adminStore and engine are required - cannot start server without core functionality")
		panic("api: reportStore, adminStore and engine cannot be nil - this indicates a configuration error")
	}

	mux := http.NewServeMux()

	server := &Server{
		logger:       logger,
		config:       cfg,
		apiKeyStore:  apiKeyStore,
		rateLimiter:  rateLimiter,
		reportStore:  reportStore,
		adminStore:   adminStore,
		engine:       engine,
		scanner:      scn,
		synchronizer: sync,
	}

	server.setupRoutes(mux)

	if apiKeyStore != nil { // pragma: allowlist secret
		logger.Info("authentication middleware enabled")
	} else {
		logger.Warn("APIKeyStore not configured - authentication middleware disabled")
	}

	if rateLimiter != nil {
		logger.Info("rate limiting middleware enabled")
	} else {
		logger.Warn("RateLimiter not configured - rate limiting middleware disabled")
	}

	if scn == nil {
		logger.Warn("scanner not configured - POST /api/v1/scan disabled")
	}

	if sync == nil {
		logger.Warn("synchronizer not configured - POST /api/v1/sync disabled")
	}

	// Middleware chain, applied in order (top-to-bottom):
	//   1. CorrelationID - stamp every response with a correlation id
	//   2. Recovery - catch panics in all downstream middleware
	//   3. Auth - identify the calling principal and set CallerContext (optional)
	//   4. RateLimit - block requests before expensive engine work (optional)
	//   5. RequestLogger - log only legitimate requests (not rate-limited spam)
	//   6. CORS - lightweight header manipulation
	handler := middleware.Apply(mux,
		middleware.WithCorrelationID(),
		middleware.WithRecovery(logger),
		middleware.WithAuth(apiKeyStore, logger),
		middleware.WithRateLimit(rateLimiter, logger),
		middleware.WithRequestLogger(logger),
		middleware.WithCORS(cfg.ToCORSConfig()),
	)

	httpServer := &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	server.httpServer = httpServer

	return server
}

// Start starts the HTTP server and blocks until shutdown.
// It handles graceful shutdown on SIGINT and SIGTERM signals.
func (s *Server) Start() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	s.startTime = time.Now()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("starting rtmd API server",
			slog.String("address", s.config.Address()),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server failed to start",
				slog.String("address", s.config.Address()),
				slog.String("error", err.Error()),
			)

			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case sig := <-stop:
		s.logger.Info("received shutdown signal", slog.String("signal", sig.String()))

		return s.shutdown()
	}
}

// shutdown gracefully shuts down the server.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("initiating server shutdown", slog.Duration("shutdown_timeout", s.config.ShutdownTimeout))

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("server shutdown failed",
			slog.String("error", err.Error()),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// Close all dependencies (best-effort - log failures but continue shutdown).
	s.closeDependency("API key store", s.apiKeyStore)
	s.closeDependency("rate limiter", s.rateLimiter)
	s.closeDependency("report store", s.reportStore)
	s.engine.Close()

	s.logger.Info("server shutdown completed successfully")

	return nil
}

// closeDependency attempts to close a server dependency that implements io.Closer.
// Logs the operation and its result. Errors are logged but don't stop shutdown (best-effort).
func (s *Server) closeDependency(name string, dep interface{}) {
	if dep == nil {
		return
	}

	closer, ok := dep.(io.Closer)
	if !ok {
		return
	}

	s.logger.Info("closing " + name)

	if err := closer.Close(); err != nil {
		s.logger.Error("failed to close "+name, slog.String("error", err.Error()))

		return
	}

	s.logger.Info(name + " closed successfully")
}
