// Package main provides rtmd, the RTM engine's long-lived daemon: it
// serves the HTTP API that rtmctl and tracker webhooks talk to, and owns
// the Store's single database connection pool.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gonogo/rtm/internal/api"
	"github.com/gonogo/rtm/internal/api/middleware"
	"github.com/gonogo/rtm/internal/config"
	"github.com/gonogo/rtm/internal/report"
	"github.com/gonogo/rtm/internal/scanner"
	"github.com/gonogo/rtm/internal/store"
	"github.com/gonogo/rtm/internal/tracker"
)

const (
	version = "1.0.0-dev"
	name    = "rtmd"

	defaultTrackerTimeout = 10 * time.Second
)

var errBootstrapKeyMalformed = errors.New("RTM_BOOTSTRAP_API_KEY must be in \"principal:key\" format")

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("starting rtmd", slog.String("version", version))

	dbConfig := store.LoadConfig()
	if err := dbConfig.Validate(); err != nil {
		logger.Error("invalid database configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	conn, err := store.NewConnection(dbConfig)
	if err != nil {
		logger.Error("failed to connect to database",
			slog.String("database", dbConfig.MaskDatabaseURL()),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	notifier := store.NewNotifier()
	pgStore := store.NewPostgresStore(conn, notifier, logger)

	engineConfig, err := config.LoadEngineConfig(config.GetEnvStr("RTM_ENGINE_CONFIG_PATH", ""))
	if err != nil {
		logger.Error("failed to load engine configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	engine := report.New(pgStore, notifier, engineConfig, logger)

	scn := scanner.New(pgStore, logger, scanner.Config{
		ExcludeDirs: config.ParseCommaSeparatedList(
			config.GetEnvStr("RTM_SCAN_EXCLUDE_DIRS", "vendor,node_modules,.git"),
		),
		Concurrency: config.GetEnvInt("RTM_SCAN_CONCURRENCY", 0),
	})

	sync := newSynchronizer(pgStore, engineConfig, logger)

	apiKeyStore := store.NewInMemoryAPIKeyStore()

	if err := bootstrapAPIKey(apiKeyStore, logger); err != nil {
		logger.Error("failed to bootstrap API key", slog.String("error", err.Error()))
		os.Exit(1)
	}

	rateLimiter := middleware.NewInMemoryRateLimiter(middleware.LoadConfig())
	defer rateLimiter.Close()

	server := api.NewServer(&serverConfig, apiKeyStore, rateLimiter, pgStore, pgStore, engine, scn, sync)

	if err := server.Start(); err != nil {
		logger.Error("server failed to start", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("rtmd stopped")
}

// newSynchronizer wires the Tracker Synchronizer when RTM_TRACKER_BASE_URL
// is configured; returns nil otherwise, leaving POST /api/v1/sync disabled.
func newSynchronizer(st *store.PostgresStore, engineConfig config.EngineConfig, logger *slog.Logger) *tracker.Synchronizer {
	baseURL := config.GetEnvStr("RTM_TRACKER_BASE_URL", "")
	if baseURL == "" {
		return nil
	}

	client := tracker.NewHTTPClient(tracker.HTTPClientConfig{
		BaseURL:           baseURL,
		AuthToken:         config.GetEnvStr("RTM_TRACKER_AUTH_TOKEN", ""),
		RequestsPerSecond: float64(config.GetEnvInt("RTM_TRACKER_RPS", 5)),
		Burst:             config.GetEnvInt("RTM_TRACKER_BURST", 10),
		Timeout:           config.GetEnvDuration("RTM_TRACKER_TIMEOUT", defaultTrackerTimeout),
	})

	return tracker.New(client, st, engineConfig, logger)
}

// bootstrapAPIKey seeds a single administrative API key from
// RTM_BOOTSTRAP_API_KEY (format "principal:key") so a freshly started
// daemon has at least one working credential. No-op if unset.
func bootstrapAPIKey(keys store.APIKeyStore, logger *slog.Logger) error {
	raw := config.GetEnvStr("RTM_BOOTSTRAP_API_KEY", "")
	if raw == "" {
		logger.Warn("RTM_BOOTSTRAP_API_KEY not set - no API key seeded, authentication will reject every caller")

		return nil
	}

	principal, key, ok := strings.Cut(raw, ":")
	if !ok || principal == "" || key == "" {
		return errBootstrapKeyMalformed
	}

	return keys.Add(context.Background(), &store.APIKey{
		ID:        uuid.New().String(),
		Key:       key, // pragma: allowlist secret
		Principal: principal,
		Active:    true,
	})
}
