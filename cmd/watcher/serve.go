package main

import (
	"context"
	"database/sql"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/djlord-it/easy-watcher/internal/analytics"
	"github.com/djlord-it/easy-watcher/internal/config"
	"github.com/djlord-it/easy-watcher/internal/logging"
	"github.com/djlord-it/easy-watcher/internal/metrics"
	"github.com/djlord-it/easy-watcher/internal/storage"
	"github.com/djlord-it/easy-watcher/internal/storage/memory"
	"github.com/djlord-it/easy-watcher/internal/storage/postgres"
	"github.com/djlord-it/easy-watcher/internal/watcher"

	_ "github.com/lib/pq"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduler, the execution engine and the HTTP API",
		Long:  serveUsage,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

const serveUsage = `Start the scheduler, the execution engine and the HTTP API.

Environment Variables:
  HTTP_ADDR                      HTTP server address (default: ":8080")
  LOG_LEVEL                      debug, info, warn or error (default: "info")
  WATCHES_DIR                    Directory of watch definitions (default: "./watches")
  TICK_INTERVAL                  Scheduler tick interval (default: "1s")
  TIME_WARP                      Drive the scheduler on a virtual clock (default: "false")
  EVENTBUS_BUFFER_SIZE           Trigger event buffer (default: "100")
  DRAIN_TIMEOUT                  Engine drain timeout on shutdown (default: "30s")
  HTTP_SHUTDOWN_TIMEOUT          Graceful HTTP shutdown timeout (default: "10s")

  HISTORY_BACKEND                memory or postgres (default: "memory")
  DATABASE_URL                   PostgreSQL connection string (postgres only)
  DB_OP_TIMEOUT                  Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS              Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS              Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME           Max connection lifetime (default: "30m")
  HISTORY_RETRY_ATTEMPTS         History write attempts (default: "5")
  HISTORY_RETRY_INITIAL_BACKOFF  First retry backoff (default: "100ms")
  HISTORY_RETRY_MAX_BACKOFF      Retry backoff cap (default: "5s")

  PROVISION_ENABLED              Pre-create daily history partitions (default: "true")
  PROVISION_INTERVAL             Provisioning interval (default: "1h")
  PROVISION_LOOKAHEAD_DAYS       Days created ahead of today (default: "1")

  METRICS_ENABLED                Enable Prometheus metrics (default: "false")
  METRICS_PATH                   Metrics endpoint path (default: "/metrics")
  METRICS_PORT                   Metrics server port (default: "9090")

  REDIS_ADDR                     Redis address for analytics (optional)
  ANALYTICS_WINDOW               Analytics bucket width (default: "5m")
  ANALYTICS_RETENTION            Analytics key TTL (default: "168h")

  CIRCUIT_BREAKER_THRESHOLD      Webhook failures before opening, 0 disables (default: "5")
  CIRCUIT_BREAKER_COOLDOWN       Open circuit cooldown (default: "2m")

  EMAIL_DEFAULT_ACCOUNT          Email account used when an action names none
  CONFIG_FILE                    YAML file with email.accounts (optional)`

func serve(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return invalidConfig(err)
	}
	defer func() { _ = logger.Sync() }()

	logConfigWarnings(logger, cfg)

	backend, closeBackend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBackend()

	deps := watcher.Deps{Backend: backend}

	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		deps.Metrics = metrics.NewPrometheusSink(prometheus.DefaultRegisterer, logger.Named("metrics"))

		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    ":" + cfg.MetricsPort,
			Handler: metricsMux,
		}
		go listen(logger, "metrics", metricsServer)
		logger.Infow("watcher: metrics enabled", "port", cfg.MetricsPort, "path", cfg.MetricsPath)
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = client.Close() }()
		deps.Analytics = analytics.NewRedisSink(client, logger.Named("analytics")).
			WithWindow(cfg.AnalyticsWindow).
			WithRetention(cfg.AnalyticsRetention)
		logger.Infow("watcher: analytics enabled", "redis", cfg.RedisAddr, "window", cfg.AnalyticsWindow)
	}

	svc, err := watcher.New(cfg, deps, logger)
	if err != nil {
		return invalidConfig(err)
	}
	if _, err := svc.LoadWatches(cfg.WatchesDir); err != nil {
		return invalidConfig(err)
	}

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: svc.Handler(),
	}
	go listen(logger, "http", httpServer)

	if err := svc.Start(ctx); err != nil {
		shutdown(logger, "http", httpServer, cfg)
		return err
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()
	logger.Infow("watcher: shutting down")

	svc.Stop()
	shutdown(logger, "http", httpServer, cfg)
	if metricsServer != nil {
		shutdown(logger, "metrics", metricsServer, cfg)
	}

	logger.Infow("watcher: stopped")
	return nil
}

func listen(logger *zap.SugaredLogger, name string, srv *http.Server) {
	logger.Infow("watcher: server listening", "server", name, "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Errorw("watcher: server error", "server", name, "error", err)
	}
}

func shutdown(logger *zap.SugaredLogger, name string, srv *http.Server, cfg config.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warnw("watcher: server shutdown error", "server", name, "error", err)
	}
}

// openBackend connects the configured history backend. The returned func
// releases it.
func openBackend(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) (storage.Backend, func(), error) {
	if cfg.HistoryBackend != config.BackendPostgres {
		logger.Infow("watcher: using in-memory history")
		return memory.New(), func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open database")
	}
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)

	closeDB := func() { _ = db.Close() }

	backend := postgres.New(db, cfg.DBOpTimeout)
	if err := backend.Ping(ctx); err != nil {
		closeDB()
		return nil, nil, errors.Wrap(err, "connect to database")
	}
	if err := backend.Migrate(ctx); err != nil {
		closeDB()
		return nil, nil, errors.Wrap(err, "migrate database")
	}

	logger.Infow("watcher: postgres history ready",
		"max_open", cfg.DBMaxOpenConns,
		"max_idle", cfg.DBMaxIdleConns,
		"max_lifetime", cfg.DBConnMaxLifetime)
	return backend, closeDB, nil
}
