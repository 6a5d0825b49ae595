package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/storely/messaging-api/internal/config"
	"github.com/storely/messaging-api/internal/repository/postgres"
	"github.com/storely/messaging-api/pkg/logger"
	"github.com/storely/messaging-api/pkg/messaging/redis"
	"github.com/storely/messaging-api/pkg/metrics"
	"github.com/storely/messaging-api/pkg/worker"
)

// workerEnv holds worker-only settings read from WORKER_* environment
// variables. Shared settings (database, redis, outbox defaults) come from
// the regular config file; batch size and poll interval can be overridden
// per deployment without touching it.
type workerEnv struct {
	HealthPort      int           `envconfig:"HEALTH_PORT" default:"8081"`
	BatchSize       int           `envconfig:"BATCH_SIZE"`
	PollInterval    time.Duration `envconfig:"POLL_INTERVAL"`
	Retention       time.Duration `envconfig:"RETENTION" default:"168h"`
	CleanupInterval time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1h"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

func main() {
	// Local development reads .env; deployments set real env vars.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	var env workerEnv
	if err := envconfig.Process("worker", &env); err != nil {
		log.Fatal().Err(err).Msg("failed to parse worker environment")
	}

	appLogger := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
	}).WithFields(map[string]interface{}{"component": "outbox-worker"})

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		appLogger.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	brokerLog := log.With().Str("component", "redis-broker").Logger()
	broker, err := redis.NewRedisBroker(cfg.Redis.ToBrokerConfig(), &brokerLog)
	if err != nil {
		appLogger.Fatal(err, "failed to connect to redis")
	}
	defer broker.Close()

	workerCfg := cfg.Outbox.ToWorkerConfig()
	if env.BatchSize > 0 {
		workerCfg.BatchSize = env.BatchSize
	}
	if env.PollInterval > 0 {
		workerCfg.PollInterval = env.PollInterval
	}

	clock := clockwork.NewRealClock()
	outboxRepo := postgres.NewOutboxRepository(db)

	processor := worker.NewOutboxProcessor(
		outboxRepo,
		broker,
		workerCfg,
		appLogger,
		metrics.NewMetrics("messaging", "worker"),
		clock,
	)
	cleaner := worker.NewOutboxCleaner(outboxRepo, env.Retention, env.CleanupInterval, appLogger, clock)

	healthSrv := startHealthServer(env.HealthPort, db, broker, appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go cleaner.Start(ctx)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		appLogger.Info("shutting down worker")
		cancel()
	}()

	appLogger.Info("outbox worker started",
		"batch_size", workerCfg.BatchSize,
		"poll_interval", workerCfg.PollInterval.String(),
	)
	processor.Start(ctx)

	shutdownCtx, stop := context.WithTimeout(context.Background(), env.ShutdownTimeout)
	defer stop()
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(err, "health server shutdown failed")
	}
}

// startHealthServer exposes liveness, readiness and metrics for the worker
// process on its own port. Readiness requires both the database and the
// broker, since the worker is useless without either.
func startHealthServer(port int, db *sqlx.DB, broker *redis.RedisBroker, appLogger *logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		if err := broker.Ping(r.Context()); err != nil {
			http.Error(w, "broker unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal(err, "health server failed")
		}
	}()
	return srv
}
