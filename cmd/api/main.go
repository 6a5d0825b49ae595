package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/storely/messaging-api/internal/config"
	"github.com/storely/messaging-api/internal/handler"
	"github.com/storely/messaging-api/internal/handler/health"
	messagehandler "github.com/storely/messaging-api/internal/handler/message"
	"github.com/storely/messaging-api/internal/handler/webhook"
	"github.com/storely/messaging-api/internal/middleware"
	"github.com/storely/messaging-api/internal/model"
	"github.com/storely/messaging-api/internal/repository/postgres"
	"github.com/storely/messaging-api/internal/router"
	"github.com/storely/messaging-api/internal/sender"
	deliveryService "github.com/storely/messaging-api/internal/service/delivery"
	messageService "github.com/storely/messaging-api/internal/service/message"
	"github.com/storely/messaging-api/pkg/auth"
	"github.com/storely/messaging-api/pkg/logger"
	"github.com/storely/messaging-api/pkg/messaging/redis"
	"github.com/storely/messaging-api/pkg/metrics"
	"github.com/storely/messaging-api/pkg/worker"
)

func main() {
	// Local development reads .env; deployments set real env vars.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
	})

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	clock := clockwork.NewRealClock()
	m := metrics.NewMetrics("messaging", "api")

	messageRepo := postgres.NewMessageRepository(db)
	outboxRepo := postgres.NewOutboxRepository(db)

	senders := map[model.Channel]sender.Sender{
		model.ChannelEmail: sender.NewEmailSender(sender.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}),
		model.ChannelSMS: sender.NewSMSSender(sender.SMSConfig{
			BaseURL: cfg.SMS.BaseURL,
			APIKey:  cfg.SMS.APIKey,
			From:    cfg.SMS.From,
			Timeout: cfg.SMS.Timeout,
		}),
	}

	deliverySvc := deliveryService.NewService(messageRepo, appLogger, clock)
	messageSvc := messageService.NewService(messageRepo, senders, appLogger)

	brokerLog := log.With().Str("component", "redis-broker").Logger()
	broker, err := redis.NewRedisBroker(cfg.Redis.ToBrokerConfig(), &brokerLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}

	tokenSvc := auth.NewTokenService(auth.Config{
		Secret: cfg.JWT.Secret,
		Issuer: cfg.JWT.Issuer,
		TTL:    time.Duration(cfg.JWT.ExpiryHours) * time.Hour,
	})
	authMiddleware := middleware.NewAuthMiddleware(tokenSvc)

	base := handler.NewBaseHandler(outboxRepo, appLogger)
	webhookHandler := webhook.NewHandler(base, deliverySvc, m)
	messageHandler := messagehandler.NewHandler(base, messageSvc, m)
	healthHandler := health.NewHandler(db, broker)

	r := router.NewRouter(authMiddleware, webhookHandler, messageHandler, healthHandler, router.RouterConfig{
		RateLimit:     rate.Limit(cfg.RateLimit.RequestsPerSecond),
		RateBurst:     cfg.RateLimit.Burst,
		CORSConfig:    middleware.DefaultCORSConfig(),
		MetricsPrefix: "messaging_api",
	})
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// The API runs an in-process outbox drain; a dedicated worker can take
	// over under load since batches are claimed with row locks.
	outboxProcessor := worker.NewOutboxProcessor(outboxRepo, broker, cfg.Outbox.ToWorkerConfig(), appLogger, m, clock)
	processorCtx, stopProcessor := context.WithCancel(context.Background())
	go outboxProcessor.Start(processorCtx)

	go func() {
		appLogger.Info("starting messaging API", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server...")

	stopProcessor()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	if err := broker.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close broker")
	}

	log.Info().Msg("server exited properly")
}
