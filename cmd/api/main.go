package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/mandate-engine/internal/config"
	"github.com/kursadbilgin/mandate-engine/internal/handler"
	"github.com/kursadbilgin/mandate-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/mandate-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/mandate-engine/internal/infra/redis"
	"github.com/kursadbilgin/mandate-engine/internal/observability"
	"github.com/kursadbilgin/mandate-engine/internal/provider"
	"github.com/kursadbilgin/mandate-engine/internal/queue"
	"github.com/kursadbilgin/mandate-engine/internal/repository"
	"github.com/kursadbilgin/mandate-engine/internal/service"
	"github.com/kursadbilgin/mandate-engine/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	shutdownTimeout    = 10 * time.Second
	markerPurgeEvery   = 5 * time.Minute
	startupTimeout     = 20 * time.Second
	defaultMandateName = "UPI AutoPay Mandate"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startCtx, cancelStart := context.WithTimeout(ctx, startupTimeout)
	defer cancelStart()

	metrics := observability.NewMetrics()

	rdb, err := infraredis.NewRedis(startCtx, cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	markers, sqlDB, err := newMarkerStore(startCtx, cfg, rdb, logger)
	if err != nil {
		logger.Fatal("marker store initialization failed", zap.Error(err))
	}
	if sqlDB != nil {
		defer sqlDB.Close()
	}

	var (
		publisher *queue.RabbitMQPublisher
		broker    handler.BrokerStatus
		requests  handler.ResolveRequestPublisher
	)
	if cfg.RabbitMQURL != "" {
		rabbit, err := queue.NewRabbitMQ(startCtx, cfg.RabbitMQURL)
		if err != nil {
			logger.Fatal("rabbitmq initialization failed", zap.Error(err))
		}
		publisher = queue.NewRabbitMQPublisher(rabbit)
		defer publisher.Close()
		broker = rabbit
		requests = publisher
	}

	resolver, err := newResolver(cfg, rdb, cfg.Deadline(), logger)
	if err != nil {
		logger.Fatal("resolver initialization failed", zap.Error(err))
	}
	resolver.SetMetrics(metrics)

	guard, err := infraredis.NewRedisSessionGuard(rdb, cfg.GuardTTL())
	if err != nil {
		logger.Fatal("session guard initialization failed", zap.Error(err))
	}

	handoff, err := service.NewHandoff(resolver, markers, guard, service.HandoffConfig{Dwell: cfg.ResultDwell()}, logger)
	if err != nil {
		logger.Fatal("handoff initialization failed", zap.Error(err))
	}
	handoff.SetMetrics(metrics)
	if publisher != nil {
		handoff.SetOutcomeSink(publisher)
	}

	accounts, err := newAccountFetcher(cfg)
	if err != nil {
		logger.Fatal("account provider initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		AppName:      "mandate-engine",
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, handler.HealthDeps{SQLDB: sqlDB, Redis: rdb, Broker: broker})
	handler.RegisterMetricsRoute(app, metrics.Handler())
	if err := handler.RegisterAccountRoutes(app, accounts); err != nil {
		logger.Fatal("account routes registration failed", zap.Error(err))
	}
	if err := handler.RegisterMandateRoutes(app, handoff, requests, handler.MandateLinkConfig{
		PayeeVPA:     cfg.PayeeVPA,
		PayeeName:    cfg.PayeeName,
		MerchantCode: cfg.MerchantCode,
		MandateName:  defaultMandateName,
	}); err != nil {
		logger.Fatal("mandate routes registration failed", zap.Error(err))
	}

	if purger, ok := markers.(*repository.GormMarkerRepo); ok {
		go purgeExpiredMarkers(ctx, purger, logger)
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down api")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.Error("api shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("mandate-engine api started",
		zap.Int("port", cfg.APIPort),
		zap.String("markerBackend", cfg.MarkerBackend),
		zap.Bool("outcomeQueue", publisher != nil),
	)

	if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
		logger.Fatal("api server failed", zap.Error(err))
	}
}

func newMarkerStore(
	ctx context.Context,
	cfg *config.Config,
	rdb *redis.Client,
	logger *zap.Logger,
) (repository.MarkerStore, *sql.DB, error) {
	if cfg.MarkerBackend != config.MarkerBackendPostgres {
		store, err := infraredis.NewRedisMarkerStore(rdb, cfg.MarkerTTL())
		return store, nil, err
	}

	db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, nil, err
	}
	if err := migrations.Migrate(db); err != nil {
		return nil, nil, fmt.Errorf("database migrations failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("postgres underlying db init failed: %w", err)
	}

	logger.Info("using postgres marker store")
	return repository.NewGormMarkerRepo(db, cfg.MarkerTTL()), sqlDB, nil
}

func newResolver(cfg *config.Config, rdb *redis.Client, deadline time.Duration, logger *zap.Logger) (*service.Resolver, error) {
	client, err := provider.NewStatusClient(provider.StatusClientConfig{
		BaseURL:        cfg.StatusBaseURL,
		ClientID:       cfg.StatusClientID,
		ClientSecret:   cfg.StatusClientSecret,
		ConnectTimeout: cfg.ConnectTimeout(),
		RequestTimeout: cfg.RequestTimeout(),
		ConnectRetries: cfg.ConnectRetries,
		RetryTimeouts:  cfg.RetryOnTimeout,
	})
	if err != nil {
		return nil, err
	}

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		return nil, err
	}

	policy := service.Policy{
		MaxAttempts:   cfg.MaxAttempts,
		Deadline:      deadline,
		Stabilization: cfg.Stabilization(),
		Backoff:       service.NewBackoffPolicy(cfg.RateLimitCooldown(), cfg.DNSRetryStep(), cfg.RetryStep()),
	}

	return service.NewResolver(provider.NewThrottledFetcher(client, limiter, logger), policy, logger)
}

func newAccountFetcher(cfg *config.Config) (provider.AccountFetcher, error) {
	if cfg.AccountBaseURL == "" {
		return provider.NewDemoAccountProvider(), nil
	}
	return provider.NewAccountClient(provider.AccountClientConfig{
		BaseURL:      cfg.AccountBaseURL,
		ClientID:     cfg.StatusClientID,
		ClientSecret: cfg.StatusClientSecret,
		ConsumerURN:  cfg.AccountConsumerURN,
		Timeout:      cfg.RequestTimeout(),
	})
}

func purgeExpiredMarkers(ctx context.Context, repo *repository.GormMarkerRepo, logger *zap.Logger) {
	ticker := time.NewTicker(markerPurgeEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := repo.PurgeExpired(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("failed to purge expired markers", zap.Error(err))
				continue
			}
			if purged > 0 {
				logger.Info("purged expired markers", zap.Int64("count", purged))
			}
		}
	}
}
