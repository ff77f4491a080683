package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/mandate-engine/internal/config"
	"github.com/kursadbilgin/mandate-engine/internal/handler"
	infraredis "github.com/kursadbilgin/mandate-engine/internal/infra/redis"
	"github.com/kursadbilgin/mandate-engine/internal/observability"
	"github.com/kursadbilgin/mandate-engine/internal/provider"
	"github.com/kursadbilgin/mandate-engine/internal/queue"
	"github.com/kursadbilgin/mandate-engine/internal/service"
	"github.com/kursadbilgin/mandate-engine/internal/transport"
	"go.uber.org/zap"
)

const (
	startupTimeout  = 20 * time.Second
	shutdownTimeout = 5 * time.Second
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

	if cfg.RabbitMQURL == "" {
		logger.Fatal("RABBITMQ_URL is required for the worker")
	}

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

	rabbit, err := queue.NewRabbitMQ(startCtx, cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer rabbit.Close()

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
		logger.Fatal("status client initialization failed", zap.Error(err))
	}

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	// background sessions get the longer deadline; attempts and backoff stay the same
	resolver, err := service.NewResolver(
		provider.NewThrottledFetcher(client, limiter, logger),
		service.Policy{
			MaxAttempts:   cfg.MaxAttempts,
			Deadline:      cfg.BackgroundDeadline(),
			Stabilization: cfg.Stabilization(),
			Backoff:       service.NewBackoffPolicy(cfg.RateLimitCooldown(), cfg.DNSRetryStep(), cfg.RetryStep()),
		},
		logger,
	)
	if err != nil {
		logger.Fatal("resolver initialization failed", zap.Error(err))
	}
	resolver.SetMetrics(metrics)

	guard, err := infraredis.NewRedisSessionGuard(rdb, cfg.GuardTTL())
	if err != nil {
		logger.Fatal("session guard initialization failed", zap.Error(err))
	}

	consumer := queue.NewRabbitMQConsumer(rabbit, 1, logger)
	publisher := queue.NewRabbitMQPublisher(rabbit)

	worker, err := service.NewWorkerService(consumer, resolver, guard, publisher, cfg.WorkerConcurrency, logger)
	if err != nil {
		logger.Fatal("worker initialization failed", zap.Error(err))
	}
	worker.SetMetrics(metrics)

	ops := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	handler.RegisterHealthRoutes(ops, handler.HealthDeps{Redis: rdb, Broker: rabbit})
	handler.RegisterMetricsRoute(ops, metrics.Handler())
	go func() {
		if err := ops.Listen(fmt.Sprintf(":%d", cfg.WorkerMetricsPort)); err != nil {
			logger.Error("worker ops server failed", zap.Error(err))
		}
	}()
	defer ops.ShutdownWithTimeout(shutdownTimeout) //nolint:errcheck

	logger.Info("mandate-engine worker started",
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.Duration("deadline", cfg.BackgroundDeadline()),
	)

	if err := worker.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("worker stopped with error", zap.Error(err))
	}

	logger.Info("mandate-engine worker stopped")
}
