package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/reminder-engine/internal/audit"
	"github.com/kursadbilgin/reminder-engine/internal/broker"
	"github.com/kursadbilgin/reminder-engine/internal/config"
	"github.com/kursadbilgin/reminder-engine/internal/handler"
	"github.com/kursadbilgin/reminder-engine/internal/infra/postgresql"
	infraredis "github.com/kursadbilgin/reminder-engine/internal/infra/redis"
	"github.com/kursadbilgin/reminder-engine/internal/observability"
	"github.com/kursadbilgin/reminder-engine/internal/provider"
	"github.com/kursadbilgin/reminder-engine/internal/queue"
	"github.com/kursadbilgin/reminder-engine/internal/repository"
	"github.com/kursadbilgin/reminder-engine/internal/service"
	"github.com/kursadbilgin/reminder-engine/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 15 * time.Second
	reapLimit       = 100
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "worker")
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("worker exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Migrations are owned by the api process.
	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, logger)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	metrics := observability.NewMetrics()

	var publisher audit.Publisher
	if cfg.RabbitMQURL != "" {
		rabbit, err := broker.NewRabbitMQ(cfg.RabbitMQURL)
		if err != nil {
			return fmt.Errorf("rabbitmq initialization failed: %w", err)
		}
		auditPublisher := broker.NewAuditPublisher(rabbit)
		defer auditPublisher.Close()
		publisher = auditPublisher
	}

	recorder, err := audit.NewRecorder(repository.NewGormAuditRepo(db), publisher, logger)
	if err != nil {
		return err
	}

	jobs, err := queue.NewRedisJobQueue(rdb, queue.RedisOptions{
		Name:          cfg.QueueName,
		LeaseTimeout:  cfg.QueueLeaseTimeout,
		KeepCompleted: cfg.QueueKeepCompleted,
		KeepFailed:    cfg.QueueKeepFailed,
		Retry:         queue.DefaultRetryPolicy(),
	})
	if err != nil {
		return err
	}

	throttle, err := infraredis.NewSendThrottle(rdb, cfg.QueueName, cfg.RateLimitPerSec)
	if err != nil {
		return err
	}

	var gateway provider.DeliveryGateway
	if cfg.EmailDeliveryEnabled() {
		gateway, err = provider.NewResendGateway(provider.ResendConfig{
			APIKey:   cfg.ResendAPIKey,
			Endpoint: cfg.EmailAPIURL,
			From:     cfg.EmailFrom,
		})
		if err != nil {
			return err
		}
	} else {
		logger.Warn("email delivery disabled, reminders will be skipped")
	}

	ledger := repository.NewGormNotificationLedger(db)

	worker, err := service.NewReminderWorker(service.ReminderWorkerDeps{
		Jobs:    jobs,
		Events:  repository.NewGormEventRepo(db),
		Users:   repository.NewGormUserRepo(db),
		Ledger:  ledger,
		Gateway: gateway,
		Limiter: throttle,
		Audit:   recorder,
	}, service.ReminderWorkerConfig{
		Concurrency:  cfg.WorkerConcurrency,
		PollInterval: cfg.WorkerPollInterval,
		JobTimeout:   cfg.QueueLeaseTimeout / 2,
		EmailEnabled: cfg.EmailDeliveryEnabled(),
	}, logger)
	if err != nil {
		return err
	}
	worker.SetMetrics(metrics)

	reaper, err := service.NewLeaseReaper(jobs, ledger, recorder, cfg.QueueLeaseTimeout/4, reapLimit, logger)
	if err != nil {
		return err
	}
	reaper.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, handler.PostgresCheck(sqlDB), handler.RedisCheck(rdb))

	logger.Info("reminder-engine worker started",
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.Int("metricsPort", cfg.WorkerMetricsPort),
	)

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Start(groupCtx)
	})
	g.Go(func() error {
		return reaper.Start(groupCtx)
	})
	g.Go(func() error {
		if err := app.Listen(fmt.Sprintf(":%d", cfg.WorkerMetricsPort)); err != nil {
			return fmt.Errorf("metrics server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down worker")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	return g.Wait()
}
