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
	"github.com/kursadbilgin/reminder-engine/internal/infra/postgresql/migrations"
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

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "api")
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, logger)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
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

	events := repository.NewGormEventRepo(db)
	users := repository.NewGormUserRepo(db)
	ledger := repository.NewGormNotificationLedger(db)

	scheduler, err := service.NewReminderScheduler(jobs, cfg.RemindersEnabled, logger)
	if err != nil {
		return err
	}
	scheduler.SetMetrics(metrics)

	dispatcher, err := service.NewScheduleDispatcher(scheduler, events, recorder, cfg.ScheduleBuffer, logger)
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
		logger.Warn("email delivery disabled, confirmations will be skipped")
	}

	confirmations, err := service.NewConfirmationService(ledger, gateway, recorder, cfg.EmailDeliveryEnabled(), logger)
	if err != nil {
		return err
	}
	confirmations.SetMetrics(metrics)

	eventService, err := service.NewEventService(events, users, ledger, confirmations, dispatcher, recorder, cfg.DefaultTimezone, logger)
	if err != nil {
		return err
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	app.Use(transport.RequestID(), transport.RequestContext(), metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, handler.PostgresCheck(sqlDB), handler.RedisCheck(rdb))
	if err := handler.RegisterEventRoutes(app, eventService, jobs); err != nil {
		return err
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dispatcher.Start(groupCtx)
	})
	g.Go(func() error {
		logger.Info("reminder-engine api started", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down api")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	return g.Wait()
}
