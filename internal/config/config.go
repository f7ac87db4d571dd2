package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN        string        `env:"DATABASE_DSN,required=true"`
	RedisURL           string        `env:"REDIS_URL,required=true"`
	RabbitMQURL        string        `env:"RABBITMQ_URL"`
	RemindersEnabled   bool          `env:"REMINDERS_ENABLED,default=true"`
	EmailEnabled       bool          `env:"EMAIL_ENABLED,default=true"`
	ResendAPIKey       string        `env:"RESEND_API_KEY"`
	EmailAPIURL        string        `env:"EMAIL_API_URL,default=https://api.resend.com/emails"`
	EmailFrom          string        `env:"EMAIL_FROM,default=Reminders <no-reply@example.com>"`
	WorkerConcurrency  int           `env:"WORKER_CONCURRENCY,default=5"`
	WorkerPollInterval time.Duration `env:"WORKER_POLL_INTERVAL,default=1s"`
	QueueName          string        `env:"QUEUE_NAME,default=reminders"`
	QueueLeaseTimeout  time.Duration `env:"QUEUE_LEASE_TIMEOUT,default=2m"`
	QueueKeepCompleted int           `env:"QUEUE_KEEP_COMPLETED,default=1000"`
	QueueKeepFailed    int           `env:"QUEUE_KEEP_FAILED,default=5000"`
	RateLimitPerSec    int           `env:"RATE_LIMIT_PER_SEC,default=10"`
	ScheduleBuffer     int           `env:"SCHEDULE_BUFFER,default=256"`
	DefaultTimezone    string        `env:"DEFAULT_TIMEZONE,default=UTC"`
	APIPort            int           `env:"API_PORT,default=8080"`
	WorkerMetricsPort  int           `env:"WORKER_METRICS_PORT,default=9091"`
	LogLevel           string        `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if _, err := time.LoadLocation(cfg.DefaultTimezone); err != nil {
		return nil, fmt.Errorf("failed to load config: invalid DEFAULT_TIMEZONE %q: %w", cfg.DefaultTimezone, err)
	}
	return &cfg, nil
}

// EmailDeliveryEnabled reports whether outbound e-mail can be attempted.
func (c *Config) EmailDeliveryEnabled() bool {
	return c.EmailEnabled && c.ResendAPIKey != ""
}
