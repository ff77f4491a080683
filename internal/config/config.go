package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/kursadbilgin/mandate-engine/internal/domain"
)

const (
	MarkerBackendRedis    = "redis"
	MarkerBackendPostgres = "postgres"
)

type Config struct {
	StatusBaseURL      string `env:"STATUS_BASE_URL,default=https://api.decentro.tech/"`
	StatusClientID     string `env:"STATUS_CLIENT_ID,required=true"`
	StatusClientSecret string `env:"STATUS_CLIENT_SECRET,required=true"`
	AccountBaseURL     string `env:"ACCOUNT_BASE_URL"`
	AccountConsumerURN string `env:"ACCOUNT_CONSUMER_URN"`

	RedisURL      string `env:"REDIS_URL,required=true"`
	MarkerBackend string `env:"MARKER_BACKEND,default=redis"`
	DatabaseDSN   string `env:"DATABASE_DSN"`
	RabbitMQURL   string `env:"RABBITMQ_URL"`

	MaxAttempts          int  `env:"MAX_ATTEMPTS,default=3"`
	DeadlineMillis       int  `env:"DEADLINE_MS,default=5000"`
	BackgroundDeadlineMs int  `env:"BACKGROUND_DEADLINE_MS,default=30000"`
	StabilizationMillis  int  `env:"STABILIZATION_MS,default=1000"`
	RateLimitCooldownMs  int  `env:"RATE_LIMIT_COOLDOWN_MS,default=5000"`
	RetryStepMillis      int  `env:"RETRY_STEP_MS,default=2000"`
	DNSRetryStepMillis   int  `env:"DNS_RETRY_STEP_MS,default=5000"`
	RetryOnTimeout       bool `env:"RETRY_ON_TIMEOUT,default=false"`
	ResultDwellMillis    int  `env:"RESULT_DWELL_MS,default=2000"`
	ConnectRetries       int  `env:"CONNECT_RETRIES,default=2"`
	RateLimitPerSec      int  `env:"RATE_LIMIT_PER_SEC,default=10"`
	GuardTTLMillis       int  `env:"GUARD_TTL_MS,default=60000"`
	MarkerTTLMillis      int  `env:"MARKER_TTL_MS,default=1800000"`

	ConnectTimeoutMillis int `env:"CONNECT_TIMEOUT_MS,default=15000"`
	RequestTimeoutMillis int `env:"REQUEST_TIMEOUT_MS,default=30000"`

	PayeeVPA     string `env:"PAYEE_VPA,default=neowisedemo.decfin@ypbiz"`
	PayeeName    string `env:"PAYEE_NAME,default=Merchant onboarding account"`
	MerchantCode string `env:"MERCHANT_CODE,default=7392"`

	APIPort           int    `env:"API_PORT,default=8080"`
	WorkerConcurrency int    `env:"WORKER_CONCURRENCY,default=4"`
	WorkerMetricsPort int    `env:"WORKER_METRICS_PORT,default=9091"`
	LogLevel          string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	c.MarkerBackend = strings.ToLower(strings.TrimSpace(c.MarkerBackend))

	switch c.MarkerBackend {
	case MarkerBackendRedis:
	case MarkerBackendPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("%w: DATABASE_DSN is required for the postgres marker backend", domain.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown MARKER_BACKEND %q", domain.ErrValidation, c.MarkerBackend)
	}

	if c.MaxAttempts < 1 {
		return fmt.Errorf("%w: MAX_ATTEMPTS must be at least 1", domain.ErrValidation)
	}
	if c.DeadlineMillis <= 0 || c.BackgroundDeadlineMs <= 0 {
		return fmt.Errorf("%w: deadlines must be positive", domain.ErrValidation)
	}
	if c.ConnectRetries < 0 {
		return fmt.Errorf("%w: CONNECT_RETRIES must not be negative", domain.ErrValidation)
	}

	return nil
}

func (c *Config) Deadline() time.Duration           { return millis(c.DeadlineMillis) }
func (c *Config) BackgroundDeadline() time.Duration { return millis(c.BackgroundDeadlineMs) }
func (c *Config) Stabilization() time.Duration      { return millis(c.StabilizationMillis) }
func (c *Config) RateLimitCooldown() time.Duration  { return millis(c.RateLimitCooldownMs) }
func (c *Config) RetryStep() time.Duration          { return millis(c.RetryStepMillis) }
func (c *Config) DNSRetryStep() time.Duration       { return millis(c.DNSRetryStepMillis) }
func (c *Config) ResultDwell() time.Duration        { return millis(c.ResultDwellMillis) }
func (c *Config) GuardTTL() time.Duration           { return millis(c.GuardTTLMillis) }
func (c *Config) MarkerTTL() time.Duration          { return millis(c.MarkerTTLMillis) }
func (c *Config) ConnectTimeout() time.Duration     { return millis(c.ConnectTimeoutMillis) }
func (c *Config) RequestTimeout() time.Duration     { return millis(c.RequestTimeoutMillis) }

func millis(v int) time.Duration {
	if v < 0 {
		return 0
	}
	return time.Duration(v) * time.Millisecond
}
