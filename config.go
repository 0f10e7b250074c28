package telemetry

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/pulsekit/telemetry-go/internal/delivery"
	"github.com/pulsekit/telemetry-go/internal/storage"
)

// RetryConfig bounds the delivery client's exponential backoff.
type RetryConfig struct {
	MaxRetries        int           `env:"MAX_RETRIES" envDefault:"3"`
	InitialDelay      time.Duration `env:"INITIAL_DELAY" envDefault:"1s"`
	MaxDelay          time.Duration `env:"MAX_DELAY" envDefault:"10s"`
	BackoffMultiplier float64       `env:"BACKOFF_MULTIPLIER" envDefault:"2"`
}

// StorageConfig selects and configures the persistent key-value backend.
type StorageConfig = storage.Config

// Config is consumed by New. Callers construct it directly or load it
// from TELEMETRY_* environment variables via ConfigFromEnv.
type Config struct {
	// APIKey authenticates against the collector. Required.
	APIKey string `env:"API_KEY"`
	// BaseURL is the collector root, without a trailing slash.
	BaseURL     string `env:"BASE_URL" envDefault:"http://localhost:8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	// Debug raises log verbosity; it never changes behavior.
	Debug bool `env:"DEBUG"`
	// AutoTrackSessions enqueues session lifecycle events automatically.
	AutoTrackSessions bool `env:"AUTO_TRACK_SESSIONS" envDefault:"true"`
	// AutoTrackPageViews is honored by UI bindings, not by this core;
	// the flag is carried so bindings share one Config.
	AutoTrackPageViews bool `env:"AUTO_TRACK_PAGE_VIEWS"`
	// BatchSize triggers an immediate flush once the queue reaches it.
	BatchSize int `env:"BATCH_SIZE" envDefault:"50"`
	// FlushInterval is the periodic flush timer period.
	FlushInterval time.Duration `env:"FLUSH_INTERVAL" envDefault:"10s"`
	// RequestTimeout bounds one delivery attempt.
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`

	Retry   RetryConfig   `envPrefix:"RETRY_"`
	Storage StorageConfig `envPrefix:"STORAGE_"`
}

// ConfigFromEnv loads the configuration from TELEMETRY_* variables.
func ConfigFromEnv() (Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Prefix: "TELEMETRY_"})
	if err != nil {
		return Config{}, fmt.Errorf("parse telemetry config: %w", err)
	}
	return cfg, nil
}

// withDefaults fills zero fields for programmatically built configs.
func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:8080"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 10 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = delivery.DefaultTimeout
	}
	if c.Retry == (RetryConfig{}) {
		p := delivery.DefaultRetryPolicy()
		c.Retry = RetryConfig{
			MaxRetries:        p.MaxRetries,
			InitialDelay:      p.InitialDelay,
			MaxDelay:          p.MaxDelay,
			BackoffMultiplier: p.BackoffMultiplier,
		}
	}
	if c.Storage.Type == "" {
		c.Storage.Type = storage.BackendMemory
	}
	if c.Storage.KeyPrefix == "" {
		c.Storage.KeyPrefix = storage.DefaultKeyPrefix
	}
	if c.Storage.MaxValueBytes <= 0 {
		c.Storage.MaxValueBytes = storage.DefaultMaxValueBytes
	}
	return c
}

func (c RetryConfig) policy() delivery.RetryPolicy {
	return delivery.RetryPolicy{
		MaxRetries:        c.MaxRetries,
		InitialDelay:      c.InitialDelay,
		MaxDelay:          c.MaxDelay,
		BackoffMultiplier: c.BackoffMultiplier,
	}
}
