package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/Popie52/jobscheduler/internal/provider"
)

const (
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverFile     = "file"
)

// Config holds all scheduler configuration
type Config struct {
	// Job store
	StoreDriver        string `env:"STORE_DRIVER" envDefault:"postgres"`
	DatabaseURL        string `env:"DATABASE_URL" envDefault:"postgres://localhost:5432/scheduler?sslmode=disable"`
	DatabaseServiceKey string `env:"DATABASE_SERVICE_KEY"`
	Redis              RedisConfig
	FileStorePath      string `env:"FILE_STORE_PATH"`

	// Completion providers
	LLM LLMConfig

	// Scheduling
	MaxConcurrency  int           `env:"MAX_CONCURRENCY" envDefault:"4"`
	PollIntervalMS  int           `env:"POLL_INTERVAL" envDefault:"5000"`
	MaxRetries      int           `env:"MAX_RETRIES" envDefault:"3"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	HTTPAddr  string `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// LLMConfig describes the cloud provider and the local fallback.
type LLMConfig struct {
	CloudAPIKey   string `env:"LM_CLOUD_API_KEY"`
	CloudProvider string `env:"LM_CLOUD_PROVIDER" envDefault:"gemini"`
	CloudEndpoint string `env:"LM_CLOUD_ENDPOINT" envDefault:"https://generativelanguage.googleapis.com"`
	CloudModel    string `env:"LM_CLOUD_MODEL" envDefault:"gemini-2.0-flash"`
	FallbackURL   string `env:"LM_FALLBACK_URL"`

	Timeout            time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"0s"`
	RateLimitPerMinute int           `env:"PROVIDER_RATE_LIMIT_PER_MINUTE" envDefault:"0"`
}

// Load parses the environment. It does not validate.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// DSN returns DATABASE_URL with the service key set as the password when
// one is configured.
func (c *Config) DSN() (string, error) {
	if c.DatabaseServiceKey == "" {
		return c.DatabaseURL, nil
	}
	u, err := url.Parse(c.DatabaseURL)
	if err != nil {
		return "", fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	user := "postgres"
	if u.User != nil && u.User.Username() != "" {
		user = u.User.Username()
	}
	u.User = url.UserPassword(user, c.DatabaseServiceKey)
	return u.String(), nil
}

// ProviderSpecs lists the configured providers in fallback order: the cloud
// provider when it has a key, then the local server when it has a URL.
func (c *Config) ProviderSpecs() []provider.Spec {
	var specs []provider.Spec
	if c.LLM.CloudAPIKey != "" {
		specs = append(specs, provider.Spec{
			Name:     c.LLM.CloudProvider,
			Kind:     provider.Kind(c.LLM.CloudProvider),
			Endpoint: c.LLM.CloudEndpoint,
			APIKey:   c.LLM.CloudAPIKey,
			Model:    c.LLM.CloudModel,
		})
	}
	if c.LLM.FallbackURL != "" {
		specs = append(specs, provider.Spec{
			Name:     "lm_studio",
			Kind:     provider.KindLocal,
			Endpoint: c.LLM.FallbackURL,
		})
	}
	return specs
}

func (c *Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case DriverPostgres, DriverRedis, DriverFile:
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER: unknown driver %q", c.StoreDriver))
	}
	if c.MaxConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("MAX_CONCURRENCY must be positive, got %d", c.MaxConcurrency))
	}
	if c.PollIntervalMS <= 0 {
		errs = append(errs, fmt.Errorf("POLL_INTERVAL must be positive, got %d", c.PollIntervalMS))
	}
	if c.MaxRetries <= 0 {
		errs = append(errs, fmt.Errorf("MAX_RETRIES must be positive, got %d", c.MaxRetries))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("SHUTDOWN_TIMEOUT must be positive, got %s", c.ShutdownTimeout))
	}
	if c.LLM.Timeout < 0 {
		errs = append(errs, fmt.Errorf("PROVIDER_TIMEOUT must not be negative, got %s", c.LLM.Timeout))
	}
	switch provider.Kind(c.LLM.CloudProvider) {
	case provider.KindGemini, provider.KindOpenAI:
	default:
		errs = append(errs, fmt.Errorf("LM_CLOUD_PROVIDER: unknown provider %q", c.LLM.CloudProvider))
	}
	if len(c.ProviderSpecs()) == 0 {
		errs = append(errs, errors.New("no completion provider configured: set LM_CLOUD_API_KEY or LM_FALLBACK_URL"))
	}

	return errors.Join(errs...)
}
