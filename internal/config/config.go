package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all environment-driven configuration for the chat API.
type Config struct {
	HTTPPort    string `env:"HTTP_PORT" envDefault:"8080"`
	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`

	DatabaseURL     string `env:"DATABASE_URL,notEmpty"`
	DBMaxOpenConns  int    `env:"DB_MAX_OPEN_CONNS" envDefault:"20"`
	DBMaxIdleConns  int    `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBAutoMigration bool   `env:"DB_AUTO_MIGRATION" envDefault:"true"`

	OpenAIAPIKey  string `env:"OPENAI_API_KEY,notEmpty"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`

	CatalogFile string `env:"CATALOG_FILE" envDefault:"catalog.yml"`

	FlagThreshold   float64 `env:"FLAG_THRESHOLD" envDefault:"0.8"`
	ReviewThreshold float64 `env:"REVIEW_THRESHOLD" envDefault:"0.5"`

	TitleModel    string        `env:"TITLE_MODEL" envDefault:"gpt-4o-mini"`
	StreamTimeout time.Duration `env:"STREAM_TIMEOUT" envDefault:"5m"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cross-field constraints that env tags cannot express.
func (c *Config) Validate() error {
	if c.FlagThreshold <= 0 || c.FlagThreshold > 1 {
		return fmt.Errorf("FLAG_THRESHOLD must be in (0, 1], got %v", c.FlagThreshold)
	}
	if c.ReviewThreshold <= 0 || c.ReviewThreshold > 1 {
		return fmt.Errorf("REVIEW_THRESHOLD must be in (0, 1], got %v", c.ReviewThreshold)
	}
	if c.ReviewThreshold > c.FlagThreshold {
		return fmt.Errorf("REVIEW_THRESHOLD (%v) must not exceed FLAG_THRESHOLD (%v)", c.ReviewThreshold, c.FlagThreshold)
	}
	if c.StreamTimeout <= 0 {
		return fmt.Errorf("STREAM_TIMEOUT must be positive, got %v", c.StreamTimeout)
	}
	return nil
}
