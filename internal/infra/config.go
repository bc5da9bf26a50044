package infra

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds all application settings. Secrets may be overridden through
// environment variables after load.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	API struct {
		Feed struct {
			WSURL   string   `yaml:"ws_url"`
			APIKey  string   `yaml:"api_key"`
			Symbols []string `yaml:"symbols"`
		} `yaml:"feed"`
		Scorer struct {
			Mode      string `yaml:"mode"` // "http" or "builtin"
			URL       string `yaml:"url"`
			TimeoutMS int    `yaml:"timeout_ms"`
		} `yaml:"scorer"`
		Broker struct {
			Mode      string `yaml:"mode"` // "sim" or "live"
			URL       string `yaml:"url"`
			AccessKey string `yaml:"access_key"`
			SecretKey string `yaml:"secret_key"`
		} `yaml:"broker"`
	} `yaml:"api"`

	Trading struct {
		RiskFreeRate           float64         `yaml:"risk_free_rate"`
		StalenessBudgetMS      int             `yaml:"staleness_budget_ms"`
		MaxNotionalPerSymbol   decimal.Decimal `yaml:"max_notional_per_symbol"`
		MaxOpenOrdersPerSymbol int             `yaml:"max_open_orders_per_symbol"`
		CooldownSec            int             `yaml:"cooldown_sec"`
		DefaultOrderQty        int64           `yaml:"default_order_qty"`
		Workers                int             `yaml:"workers"`
		Retry                  struct {
			MaxAttempts   int `yaml:"max_attempts"`
			BackoffBaseMS int `yaml:"backoff_base_ms"`
			BackoffCapMS  int `yaml:"backoff_cap_ms"`
		} `yaml:"retry"`
	} `yaml:"trading"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults fills unset tuning knobs with production defaults.
func (c *Config) applyDefaults() {
	if c.Trading.StalenessBudgetMS <= 0 {
		c.Trading.StalenessBudgetMS = 3000
	}
	if c.API.Scorer.TimeoutMS <= 0 {
		c.API.Scorer.TimeoutMS = 500
	}
	if c.Trading.Retry.MaxAttempts <= 0 {
		c.Trading.Retry.MaxAttempts = 4
	}
	if c.Trading.Retry.BackoffBaseMS <= 0 {
		c.Trading.Retry.BackoffBaseMS = 250
	}
	if c.Trading.Retry.BackoffCapMS <= 0 {
		c.Trading.Retry.BackoffCapMS = 5000
	}
	if c.Trading.MaxNotionalPerSymbol.IsZero() {
		c.Trading.MaxNotionalPerSymbol = decimal.NewFromInt(25000)
	}
	if c.Trading.MaxOpenOrdersPerSymbol <= 0 {
		c.Trading.MaxOpenOrdersPerSymbol = 1
	}
	if c.Trading.CooldownSec <= 0 {
		c.Trading.CooldownSec = 60
	}
	if c.Trading.DefaultOrderQty <= 0 {
		c.Trading.DefaultOrderQty = 1
	}
	if c.Trading.Workers <= 0 {
		c.Trading.Workers = 8
	}
	if c.Trading.RiskFreeRate <= 0 {
		c.Trading.RiskFreeRate = 0.05
	}
	if c.API.Broker.Mode == "" {
		c.API.Broker.Mode = "sim"
	}
	if c.API.Scorer.Mode == "" {
		c.API.Scorer.Mode = "http"
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.API.Feed.WSURL == "" || (!strings.HasPrefix(c.API.Feed.WSURL, "ws://") && !strings.HasPrefix(c.API.Feed.WSURL, "wss://")) {
		return fmt.Errorf("invalid feed WS URL: %s", c.API.Feed.WSURL)
	}
	if len(c.API.Feed.Symbols) == 0 {
		return fmt.Errorf("at least one feed symbol is required")
	}
	if c.API.Scorer.Mode != "http" && c.API.Scorer.Mode != "builtin" {
		return fmt.Errorf("scorer mode must be http or builtin, got %q", c.API.Scorer.Mode)
	}
	if c.API.Scorer.Mode == "http" && c.API.Scorer.URL == "" {
		return fmt.Errorf("scorer URL is required")
	}
	if c.API.Broker.Mode != "sim" && c.API.Broker.Mode != "live" {
		return fmt.Errorf("broker mode must be sim or live, got %q", c.API.Broker.Mode)
	}
	if c.Trading.Retry.BackoffCapMS < c.Trading.Retry.BackoffBaseMS {
		return fmt.Errorf("retry backoff cap must not be below base")
	}
	if c.Trading.MaxNotionalPerSymbol.IsNegative() {
		return fmt.Errorf("max notional per symbol must be positive")
	}
	return nil
}

// StalenessBudget returns the maximum quote age permitted for decisions.
func (c *Config) StalenessBudget() time.Duration {
	return time.Duration(c.Trading.StalenessBudgetMS) * time.Millisecond
}

// ScorerTimeout returns the hard deadline for one scorer call.
func (c *Config) ScorerTimeout() time.Duration {
	return time.Duration(c.API.Scorer.TimeoutMS) * time.Millisecond
}

// Cooldown returns the per-symbol pause after a closed trade.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Trading.CooldownSec) * time.Second
}

// RetryBackoff returns the backoff policy for broker dispatch retries.
func (c *Config) RetryBackoff() Backoff {
	return Backoff{
		Base: time.Duration(c.Trading.Retry.BackoffBaseMS) * time.Millisecond,
		Cap:  time.Duration(c.Trading.Retry.BackoffCapMS) * time.Millisecond,
	}
}

// overrideWithEnv overrides secret settings when environment variables exist.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("OPTION_FEED_KEY"); key != "" {
		cfg.API.Feed.APIKey = key
	}
	if key := os.Getenv("OPTION_BROKER_KEY"); key != "" {
		cfg.API.Broker.AccessKey = key
	}
	if secret := os.Getenv("OPTION_BROKER_SECRET"); secret != "" {
		cfg.API.Broker.SecretKey = secret
	}
}
