// Package config loads the engine configuration from a TOML file with
// environment-variable overrides for deployment settings.
package config

import (
	"errors"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"
)

// Config holds all tunables of the market engine.
type Config struct {
	Server struct {
		Port string `toml:"port"`
	} `toml:"server"`

	Database struct {
		URL string `toml:"url"`
	} `toml:"database"`

	Redis struct {
		URL        string `toml:"url"`
		TTLSeconds int    `toml:"ttl_seconds"`
	} `toml:"redis"`

	Engine struct {
		StartingBalance  float64 `toml:"starting_balance"`
		DefaultLiquidity float64 `toml:"default_liquidity"`
		TradeRetries     int     `toml:"trade_retries"`
		RecentTradesCap  int     `toml:"recent_trades_cap"`
	} `toml:"engine"`
}

// Load reads the config file at path, applies defaults, validates, and
// finally applies environment overrides (PORT, DATABASE_URL, REDIS_URL).
// An empty path yields a default config driven by the environment alone.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}
	applyDefaults(&cfg)
	applyEnv(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Redis.TTLSeconds <= 0 {
		cfg.Redis.TTLSeconds = 30
	}
	if cfg.Engine.StartingBalance <= 0 {
		cfg.Engine.StartingBalance = 1000
	}
	if cfg.Engine.DefaultLiquidity <= 0 {
		cfg.Engine.DefaultLiquidity = 1000
	}
	if cfg.Engine.TradeRetries <= 0 {
		cfg.Engine.TradeRetries = 3
	}
	if cfg.Engine.RecentTradesCap <= 0 {
		cfg.Engine.RecentTradesCap = 50
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
}

func validate(cfg *Config) error {
	if cfg.Engine.StartingBalance < 0 {
		return errors.New("engine.starting_balance must not be negative")
	}
	if cfg.Engine.DefaultLiquidity <= 0 {
		return errors.New("engine.default_liquidity must be positive")
	}
	return nil
}

// StartingBalance returns the starting balance as a decimal.
func (c *Config) StartingBalance() decimal.Decimal {
	return decimal.NewFromFloat(c.Engine.StartingBalance)
}

// DefaultLiquidity returns the default market liquidity as a decimal.
func (c *Config) DefaultLiquidity() decimal.Decimal {
	return decimal.NewFromFloat(c.Engine.DefaultLiquidity)
}
