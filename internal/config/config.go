// Package config loads the engine's YAML configuration. Every section
// has a production default; an absent file yields a fully usable
// configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quantdesk/riskcore/internal/correlation"
	"github.com/quantdesk/riskcore/internal/defense"
	"github.com/quantdesk/riskcore/internal/greeks"
	"github.com/quantdesk/riskcore/internal/marketdata"
	"github.com/quantdesk/riskcore/internal/monitor"
)

// PersistenceConfig selects and bounds the snapshot store
type PersistenceConfig struct {
	Backend     string        `yaml:"backend"` // "redis" or "postgres"
	RedisAddr   string        `yaml:"redis_addr"`
	PostgresDSN string        `yaml:"postgres_dsn"`
	Timeout     time.Duration `yaml:"timeout"`
	KeepHistory int           `yaml:"keep_history"`
}

// LoggingConfig bounds log output
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Config is the full engine configuration
type Config struct {
	Logging     LoggingConfig               `yaml:"logging"`
	Server      monitor.ServerConfig        `yaml:"server"`
	Persistence PersistenceConfig           `yaml:"persistence"`
	MarketData  marketdata.LiveSourceConfig `yaml:"market_data"`
	Greeks      greeks.EngineConfig         `yaml:"greeks"`
	Defense     defense.RulesConfig         `yaml:"defense"`
	Correlation correlation.Config          `yaml:"correlation"`
}

// Default returns the production configuration
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info"},
		Server:  monitor.DefaultServerConfig(),
		Persistence: PersistenceConfig{
			Backend:     "redis",
			RedisAddr:   "localhost:6379",
			Timeout:     2 * time.Second,
			KeepHistory: 96,
		},
		MarketData:  marketdata.DefaultLiveSourceConfig("vendor"),
		Greeks:      greeks.DefaultEngineConfig(),
		Defense:     *defense.DefaultRulesConfig(),
		Correlation: *correlation.DefaultConfig(),
	}
}

// Load reads and validates a YAML config file, layering it over the
// defaults. A missing path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Persistence.Backend {
	case "redis", "postgres":
	default:
		return fmt.Errorf("unknown persistence backend %q", c.Persistence.Backend)
	}
	if c.Persistence.KeepHistory < 1 {
		return fmt.Errorf("keep_history must be at least 1, got %d", c.Persistence.KeepHistory)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if err := c.Correlation.Validate(); err != nil {
		return err
	}
	return nil
}
