// Package config loads and validates the YAML configuration surface:
// stream interval, admission/cadence tuning, and the ambient
// logging/storage/metrics settings.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	UpdateInterval          string   `yaml:"updateInterval"`
	ReconnectDelayMs        int      `yaml:"reconnectDelay"`
	PingIntervalMs          int      `yaml:"pingInterval"`
	MaxConnectionsPerMinute int      `yaml:"maxConnectionsPerMinute"`
	CoreSaveIntervalMs      int      `yaml:"coreSaveIntervalMs"`
	AdvancedSaveIntervalMs  int      `yaml:"advancedSaveIntervalMs"`
	Pairs                   []string `yaml:"pairs"`

	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`

	RedisAddr   string `yaml:"redisAddr"`
	MetricsAddr string `yaml:"metricsAddr"`

	MaxNoInstrumentRetries int `yaml:"maxNoInstrumentRetries"`
}

// defaults mirrors the documented defaults plus the ambient additions.
func defaults() Config {
	return Config{
		UpdateInterval:          "1000ms",
		ReconnectDelayMs:        5000,
		PingIntervalMs:          30000,
		MaxConnectionsPerMinute: 50,
		CoreSaveIntervalMs:      30000,
		AdvancedSaveIntervalMs:  30000,
		Pairs:                   []string{"BTCUSDT", "ETHUSDT"},
		LogLevel:                "info",
		LogFormat:               "console",
		MetricsAddr:             ":9090",
		MaxNoInstrumentRetries:  10,
	}
}

// Load reads and validates the YAML document at path, filling unset fields
// with their defaults.
func Load(path string) (Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.UpdateInterval {
	case "100ms", "500ms", "1000ms":
	default:
		return fmt.Errorf("updateInterval must be one of 100ms, 500ms, 1000ms, got %q", c.UpdateInterval)
	}
	if len(c.Pairs) == 0 {
		return fmt.Errorf("pairs must not be empty")
	}
	if c.MaxConnectionsPerMinute <= 0 {
		return fmt.Errorf("maxConnectionsPerMinute must be positive")
	}
	if c.MaxNoInstrumentRetries < 0 {
		return fmt.Errorf("maxNoInstrumentRetries must not be negative")
	}
	return nil
}

// ReconnectDelay returns ReconnectDelayMs as a time.Duration.
func (c Config) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelayMs) * time.Millisecond
}

// CoreSaveInterval returns CoreSaveIntervalMs as a time.Duration.
func (c Config) CoreSaveInterval() time.Duration {
	return time.Duration(c.CoreSaveIntervalMs) * time.Millisecond
}

// AdvancedSaveInterval returns AdvancedSaveIntervalMs as a time.Duration.
func (c Config) AdvancedSaveInterval() time.Duration {
	return time.Duration(c.AdvancedSaveIntervalMs) * time.Millisecond
}
