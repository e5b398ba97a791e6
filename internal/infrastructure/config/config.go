package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds process configuration.
type Config struct {
	Settings  SettingsConfig
	Server    ServerConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// SettingsConfig locates the settings file.
type SettingsConfig struct {
	Path string `envconfig:"PEB_SETTINGS" default:"peb.toml"`
}

// ServerConfig holds the viewer API listener configuration.
type ServerConfig struct {
	Listen string `envconfig:"PEB_LISTEN" default:"127.0.0.1:8765"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"50"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"100"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from the environment, after seeding it from a
// .env file in the working directory when one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from the environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Settings: SettingsConfig{
			Path: "peb.toml",
		},
		Server: ServerConfig{
			Listen: "127.0.0.1:8765",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
			Enabled:           true,
		},
	}
}
