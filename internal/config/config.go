package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	StoreBackendMemory   = "memory"
	StoreBackendFile     = "file"
	StoreBackendPostgres = "postgres"
)

type Config struct {
	APIBaseURL         string `mapstructure:"API_BASE_URL"`
	APIToken           string `mapstructure:"API_TOKEN"`
	StoreBackend       string `mapstructure:"STORE_BACKEND"`
	StoreDir           string `mapstructure:"STORE_DIR"`
	DatabaseURL        string `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32  `mapstructure:"DB_MIN_CONNS"`
	HTTPTimeoutSeconds int    `mapstructure:"HTTP_TIMEOUT_SECONDS"`
	MinImages          int    `mapstructure:"MIN_IMAGES"`
	LogLevel           string `mapstructure:"LOG_LEVEL"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("STORE_BACKEND", StoreBackendFile)
	v.SetDefault("STORE_DIR", "~/.medidraft/drafts")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("HTTP_TIMEOUT_SECONDS", 30)
	v.SetDefault("MIN_IMAGES", 1)
	v.SetDefault("LOG_LEVEL", "info")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("API_BASE_URL")
	v.BindEnv("API_TOKEN")
	v.BindEnv("STORE_BACKEND")
	v.BindEnv("STORE_DIR")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("HTTP_TIMEOUT_SECONDS")
	v.BindEnv("MIN_IMAGES")
	v.BindEnv("LOG_LEVEL")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is usable before anything opens a
// store or talks to the backend.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreBackendMemory, StoreBackendFile, StoreBackendPostgres:
	default:
		return fmt.Errorf("STORE_BACKEND must be %q, %q or %q, got %q",
			StoreBackendMemory, StoreBackendFile, StoreBackendPostgres, c.StoreBackend)
	}
	if c.StoreBackend == StoreBackendFile && c.StoreDir == "" {
		return fmt.Errorf("STORE_DIR is required when STORE_BACKEND is %q", StoreBackendFile)
	}
	if c.StoreBackend == StoreBackendPostgres && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND is %q", StoreBackendPostgres)
	}
	if c.APIBaseURL != "" && !strings.HasPrefix(c.APIBaseURL, "http://") && !strings.HasPrefix(c.APIBaseURL, "https://") {
		return fmt.Errorf("API_BASE_URL must be an http(s) URL, got %q", c.APIBaseURL)
	}
	if c.MinImages < 1 {
		return fmt.Errorf("MIN_IMAGES must be at least 1, got %d", c.MinImages)
	}
	if c.HTTPTimeoutSeconds <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT_SECONDS must be positive, got %d", c.HTTPTimeoutSeconds)
	}
	return nil
}
