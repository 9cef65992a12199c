package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "DRIFTBOARD"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabasePath    = "driftboard.db"
	defaultLogLevel        = "info"
	defaultChunkSize       = 1000
	defaultChunkMargin     = 500.0
	defaultViewportBucket  = 100.0
	defaultPresenterTickMS = 33
)

// AppConfig captures runtime configuration for the document service and the
// embedded canvas engine.
type AppConfig struct {
	HTTPAddress     string
	DatabasePath    string
	LogLevel        string
	ServiceBaseURL  string
	ChunkSize       int
	ChunkMargin     float64
	ViewportKeySize float64
	PresenterTick   time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("service.base_url", "")
	configViper.SetDefault("canvas.chunk_size", defaultChunkSize)
	configViper.SetDefault("canvas.chunk_margin", defaultChunkMargin)
	configViper.SetDefault("canvas.viewport_key_size", defaultViewportBucket)
	configViper.SetDefault("presenter.tick_ms", defaultPresenterTickMS)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		DatabasePath:    configViper.GetString("database.path"),
		LogLevel:        configViper.GetString("log.level"),
		ServiceBaseURL:  configViper.GetString("service.base_url"),
		ChunkSize:       configViper.GetInt("canvas.chunk_size"),
		ChunkMargin:     configViper.GetFloat64("canvas.chunk_margin"),
		ViewportKeySize: configViper.GetFloat64("canvas.viewport_key_size"),
		PresenterTick:   time.Duration(configViper.GetInt("presenter.tick_ms")) * time.Millisecond,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("canvas.chunk_size must be positive")
	}
	if c.ChunkMargin < 0 {
		return fmt.Errorf("canvas.chunk_margin must not be negative")
	}
	if c.ViewportKeySize <= 0 {
		return fmt.Errorf("canvas.viewport_key_size must be positive")
	}
	if c.PresenterTick <= 0 {
		return fmt.Errorf("presenter.tick_ms must be positive")
	}
	return nil
}
