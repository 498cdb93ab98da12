// Package config loads ordermetrics settings from defaults, an optional
// YAML file and ORDERMETRICS_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ORDERMETRICS"

// Config represents the complete application configuration
type Config struct {
	// Data is the dataset location: a CSV file, an Arrow IPC file or a
	// gs://bucket/object URI.
	Data         string `yaml:"data"`
	CacheSize    int    `yaml:"cache_size" split_words:"true" validate:"gte=-1"`
	CSVChunkSize int    `yaml:"csv_chunk_size" split_words:"true" validate:"gt=0"`

	Log    LogConfig    `yaml:"log"`
	Flight FlightConfig `yaml:"flight"`
	HTTP   HTTPConfig   `yaml:"http"`
	GCS    GCSConfig    `yaml:"gcs"`

	// Users maps a username to its roles. Without users, Flight calls are
	// not authorized.
	Users map[string][]string `yaml:"users" ignored:"true" validate:"dive,keys,required,endkeys,min=1,dive,required"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level       string `yaml:"level" validate:"oneof=debug info warn error"`
	Development bool   `yaml:"development"`
}

// FlightConfig contains Arrow Flight server configuration
type FlightConfig struct {
	Addr string `yaml:"addr" validate:"required,hostname_port"`
}

// HTTPConfig contains HTTP server configuration
type HTTPConfig struct {
	Addr            string        `yaml:"addr" validate:"required,hostname_port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" split_words:"true" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" split_words:"true" validate:"gt=0"`
}

// GCSConfig contains Google Cloud Storage access configuration
type GCSConfig struct {
	CredentialsFile string        `yaml:"credentials_file" split_words:"true"`
	Timeout         time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxFailures     uint32        `yaml:"max_failures" split_words:"true" validate:"gt=0"`
	Cooldown        time.Duration `yaml:"cooldown" validate:"gt=0"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		CacheSize:    32,
		CSVChunkSize: 8192,
		Log: LogConfig{
			Level: "info",
		},
		Flight: FlightConfig{
			Addr: "localhost:8815",
		},
		HTTP: HTTPConfig{
			Addr:            "localhost:8080",
			ReadTimeout:     15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		GCS: GCSConfig{
			Timeout:     2 * time.Minute,
			MaxFailures: 5,
			Cooldown:    30 * time.Second,
		},
	}
}

// Load builds the configuration. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Environment variables override the file; unset ones leave it alone.
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field constraint.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("config validation failed: %s must satisfy %q, got %v", fe.Namespace(), fe.ActualTag(), fe.Value())
		}
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// Build creates the zap logger described by c.
func (c LogConfig) Build() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	zcfg := zap.NewProductionConfig()
	if c.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = level
	return zcfg.Build()
}
