// Package config loads formrelay configuration.
//
// Values are resolved in three layers: built-in defaults (the historical
// fixed ports and paths), an optional YAML file, then FORMRELAY_*
// environment variables. A .env file may seed the environment first.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverJSON     = "json"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// MaxUDPPayload is the largest payload a single IPv4 UDP datagram can carry.
const MaxUDPPayload = 65507

// Config is the full process configuration.
type Config struct {
	HTTP    HTTPConfig    `yaml:"http"`
	Ingest  IngestConfig  `yaml:"ingest"`
	Relay   RelayConfig   `yaml:"relay"`
	Storage StorageConfig `yaml:"storage"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// HTTPConfig configures the front end.
type HTTPConfig struct {
	Addr            string        `yaml:"addr" env:"FORMRELAY_HTTP_ADDR"`
	BaseDir         string        `yaml:"base_dir" env:"FORMRELAY_HTTP_BASE_DIR"`
	IndexPage       string        `yaml:"index_page" env:"FORMRELAY_HTTP_INDEX_PAGE"`
	MessagePage     string        `yaml:"message_page" env:"FORMRELAY_HTTP_MESSAGE_PAGE"`
	ErrorPage       string        `yaml:"error_page" env:"FORMRELAY_HTTP_ERROR_PAGE"`
	RateLimit       float64       `yaml:"rate_limit" env:"FORMRELAY_HTTP_RATE_LIMIT"`
	RateBurst       int           `yaml:"rate_burst" env:"FORMRELAY_HTTP_RATE_BURST"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"FORMRELAY_HTTP_SHUTDOWN_TIMEOUT"`
}

// IngestConfig configures the UDP listener and its writer.
type IngestConfig struct {
	Addr            string `yaml:"addr" env:"FORMRELAY_INGEST_ADDR"`
	MaxDatagramSize int    `yaml:"max_datagram_size" env:"FORMRELAY_INGEST_MAX_DATAGRAM_SIZE"`
	Workers         int    `yaml:"workers" env:"FORMRELAY_INGEST_WORKERS"`
	QueueSize       int    `yaml:"queue_size" env:"FORMRELAY_INGEST_QUEUE_SIZE"`
}

// RelayConfig configures where POST bodies are sent.
type RelayConfig struct {
	Target string `yaml:"target" env:"FORMRELAY_RELAY_TARGET"`
}

// StorageConfig selects and configures the record store backend.
type StorageConfig struct {
	Driver        string `yaml:"driver" env:"FORMRELAY_STORAGE_DRIVER"`
	Path          string `yaml:"path" env:"FORMRELAY_STORAGE_PATH"`
	RedisAddr     string `yaml:"redis_addr" env:"FORMRELAY_STORAGE_REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" env:"FORMRELAY_STORAGE_REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"FORMRELAY_STORAGE_REDIS_DB"`
	RedisKey      string `yaml:"redis_key" env:"FORMRELAY_STORAGE_REDIS_KEY"`
	PostgresDSN   string `yaml:"postgres_dsn" env:"FORMRELAY_STORAGE_POSTGRES_DSN"`
}

// MetricsConfig configures the Prometheus endpoint. Empty Addr disables it.
type MetricsConfig struct {
	Addr      string `yaml:"addr" env:"FORMRELAY_METRICS_ADDR"`
	Namespace string `yaml:"namespace" env:"FORMRELAY_METRICS_NAMESPACE"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `yaml:"level" env:"FORMRELAY_LOG_LEVEL"`
	Format string `yaml:"format" env:"FORMRELAY_LOG_FORMAT"`
}

// Default returns the configuration matching the historical constants.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:            "0.0.0.0:3000",
			BaseDir:         "web",
			IndexPage:       "index.html",
			MessagePage:     "message.html",
			ErrorPage:       "error.html",
			RateBurst:       5,
			ShutdownTimeout: 10 * time.Second,
		},
		Ingest: IngestConfig{
			Addr:            "0.0.0.0:5000",
			MaxDatagramSize: 1024,
			Workers:         1,
			QueueSize:       64,
		},
		Relay: RelayConfig{
			Target: "127.0.0.1:5000",
		},
		Storage: StorageConfig{
			Driver:   DriverJSON,
			Path:     filepath.Join("storage", "data.json"),
			RedisKey: "formrelay:submissions",
		},
		Metrics: MetricsConfig{
			Namespace: "formrelay",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds a configuration from defaults, the YAML file at path (skipped
// when path is empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is
// not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error

	if err := validateAddr("http.addr", c.HTTP.Addr); err != nil {
		errs = append(errs, err)
	}
	if err := validateAddr("ingest.addr", c.Ingest.Addr); err != nil {
		errs = append(errs, err)
	}
	if err := validateAddr("relay.target", c.Relay.Target); err != nil {
		errs = append(errs, err)
	}
	if c.Metrics.Addr != "" {
		if err := validateAddr("metrics.addr", c.Metrics.Addr); err != nil {
			errs = append(errs, err)
		}
	}

	if c.Ingest.MaxDatagramSize < 1 || c.Ingest.MaxDatagramSize > MaxUDPPayload {
		errs = append(errs, fmt.Errorf("ingest.max_datagram_size must be in [1, %d], got %d", MaxUDPPayload, c.Ingest.MaxDatagramSize))
	}
	if c.Ingest.Workers < 1 {
		errs = append(errs, fmt.Errorf("ingest.workers must be at least 1, got %d", c.Ingest.Workers))
	}
	if c.Ingest.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("ingest.queue_size must be at least 1, got %d", c.Ingest.QueueSize))
	}
	if c.HTTP.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("http.rate_limit must not be negative"))
	}
	if strings.TrimSpace(c.HTTP.BaseDir) == "" {
		errs = append(errs, fmt.Errorf("http.base_dir is required"))
	}

	switch c.Storage.Driver {
	case DriverJSON:
		if c.Storage.Path == "" {
			errs = append(errs, fmt.Errorf("storage.path is required for the json driver"))
		}
	case DriverRedis:
		if c.Storage.RedisAddr == "" {
			errs = append(errs, fmt.Errorf("storage.redis_addr is required for the redis driver"))
		}
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, fmt.Errorf("storage.postgres_dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}

	return errors.Join(errs...)
}

func validateAddr(field, addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%s: invalid address %q: %w", field, addr, err)
	}
	return nil
}
