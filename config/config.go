// Package config loads process configuration from a .env file, an optional
// config.yaml, and the environment.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for namespaced environment variables
// (TASKTRACKER_API_PORT, TASKTRACKER_MONGODB_URI, ...).
const EnvPrefix = "TASKTRACKER"

// DefaultPort is used when neither PORT nor api.port is set.
const DefaultPort = 5000

// MongoDBConfig holds the document database settings
type MongoDBConfig struct {
	// URI is taken as-is. It is never validated before use: a missing or
	// malformed URI only shows up as a connection failure.
	URI             string        `mapstructure:"uri"`
	Database        string        `mapstructure:"database"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	ConnectAttempts int           `mapstructure:"connect_attempts"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	MaxPoolSize     uint64        `mapstructure:"max_pool_size"`
}

// RateLimitConfig configures the per-IP token bucket. Zero RequestsPerSecond disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	TrustProxy        bool    `mapstructure:"trust_proxy"`
}

// APIConfig holds the HTTP listener settings
type APIConfig struct {
	Host            string          `mapstructure:"host"`
	Port            int             `mapstructure:"port"`
	JSONBodyLimit   int64           `mapstructure:"json_body_limit"`
	ReadTimeout     time.Duration   `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration   `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string        `mapstructure:"allowed_origins"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
}

// MetricsConfig holds the Prometheus side listener. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // console, json
}

// Config holds all configuration for the task tracker service
type Config struct {
	MongoDB MongoDBConfig `mapstructure:"mongodb"`
	API     APIConfig     `mapstructure:"api"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Log     LogConfig     `mapstructure:"log"`
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("mongodb.uri", "")
	viper.SetDefault("mongodb.database", "tasktracker")
	viper.SetDefault("mongodb.connect_timeout", 10*time.Second)
	viper.SetDefault("mongodb.connect_attempts", 1) // fail fast
	viper.SetDefault("mongodb.retry_backoff", 1*time.Second)
	viper.SetDefault("mongodb.max_pool_size", 10)
	viper.SetDefault("api.host", "")
	viper.SetDefault("api.port", DefaultPort)
	viper.SetDefault("api.json_body_limit", 1048576) // 1MB
	viper.SetDefault("api.read_timeout", 15*time.Second)
	viper.SetDefault("api.write_timeout", 15*time.Second)
	viper.SetDefault("api.shutdown_timeout", 10*time.Second)
	viper.SetDefault("api.allowed_origins", []string{})
	viper.SetDefault("api.rate_limit.requests_per_second", 0)
	viper.SetDefault("api.rate_limit.burst", 0)
	viper.SetDefault("api.rate_limit.trust_proxy", false)
	viper.SetDefault("metrics.addr", "")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
}

// loadFromEnv sets up environment variable loading
func loadFromEnv() {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Short names used by deployments and the .env file. The namespaced
	// variable is listed first so it wins when both are set.
	_ = viper.BindEnv("mongodb.uri", EnvPrefix+"_MONGODB_URI", "MONGO_URI")
	_ = viper.BindEnv("mongodb.database", EnvPrefix+"_MONGODB_DATABASE", "MONGO_DATABASE")
	_ = viper.BindEnv("mongodb.connect_timeout", EnvPrefix+"_MONGODB_CONNECT_TIMEOUT", "MONGO_CONNECT_TIMEOUT")
	_ = viper.BindEnv("mongodb.connect_attempts", EnvPrefix+"_MONGODB_CONNECT_ATTEMPTS", "MONGO_CONNECT_ATTEMPTS")
	_ = viper.BindEnv("mongodb.retry_backoff", EnvPrefix+"_MONGODB_RETRY_BACKOFF", "MONGO_RETRY_BACKOFF")
	_ = viper.BindEnv("mongodb.max_pool_size", EnvPrefix+"_MONGODB_MAX_POOL_SIZE", "MONGO_MAX_POOL_SIZE")
	_ = viper.BindEnv("api.host", EnvPrefix+"_API_HOST", "HOST")
	_ = viper.BindEnv("api.port", EnvPrefix+"_API_PORT", "PORT")
	_ = viper.BindEnv("metrics.addr", EnvPrefix+"_METRICS_ADDR", "METRICS_ADDR")
	_ = viper.BindEnv("log.level", EnvPrefix+"_LOG_LEVEL", "LOG_LEVEL")
	_ = viper.BindEnv("log.format", EnvPrefix+"_LOG_FORMAT", "LOG_FORMAT")
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Variables that are already set are left untouched. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// LoadConfig loads configuration from .env, config file and environment variables
func LoadConfig() (*Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()
	loadFromEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Addr returns the host:port the API listens on
func (c *Config) Addr() string {
	return net.JoinHostPort(c.API.Host, strconv.Itoa(c.API.Port))
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validateConfig validates the configuration for correctness
func validateConfig(config *Config) error {
	if config.API.Port < 1 || config.API.Port > 65535 {
		return fmt.Errorf("invalid API port: %d (must be 1-65535)", config.API.Port)
	}
	if config.API.JSONBodyLimit <= 0 {
		return fmt.Errorf("api.json_body_limit must be positive, got %d", config.API.JSONBodyLimit)
	}
	if config.API.ShutdownTimeout <= 0 {
		return fmt.Errorf("api.shutdown_timeout must be positive, got %v", config.API.ShutdownTimeout)
	}
	if config.API.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("api.rate_limit.requests_per_second cannot be negative")
	}
	if config.API.RateLimit.RequestsPerSecond > 0 && config.API.RateLimit.Burst < 1 {
		return fmt.Errorf("api.rate_limit.burst must be at least 1 when rate limiting is enabled")
	}

	if config.MongoDB.Database == "" {
		return fmt.Errorf("MongoDB database cannot be empty")
	}
	if config.MongoDB.ConnectTimeout <= 0 {
		return fmt.Errorf("mongodb.connect_timeout must be positive, got %v", config.MongoDB.ConnectTimeout)
	}
	if config.MongoDB.ConnectAttempts < 1 {
		return fmt.Errorf("mongodb.connect_attempts must be at least 1, got %d", config.MongoDB.ConnectAttempts)
	}
	if config.MongoDB.ConnectAttempts > 1 && config.MongoDB.RetryBackoff <= 0 {
		return fmt.Errorf("mongodb.retry_backoff must be positive when retries are enabled")
	}

	if !validLogLevels[strings.ToLower(config.Log.Level)] {
		return fmt.Errorf("invalid log level: %q", config.Log.Level)
	}
	if config.Log.Format != "console" && config.Log.Format != "json" {
		return fmt.Errorf("invalid log format: %q (must be console or json)", config.Log.Format)
	}

	return nil
}
