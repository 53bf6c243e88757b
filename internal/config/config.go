// Package config loads service configuration from defaults, an optional
// YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment variable read by Load.
// Nested keys are separated by a double underscore: TRIAGE_DATABASE__URL.
const EnvPrefix = "TRIAGE_"

// Config is the complete service configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Log        LogConfig        `koanf:"log"`
	CORS       CORSConfig       `koanf:"cors"`
	Enrichment EnrichmentConfig `koanf:"enrichment"`
	Redis      RedisConfig      `koanf:"redis"`
	RateLimit  RateLimitConfig  `koanf:"rate_limit"`
	Kafka      KafkaConfig      `koanf:"kafka"`
}

// ServerConfig configures the API and metrics listeners.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	RequestTimeout    time.Duration `koanf:"request_timeout"`
}

// DatabaseConfig configures the PostgreSQL pool and migrations.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
	MigrationsPath  string        `koanf:"migrations_path"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// CORSConfig lists origins allowed to call the API from a browser.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// EnrichmentConfig configures external incident analysis.
type EnrichmentConfig struct {
	Timeout time.Duration `koanf:"timeout"`
	OpenAI  OpenAIConfig  `koanf:"openai"`
}

// OpenAIConfig configures the OpenAI Responses API classifier.
// An empty APIKey disables the classifier.
type OpenAIConfig struct {
	APIKey            string  `koanf:"api_key"`
	Model             string  `koanf:"model"`
	BaseURL           string  `koanf:"base_url"`
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	Burst             int     `koanf:"burst"`
}

// RedisConfig configures the shared rate limiter store. Empty URL disables it.
type RedisConfig struct {
	URL string `koanf:"url"`
}

// RateLimitConfig configures the incident submission rate limit.
type RateLimitConfig struct {
	Enabled           bool `koanf:"enabled"`
	RequestsPerMinute int  `koanf:"requests_per_minute"`
}

// KafkaConfig configures lifecycle event publishing. No brokers disables it.
type KafkaConfig struct {
	Brokers []string `koanf:"brokers"`
	Topic   string   `koanf:"topic"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
			RequestTimeout:    60 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnectTimeout:  60 * time.Second,
			ConnectAttempts: 5,
			AutoMigrate:     true,
			MigrationsPath:  "migrations",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Enrichment: EnrichmentConfig{
			Timeout: 5 * time.Second,
			OpenAI: OpenAIConfig{
				Model:             "gpt-4.1-mini",
				BaseURL:           "https://api.openai.com/v1",
				RequestsPerSecond: 5,
				Burst:             10,
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 60,
		},
		Kafka: KafkaConfig{
			Topic: "incidents",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path
// (skipped when path is empty) and environment variables, in that order.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// Unprefixed OpenAI variables are honoured; TRIAGE_ ones take precedence.
	if err := k.Load(env.ProviderWithValue("OPENAI_", ".", openAIEnv), nil); err != nil {
		return nil, fmt.Errorf("load openai environment: %w", err)
	}
	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", prefixedEnv), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// listKeys hold comma-separated values when set from the environment.
var listKeys = map[string]bool{
	"cors.allowed_origins": true,
	"kafka.brokers":        true,
}

func prefixedEnv(key, value string) (string, any) {
	k := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), "__", ".")
	if listKeys[k] {
		return k, splitList(value)
	}
	return k, value
}

func openAIEnv(key, value string) (string, any) {
	switch key {
	case "OPENAI_API_KEY":
		return "enrichment.openai.api_key", value
	case "OPENAI_MODEL":
		return "enrichment.openai.model", value
	}
	return "", nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.Database.ConnectAttempts < 1 {
		errs = append(errs, errors.New("database.connect_attempts must be at least 1"))
	}
	if c.Database.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("database.connect_timeout must be positive"))
	}
	if c.Database.AutoMigrate && c.Database.MigrationsPath == "" {
		errs = append(errs, errors.New("database.migrations_path is required when auto_migrate is on"))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q must be one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be json or text", c.Log.Format))
	}

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	if c.Server.MetricsPort == "" {
		errs = append(errs, errors.New("server.metrics_port is required"))
	}
	if c.Server.RequestTimeout <= 0 {
		errs = append(errs, errors.New("server.request_timeout must be positive"))
	}

	if c.Enrichment.Timeout <= 0 {
		errs = append(errs, errors.New("enrichment.timeout must be positive"))
	}
	if c.Enrichment.OpenAI.APIKey != "" {
		if c.Enrichment.OpenAI.Model == "" {
			errs = append(errs, errors.New("enrichment.openai.model is required when api_key is set"))
		}
		if c.Enrichment.OpenAI.RequestsPerSecond <= 0 || c.Enrichment.OpenAI.Burst < 1 {
			errs = append(errs, errors.New("enrichment.openai rate limit must be positive"))
		}
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute < 1 {
		errs = append(errs, errors.New("rate_limit.requests_per_minute must be at least 1"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required when brokers are set"))
	}

	return errors.Join(errs...)
}
