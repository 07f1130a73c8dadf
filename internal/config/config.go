package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `json:"server"`
	Database   DatabaseConfig   `json:"database"`
	Security   SecurityConfig   `json:"security"`
	RateLimit  RateLimitConfig  `json:"rate_limit"`
	Log        LogConfig        `json:"log"`
	Tracing    TracingConfig    `json:"tracing"`
	Redis      RedisConfig      `json:"redis"`
	Webhook    WebhookConfig    `json:"webhook"`
	Scraper    ScraperConfig    `json:"scraper"`
	Aggregator AggregatorConfig `json:"aggregator"`
	Auth       AuthConfig       `json:"auth"`
	Features   string           `json:"features"` // e.g. "webhook_processing=on,scraper.nerdwallet=off"
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port         string `json:"port"`
	Host         string `json:"host"`
	CertFile     string `json:"cert_file"`
	KeyFile      string `json:"key_file"`
	ReadTimeout  int    `json:"read_timeout"`  // seconds
	WriteTimeout int    `json:"write_timeout"` // seconds
}

// DatabaseConfig holds database-related configuration.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	// Max request body size in bytes (default: 10MB)
	MaxRequestBodySize int64 `json:"max_request_body_size"`
	// Allowed CORS origins (comma-separated)
	AllowedOrigins string `json:"allowed_origins"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool `json:"enabled"`
	Rate    int  `json:"rate"`
	Window  int  `json:"window"` // in seconds
}

type LogConfig struct {
	Environment string `json:"environment"`
	Level       string `json:"level"`
}

type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint"`
	Environment string `json:"environment"`
}

// RedisConfig configures the webhook idempotency store. An empty Addr selects
// the in-process store.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type WebhookConfig struct {
	SigningSecret   string `json:"signing_secret"`
	SignatureHeader string `json:"signature_header"`
	QueueSize       int    `json:"queue_size"`
	Workers         int    `json:"workers"`
	DedupTTL        int    `json:"dedup_ttl"` // seconds
}

// ScraperSource describes one offer source. Kind is "html" or "json".
type ScraperSource struct {
	Name      string            `json:"name"`
	Kind      string            `json:"kind"`
	URL       string            `json:"url"`
	Selectors map[string]string `json:"selectors,omitempty"`
}

type ScraperConfig struct {
	Cron              string          `json:"cron"`
	AdapterTimeout    int             `json:"adapter_timeout"` // seconds
	Concurrency       int             `json:"concurrency"`
	RequestsPerSecond float64         `json:"requests_per_second"`
	UserAgent         string          `json:"user_agent"`
	Sources           []ScraperSource `json:"sources"`
}

type AggregatorConfig struct {
	BaseURL      string `json:"base_url"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Timeout      int    `json:"timeout"` // seconds
	PageSize     int    `json:"page_size"`
}

type AuthConfig struct {
	JWTSecret string `json:"jwt_secret"`
}

// LoadConfig loads configuration from environment variables and/or config file.
// Environment variables take precedence over config file values. A .env file in
// the working directory is loaded first when present.
func LoadConfig(configFile string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Host:         getEnv("SERVER_HOST", ""),
			CertFile:     getEnv("SERVER_CERT_FILE", ""),
			KeyFile:      getEnv("SERVER_KEY_FILE", ""),
			ReadTimeout:  getEnvInt("SERVER_READ_TIMEOUT", 15),
			WriteTimeout: getEnvInt("SERVER_WRITE_TIMEOUT", 30),
		},
		Database: DatabaseConfig{
			Path: getEnv("DATABASE_PATH", "./deal_digests.db"),
		},
		Security: SecurityConfig{
			MaxRequestBodySize: getEnvInt64("MAX_REQUEST_BODY_SIZE", 10<<20), // 10MB default
			AllowedOrigins:     getEnv("ALLOWED_ORIGINS", "*"),
		},
		RateLimit: RateLimitConfig{
			Enabled: getEnvBool("RATE_LIMIT_ENABLED", true),
			Rate:    getEnvInt("RATE_LIMIT_RATE", 100),
			Window:  getEnvInt("RATE_LIMIT_WINDOW", 60),
		},
		Log: LogConfig{
			Environment: getEnv("SERVICE_ENVIRONMENT", "development"),
			Level:       getEnv("LOG_LEVEL", "info"),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvBool("TRACING_ENABLED", false),
			Endpoint:    getEnv("TRACING_ENDPOINT", "http://localhost:14268/api/traces"),
			Environment: getEnv("SERVICE_ENVIRONMENT", "development"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Webhook: WebhookConfig{
			SigningSecret:   getEnv("WEBHOOK_SIGNING_SECRET", ""),
			SignatureHeader: getEnv("WEBHOOK_SIGNATURE_HEADER", "X-Aggregator-Signature"),
			QueueSize:       getEnvInt("WEBHOOK_QUEUE_SIZE", 256),
			Workers:         getEnvInt("WEBHOOK_WORKERS", 4),
			DedupTTL:        getEnvInt("WEBHOOK_DEDUP_TTL", 7*24*3600),
		},
		Scraper: ScraperConfig{
			Cron:              getEnv("SCRAPER_CRON", "0 */6 * * *"),
			AdapterTimeout:    getEnvInt("SCRAPER_ADAPTER_TIMEOUT", 30),
			Concurrency:       getEnvInt("SCRAPER_CONCURRENCY", 4),
			RequestsPerSecond: getEnvFloat("SCRAPER_REQUESTS_PER_SECOND", 1),
			UserAgent:         getEnv("SCRAPER_USER_AGENT", "DealDigestsBot/1.0 (+https://dealdigests.app/bot)"),
		},
		Aggregator: AggregatorConfig{
			BaseURL:      getEnv("AGGREGATOR_BASE_URL", "https://development.knotapi.com"),
			ClientID:     getEnv("AGGREGATOR_CLIENT_ID", ""),
			ClientSecret: getEnv("AGGREGATOR_CLIENT_SECRET", ""),
			Timeout:      getEnvInt("AGGREGATOR_TIMEOUT", 20),
			PageSize:     getEnvInt("AGGREGATOR_PAGE_SIZE", 100),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
		},
		Features: getEnv("FEATURES", ""),
	}

	// Load from config file if provided
	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Override with environment variables (they take precedence)
	overrideFromEnv(cfg)

	return cfg, nil
}

// loadFromFile loads configuration from a JSON file.
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, cfg)
}

// overrideFromEnv re-applies explicitly set environment variables over file values.
func overrideFromEnv(cfg *Config) {
	strs := map[string]*string{
		"SERVER_PORT":              &cfg.Server.Port,
		"SERVER_HOST":              &cfg.Server.Host,
		"SERVER_CERT_FILE":         &cfg.Server.CertFile,
		"SERVER_KEY_FILE":          &cfg.Server.KeyFile,
		"DATABASE_PATH":            &cfg.Database.Path,
		"ALLOWED_ORIGINS":          &cfg.Security.AllowedOrigins,
		"SERVICE_ENVIRONMENT":      &cfg.Log.Environment,
		"LOG_LEVEL":                &cfg.Log.Level,
		"TRACING_ENDPOINT":         &cfg.Tracing.Endpoint,
		"REDIS_ADDR":               &cfg.Redis.Addr,
		"REDIS_PASSWORD":           &cfg.Redis.Password,
		"WEBHOOK_SIGNING_SECRET":   &cfg.Webhook.SigningSecret,
		"WEBHOOK_SIGNATURE_HEADER": &cfg.Webhook.SignatureHeader,
		"SCRAPER_CRON":             &cfg.Scraper.Cron,
		"SCRAPER_USER_AGENT":       &cfg.Scraper.UserAgent,
		"AGGREGATOR_BASE_URL":      &cfg.Aggregator.BaseURL,
		"AGGREGATOR_CLIENT_ID":     &cfg.Aggregator.ClientID,
		"AGGREGATOR_CLIENT_SECRET": &cfg.Aggregator.ClientSecret,
		"AUTH_JWT_SECRET":          &cfg.Auth.JWTSecret,
		"FEATURES":                 &cfg.Features,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"SERVER_READ_TIMEOUT":     &cfg.Server.ReadTimeout,
		"SERVER_WRITE_TIMEOUT":    &cfg.Server.WriteTimeout,
		"RATE_LIMIT_RATE":         &cfg.RateLimit.Rate,
		"RATE_LIMIT_WINDOW":       &cfg.RateLimit.Window,
		"REDIS_DB":                &cfg.Redis.DB,
		"WEBHOOK_QUEUE_SIZE":      &cfg.Webhook.QueueSize,
		"WEBHOOK_WORKERS":         &cfg.Webhook.Workers,
		"WEBHOOK_DEDUP_TTL":       &cfg.Webhook.DedupTTL,
		"SCRAPER_ADAPTER_TIMEOUT": &cfg.Scraper.AdapterTimeout,
		"SCRAPER_CONCURRENCY":     &cfg.Scraper.Concurrency,
		"AGGREGATOR_TIMEOUT":      &cfg.Aggregator.Timeout,
		"AGGREGATOR_PAGE_SIZE":    &cfg.Aggregator.PageSize,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			if i, err := strconv.Atoi(v); err == nil {
				*dst = i
			}
		}
	}

	if maxBodySize := os.Getenv("MAX_REQUEST_BODY_SIZE"); maxBodySize != "" {
		if size, err := strconv.ParseInt(maxBodySize, 10, 64); err == nil {
			cfg.Security.MaxRequestBodySize = size
		}
	}
	if enabled := os.Getenv("RATE_LIMIT_ENABLED"); enabled != "" {
		cfg.RateLimit.Enabled = parseBool(enabled)
	}
	if enabled := os.Getenv("TRACING_ENABLED"); enabled != "" {
		cfg.Tracing.Enabled = parseBool(enabled)
	}
	if rps := os.Getenv("SCRAPER_REQUESTS_PER_SECOND"); rps != "" {
		if f, err := strconv.ParseFloat(rps, 64); err == nil {
			cfg.Scraper.RequestsPerSecond = f
		}
	}
}

// getEnv gets an environment variable or returns the default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable or returns the default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return parseBool(value)
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable or returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvInt64 gets an int64 environment variable or returns the default value.
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func parseBool(value string) bool {
	return strings.ToLower(value) == "true" || value == "1"
}

// AdapterTimeoutDuration returns the per-adapter scrape timeout.
func (c *Config) AdapterTimeoutDuration() time.Duration {
	return time.Duration(c.Scraper.AdapterTimeout) * time.Second
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if (c.Server.CertFile == "") != (c.Server.KeyFile == "") {
		return fmt.Errorf("cert file and key file must be set together")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Rate <= 0 {
			return fmt.Errorf("rate limit rate must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
	}
	if c.Webhook.SigningSecret == "" {
		return fmt.Errorf("webhook signing secret is required")
	}
	if c.Webhook.SignatureHeader == "" {
		return fmt.Errorf("webhook signature header is required")
	}
	if c.Webhook.QueueSize <= 0 || c.Webhook.Workers <= 0 {
		return fmt.Errorf("webhook queue size and workers must be positive")
	}
	if c.Scraper.Cron != "" {
		if _, err := cron.ParseStandard(c.Scraper.Cron); err != nil {
			return fmt.Errorf("invalid scraper cron %q: %w", c.Scraper.Cron, err)
		}
	}
	if c.Scraper.AdapterTimeout <= 0 {
		return fmt.Errorf("scraper adapter timeout must be positive")
	}
	if c.Scraper.Concurrency <= 0 {
		return fmt.Errorf("scraper concurrency must be positive")
	}
	for i, src := range c.Scraper.Sources {
		if src.Name == "" || src.URL == "" {
			return fmt.Errorf("scraper source %d: name and url are required", i)
		}
		if src.Kind != "html" && src.Kind != "json" {
			return fmt.Errorf("scraper source %q: kind must be html or json", src.Name)
		}
	}
	return nil
}
