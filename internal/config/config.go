// Package config handles loading and validating configuration from environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration values for the whale ledger.
type Config struct {
	// Real-time trade stream
	RTDSURL           string
	WhaleThresholdUSD float64
	WhaleQueueSize    int

	// Polymarket REST APIs
	DataAPIURL        string
	GammaAPIURL       string
	DataAPIRPS        float64
	EnrichmentTTL     time.Duration
	EnrichmentTimeout time.Duration

	// Resolution tracking
	ResolutionInterval   time.Duration
	ResolutionTimeout    time.Duration
	ResolutionDelay      time.Duration
	ResolutionStartDelay time.Duration

	// Wallet flags
	BurstCount  int
	BurstWindow time.Duration

	// Database
	DBDriver      string
	DBPath        string
	DatabaseURL   string
	RetentionDays int

	// Alerting
	DiscordWebhookURL string
	KafkaBrokers      []string
	KafkaTopic        string

	// Service
	StatsInterval time.Duration
	HTTPPort      int

	// UI
	EnableTUI     bool
	UIRefreshRate time.Duration

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables with fallback to .env file.
// Priority order: Environment variables > .env file > hardcoded defaults
func Load() (*Config, error) {
	// Attempt to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		// Stream
		RTDSURL:           getEnv("RTDS_URL", "wss://ws-live-data.polymarket.com"),
		WhaleThresholdUSD: getEnvFloat("WHALE_THRESHOLD_USD", 10000),
		WhaleQueueSize:    getEnvInt("WHALE_QUEUE_SIZE", 256),

		// APIs
		DataAPIURL:        getEnv("DATA_API_URL", "https://data-api.polymarket.com"),
		GammaAPIURL:       getEnv("GAMMA_API_URL", "https://gamma-api.polymarket.com"),
		DataAPIRPS:        getEnvFloat("DATA_API_RPS", 5),
		EnrichmentTTL:     hours(getEnvFloat("ENRICHMENT_TTL_HOURS", 24)),
		EnrichmentTimeout: time.Duration(getEnvInt("ENRICHMENT_TIMEOUT_SECONDS", 10)) * time.Second,

		// Resolution
		ResolutionInterval:   hours(getEnvFloat("RESOLUTION_CHECK_INTERVAL_HOURS", 1)),
		ResolutionTimeout:    time.Duration(getEnvInt("RESOLUTION_TIMEOUT_SECONDS", 30)) * time.Second,
		ResolutionDelay:      time.Duration(getEnvInt("RESOLUTION_DELAY_MS", 500)) * time.Millisecond,
		ResolutionStartDelay: time.Duration(getEnvInt("RESOLUTION_START_DELAY_SECONDS", 60)) * time.Second,

		// Flags
		BurstCount:  getEnvInt("BURST_COUNT", 3),
		BurstWindow: time.Duration(getEnvInt("BURST_WINDOW_SECONDS", 600)) * time.Second,

		// Database
		DBDriver:      strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		DBPath:        getEnv("DATABASE_PATH", "polymarket_whales.db"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RetentionDays: getEnvInt("DATA_RETENTION_DAYS", 30),

		// Alerting
		DiscordWebhookURL: getEnv("DISCORD_WEBHOOK_URL", ""),
		KafkaBrokers:      getEnvList("KAFKA_BROKERS"),
		KafkaTopic:        getEnv("KAFKA_TOPIC", "whale-trades"),

		// Service
		StatsInterval: time.Duration(getEnvInt("STATS_INTERVAL_SECONDS", 300)) * time.Second,
		HTTPPort:      getEnvInt("HTTP_PORT", 9090),

		// UI
		EnableTUI:     getEnvBool("ENABLE_TUI", false),
		UIRefreshRate: time.Duration(getEnvInt("UI_REFRESH_RATE_MS", 1000)) * time.Millisecond,

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "INFO"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set and valid.
func (c *Config) Validate() error {
	u, err := url.Parse(c.RTDSURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return fmt.Errorf("RTDS_URL must be a ws:// or wss:// URL")
	}

	if c.WhaleThresholdUSD <= 0 {
		return fmt.Errorf("WHALE_THRESHOLD_USD must be positive")
	}

	if c.WhaleQueueSize < 1 {
		return fmt.Errorf("WHALE_QUEUE_SIZE must be at least 1")
	}

	if c.EnrichmentTTL <= 0 {
		return fmt.Errorf("ENRICHMENT_TTL_HOURS must be positive")
	}

	if c.ResolutionInterval <= 0 {
		return fmt.Errorf("RESOLUTION_CHECK_INTERVAL_HOURS must be positive")
	}

	switch c.DBDriver {
	case "sqlite":
		if c.DBPath == "" {
			return fmt.Errorf("DATABASE_PATH is required for the sqlite driver")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", c.DBDriver)
	}

	if c.RetentionDays < 1 {
		return fmt.Errorf("DATA_RETENTION_DAYS must be at least 1")
	}

	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return fmt.Errorf("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}

	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 0 and 65535")
	}

	return nil
}

// DSN returns the data source for the configured ledger driver.
func (c *Config) DSN() string {
	if c.DBDriver == "postgres" {
		return c.DatabaseURL
	}
	return c.DBPath
}

// MaskedDiscordWebhook returns the webhook URL with most characters hidden for logging.
func (c *Config) MaskedDiscordWebhook() string {
	return maskSecret(c.DiscordWebhookURL)
}

// MaskedDSN returns the data source with credentials hidden for logging.
func (c *Config) MaskedDSN() string {
	dsn := c.DSN()
	u, err := url.Parse(dsn)
	if err != nil {
		return dsn
	}
	return u.Redacted()
}

// maskSecret hides all but the first and last 4 characters of a secret.
func maskSecret(s string) string {
	if len(s) <= 8 {
		if len(s) == 0 {
			return "(not set)"
		}
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an environment variable as an integer or returns a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat retrieves an environment variable as a float64 or returns a default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvBool retrieves an environment variable as a boolean or returns a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty entries.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
