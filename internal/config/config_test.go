package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"RTDS_URL", "WHALE_THRESHOLD_USD", "ENRICHMENT_TTL_HOURS", "DB_DRIVER",
		"DATABASE_PATH", "KAFKA_BROKERS", "RESOLUTION_CHECK_INTERVAL_HOURS",
		"DATA_RETENTION_DAYS", "WHALE_QUEUE_SIZE", "HTTP_PORT",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.WhaleThresholdUSD != 10000 {
		t.Errorf("WhaleThresholdUSD = %v, want 10000", cfg.WhaleThresholdUSD)
	}
	if cfg.EnrichmentTTL != 24*time.Hour {
		t.Errorf("EnrichmentTTL = %v, want 24h", cfg.EnrichmentTTL)
	}
	if cfg.ResolutionInterval != time.Hour {
		t.Errorf("ResolutionInterval = %v, want 1h", cfg.ResolutionInterval)
	}
	if cfg.DBDriver != "sqlite" || cfg.DSN() != "polymarket_whales.db" {
		t.Errorf("ledger = %s %s, want sqlite polymarket_whales.db", cfg.DBDriver, cfg.DSN())
	}
	if cfg.RetentionDays != 30 {
		t.Errorf("RetentionDays = %d, want 30", cfg.RetentionDays)
	}
	if len(cfg.KafkaBrokers) != 0 {
		t.Errorf("KafkaBrokers = %v, want none", cfg.KafkaBrokers)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("WHALE_THRESHOLD_USD", "25000.5")
	t.Setenv("RESOLUTION_CHECK_INTERVAL_HOURS", "0.5")
	t.Setenv("DB_DRIVER", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://whales:hunter2@db:5432/whales")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("KAFKA_TOPIC", "whales")
	t.Setenv("RESOLUTION_DELAY_MS", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.WhaleThresholdUSD != 25000.5 {
		t.Errorf("WhaleThresholdUSD = %v", cfg.WhaleThresholdUSD)
	}
	if cfg.ResolutionInterval != 30*time.Minute {
		t.Errorf("ResolutionInterval = %v, want 30m", cfg.ResolutionInterval)
	}
	if cfg.ResolutionDelay != 500*time.Millisecond {
		t.Errorf("invalid value should fall back to default, got %v", cfg.ResolutionDelay)
	}
	if cfg.DBDriver != "postgres" {
		t.Errorf("DBDriver = %q", cfg.DBDriver)
	}
	if got := cfg.MaskedDSN(); got != "postgres://whales:xxxxx@db:5432/whales" {
		t.Errorf("MaskedDSN() = %q", got)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			RTDSURL:            "wss://ws-live-data.polymarket.com",
			WhaleThresholdUSD:  10000,
			WhaleQueueSize:     10,
			EnrichmentTTL:      time.Hour,
			ResolutionInterval: time.Hour,
			DBDriver:           "sqlite",
			DBPath:             "x.db",
			RetentionDays:      30,
			HTTPPort:           9090,
		}
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"http stream url", func(c *Config) { c.RTDSURL = "https://example.com" }},
		{"zero threshold", func(c *Config) { c.WhaleThresholdUSD = 0 }},
		{"empty queue", func(c *Config) { c.WhaleQueueSize = 0 }},
		{"unknown driver", func(c *Config) { c.DBDriver = "mysql" }},
		{"postgres without url", func(c *Config) { c.DBDriver = "postgres" }},
		{"zero retention", func(c *Config) { c.RetentionDays = 0 }},
		{"kafka without topic", func(c *Config) { c.KafkaBrokers = []string{"k:9092"} }},
		{"bad port", func(c *Config) { c.HTTPPort = 70000 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			if err := c.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestMaskSecret(t *testing.T) {
	tests := map[string]string{
		"":                                   "(not set)",
		"short":                              "****",
		"https://discord.com/api/webhooks/1": "http****ks/1",
	}
	for in, want := range tests {
		if got := maskSecret(in); got != want {
			t.Errorf("maskSecret(%q) = %q, want %q", in, got, want)
		}
	}
}
