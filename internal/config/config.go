package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

type Config struct {
	Port    string `env:"PORT"     envDefault:"8080"`
	BaseURL string `env:"BASE_URL" envDefault:"http://localhost:8080"`

	PostgresURL   string `env:"DB_URL,notEmpty"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	ClickHouseAddr     string `env:"CLICKHOUSE_ADDR,notEmpty"`
	ClickHouseUser     string `env:"CLICKHOUSE_USER"     envDefault:"default"`
	ClickHousePassword string `env:"CLICKHOUSE_PASSWORD"`
	ClickHouseDB       string `env:"CLICKHOUSE_DB"       envDefault:"default"`
	GeoIPDBPath        string `env:"GEOIP_DB_PATH"`

	// TelegramToken is optional; the bot is not started without it.
	TelegramToken string `env:"TELEGRAM_API_TOKEN"`

	StoreBackend       string        `env:"STORE_BACKEND"        envDefault:"redis"`
	MemoryQuotaBytes   int           `env:"MEMORY_QUOTA_BYTES"   envDefault:"5242880"`
	SessionTimeout     time.Duration `env:"SESSION_TIMEOUT"      envDefault:"30m"`
	RecordTTL          time.Duration `env:"RECORD_TTL"           envDefault:"2160h"`
	MaxRecordAge       time.Duration `env:"MAX_RECORD_AGE"       envDefault:"2160h"`
	KeepPageViews      int           `env:"KEEP_PAGE_VIEWS"      envDefault:"10"`
	AttributionWindows bool          `env:"ATTRIBUTION_WINDOWS"  envDefault:"false"`
	ClassifierTables   string        `env:"CLASSIFIER_TABLES_PATH"`
}

// Load parses the process environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.StoreBackend {
	case BackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for store backend %q", c.StoreBackend)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.SessionTimeout <= 0 {
		return fmt.Errorf("SESSION_TIMEOUT must be positive, got %s", c.SessionTimeout)
	}
	return nil
}
