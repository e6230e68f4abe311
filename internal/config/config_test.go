package config

import (
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DB_URL", "postgres://localhost/attribution")
	t.Setenv("CLICKHOUSE_ADDR", "localhost:9000")
	t.Setenv("REDIS_ADDR", "localhost:6379")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.StoreBackend != BackendRedis {
		t.Fatalf("expected redis backend, got %q", cfg.StoreBackend)
	}
	if cfg.SessionTimeout != 30*time.Minute {
		t.Fatalf("expected 30m session timeout, got %s", cfg.SessionTimeout)
	}
	if cfg.MaxRecordAge != 90*24*time.Hour {
		t.Fatalf("expected 90 day record age, got %s", cfg.MaxRecordAge)
	}
	if cfg.AttributionWindows {
		t.Fatal("attribution windows should be off by default")
	}
	if cfg.TelegramToken != "" {
		t.Fatal("telegram token should be empty by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("SESSION_TIMEOUT", "45m")
	t.Setenv("ATTRIBUTION_WINDOWS", "true")
	t.Setenv("KEEP_PAGE_VIEWS", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StoreBackend != BackendMemory || cfg.SessionTimeout != 45*time.Minute ||
		!cfg.AttributionWindows || cfg.KeepPageViews != 5 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing postgres", map[string]string{"DB_URL": ""}, "DB_URL"},
		{"unknown backend", map[string]string{"STORE_BACKEND": "sqlite"}, "unknown STORE_BACKEND"},
		{"redis without address", map[string]string{"REDIS_ADDR": ""}, "REDIS_ADDR"},
		{"bad timeout", map[string]string{"SESSION_TIMEOUT": "0s"}, "SESSION_TIMEOUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}
