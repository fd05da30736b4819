package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jsndz/signalpush/pkg/config"
)

func writeTempYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault_MatchesPipelineConstants(t *testing.T) {
	cfg := config.Default()

	if cfg.Analytics.FlushInterval != 10*time.Second {
		t.Errorf("expected 10s flush interval, got %s", cfg.Analytics.FlushInterval)
	}
	if cfg.Analytics.TempKeyTTL != 15*time.Minute {
		t.Errorf("expected 15m temp key ttl, got %s", cfg.Analytics.TempKeyTTL)
	}
	if cfg.Analytics.RetryTTL != 30*time.Minute {
		t.Errorf("expected 30m retry ttl, got %s", cfg.Analytics.RetryTTL)
	}
	if cfg.Dispatch.CacheTTL != 24*time.Hour {
		t.Errorf("expected 24h cache ttl, got %s", cfg.Dispatch.CacheTTL)
	}
	if cfg.Dispatch.Concurrency < 1 {
		t.Errorf("expected cpu sized pool, got %d", cfg.Dispatch.Concurrency)
	}
}

func TestLoadConfig_MissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("KAFKA_BROKER", "")
	cfg, err := config.LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("expected no error for missing file, got: %v", err)
	}
	if cfg.Kafka.EventsTopic != "notification.events" {
		t.Errorf("expected default events topic, got %s", cfg.Kafka.EventsTopic)
	}
}

func TestLoadConfig_OverridesDefaults(t *testing.T) {
	t.Setenv("KAFKA_BROKER", "")
	path := writeTempYAML(t, `
kafka:
  eventsTopic: events.v2
analytics:
  flushInterval: 2s
  retryTTL: 1h
dispatch:
  concurrency: 0
  maxAttempts: 5
`)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.Kafka.EventsTopic != "events.v2" {
		t.Errorf("expected events.v2, got %s", cfg.Kafka.EventsTopic)
	}
	if cfg.Kafka.JobsTopic != "notification.push" {
		t.Errorf("expected untouched jobs topic, got %s", cfg.Kafka.JobsTopic)
	}
	if cfg.Analytics.FlushInterval != 2*time.Second {
		t.Errorf("expected 2s, got %s", cfg.Analytics.FlushInterval)
	}
	if cfg.Analytics.RetryTTL != time.Hour {
		t.Errorf("expected 1h, got %s", cfg.Analytics.RetryTTL)
	}
	if cfg.Dispatch.Concurrency < 1 {
		t.Errorf("expected concurrency 0 to resolve to cpu count, got %d", cfg.Dispatch.Concurrency)
	}
	if cfg.Dispatch.MaxAttempts != 5 {
		t.Errorf("expected 5 attempts, got %d", cfg.Dispatch.MaxAttempts)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKER", "k1:9092,k2:9092")
	t.Setenv("REDIS_ADDR", "cache:6379")
	t.Setenv("DATABASE_URL", "postgres://push@db/push")

	cfg, err := config.LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("expected two brokers from env, got %v", cfg.Kafka.Brokers)
	}
	if cfg.Redis.Addr != "cache:6379" {
		t.Errorf("expected redis addr from env, got %s", cfg.Redis.Addr)
	}
	if cfg.Database.DSN != "postgres://push@db/push" {
		t.Errorf("expected dsn from env, got %s", cfg.Database.DSN)
	}
}

func TestLoadConfig_RejectsInvalid(t *testing.T) {
	t.Setenv("KAFKA_BROKER", "")
	path := writeTempYAML(t, `
dispatch:
  maxAttempts: 0
`)
	if _, err := config.LoadConfig(path); err == nil {
		t.Fatal("expected validation error for maxAttempts 0")
	}
}

func TestLoadConfig_BadYAML(t *testing.T) {
	path := writeTempYAML(t, "kafka: [unterminated")
	if _, err := config.LoadConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}
