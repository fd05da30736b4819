package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/jsndz/signalpush/pkg/utils"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Database  DatabaseConfig  `yaml:"database"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	HTTP      HTTPConfig      `yaml:"http"`
	Webhook   WebhookConfig   `yaml:"webhook"`
}

type KafkaConfig struct {
	Brokers      []string `yaml:"brokers"`
	EventsTopic  string   `yaml:"eventsTopic"`
	JobsTopic    string   `yaml:"jobsTopic"`
	DLQTopic     string   `yaml:"dlqTopic"`
	WebhookTopic string   `yaml:"webhookTopic"`
	DeltaGroup   string   `yaml:"deltaGroup"`
	BufferGroup  string   `yaml:"bufferGroup"`
	PushGroup    string   `yaml:"pushGroup"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// AnalyticsConfig tunes the event consumers and the periodic flusher.
type AnalyticsConfig struct {
	FlushInterval time.Duration `yaml:"flushInterval"`
	// TempKeyTTL bounds how long a rotated key survives without a commit.
	TempKeyTTL time.Duration `yaml:"tempKeyTTL"`
	// RetryTTL bounds how long a failed batch stays on a retry list.
	RetryTTL     time.Duration `yaml:"retryTTL"`
	StoreTimeout time.Duration `yaml:"storeTimeout"`
	LockTTL      time.Duration `yaml:"lockTTL"`
	ScanCount    int64         `yaml:"scanCount"`
	AdminAddr    string        `yaml:"adminAddr"`
}

type DispatchConfig struct {
	// Concurrency is the number of job workers; 0 means runtime.NumCPU().
	Concurrency  int           `yaml:"concurrency"`
	FanoutLimit  int           `yaml:"fanoutLimit"`
	MaxAttempts  int           `yaml:"maxAttempts"`
	BaseBackoff  time.Duration `yaml:"baseBackoff"`
	MaxBackoff   time.Duration `yaml:"maxBackoff"`
	CacheTTL     time.Duration `yaml:"cacheTTL"`
	SendTimeout  time.Duration `yaml:"sendTimeout"`
	PushTTL      int           `yaml:"pushTTL"`
	VAPIDSubject string        `yaml:"vapidSubject"`
	MetricsAddr  string        `yaml:"metricsAddr"`
}

type HTTPConfig struct {
	Addr        string  `yaml:"addr"`
	BeaconRate  float64 `yaml:"beaconRate"`
	BeaconBurst int     `yaml:"beaconBurst"`
}

type WebhookConfig struct {
	BufferSize int `yaml:"bufferSize"`
}

// Default returns the configuration used when no file overrides a value.
func Default() *Config {
	return &Config{
		Kafka: KafkaConfig{
			Brokers:      []string{"localhost:9092"},
			EventsTopic:  "notification.events",
			JobsTopic:    "notification.push",
			DLQTopic:     "notification.push.dlq",
			WebhookTopic: "notification.webhooks",
			DeltaGroup:   "analytics-delta",
			BufferGroup:  "analytics-buffer",
			PushGroup:    "push-worker",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Analytics: AnalyticsConfig{
			FlushInterval: 10 * time.Second,
			TempKeyTTL:    15 * time.Minute,
			RetryTTL:      30 * time.Minute,
			StoreTimeout:  5 * time.Second,
			LockTTL:       time.Minute,
			ScanCount:     100,
			AdminAddr:     ":3002",
		},
		Dispatch: DispatchConfig{
			Concurrency:  runtime.NumCPU(),
			FanoutLimit:  64,
			MaxAttempts:  3,
			BaseBackoff:  time.Second,
			MaxBackoff:   30 * time.Second,
			CacheTTL:     24 * time.Hour,
			SendTimeout:  10 * time.Second,
			PushTTL:      60 * 60 * 24,
			VAPIDSubject: "mailto:push@signalpush.dev",
			MetricsAddr:  ":3001",
		},
		HTTP: HTTPConfig{
			Addr:        ":3000",
			BeaconRate:  50,
			BeaconBurst: 100,
		},
		Webhook: WebhookConfig{
			BufferSize: 1024,
		},
	}
}

// LoadConfig reads the YAML file at path over Default() and applies env
// overrides. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if cfg.Dispatch.Concurrency == 0 {
		cfg.Dispatch.Concurrency = runtime.NumCPU()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if brokers := utils.SplitList(utils.GetEnv("KAFKA_BROKER")); len(brokers) > 0 {
		c.Kafka.Brokers = brokers
	}
	c.Redis.Addr = utils.GetEnvOr("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = utils.GetEnvOr("REDIS_PASSWORD", c.Redis.Password)
	c.Database.DSN = utils.GetEnvOr("DATABASE_URL", c.Database.DSN)
	c.Dispatch.VAPIDSubject = utils.GetEnvOr("VAPID_SUBJECT", c.Dispatch.VAPIDSubject)
}

func (c *Config) Validate() error {
	if len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers must not be empty")
	}
	if c.Kafka.EventsTopic == "" || c.Kafka.JobsTopic == "" {
		return errors.New("kafka.eventsTopic and kafka.jobsTopic are required")
	}
	if c.Analytics.FlushInterval <= 0 {
		return errors.New("analytics.flushInterval must be positive")
	}
	if c.Analytics.TempKeyTTL <= 0 || c.Analytics.RetryTTL <= 0 {
		return errors.New("analytics.tempKeyTTL and analytics.retryTTL must be positive")
	}
	if c.Analytics.StoreTimeout <= 0 {
		return errors.New("analytics.storeTimeout must be positive")
	}
	if c.Dispatch.Concurrency < 0 {
		return errors.New("dispatch.concurrency must be >= 0")
	}
	if c.Dispatch.MaxAttempts < 1 {
		return errors.New("dispatch.maxAttempts must be at least 1")
	}
	if c.Dispatch.FanoutLimit < 1 {
		return errors.New("dispatch.fanoutLimit must be at least 1")
	}
	if c.Webhook.BufferSize < 1 {
		return errors.New("webhook.bufferSize must be at least 1")
	}
	return nil
}
