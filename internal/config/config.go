package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP     HTTPConfig   `yaml:"http"`
	Store    StoreConfig  `yaml:"store"`
	Engine   EngineConfig `yaml:"engine"`
	Feed     FeedConfig   `yaml:"feed"`
	Kafka    KafkaConfig  `yaml:"kafka"`
	Redis    RedisConfig  `yaml:"redis"`
	LogLevel string       `yaml:"log_level"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StoreConfig struct {
	// Driver is "memory" or "postgres".
	Driver      string `yaml:"driver"`
	DatabaseURL string `yaml:"database_url"`
	// MigrateOnStart applies the schema before serving.
	MigrateOnStart bool `yaml:"migrate_on_start"`
}

type EngineConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
}

type FeedConfig struct {
	// Sink is "none", "kafka" or "redis".
	Sink         string        `yaml:"sink"`
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
}

type KafkaConfig struct {
	Brokers        []string `yaml:"brokers"`
	TicketsTopic   string   `yaml:"tickets_topic"`
	TerminalsTopic string   `yaml:"terminals_topic"`
}

type RedisConfig struct {
	URL    string `yaml:"url"`
	Stream string `yaml:"stream"`
	MaxLen int64  `yaml:"max_len"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Driver: "memory",
		},
		Engine: EngineConfig{
			MaxAttempts: 3,
		},
		Feed: FeedConfig{
			Sink:         "none",
			PollInterval: time.Second,
			BatchSize:    100,
		},
		Kafka: KafkaConfig{
			Brokers:        []string{"localhost:9092"},
			TicketsTopic:   "supportqueue-tickets",
			TerminalsTopic: "supportqueue-terminals",
		},
		Redis: RedisConfig{
			URL:    "redis://localhost:6379/0",
			Stream: "supportqueue.events",
			MaxLen: 100000,
		},
		LogLevel: "info",
	}
}

// Load reads path, or config.yaml when path is empty, on top of the
// defaults and then applies environment overrides. A missing default
// file is not an error; a missing explicit file is.
func Load(path string) (*Config, error) {
	cfg := Default()

	file := path
	if file == "" {
		file = "config.yaml"
	}
	data, err := os.ReadFile(file)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", file, err)
		}
	case path != "" || !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("read %s: %w", file, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("SUPPORTQUEUE_HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv("SUPPORTQUEUE_STORE_DRIVER"); v != "" {
		c.Store.Driver = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Store.DatabaseURL = v
	}
	if v := os.Getenv("SUPPORTQUEUE_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SUPPORTQUEUE_MAX_ATTEMPTS: %w", err)
		}
		c.Engine.MaxAttempts = n
	}
	if v := os.Getenv("SUPPORTQUEUE_FEED_SINK"); v != "" {
		c.Feed.Sink = v
	}
	if v := os.Getenv("SUPPORTQUEUE_FEED_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SUPPORTQUEUE_FEED_POLL_INTERVAL: %w", err)
		}
		c.Feed.PollInterval = d
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	return nil
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return errors.New("store.database_url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if c.Engine.MaxAttempts < 1 {
		return fmt.Errorf("engine.max_attempts must be at least 1, got %d", c.Engine.MaxAttempts)
	}
	switch c.Feed.Sink {
	case "none":
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			return errors.New("kafka.brokers is required for the kafka sink")
		}
	case "redis":
		if c.Redis.URL == "" || c.Redis.Stream == "" {
			return errors.New("redis.url and redis.stream are required for the redis sink")
		}
	default:
		return fmt.Errorf("unknown feed.sink %q", c.Feed.Sink)
	}
	if c.Feed.PollInterval <= 0 || c.Feed.BatchSize <= 0 {
		return errors.New("feed.poll_interval and feed.batch_size must be positive")
	}
	return nil
}
