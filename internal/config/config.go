// Package config loads process configuration from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"candle-engine/internal/aggregation"
	"candle-engine/internal/storage/clickhouse"
	"candle-engine/internal/feed"
	"candle-engine/internal/lock"
	"candle-engine/internal/logging"
	"candle-engine/internal/retention"
)

// Config represents the application configuration.
type Config struct {
	App         AppConfig         `envPrefix:"APP_"`
	Log         logging.Config    `envPrefix:"LOG_"`
	Postgres    PostgresConfig    `envPrefix:"POSTGRES_"`
	ClickHouse  ClickHouseConfig  `envPrefix:"CLICKHOUSE_"`
	Redis       lock.RedisConfig  `envPrefix:"REDIS_"`
	Kafka       KafkaConfig       `envPrefix:"KAFKA_"`
	WS          WSConfig          `envPrefix:"WS_"`
	Retention   RetentionConfig   `envPrefix:"RETENTION_"`
	Aggregation AggregationConfig `envPrefix:"AGGREGATION_"`
	Metrics     MetricsConfig     `envPrefix:"METRICS_"`
}

// AppConfig selects backends.
type AppConfig struct {
	Name        string `env:"NAME" envDefault:"candle-engine"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	Store       string `env:"STORE" envDefault:"memory"` // memory | postgres
	Feed        string `env:"FEED" envDefault:"none"`    // none | ws | kafka
	Lock        string `env:"LOCK" envDefault:"local"`   // none | local | redis
}

// PostgresConfig configures the pgx pool.
type PostgresConfig struct {
	DSN             string        `env:"DSN" envDefault:"postgres://localhost:5432/candles?sslmode=disable"`
	MaxConns        int32         `env:"MAX_CONNS" envDefault:"10"`
	MinConns        int32         `env:"MIN_CONNS" envDefault:"2"`
	MaxConnLifetime time.Duration `env:"MAX_CONN_LIFETIME" envDefault:"1h"`
	Migrate         bool          `env:"MIGRATE" envDefault:"true"`
}

// ClickHouseConfig configures the optional tick archive.
type ClickHouseConfig struct {
	Enabled       bool          `env:"ENABLED" envDefault:"false"`
	DSN           string        `env:"DSN" envDefault:"clickhouse://localhost:9000/default"`
	BatchSize     int           `env:"BATCH_SIZE" envDefault:"1000"`
	FlushInterval time.Duration `env:"FLUSH_INTERVAL" envDefault:"2s"`
}

// KafkaConfig configures the Kafka feed.
type KafkaConfig struct {
	Brokers []string `env:"BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	Topic   string   `env:"TOPIC" envDefault:"ticks"`
	GroupID string   `env:"GROUP_ID" envDefault:"candle-engine"`
}

// WSConfig configures the WebSocket feed.
type WSConfig struct {
	URL               string        `env:"URL"`
	Symbols           []string      `env:"SYMBOLS" envSeparator:","`
	ReconnectDelay    time.Duration `env:"RECONNECT_DELAY" envDefault:"1s"`
	MaxReconnectDelay time.Duration `env:"MAX_RECONNECT_DELAY" envDefault:"30s"`
	PingInterval      time.Duration `env:"PING_INTERVAL" envDefault:"30s"`
	ReadTimeout       time.Duration `env:"READ_TIMEOUT" envDefault:"60s"`
}

// RetentionConfig configures the sweeper.
type RetentionConfig struct {
	Enabled          bool          `env:"ENABLED" envDefault:"true"`
	Interval         time.Duration `env:"INTERVAL" envDefault:"1h"`
	TickRetention    time.Duration `env:"TICKS" envDefault:"168h"`
	CandleRetention  time.Duration `env:"CANDLES" envDefault:"2160h"`
	CandleTimeframes []string      `env:"CANDLE_TIMEFRAMES" envSeparator:"," envDefault:"1day"`
}

// AggregationConfig configures candle updates and the dispatcher.
type AggregationConfig struct {
	Policy    string        `env:"POLICY" envDefault:"range_fold"`
	Workers   int           `env:"WORKERS" envDefault:"8"`
	QueueSize int           `env:"QUEUE_SIZE" envDefault:"1024"`
	LockTTL   time.Duration `env:"LOCK_TTL" envDefault:"10s"`
}

// MetricsConfig configures the metrics/health HTTP server.
type MetricsConfig struct {
	Enabled bool   `env:"ENABLED" envDefault:"true"`
	Addr    string `env:"ADDR" envDefault:":9090"`
}

// Load reads the given .env files (default ".env") when present, then parses
// the environment. Variables already set win over file values.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerated values and required combinations.
func (c *Config) Validate() error {
	switch c.App.Store {
	case "memory", "postgres":
	default:
		return fmt.Errorf("APP_STORE: unknown store %q", c.App.Store)
	}
	switch c.App.Feed {
	case "none":
	case "ws":
		if c.WS.URL == "" {
			return errors.New("WS_URL is required when APP_FEED=ws")
		}
	case "kafka":
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
			return errors.New("KAFKA_BROKERS and KAFKA_TOPIC are required when APP_FEED=kafka")
		}
	default:
		return fmt.Errorf("APP_FEED: unknown feed %q", c.App.Feed)
	}
	switch c.App.Lock {
	case "none", "local", "redis":
	default:
		return fmt.Errorf("APP_LOCK: unknown lock %q", c.App.Lock)
	}
	if _, err := aggregation.ParsePolicy(c.Aggregation.Policy); err != nil {
		return fmt.Errorf("AGGREGATION_POLICY: %w", err)
	}
	if c.ClickHouse.Enabled && c.App.Store != "postgres" {
		return errors.New("CLICKHOUSE_ENABLED requires APP_STORE=postgres")
	}
	return nil
}

// UpdatePolicy returns the parsed aggregation policy.
func (c *Config) UpdatePolicy() aggregation.UpdatePolicy {
	p, _ := aggregation.ParsePolicy(c.Aggregation.Policy)
	return p
}

// RetentionPolicy converts the retention settings.
func (c *Config) RetentionPolicy() retention.Policy {
	return retention.Policy{
		TickRetention:    c.Retention.TickRetention,
		CandleRetention:  c.Retention.CandleRetention,
		CandleTimeframes: c.Retention.CandleTimeframes,
	}
}

// FeedWS converts the WebSocket settings.
func (c *Config) FeedWS() feed.WSConfig {
	cfg := feed.DefaultWSConfig()
	cfg.URL = c.WS.URL
	cfg.Symbols = c.WS.Symbols
	cfg.ReconnectDelay = c.WS.ReconnectDelay
	cfg.MaxReconnectDelay = c.WS.MaxReconnectDelay
	cfg.PingInterval = c.WS.PingInterval
	cfg.ReadTimeout = c.WS.ReadTimeout
	return cfg
}

// FeedKafka converts the Kafka settings.
func (c *Config) FeedKafka() feed.KafkaConfig {
	return feed.KafkaConfig{
		Brokers: c.Kafka.Brokers,
		Topic:   c.Kafka.Topic,
		GroupID: c.Kafka.GroupID,
	}
}

// ArchiveWriter converts the archive batching settings.
func (c *Config) ArchiveWriter() clickhouse.ArchiveWriterConfig {
	return clickhouse.ArchiveWriterConfig{
		BatchSize:     c.ClickHouse.BatchSize,
		FlushInterval: c.ClickHouse.FlushInterval,
	}
}
