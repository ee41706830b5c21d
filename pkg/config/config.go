package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/0x556c79/deltabadger/pkg/util"
)

// Config is the full application configuration, loaded from YAML with
// environment overrides for deploy-time values.
type Config struct {
	Environment   string              `yaml:"environment"`
	Server        ServerConfig        `yaml:"server"`
	Redis         RedisConfig         `yaml:"redis"`
	Queue         QueueConfig         `yaml:"queue"`
	Sweep         SweepConfig         `yaml:"sweep"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	ClickHouse    ClickHouseConfig    `yaml:"clickhouse"`
	Binance       BinanceConfig       `yaml:"binance"`
	MarketData    MarketDataConfig    `yaml:"marketdata"`
	Tickers       TickersConfig       `yaml:"tickers"`
	Notifications NotificationsConfig `yaml:"notifications"`
}

// ServerConfig tunes the HTTP listener.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RedisConfig locates the Redis instance backing cache and queue.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// QueueConfig tunes the delayed action queue.
type QueueConfig struct {
	KeyPrefix    string        `yaml:"key_prefix"`
	Workers      int           `yaml:"workers"`
	QueueSize    int           `yaml:"queue_size"`
	PollInterval time.Duration `yaml:"poll_interval"`
	RetryLimit   int           `yaml:"retry_limit"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
}

// SweepConfig sets the orphan repair cadence, in cron syntax.
type SweepConfig struct {
	Schedule string `yaml:"schedule"`
}

// KafkaConfig covers brokers, topics and the producer/consumer tunables.
type KafkaConfig struct {
	Brokers            []string       `yaml:"brokers"`
	NotificationsTopic string         `yaml:"notifications_topic"`
	FillsTopic         string         `yaml:"fills_topic"`
	ErrorsTopic        string         `yaml:"errors_topic"`
	RequiredAcks       int            `yaml:"required_acks"`
	Compression        string         `yaml:"compression"`
	Producer           ProducerConfig `yaml:"producer"`
	Consumer           ConsumerConfig `yaml:"consumer"`
}

// ProducerConfig tunes outbound Kafka batching.
type ProducerConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	Linger       time.Duration `yaml:"linger"`
	BatchBytes   int           `yaml:"batch_bytes"`
	BatchSize    int           `yaml:"batch_size"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	Async        bool          `yaml:"async"`
}

// ConsumerConfig tunes the fills consumer group.
type ConsumerConfig struct {
	GroupID    string        `yaml:"group_id"`
	Workers    int           `yaml:"workers"`
	BufferSize int           `yaml:"buffer_size"`
	RetryMax   int           `yaml:"retry_max"`
	BackoffMin time.Duration `yaml:"backoff_min"`
	BackoffMax time.Duration `yaml:"backoff_max"`
	DLQTopic   string        `yaml:"dlq_topic"`
	MinBytes   int           `yaml:"min_bytes"`
	MaxBytes   int           `yaml:"max_bytes"`
}

// ClickHouseConfig locates the transaction store.
type ClickHouseConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	Database         string        `yaml:"database"`
	User             string        `yaml:"user"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	AsyncInsert      bool          `yaml:"async_insert"`
	WaitForAsync     bool          `yaml:"wait_for_async_insert"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time"`
}

// BinanceConfig holds exchange credentials.
type BinanceConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Testnet   bool   `yaml:"testnet"`
}

// MarketDataConfig tunes the ticker stream and collector.
type MarketDataConfig struct {
	WebSocketURL   string        `yaml:"websocket_url"`
	Symbols        []string      `yaml:"symbols"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	MaxRPS         int           `yaml:"max_rps"`
	BufferSize     int           `yaml:"buffer_size"`
}

// TickersConfig sets cache lifetimes for exchange reference data.
type TickersConfig struct {
	MinTTL   time.Duration `yaml:"min_ttl"`
	PriceTTL time.Duration `yaml:"price_ttl"`
}

// NotificationsConfig points the optional webhook notifier at its target.
type NotificationsConfig struct {
	WebhookURL string        `yaml:"webhook_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Load reads a YAML config file, fills defaults and validates it.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads the YAML config and layers environment overrides on top.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	c.applyEnv()
	return c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		c.Binance.APIKey = v
	}
	if v := os.Getenv("BINANCE_API_SECRET"); v != "" {
		c.Binance.APISecret = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("MARKETDATA_SYMBOLS"); v != "" {
		c.MarketData.Symbols = strings.Split(v, ",")
	}
	c.Queue.Workers = util.ParseIntDefault(os.Getenv("QUEUE_WORKERS"), c.Queue.Workers)
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Sweep.Schedule == "" {
		c.Sweep.Schedule = "@every 5m"
	}
	if c.Tickers.MinTTL == 0 {
		c.Tickers.MinTTL = time.Hour
	}
	if c.Tickers.PriceTTL == 0 {
		c.Tickers.PriceTTL = 30 * time.Second
	}
	if c.MarketData.ReconnectDelay == 0 {
		c.MarketData.ReconnectDelay = 5 * time.Second
	}
	if c.MarketData.PingInterval == 0 {
		c.MarketData.PingInterval = 30 * time.Second
	}
	if c.Notifications.Timeout == 0 {
		c.Notifications.Timeout = 5 * time.Second
	}
}

// Validate rejects configs missing anything the app cannot run without.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host is required")
	}
	if c.ClickHouse.Database == "" {
		return fmt.Errorf("clickhouse.database is required")
	}
	if c.Binance.APIKey == "" || c.Binance.APISecret == "" {
		return fmt.Errorf("binance.api_key and binance.api_secret are required")
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty")
	}
	return nil
}
