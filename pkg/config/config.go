package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Config holds all configuration for the application
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Sweeper   SweeperConfig   `mapstructure:"sweeper"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type AppConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"` // e.g., "local", "prod"
}

type LoggerConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"` // "json" or "console"
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

type KafkaConfig struct {
	Brokers     []string `mapstructure:"brokers"`
	Topic       string   `mapstructure:"topic"`
	AlertsTopic string   `mapstructure:"alerts_topic"`
	GroupID     string   `mapstructure:"group_id"`
	Partitions  int      `mapstructure:"partitions"`
}

type ProcessorConfig struct {
	NumWorkers int `mapstructure:"num_workers"`
}

type GatewayConfig struct {
	ValidTickers []string `mapstructure:"valid_tickers"`
	URL          string   `mapstructure:"url"` // used by clients such as alertctl watch
}

type IngestConfig struct {
	Provider          string             `mapstructure:"provider"` // "random" or "http"
	Symbols           []string           `mapstructure:"symbols"`
	BasePrices        map[string]float64 `mapstructure:"base_prices"`
	QuoteURL          string             `mapstructure:"quote_url"`
	APIKey            string             `mapstructure:"api_key"`
	PollInterval      time.Duration      `mapstructure:"poll_interval"`
	FallbackInterval  time.Duration      `mapstructure:"fallback_interval"`
	RateLimitCooldown time.Duration      `mapstructure:"rate_limit_cooldown"`
	RequestTimeout    time.Duration      `mapstructure:"request_timeout"`
}

type SweeperConfig struct {
	Store           string        `mapstructure:"store"` // "redis" or "postgres"
	TriggerInterval time.Duration `mapstructure:"trigger_interval"`
	ExpiryInterval  time.Duration `mapstructure:"expiry_interval"`
	SnapshotTimeout time.Duration `mapstructure:"snapshot_timeout"`
	StoreTimeout    time.Duration `mapstructure:"store_timeout"`
	NotifyTimeout   time.Duration `mapstructure:"notify_timeout"`
	StaleAfter      time.Duration `mapstructure:"stale_after"`
}

type NotifyConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
	Kafka      bool   `mapstructure:"kafka"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoadConfig reads configuration from .env file, an optional config file, environment variables, and defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// Load .env into the process environment so APP_PORT etc. are real env vars
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}

	setDefaults(v)

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	// "app.port" -> "APP_PORT"
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Flat env vars only reach nested structs through explicit bindings
	bindEnv(v, "app.port", "app.env")
	bindEnv(v, "logger.level", "logger.encoding")
	bindEnv(v, "redis.addr", "redis.password", "redis.db")
	bindEnv(v, "postgres.dsn", "postgres.host", "postgres.port", "postgres.user", "postgres.password", "postgres.database", "postgres.sslmode")
	bindEnv(v, "kafka.brokers", "kafka.topic", "kafka.alerts_topic", "kafka.group_id", "kafka.partitions")
	bindEnv(v, "processor.num_workers")
	bindEnv(v, "gateway.valid_tickers", "gateway.url")
	bindEnv(v, "ingest.provider", "ingest.symbols", "ingest.quote_url", "ingest.api_key",
		"ingest.poll_interval", "ingest.fallback_interval", "ingest.rate_limit_cooldown", "ingest.request_timeout")
	bindEnv(v, "sweeper.store", "sweeper.trigger_interval", "sweeper.expiry_interval",
		"sweeper.snapshot_timeout", "sweeper.store_timeout", "sweeper.notify_timeout", "sweeper.stale_after")
	bindEnv(v, "notify.webhook_url", "notify.kafka")
	bindEnv(v, "metrics.addr")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", ":8080")
	v.SetDefault("app.env", "local")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "json")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.database", "alerts")
	v.SetDefault("postgres.sslmode", "disable")

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "market_ticks")
	v.SetDefault("kafka.alerts_topic", "alert_events")
	v.SetDefault("kafka.group_id", "stock-processor-group")
	v.SetDefault("kafka.partitions", 4)

	v.SetDefault("processor.num_workers", 4)

	v.SetDefault("gateway.valid_tickers", []string{"AAPL", "GOOG", "TSLA", "AMZN"})
	v.SetDefault("gateway.url", "http://localhost:8080")

	v.SetDefault("ingest.provider", "random")
	v.SetDefault("ingest.symbols", []string{"AAPL", "GOOG", "TSLA", "AMZN"})
	v.SetDefault("ingest.base_prices", map[string]float64{"AAPL": 150.0, "GOOG": 2800.0, "TSLA": 700.0, "AMZN": 3400.0})
	v.SetDefault("ingest.poll_interval", time.Second)
	v.SetDefault("ingest.fallback_interval", time.Minute)
	v.SetDefault("ingest.rate_limit_cooldown", 5*time.Minute)
	v.SetDefault("ingest.request_timeout", 5*time.Second)

	v.SetDefault("sweeper.store", StoreRedis)
	v.SetDefault("sweeper.trigger_interval", 30*time.Second)
	v.SetDefault("sweeper.expiry_interval", time.Minute)
	v.SetDefault("sweeper.snapshot_timeout", 3*time.Second)
	v.SetDefault("sweeper.store_timeout", 5*time.Second)
	v.SetDefault("sweeper.notify_timeout", 5*time.Second)
	v.SetDefault("sweeper.stale_after", 120*time.Second)

	v.SetDefault("notify.kafka", false)
	v.SetDefault("metrics.addr", ":9100")
}

// Validate checks the invariants the binaries rely on.
func (c *Config) Validate() error {
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers cannot be empty")
	}
	if c.Processor.NumWorkers <= 0 {
		return fmt.Errorf("processor.num_workers must be positive, got %d", c.Processor.NumWorkers)
	}
	if c.Sweeper.TriggerInterval <= 0 || c.Sweeper.ExpiryInterval <= 0 {
		return fmt.Errorf("sweeper intervals must be positive")
	}
	if c.Sweeper.SnapshotTimeout <= 0 || c.Sweeper.StoreTimeout <= 0 {
		return fmt.Errorf("sweeper.snapshot_timeout and sweeper.store_timeout must be positive")
	}
	if c.Ingest.PollInterval <= 0 || c.Ingest.FallbackInterval < c.Ingest.PollInterval {
		return fmt.Errorf("ingest.fallback_interval must be >= ingest.poll_interval > 0")
	}
	switch c.Sweeper.Store {
	case StoreRedis, StorePostgres:
	default:
		return fmt.Errorf("unknown sweeper.store %q", c.Sweeper.Store)
	}
	return nil
}

// bindEnv is a helper to bind multiple keys at once
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}
}
