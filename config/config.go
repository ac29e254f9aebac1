package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	ServiceName string `env:"SERVICE_NAME" envDefault:"fulfillment-service"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8085"`
	GRPCAddr    string `env:"GRPC_ADDR" envDefault:":50053"`

	DB    DBConfig
	Kafka KafkaConfig
	Redis RedisConfig

	WebhookSecret    string        `env:"WEBHOOK_SECRET"`
	WebhookTolerance time.Duration `env:"WEBHOOK_TOLERANCE" envDefault:"5m"`
	WebhookDedupTTL  time.Duration `env:"WEBHOOK_DEDUP_TTL" envDefault:"72h"`

	JWTSecret string `env:"JWT_SECRET"`

	ShippingRatesFile string `env:"SHIPPING_RATES_FILE"`

	BreakerMaxFailures  int           `env:"BREAKER_MAX_FAILURES" envDefault:"5"`
	BreakerResetTimeout time.Duration `env:"BREAKER_RESET_TIMEOUT" envDefault:"30s"`

	JaegerEndpoint string `env:"JAEGER_ENDPOINT" envDefault:"http://localhost:14268/api/traces"`
}

type DBConfig struct {
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
	Name     string `env:"DB_NAME" envDefault:"fulfillmentdb"`
	SSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

type KafkaConfig struct {
	Brokers       []string `env:"KAFKA_BROKER" envDefault:"localhost:9092" envSeparator:","`
	OrderTopic    string   `env:"KAFKA_ORDER_TOPIC" envDefault:"order_events"`
	TrackingTopic string   `env:"KAFKA_TRACKING_TOPIC" envDefault:"shipment_tracking"`
	GroupID       string   `env:"KAFKA_GROUP_ID" envDefault:"fulfillment-service"`
}

type RedisConfig struct {
	Host     string `env:"REDIS_HOST" envDefault:"localhost"`
	Port     string `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("WEBHOOK_SECRET must be set")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET must be set")
	}
	if cfg.BreakerMaxFailures <= 0 {
		return nil, fmt.Errorf("BREAKER_MAX_FAILURES must be positive")
	}
	return cfg, nil
}

// LoadDB parses only the database settings, for tools that do not run the service.
func LoadDB() (DBConfig, error) {
	var cfg DBConfig
	if err := env.Parse(&cfg); err != nil {
		return DBConfig{}, fmt.Errorf("failed to parse database config: %w", err)
	}
	return cfg, nil
}
