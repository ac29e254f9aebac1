package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("WEBHOOK_SECRET", "whsec_test")
	t.Setenv("JWT_SECRET", "jwt-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.HTTPAddr != ":8085" {
		t.Errorf("Expected HTTP addr :8085, got %s", cfg.HTTPAddr)
	}
	if cfg.Kafka.OrderTopic != "order_events" {
		t.Errorf("Expected order topic order_events, got %s", cfg.Kafka.OrderTopic)
	}
	if len(cfg.Kafka.Brokers) != 1 || cfg.Kafka.Brokers[0] != "localhost:9092" {
		t.Errorf("Unexpected brokers %v", cfg.Kafka.Brokers)
	}
	if cfg.WebhookTolerance != 5*time.Minute {
		t.Errorf("Expected webhook tolerance 5m, got %s", cfg.WebhookTolerance)
	}
	expectedDSN := "host=localhost port=5432 user=postgres password=postgres dbname=fulfillmentdb sslmode=disable"
	if cfg.DB.DSN() != expectedDSN {
		t.Errorf("Expected DSN %q, got %q", expectedDSN, cfg.DB.DSN())
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("WEBHOOK_SECRET", "whsec_test")
	t.Setenv("JWT_SECRET", "jwt-test")
	t.Setenv("KAFKA_BROKER", "k1:9092,k2:9092")
	t.Setenv("REDIS_HOST", "cache")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("Expected 2 brokers, got %v", cfg.Kafka.Brokers)
	}
	if cfg.Redis.Addr() != "cache:6379" {
		t.Errorf("Expected redis addr cache:6379, got %s", cfg.Redis.Addr())
	}
}

func TestLoad_RequiresSecrets(t *testing.T) {
	t.Setenv("WEBHOOK_SECRET", "")
	t.Setenv("JWT_SECRET", "jwt-test")

	if _, err := Load(); err == nil {
		t.Errorf("Expected error when WEBHOOK_SECRET is missing")
	}
}

func TestLoadDB_IgnoresServiceSecrets(t *testing.T) {
	t.Setenv("WEBHOOK_SECRET", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("DB_HOST", "db.internal")

	cfg, err := LoadDB()
	if err != nil {
		t.Fatalf("LoadDB() returned error: %v", err)
	}
	if cfg.Host != "db.internal" {
		t.Errorf("Expected host db.internal, got %s", cfg.Host)
	}
	if cfg.Name != "fulfillmentdb" {
		t.Errorf("Expected database fulfillmentdb, got %s", cfg.Name)
	}
}
