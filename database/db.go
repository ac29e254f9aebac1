package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"fulfillment-svc/config"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Each table is owned by one component; no foreign keys cross them.
const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id UUID PRIMARY KEY,
	order_number BIGSERIAL UNIQUE,
	user_id INTEGER NOT NULL,
	status VARCHAR(32) NOT NULL DEFAULT 'PENDING',
	subtotal DECIMAL(12, 2) NOT NULL,
	tax DECIMAL(12, 2) NOT NULL,
	shipping DECIMAL(12, 2) NOT NULL,
	discount DECIMAL(12, 2) NOT NULL,
	total DECIMAL(12, 2) NOT NULL,
	currency VARCHAR(3) NOT NULL,
	item_count INTEGER NOT NULL,
	shipping_address JSONB NOT NULL,
	billing_address JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS payment_attempts (
	id UUID PRIMARY KEY,
	order_id UUID NOT NULL,
	provider VARCHAR(64) NOT NULL,
	session_id VARCHAR(255) NOT NULL UNIQUE,
	payment_intent_id VARCHAR(255),
	status VARCHAR(16) NOT NULL DEFAULT 'PENDING',
	amount DECIMAL(12, 2) NOT NULL,
	currency VARCHAR(3) NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS payment_attempts_intent_idx
	ON payment_attempts (payment_intent_id) WHERE payment_intent_id IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS payment_attempts_one_success_idx
	ON payment_attempts (order_id) WHERE status = 'SUCCESS';
CREATE INDEX IF NOT EXISTS payment_attempts_order_idx ON payment_attempts (order_id, created_at DESC);

-- Terminal results reported for an intent before any attempt was linked to it.
CREATE TABLE IF NOT EXISTS parked_intent_results (
	payment_intent_id VARCHAR(255) PRIMARY KEY,
	status VARCHAR(16) NOT NULL,
	event_id VARCHAR(255) NOT NULL,
	received_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS shipments (
	id UUID PRIMARY KEY,
	order_id UUID NOT NULL UNIQUE,
	carrier VARCHAR(64) NOT NULL,
	tracking_number VARCHAR(64) NOT NULL UNIQUE,
	tracking_status VARCHAR(32) NOT NULL DEFAULT 'LABEL_CREATED',
	shipping_cost DECIMAL(12, 2) NOT NULL,
	currency VARCHAR(3) NOT NULL,
	shipped_at TIMESTAMPTZ,
	delivered_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// InitDB opens the pool and applies the schema.
func InitDB(cfg config.DBConfig, logger *zap.Logger) (*sql.DB, error) {
	db, err := Open(cfg, logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Open connects without touching the schema.
func Open(cfg config.DBConfig, logger *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connection established", zap.String("host", cfg.Host), zap.String("database", cfg.Name))
	return db, nil
}

func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}
