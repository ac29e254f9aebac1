package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"fulfillment-svc/models"

	"github.com/google/uuid"
)

const orderColumns = "id, order_number, user_id, status, subtotal, tax, shipping, discount, total, currency, item_count, shipping_address, billing_address, created_at, updated_at"

// Store persists orders. CompareAndSetStatus must be a single conditional
// write: it reports false when the stored status no longer equals from.
type Store interface {
	Create(ctx context.Context, order models.Order) (models.Order, error)
	Get(ctx context.Context, id string) (models.Order, error)
	CompareAndSetStatus(ctx context.Context, id string, from, to models.OrderStatus) (models.Order, bool, error)
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, o models.Order) (models.Order, error) {
	shipping, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return models.Order{}, fmt.Errorf("failed to encode shipping address: %w", err)
	}
	var billing any
	if o.BillingAddress != nil {
		encoded, err := json.Marshal(o.BillingAddress)
		if err != nil {
			return models.Order{}, fmt.Errorf("failed to encode billing address: %w", err)
		}
		billing = encoded
	}

	err = s.db.QueryRowContext(ctx,
		"INSERT INTO orders (id, user_id, status, subtotal, tax, shipping, discount, total, currency, item_count, shipping_address, billing_address) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING order_number, created_at, updated_at",
		o.ID, o.UserID, o.Status, o.Subtotal, o.Tax, o.Shipping, o.Discount, o.Total, o.Currency, o.ItemCount, shipping, billing,
	).Scan(&o.Number, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return models.Order{}, models.Unavailable("insert order", err)
	}
	return o, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (models.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.Order{}, fmt.Errorf("order %s: %w", id, models.ErrNotFound)
	}

	o, err := scanOrder(s.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Order{}, fmt.Errorf("order %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return models.Order{}, models.Unavailable("select order", err)
	}
	return o, nil
}

func (s *PostgresStore) CompareAndSetStatus(ctx context.Context, id string, from, to models.OrderStatus) (models.Order, bool, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3 RETURNING "+orderColumns,
		to, id, from,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Order{}, false, nil
	}
	if err != nil {
		return models.Order{}, false, models.Unavailable("update order status", err)
	}
	return o, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (models.Order, error) {
	var (
		o                 models.Order
		shipping, billing []byte
	)
	err := row.Scan(&o.ID, &o.Number, &o.UserID, &o.Status, &o.Subtotal, &o.Tax, &o.Shipping,
		&o.Discount, &o.Total, &o.Currency, &o.ItemCount, &shipping, &billing, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return models.Order{}, err
	}
	if err := json.Unmarshal(shipping, &o.ShippingAddress); err != nil {
		return models.Order{}, fmt.Errorf("failed to decode shipping address: %w", err)
	}
	if len(billing) > 0 {
		o.BillingAddress = &models.Address{}
		if err := json.Unmarshal(billing, o.BillingAddress); err != nil {
			return models.Order{}, fmt.Errorf("failed to decode billing address: %w", err)
		}
	}
	return o, nil
}
