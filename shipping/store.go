package shipping

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fulfillment-svc/models"

	"github.com/google/uuid"
)

const shipmentColumns = "id, order_id, carrier, tracking_number, tracking_status, shipping_cost, currency, shipped_at, delivered_at, created_at, updated_at"

// Store persists shipments. Insert keeps at most one shipment per order and
// returns the stored one when the order already has a shipment.
// UpdateTracking never modifies a delivered shipment and reports whether the
// row changed.
type Store interface {
	Insert(ctx context.Context, s models.Shipment) (models.Shipment, error)
	Get(ctx context.Context, id string) (models.Shipment, error)
	GetByOrder(ctx context.Context, orderID string) (models.Shipment, error)
	UpdateTracking(ctx context.Context, id string, status models.TrackingStatus) (models.Shipment, bool, error)
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Insert(ctx context.Context, s models.Shipment) (models.Shipment, error) {
	stored, err := scanShipment(p.db.QueryRowContext(ctx,
		"INSERT INTO shipments (id, order_id, carrier, tracking_number, tracking_status, shipping_cost, currency, shipped_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8) ON CONFLICT (order_id) DO NOTHING RETURNING "+shipmentColumns,
		s.ID, s.OrderID, s.Carrier, s.TrackingNumber, s.TrackingStatus, s.ShippingCost, s.Currency, s.ShippedAt,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return p.GetByOrder(ctx, s.OrderID)
	}
	if err != nil {
		return models.Shipment{}, models.Unavailable("insert shipment", err)
	}
	return stored, nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (models.Shipment, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.Shipment{}, fmt.Errorf("shipment %s: %w", id, models.ErrNotFound)
	}
	s, err := scanShipment(p.db.QueryRowContext(ctx, "SELECT "+shipmentColumns+" FROM shipments WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Shipment{}, fmt.Errorf("shipment %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return models.Shipment{}, models.Unavailable("select shipment", err)
	}
	return s, nil
}

func (p *PostgresStore) GetByOrder(ctx context.Context, orderID string) (models.Shipment, error) {
	if _, err := uuid.Parse(orderID); err != nil {
		return models.Shipment{}, fmt.Errorf("shipment for order %s: %w", orderID, models.ErrNotFound)
	}
	s, err := scanShipment(p.db.QueryRowContext(ctx, "SELECT "+shipmentColumns+" FROM shipments WHERE order_id = $1", orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Shipment{}, fmt.Errorf("shipment for order %s: %w", orderID, models.ErrNotFound)
	}
	if err != nil {
		return models.Shipment{}, models.Unavailable("select shipment", err)
	}
	return s, nil
}

func (p *PostgresStore) UpdateTracking(ctx context.Context, id string, status models.TrackingStatus) (models.Shipment, bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.Shipment{}, false, fmt.Errorf("shipment %s: %w", id, models.ErrNotFound)
	}

	s, err := scanShipment(p.db.QueryRowContext(ctx,
		"UPDATE shipments SET tracking_status = $1, "+
			"shipped_at = CASE WHEN $4 THEN COALESCE(shipped_at, NOW()) ELSE shipped_at END, "+
			"delivered_at = CASE WHEN $3 THEN NOW() ELSE NULL END, updated_at = NOW() "+
			"WHERE id = $2 AND delivered_at IS NULL RETURNING "+shipmentColumns,
		status, id, status == models.TrackingStatusDelivered, status.LeftWarehouse(),
	))
	if err == nil {
		return s, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Shipment{}, false, models.Unavailable("update shipment tracking", err)
	}

	s, err = p.Get(ctx, id)
	if err != nil {
		return models.Shipment{}, false, err
	}
	return s, false, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanShipment(row rowScanner) (models.Shipment, error) {
	var (
		s                      models.Shipment
		shippedAt, deliveredAt sql.NullTime
	)
	err := row.Scan(&s.ID, &s.OrderID, &s.Carrier, &s.TrackingNumber, &s.TrackingStatus, &s.ShippingCost,
		&s.Currency, &shippedAt, &deliveredAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return models.Shipment{}, err
	}
	if shippedAt.Valid {
		s.ShippedAt = &shippedAt.Time
	}
	if deliveredAt.Valid {
		s.DeliveredAt = &deliveredAt.Time
	}
	return s, nil
}
