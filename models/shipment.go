package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type TrackingStatus string

const (
	TrackingStatusLabelCreated   TrackingStatus = "LABEL_CREATED"
	TrackingStatusInTransit      TrackingStatus = "IN_TRANSIT"
	TrackingStatusOutForDelivery TrackingStatus = "OUT_FOR_DELIVERY"
	TrackingStatusDelivered      TrackingStatus = "DELIVERED"
	TrackingStatusException      TrackingStatus = "EXCEPTION"
	TrackingStatusReturned       TrackingStatus = "RETURNED"
)

var trackingStatuses = map[TrackingStatus]struct{}{
	TrackingStatusLabelCreated:   {},
	TrackingStatusInTransit:      {},
	TrackingStatusOutForDelivery: {},
	TrackingStatusDelivered:      {},
	TrackingStatusException:      {},
	TrackingStatusReturned:       {},
}

// ParseTrackingStatus normalises a carrier supplied status ("in transit", "delivered").
func ParseTrackingStatus(raw string) (TrackingStatus, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	normalized = strings.NewReplacer(" ", "_", "-", "_").Replace(normalized)
	status := TrackingStatus(normalized)
	_, ok := trackingStatuses[status]
	return status, ok
}

type Shipment struct {
	ID             string          `json:"id"`
	OrderID        string          `json:"order_id"`
	Carrier        string          `json:"carrier"`
	TrackingNumber string          `json:"tracking_number"`
	TrackingStatus TrackingStatus  `json:"tracking_status"`
	ShippingCost   decimal.Decimal `json:"shipping_cost"`
	Currency       string          `json:"currency"`
	ShippedAt      *time.Time      `json:"shipped_at"`
	DeliveredAt    *time.Time      `json:"delivered_at"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// LeftWarehouse reports whether the carrier has taken the parcel.
func (s TrackingStatus) LeftWarehouse() bool {
	_, ok := trackingStatuses[s]
	return ok && s != TrackingStatusLabelCreated
}

func (s Shipment) Delivered() bool {
	return s.DeliveredAt != nil
}

type CreateShipmentRequest struct {
	Carrier string `json:"carrier" binding:"required"`
}

type TrackingUpdateRequest struct {
	Status string `json:"status" binding:"required"`
}

// TrackingUpdate is the carrier message read from the shipment_tracking topic.
type TrackingUpdate struct {
	ShipmentID string    `json:"shipment_id"`
	Status     string    `json:"status"`
	OccurredAt time.Time `json:"occurred_at"`
}
