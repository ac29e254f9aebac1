package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending            OrderStatus = "PENDING"
	OrderStatusPaid               OrderStatus = "PAID"
	OrderStatusShippingInProgress OrderStatus = "SHIPPING_IN_PROGRESS"
	OrderStatusCompleted          OrderStatus = "COMPLETED"
	OrderStatusCancelled          OrderStatus = "CANCELLED"
)

// IsTerminal reports whether no transition is defined out of s.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// TransitionEvent is a signal fed into the order state machine.
type TransitionEvent string

const (
	EventPaymentSucceeded      TransitionEvent = "payment_succeeded"
	EventPaymentFailed         TransitionEvent = "payment_failed"
	EventShipmentCreated       TransitionEvent = "shipment_created"
	EventTrackingDelivered     TransitionEvent = "tracking_delivered"
	EventCancellationRequested TransitionEvent = "cancellation_requested"
)

type Address struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

type Order struct {
	ID              string          `json:"id"`
	Number          int64           `json:"order_number"`
	UserID          int             `json:"user_id"`
	Status          OrderStatus     `json:"status"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Tax             decimal.Decimal `json:"tax"`
	Shipping        decimal.Decimal `json:"shipping"`
	Discount        decimal.Decimal `json:"discount"`
	Total           decimal.Decimal `json:"total"`
	Currency        string          `json:"currency"`
	ItemCount       int             `json:"item_count"`
	ShippingAddress Address         `json:"shipping_address"`
	BillingAddress  *Address        `json:"billing_address,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type CreateOrderRequest struct {
	UserID          int             `json:"user_id" binding:"required"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Tax             decimal.Decimal `json:"tax"`
	Shipping        decimal.Decimal `json:"shipping"`
	Discount        decimal.Decimal `json:"discount"`
	Total           decimal.Decimal `json:"total"`
	Currency        string          `json:"currency" binding:"required"`
	ItemCount       int             `json:"item_count" binding:"required,gt=0"`
	ShippingAddress *Address        `json:"shipping_address" binding:"required"`
	BillingAddress  *Address        `json:"billing_address"`
}

type OrderEvent struct {
	OrderID        string          `json:"order_id"`
	OrderNumber    int64           `json:"order_number"`
	UserID         int             `json:"user_id"`
	Status         OrderStatus     `json:"status"`
	PreviousStatus OrderStatus     `json:"previous_status"`
	TotalPrice     decimal.Decimal `json:"total_price"`
	Currency       string          `json:"currency"`
	EventType      string          `json:"event_type"` // order_paid, order_shipping, order_completed, order_cancelled
	OccurredAt     time.Time       `json:"occurred_at"`
}
