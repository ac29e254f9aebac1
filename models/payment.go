package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusSuccess PaymentStatus = "SUCCESS"
	PaymentStatusFailed  PaymentStatus = "FAILED"
)

func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusSuccess || s == PaymentStatusFailed
}

type PaymentAttempt struct {
	ID              string            `json:"id"`
	OrderID         string            `json:"order_id"`
	Provider        string            `json:"provider"`
	SessionID       string            `json:"session_id"`
	PaymentIntentID *string           `json:"payment_intent_id"`
	Status          PaymentStatus     `json:"status"`
	Amount          decimal.Decimal   `json:"amount"`
	Currency        string            `json:"currency"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

type RecordPaymentRequest struct {
	Provider        string            `json:"provider" binding:"required"`
	SessionID       string            `json:"session_id" binding:"required"`
	PaymentIntentID string            `json:"payment_intent_id"`
	Amount          *decimal.Decimal  `json:"amount"`
	Currency        string            `json:"currency" binding:"required"`
	Metadata        map[string]string `json:"metadata"`
}
