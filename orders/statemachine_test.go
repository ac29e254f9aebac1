package orders

import (
	"math/rand"
	"testing"

	"fulfillment-svc/models"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name     string
		current  models.OrderStatus
		event    models.TransitionEvent
		wantTo   models.OrderStatus
		wantDec  decision
		wantText string
	}{
		{"pay pending order", models.OrderStatusPending, models.EventPaymentSucceeded, models.OrderStatusPaid, decisionApply, ""},
		{"replayed payment", models.OrderStatusPaid, models.EventPaymentSucceeded, models.OrderStatusPaid, decisionNoop, ""},
		{"payment after shipment", models.OrderStatusShippingInProgress, models.EventPaymentSucceeded, models.OrderStatusShippingInProgress, decisionNoop, ""},
		{"payment after cancel", models.OrderStatusCancelled, models.EventPaymentSucceeded, models.OrderStatusCancelled, decisionReject, "order can no longer be paid"},
		{"failed payment never moves", models.OrderStatusPending, models.EventPaymentFailed, models.OrderStatusPending, decisionNoop, ""},
		{"failed payment on paid order", models.OrderStatusPaid, models.EventPaymentFailed, models.OrderStatusPaid, decisionNoop, ""},
		{"ship paid order", models.OrderStatusPaid, models.EventShipmentCreated, models.OrderStatusShippingInProgress, decisionApply, ""},
		{"ship pending order", models.OrderStatusPending, models.EventShipmentCreated, models.OrderStatusPending, decisionReject, "order must be paid before shipment"},
		{"ship cancelled order", models.OrderStatusCancelled, models.EventShipmentCreated, models.OrderStatusCancelled, decisionReject, "order must be paid before shipment"},
		{"ship completed order", models.OrderStatusCompleted, models.EventShipmentCreated, models.OrderStatusCompleted, decisionNoop, ""},
		{"deliver shipping order", models.OrderStatusShippingInProgress, models.EventTrackingDelivered, models.OrderStatusCompleted, decisionApply, ""},
		{"deliver paid order", models.OrderStatusPaid, models.EventTrackingDelivered, models.OrderStatusPaid, decisionReject, "order has not been shipped"},
		{"replayed delivery", models.OrderStatusCompleted, models.EventTrackingDelivered, models.OrderStatusCompleted, decisionNoop, ""},
		{"cancel pending", models.OrderStatusPending, models.EventCancellationRequested, models.OrderStatusCancelled, decisionApply, ""},
		{"cancel paid", models.OrderStatusPaid, models.EventCancellationRequested, models.OrderStatusCancelled, decisionApply, ""},
		{"cancel twice", models.OrderStatusCancelled, models.EventCancellationRequested, models.OrderStatusCancelled, decisionNoop, ""},
		{"cancel shipping", models.OrderStatusShippingInProgress, models.EventCancellationRequested, models.OrderStatusShippingInProgress, decisionReject, "order can no longer be cancelled"},
		{"cancel completed", models.OrderStatusCompleted, models.EventCancellationRequested, models.OrderStatusCompleted, decisionReject, "order can no longer be cancelled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			to, d, reason, err := decide(tt.current, tt.event)
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if d != tt.wantDec {
				t.Errorf("Expected decision %d, got %d", tt.wantDec, d)
			}
			if to != tt.wantTo {
				t.Errorf("Expected target %s, got %s", tt.wantTo, to)
			}
			if reason != tt.wantText {
				t.Errorf("Expected reason %q, got %q", tt.wantText, reason)
			}
		})
	}
}

func TestDecide_UnknownEvent(t *testing.T) {
	_, _, _, err := decide(models.OrderStatusPending, models.TransitionEvent("refund_issued"))
	if !models.IsValidation(err) {
		t.Errorf("Expected validation error, got %v", err)
	}
}

// Any sequence of events only moves an order forward along
// PENDING -> PAID -> SHIPPING_IN_PROGRESS -> COMPLETED, or once to CANCELLED.
func TestDecide_StatusNeverMovesBackward(t *testing.T) {
	events := []models.TransitionEvent{
		models.EventPaymentSucceeded,
		models.EventPaymentFailed,
		models.EventShipmentCreated,
		models.EventTrackingDelivered,
		models.EventCancellationRequested,
	}
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 500; run++ {
		status := models.OrderStatusPending
		for step := 0; step < 12; step++ {
			event := events[rng.Intn(len(events))]
			to, d, _, err := decide(status, event)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if d != decisionApply {
				continue
			}
			if status.IsTerminal() {
				t.Fatalf("Terminal status %s moved to %s on %s", status, to, event)
			}
			if to != models.OrderStatusCancelled && progress[to] <= progress[status] {
				t.Fatalf("Status moved backward from %s to %s on %s", status, to, event)
			}
			status = to
		}
	}
}

func TestCanApply(t *testing.T) {
	if !CanApply(models.OrderStatusPaid, models.EventShipmentCreated) {
		t.Error("Expected shipment_created to apply to a PAID order")
	}
	if CanApply(models.OrderStatusPaid, models.EventPaymentSucceeded) {
		t.Error("Expected replayed payment_succeeded not to apply")
	}
	if CanApply(models.OrderStatusPending, models.TransitionEvent("bogus")) {
		t.Error("Expected unknown event not to apply")
	}
}
