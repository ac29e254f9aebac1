package orders

import (
	"fmt"

	"fulfillment-svc/models"
)

type decision int

const (
	decisionApply decision = iota
	decisionNoop
	decisionReject
)

type rule struct {
	from   []models.OrderStatus
	to     models.OrderStatus
	reason string
}

// transitions is the order lifecycle graph. payment_failed has no rule: it
// never changes order status.
var transitions = map[models.TransitionEvent]rule{
	models.EventPaymentSucceeded: {
		from:   []models.OrderStatus{models.OrderStatusPending},
		to:     models.OrderStatusPaid,
		reason: "order can no longer be paid",
	},
	models.EventShipmentCreated: {
		from:   []models.OrderStatus{models.OrderStatusPaid},
		to:     models.OrderStatusShippingInProgress,
		reason: "order must be paid before shipment",
	},
	models.EventTrackingDelivered: {
		from:   []models.OrderStatus{models.OrderStatusShippingInProgress},
		to:     models.OrderStatusCompleted,
		reason: "order has not been shipped",
	},
	models.EventCancellationRequested: {
		from:   []models.OrderStatus{models.OrderStatusPending, models.OrderStatusPaid},
		to:     models.OrderStatusCancelled,
		reason: "order can no longer be cancelled",
	},
}

// progress orders the forward path; CANCELLED is off the path.
var progress = map[models.OrderStatus]int{
	models.OrderStatusPending:            0,
	models.OrderStatusPaid:               1,
	models.OrderStatusShippingInProgress: 2,
	models.OrderStatusCompleted:          3,
}

// decide returns what applying event to an order in status current does.
// An event whose target the order has already reached, or gone past on the
// forward path, is a no-op so that replays are harmless.
func decide(current models.OrderStatus, event models.TransitionEvent) (models.OrderStatus, decision, string, error) {
	if event == models.EventPaymentFailed {
		return current, decisionNoop, "", nil
	}

	r, ok := transitions[event]
	if !ok {
		return current, decisionReject, "", models.NewValidationError("event", fmt.Sprintf("unknown transition event %q", event))
	}

	if current == r.to {
		return current, decisionNoop, "", nil
	}
	for _, from := range r.from {
		if current == from {
			return r.to, decisionApply, "", nil
		}
	}

	cur, onPath := progress[current]
	target, targetOnPath := progress[r.to]
	if onPath && targetOnPath && cur > target {
		return current, decisionNoop, "", nil
	}
	return current, decisionReject, r.reason, nil
}

// CanApply reports whether event would move an order in status current.
func CanApply(current models.OrderStatus, event models.TransitionEvent) bool {
	_, d, _, err := decide(current, event)
	return err == nil && d == decisionApply
}
