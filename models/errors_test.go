package models

import (
	"errors"
	"fmt"
	"testing"
)

func TestDependencyError_MatchesSentinel(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("reconcile: %w", Unavailable("update payment attempt", cause))

	if !errors.Is(err, ErrDependencyUnavailable) {
		t.Errorf("Expected error to match ErrDependencyUnavailable")
	}
	if !errors.Is(err, cause) {
		t.Errorf("Expected error to wrap the driver error")
	}
	if err.Error() != "reconcile: failed to update payment attempt: connection refused" {
		t.Errorf("Unexpected message %q", err.Error())
	}
}

func TestInvalidTransitionError_Message(t *testing.T) {
	err := &InvalidTransitionError{
		OrderID: "o-1",
		From:    OrderStatusPending,
		Event:   EventShipmentCreated,
		Reason:  "order must be paid before shipment",
	}
	expected := "order must be paid before shipment (order o-1 is PENDING)"
	if err.Error() != expected {
		t.Errorf("Expected %q, got %q", expected, err.Error())
	}
	if !IsInvalidTransition(fmt.Errorf("wrapped: %w", err)) {
		t.Errorf("Expected wrapped error to be recognised")
	}
}

func TestParseTrackingStatus(t *testing.T) {
	cases := map[string]TrackingStatus{
		"DELIVERED":        TrackingStatusDelivered,
		"delivered":        TrackingStatusDelivered,
		"in transit":       TrackingStatusInTransit,
		"out-for-delivery": TrackingStatusOutForDelivery,
	}
	for raw, want := range cases {
		got, ok := ParseTrackingStatus(raw)
		if !ok || got != want {
			t.Errorf("ParseTrackingStatus(%q) = %q, %v; want %q", raw, got, ok, want)
		}
	}
	if _, ok := ParseTrackingStatus("teleported"); ok {
		t.Errorf("Expected unknown status to be rejected")
	}
}
