package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrSignatureInvalid      = errors.New("webhook signature invalid")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
)

// ValidationError reports malformed caller input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// InvalidTransitionError is returned when an event is structurally forbidden
// for the order's current status. Replays of an already applied event never
// produce it.
type InvalidTransitionError struct {
	OrderID string
	From    OrderStatus
	Event   TransitionEvent
	Reason  string
}

func (e *InvalidTransitionError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = fmt.Sprintf("cannot apply %s", e.Event)
	}
	return fmt.Sprintf("%s (order %s is %s)", reason, e.OrderID, e.From)
}

// DependencyError wraps a transient storage or broker failure. It matches
// ErrDependencyUnavailable with errors.Is.
type DependencyError struct {
	Op  string
	Err error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *DependencyError) Unwrap() []error {
	return []error{ErrDependencyUnavailable, e.Err}
}

func Unavailable(op string, err error) error {
	return &DependencyError{Op: op, Err: err}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsInvalidTransition(err error) bool {
	var te *InvalidTransitionError
	return errors.As(err, &te)
}
