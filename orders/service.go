package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fulfillment-svc/middleware"
	"fulfillment-svc/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// maxCASRounds bounds how often a transition is re-evaluated after losing a
// compare-and-set race against a concurrent writer of the same order.
const maxCASRounds = 3

var errContention = errors.New("order status changed concurrently")

type PaymentChecker interface {
	HasSuccessfulAttempt(ctx context.Context, orderID string) (bool, error)
}

type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event models.OrderEvent) error
}

// Result describes the outcome of ApplyTransition. When Changed is false the
// event had already been applied and Order is the unchanged current state.
type Result struct {
	Order   models.Order
	From    models.OrderStatus
	Changed bool
}

type Service struct {
	store     Store
	payments  PaymentChecker
	publisher EventPublisher
	logger    *zap.Logger
}

// NewService builds the order state machine. payments and publisher may be nil.
func NewService(store Store, payments PaymentChecker, publisher EventPublisher, logger *zap.Logger) *Service {
	return &Service{
		store:     store,
		payments:  payments,
		publisher: publisher,
		logger:    logger,
	}
}

func (s *Service) Get(ctx context.Context, id string) (models.Order, error) {
	return s.store.Get(ctx, id)
}

// CreateOrder is the entry point used by the checkout flow.
func (s *Service) CreateOrder(ctx context.Context, req models.CreateOrderRequest) (models.Order, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "CreateOrder")
	defer span.End()

	if err := validateNewOrder(req); err != nil {
		return models.Order{}, err
	}

	order := models.Order{
		ID:              uuid.NewString(),
		UserID:          req.UserID,
		Status:          models.OrderStatusPending,
		Subtotal:        req.Subtotal.Round(2),
		Tax:             req.Tax.Round(2),
		Shipping:        req.Shipping.Round(2),
		Discount:        req.Discount.Round(2),
		Total:           req.Total.Round(2),
		Currency:        strings.ToUpper(req.Currency),
		ItemCount:       req.ItemCount,
		ShippingAddress: *req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
	}

	created, err := s.store.Create(ctx, order)
	if err != nil {
		span.RecordError(err)
		return models.Order{}, err
	}

	span.SetAttributes(attribute.String("order.id", created.ID))
	s.logger.Info("Order created",
		zap.String("order_id", created.ID),
		zap.Int64("order_number", created.Number),
		zap.String("total", created.Total.StringFixed(2)),
	)
	return created, nil
}

func validateNewOrder(req models.CreateOrderRequest) error {
	amounts := []struct {
		field  string
		amount decimal.Decimal
	}{
		{"subtotal", req.Subtotal},
		{"tax", req.Tax},
		{"shipping", req.Shipping},
		{"discount", req.Discount},
		{"total", req.Total},
	}
	for _, a := range amounts {
		if a.amount.IsNegative() {
			return models.NewValidationError(a.field, "must not be negative")
		}
		// Stored as DECIMAL(12, 2); rounding afterwards could break the total.
		if !a.amount.Equal(a.amount.Round(2)) {
			return models.NewValidationError(a.field, "must have at most two decimal places")
		}
	}

	expected := req.Subtotal.Add(req.Tax).Add(req.Shipping).Sub(req.Discount)
	if !expected.Equal(req.Total) {
		return models.NewValidationError("total", fmt.Sprintf("must equal subtotal + tax + shipping - discount (%s)", expected.StringFixed(2)))
	}
	if len(req.Currency) != 3 {
		return models.NewValidationError("currency", "must be an ISO 4217 code")
	}
	if req.ItemCount <= 0 {
		return models.NewValidationError("item_count", "must be greater than zero")
	}

	addr := req.ShippingAddress
	if addr == nil {
		return models.NewValidationError("shipping_address", "is required")
	}
	if addr.Line1 == "" || addr.City == "" || addr.Country == "" {
		return models.NewValidationError("shipping_address", "line1, city and country are required")
	}
	return nil
}

// Cancel requests cancellation; allowed from PENDING and PAID only.
func (s *Service) Cancel(ctx context.Context, id string) (Result, error) {
	return s.ApplyTransition(ctx, id, models.EventCancellationRequested)
}

// ApplyTransition is the single mutation entry point of the order lifecycle.
// Re-applying an event the order has already absorbed returns the current
// state with a nil error; a structurally forbidden event returns
// *models.InvalidTransitionError and leaves the order untouched.
func (s *Service) ApplyTransition(ctx context.Context, orderID string, event models.TransitionEvent) (Result, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "ApplyTransition")
	defer span.End()

	span.SetAttributes(
		attribute.String("order.id", orderID),
		attribute.String("transition.event", string(event)),
	)

	for round := 0; round < maxCASRounds; round++ {
		order, err := s.store.Get(ctx, orderID)
		if err != nil {
			span.RecordError(err)
			return Result{}, err
		}

		to, d, reason, err := decide(order.Status, event)
		if err != nil {
			return Result{}, err
		}

		switch d {
		case decisionNoop:
			s.logger.Debug("Transition already applied",
				zap.String("order_id", orderID),
				zap.String("event", string(event)),
				zap.String("status", string(order.Status)),
			)
			return Result{Order: order, From: order.Status}, nil
		case decisionReject:
			return Result{Order: order, From: order.Status}, &models.InvalidTransitionError{
				OrderID: orderID,
				From:    order.Status,
				Event:   event,
				Reason:  reason,
			}
		}

		if err := s.checkGuard(ctx, order, event); err != nil {
			return Result{Order: order, From: order.Status}, err
		}

		updated, ok, err := s.store.CompareAndSetStatus(ctx, orderID, order.Status, to)
		if err != nil {
			span.RecordError(err)
			return Result{}, err
		}
		if !ok {
			s.logger.Info("Order status changed concurrently, re-evaluating",
				zap.String("order_id", orderID),
				zap.String("expected_status", string(order.Status)),
				zap.Int("round", round+1),
			)
			continue
		}

		s.afterTransition(ctx, order.Status, updated, event)
		span.SetAttributes(attribute.String("order.status", string(updated.Status)))
		return Result{Order: updated, From: order.Status, Changed: true}, nil
	}

	err := models.Unavailable("apply transition", fmt.Errorf("order %s: %w", orderID, errContention))
	span.RecordError(err)
	return Result{}, err
}

func (s *Service) checkGuard(ctx context.Context, order models.Order, event models.TransitionEvent) error {
	if event != models.EventPaymentSucceeded || s.payments == nil {
		return nil
	}
	paid, err := s.payments.HasSuccessfulAttempt(ctx, order.ID)
	if err != nil {
		return err
	}
	if !paid {
		return &models.InvalidTransitionError{
			OrderID: order.ID,
			From:    order.Status,
			Event:   event,
			Reason:  "no successful payment attempt recorded",
		}
	}
	return nil
}

func (s *Service) afterTransition(ctx context.Context, from models.OrderStatus, order models.Order, event models.TransitionEvent) {
	middleware.RecordOrderTransition(string(event), string(from), string(order.Status))

	s.logger.Info("Order status updated",
		zap.String("order_id", order.ID),
		zap.String("event", string(event)),
		zap.String("from", string(from)),
		zap.String("to", string(order.Status)),
	)

	if s.publisher == nil {
		return
	}
	evt := models.OrderEvent{
		OrderID:        order.ID,
		OrderNumber:    order.Number,
		UserID:         order.UserID,
		Status:         order.Status,
		PreviousStatus: from,
		TotalPrice:     order.Total,
		Currency:       order.Currency,
		EventType:      eventTypeFor(order.Status),
		OccurredAt:     time.Now().UTC(),
	}
	if err := s.publisher.PublishOrderEvent(ctx, evt); err != nil {
		// Don't fail the transition, but log the error
		s.logger.Error("Failed to publish order event",
			zap.String("order_id", order.ID),
			zap.String("event_type", evt.EventType),
			zap.Error(err),
		)
	}
}

func eventTypeFor(status models.OrderStatus) string {
	switch status {
	case models.OrderStatusPaid:
		return "order_paid"
	case models.OrderStatusShippingInProgress:
		return "order_shipping"
	case models.OrderStatusCompleted:
		return "order_completed"
	case models.OrderStatusCancelled:
		return "order_cancelled"
	}
	return "order_updated"
}

const tracerName = "fulfillment-service"
