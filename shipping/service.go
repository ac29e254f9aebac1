// Package shipping creates shipments for paid orders and applies carrier
// tracking updates, driving the order to SHIPPING_IN_PROGRESS and COMPLETED.
package shipping

import (
	"context"
	"errors"
	"strings"

	"fulfillment-svc/middleware"
	"fulfillment-svc/models"
	"fulfillment-svc/orders"
	"fulfillment-svc/shippingcost"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const tracerName = "fulfillment-service"

type OrderStateMachine interface {
	Get(ctx context.Context, id string) (models.Order, error)
	ApplyTransition(ctx context.Context, orderID string, event models.TransitionEvent) (orders.Result, error)
}

type CostCalculator interface {
	Cost(countryCode string, itemCount int) (shippingcost.Quote, error)
}

type Service struct {
	store             Store
	orders            OrderStateMachine
	costs             CostCalculator
	newTrackingNumber func(carrier string) string
	logger            *zap.Logger
}

func NewService(store Store, orders OrderStateMachine, costs CostCalculator, logger *zap.Logger) *Service {
	return &Service{
		store:             store,
		orders:            orders,
		costs:             costs,
		newTrackingNumber: NewTrackingNumber,
		logger:            logger,
	}
}

// NewTrackingNumber returns the carrier's three letter prefix followed by
// twelve random hex characters, e.g. COL3F9A0C41B7E2.
func NewTrackingNumber(carrier string) string {
	prefix := strings.ToUpper(carrier)
	if len(prefix) > 3 {
		prefix = prefix[:3]
	}
	random := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return prefix + random[:12]
}

func (s *Service) Get(ctx context.Context, id string) (models.Shipment, error) {
	return s.store.Get(ctx, id)
}

// CreateShipment requires the order to be PAID. A retry after the order has
// already moved to SHIPPING_IN_PROGRESS returns the existing shipment.
func (s *Service) CreateShipment(ctx context.Context, orderID, carrier string) (models.Shipment, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "CreateShipment")
	defer span.End()

	carrier = strings.ToUpper(strings.TrimSpace(carrier))
	if carrier == "" {
		return models.Shipment{}, models.NewValidationError("carrier", "is required")
	}
	span.SetAttributes(attribute.String("order.id", orderID), attribute.String("shipment.carrier", carrier))

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		return models.Shipment{}, err
	}

	switch order.Status {
	case models.OrderStatusPaid:
	case models.OrderStatusShippingInProgress, models.OrderStatusCompleted:
		existing, err := s.store.GetByOrder(ctx, orderID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return models.Shipment{}, err
		}
		fallthrough
	default:
		return models.Shipment{}, &models.InvalidTransitionError{
			OrderID: orderID,
			From:    order.Status,
			Event:   models.EventShipmentCreated,
			Reason:  "order must be paid before shipment",
		}
	}

	quote, err := s.costs.Cost(order.ShippingAddress.Country, order.ItemCount)
	if err != nil {
		return models.Shipment{}, err
	}

	shipment := models.Shipment{
		ID:             uuid.NewString(),
		OrderID:        orderID,
		Carrier:        carrier,
		TrackingNumber: s.newTrackingNumber(carrier),
		TrackingStatus: models.TrackingStatusLabelCreated,
		ShippingCost:   quote.Cost,
		Currency:       quote.Currency,
	}

	stored, err := s.store.Insert(ctx, shipment)
	if err != nil {
		span.RecordError(err)
		return models.Shipment{}, err
	}
	if stored.ID == shipment.ID {
		middleware.RecordShipmentCreated(carrier)
		s.logger.Info("Shipment created",
			zap.String("shipment_id", stored.ID),
			zap.String("order_id", orderID),
			zap.String("carrier", carrier),
			zap.String("tracking_number", stored.TrackingNumber),
			zap.String("shipping_cost", stored.ShippingCost.StringFixed(2)),
		)
	}

	if _, err := s.orders.ApplyTransition(ctx, orderID, models.EventShipmentCreated); err != nil {
		span.RecordError(err)
		s.logger.Warn("Shipment stored but order transition failed",
			zap.String("shipment_id", stored.ID),
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		return models.Shipment{}, err
	}

	span.SetAttributes(attribute.String("shipment.id", stored.ID))
	return stored, nil
}

// UpdateTracking records a carrier status. Once a shipment is delivered later
// updates are ignored, and the order is driven to COMPLETED. Replaying a
// delivered update re-applies the (idempotent) order transitions.
func (s *Service) UpdateTracking(ctx context.Context, shipmentID, trackingStatus string) (models.Shipment, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "UpdateTracking")
	defer span.End()

	status, ok := models.ParseTrackingStatus(trackingStatus)
	if !ok {
		return models.Shipment{}, models.NewValidationError("status", "unknown tracking status "+trackingStatus)
	}
	span.SetAttributes(attribute.String("shipment.id", shipmentID), attribute.String("tracking.status", string(status)))

	shipment, changed, err := s.store.UpdateTracking(ctx, shipmentID, status)
	if err != nil {
		span.RecordError(err)
		return models.Shipment{}, err
	}

	if changed {
		s.logger.Info("Tracking status updated",
			zap.String("shipment_id", shipmentID),
			zap.String("order_id", shipment.OrderID),
			zap.String("tracking_status", string(status)),
		)
	} else {
		s.logger.Info("Tracking update ignored, shipment already delivered",
			zap.String("shipment_id", shipmentID),
			zap.String("tracking_status", string(status)),
		)
	}

	if !shipment.Delivered() {
		return shipment, nil
	}

	// A stored shipment whose order is still PAID means the creation
	// transition was lost; apply it before completing.
	for _, event := range []models.TransitionEvent{models.EventShipmentCreated, models.EventTrackingDelivered} {
		if _, err := s.orders.ApplyTransition(ctx, shipment.OrderID, event); err != nil {
			span.RecordError(err)
			return shipment, err
		}
	}
	return shipment, nil
}
