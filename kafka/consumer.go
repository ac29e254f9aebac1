package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fulfillment-svc/middleware"
	"fulfillment-svc/models"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const tracerName = "fulfillment-service"

func InitConsumerGroup(brokers []string, groupID string, logger *zap.Logger) (sarama.ConsumerGroup, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.Initial = sarama.OffsetOldest

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer group: %w", err)
	}

	logger.Info("Kafka consumer group initialized", zap.String("group_id", groupID))
	return group, nil
}

type TrackingUpdater interface {
	UpdateTracking(ctx context.Context, shipmentID, trackingStatus string) (models.Shipment, error)
}

// Executor runs fn behind a failure guard such as a circuit breaker.
type Executor interface {
	Execute(ctx context.Context, fn func(ctx context.Context) error) error
}

// TrackingHandler applies carrier tracking updates. An offset is marked only
// once its message is applied or permanently rejected; a dependency failure
// ends the session so the group resumes from the last marked offset.
type TrackingHandler struct {
	tracker    TrackingUpdater
	guard      Executor
	retryDelay time.Duration
	logger     *zap.Logger
}

func NewTrackingHandler(tracker TrackingUpdater, guard Executor, retryDelay time.Duration, logger *zap.Logger) *TrackingHandler {
	return &TrackingHandler{
		tracker:    tracker,
		guard:      guard,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

func (h *TrackingHandler) Setup(sarama.ConsumerGroupSession) error { return nil }
func (h *TrackingHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *TrackingHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.handleMessage(session.Context(), message); err != nil {
				h.logger.Warn("Tracking update will be redelivered",
					zap.Int32("partition", message.Partition),
					zap.Int64("offset", message.Offset),
					zap.Error(err),
				)
				select {
				case <-time.After(h.retryDelay):
				case <-session.Context().Done():
				}
				return err
			}
			session.MarkMessage(message, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

// handleMessage returns an error only when the update should be retried.
func (h *TrackingHandler) handleMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	// Extract trace context from Kafka message headers
	carrier := saramaHeaderCarrierConsumer(message.Headers)
	ctx = otel.GetTextMapPropagator().Extract(ctx, carrier)

	ctx, span := otel.Tracer(tracerName).Start(ctx, "ProcessTrackingUpdate")
	defer span.End()

	traceID := middleware.GetTraceID(ctx)

	var update models.TrackingUpdate
	if err := json.Unmarshal(message.Value, &update); err != nil {
		span.RecordError(err)
		h.logger.Error("Dropping malformed tracking update",
			zap.String("trace_id", traceID),
			zap.Int64("offset", message.Offset),
			zap.Error(err),
		)
		return nil
	}

	span.SetAttributes(
		attribute.String("shipment.id", update.ShipmentID),
		attribute.String("tracking.status", update.Status),
	)

	err := h.guard.Execute(ctx, func(ctx context.Context) error {
		_, err := h.tracker.UpdateTracking(ctx, update.ShipmentID, update.Status)
		return err
	})
	switch {
	case err == nil:
		h.logger.Info("Tracking update applied",
			zap.String("trace_id", traceID),
			zap.String("shipment_id", update.ShipmentID),
			zap.String("status", update.Status),
			zap.Time("occurred_at", update.OccurredAt),
		)
		return nil
	case errors.Is(err, models.ErrDependencyUnavailable):
		span.RecordError(err)
		return err
	}

	span.RecordError(err)
	h.logger.Warn("Tracking update rejected",
		zap.String("trace_id", traceID),
		zap.String("shipment_id", update.ShipmentID),
		zap.String("status", update.Status),
		zap.Error(err),
	)
	return nil
}

// StartConsumer consumes topic until ctx is cancelled or the group is closed.
func StartConsumer(ctx context.Context, group sarama.ConsumerGroup, topic string, handler sarama.ConsumerGroupHandler, logger *zap.Logger) error {
	go func() {
		for err := range group.Errors() {
			logger.Error("Kafka consumer error", zap.Error(err))
		}
	}()

	logger.Info("Kafka consumer started", zap.String("topic", topic))
	for {
		if err := group.Consume(ctx, []string{topic}, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			logger.Error("Kafka consumer session ended", zap.Error(err))
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// saramaHeaderCarrierConsumer implements the TextMapCarrier interface for Kafka headers (for consumer)
type saramaHeaderCarrierConsumer []*sarama.RecordHeader

func (c saramaHeaderCarrierConsumer) Get(key string) string {
	for _, h := range c {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c saramaHeaderCarrierConsumer) Set(key, value string) {
	// Not needed for extraction
}

func (c saramaHeaderCarrierConsumer) Keys() []string {
	keys := make([]string, len(c))
	for i, h := range c {
		keys[i] = string(h.Key)
	}
	return keys
}
