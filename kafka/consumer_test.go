package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"fulfillment-svc/circuitbreaker"
	"fulfillment-svc/models"

	"github.com/IBM/sarama"
	"go.uber.org/zap/zaptest"
)

type fakeTracker struct {
	mu      sync.Mutex
	calls   []string
	results map[string]error
}

func (f *fakeTracker) UpdateTracking(ctx context.Context, shipmentID, trackingStatus string) (models.Shipment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, shipmentID+":"+trackingStatus)
	return models.Shipment{ID: shipmentID}, f.results[shipmentID]
}

type fakeSession struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32 { return nil }
func (s *fakeSession) MemberID() string { return "member-1" }
func (s *fakeSession) GenerationID() int32 { return 1 }
func (s *fakeSession) MarkOffset(topic string, partition int32, offset int64, metadata string) {}
func (s *fakeSession) Commit() {}
func (s *fakeSession) ResetOffset(topic string, partition int32, offset int64, metadata string) {}
func (s *fakeSession) Context() context.Context { return s.ctx }
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, metadata string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string { return "shipment_tracking" }
func (c *fakeClaim) Partition() int32 { return 0 }
func (c *fakeClaim) InitialOffset() int64 { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64 { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func trackingMessage(offset int64, shipmentID, status string) *sarama.ConsumerMessage {
	value := fmt.Sprintf(`{"shipment_id":%q,"status":%q,"occurred_at":"2026-03-01T12:00:00Z"}`, shipmentID, status)
	return &sarama.ConsumerMessage{Topic: "shipment_tracking", Offset: offset, Value: []byte(value)}
}

func newTestHandler(t *testing.T, tracker *fakeTracker) *TrackingHandler {
	breaker := circuitbreaker.NewCircuitBreaker("tracking", 5, time.Minute, zaptest.NewLogger(t))
	return NewTrackingHandler(tracker, breaker, time.Millisecond, zaptest.NewLogger(t))
}

func TestTrackingHandler_ConsumeClaim(t *testing.T) {
	tracker := &fakeTracker{results: map[string]error{
		"ship-missing": fmt.Errorf("shipment ship-missing: %w", models.ErrNotFound),
	}}
	handler := newTestHandler(t, tracker)

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 4)}
	claim.messages <- trackingMessage(1, "ship-1", "in transit")
	claim.messages <- &sarama.ConsumerMessage{Offset: 2, Value: []byte("not json")}
	claim.messages <- trackingMessage(3, "ship-missing", "delivered")
	claim.messages <- trackingMessage(4, "ship-1", "delivered")
	close(claim.messages)

	session := &fakeSession{ctx: context.Background()}
	if err := handler.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if len(session.marked) != 4 {
		t.Errorf("Expected all 4 offsets to be marked, got %v", session.marked)
	}
	if len(tracker.calls) != 3 {
		t.Errorf("Expected 3 tracking updates, got %v", tracker.calls)
	}
	if tracker.calls[0] != "ship-1:in transit" {
		t.Errorf("Unexpected first update %s", tracker.calls[0])
	}
}

func TestTrackingHandler_StopsOnDependencyFailure(t *testing.T) {
	tracker := &fakeTracker{results: map[string]error{
		"ship-2": models.Unavailable("update shipment tracking", errors.New("connection refused")),
	}}
	handler := newTestHandler(t, tracker)

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 3)}
	claim.messages <- trackingMessage(1, "ship-1", "in transit")
	claim.messages <- trackingMessage(2, "ship-2", "delivered")
	claim.messages <- trackingMessage(3, "ship-3", "delivered")
	close(claim.messages)

	session := &fakeSession{ctx: context.Background()}
	err := handler.ConsumeClaim(session, claim)
	if !errors.Is(err, models.ErrDependencyUnavailable) {
		t.Fatalf("Expected dependency error, got %v", err)
	}

	if len(session.marked) != 1 || session.marked[0] != 1 {
		t.Errorf("Expected only offset 1 to be marked, got %v", session.marked)
	}
	if len(tracker.calls) != 2 {
		t.Errorf("Expected processing to stop after the failure, got %v", tracker.calls)
	}
}

func TestTrackingHandler_StopsWhenSessionEnds(t *testing.T) {
	handler := newTestHandler(t, &fakeTracker{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage)}

	if err := handler.ConsumeClaim(&fakeSession{ctx: ctx}, claim); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}
