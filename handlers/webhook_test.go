package handlers

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fulfillment-svc/circuitbreaker"
	"fulfillment-svc/ledger"
	"fulfillment-svc/models"
	"fulfillment-svc/webhook"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"
)

func (s *testServer) postWebhook(payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/webhooks/payments", bytes.NewReader(payload))
	req.Header.Set(SignatureHeader, signature)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestWebhookHandler_PaymentSucceeded(t *testing.T) {
	s := setupTestServer(t)
	orderID := s.seedOrder(models.OrderStatusPending)
	_, err := s.ledger.RecordAttempt(context.Background(), ledger.NewAttempt{
		OrderID: orderID, Provider: "stripe", SessionID: "cs_1",
		Amount: decimal.RequireFromString("46.90"), Currency: "EUR",
	})
	if err != nil {
		t.Fatalf("Failed to record attempt: %v", err)
	}

	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed","session_id":"cs_1","payment_intent_id":"pi_1","amount":"46.90","currency":"EUR"}`)
	w := s.postWebhook(payload, s.verifier.Sign(payload, time.Now()))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	if outcome := decodeBody(t, w)["outcome"]; outcome != string(webhook.OutcomeApplied) {
		t.Errorf("Expected outcome applied, got %v", outcome)
	}
	if got := s.status(t, orderID); got != models.OrderStatusPaid {
		t.Errorf("Expected status PAID, got %s", got)
	}

	// Redelivery is acknowledged again.
	w = s.postWebhook(payload, s.verifier.Sign(payload, time.Now()))
	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d on redelivery, got %d", http.StatusOK, w.Code)
	}
}

func TestWebhookHandler_InvalidSignature(t *testing.T) {
	s := setupTestServer(t)

	w := s.postWebhook([]byte(`{"id":"evt_1","type":"payment_intent.succeeded"}`), "t=1,v1=00")

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status %d, got %d", http.StatusUnauthorized, w.Code)
	}
}

func TestWebhookHandler_MalformedEvent(t *testing.T) {
	s := setupTestServer(t)
	payload := []byte(`not json`)

	w := s.postWebhook(payload, s.verifier.Sign(payload, time.Now()))

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

type failingProcessor struct{}

func (failingProcessor) Process(ctx context.Context, payload []byte, signature string) (webhook.Outcome, error) {
	return "", models.Unavailable("update payment attempt", errors.New("connection refused"))
}

func TestWebhookHandler_StorageDownAsksForRedelivery(t *testing.T) {
	logger := zaptest.NewLogger(t)
	breaker := circuitbreaker.NewCircuitBreaker("storage", 2, time.Minute, logger)
	handler := NewWebhookHandler(failingProcessor{}, breaker, logger)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/webhooks/payments", handler.HandlePayment)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("POST", "/webhooks/payments", bytes.NewReader([]byte(`{}`)))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("Expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
		}
	}
	if breaker.GetState() != circuitbreaker.StateOpen {
		t.Errorf("Expected breaker to open, got %s", breaker.GetState())
	}
}
