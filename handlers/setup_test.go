package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"fulfillment-svc/circuitbreaker"
	"fulfillment-svc/internal/memstore"
	"fulfillment-svc/models"
	"fulfillment-svc/orders"
	"fulfillment-svc/shipping"
	"fulfillment-svc/shippingcost"
	"fulfillment-svc/webhook"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type testServer struct {
	router    *gin.Engine
	orders    *memstore.Orders
	ledger    *memstore.Ledger
	shipments *memstore.Shipments
	verifier  *webhook.HMACVerifier
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))

	s := &testServer{
		orders:    memstore.NewOrders(),
		ledger:    memstore.NewLedger(),
		shipments: memstore.NewShipments(),
		verifier:  webhook.NewHMACVerifier("whsec_test", 5*time.Minute),
	}
	orderSvc := orders.NewService(s.orders, s.ledger, nil, logger)
	shipmentSvc := shipping.NewService(s.shipments, orderSvc, shippingcost.Default(), logger)
	reconciler := webhook.NewReconciler(s.verifier, s.ledger, orderSvc, nil, logger)
	breaker := circuitbreaker.NewCircuitBreaker("storage", 5, time.Minute, logger)

	orderHandler := NewOrderHandler(orderSvc, s.ledger, reconciler, logger)
	shipmentHandler := NewShipmentHandler(shipmentSvc, shippingcost.Default(), breaker, logger)
	webhookHandler := NewWebhookHandler(reconciler, breaker, logger)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/orders", orderHandler.CreateOrder)
	router.GET("/orders/:id", orderHandler.GetOrder)
	router.POST("/orders/:id/payments", orderHandler.RecordPayment)
	router.GET("/orders/:id/payments", orderHandler.PaymentHistory)
	router.POST("/orders/:id/cancel", orderHandler.CancelOrder)
	router.POST("/orders/:id/shipments", shipmentHandler.CreateShipment)
	router.GET("/shipments/:id", shipmentHandler.GetShipment)
	router.POST("/shipments/:id/tracking", shipmentHandler.UpdateTracking)
	router.GET("/shipping/quote", shipmentHandler.Quote)
	router.POST("/webhooks/payments", webhookHandler.HandlePayment)
	s.router = router
	return s
}

func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) seedOrder(status models.OrderStatus) string {
	id := uuid.NewString()
	s.orders.Put(models.Order{
		ID:              id,
		Status:          status,
		Total:           decimal.RequireFromString("46.90"),
		Currency:        "EUR",
		ItemCount:       2,
		ShippingAddress: models.Address{Line1: "12 rue de la Paix", City: "Paris", Country: "FR"},
	})
	return id
}

func (s *testServer) status(t *testing.T, orderID string) models.OrderStatus {
	t.Helper()
	order, err := s.orders.Get(context.Background(), orderID)
	if err != nil {
		t.Fatalf("Failed to load order: %v", err)
	}
	return order.Status
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
	return body
}
