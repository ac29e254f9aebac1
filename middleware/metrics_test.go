package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordOrderTransition(t *testing.T) {
	counter := orderTransitionsTotal.WithLabelValues("payment_succeeded", "PENDING", "PAID")
	before := testutil.ToFloat64(counter)

	RecordOrderTransition("payment_succeeded", "PENDING", "PAID")

	if got := testutil.ToFloat64(counter); got != before+1 {
		t.Errorf("Expected counter %v, got %v", before+1, got)
	}
}

func TestRecordWebhookEventAndShipment(t *testing.T) {
	webhook := webhookEventsTotal.WithLabelValues("payment_intent.succeeded", "applied")
	shipments := shipmentsCreatedTotal.WithLabelValues("UPS")
	beforeWebhook, beforeShipments := testutil.ToFloat64(webhook), testutil.ToFloat64(shipments)

	RecordWebhookEvent("payment_intent.succeeded", "applied")
	RecordShipmentCreated("UPS")

	if got := testutil.ToFloat64(webhook); got != beforeWebhook+1 {
		t.Errorf("Expected webhook counter %v, got %v", beforeWebhook+1, got)
	}
	if got := testutil.ToFloat64(shipments); got != beforeShipments+1 {
		t.Errorf("Expected shipment counter %v, got %v", beforeShipments+1, got)
	}
}

func TestMetricsMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(MetricsMiddleware())
	router.GET("/orders/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	router.GET("/metrics", PrometheusHandler())

	counter := httpRequestsTotal.WithLabelValues("GET", "/orders/:id", "204")
	before := testutil.ToFloat64(counter)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/orders/abc", nil))

	if got := testutil.ToFloat64(counter); got != before+1 {
		t.Errorf("Expected request counter %v, got %v", before+1, got)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(w.Body.String(), "http_requests_total") {
		t.Error("Expected /metrics to expose http_requests_total")
	}
}
