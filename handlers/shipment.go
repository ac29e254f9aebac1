package handlers

import (
	"context"
	"net/http"
	"strconv"

	"fulfillment-svc/models"
	"fulfillment-svc/shippingcost"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ShipmentService interface {
	CreateShipment(ctx context.Context, orderID, carrier string) (models.Shipment, error)
	Get(ctx context.Context, id string) (models.Shipment, error)
	UpdateTracking(ctx context.Context, shipmentID, trackingStatus string) (models.Shipment, error)
}

type CostCalculator interface {
	Cost(countryCode string, itemCount int) (shippingcost.Quote, error)
}

type ShipmentHandler struct {
	shipments ShipmentService
	costs     CostCalculator
	guard     Guard
	logger    *zap.Logger
}

func NewShipmentHandler(shipments ShipmentService, costs CostCalculator, guard Guard, logger *zap.Logger) *ShipmentHandler {
	return &ShipmentHandler{
		shipments: shipments,
		costs:     costs,
		guard:     guard,
		logger:    logger,
	}
}

func (h *ShipmentHandler) CreateShipment(c *gin.Context) {
	var req models.CreateShipmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	shipment, err := h.shipments.CreateShipment(c.Request.Context(), c.Param("id"), req.Carrier)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, shipment)
}

func (h *ShipmentHandler) GetShipment(c *gin.Context) {
	shipment, err := h.shipments.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, shipment)
}

// UpdateTracking is the push callback for carriers that do not publish to Kafka.
func (h *ShipmentHandler) UpdateTracking(c *gin.Context) {
	var req models.TrackingUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var shipment models.Shipment
	err := h.guard.Execute(c.Request.Context(), func(ctx context.Context) error {
		var err error
		shipment, err = h.shipments.UpdateTracking(ctx, c.Param("id"), req.Status)
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, shipment)
}

func (h *ShipmentHandler) Quote(c *gin.Context) {
	country := c.Query("country")
	if country == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "country is required"})
		return
	}
	items, err := strconv.Atoi(c.DefaultQuery("items", "1"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "items must be an integer"})
		return
	}

	quote, err := h.costs.Cost(country, items)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"country":  country,
		"items":    items,
		"cost":     quote.Cost.StringFixed(2),
		"currency": quote.Currency,
		"region":   quote.Region,
	})
}
