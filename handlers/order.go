package handlers

import (
	"context"
	"net/http"

	"fulfillment-svc/ledger"
	"fulfillment-svc/middleware"
	"fulfillment-svc/models"
	"fulfillment-svc/orders"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type OrderService interface {
	CreateOrder(ctx context.Context, req models.CreateOrderRequest) (models.Order, error)
	Get(ctx context.Context, id string) (models.Order, error)
	Cancel(ctx context.Context, id string) (orders.Result, error)
}

type PaymentLedger interface {
	RecordAttempt(ctx context.Context, req ledger.NewAttempt) (models.PaymentAttempt, error)
	History(ctx context.Context, orderID string) ([]models.PaymentAttempt, error)
}

// ParkedResultApplier settles an attempt whose provider result arrived
// before the attempt was recorded.
type ParkedResultApplier interface {
	ApplyParked(ctx context.Context, attempt models.PaymentAttempt) (models.PaymentAttempt, error)
}

type OrderHandler struct {
	orders   OrderService
	payments PaymentLedger
	parked   ParkedResultApplier
	logger   *zap.Logger
}

func NewOrderHandler(orders OrderService, payments PaymentLedger, parked ParkedResultApplier, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{
		orders:   orders,
		payments: payments,
		parked:   parked,
		logger:   logger,
	}
}

func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req models.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.orders.CreateOrder(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, order)
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	order, err := h.orders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *OrderHandler) CancelOrder(c *gin.Context) {
	res, err := h.orders.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	h.logger.Info("Order cancellation requested",
		zap.String("order_id", res.Order.ID),
		zap.String("staff_id", c.GetString(middleware.StaffIDKey)),
		zap.Bool("changed", res.Changed),
	)
	c.JSON(http.StatusOK, res.Order)
}

// RecordPayment stores the attempt opened when a checkout session is created.
// The order must still be awaiting payment.
func (h *OrderHandler) RecordPayment(c *gin.Context) {
	var req models.RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	order, err := h.orders.Get(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if order.Status != models.OrderStatusPending {
		c.JSON(http.StatusConflict, gin.H{"error": "order is not awaiting payment", "status": order.Status})
		return
	}

	// Absent means the full order total; an explicit amount is validated as sent.
	amount := order.Total
	if req.Amount != nil {
		amount = *req.Amount
	}
	attempt, err := h.payments.RecordAttempt(ctx, ledger.NewAttempt{
		OrderID:         order.ID,
		Provider:        req.Provider,
		SessionID:       req.SessionID,
		PaymentIntentID: req.PaymentIntentID,
		Amount:          amount,
		Currency:        req.Currency,
		Metadata:        req.Metadata,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if h.parked != nil {
		attempt, err = h.parked.ApplyParked(ctx, attempt)
		if err != nil {
			writeError(c, err)
			return
		}
	}

	c.JSON(http.StatusCreated, attempt)
}

func (h *OrderHandler) PaymentHistory(c *gin.Context) {
	ctx := c.Request.Context()
	order, err := h.orders.Get(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	attempts, err := h.payments.History(ctx, order.ID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"order_id": order.ID, "status": order.Status, "payments": attempts})
}
