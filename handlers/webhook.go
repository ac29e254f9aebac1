package handlers

import (
	"context"
	"io"
	"net/http"

	"fulfillment-svc/webhook"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	SignatureHeader = "Payment-Signature"
	maxWebhookBytes = 1 << 20
)

type WebhookProcessor interface {
	Process(ctx context.Context, payload []byte, signature string) (webhook.Outcome, error)
}

type WebhookHandler struct {
	processor WebhookProcessor
	guard     Guard
	logger    *zap.Logger
}

func NewWebhookHandler(processor WebhookProcessor, guard Guard, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		processor: processor,
		guard:     guard,
		logger:    logger,
	}
}

// HandlePayment answers 200 for every accepted delivery, including replays
// and events that match nothing, and 503 when the provider should retry.
func (h *WebhookHandler) HandlePayment(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return
	}

	var outcome webhook.Outcome
	err = h.guard.Execute(c.Request.Context(), func(ctx context.Context) error {
		var err error
		outcome, err = h.processor.Process(ctx, payload, c.GetHeader(SignatureHeader))
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true, "outcome": outcome})
}
