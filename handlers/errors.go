package handlers

import (
	"context"
	"errors"
	"net/http"

	"fulfillment-svc/ledger"
	"fulfillment-svc/models"

	"github.com/gin-gonic/gin"
)

// Guard runs ingestion behind a failure guard such as a circuit breaker.
type Guard interface {
	Execute(ctx context.Context, fn func(ctx context.Context) error) error
}

// writeError maps the error taxonomy onto HTTP status codes. The error is
// attached to the context for the request logger.
func writeError(c *gin.Context, err error) {
	_ = c.Error(err)

	var (
		verr *models.ValidationError
		terr *models.InvalidTransitionError
	)
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "field": verr.Field})
	case errors.Is(err, models.ErrSignatureInvalid):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &terr):
		c.JSON(http.StatusConflict, gin.H{"error": terr.Error(), "status": terr.From})
	case errors.Is(err, ledger.ErrIntentConflict), errors.Is(err, ledger.ErrDuplicateSuccess):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrDependencyUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Service temporarily unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
