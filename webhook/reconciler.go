// Package webhook reconciles payment provider webhook events with the payment
// ledger and the order state machine. Deliveries may be retried, duplicated or
// arrive out of order; every step is idempotent so redelivery is the retry
// mechanism.
package webhook

import (
	"context"
	"encoding/json"
	"errors"

	"fulfillment-svc/ledger"
	"fulfillment-svc/middleware"
	"fulfillment-svc/models"
	"fulfillment-svc/orders"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const tracerName = "fulfillment-service"

type Outcome string

const (
	OutcomeApplied       Outcome = "applied"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeIgnored       Outcome = "ignored"
	OutcomeUnmatched     Outcome = "unmatched"
	OutcomePendingIntent Outcome = "pending_intent"
	// outcomeRejected is only reported to metrics.
	outcomeRejected Outcome = "rejected"
)

type Event struct {
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	PaymentIntentID string          `json:"payment_intent_id,omitempty"`
	SessionID       string          `json:"session_id,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
}

var eventStatuses = map[string]models.PaymentStatus{
	"checkout.session.completed":               models.PaymentStatusSuccess,
	"checkout.session.async_payment_succeeded": models.PaymentStatusSuccess,
	"payment_intent.succeeded":                 models.PaymentStatusSuccess,
	"checkout.session.expired":                 models.PaymentStatusFailed,
	"checkout.session.async_payment_failed":    models.PaymentStatusFailed,
	"payment_intent.payment_failed":            models.PaymentStatusFailed,
	"payment_intent.canceled":                  models.PaymentStatusFailed,
}

// StatusForEventType maps a provider event type to the terminal ledger
// status it reports. ok is false for event types that carry no payment result.
func StatusForEventType(eventType string) (models.PaymentStatus, bool) {
	status, ok := eventStatuses[eventType]
	return status, ok
}

type PaymentLedger interface {
	LinkIntentToSession(ctx context.Context, sessionID, paymentIntentID string) (models.PaymentAttempt, error)
	ReconcileByIntent(ctx context.Context, paymentIntentID string, status models.PaymentStatus) (ledger.Reconciliation, error)
	ReconcileBySession(ctx context.Context, sessionID string, status models.PaymentStatus) (ledger.Reconciliation, error)
	ParkResult(ctx context.Context, paymentIntentID string, status models.PaymentStatus, eventID string) error
	ParkedResult(ctx context.Context, paymentIntentID string) (models.PaymentStatus, bool, error)
}

type OrderTransitioner interface {
	ApplyTransition(ctx context.Context, orderID string, event models.TransitionEvent) (orders.Result, error)
}

// Deduper remembers fully processed event ids. It is an optimisation only.
type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID string) error
}

type Reconciler struct {
	verifier Verifier
	ledger   PaymentLedger
	orders   OrderTransitioner
	deduper  Deduper
	logger   *zap.Logger
}

// NewReconciler wires the protocol. deduper may be nil.
func NewReconciler(verifier Verifier, ledger PaymentLedger, orders OrderTransitioner, deduper Deduper, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		verifier: verifier,
		ledger:   ledger,
		orders:   orders,
		deduper:  deduper,
		logger:   logger,
	}
}

// Process verifies, decodes and applies one webhook delivery. A nil error
// means the delivery is accepted and must not be redelivered; errors wrapping
// models.ErrDependencyUnavailable ask the provider to retry.
func (r *Reconciler) Process(ctx context.Context, payload []byte, signature string) (Outcome, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "ProcessWebhook")
	defer span.End()

	if !r.verifier.Verify(payload, signature) {
		middleware.RecordWebhookEvent("unknown", string(outcomeRejected))
		r.logger.Warn("Rejected webhook with invalid signature", zap.Int("payload_bytes", len(payload)))
		return "", models.ErrSignatureInvalid
	}

	var evt Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		middleware.RecordWebhookEvent("unknown", string(outcomeRejected))
		return "", models.NewValidationError("payload", "malformed webhook event: "+err.Error())
	}
	if evt.ID == "" || evt.Type == "" {
		middleware.RecordWebhookEvent("unknown", string(outcomeRejected))
		return "", models.NewValidationError("payload", "event id and type are required")
	}

	span.SetAttributes(
		attribute.String("webhook.event_id", evt.ID),
		attribute.String("webhook.event_type", evt.Type),
	)

	outcome, err := r.process(ctx, evt)
	if err != nil {
		span.RecordError(err)
		middleware.RecordWebhookEvent(evt.Type, string(outcomeRejected))
		r.logger.Error("Failed to process webhook event",
			zap.String("event_id", evt.ID),
			zap.String("event_type", evt.Type),
			zap.Error(err),
		)
		return "", err
	}

	middleware.RecordWebhookEvent(evt.Type, string(outcome))
	span.SetAttributes(attribute.String("webhook.outcome", string(outcome)))
	return outcome, nil
}

func (r *Reconciler) process(ctx context.Context, evt Event) (Outcome, error) {
	logger := r.logger.With(
		zap.String("event_id", evt.ID),
		zap.String("event_type", evt.Type),
		zap.String("payment_intent_id", evt.PaymentIntentID),
	)

	if r.seen(ctx, evt.ID, logger) {
		logger.Info("Duplicate webhook event")
		return OutcomeDuplicate, nil
	}

	status, isResult := StatusForEventType(evt.Type)

	if evt.SessionID != "" && evt.PaymentIntentID != "" {
		linked, err := r.link(ctx, evt, logger)
		if err != nil {
			return "", err
		}
		// A result may have arrived for this intent before it was linked.
		if linked && !isResult {
			parked, ok, err := r.ledger.ParkedResult(ctx, evt.PaymentIntentID)
			if err != nil {
				return "", err
			}
			if ok {
				logger.Info("Applying parked payment result", zap.String("payment_status", string(parked)))
				status, isResult = parked, true
			}
		}
	}

	if !isResult {
		logger.Debug("Ignoring webhook event type")
		r.markProcessed(ctx, evt.ID, logger)
		return OutcomeIgnored, nil
	}

	var (
		rec     ledger.Reconciliation
		settled Outcome
		err     error
	)
	switch {
	case evt.PaymentIntentID != "":
		rec, settled, err = r.reconcile(ctx, evt, status, logger)
	case status == models.PaymentStatusFailed && evt.SessionID != "":
		// Expired or failed sessions may never get an intent.
		rec, settled, err = r.reconcileSession(ctx, evt, status, logger)
	default:
		// A successful session stays PENDING until the event carrying its intent arrives.
		logger.Info("Webhook event has no payment intent yet", zap.String("session_id", evt.SessionID))
		r.markProcessed(ctx, evt.ID, logger)
		return OutcomePendingIntent, nil
	}
	if err != nil {
		return "", err
	}
	if settled != "" {
		r.markProcessed(ctx, evt.ID, logger)
		return settled, nil
	}

	if err := r.applyToOrder(ctx, rec.Attempt, logger); err != nil {
		return "", err
	}

	r.markProcessed(ctx, evt.ID, logger)
	return OutcomeApplied, nil
}

// reconcile writes the terminal status to the attempt owning the intent. When
// no attempt owns it yet the status is parked for the event that links it.
// A non-empty Outcome means the event is settled without touching the order.
func (r *Reconciler) reconcile(ctx context.Context, evt Event, status models.PaymentStatus, logger *zap.Logger) (ledger.Reconciliation, Outcome, error) {
	rec, err := r.ledger.ReconcileByIntent(ctx, evt.PaymentIntentID, status)
	if errors.Is(err, models.ErrNotFound) {
		if err := r.ledger.ParkResult(ctx, evt.PaymentIntentID, status, evt.ID); err != nil {
			return ledger.Reconciliation{}, "", err
		}
		// Catch a link that committed while the result was being parked.
		rec, err = r.ledger.ReconcileByIntent(ctx, evt.PaymentIntentID, status)
		if errors.Is(err, models.ErrNotFound) {
			logger.Warn("Webhook event matches no payment attempt, result parked")
			return ledger.Reconciliation{}, OutcomeUnmatched, nil
		}
	}

	switch {
	case err == nil:
		return rec, "", nil
	case errors.Is(err, ledger.ErrDuplicateSuccess):
		logger.Warn("Order already has a successful payment, attempt left pending")
		return ledger.Reconciliation{}, OutcomeApplied, nil
	}
	return ledger.Reconciliation{}, "", err
}

func (r *Reconciler) reconcileSession(ctx context.Context, evt Event, status models.PaymentStatus, logger *zap.Logger) (ledger.Reconciliation, Outcome, error) {
	rec, err := r.ledger.ReconcileBySession(ctx, evt.SessionID, status)
	switch {
	case err == nil:
		return rec, "", nil
	case errors.Is(err, models.ErrNotFound):
		logger.Warn("Webhook event matches no checkout session", zap.String("session_id", evt.SessionID))
		return ledger.Reconciliation{}, OutcomeUnmatched, nil
	case errors.Is(err, ledger.ErrDuplicateSuccess):
		logger.Warn("Order already has a successful payment, attempt left pending")
		return ledger.Reconciliation{}, OutcomeApplied, nil
	}
	return ledger.Reconciliation{}, "", err
}

// ApplyParked settles an attempt that was recorded with its intent already
// known, against a result parked before the attempt existed. Attempts without
// an intent or already terminal are returned unchanged.
func (r *Reconciler) ApplyParked(ctx context.Context, attempt models.PaymentAttempt) (models.PaymentAttempt, error) {
	if attempt.PaymentIntentID == nil || attempt.Status != models.PaymentStatusPending {
		return attempt, nil
	}
	intentID := *attempt.PaymentIntentID

	status, ok, err := r.ledger.ParkedResult(ctx, intentID)
	if err != nil || !ok {
		return attempt, err
	}

	logger := r.logger.With(
		zap.String("payment_intent_id", intentID),
		zap.String("order_id", attempt.OrderID),
	)
	logger.Info("Applying parked payment result", zap.String("payment_status", string(status)))

	rec, err := r.ledger.ReconcileByIntent(ctx, intentID, status)
	if errors.Is(err, ledger.ErrDuplicateSuccess) {
		logger.Warn("Order already has a successful payment, attempt left pending")
		return attempt, nil
	}
	if err != nil {
		return attempt, err
	}
	if err := r.applyToOrder(ctx, rec.Attempt, logger); err != nil {
		return rec.Attempt, err
	}
	return rec.Attempt, nil
}

func (r *Reconciler) link(ctx context.Context, evt Event, logger *zap.Logger) (bool, error) {
	_, err := r.ledger.LinkIntentToSession(ctx, evt.SessionID, evt.PaymentIntentID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, models.ErrNotFound):
		logger.Warn("Checkout session not found while linking payment intent", zap.String("session_id", evt.SessionID))
		return false, nil
	case errors.Is(err, ledger.ErrIntentConflict):
		logger.Warn("Payment intent already linked elsewhere", zap.String("session_id", evt.SessionID))
		return false, nil
	}
	return false, err
}

// applyToOrder runs on every delivery whose attempt is terminal, not only the
// one that changed the row, so a crash after the ledger write converges.
func (r *Reconciler) applyToOrder(ctx context.Context, attempt models.PaymentAttempt, logger *zap.Logger) error {
	var event models.TransitionEvent
	switch attempt.Status {
	case models.PaymentStatusSuccess:
		event = models.EventPaymentSucceeded
	case models.PaymentStatusFailed:
		event = models.EventPaymentFailed
	default:
		return nil
	}

	res, err := r.orders.ApplyTransition(ctx, attempt.OrderID, event)
	switch {
	case err == nil:
		logger.Info("Webhook event reconciled",
			zap.String("order_id", attempt.OrderID),
			zap.String("payment_status", string(attempt.Status)),
			zap.String("order_status", string(res.Order.Status)),
			zap.Bool("order_changed", res.Changed),
		)
		return nil
	case models.IsInvalidTransition(err):
		logger.Warn("Payment does not apply to order", zap.String("order_id", attempt.OrderID), zap.Error(err))
		return nil
	case errors.Is(err, models.ErrNotFound):
		logger.Warn("Payment attempt references a missing order", zap.String("order_id", attempt.OrderID))
		return nil
	}
	return err
}

func (r *Reconciler) seen(ctx context.Context, eventID string, logger *zap.Logger) bool {
	if r.deduper == nil {
		return false
	}
	seen, err := r.deduper.Seen(ctx, eventID)
	if err != nil {
		logger.Warn("Failed to check processed webhook events", zap.Error(err))
		return false
	}
	return seen
}

func (r *Reconciler) markProcessed(ctx context.Context, eventID string, logger *zap.Logger) {
	if r.deduper == nil {
		return
	}
	if err := r.deduper.MarkProcessed(ctx, eventID); err != nil {
		logger.Warn("Failed to mark webhook event processed", zap.Error(err))
	}
}
