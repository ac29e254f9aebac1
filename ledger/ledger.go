// Package ledger is the append-only store of payment attempts. Every status
// change is looked up by a provider-assigned identifier and applied with a
// single conditional UPDATE, so redelivered provider events are no-ops.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"fulfillment-svc/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// ErrDuplicateSuccess means the order already holds a SUCCESS attempt.
	ErrDuplicateSuccess = errors.New("order already has a successful payment attempt")
	// ErrIntentConflict means the intent or the session is already linked elsewhere.
	ErrIntentConflict = errors.New("payment intent is linked to a different session")
)

const uniqueViolation = "23505"

const attemptColumns = "id, order_id, provider, session_id, payment_intent_id, status, amount, currency, metadata, created_at, updated_at"

type NewAttempt struct {
	OrderID         string
	Provider        string
	SessionID       string
	PaymentIntentID string
	Amount          decimal.Decimal
	Currency        string
	Metadata        map[string]string
}

// Reconciliation is the result of ReconcileByIntent. Changed is false when
// the attempt already carried a terminal status.
type Reconciliation struct {
	Attempt models.PaymentAttempt
	Changed bool
}

type Ledger struct {
	db     *sql.DB
	logger *zap.Logger
}

func New(db *sql.DB, logger *zap.Logger) *Ledger {
	return &Ledger{db: db, logger: logger}
}

func (l *Ledger) RecordAttempt(ctx context.Context, req NewAttempt) (models.PaymentAttempt, error) {
	if err := req.Validate(); err != nil {
		return models.PaymentAttempt{}, err
	}

	metadata, err := json.Marshal(req.Metadata)
	if err != nil {
		return models.PaymentAttempt{}, models.NewValidationError("metadata", err.Error())
	}
	if req.Metadata == nil {
		metadata = []byte("{}")
	}

	var intent sql.NullString
	if req.PaymentIntentID != "" {
		intent = sql.NullString{String: req.PaymentIntentID, Valid: true}
	}

	// A checkout retry that reopens the same session returns the existing row.
	attempt, err := scanAttempt(l.db.QueryRowContext(ctx,
		"INSERT INTO payment_attempts (id, order_id, provider, session_id, payment_intent_id, status, amount, currency, metadata) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) ON CONFLICT (session_id) DO NOTHING RETURNING "+attemptColumns,
		uuid.NewString(), req.OrderID, req.Provider, req.SessionID, intent,
		models.PaymentStatusPending, req.Amount, strings.ToUpper(req.Currency), metadata,
	))
	if errors.Is(err, sql.ErrNoRows) {
		existing, findErr := l.findBySession(ctx, req.SessionID)
		if findErr != nil {
			return models.PaymentAttempt{}, findErr
		}
		if existing.OrderID != req.OrderID {
			return models.PaymentAttempt{}, models.NewValidationError("session_id", "already recorded for another order")
		}
		return existing, nil
	}
	if err != nil {
		if isUniqueViolation(err) {
			return models.PaymentAttempt{}, ErrIntentConflict
		}
		return models.PaymentAttempt{}, models.Unavailable("insert payment attempt", err)
	}

	l.logger.Info("Payment attempt recorded",
		zap.String("payment_id", attempt.ID),
		zap.String("order_id", attempt.OrderID),
		zap.String("session_id", attempt.SessionID),
		zap.String("amount", attempt.Amount.StringFixed(2)),
	)
	return attempt, nil
}

func (req NewAttempt) Validate() error {
	switch {
	case req.OrderID == "":
		return models.NewValidationError("order_id", "is required")
	case req.Provider == "":
		return models.NewValidationError("provider", "is required")
	case req.SessionID == "":
		return models.NewValidationError("session_id", "is required")
	case !req.Amount.IsPositive():
		return models.NewValidationError("amount", "must be positive")
	case len(req.Currency) != 3:
		return models.NewValidationError("currency", "must be an ISO 4217 code")
	}
	return nil
}

// ReconcileByIntent moves the attempt matching paymentIntentID from PENDING to
// status. A replay returns the stored row with Changed false. An unknown
// intent yields models.ErrNotFound, which callers treat as a no-op.
func (l *Ledger) ReconcileByIntent(ctx context.Context, paymentIntentID string, status models.PaymentStatus) (Reconciliation, error) {
	if paymentIntentID == "" {
		return Reconciliation{}, models.NewValidationError("payment_intent_id", "is required")
	}
	if !status.IsTerminal() {
		return Reconciliation{}, models.NewValidationError("status", fmt.Sprintf("%s is not a terminal status", status))
	}

	attempt, err := scanAttempt(l.db.QueryRowContext(ctx,
		"UPDATE payment_attempts SET status = $1, updated_at = NOW() "+
			"WHERE payment_intent_id = $2 AND status = $3 RETURNING "+attemptColumns,
		status, paymentIntentID, models.PaymentStatusPending,
	))
	switch {
	case err == nil:
		l.logger.Info("Payment attempt reconciled",
			zap.String("payment_id", attempt.ID),
			zap.String("order_id", attempt.OrderID),
			zap.String("payment_intent_id", paymentIntentID),
			zap.String("status", string(status)),
		)
		return Reconciliation{Attempt: attempt, Changed: true}, nil
	case errors.Is(err, sql.ErrNoRows):
	case isUniqueViolation(err):
		return Reconciliation{}, ErrDuplicateSuccess
	default:
		return Reconciliation{}, models.Unavailable("update payment attempt", err)
	}

	attempt, err = scanAttempt(l.db.QueryRowContext(ctx,
		"SELECT "+attemptColumns+" FROM payment_attempts WHERE payment_intent_id = $1",
		paymentIntentID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return Reconciliation{}, fmt.Errorf("payment intent %s: %w", paymentIntentID, models.ErrNotFound)
	}
	if err != nil {
		return Reconciliation{}, models.Unavailable("select payment attempt", err)
	}
	return Reconciliation{Attempt: attempt, Changed: false}, nil
}

// ReconcileBySession moves the attempt opened for sessionID from PENDING to
// status. Providers report some results, such as an expired checkout session,
// before any intent exists. Replays return the stored row with Changed false.
func (l *Ledger) ReconcileBySession(ctx context.Context, sessionID string, status models.PaymentStatus) (Reconciliation, error) {
	if sessionID == "" {
		return Reconciliation{}, models.NewValidationError("session_id", "is required")
	}
	if !status.IsTerminal() {
		return Reconciliation{}, models.NewValidationError("status", fmt.Sprintf("%s is not a terminal status", status))
	}

	attempt, err := scanAttempt(l.db.QueryRowContext(ctx,
		"UPDATE payment_attempts SET status = $1, updated_at = NOW() "+
			"WHERE session_id = $2 AND status = $3 RETURNING "+attemptColumns,
		status, sessionID, models.PaymentStatusPending,
	))
	switch {
	case err == nil:
		l.logger.Info("Payment attempt reconciled by session",
			zap.String("payment_id", attempt.ID),
			zap.String("order_id", attempt.OrderID),
			zap.String("session_id", sessionID),
			zap.String("status", string(status)),
		)
		return Reconciliation{Attempt: attempt, Changed: true}, nil
	case errors.Is(err, sql.ErrNoRows):
	case isUniqueViolation(err):
		return Reconciliation{}, ErrDuplicateSuccess
	default:
		return Reconciliation{}, models.Unavailable("update payment attempt", err)
	}

	attempt, err = l.findBySession(ctx, sessionID)
	if err != nil {
		return Reconciliation{}, err
	}
	return Reconciliation{Attempt: attempt, Changed: false}, nil
}

// LinkIntentToSession backfills the intent id on the attempt opened for
// sessionID. Linking the same pair again is a no-op; an intent is never moved
// to a different session.
func (l *Ledger) LinkIntentToSession(ctx context.Context, sessionID, paymentIntentID string) (models.PaymentAttempt, error) {
	if sessionID == "" || paymentIntentID == "" {
		return models.PaymentAttempt{}, models.NewValidationError("session_id", "session and payment intent are required")
	}

	attempt, err := scanAttempt(l.db.QueryRowContext(ctx,
		"UPDATE payment_attempts SET payment_intent_id = $2, "+
			"updated_at = CASE WHEN payment_intent_id IS NULL THEN NOW() ELSE updated_at END "+
			"WHERE session_id = $1 AND (payment_intent_id IS NULL OR payment_intent_id = $2) RETURNING "+attemptColumns,
		sessionID, paymentIntentID,
	))
	switch {
	case err == nil:
		return attempt, nil
	case errors.Is(err, sql.ErrNoRows):
	case isUniqueViolation(err):
		return models.PaymentAttempt{}, ErrIntentConflict
	default:
		return models.PaymentAttempt{}, models.Unavailable("link payment intent", err)
	}

	if _, err := l.findBySession(ctx, sessionID); err != nil {
		return models.PaymentAttempt{}, err
	}
	return models.PaymentAttempt{}, ErrIntentConflict
}

// History returns every attempt for the order, most recent first.
func (l *Ledger) History(ctx context.Context, orderID string) ([]models.PaymentAttempt, error) {
	rows, err := l.db.QueryContext(ctx,
		"SELECT "+attemptColumns+" FROM payment_attempts WHERE order_id = $1 ORDER BY created_at DESC, id DESC",
		orderID,
	)
	if err != nil {
		return nil, models.Unavailable("list payment attempts", err)
	}
	defer rows.Close()

	attempts := []models.PaymentAttempt{}
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, models.Unavailable("scan payment attempt", err)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, models.Unavailable("list payment attempts", err)
	}
	return attempts, nil
}

func (l *Ledger) HasSuccessfulAttempt(ctx context.Context, orderID string) (bool, error) {
	var ok bool
	err := l.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM payment_attempts WHERE order_id = $1 AND status = $2)",
		orderID, models.PaymentStatusSuccess,
	).Scan(&ok)
	if err != nil {
		return false, models.Unavailable("check payment attempts", err)
	}
	return ok, nil
}

func (l *Ledger) findBySession(ctx context.Context, sessionID string) (models.PaymentAttempt, error) {
	attempt, err := scanAttempt(l.db.QueryRowContext(ctx,
		"SELECT "+attemptColumns+" FROM payment_attempts WHERE session_id = $1",
		sessionID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return models.PaymentAttempt{}, fmt.Errorf("checkout session %s: %w", sessionID, models.ErrNotFound)
	}
	if err != nil {
		return models.PaymentAttempt{}, models.Unavailable("select payment attempt", err)
	}
	return attempt, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row rowScanner) (models.PaymentAttempt, error) {
	var (
		a        models.PaymentAttempt
		intent   sql.NullString
		metadata []byte
	)
	err := row.Scan(&a.ID, &a.OrderID, &a.Provider, &a.SessionID, &intent, &a.Status,
		&a.Amount, &a.Currency, &metadata, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return models.PaymentAttempt{}, err
	}
	if intent.Valid {
		a.PaymentIntentID = &intent.String
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &a.Metadata); err != nil {
			return models.PaymentAttempt{}, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	return a, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// ParkResult keeps the terminal status reported for an intent that no attempt
// is linked to yet. The first parked status for an intent wins.
func (l *Ledger) ParkResult(ctx context.Context, paymentIntentID string, status models.PaymentStatus, eventID string) error {
	_, err := l.db.ExecContext(ctx,
		"INSERT INTO parked_intent_results (payment_intent_id, status, event_id) VALUES ($1, $2, $3) "+
			"ON CONFLICT (payment_intent_id) DO NOTHING",
		paymentIntentID, status, eventID,
	)
	if err != nil {
		return models.Unavailable("park payment result", err)
	}
	return nil
}

// ParkedResult returns the status parked for paymentIntentID, if any.
func (l *Ledger) ParkedResult(ctx context.Context, paymentIntentID string) (models.PaymentStatus, bool, error) {
	var status models.PaymentStatus
	err := l.db.QueryRowContext(ctx,
		"SELECT status FROM parked_intent_results WHERE payment_intent_id = $1",
		paymentIntentID,
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, models.Unavailable("select parked payment result", err)
	}
	return status, true, nil
}
