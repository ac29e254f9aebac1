// Package memstore holds in-memory stores with the same conditional-write
// semantics as the Postgres stores. Tests use them to run the order,
// payment and shipping flows end to end without a database.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"fulfillment-svc/ledger"
	"fulfillment-svc/models"

	"github.com/google/uuid"
)

type Orders struct {
	mu     sync.Mutex
	orders map[string]models.Order
	seq    int64

	// BeforeCAS, when set, runs before every compare-and-set while the store
	// is unlocked. Tests use it to interleave a concurrent writer.
	BeforeCAS func(id string)
}

func NewOrders() *Orders {
	return &Orders{orders: make(map[string]models.Order)}
}

func (s *Orders) Create(ctx context.Context, o models.Order) (models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	now := time.Now().UTC()
	o.Number = s.seq
	o.CreatedAt, o.UpdatedAt = now, now
	s.orders[o.ID] = o
	return o, nil
}

// Put stores o as is, replacing any order with the same id.
func (s *Orders) Put(o models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
}

func (s *Orders) Get(ctx context.Context, id string) (models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return models.Order{}, fmt.Errorf("order %s: %w", id, models.ErrNotFound)
	}
	return o, nil
}

func (s *Orders) CompareAndSetStatus(ctx context.Context, id string, from, to models.OrderStatus) (models.Order, bool, error) {
	if s.BeforeCAS != nil {
		s.BeforeCAS(id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.Status != from {
		return models.Order{}, false, nil
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	s.orders[id] = o
	return o, true, nil
}

// SetStatus overwrites the status without any check.
func (s *Orders) SetStatus(id string, status models.OrderStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.orders[id]
	o.Status = status
	s.orders[id] = o
}

type Ledger struct {
	mu       sync.Mutex
	attempts []models.PaymentAttempt
	parked   map[string]models.PaymentStatus
}

func NewLedger() *Ledger {
	return &Ledger{parked: make(map[string]models.PaymentStatus)}
}

func (l *Ledger) ParkResult(ctx context.Context, paymentIntentID string, status models.PaymentStatus, eventID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.parked[paymentIntentID]; !ok {
		l.parked[paymentIntentID] = status
	}
	return nil
}

func (l *Ledger) ParkedResult(ctx context.Context, paymentIntentID string) (models.PaymentStatus, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	status, ok := l.parked[paymentIntentID]
	return status, ok, nil
}

// Attempt returns the attempt recorded for sessionID.
func (l *Ledger) Attempt(sessionID string) (models.PaymentAttempt, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, a := range l.attempts {
		if a.SessionID == sessionID {
			return a, true
		}
	}
	return models.PaymentAttempt{}, false
}

func (l *Ledger) RecordAttempt(ctx context.Context, req ledger.NewAttempt) (models.PaymentAttempt, error) {
	if err := req.Validate(); err != nil {
		return models.PaymentAttempt{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, a := range l.attempts {
		if a.SessionID == req.SessionID {
			if a.OrderID != req.OrderID {
				return models.PaymentAttempt{}, models.NewValidationError("session_id", "already recorded for another order")
			}
			return a, nil
		}
	}

	var intent *string
	if req.PaymentIntentID != "" {
		if l.indexByIntent(req.PaymentIntentID) >= 0 {
			return models.PaymentAttempt{}, ledger.ErrIntentConflict
		}
		id := req.PaymentIntentID
		intent = &id
	}

	now := time.Now().UTC()
	a := models.PaymentAttempt{
		ID:              uuid.NewString(),
		OrderID:         req.OrderID,
		Provider:        req.Provider,
		SessionID:       req.SessionID,
		PaymentIntentID: intent,
		Status:          models.PaymentStatusPending,
		Amount:          req.Amount,
		Currency:        strings.ToUpper(req.Currency),
		Metadata:        req.Metadata,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	l.attempts = append(l.attempts, a)
	return a, nil
}

func (l *Ledger) ReconcileByIntent(ctx context.Context, paymentIntentID string, status models.PaymentStatus) (ledger.Reconciliation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.indexByIntent(paymentIntentID)
	if i < 0 {
		return ledger.Reconciliation{}, fmt.Errorf("payment intent %s: %w", paymentIntentID, models.ErrNotFound)
	}
	a := l.attempts[i]
	if a.Status != models.PaymentStatusPending {
		return ledger.Reconciliation{Attempt: a}, nil
	}
	if status == models.PaymentStatusSuccess {
		for _, other := range l.attempts {
			if other.OrderID == a.OrderID && other.Status == models.PaymentStatusSuccess {
				return ledger.Reconciliation{}, ledger.ErrDuplicateSuccess
			}
		}
	}
	a.Status = status
	a.UpdatedAt = time.Now().UTC()
	l.attempts[i] = a
	return ledger.Reconciliation{Attempt: a, Changed: true}, nil
}

func (l *Ledger) ReconcileBySession(ctx context.Context, sessionID string, status models.PaymentStatus) (ledger.Reconciliation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, a := range l.attempts {
		if a.SessionID != sessionID {
			continue
		}
		if a.Status != models.PaymentStatusPending {
			return ledger.Reconciliation{Attempt: a}, nil
		}
		if status == models.PaymentStatusSuccess {
			for _, other := range l.attempts {
				if other.OrderID == a.OrderID && other.Status == models.PaymentStatusSuccess {
					return ledger.Reconciliation{}, ledger.ErrDuplicateSuccess
				}
			}
		}
		a.Status = status
		a.UpdatedAt = time.Now().UTC()
		l.attempts[i] = a
		return ledger.Reconciliation{Attempt: a, Changed: true}, nil
	}
	return ledger.Reconciliation{}, fmt.Errorf("checkout session %s: %w", sessionID, models.ErrNotFound)
}

func (l *Ledger) LinkIntentToSession(ctx context.Context, sessionID, paymentIntentID string) (models.PaymentAttempt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, a := range l.attempts {
		if a.SessionID != sessionID {
			continue
		}
		if a.PaymentIntentID != nil {
			if *a.PaymentIntentID == paymentIntentID {
				return a, nil
			}
			return models.PaymentAttempt{}, ledger.ErrIntentConflict
		}
		if l.indexByIntent(paymentIntentID) >= 0 {
			return models.PaymentAttempt{}, ledger.ErrIntentConflict
		}
		id := paymentIntentID
		a.PaymentIntentID = &id
		a.UpdatedAt = time.Now().UTC()
		l.attempts[i] = a
		return a, nil
	}
	return models.PaymentAttempt{}, fmt.Errorf("checkout session %s: %w", sessionID, models.ErrNotFound)
}

func (l *Ledger) History(ctx context.Context, orderID string) ([]models.PaymentAttempt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	attempts := []models.PaymentAttempt{}
	for i := len(l.attempts) - 1; i >= 0; i-- {
		if l.attempts[i].OrderID == orderID {
			attempts = append(attempts, l.attempts[i])
		}
	}
	sort.SliceStable(attempts, func(i, j int) bool {
		return attempts[i].CreatedAt.After(attempts[j].CreatedAt)
	})
	return attempts, nil
}

func (l *Ledger) HasSuccessfulAttempt(ctx context.Context, orderID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, a := range l.attempts {
		if a.OrderID == orderID && a.Status == models.PaymentStatusSuccess {
			return true, nil
		}
	}
	return false, nil
}

func (l *Ledger) indexByIntent(intentID string) int {
	for i, a := range l.attempts {
		if a.PaymentIntentID != nil && *a.PaymentIntentID == intentID {
			return i
		}
	}
	return -1
}

type Shipments struct {
	mu        sync.Mutex
	shipments map[string]models.Shipment
}

func NewShipments() *Shipments {
	return &Shipments{shipments: make(map[string]models.Shipment)}
}

func (s *Shipments) Insert(ctx context.Context, sh models.Shipment) (models.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.shipments {
		if existing.OrderID == sh.OrderID {
			return existing, nil
		}
	}
	now := time.Now().UTC()
	sh.CreatedAt, sh.UpdatedAt = now, now
	s.shipments[sh.ID] = sh
	return sh, nil
}

func (s *Shipments) Get(ctx context.Context, id string) (models.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.shipments[id]
	if !ok {
		return models.Shipment{}, fmt.Errorf("shipment %s: %w", id, models.ErrNotFound)
	}
	return sh, nil
}

func (s *Shipments) GetByOrder(ctx context.Context, orderID string) (models.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sh := range s.shipments {
		if sh.OrderID == orderID {
			return sh, nil
		}
	}
	return models.Shipment{}, fmt.Errorf("shipment for order %s: %w", orderID, models.ErrNotFound)
}

func (s *Shipments) UpdateTracking(ctx context.Context, id string, status models.TrackingStatus) (models.Shipment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.shipments[id]
	if !ok {
		return models.Shipment{}, false, fmt.Errorf("shipment %s: %w", id, models.ErrNotFound)
	}
	if sh.DeliveredAt != nil {
		return sh, false, nil
	}
	now := time.Now().UTC()
	sh.TrackingStatus = status
	if status.LeftWarehouse() && sh.ShippedAt == nil {
		sh.ShippedAt = &now
	}
	if status == models.TrackingStatusDelivered {
		sh.DeliveredAt = &now
	}
	sh.UpdatedAt = now
	s.shipments[id] = sh
	return sh, true, nil
}
