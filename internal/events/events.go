// Package events carries payment state changes to downstream subscribers.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"payment-reconciliation-engine/internal/logger"
)

type Type string

const (
	PaymentMatched  Type = "payment_matched"
	PaymentApproved Type = "payment_approved"
	PaymentRejected Type = "payment_rejected"
	PaymentExpired  Type = "payment_expired"
)

// Event describes one committed payment transition.
type Event struct {
	Type          Type                   `json:"type"`
	PaymentID     uuid.UUID              `json:"payment_id"`
	TransactionID *uuid.UUID             `json:"transaction_id,omitempty"`
	Amount        decimal.Decimal        `json:"amount"`
	IsMismatch    bool                   `json:"is_mismatch,omitempty"`
	OccurredAt    time.Time              `json:"occurred_at"`
	Data          map[string]interface{} `json:"data,omitempty"`
}

// Publisher delivers events. Publishing happens after commit, so a failure
// never undoes the transition.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Handler receives events from a Bus.
type Handler func(ctx context.Context, e Event) error

// Bus fans each event out to its subscribers in registration order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type][]Handler
	all      []Handler
	log      logger.Logger
}

func NewBus(log logger.Logger) *Bus {
	return &Bus{
		handlers: make(map[Type][]Handler),
		log:      log.WithComponent("events"),
	}
}

// Subscribe registers h for the given types, or for every type when none are given.
func (b *Bus) Subscribe(h Handler, types ...Type) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(types) == 0 {
		b.all = append(b.all, h)
		return
	}
	for _, t := range types {
		b.handlers[t] = append(b.handlers[t], h)
	}
}

// Publish calls every matching handler. Handler errors are logged and the
// first one is returned after all handlers ran.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.all)+len(b.handlers[e.Type]))
	handlers = append(handlers, b.handlers[e.Type]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()

	var first error
	for _, h := range handlers {
		if err := h(ctx, e); err != nil {
			b.log.WithError(err).WithFields(logger.Fields{
				"event":      e.Type,
				"payment_id": e.PaymentID,
			}).Error("event handler failed")
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// LogHandler writes each event to log.
func LogHandler(log logger.Logger) Handler {
	return func(_ context.Context, e Event) error {
		log.WithFields(logger.Fields{
			"event":       e.Type,
			"payment_id":  e.PaymentID,
			"amount":      e.Amount.StringFixed(2),
			"is_mismatch": e.IsMismatch,
		}).Info("payment event")
		return nil
	}
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType filters recorded events.
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
