// Package event defines the immutable business event fed into the router.
package event

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of business event.
type Type string

const (
	TypeBillReceived    Type = "bill.received"
	TypeBankTxnImported Type = "bank.txn.imported"
	TypeInvoiceOverdue  Type = "invoice.overdue"
	TypeSpendRequested  Type = "spend.requested"
	TypePeriodClosed    Type = "period.closed"

	// Emitted by the core itself.
	TypeReviewRequired Type = "review.required"
	TypeDecisionMade   Type = "decision.made"

	// Scheduler-produced sweeps.
	TypeCollectionsSweep Type = "collections.sweep"
)

// Event is an immutable record describing something that happened.
// The payload is opaque to the router; only the consuming handler
// interprets it.
type Event struct {
	ID            string          `json:"id"`
	Type          Type            `json:"type"`
	Source        string          `json:"source"`
	EntityRef     string          `json:"entity_ref,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// New builds an Event with a generated ID and the current timestamp.
func New(t Type, source string, payload json.RawMessage) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		Source:    source,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

// Validate checks the minimal shape producers must provide.
func (e *Event) Validate() error {
	if e.Type == "" {
		return errors.New("event: type is required")
	}
	if e.Source == "" {
		return errors.New("event: source is required")
	}
	return nil
}

// EnsureID assigns a fresh ID if the producer did not supply one.
func (e *Event) EnsureID() {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
}
