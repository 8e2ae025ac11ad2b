// Package ledger defines the port to the accounting system. Mutations go
// through Writer, and the core calls it only after a decision of "auto"; a
// call either succeeds or returns an error, with no partial-success
// semantics.
package ledger

import (
	"context"
	"time"
)

// Writer is the port interface for ledger mutations.
type Writer interface {
	// Reconcile marks a bank transaction as matched to a ledger record.
	Reconcile(ctx context.Context, transactionID, matchType, matchID string) error

	// UpdateRecord patches fields on a ledger record (e.g. expense coding).
	UpdateRecord(ctx context.Context, id string, fields map[string]string) error

	// CreateTransfer books an inter-account transfer.
	CreateTransfer(ctx context.Context, from, to string, amount float64, note string) error
}

// OverdueInvoice is one entry in the ledger's overdue set, consumed by the
// scheduled collections sweep.
type OverdueInvoice struct {
	ID            string    `json:"id"`
	EntityRef     string    `json:"entity_ref"`
	Customer      string    `json:"customer"`
	Amount        float64   `json:"amount"`
	DueDate       time.Time `json:"due_date"`
	DaysOverdue   int       `json:"days_overdue"`
	RemindersSent int       `json:"reminders_sent"`
}
