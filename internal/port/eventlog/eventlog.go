// Package eventlog defines the append-only event log port used for audit
// and replay of inbound events.
package eventlog

import (
	"context"

	"github.com/finback/autoclerk/internal/domain/event"
)

// Store is the port interface for the append-only event log.
type Store interface {
	// Append persists an event. Events are immutable once written.
	Append(ctx context.Context, ev *event.Event) error

	// ListByCorrelation returns all events sharing a correlation ID,
	// oldest first.
	ListByCorrelation(ctx context.Context, correlationID string) ([]event.Event, error)
}
