package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finback/autoclerk/internal/domain/event"
)

// EventLog implements eventlog.Store using PostgreSQL (append-only).
type EventLog struct {
	pool *pgxpool.Pool
}

// NewEventLog creates a new EventLog backed by the given connection pool.
func NewEventLog(pool *pgxpool.Pool) *EventLog {
	return &EventLog{pool: pool}
}

// Append inserts an event into the events table. Events are never updated
// or deleted; re-appending an existing ID is a no-op.
func (s *EventLog) Append(ctx context.Context, ev *event.Event) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO events (id, event_type, source, entity_ref, payload, correlation_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO NOTHING`,
		ev.ID, string(ev.Type), ev.Source, ev.EntityRef, ev.Payload, ev.CorrelationID, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// eventColumns is the SELECT column list for events queries.
const eventColumns = `id, event_type, source, entity_ref, payload, correlation_id, created_at`

// scanEvent scans a row into an Event.
func scanEvent(scanner interface{ Scan(dest ...any) error }, ev *event.Event) error {
	return scanner.Scan(
		&ev.ID, &ev.Type, &ev.Source, &ev.EntityRef,
		&ev.Payload, &ev.CorrelationID, &ev.CreatedAt,
	)
}

// ListByCorrelation returns all events sharing a correlation ID, oldest first.
func (s *EventLog) ListByCorrelation(ctx context.Context, correlationID string) ([]event.Event, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM events WHERE correlation_id = $1 ORDER BY created_at ASC`, eventColumns),
		correlationID)
	if err != nil {
		return nil, fmt.Errorf("list events by correlation %s: %w", correlationID, err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var ev event.Event
		if err := scanEvent(rows, &ev); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
