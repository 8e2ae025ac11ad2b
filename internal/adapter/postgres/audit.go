package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditRecorder implements audit.Recorder using PostgreSQL. Records are
// append-only; callers treat failures as non-fatal.
type AuditRecorder struct {
	pool *pgxpool.Pool
}

// NewAuditRecorder creates a new AuditRecorder backed by the given pool.
func NewAuditRecorder(pool *pgxpool.Pool) *AuditRecorder {
	return &AuditRecorder{pool: pool}
}

// Record inserts one audit row with the action name and a JSON payload.
func (r *AuditRecorder) Record(ctx context.Context, action string, data map[string]any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal audit data: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO audit_records (action, data) VALUES ($1, $2)`,
		action, payload)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}
