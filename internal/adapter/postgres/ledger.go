package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finback/autoclerk/internal/cascade"
	"github.com/finback/autoclerk/internal/domain/match"
)

// LedgerRecords implements cascade.Store over a local mirror of open ledger
// rows. The mirror is refreshed from the ledger system out of band; matching
// queries never leave the database.
type LedgerRecords struct {
	pool *pgxpool.Pool
}

// NewLedgerRecords creates a new LedgerRecords backed by the given pool.
func NewLedgerRecords(pool *pgxpool.Pool) *LedgerRecords {
	return &LedgerRecords{pool: pool}
}

// ledgerColumns is the SELECT column list for ledger_records queries.
const ledgerColumns = `source_type, id, amount, posted_on, reference, description`

func scanRecord(scanner interface{ Scan(dest ...any) error }, rec *cascade.Record) error {
	return scanner.Scan(
		&rec.SourceType, &rec.SourceID, &rec.Amount,
		&rec.Date, &rec.Reference, &rec.Description,
	)
}

func (s *LedgerRecords) query(ctx context.Context, sql string, args ...any) ([]cascade.Record, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []cascade.Record
	for rows.Next() {
		var rec cascade.Record
		if err := scanRecord(rows, &rec); err != nil {
			return nil, fmt.Errorf("scan ledger record: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// FindExact returns unresolved records with the subject's exact amount on
// the subject's date.
func (s *LedgerRecords) FindExact(ctx context.Context, sub match.Subject) ([]cascade.Record, error) {
	recs, err := s.query(ctx,
		fmt.Sprintf(`SELECT %s FROM ledger_records
		 WHERE NOT resolved AND amount = $1 AND posted_on = $2::date`, ledgerColumns),
		sub.Amount, sub.Date)
	if err != nil {
		return nil, fmt.Errorf("find exact: %w", err)
	}
	return recs, nil
}

// FindWindow returns unresolved records with the subject's exact amount
// within ±days of the subject's date, nearest date first.
func (s *LedgerRecords) FindWindow(ctx context.Context, sub match.Subject, days int) ([]cascade.Record, error) {
	recs, err := s.query(ctx,
		fmt.Sprintf(`SELECT %s FROM ledger_records
		 WHERE NOT resolved AND amount = $1
		   AND posted_on BETWEEN $2::date - $3::int AND $2::date + $3::int
		 ORDER BY ABS(posted_on - $2::date) ASC`, ledgerColumns),
		sub.Amount, sub.Date, days)
	if err != nil {
		return nil, fmt.Errorf("find window: %w", err)
	}
	return recs, nil
}

// FindReference returns unresolved records whose reference field contains
// the extracted token, case-insensitively.
func (s *LedgerRecords) FindReference(ctx context.Context, _ match.Subject, token string) ([]cascade.Record, error) {
	recs, err := s.query(ctx,
		fmt.Sprintf(`SELECT %s FROM ledger_records
		 WHERE NOT resolved AND reference ILIKE '%%' || $1 || '%%'`, ledgerColumns),
		token)
	if err != nil {
		return nil, fmt.Errorf("find reference: %w", err)
	}
	return recs, nil
}

// SyncRecords upserts a batch of open ledger rows into the mirror. Existing
// rows keep their resolved flag.
func (s *LedgerRecords) SyncRecords(ctx context.Context, recs []cascade.Record) error {
	for _, rec := range recs {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO ledger_records (id, source_type, amount, posted_on, reference, description, synced_at)
			 VALUES ($1, $2, $3, $4, $5, $6, now())
			 ON CONFLICT (id) DO UPDATE SET
			   amount = EXCLUDED.amount,
			   posted_on = EXCLUDED.posted_on,
			   reference = EXCLUDED.reference,
			   description = EXCLUDED.description,
			   synced_at = now()`,
			rec.SourceID, rec.SourceType, rec.Amount, rec.Date, rec.Reference, rec.Description)
		if err != nil {
			return fmt.Errorf("sync ledger record %s: %w", rec.SourceID, err)
		}
	}
	return nil
}

// MarkResolved flags a mirrored row as resolved so it stops appearing as a
// match candidate.
func (s *LedgerRecords) MarkResolved(ctx context.Context, sourceID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE ledger_records SET resolved = TRUE WHERE id = $1`, sourceID)
	if err != nil {
		return fmt.Errorf("mark resolved %s: %w", sourceID, err)
	}
	return nil
}
