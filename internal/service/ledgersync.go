package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/finback/autoclerk/internal/cascade"
)

// RecordSource fetches open records from the accounting system.
type RecordSource interface {
	FetchOpenRecords(ctx context.Context) ([]cascade.Record, error)
}

// RecordMirror is the local store the matching strategies query.
type RecordMirror interface {
	SyncRecords(ctx context.Context, recs []cascade.Record) error
}

// LedgerSyncer refreshes the local ledger mirror from the accounting
// system. Matching quality degrades gracefully between refreshes; a stale
// mirror only means fewer candidates, never wrong ones.
type LedgerSyncer struct {
	source RecordSource
	mirror RecordMirror
	log    *slog.Logger
}

// NewLedgerSyncer wires a syncer between the ledger client and the mirror.
func NewLedgerSyncer(source RecordSource, mirror RecordMirror, log *slog.Logger) *LedgerSyncer {
	if log == nil {
		log = slog.Default()
	}
	return &LedgerSyncer{source: source, mirror: mirror, log: log}
}

// Sync pulls the ledger's open records and upserts them into the mirror.
func (s *LedgerSyncer) Sync(ctx context.Context) error {
	recs, err := s.source.FetchOpenRecords(ctx)
	if err != nil {
		return fmt.Errorf("ledger sync: %w", err)
	}
	if err := s.mirror.SyncRecords(ctx, recs); err != nil {
		return fmt.Errorf("ledger sync: %w", err)
	}
	s.log.Info("ledger mirror refreshed", "records", len(recs))
	return nil
}
