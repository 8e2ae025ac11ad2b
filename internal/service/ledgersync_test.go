package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/finback/autoclerk/internal/cascade"
)

type fakeRecordSource struct {
	recs []cascade.Record
	err  error
}

func (f *fakeRecordSource) FetchOpenRecords(context.Context) ([]cascade.Record, error) {
	return f.recs, f.err
}

type fakeRecordMirror struct {
	synced []cascade.Record
	err    error
}

func (f *fakeRecordMirror) SyncRecords(_ context.Context, recs []cascade.Record) error {
	f.synced = append(f.synced, recs...)
	return f.err
}

func TestLedgerSyncerSync(t *testing.T) {
	src := &fakeRecordSource{recs: []cascade.Record{
		{SourceType: "invoice", SourceID: "inv-1", Amount: 100, Date: time.Now()},
		{SourceType: "invoice", SourceID: "inv-2", Amount: 250, Date: time.Now()},
	}}
	mirror := &fakeRecordMirror{}

	s := NewLedgerSyncer(src, mirror, nil)
	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if len(mirror.synced) != 2 {
		t.Fatalf("synced %d records, want 2", len(mirror.synced))
	}
}

func TestLedgerSyncerSourceError(t *testing.T) {
	src := &fakeRecordSource{err: errors.New("ledger down")}
	mirror := &fakeRecordMirror{}

	s := NewLedgerSyncer(src, mirror, nil)
	if err := s.Sync(context.Background()); err == nil {
		t.Fatal("expected error, got nil")
	}
	if len(mirror.synced) != 0 {
		t.Errorf("mirror written despite source error")
	}
}

func TestLedgerSyncerMirrorError(t *testing.T) {
	src := &fakeRecordSource{recs: []cascade.Record{{SourceID: "inv-1"}}}
	mirror := &fakeRecordMirror{err: errors.New("db down")}

	s := NewLedgerSyncer(src, mirror, nil)
	if err := s.Sync(context.Background()); err == nil {
		t.Fatal("expected error, got nil")
	}
}
