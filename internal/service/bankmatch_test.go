package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/finback/autoclerk/internal/cascade"
	"github.com/finback/autoclerk/internal/domain/decision"
	"github.com/finback/autoclerk/internal/domain/event"
	"github.com/finback/autoclerk/internal/domain/match"
	"github.com/finback/autoclerk/internal/domain/policy"
	"github.com/finback/autoclerk/internal/port/messagequeue"
	"github.com/finback/autoclerk/internal/port/notifier"
)

type memLedger struct {
	mu           sync.Mutex
	reconciled   map[string]string
	updated      map[string]map[string]string
	transfers    int
	reconcileErr error
}

func newMemLedger() *memLedger {
	return &memLedger{
		reconciled: make(map[string]string),
		updated:    make(map[string]map[string]string),
	}
}

func (l *memLedger) Reconcile(_ context.Context, transactionID, _, matchID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reconcileErr != nil {
		return l.reconcileErr
	}
	l.reconciled[transactionID] = matchID
	return nil
}

func (l *memLedger) UpdateRecord(_ context.Context, id string, fields map[string]string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updated[id] = fields
	return nil
}

func (l *memLedger) CreateTransfer(_ context.Context, _, _ string, _ float64, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transfers++
	return nil
}

type memNotifier struct {
	mu        sync.Mutex
	proposals []notifier.Proposal
}

func (n *memNotifier) SendApprovalRequired(_ context.Context, p notifier.Proposal) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.proposals = append(n.proposals, p)
	return nil
}

func (n *memNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.proposals)
}

// ledgerRows serves cascade lookups from a fixed slice.
type ledgerRows struct {
	rows []cascade.Record
}

func (s *ledgerRows) FindExact(_ context.Context, subj match.Subject) ([]cascade.Record, error) {
	var out []cascade.Record
	for _, r := range s.rows {
		if r.Amount == subj.Amount && r.Date.Equal(subj.Date) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *ledgerRows) FindWindow(_ context.Context, subj match.Subject, days int) ([]cascade.Record, error) {
	var out []cascade.Record
	for _, r := range s.rows {
		off := r.Date.Sub(subj.Date)
		if off < 0 {
			off = -off
		}
		if r.Amount == subj.Amount && off <= time.Duration(days)*24*time.Hour {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *ledgerRows) FindReference(_ context.Context, _ match.Subject, token string) ([]cascade.Record, error) {
	var out []cascade.Record
	for _, r := range s.rows {
		if r.Reference == token {
			out = append(out, r)
		}
	}
	return out, nil
}

func newTestCascade(rows []cascade.Record) *cascade.Cascade {
	store := &ledgerRows{rows: rows}
	return cascade.New([]cascade.Strategy{
		cascade.NewExactStrategy(store),
		cascade.NewWindowedStrategy(store, 3),
		cascade.NewReferenceStrategy(store),
	})
}

func bankTxnEvent(t *testing.T, id string, amount float64, date time.Time) event.Event {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"transaction": map[string]any{
			"id":           id,
			"entity_ref":   "acme-uk",
			"amount":       amount,
			"date":         date,
			"description":  "card payment",
			"counterparty": "Staples",
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return event.New(event.TypeBankTxnImported, "bank-feed", payload)
}

func TestBankMatcherReconcilesHighConfidence(t *testing.T) {
	date := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	led := newMemLedger()
	not := &memNotifier{}
	q := newMemQueue()
	esc := NewEscalator(q, not, nil, nil, nil)
	c := newTestCascade([]cascade.Record{
		{SourceType: "invoice", SourceID: "inv-9", Amount: 120, Date: date},
	})
	m := NewBankMatcher(newTestStore(t), c, led, nil, esc, nil)

	out, err := m.Handle(context.Background(), bankTxnEvent(t, "txn-1", 120, date))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	res := out.(MatchOutcome)
	if res.Decision.Outcome != decision.OutcomeAuto {
		t.Errorf("exact single match must auto-reconcile, got %s (reasons %v)",
			res.Decision.Outcome, res.Reasons)
	}
	if led.reconciled["txn-1"] != "inv-9" {
		t.Errorf("transaction not reconciled, got %v", led.reconciled)
	}
	if not.count() != 0 {
		t.Error("auto path must not notify for approval")
	}
	if len(q.published[messagequeue.SubjectDecisionMade]) != 1 {
		t.Errorf("decision must be published, got %v", q.published)
	}
}

func TestBankMatcherEscalatesLowConfidence(t *testing.T) {
	date := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	led := newMemLedger()
	not := &memNotifier{}
	q := newMemQueue()
	esc := NewEscalator(q, not, nil, nil, nil)
	// Only a windowed match two days off: 0.95 - (0.25)*(2/3) ≈ 0.78,
	// below the 0.9 threshold even with boosts.
	c := newTestCascade([]cascade.Record{
		{SourceType: "invoice", SourceID: "inv-9", Amount: 3100, Date: date.Add(48 * time.Hour)},
	})
	m := NewBankMatcher(newTestStore(t), c, led, nil, esc, nil)

	out, err := m.Handle(context.Background(), bankTxnEvent(t, "txn-2", 3100, date))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	res := out.(MatchOutcome)
	if res.Decision.Outcome != decision.OutcomePropose {
		t.Errorf("low confidence must propose, got %s", res.Decision.Outcome)
	}
	if len(res.Reasons) == 0 {
		t.Error("review outcome must carry classified reasons")
	}
	if len(led.reconciled) != 0 {
		t.Error("escalated transaction must not touch the ledger")
	}
	if not.count() != 1 {
		t.Errorf("review must notify for approval, got %d", not.count())
	}
	if got := not.proposals[0]; len(got.Candidates) == 0 {
		t.Error("proposal must carry the ranked candidate list")
	}
}

func TestBankMatcherNoCandidates(t *testing.T) {
	date := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	not := &memNotifier{}
	esc := NewEscalator(nil, not, nil, nil, nil)
	m := NewBankMatcher(newTestStore(t), newTestCascade(nil), newMemLedger(), nil, esc, nil)

	out, err := m.Handle(context.Background(), bankTxnEvent(t, "txn-3", 55, date))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	res := out.(MatchOutcome)
	if res.Confidence != 0 {
		t.Errorf("no candidates means zero confidence, got %v", res.Confidence)
	}
	found := false
	for _, reason := range res.Reasons {
		if reason == decision.ReasonNoCandidates {
			found = true
		}
	}
	if !found {
		t.Errorf("expected no-candidates reason, got %v", res.Reasons)
	}
}

// resolvingRows drops a row once it is marked resolved, like the mirror
// table does.
type resolvingRows struct {
	ledgerRows
}

func (s *resolvingRows) MarkResolved(_ context.Context, sourceID string) error {
	kept := s.rows[:0]
	for _, r := range s.rows {
		if r.SourceID != sourceID {
			kept = append(kept, r)
		}
	}
	s.rows = kept
	return nil
}

func TestBankMatcherResolvedRecordStopsMatching(t *testing.T) {
	date := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	led := newMemLedger()
	not := &memNotifier{}
	esc := NewEscalator(nil, not, nil, nil, nil)
	store := &resolvingRows{ledgerRows{rows: []cascade.Record{
		{SourceType: "invoice", SourceID: "inv-9", Amount: 120, Date: date},
	}}}
	c := cascade.New([]cascade.Strategy{
		cascade.NewExactStrategy(store),
		cascade.NewWindowedStrategy(store, 3),
		cascade.NewReferenceStrategy(store),
	})
	m := NewBankMatcher(newTestStore(t), c, led, store, esc, nil)

	out, err := m.Handle(context.Background(), bankTxnEvent(t, "txn-1", 120, date))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out.(MatchOutcome).Decision.Outcome != decision.OutcomeAuto {
		t.Fatalf("first transaction must auto-reconcile, got %s", out.(MatchOutcome).Decision.Outcome)
	}

	// A second transaction with the same amount and date must not match the
	// record that was just reconciled.
	out, err = m.Handle(context.Background(), bankTxnEvent(t, "txn-2", 120, date))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	res := out.(MatchOutcome)
	if res.Decision.Outcome == decision.OutcomeAuto {
		t.Error("resolved record must not auto-match a second transaction")
	}
	if len(res.Candidates) != 0 {
		t.Errorf("resolved record still surfaced as candidate: %+v", res.Candidates)
	}
	if len(led.reconciled) != 1 {
		t.Errorf("only the first transaction may reconcile, got %v", led.reconciled)
	}
}

func allocationPolicy(t *testing.T) *PolicyStore {
	t.Helper()
	doc := policy.Document{
		Version: 1,
		Approval: policy.ApprovalRules{
			Auto: []string{`description contains "Allocation"`},
		},
		CounterpartyRules: []policy.CounterpartyRule{
			{Counterparty: "Internal Treasury", DefaultAccount: "1205"},
		},
	}
	s, err := NewPolicyStore(doc)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestBankMatcherBooksAllocationTransfer(t *testing.T) {
	led := newMemLedger()
	q := newMemQueue()
	not := &memNotifier{}
	esc := NewEscalator(q, not, nil, nil, nil)
	m := NewBankMatcher(allocationPolicy(t), newTestCascade(nil), led, nil, esc, nil)

	payload, err := json.Marshal(map[string]any{
		"transaction": map[string]any{
			"id":           "txn-7",
			"entity_ref":   "main",
			"amount":       250.0,
			"date":         time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
			"description":  "Allocation to reserve",
			"counterparty": "Internal Treasury",
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	ev := event.New(event.TypeBankTxnImported, "bank-feed", payload)

	out, err := m.Handle(context.Background(), ev)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	res := out.(MatchOutcome)
	if res.Decision.Outcome != decision.OutcomeAuto {
		t.Errorf("policy-approved allocation must book automatically, got %s", res.Decision.Outcome)
	}
	if led.transfers != 1 {
		t.Errorf("expected 1 transfer booked, got %d", led.transfers)
	}
	if not.count() != 0 {
		t.Error("booked allocation must not request review")
	}
	if len(q.published[messagequeue.SubjectDecisionMade]) != 1 {
		t.Errorf("decision must be published, got %v", q.published)
	}
}

func TestBankMatcherUnknownCounterpartyStillEscalates(t *testing.T) {
	not := &memNotifier{}
	esc := NewEscalator(nil, not, nil, nil, nil)
	m := NewBankMatcher(allocationPolicy(t), newTestCascade(nil), newMemLedger(), nil, esc, nil)

	// Staples has no counterparty rule here, so no allocation applies.
	out, err := m.Handle(context.Background(), bankTxnEvent(t, "txn-8", 80, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out.(MatchOutcome).Decision.Outcome != decision.OutcomePropose {
		t.Errorf("unmatched transaction must propose, got %s", out.(MatchOutcome).Decision.Outcome)
	}
	if not.count() != 1 {
		t.Errorf("unmatched transaction must request review, got %d", not.count())
	}
}

func TestBankMatcherMissingTransactionID(t *testing.T) {
	esc := NewEscalator(nil, nil, nil, nil, nil)
	m := NewBankMatcher(newTestStore(t), newTestCascade(nil), newMemLedger(), nil, esc, nil)

	ev := event.New(event.TypeBankTxnImported, "bank-feed", json.RawMessage(`{"transaction":{}}`))
	if _, err := m.Handle(context.Background(), ev); err == nil {
		t.Error("missing transaction id must be an error")
	}
}
