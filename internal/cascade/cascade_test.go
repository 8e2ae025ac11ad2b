package cascade

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/finback/autoclerk/internal/domain/match"
	"github.com/finback/autoclerk/internal/port/suggester"
)

type fakeStore struct {
	exact     []Record
	window    []Record
	reference []Record

	exactCalls  int
	windowCalls int
	refCalls    int

	exactErr error
}

func (f *fakeStore) FindExact(_ context.Context, _ match.Subject) ([]Record, error) {
	f.exactCalls++
	return f.exact, f.exactErr
}

func (f *fakeStore) FindWindow(_ context.Context, _ match.Subject, _ int) ([]Record, error) {
	f.windowCalls++
	return f.window, nil
}

func (f *fakeStore) FindReference(_ context.Context, _ match.Subject, _ string) ([]Record, error) {
	f.refCalls++
	return f.reference, nil
}

type fakeSuggester struct {
	sug   suggester.Suggestion
	err   error
	calls int
}

func (f *fakeSuggester) Suggest(_ context.Context, _ string) (suggester.Suggestion, error) {
	f.calls++
	return f.sug, f.err
}

func testSubject() match.Subject {
	return match.Subject{
		Kind:         "bank_txn",
		ID:           "txn-1",
		Amount:       120.50,
		Date:         time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		Description:  "Monthly Allocation Transfer INV-4412",
		Counterparty: "Acme",
	}
}

func newTestCascade(store Store, sug suggester.Suggester) *Cascade {
	return New([]Strategy{
		NewExactStrategy(store),
		NewWindowedStrategy(store, 3),
		NewReferenceStrategy(store),
		NewAssistedStrategy(sug, nil),
	})
}

func TestResolveShortCircuitsAtFirstHit(t *testing.T) {
	store := &fakeStore{
		exact:  []Record{{SourceID: "led-1", Amount: 120.50, Date: testSubject().Date}},
		window: []Record{{SourceID: "led-2", Amount: 120.50, Date: testSubject().Date.AddDate(0, 0, -1)}},
	}
	sug := &fakeSuggester{}
	c := newTestCascade(store, sug)

	cands, err := c.Resolve(context.Background(), testSubject())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cands) != 1 || cands[0].SourceID != "led-1" {
		t.Fatalf("expected only the exact candidate, got %+v", cands)
	}
	if cands[0].Method != match.MethodExact {
		t.Errorf("expected exact method, got %s", cands[0].Method)
	}
	if store.windowCalls != 0 || store.refCalls != 0 || sug.calls != 0 {
		t.Error("later strategies must not run once a strategy has candidates")
	}
}

func TestResolveFallsThroughEmptyStrategies(t *testing.T) {
	store := &fakeStore{
		window: []Record{{SourceID: "led-9", Amount: 120.50, Date: testSubject().Date.AddDate(0, 0, 2)}},
	}
	c := newTestCascade(store, &fakeSuggester{})

	cands, err := c.Resolve(context.Background(), testSubject())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cands) != 1 || cands[0].Method != match.MethodWindowed {
		t.Fatalf("expected windowed candidate, got %+v", cands)
	}
	if store.exactCalls != 1 {
		t.Error("exact strategy should have been tried first")
	}
}

func TestResolveStrategyErrorFallsThrough(t *testing.T) {
	store := &fakeStore{
		exactErr: errors.New("ledger unavailable"),
		window:   []Record{{SourceID: "led-3", Amount: 120.50, Date: testSubject().Date}},
	}
	c := newTestCascade(store, &fakeSuggester{})

	cands, err := c.Resolve(context.Background(), testSubject())
	if err != nil {
		t.Fatalf("a later hit should swallow the earlier strategy error, got %v", err)
	}
	if len(cands) != 1 || cands[0].SourceID != "led-3" {
		t.Fatalf("expected windowed fallback, got %+v", cands)
	}
}

func TestResolveAllEmptyReturnsLastError(t *testing.T) {
	store := &fakeStore{exactErr: errors.New("ledger unavailable")}
	c := newTestCascade(store, &fakeSuggester{})

	cands, err := c.Resolve(context.Background(), testSubject())
	if cands != nil {
		t.Fatalf("expected no candidates, got %+v", cands)
	}
	if err == nil {
		t.Fatal("expected the last strategy error when everything came up empty")
	}
	if !strings.Contains(err.Error(), "exact strategy") {
		t.Errorf("error should name the failing strategy, got %q", err)
	}
}

func TestResolveRanksAndTruncatesToTopThree(t *testing.T) {
	subj := testSubject()
	store := &fakeStore{
		window: []Record{
			{SourceID: "a", Amount: subj.Amount, Date: subj.Date.AddDate(0, 0, -3)},
			{SourceID: "b", Amount: subj.Amount, Date: subj.Date},
			{SourceID: "c", Amount: subj.Amount, Date: subj.Date.AddDate(0, 0, 1)},
			{SourceID: "d", Amount: subj.Amount, Date: subj.Date.AddDate(0, 0, -2)},
		},
	}
	c := newTestCascade(store, &fakeSuggester{})

	cands, err := c.Resolve(context.Background(), subj)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cands) != 3 {
		t.Fatalf("expected top 3, got %d", len(cands))
	}
	if cands[0].SourceID != "b" {
		t.Errorf("closest date should rank first, got %q", cands[0].SourceID)
	}
	for i := 1; i < len(cands); i++ {
		if cands[i].Confidence > cands[i-1].Confidence {
			t.Error("candidates must be sorted by confidence descending")
		}
	}
}

func TestWindowedDecayAndFloor(t *testing.T) {
	subj := testSubject()
	store := &fakeStore{
		window: []Record{
			{SourceID: "same-day", Amount: subj.Amount, Date: subj.Date},
			{SourceID: "edge", Amount: subj.Amount, Date: subj.Date.AddDate(0, 0, -3)},
		},
	}
	s := NewWindowedStrategy(store, 3)

	cands, err := s.Resolve(context.Background(), subj)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	byID := map[string]float64{}
	for _, c := range cands {
		byID[c.SourceID] = c.Confidence
	}
	if byID["same-day"] != 0.95 {
		t.Errorf("zero distance should keep the exact base, got %v", byID["same-day"])
	}
	if byID["edge"] != 0.70 {
		t.Errorf("window edge should hit the floor, got %v", byID["edge"])
	}
	if byID["same-day"] <= byID["edge"] {
		t.Error("confidence must decay with distance")
	}
}

func TestReferenceExtraction(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"Payment INV-4412 March", "INV-4412"},
		{"payment inv/99321", "inv/99321"},
		{"REF: AB-3321X settlement", "AB-3321X"},
		{"wire 20260310 order 9934122", "20260310"},
		{"no tokens here", ""},
	}
	for _, tt := range tests {
		if got := ExtractReference(tt.text); got != tt.want {
			t.Errorf("ExtractReference(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestReferenceAmountAgreementScoresHigher(t *testing.T) {
	subj := testSubject()
	store := &fakeStore{
		reference: []Record{
			{SourceID: "agrees", Amount: subj.Amount},
			{SourceID: "differs", Amount: subj.Amount + 10},
		},
	}
	s := NewReferenceStrategy(store)

	cands, err := s.Resolve(context.Background(), subj)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	byID := map[string]float64{}
	for _, c := range cands {
		byID[c.SourceID] = c.Confidence
	}
	if byID["agrees"] != 0.85 || byID["differs"] != 0.70 {
		t.Errorf("expected 0.85/0.70 split, got %v", byID)
	}
}

func TestAssistedDiscount(t *testing.T) {
	sug := &fakeSuggester{sug: suggester.Suggestion{
		SourceType: "ledger_txn",
		SourceID:   "guess-1",
		Confidence: 0.9,
	}}
	s := NewAssistedStrategy(sug, nil)

	cands, err := s.Resolve(context.Background(), testSubject())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cands) != 1 {
		t.Fatalf("expected one candidate, got %d", len(cands))
	}
	want := 0.9 * 0.8
	if diff := cands[0].Confidence - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected discounted confidence %v, got %v", want, cands[0].Confidence)
	}
}

func TestComputeConfidenceBoostsAndCeiling(t *testing.T) {
	subj := testSubject()
	c := newTestCascade(&fakeStore{}, &fakeSuggester{})

	base := []match.Candidate{
		{SourceID: "a", Amount: subj.Amount + 5, Confidence: 0.80, Method: match.MethodWindowed},
		{SourceID: "b", Amount: subj.Amount + 7, Confidence: 0.75, Method: match.MethodWindowed},
	}
	got := c.ComputeConfidence(base, subj)
	if got != 0.80 {
		t.Fatalf("no boost applies, expected 0.80, got %v", got)
	}

	// Exact amount agreement boosts.
	amountMatch := []match.Candidate{
		{SourceID: "a", Amount: subj.Amount, Confidence: 0.80, Method: match.MethodWindowed},
		{SourceID: "b", Amount: subj.Amount + 7, Confidence: 0.75, Method: match.MethodWindowed},
	}
	boosted := c.ComputeConfidence(amountMatch, subj)
	if boosted <= got {
		t.Errorf("exact amount boost must not decrease confidence: %v <= %v", boosted, got)
	}

	// A single unambiguous candidate boosts further.
	single := amountMatch[:1]
	singleConf := c.ComputeConfidence(single, subj)
	if singleConf <= boosted {
		t.Errorf("single-candidate boost must not decrease confidence: %v <= %v", singleConf, boosted)
	}

	// Seen-before signature boosts further still.
	c.MarkResolved(subj)
	seenConf := c.ComputeConfidence(single, subj)
	if seenConf <= singleConf {
		t.Errorf("recency boost must not decrease confidence: %v <= %v", seenConf, singleConf)
	}

	// Stacked boosts never break the ceiling.
	high := []match.Candidate{{SourceID: "a", Amount: subj.Amount, Confidence: 0.95, Method: match.MethodExact}}
	if v := c.ComputeConfidence(high, subj); v != match.MaxConfidence {
		t.Errorf("expected clamp at %v, got %v", match.MaxConfidence, v)
	}
}

func TestComputeConfidenceEmptyIsZero(t *testing.T) {
	c := newTestCascade(&fakeStore{}, &fakeSuggester{})
	if v := c.ComputeConfidence(nil, testSubject()); v != 0 {
		t.Errorf("expected 0 for empty candidates, got %v", v)
	}
}

func TestRecencyCacheEvictsOldestFirst(t *testing.T) {
	r := newRecencyCache(2)
	r.add("a")
	r.add("b")
	r.add("c")
	if r.has("a") {
		t.Error("oldest entry should be evicted")
	}
	if !r.has("b") || !r.has("c") {
		t.Error("newer entries should survive")
	}
}

func TestRecencyFingerprintNormalizesWhitespace(t *testing.T) {
	a := testSubject()
	b := testSubject()
	b.Description = "  Monthly   Allocation Transfer INV-4412 "
	if fingerprint(a) != fingerprint(b) {
		t.Error("whitespace differences must not change the signature")
	}
	b.Amount += 1
	if fingerprint(a) == fingerprint(b) {
		t.Error("amount changes must change the signature")
	}
}

func TestConfidenceAlwaysWithinBounds(t *testing.T) {
	c := newTestCascade(&fakeStore{}, &fakeSuggester{})
	subj := testSubject()
	for _, conf := range []float64{-0.5, 0, 0.3, 0.95, 0.99, 1.5} {
		cands := []match.Candidate{{SourceID: "x", Amount: subj.Amount, Confidence: match.Clamp(conf)}}
		v := c.ComputeConfidence(cands, subj)
		if v < 0 || v > match.MaxConfidence {
			t.Errorf("confidence %v escaped [0, %v] for input %v", v, match.MaxConfidence, conf)
		}
	}
}

func BenchmarkComputeConfidence(b *testing.B) {
	c := newTestCascade(&fakeStore{}, &fakeSuggester{})
	subj := testSubject()
	cands := []match.Candidate{{SourceID: "a", Amount: subj.Amount, Confidence: 0.9}}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = c.ComputeConfidence(cands, subj)
	}
}
