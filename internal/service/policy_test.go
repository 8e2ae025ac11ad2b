package service

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/finback/autoclerk/internal/domain/decision"
	"github.com/finback/autoclerk/internal/domain/policy"
)

type memCache struct {
	mu      sync.Mutex
	entries map[string]bool
	hits    int
	sets    int
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]bool)}
}

func (c *memCache) Get(_ context.Context, key string) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	if ok {
		c.hits++
	}
	return v, ok
}

func (c *memCache) Set(_ context.Context, key string, result bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = result
	c.sets++
}

func (c *memCache) Invalidate(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]bool)
}

func testPolicy() policy.Document {
	return policy.Document{
		Version: 1,
		Thresholds: map[string]float64{
			"bank_match": 0.9,
			"expense":    0.85,
		},
		Approval: policy.ApprovalRules{
			Auto:         []string{`bill.amount < 250 and vendor in known_vendors`},
			Propose:      []string{`bill.amount < 5000`},
			HumanSignoff: []string{`bill.amount >= 10000`},
		},
		Entities: []policy.Entity{{Ref: "acme-uk", Name: "Acme UK Ltd"}},
		CounterpartyRules: []policy.CounterpartyRule{
			{Counterparty: "Staples", MaxAutoAmount: 500},
		},
		Lists: map[string][]string{
			"known_vendors": {"Staples", "AWS"},
		},
	}
}

func newTestStore(t *testing.T, opts ...PolicyStoreOption) *PolicyStore {
	t.Helper()
	s, err := NewPolicyStore(testPolicy(), opts...)
	if err != nil {
		t.Fatalf("NewPolicyStore: %v", err)
	}
	return s
}

func TestEvaluateApprovalRulesAutoAllowList(t *testing.T) {
	s := newTestStore(t)
	rctx := s.RuleContext(map[string]any{
		"bill":   map[string]any{"amount": 100.0},
		"vendor": "Staples",
	})

	d := s.EvaluateApprovalRules(context.Background(), rctx)
	if d.Outcome != decision.OutcomeAuto {
		t.Errorf("expected auto, got %s (rule %s)", d.Outcome, d.MatchedRule)
	}
}

func TestEvaluateApprovalRulesFallsToPropose(t *testing.T) {
	s := newTestStore(t)
	// Amount too high for auto, matches the propose rule.
	rctx := s.RuleContext(map[string]any{
		"bill":   map[string]any{"amount": 900.0},
		"vendor": "Staples",
	})

	d := s.EvaluateApprovalRules(context.Background(), rctx)
	if d.Outcome != decision.OutcomePropose {
		t.Errorf("expected propose, got %s", d.Outcome)
	}
	if d.MatchedRule == decision.DefaultRule {
		t.Error("a configured propose rule should have matched")
	}
}

func TestEvaluateApprovalRulesDefaultIsPropose(t *testing.T) {
	s := newTestStore(t)
	// Matches neither group: amount above every rule but below signoff.
	rctx := s.RuleContext(map[string]any{
		"bill":   map[string]any{"amount": 7000.0},
		"vendor": "Unknown Corp",
	})

	d := s.EvaluateApprovalRules(context.Background(), rctx)
	if d.Outcome != decision.OutcomePropose {
		t.Errorf("unmatched context must default to propose, got %s", d.Outcome)
	}
	if d.MatchedRule != decision.DefaultRule {
		t.Errorf("default decision must carry the default tag, got %q", d.MatchedRule)
	}
}

func TestEvaluateApprovalRulesSignoffWins(t *testing.T) {
	s := newTestStore(t)
	rctx := s.RuleContext(map[string]any{
		"bill":   map[string]any{"amount": 15000.0},
		"vendor": "Staples",
	})

	d := s.EvaluateApprovalRules(context.Background(), rctx)
	if d.Outcome != decision.OutcomeManual {
		t.Errorf("signoff rules must force manual review, got %s", d.Outcome)
	}
}

func TestEvaluateApprovalRulesUndefinedPathNeverAuto(t *testing.T) {
	s := newTestStore(t)
	rctx := s.RuleContext(map[string]any{"unrelated": true})

	d := s.EvaluateApprovalRules(context.Background(), rctx)
	if d.Outcome == decision.OutcomeAuto {
		t.Error("undefined context paths must never satisfy an auto rule")
	}
}

func TestEvaluateRuleUsesCache(t *testing.T) {
	cache := newMemCache()
	s := newTestStore(t, WithRuleCache(cache))
	rctx := s.RuleContext(map[string]any{
		"bill": map[string]any{"amount": 100.0},
	})

	first, err := s.EvaluateRule(context.Background(), `bill.amount < 250`, rctx)
	if err != nil {
		t.Fatalf("EvaluateRule: %v", err)
	}
	second, err := s.EvaluateRule(context.Background(), `bill.amount < 250`, rctx)
	if err != nil {
		t.Fatalf("EvaluateRule: %v", err)
	}
	if first != second || !first {
		t.Errorf("cache hit must equal fresh evaluation: %v vs %v", first, second)
	}
	if cache.hits != 1 || cache.sets != 1 {
		t.Errorf("expected 1 hit and 1 set, got %d/%d", cache.hits, cache.sets)
	}

	// A different context must not reuse the cached result.
	other := s.RuleContext(map[string]any{
		"bill": map[string]any{"amount": 400.0},
	})
	result, err := s.EvaluateRule(context.Background(), `bill.amount < 250`, other)
	if err != nil {
		t.Fatalf("EvaluateRule: %v", err)
	}
	if result {
		t.Error("context change must miss the cache and re-evaluate")
	}
}

func TestEvaluateRuleRejectsBadExpression(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.EvaluateRule(context.Background(), `(a < 1) and b`, s.RuleContext(nil)); err == nil {
		t.Error("parenthesised expressions must be rejected")
	}
}

func TestUpdateMergesAndBumpsVersion(t *testing.T) {
	cache := newMemCache()
	s := newTestStore(t, WithRuleCache(cache))
	cache.Set(context.Background(), "stale", true)

	merged, err := s.Update(context.Background(), policy.Patch{
		Thresholds: map[string]float64{"bank_match": 0.95},
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if merged.Version != 2 {
		t.Errorf("expected version 2, got %d", merged.Version)
	}
	if got := s.Threshold("bank_match", 0); got != 0.95 {
		t.Errorf("threshold not applied, got %v", got)
	}
	if got := s.Threshold("expense", 0); got != 0.85 {
		t.Errorf("untouched threshold lost, got %v", got)
	}
	if len(cache.entries) != 0 {
		t.Error("update must invalidate the rule cache")
	}
}

func TestUpdateRejectsInvalidAndKeepsPrevious(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Update(context.Background(), policy.Patch{
		Thresholds: map[string]float64{"bank_match": 1.5},
	})
	if err == nil {
		t.Fatal("out-of-range threshold must be rejected")
	}
	if s.Version() != 1 {
		t.Errorf("failed update must leave the previous version active, got %d", s.Version())
	}
	if got := s.Threshold("bank_match", 0); got != 0.9 {
		t.Errorf("previous threshold must remain, got %v", got)
	}
}

func TestReloadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	data := []byte(`
version: 7
thresholds:
  bank_match: 0.8
approval:
  auto:
    - bill.amount < 100
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	s := newTestStore(t, WithPolicyPath(path))
	doc, err := s.Reload(context.Background())
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if doc.Version != 7 {
		t.Errorf("expected version 7, got %d", doc.Version)
	}
	if got := s.Threshold("bank_match", 0); got != 0.8 {
		t.Errorf("reloaded threshold not active, got %v", got)
	}
}

func TestReloadWithoutPathFails(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Reload(context.Background()); err == nil {
		t.Error("reload without a configured path must fail")
	}
}
