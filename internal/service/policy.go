package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/finback/autoclerk/internal/domain/decision"
	"github.com/finback/autoclerk/internal/domain/policy"
	"github.com/finback/autoclerk/internal/domain/rule"
	"github.com/finback/autoclerk/internal/port/audit"
	"github.com/finback/autoclerk/internal/port/rulecache"
)

// PolicyStore holds the active policy document and evaluates its approval
// rules. The document is swapped atomically under the lock; readers always
// see a complete, validated version.
type PolicyStore struct {
	log   *slog.Logger
	cache rulecache.Cache
	audit audit.Recorder
	path  string

	mu       sync.RWMutex
	doc      policy.Document
	compiled map[string]rule.Expr
}

// PolicyStoreOption configures a PolicyStore.
type PolicyStoreOption func(*PolicyStore)

// WithRuleCache wires a bounded cache for rule-evaluation results.
func WithRuleCache(c rulecache.Cache) PolicyStoreOption {
	return func(s *PolicyStore) { s.cache = c }
}

// WithPolicyAudit wires an audit recorder for policy mutations.
func WithPolicyAudit(rec audit.Recorder) PolicyStoreOption {
	return func(s *PolicyStore) { s.audit = rec }
}

// WithPolicyPath records the file the document was loaded from, enabling
// Reload.
func WithPolicyPath(path string) PolicyStoreOption {
	return func(s *PolicyStore) { s.path = path }
}

// WithPolicyLogger replaces the default logger.
func WithPolicyLogger(log *slog.Logger) PolicyStoreOption {
	return func(s *PolicyStore) { s.log = log }
}

// NewPolicyStore creates a store around a validated document.
func NewPolicyStore(doc policy.Document, opts ...PolicyStoreOption) (*PolicyStore, error) {
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("policy document: %w", err)
	}
	s := &PolicyStore{
		log:   slog.Default(),
		audit: audit.Nop{},
		doc:   doc,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.compiled = compileRules(doc)
	return s, nil
}

// compileRules parses every rule string in the document. Validation has
// already proven each parses, so failures are unreachable and skipped.
func compileRules(doc policy.Document) map[string]rule.Expr {
	out := make(map[string]rule.Expr)
	for _, group := range [][]string{doc.Approval.Auto, doc.Approval.Propose, doc.Approval.HumanSignoff} {
		for _, text := range group {
			if _, ok := out[text]; ok {
				continue
			}
			expr, err := rule.Parse(text)
			if err != nil {
				continue
			}
			out[text] = expr
		}
	}
	return out
}

// Policy returns a copy of the active document.
func (s *PolicyStore) Policy() policy.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc
}

// Entities returns the legal entities the policy covers.
func (s *PolicyStore) Entities() []policy.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]policy.Entity, len(s.doc.Entities))
	copy(out, s.doc.Entities)
	return out
}

// Version returns the active document's version counter.
func (s *PolicyStore) Version() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Version
}

// Thresholds returns a copy of the named confidence thresholds.
func (s *PolicyStore) Thresholds() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64, len(s.doc.Thresholds))
	for k, v := range s.doc.Thresholds {
		out[k] = v
	}
	return out
}

// Threshold returns one named threshold with a fallback.
func (s *PolicyStore) Threshold(name string, fallback float64) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Threshold(name, fallback)
}

// Counterparty returns the per-counterparty override, if configured.
func (s *PolicyStore) Counterparty(name string) (policy.CounterpartyRule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Counterparty(name)
}

// RuleContext builds an evaluation context carrying the document's named
// lists alongside the caller's values.
func (s *PolicyStore) RuleContext(values map[string]any) rule.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ctx := rule.NewContext(values)
	for name, items := range s.doc.Lists {
		ctx = ctx.WithList(name, items)
	}
	return ctx
}

// EvaluateRule evaluates one rule expression against a context. Results are
// memoized keyed by the expression plus the context fingerprint, so a cache
// hit is equivalent to a fresh evaluation.
func (s *PolicyStore) EvaluateRule(ctx context.Context, text string, rctx rule.Context) (bool, error) {
	s.mu.RLock()
	expr, ok := s.compiled[text]
	s.mu.RUnlock()
	if !ok {
		var err error
		expr, err = rule.Parse(text)
		if err != nil {
			return false, fmt.Errorf("rule %q: %w", text, err)
		}
	}

	key := text + "\x00" + rctx.Fingerprint()
	if s.cache != nil {
		if result, hit := s.cache.Get(ctx, key); hit {
			return result, nil
		}
	}
	result := expr.Eval(rctx)
	if s.cache != nil {
		s.cache.Set(ctx, key, result)
	}
	return result, nil
}

// EvaluateApprovalRules runs the document's rule groups against a context
// and returns the resulting decision. Signoff rules are checked first and
// force manual review; then auto rules, first match wins; then propose
// rules. Nothing matching falls through to propose with the default tag, so
// the unmatched posture is always human-visible.
func (s *PolicyStore) EvaluateApprovalRules(ctx context.Context, rctx rule.Context) decision.Decision {
	s.mu.RLock()
	approval := s.doc.Approval
	s.mu.RUnlock()

	if text, ok := s.firstMatch(ctx, approval.HumanSignoff, rctx); ok {
		return decision.New(decision.OutcomeManual, text, rctx.Values)
	}
	if text, ok := s.firstMatch(ctx, approval.Auto, rctx); ok {
		return decision.New(decision.OutcomeAuto, text, rctx.Values)
	}
	if text, ok := s.firstMatch(ctx, approval.Propose, rctx); ok {
		return decision.New(decision.OutcomePropose, text, rctx.Values)
	}
	return decision.New(decision.OutcomePropose, decision.DefaultRule, rctx.Values)
}

func (s *PolicyStore) firstMatch(ctx context.Context, texts []string, rctx rule.Context) (string, bool) {
	for _, text := range texts {
		matched, err := s.EvaluateRule(ctx, text, rctx)
		if err != nil {
			s.log.Error("rule evaluation failed", "rule", text, "error", err)
			continue
		}
		if matched {
			return text, true
		}
	}
	return "", false
}

// Update merges a partial document into the active policy. The merged
// result is validated before it is committed; on failure the previous
// document stays active and the error is returned.
func (s *PolicyStore) Update(ctx context.Context, patch policy.Patch) (policy.Document, error) {
	s.mu.Lock()
	merged := s.doc.Merge(patch)
	if err := merged.Validate(); err != nil {
		s.mu.Unlock()
		return policy.Document{}, fmt.Errorf("rejected policy update: %w", err)
	}
	s.doc = merged
	s.compiled = compileRules(merged)
	s.mu.Unlock()

	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
	s.emitAudit(ctx, audit.ActionPolicyUpdated, map[string]any{"version": merged.Version})
	s.log.Info("policy updated", "version", merged.Version)
	return merged, nil
}

// Reload re-reads the document from its source file and swaps it in.
func (s *PolicyStore) Reload(ctx context.Context) (policy.Document, error) {
	if s.path == "" {
		return policy.Document{}, fmt.Errorf("no policy file configured")
	}
	doc, err := policy.LoadFromFile(s.path)
	if err != nil {
		return policy.Document{}, fmt.Errorf("reload policy: %w", err)
	}

	s.mu.Lock()
	s.doc = *doc
	s.compiled = compileRules(*doc)
	s.mu.Unlock()

	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
	s.emitAudit(ctx, audit.ActionPolicyReloaded, map[string]any{"version": doc.Version})
	s.log.Info("policy reloaded", "path", s.path, "version", doc.Version)
	return *doc, nil
}

func (s *PolicyStore) emitAudit(ctx context.Context, action string, data map[string]any) {
	if err := s.audit.Record(ctx, action, data); err != nil {
		s.log.Error("audit record failed", "action", action, "error", err)
	}
}
