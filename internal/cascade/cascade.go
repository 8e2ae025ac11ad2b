// Package cascade implements the multi-strategy confidence cascade every
// matching handler instantiates. Strategies run in a fixed priority order;
// the first strategy returning at least one candidate wins, and looser
// strategies only ever act as a fallback for "no result".
package cascade

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/finback/autoclerk/internal/domain/match"
)

// Base confidences and boost values, tuned against the observed match
// quality of each strategy.
const (
	exactBase        = 0.95
	windowFloor      = 0.70
	refAmountBase    = 0.85
	refPlainBase     = 0.70
	assistedDiscount = 0.80

	boostExactAmount = 0.05
	boostSingle      = 0.05
	boostSeenBefore  = 0.10

	// topN is how many ranked candidates survive a resolution.
	topN = 3
)

// Record is a candidate row from the handler's backing store, before
// scoring. The store decides what counts as a row (ledger transaction,
// historical coding, open invoice).
type Record struct {
	SourceType  string
	SourceID    string
	Amount      float64
	Date        time.Time
	Reference   string
	Description string
}

// Store provides candidate records for the deterministic strategies.
type Store interface {
	// FindExact returns records with the subject's exact amount on the
	// subject's date.
	FindExact(ctx context.Context, s match.Subject) ([]Record, error)

	// FindWindow returns records with the subject's exact amount within
	// ±days of the subject's date.
	FindWindow(ctx context.Context, s match.Subject, days int) ([]Record, error)

	// FindReference returns records whose reference field matches the
	// extracted token.
	FindReference(ctx context.Context, s match.Subject, token string) ([]Record, error)
}

// Strategy is one rung of the cascade. Implementations must be safe for
// concurrent use; all state lives in the subject and the store.
type Strategy interface {
	Method() match.Method
	Resolve(ctx context.Context, s match.Subject) ([]match.Candidate, error)
}

// Cascade runs strategies in priority order and derives a final confidence
// with boosting rules.
type Cascade struct {
	strategies []Strategy
	seen       *recencyCache
	log        *slog.Logger
}

// Option configures a Cascade.
type Option func(*Cascade)

// WithLogger sets the cascade's logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Cascade) { c.log = log }
}

// New builds a cascade over the given strategies, run in the order given.
func New(strategies []Strategy, opts ...Option) *Cascade {
	c := &Cascade{
		strategies: strategies,
		seen:       newRecencyCache(recencyCap),
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve returns the ranked candidates for a subject: the first strategy
// with at least one candidate supplies them, sorted by confidence
// descending and truncated to the top three. A strategy error is logged and
// treated as "no result" so the cascade can keep falling through; the last
// error is returned only when every strategy came up empty.
func (c *Cascade) Resolve(ctx context.Context, s match.Subject) ([]match.Candidate, error) {
	var lastErr error
	for _, strat := range c.strategies {
		cands, err := strat.Resolve(ctx, s)
		if err != nil {
			lastErr = fmt.Errorf("%s strategy: %w", strat.Method(), err)
			c.log.Warn("cascade strategy failed",
				"method", strat.Method(), "subject", s.ID, "error", err)
			continue
		}
		if len(cands) == 0 {
			continue
		}
		for i := range cands {
			cands[i].Confidence = match.Clamp(cands[i].Confidence)
		}
		sort.SliceStable(cands, func(i, j int) bool {
			return cands[i].Confidence > cands[j].Confidence
		})
		if len(cands) > topN {
			cands = cands[:topN]
		}
		return cands, nil
	}
	return nil, lastErr
}

// ComputeConfidence applies the boosting rules on top of the top
// candidate's base confidence: exact amount agreement, lack of ambiguity,
// and a previously-seen subject signature each add headroom, clamped so
// the result never reaches 1.0.
func (c *Cascade) ComputeConfidence(candidates []match.Candidate, s match.Subject) float64 {
	if len(candidates) == 0 {
		return 0
	}
	conf := candidates[0].Confidence
	if amountsEqual(candidates[0].Amount, s.Amount) {
		conf += boostExactAmount
	}
	if len(candidates) == 1 {
		conf += boostSingle
	}
	if c.seen.has(fingerprint(s)) {
		conf += boostSeenBefore
	}
	return match.Clamp(conf)
}

// MarkResolved records a subject signature after a successful resolution so
// repeats of the same pattern earn the recency boost.
func (c *Cascade) MarkResolved(s match.Subject) {
	c.seen.add(fingerprint(s))
}

// amountsEqual compares monetary amounts at cent precision.
func amountsEqual(a, b float64) bool {
	const epsilon = 0.005
	d := a - b
	return d < epsilon && d > -epsilon
}
