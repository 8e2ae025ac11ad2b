package cascade

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/finback/autoclerk/internal/domain/match"
	"github.com/finback/autoclerk/internal/port/suggester"
)

// ExactStrategy matches on identical amount and identical date.
type ExactStrategy struct {
	store Store
}

// NewExactStrategy builds the highest-priority strategy.
func NewExactStrategy(store Store) *ExactStrategy {
	return &ExactStrategy{store: store}
}

func (s *ExactStrategy) Method() match.Method { return match.MethodExact }

func (s *ExactStrategy) Resolve(ctx context.Context, subj match.Subject) ([]match.Candidate, error) {
	recs, err := s.store.FindExact(ctx, subj)
	if err != nil {
		return nil, err
	}
	cands := make([]match.Candidate, 0, len(recs))
	for _, r := range recs {
		cands = append(cands, match.Candidate{
			SourceType: r.SourceType,
			SourceID:   r.SourceID,
			Amount:     r.Amount,
			Confidence: exactBase,
			Method:     match.MethodExact,
			Evidence: map[string]string{
				"date": r.Date.Format("2006-01-02"),
			},
		})
	}
	return cands, nil
}

// WindowedStrategy relaxes the date within a bounded tolerance; confidence
// decays linearly with distance from the exact date, floored so a match at
// the window's edge is still worth surfacing.
type WindowedStrategy struct {
	store Store
	days  int
}

// NewWindowedStrategy builds the date-window strategy with a ±days tolerance.
func NewWindowedStrategy(store Store, days int) *WindowedStrategy {
	if days <= 0 {
		days = 3
	}
	return &WindowedStrategy{store: store, days: days}
}

func (s *WindowedStrategy) Method() match.Method { return match.MethodWindowed }

func (s *WindowedStrategy) Resolve(ctx context.Context, subj match.Subject) ([]match.Candidate, error) {
	recs, err := s.store.FindWindow(ctx, subj, s.days)
	if err != nil {
		return nil, err
	}
	cands := make([]match.Candidate, 0, len(recs))
	for _, r := range recs {
		distance := subj.Date.Sub(r.Date)
		if distance < 0 {
			distance = -distance
		}
		daysOff := float64(distance) / float64(24*time.Hour)
		conf := exactBase - (exactBase-windowFloor)*(daysOff/float64(s.days))
		if conf < windowFloor {
			conf = windowFloor
		}
		cands = append(cands, match.Candidate{
			SourceType: r.SourceType,
			SourceID:   r.SourceID,
			Amount:     r.Amount,
			Confidence: conf,
			Method:     match.MethodWindowed,
			Evidence: map[string]string{
				"date":     r.Date.Format("2006-01-02"),
				"days_off": fmt.Sprintf("%.1f", daysOff),
			},
		})
	}
	return cands, nil
}

// referencePatterns extract structured tokens from free text, tried in
// order; the first hit per category wins.
var referencePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(INV[-/]?\d{3,})\b`),     // invoice numbers
	regexp.MustCompile(`(?i)\bREF[:\s]*([A-Z0-9-]{4,})\b`), // explicit references
	regexp.MustCompile(`\b(\d{6,})\b`),                 // long digit runs
}

// ReferenceStrategy extracts reference tokens from the subject's free text
// and looks candidates up by token. A candidate whose recorded amount also
// agrees with the subject scores higher than a token-only match.
type ReferenceStrategy struct {
	store Store
}

// NewReferenceStrategy builds the token-extraction strategy.
func NewReferenceStrategy(store Store) *ReferenceStrategy {
	return &ReferenceStrategy{store: store}
}

func (s *ReferenceStrategy) Method() match.Method { return match.MethodReference }

func (s *ReferenceStrategy) Resolve(ctx context.Context, subj match.Subject) ([]match.Candidate, error) {
	token := ExtractReference(subj.Description + " " + subj.Reference)
	if token == "" {
		return nil, nil
	}
	recs, err := s.store.FindReference(ctx, subj, token)
	if err != nil {
		return nil, err
	}
	cands := make([]match.Candidate, 0, len(recs))
	for _, r := range recs {
		conf := refPlainBase
		if amountsEqual(r.Amount, subj.Amount) {
			conf = refAmountBase
		}
		cands = append(cands, match.Candidate{
			SourceType: r.SourceType,
			SourceID:   r.SourceID,
			Amount:     r.Amount,
			Confidence: conf,
			Method:     match.MethodReference,
			Evidence: map[string]string{
				"token": token,
			},
		})
	}
	return cands, nil
}

// ExtractReference returns the first structured token found in free text,
// trying each pattern category in order.
func ExtractReference(text string) string {
	for _, re := range referencePatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	return ""
}

// AssistedStrategy is the last resort: it delegates to the text-generation
// collaborator and discounts whatever confidence the collaborator reports,
// since the result is inherently less verifiable.
type AssistedStrategy struct {
	suggest suggester.Suggester
	prompt  func(match.Subject) string
}

// NewAssistedStrategy builds the collaborator-backed strategy. The prompt
// function renders a subject into the collaborator's input; nil uses a
// plain default rendering.
func NewAssistedStrategy(s suggester.Suggester, prompt func(match.Subject) string) *AssistedStrategy {
	if prompt == nil {
		prompt = defaultPrompt
	}
	return &AssistedStrategy{suggest: s, prompt: prompt}
}

func (s *AssistedStrategy) Method() match.Method { return match.MethodAssisted }

func (s *AssistedStrategy) Resolve(ctx context.Context, subj match.Subject) ([]match.Candidate, error) {
	sug, err := s.suggest.Suggest(ctx, s.prompt(subj))
	if err != nil {
		return nil, err
	}
	if sug.SourceID == "" {
		return nil, nil
	}
	return []match.Candidate{{
		SourceType: sug.SourceType,
		SourceID:   sug.SourceID,
		Amount:     sug.Amount,
		Confidence: match.Clamp(sug.Confidence * assistedDiscount),
		Method:     match.MethodAssisted,
		Evidence: map[string]string{
			"reasoning": sug.Reasoning,
		},
	}}, nil
}

func defaultPrompt(s match.Subject) string {
	return fmt.Sprintf(
		"Match this %s: amount %.2f, date %s, counterparty %q, description %q.",
		s.Kind, s.Amount, s.Date.Format("2006-01-02"), s.Counterparty, s.Description)
}
