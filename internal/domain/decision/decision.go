// Package decision defines the auto/propose/manual outcome of a policy
// evaluation and the classifier that explains why a review was triggered.
package decision

import (
	"time"

	"github.com/finback/autoclerk/internal/domain/match"
)

// Outcome is the result of evaluating approval rules against a context.
type Outcome string

const (
	OutcomeAuto    Outcome = "auto"
	OutcomePropose Outcome = "propose"
	OutcomeManual  Outcome = "manual"
)

// DefaultRule tags decisions where no configured rule matched. The default
// posture is always human-visible: propose, never auto and never silent
// rejection.
const DefaultRule = "default"

// Decision is produced per policy evaluation call. Persistence is a
// collaborator concern; the core only hands it to the audit emitter.
type Decision struct {
	Outcome     Outcome        `json:"outcome"`
	MatchedRule string         `json:"matched_rule"`
	Context     map[string]any `json:"context,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// New builds a Decision with the current timestamp.
func New(outcome Outcome, matchedRule string, ctx map[string]any) Decision {
	return Decision{
		Outcome:     outcome,
		MatchedRule: matchedRule,
		Context:     ctx,
		CreatedAt:   time.Now().UTC(),
	}
}

// ReviewReason explains why a subject was routed to a human instead of
// being acted on automatically.
type ReviewReason string

const (
	ReasonLowConfidence   ReviewReason = "confidence_below_threshold"
	ReasonNoCandidates    ReviewReason = "no_candidates_found"
	ReasonAmbiguous       ReviewReason = "multiple_plausible_candidates"
	ReasonAssistedSource  ReviewReason = "top_candidate_assisted"
	ReasonHandlerFailure  ReviewReason = "handler_failure"
	ReasonDeadlineExpired ReviewReason = "deadline_expired"
)

// ambiguityMargin is the confidence gap under which two top candidates are
// considered equally plausible.
const ambiguityMargin = 0.05

// ClassifyReview derives the review reasons from the cascade output and the
// gate inputs. It is a small rule set over the same values the gate reads,
// not ad hoc strings, so the escalation payload is testable.
func ClassifyReview(candidates []match.Candidate, confidence, threshold float64) []ReviewReason {
	var reasons []ReviewReason

	if len(candidates) == 0 {
		reasons = append(reasons, ReasonNoCandidates)
	}
	if confidence < threshold {
		reasons = append(reasons, ReasonLowConfidence)
	}
	if len(candidates) >= 2 &&
		candidates[0].Confidence-candidates[1].Confidence < ambiguityMargin {
		reasons = append(reasons, ReasonAmbiguous)
	}
	if len(candidates) > 0 && candidates[0].Method == match.MethodAssisted {
		reasons = append(reasons, ReasonAssistedSource)
	}
	return reasons
}
