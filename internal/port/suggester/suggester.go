// Package suggester defines the port to the text-generation collaborator
// used by the assisted matching strategy. The collaborator is opaque and
// possibly unreliable; the cascade discounts whatever it reports.
package suggester

import "context"

// Suggestion is the collaborator's best-guess candidate for a subject.
type Suggestion struct {
	SourceType string  `json:"source_type"`
	SourceID   string  `json:"source_id"`
	Amount     float64 `json:"amount,omitempty"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// Suggester is the port interface for assisted matching.
type Suggester interface {
	Suggest(ctx context.Context, prompt string) (Suggestion, error)
}
