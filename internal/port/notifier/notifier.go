// Package notifier defines the approval-notification port.
package notifier

import (
	"context"
	"errors"

	"github.com/finback/autoclerk/internal/domain/decision"
	"github.com/finback/autoclerk/internal/domain/match"
)

// ErrNotConfigured is returned when the notifier has no destination set.
var ErrNotConfigured = errors.New("notifier: not configured")

// Proposal carries everything a human needs to approve or reject an action
// the system declined to take automatically.
type Proposal struct {
	Agent      string                  `json:"agent"`
	EventID    string                  `json:"event_id"`
	Subject    string                  `json:"subject"`
	Summary    string                  `json:"summary"`
	Confidence float64                 `json:"confidence,omitempty"`
	Candidates []match.Candidate       `json:"candidates,omitempty"`
	Reasons    []decision.ReviewReason `json:"reasons,omitempty"`
}

// Notifier is the port interface for requesting human approval.
type Notifier interface {
	SendApprovalRequired(ctx context.Context, p Proposal) error
}
