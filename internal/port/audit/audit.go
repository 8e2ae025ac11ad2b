// Package audit defines the fire-and-forget audit emission port. Audit is a
// side channel: callers swallow and log failures, never letting them block
// business processing.
package audit

import "context"

// Action names for audit records emitted by the core.
const (
	ActionEventReceived  = "event_received"
	ActionEventCompleted = "event_completed"
	ActionDecisionMade   = "decision_made"
	ActionReviewRequired = "review_required"
	ActionPolicyUpdated  = "policy_updated"
	ActionPolicyReloaded = "policy_reloaded"
)

// Recorder is the port interface for audit emission.
type Recorder interface {
	Record(ctx context.Context, action string, data map[string]any) error
}

// Nop is a Recorder that discards everything; useful in tests and when no
// audit store is wired.
type Nop struct{}

func (Nop) Record(context.Context, string, map[string]any) error { return nil }
