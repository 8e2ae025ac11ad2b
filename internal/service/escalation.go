package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/finback/autoclerk/internal/domain/decision"
	"github.com/finback/autoclerk/internal/domain/event"
	"github.com/finback/autoclerk/internal/port/audit"
	"github.com/finback/autoclerk/internal/port/broadcast"
	"github.com/finback/autoclerk/internal/port/messagequeue"
	"github.com/finback/autoclerk/internal/port/notifier"
)

// Escalator fans decisions and review requests out to the side channels:
// the message queue, the approval notifier, the live broadcast feed, and
// the audit trail. Every channel is best-effort; a failed side effect is
// logged and never fails the business decision that triggered it.
type Escalator struct {
	queue     messagequeue.Queue
	notifier  notifier.Notifier
	broadcast broadcast.Broadcaster
	audit     audit.Recorder
	log       *slog.Logger
}

// NewEscalator wires the side channels. Any of them may be nil.
func NewEscalator(q messagequeue.Queue, n notifier.Notifier, b broadcast.Broadcaster, rec audit.Recorder, log *slog.Logger) *Escalator {
	if b == nil {
		b = broadcast.Nop{}
	}
	if rec == nil {
		rec = audit.Nop{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Escalator{queue: q, notifier: n, broadcast: b, audit: rec, log: log}
}

// decisionNotice is the wire form of an announced decision.
type decisionNotice struct {
	Agent    string            `json:"agent"`
	EventID  string            `json:"event_id"`
	Decision decision.Decision `json:"decision"`
	Detail   map[string]any    `json:"detail,omitempty"`
	At       time.Time         `json:"at"`
}

// AnnounceDecision records and publishes a decision the system acted on.
func (e *Escalator) AnnounceDecision(ctx context.Context, agentName string, ev event.Event, d decision.Decision, detail map[string]any) {
	notice := decisionNotice{
		Agent:    agentName,
		EventID:  ev.ID,
		Decision: d,
		Detail:   detail,
		At:       time.Now().UTC(),
	}
	if e.queue != nil {
		data, err := json.Marshal(notice)
		if err == nil {
			err = e.queue.Publish(ctx, messagequeue.SubjectDecisionMade, data)
		}
		if err != nil {
			e.log.Error("decision publish failed", "agent", agentName, "event_id", ev.ID, "error", err)
		}
	}
	e.broadcast.BroadcastEvent(ctx, string(event.TypeDecisionMade), notice)
	e.emitAudit(ctx, audit.ActionDecisionMade, map[string]any{
		"agent":    agentName,
		"event_id": ev.ID,
		"outcome":  string(d.Outcome),
		"rule":     d.MatchedRule,
	})
}

// RequestReview escalates to a human: publishes the review event, pings the
// approval notifier, pushes to the live feed, and records the audit entry.
func (e *Escalator) RequestReview(ctx context.Context, p notifier.Proposal) {
	if e.queue != nil {
		data, err := json.Marshal(p)
		if err == nil {
			err = e.queue.Publish(ctx, messagequeue.SubjectReviewRequired, data)
		}
		if err != nil {
			e.log.Error("review publish failed", "agent", p.Agent, "event_id", p.EventID, "error", err)
		}
	}
	if e.notifier != nil {
		if err := e.notifier.SendApprovalRequired(ctx, p); err != nil && !errors.Is(err, notifier.ErrNotConfigured) {
			e.log.Error("approval notification failed", "agent", p.Agent, "event_id", p.EventID, "error", err)
		}
	}
	e.broadcast.BroadcastEvent(ctx, string(event.TypeReviewRequired), p)
	e.emitAudit(ctx, audit.ActionReviewRequired, map[string]any{
		"agent":    p.Agent,
		"event_id": p.EventID,
		"subject":  p.Subject,
		"reasons":  reviewReasonStrings(p.Reasons),
	})
}

func (e *Escalator) emitAudit(ctx context.Context, action string, data map[string]any) {
	if err := e.audit.Record(ctx, action, data); err != nil {
		e.log.Error("audit record failed", "action", action, "error", err)
	}
}

func reviewReasonStrings(reasons []decision.ReviewReason) []string {
	out := make([]string, len(reasons))
	for i, r := range reasons {
		out[i] = string(r)
	}
	return out
}
