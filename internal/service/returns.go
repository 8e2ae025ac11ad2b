package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/finback/autoclerk/internal/domain/decision"
	"github.com/finback/autoclerk/internal/domain/event"
	"github.com/finback/autoclerk/internal/domain/policy"
	"github.com/finback/autoclerk/internal/port/eventlog"
	"github.com/finback/autoclerk/internal/port/notifier"
)

// ReturnsPreparer assembles a period-end filing draft from the event log.
// Filings are never automatic: the draft always goes to a human, whatever
// the policy says.
type ReturnsPreparer struct {
	events eventlog.Store
	esc    *Escalator
	log    *slog.Logger
}

// NewReturnsPreparer wires the preparer.
func NewReturnsPreparer(store eventlog.Store, esc *Escalator, log *slog.Logger) *ReturnsPreparer {
	if log == nil {
		log = slog.Default()
	}
	return &ReturnsPreparer{events: store, esc: esc, log: log.With("handler", "returns_preparer")}
}

type periodClosedPayload struct {
	Period struct {
		EntityRef string    `json:"entity_ref"`
		Label     string    `json:"label"`
		Start     time.Time `json:"start"`
		End       time.Time `json:"end"`
	} `json:"period"`
}

// PeriodCloseEvents builds one period.closed event per entity for the
// calendar month before now. The scheduler fires on the first of the month,
// so the period being closed is always the previous one. All events for a
// close share a correlation ID so the preparer can pull the period's history.
func PeriodCloseEvents(entities []policy.Entity, now time.Time) ([]event.Event, error) {
	if len(entities) == 0 {
		return nil, fmt.Errorf("period close: no entities in policy")
	}

	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	start := monthStart.AddDate(0, -1, 0)
	end := monthStart.AddDate(0, 0, -1)
	label := start.Format("2006-01")

	events := make([]event.Event, 0, len(entities))
	for _, ent := range entities {
		var payload periodClosedPayload
		payload.Period.EntityRef = ent.Ref
		payload.Period.Label = label
		payload.Period.Start = start
		payload.Period.End = end
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("period close: encode %s: %w", ent.Ref, err)
		}
		ev := event.New(event.TypePeriodClosed, "scheduler", data)
		ev.EntityRef = ent.Ref
		ev.CorrelationID = "period-" + label
		events = append(events, ev)
	}
	return events, nil
}

// ReturnsDraft is the assembled filing proposal for one closed period.
type ReturnsDraft struct {
	EntityRef   string            `json:"entity_ref"`
	Period      string            `json:"period"`
	EventCounts map[string]int    `json:"event_counts"`
	Decision    decision.Decision `json:"decision"`
}

// Handle processes one period.closed event.
func (r *ReturnsPreparer) Handle(ctx context.Context, ev event.Event) (any, error) {
	var payload periodClosedPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return nil, fmt.Errorf("returns preparer: decode payload: %w", err)
	}
	period := payload.Period
	if period.EntityRef == "" {
		return nil, fmt.Errorf("returns preparer: entity_ref is required")
	}

	// Everything processed for this period shares the closing event's
	// correlation ID.
	var counts map[string]int
	if ev.CorrelationID != "" && r.events != nil {
		history, err := r.events.ListByCorrelation(ctx, ev.CorrelationID)
		if err != nil {
			return nil, fmt.Errorf("returns preparer: list period events: %w", err)
		}
		counts = make(map[string]int, len(history))
		for _, h := range history {
			counts[string(h.Type)]++
		}
	}

	d := decision.New(decision.OutcomePropose, "filing_always_reviewed", map[string]any{
		"entity_ref": period.EntityRef,
		"period":     period.Label,
	})
	r.esc.RequestReview(ctx, notifier.Proposal{
		Agent:   "returns_preparer",
		EventID: ev.ID,
		Subject: fmt.Sprintf("period filing for %s (%s)", period.EntityRef, period.Label),
		Summary: fmt.Sprintf("draft covering %s to %s ready for review",
			period.Start.Format("2006-01-02"), period.End.Format("2006-01-02")),
	})
	r.log.Info("filing drafted", "entity_ref", period.EntityRef, "period", period.Label)
	return ReturnsDraft{
		EntityRef:   period.EntityRef,
		Period:      period.Label,
		EventCounts: counts,
		Decision:    d,
	}, nil
}
