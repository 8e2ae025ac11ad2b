package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/finback/autoclerk/internal/domain/decision"
	"github.com/finback/autoclerk/internal/domain/event"
	"github.com/finback/autoclerk/internal/port/ledger"
	"github.com/finback/autoclerk/internal/port/messagequeue"
	"github.com/finback/autoclerk/internal/port/notifier"
)

// Reminder levels, keyed by how long an invoice has been overdue.
const (
	ReminderGentle = "gentle"
	ReminderFirm   = "firm"
	ReminderFinal  = "final_notice"
)

// Overdue-day boundaries for the reminder ladder. Past the last boundary
// the invoice leaves the automated ladder and goes to a human.
const (
	gentleUntilDays = 7
	firmUntilDays   = 21
	finalUntilDays  = 45
)

// OverdueSource lists the invoices currently overdue in the ledger. The
// scheduled sweep walks this set; single invoice.overdue events carry their
// invoice in the payload and do not need it.
type OverdueSource interface {
	FetchOverdueInvoices(ctx context.Context) ([]ledger.OverdueInvoice, error)
}

// CollectionsOfficer walks overdue invoices up the reminder ladder. Sends
// inside the ladder are gated by the approval rules; invoices past the
// ladder, or declined by policy, are escalated.
type CollectionsOfficer struct {
	policy  *PolicyStore
	queue   messagequeue.Queue
	overdue OverdueSource
	esc     *Escalator
	log     *slog.Logger
}

// NewCollectionsOfficer wires the officer. The overdue source may be nil
// when scheduled sweeps are not used.
func NewCollectionsOfficer(p *PolicyStore, q messagequeue.Queue, overdue OverdueSource, esc *Escalator, log *slog.Logger) *CollectionsOfficer {
	if log == nil {
		log = slog.Default()
	}
	return &CollectionsOfficer{policy: p, queue: q, overdue: overdue, esc: esc, log: log.With("handler", "collections_officer")}
}

type overdueInvoicePayload struct {
	Invoice ledger.OverdueInvoice `json:"invoice"`
}

// ReminderAction is the message published for the mailer to act on.
type ReminderAction struct {
	InvoiceID string    `json:"invoice_id"`
	Customer  string    `json:"customer"`
	Amount    float64   `json:"amount"`
	Level     string    `json:"level"`
	At        time.Time `json:"at"`
}

// CollectionsOutcome is the collections officer's handler result.
type CollectionsOutcome struct {
	InvoiceID string            `json:"invoice_id"`
	Level     string            `json:"level,omitempty"`
	Decision  decision.Decision `json:"decision"`
}

// SweepOutcome summarizes one scheduled pass over the overdue set.
type SweepOutcome struct {
	Swept    int                  `json:"swept"`
	Failed   int                  `json:"failed"`
	Outcomes []CollectionsOutcome `json:"outcomes,omitempty"`
}

// reminderLevel maps days overdue onto the ladder. An empty level means
// the invoice is past automated collection.
func reminderLevel(daysOverdue int) string {
	switch {
	case daysOverdue <= gentleUntilDays:
		return ReminderGentle
	case daysOverdue <= firmUntilDays:
		return ReminderFirm
	case daysOverdue <= finalUntilDays:
		return ReminderFinal
	default:
		return ""
	}
}

// Handle processes one invoice.overdue or collections.sweep event. Sweep
// events carry no payload; the overdue set comes from the ledger.
func (c *CollectionsOfficer) Handle(ctx context.Context, ev event.Event) (any, error) {
	if ev.Type == event.TypeCollectionsSweep {
		return c.sweep(ctx, ev)
	}

	var payload overdueInvoicePayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return nil, fmt.Errorf("collections officer: decode payload: %w", err)
	}
	out, err := c.processInvoice(ctx, ev, payload.Invoice)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// sweep walks every overdue invoice through the same ladder a single event
// would. One bad invoice must not stop the rest of the sweep.
func (c *CollectionsOfficer) sweep(ctx context.Context, ev event.Event) (any, error) {
	if c.overdue == nil {
		return nil, fmt.Errorf("collections officer: no overdue source configured")
	}
	invoices, err := c.overdue.FetchOverdueInvoices(ctx)
	if err != nil {
		return nil, fmt.Errorf("collections officer: fetch overdue set: %w", err)
	}

	var out SweepOutcome
	for _, inv := range invoices {
		if inv.DaysOverdue == 0 && !inv.DueDate.IsZero() {
			inv.DaysOverdue = int(time.Since(inv.DueDate).Hours() / 24)
		}
		res, err := c.processInvoice(ctx, ev, inv)
		if err != nil {
			c.log.Error("sweep entry failed", "invoice", inv.ID, "error", err)
			out.Failed++
			continue
		}
		out.Swept++
		out.Outcomes = append(out.Outcomes, res)
	}
	c.log.Info("collections sweep finished", "swept", out.Swept, "failed", out.Failed)
	return out, nil
}

func (c *CollectionsOfficer) processInvoice(ctx context.Context, ev event.Event, inv ledger.OverdueInvoice) (CollectionsOutcome, error) {
	if inv.ID == "" {
		return CollectionsOutcome{}, fmt.Errorf("collections officer: invoice id is required")
	}

	level := reminderLevel(inv.DaysOverdue)
	if level == "" {
		d := decision.New(decision.OutcomeManual, "collections_ladder_exhausted", map[string]any{
			"invoice":      inv.ID,
			"days_overdue": inv.DaysOverdue,
		})
		c.esc.RequestReview(ctx, notifier.Proposal{
			Agent:   "collections_officer",
			EventID: ev.ID,
			Subject: fmt.Sprintf("invoice %s: %s owes %.2f, %d days overdue", inv.ID, inv.Customer, inv.Amount, inv.DaysOverdue),
			Summary: fmt.Sprintf("%d reminders sent, past the automated ladder", inv.RemindersSent),
		})
		c.log.Info("invoice escalated", "invoice", inv.ID, "days_overdue", inv.DaysOverdue)
		return CollectionsOutcome{InvoiceID: inv.ID, Decision: d}, nil
	}

	rctx := c.policy.RuleContext(map[string]any{
		"invoice": map[string]any{
			"amount":       inv.Amount,
			"days_overdue": float64(inv.DaysOverdue),
		},
		"customer": inv.Customer,
	})
	d := c.policy.EvaluateApprovalRules(ctx, rctx)

	if d.Outcome != decision.OutcomeAuto {
		c.esc.RequestReview(ctx, notifier.Proposal{
			Agent:   "collections_officer",
			EventID: ev.ID,
			Subject: fmt.Sprintf("invoice %s: %s owes %.2f", inv.ID, inv.Customer, inv.Amount),
			Summary: fmt.Sprintf("%s reminder proposed (rule %s)", level, d.MatchedRule),
		})
		c.log.Info("reminder proposed", "invoice", inv.ID, "level", level, "rule", d.MatchedRule)
		return CollectionsOutcome{InvoiceID: inv.ID, Level: level, Decision: d}, nil
	}

	action := ReminderAction{
		InvoiceID: inv.ID,
		Customer:  inv.Customer,
		Amount:    inv.Amount,
		Level:     level,
		At:        time.Now().UTC(),
	}
	data, err := json.Marshal(action)
	if err != nil {
		return CollectionsOutcome{}, fmt.Errorf("collections officer: encode action: %w", err)
	}
	if c.queue != nil {
		if err := c.queue.Publish(ctx, messagequeue.SubjectCollectionsActions, data); err != nil {
			return CollectionsOutcome{}, fmt.Errorf("collections officer: publish reminder for %s: %w", inv.ID, err)
		}
	}
	c.esc.AnnounceDecision(ctx, "collections_officer", ev, d, map[string]any{
		"invoice": inv.ID,
		"level":   level,
	})
	c.log.Info("reminder sent", "invoice", inv.ID, "level", level, "days_overdue", inv.DaysOverdue)
	return CollectionsOutcome{InvoiceID: inv.ID, Level: level, Decision: d}, nil
}
