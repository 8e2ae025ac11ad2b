package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/finback/autoclerk/internal/cascade"
	"github.com/finback/autoclerk/internal/domain/decision"
	"github.com/finback/autoclerk/internal/domain/event"
	"github.com/finback/autoclerk/internal/domain/match"
	"github.com/finback/autoclerk/internal/port/ledger"
	"github.com/finback/autoclerk/internal/port/notifier"
)

// ThresholdExpense names the confidence threshold for automatic expense
// coding.
const ThresholdExpense = "expense"

const defaultExpenseThreshold = 0.85

// ExpenseCoder assigns account codes to incoming bills by matching them
// against historical codings, gated by the approval rules: both the policy
// decision and the coding confidence must clear for an automatic booking.
type ExpenseCoder struct {
	policy  *PolicyStore
	cascade *cascade.Cascade
	ledger  ledger.Writer
	esc     *Escalator
	log     *slog.Logger
}

// NewExpenseCoder wires the coder. The cascade's store should serve
// historical coding rows for the bill's vendor.
func NewExpenseCoder(p *PolicyStore, c *cascade.Cascade, w ledger.Writer, esc *Escalator, log *slog.Logger) *ExpenseCoder {
	if log == nil {
		log = slog.Default()
	}
	return &ExpenseCoder{policy: p, cascade: c, ledger: w, esc: esc, log: log.With("handler", "expense_coder")}
}

type billPayload struct {
	Bill struct {
		ID          string    `json:"id"`
		EntityRef   string    `json:"entity_ref"`
		Vendor      string    `json:"vendor"`
		Amount      float64   `json:"amount"`
		Date        time.Time `json:"date"`
		Description string    `json:"description"`
		Reference   string    `json:"reference"`
	} `json:"bill"`
}

// CodingOutcome is the expense coder's handler result.
type CodingOutcome struct {
	BillID     string                  `json:"bill_id"`
	Account    string                  `json:"account,omitempty"`
	Decision   decision.Decision       `json:"decision"`
	Confidence float64                 `json:"confidence"`
	Candidates []match.Candidate       `json:"candidates,omitempty"`
	Reasons    []decision.ReviewReason `json:"reasons,omitempty"`
}

// Handle processes one bill.received event.
func (e *ExpenseCoder) Handle(ctx context.Context, ev event.Event) (any, error) {
	var payload billPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return nil, fmt.Errorf("expense coder: decode payload: %w", err)
	}
	bill := payload.Bill
	if bill.ID == "" {
		return nil, fmt.Errorf("expense coder: bill id is required")
	}

	subject := match.Subject{
		Kind:         "bill",
		ID:           bill.ID,
		EntityRef:    bill.EntityRef,
		Amount:       bill.Amount,
		Date:         bill.Date,
		Description:  bill.Description,
		Counterparty: bill.Vendor,
		Reference:    bill.Reference,
	}
	candidates, err := e.cascade.Resolve(ctx, subject)
	if err != nil && len(candidates) == 0 {
		return nil, fmt.Errorf("expense coder: resolve %s: %w", bill.ID, err)
	}
	confidence := e.cascade.ComputeConfidence(candidates, subject)
	threshold := e.policy.Threshold(ThresholdExpense, defaultExpenseThreshold)
	reasons := decision.ClassifyReview(candidates, confidence, threshold)

	rctx := e.policy.RuleContext(map[string]any{
		"bill":   map[string]any{"amount": bill.Amount},
		"vendor": bill.Vendor,
	})
	d := e.policy.EvaluateApprovalRules(ctx, rctx)

	if d.Outcome == decision.OutcomeAuto && len(reasons) == 0 {
		account := candidates[0].SourceID
		fields := map[string]string{"account": account}
		if err := e.ledger.UpdateRecord(ctx, bill.ID, fields); err != nil {
			return nil, fmt.Errorf("expense coder: update bill %s: %w", bill.ID, err)
		}
		e.cascade.MarkResolved(subject)
		e.esc.AnnounceDecision(ctx, "expense_coder", ev, d, map[string]any{
			"bill":       bill.ID,
			"account":    account,
			"confidence": confidence,
		})
		e.log.Info("bill coded", "bill", bill.ID, "account", account, "confidence", confidence)
		return CodingOutcome{
			BillID:     bill.ID,
			Account:    account,
			Decision:   d,
			Confidence: confidence,
			Candidates: candidates,
		}, nil
	}

	// Policy declined or the coding is not confident enough: surface the
	// suggested codings for a human to confirm.
	if d.Outcome == decision.OutcomeAuto {
		d = decision.New(decision.OutcomePropose, "confidence_gate", d.Context)
	}
	e.esc.RequestReview(ctx, notifier.Proposal{
		Agent:      "expense_coder",
		EventID:    ev.ID,
		Subject:    fmt.Sprintf("bill %s from %s (%.2f)", bill.ID, bill.Vendor, bill.Amount),
		Summary:    fmt.Sprintf("coding decision %s (rule %s)", d.Outcome, d.MatchedRule),
		Confidence: confidence,
		Candidates: candidates,
		Reasons:    reasons,
	})
	e.log.Info("bill escalated", "bill", bill.ID, "outcome", string(d.Outcome), "rule", d.MatchedRule)
	return CodingOutcome{
		BillID:     bill.ID,
		Decision:   d,
		Confidence: confidence,
		Candidates: candidates,
		Reasons:    reasons,
	}, nil
}
