package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/finback/autoclerk/internal/domain/decision"
	"github.com/finback/autoclerk/internal/domain/event"
	"github.com/finback/autoclerk/internal/port/ledger"
	"github.com/finback/autoclerk/internal/port/notifier"
)

// SpendGovernor approves or escalates spend requests. Approval is driven
// entirely by the policy rules plus per-counterparty overrides; there is no
// confidence component.
type SpendGovernor struct {
	policy *PolicyStore
	ledger ledger.Writer
	esc    *Escalator
	log    *slog.Logger
}

// NewSpendGovernor wires the governor.
func NewSpendGovernor(p *PolicyStore, w ledger.Writer, esc *Escalator, log *slog.Logger) *SpendGovernor {
	if log == nil {
		log = slog.Default()
	}
	return &SpendGovernor{policy: p, ledger: w, esc: esc, log: log.With("handler", "spend_governor")}
}

type spendPayload struct {
	Request struct {
		ID           string  `json:"id"`
		EntityRef    string  `json:"entity_ref"`
		Amount       float64 `json:"amount"`
		Counterparty string  `json:"counterparty"`
		Category     string  `json:"category"`
		RequestedBy  string  `json:"requested_by"`
		Memo         string  `json:"memo"`
	} `json:"request"`
}

// SpendOutcome is the spend governor's handler result.
type SpendOutcome struct {
	RequestID string            `json:"request_id"`
	Decision  decision.Decision `json:"decision"`
}

// Handle processes one spend.requested event.
func (g *SpendGovernor) Handle(ctx context.Context, ev event.Event) (any, error) {
	var payload spendPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return nil, fmt.Errorf("spend governor: decode payload: %w", err)
	}
	req := payload.Request
	if req.ID == "" {
		return nil, fmt.Errorf("spend governor: request id is required")
	}

	rctx := g.policy.RuleContext(map[string]any{
		"spend": map[string]any{
			"amount":   req.Amount,
			"category": req.Category,
		},
		"counterparty": req.Counterparty,
		"requested_by": req.RequestedBy,
	})
	d := g.policy.EvaluateApprovalRules(ctx, rctx)

	// Per-counterparty overrides tighten, never loosen, the rule outcome.
	if cp, ok := g.policy.Counterparty(req.Counterparty); ok {
		if cp.RequireSignoff && d.Outcome != decision.OutcomeManual {
			d = decision.New(decision.OutcomeManual, "counterparty_signoff", d.Context)
		} else if d.Outcome == decision.OutcomeAuto && cp.MaxAutoAmount > 0 && req.Amount > cp.MaxAutoAmount {
			d = decision.New(decision.OutcomePropose, "counterparty_cap", d.Context)
		}
	}

	if d.Outcome == decision.OutcomeAuto {
		if err := g.ledger.UpdateRecord(ctx, req.ID, map[string]string{"status": "approved"}); err != nil {
			return nil, fmt.Errorf("spend governor: approve %s: %w", req.ID, err)
		}
		g.esc.AnnounceDecision(ctx, "spend_governor", ev, d, map[string]any{
			"request":      req.ID,
			"amount":       req.Amount,
			"counterparty": req.Counterparty,
		})
		g.log.Info("spend approved", "request", req.ID, "amount", req.Amount, "rule", d.MatchedRule)
		return SpendOutcome{RequestID: req.ID, Decision: d}, nil
	}

	g.esc.RequestReview(ctx, notifier.Proposal{
		Agent:   "spend_governor",
		EventID: ev.ID,
		Subject: fmt.Sprintf("spend request %s: %s %.2f for %s", req.ID, req.Counterparty, req.Amount, req.Category),
		Summary: fmt.Sprintf("decision %s (rule %s), requested by %s", d.Outcome, d.MatchedRule, req.RequestedBy),
	})
	g.log.Info("spend escalated", "request", req.ID, "outcome", string(d.Outcome), "rule", d.MatchedRule)
	return SpendOutcome{RequestID: req.ID, Decision: d}, nil
}
