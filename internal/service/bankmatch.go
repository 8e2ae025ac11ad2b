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

// ThresholdBankMatch names the confidence threshold the bank matcher reads
// from the policy document.
const ThresholdBankMatch = "bank_match"

const defaultBankMatchThreshold = 0.9

// RecordResolver closes out a mirror row once its ledger record has been
// reconciled, so the row stops surfacing as a match candidate.
type RecordResolver interface {
	MarkResolved(ctx context.Context, sourceID string) error
}

// BankMatcher reconciles imported bank transactions against ledger records.
// High-confidence matches are reconciled automatically; everything else is
// escalated with the full ranked candidate list.
type BankMatcher struct {
	policy   *PolicyStore
	cascade  *cascade.Cascade
	ledger   ledger.Writer
	resolver RecordResolver
	esc      *Escalator
	log      *slog.Logger
}

// NewBankMatcher wires the matcher. The resolver may be nil when no local
// mirror is kept.
func NewBankMatcher(p *PolicyStore, c *cascade.Cascade, w ledger.Writer, res RecordResolver, esc *Escalator, log *slog.Logger) *BankMatcher {
	if log == nil {
		log = slog.Default()
	}
	return &BankMatcher{policy: p, cascade: c, ledger: w, resolver: res, esc: esc, log: log.With("handler", "bank_matcher")}
}

type bankTransaction struct {
	ID           string    `json:"id"`
	EntityRef    string    `json:"entity_ref"`
	Amount       float64   `json:"amount"`
	Date         time.Time `json:"date"`
	Description  string    `json:"description"`
	Counterparty string    `json:"counterparty"`
	Reference    string    `json:"reference"`
}

type bankTxnPayload struct {
	Transaction bankTransaction `json:"transaction"`
}

// MatchOutcome is the bank matcher's handler result.
type MatchOutcome struct {
	TransactionID string                  `json:"transaction_id"`
	Decision      decision.Decision       `json:"decision"`
	Confidence    float64                 `json:"confidence"`
	Candidates    []match.Candidate       `json:"candidates,omitempty"`
	Reasons       []decision.ReviewReason `json:"reasons,omitempty"`
}

// Handle processes one bank.txn.imported event.
func (m *BankMatcher) Handle(ctx context.Context, ev event.Event) (any, error) {
	var payload bankTxnPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return nil, fmt.Errorf("bank matcher: decode payload: %w", err)
	}
	txn := payload.Transaction
	if txn.ID == "" {
		return nil, fmt.Errorf("bank matcher: transaction id is required")
	}

	subject := match.Subject{
		Kind:         "bank_txn",
		ID:           txn.ID,
		EntityRef:    txn.EntityRef,
		Amount:       txn.Amount,
		Date:         txn.Date,
		Description:  txn.Description,
		Counterparty: txn.Counterparty,
		Reference:    txn.Reference,
	}

	candidates, err := m.cascade.Resolve(ctx, subject)
	if err != nil && len(candidates) == 0 {
		return nil, fmt.Errorf("bank matcher: resolve %s: %w", txn.ID, err)
	}
	confidence := m.cascade.ComputeConfidence(candidates, subject)
	threshold := m.policy.Threshold(ThresholdBankMatch, defaultBankMatchThreshold)
	reasons := decision.ClassifyReview(candidates, confidence, threshold)

	if len(reasons) == 0 {
		top := candidates[0]
		if err := m.ledger.Reconcile(ctx, txn.ID, top.SourceType, top.SourceID); err != nil {
			return nil, fmt.Errorf("bank matcher: reconcile %s: %w", txn.ID, err)
		}
		// Close out the mirror row so it cannot match a second transaction.
		if m.resolver != nil {
			if err := m.resolver.MarkResolved(ctx, top.SourceID); err != nil {
				m.log.Error("mark resolved failed", "record", top.SourceID, "error", err)
			}
		}
		m.cascade.MarkResolved(subject)
		d := decision.New(decision.OutcomeAuto, "confidence_gate", map[string]any{
			"transaction": txn.ID,
			"confidence":  confidence,
		})
		m.esc.AnnounceDecision(ctx, "bank_matcher", ev, d, map[string]any{
			"matched_type": top.SourceType,
			"matched_id":   top.SourceID,
		})
		m.log.Info("transaction reconciled", "transaction", txn.ID,
			"match", top.SourceID, "confidence", confidence)
		return MatchOutcome{
			TransactionID: txn.ID,
			Decision:      d,
			Confidence:    confidence,
			Candidates:    candidates,
		}, nil
	}

	// A transaction with no ledger counterpart may still be an internal
	// allocation the policy lets us book directly.
	if len(candidates) == 0 {
		if out, handled, err := m.bookAllocation(ctx, ev, txn); handled {
			return out, err
		}
	}

	d := decision.New(decision.OutcomePropose, "confidence_gate", map[string]any{
		"transaction": txn.ID,
		"confidence":  confidence,
	})
	m.esc.RequestReview(ctx, notifier.Proposal{
		Agent:      "bank_matcher",
		EventID:    ev.ID,
		Subject:    fmt.Sprintf("bank transaction %s (%s %.2f)", txn.ID, txn.Counterparty, txn.Amount),
		Summary:    fmt.Sprintf("match confidence %.2f below threshold %.2f", confidence, threshold),
		Confidence: confidence,
		Candidates: candidates,
		Reasons:    reasons,
	})
	m.log.Info("transaction escalated", "transaction", txn.ID,
		"confidence", confidence, "reasons", reviewReasonStrings(reasons))
	return MatchOutcome{
		TransactionID: txn.ID,
		Decision:      d,
		Confidence:    confidence,
		Candidates:    candidates,
		Reasons:       reasons,
	}, nil
}

// bookAllocation books an unmatched transaction as a transfer to the
// counterparty's default account, when the approval rules allow it. Returns
// handled=false when no counterparty rule applies and the transaction should
// follow the normal review path.
func (m *BankMatcher) bookAllocation(ctx context.Context, ev event.Event, txn bankTransaction) (MatchOutcome, bool, error) {
	cp, ok := m.policy.Counterparty(txn.Counterparty)
	if !ok || cp.DefaultAccount == "" {
		return MatchOutcome{}, false, nil
	}

	rctx := m.policy.RuleContext(map[string]any{
		"txn": map[string]any{
			"amount": txn.Amount,
		},
		"description":  txn.Description,
		"counterparty": txn.Counterparty,
	})
	d := m.policy.EvaluateApprovalRules(ctx, rctx)
	if d.Outcome != decision.OutcomeAuto {
		return MatchOutcome{}, false, nil
	}

	if err := m.ledger.CreateTransfer(ctx, txn.EntityRef, cp.DefaultAccount, txn.Amount, txn.Description); err != nil {
		return MatchOutcome{}, true, fmt.Errorf("bank matcher: book allocation %s: %w", txn.ID, err)
	}
	m.esc.AnnounceDecision(ctx, "bank_matcher", ev, d, map[string]any{
		"transaction": txn.ID,
		"account":     cp.DefaultAccount,
	})
	m.log.Info("allocation booked", "transaction", txn.ID,
		"counterparty", txn.Counterparty, "account", cp.DefaultAccount)
	return MatchOutcome{
		TransactionID: txn.ID,
		Decision:      d,
	}, true, nil
}
