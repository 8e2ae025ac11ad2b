package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/finback/autoclerk/internal/domain/decision"
	"github.com/finback/autoclerk/internal/domain/event"
	"github.com/finback/autoclerk/internal/port/messagequeue"
	"github.com/finback/autoclerk/internal/port/notifier"
)

type memAudit struct {
	mu      sync.Mutex
	actions []string
}

func (a *memAudit) Record(_ context.Context, action string, _ map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
	return nil
}

type failingNotifier struct{ err error }

func (n *failingNotifier) SendApprovalRequired(context.Context, notifier.Proposal) error {
	return n.err
}

func TestAnnounceDecisionPublishesAndAudits(t *testing.T) {
	q := newMemQueue()
	rec := &memAudit{}
	esc := NewEscalator(q, nil, nil, rec, nil)

	ev := event.New(event.TypeBankTxnImported, "test", nil)
	d := decision.New(decision.OutcomeAuto, "amount_cap", nil)
	esc.AnnounceDecision(context.Background(), "bank_matcher", ev, d, map[string]any{"txn": "txn-1"})

	msgs := q.published[messagequeue.SubjectDecisionMade]
	if len(msgs) != 1 {
		t.Fatalf("expected 1 decision message, got %d", len(msgs))
	}
	var notice struct {
		Agent   string `json:"agent"`
		EventID string `json:"event_id"`
	}
	if err := json.Unmarshal(msgs[0], &notice); err != nil {
		t.Fatalf("decode notice: %v", err)
	}
	if notice.Agent != "bank_matcher" || notice.EventID != ev.ID {
		t.Errorf("unexpected notice %+v", notice)
	}
	if len(rec.actions) != 1 || rec.actions[0] != "decision_made" {
		t.Errorf("unexpected audit actions %v", rec.actions)
	}
}

func TestRequestReviewNotifiesAndPublishes(t *testing.T) {
	q := newMemQueue()
	not := &memNotifier{}
	rec := &memAudit{}
	esc := NewEscalator(q, not, nil, rec, nil)

	esc.RequestReview(context.Background(), notifier.Proposal{
		Agent:   "expense_coder",
		EventID: "ev-1",
		Subject: "bill b-1 from acme (120.00)",
	})

	if len(q.published[messagequeue.SubjectReviewRequired]) != 1 {
		t.Errorf("expected review message on the queue")
	}
	if not.count() != 1 {
		t.Errorf("expected 1 approval notification, got %d", not.count())
	}
	if len(rec.actions) != 1 || rec.actions[0] != "review_required" {
		t.Errorf("unexpected audit actions %v", rec.actions)
	}
}

// Side channels are best-effort: a failing notifier must not panic or stop
// the remaining channels.
func TestRequestReviewSurvivesNotifierFailure(t *testing.T) {
	q := newMemQueue()
	rec := &memAudit{}
	esc := NewEscalator(q, &failingNotifier{err: errors.New("slack down")}, nil, rec, nil)

	esc.RequestReview(context.Background(), notifier.Proposal{Agent: "spend_governor", EventID: "ev-2"})

	if len(q.published[messagequeue.SubjectReviewRequired]) != 1 {
		t.Errorf("queue publish should happen before the notifier fails")
	}
	if len(rec.actions) != 1 {
		t.Errorf("audit should still record after notifier failure, got %v", rec.actions)
	}
}

func TestEscalatorToleratesNilChannels(t *testing.T) {
	esc := NewEscalator(nil, nil, nil, nil, nil)
	ev := event.New(event.TypeSpendRequested, "test", nil)
	esc.AnnounceDecision(context.Background(), "spend_governor", ev, decision.New(decision.OutcomeAuto, "", nil), nil)
	esc.RequestReview(context.Background(), notifier.Proposal{Agent: "spend_governor"})
}
