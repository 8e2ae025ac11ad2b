package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/finback/autoclerk/internal/domain/event"
)

type recordingAudit struct {
	actions []string
	err     error
}

func (r *recordingAudit) Record(_ context.Context, action string, _ map[string]any) error {
	r.actions = append(r.actions, action)
	return r.err
}

func testEvent(t event.Type) event.Event {
	return event.New(t, "test", []byte(`{}`))
}

func TestProcessEventRunsHandlersInOrder(t *testing.T) {
	a := New("coder", nil, nil)
	var order []string
	a.On(event.TypeBillReceived, func(_ context.Context, _ event.Event) (any, error) {
		order = append(order, "first")
		return "one", nil
	})
	a.On(event.TypeBillReceived, func(_ context.Context, _ event.Event) (any, error) {
		order = append(order, "second")
		return "two", nil
	})

	res, err := a.ProcessEvent(context.Background(), testEvent(event.TypeBillReceived))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(res.Outcomes))
	}
	if order[0] != "first" || order[1] != "second" {
		t.Errorf("handlers out of registration order: %v", order)
	}
	if a.RunCount() != 1 {
		t.Errorf("expected runCount 1, got %d", a.RunCount())
	}
}

func TestProcessEventDisabledIsNoOp(t *testing.T) {
	a := New("coder", nil, nil)
	a.On(event.TypeBillReceived, func(_ context.Context, _ event.Event) (any, error) {
		t.Fatal("handler must not run while disabled")
		return nil, nil
	})
	a.Disable()

	res, err := a.ProcessEvent(context.Background(), testEvent(event.TypeBillReceived))
	if res != nil || err != nil {
		t.Fatalf("disabled agent must return (nil, nil), got (%v, %v)", res, err)
	}
	if a.RunCount() != 0 {
		t.Errorf("runCount must be unchanged, got %d", a.RunCount())
	}

	a.Enable()
	if !a.Enabled() {
		t.Error("agent should be enabled again")
	}
}

func TestProcessEventIsolatesHandlerErrors(t *testing.T) {
	a := New("coder", nil, nil)
	boom := errors.New("boom")
	var secondRan bool
	a.On(event.TypeBillReceived, func(_ context.Context, _ event.Event) (any, error) {
		return nil, boom
	})
	a.On(event.TypeBillReceived, func(_ context.Context, _ event.Event) (any, error) {
		secondRan = true
		return "ok", nil
	})

	res, err := a.ProcessEvent(context.Background(), testEvent(event.TypeBillReceived))
	if !secondRan {
		t.Error("a failing handler must not abort later handlers")
	}
	if err == nil || !errors.Is(err, boom) {
		t.Errorf("aggregate error must carry the handler failure, got %v", err)
	}
	if len(res.Outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(res.Outcomes))
	}
	if res.Outcomes[0].Err == nil || res.Outcomes[1].Err != nil {
		t.Errorf("outcome errors misplaced: %+v", res.Outcomes)
	}
	if len(a.Errors()) != 1 {
		t.Errorf("expected one recorded error, got %d", len(a.Errors()))
	}
}

func TestProcessEventRecoversPanics(t *testing.T) {
	a := New("coder", nil, nil)
	a.On(event.TypeBillReceived, func(_ context.Context, _ event.Event) (any, error) {
		panic("bad handler")
	})

	res, err := a.ProcessEvent(context.Background(), testEvent(event.TypeBillReceived))
	if err == nil {
		t.Fatal("panic must surface as an error")
	}
	if res == nil || len(res.Outcomes) != 1 {
		t.Fatal("panicking handler still yields an outcome entry")
	}
}

func TestProcessEventAssignsMissingID(t *testing.T) {
	a := New("coder", nil, nil)
	a.On(event.TypeBillReceived, func(_ context.Context, _ event.Event) (any, error) {
		return nil, nil
	})

	ev := event.Event{Type: event.TypeBillReceived, Source: "test"}
	res, err := a.ProcessEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.EventID == "" {
		t.Error("event without an ID must be assigned one")
	}
}

func TestProcessEventEmitsAudit(t *testing.T) {
	rec := &recordingAudit{}
	a := New("coder", rec, nil)
	a.On(event.TypeBillReceived, func(_ context.Context, _ event.Event) (any, error) {
		return nil, nil
	})

	if _, err := a.ProcessEvent(context.Background(), testEvent(event.TypeBillReceived)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.actions) != 2 || rec.actions[0] != "event_received" || rec.actions[1] != "event_completed" {
		t.Errorf("expected received+completed audit records, got %v", rec.actions)
	}
}

func TestAuditFailureNeverBlocksProcessing(t *testing.T) {
	rec := &recordingAudit{err: errors.New("audit store down")}
	a := New("coder", rec, nil)
	var ran bool
	a.On(event.TypeBillReceived, func(_ context.Context, _ event.Event) (any, error) {
		ran = true
		return "done", nil
	})

	res, err := a.ProcessEvent(context.Background(), testEvent(event.TypeBillReceived))
	if err != nil {
		t.Fatalf("audit failure must be swallowed, got %v", err)
	}
	if !ran || res.Outcomes[0].Value != "done" {
		t.Error("business processing must proceed despite audit failure")
	}
}

func TestGetHealthSlidingWindow(t *testing.T) {
	a := New("coder", nil, nil)
	current := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return current }

	// Five errors within the hour: still healthy (threshold is "more than 5").
	for i := 0; i < 5; i++ {
		a.recordError("ev", errors.New("fail"))
	}
	if h := a.GetHealth(); h.Status != "healthy" {
		t.Errorf("5 recent errors should still be healthy, got %s", h.Status)
	}

	a.recordError("ev", errors.New("fail"))
	if h := a.GetHealth(); h.Status != "unhealthy" {
		t.Errorf("6 recent errors should be unhealthy, got %s", h.Status)
	}

	// Advance past the window: old errors age out.
	current = current.Add(2 * time.Hour)
	if h := a.GetHealth(); h.Status != "healthy" {
		t.Errorf("errors outside the trailing hour must not count, got %s", h.Status)
	}
}

func TestMetricsCapped(t *testing.T) {
	a := New("coder", nil, nil)
	for i := 0; i < 150; i++ {
		a.RecordMetric("event_duration_ms", float64(i))
	}
	samples := a.Metric("event_duration_ms")
	if len(samples) != 100 {
		t.Fatalf("metric series must cap at 100, got %d", len(samples))
	}
	if samples[0].Value != 50 || samples[99].Value != 149 {
		t.Errorf("expected oldest-first window [50..149], got [%v..%v]",
			samples[0].Value, samples[99].Value)
	}
}

func TestRingEviction(t *testing.T) {
	r := NewRing[int](3)
	for i := 1; i <= 5; i++ {
		r.Append(i)
	}
	items := r.Items()
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	for i, want := range []int{3, 4, 5} {
		if items[i] != want {
			t.Errorf("items[%d] = %d, want %d", i, items[i], want)
		}
	}
}

func TestRingPartialFill(t *testing.T) {
	r := NewRing[string](4)
	r.Append("a")
	r.Append("b")
	if r.Len() != 2 {
		t.Errorf("expected len 2, got %d", r.Len())
	}
	items := r.Items()
	if len(items) != 2 || items[0] != "a" || items[1] != "b" {
		t.Errorf("unexpected items: %v", items)
	}
}
