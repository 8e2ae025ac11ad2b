// Package agent implements the lifecycle wrapper every handler runs inside:
// handler registration, error containment, run metrics, audit emission, and
// a sliding-window health signal.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/finback/autoclerk/internal/domain/event"
	"github.com/finback/autoclerk/internal/port/audit"
)

const (
	errorRingCap  = 50
	metricRingCap = 100

	// healthWindow / healthErrorLimit define the sliding-window health
	// threshold: more than the limit within the window is unhealthy.
	healthWindow     = time.Hour
	healthErrorLimit = 5
)

// HandlerFunc processes one event. Returning an error marks this handler's
// outcome as failed without aborting sibling handlers on the same agent.
type HandlerFunc func(ctx context.Context, ev event.Event) (any, error)

// HandlerOutcome is one handler's result within an agent's processing of
// an event.
type HandlerOutcome struct {
	Value any
	Err   error
}

// Result aggregates an agent's processing of a single event.
type Result struct {
	EventID  string
	Agent    string
	Outcomes []HandlerOutcome
	Duration time.Duration
}

// ErrorEntry is one recorded handler or pipeline failure.
type ErrorEntry struct {
	EventID string    `json:"event_id"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// MetricSample is one recorded measurement.
type MetricSample struct {
	Value float64   `json:"value"`
	At    time.Time `json:"at"`
}

// Health is the agent's rolled-up health status.
type Health struct {
	Status      string    `json:"status"` // "healthy" | "unhealthy"
	Enabled     bool      `json:"enabled"`
	RunCount    int64     `json:"run_count"`
	LastRun     time.Time `json:"last_run,omitzero"`
	RecentFails int       `json:"recent_failures"`
}

// Agent is a named unit of business logic subscribed to one or more event
// types. Only the agent itself mutates its state; cross-agent mutation does
// not exist, so a per-agent mutex is sufficient under parallel dispatch.
type Agent struct {
	name    string
	enabled atomic.Bool
	audit   audit.Recorder
	log     *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	handlers map[event.Type][]HandlerFunc
	lastRun  time.Time
	runCount int64
	errors   *Ring[ErrorEntry]
	metrics  map[string]*Ring[MetricSample]
}

// New creates an enabled agent. A nil recorder disables audit emission.
func New(name string, recorder audit.Recorder, log *slog.Logger) *Agent {
	if recorder == nil {
		recorder = audit.Nop{}
	}
	if log == nil {
		log = slog.Default()
	}
	a := &Agent{
		name:     name,
		audit:    recorder,
		log:      log.With("agent", name),
		now:      time.Now,
		handlers: make(map[event.Type][]HandlerFunc),
		errors:   NewRing[ErrorEntry](errorRingCap),
		metrics:  make(map[string]*Ring[MetricSample]),
	}
	a.enabled.Store(true)
	return a
}

// Name returns the agent's registered name.
func (a *Agent) Name() string { return a.name }

// On registers a handler for an event type. Handlers for the same type run
// in registration order.
func (a *Agent) On(t event.Type, fn HandlerFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[t] = append(a.handlers[t], fn)
}

// EventTypes returns the event types this agent handles.
func (a *Agent) EventTypes() []event.Type {
	a.mu.Lock()
	defer a.mu.Unlock()
	types := make([]event.Type, 0, len(a.handlers))
	for t := range a.handlers {
		types = append(types, t)
	}
	return types
}

// Enable turns processing on.
func (a *Agent) Enable() { a.enabled.Store(true) }

// Disable turns processing off immediately. In-flight events finish; new
// events become no-ops. There is no draining state.
func (a *Agent) Disable() { a.enabled.Store(false) }

// Enabled reports whether the agent accepts events.
func (a *Agent) Enabled() bool { return a.enabled.Load() }

// ProcessEvent runs every handler registered for the event's type in
// registration order. A handler failure is contained: it is recorded and
// surfaced in the outcome list, and remaining handlers still run. The
// returned error joins all handler failures so the router can apply its
// partial-failure policy; the Result is returned alongside it.
//
// A disabled agent returns (nil, nil) and records nothing.
func (a *Agent) ProcessEvent(ctx context.Context, ev event.Event) (*Result, error) {
	if !a.enabled.Load() {
		return nil, nil
	}
	ev.EnsureID()
	start := a.now()

	a.emitAudit(ctx, audit.ActionEventReceived, map[string]any{
		"event_id":   ev.ID,
		"event_type": string(ev.Type),
		"source":     ev.Source,
	})

	a.mu.Lock()
	handlers := a.handlers[ev.Type]
	a.mu.Unlock()

	outcomes := make([]HandlerOutcome, 0, len(handlers))
	var failures []error
	for i, fn := range handlers {
		value, err := a.runHandler(ctx, fn, ev)
		if err != nil {
			a.recordError(ev.ID, err)
			failures = append(failures, fmt.Errorf("handler[%d]: %w", i, err))
		}
		outcomes = append(outcomes, HandlerOutcome{Value: value, Err: err})
	}

	duration := a.now().Sub(start)

	a.mu.Lock()
	a.lastRun = a.now()
	a.runCount++
	a.mu.Unlock()
	a.RecordMetric("event_duration_ms", float64(duration)/float64(time.Millisecond))

	a.emitAudit(ctx, audit.ActionEventCompleted, map[string]any{
		"event_id":    ev.ID,
		"event_type":  string(ev.Type),
		"results":     len(outcomes),
		"failures":    len(failures),
		"duration_ms": duration.Milliseconds(),
	})

	res := &Result{
		EventID:  ev.ID,
		Agent:    a.name,
		Outcomes: outcomes,
		Duration: duration,
	}
	return res, errors.Join(failures...)
}

// runHandler invokes one handler, converting a panic into an error so a
// misbehaving handler cannot take down the dispatch loop.
func (a *Agent) runHandler(ctx context.Context, fn HandlerFunc, ev event.Event) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return fn(ctx, ev)
}

// RecordMetric appends a sample to a named metric series, capped at the
// ring capacity.
func (a *Agent) RecordMetric(name string, value float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ring, ok := a.metrics[name]
	if !ok {
		ring = NewRing[MetricSample](metricRingCap)
		a.metrics[name] = ring
	}
	ring.Append(MetricSample{Value: value, At: a.now()})
}

// Metric returns the recorded samples for a named series, oldest first.
func (a *Agent) Metric(name string) []MetricSample {
	a.mu.Lock()
	defer a.mu.Unlock()
	ring, ok := a.metrics[name]
	if !ok {
		return nil
	}
	return ring.Items()
}

// Errors returns the recorded error history, oldest first.
func (a *Agent) Errors() []ErrorEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.errors.Items()
}

// RunCount returns the number of events processed.
func (a *Agent) RunCount() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runCount
}

// GetHealth reports the sliding-window health status: unhealthy when more
// than five errors were recorded within the trailing hour. This is a
// threshold signal, not a circuit breaker; the agent keeps processing.
func (a *Agent) GetHealth() Health {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := a.now().Add(-healthWindow)
	recent := 0
	for _, e := range a.errors.Items() {
		if e.At.After(cutoff) {
			recent++
		}
	}
	status := "healthy"
	if recent > healthErrorLimit {
		status = "unhealthy"
	}
	return Health{
		Status:      status,
		Enabled:     a.enabled.Load(),
		RunCount:    a.runCount,
		LastRun:     a.lastRun,
		RecentFails: recent,
	}
}

func (a *Agent) recordError(eventID string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errors.Append(ErrorEntry{EventID: eventID, Message: err.Error(), At: a.now()})
}

// emitAudit records an audit action, swallowing failures: audit is a side
// channel and must never block business processing.
func (a *Agent) emitAudit(ctx context.Context, action string, data map[string]any) {
	if err := a.audit.Record(ctx, action, data); err != nil {
		a.log.Warn("audit emission failed", "action", action, "error", err)
	}
}
