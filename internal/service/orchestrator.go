package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	otelx "github.com/finback/autoclerk/internal/adapter/otel"
	"github.com/finback/autoclerk/internal/agent"
	"github.com/finback/autoclerk/internal/domain"
	"github.com/finback/autoclerk/internal/domain/decision"
	"github.com/finback/autoclerk/internal/domain/event"
	"github.com/finback/autoclerk/internal/port/broadcast"
	"github.com/finback/autoclerk/internal/port/eventlog"
	"github.com/finback/autoclerk/internal/port/messagequeue"
	"github.com/finback/autoclerk/internal/port/notifier"
	"github.com/finback/autoclerk/internal/resilience"
	"github.com/finback/autoclerk/internal/router"
)

// Orchestrator is the composition root of the decision core: it owns the
// agent registry and the router, persists inbound events, and fans results
// out to the live feed.
type Orchestrator struct {
	router    *router.Router
	policy    *PolicyStore
	events    eventlog.Store
	queue     messagequeue.Queue
	hub       broadcast.Broadcaster
	esc       *Escalator
	metrics   *otelx.Metrics
	log       *slog.Logger
	startedAt time.Time

	ledgerBreaker *resilience.Breaker

	mu     sync.RWMutex
	agents map[string]*agent.Agent
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithEventLog wires the append-only event log.
func WithEventLog(store eventlog.Store) OrchestratorOption {
	return func(o *Orchestrator) { o.events = store }
}

// WithQueue wires the message queue for inbound event consumption.
func WithQueue(q messagequeue.Queue) OrchestratorOption {
	return func(o *Orchestrator) { o.queue = q }
}

// WithBroadcaster wires the live event feed.
func WithBroadcaster(b broadcast.Broadcaster) OrchestratorOption {
	return func(o *Orchestrator) { o.hub = b }
}

// WithEscalator wires the review path for failed targets. A handler that
// dies mid-decision must still reach a human, not end as a log line.
func WithEscalator(esc *Escalator) OrchestratorOption {
	return func(o *Orchestrator) { o.esc = esc }
}

// WithMetrics wires the metric instruments.
func WithMetrics(m *otelx.Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLedgerBreaker exposes the ledger client's circuit state in the
// system status.
func WithLedgerBreaker(b *resilience.Breaker) OrchestratorOption {
	return func(o *Orchestrator) { o.ledgerBreaker = b }
}

// WithOrchestratorLogger replaces the default logger.
func WithOrchestratorLogger(log *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.log = log }
}

// NewOrchestrator creates an orchestrator around a router and policy store.
func NewOrchestrator(r *router.Router, policy *PolicyStore, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		router:    r,
		policy:    policy,
		hub:       broadcast.Nop{},
		log:       slog.Default(),
		startedAt: time.Now(),
		agents:    make(map[string]*agent.Agent),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RegisterAgent adds an agent to the registry and routes every event type
// it handles through the router with the given options.
func (o *Orchestrator) RegisterAgent(a *agent.Agent, opts router.Options) {
	o.mu.Lock()
	o.agents[a.Name()] = a
	o.mu.Unlock()
	for _, t := range a.EventTypes() {
		o.router.Register(t, []router.Target{a}, opts)
	}
}

// ProcessEvent is the single entry point for inbound events: it validates,
// persists, dispatches, and returns the per-target results. Dispatch
// failures are reflected in the result list, not in the returned error.
func (o *Orchestrator) ProcessEvent(ctx context.Context, ev event.Event) ([]router.HandlerResult, error) {
	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	ev.EnsureID()

	ctx, span := otelx.StartDispatchSpan(ctx, ev.ID, string(ev.Type))
	defer span.End()
	start := time.Now()

	// The event log is a side channel like audit: a write failure is
	// logged, never blocks dispatch.
	if o.events != nil {
		if err := o.events.Append(ctx, &ev); err != nil {
			o.log.Error("event log append failed", "event_id", ev.ID, "error", err)
		}
	}
	if o.metrics != nil {
		o.metrics.EventsReceived.Add(ctx, 1,
			metric.WithAttributes(attribute.String("event.type", string(ev.Type))))
	}

	results := o.router.Dispatch(ctx, ev)

	failed := 0
	for _, res := range results {
		if res.Status != router.StatusError {
			continue
		}
		failed++
		o.escalateFailure(ctx, ev, res)
	}
	if failed > 0 && o.metrics != nil {
		o.metrics.EventsFailed.Add(ctx, 1,
			metric.WithAttributes(attribute.String("event.type", string(ev.Type))))
	}
	if o.metrics != nil {
		o.metrics.DispatchSeconds.Record(ctx, time.Since(start).Seconds())
	}

	o.hub.BroadcastEvent(ctx, "event.processed", map[string]any{
		"event_id":   ev.ID,
		"event_type": string(ev.Type),
		"targets":    len(results),
		"failed":     failed,
	})
	o.log.Info("event dispatched", "event_id", ev.ID, "event_type", ev.Type,
		"targets", len(results), "failed", failed,
		"duration_ms", time.Since(start).Milliseconds())
	return results, nil
}

// escalateFailure routes a failed target through the review path. The
// action the handler was mid-way through may or may not have happened, so
// it can never be assumed done; a human gets the error and decides.
func (o *Orchestrator) escalateFailure(ctx context.Context, ev event.Event, res router.HandlerResult) {
	if o.esc == nil {
		return
	}
	reason := decision.ReasonHandlerFailure
	summary := "handler failed"
	if res.Err != nil {
		summary = res.Err.Error()
		if errors.Is(res.Err, context.DeadlineExceeded) {
			reason = decision.ReasonDeadlineExpired
		}
	}
	o.esc.RequestReview(ctx, notifier.Proposal{
		Agent:   res.Agent,
		EventID: ev.ID,
		Subject: fmt.Sprintf("%s failed on %s event %s", res.Agent, ev.Type, ev.ID),
		Summary: summary,
		Reasons: []decision.ReviewReason{reason},
	})
}

// StartConsumer subscribes to the inbound event subject and feeds each
// message through ProcessEvent. The returned cancel func stops the
// subscription.
func (o *Orchestrator) StartConsumer(ctx context.Context) (func(), error) {
	if o.queue == nil {
		return nil, fmt.Errorf("orchestrator: no queue configured")
	}
	return o.queue.Subscribe(ctx, messagequeue.SubjectEventsInbound,
		func(ctx context.Context, _ string, data []byte) error {
			var ev event.Event
			if err := json.Unmarshal(data, &ev); err != nil {
				return fmt.Errorf("decode inbound event: %w", err)
			}
			_, err := o.ProcessEvent(ctx, ev)
			return err
		})
}

// Agent returns a registered agent by name.
func (o *Orchestrator) Agent(name string) (*agent.Agent, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	a, ok := o.agents[name]
	return a, ok
}

// AgentHealth reports every registered agent's health, keyed by name.
func (o *Orchestrator) AgentHealth() map[string]agent.Health {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]agent.Health, len(o.agents))
	for name, a := range o.agents {
		out[name] = a.GetHealth()
	}
	return out
}

// SetAgentEnabled toggles an agent's enabled state.
func (o *Orchestrator) SetAgentEnabled(name string, enabled bool) error {
	a, ok := o.Agent(name)
	if !ok {
		return fmt.Errorf("orchestrator: agent %q: %w", name, domain.ErrNotFound)
	}
	if enabled {
		a.Enable()
	} else {
		a.Disable()
	}
	o.log.Info("agent toggled", "agent", name, "enabled", enabled)
	return nil
}

// SystemStatus is the operational summary served by the health endpoint.
type SystemStatus struct {
	Status        string                  `json:"status"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	PolicyVersion int                     `json:"policy_version"`
	QueueOnline   bool                    `json:"queue_online"`
	LedgerOnline  bool                    `json:"ledger_online"`
	EventTypes    []string                `json:"event_types"`
	Agents        map[string]agent.Health `json:"agents"`
}

// Status rolls up the system's health: degraded when any agent is
// unhealthy or the queue is down.
func (o *Orchestrator) Status() SystemStatus {
	agents := o.AgentHealth()
	status := "ok"
	for _, h := range agents {
		if h.Status != "healthy" {
			status = "degraded"
			break
		}
	}
	queueOnline := o.queue != nil && o.queue.IsConnected()
	if o.queue != nil && !queueOnline {
		status = "degraded"
	}
	ledgerOnline := o.ledgerBreaker == nil || !o.ledgerBreaker.Open()
	if !ledgerOnline {
		status = "degraded"
	}

	types := o.router.Routes()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	sort.Strings(names)

	return SystemStatus{
		Status:        status,
		UptimeSeconds: int64(time.Since(o.startedAt).Seconds()),
		PolicyVersion: o.policy.Version(),
		QueueOnline:   queueOnline,
		LedgerOnline:  ledgerOnline,
		EventTypes:    names,
		Agents:        agents,
	}
}

// Shutdown drains the queue connection.
func (o *Orchestrator) Shutdown(context.Context) error {
	if o.queue != nil {
		if err := o.queue.Drain(); err != nil {
			return fmt.Errorf("orchestrator: drain queue: %w", err)
		}
	}
	return nil
}
