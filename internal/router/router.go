// Package router maintains the routing table from event type to agents and
// dispatches inbound events, collecting every target's outcome.
package router

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/finback/autoclerk/internal/agent"
	"github.com/finback/autoclerk/internal/domain/event"
)

const defaultMaxConcurrent = 8

// Target is anything that can process a dispatched event. *agent.Agent
// satisfies it.
type Target interface {
	Name() string
	ProcessEvent(ctx context.Context, ev event.Event) (*agent.Result, error)
}

// Condition gates a route: a false return skips every target in the route
// for that event.
type Condition func(ev event.Event) bool

// Options describe how one route's targets are executed.
type Options struct {
	// Condition, when set, must hold for the event or the route is skipped.
	Condition Condition
	// Parallel fans the targets out concurrently and waits for all of them
	// to settle. Sequential execution (the default) runs targets in
	// registration order and aborts the rest of this route on the first
	// failure.
	Parallel bool
	// Priority orders routes for the same event type, highest first.
	Priority int
	// Timeout bounds each target's processing. Zero means no bound beyond
	// the caller's context.
	Timeout time.Duration
}

type route struct {
	targets []Target
	opts    Options
}

// Status of one target's dispatch.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// HandlerResult is the per-target outcome of a dispatch. A failed target
// carries Err and leaves Value nil; the caller decides whether any failure
// escalates.
type HandlerResult struct {
	Agent  string
	Status string
	Value  *agent.Result
	Err    error
}

// Router owns the routing table. Registration happens at startup; Dispatch
// is safe for concurrent use afterwards.
type Router struct {
	log *slog.Logger
	sem *semaphore.Weighted

	mu     sync.RWMutex
	routes map[event.Type][]route
}

// Option configures a Router.
type Option func(*Router)

// WithLogger replaces the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(r *Router) { r.log = log }
}

// WithMaxConcurrent caps how many parallel targets run at once across all
// in-flight dispatches.
func WithMaxConcurrent(n int64) Option {
	return func(r *Router) { r.sem = semaphore.NewWeighted(n) }
}

// New creates an empty router.
func New(opts ...Option) *Router {
	r := &Router{
		log:    slog.Default(),
		sem:    semaphore.NewWeighted(defaultMaxConcurrent),
		routes: make(map[event.Type][]route),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a route for an event type. Multiple routes per type are
// allowed; Dispatch runs them in priority order, highest first, preserving
// registration order within equal priorities.
func (r *Router) Register(t event.Type, targets []Target, opts Options) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[t] = append(r.routes[t], route{targets: targets, opts: opts})
	sort.SliceStable(r.routes[t], func(i, j int) bool {
		return r.routes[t][i].opts.Priority > r.routes[t][j].opts.Priority
	})
}

// Routes reports the registered event types, for introspection endpoints.
func (r *Router) Routes() []event.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]event.Type, 0, len(r.routes))
	for t := range r.routes {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Dispatch routes one event. Lookup is by exact event type; an unmatched
// type returns an empty result list, not an error. Every candidate route
// whose condition holds is executed, and the combined per-target results
// are returned in route order (parallel routes keep target registration
// order in the result slice even though execution interleaves).
func (r *Router) Dispatch(ctx context.Context, ev event.Event) []HandlerResult {
	r.mu.RLock()
	candidates := r.routes[ev.Type]
	r.mu.RUnlock()

	var results []HandlerResult
	for _, rt := range candidates {
		if rt.opts.Condition != nil && !rt.opts.Condition(ev) {
			continue
		}
		if rt.opts.Parallel {
			results = append(results, r.dispatchParallel(ctx, rt, ev)...)
		} else {
			results = append(results, r.dispatchSequential(ctx, rt, ev)...)
		}
	}
	return results
}

// dispatchParallel fans out and waits for all targets to settle. A single
// target's failure must not cancel its siblings.
func (r *Router) dispatchParallel(ctx context.Context, rt route, ev event.Event) []HandlerResult {
	results := make([]HandlerResult, len(rt.targets))
	var wg sync.WaitGroup
	for i, tgt := range rt.targets {
		wg.Add(1)
		go func(i int, tgt Target) {
			defer wg.Done()
			if err := r.sem.Acquire(ctx, 1); err != nil {
				results[i] = HandlerResult{Agent: tgt.Name(), Status: StatusError, Err: err}
				return
			}
			defer r.sem.Release(1)
			results[i] = r.run(ctx, rt.opts, tgt, ev)
		}(i, tgt)
	}
	wg.Wait()
	return results
}

// dispatchSequential runs targets in registration order; a failure aborts
// the remaining targets of this route only.
func (r *Router) dispatchSequential(ctx context.Context, rt route, ev event.Event) []HandlerResult {
	var results []HandlerResult
	for _, tgt := range rt.targets {
		res := r.run(ctx, rt.opts, tgt, ev)
		results = append(results, res)
		if res.Status == StatusError {
			r.log.Warn("sequential route aborted",
				"event_type", ev.Type, "agent", tgt.Name(), "error", res.Err)
			break
		}
	}
	return results
}

func (r *Router) run(ctx context.Context, opts Options, tgt Target, ev event.Event) HandlerResult {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	value, err := tgt.ProcessEvent(ctx, ev)
	if err != nil {
		r.log.Error("target failed", "event_type", ev.Type, "event_id", ev.ID,
			"agent", tgt.Name(), "error", err)
		return HandlerResult{Agent: tgt.Name(), Status: StatusError, Value: value, Err: err}
	}
	return HandlerResult{Agent: tgt.Name(), Status: StatusOK, Value: value}
}
