package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/finback/autoclerk/internal/domain/event"
	"github.com/finback/autoclerk/internal/domain/policy"
	"github.com/finback/autoclerk/internal/port/eventlog"
	"github.com/finback/autoclerk/internal/service"
)

// Handlers bundles the HTTP handlers and their service dependencies.
type Handlers struct {
	orch   *service.Orchestrator
	policy *service.PolicyStore
	events eventlog.Store
	log    *slog.Logger
}

// NewHandlers creates the handler set. events may be nil when no event log
// is wired; the history endpoint then reports 501.
func NewHandlers(orch *service.Orchestrator, ps *service.PolicyStore, events eventlog.Store, log *slog.Logger) *Handlers {
	if log == nil {
		log = slog.Default()
	}
	return &Handlers{orch: orch, policy: ps, events: events, log: log}
}

// ingestRequest is the body of POST /events.
type ingestRequest struct {
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	EntityRef     string          `json:"entity_ref,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// dispatchResult is the wire form of one target's outcome.
type dispatchResult struct {
	Agent  string `json:"agent"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// IngestEvent accepts an inbound event and dispatches it synchronously.
// Handler failures are reported per target, not as an HTTP error.
func (h *Handlers) IngestEvent(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[ingestRequest](w, r)
	if !ok {
		return
	}

	ev := event.New(event.Type(req.Type), req.Source, req.Payload)
	ev.EntityRef = req.EntityRef
	ev.CorrelationID = req.CorrelationID

	results, err := h.orch.ProcessEvent(r.Context(), ev)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out := make([]dispatchResult, len(results))
	for i, res := range results {
		out[i] = dispatchResult{Agent: res.Agent, Status: res.Status}
		if res.Err != nil {
			out[i].Error = res.Err.Error()
		}
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"event_id": ev.ID,
		"results":  out,
	})
}

// ListEventsByCorrelation returns the event history for a correlation ID.
func (h *Handlers) ListEventsByCorrelation(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusNotImplemented, "event log not configured")
		return
	}

	id := urlParam(r, "correlationID")
	events, err := h.events.ListByCorrelation(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "correlation not found")
		return
	}
	if events == nil {
		events = []event.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// Health reports the rolled-up system status.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	status := h.orch.Status()
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// ListAgents returns every registered agent's health.
func (h *Handlers) ListAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"agents": h.orch.AgentHealth()})
}

// EnableAgent turns an agent back on.
func (h *Handlers) EnableAgent(w http.ResponseWriter, r *http.Request) {
	h.toggleAgent(w, r, true)
}

// DisableAgent stops an agent from receiving events.
func (h *Handlers) DisableAgent(w http.ResponseWriter, r *http.Request) {
	h.toggleAgent(w, r, false)
}

func (h *Handlers) toggleAgent(w http.ResponseWriter, r *http.Request, enabled bool) {
	name := urlParam(r, "name")
	if err := h.orch.SetAgentEnabled(name, enabled); err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agent": name, "enabled": enabled})
}

// GetPolicy returns the active policy document.
func (h *Handlers) GetPolicy(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.policy.Policy())
}

// PatchPolicy applies a partial policy update. An update that fails
// validation is rejected wholesale and leaves the active policy untouched.
func (h *Handlers) PatchPolicy(w http.ResponseWriter, r *http.Request) {
	patch, ok := readJSON[policy.Patch](w, r)
	if !ok {
		return
	}

	doc, err := h.policy.Update(r.Context(), patch)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// ReloadPolicy re-reads the policy document from its source file.
func (h *Handlers) ReloadPolicy(w http.ResponseWriter, r *http.Request) {
	doc, err := h.policy.Reload(r.Context())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, doc)
}
