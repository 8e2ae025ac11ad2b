package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/finback/autoclerk/internal/adapter/ws"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, hub *ws.Hub) {
	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Events
		r.Post("/events", h.IngestEvent)
		r.Get("/events/correlation/{correlationID}", h.ListEventsByCorrelation)

		// Agents
		r.Get("/agents", h.ListAgents)
		r.Post("/agents/{name}/enable", h.EnableAgent)
		r.Post("/agents/{name}/disable", h.DisableAgent)

		// Policy
		r.Get("/policy", h.GetPolicy)
		r.Patch("/policy", h.PatchPolicy)
		r.Post("/policy/reload", h.ReloadPolicy)

		// Health
		r.Get("/health", h.Health)
	})

	// Live decision feed
	if hub != nil {
		r.Get("/ws", hub.HandleWS)
	}
}
