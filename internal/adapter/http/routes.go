package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all REST routes. WebSocket endpoints are mounted
// separately in main so the hub's lifecycle stays with the server.
func MountRoutes(r chi.Router, h *Handlers) {
	// Ingestion, hit by hook scripts on every agent lifecycle event.
	r.Post("/events", h.IngestEvent)
	r.Get("/events/recent", h.RecentEvents)
	r.Get("/events/session/{id}", h.SessionEvents)

	// Subagent registry.
	r.Post("/subagents/register", h.RegisterAgent)
	r.Post("/subagents/update-completion", h.UpdateCompletion)
	r.Patch("/subagents/{sessionId}/{name}", h.PatchAgent)

	// Inter-agent messaging.
	r.Post("/subagents/message", h.SendMessage)
	r.Post("/subagents/unread", h.UnreadMessages)
	r.Get("/subagents/messages", h.AllMessages)

	// Session aggregation for the dashboard.
	r.Route("/api/sessions", func(r chi.Router) {
		r.Get("/window", h.SessionsWindow)
		r.Post("/batch", h.SessionsBatch)
		r.Get("/compare", h.SessionsCompare)
	})

	r.Get("/health", h.HealthCheck)

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"service":"claude-comms","version":"0.1.0"}`))
	})
}
