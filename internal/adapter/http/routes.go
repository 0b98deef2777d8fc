package http

import (
	"github.com/go-chi/chi/v5"

	"github.com/expertloop/expertloop/internal/middleware"
)

// MountRoutes registers all API routes on the given chi router. Expert
// routes require an expert API key; the inbound query route is open for
// the channel webhook bridge; /internal is expected to be firewalled.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		// Inbound user messages (channel webhook bridge)
		r.Post("/queries", h.SubmitQuery)

		// Diagnostics
		r.Get("/conversations/{id}/status", h.GetConversationStatus)

		// Expert surface
		r.Group(func(r chi.Router) {
			r.Use(middleware.ExpertAuth(h.Auth))
			r.Post("/queries/{id}/decision", h.RecordDecision)
			r.Get("/corrections", h.ListCorrections)
			r.Get("/experts", h.ListExperts)
		})
	})

	// Operational surface, not exposed publicly.
	r.Route("/internal", func(r chi.Router) {
		r.Post("/tick", h.Tick)
		r.Post("/experts", h.CreateExpert)
	})
}
