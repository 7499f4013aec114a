package http

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		// Graph
		r.Get("/graph", h.GetGraph)
		r.Post("/graph/mutations", h.ProposeMutation)
		r.Post("/plan/import", h.ImportPlan)

		// Proposals
		r.Get("/proposals", h.ListProposals)
		r.Get("/proposals/{id}", handleByID(h.Gate.Get, "proposal not found"))
		r.Post("/proposals/{id}/decision", h.DecideProposal)
		r.Post("/proposals/{id}/cancel", h.CancelProposal)

		// Triggers
		r.Get("/triggers", h.ListTriggers)
		r.Post("/triggers", h.CreateTrigger)
		r.Post("/triggers/evaluate", h.EvaluateAll)
		r.Get("/triggers/{id}", h.GetTrigger)
		r.Put("/triggers/{id}", h.UpdateTrigger)
		r.Delete("/triggers/{id}", handleDelete(h.Triggers.Delete, "trigger not found"))
		r.Post("/triggers/{id}/enable", handleByID(h.Triggers.Enable, "trigger not found"))
		r.Post("/triggers/{id}/disable", h.DisableTrigger)
		r.Post("/triggers/{id}/evaluate", h.EvaluateTrigger)
		r.Post("/conditions/check", h.CheckCondition)

		// Metrics
		r.Get("/metrics/latest", h.LatestMetrics)
		r.Get("/nodes/{id}/metrics", h.NodeMetrics)
		r.Get("/channels", h.ListChannels)
		r.Post("/channels/{id}/metrics", h.IngestMetrics)
		r.Post("/channels/{id}/poll", h.PollChannel)

		// Event log
		r.Get("/events", h.ListEvents)
	})
}
