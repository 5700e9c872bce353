package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers optimizer and option pricing routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/optimizer", func(r chi.Router) {
		r.Post("/run", h.HandleRun)
		r.Get("/runs", h.HandleListRuns)
		r.Get("/runs/{id}", h.HandleGetRun)
		r.Post("/block-size", h.HandleBlockSize)
	})
	r.Post("/pricing/options", h.HandlePriceOptions)
}
