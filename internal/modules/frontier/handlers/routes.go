package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all frontier routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/frontier", func(r chi.Router) {
		r.Post("/resample", h.HandleResample)
		r.Post("/gmv", h.HandleGlobalMinimumVariance)
		r.Get("/results/{key}", h.HandleGetResult)
		r.Get("/stream", h.HandleStream)
	})
}
