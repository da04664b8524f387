package handler

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (h *Handler) Routes(apiRL *RateLimiter) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		if apiRL != nil {
			r.Use(apiRL.Middleware)
		}

		r.Get("/health", h.Health)

		r.Group(func(r chi.Router) {
			r.Use(h.RequireToken)
			r.Post("/predict", h.Predict)
			r.Post("/analyze", h.Analyze)
			r.Get("/jobs/{jobID}", h.JobStatus)
			r.Get("/jobs/{jobID}/events", h.JobEvents)
		})
	})

	return r
}
