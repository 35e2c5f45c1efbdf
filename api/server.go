/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for an admin frontend

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor-ID"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// User routes
		r.Route("/users", func(r chi.Router) {
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/history", h.GetHistory)
			r.Post("/{id}/balance", h.ChangeBalance)
		})

		// Group routes
		r.Route("/groups", func(r chi.Router) {
			r.Get("/", h.ListGroups)
			r.Put("/{id}/grant", h.SetGrant)
			r.Delete("/{id}/grant", h.ClearGrant)
		})

		// Admin allowlist routes (owner only)
		r.Route("/admins", func(r chi.Router) {
			r.Put("/{id}", h.Promote)
			r.Delete("/{id}", h.Demote)
		})

		// Automated donation ingest
		r.Post("/ingest/donation", h.IngestDonation)

		// Membership events from the front end
		r.Route("/events", func(r chi.Router) {
			r.Post("/join", h.MemberJoined)
			r.Post("/leave", h.MemberLeft)
		})
	})

	return r
}
