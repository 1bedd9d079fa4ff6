/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the board frontend

ROUTE GROUPS:
  /api/identities/*     Identity management and balances
  /api/tasks/*          Tasks, counters, completion
  /api/subtasks/*       Subtasks
  /api/rewards/*        Rewards and redemption
  /api/balance          Ledger summary
  /api/admin/*          Admin unlock
  /api/scenarios/*      Demo scenarios
  /health               Liveness
  /metrics              Prometheus scrape endpoint (when enabled)

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options configures NewRouter.
type Options struct {
	AllowedOrigins []string
	Metrics        bool
}

// DefaultOptions allows the local frontend dev servers and serves /metrics.
func DefaultOptions() Options {
	return Options{
		AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		Metrics:        true,
	}
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts Options) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
	}))

	r.Get("/health", h.Health)
	if opts.Metrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/identities", func(r chi.Router) {
			r.Get("/", h.ListIdentities)
			r.Post("/", h.CreateIdentity)
			r.Get("/{id}", h.GetIdentity)
			r.Put("/{id}", h.UpdateIdentity)
			r.Delete("/{id}", h.DeleteIdentity)
			r.Get("/{id}/balance", h.GetIdentityBalance)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", h.ListTasks)
			r.Post("/", h.CreateTask)
			// Registered before /{id} so "update-sort" is not taken as an id
			r.Put("/update-sort", h.UpdateSort)
			r.Get("/{id}", h.GetTask)
			r.Put("/{id}", h.UpdateTask)
			r.Delete("/{id}", h.DeleteTask)
			r.Post("/{id}/increment-counter-with-points", h.IncrementCounter)
			r.Post("/{id}/toggle-pin", h.TogglePin)
		})

		r.Route("/subtasks", func(r chi.Router) {
			r.Get("/", h.ListSubTasks)
			r.Post("/", h.CreateSubTask)
			r.Put("/{id}", h.UpdateSubTask)
			r.Delete("/{id}", h.DeleteSubTask)
		})

		r.Route("/rewards", func(r chi.Router) {
			r.Get("/", h.ListRewards)
			r.Post("/", h.CreateReward)
			r.Get("/{id}", h.GetReward)
			r.Put("/{id}", h.UpdateReward)
			r.Delete("/{id}", h.DeleteReward)
			r.Get("/{id}/preview", h.PreviewRedemption)
			r.Post("/{id}/redeem", h.RedeemReward)
		})

		r.Get("/balance", h.GetBalance)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/tasks/{id}/unlock", h.UnlockTask)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
