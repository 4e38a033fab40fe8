/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend
  5. Auth:       Bearer token on /api only

ROUTE GROUPS:
  /api/groups/*   Group, member, expense and settlement operations
  /api/users/me   Caller's directory entry
  /metrics        Prometheus scrape endpoint (unauthenticated)
  /health         Liveness check

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Bearer token middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured. Metrics are
// served from gatherer when it is not nil.
func NewRouter(h *Handler, auth *Authenticator, gatherer prometheus.Gatherer) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware)

		r.Route("/groups", func(r chi.Router) {
			r.Get("/", h.ListGroups)
			r.Post("/", h.CreateGroup)

			r.Route("/{groupID}", func(r chi.Router) {
				r.Get("/", h.GetGroup)
				r.Delete("/", h.DeleteGroup)
				r.Get("/plan", h.GetPlan)

				// Member routes
				r.Post("/members", h.AddMember)
				r.Get("/members/{userID}", h.GetPosition)
				r.Delete("/members/{userID}", h.RemoveMember)
				r.Post("/members/{userID}/settle", h.SettleMemberExpenses)
				r.Post("/leave", h.LeaveGroup)
				r.Post("/leave-requests", h.RequestLeave)

				// Expense routes
				r.Post("/expenses", h.AddExpense)
				r.Patch("/expenses/{expenseID}", h.EditExpense)
				r.Delete("/expenses/{expenseID}", h.DeleteExpense)

				// Settlement routes
				r.Post("/settlements", h.RequestSettlement)
				r.Post("/settlements/verify", h.VerifySettlement)
			})
		})

		if h.Users != nil {
			r.Put("/users/me", h.PutMe)
		}
	})

	return r
}
