package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/linkhq/link/internal/agent"
	"github.com/linkhq/link/internal/auth"
	"github.com/linkhq/link/internal/connections"
	"github.com/linkhq/link/internal/persona"
	"github.com/linkhq/link/internal/tools"
)

// Deps is everything the router needs wired at startup.
type Deps struct {
	Identity       auth.Provider
	Orchestrator   *agent.Orchestrator
	Persona        *persona.Agent
	Store          *connections.Store
	Registry       *tools.Registry
	Cache          *tools.Cache
	AllowedOrigins []string
}

// NewRouter assembles the HTTP surface: CORS, rate limiting on /generate,
// and bearer authentication on every route that touches user state.
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	rateLimit := httprate.Limit(25, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error": "Rate limit exceeded. Please wait and try again.",
			})
		}),
	)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireUser(d.Identity))

		r.With(rateLimit).Post("/generate", GenerateHandler(d.Orchestrator, d.Persona))

		r.Get("/api/user/get_connections", GetConnectionsHandler(d.Store, d.Registry, d.Cache))
		r.Post("/api/connect/{service}", ConnectHandler(d.Store, d.Registry, d.Cache))
		r.Post("/api/remove/{service}", RemoveHandler(d.Store, d.Registry, d.Cache))
	})

	return r
}
