package httpserver

import (
	"net/http"
	"time"

	"steptrack-go/internal/config"
	"steptrack-go/internal/transport/httpserver/handler"
	authmw "steptrack-go/internal/transport/httpserver/middleware"
	"steptrack-go/pkg/logger"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

func NewRouter(cfg config.Config, handlers *handler.Handlers, profiles authmw.ProfileSaver, log logger.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(authmw.NewCORS([]string{"http://localhost:5173"}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", handlers.Health)

		auth := authmw.NewTokenAuth(cfg.Auth, profiles, log)
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware)

			r.Group(func(r chi.Router) {
				r.Use(chimw.Timeout(30 * time.Second))

				r.Get("/auth/me", handlers.AuthMe)

				r.Get("/steps", handlers.ListSteps)
				r.Get("/steps/summary", handlers.StepsSummary)
				r.Put("/steps/{date}", handlers.UpsertManualSteps)

				r.Get("/connection", handlers.GetConnection)
				r.Post("/connection", handlers.Connect)
				r.Delete("/connection", handlers.Disconnect)
			})

			// No request timeout here: a first-time catch-up walks months
			// of missing days with inter-group delays.
			r.Post("/sync/steps", handlers.SyncSteps)
		})
	})

	return r
}
