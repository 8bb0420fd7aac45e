package http

import (
	"net/http"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"tempo/internal/auth"
	"tempo/internal/config"
	"tempo/internal/exporter"
	"tempo/internal/kv"
)

// NewRouter wires application routes and middleware using chi.
func NewRouter(cfg config.Config, store kv.Store, flow *auth.Flow, sessions *auth.SessionManager, registry *auth.Registry, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(newSecurityHeadersMiddleware(cfg.Environment))
	r.Use(newSlogMiddleware(logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"environment": cfg.Environment,
		})
	})

	secureCookie := !cfg.IsDevelopment()
	oauthHandler := NewOAuthHandler(flow, sessions, store, registry.Names(), cfg.Environment, logger)
	projectHandler := NewProjectHandler(store, logger)
	timeHandler := NewTimeHandler(store, exporter.NewCSVExporter(), logger)

	r.Route("/auth", func(r chi.Router) {
		r.Get("/providers", oauthHandler.Providers)
		r.Get("/logout", oauthHandler.Logout)
		r.Get("/callback/{provider}", oauthHandler.Callback)
		r.Get("/{provider}", oauthHandler.Login)
	})

	r.Group(func(r chi.Router) {
		r.Use(newSessionMiddleware(sessions, secureCookie, logger))

		r.Route("/projects", func(r chi.Router) {
			r.Post("/create", projectHandler.Create)
			r.Get("/list", projectHandler.List)
			r.Route("/{id}", func(r chi.Router) {
				r.Put("/", projectHandler.Update)
				r.Delete("/", projectHandler.Archive)
				r.Get("/summary", projectHandler.Summary)
			})
		})

		r.Route("/time", func(r chi.Router) {
			r.Post("/start", timeHandler.Start)
			r.Post("/stop", timeHandler.Stop)
			r.Get("/active", timeHandler.Active)
			r.Route("/entries", func(r chi.Router) {
				r.Get("/", timeHandler.Entries)
				r.Get("/export", timeHandler.Export)
				r.Put("/{id}", timeHandler.Update)
			})
		})
	})

	if cfg.StaticDir != "" {
		fileServer := http.FileServer(http.Dir(cfg.StaticDir))
		r.Handle("/*", fileServer)
	} else {
		r.NotFound(http.NotFoundHandler().ServeHTTP)
	}

	return r
}
