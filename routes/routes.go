package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/auth-session/app"
	"github.com/upb/auth-session/handlers"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoints
	r.Get("/healthz", handlers.HealthCheck(deps))
	r.Get("/readyz", handlers.ReadinessCheck(deps))

	// Client configuration, fetched by the controller on first page load
	r.Get("/auth_config.json", handlers.AuthConfigHandler(deps))

	// Page routes carry the browser session
	r.Group(func(r chi.Router) {
		r.Use(deps.SessionMiddleware.Handler)
		r.Get("/", handlers.PageHandler(deps))
		r.Post("/login", handlers.LoginHandler(deps))
		r.Post("/logout", handlers.LogoutHandler(deps))
		r.Post("/call-api", handlers.CallAPIHandler(deps))
	})

	// Protected demo backend
	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   deps.Config.DemoAPI.AllowedOrigins,
			AllowedMethods:   []string{"GET", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
		r.With(deps.AuthMiddleware.RequireAuth).Get("/demo", handlers.DemoHandler(deps))
		r.With(deps.AuthMiddleware.RequireAuth).Get("/audit", handlers.AuditHistoryHandler(deps))
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}
