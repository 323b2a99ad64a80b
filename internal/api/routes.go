package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers, hc *HealthChecker) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	// Server identity header - distinguishes environments behind the LB
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("X-Server-Identity", "adtrack-server-v1.0")
			next.ServeHTTP(w, req)
		})
	})

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Tenant-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health checks (no tenant required)
	r.Get("/health", hc.HandleHealth)
	r.Get("/health/live", hc.HandleLiveness)
	r.Get("/health/ready", hc.HandleReadiness)

	// API routes - all tenant scoped
	r.Route("/api", func(r chi.Router) {
		r.Use(RequireTenant)

		r.Route("/events", func(r chi.Router) {
			r.Post("/impressions", h.RecordImpression)
			r.Post("/clicks", h.RecordClick)
			r.Post("/conversions", h.RecordConversion)
			r.Get("/stats", h.GetEventStats)
			r.Delete("/cleanup", h.CleanupEvents)
		})

		r.Route("/campaigns/{campaignID}", func(r chi.Router) {
			r.Post("/rebuild", h.RebuildCampaign)
			r.Get("/events", h.GetCampaignEvents)
			r.Get("/validate", h.ValidateCampaign)
			r.Get("/metrics", h.GetCampaignMetrics)
		})
	})

	return r
}
