package api

import (
	"net/http"

	"github.com/adithya-n05/ICHack26-sub001/internal/api/handlers"
	"github.com/adithya-n05/ICHack26-sub001/internal/api/middleware"
	"github.com/adithya-n05/ICHack26-sub001/internal/config"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the HTTP router with all API routes. ws serves the
// real-time stream at /ws and may be nil. authn may be nil for an open API.
func NewRouter(cfg *config.Config, h *handlers.Handlers, ws http.Handler, authn middleware.Authenticator) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-Id", "X-Service-Token"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if authn != nil {
		r.Use(middleware.Auth(authn, cfg.Auth.Required))
	}

	// Real-time stream, outside the compressed group
	if ws != nil {
		r.Handle("/ws", ws)
	}

	r.Group(func(r chi.Router) {
		r.Use(chimw.Compress(5))

		// Health & info
		r.Get("/health", h.Health)
		r.Get("/version", h.GetVersion)

		// API v1
		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/status", h.Status)
			r.Get("/agents", h.ListAgents)

			// Bus traffic
			r.Route("/messages", func(r chi.Router) {
				r.Get("/", h.ListMessages)
				r.Post("/", h.PublishMessage)
			})
			r.Get("/conversations/{correlationID}", h.GetConversation)

			// Alerts
			r.Route("/alerts", func(r chi.Router) {
				r.Get("/", h.ListAlerts)
				r.Post("/{alertID}/ack", h.AcknowledgeAlert)
			})

			// Agent state
			r.Get("/sources", h.ListSources)
			r.Get("/risks", h.ListRisks)
			r.Get("/mitigations", h.ListMitigations)

			// Records & catalog
			r.Get("/records", h.ListRecords)
			r.Route("/entities", func(r chi.Router) {
				r.Get("/", h.ListEntities)
				r.Get("/{entityID}/score", h.ScoreEntity)
				r.Get("/{entityID}/alternatives", h.EntityAlternatives)
			})
		})
	})

	return r
}
