// Package server is the HTTP surface of guidepost: event ingestion,
// company configuration, baseline management, the escalation queue and
// the websocket delivery endpoint.
package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/guidepost-ai/guidepost/internal/core/ports"
	"github.com/guidepost-ai/guidepost/internal/ws"
)

type Server struct {
	Router *chi.Mux
	Port   int
	logger *slog.Logger
}

// New assembles the router. The websocket hub may be nil when the
// server runs without realtime delivery.
func New(port int, logger *slog.Logger, store ports.Store, log ports.EventLog, sessions ports.SessionStore, hub *ws.Hub) *Server {
	r := chi.NewRouter()

	// Apply middleware in order
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(middleware.Recoverer)

	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "guidepost")
	})

	h := &Handlers{store: store, log: log, sessions: sessions, logger: logger}

	r.Get("/healthz", h.Health)
	if hub != nil {
		r.Get("/ws/{user_id}", hub.Handle)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(store))

		r.Post("/events", h.IngestEvents)
		r.Get("/config", h.GetConfig)
		r.Put("/config", h.UpdateConfig)
		r.Get("/baselines", h.ListBaselines)
		r.Post("/baselines", h.CreateBaseline)
		r.Post("/baselines/{baseline_id}/activate", h.ActivateBaseline)
		r.Get("/escalations", h.ListEscalations)
	})

	return &Server{
		Router: r,
		Port:   port,
		logger: logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting server", slog.Int("port", s.Port))
	return http.ListenAndServe(fmt.Sprintf(":%d", s.Port), s.Router)
}
