// Package api exposes the overlay over HTTP and WebSocket.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/gridmap/internal/basemap"
	"github.com/sells-group/gridmap/internal/dataset"
	"github.com/sells-group/gridmap/internal/overlay"
	"github.com/sells-group/gridmap/internal/region"
	"github.com/sells-group/gridmap/internal/selection"
)

// Catalog lists the available dataset periods.
type Catalog interface {
	Periods() []dataset.Period
	Default() string
}

// Option configures a Server.
type Option func(*Server)

// WithCatalog enables the period endpoints.
func WithCatalog(c Catalog) Option {
	return func(s *Server) { s.catalog = c }
}

// WithTiles serves basemap tiles under /tiles.
func WithTiles(p *basemap.Proxy) Option {
	return func(s *Server) { s.tiles = p }
}

// WithDetailService mounts a local detail service under /detail.
func WithDetailService(h http.Handler) Option {
	return func(s *Server) { s.detail = h }
}

// WithAllowedOrigins sets the CORS and WebSocket origin allow-list. "*"
// allows any origin. An empty list keeps the default.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.origins = origins
		}
	}
}

// WithReadyTimeout bounds how long a new WebSocket client waits for the
// region membership before its first frame.
func WithReadyTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.readyTimeout = d
		}
	}
}

// Server routes requests to the overlay hub.
type Server struct {
	hub          *overlay.Hub
	catalog      Catalog
	tiles        *basemap.Proxy
	detail       http.Handler
	origins      []string
	readyTimeout time.Duration
	upgrader     websocket.Upgrader
	log          *zap.Logger
}

// New returns a Server over hub.
func New(hub *overlay.Hub, opts ...Option) *Server {
	s := &Server{
		hub:          hub,
		origins:      []string{"*"},
		readyTimeout: 30 * time.Second,
		log:          zap.L().With(zap.String("component", "api")),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", s.serveWS)

	r.Route("/api", func(r chi.Router) {
		r.Get("/regions", s.regions)
		r.Get("/summary", s.summary)
		r.Get("/periods", s.periods)
		r.Post("/periods/{name}", s.reload)

		r.Post("/sessions", s.openSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/overlay", s.frame)
			r.Get("/state", s.state)
			r.Post("/events", s.event)
			r.Post("/prefetch", s.prefetch)
			r.Delete("/", s.closeSession)
		})
	})

	if s.tiles != nil {
		r.Handle("/tiles/*", http.StripPrefix("/tiles", s.tiles))
	}
	if s.detail != nil {
		r.Mount("/detail", s.detail)
	}
	return r
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.origins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusOf maps domain errors to HTTP statuses.
func statusOf(err error) int {
	switch {
	case eris.Is(err, overlay.ErrUnknownSession),
		eris.Is(err, selection.ErrUnknownRegion),
		eris.Is(err, selection.ErrUnknownCell),
		eris.Is(err, dataset.ErrUnknownPeriod):
		return http.StatusNotFound
	case eris.Is(err, overlay.ErrUnknownEvent):
		return http.StatusBadRequest
	case eris.Is(err, dataset.ErrMalformedInput), eris.Is(err, region.ErrMalformedInput):
		return http.StatusUnprocessableEntity
	case eris.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
	}
	writeError(w, status, err.Error())
}
