package app

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/crowdsense/internal/model/entities"
	"github.com/LeonardoBeccarini/crowdsense/internal/observability"
	"github.com/LeonardoBeccarini/crowdsense/internal/services/persistence"
	"github.com/LeonardoBeccarini/crowdsense/internal/services/scheduler"
	"github.com/LeonardoBeccarini/crowdsense/pkg/logger"
)

type Config struct {
	CORSOrigins    []string
	RequestTimeout time.Duration
	// StaleAfter is how old the latest snapshot set may be before /readyz fails.
	StaleAfter time.Duration
}

// Pipeline is the part of the scheduler the HTTP surface reads from.
type Pipeline interface {
	Snapshots() *scheduler.SnapshotStore
	Zones() []entities.Zone
	Predict(ctx context.Context, req scheduler.PredictRequest) (scheduler.PredictResponse, error)
}

// EventRegistry lists events and applies organizer status changes.
type EventRegistry interface {
	List() []entities.Event
	SetStatus(ctx context.Context, id string, status entities.EventStatus, message string) (entities.Event, error)
}

type Gateway struct {
	cfg      Config
	pipeline Pipeline
	store    persistence.Store
	events   EventRegistry
	metrics  *observability.Metrics
	now      func() time.Time
	log      zerolog.Logger
}

// NewGateway wires the handlers; store, events and metrics may be nil.
func NewGateway(cfg Config, p Pipeline, store persistence.Store, events EventRegistry, m *observability.Metrics) *Gateway {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Second
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	return &Gateway{
		cfg:      cfg,
		pipeline: p,
		store:    store,
		events:   events,
		metrics:  m,
		now:      time.Now,
		log:      logger.For("gateway"),
	}
}

// Router returns the mux with every route registered, wrapped in CORS and
// access logging.
func (g *Gateway) Router() http.Handler {
	r := mux.NewRouter()

	g.handle(r, "/live-data", g.HandleLiveData, http.MethodGet)
	g.handle(r, "/predictions", g.HandlePredictions, http.MethodGet)
	g.handle(r, "/alerts", g.HandleAlerts, http.MethodGet)
	g.handle(r, "/predict", g.HandlePredict, http.MethodPost)
	g.handle(r, "/zones", g.HandleZones, http.MethodGet)
	g.handle(r, "/events", g.HandleEvents, http.MethodGet)
	g.handle(r, "/events/{id}/status", g.HandleEventStatus, http.MethodPut)
	g.handle(r, "/healthz", g.HandleHealth, http.MethodGet)
	g.handle(r, "/readyz", g.HandleReady, http.MethodGet)
	r.Handle("/metrics", g.metrics.Handler()).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	cors := handlers.CORS(
		handlers.AllowedOrigins(g.cfg.CORSOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)
	access := g.log.With().Str("stream", "access").Logger()
	return handlers.LoggingHandler(access, cors(r))
}

func (g *Gateway) handle(r *mux.Router, path string, fn http.HandlerFunc, methods ...string) {
	r.Handle(path, g.metrics.WrapHandler(path, fn)).Methods(methods...)
}
