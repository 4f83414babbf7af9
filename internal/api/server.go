// Package api implements the External API surface (§4.K / §6): a thin
// HTTP/JSON and WebSocket layer over the Registry Core, Subscription Bus,
// Propagation Engine, and Hot-Swap Manager. Handlers validate DTOs, call
// into those components, and map typed errors to status codes.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/R3E-Network/universal-registry/infrastructure/logging"
	inframetrics "github.com/R3E-Network/universal-registry/infrastructure/metrics"
	"github.com/R3E-Network/universal-registry/infrastructure/middleware"
	"github.com/R3E-Network/universal-registry/internal/bridge"
	"github.com/R3E-Network/universal-registry/internal/bus"
	"github.com/R3E-Network/universal-registry/internal/hotswap"
	"github.com/R3E-Network/universal-registry/internal/propagation"
	"github.com/R3E-Network/universal-registry/internal/registry"
	"github.com/R3E-Network/universal-registry/internal/streaming"
)

// Server wires every registry component behind the chi router.
type Server struct {
	Registry     *registry.Registry
	Bus          *bus.Bus
	Propagation  *propagation.Engine
	HotSwap      *hotswap.Manager
	Streaming    *streaming.Engine
	Bridge       *bridge.Bridge
	Health       *middleware.HealthChecker
	Metrics      *inframetrics.Metrics
	Log          *logging.Logger
	AuthVerifier BearerVerifier

	startedAt time.Time
}

// Config bundles a Server's dependencies.
type Config struct {
	Registry     *registry.Registry
	Bus          *bus.Bus
	Propagation  *propagation.Engine
	HotSwap      *hotswap.Manager
	Streaming    *streaming.Engine
	Bridge       *bridge.Bridge
	Health       *middleware.HealthChecker
	AuthVerifier BearerVerifier
}

// NewServer builds a Server from cfg.
func NewServer(cfg Config) *Server {
	return &Server{
		Registry:     cfg.Registry,
		Bus:          cfg.Bus,
		Propagation:  cfg.Propagation,
		HotSwap:      cfg.HotSwap,
		Streaming:    cfg.Streaming,
		Bridge:       cfg.Bridge,
		Health:       cfg.Health,
		Metrics:      inframetrics.Global(),
		Log:          logging.NewFromEnv("registry-api"),
		AuthVerifier: cfg.AuthVerifier,
		startedAt:    time.Now(),
	}
}

// Router builds the full /v1 route tree with the ambient middleware chain.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(s.Log).Handler)
	r.Use(middleware.LoggingMiddleware(s.Log))
	r.Use(middleware.MetricsMiddleware("registry-api", s.Metrics))
	r.Use(middleware.NewSecurityHeadersMiddleware(middleware.DefaultSecurityHeaders()).Handler)
	r.Use(middleware.NewCORSMiddleware(&middleware.CORSConfig{AllowedOrigins: []string{"*"}}).Handler)
	r.Use(middleware.NewTimeoutMiddleware(30 * time.Second).Handler)
	r.Use(middleware.NewBodyLimitMiddleware(4 << 20).Handler)

	rl := middleware.NewRateLimiterFromConfig(middleware.DefaultRateLimiterConfig(s.Log))
	r.Use(rl.Handler)

	r.Get("/v1/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/v1/registry/health", s.Health.Handler())

	r.Route("/v1/registry", func(rr chi.Router) {
		if s.AuthVerifier != nil {
			rr.Use(s.requireBearer)
		}
		rr.Get("/entries", s.listEntries)
		rr.Post("/entries", s.createEntry)
		rr.Get("/entries/{id}", s.getEntry)
		rr.Put("/entries/{id}", s.replaceEntry)
		rr.Patch("/entries/{id}", s.patchEntry)
		rr.Delete("/entries/{id}", s.deleteEntry)

		rr.Post("/search", s.search)
		rr.Post("/relationships", s.addRelationship)
		rr.Post("/propagate", s.propagate)
		rr.Post("/hotswap", s.hotswap)
		rr.Get("/stats", s.stats)
	})

	r.Get("/v1/stream/{entry_id}", s.streamWS)

	return r
}
