package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/neocache/pkg/cachemanager"
	"github.com/wisbric/neocache/pkg/healthcheck"
)

// ManagerProvider resolves a namespace to its cachemanager.Manager,
// building one on demand. Implemented by internal/app.ManagerRegistry.
type ManagerProvider interface {
	Manager(ctx context.Context, namespace, tenantID string) (*cachemanager.Manager, error)
}

// Server holds the HTTP server dependencies.
type Server struct {
	Router  *chi.Mux
	Logger  *slog.Logger
	DB      *pgxpool.Pool
	Redis   *redis.Client
	Metrics *prometheus.Registry
	Health  *healthcheck.Checker

	Managers ManagerProvider
	Deps     Dependencies

	startedAt time.Time
}

// Dependencies bundles every optional subsystem a cache-operation handler
// may reach for. Nil fields disable the corresponding behavior.
type Dependencies struct {
	Invalidator    InvalidatorAPI
	Distributor    DistributorAPI
	Validator      ValidatorAPI
	ControlPlane   ControlPlaneAPI
	EventPublisher EventPublisherAPI
}

// NewServer creates an HTTP server with middleware and health/metrics
// endpoints. Domain handlers are mounted by RegisterCacheRoutes and
// RegisterAdminRoutes.
func NewServer(corsOrigins []string, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry, health *healthcheck.Checker, managers ManagerProvider, deps Dependencies) *Server {
	s := &Server{
		Router:    chi.NewRouter(),
		Logger:    logger,
		DB:        db,
		Redis:     rdb,
		Metrics:   metricsReg,
		Health:    health,
		Managers:  managers,
		Deps:      deps,
		startedAt: time.Now(),
	}

	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(Metrics)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Get("/readyz", s.handleReadyz)
	s.Router.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	s.RegisterCacheRoutes()
	s.RegisterAdminRoutes()

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if s.DB != nil {
		if err := s.DB.Ping(ctx); err != nil {
			s.Logger.Error("readiness check: control plane ping failed", "error", err)
			RespondError(w, http.StatusServiceUnavailable, "unavailable", "control plane not ready")
			return
		}
	}

	if err := s.Redis.Ping(ctx).Err(); err != nil {
		s.Logger.Error("readiness check: redis ping failed", "error", err)
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "redis not ready")
		return
	}

	Respond(w, http.StatusOK, map[string]string{"status": "ready"})
}
