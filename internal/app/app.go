// Package app wires together every neocache subsystem — repository,
// serializer, invalidator, distributor, token validator, control plane,
// audit, event publishing, health checks — behind the HTTP server.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/wisbric/neocache/internal/config"
	"github.com/wisbric/neocache/internal/httpserver"
	"github.com/wisbric/neocache/internal/platform"
	"github.com/wisbric/neocache/internal/telemetry"
	"github.com/wisbric/neocache/pkg/audit"
	"github.com/wisbric/neocache/pkg/controlplane"
	"github.com/wisbric/neocache/pkg/distributor"
	"github.com/wisbric/neocache/pkg/eventpublisher"
	"github.com/wisbric/neocache/pkg/eventpublisher/sink"
	"github.com/wisbric/neocache/pkg/healthcheck"
	"github.com/wisbric/neocache/pkg/invalidator"
	"github.com/wisbric/neocache/pkg/repository"
	"github.com/wisbric/neocache/pkg/serializer"
	"github.com/wisbric/neocache/pkg/tokenvalidator"
	"github.com/wisbric/neocache/pkg/tokenvalidator/provider"
)

// Run builds every subsystem from cfg and serves HTTP until ctx is
// cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.OTLPEndpoint, "neocache", cfg.ServiceVersion)
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer", "error", err)
		}
	}()

	pool, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to control plane database: %w", err)
	}
	defer pool.Close()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running control plane migrations: %w", err)
	}

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer rdb.Close()

	store := controlplane.New(pool, logger)

	repo := repository.NewRedisRepository(rdb, "neocache", logger)

	ser, err := serializer.New(cfg.SerializerFormat, serializer.DefaultCompressionOptions)
	if err != nil {
		return fmt.Errorf("constructing serializer: %w", err)
	}

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	inv := invalidator.New(repo, invalidator.Config{}, logger)
	go inv.Run(ctx)
	defer inv.Close()

	dist := distributor.New(cfg.NodeID, cfg.NodeAddress, distributor.NewRedisTransport(rdb), distributor.Config{
		Cluster:                     cfg.ClusterName,
		HeartbeatInterval:           cfg.HeartbeatInterval,
		PartitionDetectionThreshold: cfg.PartitionDetectionThreshold,
		NodeTimeout:                 cfg.NodeTimeout,
		BroadcastDeadline:           cfg.BroadcastDeadline,
		CleanupInterval:             cfg.ClusterCleanupInterval,
	}, distributor.LatestTimestampResolver, logger)
	go func() {
		if err := dist.Run(ctx); err != nil {
			logger.Error("distributor stopped", "error", err)
		}
	}()
	defer dist.Close()

	auditWriter := audit.NewWriter(pool, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	eventSink := buildEventSink(cfg, logger)
	publisher := eventpublisher.New(eventSink, eventpublisher.Config{}, telemetry.EventsPublishedTotal, telemetry.EventsPublishFailedTotal, logger)
	go publisher.Run(ctx)
	defer publisher.Close()

	registry := NewManagerRegistry(repo, ser, inv, dist, store, cfg, logger)

	health := healthcheck.New(5*time.Second,
		healthcheck.NewRepositoryProbe("redis", repo),
		healthcheck.NewPingerProbe("control-plane", store),
		healthcheck.NewSerializerProbe("serializer", ser),
	)

	var validator *tokenvalidator.Validator
	if cfg.OIDCConfigured() {
		resolver := provider.RealmResolver(func(realm string) (provider.RealmConfig, bool) {
			if realm != cfg.OIDCRealm {
				return provider.RealmConfig{}, false
			}
			return provider.RealmConfig{
				IssuerURL:    cfg.OIDCIssuerURL,
				ClientID:     cfg.OIDCClientID,
				ClientSecret: cfg.OIDCClientSecret,
			}, true
		})
		oidcProvider := provider.New(resolver, http.DefaultClient, logger)
		cache := tokenvalidator.NewRedisCache(rdb)
		validator = tokenvalidator.New(cache, oidcProvider, tokenvalidator.Config{}, logger)
	}

	deps := httpserver.Dependencies{
		Invalidator:    inv,
		Distributor:    dist,
		ControlPlane:   store,
		EventPublisher: publisher,
	}
	if validator != nil {
		deps.Validator = validator
	}

	srv := httpserver.NewServer(cfg.CORSAllowedOrigins, logger, pool, rdb, metricsReg, health, registry, deps)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
}

func buildEventSink(cfg *config.Config, logger *slog.Logger) eventpublisher.Sink {
	if cfg.SlackBotToken != "" {
		slackSink := sink.NewSlackSink(cfg.SlackBotToken, cfg.SlackEventChannel, logger)
		if slackSink.IsEnabled() {
			return slackSink
		}
	}
	return sink.NewLogSink(logger)
}
