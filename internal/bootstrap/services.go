package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/target/booking-session/config"
	"github.com/target/booking-session/internal/observability/statsd"
	"golang.org/x/sync/errgroup"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Session       *SessionComponents
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink   *statsd.Client
	MetricsConfig config.ObservabilityMetricsConfig
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// buildObservability configures the metrics sink. A sink that fails to dial
// is logged and replaced by a no-op client.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled:    true,
			Address:    cfg.Metrics.StatsdAddress,
			Prefix:     cfg.Metrics.Prefix,
			GlobalTags: cfg.Metrics.GlobalTags(),
			Logger:     obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	return ObservabilityContainer{
		MetricsSink:   metricsSink,
		MetricsConfig: cfg.Metrics,
	}
}

// NewServices builds the session subsystem on the configured storage backend.
func NewServices(ctx context.Context, deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service deps with config are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	obs := buildObservability(logger, deps.Config.Observability)

	store, err := BuildSessionStore(StorageDeps{
		Config:      deps.Config.Storage,
		DB:          deps.DB,
		RedisClient: deps.RedisClient,
		Logger:      logger,
	})
	if err != nil {
		return ServiceContainer{}, err
	}

	var sink statsd.Sink
	if obs.MetricsSink != nil {
		sink = obs.MetricsSink
	}
	session, err := BuildSession(ctx, AuthConfig{
		Auth:    deps.Config.Auth,
		Store:   store,
		Metrics: sink,
		Logger:  logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build session: %w", err)
	}

	return ServiceContainer{Session: session, Observability: obs}, nil
}

// ServiceOrchestrationConfig contains dependencies for running services.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

// stopGrace bounds how long services may take to return once shutdown begins.
const stopGrace = 15 * time.Second

// backgroundService describes a startable long-running component.
type backgroundService struct {
	mode config.ServiceMode
	name string
	run  func(context.Context) error
}

func backgroundServices(cfg *ServiceOrchestrationConfig, logger *slog.Logger) []backgroundService {
	session := cfg.Services.Session
	return []backgroundService{
		{
			mode: config.ServiceModeHTTP,
			name: "http server",
			run: func(ctx context.Context) error {
				srv, err := NewHTTPServer(&HTTPServerConfig{Config: cfg.Config, Session: session, Logger: logger})
				if err != nil {
					return err
				}
				return ServeHTTP(ctx, srv, cfg.Config.HTTP.ShutdownTimeout, logger)
			},
		},
		{
			mode: config.ServiceModeRefresher,
			name: "session refresher",
			run: func(ctx context.Context) error {
				return RunRefresher(ctx, session)
			},
		},
	}
}

// RunRefresher keeps the session fresh until ctx ends.
func RunRefresher(ctx context.Context, session *SessionComponents) error {
	if session == nil || session.Scheduler == nil {
		return errors.New("session scheduler is required")
	}
	return session.Scheduler.Run(ctx)
}

// hydrate performs the single startup restoration. Guards answer "checking"
// until it returns.
func hydrate(ctx context.Context, session *SessionComponents, logger *slog.Logger) {
	if session == nil {
		return
	}
	if err := session.Service.Hydrate(ctx); err != nil {
		logger.WarnContext(ctx, "session restore failed, starting signed out", "error", err)
		return
	}
	snap := session.Service.Snapshot()
	logger.InfoContext(ctx, "session restored", "authenticated", snap.Authenticated)
}

// RunServicesWithShutdown runs every enabled service until SIGINT/SIGTERM or
// until one of them fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return runServices(ctx, cfg)
}

// runServices starts the enabled services plus the background session restore
// in one errgroup. The first failure cancels the rest.
func runServices(ctx context.Context, cfg *ServiceOrchestrationConfig) error {
	if cfg == nil || cfg.Config == nil {
		return errors.New("service orchestration config with AppConfig is required")
	}
	if cfg.Services.Session == nil {
		return errors.New("service orchestration config missing session components")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabled, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	defer func() {
		if cerr := cfg.Services.Observability.MetricsSink.Close(); cerr != nil {
			logger.Warn("close metrics sink failed", "error", cerr)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hydrate(gctx, cfg.Services.Session, logger)
		return nil
	})
	for _, svc := range backgroundServices(cfg, logger) {
		if !enabled[svc.mode] {
			continue
		}
		g.Go(func() error {
			logger.InfoContext(gctx, "background service started", "service", svc.name, "mode", svc.mode)
			if err := svc.run(gctx); err != nil {
				return fmt.Errorf("%s failed: %w", svc.name, err)
			}
			logger.InfoContext(gctx, svc.name+" stopped")
			return nil
		})
	}

	return waitForShutdown(gctx, g, cfg.Config.HTTP.ShutdownTimeout+stopGrace, logger)
}

// waitForShutdown returns the group's result. Once shutdown has begun it
// waits at most grace for stragglers.
func waitForShutdown(ctx context.Context, g *errgroup.Group, grace time.Duration, logger *slog.Logger) error {
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		logger.Info("shutting down services...")
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			logger.Error("service error", "error", err)
		}
		return err
	case <-timer.C:
		logger.Warn("timeout waiting for services to stop", "grace", grace)
		return nil
	}
}
