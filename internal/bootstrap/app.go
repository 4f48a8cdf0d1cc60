// Package bootstrap wires partprice components from configuration.
//
// Construction follows these phases:
//   - Phase 1: Telemetry - Prometheus registry and collectors
//   - Phase 2: Outbound - HTTP client, resilience wrapper, result cache
//   - Phase 3: Sources - adapters built from the sources list
//   - Phase 4: Catalog - memory or PostgreSQL store, stores seeded per source
//   - Phase 5: Services - reconciler, aggregator and orchestrator
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/north-cloud/partprice/infrastructure/circuitbreaker"
	infrahttp "github.com/jonesrussell/north-cloud/partprice/infrastructure/http"
	"github.com/jonesrussell/north-cloud/partprice/infrastructure/logger"
	infraredis "github.com/jonesrussell/north-cloud/partprice/infrastructure/redis"
	"github.com/jonesrussell/north-cloud/partprice/internal/aggregator"
	"github.com/jonesrussell/north-cloud/partprice/internal/cache"
	"github.com/jonesrussell/north-cloud/partprice/internal/catalog"
	"github.com/jonesrussell/north-cloud/partprice/internal/config"
	"github.com/jonesrussell/north-cloud/partprice/internal/orchestrator"
	"github.com/jonesrussell/north-cloud/partprice/internal/reconciler"
	"github.com/jonesrussell/north-cloud/partprice/internal/resilience"
	"github.com/jonesrussell/north-cloud/partprice/internal/source"
	"github.com/jonesrussell/north-cloud/partprice/internal/telemetry"
)

// ServiceName identifies the service in health responses and logs.
const ServiceName = "partprice"

const seedTimeout = 30 * time.Second

// App holds every wired component.
type App struct {
	Config *config.Config
	Logger logger.Logger

	Registry *prometheus.Registry
	Metrics  *telemetry.Metrics

	Wrapper     *resilience.Wrapper
	Cache       cache.Cache
	SearchCache *source.SearchCache
	Sources     *source.Registry

	Catalog      catalog.Store
	Reconciler   *reconciler.Reconciler
	Aggregator   *aggregator.Aggregator
	Orchestrator *orchestrator.Orchestrator

	db    *sqlx.DB
	redis *redis.Client
}

// New builds an App. Close releases what it opened.
func New(cfg *config.Config, log logger.Logger) (*App, error) {
	app := &App{Config: cfg, Logger: log}

	// Phase 1
	app.Registry = prometheus.NewRegistry()
	app.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	app.Metrics = telemetry.New(app.Registry)

	// Phase 2
	client := infrahttp.NewClient(&infrahttp.ClientConfig{UserAgent: cfg.Client.UserAgent})
	app.Wrapper = resilience.New(resilienceConfig(cfg.Resilience), log,
		resilience.WithObserver(app.Metrics),
		resilience.WithStateChange(app.circuitChanged),
	)
	if err := app.setupCache(); err != nil {
		return nil, err
	}
	app.SearchCache = source.NewSearchCache(app.Cache, cfg.Cache.TTL(), cfg.Cache.FoldKeys, log)

	// Phase 3
	adapters, err := BuildAdapters(cfg, client, app.Wrapper, app.Cache, log)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	for i, a := range adapters {
		adapters[i] = app.SearchCache.Wrap(a)
	}
	if app.Sources, err = source.NewRegistry(adapters...); err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("register sources: %w", err)
	}

	// Phase 4
	if err = app.setupCatalog(); err != nil {
		_ = app.Close()
		return nil, err
	}

	// Phase 5
	app.Reconciler = reconciler.New(log)
	app.Aggregator = aggregator.New(app.Sources, log,
		aggregator.WithDefaultLimit(cfg.Aggregator.DefaultLimit),
		aggregator.WithTelemetry(app.Metrics),
	)
	app.Orchestrator = orchestrator.New(orchestratorConfig(cfg), app.Catalog, app.Sources, app.Reconciler, log,
		orchestrator.WithInvalidator(app.SearchCache),
		orchestrator.WithTelemetry(app.Metrics),
	)

	log.Info("Application wired",
		logger.Int("sources", len(adapters)),
		logger.String("catalog", cfg.Database.Driver),
		logger.Bool("redis", cfg.Redis.Enabled),
	)
	return app, nil
}

func (a *App) circuitChanged(host string, from, to circuitbreaker.State) {
	a.Metrics.OnCircuitStateChange(host, from, to)
	a.Logger.Warn("Circuit state changed",
		logger.Host(host),
		logger.String("from", from.String()),
		logger.String("to", to.String()),
	)
}

func (a *App) setupCache() error {
	if !a.Config.Redis.Enabled {
		a.Cache = cache.NewMemory()
		return nil
	}
	client, err := infraredis.NewClient(a.Config.Redis.Client())
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	a.redis = client
	a.Cache = cache.NewRedis(client, a.Config.Redis.Namespace, a.Logger)
	return nil
}

func (a *App) setupCatalog() error {
	switch a.Config.Database.Driver {
	case config.DriverPostgres:
		db, err := catalog.NewPostgresConnection(a.Config.Database.DSN)
		if err != nil {
			return err
		}
		a.db = db
		a.Catalog = catalog.NewPostgres(db)
	default:
		a.Catalog = catalog.NewMemory()
	}

	ctx, cancel := context.WithTimeout(context.Background(), seedTimeout)
	defer cancel()

	for _, s := range a.Config.Sources {
		if !s.Enabled {
			continue
		}
		if _, err := a.Catalog.EnsureStore(ctx, s.Name, s.BaseURL); err != nil {
			return fmt.Errorf("seed store %s: %w", s.Name, err)
		}
	}
	return nil
}

// Close releases the catalog and Redis connections.
func (a *App) Close() error {
	var errs []error
	if a.Catalog != nil {
		errs = append(errs, a.Catalog.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}

func resilienceConfig(c config.ResilienceConfig) resilience.Config {
	return resilience.Config{
		Timeout:          time.Duration(c.Timeout) * time.Second,
		MaxRetries:       c.MaxRetries,
		RetryBaseDelay:   time.Duration(c.RetryBaseDelay) * time.Second,
		FailureThreshold: c.FailureThreshold,
		Cooldown:         time.Duration(c.Cooldown) * time.Second,
	}
}

func orchestratorConfig(cfg *config.Config) orchestrator.Config {
	delays := make(map[string]time.Duration)
	for _, s := range cfg.Sources {
		if s.DelayMs > 0 {
			delays[s.Name] = s.Delay()
		}
	}
	return orchestrator.Config{
		CycleInterval:   cfg.Orchestrator.Interval(),
		DefaultDelay:    cfg.Orchestrator.DefaultDelay(),
		BulkParallelism: cfg.Orchestrator.BulkParallelism,
		SourceDelays:    delays,
	}
}
