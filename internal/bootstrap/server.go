package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	infragin "github.com/jonesrussell/north-cloud/partprice/infrastructure/gin"
	"github.com/jonesrussell/north-cloud/partprice/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/partprice/infrastructure/metrics"
	"github.com/jonesrussell/north-cloud/partprice/internal/api"
	"github.com/jonesrussell/north-cloud/partprice/internal/cache"
	"github.com/jonesrussell/north-cloud/partprice/internal/telemetry"
)

const cacheSweepInterval = time.Minute

// NewHTTPServer creates the API server with health checks and metrics.
func (a *App) NewHTTPServer(version string) *infragin.Server {
	serverCfg := a.Config.Server
	serverCfg.ServiceName = ServiceName
	serverCfg.ServiceVersion = version

	httpMetrics := metrics.NewHTTPMetrics(a.Registry, ServiceName)
	handler := api.NewHandler(a.Aggregator, a.Orchestrator, a.Wrapper.Breakers(), a.Logger)

	return infragin.NewServer(&serverCfg, a.Logger, func(router *gin.Engine) {
		router.Use(httpMetrics.Middleware())
		infragin.RegisterHealthRoutes(router, &serverCfg, a.healthChecks())
		api.SetupRoutes(router, handler, telemetry.Handler(a.Registry))
	})
}

func (a *App) healthChecks() map[string]infragin.HealthChecker {
	checks := make(map[string]infragin.HealthChecker)
	if a.db != nil {
		checks["database"] = func(ctx context.Context) infragin.CheckResult {
			if err := a.db.PingContext(ctx); err != nil {
				return infragin.CheckResult{Status: infragin.HealthStatusUnhealthy, Message: err.Error()}
			}
			return infragin.CheckResult{Status: infragin.HealthStatusHealthy}
		}
	}
	if a.redis != nil {
		// live searches still work uncached
		checks["redis"] = func(ctx context.Context) infragin.CheckResult {
			if err := a.redis.Ping(ctx).Err(); err != nil {
				return infragin.CheckResult{Status: infragin.HealthStatusDegraded, Message: err.Error()}
			}
			return infragin.CheckResult{Status: infragin.HealthStatusHealthy}
		}
	}
	checks["orchestrator"] = func(context.Context) infragin.CheckResult {
		return infragin.CheckResult{
			Status:  infragin.HealthStatusHealthy,
			Message: a.Orchestrator.State().String(),
		}
	}
	return checks
}

// Serve runs the HTTP server and, when enabled, the refresh loop until ctx
// is cancelled or either fails.
func (a *App) Serve(ctx context.Context, version string) error {
	server := a.NewHTTPServer(version)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Run(gctx)
	})

	if a.Config.Orchestrator.Enabled {
		g.Go(func() error {
			if err := a.Orchestrator.Run(gctx); err != nil {
				return fmt.Errorf("orchestrator: %w", err)
			}
			return nil
		})
	} else {
		a.Logger.Info("Refresh loop disabled")
	}

	if mem, ok := a.Cache.(*cache.Memory); ok {
		g.Go(func() error {
			sweep(gctx, mem, a.Logger)
			return nil
		})
	}

	return g.Wait()
}

func sweep(ctx context.Context, mem *cache.Memory, log logger.Logger) {
	ticker := time.NewTicker(cacheSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := mem.Sweep(); n > 0 {
				log.Debug("Swept expired cache entries", logger.Int("entries", n))
			}
		}
	}
}
