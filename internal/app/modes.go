package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/bondvault/internal/server"
	"github.com/alanyoungcy/bondvault/internal/server/handler"
	"github.com/alanyoungcy/bondvault/internal/server/ws"
	"github.com/alanyoungcy/bondvault/internal/service"
)

// services bundles the domain services shared by the application modes.
type services struct {
	treasury *service.Treasury
	bonds    *service.BondManager
	staking  *service.StakingPool
	monitor  *service.SolvencyMonitor
}

// buildServices constructs the service layer on top of the wired dependencies.
func (a *App) buildServices(deps *Dependencies) *services {
	treasury := service.NewTreasury(
		deps.Registry, deps.StrategyStore, deps.TreasuryStore,
		deps.Oracle, deps.Roles, deps.EventBus, deps.AuditStore, a.logger,
	)
	bonds := service.NewBondManager(
		deps.BondStore, deps.RateStore, deps.TokenStore, deps.ClaimRegistry,
		treasury, deps.Roles, deps.LockManager, deps.EventBus, deps.AuditStore, a.logger,
	).WithLockTTL(a.cfg.Bonds.LockTTL.Duration)

	var staking *service.StakingPool
	if a.cfg.Staking.Enabled {
		staking = service.NewStakingPool(
			deps.StakingStore, deps.RewardLedger, deps.Roles,
			stakingPoolAccount, deps.EventBus, a.logger,
		)
	}

	var archiver service.ReportArchiver
	if deps.Archiver != nil {
		archiver = deps.Archiver
	}
	monitor := service.NewSolvencyMonitor(
		treasury, bonds, deps.EventBus, archiver, deps.Notifier,
		a.cfg.Solvency.Interval.Duration, a.logger,
	)

	return &services{treasury: treasury, bonds: bonds, staking: staking, monitor: monitor}
}

// ServeMode runs the HTTP + WebSocket API without the background solvency
// loop. Solvency reports remain available on demand via the API.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	svcs := a.buildServices(deps)
	a.startHTTPServer(ctx, g, deps, svcs)

	return g.Wait()
}

// MonitorMode runs the periodic solvency monitor. The HTTP server is started
// alongside it when enabled so reports can be inspected while it runs.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode",
		slog.Duration("interval", a.cfg.Solvency.Interval.Duration),
	)

	g, ctx := errgroup.WithContext(ctx)

	svcs := a.buildServices(deps)
	g.Go(func() error {
		err := svcs.monitor.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("solvency monitor: %w", err)
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svcs)
	}

	return g.Wait()
}

// FullMode runs the API and the solvency monitor together.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	svcs := a.buildServices(deps)
	g.Go(func() error {
		err := svcs.monitor.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("solvency monitor: %w", err)
	})

	a.startHTTPServer(ctx, g, deps, svcs)

	return g.Wait()
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	hub := ws.NewHub(deps.EventBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(a.logger),
		Status: handler.NewStatusHandler(a.cfg.Mode, deps.Registry, time.Now().UTC()),
		Bonds:  handler.NewBondHandler(svcs.bonds, a.logger),
		Admin:  handler.NewAdminHandler(svcs.bonds, svcs.treasury, a.logger),
		Treasury: handler.NewTreasuryHandler(
			svcs.treasury, svcs.monitor, deps.Reports, a.cfg.Solvency.ArchivePrefix, a.logger,
		),
	}
	if svcs.staking != nil {
		handlers.Staking = handler.NewStakingHandler(svcs.staking, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimiter: deps.RateLimiter,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.logger.InfoContext(ctx, "HTTP server shutting down")
		return srv.Shutdown(shutCtx)
	})
}
