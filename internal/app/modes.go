package app

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/avelin/cexarb/internal/feed"
	"github.com/avelin/cexarb/internal/notify"
	"github.com/avelin/cexarb/internal/strategy"
)

// errModeDone signals the errgroup that the mode finished its work and the
// feed runners should wind down.
var errModeDone = errors.New("app: mode complete")

// strategyConfig maps the trading section onto the strategy package's config.
func (a *App) strategyConfig() strategy.Config {
	t := a.cfg.Trading
	return strategy.Config{
		Symbol:         t.Symbol,
		VenueA:         t.VenueA,
		VenueB:         t.VenueB,
		Margin:         t.Margin,
		Leverage:       t.Leverage,
		MarginMode:     t.MarginMode,
		Parts:          t.Parts,
		MinSpreadPct:   t.MinSpreadPct,
		TargetROIPct:   t.TargetROIPct,
		StopLossPct:    t.StopLossPct,
		PeakHold:       t.PeakHold,
		PeakHoldWindow: t.PeakHoldWindow.Duration,
		ScanInterval:   t.ScanInterval.Duration,
		CloseInterval:  t.CloseInterval.Duration,
		MinQty:         a.cfg.Engine.MinQty,
	}
}

// startFeeds launches one market data runner per trading venue into g.
func (a *App) startFeeds(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	for _, venue := range []string{a.cfg.Trading.VenueA, a.cfg.Trading.VenueB} {
		client, err := deps.Pool.Get(venue)
		if err != nil {
			return fmt.Errorf("app: feeds: %w", err)
		}
		runner := feed.NewRunner(
			client,
			a.cfg.Trading.Symbol,
			deps.Books,
			deps.Orders,
			deps.Fills,
			deps.Telemetry,
			a.logger,
		)
		g.Go(func() error { return runner.Run(ctx) })
	}
	return nil
}

// TradeMode opens the position: market data feeds plus the tranche loop. It
// returns once every tranche is filled and verified, or with the error that
// halted trading.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	loop := strategy.NewLoop(
		a.strategyConfig(),
		deps.Pool,
		deps.Books,
		deps.Engine,
		deps.Recon,
		deps.Locks,
		a.logger,
	)

	g, gctx := errgroup.WithContext(ctx)
	if err := a.startFeeds(gctx, g, deps); err != nil {
		return err
	}
	g.Go(func() error {
		if err := loop.Run(gctx); err != nil {
			if !errors.Is(err, context.Canceled) {
				deps.Notifier.Halted(gctx, a.cfg.Trading.Symbol, err)
			}
			return err
		}
		_ = deps.Notifier.Notify(gctx, notify.EventTradeOpened, "Position opened",
			fmt.Sprintf("%s fully opened on %s/%s",
				a.cfg.Trading.Symbol, a.cfg.Trading.VenueA, a.cfg.Trading.VenueB))
		return errModeDone
	})

	return waitMode(g)
}

// CloseMode manages the open position until ROI target or stop loss closes it.
func (a *App) CloseMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting close mode")

	closer := strategy.NewCloser(
		a.strategyConfig(),
		deps.Pool,
		deps.Books,
		deps.Engine,
		deps.Recon,
		a.logger,
	)

	g, gctx := errgroup.WithContext(ctx)
	if err := a.startFeeds(gctx, g, deps); err != nil {
		return err
	}
	g.Go(func() error {
		if err := closer.Run(gctx); err != nil {
			if !errors.Is(err, context.Canceled) {
				deps.Notifier.Halted(gctx, a.cfg.Trading.Symbol, err)
			}
			return err
		}
		deps.Notifier.PositionClosed(gctx, a.cfg.Trading.Symbol)
		return errModeDone
	})

	return waitMode(g)
}

// MonitorMode runs the read-only position and spread reporter until cancelled.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	monitor := strategy.NewMonitor(a.strategyConfig(), deps.Pool, deps.Books, a.logger)

	g, gctx := errgroup.WithContext(ctx)
	if err := a.startFeeds(gctx, g, deps); err != nil {
		return err
	}
	g.Go(func() error { return monitor.Run(gctx) })

	return waitMode(g)
}

// FlattenMode force-closes every open position on both venues with market
// orders. It needs no market data feeds.
func (a *App) FlattenMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting flatten mode")

	if err := deps.Recon.EmergencyCloseAll(ctx, a.cfg.Trading.Symbol); err != nil {
		deps.Notifier.Halted(ctx, a.cfg.Trading.Symbol, err)
		return fmt.Errorf("app: flatten: %w", err)
	}
	deps.Notifier.PositionClosed(ctx, a.cfg.Trading.Symbol)
	return nil
}

// waitMode collapses the group result: the done sentinel is a clean exit.
func waitMode(g *errgroup.Group) error {
	if err := g.Wait(); err != nil && !errors.Is(err, errModeDone) {
		return err
	}
	return nil
}
