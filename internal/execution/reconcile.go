package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/avelin/cexarb/internal/domain"
	"github.com/avelin/cexarb/internal/exchange"
)

// ReconcileConfig bounds how far venue positions may drift from intent before
// the reconciler reacts.
type ReconcileConfig struct {
	// AbsTolerance is the absolute position delta treated as noise.
	AbsTolerance float64
	// FailFraction of the tranche size is the delta that blocks further
	// trading. Deltas between tolerance and this fraction are logged only.
	FailFraction float64
	// ResidualMin is the smallest post-close residual worth a corrective
	// order.
	ResidualMin float64
}

// Reconciler checks venue positions against intent after opens and closes and
// issues corrective market orders when they disagree.
type Reconciler struct {
	pool   *exchange.Pool
	cfg    ReconcileConfig
	logger *slog.Logger
}

func NewReconciler(pool *exchange.Pool, cfg ReconcileConfig, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		pool:   pool,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "reconcile")),
	}
}

// VenueIntent is the expected signed position on one venue.
type VenueIntent struct {
	Venue    string
	Expected float64
}

// VerifyAfterOpen compares each venue's reported position against the
// expected signed size for a tranche of trancheQty. It returns a blocking
// error only when a delta exceeds FailFraction of the tranche; smaller
// drift inside the tolerance band is logged and tolerated.
func (r *Reconciler) VerifyAfterOpen(ctx context.Context, symbol string, trancheQty float64, intents []VenueIntent) error {
	failAt := r.cfg.FailFraction * trancheQty
	for _, in := range intents {
		client, err := r.pool.Get(in.Venue)
		if err != nil {
			return fmt.Errorf("execution: verify open: %w", err)
		}
		reported, err := signedPositionOf(ctx, client, symbol)
		if err != nil {
			return fmt.Errorf("execution: verify open %s: %w", in.Venue, err)
		}
		delta := reported - in.Expected

		switch {
		case absF(delta) <= r.cfg.AbsTolerance:
			// Within noise.
		case absF(delta) > failAt:
			r.logger.Error("position delta exceeds fail threshold",
				slog.String("venue", in.Venue),
				slog.Float64("reported", reported),
				slog.Float64("expected", in.Expected),
				slog.Float64("delta", delta))
			return fmt.Errorf("execution: %s position off by %v, expected %v got %v",
				in.Venue, delta, in.Expected, reported)
		default:
			r.logger.Warn("position delta within tolerance band",
				slog.String("venue", in.Venue),
				slog.Float64("delta", delta))
		}
	}
	return nil
}

// VerifyAfterClose checks that both venues are flat for symbol and flattens
// any residual above ResidualMin with a reduce-only market order.
func (r *Reconciler) VerifyAfterClose(ctx context.Context, symbol string, venues []string) error {
	var firstErr error
	for _, venue := range venues {
		client, err := r.pool.Get(venue)
		if err != nil {
			return fmt.Errorf("execution: verify close: %w", err)
		}
		residual, err := signedPositionOf(ctx, client, symbol)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("execution: verify close %s: %w", venue, err)
			}
			continue
		}
		if absF(residual) <= r.cfg.ResidualMin {
			continue
		}

		r.logger.Warn("residual position after close, flattening",
			slog.String("venue", venue),
			slog.Float64("residual", residual))
		if err := flattenPosition(ctx, client, symbol, residual); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("execution: flatten residual %s: %w", venue, err)
			}
		}
	}
	return firstErr
}

// EmergencyCloseAll market-closes every open position for symbol across all
// registered venues. Used by the flatten mode and as the last resort when a
// position check cannot be reconciled.
func (r *Reconciler) EmergencyCloseAll(ctx context.Context, symbol string) error {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	g, gctx := errgroup.WithContext(closeCtx)
	for _, name := range r.pool.Names() {
		client, err := r.pool.Get(name)
		if err != nil {
			continue
		}
		g.Go(func() error {
			signed, err := signedPositionOf(gctx, client, symbol)
			if err != nil {
				return fmt.Errorf("execution: emergency close %s: %w", client.Name(), err)
			}
			if signed == 0 {
				return nil
			}
			r.logger.Warn("emergency close",
				slog.String("venue", client.Name()),
				slog.Float64("position", signed))
			if err := flattenPosition(gctx, client, symbol, signed); err != nil {
				return fmt.Errorf("execution: emergency close %s: %w", client.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// flattenPosition issues the reduce-only market order that offsets a signed
// position: long residuals are sold, short residuals bought back.
func flattenPosition(ctx context.Context, client domain.ExchangeClient, symbol string, signed float64) error {
	side := domain.SideShort
	if signed < 0 {
		side = domain.SideLong
	}
	_, err := client.CloseMarketOrder(ctx, symbol, side, absF(signed))
	return err
}

func signedPositionOf(ctx context.Context, client domain.ExchangeClient, symbol string) (float64, error) {
	pos, err := client.GetPositionInfo(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if pos == nil {
		return 0, nil
	}
	return pos.SignedSize(), nil
}
