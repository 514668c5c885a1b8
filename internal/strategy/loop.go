package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/avelin/cexarb/internal/domain"
	"github.com/avelin/cexarb/internal/exchange"
	"github.com/avelin/cexarb/internal/execution"
)

// lockTTL bounds how long a crashed instance can block its venue pair.
const lockTTL = 5 * time.Minute

// Config is the strategy-level tuning, mapped from the trading section of the
// process config.
type Config struct {
	Symbol     string
	VenueA     string
	VenueB     string
	Margin     float64
	Leverage   int
	MarginMode string
	// Parts splits the total position into this many sequential tranches.
	Parts        int
	MinSpreadPct float64
	TargetROIPct float64
	StopLossPct  float64
	// PeakHold keeps freshly placed legs requoted at the book peak for
	// PeakHoldWindow before handing remainders to the escalation ladder.
	PeakHold       bool
	PeakHoldWindow time.Duration
	ScanInterval   time.Duration
	CloseInterval  time.Duration
	// MinQty is the dust threshold shared with the engine.
	MinQty float64
}

// Loop accumulates the position in tranches: scan for spread, execute one leg
// pair, verify positions, repeat.
type Loop struct {
	cfg     Config
	pool    *exchange.Pool
	books   domain.BookStore
	scanner *Scanner
	engine  *execution.Engine
	recon   *execution.Reconciler
	locks   domain.LockManager
	logger  *slog.Logger
}

func NewLoop(
	cfg Config,
	pool *exchange.Pool,
	books domain.BookStore,
	engine *execution.Engine,
	recon *execution.Reconciler,
	locks domain.LockManager,
	logger *slog.Logger,
) *Loop {
	return &Loop{
		cfg:     cfg,
		pool:    pool,
		books:   books,
		scanner: NewScanner(books, cfg.VenueA, cfg.VenueB, cfg.Symbol, cfg.MinSpreadPct, logger),
		engine:  engine,
		recon:   recon,
		locks:   locks,
		logger:  logger.With(slog.String("component", "strategy_loop")),
	}
}

// Run opens the position in cfg.Parts tranches and returns once all tranches
// are filled and verified. Only one instance may trade a venue pair at a
// time; the distributed lock enforces that across processes.
func (l *Loop) Run(ctx context.Context) error {
	unlock, err := l.locks.Acquire(ctx, l.lockKey(), lockTTL)
	if err != nil {
		return fmt.Errorf("strategy: acquire trade lock: %w", err)
	}
	defer unlock()

	if err := l.setupLeverage(ctx); err != nil {
		return err
	}

	// Cumulative expected signed position per venue, grown tranche by
	// tranche; the post-open verification checks venues against these.
	expected := map[string]float64{}

	for step := 1; step <= l.cfg.Parts; step++ {
		opp, err := l.waitForSpread(ctx)
		if err != nil {
			return err
		}

		qty, err := l.trancheQty(ctx, *opp)
		if err != nil {
			return err
		}
		if qty <= l.cfg.MinQty {
			return fmt.Errorf("strategy: tranche quantity %v below minimum, check margin/parts", qty)
		}

		l.logger.Info("spread triggered",
			slog.Int("step", step),
			slog.Float64("spread_pct", opp.Spread*100),
			slog.String("long", opp.LongVenue),
			slog.String("short", opp.ShortVenue),
			slog.Float64("qty", qty))

		pair := domain.LegPair{
			ID:        uuid.New().String(),
			Symbol:    l.cfg.Symbol,
			LegA:      domain.LegSpec{Venue: opp.LongVenue, Side: domain.SideLong, Price: opp.LongPrice},
			LegB:      domain.LegSpec{Venue: opp.ShortVenue, Side: domain.SideShort, Price: opp.ShortPrice},
			TargetQty: qty,
		}

		if l.cfg.PeakHold {
			done, err := l.peakHold(ctx, &pair)
			if err != nil {
				return err
			}
			if done {
				expected[opp.LongVenue] += qty
				expected[opp.ShortVenue] -= qty
				if err := l.verifyStep(ctx, qty, expected); err != nil {
					return err
				}
				continue
			}
			// pair now carries per-leg remainders; fall through to the
			// engine for the rest.
		}

		res := l.engine.Execute(ctx, pair)
		if !res.Success {
			return fmt.Errorf("strategy: tranche %d failed (%s): %s", step, res.ActionTaken, res.Err)
		}

		expected[opp.LongVenue] += qty
		expected[opp.ShortVenue] -= qty
		if err := l.verifyStep(ctx, qty, expected); err != nil {
			return err
		}
	}

	l.logger.Info("position fully accumulated", slog.Int("parts", l.cfg.Parts))
	return nil
}

// waitForSpread polls the scanner until an opportunity appears. Book-not-ready
// errors are expected at startup and waited out.
func (l *Loop) waitForSpread(ctx context.Context) (*Opportunity, error) {
	ticker := time.NewTicker(l.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		opp, err := l.scanner.Scan(ctx)
		if err != nil {
			l.logger.Debug("scan skipped", slog.Any("error", err))
		} else if opp != nil {
			return opp, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// verifyStep gates the next tranche on the post-open position check.
func (l *Loop) verifyStep(ctx context.Context, trancheQty float64, expected map[string]float64) error {
	intents := []execution.VenueIntent{
		{Venue: l.cfg.VenueA, Expected: expected[l.cfg.VenueA]},
		{Venue: l.cfg.VenueB, Expected: expected[l.cfg.VenueB]},
	}
	if err := l.recon.VerifyAfterOpen(ctx, l.cfg.Symbol, trancheQty, intents); err != nil {
		return fmt.Errorf("strategy: tranche blocked: %w", err)
	}
	return nil
}

// trancheQty sizes one tranche: margin * leverage / parts notional, converted
// at the cross-venue mid, rounded down to the coarser of the two venues'
// quantity precisions so both legs carry an identical size.
func (l *Loop) trancheQty(ctx context.Context, opp Opportunity) (float64, error) {
	longClient, err := l.pool.Get(opp.LongVenue)
	if err != nil {
		return 0, fmt.Errorf("strategy: %w", err)
	}
	shortClient, err := l.pool.Get(opp.ShortVenue)
	if err != nil {
		return 0, fmt.Errorf("strategy: %w", err)
	}

	mid := (opp.LongPrice + opp.ShortPrice) / 2
	if mid <= 0 {
		return 0, fmt.Errorf("strategy: degenerate mid price %v", mid)
	}
	notional := l.cfg.Margin * float64(l.cfg.Leverage) / float64(l.cfg.Parts)

	longInfo, err := longClient.GetSymbolInfo(ctx, l.cfg.Symbol)
	if err != nil {
		return 0, fmt.Errorf("strategy: symbol info %s: %w", opp.LongVenue, err)
	}
	shortInfo, err := shortClient.GetSymbolInfo(ctx, l.cfg.Symbol)
	if err != nil {
		return 0, fmt.Errorf("strategy: symbol info %s: %w", opp.ShortVenue, err)
	}
	precision := longInfo.QuantityPrecision
	if shortInfo.QuantityPrecision < precision {
		precision = shortInfo.QuantityPrecision
	}

	qty := decimal.NewFromFloat(notional / mid).RoundDown(int32(precision))
	out, _ := qty.Float64()
	return out, nil
}

// setupLeverage applies the configured leverage and margin mode on both
// venues before the first order.
func (l *Loop) setupLeverage(ctx context.Context) error {
	for _, venue := range []string{l.cfg.VenueA, l.cfg.VenueB} {
		client, err := l.pool.Get(venue)
		if err != nil {
			return fmt.Errorf("strategy: %w", err)
		}
		if err := client.SetLeverage(ctx, l.cfg.Symbol, l.cfg.Leverage, l.cfg.MarginMode); err != nil {
			return fmt.Errorf("strategy: set leverage on %s: %w", venue, err)
		}
	}
	return nil
}

func (l *Loop) lockKey() string {
	return fmt.Sprintf("trade:%s-%s:%s", l.cfg.VenueA, l.cfg.VenueB, l.cfg.Symbol)
}
