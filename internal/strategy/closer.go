package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/avelin/cexarb/internal/domain"
	"github.com/avelin/cexarb/internal/exchange"
	"github.com/avelin/cexarb/internal/execution"
)

// Closer polls the combined ROI of the open two-leg position and unwinds both
// legs through the engine once the target is reached or the stop-loss floor
// is breached.
type Closer struct {
	cfg    Config
	pool   *exchange.Pool
	books  domain.BookStore
	engine *execution.Engine
	recon  *execution.Reconciler
	logger *slog.Logger
}

func NewCloser(
	cfg Config,
	pool *exchange.Pool,
	books domain.BookStore,
	engine *execution.Engine,
	recon *execution.Reconciler,
	logger *slog.Logger,
) *Closer {
	return &Closer{
		cfg:    cfg,
		pool:   pool,
		books:  books,
		engine: engine,
		recon:  recon,
		logger: logger.With(slog.String("component", "closer")),
	}
}

// legState is one venue's open position plus the top of book needed to value
// and close it.
type legState struct {
	venue   string
	pos     *domain.Position
	bid     float64
	ask     float64
	bidSize float64
	askSize float64
}

// Run polls until the position is closed and verified flat, then returns.
func (c *Closer) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.CloseInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		done, err := c.tick(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

func (c *Closer) tick(ctx context.Context) (bool, error) {
	legA, err := c.readLeg(ctx, c.cfg.VenueA)
	if err != nil {
		c.logger.Debug("leg read skipped", slog.Any("error", err))
		return false, nil
	}
	legB, err := c.readLeg(ctx, c.cfg.VenueB)
	if err != nil {
		c.logger.Debug("leg read skipped", slog.Any("error", err))
		return false, nil
	}

	if legA.pos == nil && legB.pos == nil {
		c.logger.Info("both venues flat, nothing to close")
		return true, nil
	}
	// A one-sided position has no hedge and no computable ROI: flatten it
	// right away with the reconciler's corrective market orders.
	if legA.pos == nil || legB.pos == nil {
		c.logger.Warn("unhedged position detected, flattening now",
			slog.String("venue_a", describeLeg(legA)),
			slog.String("venue_b", describeLeg(legB)))
		venues := []string{c.cfg.VenueA, c.cfg.VenueB}
		if err := c.recon.VerifyAfterClose(ctx, c.cfg.Symbol, venues); err != nil {
			return false, fmt.Errorf("strategy: flatten unhedged leg: %w", err)
		}
		return true, nil
	}

	roi := legROI(legA) + legROI(legB)
	c.logger.Debug("roi",
		slog.Float64("total_pct", roi),
		slog.Float64("target_pct", c.cfg.TargetROIPct),
		slog.Float64("stop_pct", c.cfg.StopLossPct))

	switch {
	case roi >= c.cfg.TargetROIPct:
		c.logger.Info("roi target reached", slog.Float64("roi_pct", roi))
	case roi <= c.cfg.StopLossPct:
		c.logger.Warn("stop loss breached", slog.Float64("roi_pct", roi))
	default:
		return false, nil
	}

	return c.closeBoth(ctx, legA, legB)
}

// closeBoth unwinds both open legs through one reduce-only pair, then
// verifies both venues are flat. Both legs hold a position here.
func (c *Closer) closeBoth(ctx context.Context, legA, legB legState) (bool, error) {
	if !canAbsorbClose(legA) || !canAbsorbClose(legB) {
		c.logger.Warn("top of book too thin for close, waiting")
		return false, nil
	}

	pair := domain.LegPair{
		ID:         uuid.New().String(),
		Symbol:     c.cfg.Symbol,
		LegA:       closingSpec(legA),
		LegB:       closingSpec(legB),
		TargetQty:  legA.pos.Size,
		QtyA:       legA.pos.Size,
		QtyB:       legB.pos.Size,
		ReduceOnly: true,
	}
	if pair.QtyB > pair.TargetQty {
		pair.TargetQty = pair.QtyB
	}

	res := c.engine.Execute(ctx, pair)
	if !res.Success {
		return false, fmt.Errorf("strategy: close failed (%s): %s", res.ActionTaken, res.Err)
	}

	venues := []string{c.cfg.VenueA, c.cfg.VenueB}
	if err := c.recon.VerifyAfterClose(ctx, c.cfg.Symbol, venues); err != nil {
		return false, fmt.Errorf("strategy: post-close verification: %w", err)
	}
	c.logger.Info("position closed and verified flat")
	return true, nil
}

func (c *Closer) readLeg(ctx context.Context, venue string) (legState, error) {
	client, err := c.pool.Get(venue)
	if err != nil {
		return legState{}, fmt.Errorf("strategy: %w", err)
	}
	pos, err := client.GetPositionInfo(ctx, c.cfg.Symbol)
	if err != nil {
		return legState{}, fmt.Errorf("strategy: position %s: %w", venue, err)
	}
	snap, err := c.books.GetSnapshot(ctx, venue, c.cfg.Symbol)
	if err != nil {
		return legState{}, fmt.Errorf("strategy: book %s: %w", venue, err)
	}
	if !snap.Ready() {
		return legState{}, fmt.Errorf("strategy: %s: %w", venue, domain.ErrBookNotReady)
	}
	return legState{
		venue:   venue,
		pos:     pos,
		bid:     snap.BestBid().Price,
		ask:     snap.BestAsk().Price,
		bidSize: snap.BestBid().Size,
		askSize: snap.BestAsk().Size,
	}, nil
}

// canAbsorbClose reports whether the book side absorbing the close covers the
// position size: a long closes into the bids, a short into the asks.
func canAbsorbClose(leg legState) bool {
	if leg.pos.Side == domain.SideLong {
		return leg.bidSize >= leg.pos.Size
	}
	return leg.askSize >= leg.pos.Size
}

// legROI is the leg's unrealized return in percent at current book prices: a
// long exits into the bid, a short buys back at the ask.
func legROI(leg legState) float64 {
	if leg.pos == nil || leg.pos.EntryPrice <= 0 {
		return 0
	}
	if leg.pos.Side == domain.SideLong {
		return (leg.bid/leg.pos.EntryPrice - 1) * 100
	}
	if leg.ask <= 0 {
		return 0
	}
	return (leg.pos.EntryPrice/leg.ask - 1) * 100
}

// closingSpec builds the reduce-only leg that offsets an open position,
// quoted passively at the best-opposing price.
func closingSpec(leg legState) domain.LegSpec {
	if leg.pos.Side == domain.SideLong {
		// Selling out of a long rests at the ask.
		return domain.LegSpec{Venue: leg.venue, Side: domain.SideShort, Price: leg.ask}
	}
	return domain.LegSpec{Venue: leg.venue, Side: domain.SideLong, Price: leg.bid}
}

func describeLeg(leg legState) string {
	if leg.pos == nil {
		return leg.venue + ": flat"
	}
	return fmt.Sprintf("%s: %s %v @ %v", leg.venue, leg.pos.Side, leg.pos.Size, leg.pos.EntryPrice)
}
