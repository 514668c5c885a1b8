package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/avelin/cexarb/internal/domain"
	"github.com/avelin/cexarb/internal/tracker"
)

// peakHold keeps both fresh legs pinned at the book peak for the configured
// dwell window, requoting whenever the top drifts more than half a tick away.
// A patient quote at the peak often extracts a maker fill where the
// escalation ladder would have crossed the spread.
//
// Returns done=true when both legs filled during the hold. Otherwise the pair
// is rewritten in place with per-leg remainders and refreshed prices, ready
// for the engine.
func (l *Loop) peakHold(ctx context.Context, pair *domain.LegPair) (bool, error) {
	deadline := time.Now().Add(l.cfg.PeakHoldWindow)

	var filledA, filledB float64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		filledA, err = l.holdLeg(gctx, pair.Symbol, pair.LegA, pair.TargetQty, deadline)
		return err
	})
	g.Go(func() error {
		var err error
		filledB, err = l.holdLeg(gctx, pair.Symbol, pair.LegB, pair.TargetQty, deadline)
		return err
	})
	if err := g.Wait(); err != nil {
		return false, err
	}

	remA := pair.TargetQty - filledA
	remB := pair.TargetQty - filledB
	if remA <= l.cfg.MinQty && remB <= l.cfg.MinQty {
		l.logger.Info("peak hold filled both legs",
			slog.String("pair_id", pair.ID),
			slog.Float64("qty", pair.TargetQty))
		return true, nil
	}

	pair.QtyA = remA
	pair.QtyB = remB
	l.refreshLegPrice(ctx, &pair.LegA)
	l.refreshLegPrice(ctx, &pair.LegB)
	l.logger.Info("peak hold window over, escalating remainders",
		slog.String("pair_id", pair.ID),
		slog.Float64("remainder_a", remA),
		slog.Float64("remainder_b", remB))
	return false, nil
}

// holdLeg maintains one leg at the peak until the deadline and returns the
// cumulative fill across all requotes.
func (l *Loop) holdLeg(ctx context.Context, symbol string, spec domain.LegSpec, qty float64, deadline time.Time) (float64, error) {
	client, err := l.pool.Get(spec.Venue)
	if err != nil {
		return 0, fmt.Errorf("strategy: %w", err)
	}
	tickStr, err := client.GetTickSize(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("strategy: tick size %s: %w", spec.Venue, err)
	}
	tick, err := decimal.NewFromString(tickStr)
	if err != nil {
		return 0, fmt.Errorf("strategy: tick size %q: %w", tickStr, err)
	}
	halfTick := tick.Div(decimal.NewFromInt(2))

	ack, err := client.PlaceLimitOrder(ctx, symbol, spec.Side, spec.Price, qty)
	if err != nil {
		return 0, fmt.Errorf("strategy: peak hold place on %s: %w", spec.Venue, err)
	}

	var total float64
	orderID := ack.OrderID
	orderQty := qty
	price := decimal.NewFromFloat(spec.Price)

	ticker := time.NewTicker(l.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		expired := !time.Now().Before(deadline)
		if !expired {
			select {
			case <-ctx.Done():
				expired = true
			case <-ticker.C:
			}
		}
		if expired {
			filled, err := l.settleHeldOrder(ctx, client, symbol, orderID, orderQty)
			if err != nil {
				return total, err
			}
			return total + filled, nil
		}

		status, err := client.GetOrderStatus(ctx, symbol, orderID)
		if err == nil && strings.EqualFold(status.State, string(domain.FillStatusFilled)) {
			return total + orderQty, nil
		}

		desired, ok := l.peakPrice(ctx, spec.Venue, symbol, spec.Side, tick)
		if !ok || desired.Sub(price).Abs().LessThanOrEqual(halfTick) {
			continue
		}

		// Requote: cancel, bank whatever filled, place the rest at the peak.
		filled, err := l.settleHeldOrder(ctx, client, symbol, orderID, orderQty)
		if err != nil {
			return total, err
		}
		total += filled
		remaining := qty - total
		if remaining <= l.cfg.MinQty {
			return total, nil
		}

		px, _ := desired.Float64()
		ack, err = client.PlaceLimitOrder(ctx, symbol, spec.Side, px, remaining)
		if err != nil {
			return total, fmt.Errorf("strategy: peak requote on %s: %w", spec.Venue, err)
		}
		orderID = ack.OrderID
		orderQty = remaining
		price = desired
	}
}

// settleHeldOrder cancels a held order and returns its final fill. A benign
// non-OK outcome (already filled, not found) is resolved by the status
// re-read, same as the engine's cancel protocol.
func (l *Loop) settleHeldOrder(ctx context.Context, client domain.ExchangeClient, symbol, orderID string, orderQty float64) (float64, error) {
	// Detached so a shutdown still takes the order off the book.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	outcome, err := client.CancelOrder(ctx, symbol, orderID)
	if err != nil {
		return 0, fmt.Errorf("strategy: peak hold cancel: %w", err)
	}
	if !outcome.Benign() {
		return 0, fmt.Errorf("strategy: peak hold cancel unresolved: %s", outcome.Message)
	}

	status, err := client.GetOrderStatus(ctx, symbol, orderID)
	if err != nil {
		// Gone entirely; the position check downstream catches any fill we
		// missed here.
		l.logger.Warn("held order vanished after cancel",
			slog.String("order_id", orderID),
			slog.Any("error", err))
		return 0, nil
	}
	if _, perr := strconv.ParseFloat(strings.TrimSpace(status.FillSz), 64); perr != nil &&
		!strings.EqualFold(status.State, string(domain.FillStatusFilled)) {
		// A garbled fill field on an order that did not fill banks nothing;
		// the position check downstream reconciles any fill missed here.
		return 0, nil
	}
	return tracker.ExtractFillSize(status.FillSz, orderQty), nil
}

// peakPrice is the passive quote one tick inside the top of the book: a long
// bids one tick above the best bid (without crossing the ask), a short offers
// one tick below the best ask.
func (l *Loop) peakPrice(ctx context.Context, venue, symbol string, side domain.Side, tick decimal.Decimal) (decimal.Decimal, bool) {
	snap, err := l.books.GetSnapshot(ctx, venue, symbol)
	if err != nil || !snap.Ready() {
		return decimal.Zero, false
	}
	bid := decimal.NewFromFloat(snap.BestBid().Price)
	ask := decimal.NewFromFloat(snap.BestAsk().Price)

	if side == domain.SideLong {
		desired := bid.Add(tick)
		if desired.GreaterThanOrEqual(ask) {
			desired = bid
		}
		return desired, true
	}
	desired := ask.Sub(tick)
	if desired.LessThanOrEqual(bid) {
		desired = ask
	}
	return desired, true
}

// refreshLegPrice moves a leg's passive price to the current best-opposing
// quote before the engine takes over; the dwell window may have moved the
// book well away from the original trigger prices.
func (l *Loop) refreshLegPrice(ctx context.Context, spec *domain.LegSpec) {
	snap, err := l.books.GetSnapshot(ctx, spec.Venue, l.cfg.Symbol)
	if err != nil || !snap.Ready() {
		return
	}
	if spec.Side == domain.SideLong {
		spec.Price = snap.BestAsk().Price
	} else {
		spec.Price = snap.BestBid().Price
	}
}
