// Package execution drives dual-leg order pairs to completion. Each leg runs
// the same escalation ladder: passive limit, cancel and reprice one tick
// through the spread, cancel and sweep the remainder with a market order.
// After both legs settle locally the venue-reported positions are the ground
// truth; any gap between reported and expected triggers an emergency balance
// instead of an error escape.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/avelin/cexarb/internal/domain"
	"github.com/avelin/cexarb/internal/exchange"
	"github.com/avelin/cexarb/internal/telemetry"
	"github.com/avelin/cexarb/internal/tracker"
)

// Config holds the escalation timings and the dust threshold.
type Config struct {
	// PassiveWait is how long the initial limit order may rest, polled every
	// PassivePoll.
	PassiveWait time.Duration
	PassivePoll time.Duration
	// RepriceWait is how long the one-tick-through requote may rest, polled
	// every RepricePoll.
	RepriceWait time.Duration
	RepricePoll time.Duration
	// CancelRetryWait is the pause before the single cancel retry.
	CancelRetryWait time.Duration
	// MinQty is the smallest remainder worth another order; anything below it
	// is dust and counts as filled.
	MinQty float64
}

// Alerter receives the alerts that need an operator. Implemented by the
// notifier; nil disables alerting.
type Alerter interface {
	EmergencyBalance(ctx context.Context, res domain.ExecutionResult, symbol string)
}

// Engine executes leg pairs against the venue pool.
type Engine struct {
	pool    *exchange.Pool
	books   domain.BookStore
	orders  domain.OrderRecordStore
	fills   *tracker.FillTracker
	tel     *telemetry.Publisher
	history domain.ExecutionStore // optional
	alerts  Alerter               // optional
	cfg     Config
	logger  *slog.Logger
}

// New creates an Engine. history and alerts may be nil.
func New(
	pool *exchange.Pool,
	books domain.BookStore,
	orders domain.OrderRecordStore,
	fills *tracker.FillTracker,
	tel *telemetry.Publisher,
	history domain.ExecutionStore,
	alerts Alerter,
	cfg Config,
	logger *slog.Logger,
) *Engine {
	if cfg.MinQty <= 0 {
		cfg.MinQty = 1e-9
	}
	return &Engine{
		pool:    pool,
		books:   books,
		orders:  orders,
		fills:   fills,
		tel:     tel,
		history: history,
		alerts:  alerts,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "execution")),
	}
}

// legResult is the settled state of one driven leg.
type legResult struct {
	spec      domain.LegSpec
	target    float64 // quantity this leg was asked to trade
	prior     float64 // signed position before the leg's first order
	filled    float64 // locally accumulated fill across all escalation orders
	escalated bool
	err       error
}

// Execute drives one pair to a settled result. Failures never escape as
// errors: everything resolves into the result's Success flag, deltas, and
// diagnostic string, so the caller alone decides whether to halt.
func (e *Engine) Execute(ctx context.Context, pair domain.LegPair) domain.ExecutionResult {
	if pair.ID == "" {
		pair.ID = uuid.New().String()
	}
	result := domain.ExecutionResult{
		PairID:    pair.ID,
		StartedAt: time.Now(),
	}
	logger := e.logger.With(slog.String("pair_id", pair.ID), slog.String("symbol", pair.Symbol))

	clientA, errA := e.pool.Get(pair.LegA.Venue)
	clientB, errB := e.pool.Get(pair.LegB.Venue)
	if errA != nil || errB != nil {
		result.ActionTaken = domain.ActionAborted
		result.Err = fmt.Sprintf("venue lookup: %v", errors.Join(errA, errB))
		result.CompletedAt = time.Now()
		return result
	}

	qtyA, qtyB := pair.LegQtys()
	resA := legResult{spec: pair.LegA, target: qtyA}
	resB := legResult{spec: pair.LegB, target: qtyB}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		resA = e.driveLeg(gctx, clientA, pair, pair.LegA, qtyA)
		return nil
	})
	g.Go(func() error {
		resB = e.driveLeg(gctx, clientB, pair, pair.LegB, qtyB)
		return nil
	})
	_ = g.Wait()

	result.LegAFilled = resA.filled
	result.LegBFilled = resB.filled

	// Venue positions decide the outcome from here; local fill sums are only
	// a hint for logging.
	deltaA, posErrA := e.positionDelta(ctx, clientA, pair, resA)
	deltaB, posErrB := e.positionDelta(ctx, clientB, pair, resB)
	result.DeltaA = deltaA
	result.DeltaB = deltaB

	var errs []string
	for _, err := range []error{resA.err, resB.err, posErrA, posErrB} {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	balanced := posErrA == nil && posErrB == nil &&
		absF(deltaA) <= e.cfg.MinQty && absF(deltaB) <= e.cfg.MinQty

	switch {
	case balanced && len(errs) == 0:
		result.Success = true
		result.ActionTaken = escalationAction(resA, resB)
		logger.Info("pair executed",
			slog.Float64("filled_a", resA.filled),
			slog.Float64("filled_b", resB.filled),
			slog.String("action", string(result.ActionTaken)))
	case balanced:
		// Positions line up even though a step errored mid-way (a cancel
		// retry that raced a fill, typically). The book is flat relative to
		// intent, so report success with the diagnostics attached.
		result.Success = true
		result.ActionTaken = escalationAction(resA, resB)
		result.Err = strings.Join(errs, "; ")
		logger.Warn("pair executed with recovered errors", slog.String("errors", result.Err))
	default:
		legs := []balanceLeg{
			{client: clientA, res: resA, delta: deltaA},
			{client: clientB, res: resB, delta: deltaB},
		}
		if ctx.Err() != nil {
			// Shutdown: the missing size must not be opened now. Give back
			// whatever this execution acquired instead.
			e.unwindAcquired(ctx, pair, legs, logger)
		} else {
			e.emergencyBalance(ctx, pair, legs, logger)
		}
		result.ActionTaken = domain.ActionEmergencyBalance
		result.Err = strings.Join(append(errs,
			fmt.Sprintf("position deltas a=%v b=%v", deltaA, deltaB)), "; ")
		logger.Error("pair unbalanced, emergency balance issued",
			slog.Float64("delta_a", deltaA),
			slog.Float64("delta_b", deltaB))
	}

	result.CompletedAt = time.Now()
	e.record(ctx, pair, result)
	if result.ActionTaken == domain.ActionEmergencyBalance && e.alerts != nil {
		e.alerts.EmergencyBalance(ctx, result, pair.Symbol)
	}
	return result
}

// record persists the finished execution. History failures are logged only;
// bookkeeping never fails a trade.
func (e *Engine) record(ctx context.Context, pair domain.LegPair, res domain.ExecutionResult) {
	if e.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	rec := domain.ExecutionRecord{
		ID:          res.PairID,
		Symbol:      pair.Symbol,
		VenueA:      pair.LegA.Venue,
		VenueB:      pair.LegB.Venue,
		SideA:       pair.LegA.Side,
		SideB:       pair.LegB.Side,
		TargetQty:   pair.TargetQty,
		LegAFilled:  res.LegAFilled,
		LegBFilled:  res.LegBFilled,
		DeltaA:      res.DeltaA,
		DeltaB:      res.DeltaB,
		ActionTaken: res.ActionTaken,
		Success:     res.Success,
		Err:         res.Err,
		StartedAt:   res.StartedAt,
		CompletedAt: res.CompletedAt,
	}
	if err := e.history.Create(ctx, rec); err != nil {
		e.logger.Warn("execution history write failed",
			slog.String("pair_id", res.PairID),
			slog.Any("error", err))
	}
}

// driveLeg runs the escalation ladder for one leg. It never returns early on
// error: whatever fill it achieved is reported so the position check can
// reconcile the rest.
func (e *Engine) driveLeg(ctx context.Context, client domain.ExchangeClient, pair domain.LegPair, spec domain.LegSpec, qty float64) legResult {
	res := legResult{spec: spec, target: qty}
	logger := e.logger.With(
		slog.String("pair_id", pair.ID),
		slog.String("venue", spec.Venue),
		slog.String("side", string(spec.Side)))

	if prior, err := e.signedPosition(ctx, client, pair.Symbol); err == nil {
		res.prior = prior
	} else {
		logger.Warn("prior position read failed", slog.Any("error", err))
	}

	// A dust-sized leg needs no orders, only the final position check.
	if qty <= e.cfg.MinQty {
		return res
	}

	if err := ctx.Err(); err != nil {
		res.err = fmt.Errorf("execution: %s leg stopped before placement: %w", spec.Venue, err)
		return res
	}

	// Stage 1: passive limit at the leg's requested price.
	ack, err := e.placeLimit(ctx, client, pair, spec, spec.Price, qty)
	if err != nil {
		res.err = fmt.Errorf("execution: place %s leg: %w", spec.Venue, err)
		return res
	}
	e.fills.Track(ack.OrderID, qty)
	e.tel.Order(ctx, spec.Venue, pair.Symbol, ack.OrderID, "placed", map[string]any{
		"price": spec.Price, "qty": qty,
	})

	filled := e.awaitFill(ctx, client, pair.Symbol, ack.OrderID, qty, e.cfg.PassiveWait, e.cfg.PassivePoll)
	if qty-filled <= e.cfg.MinQty {
		res.filled = qty
		return res
	}

	// The passive window expired. Cancel and re-read: the cancel can race a
	// fill, so the remainder is always re-derived from post-cancel state.
	res.escalated = true
	if _, err := e.cancelOrder(ctx, client, pair.Symbol, ack.OrderID); err != nil {
		res.err = err
		res.filled = e.latestFilled(ctx, client, spec.Venue, pair.Symbol, ack.OrderID, filled)
		return res
	}
	filled = e.latestFilled(ctx, client, spec.Venue, pair.Symbol, ack.OrderID, filled)
	res.filled = filled
	remainder := qty - filled
	if remainder <= e.cfg.MinQty {
		return res
	}

	// The wait may have ended because the process is shutting down, not
	// because the window expired. The open order is already cancelled; no
	// further order may go out.
	if err := ctx.Err(); err != nil {
		res.err = fmt.Errorf("execution: %s leg stopped by shutdown: %w", spec.Venue, err)
		return res
	}

	// Stage 2: reprice one tick through the spread and give it a short window.
	price, err := e.aggressorPrice(ctx, client, pair.Symbol, spec.Side)
	if err != nil {
		logger.Warn("reprice aborted, sweeping instead", slog.Any("error", err))
		return e.sweep(ctx, client, pair, spec, res, remainder, logger)
	}

	ack2, err := e.placeLimit(ctx, client, pair, spec, price, remainder)
	if err != nil {
		logger.Warn("reprice placement failed, sweeping instead", slog.Any("error", err))
		return e.sweep(ctx, client, pair, spec, res, remainder, logger)
	}
	e.fills.Track(ack2.OrderID, remainder)
	e.tel.Order(ctx, spec.Venue, pair.Symbol, ack2.OrderID, "repriced", map[string]any{
		"price": price, "qty": remainder,
	})

	filled2 := e.awaitFill(ctx, client, pair.Symbol, ack2.OrderID, remainder, e.cfg.RepriceWait, e.cfg.RepricePoll)
	if remainder-filled2 <= e.cfg.MinQty {
		res.filled += remainder
		return res
	}

	if _, err := e.cancelOrder(ctx, client, pair.Symbol, ack2.OrderID); err != nil {
		res.err = err
		res.filled += e.latestFilled(ctx, client, spec.Venue, pair.Symbol, ack2.OrderID, filled2)
		return res
	}
	filled2 = e.latestFilled(ctx, client, spec.Venue, pair.Symbol, ack2.OrderID, filled2)
	res.filled += filled2
	remainder -= filled2
	if remainder <= e.cfg.MinQty {
		return res
	}

	// Stage 3: exactly one market sweep for whatever is left.
	return e.sweep(ctx, client, pair, spec, res, remainder, logger)
}

// sweep issues the single market order that ends a leg's escalation.
func (e *Engine) sweep(ctx context.Context, client domain.ExchangeClient, pair domain.LegPair, spec domain.LegSpec, res legResult, remainder float64, logger *slog.Logger) legResult {
	res.escalated = true

	if err := ctx.Err(); err != nil {
		res.err = fmt.Errorf("execution: %s sweep skipped on shutdown: %w", spec.Venue, err)
		return res
	}

	ack, err := e.placeMarket(ctx, client, pair, spec, remainder)
	if err != nil {
		res.err = fmt.Errorf("execution: market sweep on %s: %w", spec.Venue, err)
		return res
	}
	e.tel.Order(ctx, spec.Venue, pair.Symbol, ack.OrderID, "swept", map[string]any{"qty": remainder})
	logger.Info("leg swept", slog.Float64("qty", remainder))

	// Market orders fill synchronously on every supported venue; the final
	// position check still validates this assumption.
	res.filled += remainder
	return res
}

// awaitFill polls the leg's fill state until the target is reached, the order
// goes terminal, or the window expires. Fresh tracker state (fed by the
// private stream) short-circuits the venue poll; a stale tracker forces one.
func (e *Engine) awaitFill(ctx context.Context, client domain.ExchangeClient, symbol, orderID string, target float64, wait, poll time.Duration) float64 {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		if !e.fills.Fresh(orderID) {
			if status, err := client.GetOrderStatus(ctx, symbol, orderID); err == nil {
				e.fills.ApplyStatus(orderID, status, statusFromState(status.State))
			}
		}

		st, ok := e.fills.Get(orderID)
		if ok && target-st.FilledQty <= e.cfg.MinQty {
			return st.FilledQty
		}
		if ok && st.Status.Terminal() {
			return st.FilledQty
		}

		select {
		case <-ctx.Done():
			return e.fills.Filled(orderID)
		case <-deadline.C:
			return e.fills.Filled(orderID)
		case <-ticker.C:
		}
	}
}

// latestFilled re-reads an order's fill after a cancel, taking the maximum of
// every source: the tracker, a direct status poll, and the persisted order
// record. floor is the last locally observed fill.
func (e *Engine) latestFilled(ctx context.Context, client domain.ExchangeClient, venue, symbol, orderID string, floor float64) float64 {
	best := floor
	if st, ok := e.fills.Get(orderID); ok && st.FilledQty > best {
		best = st.FilledQty
	}

	if status, err := client.GetOrderStatus(ctx, symbol, orderID); err == nil {
		e.fills.ApplyStatus(orderID, status, statusFromState(status.State))
		if st, ok := e.fills.Get(orderID); ok && st.FilledQty > best {
			best = st.FilledQty
		}
	}

	if rec, err := e.orders.GetOrder(ctx, venue, orderID); err == nil && rec.FillSz > best {
		best = rec.FillSz
	}
	return best
}

// aggressorPrice computes the one-tick-through requote: a buy bids one tick
// above the best ask, a sell offers one tick below the best bid. Tick
// arithmetic runs on decimals; venue ticks like "0.0001" are lossy as floats.
func (e *Engine) aggressorPrice(ctx context.Context, client domain.ExchangeClient, symbol string, side domain.Side) (float64, error) {
	snap, err := e.books.GetSnapshot(ctx, client.Name(), symbol)
	if err != nil {
		return 0, fmt.Errorf("execution: book read %s: %w", client.Name(), err)
	}
	if !snap.Ready() {
		return 0, fmt.Errorf("execution: %s %s: %w", client.Name(), symbol, domain.ErrBookNotReady)
	}

	tickStr, err := client.GetTickSize(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("execution: tick size %s: %w", client.Name(), err)
	}
	tick, err := decimal.NewFromString(tickStr)
	if err != nil {
		return 0, fmt.Errorf("execution: tick size %q: %w", tickStr, err)
	}

	var price decimal.Decimal
	if side == domain.SideLong {
		price = decimal.NewFromFloat(snap.BestAsk().Price).Add(tick)
	} else {
		price = decimal.NewFromFloat(snap.BestBid().Price).Sub(tick)
	}
	out, _ := price.Float64()
	if out <= 0 {
		return 0, fmt.Errorf("execution: degenerate reprice %v for %s", out, symbol)
	}
	return out, nil
}

func (e *Engine) placeLimit(ctx context.Context, client domain.ExchangeClient, pair domain.LegPair, spec domain.LegSpec, price, qty float64) (domain.OrderAck, error) {
	if pair.ReduceOnly {
		return client.CloseLimitOrder(ctx, pair.Symbol, spec.Side, price, qty)
	}
	return client.PlaceLimitOrder(ctx, pair.Symbol, spec.Side, price, qty)
}

func (e *Engine) placeMarket(ctx context.Context, client domain.ExchangeClient, pair domain.LegPair, spec domain.LegSpec, qty float64) (domain.OrderAck, error) {
	if pair.ReduceOnly {
		return client.CloseMarketOrder(ctx, pair.Symbol, spec.Side, qty)
	}
	return client.PlaceMarketOrder(ctx, pair.Symbol, spec.Side, qty)
}

// signedPosition reads the venue position as a signed size, zero when flat.
func (e *Engine) signedPosition(ctx context.Context, client domain.ExchangeClient, symbol string) (float64, error) {
	pos, err := client.GetPositionInfo(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if pos == nil {
		return 0, nil
	}
	return pos.SignedSize(), nil
}

// positionDelta compares the venue-reported position against what the leg
// should have produced: prior + signed target.
func (e *Engine) positionDelta(ctx context.Context, client domain.ExchangeClient, pair domain.LegPair, res legResult) (float64, error) {
	reported, err := e.signedPosition(ctx, client, pair.Symbol)
	if err != nil {
		return 0, fmt.Errorf("execution: position check %s: %w", res.spec.Venue, err)
	}
	expected := res.prior + res.spec.SignedQty(res.target)
	return reported - expected, nil
}

// balanceLeg pairs a venue client with its settled leg state and delta.
type balanceLeg struct {
	client domain.ExchangeClient
	res    legResult
	delta  float64
}

// expected is the signed position the leg should have left on the venue.
func (l balanceLeg) expected() float64 {
	return l.res.prior + l.res.spec.SignedQty(l.res.target)
}

// balancePlan computes the market order that moves a venue from its reported
// position back to the expected one. Giving back an over-fill shrinks the
// position and stays reduce-only; an under-fill can only be corrected by
// opening the missing size, which a reduce-only order cannot do.
func balancePlan(expected, delta float64) (side domain.Side, qty float64, reducing bool) {
	side = domain.SideShort
	if delta < 0 {
		side = domain.SideLong
	}
	qty = absF(delta)
	reported := expected + delta
	reducing = absF(expected) < absF(reported)
	return side, qty, reducing
}

// emergencyBalance fires simultaneous market orders that push both venues
// back to their expected positions. Best effort: failures are logged, and the
// surfaced deltas let an operator finish by hand.
func (e *Engine) emergencyBalance(ctx context.Context, pair domain.LegPair, legs []balanceLeg, logger *slog.Logger) {
	// Run on a detached context so a mid-execution failure still gets
	// balanced even while the process is winding down.
	balanceCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()

	g, gctx := errgroup.WithContext(balanceCtx)
	for _, leg := range legs {
		if absF(leg.delta) <= e.cfg.MinQty {
			continue
		}
		leg := leg
		g.Go(func() error {
			side, qty, reducing := balancePlan(leg.expected(), leg.delta)
			var err error
			if reducing {
				_, err = leg.client.CloseMarketOrder(gctx, pair.Symbol, side, qty)
			} else {
				_, err = leg.client.PlaceMarketOrder(gctx, pair.Symbol, side, qty)
			}
			if err != nil {
				logger.Error("emergency balance order failed",
					slog.String("venue", leg.client.Name()),
					slog.Float64("delta", leg.delta),
					slog.Any("error", err))
				return err
			}
			logger.Warn("emergency balance order placed",
				slog.String("venue", leg.client.Name()),
				slog.String("side", string(side)),
				slog.Float64("qty", qty),
				slog.Bool("reducing", reducing))
			return nil
		})
	}
	_ = g.Wait()
}

// unwindAcquired is the shutdown variant of the emergency balance: instead of
// correcting toward the expected position it returns each venue to its prior
// one, so only exposure acquired by this execution is taken off the book and
// no new size is opened after the stop signal.
func (e *Engine) unwindAcquired(ctx context.Context, pair domain.LegPair, legs []balanceLeg, logger *slog.Logger) {
	unwindCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()

	g, gctx := errgroup.WithContext(unwindCtx)
	for _, leg := range legs {
		reported := leg.expected() + leg.delta
		acquired := reported - leg.res.prior
		if absF(acquired) <= e.cfg.MinQty {
			continue
		}
		if absF(leg.res.prior) >= absF(reported) {
			// The leg reduced an existing position; putting the size back on
			// would grow exposure, which is exactly what shutdown forbids.
			logger.Error("shutdown unwind skipped, would extend position",
				slog.String("venue", leg.client.Name()),
				slog.Float64("prior", leg.res.prior),
				slog.Float64("reported", reported))
			continue
		}
		leg := leg
		g.Go(func() error {
			side := domain.SideShort
			if acquired < 0 {
				side = domain.SideLong
			}
			qty := absF(acquired)
			if _, err := leg.client.CloseMarketOrder(gctx, pair.Symbol, side, qty); err != nil {
				logger.Error("shutdown unwind order failed",
					slog.String("venue", leg.client.Name()),
					slog.Float64("acquired", acquired),
					slog.Any("error", err))
				return err
			}
			logger.Warn("shutdown unwind order placed",
				slog.String("venue", leg.client.Name()),
				slog.String("side", string(side)),
				slog.Float64("qty", qty))
			return nil
		})
	}
	_ = g.Wait()
}

// escalationAction names which legs had to leave their passive price.
func escalationAction(resA, resB legResult) domain.ExecutionAction {
	switch {
	case resA.escalated && resB.escalated:
		return domain.ActionEscalatedBoth
	case resA.escalated:
		return domain.ActionEscalatedA
	case resB.escalated:
		return domain.ActionEscalatedB
	default:
		return domain.ActionBothFilled
	}
}

// statusFromState maps the venue's free-form order state onto the fill
// status vocabulary, defaulting to partially filled for anything live.
func statusFromState(state string) domain.FillStatus {
	switch strings.ToUpper(state) {
	case "FILLED":
		return domain.FillStatusFilled
	case "CANCELED", "CANCELLED", "MARGINCANCELED":
		return domain.FillStatusCanceled
	case "REJECTED":
		return domain.FillStatusRejected
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return domain.FillStatusExpired
	case "NEW", "OPEN":
		return domain.FillStatusNew
	default:
		return domain.FillStatusPartiallyFilled
	}
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
