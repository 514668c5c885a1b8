// Package tracker maintains per-order fill state from private-stream events
// and polled order status. It is the engine's local view of fill progress;
// venue-reported positions remain the ground truth for reconciliation.
package tracker

import (
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/avelin/cexarb/internal/domain"
)

// zeroSizeSentinel is the prose string one venue returns in the fill size
// field of a fully filled order instead of the number. The value is treated
// as "filled for the full requested quantity".
const zeroSizeSentinel = "Order has zero size."

// ExtractFillSize parses a venue fill size string. The sentinel string and an
// empty field both mean the venue failed to report a number for a complete
// fill, so the original requested quantity is returned. Any other unparsable
// value falls back the same way rather than treating the order as unfilled.
func ExtractFillSize(fillSz string, requestedQty float64) float64 {
	s := strings.TrimSpace(fillSz)
	if s == "" || s == zeroSizeSentinel {
		return requestedQty
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return requestedQty
	}
	return v
}

// FillTracker accumulates fill progress per order id. FilledQty never
// decreases regardless of event ordering or duplication, and terminal events
// replay idempotently.
type FillTracker struct {
	mu     sync.RWMutex
	orders map[string]domain.FillState
	stale  time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// New creates a FillTracker. staleAfter is the window beyond which a state
// with no updates is reported as not fresh (Fresh returns false) and the
// caller must assume no progress since the last event.
func New(staleAfter time.Duration, logger *slog.Logger) *FillTracker {
	return &FillTracker{
		orders: make(map[string]domain.FillState),
		stale:  staleAfter,
		logger: logger.With(slog.String("component", "fill_tracker")),
		now:    time.Now,
	}
}

// Track registers a freshly placed order with its target quantity. Re-tracking
// a known order id keeps the accumulated fill.
func (t *FillTracker) Track(orderID string, targetQty float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if st, ok := t.orders[orderID]; ok {
		st.TargetQty = targetQty
		t.orders[orderID] = st
		return
	}
	t.orders[orderID] = domain.FillState{
		OrderID:   orderID,
		TargetQty: targetQty,
		Status:    domain.FillStatusNew,
		UpdatedAt: t.now(),
	}
}

// ApplyFill ingests a private-stream fill event. Events carrying a smaller
// cumulative fill than already recorded are ignored; a terminal status sticks
// even if later events replay an earlier one.
func (t *FillTracker) ApplyFill(ev domain.FillEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.orders[ev.OrderID]
	if !ok {
		st = domain.FillState{OrderID: ev.OrderID, Status: domain.FillStatusNew}
	}

	changed := false
	if ev.FillSz > st.FilledQty {
		st.FilledQty = ev.FillSz
		if ev.Price > 0 {
			st.LastPrice = ev.Price
		}
		changed = true
	}
	if ev.Status != "" && !st.Status.Terminal() && ev.Status != st.Status {
		st.Status = ev.Status
		changed = true
	}
	if changed {
		st.UpdatedAt = t.eventTime(ev.At)
		t.orders[ev.OrderID] = st
		t.logger.Debug("fill applied",
			slog.String("order_id", ev.OrderID),
			slog.String("venue", ev.Venue),
			slog.Float64("filled", st.FilledQty),
			slog.String("status", string(st.Status)))
	} else if !ok {
		st.UpdatedAt = t.eventTime(ev.At)
		t.orders[ev.OrderID] = st
	}
}

// ApplyStatus folds a polled order status into the tracked state. The fill
// size string goes through ExtractFillSize with the tracked target as the
// requested quantity; the monotonic rule still applies.
func (t *FillTracker) ApplyStatus(orderID string, status domain.OrderStatus, fillState domain.FillStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.orders[orderID]
	if !ok {
		st = domain.FillState{OrderID: orderID, Status: domain.FillStatusNew}
	}

	filled := ExtractFillSize(status.FillSz, st.TargetQty)
	// The full-quantity fallback only makes sense for orders the venue says
	// filled. For anything else, live or cancelled, an unparsable field means
	// no new information; trusting it would overstate the fill and zero a
	// remainder that is actually still open.
	if fillState != domain.FillStatusFilled && !isNumeric(status.FillSz) {
		filled = st.FilledQty
	}

	if filled > st.FilledQty {
		st.FilledQty = filled
		if status.Price > 0 {
			st.LastPrice = status.Price
		}
	}
	if fillState != "" && !st.Status.Terminal() {
		st.Status = fillState
	}
	st.UpdatedAt = t.now()
	t.orders[orderID] = st
}

// Get returns the tracked state for an order id.
func (t *FillTracker) Get(orderID string) (domain.FillState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.orders[orderID]
	return st, ok
}

// Filled returns the accumulated fill for an order id, zero when untracked.
func (t *FillTracker) Filled(orderID string) float64 {
	st, _ := t.Get(orderID)
	return st.FilledQty
}

// Fresh reports whether the order's state was updated within the staleness
// window. A stale state must be treated as "no progress since last event".
func (t *FillTracker) Fresh(orderID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.orders[orderID]
	if !ok {
		return false
	}
	return t.now().Sub(st.UpdatedAt) <= t.stale
}

// Forget drops an order from tracking once the engine has fully accounted
// for it.
func (t *FillTracker) Forget(orderID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.orders, orderID)
}

func (t *FillTracker) eventTime(at time.Time) time.Time {
	if at.IsZero() {
		return t.now()
	}
	return at
}

func isNumeric(s string) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return err == nil
}
