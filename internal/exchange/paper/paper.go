// Package paper implements a fully in-memory venue. It backs dry-run mode
// and any test that needs an ExchangeClient with controllable fills.
package paper

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avelin/cexarb/internal/domain"
)

type restingOrder struct {
	handle domain.OrderHandle
	filled float64
	status domain.FillStatus
	reduce bool
}

// Venue is an in-memory exchange. Market orders fill immediately at the
// stored top of book; limit orders rest until FillOrder is called or they are
// cancelled. Positions net out per symbol the way a perp venue nets them.
type Venue struct {
	name string

	mu        sync.Mutex
	books     map[string]domain.OrderbookSnapshot
	orders    map[string]*restingOrder
	positions map[string]float64 // symbol -> signed size, long positive
	entries   map[string]float64 // symbol -> entry price of current position
	tickSize  string
	symInfo   domain.SymbolInfo

	bookSubs map[string][]chan domain.OrderbookSnapshot
	fillSubs map[string][]chan domain.FillEvent

	// CancelOutcomeHook, when set, overrides the outcome of the next cancel.
	// Tests use it to exercise the benign-cancel paths.
	CancelOutcomeHook func(orderID string) *domain.CancelOutcome
}

// New creates a paper venue with sane defaults (tick 0.01, 3/2 precision).
func New(name string) *Venue {
	return &Venue{
		name:      name,
		books:     make(map[string]domain.OrderbookSnapshot),
		orders:    make(map[string]*restingOrder),
		positions: make(map[string]float64),
		entries:   make(map[string]float64),
		tickSize:  "0.01",
		symInfo:   domain.SymbolInfo{QuantityPrecision: 3, PricePrecision: 2},
		bookSubs:  make(map[string][]chan domain.OrderbookSnapshot),
		fillSubs:  make(map[string][]chan domain.FillEvent),
	}
}

func (v *Venue) Name() string                  { return v.name }
func (v *Venue) Connect(context.Context) error { return nil }
func (v *Venue) Close() error                  { return nil }

// SetTickSize overrides the default tick size string.
func (v *Venue) SetTickSize(tick string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tickSize = tick
}

// SetSymbolInfo overrides the default precision info.
func (v *Venue) SetSymbolInfo(info domain.SymbolInfo) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.symInfo = info
}

// SetBook installs a book snapshot and fans it out to subscribers.
func (v *Venue) SetBook(snap domain.OrderbookSnapshot) {
	snap.Venue = v.name
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now()
	}

	v.mu.Lock()
	v.books[snap.Symbol] = snap
	subs := append([]chan domain.OrderbookSnapshot(nil), v.bookSubs[snap.Symbol]...)
	v.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (v *Venue) SubscribeOrderbook(ctx context.Context, symbol string) (<-chan domain.OrderbookSnapshot, error) {
	ch := make(chan domain.OrderbookSnapshot, 16)
	v.mu.Lock()
	v.bookSubs[symbol] = append(v.bookSubs[symbol], ch)
	v.mu.Unlock()
	go func() {
		<-ctx.Done()
		// Channel is left open; senders use non-blocking writes.
	}()
	return ch, nil
}

func (v *Venue) SubscribeFills(ctx context.Context, symbol string) (<-chan domain.FillEvent, error) {
	ch := make(chan domain.FillEvent, 16)
	v.mu.Lock()
	v.fillSubs[symbol] = append(v.fillSubs[symbol], ch)
	v.mu.Unlock()
	go func() {
		<-ctx.Done()
	}()
	return ch, nil
}

func (v *Venue) PlaceLimitOrder(_ context.Context, symbol string, side domain.Side, price, qty float64) (domain.OrderAck, error) {
	return v.placeLimit(symbol, side, price, qty, false)
}

func (v *Venue) CloseLimitOrder(_ context.Context, symbol string, side domain.Side, price, qty float64) (domain.OrderAck, error) {
	return v.placeLimit(symbol, side, price, qty, true)
}

func (v *Venue) placeLimit(symbol string, side domain.Side, price, qty float64, reduce bool) (domain.OrderAck, error) {
	if qty <= 0 || price <= 0 {
		return domain.OrderAck{}, fmt.Errorf("paper: %w: price=%v qty=%v", domain.ErrInvalidOrder, price, qty)
	}

	id := uuid.New().String()
	v.mu.Lock()
	if reduce {
		if err := v.reduceViolationLocked(symbol, side, qty); err != nil {
			v.mu.Unlock()
			return domain.OrderAck{}, err
		}
	}
	v.orders[id] = &restingOrder{
		handle: domain.OrderHandle{
			Venue: v.name, Symbol: symbol, OrderID: id,
			Side: side, Qty: qty, Price: price, CreatedAt: time.Now(),
		},
		status: domain.FillStatusNew,
		reduce: reduce,
	}
	v.mu.Unlock()

	return domain.OrderAck{OrderID: id, Qty: qty}, nil
}

func (v *Venue) PlaceMarketOrder(_ context.Context, symbol string, side domain.Side, qty float64) (domain.OrderAck, error) {
	return v.placeMarket(symbol, side, qty, false)
}

func (v *Venue) CloseMarketOrder(_ context.Context, symbol string, side domain.Side, qty float64) (domain.OrderAck, error) {
	return v.placeMarket(symbol, side, qty, true)
}

func (v *Venue) placeMarket(symbol string, side domain.Side, qty float64, reduce bool) (domain.OrderAck, error) {
	if qty <= 0 {
		return domain.OrderAck{}, fmt.Errorf("paper: %w: qty=%v", domain.ErrInvalidOrder, qty)
	}

	v.mu.Lock()
	if reduce {
		if err := v.reduceViolationLocked(symbol, side, qty); err != nil {
			v.mu.Unlock()
			return domain.OrderAck{}, err
		}
	}
	book := v.books[symbol]
	price := 0.0
	if side == domain.SideLong {
		price = book.BestAsk().Price
	} else {
		price = book.BestBid().Price
	}

	id := uuid.New().String()
	ord := &restingOrder{
		handle: domain.OrderHandle{
			Venue: v.name, Symbol: symbol, OrderID: id,
			Side: side, Qty: qty, CreatedAt: time.Now(),
		},
		reduce: reduce,
	}
	v.orders[id] = ord
	v.fillLocked(ord, qty, price)
	v.mu.Unlock()

	v.emitFill(symbol, id, qty, price, domain.FillStatusFilled)
	return domain.OrderAck{OrderID: id, Qty: qty}, nil
}

// OpenOrders returns the ids of all non-terminal resting orders.
func (v *Venue) OpenOrders() []string {
	v.mu.Lock()
	defer v.mu.Unlock()

	var ids []string
	for id, ord := range v.orders {
		if !ord.status.Terminal() {
			ids = append(ids, id)
		}
	}
	return ids
}

// FillOrder simulates the venue matching qty of a resting limit order.
func (v *Venue) FillOrder(orderID string, qty float64) error {
	v.mu.Lock()
	ord, ok := v.orders[orderID]
	if !ok {
		v.mu.Unlock()
		return domain.ErrNotFound
	}
	if ord.status.Terminal() {
		v.mu.Unlock()
		return fmt.Errorf("paper: order %s already %s", orderID, ord.status)
	}
	if qty > ord.handle.Qty-ord.filled {
		qty = ord.handle.Qty - ord.filled
	}
	if ord.reduce {
		// The position may have moved since placement; a reduce order never
		// fills past flat.
		if err := v.reduceViolationLocked(ord.handle.Symbol, ord.handle.Side, qty); err != nil {
			v.mu.Unlock()
			return err
		}
	}
	v.fillLocked(ord, qty, ord.handle.Price)
	symbol := ord.handle.Symbol
	filled := ord.filled
	status := ord.status
	price := ord.handle.Price
	v.mu.Unlock()

	v.emitFill(symbol, orderID, filled, price, status)
	return nil
}

// reduceViolationLocked rejects a reduce-only order whose fill would grow
// |position|, the way the real venues do. Caller holds mu.
func (v *Venue) reduceViolationLocked(symbol string, side domain.Side, qty float64) error {
	const eps = 1e-9
	pos := v.positions[symbol]
	switch {
	case side == domain.SideShort && pos > 0 && qty <= pos+eps:
		return nil
	case side == domain.SideLong && pos < 0 && qty <= -pos+eps:
		return nil
	}
	return fmt.Errorf("paper: %w: reduce-only %s %v against position %v",
		domain.ErrInvalidOrder, side, qty, pos)
}

// fillLocked applies a fill and updates the netted position. Caller holds mu.
func (v *Venue) fillLocked(ord *restingOrder, qty, price float64) {
	ord.filled += qty
	if ord.filled >= ord.handle.Qty {
		ord.status = domain.FillStatusFilled
	} else {
		ord.status = domain.FillStatusPartiallyFilled
	}

	symbol := ord.handle.Symbol
	delta := qty
	if ord.handle.Side == domain.SideShort {
		delta = -qty
	}
	prev := v.positions[symbol]
	next := prev + delta
	if prev == 0 || (prev > 0) != (next > 0) {
		v.entries[symbol] = price
	}
	v.positions[symbol] = next
}

func (v *Venue) emitFill(symbol, orderID string, filled, price float64, status domain.FillStatus) {
	v.mu.Lock()
	subs := append([]chan domain.FillEvent(nil), v.fillSubs[symbol]...)
	v.mu.Unlock()

	ev := domain.FillEvent{
		Venue: v.name, Symbol: symbol, OrderID: orderID,
		FillSz: filled, Price: price, Status: status, At: time.Now(),
	}
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (v *Venue) CancelOrder(_ context.Context, _, orderID string) (domain.CancelOutcome, error) {
	if v.CancelOutcomeHook != nil {
		if out := v.CancelOutcomeHook(orderID); out != nil {
			return *out, nil
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	ord, ok := v.orders[orderID]
	if !ok {
		return domain.CancelOutcome{Kind: domain.CancelNotFound}, nil
	}
	if ord.status == domain.FillStatusFilled {
		return domain.CancelOutcome{Kind: domain.CancelAlreadyFilled}, nil
	}
	if ord.status.Terminal() {
		return domain.CancelOutcome{Kind: domain.CancelNotFound}, nil
	}
	ord.status = domain.FillStatusCanceled
	return domain.CancelOutcome{Kind: domain.CancelOK}, nil
}

func (v *Venue) GetOrderStatus(_ context.Context, _, orderID string) (domain.OrderStatus, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	ord, ok := v.orders[orderID]
	if !ok {
		return domain.OrderStatus{}, domain.ErrNotFound
	}
	return domain.OrderStatus{
		OrderID: orderID,
		FillSz:  strconv.FormatFloat(ord.filled, 'f', -1, 64),
		Price:   ord.handle.Price,
		State:   string(ord.status),
	}, nil
}

func (v *Venue) GetPositionSize(_ context.Context, symbol string, side domain.Side) (float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	pos := v.positions[symbol]
	if side == domain.SideLong && pos > 0 {
		return pos, nil
	}
	if side == domain.SideShort && pos < 0 {
		return -pos, nil
	}
	return 0, nil
}

func (v *Venue) GetPositionInfo(_ context.Context, symbol string) (*domain.Position, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	pos := v.positions[symbol]
	if pos == 0 {
		return nil, nil
	}
	side := domain.SideLong
	size := pos
	if pos < 0 {
		side = domain.SideShort
		size = -pos
	}
	return &domain.Position{
		Symbol:     symbol,
		Side:       side,
		Size:       size,
		EntryPrice: v.entries[symbol],
	}, nil
}

func (v *Venue) GetTickSize(context.Context, string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.tickSize, nil
}

func (v *Venue) GetSymbolInfo(context.Context, string) (domain.SymbolInfo, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.symInfo, nil
}

func (v *Venue) SetLeverage(context.Context, string, int, string) error { return nil }

// Compile-time interface check.
var _ domain.ExchangeClient = (*Venue)(nil)
