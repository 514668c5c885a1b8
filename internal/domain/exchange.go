package domain

import "context"

// SymbolInfo carries per-symbol precision constraints.
type SymbolInfo struct {
	QuantityPrecision int
	PricePrecision    int
}

// ExchangeClient is the per-venue adapter capability consumed by the core.
// Each venue implements this contract; the engine, scanner, and reconciler
// depend only on the interface.
//
// CancelOrder returns a tagged CancelOutcome instead of an error string: the
// venue adapter owns the real error vocabulary, so message-text classification
// happens there, not in the core. A non-nil error means the request itself
// failed (transport), not that the venue refused the cancel.
type ExchangeClient interface {
	Name() string
	Connect(ctx context.Context) error
	Close() error

	// SubscribeOrderbook streams full book snapshots until ctx is cancelled.
	SubscribeOrderbook(ctx context.Context, symbol string) (<-chan OrderbookSnapshot, error)
	// SubscribeFills streams private fill events until ctx is cancelled.
	SubscribeFills(ctx context.Context, symbol string) (<-chan FillEvent, error)

	PlaceLimitOrder(ctx context.Context, symbol string, side Side, price, qty float64) (OrderAck, error)
	PlaceMarketOrder(ctx context.Context, symbol string, side Side, qty float64) (OrderAck, error)
	// CloseLimitOrder and CloseMarketOrder are reduce-only variants: side is
	// the direction of the closing trade, and the order can only decrease an
	// existing position.
	CloseLimitOrder(ctx context.Context, symbol string, side Side, price, qty float64) (OrderAck, error)
	CloseMarketOrder(ctx context.Context, symbol string, side Side, qty float64) (OrderAck, error)

	CancelOrder(ctx context.Context, symbol, orderID string) (CancelOutcome, error)
	GetOrderStatus(ctx context.Context, symbol, orderID string) (OrderStatus, error)

	GetPositionSize(ctx context.Context, symbol string, side Side) (float64, error)
	// GetPositionInfo returns nil with no error when the venue reports no
	// position for the symbol.
	GetPositionInfo(ctx context.Context, symbol string) (*Position, error)

	// GetTickSize returns the minimum price increment as a decimal string
	// (venues report ticks like "0.0001" whose float form is lossy).
	GetTickSize(ctx context.Context, symbol string) (string, error)
	GetSymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error)
	SetLeverage(ctx context.Context, symbol string, leverage int, marginMode string) error
}
