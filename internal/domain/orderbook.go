package domain

import (
	"context"
	"time"
)

// BookDepth is the fixed number of levels kept per side. Feeds may deliver
// more; everything beyond BookDepth is truncated on write.
const BookDepth = 10

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderbookSnapshot is a full snapshot of bids and asks for one symbol on one
// venue. Snapshots are replaced wholesale on every feed update; there is no
// incremental patching.
type OrderbookSnapshot struct {
	Venue     string
	Symbol    string
	Bids      []PriceLevel // best (highest) first
	Asks      []PriceLevel // best (lowest) first
	UpdatedAt time.Time
}

// Ready reports whether the snapshot has at least one level on each side.
// A snapshot with an empty side must never be used to compute a spread.
func (s OrderbookSnapshot) Ready() bool {
	return len(s.Bids) > 0 && len(s.Asks) > 0
}

// BestBid returns the top-of-book bid level, or a zero level when empty.
func (s OrderbookSnapshot) BestBid() PriceLevel {
	if len(s.Bids) == 0 {
		return PriceLevel{}
	}
	return s.Bids[0]
}

// BestAsk returns the top-of-book ask level, or a zero level when empty.
func (s OrderbookSnapshot) BestAsk() PriceLevel {
	if len(s.Asks) == 0 {
		return PriceLevel{}
	}
	return s.Asks[0]
}

// BookStore is the keyed orderbook cache written by feed handlers and read by
// the strategy loop and the execution engine. GetSnapshot returns ErrNotFound
// when no data has been written yet for the key.
type BookStore interface {
	SetSnapshot(ctx context.Context, snap OrderbookSnapshot) error
	GetSnapshot(ctx context.Context, venue, symbol string) (OrderbookSnapshot, error)
}

// OrderRecordStore persists the last known fill state per order id, keyed by
// {venue}Orders:{orderId}. Written by feed listeners, read by recovery paths.
type OrderRecordStore interface {
	SaveOrder(ctx context.Context, venue string, rec OrderRecord) error
	GetOrder(ctx context.Context, venue, orderID string) (OrderRecord, error)
	DeleteOrder(ctx context.Context, venue, orderID string) error
}

// OrderRecord is the persisted per-order fill state.
type OrderRecord struct {
	OrderID string  `json:"orderId"`
	FillSz  float64 `json:"fillSz"`
	Price   float64 `json:"price"`
}
