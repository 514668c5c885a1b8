package domain

import (
	"context"
	"time"
)

// TelemetryEvent is a fire-and-forget structured event emitted on every order
// placement, fill, and book update. Delivery is best-effort; producers must
// never block on the sink.
type TelemetryEvent struct {
	Exchange string         `json:"exchange"`
	Type     string         `json:"type"` // "order", "fill", "orderbook"
	Symbol   string         `json:"symbol,omitempty"`
	Fields   map[string]any `json:"fields,omitempty"`
	At       time.Time      `json:"at"`
}

// SignalBus provides pub/sub used as the telemetry transport.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// LockManager provides distributed locking, used to guarantee a single
// strategy instance per asset/venue-pair.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
