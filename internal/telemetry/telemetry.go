// Package telemetry publishes fire-and-forget events over the signal bus.
// Publish failures are logged and swallowed: telemetry must never stall or
// fail the trading path.
package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/avelin/cexarb/internal/domain"
)

// Publisher serializes telemetry events onto one bus channel.
type Publisher struct {
	bus     domain.SignalBus
	channel string
	logger  *slog.Logger
	enabled bool
}

// New creates a Publisher. A disabled publisher drops everything silently, so
// callers never need a nil check.
func New(bus domain.SignalBus, channel string, enabled bool, logger *slog.Logger) *Publisher {
	return &Publisher{
		bus:     bus,
		channel: channel,
		logger:  logger.With(slog.String("component", "telemetry")),
		enabled: enabled && bus != nil,
	}
}

// Emit publishes one event.
func (p *Publisher) Emit(ctx context.Context, ev domain.TelemetryEvent) {
	if !p.enabled {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn("telemetry marshal failed", slog.Any("error", err))
		return
	}
	if err := p.bus.Publish(ctx, p.channel, payload); err != nil {
		p.logger.Warn("telemetry publish failed", slog.Any("error", err))
	}
}

// BookUpdate emits a top-of-book event for a snapshot.
func (p *Publisher) BookUpdate(ctx context.Context, snap domain.OrderbookSnapshot) {
	if !p.enabled {
		return
	}
	p.Emit(ctx, domain.TelemetryEvent{
		Exchange: snap.Venue,
		Type:     "orderbook",
		Symbol:   snap.Symbol,
		Fields: map[string]any{
			"best_bid":      snap.BestBid().Price,
			"best_bid_size": snap.BestBid().Size,
			"best_ask":      snap.BestAsk().Price,
			"best_ask_size": snap.BestAsk().Size,
		},
		At: snap.UpdatedAt,
	})
}

// Fill emits a fill progress event.
func (p *Publisher) Fill(ctx context.Context, ev domain.FillEvent) {
	if !p.enabled {
		return
	}
	p.Emit(ctx, domain.TelemetryEvent{
		Exchange: ev.Venue,
		Type:     "fill",
		Symbol:   ev.Symbol,
		Fields: map[string]any{
			"order_id": ev.OrderID,
			"fill_sz":  ev.FillSz,
			"price":    ev.Price,
			"status":   string(ev.Status),
		},
		At: ev.At,
	})
}

// Order emits an order lifecycle event (placed, cancelled, swept).
func (p *Publisher) Order(ctx context.Context, venue, symbol, orderID, event string, fields map[string]any) {
	if !p.enabled {
		return
	}
	merged := map[string]any{"order_id": orderID, "event": event}
	for k, v := range fields {
		merged[k] = v
	}
	p.Emit(ctx, domain.TelemetryEvent{
		Exchange: venue,
		Type:     "order",
		Symbol:   symbol,
		Fields:   merged,
	})
}
