// Package feed pumps venue market data and private fills into the shared
// stores. One Runner per venue owns both subscriptions for the traded symbol
// and keeps the book cache, order records, and fill tracker current so the
// strategy and engine never talk to a stream directly.
package feed

import (
	"context"
	"log/slog"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/avelin/cexarb/internal/domain"
	"github.com/avelin/cexarb/internal/telemetry"
	"github.com/avelin/cexarb/internal/tracker"
)

// Runner consumes one venue's streams for one symbol.
type Runner struct {
	client    domain.ExchangeClient
	symbol    string
	books     domain.BookStore
	orders    domain.OrderRecordStore
	fills     *tracker.FillTracker
	telemetry *telemetry.Publisher
	logger    *slog.Logger
}

// NewRunner wires a venue client to the shared stores.
func NewRunner(
	client domain.ExchangeClient,
	symbol string,
	books domain.BookStore,
	orders domain.OrderRecordStore,
	fills *tracker.FillTracker,
	tel *telemetry.Publisher,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		client:    client,
		symbol:    symbol,
		books:     books,
		orders:    orders,
		fills:     fills,
		telemetry: tel,
		logger: logger.With(
			slog.String("component", "feed"),
			slog.String("venue", client.Name()),
			slog.String("symbol", symbol),
		),
	}
}

// Run subscribes to both streams and pumps them until ctx is cancelled. A
// closed stream channel ends the runner with an error so the app can decide
// whether to restart.
func (r *Runner) Run(ctx context.Context) error {
	bookCh, err := r.client.SubscribeOrderbook(ctx, r.symbol)
	if err != nil {
		return err
	}
	fillCh, err := r.client.SubscribeFills(ctx, r.symbol)
	if err != nil {
		return err
	}

	r.logger.Info("feed started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.pumpBooks(gctx, bookCh) })
	g.Go(func() error { return r.pumpFills(gctx, fillCh) })
	return g.Wait()
}

func (r *Runner) pumpBooks(ctx context.Context, ch <-chan domain.OrderbookSnapshot) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-ch:
			if !ok {
				return domain.ErrWSDisconnect
			}
			if !snap.Ready() {
				continue
			}
			if err := r.books.SetSnapshot(ctx, snap); err != nil {
				r.logger.Warn("book write failed", slog.Any("error", err))
				continue
			}
			r.telemetry.BookUpdate(ctx, snap)
		}
	}
}

func (r *Runner) pumpFills(ctx context.Context, ch <-chan domain.FillEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return domain.ErrWSDisconnect
			}
			r.fills.ApplyFill(ev)

			rec := domain.OrderRecord{
				OrderID: ev.OrderID,
				FillSz:  ev.FillSz,
				Price:   ev.Price,
			}
			if err := r.orders.SaveOrder(ctx, ev.Venue, rec); err != nil {
				r.logger.Warn("order record write failed",
					slog.String("order_id", ev.OrderID),
					slog.Any("error", err))
			}

			r.telemetry.Fill(ctx, ev)
			r.logger.Debug("fill event",
				slog.String("order_id", ev.OrderID),
				slog.String("status", string(ev.Status)),
				slog.String("filled", strconv.FormatFloat(ev.FillSz, 'f', -1, 64)))
		}
	}
}
