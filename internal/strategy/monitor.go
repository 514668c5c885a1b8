package strategy

import (
	"context"
	"log/slog"
	"time"

	"github.com/avelin/cexarb/internal/domain"
	"github.com/avelin/cexarb/internal/exchange"
)

// Monitor is the read-only mode: it logs the live spread, positions, and
// unrealized ROI without ever placing an order.
type Monitor struct {
	cfg     Config
	pool    *exchange.Pool
	books   domain.BookStore
	scanner *Scanner
	logger  *slog.Logger
}

func NewMonitor(cfg Config, pool *exchange.Pool, books domain.BookStore, logger *slog.Logger) *Monitor {
	return &Monitor{
		cfg:     cfg,
		pool:    pool,
		books:   books,
		scanner: NewScanner(books, cfg.VenueA, cfg.VenueB, cfg.Symbol, cfg.MinSpreadPct, logger),
		logger:  logger.With(slog.String("component", "monitor")),
	}
}

func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.CloseInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		m.report(ctx)
	}
}

func (m *Monitor) report(ctx context.Context) {
	if opp, err := m.scanner.Scan(ctx); err != nil {
		m.logger.Debug("books not ready", slog.Any("error", err))
	} else if opp != nil {
		m.logger.Info("spread above threshold",
			slog.Float64("spread_pct", opp.Spread*100),
			slog.String("long", opp.LongVenue),
			slog.String("short", opp.ShortVenue))
	}

	var roi float64
	hedged := true
	for _, venue := range []string{m.cfg.VenueA, m.cfg.VenueB} {
		client, err := m.pool.Get(venue)
		if err != nil {
			continue
		}
		pos, err := client.GetPositionInfo(ctx, m.cfg.Symbol)
		if err != nil || pos == nil {
			hedged = false
			continue
		}
		snap, err := m.books.GetSnapshot(ctx, venue, m.cfg.Symbol)
		if err != nil || !snap.Ready() {
			hedged = false
			continue
		}
		leg := legState{
			venue: venue,
			pos:   pos,
			bid:   snap.BestBid().Price,
			ask:   snap.BestAsk().Price,
		}
		roi += legROI(leg)
		m.logger.Info("position",
			slog.String("venue", venue),
			slog.String("side", string(pos.Side)),
			slog.Float64("size", pos.Size),
			slog.Float64("entry", pos.EntryPrice),
			slog.Float64("upnl", pos.UnrealizedPnL))
	}
	if hedged {
		m.logger.Info("combined roi", slog.Float64("roi_pct", roi))
	}
}
