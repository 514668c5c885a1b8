// Package strategy contains the spread scanner, the tranche accumulation
// loop, and the ROI-gated closer. It decides WHEN to trade; the execution
// engine decides HOW each leg pair gets filled.
package strategy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/avelin/cexarb/internal/domain"
)

// Opportunity is one tradeable spread: go long on LongVenue at its best ask,
// short on ShortVenue at its best bid.
type Opportunity struct {
	Spread     float64 // fractional, e.g. 0.00495 for 0.495%
	LongVenue  string
	ShortVenue string
	LongPrice  float64 // long venue's best ask
	ShortPrice float64 // short venue's best bid
}

// Scanner computes the two spread directions from the freshest book
// snapshots of a venue pair.
type Scanner struct {
	books     domain.BookStore
	venueA    string
	venueB    string
	symbol    string
	minSpread float64 // fractional threshold
	logger    *slog.Logger
}

// NewScanner creates a Scanner. minSpreadPct is in percent (0.26 means a
// 0.26% minimum edge).
func NewScanner(books domain.BookStore, venueA, venueB, symbol string, minSpreadPct float64, logger *slog.Logger) *Scanner {
	return &Scanner{
		books:     books,
		venueA:    venueA,
		venueB:    venueB,
		symbol:    symbol,
		minSpread: minSpreadPct / 100,
		logger:    logger.With(slog.String("component", "scanner")),
	}
}

// Scan reads both books and returns the best spread direction exceeding the
// threshold, or nil when no edge exists right now. A missing or empty book is
// an error so the caller can tell "no signal" from "no data".
func (s *Scanner) Scan(ctx context.Context) (*Opportunity, error) {
	snapA, err := s.books.GetSnapshot(ctx, s.venueA, s.symbol)
	if err != nil {
		return nil, fmt.Errorf("strategy: book %s: %w", s.venueA, err)
	}
	snapB, err := s.books.GetSnapshot(ctx, s.venueB, s.symbol)
	if err != nil {
		return nil, fmt.Errorf("strategy: book %s: %w", s.venueB, err)
	}
	if !snapA.Ready() || !snapB.Ready() {
		return nil, fmt.Errorf("strategy: %s/%s: %w", s.venueA, s.venueB, domain.ErrBookNotReady)
	}

	askA, bidA := snapA.BestAsk().Price, snapA.BestBid().Price
	askB, bidB := snapB.BestAsk().Price, snapB.BestBid().Price

	// Two directions: buy where the ask is cheap, sell where the bid is rich.
	longAShortB := spread(askA, bidB)
	longBShortA := spread(askB, bidA)

	switch {
	case longAShortB >= s.minSpread && longAShortB >= longBShortA:
		return &Opportunity{
			Spread:     longAShortB,
			LongVenue:  s.venueA,
			ShortVenue: s.venueB,
			LongPrice:  askA,
			ShortPrice: bidB,
		}, nil
	case longBShortA >= s.minSpread:
		return &Opportunity{
			Spread:     longBShortA,
			LongVenue:  s.venueB,
			ShortVenue: s.venueA,
			LongPrice:  askB,
			ShortPrice: bidA,
		}, nil
	default:
		return nil, nil
	}
}

// spread is the relative edge of buying at ask and selling at bid across
// venues: 1 - ask/bid. Positive when the bid on one venue exceeds the ask on
// the other.
func spread(ask, bid float64) float64 {
	if ask <= 0 || bid <= 0 {
		return 0
	}
	return 1 - ask/bid
}
