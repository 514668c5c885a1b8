package strategy

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/avelin/cexarb/internal/cache/memory"
	"github.com/avelin/cexarb/internal/domain"
)

const testSymbol = "ETH-USDT"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func storeBook(t *testing.T, books *memory.BookStore, venue string, bid, bidSz, ask, askSz float64) {
	t.Helper()
	err := books.SetSnapshot(context.Background(), domain.OrderbookSnapshot{
		Venue:  venue,
		Symbol: testSymbol,
		Bids:   []domain.PriceLevel{{Price: bid, Size: bidSz}},
		Asks:   []domain.PriceLevel{{Price: ask, Size: askSz}},
	})
	if err != nil {
		t.Fatalf("set snapshot: %v", err)
	}
}

func TestScanSelectsLongCheapAsk(t *testing.T) {
	books := memory.NewBookStore()
	storeBook(t, books, "alpha", 100, 5, 100.5, 5)
	storeBook(t, books, "beta", 101, 5, 101.2, 5)

	sc := NewScanner(books, "alpha", "beta", testSymbol, 0.26, discardLogger())
	opp, err := sc.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if opp == nil {
		t.Fatal("Scan returned nil, want opportunity")
	}
	if opp.LongVenue != "alpha" || opp.ShortVenue != "beta" {
		t.Errorf("direction = long %s / short %s, want long alpha / short beta", opp.LongVenue, opp.ShortVenue)
	}
	if opp.LongPrice != 100.5 {
		t.Errorf("LongPrice = %v, want 100.5 (alpha ask)", opp.LongPrice)
	}
	if opp.ShortPrice != 101 {
		t.Errorf("ShortPrice = %v, want 101 (beta bid)", opp.ShortPrice)
	}
	want := 1 - 100.5/101
	if math.Abs(opp.Spread-want) > 1e-12 {
		t.Errorf("Spread = %v, want %v", opp.Spread, want)
	}
}

func TestScanMirrorDirection(t *testing.T) {
	books := memory.NewBookStore()
	storeBook(t, books, "alpha", 101, 5, 101.2, 5)
	storeBook(t, books, "beta", 100, 5, 100.5, 5)

	sc := NewScanner(books, "alpha", "beta", testSymbol, 0.26, discardLogger())
	opp, err := sc.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if opp == nil {
		t.Fatal("Scan returned nil, want opportunity")
	}
	if opp.LongVenue != "beta" || opp.ShortVenue != "alpha" {
		t.Errorf("direction = long %s / short %s, want long beta / short alpha", opp.LongVenue, opp.ShortVenue)
	}
}

func TestScanBelowThreshold(t *testing.T) {
	books := memory.NewBookStore()
	storeBook(t, books, "alpha", 100, 5, 100.1, 5)
	storeBook(t, books, "beta", 100.05, 5, 100.15, 5)

	sc := NewScanner(books, "alpha", "beta", testSymbol, 0.26, discardLogger())
	opp, err := sc.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if opp != nil {
		t.Errorf("Scan = %+v, want nil below threshold", opp)
	}
}

func TestScanMissingBook(t *testing.T) {
	books := memory.NewBookStore()
	storeBook(t, books, "alpha", 100, 5, 100.5, 5)

	sc := NewScanner(books, "alpha", "beta", testSymbol, 0.26, discardLogger())
	if _, err := sc.Scan(context.Background()); err == nil {
		t.Fatal("Scan returned nil error, want missing book error")
	}
}

func TestSpread(t *testing.T) {
	tests := []struct {
		name     string
		ask, bid float64
		want     float64
	}{
		{"positive edge", 100.5, 101, 1 - 100.5/101},
		{"negative edge", 101.2, 100, 1 - 101.2/100},
		{"zero ask", 0, 100, 0},
		{"zero bid", 100, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := spread(tt.ask, tt.bid); math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("spread(%v, %v) = %v, want %v", tt.ask, tt.bid, got, tt.want)
			}
		})
	}
}
