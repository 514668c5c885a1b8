package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/avelin/cexarb/internal/domain"
)

func snapshot(venue, symbol string, bid float64) domain.OrderbookSnapshot {
	return domain.OrderbookSnapshot{
		Venue:  venue,
		Symbol: symbol,
		Bids:   []domain.PriceLevel{{Price: bid, Size: 1}},
		Asks:   []domain.PriceLevel{{Price: bid + 0.1, Size: 1}},
	}
}

func TestFastBookStoreLastWriterWins(t *testing.T) {
	ctx := context.Background()
	store := NewFastBookStore(nil)

	if err := store.SetSnapshot(ctx, snapshot("alpha", "ETH-USDT", 100)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.SetSnapshot(ctx, snapshot("alpha", "ETH-USDT", 101)); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := store.GetSnapshot(ctx, "alpha", "ETH-USDT")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Bids[0].Price != 101 {
		t.Errorf("bid = %v, want 101", got.Bids[0].Price)
	}
}

func TestFastBookStoreMirrorsWrites(t *testing.T) {
	ctx := context.Background()
	mirror := NewBookStore()
	store := NewFastBookStore(mirror)

	if err := store.SetSnapshot(ctx, snapshot("alpha", "ETH-USDT", 100)); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := mirror.GetSnapshot(ctx, "alpha", "ETH-USDT")
	if err != nil {
		t.Fatalf("mirror get: %v", err)
	}
	if got.Bids[0].Price != 100 {
		t.Errorf("mirrored bid = %v, want 100", got.Bids[0].Price)
	}
}

func TestFastBookStoreFallsBackToMirror(t *testing.T) {
	ctx := context.Background()
	mirror := NewBookStore()
	if err := mirror.SetSnapshot(ctx, snapshot("beta", "ETH-USDT", 99)); err != nil {
		t.Fatalf("seed mirror: %v", err)
	}
	store := NewFastBookStore(mirror)

	got, err := store.GetSnapshot(ctx, "beta", "ETH-USDT")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Bids[0].Price != 99 {
		t.Errorf("bid = %v, want 99", got.Bids[0].Price)
	}
}

func TestFastBookStoreMissingKey(t *testing.T) {
	store := NewFastBookStore(nil)
	_, err := store.GetSnapshot(context.Background(), "alpha", "ETH-USDT")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
