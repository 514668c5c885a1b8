package redis

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/avelin/cexarb/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return &Client{rdb: rdb}, mr
}

func TestBookCacheRoundTrip(t *testing.T) {
	c, _ := newTestClient(t)
	bc := NewBookCache(c)
	ctx := context.Background()

	snap := domain.OrderbookSnapshot{
		Venue:  "binance",
		Symbol: "ETH-USDT",
		Bids: []domain.PriceLevel{
			{Price: 100.0, Size: 5.0},
			{Price: 99.5, Size: 2.5},
		},
		Asks: []domain.PriceLevel{
			{Price: 100.5, Size: 5.0},
			{Price: 101.0, Size: 1.0},
			{Price: 101.5, Size: 7.0},
		},
	}

	if err := bc.SetSnapshot(ctx, snap); err != nil {
		t.Fatalf("SetSnapshot: %v", err)
	}

	got, err := bc.GetSnapshot(ctx, "binance", "ETH-USDT")
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if len(got.Bids) != 2 || len(got.Asks) != 3 {
		t.Fatalf("got %d bids, %d asks; want 2, 3", len(got.Bids), len(got.Asks))
	}
	if got.BestBid().Price != 100.0 || got.BestBid().Size != 5.0 {
		t.Errorf("best bid = %+v, want 100.0@5.0", got.BestBid())
	}
	if got.BestAsk().Price != 100.5 {
		t.Errorf("best ask = %+v, want 100.5", got.BestAsk())
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}
}

func TestBookCachePadsAllSlots(t *testing.T) {
	c, mr := newTestClient(t)
	bc := NewBookCache(c)
	ctx := context.Background()

	snap := domain.OrderbookSnapshot{
		Venue:  "hyperliquid",
		Symbol: "ETH-USDT",
		Bids:   []domain.PriceLevel{{Price: 101.0, Size: 5.0}},
		Asks:   []domain.PriceLevel{{Price: 101.2, Size: 5.0}},
	}
	if err := bc.SetSnapshot(ctx, snap); err != nil {
		t.Fatalf("SetSnapshot: %v", err)
	}

	// Every slot must exist; unused ones hold the sentinel.
	for i := 0; i < domain.BookDepth; i++ {
		v := mr.HGet("book:hyperliquid:ETH-USDT:bids", strconv.Itoa(i))
		if i == 0 {
			if v != "101:5" {
				t.Errorf("slot 0 = %q, want 101:5", v)
			}
		} else if v != emptySlot {
			t.Errorf("slot %d = %q, want sentinel", i, v)
		}
	}

	got, err := bc.GetSnapshot(ctx, "hyperliquid", "ETH-USDT")
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if len(got.Bids) != 1 || len(got.Asks) != 1 {
		t.Fatalf("sentinels not filtered: %d bids, %d asks", len(got.Bids), len(got.Asks))
	}
}

func TestBookCacheTruncatesDeepSide(t *testing.T) {
	c, _ := newTestClient(t)
	bc := NewBookCache(c)
	ctx := context.Background()

	// Venues can send more depth than the slot layout holds. The write must
	// keep the best ten levels and drop the rest, without disturbing the
	// shallow side.
	snap := domain.OrderbookSnapshot{
		Venue:  "binance",
		Symbol: "ETH-USDT",
		Bids: []domain.PriceLevel{
			{Price: 100.0, Size: 1},
			{Price: 99.5, Size: 2},
			{Price: 99.0, Size: 3},
		},
	}
	for i := 0; i < domain.BookDepth+2; i++ {
		snap.Asks = append(snap.Asks, domain.PriceLevel{
			Price: 100.5 + 0.5*float64(i),
			Size:  float64(i + 1),
		})
	}

	if err := bc.SetSnapshot(ctx, snap); err != nil {
		t.Fatalf("SetSnapshot: %v", err)
	}

	got, err := bc.GetSnapshot(ctx, "binance", "ETH-USDT")
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if len(got.Bids) != 3 {
		t.Fatalf("bids = %d, want 3", len(got.Bids))
	}
	if len(got.Asks) != domain.BookDepth {
		t.Fatalf("asks = %d, want %d", len(got.Asks), domain.BookDepth)
	}
	for i, lvl := range got.Asks {
		want := snap.Asks[i]
		if lvl != want {
			t.Errorf("ask[%d] = %+v, want %+v", i, lvl, want)
		}
	}
	if got.BestAsk() != snap.Asks[0] {
		t.Errorf("best ask = %+v, want %+v", got.BestAsk(), snap.Asks[0])
	}
}

func TestBookCacheOverwriteShrinksBook(t *testing.T) {
	c, _ := newTestClient(t)
	bc := NewBookCache(c)
	ctx := context.Background()

	deep := domain.OrderbookSnapshot{Venue: "binance", Symbol: "BTC-USDT"}
	for i := 0; i < domain.BookDepth; i++ {
		deep.Bids = append(deep.Bids, domain.PriceLevel{Price: 100 - float64(i), Size: 1})
		deep.Asks = append(deep.Asks, domain.PriceLevel{Price: 101 + float64(i), Size: 1})
	}
	if err := bc.SetSnapshot(ctx, deep); err != nil {
		t.Fatalf("SetSnapshot deep: %v", err)
	}

	shallow := domain.OrderbookSnapshot{
		Venue:  "binance",
		Symbol: "BTC-USDT",
		Bids:   []domain.PriceLevel{{Price: 100, Size: 1}},
		Asks:   []domain.PriceLevel{{Price: 101, Size: 1}},
	}
	if err := bc.SetSnapshot(ctx, shallow); err != nil {
		t.Fatalf("SetSnapshot shallow: %v", err)
	}

	got, err := bc.GetSnapshot(ctx, "binance", "BTC-USDT")
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if len(got.Bids) != 1 || len(got.Asks) != 1 {
		t.Fatalf("stale levels survived overwrite: %d bids, %d asks", len(got.Bids), len(got.Asks))
	}
}

func TestBookCacheMissing(t *testing.T) {
	c, _ := newTestClient(t)
	bc := NewBookCache(c)

	_, err := bc.GetSnapshot(context.Background(), "binance", "NOPE-USDT")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestOrderCacheRoundTrip(t *testing.T) {
	c, _ := newTestClient(t)
	oc := NewOrderCache(c)
	ctx := context.Background()

	rec := domain.OrderRecord{OrderID: "abc-123", FillSz: 1.5, Price: 100.25}
	if err := oc.SaveOrder(ctx, "binance", rec); err != nil {
		t.Fatalf("SaveOrder: %v", err)
	}

	got, err := oc.GetOrder(ctx, "binance", "abc-123")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got != rec {
		t.Errorf("got %+v, want %+v", got, rec)
	}

	// Records are namespaced per venue.
	if _, err := oc.GetOrder(ctx, "hyperliquid", "abc-123"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("cross-venue read err = %v, want ErrNotFound", err)
	}

	if err := oc.DeleteOrder(ctx, "binance", "abc-123"); err != nil {
		t.Fatalf("DeleteOrder: %v", err)
	}
	if _, err := oc.GetOrder(ctx, "binance", "abc-123"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("post-delete read err = %v, want ErrNotFound", err)
	}
}

func TestLockManagerExclusion(t *testing.T) {
	c, _ := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "trade:binance-hyperliquid:ETH-USDT", 30*time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if _, err := lm.Acquire(ctx, "trade:binance-hyperliquid:ETH-USDT", 30*time.Second); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("second Acquire err = %v, want ErrLockHeld", err)
	}

	unlock()
	unlock() // safe to call twice

	if _, err := lm.Acquire(ctx, "trade:binance-hyperliquid:ETH-USDT", 30*time.Second); err != nil {
		t.Fatalf("Acquire after unlock: %v", err)
	}
}
