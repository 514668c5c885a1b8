package strategy

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/avelin/cexarb/internal/domain"
	"github.com/avelin/cexarb/internal/exchange/paper"
)

// openPosition pushes a venue to a signed position with a market order at the
// current book, establishing the entry price.
func openPosition(t *testing.T, v *paper.Venue, signed float64) {
	t.Helper()
	side := domain.SideLong
	qty := signed
	if signed < 0 {
		side = domain.SideShort
		qty = -signed
	}
	if _, err := v.PlaceMarketOrder(context.Background(), testSymbol, side, qty); err != nil {
		t.Fatalf("open position: %v", err)
	}
}

// openHedge opens the standard test hedge: long 1.0 alpha at entry 100.5,
// short 1.0 beta at entry 101.
func openHedge(t *testing.T, rig *loopRig) {
	t.Helper()
	rig.setBook(t, rig.venueA, 100, 100.5)
	rig.setBook(t, rig.venueB, 101, 101.2)
	openPosition(t, rig.venueA, 1.0)
	openPosition(t, rig.venueB, -1.0)
}

func TestCloserClosesAtTarget(t *testing.T) {
	rig := newLoopRig(t, testStrategyConfig())
	openHedge(t, rig)

	// Alpha rallied: long leg alone is up ~1.09%, beta costs ~0.10% to buy
	// back, total ~0.99% over the 0.5% target.
	rig.setBook(t, rig.venueA, 101.6, 101.8)
	rig.setBook(t, rig.venueB, 101, 101.1)

	done, err := rig.closer.tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if !done {
		t.Fatal("tick done=false, want position closed")
	}
	if got := signedPos(t, rig.venueA); got != 0 {
		t.Errorf("alpha position = %v, want flat", got)
	}
	if got := signedPos(t, rig.venueB); got != 0 {
		t.Errorf("beta position = %v, want flat", got)
	}
}

func TestCloserHoldsBelowTarget(t *testing.T) {
	rig := newLoopRig(t, testStrategyConfig())
	openHedge(t, rig)

	// Books barely moved; combined ROI sits between stop and target.
	rig.setBook(t, rig.venueA, 100.6, 100.8)
	rig.setBook(t, rig.venueB, 100.9, 101.05)

	done, err := rig.closer.tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if done {
		t.Fatal("tick done=true, want holding")
	}
	if got := signedPos(t, rig.venueA); got != 1.0 {
		t.Errorf("alpha position = %v, want untouched 1.0", got)
	}
}

func TestCloserStopLoss(t *testing.T) {
	rig := newLoopRig(t, testStrategyConfig())
	openHedge(t, rig)

	// Alpha collapsed: long leg down ~4.5%, well past the -2% floor.
	rig.setBook(t, rig.venueA, 96, 96.2)
	rig.setBook(t, rig.venueB, 100.9, 101.05)

	done, err := rig.closer.tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if !done {
		t.Fatal("tick done=false, want stop-loss close")
	}
	if got := signedPos(t, rig.venueA); got != 0 {
		t.Errorf("alpha position = %v, want flat", got)
	}
	if got := signedPos(t, rig.venueB); got != 0 {
		t.Errorf("beta position = %v, want flat", got)
	}
}

func TestCloserWaitsOnThinBook(t *testing.T) {
	rig := newLoopRig(t, testStrategyConfig())
	openHedge(t, rig)

	// ROI is over target but the alpha bid only shows 0.4 against our 1.0.
	thin := domain.OrderbookSnapshot{
		Venue:  "alpha",
		Symbol: testSymbol,
		Bids:   []domain.PriceLevel{{Price: 101.6, Size: 0.4}},
		Asks:   []domain.PriceLevel{{Price: 101.8, Size: 10}},
	}
	rig.venueA.SetBook(thin)
	if err := rig.books.SetSnapshot(context.Background(), thin); err != nil {
		t.Fatalf("set snapshot: %v", err)
	}
	rig.setBook(t, rig.venueB, 101, 101.1)

	done, err := rig.closer.tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if done {
		t.Fatal("tick done=true, want waiting on liquidity")
	}
	if got := signedPos(t, rig.venueA); got != 1.0 {
		t.Errorf("alpha position = %v, want untouched 1.0", got)
	}
}

func TestCloserFlattensUnhedgedLeg(t *testing.T) {
	rig := newLoopRig(t, testStrategyConfig())
	rig.setBook(t, rig.venueA, 100, 100.5)
	rig.setBook(t, rig.venueB, 101, 101.2)
	openPosition(t, rig.venueA, 1.0) // beta never opened

	done, err := rig.closer.tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if !done {
		t.Fatal("tick done=false, want unhedged leg flattened")
	}
	if got := signedPos(t, rig.venueA); got != 0 {
		t.Errorf("alpha position = %v, want flat", got)
	}
}

func TestCloserDoneWhenFlat(t *testing.T) {
	rig := newLoopRig(t, testStrategyConfig())
	rig.setBook(t, rig.venueA, 100, 100.5)
	rig.setBook(t, rig.venueB, 101, 101.2)

	done, err := rig.closer.tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if !done {
		t.Fatal("tick done=false, want done on flat venues")
	}
}

func TestLegROI(t *testing.T) {
	tests := []struct {
		name string
		leg  legState
		want float64
	}{
		{
			"long in profit",
			legState{pos: &domain.Position{Side: domain.SideLong, Size: 1, EntryPrice: 100}, bid: 101, ask: 101.2},
			1.0,
		},
		{
			"long under water",
			legState{pos: &domain.Position{Side: domain.SideLong, Size: 1, EntryPrice: 100}, bid: 99, ask: 99.2},
			-1.0,
		},
		{
			"short in profit",
			legState{pos: &domain.Position{Side: domain.SideShort, Size: 1, EntryPrice: 101}, bid: 99.8, ask: 100},
			1.0,
		},
		{
			"short under water",
			legState{pos: &domain.Position{Side: domain.SideShort, Size: 1, EntryPrice: 100}, bid: 100.8, ask: 101},
			-100 * (1 - 100.0/101.0),
		},
		{
			"flat leg",
			legState{pos: nil, bid: 100, ask: 100.2},
			0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := legROI(tt.leg); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("legROI = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCloserRunReturnsAfterClose(t *testing.T) {
	rig := newLoopRig(t, testStrategyConfig())
	openHedge(t, rig)
	rig.setBook(t, rig.venueA, 101.6, 101.8)
	rig.setBook(t, rig.venueB, 101, 101.1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rig.closer.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := signedPos(t, rig.venueA); got != 0 {
		t.Errorf("alpha position = %v, want flat", got)
	}
}
