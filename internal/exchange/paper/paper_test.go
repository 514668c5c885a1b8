package paper

import (
	"context"
	"errors"
	"testing"

	"github.com/avelin/cexarb/internal/domain"
)

const testSymbol = "ETH-USDT"

func newVenue(t *testing.T) *Venue {
	t.Helper()
	v := New("alpha")
	v.SetBook(domain.OrderbookSnapshot{
		Symbol: testSymbol,
		Bids:   []domain.PriceLevel{{Price: 100, Size: 5}},
		Asks:   []domain.PriceLevel{{Price: 100.5, Size: 5}},
	})
	return v
}

func position(t *testing.T, v *Venue) float64 {
	t.Helper()
	pos, err := v.GetPositionInfo(context.Background(), testSymbol)
	if err != nil {
		t.Fatalf("position info: %v", err)
	}
	if pos == nil {
		return 0
	}
	return pos.SignedSize()
}

func TestReduceOnlyRejectsGrowingPosition(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		setup func(t *testing.T, v *Venue)
		place func(v *Venue) error
	}{
		{
			name:  "market close against a flat book",
			setup: func(*testing.T, *Venue) {},
			place: func(v *Venue) error {
				_, err := v.CloseMarketOrder(ctx, testSymbol, domain.SideShort, 1.0)
				return err
			},
		},
		{
			name: "market close larger than the position",
			setup: func(t *testing.T, v *Venue) {
				if _, err := v.PlaceMarketOrder(ctx, testSymbol, domain.SideLong, 1.0); err != nil {
					t.Fatalf("open position: %v", err)
				}
			},
			place: func(v *Venue) error {
				_, err := v.CloseMarketOrder(ctx, testSymbol, domain.SideShort, 2.0)
				return err
			},
		},
		{
			name: "market close on the wrong side",
			setup: func(t *testing.T, v *Venue) {
				if _, err := v.PlaceMarketOrder(ctx, testSymbol, domain.SideLong, 1.0); err != nil {
					t.Fatalf("open position: %v", err)
				}
			},
			place: func(v *Venue) error {
				_, err := v.CloseMarketOrder(ctx, testSymbol, domain.SideLong, 1.0)
				return err
			},
		},
		{
			name:  "limit close against a flat book",
			setup: func(*testing.T, *Venue) {},
			place: func(v *Venue) error {
				_, err := v.CloseLimitOrder(ctx, testSymbol, domain.SideShort, 100, 1.0)
				return err
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newVenue(t)
			tt.setup(t, v)
			before := position(t, v)
			if err := tt.place(v); !errors.Is(err, domain.ErrInvalidOrder) {
				t.Fatalf("err = %v, want ErrInvalidOrder", err)
			}
			if got := position(t, v); got != before {
				t.Errorf("position moved %v to %v on a rejected order", before, got)
			}
		})
	}
}

func TestReduceOnlyClosesPosition(t *testing.T) {
	ctx := context.Background()
	v := newVenue(t)

	if _, err := v.PlaceMarketOrder(ctx, testSymbol, domain.SideLong, 1.5); err != nil {
		t.Fatalf("open position: %v", err)
	}
	if _, err := v.CloseMarketOrder(ctx, testSymbol, domain.SideShort, 1.5); err != nil {
		t.Fatalf("close position: %v", err)
	}
	if got := position(t, v); got != 0 {
		t.Errorf("position = %v, want flat", got)
	}
}

func TestReduceOnlyRecheckedAtFillTime(t *testing.T) {
	ctx := context.Background()
	v := newVenue(t)

	if _, err := v.PlaceMarketOrder(ctx, testSymbol, domain.SideLong, 1.0); err != nil {
		t.Fatalf("open position: %v", err)
	}
	// Valid when placed: short 1.0 against a long 1.0.
	ack, err := v.CloseLimitOrder(ctx, testSymbol, domain.SideShort, 100, 1.0)
	if err != nil {
		t.Fatalf("place close order: %v", err)
	}

	// The position goes flat while the close order rests.
	if _, err := v.PlaceMarketOrder(ctx, testSymbol, domain.SideShort, 1.0); err != nil {
		t.Fatalf("flatten position: %v", err)
	}

	if err := v.FillOrder(ack.OrderID, 1.0); !errors.Is(err, domain.ErrInvalidOrder) {
		t.Fatalf("FillOrder err = %v, want ErrInvalidOrder", err)
	}
	if got := position(t, v); got != 0 {
		t.Errorf("position = %v, want flat after rejected fill", got)
	}
}
