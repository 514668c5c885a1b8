package execution

import (
	"context"
	"testing"

	"github.com/avelin/cexarb/internal/domain"
	"github.com/avelin/cexarb/internal/exchange"
	"github.com/avelin/cexarb/internal/exchange/paper"
)

func newTestReconciler(t *testing.T) (*Reconciler, *paper.Venue, *paper.Venue) {
	t.Helper()

	logger := discardLogger()
	venueA := paper.New("alpha")
	venueB := paper.New("beta")
	for _, v := range []*paper.Venue{venueA, venueB} {
		v.SetBook(domain.OrderbookSnapshot{
			Venue:  v.Name(),
			Symbol: testSymbol,
			Bids:   []domain.PriceLevel{{Price: 100, Size: 10}},
			Asks:   []domain.PriceLevel{{Price: 100.1, Size: 10}},
		})
	}

	pool := exchange.NewPool(logger)
	if err := pool.Register(venueA); err != nil {
		t.Fatalf("register alpha: %v", err)
	}
	if err := pool.Register(venueB); err != nil {
		t.Fatalf("register beta: %v", err)
	}

	cfg := ReconcileConfig{
		AbsTolerance: 0.01,
		FailFraction: 0.10,
		ResidualMin:  0.001,
	}
	return NewReconciler(pool, cfg, logger), venueA, venueB
}

// openPosition pushes a venue to a signed position with a market order.
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

func TestVerifyAfterOpen(t *testing.T) {
	tests := []struct {
		name     string
		position float64
		expected float64
		wantErr  bool
	}{
		{"exact match", 1.0, 1.0, false},
		{"inside absolute tolerance", 0.995, 1.0, false},
		{"inside fail fraction, logged only", 0.95, 1.0, false},
		{"excess over fail fraction", 1.15, 1.0, true},
		{"shortfall over fail fraction", 0.85, 1.0, true},
		{"short leg match", -1.0, -1.0, false},
		{"short leg shortfall", -0.8, -1.0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, venueA, _ := newTestReconciler(t)
			if tt.position != 0 {
				openPosition(t, venueA, tt.position)
			}

			err := rec.VerifyAfterOpen(context.Background(), testSymbol, 1.0, []VenueIntent{
				{Venue: "alpha", Expected: tt.expected},
			})
			if tt.wantErr && err == nil {
				t.Fatal("VerifyAfterOpen returned nil, want error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("VerifyAfterOpen: %v", err)
			}
		})
	}
}

func TestVerifyAfterOpenBothVenues(t *testing.T) {
	rec, venueA, venueB := newTestReconciler(t)
	openPosition(t, venueA, 1.0)
	openPosition(t, venueB, -1.0)

	err := rec.VerifyAfterOpen(context.Background(), testSymbol, 1.0, []VenueIntent{
		{Venue: "alpha", Expected: 1.0},
		{Venue: "beta", Expected: -1.0},
	})
	if err != nil {
		t.Fatalf("VerifyAfterOpen: %v", err)
	}
}

func TestVerifyAfterCloseFlattensResidual(t *testing.T) {
	rec, venueA, venueB := newTestReconciler(t)
	openPosition(t, venueA, 0.25) // leftover long
	openPosition(t, venueB, -0.0005)

	err := rec.VerifyAfterClose(context.Background(), testSymbol, []string{"alpha", "beta"})
	if err != nil {
		t.Fatalf("VerifyAfterClose: %v", err)
	}
	if got := signedPos(t, venueA); got != 0 {
		t.Errorf("alpha residual = %v, want 0 after flatten", got)
	}
	// Dust below the residual floor is left alone.
	if got := signedPos(t, venueB); got != -0.0005 {
		t.Errorf("beta residual = %v, want untouched dust", got)
	}
}

func TestEmergencyCloseAll(t *testing.T) {
	rec, venueA, venueB := newTestReconciler(t)
	openPosition(t, venueA, 2.0)
	openPosition(t, venueB, -1.5)

	if err := rec.EmergencyCloseAll(context.Background(), testSymbol); err != nil {
		t.Fatalf("EmergencyCloseAll: %v", err)
	}
	if got := signedPos(t, venueA); got != 0 {
		t.Errorf("alpha position = %v, want flat", got)
	}
	if got := signedPos(t, venueB); got != 0 {
		t.Errorf("beta position = %v, want flat", got)
	}
}

func TestEmergencyCloseAllSkipsFlatVenues(t *testing.T) {
	rec, venueA, _ := newTestReconciler(t)
	openPosition(t, venueA, 1.0)

	if err := rec.EmergencyCloseAll(context.Background(), testSymbol); err != nil {
		t.Fatalf("EmergencyCloseAll: %v", err)
	}
	if got := signedPos(t, venueA); got != 0 {
		t.Errorf("alpha position = %v, want flat", got)
	}
}
