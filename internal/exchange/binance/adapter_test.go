package binance

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/avelin/cexarb/internal/domain"
)

func testAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return New(Config{
		BaseURL: srv.URL,
		ApiKey:  "key",
		Secret:  "secret",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCancelClassification(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		wantKind domain.CancelKind
	}{
		{"unknown order means filled", -2011, domain.CancelAlreadyFilled},
		{"order does not exist", -2013, domain.CancelNotFound},
		{"mandatory param missing", -1102, domain.CancelInvalidOrder},
		{"anything else", -1021, domain.CancelUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(apiError{Code: tt.code, Message: "venue says no"})
			})

			out, err := a.CancelOrder(context.Background(), "ETH-USDT", "42")
			if err != nil {
				t.Fatalf("CancelOrder: %v", err)
			}
			if out.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", out.Kind, tt.wantKind)
			}
			wantBenign := tt.wantKind != domain.CancelUnknown
			if out.Benign() != wantBenign {
				t.Errorf("Benign() = %v, want %v for kind %v", out.Benign(), wantBenign, out.Kind)
			}
		})
	}
}

func TestCancelOK(t *testing.T) {
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s, want DELETE", r.Method)
		}
		if r.URL.Query().Get("signature") == "" {
			t.Error("request not signed")
		}
		if r.Header.Get("X-MBX-APIKEY") != "key" {
			t.Error("missing API key header")
		}
		_ = json.NewEncoder(w).Encode(orderResponse{OrderID: 42, Status: "CANCELED"})
	})

	out, err := a.CancelOrder(context.Background(), "ETH-USDT", "42")
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if out.Kind != domain.CancelOK {
		t.Errorf("Kind = %v, want CancelOK", out.Kind)
	}
}

func TestPlaceLimitOrder(t *testing.T) {
	a := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("symbol") != "ETHUSDT" {
			t.Errorf("symbol = %s, want ETHUSDT", q.Get("symbol"))
		}
		if q.Get("type") != "LIMIT" || q.Get("timeInForce") != "GTC" {
			t.Errorf("unexpected order params: %v", q)
		}
		if q.Get("side") != "SELL" {
			t.Errorf("side = %s, want SELL", q.Get("side"))
		}
		_ = json.NewEncoder(w).Encode(orderResponse{OrderID: 7, OrigQty: "2", Status: "NEW"})
	})

	ack, err := a.PlaceLimitOrder(context.Background(), "ETH-USDT", domain.SideShort, 101.0, 2.0)
	if err != nil {
		t.Fatalf("PlaceLimitOrder: %v", err)
	}
	if ack.OrderID != "7" || ack.Qty != 2.0 {
		t.Errorf("ack = %+v, want id 7 qty 2", ack)
	}
}

func TestParseDepth(t *testing.T) {
	raw := []byte(`{"e":"depthUpdate","E":1700000000000,"s":"ETHUSDT",` +
		`"b":[["100.5","5"],["100.0","3"],["0","0"]],` +
		`"a":[["101.0","2"]]}`)

	snap, ok := parseDepth(raw, "binance", "ETH-USDT")
	if !ok {
		t.Fatal("parseDepth rejected valid frame")
	}
	if len(snap.Bids) != 2 {
		t.Errorf("bids = %d, want 2 (zero-size level dropped)", len(snap.Bids))
	}
	if snap.BestBid().Price != 100.5 || snap.BestAsk().Price != 101.0 {
		t.Errorf("top of book = %v / %v", snap.BestBid().Price, snap.BestAsk().Price)
	}
	if snap.Symbol != "ETH-USDT" {
		t.Errorf("symbol = %s, internal form expected", snap.Symbol)
	}
}

func TestParseOrderUpdate(t *testing.T) {
	raw := []byte(`{"e":"ORDER_TRADE_UPDATE","E":1700000000000,` +
		`"o":{"s":"ETHUSDT","S":"BUY","i":99,"X":"PARTIALLY_FILLED","z":"1.5","ap":"100.25","L":"100.3"}}`)

	ev, ok := parseOrderUpdate(raw, "binance")
	if !ok {
		t.Fatal("parseOrderUpdate rejected valid frame")
	}
	if ev.OrderID != "99" || ev.FillSz != 1.5 || ev.Price != 100.25 {
		t.Errorf("event = %+v", ev)
	}
	if ev.Status != domain.FillStatusPartiallyFilled {
		t.Errorf("status = %v", ev.Status)
	}

	if _, ok := parseOrderUpdate([]byte(`{"e":"ACCOUNT_UPDATE"}`), "binance"); ok {
		t.Error("non-order frame accepted")
	}
}
