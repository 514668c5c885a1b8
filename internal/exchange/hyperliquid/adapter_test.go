package hyperliquid

import (
	"testing"

	"github.com/avelin/cexarb/internal/domain"
)

func TestClassifyCancelMessage(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want domain.CancelKind
	}{
		{
			"dead order",
			"Order was never placed, already canceled, or filled. asset=4",
			domain.CancelAlreadyFilled,
		},
		{"never placed only", "Order was never placed. asset=4", domain.CancelNotFound},
		{"unknown oid", "Unknown oid 123", domain.CancelNotFound},
		{"invalid", "Invalid order id", domain.CancelInvalidOrder},
		{"anything else", "Insufficient margin to place order.", domain.CancelUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := classifyCancelMessage(tt.msg)
			if out.Kind != tt.want {
				t.Errorf("kind = %v, want %v", out.Kind, tt.want)
			}
			if out.Message != tt.msg {
				t.Errorf("message not preserved: %q", out.Message)
			}
		})
	}
}

func TestFormatPxSz(t *testing.T) {
	// szDecimals=4 leaves 2 price decimals under the 6-digit budget.
	if got := formatPx(1847.123456, 4); got != "1847.12" {
		t.Errorf("formatPx = %s, want 1847.12", got)
	}
	if got := formatSz(0.12349, 4); got != "0.1234" {
		t.Errorf("formatSz = %s, want 0.1234 (round down)", got)
	}
	if got := formatSz(2, 4); got != "2" {
		t.Errorf("formatSz = %s, want 2", got)
	}
}

func TestCoin(t *testing.T) {
	if got := coin("ETH-USDT"); got != "ETH" {
		t.Errorf("coin = %s, want ETH", got)
	}
	if got := coin("BTC"); got != "BTC" {
		t.Errorf("coin = %s, want BTC", got)
	}
}

func TestParseL2Book(t *testing.T) {
	raw := []byte(`{"channel":"l2Book","data":{"coin":"ETH","time":1700000000000,` +
		`"levels":[[{"px":"101.0","sz":"5","n":2}],[{"px":"101.2","sz":"5","n":1}]]}}`)

	snap, ok := parseL2Book(raw, "hyperliquid", "ETH-USDT")
	if !ok {
		t.Fatal("parseL2Book rejected valid frame")
	}
	if snap.BestBid().Price != 101.0 || snap.BestAsk().Price != 101.2 {
		t.Errorf("top of book = %v / %v", snap.BestBid().Price, snap.BestAsk().Price)
	}
	if snap.Venue != "hyperliquid" || snap.Symbol != "ETH-USDT" {
		t.Errorf("identity = %s %s", snap.Venue, snap.Symbol)
	}
}

func TestParseOrderUpdates(t *testing.T) {
	raw := []byte(`{"channel":"orderUpdates","data":[` +
		`{"order":{"coin":"ETH","oid":55,"sz":"0.5","origSz":"2.0","limitPx":"100.5"},"status":"open","statusTimestamp":1700000000000},` +
		`{"order":{"coin":"BTC","oid":56,"sz":"0","origSz":"1","limitPx":"30000"},"status":"filled","statusTimestamp":1700000000000}]}`)

	events := parseOrderUpdates(raw, "hyperliquid", "ETH-USDT", "ETH")
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1 (other coin filtered)", len(events))
	}
	ev := events[0]
	if ev.OrderID != "55" || ev.FillSz != 1.5 {
		t.Errorf("event = %+v, want oid 55 cumulative fill 1.5", ev)
	}
}

func TestSignActionDeterministicHash(t *testing.T) {
	action := cancelAction{Type: "cancel", Cancels: []wireCancel{{Asset: 4, Oid: 77}}}

	h1, err := actionHash(action, 1700000000000)
	if err != nil {
		t.Fatalf("actionHash: %v", err)
	}
	h2, err := actionHash(action, 1700000000000)
	if err != nil {
		t.Fatalf("actionHash: %v", err)
	}
	if string(h1) != string(h2) {
		t.Error("actionHash not deterministic")
	}

	h3, _ := actionHash(action, 1700000000001)
	if string(h1) == string(h3) {
		t.Error("nonce not mixed into hash")
	}
}

func TestLocalSignerRoundTrip(t *testing.T) {
	signer, err := NewLocalSigner("0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d", false)
	if err != nil {
		t.Fatalf("NewLocalSigner: %v", err)
	}
	// Well-known test vector key; its address is fixed.
	if signer.Address() != "0x70997970C51812dc3A010C7d01b50e0d17dc79C8" {
		t.Errorf("Address = %s", signer.Address())
	}

	sig, err := signer.SignAction(cancelAction{Type: "cancel"}, 42)
	if err != nil {
		t.Fatalf("SignAction: %v", err)
	}
	if len(sig.R) != 66 || len(sig.S) != 66 {
		t.Errorf("signature components malformed: r=%s s=%s", sig.R, sig.S)
	}
	if sig.V != 27 && sig.V != 28 {
		t.Errorf("v = %d, want 27 or 28", sig.V)
	}
}
