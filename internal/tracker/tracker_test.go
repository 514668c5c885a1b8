package tracker

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/avelin/cexarb/internal/domain"
)

func newTracker(t *testing.T) *FillTracker {
	t.Helper()
	return New(2*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestExtractFillSize(t *testing.T) {
	tests := []struct {
		name      string
		fillSz    string
		requested float64
		want      float64
	}{
		{"numeric", "1.5", 2.0, 1.5},
		{"zero", "0", 2.0, 0},
		{"sentinel prose", "Order has zero size.", 2.0, 2.0},
		{"empty", "", 2.0, 2.0},
		{"whitespace", "  ", 2.0, 2.0},
		{"garbage", "n/a", 2.0, 2.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractFillSize(tt.fillSz, tt.requested); got != tt.want {
				t.Errorf("ExtractFillSize(%q, %v) = %v, want %v", tt.fillSz, tt.requested, got, tt.want)
			}
		})
	}
}

func TestFilledQtyMonotonic(t *testing.T) {
	tr := newTracker(t)
	tr.Track("o1", 5.0)

	tr.ApplyFill(domain.FillEvent{OrderID: "o1", FillSz: 2.0, Status: domain.FillStatusPartiallyFilled})
	tr.ApplyFill(domain.FillEvent{OrderID: "o1", FillSz: 3.5, Status: domain.FillStatusPartiallyFilled})
	// Late, out-of-order replay of the earlier event.
	tr.ApplyFill(domain.FillEvent{OrderID: "o1", FillSz: 2.0, Status: domain.FillStatusPartiallyFilled})

	st, ok := tr.Get("o1")
	if !ok {
		t.Fatal("order not tracked")
	}
	if st.FilledQty != 3.5 {
		t.Errorf("FilledQty = %v, want 3.5", st.FilledQty)
	}
	if st.Remaining() != 1.5 {
		t.Errorf("Remaining = %v, want 1.5", st.Remaining())
	}
}

func TestTerminalStatusSticks(t *testing.T) {
	tr := newTracker(t)
	tr.Track("o1", 2.0)

	tr.ApplyFill(domain.FillEvent{OrderID: "o1", FillSz: 2.0, Status: domain.FillStatusFilled})
	// Duplicate delivery of an earlier partial must not regress the status.
	tr.ApplyFill(domain.FillEvent{OrderID: "o1", FillSz: 1.0, Status: domain.FillStatusPartiallyFilled})

	st, _ := tr.Get("o1")
	if st.Status != domain.FillStatusFilled {
		t.Errorf("Status = %v, want FILLED", st.Status)
	}
	if st.FilledQty != 2.0 {
		t.Errorf("FilledQty = %v, want 2.0", st.FilledQty)
	}
}

func TestApplyStatusSentinelFallback(t *testing.T) {
	tr := newTracker(t)
	tr.Track("o1", 2.0)

	tr.ApplyStatus("o1", domain.OrderStatus{OrderID: "o1", FillSz: "Order has zero size."}, domain.FillStatusFilled)

	st, _ := tr.Get("o1")
	if st.FilledQty != 2.0 {
		t.Errorf("FilledQty = %v, want requested 2.0 via sentinel fallback", st.FilledQty)
	}
	if st.Status != domain.FillStatusFilled {
		t.Errorf("Status = %v, want FILLED", st.Status)
	}
}

func TestApplyStatusCanceledUnparsableKeepsPriorFill(t *testing.T) {
	tr := newTracker(t)
	tr.Track("o1", 2.0)
	tr.ApplyFill(domain.FillEvent{OrderID: "o1", FillSz: 0.5, Status: domain.FillStatusPartiallyFilled})

	// A cancel confirmation with a blank fill field means "nothing more
	// traded", not "everything traded". Jumping to the requested quantity here
	// would erase a real open remainder.
	tr.ApplyStatus("o1", domain.OrderStatus{OrderID: "o1", FillSz: ""}, domain.FillStatusCanceled)

	st, _ := tr.Get("o1")
	if st.FilledQty != 0.5 {
		t.Errorf("FilledQty = %v, want 0.5", st.FilledQty)
	}
	if st.Status != domain.FillStatusCanceled {
		t.Errorf("Status = %v, want CANCELED", st.Status)
	}

	tr.Track("o2", 2.0)
	tr.ApplyStatus("o2", domain.OrderStatus{OrderID: "o2", FillSz: "n/a"}, domain.FillStatusRejected)
	st, _ = tr.Get("o2")
	if st.FilledQty != 0 {
		t.Errorf("rejected order FilledQty = %v, want 0", st.FilledQty)
	}
}

func TestApplyStatusLiveOrderUnparsable(t *testing.T) {
	tr := newTracker(t)
	tr.Track("o1", 2.0)
	tr.ApplyFill(domain.FillEvent{OrderID: "o1", FillSz: 0.5, Status: domain.FillStatusPartiallyFilled})

	// A live order with a blank fill field carries no new information and
	// must not jump to the full requested quantity.
	tr.ApplyStatus("o1", domain.OrderStatus{OrderID: "o1", FillSz: ""}, domain.FillStatusPartiallyFilled)

	st, _ := tr.Get("o1")
	if st.FilledQty != 0.5 {
		t.Errorf("FilledQty = %v, want 0.5", st.FilledQty)
	}
}

func TestFreshness(t *testing.T) {
	tr := newTracker(t)
	base := time.Now()
	tr.now = func() time.Time { return base }

	tr.Track("o1", 1.0)
	if !tr.Fresh("o1") {
		t.Error("just-tracked order should be fresh")
	}

	tr.now = func() time.Time { return base.Add(3 * time.Second) }
	if tr.Fresh("o1") {
		t.Error("order past the staleness window should not be fresh")
	}
	if tr.Fresh("unknown") {
		t.Error("untracked order should not be fresh")
	}
}

func TestUntrackedFillEventStartsState(t *testing.T) {
	tr := newTracker(t)

	// Fills can land before Track when the ack races the private stream.
	tr.ApplyFill(domain.FillEvent{OrderID: "o1", FillSz: 1.0, Status: domain.FillStatusPartiallyFilled})
	tr.Track("o1", 4.0)

	st, ok := tr.Get("o1")
	if !ok {
		t.Fatal("order not tracked")
	}
	if st.FilledQty != 1.0 {
		t.Errorf("FilledQty = %v, want 1.0", st.FilledQty)
	}
	if st.TargetQty != 4.0 {
		t.Errorf("TargetQty = %v, want 4.0", st.TargetQty)
	}
}
