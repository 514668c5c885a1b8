package domain

import "time"

// FillStatus tracks the order lifecycle as reported by the venue.
type FillStatus string

const (
	FillStatusNew             FillStatus = "NEW"
	FillStatusPartiallyFilled FillStatus = "PARTIALLY_FILLED"
	FillStatusFilled          FillStatus = "FILLED"
	FillStatusCanceled        FillStatus = "CANCELED"
	FillStatusRejected        FillStatus = "REJECTED"
	FillStatusExpired         FillStatus = "EXPIRED"
)

// Terminal reports whether the status admits no further fills.
func (s FillStatus) Terminal() bool {
	switch s {
	case FillStatusFilled, FillStatusCanceled, FillStatusRejected, FillStatusExpired:
		return true
	}
	return false
}

// FillState is the tracked fill progress of one order. FilledQty is
// monotonically non-decreasing for a given order id regardless of event
// arrival order or duplication.
type FillState struct {
	OrderID   string
	TargetQty float64
	FilledQty float64
	LastPrice float64
	Status    FillStatus
	UpdatedAt time.Time
}

// Remaining returns the unfilled quantity, never negative.
func (s FillState) Remaining() float64 {
	if r := s.TargetQty - s.FilledQty; r > 0 {
		return r
	}
	return 0
}

// FillEvent is a private-stream fill notification pushed by a venue.
type FillEvent struct {
	Venue   string
	Symbol  string
	OrderID string
	FillSz  float64
	Price   float64
	Status  FillStatus
	At      time.Time
}
