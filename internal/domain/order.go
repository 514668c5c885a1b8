package domain

import "time"

// Side is the direction of a position leg.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Opposite returns the closing direction for a side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// OrderHandle identifies one acknowledged order on one venue. It is created
// when the order is placed and never mutated afterwards; the execution engine
// and fill tracker hold references to it.
type OrderHandle struct {
	Venue     string
	Symbol    string
	OrderID   string
	Side      Side
	Qty       float64
	Price     float64 // 0 for market orders
	CreatedAt time.Time
}

// OrderAck is the venue response to an order placement.
type OrderAck struct {
	OrderID string
	Qty     float64
}

// OrderStatus is the raw order status reported by a venue. FillSz is kept as
// the venue's string because at least one venue is known to return a prose
// sentinel ("Order has zero size.") in place of a number; see
// tracker.ExtractFillSize for the fallback policy.
type OrderStatus struct {
	OrderID string
	FillSz  string
	Price   float64
	State   string
}

// CancelKind classifies the outcome of a cancel request.
type CancelKind int

const (
	// CancelOK: the venue accepted the cancel.
	CancelOK CancelKind = iota
	// CancelAlreadyFilled: the order filled before the cancel landed.
	CancelAlreadyFilled
	// CancelNotFound: the venue no longer knows the order.
	CancelNotFound
	// CancelInvalidOrder: the venue rejected the request as malformed.
	CancelInvalidOrder
	// CancelUnknown: unclassified venue error; Message carries the raw text.
	CancelUnknown
)

// CancelOutcome is the tagged result of a cancel request. The three benign
// kinds (AlreadyFilled, NotFound, InvalidOrder) signal that the order needs a
// position re-check rather than a cancel retry.
type CancelOutcome struct {
	Kind    CancelKind
	Message string
}

// Benign reports whether the outcome requires no further cancel attempts.
func (o CancelOutcome) Benign() bool {
	switch o.Kind {
	case CancelOK, CancelAlreadyFilled, CancelNotFound, CancelInvalidOrder:
		return true
	}
	return false
}

func (k CancelKind) String() string {
	switch k {
	case CancelOK:
		return "ok"
	case CancelAlreadyFilled:
		return "already_filled"
	case CancelNotFound:
		return "not_found"
	case CancelInvalidOrder:
		return "invalid_order"
	default:
		return "unknown"
	}
}
