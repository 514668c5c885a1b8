package domain

import (
	"context"
	"time"
)

// LegSpec describes one side of a pair before any order exists: which venue,
// which direction, and the initial passive price.
type LegSpec struct {
	Venue string
	Side  Side
	Price float64
}

// LegPair is the unit of execution: two offsetting legs placed together and
// driven to completion as one transaction. It exists only for the duration of
// one escalation cycle and is discarded once both legs are confirmed filled
// or the pair is abandoned after an emergency balance.
type LegPair struct {
	ID     string
	Symbol string
	LegA   LegSpec
	LegB   LegSpec
	// TargetQty is the identical quantity for both legs. When either QtyA or
	// QtyB is set the pair is explicitly per-leg sized and both overrides
	// apply as-is, including a zero (that leg places no orders and only gets
	// its position verified). Used for closing cycles with uneven venue
	// positions and for remainders after a peak-hold window.
	TargetQty float64
	QtyA      float64
	QtyB      float64
	// ReduceOnly marks a closing cycle: every order the escalation places can
	// only shrink an existing position.
	ReduceOnly bool
}

// LegQtys resolves the per-leg quantities: TargetQty for both unless either
// override is set, in which case both overrides apply verbatim.
func (p LegPair) LegQtys() (qtyA, qtyB float64) {
	if p.QtyA > 0 || p.QtyB > 0 {
		return p.QtyA, p.QtyB
	}
	return p.TargetQty, p.TargetQty
}

// SignedQty returns the position change this leg produces when filled for
// qty: long positive, short negative.
func (l LegSpec) SignedQty(qty float64) float64 {
	if l.Side == SideShort {
		return -qty
	}
	return qty
}

// ExecutionAction names the final action the engine took for a leg pair.
type ExecutionAction string

const (
	ActionBothFilled       ExecutionAction = "both_filled"
	ActionEscalatedA       ExecutionAction = "escalated_leg_a"
	ActionEscalatedB       ExecutionAction = "escalated_leg_b"
	ActionEscalatedBoth    ExecutionAction = "escalated_both"
	ActionEmergencyBalance ExecutionAction = "emergency_balance"
	ActionAborted          ExecutionAction = "aborted"
)

// ExecutionResult is the structured outcome of driving one leg pair. Engine
// failures never escape as errors from Execute; they resolve to Success=false
// with diagnostics so the caller decides whether to halt or retry.
type ExecutionResult struct {
	PairID     string
	Success    bool
	LegAFilled float64
	LegBFilled float64
	// DeltaA/DeltaB are reported minus expected position deltas per leg after the
	// final position check. Zero when the pair balanced cleanly.
	DeltaA      float64
	DeltaB      float64
	ActionTaken ExecutionAction
	Err         string
	StartedAt   time.Time
	CompletedAt time.Time
}

// ExecutionStore persists finished executions for post-trade analysis.
type ExecutionStore interface {
	Create(ctx context.Context, rec ExecutionRecord) error
	ListRecent(ctx context.Context, limit int) ([]ExecutionRecord, error)
}

// ExecutionRecord is the persisted form of an ExecutionResult plus the pair
// context needed to read it back without the live LegPair.
type ExecutionRecord struct {
	ID          string
	Symbol      string
	VenueA      string
	VenueB      string
	SideA       Side
	SideB       Side
	TargetQty   float64
	LegAFilled  float64
	LegBFilled  float64
	DeltaA      float64
	DeltaB      float64
	ActionTaken ExecutionAction
	Success     bool
	Err         string
	StartedAt   time.Time
	CompletedAt time.Time
}
