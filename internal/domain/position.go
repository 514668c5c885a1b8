package domain

// Position is the venue-reported position state for one symbol. It is the
// authoritative ground truth: when reconciling, the engine always prefers it
// over locally accumulated fill sums, because local bookkeeping can diverge
// from venue state (partial acks lost to reconnects and similar).
type Position struct {
	Symbol        string
	Side          Side
	Size          float64
	EntryPrice    float64
	UnrealizedPnL float64
}

// SignedSize returns the position size with long positive and short negative.
func (p Position) SignedSize() float64 {
	if p.Side == SideShort {
		return -p.Size
	}
	return p.Size
}
