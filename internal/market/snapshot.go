package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is one side of a book top: best price and the size resting at it.
type Quote struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// IsZero reports whether the quote carries no liquidity.
func (q Quote) IsZero() bool {
	return q.Price.IsZero() || q.Size.IsZero()
}

// BookTop is the top of book for a single leg, plus a staleness flag set when
// the source failed to respond this tick.
type BookTop struct {
	BestBid Quote
	BestAsk Quote
	Stale   bool
}

// HasDepth reports whether both sides of the top carry liquidity.
func (b BookTop) HasDepth() bool {
	return !b.BestBid.IsZero() && !b.BestAsk.IsZero()
}

// Snapshot is the per-tick view of a market: the reference price and the top
// of book for each leg. Produced once per tick, consumed and discarded; never
// mutated.
type Snapshot struct {
	MarketID       string
	ReferencePrice decimal.Decimal
	ReferenceAt    time.Time
	ReferenceStale bool
	Yes            BookTop
	No             BookTop
	CapturedAt     time.Time
}

// Book returns the book top for a leg.
func (s Snapshot) Book(leg Leg) BookTop {
	if leg == LegYes {
		return s.Yes
	}
	return s.No
}

// Mark returns the mid price for a leg, falling back to whichever side of the
// top has liquidity. Used to mark inventory for exposure checks.
func (s Snapshot) Mark(leg Leg) decimal.Decimal {
	b := s.Book(leg)
	switch {
	case b.HasDepth():
		return b.BestBid.Price.Add(b.BestAsk.Price).Div(decimal.NewFromInt(2))
	case !b.BestBid.IsZero():
		return b.BestBid.Price
	case !b.BestAsk.IsZero():
		return b.BestAsk.Price
	default:
		return decimal.Zero
	}
}

// Degraded returns a copy of s with every source flagged stale. Used when the
// snapshot fetch fails and the tick proceeds with no fresh data.
func Degraded(marketID string, at time.Time) Snapshot {
	return Snapshot{
		MarketID:       marketID,
		ReferenceStale: true,
		Yes:            BookTop{Stale: true},
		No:             BookTop{Stale: true},
		CapturedAt:     at,
	}
}
