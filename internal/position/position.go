package position

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Gowthamkjaya/crypto-sub000/internal/market"
)

// FillEvent is a confirmed (possibly partial) execution reported by the venue.
// The fill id is globally unique and is the idempotency key for ApplyFill.
type FillEvent struct {
	ID       string
	OrderID  string
	MarketID string
	Leg      market.Leg
	Action   market.Action
	Price    decimal.Decimal
	Size     decimal.Decimal
	Seq      int64
	At       time.Time
}

// Position is the per-market inventory: net quantity and weighted average
// entry per leg, realized P&L, and a version counter bumped on every mutation.
type Position struct {
	MarketID    string
	YesQty      decimal.Decimal
	YesAvgPrice decimal.Decimal
	NoQty       decimal.Decimal
	NoAvgPrice  decimal.Decimal
	RealizedPnL decimal.Decimal
	Version     int64
	UpdatedAt   time.Time
}

// Qty returns the net quantity held on a leg.
func (p Position) Qty(leg market.Leg) decimal.Decimal {
	if leg == market.LegYes {
		return p.YesQty
	}
	return p.NoQty
}

// AvgPrice returns the weighted average entry price for a leg.
func (p Position) AvgPrice(leg market.Leg) decimal.Decimal {
	if leg == market.LegYes {
		return p.YesAvgPrice
	}
	return p.NoAvgPrice
}

// Skew is the YES/NO inventory imbalance: positive when YES-heavy.
func (p Position) Skew() decimal.Decimal {
	return p.YesQty.Sub(p.NoQty)
}

// IsFlat reports whether both legs are empty.
func (p Position) IsFlat() bool {
	return p.YesQty.IsZero() && p.NoQty.IsZero()
}

// Exposure marks both legs against the snapshot and returns the absolute
// currency exposure |yes_qty*yes_mark + no_qty*no_mark|.
func (p Position) Exposure(snap market.Snapshot) decimal.Decimal {
	return p.YesQty.Mul(snap.Mark(market.LegYes)).
		Add(p.NoQty.Mul(snap.Mark(market.LegNo))).
		Abs()
}
