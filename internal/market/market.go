package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// Leg is one of the two complementary outcome tokens of a binary market.
type Leg string

const (
	LegYes Leg = "YES"
	LegNo  Leg = "NO"
)

// Other returns the complementary leg.
func (l Leg) Other() Leg {
	if l == LegYes {
		return LegNo
	}
	return LegYes
}

// Action is the direction of an order on a leg.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// Market identifies a single binary-outcome instrument pair. Immutable once
// created; discarded after resolution is recorded.
type Market struct {
	ID           string
	YesTokenID   string
	NoTokenID    string
	ReferenceSym string // spot pair the market tracks, e.g. "BTCUSDT"
	Strike       decimal.Decimal
	ResolvesAt   time.Time
}

// TokenID returns the venue token id for a leg.
func (m Market) TokenID(leg Leg) string {
	if leg == LegYes {
		return m.YesTokenID
	}
	return m.NoTokenID
}

// TimeToResolution returns the remaining window, floored at zero.
func (m Market) TimeToResolution(now time.Time) time.Duration {
	d := m.ResolvesAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
