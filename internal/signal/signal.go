package signal

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Gowthamkjaya/crypto-sub000/internal/market"
)

// Tier grades how much weight a decision may put on a signal.
type Tier string

const (
	// TierInsufficient means a book side was stale or empty; take no action.
	TierInsufficient Tier = "INSUFFICIENT_DATA"
	// TierLow means time remaining is inside the stale-signal window.
	TierLow Tier = "LOW"
	TierHigh Tier = "HIGH"
)

// SideEdge is the edge evaluated independently for one leg: fair value minus
// the probability implied by the price a taker would actually pay or receive.
type SideEdge struct {
	// BuyEdge is fair value minus the best-ask-implied probability.
	BuyEdge decimal.Decimal
	// SellEdge is the best-bid-implied probability minus fair value.
	SellEdge decimal.Decimal
}

// Signal is the per-tick trading view derived from a snapshot. Recomputed
// every tick, never persisted.
type Signal struct {
	MarketID  string
	FairYes   decimal.Decimal // fair-value probability estimate for YES
	Yes       SideEdge
	No        SideEdge
	Tier      Tier
	Remaining time.Duration
	Reason    string // set when the tier is degraded, for the skip log
}

// Edge returns the side edges for a leg.
func (s Signal) Edge(leg market.Leg) SideEdge {
	if leg == market.LegYes {
		return s.Yes
	}
	return s.No
}
