package signal

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Gowthamkjaya/crypto-sub000/internal/market"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EDGE CALCULATOR
// ═══════════════════════════════════════════════════════════════════════════════
//
// Turns a snapshot into a trading signal:
//
//   fair value  = model's P(YES resolves true) given reference price vs strike
//   buy edge    = fair value - ask-implied probability
//   sell edge   = bid-implied probability - fair value
//
// YES and NO are evaluated independently: the two books can be illiquid
// asymmetrically, and a cheap NO ask is not the same trade as a rich YES bid.
//
// Pure function of its inputs. The fair-value model is pluggable behind
// FairValueModel; the engine never hardcodes one.
//
// ═══════════════════════════════════════════════════════════════════════════════

// FairValueModel estimates P(YES) from the reference price, the strike, and
// the time remaining in the window.
type FairValueModel interface {
	FairYes(reference, strike decimal.Decimal, remaining time.Duration) decimal.Decimal
}

// Calculator derives signals from snapshots.
type Calculator struct {
	model FairValueModel
	// lowTierFloor is the time remaining below which the signal is graded LOW.
	lowTierFloor time.Duration
}

// NewCalculator builds a calculator around a fair-value model.
func NewCalculator(model FairValueModel, lowTierFloor time.Duration) *Calculator {
	return &Calculator{model: model, lowTierFloor: lowTierFloor}
}

// Compute derives the signal for one tick. No side effects; identical inputs
// always yield an identical signal.
func (c *Calculator) Compute(snap market.Snapshot, m market.Market, now time.Time) Signal {
	remaining := m.TimeToResolution(now)

	sig := Signal{
		MarketID:  m.ID,
		Remaining: remaining,
	}

	if snap.ReferenceStale || snap.ReferencePrice.IsZero() {
		sig.Tier = TierInsufficient
		sig.Reason = "reference price stale"
		return sig
	}
	if snap.Yes.Stale || snap.No.Stale {
		sig.Tier = TierInsufficient
		sig.Reason = "order book stale"
		return sig
	}
	if !snap.Yes.HasDepth() || !snap.No.HasDepth() {
		sig.Tier = TierInsufficient
		sig.Reason = "empty book side"
		return sig
	}

	fairYes := clampProb(c.model.FairYes(snap.ReferencePrice, m.Strike, remaining))
	fairNo := decimal.NewFromInt(1).Sub(fairYes)

	sig.FairYes = fairYes
	sig.Yes = sideEdge(fairYes, snap.Yes)
	sig.No = sideEdge(fairNo, snap.No)

	if remaining < c.lowTierFloor {
		sig.Tier = TierLow
		sig.Reason = fmt.Sprintf("%.0fs to resolution", remaining.Seconds())
	} else {
		sig.Tier = TierHigh
	}

	return sig
}

func sideEdge(fair decimal.Decimal, book market.BookTop) SideEdge {
	return SideEdge{
		BuyEdge:  fair.Sub(book.BestAsk.Price),
		SellEdge: book.BestBid.Price.Sub(fair),
	}
}

func clampProb(p decimal.Decimal) decimal.Decimal {
	lo := decimal.NewFromFloat(0.01)
	hi := decimal.NewFromFloat(0.99)
	if p.LessThan(lo) {
		return lo
	}
	if p.GreaterThan(hi) {
		return hi
	}
	return p
}

// ═══════════════════════════════════════════════════════════════════════════════
// DEFAULT MODEL
// ═══════════════════════════════════════════════════════════════════════════════

// LogisticModel maps the reference's distance from the strike through a
// logistic curve whose steepness grows as time runs out: the same move is far
// more decisive with 30s left than with 10 minutes left.
type LogisticModel struct {
	// Steepness scales how fast probability saturates with relative distance.
	Steepness float64
}

// DefaultLogisticModel returns the model with the steepness used in live runs.
func DefaultLogisticModel() LogisticModel {
	return LogisticModel{Steepness: 600}
}

// FairYes implements FairValueModel.
func (lm LogisticModel) FairYes(reference, strike decimal.Decimal, remaining time.Duration) decimal.Decimal {
	if strike.IsZero() {
		return decimal.NewFromFloat(0.5)
	}

	dist := reference.Sub(strike).Div(strike).InexactFloat64()

	// Normalize by sqrt of remaining minutes so a fixed move matters more as
	// the window closes. Floor at 15s so the curve stays finite.
	minutes := remaining.Minutes()
	if minutes < 0.25 {
		minutes = 0.25
	}
	z := lm.Steepness * dist / math.Sqrt(minutes)

	return decimal.NewFromFloat(1.0 / (1.0 + math.Exp(-z)))
}
