package hedge

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/Gowthamkjaya/crypto-sub000/internal/config"
	"github.com/Gowthamkjaya/crypto-sub000/internal/execution"
	"github.com/Gowthamkjaya/crypto-sub000/internal/market"
	"github.com/Gowthamkjaya/crypto-sub000/internal/position"
	"github.com/Gowthamkjaya/crypto-sub000/internal/signal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// HEDGE CONTROLLER
// ═══════════════════════════════════════════════════════════════════════════════
//
// Decides, each tick, what order(s) to place. Four branches, in priority
// order:
//
//   UNWIND  inside the hedge-only floor: only orders that walk net exposure
//           toward zero; directional entries are blocked even on edge
//   HEDGE   approaching resolution with YES/NO inventory skewed past the
//           threshold: buy the under-weighted leg, no standalone edge needed
//   EXIT    holding inventory whose sell edge clears the minimum: sell
//   ALPHA   a buy edge clears the minimum and limits allow: buy the clip
//
// At most one in-flight order per leg; a LimitExceeded from the position
// manager suppresses the candidate for this tick only. Every skipped decision
// is logged with its reason.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Kind labels why a decision was made.
type Kind string

const (
	KindAlpha  Kind = "ALPHA"
	KindExit   Kind = "EXIT"
	KindHedge  Kind = "HEDGE"
	KindUnwind Kind = "UNWIND"
)

// Decision is one order the controller wants submitted this tick.
type Decision struct {
	Kind   Kind
	Leg    market.Leg
	Action market.Action
	Price  decimal.Decimal
	Size   decimal.Decimal
	Reason string
}

// Controller holds the per-market decision policy. The decision function is
// parameterized entirely by Limits; strategies differ by configuration, not
// by reimplementation.
type Controller struct {
	limits config.Limits
	mgr    *position.Manager
	exec   *execution.Executor
}

// NewController wires the controller to its market's position manager and
// executor.
func NewController(limits config.Limits, mgr *position.Manager, exec *execution.Executor) *Controller {
	return &Controller{limits: limits, mgr: mgr, exec: exec}
}

// Decide produces the orders to submit for this tick. Pure with respect to
// position state: nothing is mutated here.
func (c *Controller) Decide(sig signal.Signal, snap market.Snapshot) []Decision {
	if sig.Tier == signal.TierInsufficient {
		log.Debug().
			Str("market", sig.MarketID).
			Str("reason", sig.Reason).
			Msg("⏭️ No action: insufficient data")
		return nil
	}

	pos := c.mgr.Current()

	if sig.Remaining < c.limits.HedgeOnlyFloor {
		return c.unwind(sig, snap, pos)
	}

	var out []Decision

	if d, ok := c.skewHedge(sig, snap, pos); ok {
		out = append(out, d)
	}
	out = append(out, c.exits(sig, snap, pos)...)
	if sig.Tier == signal.TierHigh {
		out = append(out, c.alpha(sig, snap)...)
	}

	return c.capOpenOrders(sig.MarketID, out)
}

// unwind emits only exposure-reducing orders: sell whatever we hold into the
// bid, leg by leg. New directional orders are blocked inside the floor.
func (c *Controller) unwind(sig signal.Signal, snap market.Snapshot, pos position.Position) []Decision {
	var out []Decision
	for _, leg := range []market.Leg{market.LegYes, market.LegNo} {
		qty := pos.Qty(leg)
		if qty.LessThanOrEqual(decimal.Zero) {
			continue
		}
		if c.exec.HasLive(leg) {
			log.Debug().Str("market", sig.MarketID).Str("leg", string(leg)).
				Msg("⏭️ Unwind suppressed: order in flight")
			continue
		}
		bid := snap.Book(leg).BestBid
		if bid.IsZero() {
			log.Warn().Str("market", sig.MarketID).Str("leg", string(leg)).
				Msg("⏭️ Unwind skipped: no bid to sell into")
			continue
		}
		size := decimal.Min(c.limits.ClipSize, qty)
		out = append(out, Decision{
			Kind:   KindUnwind,
			Leg:    leg,
			Action: market.ActionSell,
			Price:  bid.Price,
			Size:   size,
			Reason: fmt.Sprintf("unwind %s inside hedge-only floor (%.0fs left)", leg, sig.Remaining.Seconds()),
		})
	}
	return out
}

// skewHedge buys the under-weighted leg when inventory is imbalanced past the
// threshold while approaching resolution. This is the hedge proper: no
// standalone edge required.
func (c *Controller) skewHedge(sig signal.Signal, snap market.Snapshot, pos position.Position) (Decision, bool) {
	if sig.Remaining > c.limits.HedgeWindow {
		return Decision{}, false
	}
	skew := pos.Skew()
	if skew.Abs().LessThanOrEqual(c.limits.SkewThreshold) {
		return Decision{}, false
	}

	under := market.LegNo
	if skew.IsNegative() {
		under = market.LegYes
	}
	if c.exec.HasLive(under) {
		log.Debug().Str("market", sig.MarketID).Str("leg", string(under)).
			Msg("⏭️ Skew hedge suppressed: order in flight")
		return Decision{}, false
	}

	ask := snap.Book(under).BestAsk
	if ask.IsZero() {
		log.Warn().Str("market", sig.MarketID).Str("leg", string(under)).
			Msg("⏭️ Skew hedge skipped: no ask")
		return Decision{}, false
	}

	size := c.buySize(under, ask.Price, snap, skew.Abs())
	if !size.IsPositive() {
		return Decision{}, false
	}
	if err := c.checkLimit(sig.MarketID, under, market.ActionBuy, size, snap); err != nil {
		return Decision{}, false
	}

	return Decision{
		Kind:   KindHedge,
		Leg:    under,
		Action: market.ActionBuy,
		Price:  ask.Price,
		Size:   size,
		Reason: fmt.Sprintf("skew %s past threshold %s", skew.StringFixed(2), c.limits.SkewThreshold),
	}, true
}

// exits sells held inventory whose sell edge clears the minimum.
func (c *Controller) exits(sig signal.Signal, snap market.Snapshot, pos position.Position) []Decision {
	var out []Decision
	for _, leg := range []market.Leg{market.LegYes, market.LegNo} {
		qty := pos.Qty(leg)
		if qty.LessThanOrEqual(decimal.Zero) {
			continue
		}
		edge := sig.Edge(leg).SellEdge
		if edge.LessThan(c.limits.MinEdge) {
			continue
		}
		if c.exec.HasLive(leg) {
			log.Debug().Str("market", sig.MarketID).Str("leg", string(leg)).
				Msg("⏭️ Exit suppressed: order in flight")
			continue
		}
		bid := snap.Book(leg).BestBid
		out = append(out, Decision{
			Kind:   KindExit,
			Leg:    leg,
			Action: market.ActionSell,
			Price:  bid.Price,
			Size:   decimal.Min(c.limits.ClipSize, qty),
			Reason: fmt.Sprintf("sell edge %s on %s", edge.StringFixed(3), leg),
		})
	}
	return out
}

// alpha buys a leg whose buy edge clears the minimum, sized to the clip and
// the remaining capacity under the exposure limit.
func (c *Controller) alpha(sig signal.Signal, snap market.Snapshot) []Decision {
	var out []Decision
	for _, leg := range []market.Leg{market.LegYes, market.LegNo} {
		edge := sig.Edge(leg).BuyEdge
		if edge.LessThan(c.limits.MinEdge) {
			continue
		}
		if c.exec.HasLive(leg) {
			log.Debug().Str("market", sig.MarketID).Str("leg", string(leg)).
				Msg("⏭️ Entry suppressed: order in flight")
			continue
		}
		ask := snap.Book(leg).BestAsk
		size := c.buySize(leg, ask.Price, snap, decimal.Zero)
		if !size.IsPositive() {
			log.Info().Str("market", sig.MarketID).Str("leg", string(leg)).
				Msg("⏭️ Entry skipped: no capacity under exposure limit")
			continue
		}
		if err := c.checkLimit(sig.MarketID, leg, market.ActionBuy, size, snap); err != nil {
			continue
		}
		out = append(out, Decision{
			Kind:   KindAlpha,
			Leg:    leg,
			Action: market.ActionBuy,
			Price:  ask.Price,
			Size:   size,
			Reason: fmt.Sprintf("buy edge %s on %s (fair YES %s)", edge.StringFixed(3), leg, sig.FairYes.StringFixed(3)),
		})
	}
	return out
}

// buySize returns min(clip, capacity-to-limit converted to shares), further
// capped by target when positive (the skew magnitude for hedges).
func (c *Controller) buySize(leg market.Leg, price decimal.Decimal, snap market.Snapshot, target decimal.Decimal) decimal.Decimal {
	if price.IsZero() {
		return decimal.Zero
	}
	size := c.limits.ClipSize
	if capacity := c.mgr.RemainingCapacity(snap); capacity.IsPositive() {
		capShares := capacity.Div(price).Truncate(2)
		size = decimal.Min(size, capShares)
	} else if c.limits.MaxNetExposure.IsPositive() {
		return decimal.Zero
	}
	if target.IsPositive() {
		size = decimal.Min(size, target)
	}
	return size
}

// checkLimit runs the advisory exposure pre-check and logs a skipped decision.
// The candidate is not retried this tick; next tick re-evaluates fresh state.
func (c *Controller) checkLimit(marketID string, leg market.Leg, action market.Action, size decimal.Decimal, snap market.Snapshot) error {
	err := c.mgr.CheckOrder(leg, action, size, snap)
	if err != nil {
		var riskErr *position.RiskError
		if errors.As(err, &riskErr) {
			log.Info().
				Str("market", marketID).
				Str("leg", string(leg)).
				Str("reason", riskErr.Reason).
				Msg("🚫 Order blocked by risk limit")
		}
	}
	return err
}

// capOpenOrders trims decisions that would push the market past the
// concurrent open-order cap.
func (c *Controller) capOpenOrders(marketID string, decisions []Decision) []Decision {
	if c.limits.MaxOpenOrders <= 0 {
		return decisions
	}
	live := len(c.exec.AllLive())
	room := c.limits.MaxOpenOrders - live
	if room < 0 {
		room = 0
	}
	if len(decisions) > room {
		for _, d := range decisions[room:] {
			log.Info().
				Str("market", marketID).
				Str("leg", string(d.Leg)).
				Str("kind", string(d.Kind)).
				Msg("🚫 Decision dropped: open-order cap reached")
		}
		decisions = decisions[:room]
	}
	return decisions
}
