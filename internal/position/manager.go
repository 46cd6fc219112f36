package position

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/Gowthamkjaya/crypto-sub000/internal/market"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POSITION & RISK MANAGER
// ═══════════════════════════════════════════════════════════════════════════════
//
// Exclusive owner of one market's inventory. Mutated only by applying
// confirmed fills; everything else is a read or a simulation.
//
// Two rules that matter:
//   1. ApplyFill is idempotent by fill id. Replays are no-ops; a replay that
//      disagrees on quantity is corruption and halts the market.
//   2. Limits gate hypothetical orders, never confirmed fills. The exchange
//      is authoritative: a fill that lands us past max exposure is applied
//      and flagged, not refused.
//
// ═══════════════════════════════════════════════════════════════════════════════

// negativeInventoryTolerance absorbs venue rounding on closing fills. Anything
// further below zero is a broken invariant.
var negativeInventoryTolerance = decimal.NewFromFloat(0.0001)

// Manager owns the Position of a single market and enforces RiskLimits for
// hypothetical orders.
type Manager struct {
	mu sync.Mutex

	pos            Position
	maxNetExposure decimal.Decimal
	limitEpsilon   decimal.Decimal

	applied map[string]decimal.Decimal // fill id -> applied size
}

// NewManager creates a manager with an empty position for marketID.
// maxNetExposure <= 0 disables the exposure limit.
func NewManager(marketID string, maxNetExposure, limitEpsilon decimal.Decimal) *Manager {
	return &Manager{
		pos:            Position{MarketID: marketID},
		maxNetExposure: maxNetExposure,
		limitEpsilon:   limitEpsilon,
		applied:        make(map[string]decimal.Decimal),
	}
}

// Restore seeds the manager from persisted state during startup recovery.
// appliedFills carries the fill ids already booked into pos so replays after
// a restart dedup correctly.
func (mgr *Manager) Restore(pos Position, appliedFills map[string]decimal.Decimal) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	mgr.pos = pos
	mgr.applied = make(map[string]decimal.Decimal, len(appliedFills))
	for id, size := range appliedFills {
		mgr.applied[id] = size
	}

	log.Info().
		Str("market", pos.MarketID).
		Str("yes_qty", pos.YesQty.StringFixed(2)).
		Str("no_qty", pos.NoQty.StringFixed(2)).
		Str("realized", pos.RealizedPnL.StringFixed(4)).
		Int64("version", pos.Version).
		Msg("📥 Position restored")
}

// Current returns a copy of the position.
func (mgr *Manager) Current() Position {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	return mgr.pos
}

// AppliedFills returns the fill ids booked so far, for persistence.
func (mgr *Manager) AppliedFills() map[string]decimal.Decimal {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	out := make(map[string]decimal.Decimal, len(mgr.applied))
	for id, size := range mgr.applied {
		out[id] = size
	}
	return out
}

// ApplyFill books a confirmed fill into the position. Replaying an
// already-applied fill id is a no-op returning the unchanged position.
// Only corruption-class violations return an error.
func (mgr *Manager) ApplyFill(fill FillEvent) (Position, error) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if prev, seen := mgr.applied[fill.ID]; seen {
		if !prev.Equal(fill.Size) {
			return mgr.pos, &CorruptionError{
				MarketID: mgr.pos.MarketID,
				FillID:   fill.ID,
				Detail:   fmt.Sprintf("replay size %s != applied %s", fill.Size, prev),
			}
		}
		log.Debug().
			Str("market", mgr.pos.MarketID).
			Str("fill_id", fill.ID).
			Msg("Duplicate fill ignored")
		return mgr.pos, nil
	}

	if fill.Size.LessThanOrEqual(decimal.Zero) {
		return mgr.pos, &CorruptionError{
			MarketID: mgr.pos.MarketID,
			FillID:   fill.ID,
			Detail:   "non-positive fill size " + fill.Size.String(),
		}
	}

	qty := mgr.pos.Qty(fill.Leg)
	avg := mgr.pos.AvgPrice(fill.Leg)

	if fill.Action == market.ActionBuy {
		// Standard cost-basis averaging; opening fills never book P&L.
		cost := avg.Mul(qty).Add(fill.Price.Mul(fill.Size))
		qty = qty.Add(fill.Size)
		avg = cost.Div(qty)
	} else {
		newQty := qty.Sub(fill.Size)
		if newQty.LessThan(negativeInventoryTolerance.Neg()) {
			return mgr.pos, &CorruptionError{
				MarketID: mgr.pos.MarketID,
				FillID:   fill.ID,
				Detail: fmt.Sprintf("sell %s on %s exceeds inventory %s",
					fill.Size, fill.Leg, qty),
			}
		}
		// Realized P&L only when a fill reduces existing inventory.
		mgr.pos.RealizedPnL = mgr.pos.RealizedPnL.Add(
			fill.Price.Sub(avg).Mul(fill.Size))
		qty = newQty
		if qty.LessThanOrEqual(decimal.Zero) {
			qty = decimal.Zero
			avg = decimal.Zero
		}
	}

	mgr.setLeg(fill.Leg, qty, avg)
	mgr.pos.Version++
	mgr.pos.UpdatedAt = fill.At
	mgr.applied[fill.ID] = fill.Size

	log.Info().
		Str("market", mgr.pos.MarketID).
		Str("fill_id", fill.ID).
		Str("leg", string(fill.Leg)).
		Str("action", string(fill.Action)).
		Str("price", fill.Price.StringFixed(4)).
		Str("size", fill.Size.StringFixed(2)).
		Str("realized", mgr.pos.RealizedPnL.StringFixed(4)).
		Int64("version", mgr.pos.Version).
		Msg("💹 Fill applied")

	return mgr.pos, nil
}

func (mgr *Manager) setLeg(leg market.Leg, qty, avg decimal.Decimal) {
	if leg == market.LegYes {
		mgr.pos.YesQty = qty
		mgr.pos.YesAvgPrice = avg
	} else {
		mgr.pos.NoQty = qty
		mgr.pos.NoAvgPrice = avg
	}
}

// ExposureAfter simulates the exposure the position would carry if the
// candidate order filled completely at its requested price. State is not
// mutated.
func (mgr *Manager) ExposureAfter(leg market.Leg, action market.Action, size decimal.Decimal, snap market.Snapshot) decimal.Decimal {
	mgr.mu.Lock()
	sim := mgr.pos
	mgr.mu.Unlock()

	delta := size
	if action == market.ActionSell {
		delta = size.Neg()
	}
	if leg == market.LegYes {
		sim.YesQty = sim.YesQty.Add(delta)
	} else {
		sim.NoQty = sim.NoQty.Add(delta)
	}
	return sim.Exposure(snap)
}

// CheckOrder returns a RiskError when the candidate order would push exposure
// within epsilon of the configured limit. Advisory: the caller decides to
// skip or shrink.
func (mgr *Manager) CheckOrder(leg market.Leg, action market.Action, size decimal.Decimal, snap market.Snapshot) error {
	if mgr.maxNetExposure.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	after := mgr.ExposureAfter(leg, action, size, snap)
	ceiling := mgr.maxNetExposure.Sub(mgr.limitEpsilon)
	if after.GreaterThan(ceiling) {
		return &RiskError{
			MarketID: mgr.pos.MarketID,
			Reason: fmt.Sprintf("exposure after %s %s %s would be %s (limit %s)",
				action, size, leg, after.StringFixed(2), mgr.maxNetExposure.StringFixed(2)),
		}
	}
	return nil
}

// RemainingCapacity returns how much currency exposure headroom is left under
// the limit at the current marks. Zero when the limit is disabled or spent.
func (mgr *Manager) RemainingCapacity(snap market.Snapshot) decimal.Decimal {
	if mgr.maxNetExposure.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	mgr.mu.Lock()
	cur := mgr.pos.Exposure(snap)
	mgr.mu.Unlock()

	room := mgr.maxNetExposure.Sub(mgr.limitEpsilon).Sub(cur)
	if room.IsNegative() {
		return decimal.Zero
	}
	return room
}

// LimitBreached reports whether the committed position already exceeds the
// limit at current marks. Venue truth can put us here; it is surfaced as an
// alert, never unwound by refusing fills.
func (mgr *Manager) LimitBreached(snap market.Snapshot) bool {
	if mgr.maxNetExposure.LessThanOrEqual(decimal.Zero) {
		return false
	}
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	return mgr.pos.Exposure(snap).GreaterThan(mgr.maxNetExposure)
}

// Touch bumps UpdatedAt without changing inventory. Used by recovery when a
// venue resync confirms the persisted state.
func (mgr *Manager) Touch(at time.Time) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	mgr.pos.UpdatedAt = at
}
