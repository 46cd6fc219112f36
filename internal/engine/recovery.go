package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// recover rebuilds this market's in-memory state after a restart and
// reconciles it against the venue:
//
//  1. load persisted position, applied-fill set, and live orders
//  2. replay fills reported while we were down (dedup makes this safe)
//  3. ask the venue which of our orders are actually still resting; anything
//     it no longer knows is marked cancelled locally
//
// The venue's view is authoritative throughout. A fresh market with no saved
// state starts flat.
func (w *Worker) recover(ctx context.Context) error {
	day := w.clk.Now().UTC().Format("2006-01-02")
	if risk, ok, err := w.store.LoadRiskState(ctx, w.mkt.ID, day); err != nil {
		return fmt.Errorf("load risk state for %s: %w", w.mkt.ID, err)
	} else if ok && risk.Halted {
		// A halt survives the restart; an operator clears it, not a reboot.
		w.mu.Lock()
		w.halted = true
		w.haltReason = risk.HaltReason
		w.mu.Unlock()
		log.Warn().
			Str("market", w.mkt.ID).
			Str("reason", risk.HaltReason).
			Msg("🛑 Market was halted earlier today, staying halted")
	}

	st, found, err := w.store.LoadState(ctx, w.mkt.ID)
	if err != nil {
		return fmt.Errorf("load state for %s: %w", w.mkt.ID, err)
	}
	if !found {
		log.Info().Str("market", w.mkt.ID).Msg("🆕 No persisted state, starting flat")
		return nil
	}

	w.mgr.Restore(st.Position, st.Applied)
	for _, o := range st.Orders {
		w.exec.Adopt(o)
	}

	log.Info().
		Str("market", w.mkt.ID).
		Str("yes_qty", st.Position.YesQty.StringFixed(2)).
		Str("no_qty", st.Position.NoQty.StringFixed(2)).
		Int("applied_fills", len(st.Applied)).
		Int("live_orders", len(st.Orders)).
		Msg("♻️ State restored, reconciling with venue")

	// Fills first: an order the venue filled while we were down must book
	// before we decide it is gone.
	if err := w.applyVenueFills(ctx); err != nil {
		return err
	}

	if err := w.reconcileOrders(ctx); err != nil {
		// Keep adopted orders live and let the tick loop retry until the
		// venue answers.
		w.mu.Lock()
		w.reconcilePending = true
		w.mu.Unlock()
		log.Warn().Err(err).Str("market", w.mkt.ID).
			Msg("⚠️ Open-order query failed, deferring reconciliation")
	}

	w.persist(ctx)
	return nil
}
