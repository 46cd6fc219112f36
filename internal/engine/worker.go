package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Gowthamkjaya/crypto-sub000/internal/clock"
	"github.com/Gowthamkjaya/crypto-sub000/internal/config"
	"github.com/Gowthamkjaya/crypto-sub000/internal/execution"
	"github.com/Gowthamkjaya/crypto-sub000/internal/hedge"
	"github.com/Gowthamkjaya/crypto-sub000/internal/market"
	"github.com/Gowthamkjaya/crypto-sub000/internal/ports"
	"github.com/Gowthamkjaya/crypto-sub000/internal/position"
	"github.com/Gowthamkjaya/crypto-sub000/internal/signal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// WORKER - One market, one decision stream
// ═══════════════════════════════════════════════════════════════════════════════
//
// Tick: snapshot → signal → hedge decision → submit → apply fills → persist.
// Strictly sequential per market; the worker exclusively owns its Position
// and Orders, so there is nothing to race on.
//
// A corruption-class error halts this worker only: trading stops, state is
// preserved, the rest of the process keeps running.
//
// ═══════════════════════════════════════════════════════════════════════════════

// recentRejectsKept bounds the reject ring exposed by the health readout.
const recentRejectsKept = 10

// Worker drives the execution loop for one market.
type Worker struct {
	mkt  market.Market
	cfg  *config.Config
	calc *signal.Calculator
	mgr  *position.Manager
	exec *execution.Executor
	ctrl *hedge.Controller

	snapshots ports.SnapshotProvider
	venue     ports.Venue
	store     ports.Store
	notifier  ports.Notifier
	clk       clock.Clock

	mu               sync.Mutex
	halted           bool
	haltReason       string
	lastTick         time.Time
	recentRejects    []string
	windowOpened     bool
	reconcilePending bool
}

// NewWorker assembles the per-market pipeline.
func NewWorker(
	mkt market.Market,
	cfg *config.Config,
	snapshots ports.SnapshotProvider,
	venue ports.Venue,
	store ports.Store,
	notifier ports.Notifier,
	clk clock.Clock,
) *Worker {
	mgr := position.NewManager(mkt.ID, cfg.Limits.MaxNetExposure, cfg.Limits.LimitEpsilon)

	exec := execution.NewExecutor(venue, clk, execution.Config{
		MaxRetries:    cfg.MaxRetries,
		SubmitTimeout: cfg.SubmitTimeout,
		CancelTimeout: cfg.CancelTimeout,
		BackoffMin:    100 * time.Millisecond,
		BackoffMax:    2 * time.Second,
		PaperMode:     cfg.PaperMode,
		SlippageBps:   cfg.SlippageBps,
	})

	calc := signal.NewCalculator(signal.DefaultLogisticModel(), cfg.Limits.LowTierFloor)

	w := &Worker{
		mkt:       mkt,
		cfg:       cfg,
		calc:      calc,
		mgr:       mgr,
		exec:      exec,
		ctrl:      hedge.NewController(cfg.Limits, mgr, exec),
		snapshots: snapshots,
		venue:     venue,
		store:     store,
		notifier:  notifier,
		clk:       clk,
	}

	exec.OnFill(w.bookFill)
	exec.OnTransition(w.auditTransition)
	return w
}

// Run recovers persisted state, then ticks until the context is cancelled or
// the market resolves. In-flight fills already received are applied before
// returning.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.recover(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(w.cfg.TickInterval)
	defer ticker.Stop()

	log.Info().
		Str("market", w.mkt.ID).
		Str("symbol", w.mkt.ReferenceSym).
		Time("resolves_at", w.mkt.ResolvesAt).
		Msg("⚡ Worker started")

	for {
		select {
		case <-ctx.Done():
			// Stop submitting immediately, but drain fills the venue already
			// confirmed so no exposure is left unreconciled.
			w.drain()
			return nil
		case <-ticker.C:
			if w.Halted() {
				continue
			}
			if w.clk.Now().After(w.mkt.ResolvesAt) {
				w.closeWindow(ctx)
				return nil
			}
			w.tick(ctx)
		}
	}
}

// tick runs one full decision cycle.
func (w *Worker) tick(ctx context.Context) {
	now := w.clk.Now()
	w.mu.Lock()
	w.lastTick = now
	w.mu.Unlock()

	snap := w.fetchSnapshot(ctx)
	sig := w.calc.Compute(snap, w.mkt, now)

	w.openWindow(ctx, snap)

	if w.reconcileDeferred() {
		w.retryReconcile(ctx)
		if w.Halted() {
			return
		}
	}

	for _, d := range w.ctrl.Decide(sig, snap) {
		w.submit(ctx, d)
		if w.Halted() {
			return
		}
	}

	if err := w.applyVenueFills(ctx); err != nil {
		return
	}

	if w.mgr.LimitBreached(snap) {
		// Venue truth is allowed to exceed configured limits; surface it.
		log.Error().
			Str("market", w.mkt.ID).
			Str("exposure", w.mgr.Current().Exposure(snap).StringFixed(2)).
			Msg("🚨 Committed exposure exceeds configured limit")
	}

	w.persist(ctx)
}

func (w *Worker) fetchSnapshot(ctx context.Context) market.Snapshot {
	fetchCtx, cancel := context.WithTimeout(ctx, w.cfg.SnapshotTimeout)
	defer cancel()

	snap, err := w.snapshots.Fetch(fetchCtx, w.mkt)
	if err != nil {
		log.Warn().Err(err).Str("market", w.mkt.ID).Msg("⚠️ Snapshot unavailable, ticking degraded")
		return market.Degraded(w.mkt.ID, w.clk.Now())
	}
	return snap
}

// submit turns one hedge decision into an order and drives it through the
// executor. Terminal rejects are recoverable: log, notify, resync, continue.
func (w *Worker) submit(ctx context.Context, d hedge.Decision) {
	o := execution.NewOrder(w.mkt, d.Leg, d.Action, d.Price, d.Size, d.Reason, w.clk.Now())

	log.Info().
		Str("market", w.mkt.ID).
		Str("kind", string(d.Kind)).
		Str("leg", string(d.Leg)).
		Str("action", string(d.Action)).
		Str("price", d.Price.StringFixed(4)).
		Str("size", d.Size.StringFixed(2)).
		Str("reason", d.Reason).
		Msg("🎯 Decision")

	if err := w.exec.Submit(ctx, o); err != nil {
		if ctx.Err() != nil {
			return
		}
		w.recordReject(err.Error())
		if w.notifier != nil {
			w.notifier.NotifyReject(w.mkt.ID, err.Error())
		}
		log.Warn().Err(err).
			Str("market", w.mkt.ID).
			Str("client_id", o.ClientID).
			Msg("⚠️ Order terminally rejected, resyncing position from venue")
		_ = w.applyVenueFills(ctx)
	}
}

// applyVenueFills polls venue fills and routes them: through the executor for
// tracked orders, straight into the position manager for fills on orders from
// a previous run. Venue order is preserved; both layers dedup by fill id.
func (w *Worker) applyVenueFills(ctx context.Context) error {
	fills, err := w.venue.PollFills(ctx, w.mkt.ID)
	if err != nil {
		log.Warn().Err(err).Str("market", w.mkt.ID).Msg("⚠️ Fill poll failed, retrying next tick")
		return nil
	}

	for _, fill := range fills {
		var err error
		if w.exec.Lookup(fill.OrderID) != nil {
			err = w.exec.ApplyFill(fill)
		} else {
			_, err = w.mgr.ApplyFill(fill)
			if err == nil {
				w.audit(ctx, fill)
			}
		}
		if err != nil && isCorruption(err) {
			w.halt(err.Error())
			return err
		}
		if err != nil && !errors.Is(err, execution.ErrUnknownOrder) {
			log.Warn().Err(err).Str("fill_id", fill.ID).Msg("⚠️ Fill not applied")
		}
	}
	return nil
}

// reconcileOrders asks the venue which of our orders are actually resting and
// cancels, locally, every adopted order it no longer knows. Fills must be
// applied before calling so a filled order never reads as merely gone.
func (w *Worker) reconcileOrders(ctx context.Context) error {
	resting, err := w.venue.OpenOrders(ctx, w.mkt.ID)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(resting))
	for _, r := range resting {
		known[r.ClientID] = true
	}
	for _, o := range w.exec.AllLive() {
		if !known[o.ClientID] {
			w.exec.ForceCancel(o, "absent from venue after restart")
		}
	}
	return nil
}

func (w *Worker) reconcileDeferred() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reconcilePending
}

// retryReconcile finishes a startup reconciliation whose open-order query
// failed. Retried once per tick until the venue answers; adopted orders stay
// live in the meantime so a resting order is never double-submitted.
func (w *Worker) retryReconcile(ctx context.Context) {
	if err := w.applyVenueFills(ctx); err != nil {
		return
	}
	if err := w.reconcileOrders(ctx); err != nil {
		log.Warn().Err(err).Str("market", w.mkt.ID).
			Msg("⚠️ Open-order reconciliation still failing, will retry")
		return
	}
	w.mu.Lock()
	w.reconcilePending = false
	w.mu.Unlock()
	log.Info().Str("market", w.mkt.ID).Msg("✅ Deferred order reconciliation complete")
}

// bookFill is the executor's fill sink: apply to position, journal, notify.
func (w *Worker) bookFill(o *execution.Order, fill position.FillEvent) {
	if _, err := w.mgr.ApplyFill(fill); err != nil {
		if isCorruption(err) {
			w.halt(err.Error())
		}
		return
	}
	w.audit(context.Background(), fill)
	if w.notifier != nil {
		w.notifier.NotifyTrade(w.mkt.ID, fill)
	}
}

func (w *Worker) auditTransition(o *execution.Order, ev execution.Event) {
	ctx := context.Background()
	if err := w.store.AuditTransition(ctx, o, ev); err != nil {
		log.Warn().Err(err).Str("client_id", o.ClientID).Msg("Audit write failed")
	}
	if ev.To.Terminal() {
		// Pin the final row immediately; the tick snapshot only writes live
		// orders, and a stale live row would be re-adopted on restart.
		if err := w.store.SaveOrder(ctx, o); err != nil {
			log.Warn().Err(err).Str("client_id", o.ClientID).Msg("Terminal order persist failed")
		}
	}
}

func (w *Worker) audit(ctx context.Context, fill position.FillEvent) {
	if err := w.store.AuditFill(ctx, fill); err != nil {
		log.Warn().Err(err).Str("fill_id", fill.ID).Msg("Audit write failed")
	}
}

// persist writes position + applied fills + live orders atomically, then the
// day's risk ledger entry.
func (w *Worker) persist(ctx context.Context) {
	st := ports.MarketState{
		Position: w.mgr.Current(),
		Applied:  w.mgr.AppliedFills(),
		Orders:   w.exec.AllLive(),
	}
	if err := w.store.SaveState(ctx, st); err != nil {
		log.Error().Err(err).Str("market", w.mkt.ID).Msg("❌ State persist failed")
	}
	w.persistRiskState(ctx)
}

func (w *Worker) persistRiskState(ctx context.Context) {
	w.mu.Lock()
	halted, reason := w.halted, w.haltReason
	w.mu.Unlock()

	st := ports.RiskState{
		MarketID:    w.mkt.ID,
		Day:         w.clk.Now().UTC().Format("2006-01-02"),
		RealizedPnL: w.mgr.Current().RealizedPnL,
		Halted:      halted,
		HaltReason:  reason,
	}
	if err := w.store.SaveRiskState(ctx, st); err != nil {
		log.Warn().Err(err).Str("market", w.mkt.ID).Msg("Risk ledger write failed")
	}
}

// openWindow journals the window once, at the first snapshot with a live
// reference price.
func (w *Worker) openWindow(ctx context.Context, snap market.Snapshot) {
	w.mu.Lock()
	opened := w.windowOpened
	w.mu.Unlock()
	if opened || snap.ReferenceStale {
		return
	}
	if err := w.store.SaveWindow(ctx, w.mkt, snap.ReferencePrice.String()); err != nil {
		log.Warn().Err(err).Str("market", w.mkt.ID).Msg("Window journal write failed")
		return
	}
	w.mu.Lock()
	w.windowOpened = true
	w.mu.Unlock()
}

// closeWindow stamps the journal when the market's window expires. Outcome
// determination belongs to the caller's settlement oracle, not this engine.
func (w *Worker) closeWindow(ctx context.Context) {
	refEnd := ""
	if snap, err := w.snapshots.Fetch(ctx, w.mkt); err == nil && !snap.ReferenceStale {
		refEnd = snap.ReferencePrice.String()
	}
	if err := w.store.CloseWindow(ctx, w.mkt.ID, refEnd, ""); err != nil {
		log.Warn().Err(err).Str("market", w.mkt.ID).Msg("Window close write failed")
	}
	w.persist(ctx)
	log.Info().Str("market", w.mkt.ID).Msg("🏁 Window resolved, worker done")
}

// drain applies fills already confirmed by the venue, then persists. Called
// on shutdown so no received confirmation is orphaned.
func (w *Worker) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.SnapshotTimeout)
	defer cancel()

	_ = w.applyVenueFills(ctx)
	w.persist(ctx)
	log.Info().Str("market", w.mkt.ID).Msg("🛑 Worker drained and stopped")
}

// halt stops trading on this market, preserving state for inspection.
func (w *Worker) halt(reason string) {
	w.mu.Lock()
	already := w.halted
	w.halted = true
	w.haltReason = reason
	w.mu.Unlock()
	if already {
		return
	}

	log.Error().
		Str("market", w.mkt.ID).
		Str("reason", reason).
		Msg("🛑 MARKET HALTED - state preserved for inspection")

	if w.notifier != nil {
		w.notifier.NotifyHalt(w.mkt.ID, reason)
	}
	w.persistRiskState(context.Background())
}

// Halted reports whether this market's trading is stopped.
func (w *Worker) Halted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.halted
}

func (w *Worker) recordReject(reason string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.recentRejects = append(w.recentRejects, reason)
	if len(w.recentRejects) > recentRejectsKept {
		w.recentRejects = w.recentRejects[len(w.recentRejects)-recentRejectsKept:]
	}
}

// Status returns the worker's health view.
func (w *Worker) Status() WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	submitted, filled, rejected, cancelled := w.exec.Stats()
	return WorkerStatus{
		MarketID:      w.mkt.ID,
		Symbol:        w.mkt.ReferenceSym,
		Halted:        w.halted,
		HaltReason:    w.haltReason,
		LastTick:      w.lastTick,
		Position:      w.mgr.Current(),
		RecentRejects: append([]string(nil), w.recentRejects...),
		Submitted:     submitted,
		Filled:        filled,
		Rejected:      rejected,
		Cancelled:     cancelled,
	}
}

func isCorruption(err error) bool {
	var corrupt *position.CorruptionError
	var overfill *execution.OverfillError
	return errors.As(err, &corrupt) || errors.As(err, &overfill)
}
