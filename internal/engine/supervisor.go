package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Gowthamkjaya/crypto-sub000/internal/clock"
	"github.com/Gowthamkjaya/crypto-sub000/internal/config"
	"github.com/Gowthamkjaya/crypto-sub000/internal/market"
	"github.com/Gowthamkjaya/crypto-sub000/internal/ports"
	"github.com/Gowthamkjaya/crypto-sub000/internal/position"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SUPERVISOR - One worker per market
// ═══════════════════════════════════════════════════════════════════════════════

// WorkerStatus is the per-market health readout.
type WorkerStatus struct {
	MarketID      string
	Symbol        string
	Halted        bool
	HaltReason    string
	LastTick      time.Time
	Position      position.Position
	RecentRejects []string
	Submitted     int64
	Filled        int64
	Rejected      int64
	Cancelled     int64
}

// Supervisor runs independent workers concurrently, one per market. Workers
// never share state; a halt in one leaves the others trading.
type Supervisor struct {
	cfg     *config.Config
	workers []*Worker
}

// NewSupervisor builds a worker for each market over shared adapters.
func NewSupervisor(
	cfg *config.Config,
	markets []market.Market,
	snapshots ports.SnapshotProvider,
	venue ports.Venue,
	store ports.Store,
	notifier ports.Notifier,
	clk clock.Clock,
) *Supervisor {
	s := &Supervisor{cfg: cfg}
	for _, m := range markets {
		s.workers = append(s.workers, NewWorker(m, cfg, snapshots, venue, store, notifier, clk))
	}
	return s
}

// Run starts every worker and blocks until all finish. A worker returning an
// error (corrupted recovery state) does not cancel its siblings; the error is
// collected and returned after the group drains.
func (s *Supervisor) Run(ctx context.Context) error {
	log.Info().Int("markets", len(s.workers)).Msg("🚀 Engine starting")

	g := new(errgroup.Group)
	for _, w := range s.workers {
		w := w
		g.Go(func() error {
			if err := w.Run(ctx); err != nil {
				log.Error().Err(err).Str("market", w.mkt.ID).Msg("❌ Worker stopped with error")
				return err
			}
			return nil
		})
	}

	err := g.Wait()
	log.Info().Msg("👋 Engine stopped")
	return err
}

// Health returns each worker's status, for the periodic readout.
func (s *Supervisor) Health() []WorkerStatus {
	out := make([]WorkerStatus, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, w.Status())
	}
	return out
}

// LogHealth emits one summary line per market.
func (s *Supervisor) LogHealth() {
	for _, st := range s.Health() {
		ev := log.Info().
			Str("market", st.MarketID).
			Bool("halted", st.Halted).
			Str("yes_qty", st.Position.YesQty.StringFixed(2)).
			Str("no_qty", st.Position.NoQty.StringFixed(2)).
			Str("realized_pnl", st.Position.RealizedPnL.StringFixed(2)).
			Int64("submitted", st.Submitted).
			Int64("filled", st.Filled).
			Int64("rejected", st.Rejected)
		if st.Halted {
			ev = ev.Str("halt_reason", st.HaltReason)
		}
		ev.Msg("💓 Health")
	}
}
