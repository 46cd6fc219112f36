package ports

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/Gowthamkjaya/crypto-sub000/internal/execution"
	"github.com/Gowthamkjaya/crypto-sub000/internal/market"
	"github.com/Gowthamkjaya/crypto-sub000/internal/position"
)

// ErrDataUnavailable is returned by SnapshotProvider when a source failed to
// respond. Callers treat it as a stale snapshot, not a fatal error.
var ErrDataUnavailable = errors.New("market data unavailable")

// SnapshotProvider assembles the per-tick view of a market: reference price
// plus both book tops. Implementations own polling, websockets, and caching;
// the engine only sees normalized snapshots.
type SnapshotProvider interface {
	Fetch(ctx context.Context, m market.Market) (market.Snapshot, error)
}

// Venue is the full venue-facing port: order submission plus the state
// queries recovery and fill polling need. Embeds the executor's submission
// interface so one adapter serves both.
type Venue interface {
	execution.Venue

	// PollFills returns fills reported since the last poll, in venue order.
	PollFills(ctx context.Context, marketID string) ([]position.FillEvent, error)

	// OpenOrders returns the venue's authoritative view of resting orders,
	// used to reconcile persisted state on startup.
	OpenOrders(ctx context.Context, marketID string) ([]execution.VenueRequest, error)
}

// MarketState is the unit of persistence: one market's position, the fill
// ids already applied to it, and its live orders. Writes are atomic per
// market; a reader never observes a partial write.
type MarketState struct {
	Position position.Position
	Applied  map[string]decimal.Decimal // fill id -> applied size
	Orders   []*execution.Order
}

// RiskState is the per-market, per-day risk ledger: realized P&L plus the
// halt flag. Reloaded on restart so a halted market stays halted across
// crashes until an operator clears it.
type RiskState struct {
	MarketID    string
	Day         string // YYYY-MM-DD, UTC
	RealizedPnL decimal.Decimal
	Halted      bool
	HaltReason  string
}

// Store is the durable state store for crash recovery plus the audit journal.
type Store interface {
	SaveState(ctx context.Context, st MarketState) error
	LoadState(ctx context.Context, marketID string) (MarketState, bool, error)

	// SaveOrder upserts a single order row, used to pin terminal states the
	// moment they happen rather than waiting for the next state snapshot.
	SaveOrder(ctx context.Context, o *execution.Order) error

	// SaveRiskState upserts the day's risk ledger entry for a market.
	SaveRiskState(ctx context.Context, st RiskState) error
	// LoadRiskState reads a market's ledger entry for a day; false when absent.
	LoadRiskState(ctx context.Context, marketID, day string) (RiskState, bool, error)

	// AuditTransition journals one order state transition.
	AuditTransition(ctx context.Context, o *execution.Order, ev execution.Event) error
	// AuditFill journals one applied fill.
	AuditFill(ctx context.Context, fill position.FillEvent) error

	// SaveWindow records the trading-window journal entry for offline analysis.
	SaveWindow(ctx context.Context, m market.Market, refStart string) error
	// CloseWindow stamps the window with its final reference price.
	CloseWindow(ctx context.Context, marketID, refEnd, outcome string) error

	Close() error
}

// Notifier pushes operational events to a human.
type Notifier interface {
	NotifyTrade(marketID string, fill position.FillEvent)
	NotifyHalt(marketID, reason string)
	NotifyReject(marketID, reason string)
}
