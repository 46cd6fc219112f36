package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/Gowthamkjaya/crypto-sub000/internal/clock"
	"github.com/Gowthamkjaya/crypto-sub000/internal/market"
	"github.com/Gowthamkjaya/crypto-sub000/internal/position"
)

// Venue abstracts wire-level order submission. Defined here (not in ports) to
// avoid an import cycle; satisfied by the venue adapter and by test fakes.
type Venue interface {
	// Submit sends the order and returns the venue-assigned id on ack.
	Submit(ctx context.Context, req VenueRequest) (VenueAck, error)
	// Cancel requests cancellation. The boolean reports venue confirmation;
	// an unconfirmed cancel leaves the order state untouched.
	Cancel(ctx context.Context, venueID string) (bool, error)
}

// VenueRequest is the submission payload sent to the venue port.
type VenueRequest struct {
	ClientID string
	TokenID  string
	Action   market.Action
	Price    decimal.Decimal
	Size     decimal.Decimal
}

// VenueAck is the venue acknowledgment of a resting order.
type VenueAck struct {
	VenueID string
}

// RejectError is a venue refusal. Permanent rejects (invalid order, market
// closed, insufficient balance) terminate the order without retry.
type RejectError struct {
	Reason    string
	Permanent bool
}

func (e *RejectError) Error() string { return "venue reject: " + e.Reason }

// ErrUnknownOrder is returned when a fill references no tracked order.
var ErrUnknownOrder = errors.New("unknown order")

// OverfillError marks a venue fill stream exceeding an order's requested
// size. Treated as state corruption by the caller.
type OverfillError struct {
	ClientID string
	Detail   string
}

func (e *OverfillError) Error() string {
	return fmt.Sprintf("overfill on %s: %s", e.ClientID, e.Detail)
}

// Config holds executor settings.
type Config struct {
	MaxRetries    int           // resubmissions after timeout/retryable reject
	SubmitTimeout time.Duration // per-attempt ack deadline
	CancelTimeout time.Duration
	BackoffMin    time.Duration
	BackoffMax    time.Duration
	PaperMode     bool // simulate fills instead of calling the venue
	SlippageBps   int  // simulated slippage for paper fills
}

// DefaultConfig returns the settings used in live runs.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    3,
		SubmitTimeout: 5 * time.Second,
		CancelTimeout: 2 * time.Second,
		BackoffMin:    100 * time.Millisecond,
		BackoffMax:    2 * time.Second,
		SlippageBps:   10,
	}
}

// Executor owns every order of one market from intent to terminal state.
type Executor struct {
	mu  sync.Mutex
	cfg Config

	venue Venue
	clk   clock.Clock

	orders   []*Order
	byClient map[string]*Order
	byVenue  map[string]*Order

	onFill       func(o *Order, fill position.FillEvent)
	onTransition func(o *Order, ev Event)

	submitted int64
	filled    int64
	rejected  int64
	cancelled int64
}

// NewExecutor creates an executor for one market's orders.
func NewExecutor(venue Venue, clk clock.Clock, cfg Config) *Executor {
	mode := "LIVE"
	if cfg.PaperMode {
		mode = "PAPER"
	}
	log.Info().
		Str("mode", mode).
		Int("max_retries", cfg.MaxRetries).
		Dur("submit_timeout", cfg.SubmitTimeout).
		Msg("⚡ Executor initialized")

	return &Executor{
		cfg:      cfg,
		venue:    venue,
		clk:      clk,
		byClient: make(map[string]*Order),
		byVenue:  make(map[string]*Order),
	}
}

// OnFill sets the sink invoked exactly once per distinct fill.
func (e *Executor) OnFill(fn func(o *Order, fill position.FillEvent)) {
	e.onFill = fn
}

// OnTransition sets the audit sink invoked for every committed transition.
func (e *Executor) OnTransition(fn func(o *Order, ev Event)) {
	e.onTransition = fn
}

// ═══════════════════════════════════════════════════════════════════════════════
// SUBMISSION
// ═══════════════════════════════════════════════════════════════════════════════

// Submit drives an order from PENDING through venue submission, retrying
// timeouts and retryable rejects with bounded backoff. On exhausted retries
// the order lands in REJECTED and the error is returned.
func (e *Executor) Submit(ctx context.Context, o *Order) error {
	e.track(o)

	if e.cfg.PaperMode {
		return e.paperFill(o)
	}

	bo := &backoff.Backoff{
		Min:    e.cfg.BackoffMin,
		Max:    e.cfg.BackoffMax,
		Factor: 2,
		Jitter: true,
	}

	for {
		now := e.clk.Now()
		e.apply(o, StateSubmitted, "submit attempt", now)
		e.mu.Lock()
		e.submitted++
		e.mu.Unlock()

		log.Info().
			Str("client_id", o.ClientID).
			Str("market", o.MarketID).
			Str("leg", string(o.Leg)).
			Str("action", string(o.Action)).
			Str("price", o.Price.StringFixed(4)).
			Str("size", o.Size.StringFixed(2)).
			Int("attempt", o.Attempts+1).
			Msg("📤 Order submitted")

		attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.SubmitTimeout)
		ack, err := e.venue.Submit(attemptCtx, VenueRequest{
			ClientID: o.ClientID,
			TokenID:  o.TokenID,
			Action:   o.Action,
			Price:    o.Price,
			Size:     o.Size,
		})
		cancel()

		if err == nil {
			e.mu.Lock()
			o.VenueID = ack.VenueID
			e.byVenue[ack.VenueID] = o
			e.mu.Unlock()
			e.apply(o, StateOpen, "venue ack "+ack.VenueID, e.clk.Now())
			return nil
		}

		var reject *RejectError
		if errors.As(err, &reject) && reject.Permanent {
			e.apply(o, StateRejected, reject.Reason, e.clk.Now())
			e.mu.Lock()
			e.rejected++
			e.mu.Unlock()
			return err
		}

		// Timeout or retryable reject: park in RETRY_PENDING.
		o.Attempts++
		e.apply(o, StateRetryPending, err.Error(), e.clk.Now())

		if o.Attempts > e.cfg.MaxRetries {
			e.apply(o, StateRejected, fmt.Sprintf("gave up after %d attempts", o.Attempts), e.clk.Now())
			e.mu.Lock()
			e.rejected++
			e.mu.Unlock()
			return fmt.Errorf("submit %s: retries exhausted: %w", o.ClientID, err)
		}

		wait := bo.Duration()
		log.Warn().
			Err(err).
			Str("client_id", o.ClientID).
			Int("attempt", o.Attempts).
			Dur("backoff", wait).
			Msg("⚠️ Submission failed, retrying")

		select {
		case <-ctx.Done():
			e.apply(o, StateRejected, "shutdown during retry", e.clk.Now())
			return ctx.Err()
		case <-e.clk.After(wait):
		}

		// Fresh idempotency key for the resubmission.
		e.mu.Lock()
		delete(e.byClient, o.ClientID)
		o.rekey()
		e.byClient[o.ClientID] = o
		e.mu.Unlock()
		e.apply(o, StatePending, "resubmit with fresh key", e.clk.Now())
	}
}

// paperFill simulates an immediate ack and full fill with slippage.
func (e *Executor) paperFill(o *Order) error {
	now := e.clk.Now()
	e.apply(o, StateSubmitted, "paper submit", now)
	e.apply(o, StateOpen, "paper ack", now)

	slip := decimal.NewFromInt(int64(e.cfg.SlippageBps)).Div(decimal.NewFromInt(10000))
	price := o.Price
	if o.Action == market.ActionBuy {
		price = price.Mul(decimal.NewFromInt(1).Add(slip))
	} else {
		price = price.Mul(decimal.NewFromInt(1).Sub(slip))
	}

	fill := position.FillEvent{
		ID:       "paper-" + o.ClientID,
		OrderID:  o.ClientID,
		MarketID: o.MarketID,
		Leg:      o.Leg,
		Action:   o.Action,
		Price:    price,
		Size:     o.Size,
		At:       now,
	}
	return e.ApplyFill(fill)
}

// ═══════════════════════════════════════════════════════════════════════════════
// FILLS & CANCELS
// ═══════════════════════════════════════════════════════════════════════════════

// ApplyFill routes a venue fill to its order, dedups by fill id, advances the
// state machine, and forwards the fill to the sink exactly once.
func (e *Executor) ApplyFill(fill position.FillEvent) error {
	e.mu.Lock()
	o := e.byVenue[fill.OrderID]
	if o == nil {
		o = e.byClient[fill.OrderID]
	}
	e.mu.Unlock()
	if o == nil {
		return ErrUnknownOrder
	}

	e.mu.Lock()
	if o.seenFill(fill.ID) {
		e.mu.Unlock()
		log.Debug().Str("fill_id", fill.ID).Str("client_id", o.ClientID).Msg("Duplicate fill ignored")
		return nil
	}

	newFilled := o.FilledSize.Add(fill.Size)
	if newFilled.GreaterThan(o.Size) {
		e.mu.Unlock()
		return &OverfillError{
			ClientID: o.ClientID,
			Detail: fmt.Sprintf("filled %s + fill %s > requested %s",
				o.FilledSize, fill.Size, o.Size),
		}
	}
	o.FilledSize = newFilled
	complete := o.FilledSize.Equal(o.Size)
	e.mu.Unlock()

	now := e.clk.Now()
	if complete {
		e.apply(o, StateFilled, "fill "+fill.ID, now)
		e.mu.Lock()
		e.filled++
		e.mu.Unlock()
	} else {
		e.apply(o, StatePartial, "partial fill "+fill.ID, now)
	}

	if e.onFill != nil {
		e.onFill(o, fill)
	}
	return nil
}

// RequestCancel asks the venue to cancel a live order. CANCELLED is committed
// only on venue confirmation; cancelling an already-filled order is a no-op.
func (e *Executor) RequestCancel(ctx context.Context, o *Order) error {
	if o.State.Terminal() {
		return nil
	}
	if o.VenueID == "" {
		e.apply(o, StateCancelled, "cancelled before venue ack", e.clk.Now())
		e.mu.Lock()
		e.cancelled++
		e.mu.Unlock()
		return nil
	}

	cancelCtx, cancel := context.WithTimeout(ctx, e.cfg.CancelTimeout)
	defer cancel()

	confirmed, err := e.venue.Cancel(cancelCtx, o.VenueID)
	if err != nil {
		return fmt.Errorf("cancel %s: %w", o.VenueID, err)
	}
	if !confirmed {
		log.Debug().Str("venue_id", o.VenueID).Msg("Cancel not confirmed, order state unchanged")
		return nil
	}

	e.apply(o, StateCancelled, "venue confirmed cancel", e.clk.Now())
	e.mu.Lock()
	e.cancelled++
	e.mu.Unlock()
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// STATE & LOOKUP
// ═══════════════════════════════════════════════════════════════════════════════

// track registers an order with the executor (idempotent).
func (e *Executor) track(o *Order) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.byClient[o.ClientID]; ok {
		return
	}
	e.orders = append(e.orders, o)
	e.byClient[o.ClientID] = o
	if o.VenueID != "" {
		e.byVenue[o.VenueID] = o
	}
}

// Adopt restores a persisted order during startup recovery.
func (e *Executor) Adopt(o *Order) {
	e.track(o)
	log.Info().
		Str("client_id", o.ClientID).
		Str("state", string(o.State)).
		Str("filled", o.FilledSize.StringFixed(2)).
		Msg("📥 Order adopted from persistence")
}

// apply performs a transition, logging it as an audit record. Illegal
// transitions are logged and dropped; monotonicity is never violated.
func (e *Executor) apply(o *Order, to State, note string, at time.Time) {
	e.mu.Lock()
	ok := o.transition(to, note, at)
	e.mu.Unlock()

	if !ok {
		log.Warn().
			Str("client_id", o.ClientID).
			Str("from", string(o.State)).
			Str("to", string(to)).
			Msg("Illegal transition dropped")
		return
	}

	log.Info().
		Str("client_id", o.ClientID).
		Str("market", o.MarketID).
		Str("state", string(to)).
		Str("note", note).
		Msg("🔄 Order transition")

	if e.onTransition != nil {
		e.onTransition(o, o.History[len(o.History)-1])
	}
}

// ForceCancel commits CANCELLED without a venue roundtrip. Used by recovery
// when the venue's authoritative open-order list already shows the order
// gone and its fills have been applied.
func (e *Executor) ForceCancel(o *Order, note string) {
	if o.State.Terminal() {
		return
	}
	e.apply(o, StateCancelled, note, e.clk.Now())
	e.mu.Lock()
	e.cancelled++
	e.mu.Unlock()
}

// Live returns the non-terminal orders, optionally filtered by leg.
func (e *Executor) Live(leg market.Leg) []*Order {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []*Order
	for _, o := range e.orders {
		if !o.State.Terminal() && o.Leg == leg {
			out = append(out, o)
		}
	}
	return out
}

// HasLive reports whether any non-terminal order exists for a leg. The hedge
// controller uses this to suppress duplicate submissions on rapid ticks.
func (e *Executor) HasLive(leg market.Leg) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, o := range e.orders {
		if !o.State.Terminal() && o.Leg == leg {
			return true
		}
	}
	return false
}

// AllLive returns every non-terminal order.
func (e *Executor) AllLive() []*Order {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []*Order
	for _, o := range e.orders {
		if !o.State.Terminal() {
			out = append(out, o)
		}
	}
	return out
}

// Lookup resolves an order by venue or client id.
func (e *Executor) Lookup(id string) *Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	if o := e.byVenue[id]; o != nil {
		return o
	}
	return e.byClient[id]
}

// Stats returns execution counters for the health readout.
func (e *Executor) Stats() (submitted, filled, rejected, cancelled int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.submitted, e.filled, e.rejected, e.cancelled
}
