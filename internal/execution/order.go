package execution

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Gowthamkjaya/crypto-sub000/internal/market"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ORDER LIFECYCLE
// ═══════════════════════════════════════════════════════════════════════════════
//
//   PENDING → SUBMITTED → OPEN → PARTIALLY_FILLED ⟲
//                │           └──→ FILLED / CANCELLED
//                ├─ ack ─────────↑
//                └─ timeout/reject → RETRY_PENDING → PENDING (fresh key)
//                                        └─ attempts exhausted → REJECTED
//
// Terminal states never re-enter a non-terminal one. A fill completing the
// requested size forces FILLED from any live state. Cancels commit only on
// venue confirmation.
//
// ═══════════════════════════════════════════════════════════════════════════════

// State is the lifecycle state of an order.
type State string

const (
	StatePending      State = "PENDING"       // intent created, not yet sent
	StateSubmitted    State = "SUBMITTED"     // sent, awaiting venue ack
	StateOpen         State = "OPEN"          // acknowledged, resting
	StatePartial      State = "PARTIALLY_FILLED"
	StateFilled       State = "FILLED"        // terminal
	StateCancelled    State = "CANCELLED"     // terminal
	StateRejected     State = "REJECTED"      // terminal
	StateRetryPending State = "RETRY_PENDING" // awaiting resubmission with a fresh key
)

// Terminal reports whether s is a terminal state.
func (s State) Terminal() bool {
	return s == StateFilled || s == StateCancelled || s == StateRejected
}

// transitions is the full legal transition table. Fills forcing FILLED are
// additionally allowed from any live state (see Order.canTransition).
var transitions = map[State][]State{
	StatePending:      {StateSubmitted},
	StateSubmitted:    {StateOpen, StatePartial, StateFilled, StateRetryPending, StateRejected},
	StateOpen:         {StatePartial, StateFilled, StateCancelled, StateRejected},
	StatePartial:      {StatePartial, StateFilled, StateCancelled},
	StateRetryPending: {StatePending, StateRejected},
	StateFilled:       {},
	StateCancelled:    {},
	StateRejected:     {},
}

// Event is one immutable entry in an order's audit history.
type Event struct {
	From State
	To   State
	Note string
	At   time.Time
}

// Order is a single execution intent, owned by the Executor until terminal.
type Order struct {
	ClientID   string // idempotency key; regenerated on each retry
	VenueID    string // assigned on venue ack
	MarketID   string
	TokenID    string
	Leg        market.Leg
	Action     market.Action
	Price      decimal.Decimal
	Size       decimal.Decimal
	FilledSize decimal.Decimal
	State      State
	Attempts   int
	Reason     string // strategy context for the audit log
	CreatedAt  time.Time
	UpdatedAt  time.Time // last transition timestamp
	History    []Event

	appliedFills map[string]struct{} // fill ids already forwarded
}

// NewOrder creates an order in PENDING with a fresh idempotency key.
func NewOrder(m market.Market, leg market.Leg, action market.Action, price, size decimal.Decimal, reason string, now time.Time) *Order {
	return &Order{
		ClientID:     uuid.NewString(),
		MarketID:     m.ID,
		TokenID:      m.TokenID(leg),
		Leg:          leg,
		Action:       action,
		Price:        price,
		Size:         size,
		FilledSize:   decimal.Zero,
		State:        StatePending,
		Reason:       reason,
		CreatedAt:    now,
		UpdatedAt:    now,
		History:      []Event{{From: "", To: StatePending, Note: reason, At: now}},
		appliedFills: make(map[string]struct{}),
	}
}

func (o *Order) canTransition(to State) bool {
	if o.State.Terminal() {
		return false
	}
	if to == StateFilled {
		// A completing fill forces FILLED from any live state.
		return true
	}
	for _, s := range transitions[o.State] {
		if s == to {
			return true
		}
	}
	return false
}

// transition moves the order to a new state, appending to the audit history.
// Returns false if the transition is illegal; the order is left untouched.
func (o *Order) transition(to State, note string, now time.Time) bool {
	if !o.canTransition(to) {
		return false
	}
	o.History = append(o.History, Event{From: o.State, To: to, Note: note, At: now})
	o.State = to
	o.UpdatedAt = now
	return true
}

// rekey assigns a fresh idempotency key for resubmission after RETRY_PENDING.
func (o *Order) rekey() {
	o.ClientID = uuid.NewString()
	o.VenueID = ""
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Size.Sub(o.FilledSize)
}

// AppliedFillIDs returns the fill ids already forwarded, sorted, for
// persistence alongside FilledSize.
func (o *Order) AppliedFillIDs() []string {
	ids := make([]string, 0, len(o.appliedFills))
	for id := range o.appliedFills {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RestoreFills seeds the dedup set during startup recovery. The venue's trade
// cursor does not survive a restart, so fills counted into the persisted
// FilledSize get re-reported; restoring their ids makes the replay a no-op.
func (o *Order) RestoreFills(ids []string) {
	if o.appliedFills == nil {
		o.appliedFills = make(map[string]struct{}, len(ids))
	}
	for _, id := range ids {
		o.appliedFills[id] = struct{}{}
	}
}

// seenFill records a fill id, returning false when it was already forwarded.
func (o *Order) seenFill(id string) bool {
	if o.appliedFills == nil {
		o.appliedFills = make(map[string]struct{})
	}
	if _, ok := o.appliedFills[id]; ok {
		return true
	}
	o.appliedFills[id] = struct{}{}
	return false
}
