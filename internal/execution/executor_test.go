package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gowthamkjaya/crypto-sub000/internal/clock"
	"github.com/Gowthamkjaya/crypto-sub000/internal/market"
	"github.com/Gowthamkjaya/crypto-sub000/internal/position"
)

// fakeVenue scripts venue responses per submit attempt.
type fakeVenue struct {
	submits  []VenueRequest
	respond  func(attempt int, req VenueRequest) (VenueAck, error)
	cancels  []string
	confirm  bool
	cancelFn func(venueID string) (bool, error)
}

func (v *fakeVenue) Submit(_ context.Context, req VenueRequest) (VenueAck, error) {
	v.submits = append(v.submits, req)
	return v.respond(len(v.submits), req)
}

func (v *fakeVenue) Cancel(_ context.Context, venueID string) (bool, error) {
	v.cancels = append(v.cancels, venueID)
	if v.cancelFn != nil {
		return v.cancelFn(venueID)
	}
	return v.confirm, nil
}

func testMarket() market.Market {
	return market.Market{
		ID:           "btc-window-1",
		YesTokenID:   "tok-yes",
		NoTokenID:    "tok-no",
		ReferenceSym: "BTCUSDT",
		Strike:       decimal.NewFromInt(65000),
		ResolvesAt:   time.Now().Add(15 * time.Minute),
	}
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.BackoffMin = time.Millisecond
	cfg.BackoffMax = 2 * time.Millisecond
	return cfg
}

func newTestOrder() *Order {
	return NewOrder(testMarket(), market.LegYes, market.ActionBuy,
		decimal.NewFromFloat(0.45), decimal.NewFromInt(20), "test", time.Now())
}

func TestSubmitAckOpensOrder(t *testing.T) {
	venue := &fakeVenue{respond: func(int, VenueRequest) (VenueAck, error) {
		return VenueAck{VenueID: "v-1"}, nil
	}}
	exec := NewExecutor(venue, clock.Real{}, fastConfig())

	o := newTestOrder()
	require.NoError(t, exec.Submit(context.Background(), o))

	assert.Equal(t, StateOpen, o.State)
	assert.Equal(t, "v-1", o.VenueID)
	assert.Same(t, o, exec.Lookup("v-1"))
	assert.True(t, exec.HasLive(market.LegYes))
	assert.False(t, exec.HasLive(market.LegNo))
}

func TestSubmitPermanentRejectTerminates(t *testing.T) {
	venue := &fakeVenue{respond: func(int, VenueRequest) (VenueAck, error) {
		return VenueAck{}, &RejectError{Reason: "market closed", Permanent: true}
	}}
	exec := NewExecutor(venue, clock.Real{}, fastConfig())

	o := newTestOrder()
	err := exec.Submit(context.Background(), o)

	var reject *RejectError
	require.ErrorAs(t, err, &reject)
	assert.Equal(t, StateRejected, o.State)
	assert.Len(t, venue.submits, 1, "no retry on permanent reject")
}

func TestSubmitRetriesWithFreshKey(t *testing.T) {
	venue := &fakeVenue{respond: func(attempt int, _ VenueRequest) (VenueAck, error) {
		if attempt < 3 {
			return VenueAck{}, &RejectError{Reason: "throttled"}
		}
		return VenueAck{VenueID: "v-1"}, nil
	}}
	exec := NewExecutor(venue, clock.Real{}, fastConfig())

	o := newTestOrder()
	firstKey := o.ClientID
	require.NoError(t, exec.Submit(context.Background(), o))

	assert.Equal(t, StateOpen, o.State)
	assert.Equal(t, 2, o.Attempts)
	assert.NotEqual(t, firstKey, o.ClientID, "resubmission must carry a fresh idempotency key")
	require.Len(t, venue.submits, 3)
	assert.NotEqual(t, venue.submits[0].ClientID, venue.submits[1].ClientID)
	assert.NotEqual(t, venue.submits[1].ClientID, venue.submits[2].ClientID)
}

func TestSubmitRetriesExhausted(t *testing.T) {
	venue := &fakeVenue{respond: func(int, VenueRequest) (VenueAck, error) {
		return VenueAck{}, errors.New("timeout")
	}}
	cfg := fastConfig()
	cfg.MaxRetries = 2
	exec := NewExecutor(venue, clock.Real{}, cfg)

	o := newTestOrder()
	err := exec.Submit(context.Background(), o)

	require.Error(t, err)
	assert.Equal(t, StateRejected, o.State)
	assert.Len(t, venue.submits, 3, "initial attempt plus MaxRetries")

	_, _, rejected, _ := exec.Stats()
	assert.Equal(t, int64(1), rejected)
}

func TestApplyFillPartialThenComplete(t *testing.T) {
	venue := &fakeVenue{respond: func(int, VenueRequest) (VenueAck, error) {
		return VenueAck{VenueID: "v-1"}, nil
	}}
	exec := NewExecutor(venue, clock.Real{}, fastConfig())

	var sunk []position.FillEvent
	exec.OnFill(func(_ *Order, fill position.FillEvent) { sunk = append(sunk, fill) })

	o := newTestOrder()
	require.NoError(t, exec.Submit(context.Background(), o))

	f1 := position.FillEvent{ID: "t1", OrderID: "v-1", Size: decimal.NewFromInt(8), Price: o.Price}
	require.NoError(t, exec.ApplyFill(f1))
	assert.Equal(t, StatePartial, o.State)
	assert.True(t, o.Remaining().Equal(decimal.NewFromInt(12)))

	f2 := position.FillEvent{ID: "t2", OrderID: "v-1", Size: decimal.NewFromInt(12), Price: o.Price}
	require.NoError(t, exec.ApplyFill(f2))
	assert.Equal(t, StateFilled, o.State)
	assert.False(t, exec.HasLive(market.LegYes))

	require.Len(t, sunk, 2)

	// Replaying a forwarded fill is a silent no-op.
	require.NoError(t, exec.ApplyFill(f1))
	assert.Len(t, sunk, 2)
}

func TestApplyFillOverfill(t *testing.T) {
	venue := &fakeVenue{respond: func(int, VenueRequest) (VenueAck, error) {
		return VenueAck{VenueID: "v-1"}, nil
	}}
	exec := NewExecutor(venue, clock.Real{}, fastConfig())

	o := newTestOrder()
	require.NoError(t, exec.Submit(context.Background(), o))

	err := exec.ApplyFill(position.FillEvent{ID: "t1", OrderID: "v-1", Size: decimal.NewFromInt(21)})
	var overfill *OverfillError
	require.ErrorAs(t, err, &overfill)
}

func TestApplyFillUnknownOrder(t *testing.T) {
	exec := NewExecutor(&fakeVenue{}, clock.Real{}, fastConfig())
	err := exec.ApplyFill(position.FillEvent{ID: "t1", OrderID: "nobody", Size: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrUnknownOrder)
}

func TestRequestCancelBeforeAck(t *testing.T) {
	venue := &fakeVenue{}
	exec := NewExecutor(venue, clock.Real{}, fastConfig())

	o := newTestOrder()
	exec.track(o)

	require.NoError(t, exec.RequestCancel(context.Background(), o))
	assert.Equal(t, StateCancelled, o.State)
	assert.Empty(t, venue.cancels, "no venue roundtrip before ack")
}

func TestRequestCancelUnconfirmedLeavesState(t *testing.T) {
	venue := &fakeVenue{
		respond: func(int, VenueRequest) (VenueAck, error) { return VenueAck{VenueID: "v-1"}, nil },
		confirm: false,
	}
	exec := NewExecutor(venue, clock.Real{}, fastConfig())

	o := newTestOrder()
	require.NoError(t, exec.Submit(context.Background(), o))
	require.NoError(t, exec.RequestCancel(context.Background(), o))

	assert.Equal(t, StateOpen, o.State, "unconfirmed cancel must not commit CANCELLED")
}

func TestRequestCancelConfirmed(t *testing.T) {
	venue := &fakeVenue{
		respond: func(int, VenueRequest) (VenueAck, error) { return VenueAck{VenueID: "v-1"}, nil },
		confirm: true,
	}
	exec := NewExecutor(venue, clock.Real{}, fastConfig())

	o := newTestOrder()
	require.NoError(t, exec.Submit(context.Background(), o))
	require.NoError(t, exec.RequestCancel(context.Background(), o))
	assert.Equal(t, StateCancelled, o.State)

	// Terminal orders are no-ops.
	require.NoError(t, exec.RequestCancel(context.Background(), o))
	assert.Len(t, venue.cancels, 1)
}

func TestPaperModeFillsImmediately(t *testing.T) {
	cfg := fastConfig()
	cfg.PaperMode = true
	cfg.SlippageBps = 100 // 1% for easy arithmetic
	exec := NewExecutor(&fakeVenue{}, clock.Real{}, cfg)

	var sunk []position.FillEvent
	exec.OnFill(func(_ *Order, fill position.FillEvent) { sunk = append(sunk, fill) })

	o := newTestOrder() // buy 20 @ 0.45
	require.NoError(t, exec.Submit(context.Background(), o))

	assert.Equal(t, StateFilled, o.State)
	require.Len(t, sunk, 1)
	assert.Equal(t, "paper-"+o.ClientID, sunk[0].ID)
	assert.True(t, sunk[0].Price.Equal(decimal.NewFromFloat(0.4545)), "buy slips up: %s", sunk[0].Price)
}

func TestForceCancel(t *testing.T) {
	venue := &fakeVenue{respond: func(int, VenueRequest) (VenueAck, error) {
		return VenueAck{VenueID: "v-1"}, nil
	}}
	exec := NewExecutor(venue, clock.Real{}, fastConfig())

	o := newTestOrder()
	require.NoError(t, exec.Submit(context.Background(), o))

	exec.ForceCancel(o, "absent from venue after restart")
	assert.Equal(t, StateCancelled, o.State)
	assert.Empty(t, venue.cancels)
}

func TestOnTransitionFiresPerCommit(t *testing.T) {
	venue := &fakeVenue{respond: func(int, VenueRequest) (VenueAck, error) {
		return VenueAck{VenueID: "v-1"}, nil
	}}
	exec := NewExecutor(venue, clock.Real{}, fastConfig())

	var events []Event
	exec.OnTransition(func(_ *Order, ev Event) { events = append(events, ev) })

	o := newTestOrder()
	require.NoError(t, exec.Submit(context.Background(), o))

	// PENDING->SUBMITTED, SUBMITTED->OPEN.
	require.Len(t, events, 2)
	assert.Equal(t, StateSubmitted, events[0].To)
	assert.Equal(t, StateOpen, events[1].To)
}

func TestAdoptedOrderIgnoresReplayedFills(t *testing.T) {
	exec := NewExecutor(&fakeVenue{}, clock.Real{}, fastConfig())

	var sunk []position.FillEvent
	exec.OnFill(func(_ *Order, fill position.FillEvent) { sunk = append(sunk, fill) })

	// Persisted mid-fill: 8 of 20 done, t1 already counted before the crash.
	o := newTestOrder()
	o.State = StatePartial
	o.VenueID = "v-9"
	o.FilledSize = decimal.NewFromInt(8)
	o.RestoreFills([]string{"t1"})
	exec.Adopt(o)

	// The trade cursor reset on restart, so the venue re-reports t1 before
	// the completing t2.
	t1 := position.FillEvent{ID: "t1", OrderID: "v-9", Size: decimal.NewFromInt(8), Price: o.Price}
	require.NoError(t, exec.ApplyFill(t1))
	assert.True(t, o.FilledSize.Equal(decimal.NewFromInt(8)), "replayed fill must not double-count")
	assert.Empty(t, sunk)

	t2 := position.FillEvent{ID: "t2", OrderID: "v-9", Size: decimal.NewFromInt(12), Price: o.Price}
	require.NoError(t, exec.ApplyFill(t2))
	assert.Equal(t, StateFilled, o.State)
	require.Len(t, sunk, 1)
	assert.Equal(t, "t2", sunk[0].ID)
}

func TestAdoptRestoresLookup(t *testing.T) {
	exec := NewExecutor(&fakeVenue{}, clock.Real{}, fastConfig())

	o := newTestOrder()
	o.State = StateOpen
	o.VenueID = "v-9"
	exec.Adopt(o)

	assert.Same(t, o, exec.Lookup("v-9"))
	assert.Same(t, o, exec.Lookup(o.ClientID))
	assert.True(t, exec.HasLive(market.LegYes))
}
