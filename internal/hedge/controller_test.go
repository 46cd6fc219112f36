package hedge

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gowthamkjaya/crypto-sub000/internal/clock"
	"github.com/Gowthamkjaya/crypto-sub000/internal/config"
	"github.com/Gowthamkjaya/crypto-sub000/internal/execution"
	"github.com/Gowthamkjaya/crypto-sub000/internal/market"
	"github.com/Gowthamkjaya/crypto-sub000/internal/position"
	"github.com/Gowthamkjaya/crypto-sub000/internal/signal"
)

type stubVenue struct{}

func (stubVenue) Submit(context.Context, execution.VenueRequest) (execution.VenueAck, error) {
	return execution.VenueAck{VenueID: "v-1"}, nil
}
func (stubVenue) Cancel(context.Context, string) (bool, error) { return true, nil }

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func testLimits() config.Limits {
	return config.Limits{
		MaxNetExposure: dec("100"),
		LimitEpsilon:   dec("0.5"),
		MaxOpenOrders:  4,
		MinEdge:        dec("0.05"),
		ClipSize:       dec("20"),
		SkewThreshold:  dec("10"),
		HedgeOnlyFloor: 60 * time.Second,
		HedgeWindow:    5 * time.Minute,
		LowTierFloor:   90 * time.Second,
	}
}

func testController(limits config.Limits) (*Controller, *position.Manager, *execution.Executor) {
	mgr := position.NewManager("btc-window-1", limits.MaxNetExposure, limits.LimitEpsilon)
	exec := execution.NewExecutor(stubVenue{}, clock.Real{}, execution.DefaultConfig())
	return NewController(limits, mgr, exec), mgr, exec
}

func testSnapshot() market.Snapshot {
	size := dec("100")
	return market.Snapshot{
		MarketID:       "btc-window-1",
		ReferencePrice: dec("65300"),
		Yes: market.BookTop{
			BestBid: market.Quote{Price: dec("0.38"), Size: size},
			BestAsk: market.Quote{Price: dec("0.40"), Size: size},
		},
		No: market.BookTop{
			BestBid: market.Quote{Price: dec("0.58"), Size: size},
			BestAsk: market.Quote{Price: dec("0.62"), Size: size},
		},
		CapturedAt: time.Now(),
	}
}

func highSignal(remaining time.Duration) signal.Signal {
	// Fair YES 0.55 against the testSnapshot books: YES is cheap to buy, NO
	// carries no edge on either side.
	return signal.Signal{
		MarketID:  "btc-window-1",
		FairYes:   dec("0.55"),
		Yes:       signal.SideEdge{BuyEdge: dec("0.15"), SellEdge: dec("-0.17")},
		No:        signal.SideEdge{BuyEdge: dec("-0.17"), SellEdge: dec("0.13")},
		Tier:      signal.TierHigh,
		Remaining: remaining,
	}
}

func buyFill(id string, leg market.Leg, price, size string) position.FillEvent {
	return position.FillEvent{
		ID: id, OrderID: "ord-" + id, MarketID: "btc-window-1",
		Leg: leg, Action: market.ActionBuy,
		Price: dec(price), Size: dec(size), At: time.Now(),
	}
}

func TestDecideAlphaBuysCheapLeg(t *testing.T) {
	ctrl, _, _ := testController(testLimits())

	decisions := ctrl.Decide(highSignal(10*time.Minute), testSnapshot())

	require.Len(t, decisions, 1)
	d := decisions[0]
	assert.Equal(t, KindAlpha, d.Kind)
	assert.Equal(t, market.LegYes, d.Leg)
	assert.Equal(t, market.ActionBuy, d.Action)
	assert.True(t, d.Price.Equal(dec("0.40")), "lifts the ask")
	assert.True(t, d.Size.Equal(dec("20")), "clip-sized: %s", d.Size)
}

func TestDecideInsufficientDataDoesNothing(t *testing.T) {
	ctrl, _, _ := testController(testLimits())

	sig := signal.Signal{MarketID: "btc-window-1", Tier: signal.TierInsufficient, Reason: "order book stale"}
	assert.Nil(t, ctrl.Decide(sig, testSnapshot()))
}

func TestDecideLowTierBlocksAlpha(t *testing.T) {
	ctrl, _, _ := testController(testLimits())

	sig := highSignal(80 * time.Second)
	sig.Tier = signal.TierLow

	assert.Empty(t, ctrl.Decide(sig, testSnapshot()), "LOW tier never opens new positions")
}

func TestDecideHedgeOnlyFloorUnwindsOnly(t *testing.T) {
	ctrl, mgr, _ := testController(testLimits())
	_, err := mgr.ApplyFill(buyFill("f1", market.LegYes, "0.40", "10"))
	require.NoError(t, err)

	// 20s left: the 0.15 buy edge is ignored, only the unwind goes out.
	decisions := ctrl.Decide(highSignal(20*time.Second), testSnapshot())

	require.Len(t, decisions, 1)
	d := decisions[0]
	assert.Equal(t, KindUnwind, d.Kind)
	assert.Equal(t, market.LegYes, d.Leg)
	assert.Equal(t, market.ActionSell, d.Action)
	assert.True(t, d.Price.Equal(dec("0.38")), "hits the bid")
	assert.True(t, d.Size.Equal(dec("10")), "capped by held qty")
}

func TestDecideHedgeOnlyFloorFlatDoesNothing(t *testing.T) {
	ctrl, _, _ := testController(testLimits())
	assert.Empty(t, ctrl.Decide(highSignal(20*time.Second), testSnapshot()))
}

func TestDecideSkewHedgeBuysUnderweightedLeg(t *testing.T) {
	ctrl, mgr, _ := testController(testLimits())
	_, err := mgr.ApplyFill(buyFill("f1", market.LegYes, "0.40", "15"))
	require.NoError(t, err)

	// Inside the hedge window with skew 15 past the threshold of 10.
	decisions := ctrl.Decide(highSignal(3*time.Minute), testSnapshot())

	require.NotEmpty(t, decisions)
	d := decisions[0]
	assert.Equal(t, KindHedge, d.Kind)
	assert.Equal(t, market.LegNo, d.Leg)
	assert.Equal(t, market.ActionBuy, d.Action)
	assert.True(t, d.Size.Equal(dec("15")), "sized to the skew: %s", d.Size)
}

func TestDecideNoSkewHedgeOutsideWindow(t *testing.T) {
	ctrl, mgr, _ := testController(testLimits())
	_, err := mgr.ApplyFill(buyFill("f1", market.LegYes, "0.40", "15"))
	require.NoError(t, err)

	decisions := ctrl.Decide(highSignal(10*time.Minute), testSnapshot())
	for _, d := range decisions {
		assert.NotEqual(t, KindHedge, d.Kind, "hedge only activates near resolution")
	}
}

func TestDecideExitSellsHeldEdge(t *testing.T) {
	ctrl, mgr, _ := testController(testLimits())
	_, err := mgr.ApplyFill(buyFill("f1", market.LegNo, "0.40", "8"))
	require.NoError(t, err)

	// NO sell edge 0.13 clears the minimum; YES alpha also fires.
	decisions := ctrl.Decide(highSignal(10*time.Minute), testSnapshot())

	var exit *Decision
	for i := range decisions {
		if decisions[i].Kind == KindExit {
			exit = &decisions[i]
		}
	}
	require.NotNil(t, exit)
	assert.Equal(t, market.LegNo, exit.Leg)
	assert.Equal(t, market.ActionSell, exit.Action)
	assert.True(t, exit.Size.Equal(dec("8")))
}

func TestDecideExposureLimitBlocksBuysNotSells(t *testing.T) {
	ctrl, mgr, _ := testController(testLimits())
	// 260 YES mark to 101.4 at the 0.39 mid: committed exposure already past
	// the 100 limit. Venue truth stands; only new buys are refused.
	_, err := mgr.ApplyFill(buyFill("f1", market.LegYes, "0.50", "260"))
	require.NoError(t, err)

	snap := testSnapshot()
	require.True(t, mgr.LimitBreached(snap))

	sig := highSignal(10 * time.Minute)
	sig.Yes.SellEdge = dec("0.06") // held YES is worth selling

	decisions := ctrl.Decide(sig, snap)

	require.Len(t, decisions, 1)
	assert.Equal(t, KindExit, decisions[0].Kind)
	assert.Equal(t, market.ActionSell, decisions[0].Action)
	assert.Equal(t, market.LegYes, decisions[0].Leg)
}

func TestDecideSuppressedWhileOrderInFlight(t *testing.T) {
	ctrl, _, exec := testController(testLimits())

	m := market.Market{ID: "btc-window-1", YesTokenID: "tok-yes", NoTokenID: "tok-no"}
	exec.Adopt(execution.NewOrder(m, market.LegYes, market.ActionBuy, dec("0.40"), dec("20"), "resting", time.Now()))

	assert.Empty(t, ctrl.Decide(highSignal(10*time.Minute), testSnapshot()),
		"one in-flight order per leg")
}

func TestDecideOpenOrderCap(t *testing.T) {
	limits := testLimits()
	limits.MaxOpenOrders = 0
	ctrl, _, _ := testController(limits)

	// Cap of zero means unlimited, not "no orders".
	assert.NotEmpty(t, ctrl.Decide(highSignal(10*time.Minute), testSnapshot()))

	limits.MaxOpenOrders = 1
	ctrl2, mgr, _ := testController(limits)
	_, err := mgr.ApplyFill(buyFill("f1", market.LegYes, "0.40", "15"))
	require.NoError(t, err)

	// Skew hedge + YES exit would both fire; the cap keeps one.
	decisions := ctrl2.Decide(highSignal(3*time.Minute), testSnapshot())
	assert.LessOrEqual(t, len(decisions), 1)
}
