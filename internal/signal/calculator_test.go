package signal

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gowthamkjaya/crypto-sub000/internal/market"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// fixedModel pins the fair value, isolating the calculator's own behavior.
type fixedModel struct{ fair decimal.Decimal }

func (m fixedModel) FairYes(_, _ decimal.Decimal, _ time.Duration) decimal.Decimal {
	return m.fair
}

var baseTime = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func testMarket(resolvesIn time.Duration) market.Market {
	return market.Market{
		ID:           "btc-window-1",
		YesTokenID:   "tok-yes",
		NoTokenID:    "tok-no",
		ReferenceSym: "BTCUSDT",
		Strike:       dec("65000"),
		ResolvesAt:   baseTime.Add(resolvesIn),
	}
}

func liveSnapshot(yesBid, yesAsk, noBid, noAsk string) market.Snapshot {
	size := dec("100")
	return market.Snapshot{
		MarketID:       "btc-window-1",
		ReferencePrice: dec("65300"),
		ReferenceAt:    baseTime,
		Yes: market.BookTop{
			BestBid: market.Quote{Price: dec(yesBid), Size: size},
			BestAsk: market.Quote{Price: dec(yesAsk), Size: size},
		},
		No: market.BookTop{
			BestBid: market.Quote{Price: dec(noBid), Size: size},
			BestAsk: market.Quote{Price: dec(noAsk), Size: size},
		},
		CapturedAt: baseTime,
	}
}

func TestComputeEdgesPerSide(t *testing.T) {
	calc := NewCalculator(fixedModel{fair: dec("0.55")}, 90*time.Second)
	snap := liveSnapshot("0.38", "0.40", "0.55", "0.60")

	sig := calc.Compute(snap, testMarket(10*time.Minute), baseTime)

	require.Equal(t, TierHigh, sig.Tier)
	assert.True(t, sig.FairYes.Equal(dec("0.55")))

	// YES: buy = 0.55 - 0.40, sell = 0.38 - 0.55.
	assert.True(t, sig.Yes.BuyEdge.Equal(dec("0.15")), "yes buy = %s", sig.Yes.BuyEdge)
	assert.True(t, sig.Yes.SellEdge.Equal(dec("-0.17")))

	// NO is priced off 1 - fair = 0.45: buy = 0.45 - 0.60, sell = 0.55 - 0.45.
	assert.True(t, sig.No.BuyEdge.Equal(dec("-0.15")))
	assert.True(t, sig.No.SellEdge.Equal(dec("0.10")))
}

func TestComputeStaleReferenceInsufficient(t *testing.T) {
	calc := NewCalculator(fixedModel{fair: dec("0.55")}, 90*time.Second)
	snap := liveSnapshot("0.38", "0.40", "0.55", "0.60")
	snap.ReferenceStale = true

	sig := calc.Compute(snap, testMarket(10*time.Minute), baseTime)
	assert.Equal(t, TierInsufficient, sig.Tier)
	assert.NotEmpty(t, sig.Reason)
}

func TestComputeEmptyBookInsufficient(t *testing.T) {
	calc := NewCalculator(fixedModel{fair: dec("0.55")}, 90*time.Second)
	snap := liveSnapshot("0.38", "0.40", "0.55", "0.60")
	snap.No.BestAsk = market.Quote{}

	sig := calc.Compute(snap, testMarket(10*time.Minute), baseTime)
	assert.Equal(t, TierInsufficient, sig.Tier)
}

func TestComputeDegradedSnapshotInsufficient(t *testing.T) {
	calc := NewCalculator(fixedModel{fair: dec("0.55")}, 90*time.Second)
	sig := calc.Compute(market.Degraded("btc-window-1", baseTime), testMarket(10*time.Minute), baseTime)
	assert.Equal(t, TierInsufficient, sig.Tier)
}

func TestComputeLowTierNearResolution(t *testing.T) {
	calc := NewCalculator(fixedModel{fair: dec("0.55")}, 90*time.Second)
	snap := liveSnapshot("0.38", "0.40", "0.55", "0.60")

	sig := calc.Compute(snap, testMarket(60*time.Second), baseTime)
	assert.Equal(t, TierLow, sig.Tier)
	assert.Equal(t, 60*time.Second, sig.Remaining)
}

func TestComputeIsPure(t *testing.T) {
	calc := NewCalculator(fixedModel{fair: dec("0.55")}, 90*time.Second)
	snap := liveSnapshot("0.38", "0.40", "0.55", "0.60")
	m := testMarket(10 * time.Minute)

	a := calc.Compute(snap, m, baseTime)
	b := calc.Compute(snap, m, baseTime)
	assert.Equal(t, a, b)
}

func TestLogisticModelDirection(t *testing.T) {
	model := DefaultLogisticModel()
	strike := dec("65000")

	above := model.FairYes(dec("65300"), strike, 10*time.Minute)
	below := model.FairYes(dec("64700"), strike, 10*time.Minute)
	at := model.FairYes(strike, strike, 10*time.Minute)

	assert.True(t, above.GreaterThan(dec("0.5")), "above strike = %s", above)
	assert.True(t, below.LessThan(dec("0.5")), "below strike = %s", below)
	assert.True(t, at.Equal(dec("0.5")))
}

func TestLogisticModelSharpensAsWindowCloses(t *testing.T) {
	model := DefaultLogisticModel()
	strike := dec("65000")
	ref := dec("65100")

	early := model.FairYes(ref, strike, 10*time.Minute)
	late := model.FairYes(ref, strike, 30*time.Second)
	assert.True(t, late.GreaterThan(early), "same move must be more decisive late: %s vs %s", late, early)
}

func TestComputeClampsExtremeFair(t *testing.T) {
	calc := NewCalculator(fixedModel{fair: dec("1.7")}, 90*time.Second)
	snap := liveSnapshot("0.38", "0.40", "0.55", "0.60")

	sig := calc.Compute(snap, testMarket(10*time.Minute), baseTime)
	assert.True(t, sig.FairYes.Equal(dec("0.99")))
}
