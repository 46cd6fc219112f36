package feed

import (
	"context"
	"time"

	"github.com/Gowthamkjaya/crypto-sub000/internal/market"
	"github.com/Gowthamkjaya/crypto-sub000/internal/ports"
)

// Staleness horizons. Data older than this is flagged stale in the snapshot;
// the signal calculator downgrades to insufficient and no order goes out.
const (
	referenceMaxAge = 5 * time.Second
	bookMaxAge      = 10 * time.Second
)

// Provider composes the reference and book feeds into per-tick snapshots.
// When a Chainlink feed is configured its price wins over the exchange
// ticker, since the venue resolves against the oracle.
type Provider struct {
	reference *ReferenceFeed
	chainlink *ChainlinkFeed
	books     *BookFeed
}

// NewProvider builds a snapshot provider. chainlink may be nil.
func NewProvider(reference *ReferenceFeed, chainlink *ChainlinkFeed, books *BookFeed) *Provider {
	return &Provider{reference: reference, chainlink: chainlink, books: books}
}

var _ ports.SnapshotProvider = (*Provider)(nil)

// Fetch assembles the current view of a market from cached feed state. It
// never blocks on the network; missing or aged-out data is flagged stale
// rather than returned as an error.
func (p *Provider) Fetch(_ context.Context, m market.Market) (market.Snapshot, error) {
	now := time.Now()
	snap := market.Snapshot{
		MarketID:   m.ID,
		CapturedAt: now,
	}

	ref, ok := p.referencePoint(m.ReferenceSym)
	if !ok || now.Sub(ref.At) > referenceMaxAge {
		snap.ReferenceStale = true
	} else {
		snap.ReferencePrice = ref.Price
		snap.ReferenceAt = ref.At
	}

	snap.Yes = p.bookTop(m.YesTokenID, now)
	snap.No = p.bookTop(m.NoTokenID, now)
	return snap, nil
}

func (p *Provider) referencePoint(symbol string) (PricePoint, bool) {
	if p.chainlink != nil {
		if point, ok := p.chainlink.Latest(symbol); ok {
			return point, true
		}
	}
	if p.reference != nil {
		return p.reference.Latest(symbol)
	}
	return PricePoint{}, false
}

func (p *Provider) bookTop(tokenID string, now time.Time) market.BookTop {
	top, ok := p.books.Top(tokenID)
	if !ok || now.Sub(top.At) > bookMaxAge {
		return market.BookTop{Stale: true}
	}
	return market.BookTop{
		BestBid: top.bidQuote(),
		BestAsk: top.askQuote(),
	}
}
