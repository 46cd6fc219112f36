package venue

import (
	"context"

	"github.com/Gowthamkjaya/crypto-sub000/internal/execution"
	"github.com/Gowthamkjaya/crypto-sub000/internal/market"
	"github.com/Gowthamkjaya/crypto-sub000/internal/ports"
	"github.com/Gowthamkjaya/crypto-sub000/internal/position"
)

// Paper is the venue stand-in for paper mode. The executor simulates fills
// locally and never calls Submit; the polling side just reports an empty
// venue so recovery and reconciliation stay exercised.
type Paper struct{}

var _ ports.Venue = Paper{}

func (Paper) Register(market.Market) {}

func (Paper) Submit(context.Context, execution.VenueRequest) (execution.VenueAck, error) {
	return execution.VenueAck{}, &execution.RejectError{Reason: "paper venue does not accept orders", Permanent: true}
}

func (Paper) Cancel(context.Context, string) (bool, error) { return true, nil }

func (Paper) PollFills(context.Context, string) ([]position.FillEvent, error) { return nil, nil }

func (Paper) OpenOrders(context.Context, string) ([]execution.VenueRequest, error) {
	return nil, nil
}
