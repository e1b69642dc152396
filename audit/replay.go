package audit

import (
	"errors"
	"fmt"

	"github.com/cloudx-io/escrowauction/core"
)

var (
	ErrSequenceGap     = errors.New("audit: events out of sequence")
	ErrUnknownAuction  = errors.New("audit: event for auction with no creation event")
	ErrDuplicateCreate = errors.New("audit: auction created twice")
)

// Replay folds a history of events, in sequence order, into the auction
// records it describes. Every transition is checked against the lifecycle
// table, so a history that skips or reorders a transition is rejected.
func Replay(events []Event) (map[core.AuctionID]core.Auction, error) {
	out := make(map[core.AuctionID]core.Auction)
	var last uint64
	for i, evt := range events {
		if err := evt.Validate(); err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		if evt.Seq <= last {
			return nil, fmt.Errorf("seq %d after %d: %w", evt.Seq, last, ErrSequenceGap)
		}
		last = evt.Seq

		if evt.Kind == KindAuctionCreated {
			if _, ok := out[evt.AuctionID]; ok {
				return nil, fmt.Errorf("auction %s: %w", evt.AuctionID, ErrDuplicateCreate)
			}
			c := evt.Created
			a := core.Auction{
				ID:              evt.AuctionID,
				Creator:         c.Creator,
				Asset:           c.Asset,
				StartingBid:     c.StartingBid,
				MinBidIncrement: c.MinBidIncrement,
				CreatedAt:       evt.Time,
				EndTime:         c.EndTime,
				Status:          core.StatusActive,
			}
			if err := a.Validate(); err != nil {
				return nil, fmt.Errorf("auction %s: %w", evt.AuctionID, err)
			}
			out[evt.AuctionID] = a
			continue
		}

		a, ok := out[evt.AuctionID]
		if !ok {
			return nil, fmt.Errorf("seq %d, auction %s: %w", evt.Seq, evt.AuctionID, ErrUnknownAuction)
		}
		next, err := apply(a, evt)
		if err != nil {
			return nil, fmt.Errorf("seq %d, auction %s: %w", evt.Seq, evt.AuctionID, err)
		}
		out[evt.AuctionID] = next
	}
	return out, nil
}

func apply(a core.Auction, evt Event) (core.Auction, error) {
	var op core.Operation
	switch evt.Kind {
	case KindBidPlaced:
		op = core.OpPlaceBid
	case KindAuctionFinalized:
		op = core.OpFinalize
	case KindAuctionUpdated:
		op = core.OpUpdateSettings
	case KindAuctionCancelled:
		op = core.OpCancel
		if evt.Cancelled.Reason == ReasonNoBids {
			op = core.OpWithdrawUnsold
		}
	}
	status, err := core.CheckTransition(op, a.Status)
	if err != nil {
		return core.Auction{}, err
	}

	next := a
	next.Status = status
	switch evt.Kind {
	case KindBidPlaced:
		next.HighestBid = evt.Bid.Amount
		next.HighestBidder = evt.Bid.Bidder
	case KindAuctionUpdated:
		if evt.Updated.NewEndTime != nil {
			next.EndTime = *evt.Updated.NewEndTime
		}
		if evt.Updated.NewMinBidIncrement != nil {
			next.MinBidIncrement = *evt.Updated.NewMinBidIncrement
		}
	}
	if err := next.Validate(); err != nil {
		return core.Auction{}, err
	}
	return next, nil
}
