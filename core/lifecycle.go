package core

import (
	"fmt"
	"math"
	"time"
)

// CreateParams are the creator-supplied arguments of a new auction.
type CreateParams struct {
	ID              AuctionID
	Creator         Identity
	Asset           AssetID
	StartingBid     uint64
	MinBidIncrement uint64
	Duration        time.Duration
}

// endTime truncates d to whole seconds, the resolution of the host clock, and
// returns now + d. An end time past the int64 range is an invalid duration.
func endTime(d time.Duration, now int64) (int64, error) {
	secs := int64(d / time.Second)
	if secs <= 0 {
		return 0, fmt.Errorf("duration %s: %w", d, ErrInvalidDuration)
	}
	if now > math.MaxInt64-secs {
		return 0, fmt.Errorf("duration %s from %d: %w", d, now, ErrInvalidDuration)
	}
	return now + secs, nil
}

// NewAuction validates p and returns the Active record created at now.
func NewAuction(p CreateParams, now int64) (Auction, error) {
	end, err := endTime(p.Duration, now)
	if err != nil {
		return Auction{}, err
	}
	if p.StartingBid == 0 {
		return Auction{}, ErrInvalidStartingBid
	}
	if p.MinBidIncrement == 0 {
		return Auction{}, ErrInvalidBidIncrement
	}
	if p.Creator.IsZero() {
		return Auction{}, fmt.Errorf("creator: %w", ErrInvalidIdentity)
	}
	if p.Asset.IsZero() {
		return Auction{}, fmt.Errorf("asset: %w", ErrInvalidIdentity)
	}

	return Auction{
		ID:              p.ID,
		Creator:         p.Creator,
		Asset:           p.Asset,
		StartingBid:     p.StartingBid,
		MinBidIncrement: p.MinBidIncrement,
		CreatedAt:       now,
		EndTime:         end,
		Status:          transitions[OpCreate].to,
	}, nil
}

// Refund is escrow owed back to a displaced bidder.
type Refund struct {
	To     Identity `json:"to"`
	Amount uint64   `json:"amount"`
}

// BidResult is the outcome of an accepted bid.
type BidResult struct {
	Next   Auction
	Refund *Refund // nil for the first bid
}

// MinimumNextBid returns the smallest amount the next bid must reach. The bool is
// false when no amount can satisfy the increment without overflowing uint64.
func (a *Auction) MinimumNextBid() (uint64, bool) {
	if !a.HasBids() {
		return a.StartingBid, true
	}
	if a.HighestBid > math.MaxUint64-a.MinBidIncrement {
		return 0, false
	}
	return a.HighestBid + a.MinBidIncrement, true
}

// PlaceBid validates a bid of amount by bidder at now. previousBidder must name
// the current highest bidder when one exists, since that account receives the refund.
func PlaceBid(a Auction, bidder, previousBidder Identity, amount uint64, now int64) (BidResult, error) {
	status, err := CheckTransition(OpPlaceBid, a.Status)
	if err != nil {
		return BidResult{}, err
	}
	if now >= a.EndTime {
		return BidResult{}, ErrAuctionEnded
	}
	if bidder.IsZero() {
		return BidResult{}, fmt.Errorf("bidder: %w", ErrInvalidIdentity)
	}
	if amount < a.StartingBid {
		return BidResult{}, fmt.Errorf("bid %d below starting bid %d: %w", amount, a.StartingBid, ErrBidTooLow)
	}

	var refund *Refund
	if a.HasBids() {
		required, ok := a.MinimumNextBid()
		if !ok {
			return BidResult{}, fmt.Errorf("no bid can exceed %d by %d: %w", a.HighestBid, a.MinBidIncrement, ErrBidIncrementTooLow)
		}
		if amount < required {
			return BidResult{}, fmt.Errorf("bid %d below required %d: %w", amount, required, ErrBidIncrementTooLow)
		}
		if previousBidder != a.HighestBidder {
			return BidResult{}, ErrPreviousBidderMismatch
		}
		refund = &Refund{To: a.HighestBidder, Amount: a.HighestBid}
	}

	next := a
	next.HighestBid = amount
	next.HighestBidder = bidder
	next.Status = status
	return BidResult{Next: next, Refund: refund}, nil
}

// FinalizeResult is the outcome of closing an auction after its deadline.
type FinalizeResult struct {
	Next       Auction
	Winner     Identity    // zero when there were no bids
	Settlement *Settlement // nil when there were no bids
}

// Finalize closes a at now. The record becomes Completed whether or not a bid
// exists; only an auction with a bid produces a settlement.
func Finalize(a Auction, now int64) (FinalizeResult, error) {
	status, err := CheckTransition(OpFinalize, a.Status)
	if err != nil {
		return FinalizeResult{}, err
	}
	if now < a.EndTime {
		return FinalizeResult{}, ErrAuctionNotEnded
	}

	next := a
	next.Status = status
	result := FinalizeResult{Next: next}
	if a.HasBids() {
		s := SplitProceeds(a.HighestBid)
		result.Winner = a.HighestBidder
		result.Settlement = &s
	}
	return result, nil
}

// WithdrawUnsold cancels an auction that ended without bids. caller is the
// destination of the returned asset and must be the creator.
func WithdrawUnsold(a Auction, caller Identity, now int64) (Auction, error) {
	status, err := CheckTransition(OpWithdrawUnsold, a.Status)
	if err != nil {
		return Auction{}, err
	}
	if now < a.EndTime {
		return Auction{}, ErrAuctionNotEnded
	}
	if a.HasBids() {
		return Auction{}, ErrAuctionHasBids
	}
	if caller != a.Creator {
		return Auction{}, ErrUnauthorizedWithdrawal
	}

	next := a
	next.Status = status
	return next, nil
}

// Cancel is the creator's withdrawal of an auction with no bids, at any time.
func Cancel(a Auction, caller Identity) (Auction, error) {
	status, err := CheckTransition(OpCancel, a.Status)
	if err != nil {
		return Auction{}, err
	}
	if a.HasBids() {
		return Auction{}, ErrAuctionHasBids
	}
	if caller != a.Creator {
		return Auction{}, ErrUnauthorizedCancellation
	}

	next := a
	next.Status = status
	return next, nil
}

// SettingsUpdate carries the optional fields of an update_settings call.
// A nil field is left unchanged.
type SettingsUpdate struct {
	Duration        *time.Duration
	MinBidIncrement *uint64
}

// SettingsChange reports the fields an update actually changed.
type SettingsChange struct {
	Next               Auction
	NewEndTime         *int64
	NewMinBidIncrement *uint64
}

// UpdateSettings applies u to a pre-bid auction. A new duration restarts the
// clock: the end time becomes now + duration.
func UpdateSettings(a Auction, caller Identity, u SettingsUpdate, now int64) (SettingsChange, error) {
	status, err := CheckTransition(OpUpdateSettings, a.Status)
	if err != nil {
		return SettingsChange{}, err
	}
	if a.HasBids() {
		return SettingsChange{}, ErrAuctionHasBids
	}
	if caller != a.Creator {
		return SettingsChange{}, ErrUnauthorizedUpdate
	}

	next := a
	next.Status = status
	change := SettingsChange{}
	if u.Duration != nil {
		end, err := endTime(*u.Duration, now)
		if err != nil {
			return SettingsChange{}, err
		}
		next.EndTime = end
		change.NewEndTime = &end
	}
	if u.MinBidIncrement != nil {
		if *u.MinBidIncrement == 0 {
			return SettingsChange{}, ErrInvalidBidIncrement
		}
		inc := *u.MinBidIncrement
		next.MinBidIncrement = inc
		change.NewMinBidIncrement = &inc
	}
	change.Next = next
	return change, nil
}
