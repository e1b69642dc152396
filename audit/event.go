// Package audit produces the append-only history of auction transitions:
// one event per successful operation, CBOR-encoded and optionally wrapped
// in a COSE_Sign1 signature so observers can detect tampering.
package audit

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/cloudx-io/escrowauction/core"
)

// Kind names the transition an event records.
type Kind string

const (
	KindAuctionCreated   Kind = "AuctionCreated"
	KindBidPlaced        Kind = "BidPlaced"
	KindAuctionFinalized Kind = "AuctionFinalized"
	KindAuctionCancelled Kind = "AuctionCancelled"
	KindAuctionUpdated   Kind = "AuctionUpdated"
)

// Cancellation reasons carried by AuctionCancelled.
const (
	ReasonNoBids             = "no bids"
	ReasonCancelledByCreator = "cancelled by creator"
)

type AuctionCreated struct {
	Creator         core.Identity `cbor:"creator" json:"creator"`
	Asset           core.AssetID  `cbor:"asset" json:"asset"`
	StartingBid     uint64        `cbor:"starting_bid" json:"starting_bid"`
	MinBidIncrement uint64        `cbor:"min_bid_increment" json:"min_bid_increment"`
	EndTime         int64         `cbor:"end_time" json:"end_time"`
}

type BidPlaced struct {
	Bidder         core.Identity `cbor:"bidder" json:"bidder"`
	Amount         uint64        `cbor:"amount" json:"amount"`
	RefundedBidder core.Identity `cbor:"refunded_bidder,omitempty" json:"refunded_bidder,omitempty"`
	RefundedAmount uint64        `cbor:"refunded_amount,omitempty" json:"refunded_amount,omitempty"`
}

// AuctionFinalized has a zero Winner and WinningBid when the auction closed without bids.
type AuctionFinalized struct {
	Winner        core.Identity `cbor:"winner" json:"winner"`
	WinningBid    uint64        `cbor:"winning_bid" json:"winning_bid"`
	SellerAmount  uint64        `cbor:"seller_amount" json:"seller_amount"`
	PlatformFee   uint64        `cbor:"platform_fee" json:"platform_fee"`
	AssetReturned bool          `cbor:"asset_returned,omitempty" json:"asset_returned,omitempty"`
}

type AuctionCancelled struct {
	Reason string `cbor:"reason" json:"reason"`
}

// AuctionUpdated carries only the fields the update changed.
type AuctionUpdated struct {
	NewEndTime         *int64  `cbor:"new_end_time,omitempty" json:"new_end_time,omitempty"`
	NewMinBidIncrement *uint64 `cbor:"new_min_bid_increment,omitempty" json:"new_min_bid_increment,omitempty"`
}

// Event is one immutable audit record. Exactly one payload field is set, matching Kind.
type Event struct {
	Seq       uint64         `cbor:"seq" json:"seq"`
	Kind      Kind           `cbor:"kind" json:"kind"`
	AuctionID core.AuctionID `cbor:"auction_id" json:"auction_id"`
	Time      int64          `cbor:"time" json:"time"`

	Created   *AuctionCreated   `cbor:"created,omitempty" json:"created,omitempty"`
	Bid       *BidPlaced        `cbor:"bid,omitempty" json:"bid,omitempty"`
	Finalized *AuctionFinalized `cbor:"finalized,omitempty" json:"finalized,omitempty"`
	Cancelled *AuctionCancelled `cbor:"cancelled,omitempty" json:"cancelled,omitempty"`
	Updated   *AuctionUpdated   `cbor:"updated,omitempty" json:"updated,omitempty"`
}

// Validate checks that the payload matches Kind.
func (e *Event) Validate() error {
	var ok bool
	switch e.Kind {
	case KindAuctionCreated:
		ok = e.Created != nil
	case KindBidPlaced:
		ok = e.Bid != nil
	case KindAuctionFinalized:
		ok = e.Finalized != nil
	case KindAuctionCancelled:
		ok = e.Cancelled != nil
	case KindAuctionUpdated:
		ok = e.Updated != nil
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if !ok {
		return fmt.Errorf("event %d: missing %s payload", e.Seq, e.Kind)
	}
	return nil
}

var encMode = func() cbor.EncMode {
	// Canonical encoding so the same event always signs to the same bytes.
	mode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("audit: cbor enc mode: %v", err))
	}
	return mode
}()

// Encode returns the canonical CBOR encoding of e.
func Encode(e Event) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	data, err := encMode.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return data, nil
}

// Decode parses an event produced by Encode.
func Decode(data []byte) (Event, error) {
	var e Event
	if err := cbor.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}
