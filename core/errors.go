package core

import "errors"

// ErrorClass groups rejections by cause so callers can decide whether to resubmit.
type ErrorClass string

const (
	ClassValidation    ErrorClass = "validation"
	ClassState         ErrorClass = "state"
	ClassBidOrdering   ErrorClass = "bid_ordering"
	ClassAuthorization ErrorClass = "authorization"
)

// AuctionError is a typed rejection of an operation. Every AuctionError leaves
// the record and all balances exactly as they were before the call.
type AuctionError struct {
	Code    string
	Class   ErrorClass
	Message string
}

func (e *AuctionError) Error() string { return e.Message }

var (
	ErrInvalidDuration     = &AuctionError{"InvalidDuration", ClassValidation, "the auction duration must be greater than 0"}
	ErrInvalidStartingBid  = &AuctionError{"InvalidStartingBid", ClassValidation, "the starting bid must be greater than 0"}
	ErrInvalidBidIncrement = &AuctionError{"InvalidBidIncrement", ClassValidation, "the minimum bid increment must be greater than 0"}
	ErrInvalidIdentity     = &AuctionError{"InvalidIdentity", ClassValidation, "identity must not be empty"}

	ErrAuctionEnded           = &AuctionError{"AuctionEnded", ClassState, "the auction has already ended"}
	ErrAuctionNotActive       = &AuctionError{"AuctionNotActive", ClassState, "the auction is not active"}
	ErrAuctionNotEnded        = &AuctionError{"AuctionNotEnded", ClassState, "the auction has not ended yet"}
	ErrAuctionHasBids         = &AuctionError{"AuctionHasBids", ClassState, "the auction already has bids"}
	ErrInvalidStateTransition = &AuctionError{"InvalidStateTransition", ClassState, "invalid auction state transition"}

	ErrBidTooLow              = &AuctionError{"BidTooLow", ClassBidOrdering, "the bid amount is too low"}
	ErrBidIncrementTooLow     = &AuctionError{"BidIncrementTooLow", ClassBidOrdering, "the bid increment is too low"}
	ErrPreviousBidderMismatch = &AuctionError{"PreviousBidderMismatch", ClassBidOrdering, "previous bidder does not match the current highest bidder"}

	ErrUnauthorizedCancellation = &AuctionError{"UnauthorizedCancellation", ClassAuthorization, "unauthorized to cancel this auction"}
	ErrUnauthorizedUpdate       = &AuctionError{"UnauthorizedUpdate", ClassAuthorization, "unauthorized to update this auction"}
	ErrUnauthorizedWithdrawal   = &AuctionError{"UnauthorizedWithdrawal", ClassAuthorization, "unauthorized to withdraw this auction's asset"}
)

// AsAuctionError unwraps err to the AuctionError it carries, if any.
func AsAuctionError(err error) (*AuctionError, bool) {
	var ae *AuctionError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
