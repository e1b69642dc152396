// Package auctionapi defines the JSON wire format spoken by auctiond and the
// signed operation envelope carried inside it.
package auctionapi

import (
	"errors"

	"github.com/cloudx-io/escrowauction/core"
	"github.com/cloudx-io/escrowauction/ledger"
)

// Request types.
const (
	RequestPing         = "ping"
	RequestOperation    = "operation"
	RequestAuctionQuery = "auction_query"
)

// Response types.
const (
	ResponsePong      = "pong"
	ResponseOperation = "operation_response"
	ResponseAuction   = "auction_response"
	ResponseError     = "error"
)

// Request is one JSON message sent to auctiond.
type Request struct {
	Type string `json:"type"`

	// SignedOperation is set for "operation" requests.
	SignedOperation EncodedOperation `json:"signed_operation,omitempty"`

	// AuctionID is set for "auction_query" requests.
	AuctionID string `json:"auction_id,omitempty"`
}

// Response is the reply to a Request. On failure ErrorCode names the
// rejection (an AuctionError code or a ledger condition).
type Response struct {
	Type           string           `json:"type"`
	Success        bool             `json:"success"`
	Message        string           `json:"message"`
	ErrorCode      string           `json:"error_code,omitempty"`
	ErrorClass     core.ErrorClass  `json:"error_class,omitempty"`
	Auction        *core.Auction    `json:"auction,omitempty"`
	Settlement     *core.Settlement `json:"settlement,omitempty"`
	ProcessingTime int64            `json:"processing_time_ms"`
}

// Error codes for failures that are not AuctionErrors.
const (
	CodeAuctionNotFound   = "AuctionNotFound"
	CodeAuctionExists     = "AuctionExists"
	CodeInsufficientFunds = "InsufficientFunds"
	CodeAssetNotHeld      = "AssetNotHeld"
	CodeBalanceOverflow   = "BalanceOverflow"
	CodeUnauthenticated   = "Unauthenticated"
	CodeBadRequest        = "BadRequest"
	CodeInternal          = "Internal"
)

var ledgerCodes = []struct {
	err  error
	code string
}{
	{ledger.ErrAuctionNotFound, CodeAuctionNotFound},
	{ledger.ErrAuctionExists, CodeAuctionExists},
	{ledger.ErrInsufficientFunds, CodeInsufficientFunds},
	{ledger.ErrAssetNotHeld, CodeAssetNotHeld},
	{ledger.ErrBalanceOverflow, CodeBalanceOverflow},
}

// ErrorCode maps an engine error to its wire code and class. Unknown errors map to CodeInternal.
func ErrorCode(err error) (string, core.ErrorClass) {
	if ae, ok := core.AsAuctionError(err); ok {
		return ae.Code, ae.Class
	}
	for _, lc := range ledgerCodes {
		if errors.Is(err, lc.err) {
			return lc.code, ""
		}
	}
	return CodeInternal, ""
}

// Failure builds an unsuccessful response of type typ for err.
func Failure(typ string, err error) Response {
	code, class := ErrorCode(err)
	return Response{
		Type:       typ,
		Success:    false,
		Message:    err.Error(),
		ErrorCode:  code,
		ErrorClass: class,
	}
}
