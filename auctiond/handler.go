package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cloudx-io/escrowauction/auctionapi"
	"github.com/cloudx-io/escrowauction/core"
	"github.com/cloudx-io/escrowauction/engine"
)

func (s *Server) handleOperation(ctx context.Context, encoded auctionapi.EncodedOperation) auctionapi.Response {
	signed, err := encoded.Decode()
	if err != nil {
		return badRequest(err.Error())
	}

	op, err := s.verifier.Verify(ctx, signed)
	if err != nil {
		if payload, perr := auctionapi.ExtractPayload(signed); perr == nil {
			if claimed, derr := auctionapi.DecodeOperation(payload); derr == nil {
				s.logger.Info("rejected unauthenticated operation",
					zap.String("op", string(claimed.Op)),
					zap.Stringer("claimed_caller", claimed.Caller),
					zap.Error(err))
			}
		}
		return auctionapi.Response{
			Type:      auctionapi.ResponseOperation,
			Message:   err.Error(),
			ErrorCode: auctionapi.CodeUnauthenticated,
		}
	}

	resp, err := s.runOperation(ctx, op)
	if err != nil {
		return auctionapi.Failure(auctionapi.ResponseOperation, err)
	}
	resp.Type = auctionapi.ResponseOperation
	resp.Success = true
	return resp
}

func (s *Server) runOperation(ctx context.Context, op auctionapi.Operation) (auctionapi.Response, error) {
	var (
		a   core.Auction
		err error
	)
	switch op.Op {
	case core.OpCreate:
		d, derr := op.Duration()
		if derr != nil {
			return auctionapi.Response{}, derr
		}
		a, err = s.engine.Create(ctx, engine.CreateRequest{
			Creator:         op.Caller,
			Asset:           op.Asset,
			StartingBid:     op.StartingBid,
			MinBidIncrement: op.MinBidIncrement,
			Duration:        d,
		})
	case core.OpPlaceBid:
		a, err = s.engine.PlaceBid(ctx, op.AuctionID, op.Caller, op.PreviousBidder, op.Amount)
	case core.OpFinalize:
		result, ferr := s.engine.Finalize(ctx, op.AuctionID)
		if ferr != nil {
			return auctionapi.Response{}, ferr
		}
		return auctionapi.Response{
			Message:    fmt.Sprintf("auction %s finalized", op.AuctionID),
			Auction:    &result.Next,
			Settlement: result.Settlement,
		}, nil
	case core.OpWithdrawUnsold:
		a, err = s.engine.WithdrawUnsold(ctx, op.AuctionID, op.Caller)
	case core.OpCancel:
		a, err = s.engine.Cancel(ctx, op.AuctionID, op.Caller)
	case core.OpUpdateSettings:
		u, uerr := op.SettingsUpdate()
		if uerr != nil {
			return auctionapi.Response{}, uerr
		}
		a, err = s.engine.UpdateSettings(ctx, op.AuctionID, op.Caller, u)
	default:
		return auctionapi.Response{}, fmt.Errorf("unknown operation %q: %w", op.Op, core.ErrInvalidStateTransition)
	}
	if err != nil {
		return auctionapi.Response{}, err
	}
	return auctionapi.Response{
		Message: fmt.Sprintf("%s applied to auction %s", op.Op, a.ID),
		Auction: &a,
	}, nil
}

func (s *Server) handleQuery(ctx context.Context, auctionID string) auctionapi.Response {
	id, err := uuid.Parse(auctionID)
	if err != nil {
		return badRequest(fmt.Sprintf("invalid auction_id: %v", err))
	}
	a, err := s.engine.Auction(ctx, id)
	if err != nil {
		return auctionapi.Failure(auctionapi.ResponseAuction, err)
	}
	return auctionapi.Response{
		Type:    auctionapi.ResponseAuction,
		Success: true,
		Message: fmt.Sprintf("auction %s is %s", id, a.Status),
		Auction: &a,
	}
}
