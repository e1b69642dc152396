// Package engine runs the auction lifecycle against a host ledger. Each
// operation validates with package core, moves assets and funds with package
// custody and stores the new record inside one ledger unit of work, then
// emits a single audit event once that unit of work has committed.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cloudx-io/escrowauction/audit"
	"github.com/cloudx-io/escrowauction/core"
	"github.com/cloudx-io/escrowauction/custody"
	"github.com/cloudx-io/escrowauction/ledger"
)

// Engine is safe for concurrent use. Units of work are serialized by the host
// ledger; the engine additionally orders each commit with its audit event.
type Engine struct {
	host     ledger.Host
	custody  *custody.Orchestrator
	emitter  *audit.Emitter
	logger   *zap.Logger
	commitMu sync.Mutex

	now          func() time.Time
	newID        func() core.AuctionID
	platform     core.Identity
	returnUnsold bool
	sinks        []audit.Sink
	auditSeq     uint64
}

// New returns an engine running on host.
func New(host ledger.Host, opts ...Option) (*Engine, error) {
	if host == nil {
		return nil, errors.New("engine: host ledger is required")
	}
	e := defaultEngine()
	e.host = host
	for _, opt := range opts {
		opt(e)
	}
	e.custody = custody.NewOrchestrator(e.platform)
	e.emitter = audit.NewEmitter(e.logger, e.sinks...)
	e.emitter.Resume(e.auditSeq)
	e.logger = e.logger.Named("engine")
	return e, nil
}

// CreateRequest are the arguments of Create. The engine assigns the auction id.
type CreateRequest struct {
	Creator         core.Identity
	Asset           core.AssetID
	StartingBid     uint64
	MinBidIncrement uint64
	Duration        time.Duration
}

// Create opens a new auction and moves the asset from the creator into the vault.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (core.Auction, error) {
	now := e.unixNow()
	a, err := core.NewAuction(core.CreateParams{
		ID:              e.newID(),
		Creator:         req.Creator,
		Asset:           req.Asset,
		StartingBid:     req.StartingBid,
		MinBidIncrement: req.MinBidIncrement,
		Duration:        req.Duration,
	}, now)
	if err != nil {
		return core.Auction{}, e.reject(core.OpCreate, a.ID, err)
	}

	err = e.commit(ctx, func(tx ledger.Tx) error {
		if err := tx.CreateAuction(a); err != nil {
			return err
		}
		return e.custody.LockAsset(tx, a)
	}, func() audit.Event {
		return audit.Event{
			Kind:      audit.KindAuctionCreated,
			AuctionID: a.ID,
			Time:      now,
			Created: &audit.AuctionCreated{
				Creator:         a.Creator,
				Asset:           a.Asset,
				StartingBid:     a.StartingBid,
				MinBidIncrement: a.MinBidIncrement,
				EndTime:         a.EndTime,
			},
		}
	})
	if err != nil {
		return core.Auction{}, e.reject(core.OpCreate, a.ID, err)
	}

	e.logger.Info("auction created",
		zap.Stringer("auction_id", a.ID),
		zap.Stringer("creator", a.Creator),
		zap.Uint64("starting_bid", a.StartingBid),
		zap.Int64("end_time", a.EndTime))
	return a, nil
}

// PlaceBid escrows amount from bidder and refunds the displaced highest bid.
// previousBidder must name the current highest bidder, or be zero before the first bid.
func (e *Engine) PlaceBid(ctx context.Context, id core.AuctionID, bidder, previousBidder core.Identity, amount uint64) (core.Auction, error) {
	now := e.unixNow()
	var result core.BidResult
	err := e.commit(ctx, func(tx ledger.Tx) error {
		a, err := tx.Auction(id)
		if err != nil {
			return err
		}
		result, err = core.PlaceBid(a, bidder, previousBidder, amount, now)
		if err != nil {
			return err
		}
		if err := e.custody.Rebid(tx, id, bidder, amount, result.Refund); err != nil {
			return err
		}
		return tx.PutAuction(result.Next)
	}, func() audit.Event {
		payload := &audit.BidPlaced{Bidder: bidder, Amount: amount}
		if result.Refund != nil {
			payload.RefundedBidder = result.Refund.To
			payload.RefundedAmount = result.Refund.Amount
		}
		return audit.Event{Kind: audit.KindBidPlaced, AuctionID: id, Time: now, Bid: payload}
	})
	if err != nil {
		return core.Auction{}, e.reject(core.OpPlaceBid, id, err)
	}

	e.logger.Info("bid placed",
		zap.Stringer("auction_id", id),
		zap.Stringer("bidder", bidder),
		zap.Uint64("amount", amount))
	return result.Next, nil
}

// Finalize closes an auction after its end time. Anyone may call it. With a
// winning bid the seller, winner and platform are settled; without one the
// record is Completed and the asset is returned only under WithUnsoldReturn.
func (e *Engine) Finalize(ctx context.Context, id core.AuctionID) (core.FinalizeResult, error) {
	now := e.unixNow()
	var result core.FinalizeResult
	payload := &audit.AuctionFinalized{}
	err := e.commit(ctx, func(tx ledger.Tx) error {
		a, err := tx.Auction(id)
		if err != nil {
			return err
		}
		result, err = core.Finalize(a, now)
		if err != nil {
			return err
		}
		switch {
		case result.Settlement != nil:
			if err := e.custody.Settle(tx, a, result.Winner, *result.Settlement); err != nil {
				return err
			}
		case e.returnUnsold:
			if err := e.custody.ReleaseAsset(tx, a); err != nil {
				return err
			}
			payload.AssetReturned = true
		}
		return tx.PutAuction(result.Next)
	}, func() audit.Event {
		payload.Winner = result.Winner
		if s := result.Settlement; s != nil {
			payload.WinningBid = s.WinningBid
			payload.SellerAmount = s.SellerAmount
			payload.PlatformFee = s.PlatformFee
		}
		return audit.Event{Kind: audit.KindAuctionFinalized, AuctionID: id, Time: now, Finalized: payload}
	})
	if err != nil {
		return core.FinalizeResult{}, e.reject(core.OpFinalize, id, err)
	}

	e.logger.Info("auction finalized",
		zap.Stringer("auction_id", id),
		zap.Stringer("winner", result.Winner),
		zap.Uint64("winning_bid", payload.WinningBid),
		zap.Bool("asset_returned", payload.AssetReturned))
	return result, nil
}

// WithdrawUnsold returns the asset of an ended auction without bids to its creator.
func (e *Engine) WithdrawUnsold(ctx context.Context, id core.AuctionID, caller core.Identity) (core.Auction, error) {
	now := e.unixNow()
	next, err := e.release(ctx, id, now, audit.ReasonNoBids, func(a core.Auction) (core.Auction, error) {
		return core.WithdrawUnsold(a, caller, now)
	})
	if err != nil {
		return core.Auction{}, e.reject(core.OpWithdrawUnsold, id, err)
	}
	e.logger.Info("unsold asset withdrawn", zap.Stringer("auction_id", id))
	return next, nil
}

// Cancel lets the creator withdraw an auction that has no bids, at any time.
func (e *Engine) Cancel(ctx context.Context, id core.AuctionID, caller core.Identity) (core.Auction, error) {
	now := e.unixNow()
	next, err := e.release(ctx, id, now, audit.ReasonCancelledByCreator, func(a core.Auction) (core.Auction, error) {
		return core.Cancel(a, caller)
	})
	if err != nil {
		return core.Auction{}, e.reject(core.OpCancel, id, err)
	}
	e.logger.Info("auction cancelled", zap.Stringer("auction_id", id))
	return next, nil
}

// release runs a transition that returns the vaulted asset to the creator.
func (e *Engine) release(ctx context.Context, id core.AuctionID, now int64, reason string, transition func(core.Auction) (core.Auction, error)) (core.Auction, error) {
	var next core.Auction
	err := e.commit(ctx, func(tx ledger.Tx) error {
		a, err := tx.Auction(id)
		if err != nil {
			return err
		}
		next, err = transition(a)
		if err != nil {
			return err
		}
		if err := e.custody.ReleaseAsset(tx, a); err != nil {
			return err
		}
		return tx.PutAuction(next)
	}, func() audit.Event {
		return audit.Event{
			Kind:      audit.KindAuctionCancelled,
			AuctionID: id,
			Time:      now,
			Cancelled: &audit.AuctionCancelled{Reason: reason},
		}
	})
	return next, err
}

// UpdateSettings changes the duration or minimum increment of an auction
// that has no bids. A new duration counts from now.
func (e *Engine) UpdateSettings(ctx context.Context, id core.AuctionID, caller core.Identity, u core.SettingsUpdate) (core.Auction, error) {
	now := e.unixNow()
	var change core.SettingsChange
	err := e.commit(ctx, func(tx ledger.Tx) error {
		a, err := tx.Auction(id)
		if err != nil {
			return err
		}
		change, err = core.UpdateSettings(a, caller, u, now)
		if err != nil {
			return err
		}
		return tx.PutAuction(change.Next)
	}, func() audit.Event {
		return audit.Event{
			Kind:      audit.KindAuctionUpdated,
			AuctionID: id,
			Time:      now,
			Updated: &audit.AuctionUpdated{
				NewEndTime:         change.NewEndTime,
				NewMinBidIncrement: change.NewMinBidIncrement,
			},
		}
	})
	if err != nil {
		return core.Auction{}, e.reject(core.OpUpdateSettings, id, err)
	}

	e.logger.Info("auction settings updated",
		zap.Stringer("auction_id", id),
		zap.Int64("end_time", change.Next.EndTime),
		zap.Uint64("min_bid_increment", change.Next.MinBidIncrement))
	return change.Next, nil
}

// Auction returns the stored record of id.
func (e *Engine) Auction(ctx context.Context, id core.AuctionID) (core.Auction, error) {
	var a core.Auction
	err := e.host.View(ctx, func(v ledger.View) error {
		var err error
		a, err = v.Auction(id)
		return err
	})
	if err != nil {
		return core.Auction{}, fmt.Errorf("auction %s: %w", id, err)
	}
	return a, nil
}

func (e *Engine) unixNow() int64 { return e.now().Unix() }

// commit runs fn in one unit of work and, once it has committed, emits the
// event built by evt. commitMu is held across both so sequence numbers follow
// commit order.
func (e *Engine) commit(ctx context.Context, fn func(tx ledger.Tx) error, evt func() audit.Event) error {
	e.commitMu.Lock()
	defer e.commitMu.Unlock()
	if err := e.host.Update(ctx, fn); err != nil {
		return err
	}
	e.emitter.Emit(ctx, evt())
	return nil
}

func (e *Engine) reject(op core.Operation, id core.AuctionID, err error) error {
	e.logger.Debug("operation rejected",
		zap.String("op", string(op)),
		zap.Stringer("auction_id", id),
		zap.Error(err))
	return fmt.Errorf("%s: %w", op, err)
}
