// Package custody sequences the asset and fund transfers that each auction
// transition requires. It holds no state of its own and does not re-check
// business rules: callers validate with package core first, and run the
// orchestrator inside a single ledger unit of work so a failed step discards
// every earlier step.
package custody

import (
	"fmt"

	"github.com/cloudx-io/escrowauction/core"
	"github.com/cloudx-io/escrowauction/ledger"
)

// Orchestrator moves assets and funds between an auction's custody accounts
// and its participants.
type Orchestrator struct {
	platform core.Identity
}

// NewOrchestrator returns an orchestrator paying platform fees to platform.
func NewOrchestrator(platform core.Identity) *Orchestrator {
	return &Orchestrator{platform: platform}
}

// Platform returns the platform fee account.
func (o *Orchestrator) Platform() core.Identity { return o.platform }

// LockAsset moves the auctioned asset from the creator into the auction vault.
func (o *Orchestrator) LockAsset(tx ledger.Tx, a core.Auction) error {
	if err := tx.TransferAsset(a.Creator, core.VaultAccount(a.ID), a.Asset); err != nil {
		return fmt.Errorf("lock asset: %w", err)
	}
	return nil
}

// Rebid refunds the displaced bidder (if any) from escrow, then escrows the new bid.
func (o *Orchestrator) Rebid(tx ledger.Tx, id core.AuctionID, bidder core.Identity, amount uint64, refund *core.Refund) error {
	escrow := core.EscrowAccount(id)
	if refund != nil {
		if err := tx.Transfer(escrow, refund.To, refund.Amount); err != nil {
			return fmt.Errorf("refund previous bidder: %w", err)
		}
	}
	if err := tx.Transfer(bidder, escrow, amount); err != nil {
		return fmt.Errorf("escrow bid: %w", err)
	}
	return nil
}

// Settle pays the seller, releases the asset to the winner, then pays the platform fee.
func (o *Orchestrator) Settle(tx ledger.Tx, a core.Auction, winner core.Identity, s core.Settlement) error {
	escrow := core.EscrowAccount(a.ID)
	if err := tx.Transfer(escrow, a.Creator, s.SellerAmount); err != nil {
		return fmt.Errorf("pay seller: %w", err)
	}
	if err := tx.TransferAsset(core.VaultAccount(a.ID), winner, a.Asset); err != nil {
		return fmt.Errorf("release asset to winner: %w", err)
	}
	if s.PlatformFee > 0 {
		if err := tx.Transfer(escrow, o.platform, s.PlatformFee); err != nil {
			return fmt.Errorf("pay platform fee: %w", err)
		}
	}
	return nil
}

// ReleaseAsset returns the asset from the vault to the creator.
func (o *Orchestrator) ReleaseAsset(tx ledger.Tx, a core.Auction) error {
	if err := tx.TransferAsset(core.VaultAccount(a.ID), a.Creator, a.Asset); err != nil {
		return fmt.Errorf("return asset to creator: %w", err)
	}
	return nil
}
