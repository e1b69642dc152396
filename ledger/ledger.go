// Package ledger defines the host ledger boundary the auction engine runs on:
// atomic units of work, auction record storage, and the fungible and
// non-fungible transfer primitives.
package ledger

import (
	"context"
	"errors"

	"github.com/cloudx-io/escrowauction/core"
)

var (
	ErrAuctionNotFound   = errors.New("ledger: auction not found")
	ErrAuctionExists     = errors.New("ledger: auction already exists")
	ErrInsufficientFunds = errors.New("ledger: insufficient balance")
	ErrAssetNotHeld      = errors.New("ledger: asset not held by source account")
	ErrBalanceOverflow   = errors.New("ledger: balance overflow")
	ErrAssetMinted       = errors.New("ledger: asset already minted")
)

// View is a read-only snapshot of ledger state.
type View interface {
	Auction(id core.AuctionID) (core.Auction, error)
	Balance(account core.Identity) (uint64, error)
	AssetOwner(asset core.AssetID) (core.Identity, error)
}

// Tx is one unit of work. Nothing written through a Tx is visible to any other
// unit of work until the enclosing Update returns nil.
type Tx interface {
	View

	// CreateAuction stores a new record, failing with ErrAuctionExists on a duplicate id.
	CreateAuction(a core.Auction) error
	// PutAuction overwrites an existing record.
	PutAuction(a core.Auction) error

	// Transfer moves amount of the native currency. It fails with
	// ErrInsufficientFunds if from cannot cover amount.
	Transfer(from, to core.Identity, amount uint64) error
	// TransferAsset moves the single unit of asset. It fails with
	// ErrAssetNotHeld if from is not the current owner.
	TransferAsset(from, to core.Identity, asset core.AssetID) error
}

// Host supplies atomic, serialized units of work over ledger state.
type Host interface {
	// Update runs fn in a unit of work. If fn returns an error, or the commit
	// fails, no effect of fn is applied.
	Update(ctx context.Context, fn func(tx Tx) error) error
	// View runs fn against a consistent snapshot.
	View(ctx context.Context, fn func(v View) error) error
}

// Genesis is the initial balance sheet and asset registry of a ledger.
type Genesis struct {
	Balances map[core.Identity]uint64       `json:"balances"`
	Assets   map[core.AssetID]core.Identity `json:"assets"`
}

// Seeder applies a genesis at most once in the lifetime of a ledger.
type Seeder interface {
	// Seed applies g in a single unit of work and records that it did. It
	// reports false, changing nothing, when a genesis was applied before.
	Seed(ctx context.Context, g Genesis) (bool, error)
}
