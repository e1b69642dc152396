package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/escrowauction/core"
	"github.com/cloudx-io/escrowauction/ledger"
)

func openTempHost(t *testing.T) *Host {
	t.Helper()
	h, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	assert.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func ident(b byte) core.Identity {
	var id core.Identity
	id[0] = b
	return id
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	check.NotNil(t, err)
}

func TestHost_AuctionRoundTrip(t *testing.T) {
	ctx := context.Background()
	h := openTempHost(t)
	a, err := core.NewAuction(core.CreateParams{
		ID:              uuid.New(),
		Creator:         ident(1),
		Asset:           core.AssetID(ident(9)),
		StartingBid:     100,
		MinBidIncrement: 10,
		Duration:        time.Hour,
	}, 1_700_000_000)
	assert.NoError(t, err)

	assert.NoError(t, h.Update(ctx, func(tx ledger.Tx) error { return tx.CreateAuction(a) }))
	err = h.Update(ctx, func(tx ledger.Tx) error { return tx.CreateAuction(a) })
	check.True(t, errors.Is(err, ledger.ErrAuctionExists))

	a.HighestBid = 120
	a.HighestBidder = ident(2)
	assert.NoError(t, h.Update(ctx, func(tx ledger.Tx) error { return tx.PutAuction(a) }))

	err = h.View(ctx, func(v ledger.View) error {
		got, err := v.Auction(a.ID)
		if err != nil {
			return err
		}
		check.Equal(t, a, got)
		return nil
	})
	assert.NoError(t, err)
}

func TestHost_TransfersAreAtomic(t *testing.T) {
	ctx := context.Background()
	h := openTempHost(t)
	asset := core.AssetID(ident(9))
	assert.NoError(t, h.Credit(ctx, ident(2), 100))
	assert.NoError(t, h.Mint(ctx, asset, ident(1)))

	err := h.Update(ctx, func(tx ledger.Tx) error {
		if err := tx.TransferAsset(ident(1), ident(5), asset); err != nil {
			return err
		}
		if err := tx.Transfer(ident(2), ident(3), 70); err != nil {
			return err
		}
		return tx.Transfer(ident(2), ident(3), 70)
	})
	check.True(t, errors.Is(err, ledger.ErrInsufficientFunds))

	err = h.View(ctx, func(v ledger.View) error {
		owner, err := v.AssetOwner(asset)
		check.NoError(t, err)
		check.Equal(t, ident(1), owner)
		bal, err := v.Balance(ident(2))
		check.NoError(t, err)
		check.Equal(t, uint64(100), bal)
		return nil
	})
	assert.NoError(t, err)

	assert.NoError(t, h.Update(ctx, func(tx ledger.Tx) error { return tx.Transfer(ident(2), ident(3), 40) }))
	err = h.View(ctx, func(v ledger.View) error {
		from, _ := v.Balance(ident(2))
		to, _ := v.Balance(ident(3))
		check.Equal(t, uint64(60), from)
		check.Equal(t, uint64(40), to)
		return nil
	})
	assert.NoError(t, err)
}

func balanceOf(t *testing.T, h *Host, account core.Identity) uint64 {
	t.Helper()
	var bal uint64
	assert.NoError(t, h.View(context.Background(), func(v ledger.View) error {
		var err error
		bal, err = v.Balance(account)
		return err
	}))
	return bal
}

func TestHost_SeedAppliesOnceAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")
	asset := core.AssetID(ident(9))
	g := ledger.Genesis{
		Balances: map[core.Identity]uint64{ident(2): 1_000},
		Assets:   map[core.AssetID]core.Identity{asset: ident(1)},
	}

	for _, wantApplied := range []bool{true, false} {
		h, err := Open(path)
		assert.NoError(t, err)
		applied, err := h.Seed(ctx, g)
		assert.NoError(t, err)
		check.Equal(t, wantApplied, applied)
		check.Equal(t, uint64(1_000), balanceOf(t, h, ident(2)))
		assert.NoError(t, h.Close())
	}
}

func TestHost_SeedIsAtomic(t *testing.T) {
	ctx := context.Background()
	h := openTempHost(t)
	asset := core.AssetID(ident(9))
	assert.NoError(t, h.Mint(ctx, asset, ident(1)))

	_, err := h.Seed(ctx, ledger.Genesis{
		Balances: map[core.Identity]uint64{ident(2): 1_000},
		Assets:   map[core.AssetID]core.Identity{asset: ident(3)},
	})
	check.True(t, errors.Is(err, ledger.ErrAssetMinted))
	check.Equal(t, uint64(0), balanceOf(t, h, ident(2)))

	// The failed seed left no marker behind.
	applied, err := h.Seed(ctx, ledger.Genesis{Balances: map[core.Identity]uint64{ident(2): 5}})
	assert.NoError(t, err)
	check.True(t, applied)
	check.Equal(t, uint64(5), balanceOf(t, h, ident(2)))
}

func TestHost_NoncesSurviveRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	h, err := Open(path)
	assert.NoError(t, err)
	fresh, err := h.UseNonce(ctx, ident(1), "n-1")
	assert.NoError(t, err)
	check.True(t, fresh)
	fresh, err = h.UseNonce(ctx, ident(1), "n-1")
	assert.NoError(t, err)
	check.False(t, fresh)
	assert.NoError(t, h.Close())

	h, err = Open(path)
	assert.NoError(t, err)
	defer func() { _ = h.Close() }()
	fresh, err = h.UseNonce(ctx, ident(1), "n-1")
	assert.NoError(t, err)
	check.False(t, fresh)

	// Nonces are scoped to their signer.
	fresh, err = h.UseNonce(ctx, ident(2), "n-1")
	assert.NoError(t, err)
	check.True(t, fresh)
}

func TestHost_UpdateRollsBackOnPanic(t *testing.T) {
	ctx := context.Background()
	h := openTempHost(t)
	assert.NoError(t, h.Credit(ctx, ident(2), 100))

	func() {
		defer func() { check.NotNil(t, recover()) }()
		_ = h.Update(ctx, func(tx ledger.Tx) error {
			if err := tx.Transfer(ident(2), ident(3), 60); err != nil {
				return err
			}
			panic("unit of work failed")
		})
	}()

	// The connection is usable again and the transfer was not applied.
	check.Equal(t, uint64(100), balanceOf(t, h, ident(2)))
	assert.NoError(t, h.Update(ctx, func(tx ledger.Tx) error { return tx.Transfer(ident(2), ident(3), 60) }))
	check.Equal(t, uint64(60), balanceOf(t, h, ident(3)))
}
