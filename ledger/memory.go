package ledger

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/cloudx-io/escrowauction/core"
)

// Memory is an in-process Host. Units of work are serialized by a single lock
// and their writes are staged in an overlay that is applied only on success.
// Records are held in their fixed-layout encoding, as a ledger account would.
type Memory struct {
	mu       sync.RWMutex
	balances map[core.Identity]uint64
	owners   map[core.AssetID]core.Identity
	records  map[core.AuctionID][]byte
	seeded   bool
}

var (
	_ Host   = (*Memory)(nil)
	_ Seeder = (*Memory)(nil)
)

// NewMemory returns an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{
		balances: make(map[core.Identity]uint64),
		owners:   make(map[core.AssetID]core.Identity),
		records:  make(map[core.AuctionID][]byte),
	}
}

// Credit adds amount to account's balance outside of any auction operation.
func (m *Memory) Credit(account core.Identity, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal := m.balances[account]
	if bal > math.MaxUint64-amount {
		return ErrBalanceOverflow
	}
	m.balances[account] = bal + amount
	return nil
}

// Mint registers asset as held by owner. Each asset may be minted once.
func (m *Memory) Mint(asset core.AssetID, owner core.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.owners[asset]; exists {
		return fmt.Errorf("asset %s: %w", asset, ErrAssetMinted)
	}
	m.owners[asset] = owner
	return nil
}

// Seed applies g unless a genesis was applied before. Either every balance and
// asset of g is applied or none is.
func (m *Memory) Seed(ctx context.Context, g Genesis) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seeded {
		return false, nil
	}

	balances := make(map[core.Identity]uint64, len(g.Balances))
	for account, amount := range g.Balances {
		bal := m.balances[account]
		if bal > math.MaxUint64-amount {
			return false, fmt.Errorf("credit %s: %w", account, ErrBalanceOverflow)
		}
		balances[account] = bal + amount
	}
	for asset := range g.Assets {
		if _, exists := m.owners[asset]; exists {
			return false, fmt.Errorf("asset %s: %w", asset, ErrAssetMinted)
		}
	}

	for account, bal := range balances {
		m.balances[account] = bal
	}
	for asset, owner := range g.Assets {
		m.owners[asset] = owner
	}
	m.seeded = true
	return true, nil
}

func (m *Memory) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{
		base:     m,
		balances: make(map[core.Identity]uint64),
		owners:   make(map[core.AssetID]core.Identity),
		records:  make(map[core.AuctionID][]byte),
	}
	if err := fn(tx); err != nil {
		return err
	}

	for k, v := range tx.balances {
		m.balances[k] = v
	}
	for k, v := range tx.owners {
		m.owners[k] = v
	}
	for k, v := range tx.records {
		m.records[k] = v
	}
	return nil
}

func (m *Memory) View(ctx context.Context, fn func(v View) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&memTx{base: m})
}

// memTx reads through its overlay to the base state. A read-only memTx has nil
// overlay maps and is never written to.
type memTx struct {
	base     *Memory
	balances map[core.Identity]uint64
	owners   map[core.AssetID]core.Identity
	records  map[core.AuctionID][]byte
}

func (tx *memTx) record(id core.AuctionID) ([]byte, bool) {
	if raw, ok := tx.records[id]; ok {
		return raw, true
	}
	raw, ok := tx.base.records[id]
	return raw, ok
}

func (tx *memTx) Auction(id core.AuctionID) (core.Auction, error) {
	raw, ok := tx.record(id)
	if !ok {
		return core.Auction{}, fmt.Errorf("auction %s: %w", id, ErrAuctionNotFound)
	}
	return core.UnmarshalRecord(raw)
}

func (tx *memTx) Balance(account core.Identity) (uint64, error) {
	if bal, ok := tx.balances[account]; ok {
		return bal, nil
	}
	return tx.base.balances[account], nil
}

func (tx *memTx) AssetOwner(asset core.AssetID) (core.Identity, error) {
	if owner, ok := tx.owners[asset]; ok {
		return owner, nil
	}
	owner, ok := tx.base.owners[asset]
	if !ok {
		return core.Identity{}, fmt.Errorf("asset %s: %w", asset, ErrAssetNotHeld)
	}
	return owner, nil
}

func (tx *memTx) CreateAuction(a core.Auction) error {
	if _, exists := tx.record(a.ID); exists {
		return fmt.Errorf("auction %s: %w", a.ID, ErrAuctionExists)
	}
	return tx.putRecord(a)
}

func (tx *memTx) PutAuction(a core.Auction) error {
	if _, exists := tx.record(a.ID); !exists {
		return fmt.Errorf("auction %s: %w", a.ID, ErrAuctionNotFound)
	}
	return tx.putRecord(a)
}

func (tx *memTx) putRecord(a core.Auction) error {
	raw, err := core.MarshalRecord(&a)
	if err != nil {
		return err
	}
	tx.records[a.ID] = raw
	return nil
}

func (tx *memTx) Transfer(from, to core.Identity, amount uint64) error {
	fromBal, _ := tx.Balance(from)
	if fromBal < amount {
		return fmt.Errorf("transfer %d from %s (balance %d): %w", amount, from, fromBal, ErrInsufficientFunds)
	}
	if from == to {
		return nil
	}
	toBal, _ := tx.Balance(to)
	if toBal > math.MaxUint64-amount {
		return fmt.Errorf("transfer %d to %s: %w", amount, to, ErrBalanceOverflow)
	}
	tx.balances[from] = fromBal - amount
	tx.balances[to] = toBal + amount
	return nil
}

func (tx *memTx) TransferAsset(from, to core.Identity, asset core.AssetID) error {
	owner, err := tx.AssetOwner(asset)
	if err != nil {
		return err
	}
	if owner != from {
		return fmt.Errorf("asset %s held by %s, not %s: %w", asset, owner, from, ErrAssetNotHeld)
	}
	tx.owners[asset] = to
	return nil
}
