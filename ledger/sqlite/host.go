// Package sqlite provides a SQLite-backed ledger host. Each unit of work is
// one SQL transaction; the connection pool is limited to a single connection
// so units of work are serialized the way a ledger serializes writes to an account.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/cloudx-io/escrowauction/core"
	"github.com/cloudx-io/escrowauction/ledger"
)

//go:embed schema.sql
var schema string

// Host persists balances, asset ownership and auction records in SQLite.
type Host struct {
	sqlDB *sql.DB
}

var (
	_ ledger.Host   = (*Host)(nil)
	_ ledger.Seeder = (*Host)(nil)
)

// Open opens (or creates) the ledger database at path and applies the schema.
func Open(path string) (*Host, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Host{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (h *Host) Close() error {
	if h == nil || h.sqlDB == nil {
		return nil
	}
	return h.sqlDB.Close()
}

// Credit adds amount to account's balance outside of any auction operation.
func (h *Host) Credit(ctx context.Context, account core.Identity, amount uint64) error {
	return h.Update(ctx, func(tx ledger.Tx) error {
		return tx.(*sqlTx).credit(account, amount)
	})
}

// Mint registers asset as held by owner. Each asset may be minted once.
func (h *Host) Mint(ctx context.Context, asset core.AssetID, owner core.Identity) error {
	return h.Update(ctx, func(tx ledger.Tx) error {
		return tx.(*sqlTx).mint(asset, owner)
	})
}

// Seed applies g and writes the genesis marker row in one transaction. A
// database that already carries the marker is left untouched.
func (h *Host) Seed(ctx context.Context, g ledger.Genesis) (bool, error) {
	applied := false
	err := h.Update(ctx, func(tx ledger.Tx) error {
		stx := tx.(*sqlTx)
		res, err := stx.tx.ExecContext(stx.ctx,
			`INSERT INTO genesis (id, balances, assets) VALUES (1, ?, ?) ON CONFLICT (id) DO NOTHING`,
			len(g.Balances), len(g.Assets))
		if err != nil {
			return fmt.Errorf("record genesis: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		for account, amount := range g.Balances {
			if err := stx.credit(account, amount); err != nil {
				return err
			}
		}
		for asset, owner := range g.Assets {
			if err := stx.mint(asset, owner); err != nil {
				return err
			}
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// UseNonce records nonce for signer. A nonce is remembered for the life of
// the database.
func (h *Host) UseNonce(ctx context.Context, signer core.Identity, nonce string) (bool, error) {
	res, err := h.sqlDB.ExecContext(ctx,
		`INSERT INTO nonces (signer, nonce) VALUES (?, ?) ON CONFLICT (signer, nonce) DO NOTHING`,
		signer.String(), nonce)
	if err != nil {
		return false, fmt.Errorf("record nonce: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record nonce: %w", err)
	}
	return n == 1, nil
}

func (h *Host) Update(ctx context.Context, fn func(tx ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := h.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin unit of work: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(&sqlTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit unit of work: %w", err)
	}
	committed = true
	return nil
}

func (h *Host) View(ctx context.Context, fn func(v ledger.View) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := h.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin view: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	return fn(&sqlTx{ctx: ctx, tx: tx})
}

type sqlTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (s *sqlTx) Auction(id core.AuctionID) (core.Auction, error) {
	var raw []byte
	err := s.tx.QueryRowContext(s.ctx, `SELECT record FROM auctions WHERE id = ?`, id.String()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Auction{}, fmt.Errorf("auction %s: %w", id, ledger.ErrAuctionNotFound)
	}
	if err != nil {
		return core.Auction{}, fmt.Errorf("get auction %s: %w", id, err)
	}
	return core.UnmarshalRecord(raw)
}

func (s *sqlTx) Balance(account core.Identity) (uint64, error) {
	var text string
	err := s.tx.QueryRowContext(s.ctx, `SELECT balance FROM accounts WHERE account = ?`, account.String()).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get balance %s: %w", account, err)
	}
	bal, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse balance %s: %w", account, err)
	}
	return bal, nil
}

func (s *sqlTx) AssetOwner(asset core.AssetID) (core.Identity, error) {
	var text string
	err := s.tx.QueryRowContext(s.ctx, `SELECT owner FROM assets WHERE asset = ?`, asset.String()).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Identity{}, fmt.Errorf("asset %s: %w", asset, ledger.ErrAssetNotHeld)
	}
	if err != nil {
		return core.Identity{}, fmt.Errorf("get asset owner %s: %w", asset, err)
	}
	return core.ParseIdentity(text)
}

func (s *sqlTx) CreateAuction(a core.Auction) error {
	raw, err := core.MarshalRecord(&a)
	if err != nil {
		return err
	}
	res, err := s.tx.ExecContext(s.ctx, `INSERT INTO auctions (id, record) VALUES (?, ?) ON CONFLICT (id) DO NOTHING`, a.ID.String(), raw)
	if err != nil {
		return fmt.Errorf("create auction %s: %w", a.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("auction %s: %w", a.ID, ledger.ErrAuctionExists)
	}
	return nil
}

func (s *sqlTx) PutAuction(a core.Auction) error {
	raw, err := core.MarshalRecord(&a)
	if err != nil {
		return err
	}
	res, err := s.tx.ExecContext(s.ctx, `UPDATE auctions SET record = ? WHERE id = ?`, raw, a.ID.String())
	if err != nil {
		return fmt.Errorf("put auction %s: %w", a.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("auction %s: %w", a.ID, ledger.ErrAuctionNotFound)
	}
	return nil
}

func (s *sqlTx) setBalance(account core.Identity, bal uint64) error {
	_, err := s.tx.ExecContext(s.ctx,
		`INSERT INTO accounts (account, balance) VALUES (?, ?)
		 ON CONFLICT (account) DO UPDATE SET balance = excluded.balance`,
		account.String(), strconv.FormatUint(bal, 10))
	if err != nil {
		return fmt.Errorf("set balance %s: %w", account, err)
	}
	return nil
}

func (s *sqlTx) credit(account core.Identity, amount uint64) error {
	bal, err := s.Balance(account)
	if err != nil {
		return err
	}
	if bal > math.MaxUint64-amount {
		return fmt.Errorf("credit %s: %w", account, ledger.ErrBalanceOverflow)
	}
	return s.setBalance(account, bal+amount)
}

func (s *sqlTx) mint(asset core.AssetID, owner core.Identity) error {
	res, err := s.tx.ExecContext(s.ctx,
		`INSERT INTO assets (asset, owner) VALUES (?, ?) ON CONFLICT (asset) DO NOTHING`,
		asset.String(), owner.String())
	if err != nil {
		return fmt.Errorf("mint asset %s: %w", asset, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("asset %s: %w", asset, ledger.ErrAssetMinted)
	}
	return nil
}

func (s *sqlTx) Transfer(from, to core.Identity, amount uint64) error {
	fromBal, err := s.Balance(from)
	if err != nil {
		return err
	}
	if fromBal < amount {
		return fmt.Errorf("transfer %d from %s (balance %d): %w", amount, from, fromBal, ledger.ErrInsufficientFunds)
	}
	if from == to {
		return nil
	}
	toBal, err := s.Balance(to)
	if err != nil {
		return err
	}
	if toBal > math.MaxUint64-amount {
		return fmt.Errorf("transfer %d to %s: %w", amount, to, ledger.ErrBalanceOverflow)
	}
	if err := s.setBalance(from, fromBal-amount); err != nil {
		return err
	}
	return s.setBalance(to, toBal+amount)
}

func (s *sqlTx) TransferAsset(from, to core.Identity, asset core.AssetID) error {
	owner, err := s.AssetOwner(asset)
	if err != nil {
		return err
	}
	if owner != from {
		return fmt.Errorf("asset %s held by %s, not %s: %w", asset, owner, from, ledger.ErrAssetNotHeld)
	}
	_, err = s.tx.ExecContext(s.ctx, `UPDATE assets SET owner = ? WHERE asset = ?`, to.String(), asset.String())
	if err != nil {
		return fmt.Errorf("transfer asset %s: %w", asset, err)
	}
	return nil
}
