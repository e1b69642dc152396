package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/cloudx-io/escrowauction/auctionapi"
	"github.com/cloudx-io/escrowauction/audit"
	"github.com/cloudx-io/escrowauction/authz"
	"github.com/cloudx-io/escrowauction/core"
	"github.com/cloudx-io/escrowauction/engine"
	"github.com/cloudx-io/escrowauction/ledger"
	"github.com/cloudx-io/escrowauction/ledger/sqlite"
)

func TestServe_PingOverTCP(t *testing.T) {
	h := newHarness(t)
	// The connection goroutine may still log after the test returns.
	server := NewServer(h.server.engine, h.server.verifier, zap.NewNop(), 2)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	assert.NoError(t, err)
	assert.NoError(t, json.NewEncoder(conn).Encode(auctionapi.Request{Type: auctionapi.RequestPing}))

	var resp auctionapi.Response
	assert.NoError(t, json.NewDecoder(conn).Decode(&resp))
	check.Equal(t, auctionapi.ResponsePong, resp.Type)
	check.True(t, resp.Success)
	_ = conn.Close()

	cancel()
	check.Equal(t, context.Canceled, <-done, cmp.Comparer(func(a, b error) bool { return a == b }))
}

func writeGenesis(t *testing.T, g ledger.Genesis) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "genesis.json")
	data, err := json.Marshal(g)
	assert.NoError(t, err)
	assert.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestGenesis_AppliedOnceAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	alice := core.Identity{2}
	genesis := writeGenesis(t, ledger.Genesis{
		Balances: map[core.Identity]uint64{alice: 1_000},
		Assets:   map[core.AssetID]core.Identity{testAsset: alice},
	})
	cfg := Config{DBPath: filepath.Join(t.TempDir(), "ledger.db")}

	for range 2 {
		h, closeHost, err := openHost(cfg)
		assert.NoError(t, err)
		assert.NoError(t, applyGenesis(ctx, h, genesis, zaptest.NewLogger(t)))

		assert.NoError(t, h.View(ctx, func(v ledger.View) error {
			bal, err := v.Balance(alice)
			if err != nil {
				return err
			}
			check.Equal(t, uint64(1_000), bal)
			owner, err := v.AssetOwner(testAsset)
			if err != nil {
				return err
			}
			check.Equal(t, alice, owner)
			return nil
		}))
		closeHost()
	}
}

func TestGenesis_MissingFile(t *testing.T) {
	err := applyGenesis(context.Background(), ledger.NewMemory(), filepath.Join(t.TempDir(), "none.json"), zaptest.NewLogger(t))
	check.NotNil(t, err)
}

func TestNonceStore_UsesPersistentHost(t *testing.T) {
	h, closeHost, err := openHost(Config{DBPath: filepath.Join(t.TempDir(), "ledger.db")})
	assert.NoError(t, err)
	defer closeHost()
	_, ok := nonceStore(h).(*sqlite.Host)
	check.True(t, ok)

	_, ok = nonceStore(ledger.NewMemory()).(*authz.NonceCache)
	check.True(t, ok)
}

func writeAuditKey(t *testing.T) (string, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	assert.NoError(t, err)
	der, err := x509.MarshalECPrivateKey(key)
	assert.NoError(t, err)
	path := filepath.Join(t.TempDir(), "audit.pem")
	assert.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), 0o600))
	return path, key
}

func TestAuditLog_ResumesAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	keyPath, key := writeAuditKey(t)
	cfg := Config{AuditLogPath: filepath.Join(t.TempDir(), "audit.log"), AuditKeyPath: keyPath}
	m := ledger.NewMemory()
	seller := core.Identity{1}
	assets := []core.AssetID{{7}, {8}}

	for run, asset := range assets {
		assert.NoError(t, m.Mint(asset, seller))
		sinks, lastSeq, closeSinks, err := auditSinks(cfg, zaptest.NewLogger(t))
		assert.NoError(t, err)
		check.Equal(t, uint64(run), lastSeq)

		opts := []engine.Option{engine.WithAuditSequence(lastSeq)}
		for _, sink := range sinks {
			opts = append(opts, engine.WithSink(sink))
		}
		e, err := engine.New(m, opts...)
		assert.NoError(t, err)
		_, err = e.Create(ctx, engine.CreateRequest{
			Creator: seller, Asset: asset, StartingBid: 100, MinBidIncrement: 10, Duration: time.Hour,
		})
		assert.NoError(t, err)
		closeSinks()
	}

	f, err := os.Open(cfg.AuditLogPath)
	assert.NoError(t, err)
	defer func() { _ = f.Close() }()
	result, err := audit.VerifyLog(&key.PublicKey, f)
	assert.NoError(t, err)
	check.True(t, result.IsValid())
	check.Equal(t, 2, len(result.Events))
	check.Equal(t, 2, len(result.Records))
}

func TestAuditLog_ExistingLogNeedsSigningKey(t *testing.T) {
	keyPath, _ := writeAuditKey(t)
	cfg := Config{AuditLogPath: filepath.Join(t.TempDir(), "audit.log"), AuditKeyPath: keyPath}
	m := ledger.NewMemory()
	assert.NoError(t, m.Mint(testAsset, core.Identity{1}))

	sinks, _, closeSinks, err := auditSinks(cfg, zaptest.NewLogger(t))
	assert.NoError(t, err)
	e, err := engine.New(m, engine.WithSink(sinks[1]))
	assert.NoError(t, err)
	_, err = e.Create(context.Background(), engine.CreateRequest{
		Creator: core.Identity{1}, Asset: testAsset, StartingBid: 100, MinBidIncrement: 10, Duration: time.Hour,
	})
	assert.NoError(t, err)
	closeSinks()

	cfg.AuditKeyPath = ""
	_, _, _, err = auditSinks(cfg, zaptest.NewLogger(t))
	check.NotNil(t, err)

	// A fresh log may be started with an ephemeral key.
	cfg.AuditLogPath = filepath.Join(t.TempDir(), "fresh.log")
	_, lastSeq, closeSinks, err := auditSinks(cfg, zaptest.NewLogger(t))
	assert.NoError(t, err)
	check.Equal(t, uint64(0), lastSeq)
	closeSinks()
}
