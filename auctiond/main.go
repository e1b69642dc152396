// Command auctiond serves the auction engine over tcp or vsock. Operations
// arrive as signed COSE_Sign1 envelopes and run against a SQLite or
// in-memory host ledger.
package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/cloudx-io/escrowauction/audit"
	"github.com/cloudx-io/escrowauction/authz"
	"github.com/cloudx-io/escrowauction/engine"
	"github.com/cloudx-io/escrowauction/ledger"
	"github.com/cloudx-io/escrowauction/ledger/sqlite"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("ERROR: %v", err)
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("ERROR: build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && ctx.Err() == nil {
		logger.Fatal("auctiond stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg Config, logger *zap.Logger) error {
	host, closeHost, err := openHost(cfg)
	if err != nil {
		return err
	}
	defer closeHost()
	if cfg.GenesisPath != "" {
		if err := applyGenesis(ctx, host, cfg.GenesisPath, logger); err != nil {
			return err
		}
	}
	logger.Info("host ledger ready", zap.String("db_path", cfg.DBPath))

	keys, err := authz.LoadKeyringFromFile(cfg.KeyringPath)
	if err != nil {
		return fmt.Errorf("load keyring: %w", err)
	}
	logger.Info("keyring loaded", zap.Int("keys", keys.Len()))

	sinks, lastSeq, closeSinks, err := auditSinks(cfg, logger)
	if err != nil {
		return err
	}
	defer closeSinks()

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithPlatformAccount(cfg.PlatformAccount),
		engine.WithUnsoldReturn(cfg.ReturnUnsold),
		engine.WithAuditSequence(lastSeq),
	}
	for _, sink := range sinks {
		opts = append(opts, engine.WithSink(sink))
	}
	e, err := engine.New(host, opts...)
	if err != nil {
		return err
	}

	ln, err := listen(cfg)
	if err != nil {
		return err
	}
	server := NewServer(e, authz.NewVerifier(keys, nonceStore(host)), logger, cfg.MaxWorkers)
	return server.Serve(ctx, ln)
}

type ledgerHost interface {
	ledger.Host
	ledger.Seeder
}

func openHost(cfg Config) (ledgerHost, func(), error) {
	if cfg.DBPath == "" {
		return ledger.NewMemory(), func() {}, nil
	}
	h, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open ledger: %w", err)
	}
	return h, func() { closeQuietly(h) }, nil
}

// nonceStore keeps consumed nonces in the host ledger when it can persist
// them, and in memory otherwise.
func nonceStore(h ledgerHost) authz.NonceStore {
	if store, ok := h.(authz.NonceStore); ok {
		return store
	}
	return authz.NewNonceCache(authz.DefaultNonceCapacity)
}

// auditSinks builds the audit sinks and returns the last sequence number
// already written to the signed log, which the engine continues from.
func auditSinks(cfg Config, logger *zap.Logger) ([]audit.Sink, uint64, func(), error) {
	sinks := []audit.Sink{audit.NewLogSink(logger)}
	if cfg.AuditLogPath == "" {
		return sinks, 0, func() {}, nil
	}

	key, err := loadAuditKey(cfg.AuditKeyPath)
	if err != nil {
		return nil, 0, nil, err
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("marshal audit public key: %w", err)
	}
	keyID := base64.StdEncoding.EncodeToString(der)

	f, err := os.OpenFile(cfg.AuditLogPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("open audit log: %w", err)
	}
	lastSeq, err := audit.LastSequence(&key.PublicKey, f)
	if err != nil {
		closeQuietly(f)
		if cfg.AuditKeyPath == "" {
			return nil, 0, nil, fmt.Errorf("audit log %s is not empty, AUCTIOND_AUDIT_KEY_PATH must name the key that signed it: %w", cfg.AuditLogPath, err)
		}
		return nil, 0, nil, fmt.Errorf("resume audit log %s: %w", cfg.AuditLogPath, err)
	}
	logger.Info("audit log signing enabled",
		zap.String("path", cfg.AuditLogPath),
		zap.String("public_key", keyID),
		zap.Uint64("last_seq", lastSeq))

	signer, err := audit.NewSigner(key, keyID)
	if err != nil {
		closeQuietly(f)
		return nil, 0, nil, err
	}
	sinks = append(sinks, audit.NewSignedLog(signer, f))
	return sinks, lastSeq, func() { closeQuietly(f) }, nil
}

func loadAuditKey(path string) (*ecdsa.PrivateKey, error) {
	if path == "" {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate audit key: %w", err)
		}
		return key, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read audit key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("audit key %s: no PEM block found", path)
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse audit key: %w", err)
	}
	return key, nil
}

func closeQuietly(c io.Closer) { _ = c.Close() }
