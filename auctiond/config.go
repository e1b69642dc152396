package main

import (
	"errors"
	"fmt"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cloudx-io/escrowauction/core"
)

// Config is read from AUCTIOND_* environment variables.
type Config struct {
	// Network is "tcp" or "vsock".
	Network   string `env:"AUCTIOND_NETWORK" envDefault:"tcp"`
	Addr      string `env:"AUCTIOND_ADDR" envDefault:"127.0.0.1:5000"`
	VsockPort uint32 `env:"AUCTIOND_VSOCK_PORT" envDefault:"5000"`

	MaxWorkers int `env:"AUCTIOND_MAX_WORKERS,required"`

	// DBPath is the SQLite ledger file. Empty runs on an in-memory ledger.
	DBPath          string        `env:"AUCTIOND_DB_PATH"`
	PlatformAccount core.Identity `env:"AUCTIOND_PLATFORM_ACCOUNT,required"`
	ReturnUnsold    bool          `env:"AUCTIOND_RETURN_UNSOLD" envDefault:"false"`

	// GenesisPath optionally seeds balances and assets at startup.
	GenesisPath string `env:"AUCTIOND_GENESIS_PATH"`

	// KeyringPath lists the public keys allowed to sign operations.
	KeyringPath string `env:"AUCTIOND_KEYRING_PATH,required"`
	// AuditLogPath receives one signed, base64 encoded audit event per line.
	AuditLogPath string `env:"AUCTIOND_AUDIT_LOG_PATH"`
	// AuditKeyPath is a PEM EC private key used to sign the audit log. When
	// empty an ephemeral key is generated at startup, which only works for
	// a new or empty log.
	AuditKeyPath string `env:"AUCTIOND_AUDIT_KEY_PATH"`

	LogLevel string `env:"AUCTIOND_LOG_LEVEL" envDefault:"info"`
}

func loadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Network {
	case "tcp", "vsock":
	default:
		return fmt.Errorf("invalid AUCTIOND_NETWORK %q: must be tcp or vsock", c.Network)
	}
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("invalid AUCTIOND_MAX_WORKERS %d: must be positive", c.MaxWorkers)
	}
	if c.PlatformAccount.IsZero() {
		return errors.New("AUCTIOND_PLATFORM_ACCOUNT must not be empty")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid AUCTIOND_LOG_LEVEL: %w", err)
	}
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(lvl)
	return config.Build()
}
