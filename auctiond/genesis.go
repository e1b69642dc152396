package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/cloudx-io/escrowauction/ledger"
)

func loadGenesis(path string) (ledger.Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ledger.Genesis{}, fmt.Errorf("failed to read genesis file: %w", err)
	}
	var g ledger.Genesis
	if err := json.Unmarshal(data, &g); err != nil {
		return ledger.Genesis{}, fmt.Errorf("failed to parse genesis: %w", err)
	}
	return g, nil
}

// applyGenesis seeds the genesis file at path into s. The ledger records that
// it was seeded, so a restart against the same database is a no-op.
func applyGenesis(ctx context.Context, s ledger.Seeder, path string, logger *zap.Logger) error {
	g, err := loadGenesis(path)
	if err != nil {
		return err
	}
	applied, err := s.Seed(ctx, g)
	if err != nil {
		return fmt.Errorf("apply genesis: %w", err)
	}
	if !applied {
		logger.Info("genesis already applied, skipping", zap.String("path", path))
		return nil
	}
	logger.Info("genesis applied",
		zap.Int("balances", len(g.Balances)),
		zap.Int("assets", len(g.Assets)))
	return nil
}
