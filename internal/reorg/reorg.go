// Package reorg implements the fork-reconciliation controller of
// spec.md §4.7: run once at startup, it walks backwards from the local
// tip comparing hashes against the daemon until it finds a common
// ancestor, deleting local blocks along the way via store.Tx.RemoveBlock
// (§4.8's aggregate-reversal routine, shared verbatim with the
// delete-highest-block admin command).
package reorg

import (
	"context"
	"errors"
	"fmt"

	"github.com/CodeKiet/lincoln/internal/store"
	"go.uber.org/zap"
)

// HashSource is the subset of rpcclient.Client the controller needs.
type HashSource interface {
	GetBlockCount(ctx context.Context) (int64, error)
	GetBlockHash(ctx context.Context, height int64) (string, error)
}

// DefaultLookbackHorizon is the default reorg.lookback_horizon config value
// (spec.md §9's Open Question: "expose it as configuration").
const DefaultLookbackHorizon = 150

// Controller runs the startup reconciliation check.
type Controller struct {
	store    store.Store
	rpc      HashSource
	horizon  int64
	logger   *zap.Logger
}

func New(st store.Store, rpc HashSource, horizon int64, logger *zap.Logger) *Controller {
	if horizon <= 0 {
		horizon = DefaultLookbackHorizon
	}
	return &Controller{store: st, rpc: rpc, horizon: horizon, logger: logger}
}

// Reconcile implements §4.7 steps 1-5. It returns the confirmed local
// tip height to resume syncing from (unchanged if no fork was found).
func (c *Controller) Reconcile(ctx context.Context) (int64, error) {
	tip, err := c.store.HighestBlock(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return -1, nil // empty store: nothing to reconcile
		}
		return 0, fmt.Errorf("reorg: load local tip: %w", err)
	}

	serverHeight, err := c.rpc.GetBlockCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("reorg: get server height: %w", err)
	}
	if serverHeight >= tip.Height+c.horizon {
		c.logger.Info("skipping reorg check: too far behind",
			zap.Int64("local_tip", tip.Height), zap.Int64("server_height", serverHeight))
		return tip.Height, nil
	}

	height := tip.Height
	localHash := tip.Hash
	for {
		serverHash, err := c.rpc.GetBlockHash(ctx, height)
		if err != nil {
			return 0, fmt.Errorf("reorg: get block hash at %d: %w", height, err)
		}
		if hexEqual(localHash, serverHash) {
			return height, nil
		}
		if height == 0 {
			return 0, fmt.Errorf("reorg: fork extends past genesis")
		}

		c.logger.Warn("reorg detected: removing local block", zap.Int64("height", height))
		if err := c.removeOne(ctx, height); err != nil {
			return 0, err
		}

		prev, err := c.store.BlockByHeight(ctx, height-1)
		if err != nil {
			return 0, fmt.Errorf("reorg: load block %d: %w", height-1, err)
		}
		height--
		localHash = prev.Hash
	}
}

func (c *Controller) removeOne(ctx context.Context, height int64) error {
	tx, err := c.store.BeginBlock(ctx)
	if err != nil {
		return fmt.Errorf("reorg: begin removal tx: %w", err)
	}
	if err := tx.RemoveBlock(ctx, height); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("reorg: remove block %d: %w", height, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("reorg: commit removal %d: %w", height, err)
	}
	return nil
}

func hexEqual(local [32]byte, serverHex string) bool {
	return fmt.Sprintf("%x", local) == serverHex
}
