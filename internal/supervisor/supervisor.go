// Package supervisor wires the pipeline, processor and reorg controller
// together for the `sync` CLI subcommand (spec.md §4.9), translating
// original_source/sync.py's gevent-based main loop and its SIGINT
// handling into goroutines and Go's signal package.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CodeKiet/lincoln/internal/config"
	"github.com/CodeKiet/lincoln/internal/domain"
	"github.com/CodeKiet/lincoln/internal/money"
	"github.com/CodeKiet/lincoln/internal/notify"
	"github.com/CodeKiet/lincoln/internal/pipeline"
	"github.com/CodeKiet/lincoln/internal/processor"
	"github.com/CodeKiet/lincoln/internal/reorg"
	"github.com/CodeKiet/lincoln/internal/script"
	"github.com/CodeKiet/lincoln/internal/store"
	"go.uber.org/zap"
)

// RPC is the subset of rpcclient.Client the supervisor drives directly
// (pipeline.Fetcher plus the block-count check used to find the sync
// target, reorg.HashSource for startup reconciliation, and the raw-tx
// lookup the output resolver's re-index path needs).
type RPC interface {
	pipeline.Fetcher
	reorg.HashSource
	GetRawTransactionBlockHash(ctx context.Context, txidHex string) (string, error)
}

type Supervisor struct {
	store   store.Store
	rpc     RPC
	cfg     processor.Config
	notify  *notify.Publisher
	watcher *config.Watcher
	logger  *zap.Logger
	horizon int64

	// samples is the moving window of per-block processing times
	// (spec.md §4.9: "moving window (1,000 samples)"), used only to
	// estimate catch-up ETA.
	samples    []time.Duration
	sampleHead int
}

const etaWindowSize = 1000

// watcher may be nil, in which case config hot-reload is simply disabled
// for this run (the zero value for "no config file was watchable").
func New(st store.Store, rpc RPC, cfg processor.Config, reorgHorizon int64, pub *notify.Publisher, watcher *config.Watcher, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		store:   st,
		rpc:     rpc,
		cfg:     cfg,
		notify:  pub,
		watcher: watcher,
		logger:  logger,
		horizon: reorgHorizon,
	}
}

// Sync runs the reorg check, then the fetch pipeline from the confirmed
// local tip to the daemon's current height, committing each block in
// order, until the first interrupt requests graceful exit or the tip is
// reached (spec.md §4.9, §8 scenario 6).
func (sv *Supervisor) Sync(ctx context.Context) error {
	ctx, stop := sv.installSignalHandler(ctx)
	defer stop()

	ctrl := reorg.New(sv.store, sv.rpc, sv.horizon, sv.logger)
	localTip, err := ctrl.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("supervisor: reorg reconcile: %w", err)
	}

	serverHeight, err := sv.rpc.GetBlockCount(ctx)
	if err != nil {
		return fmt.Errorf("supervisor: get server height: %w", err)
	}

	from := localTip + 1
	if from > serverHeight {
		sv.logger.Info("already at tip, nothing to sync",
			zap.Int64("local_tip", localTip), zap.Int64("server_height", serverHeight))
		return nil // spec.md §8 P6: idempotent resync commits nothing
	}

	sv.logger.Info("starting sync", zap.Int64("from", from), zap.Int64("to", serverHeight))

	p := pipeline.New(sv.rpc, pipeline.Config{}, sv.logger)
	runErrCh := make(chan error, 1)
	go func() { runErrCh <- p.Run(ctx, from, serverHeight) }()

	for height := from; height <= serverHeight; height++ {
		if ctx.Err() != nil {
			sv.logger.Info("sync interrupted before commit", zap.Int64("height", height))
			break
		}

		block, err := p.Next(ctx, height)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return fmt.Errorf("supervisor: await block %d: %w", height, err)
		}

		start := time.Now()
		if err := sv.commitBlock(ctx, block); err != nil {
			return fmt.Errorf("supervisor: commit block %d: %w", height, err)
		}
		sv.recordSample(time.Since(start))
		sv.pollConfigReload()

		if sv.notify != nil {
			sv.notify.BlockCommitted(ctx, block.Height, fmt.Sprintf("%x", block.Hash))
		}

		if height%100 == 0 || height == serverHeight {
			sv.logger.Info("progress",
				zap.Int64("height", height),
				zap.Int64("remaining", serverHeight-height),
				zap.Duration("eta", sv.estimateETA(serverHeight-height)))
		}
	}

	select {
	case err := <-runErrCh:
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("supervisor: pipeline: %w", err)
		}
	default:
	}
	return nil
}

// pollConfigReload is called between blocks, never mid-commit (spec.md
// §9's hot-reload design note): it non-blockingly checks for a fresh
// config snapshot and, if one arrived, swaps in the new currency/address-
// version settings for every block from here on. The new reorg horizon is
// stored too, but the reorg check has already run for this Sync call, so
// it has no effect within it.
func (sv *Supervisor) pollConfigReload() {
	if sv.watcher == nil {
		return
	}
	select {
	case cfg, ok := <-sv.watcher.Snapshots():
		if !ok {
			return
		}
		sv.applyConfig(cfg)
		sv.logger.Info("applied hot-reloaded config",
			zap.String("currency", sv.cfg.Currency), zap.Int64("reorg_horizon", sv.horizon))
	default:
	}
}

func (sv *Supervisor) applyConfig(cfg *config.Config) {
	sv.cfg = processor.Config{
		Currency:     cfg.Currency.Code,
		Algo:         cfg.Algo.Display,
		P2PKHVersion: cfg.Currency.P2PKHVersion,
		P2SHVersion:  cfg.Currency.P2SHVersion,
		P2PKVersion:  cfg.Currency.P2PKVersion,
	}
	sv.horizon = cfg.Reorg.LookbackHorizon
}

func (sv *Supervisor) commitBlock(ctx context.Context, block *domain.DecodedBlock) error {
	tx, err := sv.store.BeginBlock(ctx)
	if err != nil {
		return err
	}
	if err := processor.Process(ctx, tx, block, sv.cfg, sv.reindex); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// reindex is the ReindexFunc GetInput falls back to when an input
// references an output GetOutput never recorded — a transaction fetched
// out of order, or one the daemon never delivered in the referencing
// block's own getblock response. It locates the transaction's origin
// block via getrawtransaction, finds the matching transaction, and
// recreates just its Output rows through the same Tx GetInput is
// running in, mirroring original_source/lincoln/db_utils.py's
// get_output_from_txin recovery path. It never touches the Transaction
// row itself (CreateBlock/GetOrCreateTx already ran for this block, or
// will when the pipeline reaches it) — only the missing Output rows.
func (sv *Supervisor) reindex(ctx context.Context, tx store.Tx, prevTxid [32]byte) error {
	blockHash, err := sv.rpc.GetRawTransactionBlockHash(ctx, fmt.Sprintf("%x", prevTxid))
	if err != nil {
		return fmt.Errorf("supervisor: reindex: locate origin block of tx %x: %w", prevTxid, err)
	}

	block, err := sv.rpc.GetBlock(ctx, blockHash)
	if err != nil {
		return fmt.Errorf("supervisor: reindex: fetch block %s: %w", blockHash, err)
	}

	var origin *domain.DecodedTx
	for i := range block.Txs {
		if block.Txs[i].Txid == prevTxid {
			origin = &block.Txs[i]
			break
		}
	}
	if origin == nil {
		return fmt.Errorf("supervisor: reindex: tx %x not found in block %s", prevTxid, blockHash)
	}

	for i, vout := range origin.Vout {
		amount := money.FromSatoshis(vout.ValueSat)
		out, err := tx.GetOutput(ctx, prevTxid, amount, int32(i))
		if err != nil {
			return fmt.Errorf("supervisor: reindex: get_output tx %x idx %d: %w", prevTxid, i, err)
		}
		if out.Type != domain.OutputNonStd || out.AddressHash != nil {
			// Already bound by an earlier pass over this block; GetOutput's
			// three-tier lookup is idempotent, so don't re-credit totals.
			continue
		}

		payload, typ := script.Classify(vout.ScriptPubKey)
		if typ == domain.OutputNonStd {
			if err := tx.BindOutputAddress(ctx, prevTxid, int32(i), typ, nil); err != nil {
				return fmt.Errorf("supervisor: reindex: bind non-std tx %x idx %d: %w", prevTxid, i, err)
			}
			continue
		}

		addr, _, err := tx.GetOrCreateAddress(ctx, payload, sv.cfg.VersionFor(typ), sv.cfg.Currency, block.NTime)
		if err != nil {
			return fmt.Errorf("supervisor: reindex: get_addr tx %x idx %d: %w", prevTxid, i, err)
		}
		if err := tx.BindOutputAddress(ctx, prevTxid, int32(i), typ, addr.Hash); err != nil {
			return fmt.Errorf("supervisor: reindex: bind address tx %x idx %d: %w", prevTxid, i, err)
		}
		if err := tx.AddAddressIn(ctx, addr.ID, amount); err != nil {
			return fmt.Errorf("supervisor: reindex: address total_in tx %x idx %d: %w", prevTxid, i, err)
		}
	}
	return nil
}

func (sv *Supervisor) recordSample(d time.Duration) {
	if len(sv.samples) < etaWindowSize {
		sv.samples = append(sv.samples, d)
		return
	}
	sv.samples[sv.sampleHead] = d
	sv.sampleHead = (sv.sampleHead + 1) % etaWindowSize
}

func (sv *Supervisor) estimateETA(remaining int64) time.Duration {
	if len(sv.samples) == 0 || remaining <= 0 {
		return 0
	}
	var total time.Duration
	for _, s := range sv.samples {
		total += s
	}
	avg := total / time.Duration(len(sv.samples))
	return avg * time.Duration(remaining)
}

// installSignalHandler implements spec.md §4.9 and §5's cancellation
// contract: the first SIGINT/SIGTERM flips ctx to Done so the loop exits
// after its current block commits; a second one terminates the process
// immediately, matching original_source/sync.py's two-stage `loop` flag.
func (sv *Supervisor) installSignalHandler(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			sv.logger.Warn("interrupt received, finishing current block then exiting")
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case <-sigCh:
			sv.logger.Error("second interrupt received, exiting immediately")
			os.Exit(1)
		case <-parent.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}
