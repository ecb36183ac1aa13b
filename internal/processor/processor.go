// Package processor implements the block processor of spec.md §4.5: the
// single transactional boundary that turns one domain.DecodedBlock into
// Block/Transaction/Output/Address mutations, committed atomically.
package processor

import (
	"context"
	"fmt"

	"github.com/CodeKiet/lincoln/internal/domain"
	"github.com/CodeKiet/lincoln/internal/money"
	"github.com/CodeKiet/lincoln/internal/script"
	"github.com/CodeKiet/lincoln/internal/store"
	"github.com/shopspring/decimal"
)

// Config is the subset of currency.* / algo.* settings the processor
// needs to resolve addresses and stamp new blocks (spec.md §6).
type Config struct {
	Currency      string
	Algo          string
	P2PKHVersion  int
	P2SHVersion   int
	P2PKVersion   int
}

// VersionFor resolves the address-version byte to stamp for a given
// output type, also used by the supervisor's RPC-backed re-index path.
func (c Config) VersionFor(typ domain.OutputType) int {
	switch typ {
	case domain.OutputP2PKH:
		return c.P2PKHVersion
	case domain.OutputP2SH:
		return c.P2SHVersion
	case domain.OutputP2PK:
		return c.P2PKVersion
	default:
		return 0
	}
}

// Process runs the §4.5 algorithm for one decoded block within tx. The
// caller (the fetch pipeline's consumer) owns beginning and
// committing/rolling-back tx; Process never does either.
func Process(ctx context.Context, tx store.Tx, block *domain.DecodedBlock, cfg Config, reindex store.ReindexFunc) error {
	blockID, err := tx.CreateBlock(ctx, &domain.Block{
		Hash:       block.Hash,
		Height:     block.Height,
		NTime:      block.NTime,
		Difficulty: block.Difficulty,
		Currency:   cfg.Currency,
		Algo:       cfg.Algo,
	})
	if err != nil {
		return fmt.Errorf("processor: create block %d: %w", block.Height, err)
	}

	var blockIn, blockOut decimal.Decimal

	for _, dtx := range block.Txs {
		txRow, existed, err := tx.GetOrCreateTx(ctx, dtx.Txid, blockID)
		if err != nil {
			return fmt.Errorf("processor: get_or_create tx %x: %w", dtx.Txid, err)
		}
		if existed {
			// Duplicate txid across blocks: rebind and zero aggregates,
			// the deliberate overwrite semantics of spec.md §4.5.
			if err := tx.ResetTx(ctx, txRow.ID, blockID); err != nil {
				return fmt.Errorf("processor: reset tx %x: %w", dtx.Txid, err)
			}
		}

		var txIn, txOut decimal.Decimal

		for i, vout := range dtx.Vout {
			amount := money.FromSatoshis(vout.ValueSat)
			if _, err := tx.GetOutput(ctx, dtx.Txid, amount, int32(i)); err != nil {
				return fmt.Errorf("processor: get_output tx %x idx %d: %w", dtx.Txid, i, err)
			}

			payload, typ := script.Classify(vout.ScriptPubKey)
			if typ != domain.OutputNonStd {
				addr, _, err := tx.GetOrCreateAddress(ctx, payload, cfg.VersionFor(typ), cfg.Currency, block.NTime)
				if err != nil {
					return fmt.Errorf("processor: get_addr tx %x idx %d: %w", dtx.Txid, i, err)
				}
				if err := tx.BindOutputAddress(ctx, dtx.Txid, int32(i), typ, addr.Hash); err != nil {
					return fmt.Errorf("processor: bind address tx %x idx %d: %w", dtx.Txid, i, err)
				}
				if err := tx.AddAddressIn(ctx, addr.ID, amount); err != nil {
					return fmt.Errorf("processor: address total_in tx %x idx %d: %w", dtx.Txid, i, err)
				}
			} else {
				if err := tx.BindOutputAddress(ctx, dtx.Txid, int32(i), typ, nil); err != nil {
					return fmt.Errorf("processor: bind non-std tx %x idx %d: %w", dtx.Txid, i, err)
				}
			}
			txOut = txOut.Add(amount)
		}

		isCoinbase := dtx.IsCoinbase
		if !isCoinbase {
			for _, vin := range dtx.Vin {
				prev, err := tx.GetInput(ctx, vin.PrevTxid, int32(vin.PrevIdx), reindex)
				if err != nil {
					return fmt.Errorf("processor: get_input tx %x prev %x:%d: %w", dtx.Txid, vin.PrevTxid, vin.PrevIdx, err)
				}
				if err := tx.MarkSpent(ctx, vin.PrevTxid, int32(vin.PrevIdx), txRow.ID); err != nil {
					return fmt.Errorf("processor: mark_spent tx %x prev %x:%d: %w", dtx.Txid, vin.PrevTxid, vin.PrevIdx, err)
				}
				txIn = txIn.Add(prev.Amount)
				if prev.AddressHash != nil {
					addr, err := tx.GetAddressByHash(ctx, prev.AddressHash)
					if err != nil {
						return fmt.Errorf("processor: lookup spent output address: %w", err)
					}
					if err := tx.AddAddressOut(ctx, addr.ID, prev.Amount); err != nil {
						return fmt.Errorf("processor: address total_out tx %x: %w", dtx.Txid, err)
					}
				}
			}
		} else {
			if err := tx.SetTxCoinbase(ctx, txRow.ID, true); err != nil {
				return fmt.Errorf("processor: set coinbase tx %x: %w", dtx.Txid, err)
			}
		}

		if err := tx.AddTxIn(ctx, txRow.ID, txIn); err != nil {
			return fmt.Errorf("processor: tx total_in %x: %w", dtx.Txid, err)
		}
		if err := tx.AddTxOut(ctx, txRow.ID, txOut); err != nil {
			return fmt.Errorf("processor: tx total_out %x: %w", dtx.Txid, err)
		}
		if !isCoinbase {
			// network_fee = total_in - total_out (Open Question
			// resolution, spec.md §9): never populated for coinbase.
			if err := tx.SetTxNetworkFee(ctx, txRow.ID, txIn.Sub(txOut)); err != nil {
				return fmt.Errorf("processor: tx network_fee %x: %w", dtx.Txid, err)
			}
		}

		blockIn = blockIn.Add(txIn)
		blockOut = blockOut.Add(txOut)
	}

	if err := tx.AddBlockIn(ctx, blockID, blockIn); err != nil {
		return fmt.Errorf("processor: block total_in %d: %w", block.Height, err)
	}
	if err := tx.AddBlockOut(ctx, blockID, blockOut); err != nil {
		return fmt.Errorf("processor: block total_out %d: %w", block.Height, err)
	}

	return nil
}
