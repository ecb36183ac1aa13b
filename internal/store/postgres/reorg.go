package postgres

import (
	"context"
	"fmt"

	"github.com/CodeKiet/lincoln/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// RemoveBlock implements §4.8: reverse every cached aggregate the block's
// outputs and transactions contributed, then delete the rows bottom-up.
// Shared by the reorg controller's ancestor walk and the
// delete-highest-block admin command — both just call this on the block
// they want gone.
func (t *pgTx) RemoveBlock(ctx context.Context, height int64) error {
	var blockID int64
	err := t.tx.QueryRow(ctx, `SELECT id FROM block WHERE height = $1`, height).Scan(&blockID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return fmt.Errorf("postgres: remove block: %w", store.ErrNotFound)
		}
		return fmt.Errorf("postgres: remove block: lookup: %w", err)
	}

	txRows, err := t.tx.Query(ctx, `SELECT id, total_in, total_out FROM transaction WHERE block_id = $1`, blockID)
	if err != nil {
		return fmt.Errorf("postgres: remove block: list transactions: %w", err)
	}
	type txAgg struct {
		id                 int64
		totalIn, totalOut string
	}
	var txs []txAgg
	for txRows.Next() {
		var a txAgg
		if err := txRows.Scan(&a.id, &a.totalIn, &a.totalOut); err != nil {
			txRows.Close()
			return fmt.Errorf("postgres: remove block: scan transaction: %w", err)
		}
		txs = append(txs, a)
	}
	txRows.Close()
	if err := txRows.Err(); err != nil {
		return fmt.Errorf("postgres: remove block: transactions: %w", err)
	}

	for _, a := range txs {
		if err := t.reverseTxOutputs(ctx, a.id); err != nil {
			return err
		}
		if _, err := t.tx.Exec(ctx, `UPDATE block SET total_in = total_in - $1, total_out = total_out - $2 WHERE id = $3`,
			a.totalIn, a.totalOut, blockID); err != nil {
			return fmt.Errorf("postgres: remove block: reverse block aggregates: %w", err)
		}
	}

	if _, err := t.tx.Exec(ctx, `DELETE FROM transaction WHERE block_id = $1`, blockID); err != nil {
		return fmt.Errorf("postgres: remove block: delete transactions: %w", err)
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM block WHERE id = $1`, blockID); err != nil {
		return fmt.Errorf("postgres: remove block: delete block: %w", err)
	}
	return nil
}

// reverseTxOutputs reverses the address/transaction aggregate
// contributions of every output the given transaction created, then
// deletes those output rows. Addresses are never deleted (spec.md §4.8).
func (t *pgTx) reverseTxOutputs(ctx context.Context, txID int64) error {
	rows, err := t.tx.Query(ctx,
		`SELECT origin_tx_hash, index, amount, address_hash, spend_tx_id
		 FROM output WHERE origin_tx_id = $1`, txID)
	if err != nil {
		return fmt.Errorf("postgres: remove block: list outputs: %w", err)
	}

	type outRow struct {
		hash      []byte
		index     int32
		amount    decimal.Decimal
		addrHash  []byte
		spendTxID *int64
	}
	var outs []outRow
	for rows.Next() {
		var o outRow
		var amountStr string
		if err := rows.Scan(&o.hash, &o.index, &amountStr, &o.addrHash, &o.spendTxID); err != nil {
			rows.Close()
			return fmt.Errorf("postgres: remove block: scan output: %w", err)
		}
		o.amount, _ = decimal.NewFromString(amountStr)
		outs = append(outs, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("postgres: remove block: outputs: %w", err)
	}

	for _, o := range outs {
		if o.addrHash != nil {
			if _, err := t.tx.Exec(ctx, `UPDATE address SET total_in = total_in - $1 WHERE hash = $2`,
				o.amount.String(), o.addrHash); err != nil {
				return fmt.Errorf("postgres: remove block: reverse address total_in: %w", err)
			}
			if o.spendTxID != nil {
				if _, err := t.tx.Exec(ctx, `UPDATE address SET total_out = total_out - $1 WHERE hash = $2`,
					o.amount.String(), o.addrHash); err != nil {
					return fmt.Errorf("postgres: remove block: reverse address total_out: %w", err)
				}
			}
		}
		if o.spendTxID != nil {
			if _, err := t.tx.Exec(ctx, `UPDATE transaction SET total_in = total_in - $1 WHERE id = $2`,
				o.amount.String(), *o.spendTxID); err != nil {
				return fmt.Errorf("postgres: remove block: reverse spending tx total_in: %w", err)
			}
		}
		if _, err := t.tx.Exec(ctx, `UPDATE transaction SET total_out = total_out - $1 WHERE id = $2`,
			o.amount.String(), txID); err != nil {
			return fmt.Errorf("postgres: remove block: reverse origin tx total_out: %w", err)
		}
	}

	if _, err := t.tx.Exec(ctx, `DELETE FROM output WHERE origin_tx_id = $1`, txID); err != nil {
		return fmt.Errorf("postgres: remove block: delete outputs: %w", err)
	}
	return nil
}
