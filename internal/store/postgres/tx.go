package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CodeKiet/lincoln/internal/domain"
	"github.com/CodeKiet/lincoln/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// pgTx implements store.Tx over one pgx.Tx: the single block-ingestion or
// block-removal transaction of spec.md §4.5 / §4.8.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("postgres: rollback: %w", err)
	}
	return nil
}

func (t *pgTx) CreateBlock(ctx context.Context, b *domain.Block) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO block (hash, height, ntime, difficulty, currency, algo, orphan, total_in, total_out)
		 VALUES ($1, $2, $3, $4, $5, $6, false, 0, 0) RETURNING id`,
		b.Hash[:], b.Height, b.NTime, b.Difficulty, b.Currency, b.Algo).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: create block: %w", err)
	}
	return id, nil
}

// GetOrCreateTx is §4.5 step 2a's get_or_create: a fresh row on miss, or
// the existing row (left untouched here — the caller resets and rebinds
// it via ResetTx, per the duplicate-txid overwrite semantics).
func (t *pgTx) GetOrCreateTx(ctx context.Context, txid [32]byte, blockID int64) (*domain.Transaction, bool, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `SELECT id FROM transaction WHERE txid = $1`, txid[:]).Scan(&id)
	if err == nil {
		return &domain.Transaction{ID: id, Txid: txid, BlockID: &blockID}, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("postgres: lookup transaction: %w", err)
	}

	err = t.tx.QueryRow(ctx,
		`INSERT INTO transaction (txid, block_id, coinbase, total_in, total_out)
		 VALUES ($1, $2, false, 0, 0) RETURNING id`, txid[:], blockID).Scan(&id)
	if err != nil {
		return nil, false, fmt.Errorf("postgres: insert transaction: %w", err)
	}
	return &domain.Transaction{ID: id, Txid: txid, BlockID: &blockID}, false, nil
}

func (t *pgTx) ResetTx(ctx context.Context, txID int64, blockID int64) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE transaction SET block_id = $1, total_in = 0, total_out = 0, network_fee = NULL, coinbase = false
		 WHERE id = $2`, blockID, txID)
	if err != nil {
		return fmt.Errorf("postgres: reset transaction: %w", err)
	}
	return nil
}

// GetOutput is the creation-side three-tier lookup of spec.md §4.4.
func (t *pgTx) GetOutput(ctx context.Context, txid [32]byte, amount decimal.Decimal, index int32) (*domain.Output, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT origin_tx_hash, index, amount, type, address_hash, spend_tx_id
		 FROM output WHERE origin_tx_hash = $1 AND index = $2 AND amount = $3`, txid[:], index, amount.String())
	if out, err := scanOutput(row); err == nil {
		return out, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	row = t.tx.QueryRow(ctx,
		`SELECT origin_tx_hash, index, amount, type, address_hash, spend_tx_id
		 FROM output WHERE origin_tx_hash = $1 AND amount = $2 AND index IS DISTINCT FROM $3
		 LIMIT 1`, txid[:], amount.String(), index)
	if out, err := scanOutput(row); err == nil {
		if _, err := t.tx.Exec(ctx,
			`UPDATE output SET index = $1 WHERE origin_tx_hash = $2 AND index = $3`,
			index, txid[:], out.Index); err != nil {
			return nil, fmt.Errorf("postgres: patch output index: %w", err)
		}
		out.Index = index
		return out, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	var originTxID int64
	if err := t.tx.QueryRow(ctx, `SELECT id FROM transaction WHERE txid = $1`, txid[:]).Scan(&originTxID); err != nil {
		return nil, fmt.Errorf("postgres: origin tx for new output: %w", err)
	}
	// ON CONFLICT covers the duplicate-txid-reuse edge case (spec.md
	// §4.5): (origin_tx_hash, index) is the table's PK, so a stale row
	// left behind at this index by an earlier transaction with the same
	// txid but a different output set is overwritten outright rather
	// than rejected, including clearing its now-stale address binding.
	_, err := t.tx.Exec(ctx,
		`INSERT INTO output (origin_tx_hash, index, origin_tx_id, amount, type)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (origin_tx_hash, index) DO UPDATE
		 SET origin_tx_id = excluded.origin_tx_id, amount = excluded.amount, type = excluded.type,
		     address_hash = NULL, spend_tx_id = NULL`,
		txid[:], index, originTxID, amount.String(), domain.OutputNonStd)
	if err != nil {
		return nil, fmt.Errorf("postgres: insert output: %w", err)
	}
	return &domain.Output{OriginTxHash: txid, Index: index, Amount: amount, Type: domain.OutputNonStd}, nil
}

// GetInput is the spend-side exact lookup, falling back to an RPC-backed
// re-index before surfacing store.MissingOutput (spec.md §4.4).
func (t *pgTx) GetInput(ctx context.Context, prevTxid [32]byte, prevIndex int32, reindex store.ReindexFunc) (*domain.Output, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT origin_tx_hash, index, amount, type, address_hash, spend_tx_id
		 FROM output WHERE origin_tx_hash = $1 AND index = $2`, prevTxid[:], prevIndex)
	if out, err := scanOutput(row); err == nil {
		return out, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if reindex != nil {
		if err := reindex(ctx, t, prevTxid); err != nil {
			return nil, fmt.Errorf("postgres: reindex origin tx: %w", err)
		}
		row = t.tx.QueryRow(ctx,
			`SELECT origin_tx_hash, index, amount, type, address_hash, spend_tx_id
			 FROM output WHERE origin_tx_hash = $1 AND index = $2`, prevTxid[:], prevIndex)
		if out, err := scanOutput(row); err == nil {
			return out, nil
		}
	}

	return nil, &store.MissingOutput{PrevTxHash: prevTxid, PrevIndex: prevIndex}
}

func scanOutput(r row) (*domain.Output, error) {
	var o domain.Output
	var originTxHash []byte
	var amount string
	err := r.Scan(&originTxHash, &o.Index, &amount, &o.Type, &o.AddressHash, &o.SpendTxID)
	if err != nil {
		return nil, wrapNotFound(fmt.Errorf("scan output: %w", err))
	}
	copy(o.OriginTxHash[:], originTxHash)
	o.Amount, _ = decimal.NewFromString(amount)
	return &o, nil
}

func (t *pgTx) BindOutputAddress(ctx context.Context, txid [32]byte, index int32, typ domain.OutputType, addressHash []byte) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE output SET type = $1, address_hash = $2 WHERE origin_tx_hash = $3 AND index = $4`,
		typ, addressHash, txid[:], index)
	if err != nil {
		return fmt.Errorf("postgres: bind output address: %w", err)
	}
	return nil
}

func (t *pgTx) MarkSpent(ctx context.Context, prevTxid [32]byte, prevIndex int32, txID int64) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE output SET spend_tx_id = $1 WHERE origin_tx_hash = $2 AND index = $3`,
		txID, prevTxid[:], prevIndex)
	if err != nil {
		return fmt.Errorf("postgres: mark spent: %w", err)
	}
	return nil
}

// GetOrCreateAddress is §4.3's get_addr.
func (t *pgTx) GetOrCreateAddress(ctx context.Context, hash []byte, version int, currency string, firstSeenAt time.Time) (*domain.Address, bool, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT id, hash, version, currency, first_seen_at, total_in, total_out
		 FROM address WHERE hash = $1`, hash)
	if a, err := scanAddress(row); err == nil {
		return a, true, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO address (hash, version, currency, first_seen_at, total_in, total_out)
		 VALUES ($1, $2, $3, $4, 0, 0) RETURNING id`, hash, version, currency, firstSeenAt).Scan(&id)
	if err != nil {
		return nil, false, fmt.Errorf("postgres: insert address: %w", err)
	}
	return &domain.Address{ID: id, Hash: hash, Version: version, Currency: currency, FirstSeenAt: &firstSeenAt}, false, nil
}

func (t *pgTx) GetAddressByHash(ctx context.Context, hash []byte) (*domain.Address, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT id, hash, version, currency, first_seen_at, total_in, total_out
		 FROM address WHERE hash = $1`, hash)
	return scanAddress(row)
}

func (t *pgTx) AddAddressIn(ctx context.Context, addressID int64, amount decimal.Decimal) error {
	_, err := t.tx.Exec(ctx, `UPDATE address SET total_in = total_in + $1 WHERE id = $2`, amount.String(), addressID)
	if err != nil {
		return fmt.Errorf("postgres: add address in: %w", err)
	}
	return nil
}

func (t *pgTx) AddAddressOut(ctx context.Context, addressID int64, amount decimal.Decimal) error {
	_, err := t.tx.Exec(ctx, `UPDATE address SET total_out = total_out + $1 WHERE id = $2`, amount.String(), addressID)
	if err != nil {
		return fmt.Errorf("postgres: add address out: %w", err)
	}
	return nil
}

func (t *pgTx) AddTxIn(ctx context.Context, txID int64, amount decimal.Decimal) error {
	_, err := t.tx.Exec(ctx, `UPDATE transaction SET total_in = total_in + $1 WHERE id = $2`, amount.String(), txID)
	if err != nil {
		return fmt.Errorf("postgres: add tx in: %w", err)
	}
	return nil
}

func (t *pgTx) AddTxOut(ctx context.Context, txID int64, amount decimal.Decimal) error {
	_, err := t.tx.Exec(ctx, `UPDATE transaction SET total_out = total_out + $1 WHERE id = $2`, amount.String(), txID)
	if err != nil {
		return fmt.Errorf("postgres: add tx out: %w", err)
	}
	return nil
}

func (t *pgTx) SetTxCoinbase(ctx context.Context, txID int64, coinbase bool) error {
	_, err := t.tx.Exec(ctx, `UPDATE transaction SET coinbase = $1 WHERE id = $2`, coinbase, txID)
	if err != nil {
		return fmt.Errorf("postgres: set tx coinbase: %w", err)
	}
	return nil
}

func (t *pgTx) SetTxNetworkFee(ctx context.Context, txID int64, fee decimal.Decimal) error {
	_, err := t.tx.Exec(ctx, `UPDATE transaction SET network_fee = $1 WHERE id = $2`, fee.String(), txID)
	if err != nil {
		return fmt.Errorf("postgres: set tx network fee: %w", err)
	}
	return nil
}

func (t *pgTx) AddBlockIn(ctx context.Context, blockID int64, amount decimal.Decimal) error {
	_, err := t.tx.Exec(ctx, `UPDATE block SET total_in = total_in + $1 WHERE id = $2`, amount.String(), blockID)
	if err != nil {
		return fmt.Errorf("postgres: add block in: %w", err)
	}
	return nil
}

func (t *pgTx) AddBlockOut(ctx context.Context, blockID int64, amount decimal.Decimal) error {
	_, err := t.tx.Exec(ctx, `UPDATE block SET total_out = total_out + $1 WHERE id = $2`, amount.String(), blockID)
	if err != nil {
		return fmt.Errorf("postgres: add block out: %w", err)
	}
	return nil
}
