package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/CodeKiet/lincoln/internal/domain"
	"github.com/CodeKiet/lincoln/internal/store"
	"github.com/jackc/pgx/v5"
)

// The read-side query shapes of spec.md §6, run against the pool directly
// (no transaction needed: these only ever see committed state).

func (p *Postgres) BlockByHash(ctx context.Context, hash [32]byte) (*domain.Block, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, hash, height, ntime, difficulty, currency, algo, orphan, total_in, total_out
		 FROM block WHERE hash = $1`, hash[:])
	return scanBlock(row)
}

func (p *Postgres) BlockByHeight(ctx context.Context, height int64) (*domain.Block, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, hash, height, ntime, difficulty, currency, algo, orphan, total_in, total_out
		 FROM block WHERE height = $1 AND NOT orphan`, height)
	return scanBlock(row)
}

func (p *Postgres) HighestBlock(ctx context.Context) (*domain.Block, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, hash, height, ntime, difficulty, currency, algo, orphan, total_in, total_out
		 FROM block ORDER BY height DESC LIMIT 1`)
	return scanBlock(row)
}

func (p *Postgres) LatestBlocks(ctx context.Context, limit int) ([]domain.Block, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, hash, height, ntime, difficulty, currency, algo, orphan, total_in, total_out
		 FROM block ORDER BY height DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: latest blocks: %w", err)
	}
	defer rows.Close()

	var out []domain.Block
	for rows.Next() {
		b, err := scanBlockRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (p *Postgres) TxByTxid(ctx context.Context, txid [32]byte) (*domain.Transaction, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, txid, block_id, coinbase, total_in, total_out, network_fee
		 FROM transaction WHERE txid = $1`, txid[:])
	return scanTx(row)
}

func (p *Postgres) LatestTxs(ctx context.Context, limit int) ([]domain.Transaction, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, txid, block_id, coinbase, total_in, total_out, network_fee
		 FROM transaction ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: latest txs: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTxRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (p *Postgres) AddressByHash(ctx context.Context, hash []byte) (*domain.Address, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, hash, version, currency, first_seen_at, total_in, total_out
		 FROM address WHERE hash = $1`, hash)
	return scanAddress(row)
}

func (p *Postgres) OutputsOfAddress(ctx context.Context, addressHash []byte, limit, offset int) ([]domain.Output, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT origin_tx_hash, index, amount, type, address_hash, spend_tx_id
		 FROM output WHERE address_hash = $1
		 ORDER BY origin_tx_hash, index LIMIT $2 OFFSET $3`, addressHash, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: outputs of address: %w", err)
	}
	defer rows.Close()

	var out []domain.Output
	for rows.Next() {
		o, err := scanOutputRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// Address/block/txid prefix search all rely on the byte-ordering of their
// unique btree index: a "prefix" match is every row whose hash sorts at or
// after the prefix, clipped client-side the instant a row no longer
// actually starts with it. Cheap because the index already orders by hash.
func (p *Postgres) SearchAddressPrefix(ctx context.Context, prefix []byte, limit int) ([]domain.Address, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, hash, version, currency, first_seen_at, total_in, total_out
		 FROM address WHERE hash >= $1 ORDER BY hash LIMIT $2`, prefix, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: search address prefix: %w", err)
	}
	defer rows.Close()

	var out []domain.Address
	for rows.Next() {
		a, err := scanAddressRows(rows)
		if err != nil {
			return nil, err
		}
		if !hasPrefix(a.Hash, prefix) {
			break
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (p *Postgres) SearchBlockHashPrefix(ctx context.Context, prefix []byte, limit int) ([]domain.Block, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, hash, height, ntime, difficulty, currency, algo, orphan, total_in, total_out
		 FROM block WHERE hash >= $1 ORDER BY hash LIMIT $2`, prefix, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: search block hash prefix: %w", err)
	}
	defer rows.Close()

	var out []domain.Block
	for rows.Next() {
		b, err := scanBlockRows(rows)
		if err != nil {
			return nil, err
		}
		if !hasPrefix(b.Hash[:], prefix) {
			break
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (p *Postgres) SearchTxidPrefix(ctx context.Context, prefix []byte, limit int) ([]domain.Transaction, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, txid, block_id, coinbase, total_in, total_out, network_fee
		 FROM transaction WHERE txid >= $1 ORDER BY txid LIMIT $2`, prefix, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: search txid prefix: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTxRows(rows)
		if err != nil {
			return nil, err
		}
		if !hasPrefix(t.Txid[:], prefix) {
			break
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func hasPrefix(b, prefix []byte) bool {
	if len(prefix) > len(b) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

func wrapNotFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}
