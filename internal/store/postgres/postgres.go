// Package postgres is the production store.Store implementation: a pgx/v5
// connection pool backing the four tables of spec.md §3, with one SQL
// transaction per ingested block (spec.md §4.5) or per removal (§4.8).
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/CodeKiet/lincoln/internal/store"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Config mirrors the storage DSN config key of spec.md §6.
type Config struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type Postgres struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// New opens and pings a connection pool.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	logger.Info("connected to postgres", zap.Int32("max_conns", poolCfg.MaxConns))

	return &Postgres{pool: pool, logger: logger}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

// BeginBlock opens the single transaction within which one block's worth
// of mutations (§4.5) or one block's removal (§4.8) happens.
func (p *Postgres) BeginBlock(ctx context.Context) (store.Tx, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin tx: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

// schema is applied by the init-db CLI subcommand. Drop-and-create,
// matching spec.md §6's CLI contract exactly.
const schema = `
DROP TABLE IF EXISTS output CASCADE;
DROP TABLE IF EXISTS transaction CASCADE;
DROP TABLE IF EXISTS block CASCADE;
DROP TABLE IF EXISTS address CASCADE;

CREATE TABLE address (
	id            BIGSERIAL PRIMARY KEY,
	hash          BYTEA NOT NULL,
	version       INTEGER NOT NULL,
	currency      TEXT NOT NULL,
	first_seen_at TIMESTAMPTZ,
	total_in      NUMERIC(24,8) NOT NULL DEFAULT 0,
	total_out     NUMERIC(24,8) NOT NULL DEFAULT 0
);
CREATE UNIQUE INDEX address_hash_idx ON address (hash);
CREATE INDEX address_version_idx ON address (version);

CREATE TABLE block (
	id         BIGSERIAL PRIMARY KEY,
	hash       BYTEA NOT NULL,
	height     BIGINT NOT NULL,
	ntime      TIMESTAMPTZ NOT NULL,
	difficulty DOUBLE PRECISION NOT NULL,
	currency   TEXT NOT NULL,
	algo       TEXT NOT NULL,
	orphan     BOOLEAN NOT NULL DEFAULT false,
	total_in   NUMERIC(24,8) NOT NULL DEFAULT 0,
	total_out  NUMERIC(24,8) NOT NULL DEFAULT 0
);
CREATE UNIQUE INDEX block_hash_idx ON block (hash);
CREATE INDEX block_height_idx ON block (height);

CREATE TABLE transaction (
	id           BIGSERIAL PRIMARY KEY,
	txid         BYTEA NOT NULL,
	block_id     BIGINT REFERENCES block (id) ON DELETE CASCADE,
	coinbase     BOOLEAN NOT NULL DEFAULT false,
	total_in     NUMERIC(24,8) NOT NULL DEFAULT 0,
	total_out    NUMERIC(24,8) NOT NULL DEFAULT 0,
	network_fee  NUMERIC(24,8)
);
CREATE UNIQUE INDEX transaction_txid_idx ON transaction (txid);
CREATE INDEX transaction_block_id_idx ON transaction (block_id);

CREATE TABLE output (
	origin_tx_hash BYTEA NOT NULL,
	index          INTEGER NOT NULL,
	origin_tx_id   BIGINT NOT NULL REFERENCES transaction (id) ON DELETE CASCADE,
	amount         NUMERIC(24,8) NOT NULL,
	type           SMALLINT NOT NULL,
	address_hash   BYTEA REFERENCES address (hash),
	spend_tx_id    BIGINT REFERENCES transaction (id),
	PRIMARY KEY (origin_tx_hash, index)
);
CREATE INDEX output_origin_tx_id_idx ON output (origin_tx_id);
CREATE INDEX output_address_hash_idx ON output (address_hash);
CREATE INDEX output_spend_tx_id_idx ON output (spend_tx_id);
`

// InitSchema drops and recreates all four tables, per the init-db CLI
// subcommand's contract (spec.md §6).
func (p *Postgres) InitSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: init schema: %w", err)
	}
	p.logger.Info("schema initialised")
	return nil
}
