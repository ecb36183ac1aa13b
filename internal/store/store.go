// Package store declares the persistence abstraction the block processor,
// reorg controller, and explorer are built against (spec.md §2 item 3,
// §4.3, §4.4). internal/store/postgres provides the only production implementation;
// everything above this package talks to the Store/Tx interfaces only, so
// the fake in-memory store used by internal/processor's tests can stand in
// for it.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/CodeKiet/lincoln/internal/domain"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by single-row lookups that found nothing.
var ErrNotFound = errors.New("store: not found")

// MissingOutput is returned by GetInput when an input references an
// output that could not be located even after an RPC-backed re-index
// attempt (spec.md §4.4, §7).
type MissingOutput struct {
	PrevTxHash [32]byte
	PrevIndex  int32
}

func (e *MissingOutput) Error() string {
	return "store: missing output referenced as input"
}

// Store is the top-level handle: it opens per-block transactions and
// serves the read-only query shapes the explorer needs. Exactly one
// goroutine (the block processor) ever calls BeginBlock; the explorer
// only calls the Querier methods.
type Store interface {
	// BeginBlock starts the single transaction within which one decoded
	// block is ingested or rolled back as a unit (spec.md §4.5).
	BeginBlock(ctx context.Context) (Tx, error)

	Querier

	Close()
}

// Tx is the transactional boundary for ingesting or removing exactly one
// block. A Tx must end in exactly one Commit or Rollback call.
type Tx interface {
	// CreateBlock inserts a new Block row with zeroed aggregates.
	CreateBlock(ctx context.Context, b *domain.Block) (int64, error)

	// GetOrCreateTx implements §4.5 step 2a: look up by txid, creating a
	// fresh row if absent; if found, the caller is responsible for
	// resetting its aggregates and rebinding it to the new block (the
	// "duplicate txid" overwrite semantics of spec.md §4.5).
	GetOrCreateTx(ctx context.Context, txid [32]byte, blockID int64) (*domain.Transaction, bool, error)

	// ResetTx zeroes a pre-existing transaction's aggregates and rebinds
	// it to a new block, per the duplicate-txid overwrite rule.
	ResetTx(ctx context.Context, txID int64, blockID int64) error

	// GetOutput implements the creation-side three-tier lookup of
	// spec.md §4.4: exact (txid, amount, index) match, else (txid,
	// amount) match with an index patch, else insert.
	GetOutput(ctx context.Context, txid [32]byte, amount decimal.Decimal, index int32) (*domain.Output, error)

	// GetInput implements the spend-side lookup of spec.md §4.4: exact
	// (origin_tx_hash, index) match, falling back to an RPC-backed
	// re-index via the reindex callback before giving up with
	// MissingOutput.
	GetInput(ctx context.Context, prevTxid [32]byte, prevIndex int32, reindex ReindexFunc) (*domain.Output, error)

	// BindOutputAddress sets an output's type and, for standard types,
	// its address_hash FK (spec.md §6: output.address_hash → address.hash).
	BindOutputAddress(ctx context.Context, txid [32]byte, index int32, typ domain.OutputType, addressHash []byte) error

	// MarkSpent records that txID spends the output (prevTxid, prevIndex).
	MarkSpent(ctx context.Context, prevTxid [32]byte, prevIndex int32, txID int64) error

	// GetOrCreateAddress implements §4.3's get_addr: single lookup on
	// hash alone, inserting a zeroed row with version and firstSeenAt on
	// miss. version is not part of the lookup: an existing row with the
	// same hash is returned whatever version it was created with.
	GetOrCreateAddress(ctx context.Context, hash []byte, version int, currency string, firstSeenAt time.Time) (*domain.Address, bool, error)

	// GetAddressByHash is a plain read used to re-resolve the address
	// bound to a spent output (already created when that output was
	// written); it does not insert on miss.
	GetAddressByHash(ctx context.Context, hash []byte) (*domain.Address, error)

	// AddAddressIn/AddAddressOut adjust an address's cached aggregates.
	AddAddressIn(ctx context.Context, addressID int64, amount decimal.Decimal) error
	AddAddressOut(ctx context.Context, addressID int64, amount decimal.Decimal) error

	// AddTxIn/AddTxOut adjust a transaction's cached aggregates.
	AddTxIn(ctx context.Context, txID int64, amount decimal.Decimal) error
	AddTxOut(ctx context.Context, txID int64, amount decimal.Decimal) error
	SetTxCoinbase(ctx context.Context, txID int64, coinbase bool) error
	SetTxNetworkFee(ctx context.Context, txID int64, fee decimal.Decimal) error

	// AddBlockIn/AddBlockOut adjust a block's cached aggregates.
	AddBlockIn(ctx context.Context, blockID int64, amount decimal.Decimal) error
	AddBlockOut(ctx context.Context, blockID int64, amount decimal.Decimal) error

	// RemoveBlock implements §4.8: full aggregate reversal for the given
	// block (by height), cascading to its transactions and outputs, then
	// deleting the rows. Addresses are never deleted. Shared by the
	// reorg controller and the delete-highest-block admin command.
	RemoveBlock(ctx context.Context, height int64) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// ReindexFunc fetches and re-persists the outputs of the transaction that
// produced (prevTxid), used by GetInput's RPC-backed recovery path. It
// receives the same Tx GetInput was called on, so its writes land in the
// same in-flight transaction and are visible to GetInput's retry. It is
// supplied by the caller (the supervisor, passed through
// processor.Process) so the store package has no dependency on the RPC
// client.
type ReindexFunc func(ctx context.Context, tx Tx, prevTxid [32]byte) error

// Querier is the read-only query surface the explorer runs against
// (spec.md §6 "Read-side query shapes"). It is satisfied by both Store
// (outside a transaction) and, for tests, a fake in-memory implementation.
type Querier interface {
	BlockByHash(ctx context.Context, hash [32]byte) (*domain.Block, error)
	BlockByHeight(ctx context.Context, height int64) (*domain.Block, error)
	LatestBlocks(ctx context.Context, limit int) ([]domain.Block, error)
	HighestBlock(ctx context.Context) (*domain.Block, error)

	TxByTxid(ctx context.Context, txid [32]byte) (*domain.Transaction, error)
	LatestTxs(ctx context.Context, limit int) ([]domain.Transaction, error)

	AddressByHash(ctx context.Context, hash []byte) (*domain.Address, error)
	OutputsOfAddress(ctx context.Context, addressHash []byte, limit, offset int) ([]domain.Output, error)

	SearchAddressPrefix(ctx context.Context, prefix []byte, limit int) ([]domain.Address, error)
	SearchBlockHashPrefix(ctx context.Context, prefix []byte, limit int) ([]domain.Block, error)
	SearchTxidPrefix(ctx context.Context, prefix []byte, limit int) ([]domain.Transaction, error)
}
