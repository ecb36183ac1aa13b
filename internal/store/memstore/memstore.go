// Package memstore is an in-memory store.Store used by the processor and
// reorg test suites (spec.md §8's property tests don't need a real
// database to check aggregate invariants). It is not used by the
// production binary.
package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/CodeKiet/lincoln/internal/domain"
	"github.com/CodeKiet/lincoln/internal/store"
	"github.com/shopspring/decimal"
)

type outputKey struct {
	txid  [32]byte
	index int32
}

// Store is a single-goroutine, non-durable stand-in for postgres.Postgres.
// It applies mutations directly (no real rollback across Tx boundaries,
// which is adequate for the invariant tests, since none inspects the
// store after an aborted block).
type Store struct {
	blocks  map[int64]*domain.Block // by height
	blockID map[[32]byte]int64
	nextBID int64

	txs     map[int64]*domain.Transaction
	txByID  map[[32]byte]int64
	nextTID int64

	outputs map[outputKey]*domain.Output

	addrs     map[string]*domain.Address // by hash string
	nextAID   int64
}

func New() *Store {
	return &Store{
		blocks:  map[int64]*domain.Block{},
		blockID: map[[32]byte]int64{},
		txs:     map[int64]*domain.Transaction{},
		txByID:  map[[32]byte]int64{},
		outputs: map[outputKey]*domain.Output{},
		addrs:   map[string]*domain.Address{},
	}
}

func (s *Store) Close() {}

func (s *Store) BeginBlock(ctx context.Context) (store.Tx, error) {
	return &memTx{s: s}, nil
}

// memTx applies every mutation immediately against the shared Store;
// Rollback is a no-op placeholder: the one test that aborts a block
// mid-way against this fake checks only the returned error, never the
// store's state afterwards.
type memTx struct{ s *Store }

func (t *memTx) Commit(ctx context.Context) error   { return nil }
func (t *memTx) Rollback(ctx context.Context) error { return nil }

func (t *memTx) CreateBlock(ctx context.Context, b *domain.Block) (int64, error) {
	t.s.nextBID++
	id := t.s.nextBID
	cp := *b
	cp.ID = id
	cp.TotalIn = decimal.Zero
	cp.TotalOut = decimal.Zero
	t.s.blocks[b.Height] = &cp
	t.s.blockID[b.Hash] = id
	return id, nil
}

func (t *memTx) GetOrCreateTx(ctx context.Context, txid [32]byte, blockID int64) (*domain.Transaction, bool, error) {
	if id, ok := t.s.txByID[txid]; ok {
		return t.s.txs[id], true, nil
	}
	t.s.nextTID++
	id := t.s.nextTID
	tx := &domain.Transaction{ID: id, Txid: txid, BlockID: &blockID, TotalIn: decimal.Zero, TotalOut: decimal.Zero}
	t.s.txs[id] = tx
	t.s.txByID[txid] = id
	return tx, false, nil
}

func (t *memTx) ResetTx(ctx context.Context, txID int64, blockID int64) error {
	tx := t.s.txs[txID]
	tx.BlockID = &blockID
	tx.TotalIn = decimal.Zero
	tx.TotalOut = decimal.Zero
	tx.NetworkFee = nil
	tx.Coinbase = false
	return nil
}

func (t *memTx) GetOutput(ctx context.Context, txid [32]byte, amount decimal.Decimal, index int32) (*domain.Output, error) {
	key := outputKey{txid, index}
	if o, ok := t.s.outputs[key]; ok && o.Amount.Equal(amount) {
		return o, nil
	}
	for k, o := range t.s.outputs {
		if k.txid == txid && k.index != index && o.Amount.Equal(amount) {
			delete(t.s.outputs, k)
			o.Index = index
			t.s.outputs[outputKey{txid, index}] = o
			return o, nil
		}
	}
	// Overwrites any stale row left at this index by an earlier
	// transaction with the same txid but a different output set
	// (spec.md §4.5's duplicate-txid-reuse edge case), clearing its
	// now-stale type/address binding.
	o := &domain.Output{OriginTxHash: txid, Index: index, Amount: amount, Type: domain.OutputNonStd}
	t.s.outputs[key] = o
	return o, nil
}

func (t *memTx) GetInput(ctx context.Context, prevTxid [32]byte, prevIndex int32, reindex store.ReindexFunc) (*domain.Output, error) {
	key := outputKey{prevTxid, prevIndex}
	if o, ok := t.s.outputs[key]; ok {
		return o, nil
	}
	if reindex != nil {
		if err := reindex(ctx, t, prevTxid); err == nil {
			if o, ok := t.s.outputs[key]; ok {
				return o, nil
			}
		}
	}
	return nil, &store.MissingOutput{PrevTxHash: prevTxid, PrevIndex: prevIndex}
}

func (t *memTx) BindOutputAddress(ctx context.Context, txid [32]byte, index int32, typ domain.OutputType, addressHash []byte) error {
	o := t.s.outputs[outputKey{txid, index}]
	o.Type = typ
	o.AddressHash = addressHash
	return nil
}

func (t *memTx) MarkSpent(ctx context.Context, prevTxid [32]byte, prevIndex int32, txID int64) error {
	o := t.s.outputs[outputKey{prevTxid, prevIndex}]
	id := txID
	o.SpendTxID = &id
	return nil
}

func (t *memTx) GetOrCreateAddress(ctx context.Context, hash []byte, version int, currency string, firstSeenAt time.Time) (*domain.Address, bool, error) {
	k := string(hash)
	if a, ok := t.s.addrs[k]; ok {
		return a, true, nil
	}
	t.s.nextAID++
	fs := firstSeenAt
	a := &domain.Address{ID: t.s.nextAID, Hash: hash, Version: version, Currency: currency, FirstSeenAt: &fs, TotalIn: decimal.Zero, TotalOut: decimal.Zero}
	t.s.addrs[k] = a
	return a, false, nil
}

func (t *memTx) GetAddressByHash(ctx context.Context, hash []byte) (*domain.Address, error) {
	if a, ok := t.s.addrs[string(hash)]; ok {
		return a, nil
	}
	return nil, store.ErrNotFound
}

func (t *memTx) AddAddressIn(ctx context.Context, addressID int64, amount decimal.Decimal) error {
	t.addrByID(addressID).TotalIn = t.addrByID(addressID).TotalIn.Add(amount)
	return nil
}

func (t *memTx) AddAddressOut(ctx context.Context, addressID int64, amount decimal.Decimal) error {
	t.addrByID(addressID).TotalOut = t.addrByID(addressID).TotalOut.Add(amount)
	return nil
}

func (t *memTx) addrByID(id int64) *domain.Address {
	for _, a := range t.s.addrs {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func (t *memTx) AddTxIn(ctx context.Context, txID int64, amount decimal.Decimal) error {
	tx := t.s.txs[txID]
	tx.TotalIn = tx.TotalIn.Add(amount)
	return nil
}

func (t *memTx) AddTxOut(ctx context.Context, txID int64, amount decimal.Decimal) error {
	tx := t.s.txs[txID]
	tx.TotalOut = tx.TotalOut.Add(amount)
	return nil
}

func (t *memTx) SetTxCoinbase(ctx context.Context, txID int64, coinbase bool) error {
	t.s.txs[txID].Coinbase = coinbase
	return nil
}

func (t *memTx) SetTxNetworkFee(ctx context.Context, txID int64, fee decimal.Decimal) error {
	f := fee
	t.s.txs[txID].NetworkFee = &f
	return nil
}

func (t *memTx) AddBlockIn(ctx context.Context, blockID int64, amount decimal.Decimal) error {
	t.blockByID(blockID).TotalIn = t.blockByID(blockID).TotalIn.Add(amount)
	return nil
}

func (t *memTx) AddBlockOut(ctx context.Context, blockID int64, amount decimal.Decimal) error {
	t.blockByID(blockID).TotalOut = t.blockByID(blockID).TotalOut.Add(amount)
	return nil
}

func (t *memTx) blockByID(id int64) *domain.Block {
	for _, b := range t.s.blocks {
		if b.ID == id {
			return b
		}
	}
	return nil
}

// RemoveBlock implements §4.8 against the in-memory maps, for the reorg
// controller's test suite.
func (t *memTx) RemoveBlock(ctx context.Context, height int64) error {
	b, ok := t.s.blocks[height]
	if !ok {
		return store.ErrNotFound
	}

	for txID, tx := range t.s.txs {
		if tx.BlockID == nil || *tx.BlockID != b.ID {
			continue
		}
		for k, o := range t.s.outputs {
			if k.txid != tx.Txid {
				continue
			}
			if o.AddressHash != nil {
				addr := t.s.addrs[string(o.AddressHash)]
				addr.TotalIn = addr.TotalIn.Sub(o.Amount)
				if o.SpendTxID != nil {
					addr.TotalOut = addr.TotalOut.Sub(o.Amount)
				}
			}
			if o.SpendTxID != nil {
				if spender := t.s.txs[*o.SpendTxID]; spender != nil {
					spender.TotalIn = spender.TotalIn.Sub(o.Amount)
				}
			}
			tx.TotalOut = tx.TotalOut.Sub(o.Amount)
			delete(t.s.outputs, k)
		}
		b.TotalIn = b.TotalIn.Sub(tx.TotalIn)
		b.TotalOut = b.TotalOut.Sub(tx.TotalOut)
		delete(t.s.txs, txID)
		delete(t.s.txByID, tx.Txid)
	}

	delete(t.s.blocks, height)
	delete(t.s.blockID, b.Hash)
	return nil
}

// --- read-side Querier, satisfied directly by Store (outside any Tx) ---

func (s *Store) BlockByHash(ctx context.Context, hash [32]byte) (*domain.Block, error) {
	if id, ok := s.blockID[hash]; ok {
		for _, b := range s.blocks {
			if b.ID == id {
				return b, nil
			}
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) BlockByHeight(ctx context.Context, height int64) (*domain.Block, error) {
	if b, ok := s.blocks[height]; ok {
		return b, nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) HighestBlock(ctx context.Context) (*domain.Block, error) {
	var best *domain.Block
	for _, b := range s.blocks {
		if best == nil || b.Height > best.Height {
			best = b
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	return best, nil
}

func (s *Store) LatestBlocks(ctx context.Context, limit int) ([]domain.Block, error) {
	out := make([]domain.Block, 0, len(s.blocks))
	for _, b := range s.blocks {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Height > out[j].Height })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) TxByTxid(ctx context.Context, txid [32]byte) (*domain.Transaction, error) {
	if id, ok := s.txByID[txid]; ok {
		return s.txs[id], nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) LatestTxs(ctx context.Context, limit int) ([]domain.Transaction, error) {
	out := make([]domain.Transaction, 0, len(s.txs))
	for _, t := range s.txs {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) AddressByHash(ctx context.Context, hash []byte) (*domain.Address, error) {
	if a, ok := s.addrs[string(hash)]; ok {
		return a, nil
	}
	return nil, store.ErrNotFound
}

func (s *Store) OutputsOfAddress(ctx context.Context, addressHash []byte, limit, offset int) ([]domain.Output, error) {
	var out []domain.Output
	for _, o := range s.outputs {
		if string(o.AddressHash) == string(addressHash) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OriginTxHash != out[j].OriginTxHash {
			return string(out[i].OriginTxHash[:]) < string(out[j].OriginTxHash[:])
		}
		return out[i].Index < out[j].Index
	})
	if offset > len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) SearchAddressPrefix(ctx context.Context, prefix []byte, limit int) ([]domain.Address, error) {
	var out []domain.Address
	for _, a := range s.addrs {
		if hasPrefix(a.Hash, prefix) {
			out = append(out, *a)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) SearchBlockHashPrefix(ctx context.Context, prefix []byte, limit int) ([]domain.Block, error) {
	var out []domain.Block
	for _, b := range s.blocks {
		if hasPrefix(b.Hash[:], prefix) {
			out = append(out, *b)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) SearchTxidPrefix(ctx context.Context, prefix []byte, limit int) ([]domain.Transaction, error) {
	var out []domain.Transaction
	for _, t := range s.txs {
		if hasPrefix(t.Txid[:], prefix) {
			out = append(out, *t)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
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
