package reorg_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/CodeKiet/lincoln/internal/domain"
	"github.com/CodeKiet/lincoln/internal/processor"
	"github.com/CodeKiet/lincoln/internal/reorg"
	"github.com/CodeKiet/lincoln/internal/store/memstore"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeHashSource struct {
	height int64
	hashes map[int64]string
}

func (f *fakeHashSource) GetBlockCount(ctx context.Context) (int64, error) { return f.height, nil }
func (f *fakeHashSource) GetBlockHash(ctx context.Context, height int64) (string, error) {
	h, ok := f.hashes[height]
	if !ok {
		return "", fmt.Errorf("no hash at height %d", height)
	}
	return h, nil
}

func blockAt(height int64, hashByte byte) *domain.DecodedBlock {
	var h [32]byte
	h[0] = hashByte
	var txid [32]byte
	txid[0] = hashByte
	txid[1] = 1
	return &domain.DecodedBlock{
		Hash:   h,
		Height: height,
		NTime:  time.Now(),
		Txs: []domain.DecodedTx{
			{Txid: txid, IsCoinbase: true, Vout: []domain.DecodedVout{{ValueSat: 100, ScriptPubKey: []byte{0x6a}}}},
		},
	}
}

func ingest(t *testing.T, s *memstore.Store, b *domain.DecodedBlock) {
	ctx := context.Background()
	tx, err := s.BeginBlock(ctx)
	require.NoError(t, err)
	require.NoError(t, processor.Process(ctx, tx, b, processor.Config{Currency: "BTC", Algo: "SHA256"}, nil))
	require.NoError(t, tx.Commit(ctx))
}

// TestReconcileNoFork checks that a matching local tip and server hash
// at the same height requires no removal (spec.md §4.7 step 3).
func TestReconcileNoFork(t *testing.T) {
	s := memstore.New()
	ingest(t, s, blockAt(0, 0xAA))

	rpc := &fakeHashSource{height: 0, hashes: map[int64]string{0: fmt.Sprintf("%x", blockAt(0, 0xAA).Hash)}}
	ctrl := reorg.New(s, rpc, 150, zap.NewNop())

	height, err := ctrl.Reconcile(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(0), height)
}

// TestReconcileDetectsFork checks that a mismatched tip hash at the same
// height triggers removal of the divergent local block (spec.md §4.7
// step 4).
func TestReconcileDetectsFork(t *testing.T) {
	s := memstore.New()
	ingest(t, s, blockAt(0, 0xAA))
	ingest(t, s, blockAt(1, 0xBB))

	// The daemon's chain at height 1 now has a different hash than ours.
	rpc := &fakeHashSource{
		height: 1,
		hashes: map[int64]string{
			1: fmt.Sprintf("%x", blockAt(1, 0xCC).Hash),
			0: fmt.Sprintf("%x", blockAt(0, 0xAA).Hash),
		},
	}
	ctrl := reorg.New(s, rpc, 150, zap.NewNop())

	height, err := ctrl.Reconcile(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(0), height)

	_, err = s.BlockByHeight(context.Background(), 1)
	require.Error(t, err)
}

// TestReconcileSkipsFarBehind checks the 150-block lookback horizon of
// spec.md §4.7 step 2.
func TestReconcileSkipsFarBehind(t *testing.T) {
	s := memstore.New()
	ingest(t, s, blockAt(0, 0xAA))

	rpc := &fakeHashSource{height: 200}
	ctrl := reorg.New(s, rpc, 150, zap.NewNop())

	height, err := ctrl.Reconcile(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(0), height)
}

// TestReconcileEmptyStore checks step 1: an empty local store skips
// reconciliation entirely.
func TestReconcileEmptyStore(t *testing.T) {
	s := memstore.New()
	rpc := &fakeHashSource{height: 10}
	ctrl := reorg.New(s, rpc, 150, zap.NewNop())

	height, err := ctrl.Reconcile(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(-1), height)
}
