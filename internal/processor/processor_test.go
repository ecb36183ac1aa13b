package processor_test

import (
	"context"
	"testing"
	"time"

	"github.com/CodeKiet/lincoln/internal/domain"
	"github.com/CodeKiet/lincoln/internal/processor"
	"github.com/CodeKiet/lincoln/internal/store"
	"github.com/CodeKiet/lincoln/internal/store/memstore"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var cfg = processor.Config{Currency: "BTC", Algo: "SHA256", P2PKHVersion: 0, P2SHVersion: 5, P2PKVersion: 0}

func p2pkhScript(hash []byte) []byte {
	s := []byte{0x76, 0xa9, byte(len(hash))}
	s = append(s, hash...)
	s = append(s, 0x88, 0xac)
	return s
}

func hash20(b byte) []byte {
	h := make([]byte, 20)
	for i := range h {
		h[i] = b
	}
	return h
}

func txid(b byte) [32]byte {
	var h [32]byte
	for i := range h {
		h[i] = b
	}
	return h
}

// Scenario 1 (spec.md §8): empty-chain bootstrap — a single coinbase
// transaction with one output, no inputs.
func TestProcessCoinbaseBootstrap(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	block := &domain.DecodedBlock{
		Hash:   txid(1),
		Height: 0,
		NTime:  time.Now(),
		Txs: []domain.DecodedTx{
			{
				Txid:       txid(2),
				IsCoinbase: true,
				Vout: []domain.DecodedVout{
					{ValueSat: 5_000_000_000, ScriptPubKey: p2pkhScript(hash20(0xAA))},
				},
			},
		},
	}

	tx, err := s.BeginBlock(ctx)
	require.NoError(t, err)
	require.NoError(t, processor.Process(ctx, tx, block, cfg, nil))
	require.NoError(t, tx.Commit(ctx))

	b, err := s.BlockByHeight(ctx, 0)
	require.NoError(t, err)
	require.True(t, b.TotalIn.IsZero())
	require.True(t, b.TotalOut.Equal(decimal.New(50, 0)))

	coinbaseTx, err := s.TxByTxid(ctx, txid(2))
	require.NoError(t, err)
	require.True(t, coinbaseTx.Coinbase)
	require.True(t, coinbaseTx.TotalIn.IsZero())
	require.True(t, coinbaseTx.TotalOut.Equal(decimal.New(50, 0)))
	require.Nil(t, coinbaseTx.NetworkFee)

	addr, err := s.AddressByHash(ctx, hash20(0xAA))
	require.NoError(t, err)
	require.True(t, addr.TotalIn.Equal(decimal.New(50, 0)))
	require.True(t, addr.Balance().Equal(decimal.New(50, 0)))
}

// Scenario 2 (spec.md §8): a simple spend across two blocks, spanning
// sender and receiver addresses and the network_fee computation.
func TestProcessSimpleSpend(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	senderHash := hash20(0x01)
	receiverHash := hash20(0x02)

	block0 := &domain.DecodedBlock{
		Hash:   txid(0x10),
		Height: 0,
		NTime:  time.Now(),
		Txs: []domain.DecodedTx{
			{
				Txid:       txid(0x20),
				IsCoinbase: true,
				Vout:       []domain.DecodedVout{{ValueSat: 5_000_000_000, ScriptPubKey: p2pkhScript(senderHash)}},
			},
		},
	}
	tx0, err := s.BeginBlock(ctx)
	require.NoError(t, err)
	require.NoError(t, processor.Process(ctx, tx0, block0, cfg, nil))
	require.NoError(t, tx0.Commit(ctx))

	block1 := &domain.DecodedBlock{
		Hash:   txid(0x11),
		Height: 1,
		NTime:  time.Now(),
		Txs: []domain.DecodedTx{
			{
				Txid: txid(0x21),
				Vin:  []domain.DecodedVin{{PrevTxid: txid(0x20), PrevIdx: 0}},
				Vout: []domain.DecodedVout{{ValueSat: 4_999_000_000, ScriptPubKey: p2pkhScript(receiverHash)}},
			},
		},
	}
	tx1, err := s.BeginBlock(ctx)
	require.NoError(t, err)
	require.NoError(t, processor.Process(ctx, tx1, block1, cfg, nil))
	require.NoError(t, tx1.Commit(ctx))

	spendTx, err := s.TxByTxid(ctx, txid(0x21))
	require.NoError(t, err)
	require.True(t, spendTx.TotalIn.Equal(decimal.New(50, 0)))
	require.True(t, spendTx.TotalOut.Equal(decimal.NewFromFloat(49.99)))
	require.NotNil(t, spendTx.NetworkFee)
	require.True(t, spendTx.NetworkFee.Equal(decimal.NewFromFloat(0.01)))

	sender, err := s.AddressByHash(ctx, senderHash)
	require.NoError(t, err)
	require.True(t, sender.TotalOut.Equal(decimal.New(50, 0)))

	receiver, err := s.AddressByHash(ctx, receiverHash)
	require.NoError(t, err)
	require.True(t, receiver.TotalIn.Equal(decimal.NewFromFloat(49.99)))
}

// Scenario 3 (spec.md §8): a transaction spends an output created
// earlier in the same block — must resolve without a separate commit.
func TestProcessInBlockSpend(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	addrX := hash20(0x0A)
	addrY := hash20(0x0B)

	block := &domain.DecodedBlock{
		Hash:   txid(0x30),
		Height: 2,
		NTime:  time.Now(),
		Txs: []domain.DecodedTx{
			{
				Txid: txid(0x40),
				Vout: []domain.DecodedVout{{ValueSat: 1_000_000_000, ScriptPubKey: p2pkhScript(addrX)}},
			},
			{
				Txid: txid(0x41),
				Vin:  []domain.DecodedVin{{PrevTxid: txid(0x40), PrevIdx: 0}},
				Vout: []domain.DecodedVout{{ValueSat: 1_000_000_000, ScriptPubKey: p2pkhScript(addrY)}},
			},
		},
	}

	tx, err := s.BeginBlock(ctx)
	require.NoError(t, err)
	require.NoError(t, processor.Process(ctx, tx, block, cfg, nil))
	require.NoError(t, tx.Commit(ctx))

	x, err := s.AddressByHash(ctx, addrX)
	require.NoError(t, err)
	require.True(t, x.TotalIn.Equal(decimal.New(10, 0)))
	require.True(t, x.TotalOut.Equal(decimal.New(10, 0)))
	require.True(t, x.Balance().IsZero())

	y, err := s.AddressByHash(ctx, addrY)
	require.NoError(t, err)
	require.True(t, y.TotalIn.Equal(decimal.New(10, 0)))
}

// Scenario 5 (spec.md §8): a block whose only output has a non-standard
// script is still ingested, and the transaction's total_out is that
// output's (zero) amount. The output's type and address binding are not
// inspected here.
func TestProcessNonStandardOutput(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	block := &domain.DecodedBlock{
		Hash:   txid(0x50),
		Height: 3,
		NTime:  time.Now(),
		Txs: []domain.DecodedTx{
			{
				Txid:       txid(0x51),
				IsCoinbase: true,
				Vout: []domain.DecodedVout{
					{ValueSat: 0, ScriptPubKey: []byte{0x6a, 0x04, 'd', 'a', 't', 'a'}},
				},
			},
		},
	}

	tx, err := s.BeginBlock(ctx)
	require.NoError(t, err)
	require.NoError(t, processor.Process(ctx, tx, block, cfg, nil))
	require.NoError(t, tx.Commit(ctx))

	txRow, err := s.TxByTxid(ctx, txid(0x51))
	require.NoError(t, err)
	require.True(t, txRow.TotalOut.IsZero())
}

// TestProcessMissingInputFails checks the MissingOutput failure path of
// spec.md §4.4/§7: an input referencing an output nothing ever created,
// with no reindex callback available, must fail the block cleanly.
func TestProcessMissingInputFails(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	block := &domain.DecodedBlock{
		Hash:   txid(0x60),
		Height: 4,
		NTime:  time.Now(),
		Txs: []domain.DecodedTx{
			{
				Txid: txid(0x61),
				Vin:  []domain.DecodedVin{{PrevTxid: txid(0xFF), PrevIdx: 0}},
				Vout: []domain.DecodedVout{{ValueSat: 100, ScriptPubKey: p2pkhScript(hash20(0x03))}},
			},
		},
	}

	tx, err := s.BeginBlock(ctx)
	require.NoError(t, err)
	err = processor.Process(ctx, tx, block, cfg, nil)
	require.Error(t, err)

	var missing *store.MissingOutput
	require.ErrorAs(t, err, &missing)
}
