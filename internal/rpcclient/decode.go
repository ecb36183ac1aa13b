package rpcclient

import (
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/CodeKiet/lincoln/internal/domain"
)

// decodeBlock converts one getblock(verbosity=2) response into the typed
// domain.DecodedBlock spec.md §4.1 describes, doing the one-time BTC-float
// to integer-satoshi conversion at this boundary so nothing downstream of
// the RPC client ever touches a float again.
func decodeBlock(wb *wireBlock) (*domain.DecodedBlock, error) {
	hash, err := decodeHash(wb.Hash)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: block hash: %w", err)
	}

	db := &domain.DecodedBlock{
		Hash:       hash,
		Height:     wb.Height,
		NTime:      time.Unix(wb.Time, 0).UTC(),
		Difficulty: wb.Difficulty,
		Txs:        make([]domain.DecodedTx, 0, len(wb.Tx)),
	}

	for _, wt := range wb.Tx {
		tx, err := decodeTx(&wt)
		if err != nil {
			return nil, fmt.Errorf("rpcclient: tx %s: %w", wt.Txid, err)
		}
		db.Txs = append(db.Txs, *tx)
	}
	return db, nil
}

func decodeTx(wt *wireTx) (*domain.DecodedTx, error) {
	txid, err := decodeHash(wt.Txid)
	if err != nil {
		return nil, fmt.Errorf("txid: %w", err)
	}

	dt := &domain.DecodedTx{
		Txid:       txid,
		IsCoinbase: len(wt.Vin) == 1 && wt.Vin[0].Coinbase != "",
		Vin:        make([]domain.DecodedVin, 0, len(wt.Vin)),
		Vout:       make([]domain.DecodedVout, 0, len(wt.Vout)),
	}

	for _, wv := range wt.Vin {
		if wv.Coinbase != "" {
			continue
		}
		prevTxid, err := decodeHash(wv.Txid)
		if err != nil {
			return nil, fmt.Errorf("vin prev txid: %w", err)
		}
		dt.Vin = append(dt.Vin, domain.DecodedVin{PrevTxid: prevTxid, PrevIdx: wv.Vout})
	}

	for _, wv := range wt.Vout {
		script, err := hex.DecodeString(wv.ScriptPubKey.Hex)
		if err != nil {
			return nil, fmt.Errorf("vout %d scriptPubKey: %w", wv.N, err)
		}
		dt.Vout = append(dt.Vout, domain.DecodedVout{
			ValueSat:     btcToSatoshis(wv.Value),
			ScriptPubKey: script,
		})
	}

	return dt, nil
}

// decodeHash parses a big-endian hex txid/block-hash string, as returned
// by the RPC, into the raw 32-byte array the store keys rows on.
func decodeHash(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("want 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

// btcToSatoshis rounds a BTC-denominated JSON-RPC float to the nearest
// satoshi. This is the single point in the system where floating point
// ever appears: everything past this boundary is an exact integer or an
// exact decimal.Decimal.
func btcToSatoshis(btc float64) int64 {
	return int64(math.Round(btc * 1e8))
}
