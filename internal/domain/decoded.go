// Package domain holds the record types shared across the indexer: the
// typed representation of a block decoded from the coin daemon, and the
// four persisted entities described in spec.md §3.
package domain

import "time"

// DecodedBlock is the typed record a rpcclient decode produces from the
// daemon's getblock response. All downstream code (processor, reorg,
// pipeline) sees only this shape — never the RPC wire format.
type DecodedBlock struct {
	Hash       [32]byte
	Height     int64
	NTime      time.Time
	Difficulty float64
	Txs        []DecodedTx
}

// DecodedTx is one transaction inside a DecodedBlock, in block order.
type DecodedTx struct {
	Txid       [32]byte
	IsCoinbase bool
	Vin        []DecodedVin
	Vout       []DecodedVout
}

// DecodedVin is one transaction input, in vector order.
type DecodedVin struct {
	PrevTxid [32]byte
	PrevIdx  uint32
}

// DecodedVout is one transaction output, in vector order.
type DecodedVout struct {
	// ValueSat is the output value in integer satoshis, as returned by
	// the RPC. Conversion to an 8-fractional-digit decimal happens in
	// the processor, never as a float (spec.md §9).
	ValueSat int64
	// ScriptPubKey is the raw output script bytes, undecoded. The
	// script classifier (internal/script) parses these independently
	// of the RPC decode step.
	ScriptPubKey []byte
}
