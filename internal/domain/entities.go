package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OutputType is the script classification of an Output (spec.md §4.2).
type OutputType int16

const (
	OutputP2SH    OutputType = 0
	OutputP2PKH   OutputType = 1
	OutputP2PK    OutputType = 2
	OutputNonStd  OutputType = 3
)

func (t OutputType) String() string {
	switch t {
	case OutputP2SH:
		return "p2sh"
	case OutputP2PKH:
		return "p2pkh"
	case OutputP2PK:
		return "p2pk"
	default:
		return "non-std"
	}
}

// Block is one canonical chain block ever seen (spec.md §3).
type Block struct {
	ID         int64
	Hash       [32]byte
	Height     int64
	NTime      time.Time
	Difficulty float64
	Currency   string
	Algo       string
	Orphan     bool
	TotalIn    decimal.Decimal
	TotalOut   decimal.Decimal
}

// CoinbaseValue is total_out - total_in, per spec.md §3.
func (b *Block) CoinbaseValue() decimal.Decimal {
	return b.TotalOut.Sub(b.TotalIn)
}

// Transaction is one txid ever seen (spec.md §3).
type Transaction struct {
	ID         int64
	Txid       [32]byte
	BlockID    *int64
	Coinbase   bool
	TotalIn    decimal.Decimal
	TotalOut   decimal.Decimal
	NetworkFee *decimal.Decimal
}

// Output is the canonical unit of value, keyed by (OriginTxHash, Index)
// (spec.md §3).
type Output struct {
	OriginTxHash [32]byte
	Index        int32
	Amount       decimal.Decimal
	Type         OutputType
	AddressHash  []byte // nil iff Type == OutputNonStd or unparseable
	SpendTxID    *int64 // nil iff unspent (the UTXO condition)
}

// Address is deduplicated on Hash alone (spec.md §3); Version is recorded
// when the row is created and is not part of the key.
type Address struct {
	ID          int64
	Hash        []byte
	Version     int
	Currency    string
	FirstSeenAt *time.Time
	TotalIn     decimal.Decimal
	TotalOut    decimal.Decimal
}

// Balance is total_in - total_out, per spec.md §3.
func (a *Address) Balance() decimal.Decimal {
	return a.TotalIn.Sub(a.TotalOut)
}
