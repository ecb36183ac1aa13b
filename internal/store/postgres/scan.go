package postgres

import (
	"fmt"
	"time"

	"github.com/CodeKiet/lincoln/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// row is the subset of pgx.Row / pgx.Rows that Scan needs, letting the
// same scan function serve both QueryRow and Query call sites.
type row interface {
	Scan(dest ...interface{}) error
}

func scanBlock(r row) (*domain.Block, error) {
	var b domain.Block
	var hash []byte
	var totalIn, totalOut string
	err := r.Scan(&b.ID, &hash, &b.Height, &b.NTime, &b.Difficulty, &b.Currency, &b.Algo, &b.Orphan, &totalIn, &totalOut)
	if err != nil {
		return nil, wrapNotFound(fmt.Errorf("postgres: scan block: %w", err))
	}
	copy(b.Hash[:], hash)
	b.TotalIn, _ = decimal.NewFromString(totalIn)
	b.TotalOut, _ = decimal.NewFromString(totalOut)
	return &b, nil
}

func scanBlockRows(r pgx.Rows) (*domain.Block, error) {
	return scanBlock(r)
}

func scanTx(r row) (*domain.Transaction, error) {
	var t domain.Transaction
	var txid []byte
	var totalIn, totalOut string
	var fee *string
	err := r.Scan(&t.ID, &txid, &t.BlockID, &t.Coinbase, &totalIn, &totalOut, &fee)
	if err != nil {
		return nil, wrapNotFound(fmt.Errorf("postgres: scan transaction: %w", err))
	}
	copy(t.Txid[:], txid)
	t.TotalIn, _ = decimal.NewFromString(totalIn)
	t.TotalOut, _ = decimal.NewFromString(totalOut)
	if fee != nil {
		d, _ := decimal.NewFromString(*fee)
		t.NetworkFee = &d
	}
	return &t, nil
}

func scanTxRows(r pgx.Rows) (*domain.Transaction, error) {
	return scanTx(r)
}

func scanAddress(r row) (*domain.Address, error) {
	var a domain.Address
	var totalIn, totalOut string
	var firstSeen *time.Time
	err := r.Scan(&a.ID, &a.Hash, &a.Version, &a.Currency, &firstSeen, &totalIn, &totalOut)
	if err != nil {
		return nil, wrapNotFound(fmt.Errorf("postgres: scan address: %w", err))
	}
	a.FirstSeenAt = firstSeen
	a.TotalIn, _ = decimal.NewFromString(totalIn)
	a.TotalOut, _ = decimal.NewFromString(totalOut)
	return &a, nil
}

func scanAddressRows(r pgx.Rows) (*domain.Address, error) {
	return scanAddress(r)
}

func scanOutputRows(r pgx.Rows) (*domain.Output, error) {
	var o domain.Output
	var originTxHash []byte
	var amount string
	err := r.Scan(&originTxHash, &o.Index, &amount, &o.Type, &o.AddressHash, &o.SpendTxID)
	if err != nil {
		return nil, wrapNotFound(fmt.Errorf("postgres: scan output: %w", err))
	}
	copy(o.OriginTxHash[:], originTxHash)
	o.Amount, _ = decimal.NewFromString(amount)
	return &o, nil
}
