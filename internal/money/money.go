// Package money converts between integer satoshis, as returned by the
// coin daemon, and the exact 8-fractional-digit decimal amounts the
// store persists (spec.md §9: "never floating-point").
package money

import "github.com/shopspring/decimal"

const satoshiScale = 8

// FromSatoshis converts an integer satoshi amount into an exact decimal
// with 8 fractional digits: value / 10^8.
func FromSatoshis(sat int64) decimal.Decimal {
	return decimal.New(sat, -satoshiScale)
}
