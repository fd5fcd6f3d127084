// Package ledger holds the pure conversion helpers between human-readable
// decimal amounts and smallest-unit integers. Conversions only ever shift
// by 10^decimals; a human-readable figure is re-derived from the integer
// every time it is needed, never carried forward, so rounding cannot
// accumulate.
package ledger

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ToSmallest parses a human-readable decimal amount into smallest units.
// The amount must be non-negative and must not carry more fractional digits
// than the token has decimals.
func ToSmallest(amount string, decimals int) (uint64, error) {
	if amount == "" {
		return 0, fmt.Errorf("amount cannot be empty")
	}

	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return 0, fmt.Errorf("invalid amount format: %w", err)
	}

	if dec.IsNegative() {
		return 0, fmt.Errorf("amount cannot be negative")
	}

	shifted := dec.Shift(int32(decimals))
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("amount has more than %d decimal places", decimals)
	}

	bi := shifted.BigInt()
	if !bi.IsUint64() {
		return 0, fmt.Errorf("amount out of range: %s", amount)
	}

	return bi.Uint64(), nil
}

// FromSmallest renders a smallest-unit amount as a decimal string.
// ToSmallest(FromSmallest(a, d), d) == a for every a and d.
func FromSmallest(units uint64, decimals int) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(units), -int32(decimals)).String()
}

// QuoteSmallest computes how many smallest units a USD figure buys at the
// given per-token USD price, rounding up so the charge never undershoots
// the quoted value.
func QuoteSmallest(usd, price float64, decimals int) (uint64, error) {
	if usd <= 0 {
		return 0, fmt.Errorf("usd amount must be greater than 0")
	}

	if price <= 0 {
		return 0, fmt.Errorf("token price must be greater than 0")
	}

	units := decimal.NewFromFloat(usd).
		Div(decimal.NewFromFloat(price)).
		Shift(int32(decimals)).
		Ceil()

	bi := units.BigInt()
	if !bi.IsUint64() {
		return 0, fmt.Errorf("quoted amount out of range")
	}

	return bi.Uint64(), nil
}

// USDValue reports the approximate USD value of a smallest-unit amount at
// the given price. For display only; amount math stays in smallest units.
func USDValue(units uint64, decimals int, price float64) float64 {
	v, _ := decimal.NewFromBigInt(new(big.Int).SetUint64(units), -int32(decimals)).
		Mul(decimal.NewFromFloat(price)).
		Float64()
	return v
}
