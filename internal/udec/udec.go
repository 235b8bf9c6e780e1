// Package udec implements the non-negative fixed-point decimal used for APY
// rates and percentage fees. A value is Significand / 10^Exponent.
//
// All arithmetic truncates (floor). The ledger never rounds up: rounding up
// would manufacture tokens out of nothing.
package udec

import (
	"fmt"
	"math/big"
	"math/bits"
)

// UDecimal is a non-negative rational Significand / 10^Exponent.
//
// Comparison is field-wise: UDecimal{1, 2} and UDecimal{10, 3} denote the
// same rational but are NOT equal under ==. Callers must construct values
// with a consistent exponent; the type does not normalize.
type UDecimal struct {
	Significand uint64 `json:"significand"`
	Exponent    uint32 `json:"exponent"`
}

// Zero reports whether the value denotes zero.
func (d UDecimal) Zero() bool { return d.Significand == 0 }

// Pow10 returns 10^exp. exp must be at most 19 or the result would not fit a
// uint64.
func Pow10(exp uint32) uint64 {
	if exp > 19 {
		panic(fmt.Sprintf("udec: 10^%d overflows uint64", exp))
	}
	out := uint64(1)
	for i := uint32(0); i < exp; i++ {
		out *= 10
	}
	return out
}

// MulTrunc returns floor(amount * d), the token amount produced by applying
// the rate to amount. The 128-bit intermediate product never overflows.
func (d UDecimal) MulTrunc(amount uint64) uint64 {
	q, _ := d.MulTruncRem(amount)
	return q
}

// MulTruncRem returns floor(amount * d) together with the remainder of the
// truncating division, in units of 1/10^Exponent tokens.
func (d UDecimal) MulTruncRem(amount uint64) (quo, rem uint64) {
	den := Pow10(d.Exponent)
	hi, lo := bits.Mul64(amount, d.Significand)
	if hi >= den {
		// Quotient does not fit a uint64; the ledger cannot represent it.
		panic(fmt.Sprintf("udec: %d * %d/10^%d overflows uint64", amount, d.Significand, d.Exponent))
	}
	return bits.Div64(hi, lo, den)
}

// MulBig returns amount * Significand as a big integer. Callers divide by
// their own denominator afterwards, delaying division until last.
func (d UDecimal) MulBig(amount uint64) *big.Int {
	out := new(big.Int).SetUint64(amount)
	return out.Mul(out, new(big.Int).SetUint64(d.Significand))
}

// DisplayRatio converts the value to a float64.
//
// The result is precision-lossy and exists only for human-readable views
// (logs, API echoes). It must never feed back into ledger state.
func (d UDecimal) DisplayRatio() float64 {
	return float64(d.Significand) / float64(Pow10(d.Exponent))
}

func (d UDecimal) String() string {
	den := Pow10(d.Exponent)
	if d.Exponent == 0 {
		return fmt.Sprintf("%d", d.Significand)
	}
	return fmt.Sprintf("%d.%0*d", d.Significand/den, d.Exponent, d.Significand%den)
}

// Percent builds the rate n percent with two decimal digits of significand
// headroom, i.e. Percent(12) == UDecimal{1200, 4} == 0.12.
func Percent(n uint64) UDecimal {
	return UDecimal{Significand: n * 100, Exponent: 4}
}
