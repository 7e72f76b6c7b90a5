// Package amount derives randomized expected amounts for payment requests.
//
// Two concurrently active requests frequently share a nominal price, so the
// gateway appends a few random fractional digits to each request. The chain
// observer can then attribute an incoming transfer to a single request by
// matching the exact amount, without a memo field on the transfer itself.
package amount

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/shopspring/decimal"
)

const (
	minSuffixDigits = 4
	maxSuffixDigits = 6

	// The random digits sit behind two fixed zeros, keeping the suffix
	// strictly below 0.01 so the displayed price stays recognizable.
	suffixLeadZeros = 2
)

// ErrPrecisionTooLow is returned when the receiving token resolves fewer
// fractional digits than the two fixed zeros plus one random digit need.
// A suffix the token cannot represent would be truncated on-chain and
// recreate the collisions the randomization exists to avoid.
var ErrPrecisionTooLow = errors.New("token precision cannot carry an amount suffix")

// Disambiguator draws disambiguation suffixes. The draw is independent per
// request; uniqueness across the concurrently active set is probabilistic,
// not enforced.
type Disambiguator struct {
	int64n func(int64) int64
}

// New returns a Disambiguator backed by the shared PRNG.
func New() *Disambiguator {
	return &Disambiguator{int64n: rand.Int64N}
}

// NewWithRand returns a Disambiguator drawing from r.
func NewWithRand(r *rand.Rand) *Disambiguator {
	return &Disambiguator{int64n: r.Int64N}
}

// Expected composes the amount the payer must transfer: the nominal price
// plus a freshly drawn suffix. The result is strictly greater than nominal
// and scales exactly at the token's declared precision.
func (d *Disambiguator) Expected(nominal decimal.Decimal, precision int32) (decimal.Decimal, error) {
	suffix, err := d.Suffix(precision)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return nominal.Add(suffix), nil
}

// Suffix draws random fractional digits, zero-padded, appended after two
// fixed zeros, so the value is strictly inside (0, 0.01). The digit count is
// 4 to 6, capped so the whole suffix fits within the token's precision; a
// token resolving fewer than 3 fractional digits has no room for any suffix
// and fails with ErrPrecisionTooLow. A zero draw is re-rolled: it would
// collapse the expected amount back into the nominal price and defeat
// attribution.
func (d *Disambiguator) Suffix(precision int32) (decimal.Decimal, error) {
	avail := int64(precision) - suffixLeadZeros
	if avail < 1 {
		return decimal.Decimal{}, fmt.Errorf("%w: %d decimals", ErrPrecisionTooLow, precision)
	}
	hi := int64(maxSuffixDigits)
	if avail < hi {
		hi = avail
	}
	lo := int64(minSuffixDigits)
	if hi < lo {
		lo = hi
	}
	digits := lo + d.int64n(hi-lo+1)
	bound := int64(1)
	for i := int64(0); i < digits; i++ {
		bound *= 10
	}
	n := d.int64n(bound)
	for n == 0 {
		n = d.int64n(bound)
	}
	return decimal.New(n, -int32(digits+suffixLeadZeros)), nil
}
