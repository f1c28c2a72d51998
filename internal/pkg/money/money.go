package money

import (
	"fmt"

	"github.com/shopspring/decimal"

	"bonus-service/internal/pkg/xerrors"
)

// All monetary values carry two fractional digits. Intermediate products keep
// full precision and are quantized at the edges with RoundDown.

const places = 2

// MaxAmount is the ceiling for any single monetary value handled by the
// engine. Results above it fail with xerrors.ErrOverflow.
var MaxAmount = decimal.NewFromInt(10_000_000)

var Zero = decimal.Zero

// Quantize truncates d to two fractional digits, rounding toward zero.
func Quantize(d decimal.Decimal) decimal.Decimal {
	return d.RoundDown(places)
}

// ApplyRate computes amount × rate at full precision and quantizes the
// result. Errors with ErrOverflow when the result exceeds MaxAmount.
func ApplyRate(amount, rate decimal.Decimal) (decimal.Decimal, error) {
	out := Quantize(amount.Mul(rate))
	if out.GreaterThan(MaxAmount) {
		return decimal.Zero, fmt.Errorf("%w: %s exceeds %s", xerrors.ErrOverflow, out, MaxAmount)
	}
	return out, nil
}

// CheckRange verifies min ≤ d ≤ MaxAmount.
func CheckRange(d, min decimal.Decimal) error {
	if d.LessThan(min) {
		return fmt.Errorf("%w: amount %s below minimum %s", xerrors.ErrValidation, d, min)
	}
	if d.GreaterThan(MaxAmount) {
		return fmt.Errorf("%w: amount %s exceeds %s", xerrors.ErrOverflow, d, MaxAmount)
	}
	return nil
}

// Parse reads a decimal string and quantizes it.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: bad amount %q", xerrors.ErrValidation, s)
	}
	return Quantize(d), nil
}
