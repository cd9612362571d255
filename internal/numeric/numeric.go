// Package numeric holds the small numeric helpers shared by the ledger,
// the simulators and the band calculator.
//
// Transcendental math runs on float64 and is converted back to decimal
// immediately, rounded to a fixed scale.
package numeric

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

// ErrNonPositive is returned when a log or ratio would be taken of a
// non-positive value.
var ErrNonPositive = errors.New("numeric: value must be positive")

const (
	// PercentScale is the number of decimal places kept for percentages.
	PercentScale int32 = 2

	// PriceScale is the number of decimal places kept for prices.
	PriceScale int32 = 8
)

// Sign returns -1, 0 or 1 as a decimal.
func Sign(x decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(int64(x.Sign()))
}

// MinAbs returns min(|a|, |b|).
func MinAbs(a, b decimal.Decimal) decimal.Decimal {
	return decimal.Min(a.Abs(), b.Abs())
}

// LogReturn returns ln(cur/prev). Both prices must be positive.
func LogReturn(prev, cur float64) (float64, error) {
	if prev <= 0 || cur <= 0 || math.IsNaN(prev) || math.IsNaN(cur) {
		return 0, ErrNonPositive
	}
	return math.Log(cur / prev), nil
}

// SimpleReturn returns cur/prev - 1. prev must be positive.
func SimpleReturn(prev, cur float64) (float64, error) {
	if prev <= 0 || cur <= 0 {
		return 0, ErrNonPositive
	}
	return cur/prev - 1, nil
}

// GrowthPercent converts a cumulative log return into a percentage
// return: (exp(c) - 1) * 100, rounded to PercentScale.
func GrowthPercent(c float64) decimal.Decimal {
	return FromFloat(math.Expm1(c)*100, PercentScale)
}

// LogPercent converts a cumulative growth factor into ln(g) * 100.
func LogPercent(g float64) (decimal.Decimal, error) {
	if g <= 0 {
		return decimal.Zero, ErrNonPositive
	}
	return FromFloat(math.Log(g)*100, PercentScale), nil
}

// FromFloat converts a finite float to a decimal rounded to scale.
// NaN and infinities map to zero; callers validate inputs first so these
// never surface as real values.
func FromFloat(f float64, scale int32) decimal.Decimal {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(f).Round(scale)
}
