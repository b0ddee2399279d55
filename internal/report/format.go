// Package report rounds and formats risk numbers for display.
package report

import (
	"math"

	"github.com/shopspring/decimal"
)

var (
	thousand = decimal.NewFromInt(1_000)
	million  = decimal.NewFromInt(1_000_000)
)

// FormatNumber renders x with two decimals and a k or M suffix for large
// magnitudes: 1234567 -> "1.23M", -4500 -> "-4.50k", 12.345 -> "12.35".
// Non-finite values render as "NaN", "+Inf" or "-Inf".
func FormatNumber(x float64) string {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return nonFinite(x)
	}
	d := decimal.NewFromFloat(x)
	abs := d.Abs()
	switch {
	case abs.GreaterThanOrEqual(million):
		return d.Div(million).StringFixed(2) + "M"
	case abs.GreaterThanOrEqual(thousand):
		return d.Div(thousand).StringFixed(2) + "k"
	default:
		return d.StringFixed(2)
	}
}

// Round rounds x to places decimals, half away from zero.
// Non-finite values are returned unchanged.
func Round(x float64, places int32) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	f, _ := decimal.NewFromFloat(x).Round(places).Float64()
	return f
}

// Fixed renders x with exactly places decimals.
func Fixed(x float64, places int32) string {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return nonFinite(x)
	}
	return decimal.NewFromFloat(x).StringFixed(places)
}

func nonFinite(x float64) string {
	switch {
	case math.IsNaN(x):
		return "NaN"
	case x > 0:
		return "+Inf"
	default:
		return "-Inf"
	}
}
