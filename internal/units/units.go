// Package units formats fitted parameter values with physical units for
// result records and reports.
package units

import (
	"fmt"
	"math"
)

// siPrefixes spans the range seen in calibration data, from attoseconds to
// gigahertz.
var siPrefixes = []struct {
	exp    int
	symbol string
}{
	{9, "G"},
	{6, "M"},
	{3, "k"},
	{0, ""},
	{-3, "m"},
	{-6, "u"},
	{-9, "n"},
	{-12, "p"},
	{-15, "f"},
	{-18, "a"},
}

// SI renders a value with an SI-prefixed unit, e.g. SI(2.4e-6, "s") gives
// "2.4 us". Unitless values fall back to plain %g formatting.
func SI(value float64, unit string) string {
	if unit == "" {
		return fmt.Sprintf("%g", value)
	}
	if value == 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Sprintf("%g %s", value, unit)
	}
	mag := math.Abs(value)
	for _, p := range siPrefixes {
		scale := math.Pow(10, float64(p.exp))
		if mag >= scale {
			return fmt.Sprintf("%.4g %s%s", value/scale, p.symbol, unit)
		}
	}
	return fmt.Sprintf("%g %s", value, unit)
}

// WithError renders "value +/- stderr unit" with both numbers on the same
// SI scale, e.g. "30.1 +/- 0.4 us".
func WithError(value, stderr float64, unit string) string {
	if unit == "" {
		return fmt.Sprintf("%g +/- %g", value, stderr)
	}
	mag := math.Abs(value)
	if mag == 0 || math.IsNaN(mag) || math.IsInf(mag, 0) {
		return fmt.Sprintf("%g +/- %g %s", value, stderr, unit)
	}
	for _, p := range siPrefixes {
		scale := math.Pow(10, float64(p.exp))
		if mag >= scale {
			return fmt.Sprintf("%.4g +/- %.2g %s%s", value/scale, stderr/scale, p.symbol, unit)
		}
	}
	return fmt.Sprintf("%g +/- %g %s", value, stderr, unit)
}
