package curve

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Algorithmic initial-guess helpers shared by the concrete analyses. All of
// them assume xs is sorted ascending, which the formatting pipeline
// guarantees.

// GuessConstantOffset estimates a baseline as the mean of the last quarter
// of the data, where decaying signals have settled.
func GuessConstantOffset(ys []float64) float64 {
	if len(ys) == 0 {
		return 0
	}
	tail := ys[len(ys)-(len(ys)+3)/4:]
	return stat.Mean(tail, nil)
}

// GuessAmplitude estimates the signal height above the baseline from the
// first data points.
func GuessAmplitude(ys []float64, base float64) float64 {
	if len(ys) == 0 {
		return 0
	}
	head := ys[:(len(ys)+3)/4]
	return stat.Mean(head, nil) - base
}

// GuessDecayTime estimates the 1/e time of a decaying signal: the first x
// where the signal has dropped to amp/e above the baseline. Falls back to a
// third of the x span when the signal never crosses that level.
func GuessDecayTime(xs, ys []float64, amp, base float64) float64 {
	if len(xs) == 0 {
		return 1
	}
	target := base + amp/math.E
	for i, y := range ys {
		if (amp > 0 && y <= target) || (amp < 0 && y >= target) {
			if xs[i] > 0 {
				return xs[i]
			}
			break
		}
	}
	span := xs[len(xs)-1] - xs[0]
	if span <= 0 {
		return 1
	}
	return span / 3
}

// GuessFrequency estimates the dominant oscillation frequency with a coarse
// periodogram over a frequency grid up to the Nyquist limit of the average
// sample spacing.
func GuessFrequency(xs, ys []float64) float64 {
	n := len(xs)
	if n < 4 {
		return 0
	}
	span := xs[n-1] - xs[0]
	if span <= 0 {
		return 0
	}
	mean := stat.Mean(ys, nil)

	// Frequency grid: one cycle over the span up to half the sampling rate,
	// with 4x oversampling for peak localization.
	fMin := 1 / span
	fMax := float64(n) / (2 * span)
	steps := 4 * n

	bestF, bestPower := fMin, 0.0
	for k := 0; k <= steps; k++ {
		f := fMin + (fMax-fMin)*float64(k)/float64(steps)
		var c, s float64
		for i, x := range xs {
			phase := 2 * math.Pi * f * x
			c += (ys[i] - mean) * math.Cos(phase)
			s += (ys[i] - mean) * math.Sin(phase)
		}
		power := c*c + s*s
		if power > bestPower {
			bestPower = power
			bestF = f
		}
	}
	return bestF
}

// GuessPeak locates the extremum furthest from the baseline, returning its
// position and height relative to the baseline.
func GuessPeak(xs, ys []float64, base float64) (x0, height float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	bestIdx, bestAbs := 0, 0.0
	for i, y := range ys {
		if d := math.Abs(y - base); d > bestAbs {
			bestAbs = d
			bestIdx = i
		}
	}
	return xs[bestIdx], ys[bestIdx] - base
}

// GuessFullWidthHalfMax estimates a peak's full width at half maximum by
// scanning outward from the peak position. Falls back to a tenth of the x
// span for unresolved peaks.
func GuessFullWidthHalfMax(xs, ys []float64, base, peakX, height float64) float64 {
	if len(xs) < 2 {
		return 1
	}
	half := base + height/2
	above := func(y float64) bool {
		if height >= 0 {
			return y >= half
		}
		return y <= half
	}

	lo, hi := peakX, peakX
	for i, x := range xs {
		if above(ys[i]) {
			if x < lo {
				lo = x
			}
			if x > hi {
				hi = x
			}
		}
	}
	if hi > lo {
		return hi - lo
	}
	return (xs[len(xs)-1] - xs[0]) / 10
}
