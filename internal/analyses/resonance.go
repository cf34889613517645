package analyses

import (
	"math"

	"github.com/qubit-data/calibration.report/internal/curve"
	"github.com/qubit-data/calibration.report/internal/scatter"
)

// lorentzian is amp * kappa^2 / ((x-freq)^2 + kappa^2) + base, the
// resonance line shape with half-width kappa centered at freq.
func lorentzian(x float64, p []float64) float64 {
	amp, kappa, freq, base := p[0], p[1], p[2], p[3]
	d := x - freq
	return amp*kappa*kappa/(d*d+kappa*kappa) + base
}

// NewResonance builds a Lorentzian resonance analysis (the spectroscopy
// peak shape). The peak may point up or down; the amplitude guess carries
// the sign.
func NewResonance(name string, opts curve.Options) (*curve.Analysis, error) {
	series := []curve.SeriesDef{{
		Name:        "resonance",
		Fn:          lorentzian,
		ParamNames:  []string{"amp", "kappa", "freq", "base"},
		Description: "amp * kappa^2 / ((x-freq)^2 + kappa^2) + base",
	}}
	if opts.Quality == nil {
		opts.Quality = resonanceQuality
	}
	if len(opts.ResultParams) == 0 {
		opts.ResultParams = []curve.ParamSpec{
			{Name: "freq", Unit: "Hz"},
			{Name: "kappa", Unit: "Hz"},
			{Name: "amp"},
			{Name: "base"},
		}
	}
	return curve.NewAnalysis(name, series, resonanceGuesser, opts)
}

func resonanceGuesser(base *curve.FitOptions, formatted *scatter.Table, _ *curve.CompositeModel) ([]*curve.FitOptions, error) {
	xs := formatted.Xs(false)
	ys := formatted.Ys(false)

	// Baseline from the spectrum edges, where the line has decayed.
	offset := edgeMean(ys)
	peakX, height := curve.GuessPeak(xs, ys, offset)
	fwhm := curve.GuessFullWidthHalfMax(xs, ys, offset, peakX, height)

	if err := base.SetP0IfEmpty(map[string]float64{
		"amp":   height,
		"kappa": fwhm / 2,
		"freq":  peakX,
		"base":  offset,
	}); err != nil {
		return nil, err
	}

	span := 1.0
	if len(xs) > 1 {
		span = xs[len(xs)-1] - xs[0]
	}
	if err := base.SetBoundsIfEmpty(map[string]curve.Bound{
		"kappa": {Low: span * 1e-6, High: span},
		"freq":  {Low: xs[0], High: xs[len(xs)-1]},
	}); err != nil {
		return nil, err
	}
	return []*curve.FitOptions{base}, nil
}

func resonanceQuality(r *curve.FitResult) string {
	if r == nil || r.ReducedChiSq >= 3.0 {
		return curve.QualityBad
	}
	freq, okF := r.Param("freq")
	kappa, okK := r.Param("kappa")
	if !okF || !okK {
		return curve.QualityBad
	}
	// The line center must be located to better than a linewidth.
	if math.IsNaN(freq.Stderr) || freq.Stderr >= math.Abs(kappa.Value) {
		return curve.QualityBad
	}
	return curve.QualityGood
}

// edgeMean averages the outer eighths of the spectrum.
func edgeMean(ys []float64) float64 {
	n := len(ys)
	if n == 0 {
		return 0
	}
	edge := n / 8
	if edge == 0 {
		edge = 1
	}
	var sum float64
	var count int
	for i := 0; i < edge; i++ {
		sum += ys[i] + ys[n-1-i]
		count += 2
	}
	return sum / float64(count)
}
