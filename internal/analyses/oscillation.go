package analyses

import (
	"math"

	"github.com/qubit-data/calibration.report/internal/curve"
	"github.com/qubit-data/calibration.report/internal/scatter"
)

// cosine is amp * cos(2*pi*freq*x + phase) + base.
func cosine(x float64, p []float64) float64 {
	amp, freq, phase, base := p[0], p[1], p[2], p[3]
	return amp*math.Cos(2*math.Pi*freq*x+phase) + base
}

// sine is amp * sin(2*pi*freq*x + phase) + base.
func sine(x float64, p []float64) float64 {
	amp, freq, phase, base := p[0], p[1], p[2], p[3]
	return amp*math.Sin(2*math.Pi*freq*x+phase) + base
}

// oscillationPhases are the phase starting points branched into separate
// fit candidates. A cosine fit seeded a half-turn off rarely escapes its
// local minimum, so each quadrant gets its own candidate.
var oscillationPhases = []float64{0, math.Pi / 2, math.Pi, -math.Pi / 2}

// NewOscillation builds a fixed-frequency oscillation analysis (the Rabi
// amplitude-sweep shape).
func NewOscillation(name string, opts curve.Options) (*curve.Analysis, error) {
	series := []curve.SeriesDef{{
		Name:        "oscillation",
		Fn:          cosine,
		ParamNames:  []string{"amp", "freq", "phase", "base"},
		Description: "amp * cos(2*pi*freq*x + phase) + base",
	}}
	if opts.Quality == nil {
		opts.Quality = oscillationQuality
	}
	if len(opts.ResultParams) == 0 {
		opts.ResultParams = []curve.ParamSpec{
			{Name: "freq", Unit: "Hz"},
			{Name: "phase", Unit: "rad"},
			{Name: "amp"},
			{Name: "base"},
		}
	}
	return curve.NewAnalysis(name, series, oscillationGuesser, opts)
}

func oscillationGuesser(base *curve.FitOptions, formatted *scatter.Table, _ *curve.CompositeModel) ([]*curve.FitOptions, error) {
	xs := formatted.Xs(false)
	ys := formatted.Ys(false)

	offset := meanOf(ys)
	amp := halfSpread(ys)
	freq := curve.GuessFrequency(xs, ys)

	if err := base.SetP0IfEmpty(map[string]float64{
		"amp":  amp,
		"freq": freq,
		"base": offset,
	}); err != nil {
		return nil, err
	}
	if err := base.SetBoundsIfEmpty(map[string]curve.Bound{
		"amp":   {Low: 0, High: math.Inf(1)},
		"freq":  {Low: 0, High: math.Inf(1)},
		"phase": {Low: -math.Pi, High: math.Pi},
	}); err != nil {
		return nil, err
	}

	// One candidate per phase quadrant; a user-supplied phase collapses
	// them into a single deduplicated candidate.
	var candidates []*curve.FitOptions
	for _, phase := range oscillationPhases {
		c := base.Copy()
		if err := c.SetP0IfEmpty(map[string]float64{"phase": phase}); err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

func oscillationQuality(r *curve.FitResult) string {
	if r == nil || r.ReducedChiSq >= 3.0 {
		return curve.QualityBad
	}
	freq, ok := r.Param("freq")
	if !ok {
		return curve.QualityBad
	}
	if math.IsNaN(freq.Stderr) || freq.Stderr >= math.Abs(freq.Value) {
		return curve.QualityBad
	}
	return curve.QualityGood
}

func meanOf(ys []float64) float64 {
	if len(ys) == 0 {
		return 0
	}
	var sum float64
	for _, y := range ys {
		sum += y
	}
	return sum / float64(len(ys))
}

// halfSpread is half the peak-to-peak range, the natural amplitude guess
// for an oscillation.
func halfSpread(ys []float64) float64 {
	if len(ys) == 0 {
		return 0
	}
	lo, hi := ys[0], ys[0]
	for _, y := range ys[1:] {
		lo = math.Min(lo, y)
		hi = math.Max(hi, y)
	}
	return (hi - lo) / 2
}
