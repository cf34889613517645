package analyses

import (
	"math"

	"github.com/qubit-data/calibration.report/internal/curve"
	"github.com/qubit-data/calibration.report/internal/scatter"
)

// expDecay is amp * exp(-x/tau) + base.
func expDecay(x float64, p []float64) float64 {
	amp, tau, base := p[0], p[1], p[2]
	return amp*math.Exp(-x/tau) + base
}

// NewDecay builds an exponential-decay analysis (the T1 relaxation shape).
// The caller may pre-seed P0/Bounds in opts; everything else is guessed
// from the formatted data.
func NewDecay(name string, opts curve.Options) (*curve.Analysis, error) {
	series := []curve.SeriesDef{{
		Name:        "exp_decay",
		Fn:          expDecay,
		ParamNames:  []string{"amp", "tau", "base"},
		Description: "amp * exp(-x/tau) + base",
	}}
	if opts.Quality == nil {
		opts.Quality = decayQuality
	}
	if len(opts.ResultParams) == 0 {
		opts.ResultParams = []curve.ParamSpec{
			{Name: "tau", Unit: "s"},
			{Name: "amp"},
			{Name: "base"},
		}
	}
	return curve.NewAnalysis(name, series, decayGuesser, opts)
}

func decayGuesser(base *curve.FitOptions, formatted *scatter.Table, _ *curve.CompositeModel) ([]*curve.FitOptions, error) {
	xs := formatted.Xs(false)
	ys := formatted.Ys(false)

	offset := curve.GuessConstantOffset(ys)
	amp := curve.GuessAmplitude(ys, offset)
	tau := curve.GuessDecayTime(xs, ys, amp, offset)

	if err := base.SetP0IfEmpty(map[string]float64{
		"amp":  amp,
		"tau":  tau,
		"base": offset,
	}); err != nil {
		return nil, err
	}

	span := 1.0
	if len(xs) > 1 {
		span = xs[len(xs)-1] - xs[0]
	}
	if err := base.SetBoundsIfEmpty(map[string]curve.Bound{
		// tau below the sample spacing scale is indistinguishable from a
		// constant; keep it strictly positive.
		"tau": {Low: span * 1e-6, High: math.Inf(1)},
	}); err != nil {
		return nil, err
	}
	return []*curve.FitOptions{base}, nil
}

// decayQuality requires a low reduced chi-squared and a decay time resolved
// beyond its own standard error.
func decayQuality(r *curve.FitResult) string {
	if r == nil || r.ReducedChiSq >= 3.0 {
		return curve.QualityBad
	}
	tau, ok := r.Param("tau")
	if !ok {
		return curve.QualityBad
	}
	if math.IsNaN(tau.Stderr) || tau.Stderr >= math.Abs(tau.Value) {
		return curve.QualityBad
	}
	return curve.QualityGood
}
