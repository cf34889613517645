package curve

import (
	"fmt"
	"log"
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/qubit-data/calibration.report/internal/scatter"
)

// FitMethod selects the nonlinear minimizer used for the least-squares
// objective.
type FitMethod int

const (
	// MethodNelderMead is the default: derivative-free and tolerant of the
	// noisy objectives typical of measurement data.
	MethodNelderMead FitMethod = iota
	// MethodLBFGS uses quasi-Newton descent with finite-difference
	// gradients.
	MethodLBFGS
	// MethodGradient uses plain gradient descent.
	MethodGradient
)

// ParseFitMethod maps a configuration string to a FitMethod.
func ParseFitMethod(s string) (FitMethod, error) {
	switch s {
	case "", "nelder-mead":
		return MethodNelderMead, nil
	case "lbfgs":
		return MethodLBFGS, nil
	case "gradient":
		return MethodGradient, nil
	}
	return 0, fmt.Errorf("%w: unknown fit method %q", ErrConfig, s)
}

func (m FitMethod) String() string {
	switch m {
	case MethodLBFGS:
		return "lbfgs"
	case MethodGradient:
		return "gradient"
	default:
		return "nelder-mead"
	}
}

func (m FitMethod) toGonum() optimize.Method {
	switch m {
	case MethodLBFGS:
		return &optimize.LBFGS{}
	case MethodGradient:
		return &optimize.GradientDescent{}
	default:
		return &optimize.NelderMead{}
	}
}

// Extra-settings keys recognized by RunFit.
const (
	ExtraMethod        = "method"         // string, see ParseFitMethod
	ExtraMaxIterations = "max_iterations" // int
)

// ParamValue is one fitted parameter with its standard error.
type ParamValue struct {
	Name   string  `json:"name"`
	Value  float64 `json:"value"`
	Stderr float64 `json:"stderr"`
}

// FitResult is the outcome of one successful fit.
type FitResult struct {
	// Params holds the fitted free parameters in signature order.
	Params []ParamValue

	// Covariance is the parameter covariance matrix in signature order, nil
	// when it could not be derived.
	Covariance *mat.SymDense

	// CorrelationsMissing is set when the covariance inversion failed and
	// the standard errors fall back to the diagonal approximation.
	CorrelationsMissing bool

	ReducedChiSq float64
	DOF          int
	Weighted     bool

	// XRange and YRange span the fitted dataset.
	XRange [2]float64
	YRange [2]float64

	// CandidateIndex identifies which FitOptions candidate produced this
	// result, in submission order.
	CandidateIndex int
}

// Param returns the fitted value for the named free parameter.
func (r *FitResult) Param(name string) (ParamValue, bool) {
	for _, p := range r.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamValue{}, false
}

// ParamVector returns the fitted values in signature order.
func (r *FitResult) ParamVector() []float64 {
	out := make([]float64, len(r.Params))
	for i, p := range r.Params {
		out[i] = p.Value
	}
	return out
}

// CandidateError records why one FitOptions candidate was discarded.
// Candidate failures never abort the run; they are collected for
// diagnostics.
type CandidateError struct {
	Index int
	Err   error
}

func (e CandidateError) Error() string {
	return fmt.Sprintf("candidate %d: %v", e.Index, e.Err)
}

// RunFit attempts every FitOptions candidate against the formatted table
// and returns the success with the smallest reduced chi-squared. Ties keep
// the earliest-submitted candidate. Candidates run concurrently; the
// selection pass is sequential so tie-breaking stays deterministic.
//
// When every candidate fails, the returned error wraps ErrAllFitsFailed and
// the CandidateError slice explains each failure.
func RunFit(formatted *scatter.Table, model *CompositeModel, candidates []*FitOptions) (*FitResult, []CandidateError, error) {
	if len(candidates) == 0 {
		return nil, nil, fmt.Errorf("%w: no fit candidates supplied", ErrConfig)
	}
	candidates = DedupOptions(candidates)
	for i, c := range candidates {
		if !c.Finalized() {
			if err := c.Finalize(); err != nil {
				return nil, nil, fmt.Errorf("candidate %d: %w", i, err)
			}
		}
	}

	xs, ys, yErrs, sids := fitArrays(formatted)
	if len(xs) == 0 {
		return nil, nil, fmt.Errorf("%w: formatted table has no series-assigned rows", ErrNoData)
	}

	weights, weighted := buildWeights(yErrs)

	results := make([]*FitResult, len(candidates))
	failures := make([]*CandidateError, len(candidates))
	var wg sync.WaitGroup
	for i, cand := range candidates {
		wg.Add(1)
		go func(i int, cand *FitOptions) {
			defer wg.Done()
			res, err := fitOne(xs, ys, sids, weights, weighted, model, cand)
			if err != nil {
				failures[i] = &CandidateError{Index: i, Err: err}
				return
			}
			res.CandidateIndex = i
			results[i] = res
		}(i, cand)
	}
	wg.Wait()

	var failed []CandidateError
	for _, f := range failures {
		if f != nil {
			failed = append(failed, *f)
		}
	}

	// Sequential reduction in submission order: strict less-than keeps the
	// first candidate on ties.
	var best *FitResult
	for _, r := range results {
		if r == nil {
			continue
		}
		if best == nil || r.ReducedChiSq < best.ReducedChiSq {
			best = r
		}
	}
	if best == nil {
		return nil, failed, fmt.Errorf("%w: %d candidates attempted", ErrAllFitsFailed, len(candidates))
	}

	best.XRange = [2]float64{floatsMin(xs), floatsMax(xs)}
	best.YRange = [2]float64{floatsMin(ys), floatsMax(ys)}
	return best, failed, nil
}

// fitArrays extracts the solver inputs from the formatted table, skipping
// rows without a series assignment.
func fitArrays(formatted *scatter.Table) (xs, ys, yErrs []float64, sids []int) {
	allX := formatted.Xs(false)
	allY := formatted.Ys(false)
	allE := formatted.YErrs(false)
	allS := formatted.SeriesIDs()
	for i := range allX {
		if allS[i] < 0 {
			continue
		}
		xs = append(xs, allX[i])
		ys = append(ys, allY[i])
		yErrs = append(yErrs, allE[i])
		sids = append(sids, allS[i])
	}
	return xs, ys, yErrs, sids
}

// buildWeights returns 1/sigma^2 weights when every error bar is finite and
// non-zero, and unit weights otherwise.
func buildWeights(yErrs []float64) ([]float64, bool) {
	weights := make([]float64, len(yErrs))
	weighted := true
	for _, e := range yErrs {
		if !isFiniteNonzero(e) {
			weighted = false
			break
		}
	}
	for i := range weights {
		if weighted {
			weights[i] = 1 / (yErrs[i] * yErrs[i])
		} else {
			weights[i] = 1
		}
	}
	return weights, weighted
}

// fitOne runs the solver for a single candidate. Panics from model or
// solver numerics are converted into candidate failures.
func fitOne(xs, ys []float64, sids []int, weights []float64, weighted bool, model *CompositeModel, cand *FitOptions) (res *FitResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("numerical panic during fit: %v", r)
		}
	}()

	nFree := model.NumFree()
	dof := len(xs) - nFree
	if dof < 1 {
		return nil, fmt.Errorf("%w: %d points, %d free parameters", ErrInsufficientData, len(xs), nFree)
	}

	bounds := cand.BoundsVector()
	p0 := cand.P0Vector()
	for i := range p0 {
		p0[i] = bounds[i].Clamp(p0[i])
	}

	ssr := func(params []float64) float64 {
		var sum float64
		for i, x := range xs {
			d := ys[i] - model.EvalSeries(sids[i], x, params)
			sum += weights[i] * d * d
		}
		return sum
	}
	objective := func(params []float64) float64 {
		base := ssr(params)
		// Quadratic penalty keeps the derivative-free methods inside the
		// bounds without a constrained solver.
		var penalty float64
		for i, v := range params {
			if v < bounds[i].Low {
				d := bounds[i].Low - v
				penalty += d * d
			} else if v > bounds[i].High {
				d := v - bounds[i].High
				penalty += d * d
			}
		}
		return base + 1e9*penalty*(1+math.Abs(base))
	}

	method, maxIter, err := solverSettings(cand)
	if err != nil {
		return nil, err
	}
	settings := &optimize.Settings{}
	if maxIter > 0 {
		settings.MajorIterations = maxIter
	}

	// optimize.Minimize evaluates the objective on its own goroutine, where
	// the deferred recover above cannot see a panic; capture it at the
	// evaluation site instead.
	var (
		panicOnce sync.Once
		panicVal  any
	)
	problem := optimize.Problem{Func: func(params []float64) (v float64) {
		defer func() {
			if r := recover(); r != nil {
				panicOnce.Do(func() { panicVal = r })
				v = math.Inf(1)
			}
		}()
		return objective(params)
	}}
	result, err := optimize.Minimize(problem, p0, settings, method.toGonum())
	if panicVal != nil {
		return nil, fmt.Errorf("numerical panic during fit: %v", panicVal)
	}
	if err != nil {
		return nil, fmt.Errorf("solver (%s) failed: %w", method, err)
	}

	params := result.X
	for i := range params {
		if math.IsNaN(params[i]) || math.IsInf(params[i], 0) {
			return nil, fmt.Errorf("solver (%s) produced non-finite parameters", method)
		}
		params[i] = bounds[i].Clamp(params[i])
	}

	finalSSR := ssr(params)
	if math.IsNaN(finalSSR) || math.IsInf(finalSSR, 0) {
		return nil, fmt.Errorf("non-finite residual at solution")
	}

	fr := &FitResult{
		ReducedChiSq: finalSSR / float64(dof),
		DOF:          dof,
		Weighted:     weighted,
	}
	fr.Params, fr.Covariance, fr.CorrelationsMissing = estimateErrors(
		xs, sids, weights, weighted, model, params, finalSSR, dof)
	return fr, nil
}

// solverSettings interprets the candidate's free-form extra settings.
// Unrecognized keys are logged and ignored rather than failing the fit.
func solverSettings(cand *FitOptions) (FitMethod, int, error) {
	method := MethodNelderMead
	if v, ok := cand.Extra(ExtraMethod); ok {
		s, isStr := v.(string)
		if !isStr {
			return 0, 0, fmt.Errorf("%w: %s option must be a string, got %T", ErrConfig, ExtraMethod, v)
		}
		m, err := ParseFitMethod(s)
		if err != nil {
			return 0, 0, err
		}
		method = m
	}
	maxIter := 0
	if v, ok := cand.Extra(ExtraMaxIterations); ok {
		switch n := v.(type) {
		case int:
			maxIter = n
		case float64:
			maxIter = int(n)
		default:
			return 0, 0, fmt.Errorf("%w: %s option must be an int, got %T", ErrConfig, ExtraMaxIterations, v)
		}
	}
	for _, key := range cand.ExtraKeys() {
		if key != ExtraMethod && key != ExtraMaxIterations {
			log.Printf("curve: ignoring unknown solver option %q", key)
		}
	}
	return method, maxIter, nil
}

// estimateErrors derives standard errors from the covariance matrix
// (J^T W J)^-1 with a central-difference Jacobian at the solution. When the
// inversion fails or yields non-finite entries, it falls back to the
// diagonal approximation and flags the correlations as missing.
func estimateErrors(xs []float64, sids []int, weights []float64, weighted bool, model *CompositeModel, params []float64, ssr float64, dof int) ([]ParamValue, *mat.SymDense, bool) {
	signature := model.Signature()
	n := len(xs)
	k := len(params)

	jac := mat.NewDense(n, k, nil)
	for j := 0; j < k; j++ {
		h := 1e-6 * math.Max(1, math.Abs(params[j]))
		hi := append([]float64(nil), params...)
		lo := append([]float64(nil), params...)
		hi[j] += h
		lo[j] -= h
		for i, x := range xs {
			d := (model.EvalSeries(sids[i], x, hi) - model.EvalSeries(sids[i], x, lo)) / (2 * h)
			jac.Set(i, j, d)
		}
	}

	// A = J^T W J
	wj := mat.NewDense(n, k, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < k; j++ {
			wj.Set(i, j, weights[i]*jac.At(i, j))
		}
	}
	var a mat.Dense
	a.Mul(jac.T(), wj)

	// Unweighted fits estimate the noise level from the residuals.
	scale := 1.0
	if !weighted {
		scale = ssr / float64(dof)
	}

	var inv mat.Dense
	invErr := inv.Inverse(&a)
	finite := invErr == nil
	if finite {
	scan:
		for i := 0; i < k; i++ {
			for j := 0; j < k; j++ {
				v := inv.At(i, j)
				if math.IsNaN(v) || math.IsInf(v, 0) {
					finite = false
					break scan
				}
			}
		}
	}

	values := make([]ParamValue, k)
	if finite {
		cov := mat.NewSymDense(k, nil)
		for i := 0; i < k; i++ {
			for j := i; j < k; j++ {
				cov.SetSym(i, j, scale*(inv.At(i, j)+inv.At(j, i))/2)
			}
		}
		for i := 0; i < k; i++ {
			values[i] = ParamValue{
				Name:   signature[i],
				Value:  params[i],
				Stderr: math.Sqrt(math.Max(0, cov.At(i, i))),
			}
		}
		return values, cov, false
	}

	// Diagonal fallback: variance per parameter from 1/A_jj, ignoring
	// correlations.
	for i := 0; i < k; i++ {
		ajj := a.At(i, i)
		stderr := math.NaN()
		if ajj > 0 {
			stderr = math.Sqrt(scale / ajj)
		}
		values[i] = ParamValue{Name: signature[i], Value: params[i], Stderr: stderr}
	}
	log.Printf("curve: covariance not invertible; reporting diagonal-only standard errors")
	return values, nil, true
}

func floatsMin(vs []float64) float64 {
	m := vs[0]
	for _, v := range vs[1:] {
		m = math.Min(m, v)
	}
	return m
}

func floatsMax(vs []float64) float64 {
	m := vs[0]
	for _, v := range vs[1:] {
		m = math.Max(m, v)
	}
	return m
}
