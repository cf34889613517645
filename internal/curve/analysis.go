package curve

import (
	"errors"
	"fmt"

	"github.com/qubit-data/calibration.report/internal/scatter"
)

// ParamSpec names a fit parameter whose value should be emitted as its own
// result record, with an optional physical unit tag.
type ParamSpec struct {
	Name string `json:"name"`
	Unit string `json:"unit,omitempty"`
}

// Guesser produces the FitOptions candidates for one fit. base arrives
// pre-seeded with the user's guesses and bounds; guess code must fill the
// gaps with the SetIfEmpty methods so user values are never overwritten.
// Returning several candidates makes the executor try each one.
type Guesser func(base *FitOptions, formatted *scatter.Table, model *CompositeModel) ([]*FitOptions, error)

// Options configures one Analysis. Every recognized engine option is an
// explicit field; the zero value is usable apart from XKey, which is
// mandatory.
type Options struct {
	// XKey is the metadata key carrying the swept x value. Required.
	XKey string

	// Processor converts raw records into scalar outcomes. Defaults to
	// ProbabilityProcessor{Outcome: "1"}.
	Processor Processor

	// FixedParams binds model parameters to constants, removing them from
	// the fit signature.
	FixedParams map[string]float64

	// P0 and Bounds seed the fit; they always win over algorithmic guesses.
	P0     map[string]float64
	Bounds map[string]Bound

	// ResultParams lists the parameters emitted as individual result
	// records.
	ResultParams []ParamSpec

	// ReturnFitParams controls the aggregate parameters record. Unset means
	// true.
	ReturnFitParams *bool

	// ReturnDataPoints adds a raw/formatted data snapshot record to the
	// results.
	ReturnDataPoints bool

	// Quality judges the fit. Defaults to DefaultQuality.
	Quality Quality

	// Method and MaxIterations configure the solver for every candidate.
	Method        FitMethod
	MaxIterations int

	// FittedSamples is the number of fitted-curve points sampled per series
	// for visualization. Zero means 100.
	FittedSamples int
}

const defaultFittedSamples = 100

// Analysis is one single-pipeline curve analysis: extraction, formatting,
// fitting, quality and result assembly over an immutable configuration.
type Analysis struct {
	name    string
	model   *CompositeModel
	guesser Guesser
	opts    Options
}

// NewAnalysis builds an analysis from an explicit series list and options.
// All configuration errors surface here, before any data is touched.
func NewAnalysis(name string, series []SeriesDef, guesser Guesser, opts Options) (*Analysis, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: analysis name is required", ErrConfig)
	}
	if opts.XKey == "" {
		return nil, fmt.Errorf("%w: XKey is required", ErrConfig)
	}
	model, err := NewCompositeModel(series, opts.FixedParams)
	if err != nil {
		return nil, err
	}
	for _, spec := range opts.ResultParams {
		if !model.HasParam(spec.Name) {
			return nil, fmt.Errorf("%w: result parameter %q is not a model parameter", ErrConfig, spec.Name)
		}
	}
	for param := range opts.P0 {
		if !model.HasParam(param) {
			return nil, fmt.Errorf("%w: initial guess for unknown parameter %q", ErrConfig, param)
		}
	}
	for param := range opts.Bounds {
		if !model.HasParam(param) {
			return nil, fmt.Errorf("%w: bounds for unknown parameter %q", ErrConfig, param)
		}
	}
	if opts.Processor == nil {
		opts.Processor = ProbabilityProcessor{Outcome: "1"}
	}
	if opts.Quality == nil {
		opts.Quality = DefaultQuality
	}
	if opts.FittedSamples <= 0 {
		opts.FittedSamples = defaultFittedSamples
	}
	if guesser == nil {
		guesser = func(base *FitOptions, _ *scatter.Table, _ *CompositeModel) ([]*FitOptions, error) {
			return []*FitOptions{base}, nil
		}
	}
	return &Analysis{name: name, model: model, guesser: guesser, opts: opts}, nil
}

// Name returns the analysis name; it tags every row and result the analysis
// produces.
func (a *Analysis) Name() string { return a.name }

// Model returns the composite model.
func (a *Analysis) Model() *CompositeModel { return a.model }

// Outcome is the terminal product of one analysis run.
type Outcome struct {
	Analysis string `json:"analysis"`

	// Results holds the typed result records.
	Results []ResultData `json:"results"`

	// Table holds raw, formatted and (on success) fitted rows, all tagged
	// with the analysis name.
	Table *scatter.Table `json:"table"`

	// Fit is nil when every candidate failed.
	Fit *FitResult `json:"fit,omitempty"`

	// Quality is the verdict for a successful fit, empty otherwise.
	Quality string `json:"quality,omitempty"`

	// Diagnostics lists per-candidate failures and the total-failure
	// message, when any.
	Diagnostics []string `json:"diagnostics,omitempty"`
}

// Run executes the pipeline over a raw record set. Configuration and
// data-shape errors abort with an error; fit failures do not — a run whose
// candidates all fail still completes, with fit-derived entries absent.
func (a *Analysis) Run(records []Record) (*Outcome, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no records supplied", ErrNoData)
	}

	raw, err := extractRows(records, a.model, a.opts.Processor, a.opts.XKey, a.name)
	if err != nil {
		return nil, err
	}
	formatted, err := formatTable(raw)
	if err != nil {
		return nil, err
	}

	table := raw.Copy()
	table.Merge(formatted)

	base := NewFitOptions(a.model.Signature())
	for param, v := range a.opts.P0 {
		if _, fixed := a.model.FixedValue(param); fixed {
			continue
		}
		if err := base.SetP0(param, v); err != nil {
			return nil, err
		}
	}
	for param, b := range a.opts.Bounds {
		if _, fixed := a.model.FixedValue(param); fixed {
			continue
		}
		if err := base.SetBounds(param, b); err != nil {
			return nil, err
		}
	}
	if a.opts.Method != MethodNelderMead {
		base.SetExtra(ExtraMethod, a.opts.Method.String())
	}
	if a.opts.MaxIterations > 0 {
		base.SetExtra(ExtraMaxIterations, a.opts.MaxIterations)
	}

	candidates, err := a.guesser(base, formatted, a.model)
	if err != nil {
		return nil, fmt.Errorf("generating fit candidates: %w", err)
	}

	outcome := &Outcome{Analysis: a.name, Table: table}

	fit, candidateErrs, fitErr := RunFit(formatted, a.model, candidates)
	for _, ce := range candidateErrs {
		outcome.Diagnostics = append(outcome.Diagnostics, ce.Error())
	}
	if fitErr != nil {
		if isConfigErr(fitErr) {
			return nil, fitErr
		}
		// Total fit failure: complete the run with whatever safe output was
		// requested.
		outcome.Diagnostics = append(outcome.Diagnostics, fitErr.Error())
		outcome.Results = a.assembleResults(nil, "", table)
		return outcome, nil
	}

	outcome.Fit = fit
	outcome.Quality = evaluateQuality(a.opts.Quality, fit)
	a.sampleFitted(table, formatted, fit)
	outcome.Results = a.assembleResults(fit, outcome.Quality, table)
	return outcome, nil
}

// sampleFitted appends fitted-category rows: each series' model sampled
// across that series' observed x range, for downstream plotting.
func (a *Analysis) sampleFitted(table, formatted *scatter.Table, fit *FitResult) {
	params := fit.ParamVector()
	for _, group := range formatted.IterBySeries() {
		lo, hi := group.Table.XRange()
		if hi <= lo {
			continue
		}
		sid := group.SeriesID
		name := a.model.Series(sid).Name
		n := a.opts.FittedSamples
		for i := 0; i < n; i++ {
			x := lo + (hi-lo)*float64(i)/float64(n-1)
			table.AddRow(scatter.Row{
				X:        x,
				Y:        a.model.EvalSeries(sid, x, params),
				Name:     scatter.Ptr(name),
				SeriesID: scatter.Ptr(sid),
				Category: scatter.Ptr(scatter.CategoryFitted),
				Analysis: scatter.Ptr(a.name),
			})
		}
	}
}

// assembleResults builds the typed result records. With a nil fit only the
// always-safe records are produced; the data snapshot in particular must
// survive a total fit failure when the caller asked for it.
func (a *Analysis) assembleResults(fit *FitResult, quality string, table *scatter.Table) []ResultData {
	var results []ResultData
	extra := map[string]any{"analysis": a.name}

	if fit != nil {
		chisq := fit.ReducedChiSq
		if a.opts.ReturnFitParams == nil || *a.opts.ReturnFitParams {
			results = append(results, ResultData{
				Name:    AggregateResultName,
				Value:   fit.Params,
				Quality: quality,
				ChiSq:   &chisq,
				Extra:   extra,
			})
		}
		for _, spec := range a.opts.ResultParams {
			var pv ParamValue
			if v, fixed := a.model.FixedValue(spec.Name); fixed {
				pv = ParamValue{Name: spec.Name, Value: v}
			} else if got, ok := fit.Param(spec.Name); ok {
				pv = got
			} else {
				continue
			}
			results = append(results, ResultData{
				Name:    spec.Name,
				Value:   pv,
				Quality: quality,
				ChiSq:   &chisq,
				Unit:    spec.Unit,
				Extra:   extra,
			})
		}
	}

	if a.opts.ReturnDataPoints {
		snapshot := table.Filter(scatter.Query{Category: scatter.Ptr(scatter.CategoryFormatted)})
		results = append(results, ResultData{
			Name:  DataPointsResultName,
			Value: snapshot,
			Extra: extra,
		})
	}
	return results
}

func isConfigErr(err error) bool {
	return errors.Is(err, ErrConfig) || errors.Is(err, ErrNoData)
}
