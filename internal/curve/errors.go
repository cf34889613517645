package curve

import "errors"

// Error classes. Configuration errors abort a run before any computation;
// candidate errors are recovered per candidate inside RunFit; ErrAllFitsFailed
// reports that every candidate failed (the run still completes and returns
// whatever data was requested); ErrNoData reports an unconditional selection
// that matched zero rows.
var (
	// ErrConfig marks a fatal misconfiguration: missing x-value key, fixing
	// an unknown parameter, duplicate series names, a FitOptions candidate
	// missing an initial guess after finalization, and similar.
	ErrConfig = errors.New("invalid analysis configuration")

	// ErrInsufficientData marks a degrees-of-freedom violation: fewer data
	// points than free parameters plus one. Raised per candidate, before the
	// solver is invoked.
	ErrInsufficientData = errors.New("insufficient data for free parameters")

	// ErrAllFitsFailed is reported when no FitOptions candidate produced a
	// usable fit.
	ErrAllFitsFailed = errors.New("all fit candidates failed")

	// ErrNoData is raised when a caller unconditionally asks for a series,
	// category or analysis selection that has no matching rows.
	ErrNoData = errors.New("no rows match the requested selection")
)
