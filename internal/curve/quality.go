package curve

import "log"

// Quality labels. The set is open; these are the conventional values.
const (
	QualityGood = "good"
	QualityBad  = "bad"
)

// Quality maps a fit result to a categorical verdict. Implementations must
// be total; an evaluator that cannot decide should return "" rather than
// panic.
type Quality func(*FitResult) string

// DefaultQuality labels a fit good when its reduced chi-squared is below 3.
func DefaultQuality(r *FitResult) string {
	if r == nil {
		return QualityBad
	}
	if r.ReducedChiSq < 3.0 {
		return QualityGood
	}
	return QualityBad
}

// evaluateQuality runs an evaluator defensively: the engine guarantees the
// quality check never takes down a completed fit, even if a user-supplied
// evaluator panics.
func evaluateQuality(q Quality, r *FitResult) (label string) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("curve: quality evaluator panicked: %v", rec)
			label = ""
		}
	}()
	if q == nil {
		q = DefaultQuality
	}
	return q(r)
}
