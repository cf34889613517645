package curve

import (
	"fmt"
	"math"
)

// Record is one raw measurement handed to the engine by the acquisition
// layer. Metadata must contain the configured x-value key and whatever keys
// the series filters reference. The outcome payload is either discrete
// counts over measured bitstrings or an already-computed probability.
type Record struct {
	Metadata    map[string]any   `json:"metadata"`
	Counts      map[string]int64 `json:"counts,omitempty"`
	Probability *float64         `json:"probability,omitempty"`
	Shots       int64            `json:"shots"`
}

// Processor turns a batch of raw records into scalar outcomes with
// uncertainties. Both slices are parallel to the input records.
type Processor interface {
	Process(records []Record) (ys, yErrs []float64, err error)
}

// Trainable is implemented by processors that need a one-time pass over the
// full record set before Process is usable (e.g. to calibrate a
// normalization). The engine checks and triggers training exactly once.
type Trainable interface {
	Trained() bool
	Train(records []Record) error
}

// ProcessorFunc adapts a plain function to the Processor interface.
type ProcessorFunc func(records []Record) ([]float64, []float64, error)

// Process implements Processor.
func (f ProcessorFunc) Process(records []Record) ([]float64, []float64, error) {
	return f(records)
}

// ProbabilityProcessor converts counts to the probability of one outcome
// bitstring, with a binomial standard error. Records carrying an explicit
// Probability field bypass the counts entirely.
type ProbabilityProcessor struct {
	// Outcome is the bitstring whose probability is extracted, e.g. "1".
	Outcome string
}

// Process implements Processor.
func (p ProbabilityProcessor) Process(records []Record) ([]float64, []float64, error) {
	ys := make([]float64, len(records))
	errs := make([]float64, len(records))
	for i, r := range records {
		if r.Probability != nil {
			ys[i] = *r.Probability
			if r.Shots > 0 {
				errs[i] = binomialErr(*r.Probability, r.Shots)
			} else {
				errs[i] = math.NaN()
			}
			continue
		}
		if r.Shots <= 0 {
			return nil, nil, fmt.Errorf("record %d has no shots and no probability", i)
		}
		y := float64(r.Counts[p.Outcome]) / float64(r.Shots)
		ys[i] = y
		errs[i] = binomialErr(y, r.Shots)
	}
	return ys, errs, nil
}

// binomialErr is the standard error of a binomial proportion. Degenerate
// proportions (0 or 1) use the rule-of-one floor so the weight stays finite.
func binomialErr(p float64, shots int64) float64 {
	v := p * (1 - p) / float64(shots)
	if v <= 0 {
		v = 1 / (float64(shots) * float64(shots))
	}
	return math.Sqrt(v)
}

// NormalizingProcessor wraps another processor and rescales its outputs to
// [0, 1] using the value range observed during training. It is the standard
// example of a processor with a required training pass.
type NormalizingProcessor struct {
	Inner Processor

	trained bool
	lo, hi  float64
}

// Trained implements Trainable.
func (n *NormalizingProcessor) Trained() bool { return n.trained }

// Train records the output range of the inner processor over the full
// record set.
func (n *NormalizingProcessor) Train(records []Record) error {
	ys, _, err := n.Inner.Process(records)
	if err != nil {
		return fmt.Errorf("training normalizer: %w", err)
	}
	if len(ys) == 0 {
		return fmt.Errorf("training normalizer: no records")
	}
	n.lo, n.hi = ys[0], ys[0]
	for _, y := range ys[1:] {
		n.lo = math.Min(n.lo, y)
		n.hi = math.Max(n.hi, y)
	}
	if n.hi == n.lo {
		n.hi = n.lo + 1
	}
	n.trained = true
	return nil
}

// Process implements Processor. It fails if Train has not run.
func (n *NormalizingProcessor) Process(records []Record) ([]float64, []float64, error) {
	if !n.trained {
		return nil, nil, fmt.Errorf("normalizing processor used before training")
	}
	ys, errs, err := n.Inner.Process(records)
	if err != nil {
		return nil, nil, err
	}
	span := n.hi - n.lo
	for i := range ys {
		ys[i] = (ys[i] - n.lo) / span
		if !math.IsNaN(errs[i]) {
			errs[i] /= span
		}
	}
	return ys, errs, nil
}
