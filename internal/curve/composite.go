package curve

import (
	"fmt"
	"sync"

	"github.com/qubit-data/calibration.report/internal/scatter"
)

// CompositeAnalysis runs several independent child analyses against the
// same raw record set. Children share no fit parameters; each extracts,
// formats and fits on its own, and the batch verdict is the conjunction of
// the child verdicts.
type CompositeAnalysis struct {
	children []*Analysis
}

// NewCompositeAnalysis validates that child names are unique, since the
// name is what disambiguates rows and results downstream.
func NewCompositeAnalysis(children ...*Analysis) (*CompositeAnalysis, error) {
	if len(children) == 0 {
		return nil, fmt.Errorf("%w: composite analysis needs at least one child", ErrConfig)
	}
	seen := make(map[string]bool, len(children))
	for _, c := range children {
		if seen[c.Name()] {
			return nil, fmt.Errorf("%w: duplicate child analysis name %q", ErrConfig, c.Name())
		}
		seen[c.Name()] = true
	}
	return &CompositeAnalysis{children: append([]*Analysis(nil), children...)}, nil
}

// CompositeOutcome aggregates the child outcomes.
type CompositeOutcome struct {
	// Children holds each child's outcome, in declaration order.
	Children []*Outcome `json:"children"`

	// Results flattens all child result records, each already tagged with
	// its owning analysis via Extra["analysis"].
	Results []ResultData `json:"results"`

	// Table merges all child tables; the analysis column disambiguates.
	Table *scatter.Table `json:"table"`

	// Quality is "good" only when every child judged its fit good.
	Quality string `json:"quality"`
}

// Run executes every child over the shared records. Children run
// concurrently on their own table copies; the aggregation pass is
// sequential and ordered, so output is deterministic. The first child
// configuration or data error aborts the whole batch.
func (c *CompositeAnalysis) Run(records []Record) (*CompositeOutcome, error) {
	outcomes := make([]*Outcome, len(c.children))
	errs := make([]error, len(c.children))

	var wg sync.WaitGroup
	for i, child := range c.children {
		wg.Add(1)
		go func(i int, child *Analysis) {
			defer wg.Done()
			outcomes[i], errs[i] = child.Run(records)
		}(i, child)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("child analysis %q: %w", c.children[i].Name(), err)
		}
	}

	out := &CompositeOutcome{
		Children: outcomes,
		Table:    scatter.NewTable(),
		Quality:  QualityGood,
	}
	for _, o := range outcomes {
		out.Results = append(out.Results, o.Results...)
		out.Table.Merge(o.Table)
		if o.Quality != QualityGood {
			out.Quality = QualityBad
		}
	}
	return out, nil
}
