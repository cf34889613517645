// Command fit runs one analysis over a JSON record file and prints the
// fitted parameters. It can optionally persist the run, write a PNG plot,
// or write an HTML report.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/qubit-data/calibration.report/internal/analyses"
	"github.com/qubit-data/calibration.report/internal/calstore"
	"github.com/qubit-data/calibration.report/internal/curve"
	"github.com/qubit-data/calibration.report/internal/report"
	"github.com/qubit-data/calibration.report/internal/units"
)

var (
	kind          = flag.String("kind", "", "Analysis kind (see -list)")
	name          = flag.String("name", "", "Analysis name; defaults to the kind")
	input         = flag.String("input", "-", "Records JSON file, or - for stdin")
	xKey          = flag.String("x-key", "", "Metadata key carrying the swept x value")
	outcomeLabel  = flag.String("outcome", "", "Counts key treated as the measured outcome (default 1)")
	p0Flag        = flag.String("p0", "", "Initial guesses as name=value,name=value")
	fixedFlag     = flag.String("fixed", "", "Fixed parameters as name=value,name=value")
	method        = flag.String("method", "", "Fit method: nelder-mead, lbfgs or gradient")
	maxIterations = flag.Int("max-iterations", 0, "Solver iteration cap (0 means solver default)")
	pngPath       = flag.String("png", "", "Write a PNG plot to this path")
	htmlPath      = flag.String("html", "", "Write an HTML report to this path")
	dbFile        = flag.String("db", "", "Persist the run to this SQLite database")
	migrationsDir = flag.String("migrations", "migrations", "Schema migrations directory, used with -db")
	jsonOut       = flag.Bool("json", false, "Print the full outcome as JSON instead of a summary")
	list          = flag.Bool("list", false, "List the available analysis kinds and exit")
)

// parseParamMap parses "name=value,name=value" into a map.
func parseParamMap(s string) (map[string]float64, error) {
	if s == "" {
		return nil, nil
	}
	out := make(map[string]float64)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid parameter assignment '%s'", pair)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value in '%s': %w", pair, err)
		}
		out[strings.TrimSpace(name)] = v
	}
	return out, nil
}

func readRecords(path string) ([]curve.Record, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var records []curve.Record
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("decoding records: %w", err)
	}
	return records, nil
}

func printSummary(outcome *curve.Outcome) {
	if outcome.Fit == nil {
		fmt.Println("fit failed:")
		for _, d := range outcome.Diagnostics {
			fmt.Printf("  %s\n", d)
		}
		return
	}
	fmt.Printf("%s: quality=%s reduced-chisq=%.4g dof=%d\n",
		outcome.Analysis, outcome.Quality, outcome.Fit.ReducedChiSq, outcome.Fit.DOF)
	for _, r := range outcome.Results {
		pv, ok := r.Value.(curve.ParamValue)
		if !ok {
			continue
		}
		fmt.Printf("  %-12s %s\n", r.Name, units.WithError(pv.Value, pv.Stderr, r.Unit))
	}
	for _, d := range outcome.Diagnostics {
		fmt.Printf("  note: %s\n", d)
	}
}

func main() {
	flag.Parse()

	if *list {
		for _, k := range analyses.Kinds() {
			fmt.Println(k)
		}
		return
	}
	if *kind == "" {
		log.Fatal("-kind is required (use -list to see the choices)")
	}

	p0, err := parseParamMap(*p0Flag)
	if err != nil {
		log.Fatalf("parsing -p0: %v", err)
	}
	fixed, err := parseParamMap(*fixedFlag)
	if err != nil {
		log.Fatalf("parsing -fixed: %v", err)
	}
	fitMethod, err := curve.ParseFitMethod(*method)
	if err != nil {
		log.Fatalf("parsing -method: %v", err)
	}

	records, err := readRecords(*input)
	if err != nil {
		log.Fatalf("reading records: %v", err)
	}

	analysisName := *name
	if analysisName == "" {
		analysisName = *kind
	}
	opts := curve.Options{
		XKey:          *xKey,
		FixedParams:   fixed,
		P0:            p0,
		Method:        fitMethod,
		MaxIterations: *maxIterations,
	}
	if *outcomeLabel != "" {
		opts.Processor = curve.ProbabilityProcessor{Outcome: *outcomeLabel}
	}

	analysis, err := analyses.New(*kind, analysisName, opts)
	if err != nil {
		log.Fatalf("building analysis: %v", err)
	}

	outcome, err := analysis.Run(records)
	if err != nil {
		log.Fatalf("running analysis: %v", err)
	}

	if *dbFile != "" {
		store, err := calstore.Open(*dbFile)
		if err != nil {
			log.Fatalf("opening results database: %v", err)
		}
		defer store.Close()
		if err := store.MigrateUp(*migrationsDir); err != nil {
			log.Fatalf("migrating results database: %v", err)
		}
		record := &calstore.RunRecord{Name: analysisName, Kind: *kind}
		if err := store.InsertRun(record); err != nil {
			log.Fatalf("recording run: %v", err)
		}
		if err := store.SaveOutcome(record.RunID, outcome); err != nil {
			log.Fatalf("persisting outcome: %v", err)
		}
		fmt.Printf("run id: %s\n", record.RunID)
	}

	if *pngPath != "" {
		if err := report.SavePNG(outcome.Table, analysisName, *pngPath); err != nil {
			log.Fatalf("writing PNG plot: %v", err)
		}
	}
	if *htmlPath != "" {
		f, err := os.Create(*htmlPath)
		if err != nil {
			log.Fatalf("creating HTML report: %v", err)
		}
		defer f.Close()
		if err := report.RenderHTML(outcome, f); err != nil {
			log.Fatalf("writing HTML report: %v", err)
		}
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(outcome); err != nil {
			log.Fatalf("encoding outcome: %v", err)
		}
		return
	}
	printSummary(outcome)
}
