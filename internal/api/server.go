// Package api exposes the analysis engine over HTTP: submitting runs,
// browsing persisted runs and rendering reports.
package api

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/qubit-data/calibration.report/internal/analyses"
	"github.com/qubit-data/calibration.report/internal/calstore"
	"github.com/qubit-data/calibration.report/internal/curve"
	"github.com/qubit-data/calibration.report/internal/report"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	store *calstore.Store
}

func NewServer(store *calstore.Store) *Server {
	return &Server{store: store}
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/analyses", s.listAnalyses)
	mux.HandleFunc("/api/analyze", s.runAnalysis)
	mux.HandleFunc("/api/runs", s.listRuns)
	mux.HandleFunc("/api/run", s.showRun)
	mux.HandleFunc("/api/run/table", s.showRunTable)
	mux.HandleFunc("/api/run/report", s.showRunReport)
	return mux
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	default:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) listAnalyses(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := json.NewEncoder(w).Encode(map[string]any{"kinds": analyses.Kinds()}); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write analysis kinds")
		return
	}
}

// boundSpec is the wire form of a parameter bound; a missing side means
// unbounded on that side.
type boundSpec struct {
	Low  *float64 `json:"low,omitempty"`
	High *float64 `json:"high,omitempty"`
}

func (b boundSpec) toBound() curve.Bound {
	out := curve.Unbounded
	if b.Low != nil {
		out.Low = *b.Low
	}
	if b.High != nil {
		out.High = *b.High
	}
	return out
}

// RunRequest is the wire form of an analysis submission.
type RunRequest struct {
	Kind    string         `json:"kind"`
	Name    string         `json:"name"`
	Records []curve.Record `json:"records"`

	XKey             string               `json:"x_key"`
	Outcome          string               `json:"outcome,omitempty"`
	FixedParams      map[string]float64   `json:"fixed_params,omitempty"`
	P0               map[string]float64   `json:"p0,omitempty"`
	Bounds           map[string]boundSpec `json:"bounds,omitempty"`
	Method           string               `json:"method,omitempty"`
	MaxIterations    int                  `json:"max_iterations,omitempty"`
	ReturnDataPoints bool                 `json:"return_data_points,omitempty"`
	FittedSamples    int                  `json:"fitted_samples,omitempty"`
}

// RunResponse wraps an outcome with its persisted run id.
type RunResponse struct {
	RunID   string         `json:"run_id"`
	Outcome *curve.Outcome `json:"outcome"`
}

func (s *Server) runAnalysis(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	analysis, err := buildAnalysis(&req)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	optionsJSON, _ := json.Marshal(req)
	record := &calstore.RunRecord{
		Name:    analysis.Name(),
		Kind:    req.Kind,
		Options: optionsJSON,
	}
	if err := s.store.InsertRun(record); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to record run: %v", err))
		return
	}

	outcome, err := analysis.Run(req.Records)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Analysis failed: %v", err))
		return
	}

	if err := s.store.SaveOutcome(record.RunID, outcome); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to persist outcome: %v", err))
		return
	}

	if err := json.NewEncoder(w).Encode(RunResponse{RunID: record.RunID, Outcome: outcome}); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write outcome")
		return
	}
}

// buildAnalysis translates a wire request into a configured analysis.
func buildAnalysis(req *RunRequest) (*curve.Analysis, error) {
	if req.Kind == "" {
		return nil, fmt.Errorf("missing 'kind'")
	}
	if len(req.Records) == 0 {
		return nil, fmt.Errorf("missing 'records'")
	}
	name := req.Name
	if name == "" {
		name = req.Kind
	}

	method, err := curve.ParseFitMethod(req.Method)
	if err != nil {
		return nil, err
	}

	var bounds map[string]curve.Bound
	if len(req.Bounds) > 0 {
		bounds = make(map[string]curve.Bound, len(req.Bounds))
		for param, spec := range req.Bounds {
			bounds[param] = spec.toBound()
		}
	}

	opts := curve.Options{
		XKey:             req.XKey,
		FixedParams:      req.FixedParams,
		P0:               req.P0,
		Bounds:           bounds,
		Method:           method,
		MaxIterations:    req.MaxIterations,
		ReturnDataPoints: req.ReturnDataPoints,
		FittedSamples:    req.FittedSamples,
	}
	if req.Outcome != "" {
		opts.Processor = curve.ProbabilityProcessor{Outcome: req.Outcome}
	}
	return analyses.New(req.Kind, name, opts)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	runs, err := s.store.ListRuns(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list runs: %v", err))
		return
	}
	if runs == nil {
		runs = []*calstore.RunRecord{}
	}

	if err := json.NewEncoder(w).Encode(runs); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write runs")
		return
	}
}

// RunDetail joins a run record with its result records.
type RunDetail struct {
	Run     *calstore.RunRecord      `json:"run"`
	Results []*calstore.ResultRecord `json:"results"`
}

func (s *Server) showRun(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	runID := r.URL.Query().Get("id")
	if runID == "" {
		s.writeJSONError(w, http.StatusBadRequest, "Missing 'id' parameter")
		return
	}

	run, err := s.store.GetRun(runID)
	if err != nil {
		s.writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	results, err := s.store.ResultsForRun(runID)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load results: %v", err))
		return
	}
	if results == nil {
		results = []*calstore.ResultRecord{}
	}

	if err := json.NewEncoder(w).Encode(RunDetail{Run: run, Results: results}); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write run")
		return
	}
}

func (s *Server) showRunTable(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	runID := r.URL.Query().Get("id")
	if runID == "" {
		s.writeJSONError(w, http.StatusBadRequest, "Missing 'id' parameter")
		return
	}

	table, err := s.store.TableForRun(runID)
	if err != nil {
		s.writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}

	if err := json.NewEncoder(w).Encode(table); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write table")
		return
	}
}

func (s *Server) showRunReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	runID := r.URL.Query().Get("id")
	if runID == "" {
		http.Error(w, "Missing 'id' parameter", http.StatusBadRequest)
		return
	}

	outcome, err := s.reconstructOutcome(runID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := report.RenderHTML(outcome, w); err != nil {
		log.Printf("rendering report for run %s: %v", runID, err)
	}
}

// reconstructOutcome rebuilds enough of an outcome from persisted state to
// render its report: the table, the quality, and the fitted parameters from
// the aggregate result record when the fit succeeded.
func (s *Server) reconstructOutcome(runID string) (*curve.Outcome, error) {
	run, err := s.store.GetRun(runID)
	if err != nil {
		return nil, err
	}
	table, err := s.store.TableForRun(runID)
	if err != nil {
		return nil, err
	}
	outcome := &curve.Outcome{
		Analysis: run.Name,
		Table:    table,
		Quality:  run.Quality,
	}
	if run.ReducedChiSq == nil {
		return outcome, nil
	}

	fit := &curve.FitResult{ReducedChiSq: *run.ReducedChiSq}
	results, err := s.store.ResultsForRun(runID)
	if err != nil {
		return nil, err
	}
	for _, res := range results {
		if res.Name != curve.AggregateResultName || len(res.Value) == 0 {
			continue
		}
		var params []curve.ParamValue
		if err := json.Unmarshal(res.Value, &params); err == nil {
			fit.Params = params
		}
		break
	}
	if math.IsNaN(fit.ReducedChiSq) {
		return outcome, nil
	}
	outcome.Fit = fit
	return outcome, nil
}
