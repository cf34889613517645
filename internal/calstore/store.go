// Package calstore persists analysis runs, their typed result records and
// their scatter tables in SQLite.
package calstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/qubit-data/calibration.report/internal/curve"
	"github.com/qubit-data/calibration.report/internal/scatter"
)

// Run statuses.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// RunRecord represents one persisted analysis run.
type RunRecord struct {
	RunID        string          `json:"run_id"`
	Name         string          `json:"name"`
	Kind         string          `json:"kind"`
	Status       string          `json:"status"`
	Quality      string          `json:"quality,omitempty"`
	ReducedChiSq *float64        `json:"reduced_chisq,omitempty"`
	Options      json.RawMessage `json:"options,omitempty"`
	Diagnostics  json.RawMessage `json:"diagnostics,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// ResultRecord is one persisted result row belonging to a run.
type ResultRecord struct {
	ID      int64           `json:"id"`
	RunID   string          `json:"run_id"`
	Name    string          `json:"name"`
	Value   json.RawMessage `json:"value,omitempty"`
	Quality string          `json:"quality,omitempty"`
	ChiSq   *float64        `json:"chisq,omitempty"`
	Unit    string          `json:"unit,omitempty"`
	Extra   json.RawMessage `json:"extra,omitempty"`
}

// Store provides persistence for analysis runs.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening results db: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStore wraps an existing database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for admin tooling.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// InsertRun creates a run record in the running state. A missing RunID is
// filled with a fresh UUID.
func (s *Store) InsertRun(record *RunRecord) error {
	if record.RunID == "" {
		record.RunID = uuid.New().String()
	}
	if record.StartedAt.IsZero() {
		record.StartedAt = time.Now().UTC()
	}
	if record.Status == "" {
		record.Status = StatusRunning
	}
	err := retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO analysis_runs (run_id, name, kind, status, options, started_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			record.RunID,
			record.Name,
			record.Kind,
			record.Status,
			jsonStr(record.Options),
			record.StartedAt.UTC().Format(time.RFC3339Nano),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", record.RunID, err)
	}
	return nil
}

// SaveOutcome marks a run complete and persists its results and table in
// one transaction.
func (s *Store) SaveOutcome(runID string, outcome *curve.Outcome) error {
	status := StatusComplete
	var chisq *float64
	if outcome.Fit != nil {
		v := outcome.Fit.ReducedChiSq
		chisq = &v
	} else {
		status = StatusFailed
	}
	var diagJSON []byte
	if len(outcome.Diagnostics) > 0 {
		diagJSON, _ = json.Marshal(outcome.Diagnostics)
	}
	tableJSON, err := json.Marshal(outcome.Table)
	if err != nil {
		return fmt.Errorf("marshaling table for run %s: %w", runID, err)
	}

	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		_, err = tx.Exec(`
			UPDATE analysis_runs
			SET status = ?, quality = ?, reduced_chisq = ?, diagnostics = ?, completed_at = ?
			WHERE run_id = ?`,
			status,
			nullStr(outcome.Quality),
			chisq,
			jsonStr(diagJSON),
			time.Now().UTC().Format(time.RFC3339Nano),
			runID,
		)
		if err != nil {
			return err
		}

		for _, r := range outcome.Results {
			valueJSON, err := r.MarshalValue()
			if err != nil {
				return fmt.Errorf("marshaling result %q: %w", r.Name, err)
			}
			var extraJSON []byte
			if len(r.Extra) > 0 {
				extraJSON, _ = json.Marshal(r.Extra)
			}
			_, err = tx.Exec(`
				INSERT INTO analysis_results (run_id, name, value, quality, chisq, unit, extra)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				runID, r.Name, jsonStr(valueJSON), nullStr(r.Quality), r.ChiSq, nullStr(r.Unit), jsonStr(extraJSON),
			)
			if err != nil {
				return err
			}
		}

		_, err = tx.Exec(`
			INSERT INTO analysis_tables (run_id, table_json) VALUES (?, ?)
			ON CONFLICT(run_id) DO UPDATE SET table_json = excluded.table_json`,
			runID, string(tableJSON),
		)
		if err != nil {
			return err
		}
		return tx.Commit()
	})
}

// GetRun loads one run by id.
func (s *Store) GetRun(runID string) (*RunRecord, error) {
	row := s.db.QueryRow(`
		SELECT run_id, name, kind, status, quality, reduced_chisq, options, diagnostics, started_at, completed_at
		FROM analysis_runs WHERE run_id = ?`, runID)
	record, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	return record, err
}

// ListRuns returns runs ordered newest first, up to limit (0 means 100).
func (s *Store) ListRuns(limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT run_id, name, kind, status, quality, reduced_chisq, options, diagnostics, started_at, completed_at
		FROM analysis_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*RunRecord
	for rows.Next() {
		record, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// ResultsForRun loads the result records of a run in insertion order.
func (s *Store) ResultsForRun(runID string) ([]*ResultRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, name, value, quality, chisq, unit, extra
		FROM analysis_results WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ResultRecord
	for rows.Next() {
		var r ResultRecord
		var value, quality, unit, extra sql.NullString
		var chisq sql.NullFloat64
		if err := rows.Scan(&r.ID, &r.RunID, &r.Name, &value, &quality, &chisq, &unit, &extra); err != nil {
			return nil, err
		}
		r.Value = jsonOrNil(value)
		r.Quality = quality.String
		r.Unit = unit.String
		r.Extra = jsonOrNil(extra)
		if chisq.Valid {
			r.ChiSq = &chisq.Float64
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// TableForRun loads and decodes the scatter table persisted for a run.
func (s *Store) TableForRun(runID string) (*scatter.Table, error) {
	var tableJSON string
	err := s.db.QueryRow(`SELECT table_json FROM analysis_tables WHERE run_id = ?`, runID).Scan(&tableJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no table stored for run %s", runID)
	}
	if err != nil {
		return nil, err
	}
	var table scatter.Table
	if err := json.Unmarshal([]byte(tableJSON), &table); err != nil {
		return nil, fmt.Errorf("decoding table for run %s: %w", runID, err)
	}
	return &table, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var r RunRecord
	var quality, options, diagnostics sql.NullString
	var chisq sql.NullFloat64
	var startedAt string
	var completedAt sql.NullString
	err := row.Scan(&r.RunID, &r.Name, &r.Kind, &r.Status, &quality, &chisq, &options, &diagnostics, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	r.Quality = quality.String
	if chisq.Valid {
		r.ReducedChiSq = &chisq.Float64
	}
	r.Options = jsonOrNil(options)
	r.Diagnostics = jsonOrNil(diagnostics)
	if t, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
		r.StartedAt = t
	}
	if completedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, completedAt.String); err == nil {
			r.CompletedAt = &t
		}
	}
	return &r, nil
}

// retryOnBusy retries a write a few times when SQLite reports a locked or
// busy database, which happens under concurrent writers.
func retryOnBusy(fn func() error) error {
	const attempts = 5
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		msg := strings.ToLower(err.Error())
		if !strings.Contains(msg, "busy") && !strings.Contains(msg, "locked") {
			return err
		}
		time.Sleep(time.Duration(i+1) * 50 * time.Millisecond)
	}
	return err
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func jsonStr(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// jsonOrNil converts a sql.NullString to json.RawMessage, returning nil for
// NULL values.
func jsonOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}
