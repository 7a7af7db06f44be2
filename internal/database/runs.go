package database

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/lawnchairsociety/rpsbalance/internal/search"
)

// ErrRunNotFound is returned when a run lookup fails.
var ErrRunNotFound = errors.New("run not found")

// Run is one archived search invocation.
type Run struct {
	ID          int64
	Mode        string
	Seed        uint64
	StartedAt   time.Time
	FinishedAt  *time.Time
	Evaluated   int64
	Failures    int64
	Generations int
	BestScore   *float64
	StopReason  string
}

// CreateRun records the start of a search.
func (d *Database) CreateRun(mode search.Mode, seed uint64) (*Run, error) {
	started := time.Now().UTC().Truncate(time.Second)

	// Seeds are stored as their int64 bit pattern; both drivers reject
	// uint64 values above math.MaxInt64.
	id, err := d.insert(
		"INSERT INTO search_runs (mode, seed, started_at) VALUES (?, ?, ?)",
		string(mode), int64(seed), started,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	return &Run{ID: id, Mode: string(mode), Seed: seed, StartedAt: started}, nil
}

// FinishRun stores the counters and outcome of a completed search.
func (d *Database) FinishRun(id int64, result search.Result) error {
	var best sql.NullFloat64
	if result.Best != nil && !math.IsInf(result.Best.Score, 0) && !math.IsNaN(result.Best.Score) {
		best = sql.NullFloat64{Float64: result.Best.Score, Valid: true}
	}

	res, err := d.db.Exec(d.qb.Build(`
		UPDATE search_runs
		SET finished_at = ?, evaluated = ?, failures = ?, generations = ?, best_score = ?, stop_reason = ?
		WHERE id = ?`),
		time.Now().UTC().Truncate(time.Second), result.Evaluated, result.Failures,
		result.Generations, best, string(result.StopReason), id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrRunNotFound
	}
	return nil
}

// GetRun loads a run by ID.
func (d *Database) GetRun(id int64) (*Run, error) {
	row := d.db.QueryRow(d.qb.Build(`
		SELECT id, mode, seed, started_at, finished_at, evaluated, failures, generations, best_score, stop_reason
		FROM search_runs WHERE id = ?`), id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return run, err
}

// ListRuns returns the most recent runs, newest first. A non-positive limit
// returns every run.
func (d *Database) ListRuns(limit int) ([]*Run, error) {
	query := `
		SELECT id, mode, seed, started_at, finished_at, evaluated, failures, generations, best_score, stop_reason
		FROM search_runs ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.Query(d.qb.Build(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		run      Run
		seed     int64
		finished sql.NullTime
		best     sql.NullFloat64
	)
	err := s.Scan(&run.ID, &run.Mode, &seed, &run.StartedAt, &finished,
		&run.Evaluated, &run.Failures, &run.Generations, &best, &run.StopReason)
	if err != nil {
		return nil, err
	}

	run.Seed = uint64(seed)
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	if best.Valid {
		v := best.Float64
		run.BestScore = &v
	}
	return &run, nil
}
