package database

import (
	"database/sql"
	"fmt"

	"github.com/lawnchairsociety/rpsbalance/internal/logger"
)

// CopyStats counts what CopyArchive moved.
type CopyStats struct {
	Runs       int
	Triples    int
	Duplicates int
}

// CopyArchive copies every run and triple from src into dst. Run IDs are
// reassigned by dst; triples already present in dst by fingerprint are
// skipped. With dryRun set nothing is written and the counts reflect src.
func CopyArchive(src, dst *Database, dryRun bool) (CopyStats, error) {
	var stats CopyStats

	runs, err := src.ListRuns(0)
	if err != nil {
		return stats, err
	}

	// ListRuns is newest first; copy oldest first so IDs keep their order.
	for i := len(runs) - 1; i >= 0; i-- {
		run := runs[i]
		triples, err := src.ListTriples(run.ID)
		if err != nil {
			return stats, fmt.Errorf("run %d: %w", run.ID, err)
		}
		stats.Runs++

		if dryRun {
			stats.Triples += len(triples)
			continue
		}

		newID, err := dst.importRun(run)
		if err != nil {
			return stats, fmt.Errorf("run %d: %w", run.ID, err)
		}
		for _, st := range triples {
			saved, err := dst.SaveTriple(newID, st.Triple, st.Score, st.Rounds)
			if err != nil {
				return stats, fmt.Errorf("run %d triple %d: %w", run.ID, st.ID, err)
			}
			if saved {
				stats.Triples++
			} else {
				stats.Duplicates++
			}
		}
		logger.Debug("Run copied", "source_id", run.ID, "target_id", newID, "triples", len(triples))
	}

	return stats, nil
}

// importRun inserts a complete run row and returns its new ID.
func (d *Database) importRun(run *Run) (int64, error) {
	var (
		finished sql.NullTime
		best     sql.NullFloat64
	)
	if run.FinishedAt != nil {
		finished = sql.NullTime{Time: *run.FinishedAt, Valid: true}
	}
	if run.BestScore != nil {
		best = sql.NullFloat64{Float64: *run.BestScore, Valid: true}
	}

	return d.insert(`
		INSERT INTO search_runs (mode, seed, started_at, finished_at, evaluated, failures, generations, best_score, stop_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.Mode, int64(run.Seed), run.StartedAt, finished,
		run.Evaluated, run.Failures, run.Generations, best, run.StopReason,
	)
}
