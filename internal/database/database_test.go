package database

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lawnchairsociety/rpsbalance/internal/archetype"
	"github.com/lawnchairsociety/rpsbalance/internal/evolve"
	"github.com/lawnchairsociety/rpsbalance/internal/search"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func knownTriple() archetype.Triple {
	return archetype.Triple{
		Offense:  archetype.Build{Name: archetype.Offense, Atk: 6, Defense: 1, Revenge: 1, HP: 16},
		Balanced: archetype.Build{Name: archetype.Balanced, Atk: 4, Defense: 2, Revenge: 2, HP: 20},
		Tank:     archetype.Build{Name: archetype.Tank, Atk: 1, Defense: 3, Revenge: 3, HP: 23},
	}
}

func TestOpen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}

	for _, table := range []string{"search_runs", "triples"} {
		var count int
		if err := db.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
			t.Errorf("Failed to query %s table: %v", table, err)
		}
	}
}

func TestOpenCreatesDirectory(t *testing.T) {
	nestedPath := filepath.Join(t.TempDir(), "nested", "dir", "test.db")

	db, err := Open(nestedPath)
	if err != nil {
		t.Fatalf("Failed to open database with nested path: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(nestedPath); os.IsNotExist(err) {
		t.Error("Database file was not created in nested directory")
	}
}

func TestOpenWithConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"unknown driver", Config{Driver: "oracle"}, "unsupported database driver"},
		{"empty sqlite path", Config{Driver: "sqlite"}, "sqlite path is empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := OpenWithConfig(tt.cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("OpenWithConfig() error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestClose(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	if err := db.Close(); err != nil {
		t.Errorf("Failed to close database: %v", err)
	}

	var count int
	if err := db.db.QueryRow("SELECT COUNT(*) FROM search_runs").Scan(&count); err == nil {
		t.Error("Expected error querying closed database")
	}
}

func TestMigration_Pragmas(t *testing.T) {
	db := openTestDB(t)

	var foreignKeys int
	if err := db.db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys); err != nil {
		t.Fatalf("Failed to check foreign_keys pragma: %v", err)
	}
	if foreignKeys != 1 {
		t.Errorf("foreign_keys = %d, want 1", foreignKeys)
	}

	var journalMode string
	if err := db.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("Failed to check journal_mode pragma: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("Expected WAL mode, got %s", journalMode)
	}
}

func TestMigration_TriplesSchema(t *testing.T) {
	db := openTestDB(t)

	rows, err := db.db.Query("PRAGMA table_info(triples)")
	if err != nil {
		t.Fatalf("table_info: %v", err)
	}
	defer rows.Close()

	columns := map[string]bool{}
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, ctype      string
			dflt             any
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			t.Fatalf("scan: %v", err)
		}
		columns[name] = true
	}

	for _, want := range []string{"fingerprint", "offense_atk", "balanced_hp", "tank_spd", "score", "rounds_bo", "created_at"} {
		if !columns[want] {
			t.Errorf("triples table missing column %s", want)
		}
	}
}

func TestMigration_Idempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db1, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open database first time: %v", err)
	}
	run, err := db1.CreateRun(search.ModeSampling, 9)
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	db1.Close()

	db2, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open database second time: %v", err)
	}
	defer db2.Close()

	got, err := db2.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun() after reopen error = %v", err)
	}
	if got.Seed != 9 {
		t.Errorf("Seed = %d, want 9", got.Seed)
	}
}

func TestMigration_ForeignKeyConstraint(t *testing.T) {
	db := openTestDB(t)

	if _, err := db.SaveTriple(999, knownTriple(), 0, [3]int{6, 7, 4}); err == nil {
		t.Error("expected a foreign key error for a missing run")
	}
}

func TestMigration_CascadeDelete(t *testing.T) {
	db := openTestDB(t)

	run, err := db.CreateRun(search.ModeSampling, 1)
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if _, err := db.SaveTriple(run.ID, knownTriple(), 0, [3]int{6, 7, 4}); err != nil {
		t.Fatalf("SaveTriple() error = %v", err)
	}

	if _, err := db.db.Exec("DELETE FROM search_runs WHERE id = ?", run.ID); err != nil {
		t.Fatalf("delete run: %v", err)
	}

	triples, err := db.ListTriples(run.ID)
	if err != nil {
		t.Fatalf("ListTriples() error = %v", err)
	}
	if len(triples) != 0 {
		t.Errorf("triples survived run deletion: %d", len(triples))
	}
}

func TestFinishRunRecordsOutcome(t *testing.T) {
	db := openTestDB(t)

	run, err := db.CreateRun(search.ModeOptimization, 42)
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if run.ID == 0 || run.StartedAt.IsZero() {
		t.Errorf("run = %+v", run)
	}

	result := search.Result{
		Mode:        search.ModeOptimization,
		Best:        &search.Discovery{Triple: knownTriple(), Score: 1.25},
		Evaluated:   1500,
		Failures:    3,
		Generations: 99,
		StopReason:  evolve.StopConverged,
	}
	if err := db.FinishRun(run.ID, result); err != nil {
		t.Fatalf("FinishRun() error = %v", err)
	}

	got, err := db.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Mode != "optimization" || got.Seed != 42 {
		t.Errorf("mode/seed = %s/%d", got.Mode, got.Seed)
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt not set")
	}
	if got.Evaluated != 1500 || got.Failures != 3 || got.Generations != 99 {
		t.Errorf("counters = %d/%d/%d", got.Evaluated, got.Failures, got.Generations)
	}
	if got.BestScore == nil || *got.BestScore != 1.25 {
		t.Errorf("BestScore = %v, want 1.25", got.BestScore)
	}
	if got.StopReason != string(evolve.StopConverged) {
		t.Errorf("StopReason = %q", got.StopReason)
	}
}

func TestFinishRunWithoutBest(t *testing.T) {
	db := openTestDB(t)

	run, _ := db.CreateRun(search.ModeSampling, 1)
	if err := db.FinishRun(run.ID, search.Result{StopReason: search.StopExhausted}); err != nil {
		t.Fatalf("FinishRun() error = %v", err)
	}
	got, _ := db.GetRun(run.ID)
	if got.BestScore != nil {
		t.Errorf("BestScore = %v, want nil", *got.BestScore)
	}
}

func TestFinishRunNotFound(t *testing.T) {
	db := openTestDB(t)

	if err := db.FinishRun(404, search.Result{}); err != ErrRunNotFound {
		t.Errorf("FinishRun() error = %v, want ErrRunNotFound", err)
	}
	if _, err := db.GetRun(404); err != ErrRunNotFound {
		t.Errorf("GetRun() error = %v, want ErrRunNotFound", err)
	}
}

func TestRunSeedHighBit(t *testing.T) {
	db := openTestDB(t)

	seed := uint64(1<<63 + 12345)
	run, err := db.CreateRun(search.ModeSampling, seed)
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	got, err := db.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Seed != seed {
		t.Errorf("Seed = %d, want %d", got.Seed, seed)
	}
}

func TestListRuns(t *testing.T) {
	db := openTestDB(t)

	for seed := uint64(1); seed <= 4; seed++ {
		if _, err := db.CreateRun(search.ModeSampling, seed); err != nil {
			t.Fatalf("CreateRun() error = %v", err)
		}
	}

	tests := []struct {
		limit int
		want  []uint64
	}{
		{2, []uint64{4, 3}},
		{0, []uint64{4, 3, 2, 1}},
		{10, []uint64{4, 3, 2, 1}},
	}
	for _, tt := range tests {
		runs, err := db.ListRuns(tt.limit)
		if err != nil {
			t.Fatalf("ListRuns(%d) error = %v", tt.limit, err)
		}
		if len(runs) != len(tt.want) {
			t.Fatalf("ListRuns(%d) returned %d runs, want %d", tt.limit, len(runs), len(tt.want))
		}
		for i, run := range runs {
			if run.Seed != tt.want[i] {
				t.Errorf("ListRuns(%d)[%d].Seed = %d, want %d", tt.limit, i, run.Seed, tt.want[i])
			}
		}
	}
}
