package database

import (
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/lawnchairsociety/rpsbalance/internal/search"
)

// getPostgresTestConfig returns PostgreSQL config if available, nil otherwise.
// Set these environment variables to run PostgreSQL tests:
//
//	RPS_TEST_POSTGRES          (any value enables the tests)
//	RPS_TEST_POSTGRES_HOST     (default: localhost)
//	RPS_TEST_POSTGRES_PORT     (default: 5432)
//	RPS_TEST_POSTGRES_USER     (default: balancer)
//	RPS_TEST_POSTGRES_PASSWORD (default: balancer)
//	RPS_TEST_POSTGRES_DATABASE (default: balancer_test)
func getPostgresTestConfig() *Config {
	if os.Getenv("RPS_TEST_POSTGRES") == "" {
		return nil
	}

	env := func(key, fallback string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return fallback
	}

	port := 5432
	if portStr := os.Getenv("RPS_TEST_POSTGRES_PORT"); portStr != "" {
		fmt.Sscanf(portStr, "%d", &port)
	}

	return &Config{
		Driver: "postgres",
		Postgres: PostgresConfig{
			Host:            env("RPS_TEST_POSTGRES_HOST", "localhost"),
			Port:            port,
			User:            env("RPS_TEST_POSTGRES_USER", "balancer"),
			Password:        env("RPS_TEST_POSTGRES_PASSWORD", "balancer"),
			Database:        env("RPS_TEST_POSTGRES_DATABASE", "balancer_test"),
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 1 * time.Minute,
		},
	}
}

// skipIfNoPostgres skips the test if PostgreSQL is not available
func skipIfNoPostgres(t *testing.T) *Config {
	cfg := getPostgresTestConfig()
	if cfg == nil {
		t.Skip("Skipping PostgreSQL test: RPS_TEST_POSTGRES not set")
	}
	return cfg
}

// setupPostgresTestDB opens a PostgreSQL connection and clears archived data.
func setupPostgresTestDB(t *testing.T, cfg *Config) *Database {
	db, err := OpenWithConfig(*cfg)
	if err != nil {
		t.Fatalf("Failed to open PostgreSQL database: %v", err)
	}

	clean := func() {
		for _, table := range []string{"triples", "search_runs"} {
			if _, err := db.db.Exec(fmt.Sprintf("DELETE FROM %s", table)); err != nil {
				t.Logf("Note: Could not clean table %s: %v", table, err)
			}
		}
	}
	clean()

	t.Cleanup(func() {
		clean()
		db.Close()
	})

	return db
}

func TestPostgres_OpenWithConfig(t *testing.T) {
	cfg := skipIfNoPostgres(t)
	db := setupPostgresTestDB(t, cfg)

	var result int
	if err := db.db.QueryRow("SELECT 1").Scan(&result); err != nil {
		t.Fatalf("Failed to query PostgreSQL: %v", err)
	}
	if result != 1 {
		t.Errorf("Expected 1, got %d", result)
	}
	if _, ok := db.Dialect().(*PostgresDialect); !ok {
		t.Errorf("dialect = %T, want *PostgresDialect", db.Dialect())
	}
}

func TestPostgres_ConnectionPoolSettings(t *testing.T) {
	cfg := skipIfNoPostgres(t)
	db := setupPostgresTestDB(t, cfg)

	if got := db.db.Stats().MaxOpenConnections; got != cfg.Postgres.MaxOpenConns {
		t.Errorf("MaxOpenConnections = %d, want %d", got, cfg.Postgres.MaxOpenConns)
	}
}

func TestPostgres_RunLifecycle(t *testing.T) {
	cfg := skipIfNoPostgres(t)
	db := setupPostgresTestDB(t, cfg)

	run, err := db.CreateRun(search.ModeOptimization, 1<<63+7)
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if run.ID == 0 {
		t.Fatal("RETURNING id produced zero")
	}

	result := search.Result{
		Best:       &search.Discovery{Triple: knownTriple(), Score: 0.5},
		Evaluated:  100,
		StopReason: search.StopExhausted,
	}
	if err := db.FinishRun(run.ID, result); err != nil {
		t.Fatalf("FinishRun() error = %v", err)
	}

	got, err := db.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Seed != 1<<63+7 || got.Evaluated != 100 || got.BestScore == nil || *got.BestScore != 0.5 {
		t.Errorf("run = %+v", got)
	}
}

func TestPostgres_SaveTripleDuplicate(t *testing.T) {
	cfg := skipIfNoPostgres(t)
	db := setupPostgresTestDB(t, cfg)

	run, _ := db.CreateRun(search.ModeSampling, 1)
	saved, err := db.SaveTriple(run.ID, knownTriple(), 0, [3]int{6, 7, 4})
	if err != nil || !saved {
		t.Fatalf("SaveTriple() = %v, %v", saved, err)
	}
	saved, err = db.SaveTriple(run.ID, knownTriple(), 0, [3]int{6, 7, 4})
	if err != nil || saved {
		t.Errorf("duplicate SaveTriple() = %v, %v; want false, nil", saved, err)
	}
}

func TestPostgres_ConcurrentWrites(t *testing.T) {
	cfg := skipIfNoPostgres(t)
	db := setupPostgresTestDB(t, cfg)

	run, err := db.CreateRun(search.ModeSampling, 1)
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	const numGoroutines = 10
	const writesPerGoroutine = 5

	var wg sync.WaitGroup
	errs := make(chan error, numGoroutines*writesPerGoroutine)

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := 0; j < writesPerGoroutine; j++ {
				tr := knownTriple()
				tr.Offense.Atk = float64(100 + workerID*writesPerGoroutine + j)
				if _, err := db.SaveTriple(run.ID, tr, float64(j), [3]int{6, 7, 4}); err != nil {
					errs <- fmt.Errorf("worker %d: %v", workerID, err)
				}
			}
		}(i)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}

	stored, err := db.ListTriples(run.ID)
	if err != nil {
		t.Fatalf("ListTriples() error = %v", err)
	}
	if len(stored) != numGoroutines*writesPerGoroutine {
		t.Errorf("stored %d triples, want %d", len(stored), numGoroutines*writesPerGoroutine)
	}
}
