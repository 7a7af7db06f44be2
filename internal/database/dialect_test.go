package database

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lib/pq"
)

func TestNewDialect(t *testing.T) {
	tests := []struct {
		dialectType DialectType
		want        string
	}{
		{DialectSQLite, "*database.SQLiteDialect"},
		{DialectPostgres, "*database.PostgresDialect"},
		{"unknown", "*database.SQLiteDialect"},
	}
	for _, tt := range tests {
		if got := fmt.Sprintf("%T", NewDialect(tt.dialectType)); got != tt.want {
			t.Errorf("NewDialect(%q) = %s, want %s", tt.dialectType, got, tt.want)
		}
	}
}

// =============================================================================
// SQLite Dialect Tests
// =============================================================================

func TestSQLiteDialect(t *testing.T) {
	d := &SQLiteDialect{}

	if got := d.DriverName(); got != "sqlite" {
		t.Errorf("DriverName() = %q, want %q", got, "sqlite")
	}
	for _, pos := range []int{1, 2, 10, 100} {
		if got := d.Placeholder(pos); got != "?" {
			t.Errorf("Placeholder(%d) = %q, want ?", pos, got)
		}
	}
	if !d.SupportsLastInsertID() {
		t.Error("SupportsLastInsertID() = false, want true")
	}
	if got := d.ReturningClause("id"); got != "" {
		t.Errorf("ReturningClause() = %q, want empty string", got)
	}
	if got := d.SerialPrimaryKey(); got != "INTEGER PRIMARY KEY AUTOINCREMENT" {
		t.Errorf("SerialPrimaryKey() = %q", got)
	}
	if got := d.FloatType(); got != "REAL" {
		t.Errorf("FloatType() = %q, want REAL", got)
	}
}

func TestSQLiteDialect_InitStatements(t *testing.T) {
	d := &SQLiteDialect{}
	stmts := d.InitStatements()

	expected := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}

	if len(stmts) != len(expected) {
		t.Fatalf("InitStatements() returned %d statements, want %d", len(stmts), len(expected))
	}
	for i, want := range expected {
		if stmts[i] != want {
			t.Errorf("InitStatements()[%d] = %q, want %q", i, stmts[i], want)
		}
	}
}

func TestSQLiteDialect_IsDuplicateKeyError(t *testing.T) {
	d := &SQLiteDialect{}
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("some random error"), false},
		{errors.New("constraint failed: UNIQUE constraint failed: triples.fingerprint (2067)"), true},
		{errors.New("FOREIGN KEY constraint failed"), false},
	}
	for _, tt := range tests {
		if got := d.IsDuplicateKeyError(tt.err); got != tt.want {
			t.Errorf("IsDuplicateKeyError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

// =============================================================================
// PostgreSQL Dialect Tests
// =============================================================================

func TestPostgresDialect(t *testing.T) {
	d := &PostgresDialect{}

	if got := d.DriverName(); got != "postgres" {
		t.Errorf("DriverName() = %q, want %q", got, "postgres")
	}
	placeholders := map[int]string{1: "$1", 2: "$2", 10: "$10", 100: "$100"}
	for pos, want := range placeholders {
		if got := d.Placeholder(pos); got != want {
			t.Errorf("Placeholder(%d) = %q, want %q", pos, got, want)
		}
	}
	if d.SupportsLastInsertID() {
		t.Error("SupportsLastInsertID() = true, want false")
	}
	if got := d.ReturningClause("id"); got != " RETURNING id" {
		t.Errorf("ReturningClause(id) = %q", got)
	}
	if stmts := d.InitStatements(); len(stmts) != 0 {
		t.Errorf("InitStatements() = %v, want none", stmts)
	}
	if got := d.SerialPrimaryKey(); got != "BIGSERIAL PRIMARY KEY" {
		t.Errorf("SerialPrimaryKey() = %q", got)
	}
	if got := d.FloatType(); got != "DOUBLE PRECISION" {
		t.Errorf("FloatType() = %q, want DOUBLE PRECISION", got)
	}
}

func TestPostgresDialect_IsDuplicateKeyError(t *testing.T) {
	d := &PostgresDialect{}
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"random", errors.New("some random error"), false},
		{"pq unique violation", &pq.Error{Code: "23505"}, true},
		{"wrapped pq error", fmt.Errorf("save: %w", &pq.Error{Code: "23505"}), true},
		{"pq foreign key", &pq.Error{Code: "23503"}, false},
		{"message", errors.New("duplicate key value violates unique constraint"), true},
		{"sqlstate text", errors.New("ERROR: duplicate key value (SQLSTATE 23505)"), true},
		{"foreign key text", errors.New("foreign key constraint"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.IsDuplicateKeyError(tt.err); got != tt.want {
				t.Errorf("IsDuplicateKeyError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

// =============================================================================
// QueryBuilder Tests
// =============================================================================

func TestQueryBuilder_Build(t *testing.T) {
	tests := []struct {
		name    string
		dialect Dialect
		input   string
		want    string
	}{
		{"sqlite unchanged", &SQLiteDialect{}, "SELECT * FROM triples WHERE run_id = ? AND score < ?", "SELECT * FROM triples WHERE run_id = ? AND score < ?"},
		{"postgres no params", &PostgresDialect{}, "SELECT * FROM search_runs", "SELECT * FROM search_runs"},
		{"postgres one", &PostgresDialect{}, "SELECT * FROM search_runs WHERE id = ?", "SELECT * FROM search_runs WHERE id = $1"},
		{"postgres insert", &PostgresDialect{}, "INSERT INTO search_runs (mode, seed) VALUES (?, ?)", "INSERT INTO search_runs (mode, seed) VALUES ($1, $2)"},
		{"postgres quoted literal", &PostgresDialect{}, "SELECT * FROM t WHERE a = '?' AND b = ?", "SELECT * FROM t WHERE a = '?' AND b = $1"},
		{
			"postgres many",
			&PostgresDialect{},
			"UPDATE t SET a = ?, b = ?, c = ?, d = ?, e = ?, f = ?, g = ?, h = ?, i = ?, j = ? WHERE id = ?",
			"UPDATE t SET a = $1, b = $2, c = $3, d = $4, e = $5, f = $6, g = $7, h = $8, i = $9, j = $10 WHERE id = $11",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewQueryBuilder(tt.dialect).Build(tt.input); got != tt.want {
				t.Errorf("Build(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestQueryBuilder_BuildWithReturning(t *testing.T) {
	query := "INSERT INTO search_runs (mode, seed) VALUES (?, ?)"

	if got := NewQueryBuilder(&SQLiteDialect{}).BuildWithReturning(query, "id"); got != query {
		t.Errorf("sqlite BuildWithReturning = %q, want %q", got, query)
	}

	want := "INSERT INTO search_runs (mode, seed) VALUES ($1, $2) RETURNING id"
	if got := NewQueryBuilder(&PostgresDialect{}).BuildWithReturning(query, "id"); got != want {
		t.Errorf("postgres BuildWithReturning = %q, want %q", got, want)
	}
}

// =============================================================================
// Config Tests
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	path := "/path/to/balancer.db"
	cfg := DefaultConfig(path)

	if cfg.Driver != "sqlite" {
		t.Errorf("Driver = %q, want %q", cfg.Driver, "sqlite")
	}
	if cfg.SQLitePath != path {
		t.Errorf("SQLitePath = %q, want %q", cfg.SQLitePath, path)
	}
}

func TestDefaultPostgresConfig(t *testing.T) {
	cfg := DefaultPostgresConfig()

	if cfg.Host != "localhost" || cfg.Port != 5432 || cfg.SSLMode != "disable" {
		t.Errorf("connection defaults = %+v", cfg)
	}
	if cfg.MaxOpenConns != 25 || cfg.MaxIdleConns != 5 {
		t.Errorf("pool = %d/%d, want 25/5", cfg.MaxOpenConns, cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime != 5*time.Minute {
		t.Errorf("ConnMaxLifetime = %v, want %v", cfg.ConnMaxLifetime, 5*time.Minute)
	}
}

func TestPostgresConfig_DSN(t *testing.T) {
	cfg := PostgresConfig{
		Host:     "db.example.com",
		Port:     5433,
		User:     "balancer",
		Password: "secret",
		Database: "balance",
		SSLMode:  "require",
	}
	want := "host=db.example.com port=5433 user=balancer password=secret dbname=balance sslmode=require"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}

func TestDialect_InterfaceCompliance(t *testing.T) {
	var _ Dialect = (*SQLiteDialect)(nil)
	var _ Dialect = (*PostgresDialect)(nil)
}
