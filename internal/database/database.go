// Package database archives search runs and the triples they discover in
// SQLite or PostgreSQL.
package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Database wraps the connection pool and the dialect used to talk to it.
type Database struct {
	db      *sql.DB
	dialect Dialect
	qb      *QueryBuilder
}

// Open opens or creates the SQLite archive at the given path.
func Open(path string) (*Database, error) {
	return OpenWithConfig(DefaultConfig(path))
}

// OpenWithConfig opens the archive described by cfg and runs migrations.
func OpenWithConfig(cfg Config) (*Database, error) {
	var (
		dialect Dialect
		dsn     string
	)

	switch cfg.Driver {
	case "", string(DialectSQLite):
		if cfg.SQLitePath == "" {
			return nil, fmt.Errorf("sqlite path is empty")
		}
		dir := filepath.Dir(cfg.SQLitePath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dialect = NewDialect(DialectSQLite)
		dsn = cfg.SQLitePath
	case string(DialectPostgres):
		dialect = NewDialect(DialectPostgres)
		dsn = cfg.Postgres.DSN()
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, ok := dialect.(*PostgresDialect); ok {
		if cfg.Postgres.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
		}
		if cfg.Postgres.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
		}
		if cfg.Postgres.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
	} else {
		// PRAGMAs are per connection; a single connection keeps them in force.
		db.SetMaxOpenConns(1)
	}

	for _, stmt := range dialect.InitStatements() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init statement %q failed: %w", stmt, err)
		}
	}

	d := &Database{db: db, dialect: dialect, qb: NewQueryBuilder(dialect)}

	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return d, nil
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// Dialect returns the dialect the archive was opened with.
func (d *Database) Dialect() Dialect {
	return d.dialect
}

// migrate creates the schema if it doesn't exist.
func (d *Database) migrate() error {
	pk := d.dialect.SerialPrimaryKey()
	float := d.dialect.FloatType()

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS search_runs (
			id ` + pk + `,
			mode TEXT NOT NULL,
			seed BIGINT NOT NULL,
			started_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			finished_at TIMESTAMP,
			evaluated BIGINT NOT NULL DEFAULT 0,
			failures BIGINT NOT NULL DEFAULT 0,
			generations INTEGER NOT NULL DEFAULT 0,
			best_score ` + float + `,
			stop_reason TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS triples (
			id ` + pk + `,
			run_id BIGINT REFERENCES search_runs(id) ON DELETE CASCADE,
			fingerprint TEXT UNIQUE NOT NULL,
			offense_atk ` + float + ` NOT NULL,
			offense_def ` + float + ` NOT NULL,
			offense_rev ` + float + ` NOT NULL,
			offense_hp INTEGER NOT NULL,
			offense_spd ` + float + ` NOT NULL DEFAULT 0,
			balanced_atk ` + float + ` NOT NULL,
			balanced_def ` + float + ` NOT NULL,
			balanced_rev ` + float + ` NOT NULL,
			balanced_hp INTEGER NOT NULL,
			balanced_spd ` + float + ` NOT NULL DEFAULT 0,
			tank_atk ` + float + ` NOT NULL,
			tank_def ` + float + ` NOT NULL,
			tank_rev ` + float + ` NOT NULL,
			tank_hp INTEGER NOT NULL,
			tank_spd ` + float + ` NOT NULL DEFAULT 0,
			score ` + float + ` NOT NULL,
			rounds_ot INTEGER NOT NULL,
			rounds_tb INTEGER NOT NULL,
			rounds_bo INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_triples_run_id ON triples(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_triples_score ON triples(score)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}

	return nil
}

// insert runs an INSERT and returns the new row id, using LastInsertId or
// RETURNING depending on the dialect.
func (d *Database) insert(query string, args ...any) (int64, error) {
	if d.dialect.SupportsLastInsertID() {
		result, err := d.db.Exec(d.qb.Build(query), args...)
		if err != nil {
			return 0, err
		}
		return result.LastInsertId()
	}

	var id int64
	err := d.db.QueryRow(d.qb.BuildWithReturning(query, "id"), args...).Scan(&id)
	return id, err
}

// DB returns the underlying sql.DB for advanced operations.
func (d *Database) DB() *sql.DB {
	return d.db
}
