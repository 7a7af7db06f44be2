// migrate-to-postgres copies a SQLite results archive into PostgreSQL.
//
// Usage:
//
//	go run ./cmd/migrate-to-postgres \
//	    -sqlite data/balancer.db \
//	    -pg-host localhost \
//	    -pg-port 5432 \
//	    -pg-user balancer \
//	    -pg-password balancer \
//	    -pg-database balancer
package main

import (
	"flag"
	"log"

	"github.com/lawnchairsociety/rpsbalance/internal/database"
)

func main() {
	sqlitePath := flag.String("sqlite", "data/balancer.db", "Path to SQLite archive")
	pgHost := flag.String("pg-host", "localhost", "PostgreSQL host")
	pgPort := flag.Int("pg-port", 5432, "PostgreSQL port")
	pgUser := flag.String("pg-user", "balancer", "PostgreSQL user")
	pgPassword := flag.String("pg-password", "balancer", "PostgreSQL password")
	pgDatabase := flag.String("pg-database", "balancer", "PostgreSQL database name")
	pgSSLMode := flag.String("pg-sslmode", "disable", "PostgreSQL SSL mode")
	dryRun := flag.Bool("dry-run", false, "Show what would be copied without making changes")
	flag.Parse()

	log.Println("SQLite to PostgreSQL Archive Migration")
	log.Println("======================================")

	log.Printf("Opening SQLite archive: %s", *sqlitePath)
	src, err := database.Open(*sqlitePath)
	if err != nil {
		log.Fatalf("Failed to open SQLite archive: %v", err)
	}
	defer src.Close()

	pg := database.DefaultPostgresConfig()
	pg.Host = *pgHost
	pg.Port = *pgPort
	pg.User = *pgUser
	pg.Password = *pgPassword
	pg.Database = *pgDatabase
	pg.SSLMode = *pgSSLMode

	log.Printf("Opening PostgreSQL archive: %s@%s:%d/%s", pg.User, pg.Host, pg.Port, pg.Database)
	dst, err := database.OpenWithConfig(database.Config{Driver: "postgres", Postgres: pg})
	if err != nil {
		log.Fatalf("Failed to open PostgreSQL archive: %v", err)
	}
	defer dst.Close()

	if *dryRun {
		log.Println("DRY RUN MODE - No changes will be made")
	}

	stats, err := database.CopyArchive(src, dst, *dryRun)
	if err != nil {
		log.Fatalf("Migration failed after %d runs: %v", stats.Runs, err)
	}

	log.Println("======================================")
	log.Printf("Migration complete! Runs: %d, triples: %d, duplicates skipped: %d",
		stats.Runs, stats.Triples, stats.Duplicates)
	if *dryRun {
		log.Println("(DRY RUN - No actual changes were made)")
	}
}
