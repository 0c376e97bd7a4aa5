package main

import (
	"BTCFiRisk/internal/config"
	"BTCFiRisk/internal/persistence"
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
)

func usage() {
	fmt.Println("Usage: migrate <up|down|status>")
	fmt.Println("  up     - apply all pending migrations")
	fmt.Println("  down   - roll back the last migration")
	fmt.Println("  status - list migrations and whether they are applied")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  BTCFI_POSTGRES_DSN    - Postgres connection string")
	fmt.Println("  BTCFI_MIGRATIONS_DIR  - path to migrations directory (default: migrations)")
	fmt.Println("  BTCFI_CONFIG          - optional YAML config file")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	// Only the postgres section matters here, so the rest of the config is
	// not validated.
	cfg, err := config.LoadUnvalidated()
	if err != nil {
		log.Fatalf("FATAL: load config: %v", err)
	}
	if cfg.Postgres.DSN == "" {
		log.Fatal("FATAL: BTCFI_POSTGRES_DSN is required")
	}

	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		log.Fatalf("FATAL: open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, cfg.Postgres.MigrationsDir)

	switch os.Args[1] {
	case "up":
		if err := migrator.Up(ctx); err != nil {
			log.Fatalf("FATAL: migrate up: %v", err)
		}
		log.Println("INFO: all migrations applied")

	case "down":
		if err := migrator.Down(ctx); err != nil {
			log.Fatalf("FATAL: migrate down: %v", err)
		}
		log.Println("INFO: last migration rolled back")

	case "status":
		migrations, err := migrator.Status(ctx)
		if err != nil {
			log.Fatalf("FATAL: migrate status: %v", err)
		}
		for _, m := range migrations {
			mark := "pending"
			if m.Applied {
				mark = "applied"
			}
			fmt.Printf("%s  %-8s %s\n", m.Version, mark, m.Filename)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s (use 'up', 'down' or 'status')\n", os.Args[1])
		os.Exit(1)
	}
}
