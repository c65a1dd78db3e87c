package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"schoolgate.org/internal/migrate"
)

const usageText = `usage: migrate [flags] <command>

commands:
  up         apply pending schema migrations
  down       roll back the most recent migration
  seed       load idempotent seed data (demo identities, password <username>123)
  status     list applied migrations in order
  bootstrap  up followed by seed; prepares a fresh local database

flags:
`

func main() {
	log.SetFlags(0)
	var (
		dsn        = flag.String("dsn", os.Getenv("SCHOOLGATE_PG_DSN"), "PostgreSQL DSN (defaults to SCHOOLGATE_PG_DSN)")
		migrations = flag.String("migrations", "ops/migrations/sql", "schema migration directory")
		seeds      = flag.String("seeds", "ops/migrations/seeds", "seed directory")
	)
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usageText)
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := run(*dsn, *migrations, *seeds, flag.Arg(0)); err != nil {
		log.Fatal(err)
	}
}

func run(dsn, migrationsDir, seedsDir, command string) error {
	if command == "" {
		flag.Usage()
		return errors.New("missing command")
	}
	if dsn == "" {
		return errors.New("missing DSN: set -dsn or SCHOOLGATE_PG_DSN")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	runner := migrate.NewRunner(db, migrationsDir, seedsDir)

	switch command {
	case "up":
		return runner.Up(ctx)
	case "down":
		return runner.Down(ctx)
	case "seed":
		return runner.Seed(ctx)
	case "bootstrap":
		if err := runner.Up(ctx); err != nil {
			return err
		}
		return runner.Seed(ctx)
	case "status":
		applied, err := runner.Status(ctx)
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			fmt.Println("no migrations applied")
			return nil
		}
		for _, name := range applied {
			fmt.Println(name)
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}
