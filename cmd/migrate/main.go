// Command migrate applies, rolls back and inspects database migrations.
//
// Usage:
//
//	migrate up      apply pending migrations
//	migrate down    roll back the latest migration
//	migrate status  list applied migrations
//	migrate seed    apply seed data idempotently
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"tavolo.app/internal/config"
	"tavolo.app/internal/migrate"
	"tavolo.app/internal/obs"
)

const (
	migrationsDir = "ops/migrations/sql"
	seedsDir      = "ops/migrations/seeds"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		obs.LogEntry("error", "migrate failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: migrate <up|down|status|seed>")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.PGDSN == "" {
		return errors.New("TAVOLO_PG_DSN must be set for migrations")
	}

	db, err := sql.Open("pgx", cfg.PGDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return err
	}

	mgr := migrate.NewManager(db, migrationsDir, seedsDir)

	switch args[0] {
	case "up":
		if err := mgr.Up(ctx); err != nil {
			return err
		}
		obs.LogEntry("info", "migrations applied", nil)
	case "down":
		if err := mgr.Down(ctx); err != nil {
			return err
		}
		obs.LogEntry("info", "migration rolled back", nil)
	case "status":
		applied, err := mgr.Status(ctx)
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
	case "seed":
		if err := mgr.Seed(ctx); err != nil {
			return err
		}
		obs.LogEntry("info", "seeds applied", nil)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
	return nil
}
