// Command migrate applies the embedded schema migrations.
//
//	migrate up
//	migrate down [-steps N]
//	migrate version
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/joho/godotenv"

	"github.com/noah-isme/backend-kasir/internal/db"
	"github.com/noah-isme/backend-kasir/internal/obs"
)

func main() {
	_ = godotenv.Load()
	logger := obs.NewLogger("console", "info").With().Str("component", "migrate").Logger()

	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	steps := fs.Int("steps", 1, "migrations to roll back with down")
	dsn := fs.String("database-url", os.Getenv("DATABASE_URL"), "postgres connection string")
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: migrate up|down|version [flags]")
		os.Exit(2)
	}
	cmd := os.Args[1]
	_ = fs.Parse(os.Args[2:])
	if *dsn == "" {
		logger.Fatal().Msg("DATABASE_URL is required")
	}

	m, err := db.NewMigrator(*dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("open migrator")
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			logger.Error().AnErr("source", srcErr).AnErr("database", dbErr).Msg("close migrator")
		}
	}()

	switch cmd {
	case "up":
		err = db.MigrateUp(m)
	case "down":
		err = db.MigrateDown(m, *steps)
	case "version":
		version, dirty, verr := m.Version()
		if errors.Is(verr, migrate.ErrNilVersion) {
			logger.Info().Msg("no migrations applied")
			return
		}
		err = verr
		if err == nil {
			logger.Info().Uint("version", version).Bool("dirty", dirty).Msg("schema version")
			return
		}
	default:
		logger.Fatal().Str("command", cmd).Msg("unknown command")
	}
	if err != nil {
		logger.Fatal().Err(err).Str("command", cmd).Msg("migration failed")
	}
	logger.Info().Str("command", cmd).Msg("migration complete")
}
