package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/joho/godotenv"

	"sorapixel/internal/infra"
	"sorapixel/migrations"
)

func main() {
	_ = godotenv.Load()
	logger := infra.NewLogger(os.Getenv("APP_ENV")).With().Str("cmd", "migrate").Logger()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL is required")
	}

	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open embedded migrations")
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dbURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize migrator")
	}
	defer func() {
		if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
			logger.Error().AnErr("source", sourceErr).AnErr("database", dbErr).Msg("failed to close migrator")
		}
	}()

	switch command {
	case "up":
		err := m.Up()
		switch {
		case errors.Is(err, migrate.ErrNoChange):
			logger.Info().Msg("no change: schema is up to date")
		case err != nil:
			logger.Fatal().Err(err).Msg("migrate up failed")
		default:
			logger.Info().Msg("migrations applied")
		}

	case "down":
		if err := m.Steps(-1); err != nil {
			logger.Fatal().Err(err).Msg("rollback failed")
		}
		logger.Info().Msg("rolled back one migration")

	case "goto":
		if len(os.Args) < 3 {
			logger.Fatal().Msg("goto needs a version number")
		}
		version, err := strconv.ParseUint(os.Args[2], 10, 64)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid version")
		}
		if err := m.Migrate(uint(version)); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logger.Fatal().Err(err).Uint64("version", version).Msg("migrate to version failed")
		}
		logger.Info().Uint64("version", version).Msg("schema at version")

	case "status":
		version, dirty, err := m.Version()
		switch {
		case errors.Is(err, migrate.ErrNilVersion):
			logger.Info().Msg("no migrations applied yet")
		case err != nil:
			logger.Fatal().Err(err).Msg("failed to read schema version")
		default:
			logger.Info().Uint("version", version).Bool("dirty", dirty).Msg("schema version")
		}

	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("usage: migrate <command>")
	fmt.Println("  up       apply all pending migrations")
	fmt.Println("  down     roll back the latest migration")
	fmt.Println("  goto N   migrate to version N")
	fmt.Println("  status   print the current schema version")
}
