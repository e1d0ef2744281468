package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"searchstats/internal/platform/config"
	"searchstats/internal/platform/logger"
	"searchstats/internal/platform/migration"
	"searchstats/migrations"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  migrate up")
	fmt.Fprintln(os.Stderr, "  migrate down")
	fmt.Fprintln(os.Stderr, "  migrate version")
	fmt.Fprintln(os.Stderr, "  migrate force VERSION")
}

func run(_ context.Context, args []string) error {
	if len(args) < 1 {
		printUsage()
		return fmt.Errorf("missing command")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(logger.Config{
		Level:     logger.Level(cfg.App.LogLevel),
		Format:    logger.Format(cfg.App.LogFormat),
		Component: "migrate",
	})
	logger.SetDefault(log)

	runner, err := migration.New(migration.Config{
		DatabaseURL: cfg.Database.ConnectionString(),
		Files:       migrations.FS,
		Logger:      log,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := runner.Close(); err != nil {
			log.Warn("failed to close migration runner", "error", err)
		}
	}()

	switch args[0] {
	case "up":
		return runner.Up()
	case "down":
		return runner.Down()
	case "version":
		version, dirty, err := runner.Version()
		if err != nil {
			return err
		}
		fmt.Printf("version=%d dirty=%t\n", version, dirty)
		return nil
	case "force":
		if len(args) < 2 {
			printUsage()
			return fmt.Errorf("force requires a version")
		}
		version, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[1], err)
		}
		if err := runner.Force(version); err != nil {
			return err
		}
		log.Info("migration version forced", "version", version)
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", args[0])
	}
}
