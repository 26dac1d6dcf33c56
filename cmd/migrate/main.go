// Command migrate drives the job store's schema migrations explicitly,
// for operators who want to apply or roll back schema changes without
// starting a long-lived pipeline binary (jobstore.Open already applies
// pending migrations automatically on connect).
package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/golang-migrate/migrate/v4"

	"github.com/toastreport/snapshot-pipeline/internal/infrastructure/config"
	"github.com/toastreport/snapshot-pipeline/internal/infrastructure/jobstore"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to config.yaml")
		action     = flag.String("action", "status", "Migration action: up, down, steps, status, version")
		steps      = flag.Int("steps", 0, "Signed step count for the steps action (e.g. -1 rolls back one migration)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if cfg.JobStore.URL == "" {
		slog.Error("job_store.url is not configured; nothing to migrate")
		os.Exit(1)
	}

	m, err := jobstore.NewMigrator(cfg.JobStore.URL)
	if err != nil {
		slog.Error("failed to initialize migrator", "error", err)
		os.Exit(1)
	}
	defer m.Close()

	if err := runAction(m, *action, *steps); err != nil {
		slog.Error("migration failed", "action", *action, "error", err)
		os.Exit(1)
	}
}

func runAction(m *migrate.Migrate, action string, steps int) error {
	switch action {
	case "up":
		return ignoreNoChange(m.Up())
	case "down":
		return ignoreNoChange(m.Down())
	case "steps":
		return ignoreNoChange(m.Steps(steps))
	case "version":
		version, dirty, err := m.Version()
		if err != nil && err != migrate.ErrNilVersion {
			return err
		}
		slog.Info("schema version", "version", version, "dirty", dirty)
		return nil
	case "status":
		return printStatus(m)
	default:
		slog.Error("unknown action", "action", action)
		os.Exit(64)
		return nil
	}
}

func printStatus(m *migrate.Migrate) error {
	version, dirty, err := m.Version()
	if err == migrate.ErrNilVersion {
		slog.Info("no migrations applied yet")
		return nil
	}
	if err != nil {
		return err
	}
	slog.Info("migration status", "version", version, "dirty", dirty)
	return nil
}

func ignoreNoChange(err error) error {
	if err == migrate.ErrNoChange {
		return nil
	}
	return err
}
