// Package jobstore persists BackfillJob and ScheduledReconciliation state
// in Postgres so job history and in-flight progress survive a process
// restart. It is optional: cmd/ binaries fall back to the in-memory job
// tables owned by backfill.Controller and reconcile.Scheduler when
// config.JobStoreConfig.URL is empty. Grounded on the teacher's
// repository pattern in internal/infrastructure/repository/
// account_repository.go (explicit SQL, scanned into typed fields) and its
// golang-migrate usage in internal/infrastructure/database/migration_test.go,
// adapted from database/sql to pgx/v5's native pgxpool API and from a
// migrations/ directory on disk to an embedded iofs source.
package jobstore

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/toastreport/snapshot-pipeline/internal/infrastructure/config"
	"github.com/toastreport/snapshot-pipeline/internal/pipeline/backfill"
	"github.com/toastreport/snapshot-pipeline/internal/pipeline/reconcile"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Store persists job state to Postgres via pgx/v5.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres per cfg and applies any pending migrations.
// Returns (nil, nil) when cfg.URL is empty, signalling "no job store
// configured" without treating it as an error.
func Open(ctx context.Context, cfg config.JobStoreConfig) (*Store, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing job store dsn: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to job store: %w", err)
	}

	store := &Store{pool: pool}
	if err := store.migrate(cfg.URL); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) migrate(dsn string) error {
	m, err := NewMigrator(dsn)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// NewMigrator builds a golang-migrate instance bound to the embedded
// migrations/*.sql source, for callers (cmd/migrate) that need explicit
// Up/Down/Steps/Version control outside of Open's implicit Up-on-connect.
func NewMigrator(dsn string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("loading embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, dsn)
	if err != nil {
		return nil, fmt.Errorf("initializing migrator: %w", err)
	}
	return m, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// SaveBackfillJob upserts a backfill.Job's current state.
func (s *Store) SaveBackfillJob(ctx context.Context, job *backfill.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO backfill_jobs
			(id, district_id, start_date, end_date, status, total, completed, skipped, unavailable, failed, error, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			total = EXCLUDED.total,
			completed = EXCLUDED.completed,
			skipped = EXCLUDED.skipped,
			unavailable = EXCLUDED.unavailable,
			failed = EXCLUDED.failed,
			error = EXCLUDED.error,
			completed_at = EXCLUDED.completed_at
	`,
		job.ID, job.DistrictID, job.StartDate, job.EndDate, job.Status,
		job.Progress.Total, job.Progress.Completed, job.Progress.Skipped, job.Progress.Unavailable, job.Progress.Failed,
		job.Error, job.CreatedAt, job.CompletedAt,
	)
	return err
}

// GetBackfillJob reads one job by id, or nil if unknown.
func (s *Store) GetBackfillJob(ctx context.Context, id string) (*backfill.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, district_id, start_date, end_date, status, total, completed, skipped, unavailable, failed, error, created_at, completed_at
		FROM backfill_jobs WHERE id = $1
	`, id)

	job, err := scanBackfillJob(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return job, err
}

// ListActiveBackfillJobs returns every job not yet in a terminal status.
func (s *Store) ListActiveBackfillJobs(ctx context.Context) ([]*backfill.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, district_id, start_date, end_date, status, total, completed, skipped, unavailable, failed, error, created_at, completed_at
		FROM backfill_jobs WHERE status = $1
	`, backfill.StatusProcessing)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*backfill.Job
	for rows.Next() {
		job, err := scanBackfillJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBackfillJob(row rowScanner) (*backfill.Job, error) {
	var job backfill.Job
	err := row.Scan(
		&job.ID, &job.DistrictID, &job.StartDate, &job.EndDate, &job.Status,
		&job.Progress.Total, &job.Progress.Completed, &job.Progress.Skipped, &job.Progress.Unavailable, &job.Progress.Failed,
		&job.Error, &job.CreatedAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// SaveReconciliationEntry upserts a reconcile.Entry by its (district,
// targetMonth) key.
func (s *Store) SaveReconciliationEntry(ctx context.Context, e *reconcile.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reconciliation_entries
			(district_id, target_month, scheduled_for, status, attempts, last_attempt, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (district_id, target_month) DO UPDATE SET
			status = EXCLUDED.status,
			attempts = EXCLUDED.attempts,
			last_attempt = EXCLUDED.last_attempt,
			error = EXCLUDED.error
	`, e.DistrictID, e.TargetMonth, e.ScheduledFor, e.Status, e.Attempts, e.LastAttempt, e.Error)
	return err
}

// ListReconciliationEntries returns every tracked entry, newest-scheduled
// first.
func (s *Store) ListReconciliationEntries(ctx context.Context) ([]reconcile.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT district_id, target_month, scheduled_for, status, attempts, last_attempt, error
		FROM reconciliation_entries ORDER BY scheduled_for DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []reconcile.Entry
	for rows.Next() {
		var e reconcile.Entry
		if err := rows.Scan(&e.DistrictID, &e.TargetMonth, &e.ScheduledFor, &e.Status, &e.Attempts, &e.LastAttempt, &e.Error); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PruneCompletedBackfillJobs deletes jobs completed before cutoff,
// mirroring backfill.Controller.GC's in-memory retention policy.
func (s *Store) PruneCompletedBackfillJobs(ctx context.Context, cutoff time.Time) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM backfill_jobs WHERE completed_at IS NOT NULL AND completed_at < $1`, cutoff)
	return err
}
