// +build integration

package jobstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/toastreport/snapshot-pipeline/internal/infrastructure/config"
	"github.com/toastreport/snapshot-pipeline/internal/pipeline/backfill"
	"github.com/toastreport/snapshot-pipeline/internal/pipeline/reconcile"
)

// newTestStore starts a disposable Postgres container, opens a Store
// against it (running migrations), and registers cleanup. Grounded on the
// teacher's internal/testutil/containers.NewPostgresContainer.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("jobstore_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := Open(ctx, config.JobStoreConfig{URL: dsn})
	require.NoError(t, err)
	require.NotNil(t, store)
	t.Cleanup(store.Close)

	return store
}

func TestOpen_NoURLReturnsNilStoreNoError(t *testing.T) {
	store, err := Open(context.Background(), config.JobStoreConfig{})
	require.NoError(t, err)
	assert.Nil(t, store)
}

func TestSaveAndGetBackfillJob_RoundTrips(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := &backfill.Job{
		ID: "job-1", DistrictID: "42", StartDate: "2025-07-01", EndDate: "2025-07-31",
		Status: backfill.StatusComplete, Progress: backfill.Progress{Total: 5, Completed: 5},
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, store.SaveBackfillJob(ctx, job))

	got, err := store.GetBackfillJob(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.DistrictID, got.DistrictID)
	assert.Equal(t, job.Progress.Completed, got.Progress.Completed)
}

func TestGetBackfillJob_UnknownIDReturnsNil(t *testing.T) {
	store := newTestStore(t)
	got, err := store.GetBackfillJob(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListActiveBackfillJobs_OnlyReturnsProcessing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveBackfillJob(ctx, &backfill.Job{
		ID: "active-1", DistrictID: "1", Status: backfill.StatusProcessing, CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, store.SaveBackfillJob(ctx, &backfill.Job{
		ID: "done-1", DistrictID: "2", Status: backfill.StatusComplete, CreatedAt: time.Now().UTC(),
	}))

	active, err := store.ListActiveBackfillJobs(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "active-1", active[0].ID)
}

func TestSaveAndListReconciliationEntries_RoundTrips(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entry := &reconcile.Entry{
		DistrictID: "42", TargetMonth: "2025-06", Status: reconcile.StatusPending,
		ScheduledFor: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, store.SaveReconciliationEntry(ctx, entry))

	entries, err := store.ListReconciliationEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "42", entries[0].DistrictID)
	assert.Equal(t, "2025-06", entries[0].TargetMonth)
}

func TestPruneCompletedBackfillJobs_RemovesOlderThanCutoff(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, store.SaveBackfillJob(ctx, &backfill.Job{
		ID: "old-1", DistrictID: "1", Status: backfill.StatusComplete,
		CreatedAt: old, CompletedAt: &old,
	}))

	require.NoError(t, store.PruneCompletedBackfillJobs(ctx, time.Now().UTC().Add(-24*time.Hour)))

	got, err := store.GetBackfillJob(ctx, "old-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}
