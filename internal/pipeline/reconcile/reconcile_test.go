package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toastreport/snapshot-pipeline/internal/infrastructure/telemetry"
	"github.com/toastreport/snapshot-pipeline/internal/pipeline/backfill"
)

type fakeInitiator struct {
	calls []string
	err   error
}

func (f *fakeInitiator) Initiate(ctx context.Context, districtID, startDate, endDate string) (*backfill.Job, error) {
	f.calls = append(f.calls, districtID+"|"+startDate+"|"+endDate)
	if f.err != nil {
		return nil, f.err
	}
	return &backfill.Job{ID: "job-1", DistrictID: districtID}, nil
}

func newTestScheduler(t *testing.T, initiator Initiator, maxAttempts int, backoff, retention time.Duration) *Scheduler {
	t.Helper()
	logger, err := telemetry.NewLogger("error")
	require.NoError(t, err)
	return New(initiator, logger, []string{"1", "2"}, time.Hour, 5, maxAttempts, backoff, retention)
}

func TestTick_SchedulesDueDistrictsWithinWindow(t *testing.T) {
	init := &fakeInitiator{}
	s := newTestScheduler(t, init, 3, time.Hour, 24*time.Hour)

	now := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	s.Tick(context.Background(), now)

	entries := s.Entries()
	assert.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, "2025-02", e.TargetMonth)
		assert.Equal(t, StatusInitiated, e.Status)
	}
}

func TestTick_SkipsSchedulingOutsideWindow(t *testing.T) {
	init := &fakeInitiator{}
	s := newTestScheduler(t, init, 3, time.Hour, 24*time.Hour)

	now := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	s.Tick(context.Background(), now)

	assert.Empty(t, s.Entries())
}

func TestTick_DedupsAlreadyScheduledEntry(t *testing.T) {
	init := &fakeInitiator{}
	s := newTestScheduler(t, init, 3, time.Hour, 24*time.Hour)

	now := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	s.Tick(context.Background(), now)
	s.Tick(context.Background(), now.Add(time.Minute))

	assert.Len(t, s.Entries(), 2)
}

func TestTick_RetriesFailedAttemptAfterBackoff(t *testing.T) {
	init := &fakeInitiator{err: errors.New("upstream down")}
	s := newTestScheduler(t, init, 3, time.Hour, 24*time.Hour)

	now := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	s.Tick(context.Background(), now)

	for _, e := range s.Entries() {
		assert.Equal(t, StatusPending, e.Status)
		assert.Equal(t, 1, e.Attempts)
		assert.Equal(t, now.Add(time.Hour), e.ScheduledFor)
	}

	s.Tick(context.Background(), now.Add(30*time.Minute))
	for _, e := range s.Entries() {
		assert.Equal(t, 1, e.Attempts)
	}

	s.Tick(context.Background(), now.Add(2*time.Hour))
	for _, e := range s.Entries() {
		assert.Equal(t, 2, e.Attempts)
	}
}

func TestTick_StopsRetryingAfterMaxAttempts(t *testing.T) {
	init := &fakeInitiator{err: errors.New("upstream down")}
	s := newTestScheduler(t, init, 1, time.Minute, 24*time.Hour)

	now := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	s.Tick(context.Background(), now)
	s.Tick(context.Background(), now.Add(time.Hour))

	for _, e := range s.Entries() {
		assert.Equal(t, 1, e.Attempts)
		assert.Equal(t, StatusFailed, e.Status)
	}
}

func TestGC_RemovesOldInitiatedEntries(t *testing.T) {
	init := &fakeInitiator{}
	s := newTestScheduler(t, init, 3, time.Hour, time.Hour)

	now := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	s.Tick(context.Background(), now)
	require.Len(t, s.Entries(), 2)

	s.Tick(context.Background(), now.Add(2*time.Hour))
	assert.Empty(t, s.Entries())
}
