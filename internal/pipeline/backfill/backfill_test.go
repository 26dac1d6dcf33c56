package backfill

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toastreport/snapshot-pipeline/internal/infrastructure/rawcache"
	"github.com/toastreport/snapshot-pipeline/internal/infrastructure/telemetry"
	"github.com/toastreport/snapshot-pipeline/internal/pipeline/csvparse"
	"github.com/toastreport/snapshot-pipeline/internal/pipeline/fetch"
)

func newTestController(t *testing.T, throttle time.Duration) (*Controller, *rawcache.Cache, *fetch.StaticSource) {
	t.Helper()
	cache := rawcache.New(t.TempDir())
	source := fetch.NewStaticSource()
	logger, err := telemetry.NewLogger("error")
	require.NoError(t, err)
	return New(cache, source, logger, throttle, 100, time.Hour), cache, source
}

func waitForCompletion(t *testing.T, c *Controller, jobID string) *Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job := c.Get(jobID)
		if job.Status != StatusProcessing {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("backfill job did not complete in time")
	return nil
}

func TestInitiate_RejectsStartAfterEnd(t *testing.T) {
	c, _, _ := newTestController(t, time.Millisecond)
	_, err := c.Initiate(context.Background(), "42", "2025-06-01", "2025-01-01")
	assert.Error(t, err)
}

func TestInitiate_RejectsFutureEndDate(t *testing.T) {
	c, _, _ := newTestController(t, time.Millisecond)
	future := time.Now().UTC().AddDate(1, 0, 0).Format("2006-01-02")
	_, err := c.Initiate(context.Background(), "42", "", future)
	assert.Error(t, err)
}

func TestInitiate_RejectsAllCached(t *testing.T) {
	c, cache, _ := newTestController(t, time.Millisecond)
	date := time.Now().UTC().Format("2006-01-02")
	require.NoError(t, cache.CacheDistrictData("42", date, []byte("x\n1\n"), []byte{}, []byte{}))

	_, err := c.Initiate(context.Background(), "42", date, date)
	assert.Error(t, err)
}

func TestBackfill_CachesFetchedReports(t *testing.T) {
	c, cache, source := newTestController(t, time.Millisecond)
	date := time.Now().UTC().Format("2006-01-02")

	districtRows, err := csvparse.Parse([]byte("Club Growth %\n10\n"))
	require.NoError(t, err)
	clubRows, err := csvparse.Parse([]byte("Active Members\n150\n"))
	require.NoError(t, err)
	source.Seed("42", date, districtRows, nil, clubRows)

	job, err := c.Initiate(context.Background(), "42", date, date)
	require.NoError(t, err)

	final := waitForCompletion(t, c, job.ID)
	assert.Equal(t, StatusComplete, final.Status)
	assert.Equal(t, 1, final.Progress.Completed)
	assert.True(t, cache.Has(date, rawcache.KindDistrictPerformance, "42"))
}

func TestBackfill_ReconciliationPeriodBelowThresholdIsUnavailable(t *testing.T) {
	c, cache, source := newTestController(t, time.Millisecond)
	date := time.Now().UTC().Format("2006-01-02")

	districtRows, err := csvparse.Parse([]byte("Club Growth %\n10\n"))
	require.NoError(t, err)
	clubRows, err := csvparse.Parse([]byte("Active Members\n5\n10\n15\n"))
	require.NoError(t, err)
	source.Seed("42", date, districtRows, nil, clubRows)

	job, err := c.Initiate(context.Background(), "42", date, date)
	require.NoError(t, err)

	final := waitForCompletion(t, c, job.ID)
	assert.Equal(t, 1, final.Progress.Unavailable)
	assert.Equal(t, 0, final.Progress.Completed)
	assert.False(t, cache.Has(date, rawcache.KindDistrictPerformance, "42"))
}

func TestBackfill_EmptyClubReportWithDistrictRowsIsCached(t *testing.T) {
	c, cache, source := newTestController(t, time.Millisecond)
	date := time.Now().UTC().Format("2006-01-02")

	districtRows, err := csvparse.Parse([]byte("Club Growth %\n10\n"))
	require.NoError(t, err)
	divisionRows, err := csvparse.Parse([]byte("Division\nA\n"))
	require.NoError(t, err)
	source.Seed("42", date, districtRows, divisionRows, nil)

	job, err := c.Initiate(context.Background(), "42", date, date)
	require.NoError(t, err)

	final := waitForCompletion(t, c, job.ID)
	assert.Equal(t, 1, final.Progress.Completed)
	assert.Equal(t, 0, final.Progress.Unavailable)
	assert.True(t, cache.Has(date, rawcache.KindDistrictPerformance, "42"))
}

func TestBackfill_AllThreeReportsEmptyIsUnavailable(t *testing.T) {
	c, cache, source := newTestController(t, time.Millisecond)
	date := time.Now().UTC().Format("2006-01-02")

	source.Seed("42", date, nil, nil, nil)

	job, err := c.Initiate(context.Background(), "42", date, date)
	require.NoError(t, err)

	final := waitForCompletion(t, c, job.ID)
	assert.Equal(t, 1, final.Progress.Unavailable)
	assert.False(t, cache.Has(date, rawcache.KindDistrictPerformance, "42"))
}

func TestBackfill_UpstreamUnavailableClassifiedAsUnavailable(t *testing.T) {
	c, _, _ := newTestController(t, time.Millisecond)
	date := time.Now().UTC().Format("2006-01-02")
	// StaticSource's own "not found" message for an unseeded date matches
	// ClassifyFetchError's upstream-unavailable pattern.

	job, err := c.Initiate(context.Background(), "42", date, date)
	require.NoError(t, err)

	final := waitForCompletion(t, c, job.ID)
	assert.Equal(t, 1, final.Progress.Unavailable)
}

func TestBackfill_GenericFetchErrorIsFailed(t *testing.T) {
	c, _, source := newTestController(t, time.Millisecond)
	date := time.Now().UTC().Format("2006-01-02")
	source.SeedError("42", date, assert.AnError)

	job, err := c.Initiate(context.Background(), "42", date, date)
	require.NoError(t, err)

	final := waitForCompletion(t, c, job.ID)
	assert.Equal(t, 1, final.Progress.Failed)
}

func TestCancel_StopsJob(t *testing.T) {
	c, _, source := newTestController(t, 200*time.Millisecond)
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -3)

	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		date := d.Format("2006-01-02")
		rows, _ := csvparse.Parse([]byte("Club Growth %\n10\n"))
		clubRows, _ := csvparse.Parse([]byte("Active Members\n150\n"))
		source.Seed("42", date, rows, nil, clubRows)
	}

	job, err := c.Initiate(context.Background(), "42", start.Format("2006-01-02"), end.Format("2006-01-02"))
	require.NoError(t, err)

	assert.True(t, c.Cancel(job.ID))
	final := waitForCompletion(t, c, job.ID)
	assert.Equal(t, StatusError, final.Status)
}
