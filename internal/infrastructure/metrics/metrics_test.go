package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	return New(prometheus.NewRegistry())
}

func TestRecordBuild_IncrementsCounterAndObservesDuration(t *testing.T) {
	r := newTestRegistry()
	r.RecordBuild("success", 2*time.Second)

	assert.Equal(t, float64(1), testutil.ToFloat64(r.BuildsTotal.WithLabelValues("success")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.BuildDuration))
}

func TestRecordDistrictOutcomes_SetsSnapshotGauge(t *testing.T) {
	r := newTestRegistry()
	r.RecordDistrictOutcomes(3, 1, 0)

	assert.Equal(t, float64(3), testutil.ToFloat64(r.DistrictOutcomes.WithLabelValues("included")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.DistrictOutcomes.WithLabelValues("missing")))
	assert.Equal(t, float64(3), testutil.ToFloat64(r.SnapshotDistricts))
}

func TestRecordCacheStats_AddsOnlyNonZeroCounters(t *testing.T) {
	r := newTestRegistry()
	r.RecordCacheStats("l1", 5, 2, 0)

	assert.Equal(t, float64(5), testutil.ToFloat64(r.CacheHits.WithLabelValues("l1")))
	assert.Equal(t, float64(2), testutil.ToFloat64(r.CacheMisses.WithLabelValues("l1")))
	assert.Equal(t, float64(0), testutil.ToFloat64(r.CacheEvictions.WithLabelValues("l1")))
}

func TestSetBackfillJobsActive_ReflectsLatestValue(t *testing.T) {
	r := newTestRegistry()
	r.SetBackfillJobsActive(4)
	r.SetBackfillJobsActive(2)

	assert.Equal(t, float64(2), testutil.ToFloat64(r.BackfillJobsActive))
}

func TestHandler_ReturnsNonNilHandler(t *testing.T) {
	require.NotNil(t, Handler())
}
