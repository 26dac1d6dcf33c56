package builder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toastreport/snapshot-pipeline/internal/infrastructure/rawcache"
	"github.com/toastreport/snapshot-pipeline/internal/infrastructure/snapshotstore"
	"github.com/toastreport/snapshot-pipeline/internal/infrastructure/telemetry"
	"github.com/toastreport/snapshot-pipeline/internal/pipeline/timeseries"
)

func newTestBuilder(t *testing.T) (*Builder, *rawcache.Cache, *snapshotstore.Store, *timeseries.Store) {
	t.Helper()
	cache := rawcache.New(t.TempDir())
	store := snapshotstore.New(t.TempDir())
	index := timeseries.New(t.TempDir())
	logger, err := telemetry.NewLogger("error")
	require.NoError(t, err)
	tracer := telemetry.NewOpenTelemetryTracer("builder-test")
	return New(cache, store, index, logger, tracer), cache, store, index
}

func seedDistrict(t *testing.T, cache *rawcache.Cache, date, districtID string, districtCSV, clubCSV []byte) {
	t.Helper()
	require.NoError(t, cache.CacheDistrictData(districtID, date, districtCSV, []byte{}, clubCSV))
}

func TestBuild_ThreeDistrictScenario(t *testing.T) {
	b, cache, store, _ := newTestBuilder(t)
	date := "2025-03-01"

	seedDistrict(t, cache, date, "1",
		[]byte("Club Growth %,Payment Growth %,Distinguished %\n10,20,50\n"),
		[]byte("Club Number,Club Name,Active Members\n100,Club A,25\n"))
	seedDistrict(t, cache, date, "2",
		[]byte("Club Growth %,Payment Growth %,Distinguished %\n10,5,60\n"),
		[]byte("Club Number,Club Name,Active Members\n200,Club B,30\n"))
	seedDistrict(t, cache, date, "3",
		[]byte("Club Growth %,Payment Growth %,Distinguished %\n-5,30,70\n"),
		[]byte("Club Number,Club Name,Active Members\n300,Club C,15\n"))

	result, err := b.Build(context.Background(), date, []string{"1", "2", "3"})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, []string{"1", "2", "3"}, result.Included)
	assert.Empty(t, result.Missing)

	manifest, err := store.GetSnapshotManifest(date)
	require.NoError(t, err)
	require.NotNil(t, manifest)
	for _, id := range manifest.SuccessfulDistricts {
		stats, err := store.ReadDistrictData(date, id)
		require.NoError(t, err)
		require.NotNil(t, stats)

		assert.True(t, store.HasAnalyticsFile(date, "district_"+id+"_analytics.json"))
		assert.True(t, store.HasAnalyticsFile(date, "district_"+id+"_membership.json"))
		assert.True(t, store.HasAnalyticsFile(date, "district_"+id+"_clubhealth.json"))
	}
}

func TestBuild_RejectsMalformedDistrictID(t *testing.T) {
	b, cache, store, _ := newTestBuilder(t)
	date := "2026-01-20"

	require.NoError(t, cache.CacheDistrictData("42", date,
		[]byte("DISTRICT,Club Growth %,Payment Growth %,Distinguished %\nAs of 1/20/2026,10,20,50\n"),
		[]byte{},
		[]byte("Club Number,Club Name,Active Members\n100,Club A,25\n")))

	result, err := b.Build(context.Background(), date, []string{"42"})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Status)
	assert.NotContains(t, result.Included, "42")

	rejectedStats, err := store.ReadDistrictData(date, "As of 1/20/2026")
	require.NoError(t, err)
	assert.Nil(t, rejectedStats)
}

func TestBuild_NoCachedDataReturnsMissingDataError(t *testing.T) {
	b, _, _, _ := newTestBuilder(t)
	_, err := b.Build(context.Background(), "2025-05-05", []string{"1"})
	assert.Error(t, err)
}

func TestBuild_PartialWhenSomeDistrictsMissing(t *testing.T) {
	b, cache, _, _ := newTestBuilder(t)
	date := "2025-04-01"

	seedDistrict(t, cache, date, "1",
		[]byte("Club Growth %,Payment Growth %,Distinguished %\n10,20,50\n"),
		[]byte("Club Number,Club Name,Active Members\n100,Club A,25\n"))

	result, err := b.Build(context.Background(), date, []string{"1", "2"})
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, result.Status)
	assert.Equal(t, []string{"1"}, result.Included)
	assert.Equal(t, []string{"2"}, result.Missing)
}

func TestBuild_ClosingPeriodSkipsOlderCollectionDate(t *testing.T) {
	b, cache, store, _ := newTestBuilder(t)
	date := "2025-06-01"

	seedDistrict(t, cache, date, "1",
		[]byte("Club Growth %,Payment Growth %,Distinguished %\n10,20,50\n"),
		[]byte("Club Number,Club Name,Active Members\n100,Club A,25\n"))

	first, err := b.Build(context.Background(), date, []string{"1"})
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, first.Status)

	manifest, err := store.GetSnapshotManifest(date)
	require.NoError(t, err)
	manifest.CollectionDate = "2025-06-05"
	require.NoError(t, store.WriteManifest(*manifest))

	second, err := b.Build(context.Background(), date, []string{"1"})
	require.NoError(t, err)
	assert.Equal(t, ReasonExistingIsNewer, second.SkipReason)
}
