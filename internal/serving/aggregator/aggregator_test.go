package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toastreport/snapshot-pipeline/internal/infrastructure/snapshotstore"
	"github.com/toastreport/snapshot-pipeline/internal/pipeline/timeseries"
)

type fakeTimeSeries struct {
	programYears map[string][]string
	indexes      map[string]*timeseries.Index
	trend        []timeseries.DataPoint
}

func (f *fakeTimeSeries) ListProgramYears(districtID string) ([]string, error) {
	return f.programYears[districtID], nil
}

func (f *fakeTimeSeries) GetProgramYearData(districtID, programYear string) (*timeseries.Index, error) {
	return f.indexes[districtID+"|"+programYear], nil
}

func (f *fakeTimeSeries) GetTrendData(districtID, start, end string) ([]timeseries.DataPoint, error) {
	return f.trend, nil
}

type fakeSnapshots struct {
	stats    map[string]*snapshotstore.DistrictStatistics
	manifest *snapshotstore.SnapshotManifest
}

func (f *fakeSnapshots) ReadDistrictData(snapshotID, districtID string) (*snapshotstore.DistrictStatistics, error) {
	return f.stats[snapshotID+"|"+districtID], nil
}

func (f *fakeSnapshots) GetSnapshotManifest(snapshotID string) (*snapshotstore.SnapshotManifest, error) {
	return f.manifest, nil
}

func TestListAvailableProgramYears_MarksCompleteDataAndSortsDescending(t *testing.T) {
	ts := &fakeTimeSeries{
		programYears: map[string][]string{"42": {"2023-2024", "2024-2025"}},
		indexes: map[string]*timeseries.Index{
			"42|2023-2024": {DataPoints: []timeseries.DataPoint{{Date: "2024-06-15"}}},
			"42|2024-2025": {DataPoints: []timeseries.DataPoint{{Date: "2025-01-01"}}},
		},
	}
	a := New(ts, &fakeSnapshots{}, newTestCache())

	result, err := a.ListAvailableProgramYears(context.Background(), "42")
	require.NoError(t, err)
	require.Len(t, result.ProgramYears, 2)
	assert.Equal(t, "2024-2025", result.ProgramYears[0].Year)
	assert.Equal(t, "2023-2024", result.ProgramYears[1].Year)
	assert.True(t, result.ProgramYears[1].HasCompleteData)
}

func TestGetDistrictData_ReturnsNilWhenAbsent(t *testing.T) {
	a := New(&fakeTimeSeries{}, &fakeSnapshots{stats: map[string]*snapshotstore.DistrictStatistics{}}, newTestCache())
	stats, err := a.GetDistrictData(context.Background(), "2025-01-10", "99")
	require.NoError(t, err)
	assert.Nil(t, stats)
}

func TestGetDistrictData_CachesResult(t *testing.T) {
	snapshots := &fakeSnapshots{stats: map[string]*snapshotstore.DistrictStatistics{
		"2025-01-10|42": {DistrictID: "42", AggregateScore: 9},
	}}
	a := New(&fakeTimeSeries{}, snapshots, newTestCache())

	first, err := a.GetDistrictData(context.Background(), "2025-01-10", "42")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, 9, first.AggregateScore)

	delete(snapshots.stats, "2025-01-10|42")
	second, err := a.GetDistrictData(context.Background(), "2025-01-10", "42")
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, 9, second.AggregateScore)
}

func TestGetDistrictSummary_OnlyPopulatesCountsForSuccessfulDistricts(t *testing.T) {
	snapshots := &fakeSnapshots{
		stats: map[string]*snapshotstore.DistrictStatistics{
			"2025-01-10|1": {DistrictID: "1", Membership: snapshotstore.Membership{Total: 500}, Clubs: snapshotstore.Clubs{Total: 20, Distinguished: 5}},
		},
		manifest: &snapshotstore.SnapshotManifest{
			ConfiguredDistricts: []string{"1", "2"},
			SuccessfulDistricts: []string{"1"},
			FailedDistricts:     []string{"2"},
		},
	}
	a := New(&fakeTimeSeries{}, snapshots, newTestCache())

	entries, err := a.GetDistrictSummary(context.Background(), "2025-01-10")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byID := map[string]DistrictSummaryEntry{}
	for _, e := range entries {
		byID[e.DistrictID] = e
	}
	assert.Equal(t, "success", byID["1"].Status)
	assert.Equal(t, 500, byID["1"].MemberCount)
	assert.Equal(t, "failed", byID["2"].Status)
	assert.Zero(t, byID["2"].MemberCount)
}

func newTestCache() *Cache {
	return NewCache(Options{MaxEntries: 50, TTL: 5 * time.Minute})
}
