package snapshotstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndReadDistrictData(t *testing.T) {
	store := New(t.TempDir())

	stats := DistrictStatistics{DistrictID: "42", AsOfDate: "2025-01-10", AggregateScore: 7}
	require.NoError(t, store.WriteDistrictData("2025-01-10", "42", stats))

	got, err := store.ReadDistrictData("2025-01-10", "42")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 7, got.AggregateScore)

	ids, err := store.ListDistrictsInSnapshot("2025-01-10")
	require.NoError(t, err)
	assert.Equal(t, []string{"42"}, ids)
}

func TestReadDistrictDataRejectsPathTraversal(t *testing.T) {
	store := New(t.TempDir())
	_, err := store.ReadDistrictData("2025-01-10", "../../etc/passwd")
	assert.Error(t, err)
}

func TestManifestRoundTrip(t *testing.T) {
	store := New(t.TempDir())
	manifest := SnapshotManifest{
		SnapshotID:          "2025-01-10",
		SchemaVersion:       SchemaVersion,
		Status:              StatusSuccess,
		CreatedAt:           time.Now().UTC(),
		SuccessfulDistricts: []string{"42"},
	}
	require.NoError(t, store.WriteManifest(manifest))

	got, err := store.GetSnapshotManifest("2025-01-10")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusSuccess, got.Status)

	meta, err := store.GetSnapshotMetadata("2025-01-10")
	require.NoError(t, err)
	assert.Equal(t, 1, meta.DistrictCount)
}

func TestListSnapshotIdsDoesNotRequireManifest(t *testing.T) {
	store := New(t.TempDir())
	require.NoError(t, store.WriteDistrictData("2025-02-01", "10", DistrictStatistics{DistrictID: "10"}))

	ids, err := store.ListSnapshotIds()
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-02-01"}, ids)
}

func TestVersionCompatible(t *testing.T) {
	t.Run("MatchingMajorsAreCompatible", func(t *testing.T) {
		a := VersionSet{Schema: "1.0.0", Calculation: "1.2.0", Ranking: "1.0.1"}
		b := VersionSet{Schema: "1.4.0", Calculation: "1.0.0", Ranking: "1.9.9"}
		assert.True(t, Compatible(a, b))
	})

	t.Run("DifferingMajorIsIncompatible", func(t *testing.T) {
		a := VersionSet{Schema: "1.0.0", Calculation: "1.0.0", Ranking: "1.0.0"}
		b := VersionSet{Schema: "2.0.0", Calculation: "1.0.0", Ranking: "1.0.0"}
		assert.False(t, Compatible(a, b))
	})
}
