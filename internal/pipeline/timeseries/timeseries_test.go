package timeseries

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertAndGetTrendData(t *testing.T) {
	t.Run("RangeQueryAcrossTwoProgramYears", func(t *testing.T) {
		store := New(t.TempDir())

		require.NoError(t, store.Upsert("61", DataPoint{Date: "2024-06-15", AggregateScore: 5}))
		require.NoError(t, store.Upsert("61", DataPoint{Date: "2024-07-03", AggregateScore: 7}))

		points, err := store.GetTrendData("61", "2024-06-01", "2024-07-31")
		require.NoError(t, err)
		require.Len(t, points, 2)
		assert.Equal(t, "2024-06-15", points[0].Date)
		assert.Equal(t, "2024-07-03", points[1].Date)
	})

	t.Run("MissingDistrictReturnsEmpty", func(t *testing.T) {
		store := New(t.TempDir())
		points, err := store.GetTrendData("99", "2024-01-01", "2024-12-31")
		require.NoError(t, err)
		assert.Empty(t, points)
	})

	t.Run("UpsertReplacesExistingDate", func(t *testing.T) {
		store := New(t.TempDir())
		require.NoError(t, store.Upsert("10", DataPoint{Date: "2024-08-01", AggregateScore: 1}))
		require.NoError(t, store.Upsert("10", DataPoint{Date: "2024-08-01", AggregateScore: 9}))

		points, err := store.GetTrendData("10", "2024-08-01", "2024-08-01")
		require.NoError(t, err)
		require.Len(t, points, 1)
		assert.Equal(t, 9, points[0].AggregateScore)
	})
}

func TestGetProgramYearData(t *testing.T) {
	t.Run("ValidatesFormat", func(t *testing.T) {
		store := New(t.TempDir())
		_, err := store.GetProgramYearData("61", "2024-2026")
		assert.Error(t, err)
	})

	t.Run("ReturnsNilWhenAbsent", func(t *testing.T) {
		store := New(t.TempDir())
		idx, err := store.GetProgramYearData("61", "2023-2024")
		require.NoError(t, err)
		assert.Nil(t, idx)
	})
}
