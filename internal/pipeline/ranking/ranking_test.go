package ranking

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompute(t *testing.T) {
	t.Run("ThreeDistrictScenario", func(t *testing.T) {
		rows := []Row{
			{DistrictID: "d1", ClubGrowthPercent: 5.0, PaymentGrowthPercent: 10, DistinguishedPercent: 20},
			{DistrictID: "d2", ClubGrowthPercent: 5.0, PaymentGrowthPercent: 8, DistinguishedPercent: 30},
			{DistrictID: "d3", ClubGrowthPercent: 3.0, PaymentGrowthPercent: 12, DistinguishedPercent: 40},
		}

		results := Compute(rows)
		require.Len(t, results, 3)

		byID := make(map[string]Result, 3)
		for _, r := range results {
			byID[r.DistrictID] = r
		}

		assert.Equal(t, 1, byID["d1"].ClubGrowthRank)
		assert.Equal(t, 1, byID["d2"].ClubGrowthRank)
		assert.Equal(t, 3, byID["d3"].ClubGrowthRank)

		assert.Equal(t, 2, byID["d1"].PaymentGrowthRank)
		assert.Equal(t, 3, byID["d2"].PaymentGrowthRank)
		assert.Equal(t, 1, byID["d3"].PaymentGrowthRank)

		assert.Equal(t, 3, byID["d1"].DistinguishedRank)
		assert.Equal(t, 2, byID["d2"].DistinguishedRank)
		assert.Equal(t, 1, byID["d3"].DistinguishedRank)

		assert.Equal(t, 3, byID["d1"].ClubGrowthBorda)
		assert.Equal(t, 3, byID["d2"].ClubGrowthBorda)
		assert.Equal(t, 1, byID["d3"].ClubGrowthBorda)

		assert.Equal(t, 6, byID["d1"].AggregateScore)
		assert.Equal(t, 6, byID["d2"].AggregateScore)
		assert.Equal(t, 7, byID["d3"].AggregateScore)

		require.Equal(t, "d3", results[0].DistrictID)
		assert.ElementsMatch(t, []string{"d1", "d2"}, []string{results[1].DistrictID, results[2].DistrictID})
		assert.Equal(t, "d1", results[1].DistrictID)
		assert.Equal(t, "d2", results[2].DistrictID)
	})

	t.Run("NaNRanksLast", func(t *testing.T) {
		rows := []Row{
			{DistrictID: "a", ClubGrowthPercent: math.NaN()},
			{DistrictID: "b", ClubGrowthPercent: 1.0},
		}
		results := Compute(rows)
		byID := make(map[string]Result, 2)
		for _, r := range results {
			byID[r.DistrictID] = r
		}
		assert.Equal(t, 2, byID["a"].ClubGrowthRank)
		assert.Equal(t, 1, byID["b"].ClubGrowthRank)
	})

	t.Run("SingleDistrictRanksFirstWithFullBorda", func(t *testing.T) {
		results := Compute([]Row{{DistrictID: "only", ClubGrowthPercent: 1, PaymentGrowthPercent: 1, DistinguishedPercent: 1}})
		require.Len(t, results, 1)
		assert.Equal(t, 1, results[0].ClubGrowthRank)
		assert.Equal(t, 3, results[0].AggregateScore)
	})
}
