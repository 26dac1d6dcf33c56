package districtid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartition(t *testing.T) {
	t.Run("RejectsAsOfDatePattern", func(t *testing.T) {
		valid, rejected, summary := Partition([]string{"42", "As of 1/20/2026"})
		require.Len(t, valid, 1)
		require.Len(t, rejected, 1)
		assert.Equal(t, "42", string(valid[0]))
		assert.Equal(t, ReasonDateLike, rejected[0].Reason)
		assert.Equal(t, 1, summary.ReasonCounts[ReasonDateLike])
	})

	t.Run("RejectsNonAlphanumeric", func(t *testing.T) {
		_, rejected, _ := Partition([]string{"42-A"})
		require.Len(t, rejected, 1)
		assert.Equal(t, ReasonNonAlphanumeric, rejected[0].Reason)
	})

	t.Run("RejectsEmptyAndWhitespace", func(t *testing.T) {
		_, rejected, summary := Partition([]string{"", "   "})
		require.Len(t, rejected, 2)
		assert.Equal(t, 1, summary.ReasonCounts[ReasonEmpty])
		assert.Equal(t, 1, summary.ReasonCounts[ReasonWhitespaceOnly])
	})

	t.Run("AcceptsAlphanumericIds", func(t *testing.T) {
		valid, rejected, summary := Partition([]string{"42", "F1", "0"})
		assert.Len(t, valid, 3)
		assert.Empty(t, rejected)
		assert.Equal(t, 3, summary.ValidCount)
	})
}

func TestExtractID(t *testing.T) {
	t.Run("PrefersUppercaseKey", func(t *testing.T) {
		rec := map[string]any{"DISTRICT": "42", "District": "99"}
		assert.Equal(t, "42", ExtractID(rec))
	})

	t.Run("FallsBackToMixedCaseKey", func(t *testing.T) {
		rec := map[string]any{"District": "99"}
		assert.Equal(t, "99", ExtractID(rec))
	})

	t.Run("ReturnsEmptyWhenMissing", func(t *testing.T) {
		assert.Equal(t, "", ExtractID(map[string]any{}))
	})
}
