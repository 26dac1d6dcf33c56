package fetch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toastreport/snapshot-pipeline/internal/pipeline/csvparse"
)

func TestStaticSource_SeedAndFetch(t *testing.T) {
	src := NewStaticSource()
	district, err := csvparse.Parse([]byte("Club Growth %\n10\n"))
	require.NoError(t, err)

	src.Seed("42", "2025-02-03", district, nil, nil)

	gotDistrict, gotDivision, gotClub, err := src.Fetch(context.Background(), "42", "2025-02-03")
	require.NoError(t, err)
	assert.Equal(t, district, gotDistrict)
	assert.Nil(t, gotDivision)
	assert.Nil(t, gotClub)
}

func TestStaticSource_FetchUnseededReturnsError(t *testing.T) {
	src := NewStaticSource()
	_, _, _, err := src.Fetch(context.Background(), "42", "2025-02-03")
	assert.Error(t, err)
}

func TestStaticSource_SeedErrorReturnsIt(t *testing.T) {
	src := NewStaticSource()
	src.SeedError("42", "2025-02-03", assert.AnError)

	_, _, _, err := src.Fetch(context.Background(), "42", "2025-02-03")
	assert.ErrorIs(t, err, assert.AnError)
}
