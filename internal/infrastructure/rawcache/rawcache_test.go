package rawcache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutAndGet(t *testing.T) {
	cache := New(t.TempDir())

	checksum, err := cache.Put("2025-01-10", KindAllDistricts, "", []byte("DISTRICT\n01\n"))
	require.NoError(t, err)
	assert.NotEmpty(t, checksum)

	content, gotChecksum, err := cache.Get("2025-01-10", KindAllDistricts, "")
	require.NoError(t, err)
	assert.Equal(t, "DISTRICT\n01\n", string(content))
	assert.Equal(t, checksum, gotChecksum)

	assert.True(t, cache.Has("2025-01-10", KindAllDistricts, ""))
	assert.False(t, cache.Has("2025-01-11", KindAllDistricts, ""))
}

func TestCacheDistrictDataAtomicity(t *testing.T) {
	dir := t.TempDir()
	cache := New(dir)

	err := cache.CacheDistrictData("42", "2025-01-10", []byte("a\n1\n"), []byte("b\n2\n"), []byte("c\n3\n"))
	require.NoError(t, err)

	districtDir := filepath.Join(dir, "2025-01-10", "district-42")
	entries, err := os.ReadDir(districtDir)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestGetCachedDatesFor(t *testing.T) {
	cache := New(t.TempDir())
	require.NoError(t, cache.CacheDistrictData("42", "2025-01-10", []byte("a"), []byte("b"), []byte("c")))
	require.NoError(t, cache.CacheDistrictData("42", "2025-01-11", []byte("a"), []byte("b"), []byte("c")))

	dates, err := cache.GetCachedDatesFor("42")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"2025-01-10", "2025-01-11"}, dates)

	none, err := cache.GetCachedDatesFor("99")
	require.NoError(t, err)
	assert.Empty(t, none)
}
