package integrity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectCorruption(t *testing.T) {
	t.Run("ControlByteIsCorrupt", func(t *testing.T) {
		content := []byte("DISTRICT,clubs\n01,5\n\x00garbage\n")
		report := DetectCorruption(content, "", DefaultOptions())
		assert.False(t, report.IsValid)
		assert.Contains(t, report.Reason, "binary or control characters")
	})

	t.Run("EmptyContentIsCorrupt", func(t *testing.T) {
		report := DetectCorruption([]byte("   \n  "), "", DefaultOptions())
		assert.False(t, report.IsValid)
	})

	t.Run("TruncatedLastLineIsCorrupt", func(t *testing.T) {
		content := []byte("DISTRICT,clubs\n01,5\n02 no comma here")
		report := DetectCorruption(content, "", DefaultOptions())
		assert.False(t, report.IsValid)
		assert.Contains(t, report.Reason, "truncated")
	})

	t.Run("ValidContentPasses", func(t *testing.T) {
		content := []byte("DISTRICT,clubs\n01,5\n02,7\n")
		report := DetectCorruption(content, "", DefaultOptions())
		assert.True(t, report.IsValid)
	})

	t.Run("ChecksumMismatchIsCorrupt", func(t *testing.T) {
		content := []byte("DISTRICT,clubs\n01,5\n02,7\n")
		report := DetectCorruption(content, "deadbeef", DefaultOptions())
		assert.False(t, report.IsValid)
		assert.Contains(t, report.Reason, "checksum mismatch")
	})
}

func TestRepairMetadataIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "all-districts.csv"), []byte("DISTRICT\n01\n"), 0o644))

	first, err := RepairMetadata(dir)
	require.NoError(t, err)

	second, err := RepairMetadata(dir)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, first.FileCount)
}

func TestValidateReportsSizeAndCountDrift(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "all-districts.csv"), []byte("DISTRICT\n01\n"), 0o644))

	report, err := Validate(dir, Metadata{FileCount: 2, TotalSize: 9999}, DefaultOptions())
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.NotEmpty(t, report.Issues)
}

func TestRecoverIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(path, []byte("\x00"), 0o644))

	require.NoError(t, Recover(path))
	require.NoError(t, Recover(path))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
