// Package integrity validates, detects corruption in, and repairs the raw
// CSV cache's per-date metadata. Grounded on the teacher's crypto/sha256
// checksumming in test/security/audit_crypto_isolated_test.go, adapted
// here from audit-chain verification to file-content integrity.
package integrity

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/toastreport/snapshot-pipeline/internal/platform/errors"
)

// DefaultSizeToleranceBytes is the arbitrary size-drift tolerance from
// spec.md §9; kept parameterizable via Options.
const DefaultSizeToleranceBytes = 100

// DefaultMaxLineLength bounds any single CSV line before it is treated as
// a corruption signal.
const DefaultMaxLineLength = 50000

// Metadata mirrors RawCacheMetadata's integrity-relevant fields.
type Metadata struct {
	FileCount  int
	TotalSize  int64
	Checksums  map[string]string
}

// Options parameterizes the tolerances spec.md §9 flags as heuristics.
type Options struct {
	SizeToleranceBytes int64
	MaxLineLength      int
}

// DefaultOptions returns the spec's stated defaults.
func DefaultOptions() Options {
	return Options{SizeToleranceBytes: DefaultSizeToleranceBytes, MaxLineLength: DefaultMaxLineLength}
}

// Issue is one integrity discrepancy found by Validate.
type Issue struct {
	Kind string
	Path string
	Detail string
}

// ValidationReport is the result of one Validate call.
type ValidationReport struct {
	Valid  bool
	Issues []Issue
}

// Validate walks dateDir one level plus any district-<id>/ subdirs,
// counting and summing only .csv files, and compares against metadata. It
// recomputes SHA-256 for every file present in metadata's checksum table.
func Validate(dateDir string, metadata Metadata, opts Options) (ValidationReport, error) {
	files, err := walkCSVFiles(dateDir)
	if err != nil {
		return ValidationReport{}, apperrors.NewIntegrityError("WALK_FAILED", err.Error()).WithCause(err)
	}

	var actualSize int64
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		actualSize += info.Size()
	}

	var issues []Issue
	if len(files) != metadata.FileCount {
		issues = append(issues, Issue{Kind: "file_count_mismatch", Path: dateDir,
			Detail: fmt.Sprintf("expected %d files, found %d", metadata.FileCount, len(files))})
	}

	tolerance := opts.SizeToleranceBytes
	if tolerance == 0 {
		tolerance = DefaultSizeToleranceBytes
	}
	diff := actualSize - metadata.TotalSize
	if diff < 0 {
		diff = -diff
	}
	if diff > tolerance {
		issues = append(issues, Issue{Kind: "size_mismatch", Path: dateDir,
			Detail: fmt.Sprintf("expected %d bytes, found %d", metadata.TotalSize, actualSize)})
	}

	for name, expectedChecksum := range metadata.Checksums {
		path := filepath.Join(dateDir, name)
		content, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			issues = append(issues, Issue{Kind: "missing_file", Path: path, Detail: "recorded in checksums but absent on disk"})
			continue
		}
		if err != nil {
			issues = append(issues, Issue{Kind: "read_error", Path: path, Detail: err.Error()})
			continue
		}
		actual := Checksum(content)
		if actual != expectedChecksum {
			issues = append(issues, Issue{Kind: "checksum_mismatch", Path: path,
				Detail: fmt.Sprintf("expected %s, got %s", expectedChecksum, actual)})
		}
	}

	return ValidationReport{Valid: len(issues) == 0, Issues: issues}, nil
}

// Checksum returns the hex-encoded SHA-256 digest of content.
func Checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// CorruptionReport is the result of DetectCorruption.
type CorruptionReport struct {
	IsValid bool
	Reason  string
}

var controlByteRanges = [][2]byte{
	{0x00, 0x08},
	{0x0B, 0x0B},
	{0x0C, 0x0C},
	{0x0E, 0x1F},
	{0x7F, 0x7F},
}

// DetectCorruption inspects one file's content for the signals spec.md
// §4.3.2 enumerates. expectedChecksum is optional; pass "" to skip that
// check.
func DetectCorruption(content []byte, expectedChecksum string, opts Options) CorruptionReport {
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) == 0 {
		return CorruptionReport{IsValid: false, Reason: "empty or whitespace-only content"}
	}

	for _, b := range content {
		for _, r := range controlByteRanges {
			if b >= r[0] && b <= r[1] {
				return CorruptionReport{IsValid: false, Reason: "contains binary or control characters"}
			}
		}
	}

	lines := strings.Split(strings.ReplaceAll(string(content), "\r\n", "\n"), "\n")
	nonEmpty := make([]string, 0, len(lines))
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			nonEmpty = append(nonEmpty, l)
		}
	}
	if len(nonEmpty) < 2 {
		return CorruptionReport{IsValid: false, Reason: "fewer than two lines"}
	}

	maxLen := opts.MaxLineLength
	if maxLen == 0 {
		maxLen = DefaultMaxLineLength
	}
	for _, l := range nonEmpty {
		if len(l) > maxLen {
			return CorruptionReport{IsValid: false, Reason: "line exceeds maximum length"}
		}
	}

	if len(nonEmpty) > 2 {
		last := nonEmpty[len(nonEmpty)-1]
		if !strings.Contains(last, ",") {
			return CorruptionReport{IsValid: false, Reason: "truncated: last line has no comma"}
		}
	}

	if expectedChecksum != "" {
		if Checksum(content) != expectedChecksum {
			return CorruptionReport{IsValid: false, Reason: "checksum mismatch"}
		}
	}

	return CorruptionReport{IsValid: true}
}

// RepairMetadata rebuilds counts, sizes, and the checksum table from the
// files actually present under dateDir, synthesizing defaults if metadata
// was absent. Repair is idempotent: running it twice with no external file
// changes yields byte-identical output.
func RepairMetadata(dateDir string) (Metadata, error) {
	files, err := walkCSVFiles(dateDir)
	if err != nil {
		return Metadata{}, apperrors.NewIntegrityError("REPAIR_WALK_FAILED", err.Error()).WithCause(err)
	}

	checksums := make(map[string]string, len(files))
	var totalSize int64
	for _, f := range files {
		content, err := os.ReadFile(f)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(dateDir, f)
		if err != nil {
			rel = f
		}
		checksums[filepath.ToSlash(rel)] = Checksum(content)
		totalSize += int64(len(content))
	}

	return Metadata{FileCount: len(files), TotalSize: totalSize, Checksums: checksums}, nil
}

// Recover deletes the offending file; idempotent if the file is already
// absent.
func Recover(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return apperrors.NewCorruptionError("RECOVERY_DELETE_FAILED", err.Error()).WithCause(err)
	}
	return nil
}

func walkCSVFiles(dateDir string) ([]string, error) {
	var files []string
	entries, err := os.ReadDir(dateDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	for _, e := range entries {
		full := filepath.Join(dateDir, e.Name())
		if e.IsDir() {
			if strings.HasPrefix(e.Name(), "district-") {
				subEntries, err := os.ReadDir(full)
				if err != nil {
					continue
				}
				for _, se := range subEntries {
					if !se.IsDir() && strings.HasSuffix(se.Name(), ".csv") {
						files = append(files, filepath.Join(full, se.Name()))
					}
				}
			}
			continue
		}
		if strings.HasSuffix(e.Name(), ".csv") {
			files = append(files, full)
		}
	}

	return files, nil
}
