// Package districtid filters malformed district identifiers out of raw
// records before they enter any cache, snapshot, or index. Grounded on the
// regex-validator style of the teacher's internal/domain/validation package.
package districtid

import (
	"strconv"
	"strings"

	"github.com/toastreport/snapshot-pipeline/internal/domain/values"
)

// Rejected describes one record excluded from downstream artifacts.
type Rejected struct {
	DistrictID string
	Reason     string
}

// Summary tallies a validation pass for logging/metrics.
type Summary struct {
	TotalCount    int
	ValidCount    int
	RejectedCount int
	ReasonCounts  map[string]int
}

const (
	ReasonEmpty          = "empty_or_null"
	ReasonWhitespaceOnly = "whitespace_only"
	ReasonDateLike       = "as_of_date_pattern"
	ReasonNonAlphanumeric = "non_alphanumeric"
)

// Partition splits rawIDs into valid district ids and rejected entries,
// recording a per-reason summary. Rejection never aborts the caller; it is
// warnings-only.
func Partition(rawIDs []string) ([]values.DistrictID, []Rejected, Summary) {
	summary := Summary{TotalCount: len(rawIDs), ReasonCounts: make(map[string]int)}
	valid := make([]values.DistrictID, 0, len(rawIDs))
	rejected := make([]Rejected, 0)

	for _, raw := range rawIDs {
		id, reason, ok := classify(raw)
		if ok {
			valid = append(valid, id)
			summary.ValidCount++
			continue
		}
		rejected = append(rejected, Rejected{DistrictID: raw, Reason: reason})
		summary.ReasonCounts[reason]++
		summary.RejectedCount++
	}

	return valid, rejected, summary
}

// classify validates raw, returning the parsed id and ok=true on success,
// or the rejection reason and ok=false.
func classify(raw string) (id values.DistrictID, reason string, ok bool) {
	if raw == "" {
		return "", ReasonEmpty, false
	}
	if strings.TrimSpace(raw) == "" {
		return "", ReasonWhitespaceOnly, false
	}
	if asOfLike(raw) {
		return "", ReasonDateLike, false
	}
	parsed, err := values.ParseDistrictID(raw)
	if err != nil {
		return "", ReasonNonAlphanumeric, false
	}
	return parsed, "", true
}

func asOfLike(raw string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(raw)), "as of ")
}

// ExtractID reads the district id from a record, preferring "DISTRICT" and
// falling back to "District".
func ExtractID(rec map[string]any) string {
	for _, key := range []string{"DISTRICT", "District"} {
		switch v := rec[key].(type) {
		case string:
			return v
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}
