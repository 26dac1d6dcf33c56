// Package snapshotstore owns the manifest-plus-files layout of published
// snapshots: per-district files, analytics, and the manifest that
// references them. Grounded on the teacher's repository capability-
// interface pattern (internal/infrastructure/repository/interfaces.go:
// CallRepository) — Store here plays the same role, parameterizing callers
// by the minimal method set they need.
package snapshotstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	apperrors "github.com/toastreport/snapshot-pipeline/internal/platform/errors"
)

// SchemaVersion is this build's major.minor.patch schema version. Two
// snapshot files are compatible only when their major component matches.
const SchemaVersion = "1.0.0"
const CalculationVersion = "1.0.0"
const RankingVersion = "1.0.0"

// Status values for a SnapshotManifest.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// Membership is the per-district membership summary.
type Membership struct {
	Total         int              `json:"total"`
	Change        int              `json:"change"`
	ChangePercent float64          `json:"changePercent"`
	ByClub        []ClubMembership `json:"byClub"`
}

type ClubMembership struct {
	ClubNumber string `json:"clubNumber"`
	ClubName   string `json:"clubName"`
	Members    int    `json:"members"`
}

// Clubs is the per-district club-status summary.
type Clubs struct {
	Total                 int `json:"total"`
	Active                int `json:"active"`
	Suspended              int `json:"suspended"`
	Ineligible            int `json:"ineligible"`
	Low                    int `json:"low"`
	Distinguished          int `json:"distinguished"`
	SelectDistinguished    int `json:"selectDistinguished"`
	PresidentsDistinguished int `json:"presidentsDistinguished"`
}

// Education is the per-district education/award summary.
type Education struct {
	TotalAwards int              `json:"totalAwards"`
	ByType      []EducationAward `json:"byType"`
	TopClubs    []TopClub        `json:"topClubs"`
}

type EducationAward struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

type TopClub struct {
	ClubNumber string `json:"clubNumber"`
	AwardCount int    `json:"awardCount"`
}

// DivisionSummary is one division's rollup from the division-performance
// report, folded into a district's analytics file.
type DivisionSummary struct {
	Division           string `json:"division"`
	ClubCount          int    `json:"clubCount"`
	Membership         int    `json:"membership"`
	DistinguishedClubs int    `json:"distinguishedClubs"`
}

// DistrictStatistics is the validated per-district structure published in
// one snapshot.
type DistrictStatistics struct {
	DistrictID string            `json:"districtId"`
	AsOfDate   string            `json:"asOfDate"`
	Membership Membership        `json:"membership"`
	Clubs      Clubs             `json:"clubs"`
	Education  Education         `json:"education"`
	Divisions  []DivisionSummary `json:"divisions,omitempty"`

	ClubGrowthPercent    float64 `json:"clubGrowthPercent"`
	PaymentGrowthPercent float64 `json:"paymentGrowthPercent"`
	DistinguishedPercent float64 `json:"distinguishedPercent"`
	ClubGrowthRank       int     `json:"clubGrowthRank"`
	PaymentGrowthRank    int     `json:"paymentGrowthRank"`
	DistinguishedRank    int     `json:"distinguishedRank"`
	AggregateScore       int     `json:"aggregateScore"`
}

// DistrictError is one absorbed per-district failure, per spec.md §7's
// propagation policy.
type DistrictError struct {
	DistrictID  string    `json:"districtId"`
	Op          string    `json:"op"`
	Error       string    `json:"error"`
	ShouldRetry bool      `json:"shouldRetry"`
	Timestamp   time.Time `json:"timestamp"`
}

// SnapshotManifest is the top-level record of one published snapshot.
type SnapshotManifest struct {
	SnapshotID         string          `json:"snapshotId"`
	SchemaVersion      string          `json:"schemaVersion"`
	CalculationVersion string          `json:"calculationVersion"`
	RankingVersion     string          `json:"rankingVersion"`
	CreatedAt          time.Time       `json:"createdAt"`
	Status             string          `json:"status"`
	ConfiguredDistricts []string       `json:"configuredDistricts"`
	SuccessfulDistricts []string       `json:"successfulDistricts"`
	FailedDistricts     []string       `json:"failedDistricts"`
	DistrictErrors      []DistrictError `json:"districtErrors"`
	ProcessingDuration  time.Duration  `json:"processingDuration"`
	DataAsOfDate        string         `json:"dataAsOfDate"`
	IsClosingPeriodData bool           `json:"isClosingPeriodData"`
	CollectionDate      string         `json:"collectionDate"`
	LogicalDate         string         `json:"logicalDate"`
	WriteComplete       bool           `json:"writeComplete"`
	WriteFailedDistricts []string      `json:"writeFailedDistricts"`
}

// SnapshotMetadata is the cheap summary GetSnapshotMetadata(Batch) return
// without pulling per-district files.
type SnapshotMetadata struct {
	SnapshotID string `json:"snapshotId"`
	Status     string `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
	DistrictCount int    `json:"districtCount"`
}

// DistrictSummaryEntry is one row of getDistrictSummary's read contract.
type DistrictSummaryEntry struct {
	DistrictID        string `json:"districtId"`
	MemberCount       int    `json:"memberCount"`
	ClubCount         int    `json:"clubCount"`
	DistinguishedClubs int   `json:"distinguishedClubs"`
}

// Store roots the snapshot tree at baseDir.
type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) snapshotDir(snapshotID string) string {
	return filepath.Join(s.baseDir, "snapshots", snapshotID)
}

func (s *Store) districtPath(snapshotID, districtID string) string {
	return filepath.Join(s.snapshotDir(snapshotID), "districts", fmt.Sprintf("district_%s.json", districtID))
}

func (s *Store) manifestPath(snapshotID string) string {
	return filepath.Join(s.snapshotDir(snapshotID), "manifest.json")
}

func (s *Store) analyticsPath(snapshotID, name string) string {
	return filepath.Join(s.snapshotDir(snapshotID), "analytics", name)
}

// guardPath rejects any candidate path that escapes root after cleaning,
// defending against path-traversal via a crafted id.
func guardPath(root, candidate string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return apperrors.NewInvalidInputError("PATH_RESOLVE_FAILED", err.Error())
	}
	absCandidate, err := filepath.Abs(candidate)
	if err != nil {
		return apperrors.NewInvalidInputError("PATH_RESOLVE_FAILED", err.Error())
	}
	if !strings.HasPrefix(absCandidate, absRoot+string(filepath.Separator)) && absCandidate != absRoot {
		return apperrors.NewInvalidInputError("PATH_TRAVERSAL", fmt.Sprintf("path %q escapes store root", candidate))
	}
	return nil
}

// WriteDistrictData writes one district's statistics file.
func (s *Store) WriteDistrictData(snapshotID, districtID string, stats DistrictStatistics) error {
	path := s.districtPath(snapshotID, districtID)
	if err := guardPath(s.baseDir, path); err != nil {
		return err
	}
	return writeJSONAtomic(path, stats)
}

// ReadDistrictData reads one district's statistics file, or nil if absent.
func (s *Store) ReadDistrictData(snapshotID, districtID string) (*DistrictStatistics, error) {
	path := s.districtPath(snapshotID, districtID)
	if err := guardPath(s.baseDir, path); err != nil {
		return nil, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.NewTransientError("DISTRICT_READ_FAILED", err.Error()).WithCause(err)
	}

	var stats DistrictStatistics
	if jsonErr := json.Unmarshal(content, &stats); jsonErr != nil {
		return nil, apperrors.NewCorruptionError("DISTRICT_DECODE_FAILED", jsonErr.Error()).WithCause(jsonErr)
	}
	return &stats, nil
}

// ListDistrictsInSnapshot enumerates district ids by listing the districts
// directory.
func (s *Store) ListDistrictsInSnapshot(snapshotID string) ([]string, error) {
	dir := filepath.Join(s.snapshotDir(snapshotID), "districts")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.NewTransientError("LIST_DISTRICTS_FAILED", err.Error()).WithCause(err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "district_") || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(e.Name(), "district_"), ".json")
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// WriteManifest writes the snapshot manifest. The manifest write must
// follow all per-district writes so observers never see a manifest
// referencing a district file that is not yet durable.
func (s *Store) WriteManifest(manifest SnapshotManifest) error {
	path := s.manifestPath(manifest.SnapshotID)
	if err := guardPath(s.baseDir, path); err != nil {
		return err
	}
	return writeJSONAtomic(path, manifest)
}

// GetSnapshotManifest reads one snapshot's manifest, or nil if absent.
func (s *Store) GetSnapshotManifest(snapshotID string) (*SnapshotManifest, error) {
	path := s.manifestPath(snapshotID)
	if err := guardPath(s.baseDir, path); err != nil {
		return nil, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.NewTransientError("MANIFEST_READ_FAILED", err.Error()).WithCause(err)
	}

	var manifest SnapshotManifest
	if jsonErr := json.Unmarshal(content, &manifest); jsonErr != nil {
		return nil, apperrors.NewCorruptionError("MANIFEST_DECODE_FAILED", jsonErr.Error()).WithCause(jsonErr)
	}
	return &manifest, nil
}

// GetSnapshotMetadata is the cheap summary form of GetSnapshotManifest.
func (s *Store) GetSnapshotMetadata(snapshotID string) (*SnapshotMetadata, error) {
	manifest, err := s.GetSnapshotManifest(snapshotID)
	if err != nil {
		return nil, err
	}
	if manifest == nil {
		return nil, nil
	}
	return &SnapshotMetadata{
		SnapshotID:    manifest.SnapshotID,
		Status:        manifest.Status,
		CreatedAt:     manifest.CreatedAt,
		DistrictCount: len(manifest.SuccessfulDistricts),
	}, nil
}

// GetSnapshotMetadataBatch resolves metadata for many snapshot ids at once.
func (s *Store) GetSnapshotMetadataBatch(snapshotIDs []string) (map[string]*SnapshotMetadata, error) {
	out := make(map[string]*SnapshotMetadata, len(snapshotIDs))
	for _, id := range snapshotIDs {
		meta, err := s.GetSnapshotMetadata(id)
		if err != nil {
			return nil, err
		}
		out[id] = meta
	}
	return out, nil
}

// ListSnapshotIds is a cheap prefix listing of the snapshots directory; it
// must never read any manifest.
func (s *Store) ListSnapshotIds() ([]string, error) {
	dir := filepath.Join(s.baseDir, "snapshots")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.NewTransientError("LIST_SNAPSHOTS_FAILED", err.Error()).WithCause(err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// HasAllDistrictsRankings is a file-existence probe for the all-districts
// analytics file.
func (s *Store) HasAllDistrictsRankings(snapshotID string) bool {
	return s.HasAnalyticsFile(snapshotID, "manifest.json")
}

// HasAnalyticsFile is a file-existence probe for any named analytics file
// (the all-districts manifest.json or a per-district analytics/membership/
// clubhealth file).
func (s *Store) HasAnalyticsFile(snapshotID, name string) bool {
	_, err := os.Stat(s.analyticsPath(snapshotID, name))
	return err == nil
}

// ReadAllDistrictsRankings reads the all-districts ranking analytics file.
func (s *Store) ReadAllDistrictsRankings(snapshotID string) ([]DistrictStatistics, error) {
	path := s.analyticsPath(snapshotID, "manifest.json")
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.NewTransientError("RANKINGS_READ_FAILED", err.Error()).WithCause(err)
	}

	var rows []DistrictStatistics
	if jsonErr := json.Unmarshal(content, &rows); jsonErr != nil {
		return nil, apperrors.NewCorruptionError("RANKINGS_DECODE_FAILED", jsonErr.Error()).WithCause(jsonErr)
	}
	return rows, nil
}

// WriteAnalytics writes one named analytics file (district_<id>_analytics,
// _membership, _clubhealth, or the all-districts manifest.json).
func (s *Store) WriteAnalytics(snapshotID, name string, data any) error {
	path := s.analyticsPath(snapshotID, name)
	if err := guardPath(s.baseDir, path); err != nil {
		return err
	}
	return writeJSONAtomic(path, data)
}

// VersionSet is the trio of versions stamped on analytics/index files.
type VersionSet struct {
	Schema      string
	Calculation string
	Ranking     string
}

// Current returns this build's version set.
func Current() VersionSet {
	return VersionSet{Schema: SchemaVersion, Calculation: CalculationVersion, Ranking: RankingVersion}
}

// Compatible reports whether two version sets share the same major schema,
// calculation, and ranking version.
func Compatible(a, b VersionSet) bool {
	return majorOf(a.Schema) == majorOf(b.Schema) &&
		majorOf(a.Calculation) == majorOf(b.Calculation) &&
		majorOf(a.Ranking) == majorOf(b.Ranking)
}

func majorOf(semver string) string {
	parts := strings.SplitN(semver, ".", 2)
	return parts[0]
}

func writeJSONAtomic(path string, data any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperrors.NewTransientError("MKDIR_FAILED", err.Error()).WithCause(err)
	}

	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return apperrors.NewTransientError("ENCODE_FAILED", err.Error()).WithCause(err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return apperrors.NewTransientError("TMPFILE_FAILED", err.Error()).WithCause(err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return apperrors.NewTransientError("WRITE_FAILED", err.Error()).WithCause(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return apperrors.NewTransientError("WRITE_FAILED", err.Error()).WithCause(err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return apperrors.NewTransientError("RENAME_FAILED", err.Error()).WithCause(err)
	}

	return nil
}
