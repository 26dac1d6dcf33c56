// Package rawcache is the content-addressed, checksummed, dated store for
// fetched report CSVs. Atomic writes are grounded on the temp-file-then-
// rename pattern from the pack's chromium-infra pinpoint CLI token cache
// (token_cache.go: writeToTempFile + os.Rename); per-date metadata
// serialization is new, grounded on the teacher's per-key locking style in
// internal/infrastructure/cache/dnc_cache.go.
package rawcache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/toastreport/snapshot-pipeline/internal/domain/values"
	apperrors "github.com/toastreport/snapshot-pipeline/internal/platform/errors"
	"github.com/toastreport/snapshot-pipeline/internal/pipeline/integrity"
)

// ReportKind is one of the four upstream report shapes.
type ReportKind string

const (
	KindAllDistricts       ReportKind = "all-districts"
	KindDistrictPerformance ReportKind = "district-performance"
	KindDivisionPerformance ReportKind = "division-performance"
	KindClubPerformance     ReportKind = "club-performance"
)

const cacheVersion = "1.0.0"

// DownloadStats tallies cache traffic for one date.
type DownloadStats struct {
	TotalDownloads int       `json:"totalDownloads"`
	CacheHits      int       `json:"cacheHits"`
	CacheMisses    int       `json:"cacheMisses"`
	LastAccessed   time.Time `json:"lastAccessed"`
}

// Integrity mirrors the per-date file accounting integrity.Validate checks.
type Integrity struct {
	FileCount int               `json:"fileCount"`
	TotalSize int64             `json:"totalSize"`
	Checksums map[string]string `json:"checksums"`
}

// Presence flags which reports exist for a date, global and per-district.
type Presence struct {
	AllDistricts bool            `json:"allDistricts"`
	PerDistrict  map[string]DistrictPresence `json:"perDistrict"`
}

type DistrictPresence struct {
	DistrictPerformance bool `json:"districtPerformance"`
	DivisionPerformance bool `json:"divisionPerformance"`
	ClubPerformance     bool `json:"clubPerformance"`
}

// Metadata is the per-date metadata.json document.
type Metadata struct {
	ProgramYear   string        `json:"programYear"`
	Presence      Presence      `json:"presence"`
	Integrity     Integrity     `json:"integrity"`
	DownloadStats DownloadStats `json:"downloadStats"`
	Source        string        `json:"source"`
	CacheVersion  string        `json:"cacheVersion"`
}

func emptyMetadata(date string) Metadata {
	py := values.ProgramYearFor(mustParseDate(date))
	return Metadata{
		ProgramYear:  py.String(),
		Presence:     Presence{PerDistrict: make(map[string]DistrictPresence)},
		Integrity:    Integrity{Checksums: make(map[string]string)},
		Source:       "upstream-dashboard",
		CacheVersion: cacheVersion,
	}
}

func mustParseDate(date string) time.Time {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return time.Now().UTC()
	}
	return t
}

// Cache is the raw CSV cache rooted at BaseDir. The zero value is not
// usable; construct with New.
type Cache struct {
	baseDir string

	mu         sync.Mutex
	dateLocks  map[string]*sync.Mutex
}

// New returns a Cache rooted at baseDir. baseDir is created lazily on
// first write.
func New(baseDir string) *Cache {
	return &Cache{baseDir: baseDir, dateLocks: make(map[string]*sync.Mutex)}
}

func (c *Cache) lockFor(date string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.dateLocks[date]
	if !ok {
		l = &sync.Mutex{}
		c.dateLocks[date] = l
	}
	return l
}

func (c *Cache) dateDir(date string) string {
	return filepath.Join(c.baseDir, date)
}

func (c *Cache) filePath(date string, kind ReportKind, districtID string) string {
	if kind == KindAllDistricts {
		return filepath.Join(c.dateDir(date), "all-districts.csv")
	}
	return filepath.Join(c.dateDir(date), fmt.Sprintf("district-%s", districtID), string(kind)+".csv")
}

// Put atomically writes content for (date, kind, districtID) and updates
// that date's metadata. districtID is ignored when kind is all-districts.
func (c *Cache) Put(date string, kind ReportKind, districtID string, content []byte) (checksum string, err error) {
	lock := c.lockFor(date)
	lock.Lock()
	defer lock.Unlock()

	path := c.filePath(date, kind, districtID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", apperrors.NewTransientError("CACHE_MKDIR_FAILED", err.Error()).WithCause(err)
	}
	if err := atomicWriteFile(path, content); err != nil {
		return "", apperrors.NewTransientError("CACHE_WRITE_FAILED", err.Error()).WithCause(err)
	}

	checksum = integrity.Checksum(content)
	if err := c.updateMetadataLocked(date, func(m *Metadata) {
		relPath, _ := filepath.Rel(c.dateDir(date), path)
		m.Integrity.Checksums[filepath.ToSlash(relPath)] = checksum
		m.DownloadStats.TotalDownloads++
		m.DownloadStats.LastAccessed = time.Now().UTC()
		markPresence(m, kind, districtID, true)
	}); err != nil {
		return "", err
	}

	return checksum, nil
}

// Get reads content + checksum for (date, kind, districtID).
func (c *Cache) Get(date string, kind ReportKind, districtID string) (content []byte, checksum string, err error) {
	lock := c.lockFor(date)
	lock.Lock()
	defer lock.Unlock()

	path := c.filePath(date, kind, districtID)
	content, readErr := os.ReadFile(path)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			_ = c.updateMetadataLocked(date, func(m *Metadata) {
				m.DownloadStats.CacheMisses++
				m.DownloadStats.LastAccessed = time.Now().UTC()
			})
			return nil, "", apperrors.NewMissingDataError("CACHE_MISS", fmt.Sprintf("no cached %s for %s", kind, date))
		}
		return nil, "", apperrors.NewTransientError("CACHE_READ_FAILED", readErr.Error()).WithCause(readErr)
	}

	checksum = integrity.Checksum(content)
	_ = c.updateMetadataLocked(date, func(m *Metadata) {
		m.DownloadStats.CacheHits++
		m.DownloadStats.LastAccessed = time.Now().UTC()
	})

	return content, checksum, nil
}

// Has reports whether (date, kind, districtID) is cached.
func (c *Cache) Has(date string, kind ReportKind, districtID string) bool {
	_, err := os.Stat(c.filePath(date, kind, districtID))
	return err == nil
}

// ListDates enumerates every date directory under the cache root.
func (c *Cache) ListDates() ([]string, error) {
	entries, err := os.ReadDir(c.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.NewTransientError("CACHE_LIST_FAILED", err.Error()).WithCause(err)
	}

	var dates []string
	for _, e := range entries {
		if e.IsDir() && isDateDir(e.Name()) {
			dates = append(dates, e.Name())
		}
	}
	sort.Strings(dates)
	return dates, nil
}

// GetCachedDatesFor returns every date for which districtID has at least
// one cached per-district report.
func (c *Cache) GetCachedDatesFor(districtID string) ([]string, error) {
	dates, err := c.ListDates()
	if err != nil {
		return nil, err
	}

	var out []string
	for _, date := range dates {
		districtDir := filepath.Join(c.dateDir(date), fmt.Sprintf("district-%s", districtID))
		if info, err := os.Stat(districtDir); err == nil && info.IsDir() {
			out = append(out, date)
		}
	}
	return out, nil
}

// CacheDistrictData atomically writes all three per-district reports for
// (districtID, date): either all three files exist afterward, or none do.
func (c *Cache) CacheDistrictData(districtID, date string, districtCSV, divisionCSV, clubCSV []byte) error {
	lock := c.lockFor(date)
	lock.Lock()
	defer lock.Unlock()

	districtDir := filepath.Join(c.dateDir(date), fmt.Sprintf("district-%s", districtID))
	if err := os.MkdirAll(districtDir, 0o755); err != nil {
		return apperrors.NewTransientError("CACHE_MKDIR_FAILED", err.Error()).WithCause(err)
	}

	written := make([]string, 0, 3)
	cleanup := func() {
		for _, p := range written {
			_ = os.Remove(p)
		}
	}

	files := []struct {
		kind    ReportKind
		content []byte
	}{
		{KindDistrictPerformance, districtCSV},
		{KindDivisionPerformance, divisionCSV},
		{KindClubPerformance, clubCSV},
	}

	for _, f := range files {
		path := c.filePath(date, f.kind, districtID)
		if err := atomicWriteFile(path, f.content); err != nil {
			cleanup()
			return apperrors.NewTransientError("CACHE_ATOMIC_WRITE_FAILED", err.Error()).WithCause(err)
		}
		written = append(written, path)
	}

	if err := c.updateMetadataLocked(date, func(m *Metadata) {
		for _, f := range files {
			path := c.filePath(date, f.kind, districtID)
			rel, _ := filepath.Rel(c.dateDir(date), path)
			m.Integrity.Checksums[filepath.ToSlash(rel)] = integrity.Checksum(f.content)
			m.DownloadStats.TotalDownloads++
		}
		m.DownloadStats.LastAccessed = time.Now().UTC()
		markPresence(m, KindDistrictPerformance, districtID, true)
		markPresence(m, KindDivisionPerformance, districtID, true)
		markPresence(m, KindClubPerformance, districtID, true)
	}); err != nil {
		cleanup()
		return err
	}

	return nil
}

func markPresence(m *Metadata, kind ReportKind, districtID string, present bool) {
	if kind == KindAllDistricts {
		m.Presence.AllDistricts = present
		return
	}
	dp := m.Presence.PerDistrict[districtID]
	switch kind {
	case KindDistrictPerformance:
		dp.DistrictPerformance = present
	case KindDivisionPerformance:
		dp.DivisionPerformance = present
	case KindClubPerformance:
		dp.ClubPerformance = present
	}
	m.Presence.PerDistrict[districtID] = dp
}

// updateMetadataLocked reads-modifies-writes metadata.json for date. The
// caller must already hold the per-date lock.
func (c *Cache) updateMetadataLocked(date string, mutate func(*Metadata)) error {
	path := filepath.Join(c.dateDir(date), "metadata.json")

	var m Metadata
	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		if jsonErr := json.Unmarshal(content, &m); jsonErr != nil {
			m = emptyMetadata(date)
		}
	case os.IsNotExist(err):
		m = emptyMetadata(date)
	default:
		return apperrors.NewTransientError("METADATA_READ_FAILED", err.Error()).WithCause(err)
	}

	if m.Presence.PerDistrict == nil {
		m.Presence.PerDistrict = make(map[string]DistrictPresence)
	}
	if m.Integrity.Checksums == nil {
		m.Integrity.Checksums = make(map[string]string)
	}

	mutate(&m)

	repaired, err := integrity.RepairMetadata(c.dateDir(date))
	if err == nil {
		m.Integrity.FileCount = repaired.FileCount
		m.Integrity.TotalSize = repaired.TotalSize
	}

	encoded, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return apperrors.NewTransientError("METADATA_ENCODE_FAILED", err.Error()).WithCause(err)
	}

	if err := os.MkdirAll(c.dateDir(date), 0o755); err != nil {
		return apperrors.NewTransientError("CACHE_MKDIR_FAILED", err.Error()).WithCause(err)
	}

	return atomicWriteFile(path, encoded)
}

func isDateDir(name string) bool {
	if len(name) != 10 {
		return false
	}
	return strings.Count(name, "-") == 2
}

// atomicWriteFile writes data to a temp file in dir's directory, then
// renames it into place.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}

	return nil
}
