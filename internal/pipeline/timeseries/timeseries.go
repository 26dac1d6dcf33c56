// Package timeseries maintains per-district, per-program-year index files
// of ranking DataPoints, and answers range queries across them. Grounded
// on the teacher's atomic-write style (shared with internal/infrastructure/
// rawcache) and the dnc_cache.go per-key locking pattern for the single-
// writer-per-(district,programYear) guarantee.
package timeseries

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/toastreport/snapshot-pipeline/internal/domain/values"
	apperrors "github.com/toastreport/snapshot-pipeline/internal/platform/errors"
)

// DataPoint is the minimal per-date record sufficient to plot rank and
// aggregate score trends.
type DataPoint struct {
	Date                string `json:"date"`
	AggregateScore       int    `json:"aggregateScore"`
	ClubsRank            int    `json:"clubsRank"`
	PaymentsRank         int    `json:"paymentsRank"`
	DistinguishedRank    int    `json:"distinguishedRank"`
	MembershipTotal      int    `json:"membershipTotal"`
	ClubCount            int    `json:"clubCount"`
	DistinguishedCount   int    `json:"distinguishedCount"`
}

// Index is one district's program-year index file.
type Index struct {
	ProgramYear string      `json:"programYear"`
	StartDate   string      `json:"startDate"`
	EndDate     string      `json:"endDate"`
	DataPoints  []DataPoint `json:"dataPoints"`
	LastUpdated time.Time   `json:"lastUpdated"`
}

// Store roots the time-series index tree at baseDir
// (time-series/district_<id>/<programYear>.json).
type Store struct {
	baseDir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir, locks: make(map[string]*sync.Mutex)}
}

func (s *Store) lockFor(districtID, programYear string) *sync.Mutex {
	key := districtID + "|" + programYear
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

func (s *Store) path(districtID, programYear string) string {
	return filepath.Join(s.baseDir, fmt.Sprintf("district_%s", districtID), programYear+".json")
}

// Upsert inserts or replaces point (keyed by Date) into districtID's index
// for the program year containing point's date, writing atomically.
func (s *Store) Upsert(districtID string, point DataPoint) error {
	date, err := time.Parse("2006-01-02", point.Date)
	if err != nil {
		return apperrors.NewInvalidInputError("INVALID_DATE", fmt.Sprintf("data point date %q is invalid", point.Date))
	}
	py := values.ProgramYearFor(date)

	lock := s.lockFor(districtID, py.String())
	lock.Lock()
	defer lock.Unlock()

	path := s.path(districtID, py.String())
	idx, err := s.readIndex(path, py)
	if err != nil {
		return err
	}

	idx.DataPoints = upsertSorted(idx.DataPoints, point)
	idx.LastUpdated = time.Now().UTC()

	return s.writeIndex(path, idx)
}

func upsertSorted(points []DataPoint, point DataPoint) []DataPoint {
	for i, p := range points {
		if p.Date == point.Date {
			points[i] = point
			return points
		}
	}
	idx := sort.Search(len(points), func(i int) bool { return points[i].Date >= point.Date })
	points = append(points, DataPoint{})
	copy(points[idx+1:], points[idx:])
	points[idx] = point
	return points
}

func (s *Store) readIndex(path string, py values.ProgramYear) (Index, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Index{
				ProgramYear: py.String(),
				StartDate:   py.StartDate().Format("2006-01-02"),
				EndDate:     py.EndDate().Format("2006-01-02"),
			}, nil
		}
		return Index{}, apperrors.NewTransientError("INDEX_READ_FAILED", err.Error()).WithCause(err)
	}

	var idx Index
	if jsonErr := json.Unmarshal(content, &idx); jsonErr != nil {
		return Index{}, apperrors.NewCorruptionError("INDEX_DECODE_FAILED", jsonErr.Error()).WithCause(jsonErr)
	}
	return idx, nil
}

func (s *Store) writeIndex(path string, idx Index) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperrors.NewTransientError("INDEX_MKDIR_FAILED", err.Error()).WithCause(err)
	}

	encoded, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return apperrors.NewTransientError("INDEX_ENCODE_FAILED", err.Error()).WithCause(err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return apperrors.NewTransientError("INDEX_TMPFILE_FAILED", err.Error()).WithCause(err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return apperrors.NewTransientError("INDEX_WRITE_FAILED", err.Error()).WithCause(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return apperrors.NewTransientError("INDEX_WRITE_FAILED", err.Error()).WithCause(err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return apperrors.NewTransientError("INDEX_RENAME_FAILED", err.Error()).WithCause(err)
	}

	return nil
}

// GetTrendData enumerates every program year overlapping [start,end]
// inclusive, reads each file (missing files contribute nothing),
// concatenates, filters to [start,end], and returns ascending by date. A
// year file that cannot be read or decoded is skipped without being logged
// or returned; only an invalid start or end date yields an error.
func (s *Store) GetTrendData(districtID, start, end string) ([]DataPoint, error) {
	startDate, err := time.Parse("2006-01-02", start)
	if err != nil {
		return nil, apperrors.NewInvalidInputError("INVALID_DATE", fmt.Sprintf("start date %q is invalid", start))
	}
	endDate, err := time.Parse("2006-01-02", end)
	if err != nil {
		return nil, apperrors.NewInvalidInputError("INVALID_DATE", fmt.Sprintf("end date %q is invalid", end))
	}

	var out []DataPoint
	for _, py := range overlappingProgramYears(startDate, endDate) {
		path := s.path(districtID, py.String())
		content, readErr := os.ReadFile(path)
		if readErr != nil {
			continue
		}
		var idx Index
		if jsonErr := json.Unmarshal(content, &idx); jsonErr != nil {
			continue
		}
		for _, p := range idx.DataPoints {
			d, err := time.Parse("2006-01-02", p.Date)
			if err != nil {
				continue
			}
			if !d.Before(startDate) && !d.After(endDate) {
				out = append(out, p)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return dedupeByDate(out), nil
}

func dedupeByDate(points []DataPoint) []DataPoint {
	seen := make(map[string]bool, len(points))
	out := make([]DataPoint, 0, len(points))
	for _, p := range points {
		if seen[p.Date] {
			continue
		}
		seen[p.Date] = true
		out = append(out, p)
	}
	return out
}

func overlappingProgramYears(start, end time.Time) []values.ProgramYear {
	var years []values.ProgramYear
	cursor := values.ProgramYearFor(start)
	for !cursor.StartDate().After(end) {
		years = append(years, cursor)
		cursor = values.ProgramYear{Start: cursor.Start + 1, End: cursor.End + 1}
	}
	return years
}

// ListProgramYears returns every program year with an index file for
// districtID, sorted ascending by start year.
func (s *Store) ListProgramYears(districtID string) ([]string, error) {
	dir := filepath.Join(s.baseDir, fmt.Sprintf("district_%s", districtID))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.NewTransientError("TIMESERIES_LIST_FAILED", err.Error()).WithCause(err)
	}

	var years []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if filepath.Ext(name) != ".json" {
			continue
		}
		years = append(years, name[:len(name)-len(".json")])
	}
	sort.Strings(years)
	return years, nil
}

// GetProgramYearData validates programYear and returns its index file, or
// nil if absent.
func (s *Store) GetProgramYearData(districtID, programYear string) (*Index, error) {
	py, err := values.ParseProgramYear(programYear)
	if err != nil {
		return nil, err
	}

	path := s.path(districtID, py.String())
	content, readErr := os.ReadFile(path)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return nil, nil
		}
		return nil, nil
	}

	var idx Index
	if jsonErr := json.Unmarshal(content, &idx); jsonErr != nil {
		return nil, nil
	}
	return &idx, nil
}
