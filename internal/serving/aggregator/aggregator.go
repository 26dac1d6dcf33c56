// Package aggregator (continued) exposes the read-serving contracts:
// listAvailableProgramYears, getTrendData, getDistrictData, and
// getDistrictSummary. Each is cache-aside over the durable snapshot and
// time-series stores, grounded on the teacher's repository-facade style
// in internal/service/analytics/service.go (read methods delegating to a
// repository, with a cache short-circuit in front).
package aggregator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/toastreport/snapshot-pipeline/internal/domain/values"
	"github.com/toastreport/snapshot-pipeline/internal/infrastructure/snapshotstore"
	"github.com/toastreport/snapshot-pipeline/internal/pipeline/timeseries"
)

// ProgramYearSummary describes one program year's data availability for a
// district.
type ProgramYearSummary struct {
	Year               string `json:"year"`
	StartDate          string `json:"startDate"`
	EndDate            string `json:"endDate"`
	SnapshotCount      int    `json:"snapshotCount"`
	LatestSnapshotDate string `json:"latestSnapshotDate,omitempty"`
	HasCompleteData    bool   `json:"hasCompleteData"`
}

// ProgramYearsResult is the response shape for listAvailableProgramYears.
type ProgramYearsResult struct {
	DistrictID   string                `json:"districtId"`
	ProgramYears []ProgramYearSummary `json:"programYears"`
}

// DistrictSummaryEntry is one row of getDistrictSummary's response.
type DistrictSummaryEntry struct {
	DistrictID         string `json:"districtId"`
	Status             string `json:"status"`
	MemberCount        int    `json:"memberCount,omitempty"`
	ClubCount          int    `json:"clubCount,omitempty"`
	DistinguishedClubs int    `json:"distinguishedClubs,omitempty"`
}

// TimeSeriesStore is the subset of timeseries.Store the aggregator needs.
type TimeSeriesStore interface {
	ListProgramYears(districtID string) ([]string, error)
	GetProgramYearData(districtID, programYear string) (*timeseries.Index, error)
	GetTrendData(districtID, start, end string) ([]timeseries.DataPoint, error)
}

// SnapshotStore is the subset of snapshotstore.Store the aggregator needs.
type SnapshotStore interface {
	ReadDistrictData(snapshotID, districtID string) (*snapshotstore.DistrictStatistics, error)
	GetSnapshotManifest(snapshotID string) (*snapshotstore.SnapshotManifest, error)
}

// Aggregator answers the serving layer's read contracts, caching results
// in an LRU+TTL Cache to absorb repeated reads of the same snapshot or
// trend window.
type Aggregator struct {
	timeSeries TimeSeriesStore
	snapshots  SnapshotStore
	cache      *Cache
	now        func() time.Time
}

func New(timeSeries TimeSeriesStore, snapshots SnapshotStore, cache *Cache) *Aggregator {
	return &Aggregator{timeSeries: timeSeries, snapshots: snapshots, cache: cache, now: time.Now}
}

// ListAvailableProgramYears returns every program year with time-series
// data for districtID, sorted descending by year. A year hasCompleteData
// iff its endDate has passed and at least one of its snapshot dates falls
// in June of the end year.
func (a *Aggregator) ListAvailableProgramYears(ctx context.Context, districtID string) (*ProgramYearsResult, error) {
	key := "program-years:" + districtID
	var cached ProgramYearsResult
	if hit, _ := a.cache.Get(ctx, key, &cached); hit {
		return &cached, nil
	}

	years, err := a.timeSeries.ListProgramYears(districtID)
	if err != nil {
		return nil, err
	}

	summaries := make([]ProgramYearSummary, 0, len(years))
	now := a.now().UTC()
	for _, year := range years {
		py, err := values.ParseProgramYear(year)
		if err != nil {
			continue
		}
		idx, err := a.timeSeries.GetProgramYearData(districtID, year)
		if err != nil || idx == nil {
			continue
		}

		latest := ""
		hasJuneDate := false
		for _, dp := range idx.DataPoints {
			if dp.Date > latest {
				latest = dp.Date
			}
			if d, err := time.Parse("2006-01-02", dp.Date); err == nil {
				if d.Month() == time.June && d.Year() == py.End {
					hasJuneDate = true
				}
			}
		}

		summaries = append(summaries, ProgramYearSummary{
			Year:               py.String(),
			StartDate:          py.StartDate().Format("2006-01-02"),
			EndDate:            py.EndDate().Format("2006-01-02"),
			SnapshotCount:      len(idx.DataPoints),
			LatestSnapshotDate: latest,
			HasCompleteData:    py.EndDate().Before(now) && hasJuneDate,
		})
	}

	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Year > summaries[j].Year })

	result := &ProgramYearsResult{DistrictID: districtID, ProgramYears: summaries}
	_ = a.cache.Set(ctx, key, result)
	return result, nil
}

// GetTrendData returns the sorted, deduplicated DataPoints for districtID
// across [start, end], delegating to timeseries.Store.GetTrendData.
func (a *Aggregator) GetTrendData(ctx context.Context, districtID, start, end string) ([]timeseries.DataPoint, error) {
	key := fmt.Sprintf("trend:%s:%s:%s", districtID, start, end)
	var cached []timeseries.DataPoint
	if hit, _ := a.cache.Get(ctx, key, &cached); hit {
		return cached, nil
	}

	points, err := a.timeSeries.GetTrendData(districtID, start, end)
	if err != nil {
		return nil, err
	}
	_ = a.cache.Set(ctx, key, points)
	return points, nil
}

// GetDistrictData returns one district's statistics for snapshotID, or
// nil if absent.
func (a *Aggregator) GetDistrictData(ctx context.Context, snapshotID, districtID string) (*snapshotstore.DistrictStatistics, error) {
	key := fmt.Sprintf("district:%s:%s", snapshotID, districtID)
	var cached snapshotstore.DistrictStatistics
	if hit, _ := a.cache.Get(ctx, key, &cached); hit {
		return &cached, nil
	}

	stats, err := a.snapshots.ReadDistrictData(snapshotID, districtID)
	if err != nil {
		return nil, err
	}
	if stats == nil {
		return nil, nil
	}
	_ = a.cache.Set(ctx, key, stats)
	return stats, nil
}

// GetDistrictSummary returns one entry per district configured in
// snapshotID's manifest, with member/club counts populated only for
// districts whose entry status is success.
func (a *Aggregator) GetDistrictSummary(ctx context.Context, snapshotID string) ([]DistrictSummaryEntry, error) {
	key := "summary:" + snapshotID
	var cached []DistrictSummaryEntry
	if hit, _ := a.cache.Get(ctx, key, &cached); hit {
		return cached, nil
	}

	manifest, err := a.snapshots.GetSnapshotManifest(snapshotID)
	if err != nil {
		return nil, err
	}
	if manifest == nil {
		return nil, nil
	}

	successful := make(map[string]bool, len(manifest.SuccessfulDistricts))
	for _, id := range manifest.SuccessfulDistricts {
		successful[id] = true
	}

	entries := make([]DistrictSummaryEntry, 0, len(manifest.ConfiguredDistricts))
	for _, id := range manifest.ConfiguredDistricts {
		entry := DistrictSummaryEntry{DistrictID: id}
		if successful[id] {
			entry.Status = "success"
			if stats, err := a.snapshots.ReadDistrictData(snapshotID, id); err == nil && stats != nil {
				entry.MemberCount = stats.Membership.Total
				entry.ClubCount = stats.Clubs.Total
				entry.DistinguishedClubs = stats.Clubs.Distinguished
			}
		} else {
			entry.Status = "failed"
		}
		entries = append(entries, entry)
	}

	_ = a.cache.Set(ctx, key, entries)
	return entries, nil
}
