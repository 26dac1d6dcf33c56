// Package normalize turns validated raw CSV records into the
// snapshotstore.DistrictStatistics shape the builder persists, and detects
// closing-period reports (an "as of" date that precedes the cache date,
// meaning the upstream dashboard is serving finalized prior-month data).
// Grounded on the teacher's value-type-with-explicit-dependencies style in
// internal/service/analytics/service.go.
package normalize

import (
	"sort"
	"strconv"
	"time"

	"github.com/toastreport/snapshot-pipeline/internal/infrastructure/snapshotstore"
	"github.com/toastreport/snapshot-pipeline/internal/pipeline/csvparse"
)

// educationAwardColumns maps a standard Toastmasters education award type
// to the header aliases it may appear under on a club-performance row.
var educationAwardColumns = []struct {
	Type    string
	Aliases []string
}{
	{"CC", []string{"CC", "Competent Communication"}},
	{"CL", []string{"CL", "Competent Leadership"}},
	{"ACB", []string{"ACB", "Advanced Communicator Bronze"}},
	{"ACS", []string{"ACS", "Advanced Communicator Silver"}},
	{"ACG", []string{"ACG", "Advanced Communicator Gold"}},
	{"ALB", []string{"ALB", "Advanced Leader Bronze"}},
	{"ALS", []string{"ALS", "Advanced Leader Silver"}},
	{"DTM", []string{"DTM", "Distinguished Toastmaster"}},
}

// ClosingPeriodResult reports whether a report's "as of" date precedes the
// cache date, and if so, which date is logical vs. collection.
type ClosingPeriodResult struct {
	IsClosingPeriod bool
	LogicalDate     string
	CollectionDate  string
}

// DetectClosingPeriod compares the report's own "as of" date against the
// date it was fetched for. When asOfDate is strictly earlier, the
// dashboard is serving the prior month's finalized data: logicalDate is
// the report's own date and collectionDate is the cache date.
func DetectClosingPeriod(asOfDate, cacheDate string) ClosingPeriodResult {
	asOf, err1 := time.Parse("2006-01-02", asOfDate)
	cache, err2 := time.Parse("2006-01-02", cacheDate)
	if err1 != nil || err2 != nil || !asOf.Before(cache) {
		return ClosingPeriodResult{IsClosingPeriod: false, LogicalDate: cacheDate, CollectionDate: cacheDate}
	}
	return ClosingPeriodResult{IsClosingPeriod: true, LogicalDate: asOfDate, CollectionDate: cacheDate}
}

// DataNormalizer converts parsed CSV records for one district into a
// DistrictStatistics, applying ClosingPeriodDetector to stamp asOfDate
// correctly.
type DataNormalizer struct{}

func NewDataNormalizer() *DataNormalizer {
	return &DataNormalizer{}
}

// Normalize builds a DistrictStatistics from one district's three report
// records (district-performance, division-performance, club-performance)
// plus the cache date it was fetched for.
func (n *DataNormalizer) Normalize(districtID, cacheDate string, districtRows, divisionRows, clubRows []csvparse.Record) snapshotstore.DistrictStatistics {
	stats := snapshotstore.DistrictStatistics{DistrictID: districtID, AsOfDate: cacheDate}

	if len(districtRows) > 0 {
		row := districtRows[0]
		if asOf := stringField(row, "As of"); asOf != "" {
			if parsed, ok := parseSlashDate(asOf); ok {
				closing := DetectClosingPeriod(parsed, cacheDate)
				stats.AsOfDate = closing.LogicalDate
			}
		}
		stats.Membership.Total = intField(row, "Total Membership", "Active Members")
		stats.Clubs.Total = intField(row, "Total Clubs", "Clubs")
		stats.Clubs.Active = intField(row, "Active Clubs")
		stats.Clubs.Distinguished = intField(row, "Distinguished Clubs")
		stats.Clubs.SelectDistinguished = intField(row, "Select Distinguished Clubs")
		stats.Clubs.PresidentsDistinguished = intField(row, "President's Distinguished Clubs")
		stats.ClubGrowthPercent = floatField(row, "Club Growth %", "clubGrowthPercent")
		stats.PaymentGrowthPercent = floatField(row, "Payment Growth %", "paymentGrowthPercent")
		stats.DistinguishedPercent = floatField(row, "Distinguished %", "distinguishedPercent")
	}

	topClubs := make([]snapshotstore.TopClub, 0, len(clubRows))
	for _, row := range clubRows {
		members := intField(row, "Active Members", "Membership")
		stats.Membership.ByClub = append(stats.Membership.ByClub, snapshotstore.ClubMembership{
			ClubNumber: stringField(row, "Club Number", "Club"),
			ClubName:   stringField(row, "Club Name"),
			Members:    members,
		})

		clubAwards := 0
		for _, award := range educationAwardColumns {
			count := intField(row, award.Aliases...)
			if count == 0 {
				continue
			}
			stats.Education.TotalAwards += count
			stats.Education.ByType = addAwardCount(stats.Education.ByType, award.Type, count)
			clubAwards += count
		}
		if clubAwards > 0 {
			topClubs = append(topClubs, snapshotstore.TopClub{
				ClubNumber: stringField(row, "Club Number", "Club"),
				AwardCount: clubAwards,
			})
		}
	}
	sort.Slice(topClubs, func(i, j int) bool { return topClubs[i].AwardCount > topClubs[j].AwardCount })
	if len(topClubs) > 5 {
		topClubs = topClubs[:5]
	}
	stats.Education.TopClubs = topClubs

	for _, row := range divisionRows {
		stats.Divisions = append(stats.Divisions, snapshotstore.DivisionSummary{
			Division:           stringField(row, "Division"),
			ClubCount:          intField(row, "Total Clubs", "Clubs"),
			Membership:         intField(row, "Total Membership", "Active Members", "Membership"),
			DistinguishedClubs: intField(row, "Distinguished Clubs"),
		})
	}

	return stats
}

func addAwardCount(byType []snapshotstore.EducationAward, awardType string, count int) []snapshotstore.EducationAward {
	for i, a := range byType {
		if a.Type == awardType {
			byType[i].Count += count
			return byType
		}
	}
	return append(byType, snapshotstore.EducationAward{Type: awardType, Count: count})
}

func stringField(row csvparse.Record, keys ...string) string {
	for _, k := range keys {
		if v := row.Get(k); v != nil {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return strconv.FormatFloat(f, 'f', -1, 64)
			}
		}
	}
	return ""
}

func intField(row csvparse.Record, keys ...string) int {
	for _, k := range keys {
		if v := row.Get(k); v != nil {
			if f, ok := v.(float64); ok {
				return int(f)
			}
		}
	}
	return 0
}

func floatField(row csvparse.Record, keys ...string) float64 {
	for _, k := range keys {
		if v := row.Get(k); v != nil {
			if f, ok := v.(float64); ok {
				return f
			}
		}
	}
	return 0
}

// parseSlashDate parses an upstream "As of M/D/YYYY" value into
// "YYYY-MM-DD".
func parseSlashDate(raw string) (string, bool) {
	t, err := time.Parse("1/2/2006", raw)
	if err != nil {
		return "", false
	}
	return t.Format("2006-01-02"), true
}
