// Package values holds the small immutable value types shared across the
// pipeline: district identifiers, program years, and snapshot ids.
package values

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	apperrors "github.com/toastreport/snapshot-pipeline/internal/platform/errors"
)

var districtIDPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)
var asOfDatePattern = regexp.MustCompile(`(?i)^As of \d{1,2}/\d{1,2}/\d{4}$`)
var programYearPattern = regexp.MustCompile(`^\d{4}-\d{4}$`)
var snapshotIDPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// DistrictID is a validated, non-empty alphanumeric district identifier.
type DistrictID string

// ParseDistrictID validates raw against spec: non-empty, alphanumeric only,
// and rejects the "As of M/D/YYYY" upstream date-leak pattern.
func ParseDistrictID(raw string) (DistrictID, error) {
	if raw == "" {
		return "", apperrors.NewInvalidInputError("EMPTY_DISTRICT_ID", "district id is empty")
	}
	if asOfDatePattern.MatchString(raw) {
		return "", apperrors.NewInvalidInputError("DISTRICT_ID_IS_DATE", fmt.Sprintf("district id %q looks like an upstream date leak", raw))
	}
	if !districtIDPattern.MatchString(raw) {
		return "", apperrors.NewInvalidInputError("DISTRICT_ID_NOT_ALPHANUMERIC", fmt.Sprintf("district id %q contains non-alphanumeric characters", raw))
	}
	return DistrictID(raw), nil
}

func (d DistrictID) String() string { return string(d) }

// ProgramYear is the "YYYY-YYYY" July 1 - June 30 reporting period.
type ProgramYear struct {
	Start int
	End   int
}

func (p ProgramYear) String() string {
	return fmt.Sprintf("%04d-%04d", p.Start, p.End)
}

// StartDate returns July 1 of the program year's first calendar year.
func (p ProgramYear) StartDate() time.Time {
	return time.Date(p.Start, time.July, 1, 0, 0, 0, 0, time.UTC)
}

// EndDate returns June 30 of the program year's second calendar year.
func (p ProgramYear) EndDate() time.Time {
	return time.Date(p.End, time.June, 30, 0, 0, 0, 0, time.UTC)
}

// ProgramYearFor computes the program year containing date: month >= July
// maps to Y-(Y+1), otherwise (Y-1)-Y.
func ProgramYearFor(date time.Time) ProgramYear {
	y := date.Year()
	if date.Month() >= time.July {
		return ProgramYear{Start: y, End: y + 1}
	}
	return ProgramYear{Start: y - 1, End: y}
}

// ParseProgramYear validates raw matches "^\d{4}-\d{4}$" with end = start+1.
func ParseProgramYear(raw string) (ProgramYear, error) {
	if !programYearPattern.MatchString(raw) {
		return ProgramYear{}, apperrors.NewInvalidInputError("INVALID_PROGRAM_YEAR", fmt.Sprintf("program year %q does not match YYYY-YYYY", raw))
	}
	start, _ := strconv.Atoi(raw[0:4])
	end, _ := strconv.Atoi(raw[5:9])
	if end != start+1 {
		return ProgramYear{}, apperrors.NewInvalidInputError("INVALID_PROGRAM_YEAR", fmt.Sprintf("program year %q has non-consecutive years", raw))
	}
	return ProgramYear{Start: start, End: end}, nil
}

// Overlaps reports whether the program year's [StartDate, EndDate] range
// intersects [start, end].
func (p ProgramYear) Overlaps(start, end time.Time) bool {
	return !p.EndDate().Before(start) && !p.StartDate().After(end)
}

// SnapshotID is the "YYYY-MM-DD" date identifying one immutable snapshot.
type SnapshotID string

// ParseSnapshotID validates raw is a YYYY-MM-DD date string.
func ParseSnapshotID(raw string) (SnapshotID, error) {
	if !snapshotIDPattern.MatchString(raw) {
		return "", apperrors.NewInvalidInputError("INVALID_SNAPSHOT_ID", fmt.Sprintf("snapshot id %q is not YYYY-MM-DD", raw))
	}
	if _, err := time.Parse("2006-01-02", raw); err != nil {
		return "", apperrors.NewInvalidInputError("INVALID_SNAPSHOT_ID", fmt.Sprintf("snapshot id %q is not a valid date: %v", raw, err))
	}
	return SnapshotID(raw), nil
}

func (s SnapshotID) String() string { return string(s) }

func (s SnapshotID) Date() (time.Time, error) {
	return time.Parse("2006-01-02", string(s))
}
