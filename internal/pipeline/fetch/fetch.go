// Package fetch defines the capability interface the backfill controller
// uses to retrieve upstream reports, and a static test double. The production transport (browser automation against the
// upstream dashboard) is out of scope for this core, per spec.md §1; it
// lives outside this module as an external collaborator.
package fetch

import (
	"context"
	"fmt"
	"sync"

	"github.com/toastreport/snapshot-pipeline/internal/pipeline/csvparse"
)

// Source retrieves the three per-district reports for (districtID, date).
// On a date absent from the upstream dashboard, implementations must fail
// with an error whose message matches the upstream-unavailable classifier
// in internal/platform/errors.ClassifyFetchError.
type Source interface {
	Fetch(ctx context.Context, districtID, date string) (district, division, club []csvparse.Record, err error)
}

// StaticSource is an in-memory Source keyed by (districtID, date), useful
// for tests and for replaying a previously-captured fixture set. It is
// never wired into a cmd/ binary as the production fetch transport.
type StaticSource struct {
	mu   sync.RWMutex
	data map[string]staticEntry
}

type staticEntry struct {
	district, division, club []csvparse.Record
	err                      error
}

func NewStaticSource() *StaticSource {
	return &StaticSource{data: make(map[string]staticEntry)}
}

func key(districtID, date string) string {
	return districtID + "|" + date
}

// Seed registers the three report record sets to return for
// (districtID, date).
func (s *StaticSource) Seed(districtID, date string, district, division, club []csvparse.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key(districtID, date)] = staticEntry{district: district, division: division, club: club}
}

// SeedError registers err to be returned for (districtID, date), simulating
// an unavailable or failed upstream fetch.
func (s *StaticSource) SeedError(districtID, date string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key(districtID, date)] = staticEntry{err: err}
}

func (s *StaticSource) Fetch(ctx context.Context, districtID, date string) ([]csvparse.Record, []csvparse.Record, []csvparse.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.data[key(districtID, date)]
	if !ok {
		return nil, nil, nil, fmt.Errorf("district %s date %s not found", districtID, date)
	}
	if entry.err != nil {
		return nil, nil, nil, entry.err
	}
	return entry.district, entry.division, entry.club, nil
}
