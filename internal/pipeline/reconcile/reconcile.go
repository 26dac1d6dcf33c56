// Package reconcile schedules month-end reconciliation backfills: early
// in a month, previously-incomplete data for the prior month is re-fetched
// per configured district, with bounded retries. Grounded on the teacher's
// ticker-driven background-cleanup loop in
// internal/infrastructure/cache/factory.go (StartBackgroundCleanup).
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/toastreport/snapshot-pipeline/internal/infrastructure/metrics"
	"github.com/toastreport/snapshot-pipeline/internal/infrastructure/telemetry"
	"github.com/toastreport/snapshot-pipeline/internal/pipeline/backfill"
)

// Status values for a ScheduledReconciliation.
const (
	StatusPending   = "pending"
	StatusInitiated = "initiated"
	StatusFailed    = "failed"
)

// Entry is one district's scheduled reconciliation for one target month.
type Entry struct {
	DistrictID   string     `json:"districtId"`
	TargetMonth  string     `json:"targetMonth"`
	ScheduledFor time.Time  `json:"scheduledFor"`
	Status       string     `json:"status"`
	Attempts     int        `json:"attempts"`
	LastAttempt  *time.Time `json:"lastAttempt,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// Initiator starts the actual reconciliation work for a district's target
// month (start/end dates bracketing that calendar month), returning an
// error on failure. Implemented by backfill.Controller.
type Initiator interface {
	Initiate(ctx context.Context, districtID, startDate, endDate string) (*backfill.Job, error)
}

// JobStore is the subset of jobstore.Store the scheduler needs to persist
// reconciliation entries across restarts. Implemented by *jobstore.Store.
type JobStore interface {
	SaveReconciliationEntry(ctx context.Context, e *Entry) error
	ListReconciliationEntries(ctx context.Context) ([]Entry, error)
}

// Scheduler runs the fixed-interval tick loop and retry state machine.
type Scheduler struct {
	initiator         Initiator
	logger            telemetry.Logger
	districts         []string
	tickInterval      time.Duration
	scheduleWindowDay int
	maxAttempts       int
	retryBackoff      time.Duration
	entryRetention    time.Duration

	mu      sync.Mutex
	entries map[string]*Entry

	// Metrics is optional; nil disables Prometheus recording.
	Metrics *metrics.Registry

	// JobStore is optional; nil keeps entries in-memory only. When set,
	// every scheduled/attempted entry is persisted so a restart can
	// recover the retry state machine instead of re-scheduling from
	// scratch.
	JobStore JobStore
}

func New(initiator Initiator, logger telemetry.Logger, districts []string, tickInterval time.Duration, scheduleWindowDay, maxAttempts int, retryBackoff, entryRetention time.Duration) *Scheduler {
	return &Scheduler{
		initiator:         initiator,
		logger:            logger,
		districts:         districts,
		tickInterval:      tickInterval,
		scheduleWindowDay: scheduleWindowDay,
		maxAttempts:       maxAttempts,
		retryBackoff:      retryBackoff,
		entryRetention:    entryRetention,
		entries:           make(map[string]*Entry),
	}
}

func entryKey(districtID, targetMonth string) string {
	return districtID + "|" + targetMonth
}

// Load restores tracked entries from JobStore, if configured. Callers run
// this once at startup, before the first Tick, so retry/backoff state
// survives a process restart instead of re-scheduling every district from
// scratch.
func (s *Scheduler) Load(ctx context.Context) error {
	if s.JobStore == nil {
		return nil
	}
	entries, err := s.JobStore.ListReconciliationEntries(ctx)
	if err != nil {
		return fmt.Errorf("listing reconciliation entries: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range entries {
		e := entries[i]
		s.entries[entryKey(e.DistrictID, e.TargetMonth)] = &e
	}
	return nil
}

// Run blocks, ticking every tickInterval until ctx is cancelled. Each tick
// schedules any districts due for the current month and attempts all
// pending/retry-eligible entries.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx, time.Now().UTC())
		}
	}
}

// Tick runs one scheduling-and-retry pass as of now. Exported so tests and
// cmd/ one-shot invocations don't need to wait on a real ticker.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	if now.Day() <= s.scheduleWindowDay {
		s.scheduleDueDistricts(ctx, now)
	}
	s.attemptEligible(ctx, now)
	s.gc(now)

	if s.Metrics != nil {
		s.mu.Lock()
		pending := 0
		for _, e := range s.entries {
			if e.Status != StatusInitiated {
				pending++
			}
		}
		s.mu.Unlock()
		s.Metrics.SetReconcilePending(pending)
	}
}

func (s *Scheduler) scheduleDueDistricts(ctx context.Context, now time.Time) {
	targetMonth := previousMonth(now)

	s.mu.Lock()
	var created []*Entry
	for _, districtID := range s.districts {
		key := entryKey(districtID, targetMonth)
		if _, exists := s.entries[key]; exists {
			continue
		}
		e := &Entry{
			DistrictID:   districtID,
			TargetMonth:  targetMonth,
			ScheduledFor: now,
			Status:       StatusPending,
		}
		s.entries[key] = e
		created = append(created, e)
	}
	s.mu.Unlock()

	for _, e := range created {
		s.persist(ctx, e)
	}
}

// persist saves e to JobStore, if configured. A persistence failure is
// logged and absorbed; the in-memory entries map remains authoritative for
// a running process regardless.
func (s *Scheduler) persist(ctx context.Context, e *Entry) {
	if s.JobStore == nil {
		return
	}
	if err := s.JobStore.SaveReconciliationEntry(ctx, e); err != nil {
		s.logger.Warn(ctx, "failed persisting reconciliation entry",
			zap.String("district_id", e.DistrictID), zap.String("target_month", e.TargetMonth), zap.Error(err))
	}
}

func (s *Scheduler) attemptEligible(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var eligible []*Entry
	for _, e := range s.entries {
		if e.Status == StatusInitiated {
			continue
		}
		if e.Status == StatusFailed && e.Attempts >= s.maxAttempts {
			continue
		}
		if e.LastAttempt != nil && now.Sub(*e.LastAttempt) < s.retryBackoff {
			continue
		}
		eligible = append(eligible, e)
	}
	s.mu.Unlock()

	for _, e := range eligible {
		s.attempt(ctx, e, now)
	}
}

func (s *Scheduler) attempt(ctx context.Context, e *Entry, now time.Time) {
	start, end := monthBounds(e.TargetMonth)

	_, err := s.initiator.Initiate(ctx, e.DistrictID, start, end)

	s.mu.Lock()
	e.Attempts++
	e.LastAttempt = &now
	if err != nil {
		e.Error = err.Error()
		if e.Attempts < s.maxAttempts {
			e.Status = StatusPending
			e.ScheduledFor = now.Add(s.retryBackoff)
		} else {
			e.Status = StatusFailed
		}
	} else {
		e.Status = StatusInitiated
		e.Error = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn(ctx, "reconciliation attempt failed",
			zap.String("district_id", e.DistrictID), zap.String("target_month", e.TargetMonth), zap.Error(err))
		if s.Metrics != nil {
			s.Metrics.RecordReconcileAttempt("failed")
		}
	} else if s.Metrics != nil {
		s.Metrics.RecordReconcileAttempt("initiated")
	}
	s.persist(ctx, e)
}

func (s *Scheduler) gc(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.entryRetention)
	for key, e := range s.entries {
		if e.Status == StatusPending {
			continue
		}
		ref := e.ScheduledFor
		if e.LastAttempt != nil {
			ref = *e.LastAttempt
		}
		if ref.Before(cutoff) {
			delete(s.entries, key)
		}
	}
}

// Entries returns a snapshot of all tracked entries, for inspection/tests.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	return out
}

func previousMonth(now time.Time) string {
	prev := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	return prev.Format("2006-01")
}

func monthBounds(targetMonth string) (start, end string) {
	first, err := time.Parse("2006-01", targetMonth)
	if err != nil {
		return "", ""
	}
	last := first.AddDate(0, 1, -1)
	return first.Format("2006-01-02"), last.Format("2006-01-02")
}
