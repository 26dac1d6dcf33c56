// Package backfill drives per-district historical cache population: for a
// date range, fetch the three upstream reports for each date (newest
// first) and cache them atomically, classifying reconciliation-period and
// upstream-unavailable dates without failing the job. Grounded on the
// teacher's rate-limited external-provider pattern in
// internal/service/dnc/providers/ftc_provider.go (rate.Limiter.Wait before
// each outbound call) and its job-lifecycle style in
// internal/service/dnc/providers/manager.go.
package backfill

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/toastreport/snapshot-pipeline/internal/domain/values"
	"github.com/toastreport/snapshot-pipeline/internal/infrastructure/metrics"
	"github.com/toastreport/snapshot-pipeline/internal/infrastructure/rawcache"
	"github.com/toastreport/snapshot-pipeline/internal/infrastructure/telemetry"
	apperrors "github.com/toastreport/snapshot-pipeline/internal/platform/errors"
	"github.com/toastreport/snapshot-pipeline/internal/pipeline/csvparse"
	"github.com/toastreport/snapshot-pipeline/internal/pipeline/fetch"
)

// Status values for a BackfillJob.
const (
	StatusProcessing = "processing"
	StatusComplete   = "complete"
	StatusError      = "error"
)

// Progress tracks per-date outcomes within a job.
type Progress struct {
	Total       int    `json:"total"`
	Completed   int    `json:"completed"`
	Skipped     int    `json:"skipped"`
	Unavailable int    `json:"unavailable"`
	Failed      int    `json:"failed"`
	Current     string `json:"current,omitempty"`
}

// Job is one district's backfill run over a date range.
type Job struct {
	ID          string     `json:"id"`
	DistrictID  string     `json:"districtId"`
	StartDate   string     `json:"startDate"`
	EndDate     string     `json:"endDate"`
	Status      string     `json:"status"`
	Progress    Progress   `json:"progress"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Error       string     `json:"error,omitempty"`

	cancel context.CancelFunc
}

// Cache is the subset of rawcache.Cache the controller needs.
type Cache interface {
	Has(date string, kind rawcache.ReportKind, districtID string) bool
	CacheDistrictData(districtID, date string, districtCSV, divisionCSV, clubCSV []byte) error
}

// JobStore is the subset of jobstore.Store the controller needs to persist
// job state across restarts. Implemented by *jobstore.Store.
type JobStore interface {
	SaveBackfillJob(ctx context.Context, job *Job) error
	ListActiveBackfillJobs(ctx context.Context) ([]*Job, error)
	PruneCompletedBackfillJobs(ctx context.Context, cutoff time.Time) error
}

// Controller runs and tracks backfill jobs. One Controller instance
// manages jobs across all districts; jobs are keyed by UUID.
type Controller struct {
	cache            Cache
	source           fetch.Source
	logger           telemetry.Logger
	throttleInterval time.Duration
	memberThreshold  int
	jobRetention     time.Duration

	mu   sync.Mutex
	jobs map[string]*Job

	// Metrics is optional; nil disables Prometheus recording.
	Metrics *metrics.Registry

	// JobStore is optional; nil keeps job state in-memory only (the
	// jobs map above). When set, job state is persisted on every
	// transition so a restart can recover in-flight/completed jobs.
	JobStore JobStore
}

// New builds a Controller. memberThreshold is the total club-report
// Active Members sum below which a date is classified as a
// reconciliation-period (incomplete upstream publication), per
// config.IntegrityConfig.ReconciliationMemberThreshold.
func New(cache Cache, source fetch.Source, logger telemetry.Logger, throttleInterval time.Duration, memberThreshold int, jobRetention time.Duration) *Controller {
	return &Controller{
		cache:            cache,
		source:           source,
		logger:           logger,
		throttleInterval: throttleInterval,
		memberThreshold:  memberThreshold,
		jobRetention:     jobRetention,
		jobs:             make(map[string]*Job),
	}
}

// Initiate starts a new backfill job for districtID over [startDate,
// endDate]. Empty startDate defaults to July 1 of the current program
// year; empty endDate defaults to today. Dates are processed newest
// first. Returns an invalid-input error if start > end, end is in the
// future, or every date in range is already cached.
func (c *Controller) Initiate(ctx context.Context, districtID, startDate, endDate string) (*Job, error) {
	now := time.Now().UTC()

	if endDate == "" {
		endDate = now.Format("2006-01-02")
	}
	if startDate == "" {
		py := values.ProgramYearFor(now)
		startDate = py.StartDate().Format("2006-01-02")
	}

	start, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return nil, apperrors.NewInvalidInputError("BACKFILL_BAD_START_DATE", err.Error())
	}
	end, err := time.Parse("2006-01-02", endDate)
	if err != nil {
		return nil, apperrors.NewInvalidInputError("BACKFILL_BAD_END_DATE", err.Error())
	}
	if start.After(end) {
		return nil, apperrors.NewInvalidInputError("BACKFILL_START_AFTER_END", "start date is after end date")
	}
	if end.After(now) {
		return nil, apperrors.NewInvalidInputError("BACKFILL_END_IN_FUTURE", "end date is in the future")
	}

	dates := enumerateDatesDescending(start, end)
	var pending []string
	for _, d := range dates {
		if !c.cache.Has(d, rawcache.KindDistrictPerformance, districtID) {
			pending = append(pending, d)
		}
	}
	if len(pending) == 0 {
		return nil, apperrors.NewInvalidInputError("BACKFILL_ALL_CACHED", "every date in range is already cached")
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:         uuid.New().String(),
		DistrictID: districtID,
		StartDate:  startDate,
		EndDate:    endDate,
		Status:     StatusProcessing,
		Progress:   Progress{Total: len(pending)},
		CreatedAt:  now,
		cancel:     cancel,
	}

	c.mu.Lock()
	c.jobs[job.ID] = job
	active := 0
	for _, j := range c.jobs {
		if j.Status == StatusProcessing {
			active++
		}
	}
	c.mu.Unlock()
	if c.Metrics != nil {
		c.Metrics.SetBackfillJobsActive(active)
	}
	c.persist(ctx, job)

	go c.run(jobCtx, job, pending)

	return job, nil
}

// Recover loads jobs JobStore still marks StatusProcessing from a prior
// process and marks them errored: nothing is actually running them after a
// restart, and re-running silently would double-count progress against
// already-cached dates. A no-op when JobStore is nil. Callers run this once
// at startup before accepting new Initiate calls.
func (c *Controller) Recover(ctx context.Context) error {
	if c.JobStore == nil {
		return nil
	}
	stale, err := c.JobStore.ListActiveBackfillJobs(ctx)
	if err != nil {
		return fmt.Errorf("listing active backfill jobs: %w", err)
	}

	now := time.Now().UTC()
	for _, job := range stale {
		job.Status = StatusError
		job.Error = "interrupted by process restart"
		job.CompletedAt = &now

		c.mu.Lock()
		c.jobs[job.ID] = job
		c.mu.Unlock()

		c.persist(ctx, job)
		c.logger.Warn(ctx, "recovered interrupted backfill job", zap.String("job_id", job.ID), zap.String("district_id", job.DistrictID))
	}
	return nil
}

// Get returns the job by id, or nil if unknown or garbage-collected.
func (c *Controller) Get(id string) *Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jobs[id]
}

// Cancel requests cooperative cancellation of a running job. The job
// checks for cancellation before each date (including while it waits on
// the inter-date throttle) and again once that date's Source.Fetch call
// returns, before anything is cached. A date's three reports come from
// that single Fetch call, so no check runs between them.
func (c *Controller) Cancel(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	job, ok := c.jobs[id]
	if !ok || job.cancel == nil {
		return false
	}
	job.cancel()
	return true
}

// GC removes completed/errored jobs older than jobRetention, and prunes the
// same cutoff from JobStore when one is configured.
func (c *Controller) GC() {
	c.mu.Lock()
	cutoff := time.Now().UTC().Add(-c.jobRetention)
	for id, job := range c.jobs {
		if job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(c.jobs, id)
		}
	}
	c.mu.Unlock()

	if c.JobStore == nil {
		return
	}
	if err := c.JobStore.PruneCompletedBackfillJobs(context.Background(), cutoff); err != nil {
		c.logger.Warn(context.Background(), "failed pruning backfill job store", zap.Error(err))
	}
}

func (c *Controller) run(ctx context.Context, job *Job, dates []string) {
	limiter := rate.NewLimiter(rate.Every(c.throttleInterval), 1)

	for _, date := range dates {
		select {
		case <-ctx.Done():
			c.finish(job, StatusError, "cancelled")
			return
		default:
		}

		if err := limiter.Wait(ctx); err != nil {
			c.finish(job, StatusError, "cancelled")
			return
		}

		c.mu.Lock()
		job.Progress.Current = date
		c.mu.Unlock()

		c.processDate(ctx, job, date)
		c.persist(ctx, job)
	}

	c.finish(job, StatusComplete, "")
}

func (c *Controller) processDate(ctx context.Context, job *Job, date string) {
	districtRows, divisionRows, clubRows, err := c.source.Fetch(ctx, job.DistrictID, date)
	if err != nil {
		appErr := apperrors.ClassifyFetchError(err)
		c.mu.Lock()
		defer c.mu.Unlock()
		outcome := "failed"
		if appErr.Kind == apperrors.KindUpstreamUnavailable {
			job.Progress.Unavailable++
			outcome = "unavailable"
		} else {
			job.Progress.Failed++
		}
		c.logger.Warn(ctx, "backfill fetch failed",
			zap.String("district_id", job.DistrictID), zap.String("date", date), zap.Error(err))
		if c.Metrics != nil {
			c.Metrics.RecordBackfillDate(outcome)
		}
		return
	}

	select {
	case <-ctx.Done():
		return
	default:
	}

	if len(clubRows) > 0 && totalActiveMembers(clubRows) < c.memberThreshold {
		c.mu.Lock()
		job.Progress.Unavailable++
		c.mu.Unlock()
		c.recordDate("unavailable")
		return
	}
	if len(districtRows) == 0 && len(divisionRows) == 0 && len(clubRows) == 0 {
		c.mu.Lock()
		job.Progress.Unavailable++
		c.mu.Unlock()
		c.recordDate("unavailable")
		return
	}

	districtCSV, dErr1 := serializeRecords(districtRows)
	divisionCSV, dErr2 := serializeRecords(divisionRows)
	clubCSV, dErr3 := serializeRecords(clubRows)
	if dErr1 != nil || dErr2 != nil || dErr3 != nil {
		c.mu.Lock()
		job.Progress.Failed++
		c.mu.Unlock()
		c.recordDate("failed")
		return
	}

	if err := c.cache.CacheDistrictData(job.DistrictID, date, districtCSV, divisionCSV, clubCSV); err != nil {
		c.mu.Lock()
		job.Progress.Failed++
		c.mu.Unlock()
		c.recordDate("failed")
		return
	}

	c.mu.Lock()
	job.Progress.Completed++
	c.mu.Unlock()
	c.recordDate("completed")
}

// persist saves job to JobStore, if configured. A persistence failure is
// logged and absorbed; the in-memory jobs map remains the source of truth
// for a running process regardless.
func (c *Controller) persist(ctx context.Context, job *Job) {
	if c.JobStore == nil {
		return
	}
	if err := c.JobStore.SaveBackfillJob(ctx, job); err != nil {
		c.logger.Warn(ctx, "failed persisting backfill job", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (c *Controller) recordDate(outcome string) {
	if c.Metrics != nil {
		c.Metrics.RecordBackfillDate(outcome)
	}
}

func (c *Controller) finish(job *Job, status, errMsg string) {
	c.mu.Lock()
	job.Status = status
	job.Error = errMsg
	now := time.Now().UTC()
	job.CompletedAt = &now
	active := 0
	for _, j := range c.jobs {
		if j.Status == StatusProcessing {
			active++
		}
	}
	c.mu.Unlock()

	if c.Metrics != nil {
		c.Metrics.RecordBackfillJob(status)
		c.Metrics.SetBackfillJobsActive(active)
	}
	c.persist(context.Background(), job)
}

func enumerateDatesDescending(start, end time.Time) []string {
	var dates []string
	for d := end; !d.Before(start); d = d.AddDate(0, 0, -1) {
		dates = append(dates, d.Format("2006-01-02"))
	}
	return dates
}

func totalActiveMembers(rows []csvparse.Record) int {
	total := 0
	for _, row := range rows {
		for _, key := range []string{"Active Members", "Membership"} {
			if v := row.Get(key); v != nil {
				if f, ok := v.(float64); ok {
					total += int(f)
					break
				}
			}
		}
	}
	return total
}

// serializeRecords writes parsed records back to CSV bytes for raw-cache
// storage: a header row from the first record's keys, then one row per
// record. This round-trips through encoding/csv.Writer the same way the
// teacher's CSVExporter does in internal/service/audit/export.go, so the
// bytes the cache stores are exactly what csvparse.Parse reads back on
// the builder side.
func serializeRecords(rows []csvparse.Record) ([]byte, error) {
	if len(rows) == 0 {
		return []byte{}, nil
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	headers := rows[0].Keys
	if err := w.Write(headers); err != nil {
		return nil, fmt.Errorf("writing csv header: %w", err)
	}

	for _, row := range rows {
		fields := make([]string, len(headers))
		for i, h := range headers {
			fields[i] = fieldString(row.Get(h))
		}
		if err := w.Write(fields); err != nil {
			return nil, fmt.Errorf("writing csv row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func fieldString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
