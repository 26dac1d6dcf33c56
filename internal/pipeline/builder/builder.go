// Package builder orchestrates validation, normalization, ranking, and
// persistence for one date's snapshot. Grounded on the teacher's
// fan-out-with-WaitGroup pattern in internal/service/dnc/providers/manager.go
// (BatchCheckNumbers), adapted from parallel provider checks to parallel
// per-district cache probing and normalization.
package builder

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/toastreport/snapshot-pipeline/internal/domain/values"
	"github.com/toastreport/snapshot-pipeline/internal/infrastructure/metrics"
	"github.com/toastreport/snapshot-pipeline/internal/infrastructure/rawcache"
	"github.com/toastreport/snapshot-pipeline/internal/infrastructure/snapshotstore"
	"github.com/toastreport/snapshot-pipeline/internal/infrastructure/telemetry"
	apperrors "github.com/toastreport/snapshot-pipeline/internal/platform/errors"
	"github.com/toastreport/snapshot-pipeline/internal/pipeline/csvparse"
	"github.com/toastreport/snapshot-pipeline/internal/pipeline/districtid"
	"github.com/toastreport/snapshot-pipeline/internal/pipeline/normalize"
	"github.com/toastreport/snapshot-pipeline/internal/pipeline/ranking"
	"github.com/toastreport/snapshot-pipeline/internal/pipeline/timeseries"
)

// Status mirrors snapshotstore's manifest status values.
const (
	StatusSuccess = snapshotstore.StatusSuccess
	StatusPartial = snapshotstore.StatusPartial
	StatusFailed  = snapshotstore.StatusFailed
)

// ReasonExistingIsNewer is the closing-period skip reason.
const ReasonExistingIsNewer = "existing_is_newer"

// BuildResult is returned by Build.
type BuildResult struct {
	Status     string
	SnapshotID string
	Included   []string
	Missing    []string
	Errors     []snapshotstore.DistrictError
	SkipReason string
}

// Cache is the subset of rawcache.Cache the builder needs.
type Cache interface {
	Has(date string, kind rawcache.ReportKind, districtID string) bool
	Get(date string, kind rawcache.ReportKind, districtID string) ([]byte, string, error)
}

// Store is the subset of snapshotstore.Store the builder needs.
type Store interface {
	WriteDistrictData(snapshotID, districtID string, stats snapshotstore.DistrictStatistics) error
	WriteManifest(manifest snapshotstore.SnapshotManifest) error
	WriteAnalytics(snapshotID, name string, data any) error
	GetSnapshotManifest(snapshotID string) (*snapshotstore.SnapshotManifest, error)
}

// Index is the subset of timeseries.Store the builder needs.
type Index interface {
	Upsert(districtID string, point timeseries.DataPoint) error
}

// Builder composes one snapshot from cached inputs for a date.
type Builder struct {
	cache      Cache
	store      Store
	index      Index
	normalizer *normalize.DataNormalizer
	logger     telemetry.Logger
	tracer     telemetry.TracerInterface

	// Metrics is optional; nil disables Prometheus recording.
	Metrics *metrics.Registry
}

func New(cache Cache, store Store, index Index, logger telemetry.Logger, tracer telemetry.TracerInterface) *Builder {
	return &Builder{
		cache:      cache,
		store:      store,
		index:      index,
		normalizer: normalize.NewDataNormalizer(),
		logger:     logger,
		tracer:     tracer,
	}
}

type districtOutcome struct {
	districtID string
	stats      *snapshotstore.DistrictStatistics
	err        *snapshotstore.DistrictError
}

// Build probes the cache for every configured district, validates and
// normalizes the available inputs, computes rankings, and persists the
// snapshot. If none of the required inputs exist, it writes nothing and
// returns a failed BuildResult together with a missing-data error, which
// callers can tell apart with apperrors.Is(err, apperrors.KindMissingData).
func (b *Builder) Build(ctx context.Context, date string, configuredDistricts []string) (BuildResult, error) {
	ctx, span := telemetry.StartPipelineSpan(ctx, b.tracer, "builder", "build", map[string]interface{}{"date": date})
	defer span.End()

	start := time.Now()

	hasAny := b.cache.Has(date, rawcache.KindAllDistricts, "")
	for _, d := range configuredDistricts {
		if b.cache.Has(date, rawcache.KindDistrictPerformance, d) {
			hasAny = true
			break
		}
	}
	if !hasAny {
		b.recordBuild(StatusFailed, start)
		return BuildResult{Status: StatusFailed}, apperrors.NewMissingDataError("NO_CACHED_DATA", fmt.Sprintf("no cached data for %s", date))
	}

	outcomes := b.processDistricts(ctx, date, configuredDistricts)

	var included, missing []string
	var errs []snapshotstore.DistrictError
	rows := make([]ranking.Row, 0, len(outcomes))
	statsByID := make(map[string]snapshotstore.DistrictStatistics, len(outcomes))

	for _, o := range outcomes {
		if o.err != nil {
			missing = append(missing, o.districtID)
			errs = append(errs, *o.err)
			continue
		}
		included = append(included, o.districtID)
		statsByID[o.districtID] = *o.stats
		rows = append(rows, ranking.Row{
			DistrictID:           o.districtID,
			ClubGrowthPercent:    o.stats.ClubGrowthPercent,
			PaymentGrowthPercent: o.stats.PaymentGrowthPercent,
			DistinguishedPercent: o.stats.DistinguishedPercent,
		})
	}
	sort.Strings(included)
	sort.Strings(missing)

	rankings := ranking.Compute(rows)
	for _, r := range rankings {
		stats := statsByID[r.DistrictID]
		stats.ClubGrowthRank = r.ClubGrowthRank
		stats.PaymentGrowthRank = r.PaymentGrowthRank
		stats.DistinguishedRank = r.DistinguishedRank
		stats.AggregateScore = r.AggregateScore
		statsByID[r.DistrictID] = stats
	}

	existing, err := b.store.GetSnapshotManifest(date)
	if err != nil {
		return BuildResult{}, err
	}
	if existing != nil {
		newCollectionDate := date
		if existing.LogicalDate == date && existing.CollectionDate > newCollectionDate {
			return BuildResult{Status: existing.Status, SnapshotID: date, SkipReason: ReasonExistingIsNewer}, nil
		}
	}

	var writeFailed []string
	for _, id := range included {
		stats := statsByID[id]
		if err := b.store.WriteDistrictData(date, id, stats); err != nil {
			writeFailed = append(writeFailed, id)
			errs = append(errs, snapshotstore.DistrictError{
				DistrictID: id, Op: "writeDistrictData", Error: err.Error(),
				ShouldRetry: apperrors.Is(err, apperrors.KindTransient), Timestamp: time.Now().UTC(),
			})
		}
		b.writeDistrictAnalytics(ctx, date, id, stats)
	}

	if err := b.store.WriteAnalytics(date, "manifest.json", statsForAnalytics(statsByID, included)); err != nil {
		b.logger.Warn(ctx, "failed writing all-districts analytics", zap.Error(err))
	}

	for _, id := range included {
		stats := statsByID[id]
		_ = b.index.Upsert(id, timeseries.DataPoint{
			Date:               date,
			AggregateScore:     stats.AggregateScore,
			ClubsRank:          stats.ClubGrowthRank,
			PaymentsRank:       stats.PaymentGrowthRank,
			DistinguishedRank:  stats.DistinguishedRank,
			MembershipTotal:    stats.Membership.Total,
			ClubCount:          stats.Clubs.Total,
			DistinguishedCount: stats.Clubs.Distinguished,
		})
	}

	status := StatusSuccess
	if len(missing) > 0 && len(included) > 0 {
		status = StatusPartial
	}
	if len(included) == 0 {
		status = StatusFailed
	}

	manifest := snapshotstore.SnapshotManifest{
		SnapshotID:           date,
		SchemaVersion:        snapshotstore.SchemaVersion,
		CalculationVersion:   snapshotstore.CalculationVersion,
		RankingVersion:       snapshotstore.RankingVersion,
		CreatedAt:            time.Now().UTC(),
		Status:               status,
		ConfiguredDistricts:  configuredDistricts,
		SuccessfulDistricts:  included,
		FailedDistricts:      missing,
		DistrictErrors:       errs,
		ProcessingDuration:   time.Since(start),
		DataAsOfDate:         date,
		LogicalDate:          date,
		CollectionDate:       date,
		WriteComplete:        len(writeFailed) == 0,
		WriteFailedDistricts: writeFailed,
	}

	if err := b.store.WriteManifest(manifest); err != nil {
		return BuildResult{}, err
	}

	b.recordBuild(status, start)
	if b.Metrics != nil {
		b.Metrics.RecordDistrictOutcomes(len(included), len(missing), 0)
	}

	return BuildResult{Status: status, SnapshotID: date, Included: included, Missing: missing, Errors: errs}, nil
}

// writeDistrictAnalytics writes the three per-district analytics files spec
// §4.6 step 4 names: district analytics (the full stats, rankings and
// education/division breakdown included), pre-computed membership trends,
// and club health. A write failure here is logged and absorbed, same as
// the all-districts manifest.json write above — it never fails the build.
func (b *Builder) writeDistrictAnalytics(ctx context.Context, date, districtID string, stats snapshotstore.DistrictStatistics) {
	files := []struct {
		suffix string
		data   any
	}{
		{"analytics", stats},
		{"membership", stats.Membership},
		{"clubhealth", stats.Clubs},
	}
	for _, f := range files {
		name := fmt.Sprintf("district_%s_%s.json", districtID, f.suffix)
		if err := b.store.WriteAnalytics(date, name, f.data); err != nil {
			b.logger.Warn(ctx, "failed writing district analytics", zap.Error(err))
		}
	}
}

func (b *Builder) recordBuild(status string, start time.Time) {
	if b.Metrics != nil {
		b.Metrics.RecordBuild(status, time.Since(start))
	}
}

func (b *Builder) processDistricts(ctx context.Context, date string, districts []string) []districtOutcome {
	outcomes := make([]districtOutcome, len(districts))

	var wg sync.WaitGroup
	for i, id := range districts {
		wg.Add(1)
		go func(i int, districtID string) {
			defer wg.Done()
			outcomes[i] = b.processOneDistrict(ctx, date, districtID)
		}(i, id)
	}
	wg.Wait()

	return outcomes
}

func (b *Builder) processOneDistrict(ctx context.Context, date, districtID string) districtOutcome {
	if !b.cache.Has(date, rawcache.KindDistrictPerformance, districtID) {
		return districtOutcome{districtID: districtID, err: &snapshotstore.DistrictError{
			DistrictID: districtID, Op: "cacheProbe", Error: "no cached district-performance report",
			ShouldRetry: false, Timestamp: time.Now().UTC(),
		}}
	}

	districtCSV, _, err := b.cache.Get(date, rawcache.KindDistrictPerformance, districtID)
	if err != nil {
		return districtOutcome{districtID: districtID, err: asDistrictError(districtID, "readDistrictReport", err)}
	}
	divisionCSV, _, _ := b.cache.Get(date, rawcache.KindDivisionPerformance, districtID)
	clubCSV, _, _ := b.cache.Get(date, rawcache.KindClubPerformance, districtID)

	districtRows, err := csvparse.Parse(districtCSV)
	if err != nil {
		return districtOutcome{districtID: districtID, err: asDistrictError(districtID, "parseDistrictReport", err)}
	}
	divisionRows, _ := csvparse.Parse(divisionCSV)
	clubRows, _ := csvparse.Parse(clubCSV)

	var rawIDs []string
	for _, row := range districtRows {
		if id := districtid.ExtractID(row.Values); id != "" {
			rawIDs = append(rawIDs, id)
		}
	}
	if len(rawIDs) > 0 {
		_, rejected, _ := districtid.Partition(rawIDs)
		if len(rejected) == len(rawIDs) {
			return districtOutcome{districtID: districtID, err: &snapshotstore.DistrictError{
				DistrictID: districtID, Op: "validateDistrictID", Error: "all rows rejected by district id validator",
				ShouldRetry: false, Timestamp: time.Now().UTC(),
			}}
		}
	}

	stats := b.normalizer.Normalize(districtID, date, districtRows, divisionRows, clubRows)
	return districtOutcome{districtID: districtID, stats: &stats}
}

func asDistrictError(districtID, op string, err error) *snapshotstore.DistrictError {
	return &snapshotstore.DistrictError{
		DistrictID:  districtID,
		Op:          op,
		Error:       err.Error(),
		ShouldRetry: apperrors.Is(err, apperrors.KindTransient) || apperrors.Is(err, apperrors.KindIntegrity),
		Timestamp:   time.Now().UTC(),
	}
}

func statsForAnalytics(byID map[string]snapshotstore.DistrictStatistics, included []string) []snapshotstore.DistrictStatistics {
	out := make([]snapshotstore.DistrictStatistics, 0, len(included))
	for _, id := range included {
		out = append(out, byID[id])
	}
	return out
}

// DistrictIDs converts raw strings into values.DistrictID for callers that
// need the validated type.
func DistrictIDs(raw []string) []values.DistrictID {
	out := make([]values.DistrictID, 0, len(raw))
	for _, r := range raw {
		if id, err := values.ParseDistrictID(r); err == nil {
			out = append(out, id)
		}
	}
	return out
}
