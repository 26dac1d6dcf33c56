// Command backfill drives historical cache population for one district
// over a date range. Production fetch transport (browser automation
// against the upstream dashboard) lives outside this module; -dry-run
// exercises the job lifecycle end to end against fetch.StaticSource
// seeded from a local fixture directory. Grounded on the teacher's
// cmd/api/main.go flag/config bring-up, adapted from starting an HTTP
// server to driving one backfill.Controller job to completion.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/toastreport/snapshot-pipeline/internal/infrastructure/config"
	"github.com/toastreport/snapshot-pipeline/internal/infrastructure/jobstore"
	"github.com/toastreport/snapshot-pipeline/internal/infrastructure/metrics"
	"github.com/toastreport/snapshot-pipeline/internal/infrastructure/rawcache"
	"github.com/toastreport/snapshot-pipeline/internal/infrastructure/telemetry"
	"github.com/toastreport/snapshot-pipeline/internal/pipeline/backfill"
	"github.com/toastreport/snapshot-pipeline/internal/pipeline/csvparse"
	"github.com/toastreport/snapshot-pipeline/internal/pipeline/fetch"
)

// BackfillRequest is the CLI-facing request; validator/v10 struct tags
// enforce the same constraints backfill.Controller.Initiate re-derives
// internally, so a malformed invocation fails fast with a field-level
// message instead of a generic AppError.
type BackfillRequest struct {
	DistrictID string `validate:"required,alphanum"`
	StartDate  string `validate:"required,datetime=2006-01-02"`
	EndDate    string `validate:"required,datetime=2006-01-02"`
	FixtureDir string `validate:"omitempty,dir"`
}

const exitInvalidInput = 64

func main() {
	var (
		configPath = flag.String("config", "", "Path to config.yaml")
		districtID = flag.String("district", "", "District id to backfill")
		startDate  = flag.String("start", "", "Start date, YYYY-MM-DD")
		endDate    = flag.String("end", "", "End date, YYYY-MM-DD")
		fixtureDir = flag.String("fixtures", "", "Directory of pre-fetched district/division/club CSVs for -dry-run")
		dryRun     = flag.Bool("dry-run", false, "Serve fetches from -fixtures instead of a production transport")
	)
	flag.Parse()

	req := BackfillRequest{DistrictID: *districtID, StartDate: *startDate, EndDate: *endDate, FixtureDir: *fixtureDir}
	if err := validator.New().Struct(req); err != nil {
		fmt.Fprintln(os.Stderr, "invalid request:", err)
		os.Exit(exitInvalidInput)
	}

	if !*dryRun {
		fmt.Fprintln(os.Stderr, "no production fetch transport is wired into this binary; pass -dry-run with -fixtures")
		os.Exit(exitInvalidInput)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(exitInvalidInput)
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logger:", err)
		os.Exit(exitInvalidInput)
	}

	source, err := loadFixtureSource(req.FixtureDir, req.DistrictID, req.StartDate, req.EndDate)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load fixtures:", err)
		os.Exit(exitInvalidInput)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := jobstore.Open(ctx, cfg.JobStore)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to open job store:", err)
		os.Exit(exitInvalidInput)
	}
	if store != nil {
		defer store.Close()
	}

	cache := rawcache.New(cfg.Storage.CacheDir)
	controller := backfill.New(cache, source, logger, cfg.Backfill.ThrottleInterval, cfg.Integrity.ReconciliationMemberThreshold, cfg.Backfill.JobRetention)
	controller.Metrics = metrics.NewRegistry()
	if store != nil {
		controller.JobStore = store
		if err := controller.Recover(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "failed to recover backfill jobs:", err)
			os.Exit(1)
		}
	}

	job, err := controller.Initiate(ctx, req.DistrictID, req.StartDate, req.EndDate)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to initiate backfill:", err)
		os.Exit(1)
	}

	for {
		current := controller.Get(job.ID)
		if current == nil || current.Status != backfill.StatusProcessing {
			job = current
			break
		}
		select {
		case <-ctx.Done():
			controller.Cancel(job.ID)
			os.Exit(1)
		case <-time.After(500 * time.Millisecond):
		}
	}

	fmt.Printf("job %s: status=%s completed=%d skipped=%d unavailable=%d failed=%d\n",
		job.ID, job.Status, job.Progress.Completed, job.Progress.Skipped, job.Progress.Unavailable, job.Progress.Failed)

	if job.Status == backfill.StatusError {
		os.Exit(1)
	}
}

// loadFixtureSource seeds a fetch.StaticSource from dir/<date>/{district,division,club}.csv
// for every date in [start, end]. A date with no directory is left unseeded,
// so its fetch fails with StaticSource's not-found error, which the backfill
// controller classifies as upstream-unavailable; it does not fail the whole
// load.
func loadFixtureSource(dir, districtID, start, end string) (*fetch.StaticSource, error) {
	source := fetch.NewStaticSource()
	if dir == "" {
		return source, nil
	}

	startDate, err := time.Parse("2006-01-02", start)
	if err != nil {
		return nil, err
	}
	endDate, err := time.Parse("2006-01-02", end)
	if err != nil {
		return nil, err
	}

	for d := startDate; !d.After(endDate); d = d.AddDate(0, 0, 1) {
		date := d.Format("2006-01-02")
		dateDir := filepath.Join(dir, date)
		if _, statErr := os.Stat(dateDir); statErr != nil {
			continue
		}

		district, derr := readFixtureCSV(filepath.Join(dateDir, "district.csv"))
		division, dverr := readFixtureCSV(filepath.Join(dateDir, "division.csv"))
		club, cerr := readFixtureCSV(filepath.Join(dateDir, "club.csv"))
		if derr != nil || dverr != nil || cerr != nil {
			source.SeedError(districtID, date, fmt.Errorf("incomplete fixture set for %s", date))
			continue
		}
		source.Seed(districtID, date, district, division, club)
	}
	return source, nil
}

func readFixtureCSV(path string) ([]csvparse.Record, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return csvparse.Parse(content)
}
