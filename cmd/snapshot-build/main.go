// Command snapshot-build composes one dated snapshot from whatever raw
// reports are already sitting in the cache. It never talks to the
// upstream dashboard; cmd/backfill and the reconciliation scheduler own
// populating the cache. Grounded on the teacher's cmd/api/main.go flag
// parsing and telemetry bring-up, adapted from starting an HTTP server to
// running a single build-and-exit.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/toastreport/snapshot-pipeline/internal/domain/values"
	"github.com/toastreport/snapshot-pipeline/internal/infrastructure/config"
	"github.com/toastreport/snapshot-pipeline/internal/infrastructure/metrics"
	"github.com/toastreport/snapshot-pipeline/internal/infrastructure/rawcache"
	"github.com/toastreport/snapshot-pipeline/internal/infrastructure/snapshotstore"
	"github.com/toastreport/snapshot-pipeline/internal/infrastructure/telemetry"
	apperrors "github.com/toastreport/snapshot-pipeline/internal/platform/errors"
	"github.com/toastreport/snapshot-pipeline/internal/pipeline/builder"
	"github.com/toastreport/snapshot-pipeline/internal/pipeline/timeseries"
)

// Exit codes per the CLI convention: success/partial with >=1 success,
// all districts failed, no cached inputs at all, and invalid arguments.
const (
	exitSuccess      = 0
	exitAllFailed    = 2
	exitNoCachedData = 3
	exitInvalidInput = 64
)

func main() {
	var (
		configPath   = flag.String("config", "", "Path to config.yaml")
		date         = flag.String("date", time.Now().UTC().Format("2006-01-02"), "Snapshot date, YYYY-MM-DD")
		districtsCSV = flag.String("districts", "", "Comma-separated district id override; defaults to config.districts.ids")
	)
	flag.Parse()

	os.Exit(run(*configPath, *date, *districtsCSV))
}

func run(configPath, date, districtsCSV string) int {
	if _, err := values.ParseSnapshotID(date); err != nil {
		slog.Error("invalid date argument", "date", date, "error", err)
		return exitInvalidInput
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return exitInvalidInput
	}

	districts := cfg.Districts.IDs
	if districtsCSV != "" {
		districts = splitAndTrim(districtsCSV)
	}
	if len(districts) == 0 {
		slog.Error("no districts configured; set districts.ids or pass -districts")
		return exitInvalidInput
	}
	for _, d := range districts {
		if _, err := values.ParseDistrictID(d); err != nil {
			slog.Error("invalid district id", "district", d, "error", err)
			return exitInvalidInput
		}
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel)
	if err != nil {
		slog.Error("failed to initialize logger", "error", err)
		return exitInvalidInput
	}

	ctx := context.Background()
	var tracer telemetry.TracerInterface
	if cfg.Telemetry.Enabled {
		provider, err := telemetry.InitializeOpenTelemetry(ctx, &telemetry.Config{
			ServiceName:    "snapshot-build",
			ServiceVersion: cfg.Version,
			Environment:    cfg.Environment,
			OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
			Enabled:        cfg.Telemetry.Enabled,
			SamplingRate:   cfg.Telemetry.SamplingRate,
			ExportTimeout:  cfg.Telemetry.ExportTimeout,
			BatchTimeout:   cfg.Telemetry.BatchTimeout,
		})
		if err != nil {
			logger.Warn(ctx, "failed to initialize telemetry, continuing without tracing")
		} else {
			defer provider.Shutdown(ctx)
		}
	}
	tracer = telemetry.NewOpenTelemetryTracer("snapshot-build")

	reg := metrics.NewRegistry()
	if cfg.Metrics.Enabled {
		serveMetrics(cfg.Metrics.Address, logger, ctx)
	}

	cache := rawcache.New(cfg.Storage.CacheDir)
	store := snapshotstore.New(cfg.Storage.SnapshotDir)
	index := timeseries.New(cfg.Storage.TimeSeriesDir)

	b := builder.New(cache, store, index, logger, tracer)
	b.Metrics = reg

	result, err := b.Build(ctx, date, districts)
	if err != nil {
		if apperrors.Is(err, apperrors.KindMissingData) {
			logger.Warn(ctx, "no cached data for date")
			return exitNoCachedData
		}
		logger.Error(ctx, "build failed", zap.Error(err))
		return exitAllFailed
	}

	fmt.Printf("snapshot %s: status=%s included=%d missing=%d\n", result.SnapshotID, result.Status, len(result.Included), len(result.Missing))

	if result.Status == builder.StatusFailed {
		return exitAllFailed
	}
	return exitSuccess
}

func serveMetrics(addr string, logger telemetry.Logger, ctx context.Context) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn(ctx, "metrics server stopped")
		}
	}()
}

func splitAndTrim(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
