// Command reconcile runs the month-end reconciliation scheduler as a
// long-lived daemon: on a fixed tick it schedules due districts and
// retries previously-failed reconciliation attempts, delegating the
// actual re-fetch to a backfill.Controller. Grounded on the teacher's
// root main.go startup sequence (config load, telemetry, graceful
// shutdown on SIGINT/SIGTERM), adapted from serving the call-exchange
// REST API to running reconcile.Scheduler.Run in the foreground.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/toastreport/snapshot-pipeline/internal/infrastructure/config"
	"github.com/toastreport/snapshot-pipeline/internal/infrastructure/jobstore"
	"github.com/toastreport/snapshot-pipeline/internal/infrastructure/metrics"
	"github.com/toastreport/snapshot-pipeline/internal/infrastructure/rawcache"
	"github.com/toastreport/snapshot-pipeline/internal/infrastructure/telemetry"
	"github.com/toastreport/snapshot-pipeline/internal/pipeline/backfill"
	"github.com/toastreport/snapshot-pipeline/internal/pipeline/fetch"
	"github.com/toastreport/snapshot-pipeline/internal/pipeline/reconcile"
)

func main() {
	configPath := flag.String("config", "", "Path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Exit(bail("failed to load config", err))
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel)
	if err != nil {
		os.Exit(bail("failed to initialize logger", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()
	if cfg.Metrics.Enabled && cfg.Metrics.Address != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: cfg.Metrics.Address, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn(ctx, "metrics server stopped")
			}
		}()
		go func() {
			<-ctx.Done()
			_ = srv.Close()
		}()
	}

	store, err := jobstore.Open(ctx, cfg.JobStore)
	if err != nil {
		os.Exit(bail("failed to open job store", err))
	}
	if store != nil {
		defer store.Close()
	}

	// source is a StaticSource because the production fetch transport
	// (browser automation against the upstream dashboard) is an external
	// collaborator outside this module; an operator wires a real
	// fetch.Source implementation in before deploying this daemon.
	cache := rawcache.New(cfg.Storage.CacheDir)
	source := fetch.NewStaticSource()

	controller := backfill.New(cache, source, logger, cfg.Backfill.ThrottleInterval, cfg.Integrity.ReconciliationMemberThreshold, cfg.Backfill.JobRetention)
	controller.Metrics = reg

	scheduler := reconcile.New(controller, logger, cfg.Districts.IDs, cfg.Reconcile.TickInterval, cfg.Reconcile.ScheduleWindowDay, cfg.Reconcile.MaxAttempts, cfg.Reconcile.RetryBackoff, cfg.Reconcile.EntryRetention)
	scheduler.Metrics = reg

	if store != nil {
		controller.JobStore = store
		scheduler.JobStore = store
		if err := controller.Recover(ctx); err != nil {
			os.Exit(bail("failed to recover backfill jobs", err))
		}
		if err := scheduler.Load(ctx); err != nil {
			os.Exit(bail("failed to load reconciliation entries", err))
		}
	}

	logger.Info(ctx, "reconciliation scheduler starting")
	scheduler.Run(ctx)
	logger.Info(ctx, "reconciliation scheduler stopped")
}

func bail(msg string, err error) int {
	os.Stderr.WriteString(msg + ": " + err.Error() + "\n")
	return 1
}
