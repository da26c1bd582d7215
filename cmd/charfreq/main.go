// Command charfreq counts how often every non-whitespace character occurs in
// a text file and prints the table sorted by descending count.
//
//	charfreq [flags] <source> [output]
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"charfreq/internal/config"
	"charfreq/internal/counter"
	"charfreq/internal/metrics"
	"charfreq/internal/metrics/datadog"
	"charfreq/internal/metrics/prompush"
	"charfreq/internal/progress"
	"charfreq/internal/storage"

	// register all sink backends with the storage factory.
	_ "charfreq/internal/storage/all"
)

func main() {
	os.Exit(run())
}

// run does the work of main and returns the exit code, so deferred flushes
// happen before the process exits.
func run() int {
	cfg, err := config.Load()
	if err != nil {
		fatalf("%v", err)
	}

	issues := config.Validate(*cfg)
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		log.Printf("Configuration is invalid")
		return 2
	}
	if cfg.Validate {
		log.Printf("Configuration is valid: %s", cfg.Source)
		return 0
	}

	if flush := setupMetrics(cfg); flush != nil {
		defer flush()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := cfg.CounterOptions()
	opts.Logger = log.Default()
	if cfg.Progress {
		opts.Progress = progress.BarFactory(os.Stderr)
	}

	c, err := counter.New(opts)
	if err != nil {
		if errors.Is(err, counter.ErrNotFound) {
			log.Printf("File not found: %s", cfg.Source)
			return 1
		}
		log.Printf("%v", err)
		return 1
	}

	res, err := c.Run(ctx)
	if err != nil {
		log.Printf("%v", err)
		return 1
	}

	if cfg.Sink != "" {
		if err := sink(ctx, cfg, res); err != nil {
			log.Printf("%v", err)
			return 1
		}
	}
	return 0
}

// setupMetrics installs the configured backend and returns its flush func,
// or nil when metrics stay on the nop backend.
func setupMetrics(cfg *config.Config) func() {
	var (
		b   metrics.Backend
		err error
	)
	switch cfg.MetricsBackend {
	case config.MetricsPushgateway:
		b, err = prompush.NewBackend(cfg.Job, cfg.PushgatewayURL)
	case config.MetricsDatadog:
		b, err = datadog.NewBackend(datadog.Config{
			Addr:       cfg.DatadogAddr,
			GlobalTags: []string{"job:" + cfg.Job},
		})
	default:
		if cfg.Verbose {
			log.Printf("metrics: disabled (backend=%q)", cfg.MetricsBackend)
		}
		return nil
	}
	if err != nil {
		log.Printf("metrics: failed to init %s backend: %v; using nop", cfg.MetricsBackend, err)
		return nil
	}
	if cfg.Verbose {
		log.Printf("metrics: backend=%s job_name=%s", cfg.MetricsBackend, cfg.Job)
	}
	metrics.SetBackend(b)
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Printf("metrics: flush error: %v", err)
		}
	}
}

// sink stores the merged table as one run in the configured database.
func sink(ctx context.Context, cfg *config.Config, res *counter.Result) (err error) {
	start := time.Now()
	defer func() { metrics.RecordStep(cfg.Job, metrics.StepSink, err, time.Since(start)) }()

	repo, err := storage.New(ctx, cfg.StorageConfig())
	if err != nil {
		return fmt.Errorf("sink: %w", err)
	}
	defer repo.Close()

	run := storage.NewRun(cfg.Source, res.Encoding, res.Workers, res.Fingerprint)
	n, err := storage.Save(ctx, repo, run, storage.RowsFrom(res.Counts))
	if err != nil {
		return fmt.Errorf("sink: %w", err)
	}
	if cfg.Verbose {
		log.Printf("sink: stored %d rows for run %s in %s", n, run.ID, cfg.StorageConfig().Table)
	}
	return nil
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
