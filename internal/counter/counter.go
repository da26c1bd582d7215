// Package counter runs a character-frequency count over one file.
//
// A Counter resolves everything that is fixed for the run up front (file
// size, encoding, worker count) and then counts in one of three modes chosen
// by the worker count: direct (0), single (1) or parallel (N > 1). All modes
// produce identical counts for the same input.
package counter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"charfreq/internal/charset"
	"charfreq/internal/freq"
	"charfreq/internal/metrics"
	"charfreq/internal/partition"
	"charfreq/internal/progress"
	"charfreq/internal/report"
	"charfreq/internal/scan"
	"charfreq/internal/source"
)

// ErrNotFound is returned by New when the source is not an existing regular
// file.
var ErrNotFound = errors.New("counter: source not found")

// DefaultJob labels metrics when Options.Job is empty.
const DefaultJob = "charfreq"

// DefaultMaxOpen caps how many parallel partitions are scanned at once when
// Options.MaxOpen is not set. Each scanning partition holds one file handle.
const DefaultMaxOpen = 256

// Mode is the counting strategy.
type Mode int

const (
	// ModeDirect reads the whole file into memory and counts it in one pass.
	ModeDirect Mode = iota
	// ModeSingle reads line by line on the calling goroutine.
	ModeSingle
	// ModeParallel splits the file into one partition per worker.
	ModeParallel
)

func (m Mode) String() string {
	switch m {
	case ModeDirect:
		return "direct"
	case ModeSingle:
		return "single"
	case ModeParallel:
		return "parallel"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ModeFor returns the mode used for an effective worker count.
func ModeFor(workers int) Mode {
	switch {
	case workers <= 0:
		return ModeDirect
	case workers == 1:
		return ModeSingle
	}
	return ModeParallel
}

// DefaultWorkers is the worker count used when Options.Workers is negative.
func DefaultWorkers() int { return runtime.NumCPU() * 64 }

// WorkerError reports a failed counting worker. Partition is the worker's
// unaligned range (the whole file outside parallel mode).
type WorkerError struct {
	Mode      Mode
	Partition partition.Partition
	Err       error
}

func (e *WorkerError) Error() string {
	if e.Mode == ModeParallel {
		return fmt.Sprintf("counter: %s worker, %s: %v", e.Mode, e.Partition, e.Err)
	}
	return fmt.Sprintf("counter: %s worker: %v", e.Mode, e.Err)
}

func (e *WorkerError) Unwrap() error { return e.Err }

// Options configures a Counter.
type Options struct {
	// Source is the file to count. Required.
	Source string
	// Output receives the report encoded like the source. Empty means Stdout.
	Output string
	// Workers selects the mode: 0 direct, 1 single, N > 1 parallel with N
	// partitions. Negative means DefaultWorkers().
	Workers int
	// Encoding overrides detection when set.
	Encoding string
	// Normalize names an optional Unicode normal form (nfc, nfd, nfkc, nfkd).
	Normalize string
	// Detector names the encoding from a sample when Encoding is empty.
	// Defaults to charset.NewDetector().
	Detector charset.Detector
	// Progress builds the progress reporter. Defaults to progress.NopFactory.
	Progress progress.Factory
	// Logger receives the run summary. Defaults to log.Default().
	Logger *log.Logger
	// Verbose adds resolved settings and per-step timings to the log.
	Verbose bool
	// MaxOpen caps concurrently scanning partitions, and so open file
	// handles, in parallel mode. The partition count is still Workers.
	// Defaults to DefaultMaxOpen.
	MaxOpen int
	// Job labels metrics. Defaults to DefaultJob.
	Job string
	// Stdout is where the report goes without Output. Defaults to os.Stdout.
	Stdout io.Writer
}

// Result describes a finished run.
type Result struct {
	Counts      freq.Map
	Text        string
	Size        int64
	Workers     int
	Mode        Mode
	Encoding    string
	Elapsed     time.Duration
	Fingerprint uint64
}

// Counter is a configured run. Create one with New and call Run once.
type Counter struct {
	opts    Options
	src     *source.Local
	size    int64
	codec   *charset.Codec
	norm    scan.Normalization
	workers int
	logger  *log.Logger
}

// countPartition counts one parallel partition; tests swap it to inject
// failures.
var countPartition = scan.CountFile

// New validates opts, stats the source and resolves its encoding. The source
// check comes first: a missing file fails with ErrNotFound before anything
// else is looked at.
func New(opts Options) (*Counter, error) {
	src := source.NewLocal(opts.Source)
	size, err := src.Stat()
	if err != nil {
		if opts.Source == "" || errors.Is(err, os.ErrNotExist) || errors.Is(err, source.ErrNotRegular) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, opts.Source)
		}
		return nil, fmt.Errorf("counter: %w", err)
	}

	norm, err := scan.ParseNormalization(opts.Normalize)
	if err != nil {
		return nil, err
	}

	if opts.Workers < 0 {
		opts.Workers = DefaultWorkers()
	}
	if opts.Job == "" {
		opts.Job = DefaultJob
	}
	if opts.MaxOpen <= 0 {
		opts.MaxOpen = DefaultMaxOpen
	}
	if opts.Detector == nil {
		opts.Detector = charset.NewDetector()
	}
	if opts.Progress == nil {
		opts.Progress = progress.NopFactory
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	c := &Counter{
		opts:    opts,
		src:     src,
		size:    size,
		norm:    norm,
		workers: opts.Workers,
		logger:  logger,
	}

	start := time.Now()
	c.codec, err = c.resolveEncoding()
	metrics.RecordStep(opts.Job, metrics.StepDetect, err, time.Since(start))
	if err != nil {
		return nil, err
	}
	if opts.Verbose {
		logger.Printf("counter: source=%s size=%d encoding=%s mode=%s workers=%d normalize=%q",
			opts.Source, size, c.codec.Name(), c.Mode(), c.workers, norm)
	}
	return c, nil
}

// resolveEncoding looks up the explicit encoding or detects one from the
// first charset.SampleSize bytes. An empty file has nothing to detect and
// counts as UTF-8.
func (c *Counter) resolveEncoding() (*charset.Codec, error) {
	if c.opts.Encoding != "" {
		codec, err := charset.Lookup(c.opts.Encoding)
		if err != nil {
			return nil, fmt.Errorf("counter: encoding: %w", err)
		}
		return codec, nil
	}
	if c.size == 0 {
		return charset.UTF8(), nil
	}

	sample, err := c.src.Head(context.Background(), charset.SampleSize)
	if err != nil {
		return nil, fmt.Errorf("counter: sample %s: %w", c.opts.Source, err)
	}
	name, err := c.opts.Detector.Detect(sample)
	if err != nil {
		return nil, fmt.Errorf("counter: detect encoding of %s: %w", c.opts.Source, err)
	}
	codec, err := charset.Lookup(name)
	if err != nil {
		return nil, fmt.Errorf("counter: detected encoding: %w", err)
	}
	return codec, nil
}

// Size returns the source size in bytes.
func (c *Counter) Size() int64 { return c.size }

// Workers returns the effective worker count.
func (c *Counter) Workers() int { return c.workers }

// Mode returns the mode Run will use.
func (c *Counter) Mode() Mode { return ModeFor(c.workers) }

// Encoding returns the resolved encoding name.
func (c *Counter) Encoding() string { return c.codec.Name() }

// Run counts the source, writes the report and logs a summary line. On
// error nothing is written and no partial result is returned.
func (c *Counter) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	job := c.opts.Job

	stepStart := time.Now()
	counts, err := c.Count(ctx)
	c.step(metrics.StepCount, err, stepStart)
	if err != nil {
		return nil, err
	}

	stepStart = time.Now()
	text := report.Render(counts)
	err = report.Write(text, c.opts.Output, c.codec, c.opts.Stdout)
	c.step(metrics.StepReport, err, stepStart)
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	res := &Result{
		Counts:      counts,
		Text:        text,
		Size:        c.size,
		Workers:     c.workers,
		Mode:        c.Mode(),
		Encoding:    c.codec.Name(),
		Elapsed:     elapsed,
		Fingerprint: freq.Fingerprint(counts),
	}
	metrics.RecordBytes(job, c.size)
	metrics.RecordTokens(job, "total", counts.Total())
	metrics.RecordTokens(job, "distinct", int64(len(counts)))

	c.logger.Printf("File size: %s. Workers: %d. Cost time: %s",
		humanize.Bytes(uint64(c.size)), c.workers, FormatCost(elapsed))
	if c.opts.Verbose {
		c.logger.Printf("counter: %d tokens, %d distinct, fingerprint %016x",
			counts.Total(), len(counts), res.Fingerprint)
	}
	return res, nil
}

// Count computes the frequency table without rendering or writing it.
func (c *Counter) Count(ctx context.Context) (freq.Map, error) {
	whole := partition.Partition{Start: 0, End: c.size, First: true}
	opts := scan.Options{Normalize: c.norm}

	switch c.Mode() {
	case ModeDirect:
		data, err := c.src.ReadAll(ctx)
		if err != nil {
			return nil, &WorkerError{Mode: ModeDirect, Partition: whole, Err: err}
		}
		m, err := scan.CountBytes(data, c.codec, opts)
		if err != nil {
			return nil, &WorkerError{Mode: ModeDirect, Partition: whole, Err: err}
		}
		return m, nil

	case ModeSingle:
		rep := c.opts.Progress(c.opts.Source, c.size)
		defer rep.Finish()
		opts.Progress = rep
		m, err := c.countSingle(ctx, opts)
		if err != nil {
			return nil, &WorkerError{Mode: ModeSingle, Partition: whole, Err: err}
		}
		return m, nil
	}
	return c.countParallel(ctx, opts)
}

func (c *Counter) countSingle(ctx context.Context, opts scan.Options) (freq.Map, error) {
	f, err := c.src.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return scan.CountReader(ctx, f, c.size, c.codec, opts)
}

// countParallel runs one task per partition, at most MaxOpen at a time,
// waits for all of them and merges their maps. The first failure cancels the
// rest and is returned.
func (c *Counter) countParallel(ctx context.Context, opts scan.Options) (freq.Map, error) {
	parts := partition.Split(c.size, c.workers)
	results := make([]freq.Map, len(parts))

	rep := c.opts.Progress(c.opts.Source, parts[0].Len())
	defer rep.Finish()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.MaxOpen)
	for i, p := range parts {
		i, p := i, p
		wopts := opts
		if p.First {
			wopts.Progress = rep
		}
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &WorkerError{Mode: ModeParallel, Partition: p, Err: fmt.Errorf("panic: %v", r)}
				}
			}()
			if err := gctx.Err(); err != nil {
				return err
			}
			m, err := countPartition(gctx, c.opts.Source, c.size, p, c.codec, wopts)
			if err != nil {
				return &WorkerError{Mode: ModeParallel, Partition: p, Err: err}
			}
			results[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	start := time.Now()
	merged := freq.Merge(results...)
	c.step(metrics.StepMerge, nil, start)
	return merged, nil
}

func (c *Counter) step(name string, err error, start time.Time) {
	d := time.Since(start)
	metrics.RecordStep(c.opts.Job, name, err, d)
	if c.opts.Verbose {
		c.logger.Printf("counter: step %s took %s", name, d)
	}
}

// FormatCost renders a run duration the way the summary line shows it:
// "12.3 seconds" below a minute, otherwise a rounded duration like "2m5s".
func FormatCost(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1f seconds", d.Seconds())
	}
	return d.Round(time.Second).String()
}
