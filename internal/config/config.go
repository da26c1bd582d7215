// Package config builds the charfreq run configuration from command-line
// flags with environment-variable fallbacks. Flags are defined first so that
// -help lists every knob with its effective default.
//
// Typical usage:
//
//	cfg, err := config.Load() // reads os.Args and os.Environ
//
// Tests stay hermetic with LoadFromArgs:
//
//	fs := flag.NewFlagSet("test", flag.ContinueOnError)
//	getenv := func(k string) string { return testEnv[k] }
//	cfg, err := config.LoadFromArgs(fs, getenv, []string{"-workers=4", "in.txt"})
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"charfreq/internal/counter"
	"charfreq/internal/storage"
)

// Metrics backends accepted by -metrics-backend.
const (
	MetricsNone        = "none"
	MetricsPushgateway = "pushgateway"
	MetricsDatadog     = "datadog"
)

// Config holds everything a run needs. It is a plain value and may be
// copied freely after loading.
type Config struct {
	// IO
	Source string // file to count; also the first positional argument
	Output string // result file; also the second positional argument

	// Counting
	Workers   int    // 0 direct, 1 single, N parallel, negative = default
	MaxOpen   int    // partitions scanned at once in parallel mode
	Encoding  string // empty = detect
	Normalize string // empty, nfc, nfd, nfkc or nfkd
	Progress  bool

	// Observability
	Job            string
	MetricsBackend string
	PushgatewayURL string
	DatadogAddr    string
	Verbose        bool

	// Result sink
	Sink      string // empty, sqlite, postgres or mssql
	SinkDSN   string
	SinkTable string

	// Validate only lints the configuration and exits.
	Validate bool

	// Extra holds positional arguments beyond source and output.
	Extra []string
}

// LoadFromArgs defines flags on fs, seeds each default from getenv, parses
// args and fills Source/Output from positional arguments not already set by
// a flag.
//
// Precedence:
//  1. Environment values seed each flag's default.
//  2. Explicit flags in args override the seeded defaults.
//  3. Positional arguments override both for source and output.
func LoadFromArgs(fs *flag.FlagSet, getenv func(string) string, args []string) (*Config, error) {
	cfg := &Config{}

	envOr := func(k, d string) string {
		if v := getenv(k); v != "" {
			return v
		}
		return d
	}
	intEnvOr := func(k string, d int) int {
		if v := getenv(k); v != "" {
			if i, err := strconv.Atoi(v); err == nil {
				return i
			}
		}
		return d
	}
	boolEnvOr := func(k string, d bool) bool {
		switch strings.ToLower(getenv(k)) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
		return d
	}

	fs.StringVar(&cfg.Source, "source", getenv("CHARFREQ_SOURCE"), "File to count (or first positional argument).")
	fs.StringVar(&cfg.Output, "output", getenv("CHARFREQ_OUTPUT"), "Write the result here, encoded like the source. Default: stdout.")

	fs.IntVar(&cfg.Workers, "workers", intEnvOr("CHARFREQ_WORKERS", counter.DefaultWorkers()), "0 = read whole file, 1 = line by line, N = N parallel partitions.")
	fs.IntVar(&cfg.MaxOpen, "max-open", intEnvOr("CHARFREQ_MAX_OPEN", counter.DefaultMaxOpen), "Partitions scanned at once (one open file each) in parallel mode.")
	fs.StringVar(&cfg.Encoding, "encoding", getenv("CHARFREQ_ENCODING"), "Source encoding, e.g. utf-8, gbk, shift_jis. Empty = detect.")
	fs.StringVar(&cfg.Normalize, "normalize", getenv("CHARFREQ_NORMALIZE"), "Unicode normal form applied per line: nfc, nfd, nfkc or nfkd.")
	fs.BoolVar(&cfg.Progress, "progress", boolEnvOr("CHARFREQ_PROGRESS", true), "Draw a progress bar on stderr.")

	fs.StringVar(&cfg.Job, "job", envOr("CHARFREQ_JOB", counter.DefaultJob), "Job name used to label metrics.")
	fs.StringVar(&cfg.MetricsBackend, "metrics-backend", envOr("METRICS_BACKEND", MetricsNone), "Metrics backend: none, pushgateway or datadog.")
	fs.StringVar(&cfg.PushgatewayURL, "pushgateway-url", envOr("PUSHGATEWAY_URL", "http://localhost:9091"), "Prometheus Pushgateway URL.")
	fs.StringVar(&cfg.DatadogAddr, "datadog-addr", envOr("DATADOG_ADDR", "127.0.0.1:8125"), "DogStatsD address.")
	fs.BoolVar(&cfg.Verbose, "v", boolEnvOr("CHARFREQ_VERBOSE", false), "Verbose logging.")

	fs.StringVar(&cfg.Sink, "sink", getenv("CHARFREQ_SINK"), "Also store counts in a database: sqlite, postgres or mssql.")
	fs.StringVar(&cfg.SinkDSN, "sink-dsn", getenv("CHARFREQ_SINK_DSN"), "DSN for -sink.")
	fs.StringVar(&cfg.SinkTable, "sink-table", envOr("CHARFREQ_SINK_TABLE", storage.DefaultTable), "Destination table for -sink.")

	fs.BoolVar(&cfg.Validate, "validate", false, "Validate the configuration and exit.")

	if args == nil {
		args = []string{}
	}
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	rest := fs.Args()
	if len(rest) > 0 {
		cfg.Source = rest[0]
		rest = rest[1:]
	}
	if len(rest) > 0 {
		cfg.Output = rest[0]
		rest = rest[1:]
	}
	cfg.Extra = rest
	return cfg, nil
}

// Load is the production entry point: flag.CommandLine, os.Getenv and
// os.Args[1:].
func Load() (*Config, error) {
	return LoadFromArgs(flag.CommandLine, os.Getenv, os.Args[1:])
}

// CounterOptions maps the configuration onto counter.Options. Collaborators
// (logger, progress, stdout) are left for the caller.
func (c *Config) CounterOptions() counter.Options {
	return counter.Options{
		Source:    c.Source,
		Output:    c.Output,
		Workers:   c.Workers,
		MaxOpen:   c.MaxOpen,
		Encoding:  c.Encoding,
		Normalize: c.Normalize,
		Verbose:   c.Verbose,
		Job:       c.Job,
	}
}

// StorageConfig maps the sink settings onto storage.Config.
func (c *Config) StorageConfig() storage.Config {
	return storage.Config{Kind: c.Sink, DSN: c.SinkDSN, Table: c.SinkTable}
}
