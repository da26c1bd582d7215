package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"charfreq/internal/charset"
	"charfreq/internal/counter"
	"charfreq/internal/scan"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks the run.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is reported but does not block the run.
	SeverityWarning IssueSeverity = "warning"
)

// maxSaneWorkers is the worker count above which Validate warns that
// partitions get too small to be worth a task each.
const maxSaneWorkers = 1 << 14

// Issue is a single validation finding. Path names the flag it concerns.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Validate lints cfg without touching the filesystem or the network. It
// never mutates cfg.
func Validate(cfg Config) []Issue {
	var issues []Issue
	add := func(sev IssueSeverity, path, format string, args ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(cfg.Source) == "" {
		add(SeverityError, "source", "source must not be empty; pass it as -source or the first argument")
	}
	if cfg.Output != "" && cfg.Source != "" && filepath.Clean(cfg.Output) == filepath.Clean(cfg.Source) {
		add(SeverityError, "output", "output %q would overwrite the source", cfg.Output)
	}
	if len(cfg.Extra) > 0 {
		add(SeverityWarning, "args", "ignoring extra arguments %q", cfg.Extra)
	}

	switch {
	case cfg.Workers < 0:
		add(SeverityWarning, "workers", "negative worker count %d falls back to the default", cfg.Workers)
	case cfg.Workers > maxSaneWorkers:
		add(SeverityWarning, "workers", "%d workers split the file into %d partitions; most will hold a line or less", cfg.Workers, cfg.Workers)
	}

	if cfg.MaxOpen <= 0 {
		add(SeverityWarning, "max-open", "max-open %d falls back to %d", cfg.MaxOpen, counter.DefaultMaxOpen)
	}

	if cfg.Encoding != "" {
		if _, err := charset.Lookup(cfg.Encoding); err != nil {
			add(SeverityError, "encoding", "%v", err)
		}
	}
	if _, err := scan.ParseNormalization(cfg.Normalize); err != nil {
		add(SeverityError, "normalize", "%v", err)
	}

	if strings.TrimSpace(cfg.Job) == "" {
		add(SeverityError, "job", "job must not be empty; it labels metrics")
	}
	issues = append(issues, validateMetrics(cfg)...)
	issues = append(issues, validateSink(cfg)...)
	return issues
}

func validateMetrics(cfg Config) []Issue {
	var issues []Issue
	switch cfg.MetricsBackend {
	case "", MetricsNone:
	case MetricsPushgateway:
		if strings.TrimSpace(cfg.PushgatewayURL) == "" {
			issues = append(issues, Issue{SeverityError, "pushgateway-url", "pushgateway backend requires a URL"})
		}
	case MetricsDatadog:
		if strings.TrimSpace(cfg.DatadogAddr) == "" {
			issues = append(issues, Issue{SeverityError, "datadog-addr", "datadog backend requires an address"})
		}
	default:
		issues = append(issues, Issue{SeverityError, "metrics-backend",
			fmt.Sprintf("unknown metrics backend %q (want none, pushgateway or datadog)", cfg.MetricsBackend)})
	}
	return issues
}

func validateSink(cfg Config) []Issue {
	var issues []Issue
	if cfg.Sink == "" {
		if cfg.SinkDSN != "" {
			issues = append(issues, Issue{SeverityWarning, "sink-dsn", "sink-dsn is set but no sink is selected"})
		}
		return issues
	}

	known := map[string]struct{}{"sqlite": {}, "postgres": {}, "mssql": {}}
	if _, ok := known[cfg.Sink]; !ok {
		issues = append(issues, Issue{SeverityError, "sink",
			fmt.Sprintf("unknown sink %q (want sqlite, postgres or mssql)", cfg.Sink)})
	}
	if strings.TrimSpace(cfg.SinkDSN) == "" {
		issues = append(issues, Issue{SeverityError, "sink-dsn", fmt.Sprintf("%s sink requires a DSN", cfg.Sink)})
	}
	if strings.TrimSpace(cfg.SinkTable) == "" {
		issues = append(issues, Issue{SeverityWarning, "sink-table", "empty sink table falls back to the default"})
	}
	return issues
}
