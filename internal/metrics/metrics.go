// Package metrics records operational metrics for counting runs behind a
// small backend-agnostic interface.
//
// A global backend defaults to a no-op, so instrumented code can always call
// in here. Concrete systems (Prometheus Pushgateway, DogStatsD) live in
// subpackages and are installed by main with SetBackend.
package metrics

import "time"

// Metric names shared by every backend.
const (
	StepTotal           = "charfreq_step_total"
	StepDurationSeconds = "charfreq_step_duration_seconds"
	TokensTotal         = "charfreq_tokens_total"
	BytesTotal          = "charfreq_bytes_total"
)

// Step names passed to RecordStep.
const (
	StepDetect = "detect"
	StepCount  = "count"
	StepMerge  = "merge"
	StepReport = "report"
	StepSink   = "sink"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics if the backend needs it.
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing one.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error {
	return backend.Flush()
}

// RecordStep records latency and outcome for one step of a run.
func RecordStep(job, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{
		"job":    job,
		"step":   step,
		"status": status,
	}
	backend.IncCounter(StepTotal, 1, lbls)
	backend.ObserveHistogram(StepDurationSeconds, d.Seconds(), lbls)
}

// RecordTokens adds n to the token counter of the given kind: "total" for
// every counted character, "distinct" for table rows.
func RecordTokens(job, kind string, n int64) {
	if n <= 0 {
		return
	}
	backend.IncCounter(TokensTotal, float64(n), Labels{
		"job":  job,
		"kind": kind,
	})
}

// RecordBytes adds n scanned bytes for job.
func RecordBytes(job string, n int64) {
	if n <= 0 {
		return
	}
	backend.IncCounter(BytesTotal, float64(n), Labels{"job": job})
}
