// Package metrics provides a small, backend-agnostic abstraction for recording
// run metrics of a sync job.
//
// Backend is the narrow interface (counters and timings) that concrete metric
// systems implement in subpackages (prompush, datadog). The global backend
// defaults to a no-op, so the recording helpers are always safe to call.
package metrics

import "time"

// Series names. Backends map these onto their own collectors.
const (
	StepTotal           = "audiencesync_step_total"
	StepDurationSeconds = "audiencesync_step_duration_seconds"
	RecordsTotal        = "audiencesync_records_total"
	BatchesTotal        = "audiencesync_batches_total"
	BatchRecordsTotal   = "audiencesync_batch_records_total"
	BatchRetriesTotal   = "audiencesync_batch_retries_total"
	BatchUploadSeconds  = "audiencesync_batch_upload_seconds"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

// nopBackend is used by default so metrics are optional.
type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
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

// RecordStep measures latency and success/failure of one run step
// ("verify_token", "create_audience", "ingest", "upload", "run").
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

// RecordRecords increments a record-level counter for the given job and kind.
//
// Kinds mirror the run summary fields:
//   - "rows"
//   - "produced"
//   - "duplicates"
//   - "uploaded"
//   - "invalid"
func RecordRecords(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(RecordsTotal, float64(delta), Labels{
		"job":  job,
		"kind": kind,
	})
}

// RecordBatch counts one settled batch upload. status is "ok" or "failed".
// attempts includes the first try; d covers all of them.
func RecordBatch(job, status string, records, attempts int, d time.Duration) {
	lbls := Labels{
		"job":    job,
		"status": status,
	}
	backend.IncCounter(BatchesTotal, 1, lbls)
	if records > 0 {
		backend.IncCounter(BatchRecordsTotal, float64(records), lbls)
	}
	if attempts > 1 {
		backend.IncCounter(BatchRetriesTotal, float64(attempts-1), lbls)
	}
	backend.ObserveHistogram(BatchUploadSeconds, d.Seconds(), lbls)
}
