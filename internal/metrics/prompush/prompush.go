// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package.
//
// A sync run is a batch job with no scrape endpoint, so collectors live in a
// private registry that Flush pushes to the gateway, grouped by job name.
package prompush

import (
	"fmt"

	"audiencesync/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string // e.g. http://pushgateway:9091
	jobName    string // Pushgateway "job" group
	reg        *prometheus.Registry

	stepCounter  *prometheus.CounterVec // audiencesync_step_total
	stepDuration *prometheus.SummaryVec // audiencesync_step_duration_seconds

	recordCounter      *prometheus.CounterVec // audiencesync_records_total
	batchCounter       *prometheus.CounterVec // audiencesync_batches_total
	batchRecordCounter *prometheus.CounterVec // audiencesync_batch_records_total
	batchRetryCounter  *prometheus.CounterVec // audiencesync_batch_retries_total

	// Graph calls run from tens of milliseconds to the client timeout.
	batchUpload *prometheus.HistogramVec // audiencesync_batch_upload_seconds
}

// NewBackend constructs a Prometheus Pushgateway backend.
// jobName: the Pushgateway "job" name (usually the pipeline job).
// gatewayURL: base URL of the Pushgateway server.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "audiencesync"
	}

	reg := prometheus.NewRegistry()

	stepCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metrics.StepTotal,
			Help: "Run step executions, partitioned by step and status.",
		},
		[]string{"step", "status"},
	)
	stepDuration := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       metrics.StepDurationSeconds,
			Help:       "Duration of run steps in seconds, partitioned by step and status.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"step", "status"},
	)
	recordCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metrics.RecordsTotal,
			Help: "Record-level counts per kind (rows, produced, duplicates, uploaded, invalid).",
		},
		[]string{"kind"},
	)
	batchCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metrics.BatchesTotal,
			Help: "Settled batch uploads, partitioned by status.",
		},
		[]string{"status"},
	)
	batchRecordCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metrics.BatchRecordsTotal,
			Help: "Records carried by settled batch uploads, partitioned by status.",
		},
		[]string{"status"},
	)

	batchRetryCounter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metrics.BatchRetriesTotal,
			Help: "Upload attempts beyond the first, partitioned by final batch status.",
		},
		[]string{"status"},
	)
	batchUpload := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    metrics.BatchUploadSeconds,
			Help:    "Wall time to settle one batch, retries included.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"status"},
	)

	for name, c := range map[string]prometheus.Collector{
		"step counter":         stepCounter,
		"step summary":         stepDuration,
		"record counter":       recordCounter,
		"batch counter":        batchCounter,
		"batch record counter": batchRecordCounter,
		"batch retry counter":  batchRetryCounter,
		"batch upload":         batchUpload,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register %s: %w", name, err)
		}
	}

	return &Backend{
		gatewayURL:         gatewayURL,
		jobName:            jobName,
		reg:                reg,
		stepCounter:        stepCounter,
		stepDuration:       stepDuration,
		recordCounter:      recordCounter,
		batchCounter:       batchCounter,
		batchRecordCounter: batchRecordCounter,
		batchRetryCounter:  batchRetryCounter,
		batchUpload:        batchUpload,
	}, nil
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	var vec *prometheus.CounterVec
	var values []string
	switch name {
	case metrics.StepTotal:
		vec, values = b.stepCounter, []string{labels["step"], labels["status"]}
	case metrics.RecordsTotal:
		vec, values = b.recordCounter, []string{labels["kind"]}
	case metrics.BatchesTotal:
		vec, values = b.batchCounter, []string{labels["status"]}
	case metrics.BatchRecordsTotal:
		vec, values = b.batchRecordCounter, []string{labels["status"]}
	case metrics.BatchRetriesTotal:
		vec, values = b.batchRetryCounter, []string{labels["status"]}
	}
	if vec == nil {
		return
	}
	vec.WithLabelValues(values...).Add(delta)
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	switch {
	case name == metrics.StepDurationSeconds && b.stepDuration != nil:
		b.stepDuration.WithLabelValues(labels["step"], labels["status"]).Observe(value)
	case name == metrics.BatchUploadSeconds && b.batchUpload != nil:
		b.batchUpload.WithLabelValues(labels["status"]).Observe(value)
	}
}

// Flush pushes the current registry to the Pushgateway.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).
		Gatherer(b.reg).
		Push()
}
