// Package metrics implements the StatsAggregator (STATS) collaborator:
// the Prometheus-backed counters/histograms that back ModelInstance's
// ReportStatistics/ReportBatchStatistics calls. Follows the same
// CounterVec/HistogramVec registration style as
// internal/httpapi/metrics.go, reused for the inference-execution
// namespace instead of the HTTP-request namespace.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	execTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "instance",
			Name:      "exec_total",
			Help:      "Total number of ModelInstanceExec invocations, by outcome",
		},
		[]string{"model", "instance", "outcome"},
	)

	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "instance",
			Name:      "requests_total",
			Help:      "Total number of individual requests executed, by outcome",
		},
		[]string{"model", "instance", "outcome"},
	)

	batchSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "inferd",
			Subsystem: "instance",
			Name:      "batch_size",
			Help:      "Distribution of batch sizes handed to ModelInstanceExec",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128},
		},
		[]string{"model", "instance"},
	)

	queueDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "inferd",
			Subsystem: "instance",
			Name:      "queue_duration_seconds",
			Help:      "Time a request spent queued before ModelInstanceExec started",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"model", "instance"},
	)

	computeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "inferd",
			Subsystem: "instance",
			Name:      "compute_duration_seconds",
			Help:      "Time ModelInstanceExec spent computing a batch",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"model", "instance"},
	)
)

func init() {
	prometheus.MustRegister(execTotal, requestsTotal, batchSize, queueDuration, computeDuration)
}

// Recorder is the narrow collaborator package instance calls into; kept
// as an interface so instance_test.go can assert calls without touching
// the global Prometheus registry (see stats_test.go in this package for
// the registry-backed version's own coverage).
type Recorder interface {
	ReportBatchStatistics(model, instanceName string, n int, queued, compute float64, success bool)
	ReportStatistics(model, instanceName string, success bool)
}

// Prometheus is the Recorder implementation registered with the default
// Prometheus registry, exposed via promhttp in the HTTP front-end.
type Prometheus struct{}

func (Prometheus) ReportBatchStatistics(model, instanceName string, n int, queued, compute float64, success bool) {
	outcome := outcomeLabel(success)
	execTotal.WithLabelValues(model, instanceName, outcome).Inc()
	batchSize.WithLabelValues(model, instanceName).Observe(float64(n))
	queueDuration.WithLabelValues(model, instanceName).Observe(queued)
	computeDuration.WithLabelValues(model, instanceName).Observe(compute)
}

func (Prometheus) ReportStatistics(model, instanceName string, success bool) {
	requestsTotal.WithLabelValues(model, instanceName, outcomeLabel(success)).Inc()
}

func outcomeLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
