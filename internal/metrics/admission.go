// Package metrics provides Prometheus metrics for the SmartQueue admission subsystem.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// These metrics cover the admission controller's three decision outcomes
// (direct, queued, rejected), the queue/permit pool occupancy, and the
// last-published resource probe readings. No request- or work-item-scoped
// labels: cardinality stays bounded regardless of load.

var (
	// Counters

	// AdmissionDirectTotal counts requests dispatched without queueing,
	// because resource usage was under threshold at admission time.
	AdmissionDirectTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smartqueue_admission_direct_total",
		Help: "Total number of requests dispatched directly, without queueing.",
	})

	// AdmissionQueuedTotal counts requests admitted onto the wait queue.
	AdmissionQueuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smartqueue_admission_queued_total",
		Help: "Total number of requests admitted onto the wait queue.",
	})

	// AdmissionRejectTotal counts rejected requests, by reason.
	AdmissionRejectTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smartqueue_admission_reject_total",
		Help: "Total number of rejected requests, by reason.",
	}, []string{"reason"})

	// QueueWaitSeconds observes how long a request spent on the wait queue
	// before leaving it, whether dispatched or timed out.
	QueueWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "smartqueue_queue_wait_seconds",
		Help:    "Time a request spent waiting on the admission queue.",
		Buckets: prometheus.DefBuckets,
	})

	// Gauges

	// QueueSize tracks the current number of requests waiting on the queue.
	QueueSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "smartqueue_queue_size",
		Help: "Current number of requests waiting on the admission queue.",
	})

	// PermitsInUse tracks the current number of outstanding execution permits.
	PermitsInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "smartqueue_permits_in_use",
		Help: "Current number of permits held by in-flight handler executions.",
	})

	// CPUPercent is the last CPU utilisation reading published by the probe.
	CPUPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "smartqueue_cpu_percent",
		Help: "Last-published CPU utilisation percentage, 0-100.",
	})

	// MemoryPercent is the last memory utilisation reading published by the probe.
	MemoryPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "smartqueue_memory_percent",
		Help: "Last-published memory utilisation percentage, 0-100.",
	})
)

// RecordDirect increments the direct-dispatch counter.
func RecordDirect() {
	AdmissionDirectTotal.Inc()
}

// RecordQueued increments the queued counter.
func RecordQueued() {
	AdmissionQueuedTotal.Inc()
}

// RecordReject increments the rejection counter for reason, one of
// "queue_full" or "timeout".
func RecordReject(reason string) {
	AdmissionRejectTotal.WithLabelValues(reason).Inc()
}

// ObserveQueueWait records the time a request spent on the wait queue.
func ObserveQueueWait(seconds float64) {
	QueueWaitSeconds.Observe(seconds)
}

// SetQueueSize sets the queue occupancy gauge.
func SetQueueSize(n float64) {
	QueueSize.Set(n)
}

// SetPermitsInUse sets the permit pool occupancy gauge.
func SetPermitsInUse(n float64) {
	PermitsInUse.Set(n)
}

// SetCPUPercent publishes the latest CPU probe reading.
func SetCPUPercent(pct float64) {
	CPUPercent.Set(pct)
}

// SetMemoryPercent publishes the latest memory probe reading.
func SetMemoryPercent(pct float64) {
	MemoryPercent.Set(pct)
}

// GetQueueSize returns the current value of the queue size gauge (for testing).
func GetQueueSize() float64 {
	var m dto.Metric
	if err := QueueSize.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

// GetPermitsInUse returns the current value of the permits gauge (for testing).
func GetPermitsInUse() float64 {
	var m dto.Metric
	if err := PermitsInUse.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}
