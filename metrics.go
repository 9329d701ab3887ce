package syncutil

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PoolMetrics holds the metrics of a worker pool.
// A nil *PoolMetrics is valid and records nothing.
type PoolMetrics struct {
	ItemsSubmitted  prometheus.Counter
	ItemsProcessed  prometheus.Counter
	ItemsFailed     prometheus.Counter
	ProcessDuration prometheus.Histogram
	QueueDepth      prometheus.Gauge
	ActiveWorkers   prometheus.Gauge
}

// NewPoolMetrics creates the metrics of the named worker pool and registers them with reg.
// A nil reg creates unregistered metrics.
func NewPoolMetrics(name string, reg prometheus.Registerer) *PoolMetrics {
	f := promauto.With(reg)
	labels := prometheus.Labels{"pool": name}
	return &PoolMetrics{
		ItemsSubmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace:   "syncutil",
			Subsystem:   "worker_pool",
			Name:        "items_submitted_total",
			Help:        "Total number of work items added to the pool",
			ConstLabels: labels,
		}),
		ItemsProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace:   "syncutil",
			Subsystem:   "worker_pool",
			Name:        "items_processed_total",
			Help:        "Total number of work items processed successfully",
			ConstLabels: labels,
		}),
		ItemsFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace:   "syncutil",
			Subsystem:   "worker_pool",
			Name:        "items_failed_total",
			Help:        "Total number of work items whose processing returned an error or panicked",
			ConstLabels: labels,
		}),
		ProcessDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "syncutil",
			Subsystem:   "worker_pool",
			Name:        "process_duration_seconds",
			Help:        "Duration of work item processing",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   "syncutil",
			Subsystem:   "worker_pool",
			Name:        "queue_depth",
			Help:        "Current number of work items waiting in the queue",
			ConstLabels: labels,
		}),
		ActiveWorkers: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   "syncutil",
			Subsystem:   "worker_pool",
			Name:        "active_workers",
			Help:        "Current number of prepared workers that have not stopped",
			ConstLabels: labels,
		}),
	}
}

func (m *PoolMetrics) submitted(queueLen int) {
	if m == nil {
		return
	}
	m.ItemsSubmitted.Inc()
	m.QueueDepth.Set(float64(queueLen))
}

func (m *PoolMetrics) dequeued(queueLen int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(queueLen))
}

func (m *PoolMetrics) processed(start time.Time, err error) {
	if m == nil {
		return
	}
	m.ProcessDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		m.ItemsFailed.Inc()
		return
	}
	m.ItemsProcessed.Inc()
}

func (m *PoolMetrics) workerStarted() {
	if m == nil {
		return
	}
	m.ActiveWorkers.Inc()
}

func (m *PoolMetrics) workerStopped() {
	if m == nil {
		return
	}
	m.ActiveWorkers.Dec()
}
