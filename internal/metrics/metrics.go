// Package metrics wires the runtime's counters and gauges into a
// Prometheus registry, matching the teacher's pkg/monitoring metrics
// collector but scoped to the task-graph runtime's own signals. It is
// nil-safe: a nil *Metrics behaves as a no-op so components never need
// to branch on whether metrics are enabled.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every Prometheus collector the runtime populates.
type Metrics struct {
	registry *prometheus.Registry

	TasksScheduled prometheus.Counter
	TasksCompleted prometheus.Counter
	TasksFailed    prometheus.Counter

	QueueDepth *prometheus.GaugeVec

	CacheHits      *prometheus.CounterVec
	CacheMisses    *prometheus.CounterVec
	CacheEvictions *prometheus.CounterVec
}

// New constructs a fresh registry and collector set.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		TasksScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tilerun",
			Name:      "tasks_scheduled_total",
			Help:      "Tasks assigned to a worker ready queue.",
		}),
		TasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tilerun",
			Name:      "tasks_completed_total",
			Help:      "Tasks that reached status Done.",
		}),
		TasksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tilerun",
			Name:      "tasks_failed_total",
			Help:      "Tasks that reached status Failed.",
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tilerun",
			Name:      "queue_depth",
			Help:      "Current ready-queue length per worker.",
		}, []string{"worker"}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tilerun",
			Name:      "cache_hits_total",
			Help:      "Device cache fetches that found an existing slot.",
		}, []string{"device"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tilerun",
			Name:      "cache_misses_total",
			Help:      "Device cache fetches that required a refill.",
		}, []string{"device"}),
		CacheEvictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tilerun",
			Name:      "cache_evictions_total",
			Help:      "Device cache slots reclaimed via LRU eviction.",
		}, []string{"device"}),
	}

	reg.MustRegister(m.TasksScheduled, m.TasksCompleted, m.TasksFailed,
		m.QueueDepth, m.CacheHits, m.CacheMisses, m.CacheEvictions)

	return m
}

// Registry exposes the underlying registry, e.g. for promhttp.Handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) incScheduled() {
	if m == nil {
		return
	}
	m.TasksScheduled.Inc()
}

func (m *Metrics) incCompleted() {
	if m == nil {
		return
	}
	m.TasksCompleted.Inc()
}

func (m *Metrics) incFailed() {
	if m == nil {
		return
	}
	m.TasksFailed.Inc()
}

// SetQueueDepth records the current ready-queue length for a worker.
func (m *Metrics) SetQueueDepth(worker string, depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(worker).Set(float64(depth))
}

// TaskScheduled records a task leaving NotReady for Queued.
func (m *Metrics) TaskScheduled() { m.incScheduled() }

// TaskCompleted records a task reaching Done.
func (m *Metrics) TaskCompleted() { m.incCompleted() }

// TaskFailed records a task reaching Failed.
func (m *Metrics) TaskFailed() { m.incFailed() }

// CacheHit records a fetch that found an existing slot on device.
func (m *Metrics) CacheHit(device string) {
	if m == nil {
		return
	}
	m.CacheHits.WithLabelValues(device).Inc()
}

// CacheMiss records a fetch that required a refill on device.
func (m *Metrics) CacheMiss(device string) {
	if m == nil {
		return
	}
	m.CacheMisses.WithLabelValues(device).Inc()
}

// CacheEviction records an LRU eviction on device.
func (m *Metrics) CacheEviction(device string) {
	if m == nil {
		return
	}
	m.CacheEvictions.WithLabelValues(device).Inc()
}
