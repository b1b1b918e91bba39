// Package metrics exposes a Prometheus registry for the allocators,
// handle table, and scheduler: a global-registry-with-nil-guard shape
// configured by a namespace and a set of histogram buckets, so every
// Record*/Set* call is a cheap no-op until Init is called.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// defaultBuckets are the default latency histogram buckets, in
// microseconds, for task execution and allocation operations.
var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// Registry wraps the Prometheus collectors shared across PAL.
type Registry struct {
	registry *prometheus.Registry

	poolExhaustedTotal  *prometheus.CounterVec
	stealAttemptsTotal  *prometheus.CounterVec
	parkEventsTotal     prometheus.Counter
	wakeEventsTotal     prometheus.Counter
	chunkCommitsTotal   *prometheus.CounterVec
	tasksCompletedTotal prometheus.Counter
	handlesCreatedTotal *prometheus.CounterVec
	handlesFreedTotal   *prometheus.CounterVec

	taskDuration  prometheus.Histogram
	allocDuration *prometheus.HistogramVec

	ertr           *prometheus.GaugeVec
	parkedWorkers  prometheus.Gauge
	readyDequeSize *prometheus.GaugeVec

	uptime    prometheus.GaugeFunc
	startTime time.Time
}

var global *Registry

// Init builds and registers the PAL metrics registry under namespace,
// with the given latency histogram buckets (nil selects defaultBuckets
// in microseconds). Safe to call at most once per process; subsequent
// calls replace the previous global registry.
func Init(namespace string, buckets []float64) *Registry {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Registry{
		registry:  reg,
		startTime: time.Now(),

		poolExhaustedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_exhausted_total",
			Help:      "Total task-pool or host-memory-pool exhaustion events by component",
		}, []string{"component"}),

		stealAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steal_attempts_total",
			Help:      "Total work-stealing attempts by outcome",
		}, []string{"outcome"}), // "success" or "empty"

		parkEventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "park_events_total",
			Help:      "Total times a worker parked with no stealable work",
		}),

		wakeEventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wake_events_total",
			Help:      "Total times a parked worker was woken with a task",
		}),

		chunkCommitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_commits_total",
			Help:      "Total on-demand chunk commits by component",
		}, []string{"component"}), // "handle_table" or "task_pool"

		tasksCompletedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_completed_total",
			Help:      "Total tasks completed (WorkCount reached zero)",
		}),

		handlesCreatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handles_created_total",
			Help:      "Total handle-table ids created, by namespace",
		}, []string{"namespace"}),

		handlesFreedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handles_freed_total",
			Help:      "Total handle-table ids deleted/removed, by namespace",
		}, []string{"namespace"}),

		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_microseconds",
			Help:      "Wall-clock duration of a task's MainFn",
			Buckets:   buckets,
		}),

		allocDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "allocation_duration_microseconds",
			Help:      "Duration of an allocator operation by component and op",
			Buckets:   buckets,
		}, []string{"component", "op"}),

		ertr: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_ertr",
			Help:      "Estimated ready-to-run count per pool",
		}, []string{"pool"}),

		parkedWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "parked_workers",
			Help:      "Current number of parked worker pools",
		}),

		readyDequeSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ready_deque_size",
			Help:      "Current ready-deque length per pool",
		}, []string{"pool"}),
	}

	r.uptime = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Time since this registry was initialized",
	}, func() float64 { return time.Since(r.startTime).Seconds() })

	reg.MustRegister(
		r.poolExhaustedTotal, r.stealAttemptsTotal, r.parkEventsTotal, r.wakeEventsTotal,
		r.chunkCommitsTotal, r.tasksCompletedTotal, r.handlesCreatedTotal, r.handlesFreedTotal,
		r.taskDuration, r.allocDuration, r.ertr, r.parkedWorkers, r.readyDequeSize, r.uptime,
	)

	global = r
	return r
}

// RecordPoolExhausted increments the exhaustion counter for component.
func RecordPoolExhausted(component string) {
	if global == nil {
		return
	}
	global.poolExhaustedTotal.WithLabelValues(component).Inc()
}

// RecordStealAttempt records a work-stealing attempt outcome.
func RecordStealAttempt(success bool) {
	if global == nil {
		return
	}
	outcome := "empty"
	if success {
		outcome = "success"
	}
	global.stealAttemptsTotal.WithLabelValues(outcome).Inc()
}

// RecordParkEvent increments the park counter.
func RecordParkEvent() {
	if global == nil {
		return
	}
	global.parkEventsTotal.Inc()
}

// RecordWakeEvent increments the wake counter.
func RecordWakeEvent() {
	if global == nil {
		return
	}
	global.wakeEventsTotal.Inc()
}

// RecordChunkCommit increments the on-demand chunk-commit counter for
// component ("handle_table" or "task_pool").
func RecordChunkCommit(component string) {
	if global == nil {
		return
	}
	global.chunkCommitsTotal.WithLabelValues(component).Inc()
}

// IncTasksCompleted increments the completed-tasks counter.
func IncTasksCompleted() {
	if global == nil {
		return
	}
	global.tasksCompletedTotal.Inc()
}

// ObserveTaskDuration records how long a task's MainFn ran, in
// microseconds.
func ObserveTaskDuration(durationUs float64) {
	if global == nil {
		return
	}
	global.taskDuration.Observe(durationUs)
}

// RecordHandleCreated increments the handles-created counter for a
// handle-table namespace.
func RecordHandleCreated(namespace string) {
	if global == nil {
		return
	}
	global.handlesCreatedTotal.WithLabelValues(namespace).Inc()
}

// RecordHandleFreed increments the handles-freed counter for a
// handle-table namespace.
func RecordHandleFreed(namespace string) {
	if global == nil {
		return
	}
	global.handlesFreedTotal.WithLabelValues(namespace).Inc()
}

// ObserveAllocation records the duration of an allocator operation.
func ObserveAllocation(component, op string, durationUs float64) {
	if global == nil {
		return
	}
	global.allocDuration.WithLabelValues(component, op).Observe(durationUs)
}

// SetERTR sets the estimated-ready-to-run gauge for a named pool.
func SetERTR(pool string, value int32) {
	if global == nil {
		return
	}
	global.ertr.WithLabelValues(pool).Set(float64(value))
}

// SetParkedWorkers sets the current parked-worker gauge.
func SetParkedWorkers(n int) {
	if global == nil {
		return
	}
	global.parkedWorkers.Set(float64(n))
}

// SetReadyDequeSize sets the ready-deque length gauge for a named pool.
func SetReadyDequeSize(pool string, n int) {
	if global == nil {
		return
	}
	global.readyDequeSize.WithLabelValues(pool).Set(float64(n))
}

// Handler returns an HTTP handler for Prometheus scraping. If Init has
// not been called, it serves 503.
func Handler() http.Handler {
	if global == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("pal metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(global.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry returns the underlying registry, for embedding
// callers that want to register their own collectors alongside PAL's.
func PrometheusRegistry() *prometheus.Registry {
	if global == nil {
		return nil
	}
	return global.registry
}
