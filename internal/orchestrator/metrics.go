package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"modelprobe/pkg/types"
)

// Namespace prefixes every metric name.
const Namespace = "modelprobe"

// Metrics holds the run's collectors on a dedicated registry so several
// schedulers (tests) never collide on the global one.
type Metrics struct {
	Registry *prometheus.Registry

	attempts  *prometheus.CounterVec
	failures  *prometheus.CounterVec
	evictions prometheus.Counter
	duration  prometheus.Histogram
	gpuFree   prometheus.Gauge
	active    prometheus.Gauge
	lastRun   prometheus.Gauge
}

// NewMetrics creates and registers the scheduler collectors plus the Go and
// process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "attempts_total",
			Help:      "Processed model specs by terminal outcome",
		}, []string{"outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "failures_total",
			Help:      "Failed attempts by error kind",
		}, []string{"kind"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "evictions_total",
			Help:      "Model cache evictions that removed data",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "attempt_duration_seconds",
			Help:      "Wall time of launched attempts including cleanup",
			Buckets:   []float64{5, 15, 30, 60, 120, 180, 300, 600, 900},
		}),
		gpuFree: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "gpu_memory_free_bytes",
			Help:      "Free accelerator memory at the last snapshot",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "active_containers",
			Help:      "Backend containers currently tracked as running",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished",
		}),
	}
	reg.MustRegister(m.attempts, m.failures, m.evictions, m.duration, m.gpuFree, m.active, m.lastRun,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

func (m *Metrics) observeReport(r types.ModelReport) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(string(r.Status)).Inc()
	if r.EvictedCache {
		m.evictions.Inc()
	}
	if r.Status.Skipped() {
		return
	}
	m.duration.Observe(r.DurationSeconds)
	if r.LaunchResult != nil && r.LaunchResult.ErrorKind != types.KindNone {
		m.failures.WithLabelValues(string(r.LaunchResult.ErrorKind)).Inc()
	} else if r.Status == types.OutcomeFunctionFailed {
		m.failures.WithLabelValues(string(types.KindFunctionFail)).Inc()
	}
}

func (m *Metrics) setGPUFree(b uint64) {
	if m != nil {
		m.gpuFree.Set(float64(b))
	}
}

func (m *Metrics) setActive(n int) {
	if m != nil {
		m.active.Set(float64(n))
	}
}

func (m *Metrics) markRunDone(unix int64) {
	if m != nil {
		m.lastRun.Set(float64(unix))
	}
}

// WriteTextfile writes the registry in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
