package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds all Prometheus metrics for Onyesha.
// Uses a custom registry — no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Preview lifecycle metrics.
	ActiveSandboxes  prometheus.Gauge
	SandboxesCreated *prometheus.CounterVec
	SandboxesStopped *prometheus.CounterVec
	BuildsTotal      *prometheus.CounterVec
	BuildDuration    prometheus.Histogram

	// Health monitor metrics.
	StatusTransitions *prometheus.CounterVec
	ProbesTotal       *prometheus.CounterVec

	// Error detection metrics.
	ErrorsDetected *prometheus.CounterVec

	// Port allocator metrics.
	PortsInUse prometheus.Gauge

	// Container runtime metrics (recorded by the instrumented wrapper).
	RuntimeOpsTotal   *prometheus.CounterVec
	RuntimeOpDuration *prometheus.HistogramVec

	// Cleanup metrics.
	SweepsTotal    prometheus.Counter
	SweptSandboxes prometheus.Counter

	// HTTP gateway metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// System metrics.
	ActiveRequests prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		ActiveSandboxes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "onyesha",
			Subsystem: "preview",
			Name:      "active_sandboxes",
			Help:      "Number of non-stopped preview sandboxes.",
		}),

		SandboxesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "onyesha",
			Subsystem: "preview",
			Name:      "sandboxes_created_total",
			Help:      "Total preview sandboxes created.",
		}, []string{"kind"}),

		SandboxesStopped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "onyesha",
			Subsystem: "preview",
			Name:      "sandboxes_stopped_total",
			Help:      "Total preview sandboxes stopped.",
		}, []string{"reason"}),

		BuildsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "onyesha",
			Subsystem: "build",
			Name:      "builds_total",
			Help:      "Total preview image builds.",
		}, []string{"kind", "status"}),

		BuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "onyesha",
			Subsystem: "build",
			Name:      "duration_seconds",
			Help:      "Preview image build duration in seconds.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}),

		StatusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "onyesha",
			Subsystem: "monitor",
			Name:      "status_transitions_total",
			Help:      "Total sandbox status transitions.",
		}, []string{"from", "to"}),

		ProbesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "onyesha",
			Subsystem: "monitor",
			Name:      "probes_total",
			Help:      "Total health probes issued.",
		}, []string{"result"}),

		ErrorsDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "onyesha",
			Subsystem: "errdetect",
			Name:      "errors_detected_total",
			Help:      "Total preview errors detected in logs.",
		}, []string{"type", "severity"}),

		PortsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "onyesha",
			Subsystem: "ports",
			Name:      "in_use",
			Help:      "Ports currently reserved from the managed range.",
		}),

		RuntimeOpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "onyesha",
			Subsystem: "runtime",
			Name:      "ops_total",
			Help:      "Total container runtime operations.",
		}, []string{"op", "status"}),

		RuntimeOpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "onyesha",
			Subsystem: "runtime",
			Name:      "op_duration_seconds",
			Help:      "Container runtime operation duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}, []string{"op"}),

		SweepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "onyesha",
			Subsystem: "cleanup",
			Name:      "sweeps_total",
			Help:      "Total cleanup sweeps executed.",
		}),

		SweptSandboxes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "onyesha",
			Subsystem: "cleanup",
			Name:      "swept_sandboxes_total",
			Help:      "Total idle sandboxes retired by the cleanup sweep.",
		}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "onyesha",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "onyesha",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "onyesha",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),
	}

	// Register all collectors.
	reg.MustRegister(
		m.ActiveSandboxes,
		m.SandboxesCreated,
		m.SandboxesStopped,
		m.BuildsTotal,
		m.BuildDuration,
		m.StatusTransitions,
		m.ProbesTotal,
		m.ErrorsDetected,
		m.PortsInUse,
		m.RuntimeOpsTotal,
		m.RuntimeOpDuration,
		m.SweepsTotal,
		m.SweptSandboxes,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRequests,
	)

	return m
}
