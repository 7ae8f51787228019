package observability

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/onyesha/internal/runtime"
)

// InstrumentedRuntime wraps a runtime.ContainerRuntime with metrics,
// tracing, and anomaly detection. Read paths (logs, listing) pass through
// untouched; the engine-mutating operations and exec are recorded.
type InstrumentedRuntime struct {
	inner   runtime.ContainerRuntime
	metrics *MetricsCollector
	tracer  trace.Tracer
	anomaly *AnomalyDetector
}

// NewInstrumentedRuntime wraps a container runtime with observability.
func NewInstrumentedRuntime(inner runtime.ContainerRuntime, metrics *MetricsCollector, ts *TracerSetup, anomaly *AnomalyDetector) *InstrumentedRuntime {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedRuntime{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
		anomaly: anomaly,
	}
}

func (r *InstrumentedRuntime) BuildImage(ctx context.Context, spec runtime.BuildSpec) error {
	if r.tracer != nil {
		var span trace.Span
		ctx, span = r.tracer.Start(ctx, "runtime.build_image",
			trace.WithAttributes(
				attribute.String("image.tag", spec.Tag),
			))
		defer span.End()
	}

	start := time.Now()
	err := r.inner.BuildImage(ctx, spec)
	r.record(ctx, "build_image", "image_build", start, err)
	return err
}

func (r *InstrumentedRuntime) RunContainer(ctx context.Context, spec runtime.RunSpec) (string, error) {
	if r.tracer != nil {
		var span trace.Span
		ctx, span = r.tracer.Start(ctx, "runtime.run_container",
			trace.WithAttributes(
				attribute.String("container.name", spec.Name),
				attribute.Int("container.host_port", spec.HostPort),
			))
		defer span.End()
	}

	start := time.Now()
	id, err := r.inner.RunContainer(ctx, spec)
	r.record(ctx, "run_container", "container_run", start, err)
	return id, err
}

func (r *InstrumentedRuntime) StopContainer(ctx context.Context, nameOrID string) error {
	start := time.Now()
	err := r.inner.StopContainer(ctx, nameOrID)
	r.record(ctx, "stop_container", "", start, err)
	return err
}

func (r *InstrumentedRuntime) RemoveContainer(ctx context.Context, nameOrID string) error {
	start := time.Now()
	err := r.inner.RemoveContainer(ctx, nameOrID)
	r.record(ctx, "remove_container", "", start, err)
	return err
}

func (r *InstrumentedRuntime) ContainerLogs(ctx context.Context, nameOrID string, tail int) (string, error) {
	return r.inner.ContainerLogs(ctx, nameOrID, tail)
}

func (r *InstrumentedRuntime) ListRunning(ctx context.Context, label string) ([]runtime.ContainerInfo, error) {
	return r.inner.ListRunning(ctx, label)
}

func (r *InstrumentedRuntime) Exec(ctx context.Context, nameOrID string, cmd []string) (*runtime.ExecResult, error) {
	if r.tracer != nil {
		var span trace.Span
		ctx, span = r.tracer.Start(ctx, "runtime.exec",
			trace.WithAttributes(
				attribute.String("container.handle", nameOrID),
			))
		defer span.End()
	}

	start := time.Now()
	res, err := r.inner.Exec(ctx, nameOrID, cmd)
	r.record(ctx, "exec", "container_exec", start, err)
	if err == nil && res != nil && r.tracer != nil {
		trace.SpanFromContext(ctx).SetAttributes(attribute.Int("exec.exit_code", res.ExitCode))
	}
	return res, err
}

func (r *InstrumentedRuntime) PublishedPorts(ctx context.Context) (map[int]bool, error) {
	return r.inner.PublishedPorts(ctx)
}

// record updates metrics, span status, and anomaly windows for one
// operation. anomalyOp is empty for operations not anomaly-tracked.
func (r *InstrumentedRuntime) record(ctx context.Context, op, anomalyOp string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
		if r.tracer != nil {
			span := trace.SpanFromContext(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}

	if r.metrics != nil {
		r.metrics.RuntimeOpsTotal.WithLabelValues(op, status).Inc()
		r.metrics.RuntimeOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}

	if r.anomaly != nil && anomalyOp != "" {
		if err != nil {
			r.anomaly.RecordError(anomalyOp)
		} else {
			r.anomaly.RecordSuccess(anomalyOp)
		}
	}
}

var _ runtime.ContainerRuntime = (*InstrumentedRuntime)(nil)

// statusCode returns the HTTP status code as a string for metric labels.
func statusCode(code int) string {
	return strconv.Itoa(code)
}
