package observability

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/jkaninda/onyesha/internal/config"
	"github.com/jkaninda/onyesha/internal/runtime"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew_NilConfigDisablesEverything(t *testing.T) {
	obs, err := New(nil, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if obs != nil {
		t.Fatal("nil config should return nil observability")
	}
	// All accessors must be nil-safe.
	if obs.MetricsOrNil() != nil {
		t.Error("MetricsOrNil on nil receiver")
	}
	if obs.TracerOrNil() != nil {
		t.Error("TracerOrNil on nil receiver")
	}
	obs.Shutdown(context.Background())
}

func TestNew_MetricsOnly(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{
		Metrics: &config.MetricsConfig{Enabled: true},
	}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if obs.Metrics == nil {
		t.Error("metrics not created")
	}
	if obs.Tracer != nil {
		t.Error("tracer created without tracing config")
	}
	if obs.Health == nil {
		t.Error("health checker not created")
	}
}

func TestMetricsCollector_RegistersAndCounts(t *testing.T) {
	m := NewMetricsCollector()

	m.ActiveSandboxes.Set(3)
	m.SandboxesCreated.WithLabelValues("react").Inc()
	m.BuildsTotal.WithLabelValues("react", "success").Inc()
	m.RuntimeOpsTotal.WithLabelValues("build_image", "success").Inc()

	if got := testutil.ToFloat64(m.ActiveSandboxes); got != 3 {
		t.Errorf("active sandboxes = %v", got)
	}
	if got := testutil.ToFloat64(m.SandboxesCreated.WithLabelValues("react")); got != 1 {
		t.Errorf("sandboxes created = %v", got)
	}
}

func TestHealthChecker(t *testing.T) {
	h := NewHealthChecker(testLogger())

	if got := h.CheckHealth(); got.Status != "ok" {
		t.Errorf("liveness = %q", got.Status)
	}
	// No checks registered: ready.
	if got := h.CheckReady(context.Background()); got.Status != "ok" {
		t.Errorf("readiness with no checks = %q", got.Status)
	}

	h.AddCheck("database", func(ctx context.Context) error { return nil })
	h.AddCheck("docker", func(ctx context.Context) error { return errors.New("engine unreachable") })

	got := h.CheckReady(context.Background())
	if got.Status != "degraded" {
		t.Errorf("readiness = %q, want degraded", got.Status)
	}
	if got.Checks["database"].Status != "ok" {
		t.Errorf("database check = %+v", got.Checks["database"])
	}
	if got.Checks["docker"].Status != "fail" || got.Checks["docker"].Message == "" {
		t.Errorf("docker check = %+v", got.Checks["docker"])
	}
	if got.Checks["database"].LatencyMS < 0 {
		t.Errorf("database latency = %d", got.Checks["database"].LatencyMS)
	}

	// Re-registering a name replaces the check.
	h.AddCheck("docker", func(ctx context.Context) error { return nil })
	if got := h.CheckReady(context.Background()); got.Status != "ok" {
		t.Errorf("readiness after engine recovery = %q, want ok", got.Status)
	}
}

func TestHealthChecker_SlowCheckTimesOut(t *testing.T) {
	h := NewHealthChecker(testLogger())
	h.AddCheck("database", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	got := h.CheckReady(ctx)
	if got.Status != "degraded" {
		t.Errorf("readiness with a hung check = %q, want degraded", got.Status)
	}
	if got.Checks["database"].Status != "fail" {
		t.Errorf("hung check = %+v", got.Checks["database"])
	}
}

func TestAnomalyDetector_NilSafe(t *testing.T) {
	var a *AnomalyDetector
	a.RecordError("image_build")
	a.RecordSuccess("image_build")
}

func TestAnomalyDetector_Windows(t *testing.T) {
	a := NewAnomalyDetector(&config.AnomalyConfig{
		Enabled:            true,
		ErrorRateThreshold: 0.5,
		WindowSeconds:      300,
	}, testLogger())

	for i := 0; i < 10; i++ {
		a.RecordError("image_build")
	}
	a.RecordSuccess("image_build")

	a.mu.Lock()
	defer a.mu.Unlock()
	if got := a.errorCounts["image_build"].sum(); got != 10 {
		t.Errorf("error window sum = %v", got)
	}
	if got := a.successCounts["image_build"].sum(); got != 1 {
		t.Errorf("success window sum = %v", got)
	}
}

func TestSlidingWindow_Prunes(t *testing.T) {
	w := &slidingWindow{window: 50 * time.Millisecond}
	w.add(1)
	time.Sleep(80 * time.Millisecond)
	w.add(1)

	if got := w.sum(); got != 1 {
		t.Errorf("sum after expiry = %v, want 1", got)
	}
}

func TestInstrumentedRuntime_RecordsOps(t *testing.T) {
	fake := runtime.NewFake()
	m := NewMetricsCollector()
	ir := NewInstrumentedRuntime(fake, m, nil, nil)
	ctx := context.Background()

	if err := ir.BuildImage(ctx, runtime.BuildSpec{Tag: "t:latest"}); err != nil {
		t.Fatal(err)
	}
	if _, err := ir.RunContainer(ctx, runtime.RunSpec{Name: "c1", Image: "t:latest"}); err != nil {
		t.Fatal(err)
	}

	if got := testutil.ToFloat64(m.RuntimeOpsTotal.WithLabelValues("build_image", "success")); got != 1 {
		t.Errorf("build_image ops = %v", got)
	}
	if got := testutil.ToFloat64(m.RuntimeOpsTotal.WithLabelValues("run_container", "success")); got != 1 {
		t.Errorf("run_container ops = %v", got)
	}

	fake.BuildErr = errors.New("boom")
	_ = ir.BuildImage(ctx, runtime.BuildSpec{Tag: "t:latest"})
	if got := testutil.ToFloat64(m.RuntimeOpsTotal.WithLabelValues("build_image", "error")); got != 1 {
		t.Errorf("build_image error ops = %v", got)
	}
}

func TestInstrumentedRuntime_PassesThroughReads(t *testing.T) {
	fake := runtime.NewFake()
	ir := NewInstrumentedRuntime(fake, nil, nil, nil)
	ctx := context.Background()

	if _, err := ir.RunContainer(ctx, runtime.RunSpec{Name: "c1", Image: "t", HostPort: 4001}); err != nil {
		t.Fatal(err)
	}
	fake.LogsByName["c1"] = "hello"

	logs, err := ir.ContainerLogs(ctx, "c1", 10)
	if err != nil || logs != "hello" {
		t.Errorf("logs = %q, %v", logs, err)
	}
	ports, err := ir.PublishedPorts(ctx)
	if err != nil || !ports[4001] {
		t.Errorf("published ports = %v, %v", ports, err)
	}
	infos, err := ir.ListRunning(ctx, "")
	if err != nil || len(infos) != 1 {
		t.Errorf("list running = %v, %v", infos, err)
	}
}
