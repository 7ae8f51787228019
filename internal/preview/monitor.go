package preview

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jkaninda/onyesha/internal/domain"
	"github.com/jkaninda/onyesha/internal/errdetect"
	"github.com/jkaninda/onyesha/internal/observability"
	"github.com/jkaninda/onyesha/internal/runtime"
)

// maxStoredLogLines bounds the log tail kept on a sandbox.
const maxStoredLogLines = 200

// MonitorConfig tunes the per-sandbox health loop.
type MonitorConfig struct {
	Interval     time.Duration // Tick interval. Default 3s.
	Grace        time.Duration // Warm-up delay before the first tick. Default 5s.
	MaxAttempts  int           // Attempt ceiling. Default 60 (~3 minutes).
	LogScanEvery int           // Run the error detector every Nth tick. Default 3.
	ProbeTimeout time.Duration // Per-probe HTTP timeout. Default 2s.
}

func (c *MonitorConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 3 * time.Second
	}
	if c.Grace < 0 {
		c.Grace = 0
	} else if c.Grace == 0 {
		c.Grace = 5 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 60
	}
	if c.LogScanEvery <= 0 {
		c.LogScanEvery = 3
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 2 * time.Second
	}
}

// ProbeFunc reports whether a URL answers a readiness probe. Injected so
// tests can script reachability without a listening server.
type ProbeFunc func(ctx context.Context, url string) bool

// defaultProbe issues a short-timeout HEAD request; any 2xx/3xx counts as
// reachable.
func defaultProbe(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 400
}

// monitor drives one sandbox from starting to running or error. It is a
// cancellable ticker loop, never recursive timers: stopPreview cancels its
// context and the goroutine exits without touching the removed entry.
type monitor struct {
	projectID string
	cfg       MonitorConfig
	registry  *Registry
	rt        runtime.ContainerRuntime
	detector  *errdetect.Detector
	probe     ProbeFunc
	metrics   *observability.MetricsCollector
	logger    *slog.Logger
}

func (m *monitor) run(ctx context.Context) {
	// Grace delay: dev servers need warm-up time before the first probe.
	select {
	case <-ctx.Done():
		return
	case <-time.After(m.cfg.Grace):
	}

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		sb, err := m.registry.Get(m.projectID)
		if err != nil || sb.Status != domain.StatusStarting {
			// Stopped or already transitioned under us.
			return
		}

		// (a) The container must still be alive.
		if !m.containerAlive(ctx, &sb) {
			logs, _ := m.rt.ContainerLogs(ctx, sb.ContainerName, maxStoredLogLines)
			m.toError(ctx, &sb, logs, "container exited before becoming reachable")
			return
		}

		// (b) Probe candidate URLs; first success means running.
		if m.probeAny(ctx, &sb) {
			m.toRunning(&sb)
			return
		}

		// (c) Periodic log scan keeps the error set fresh while starting.
		if attempt%m.cfg.LogScanEvery == 0 {
			m.scanLogs(ctx, &sb)
		}
	}

	// Ceiling reached: terminal error with a diagnostic snapshot.
	sb, err := m.registry.Get(m.projectID)
	if err != nil || sb.Status != domain.StatusStarting {
		return
	}
	logs, _ := m.rt.ContainerLogs(ctx, sb.ContainerName, maxStoredLogLines)
	m.toError(ctx, &sb, logs, fmt.Sprintf(
		"not reachable after %d attempts (container=%s port=%d)",
		m.cfg.MaxAttempts, sb.ContainerName, sb.Port,
	))
}

func (m *monitor) containerAlive(ctx context.Context, sb *domain.Sandbox) bool {
	infos, err := m.rt.ListRunning(ctx, "")
	if err != nil {
		// A transient engine error should not kill the sandbox.
		m.logger.Warn("liveness check failed",
			slog.String("project_id", m.projectID),
			slog.String("error", err.Error()),
		)
		return true
	}
	for _, info := range infos {
		if info.ID == sb.ContainerID || info.Name == sb.ContainerName {
			return true
		}
	}
	return false
}

func (m *monitor) probeAny(ctx context.Context, sb *domain.Sandbox) bool {
	for _, path := range []string{"", "/", "/index.html"} {
		probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
		ok := m.probe(probeCtx, sb.URL+path)
		cancel()
		if ok {
			m.metrics.ProbesTotal.WithLabelValues("success").Inc()
			return true
		}
		m.metrics.ProbesTotal.WithLabelValues("failure").Inc()
	}
	return false
}

func (m *monitor) scanLogs(ctx context.Context, sb *domain.Sandbox) {
	logs, err := m.rt.ContainerLogs(ctx, sb.ContainerName, maxStoredLogLines)
	if err != nil {
		return
	}
	errs := m.detector.Scan(logs, sb.ContainerID)
	for _, e := range errs {
		m.metrics.ErrorsDetected.WithLabelValues(string(e.Type), string(e.Severity)).Inc()
	}
	_ = m.registry.Mutate(m.projectID, func(s *domain.Sandbox) {
		s.Logs = tailLines(logs, maxStoredLogLines)
		s.Errors = errs
		s.LastErrorScanAt = time.Now().UTC()
	})
}

func (m *monitor) toRunning(sb *domain.Sandbox) {
	applied := false
	err := m.registry.Mutate(m.projectID, func(s *domain.Sandbox) {
		if s.Status == domain.StatusStarting {
			applied = true
			s.Status = domain.StatusRunning
		}
	})
	if err != nil || !applied {
		return
	}
	m.metrics.StatusTransitions.WithLabelValues("starting", "running").Inc()
	m.logger.Info("preview running",
		slog.String("project_id", m.projectID),
		slog.String("url", sb.URL),
	)
}

// toError records the terminal error state with enough diagnostics that
// getPreview alone explains the failure.
func (m *monitor) toError(ctx context.Context, sb *domain.Sandbox, logs, reason string) {
	errs := m.detector.Scan(logs, sb.ContainerID)
	applied := false
	mutErr := m.registry.Mutate(m.projectID, func(s *domain.Sandbox) {
		// Only a starting sandbox may fail this way; an updatePreview
		// recovery or concurrent transition wins over a stale monitor.
		if s.Status != domain.StatusStarting {
			return
		}
		applied = true
		s.Status = domain.StatusError
		if logs != "" {
			s.Logs = tailLines(logs, maxStoredLogLines)
		}
		s.Logs = append(s.Logs, "preview failed: "+reason)
		if len(errs) > 0 {
			s.Errors = errs
			s.LastErrorScanAt = time.Now().UTC()
		}
	})
	if mutErr != nil || !applied {
		return
	}
	m.metrics.StatusTransitions.WithLabelValues("starting", "error").Inc()
	m.logger.Warn("preview failed",
		slog.String("project_id", m.projectID),
		slog.String("container", sb.ContainerName),
		slog.Int("port", sb.Port),
		slog.String("reason", reason),
		slog.Int("detected_errors", len(errs)),
	)
}

func tailLines(text string, n int) []string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
