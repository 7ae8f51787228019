package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// perCheckTimeout bounds a single dependency check. A hung Docker socket
// or database must not stall the readiness endpoint past the probe
// deadline of whatever is scraping it.
const perCheckTimeout = 3 * time.Second

// CheckFunc probes one dependency (database ping, engine listing).
type CheckFunc func(ctx context.Context) error

// HealthChecker answers liveness and readiness for the gateway.
// Liveness is unconditional; readiness fans out to every registered
// dependency check concurrently and reports per-check latency.
type HealthChecker struct {
	mu     sync.RWMutex
	names  []string
	checks map[string]CheckFunc
	logger *slog.Logger
}

// HealthStatus is the JSON body of the health and readiness endpoints.
type HealthStatus struct {
	Status string                 `json:"status"` // "ok" or "degraded"
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is one dependency's verdict.
type CheckResult struct {
	Status    string `json:"status"`            // "ok" or "fail"
	Message   string `json:"message,omitempty"` // Failure detail.
	LatencyMS int64  `json:"latency_ms"`
}

// NewHealthChecker creates a HealthChecker with no checks registered.
func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	return &HealthChecker{
		checks: make(map[string]CheckFunc),
		logger: logger,
	}
}

// AddCheck registers a named dependency check. Re-registering a name
// replaces the previous check.
func (h *HealthChecker) AddCheck(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.checks[name]; !ok {
		h.names = append(h.names, name)
	}
	h.checks[name] = check
}

// CheckHealth reports liveness: the process is up.
func (h *HealthChecker) CheckHealth() HealthStatus {
	return HealthStatus{Status: "ok"}
}

// CheckReady probes every registered dependency concurrently. "ok" only
// when all pass; any failure degrades readiness. Each check runs under
// its own timeout so one slow dependency cannot starve the rest.
func (h *HealthChecker) CheckReady(ctx context.Context) HealthStatus {
	h.mu.RLock()
	names := make([]string, len(h.names))
	copy(names, h.names)
	checks := make(map[string]CheckFunc, len(h.checks))
	for n, c := range h.checks {
		checks[n] = c
	}
	h.mu.RUnlock()

	if len(names) == 0 {
		return HealthStatus{Status: "ok"}
	}

	status := HealthStatus{
		Status: "ok",
		Checks: make(map[string]CheckResult, len(names)),
	}

	var wg sync.WaitGroup
	var resMu sync.Mutex
	for _, name := range names {
		wg.Add(1)
		go func(name string, check CheckFunc) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, perCheckTimeout)
			defer cancel()

			start := time.Now()
			err := check(checkCtx)
			res := CheckResult{Status: "ok", LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				res.Status = "fail"
				res.Message = err.Error()
				if h.logger != nil {
					h.logger.Warn("readiness check failed",
						slog.String("check", name),
						slog.String("error", err.Error()),
					)
				}
			}

			resMu.Lock()
			if res.Status == "fail" {
				status.Status = "degraded"
			}
			status.Checks[name] = res
			resMu.Unlock()
		}(name, checks[name])
	}
	wg.Wait()

	return status
}
