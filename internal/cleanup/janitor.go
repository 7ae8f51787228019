// Package cleanup reclaims sandbox resources: a startup sweep that removes
// containers orphaned by a previous process, and a recurring idle sweep
// that retires sandboxes nobody has touched recently.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jkaninda/onyesha/internal/domain"
	"github.com/jkaninda/onyesha/internal/observability"
	"github.com/jkaninda/onyesha/internal/preview"
	"github.com/jkaninda/onyesha/internal/runtime"
)

// PreviewManager is the slice of the preview manager the janitor needs.
type PreviewManager interface {
	ListPreviews() []domain.Sandbox
	StopIdle(ctx context.Context, projectID string) error
}

// Config tunes the janitor.
type Config struct {
	SweepInterval time.Duration // How often the idle sweep runs. Default 1m.
	IdleAfter     time.Duration // Idle threshold before a sandbox is retired. Default 30m.
	SweepTimeout  time.Duration // Per-sweep deadline. Default 2m.
}

func (c *Config) applyDefaults() {
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.IdleAfter <= 0 {
		c.IdleAfter = 30 * time.Minute
	}
	if c.SweepTimeout <= 0 {
		c.SweepTimeout = 2 * time.Minute
	}
}

// Janitor owns the two sweeps. It never touches containers it cannot
// attribute to this service via the owner label or the name prefix.
type Janitor struct {
	cfg     Config
	mgr     PreviewManager
	rt      runtime.ContainerRuntime
	metrics *observability.MetricsCollector
	logger  *slog.Logger
	cron    *cron.Cron
}

// New creates a Janitor.
func New(cfg Config, mgr PreviewManager, rt runtime.ContainerRuntime, metrics *observability.MetricsCollector, logger *slog.Logger) *Janitor {
	cfg.applyDefaults()
	return &Janitor{
		cfg:     cfg,
		mgr:     mgr,
		rt:      rt,
		metrics: metrics,
		logger:  logger,
	}
}

// Start runs the startup sweep once, then schedules the recurring idle
// sweep. Returns a stop function (matches the scheduler Start pattern).
func (j *Janitor) Start(ctx context.Context) (func(), error) {
	if err := j.StartupSweep(ctx); err != nil {
		// Orphans are an inconvenience, not a reason to refuse to serve.
		j.logger.Warn("startup sweep failed", slog.String("error", err.Error()))
	}

	j.cron = cron.New()
	_, err := j.cron.AddFunc(fmt.Sprintf("@every %s", j.cfg.SweepInterval), func() {
		sweepCtx, cancel := context.WithTimeout(ctx, j.cfg.SweepTimeout)
		defer cancel()
		j.Sweep(sweepCtx)
	})
	if err != nil {
		return nil, fmt.Errorf("scheduling idle sweep: %w", err)
	}
	j.cron.Start()

	j.logger.Info("cleanup janitor started",
		slog.String("sweep_interval", j.cfg.SweepInterval.String()),
		slog.String("idle_after", j.cfg.IdleAfter.String()),
	)

	return func() {
		stopCtx := j.cron.Stop()
		<-stopCtx.Done()
	}, nil
}

// StartupSweep force-removes owned containers that have no registry entry.
// After a crash or restart the registry is empty, so every container
// carrying the owner label (or the name prefix) is an orphan from a
// previous process.
func (j *Janitor) StartupSweep(ctx context.Context) error {
	infos, err := j.rt.ListRunning(ctx, preview.OwnerLabel+"=true")
	if err != nil {
		return fmt.Errorf("listing owned containers: %w", err)
	}

	managed := make(map[string]bool)
	for _, sb := range j.mgr.ListPreviews() {
		managed[sb.ContainerID] = true
		managed[sb.ContainerName] = true
	}

	removed := 0
	for _, info := range infos {
		if managed[info.ID] || managed[info.Name] {
			continue
		}
		if !strings.HasPrefix(info.Name, preview.NamePrefix) {
			// Label without our name prefix: someone else's container.
			continue
		}
		if err := j.rt.StopContainer(ctx, info.ID); err != nil && !errors.Is(err, runtime.ErrContainerNotFound) {
			j.logger.Warn("stopping orphan failed",
				slog.String("container", info.Name),
				slog.String("error", err.Error()),
			)
		}
		if err := j.rt.RemoveContainer(ctx, info.ID); err != nil && !errors.Is(err, runtime.ErrContainerNotFound) {
			j.logger.Warn("removing orphan failed",
				slog.String("container", info.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		removed++
		j.logger.Info("removed orphaned container",
			slog.String("container", info.Name),
			slog.String("image", info.Image),
		)
	}

	j.logger.Info("startup sweep complete",
		slog.Int("owned", len(infos)),
		slog.Int("removed", removed),
	)
	return nil
}

// Sweep retires every auto-cleanup sandbox idle past the threshold.
// Per-sandbox failures are logged and never abort the rest of the sweep.
func (j *Janitor) Sweep(ctx context.Context) {
	now := time.Now().UTC()
	swept := 0
	for _, sb := range j.mgr.ListPreviews() {
		if !sb.AutoCleanup {
			continue
		}
		if now.Sub(sb.LastAccessedAt) < j.cfg.IdleAfter {
			continue
		}
		if err := j.mgr.StopIdle(ctx, sb.ProjectID); err != nil {
			if errors.Is(err, preview.ErrNotFound) {
				// Stopped concurrently; nothing left to reclaim.
				continue
			}
			j.logger.Warn("idle sweep: stopping sandbox failed",
				slog.String("project_id", sb.ProjectID),
				slog.String("error", err.Error()),
			)
			continue
		}
		swept++
		j.logger.Info("retired idle sandbox",
			slog.String("project_id", sb.ProjectID),
			slog.String("idle", now.Sub(sb.LastAccessedAt).String()),
		)
	}

	j.metrics.SweepsTotal.Inc()
	if swept > 0 {
		j.metrics.SweptSandboxes.Add(float64(swept))
	}
}
