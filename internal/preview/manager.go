// Package preview orchestrates the lifecycle of preview sandboxes: port
// allocation, staging, image build, container start, health monitoring,
// and teardown. The Registry is the single source of truth; the Manager
// is the only component that creates or removes entries.
package preview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/onyesha/internal/domain"
	"github.com/jkaninda/onyesha/internal/errdetect"
	"github.com/jkaninda/onyesha/internal/observability"
	"github.com/jkaninda/onyesha/internal/ports"
	"github.com/jkaninda/onyesha/internal/runtime"
	"github.com/jkaninda/onyesha/internal/storage"
	"github.com/jkaninda/onyesha/internal/workspace"
)

const (
	// NamePrefix marks every container this service owns.
	NamePrefix = "onyesha-preview-"
	// OwnerLabel marks preview containers for the orphan sweep.
	OwnerLabel = "onyesha.preview"
	// ProjectLabel carries the owning project ID.
	ProjectLabel = "onyesha.project"
)

// ErrTooManyPreviews is returned when the active-sandbox ceiling is hit.
var ErrTooManyPreviews = errors.New("active preview limit reached")

// Config tunes the Manager.
type Config struct {
	MaxActive int // Ceiling on concurrently active sandboxes. Default 20.
	Monitor   MonitorConfig
}

func (c *Config) applyDefaults() {
	if c.MaxActive <= 0 {
		c.MaxActive = 20
	}
	c.Monitor.applyDefaults()
}

// CreateOptions are per-creation knobs.
type CreateOptions struct {
	Kind           domain.RuntimeKind // Empty = auto-detect from the snapshot.
	DisableCleanup bool               // Exempt from the idle sweep.
	TimeoutMinutes int                // Overrides the monitor attempt ceiling.
}

// Manager implements the preview lifecycle operations.
type Manager struct {
	cfg       Config
	registry  *Registry
	allocator *ports.Allocator
	rt        runtime.ContainerRuntime
	ws        *workspace.Workspace
	store     storage.SnapshotStore
	detector  *errdetect.Detector
	metrics   *observability.MetricsCollector
	probe     ProbeFunc
	logger    *slog.Logger

	mu       sync.Mutex
	monitors map[string]*monitorHandle
}

// monitorHandle pairs a monitor goroutine with its cancel func so a
// finished monitor can deregister itself without racing a successor.
type monitorHandle struct {
	cancel context.CancelFunc
}

// Deps carries the Manager's collaborators.
type Deps struct {
	Registry  *Registry
	Allocator *ports.Allocator
	Runtime   runtime.ContainerRuntime
	Workspace *workspace.Workspace
	Store     storage.SnapshotStore
	Detector  *errdetect.Detector
	Metrics   *observability.MetricsCollector
	Probe     ProbeFunc // nil = HTTP HEAD probe.
	Logger    *slog.Logger
}

// NewManager creates a Manager.
func NewManager(cfg Config, deps Deps) *Manager {
	cfg.applyDefaults()
	probe := deps.Probe
	if probe == nil {
		probe = defaultProbe
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = observability.NewMetricsCollector()
	}
	return &Manager{
		cfg:       cfg,
		registry:  deps.Registry,
		allocator: deps.Allocator,
		rt:        deps.Runtime,
		ws:        deps.Workspace,
		store:     deps.Store,
		detector:  deps.Detector,
		metrics:   metrics,
		probe:     probe,
		logger:    deps.Logger,
		monitors:  make(map[string]*monitorHandle),
	}
}

// Registry exposes the registry for the cleanup scheduler.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// CreatePreview stands up a sandbox for a project. If the project already
// has an active sandbox it is touched and returned unchanged. The call
// returns once the container exists (or failed to); readiness is advanced
// asynchronously by the health monitor.
func (m *Manager) CreatePreview(ctx context.Context, projectID, userID string, opts CreateOptions) (domain.Sandbox, error) {
	// Fast-path dedupe; the Insert below closes the race.
	if sb, err := m.registry.Get(projectID); err == nil {
		_ = m.registry.Touch(projectID)
		return sb, nil
	}

	files, err := m.store.GetProjectFiles(ctx, projectID)
	if err != nil {
		return domain.Sandbox{}, fmt.Errorf("loading snapshot of project %s: %w", projectID, err)
	}
	if len(files) == 0 {
		return domain.Sandbox{}, fmt.Errorf("project %s has no files: %w", projectID, storage.ErrProjectNotFound)
	}

	kind := opts.Kind
	if !kind.Valid() {
		kind = DetectKind(files)
	}

	if m.registry.Len() >= m.cfg.MaxActive {
		return domain.Sandbox{}, ErrTooManyPreviews
	}

	port, err := m.allocator.Allocate(ctx)
	if err != nil {
		return domain.Sandbox{}, err
	}

	now := time.Now().UTC()
	name := NamePrefix + projectID
	sb := &domain.Sandbox{
		ID:             uuid.New(),
		ProjectID:      projectID,
		UserID:         userID,
		Kind:           kind,
		Port:           port,
		URL:            domain.PreviewURL(port),
		Status:         domain.StatusStarting,
		ContainerName:  name,
		ImageRef:       name + ":latest",
		AutoCleanup:    !opts.DisableCleanup,
		CreatedAt:      now,
		LastAccessedAt: now,
	}

	registered, inserted := m.registry.Insert(sb)
	if !inserted {
		// A concurrent create won the race; hand back its sandbox.
		m.allocator.Release(port)
		return registered, nil
	}

	dir, err := m.ws.MaterializeProject(projectID, files)
	if err != nil {
		m.rollback(ctx, projectID, "", port)
		return domain.Sandbox{}, fmt.Errorf("staging project %s: %w", projectID, err)
	}
	if err := m.ws.WriteDescriptor(projectID, RenderDescriptor(kind, kind.InternalPort())); err != nil {
		m.rollback(ctx, projectID, "", port)
		return domain.Sandbox{}, err
	}
	_ = m.registry.Mutate(projectID, func(s *domain.Sandbox) { s.StagingDir = dir })

	buildStart := time.Now()
	if err := m.rt.BuildImage(ctx, runtime.BuildSpec{ContextDir: dir, Tag: sb.ImageRef}); err != nil {
		m.metrics.BuildsTotal.WithLabelValues(string(kind), "failure").Inc()
		m.rollback(ctx, projectID, "", port)
		return domain.Sandbox{}, err
	}
	m.metrics.BuildsTotal.WithLabelValues(string(kind), "success").Inc()
	m.metrics.BuildDuration.Observe(time.Since(buildStart).Seconds())

	cid, err := m.rt.RunContainer(ctx, runtime.RunSpec{
		Name:         name,
		Image:        sb.ImageRef,
		HostPort:     port,
		InternalPort: kind.InternalPort(),
		Labels: map[string]string{
			OwnerLabel:   "true",
			ProjectLabel: projectID,
		},
	})
	if err != nil {
		// A failed `run` can leave the named container created but not
		// started; rollback removes it along with the port and staging.
		m.rollback(ctx, projectID, name, port)
		return domain.Sandbox{}, fmt.Errorf("starting preview for project %s: %w", projectID, err)
	}
	_ = m.registry.Mutate(projectID, func(s *domain.Sandbox) { s.ContainerID = cid })

	m.metrics.SandboxesCreated.WithLabelValues(string(kind)).Inc()
	m.metrics.ActiveSandboxes.Set(float64(m.registry.Len()))
	m.metrics.PortsInUse.Set(float64(m.allocator.InUse()))

	m.startMonitor(projectID, opts.TimeoutMinutes)

	m.logger.Info("preview created",
		slog.String("project_id", projectID),
		slog.String("kind", string(kind)),
		slog.Int("port", port),
		slog.String("container", name),
	)
	return m.registry.Get(projectID)
}

// UpdatePreview re-syncs the current file snapshot into the sandbox's
// staging directory and touches lastAccessedAt. No rebuild is implied —
// content sync only. A sandbox in error state is reset to starting with a
// fresh monitor; this is the only recovery path out of error.
func (m *Manager) UpdatePreview(ctx context.Context, projectID string) (domain.Sandbox, error) {
	sb, err := m.registry.Get(projectID)
	if err != nil {
		return domain.Sandbox{}, err
	}

	files, err := m.store.GetProjectFiles(ctx, projectID)
	if err != nil {
		return domain.Sandbox{}, fmt.Errorf("loading snapshot of project %s: %w", projectID, err)
	}
	if _, err := m.ws.MaterializeProject(projectID, files); err != nil {
		return domain.Sandbox{}, fmt.Errorf("re-staging project %s: %w", projectID, err)
	}
	// Materialization replaces the directory wholesale, descriptor included.
	if err := m.ws.WriteDescriptor(projectID, RenderDescriptor(sb.Kind, sb.Kind.InternalPort())); err != nil {
		return domain.Sandbox{}, err
	}

	recovering := sb.Status == domain.StatusError
	_ = m.registry.Mutate(projectID, func(s *domain.Sandbox) {
		s.LastAccessedAt = time.Now().UTC()
		if recovering {
			s.Status = domain.StatusStarting
			s.Errors = nil
		}
	})
	if recovering {
		m.metrics.StatusTransitions.WithLabelValues("error", "starting").Inc()
		m.startMonitor(projectID, 0)
	}

	return m.registry.Get(projectID)
}

// StopPreview tears a sandbox down: cancels its monitor, stops and removes
// the container, deletes the staging directory, releases the port, and
// drops the registry entry. Teardown errors are logged and swallowed so
// resource reclamation always completes. A second call returns ErrNotFound.
func (m *Manager) StopPreview(ctx context.Context, projectID string) error {
	return m.stop(ctx, projectID, "requested")
}

func (m *Manager) stop(ctx context.Context, projectID, reason string) error {
	m.cancelMonitor(projectID)

	sb, err := m.registry.Remove(projectID)
	if err != nil {
		return err
	}

	if err := m.rt.StopContainer(ctx, sb.ContainerName); err != nil && !errors.Is(err, runtime.ErrContainerNotFound) {
		m.logger.Warn("stopping preview container failed",
			slog.String("project_id", projectID),
			slog.String("error", err.Error()),
		)
	}
	if err := m.rt.RemoveContainer(ctx, sb.ContainerName); err != nil && !errors.Is(err, runtime.ErrContainerNotFound) {
		m.logger.Warn("removing preview container failed",
			slog.String("project_id", projectID),
			slog.String("error", err.Error()),
		)
	}
	if err := m.ws.RemoveProjectStaging(projectID); err != nil {
		m.logger.Warn("removing staging dir failed",
			slog.String("project_id", projectID),
			slog.String("error", err.Error()),
		)
	}

	// The registry entry was removed exactly once, so this releases the
	// port exactly once.
	m.allocator.Release(sb.Port)

	m.metrics.SandboxesStopped.WithLabelValues(reason).Inc()
	m.metrics.ActiveSandboxes.Set(float64(m.registry.Len()))
	m.metrics.PortsInUse.Set(float64(m.allocator.InUse()))

	m.logger.Info("preview stopped",
		slog.String("project_id", projectID),
		slog.String("reason", reason),
		slog.Int("port", sb.Port),
	)
	return nil
}

// StopIdle retires a sandbox on behalf of the cleanup sweep.
func (m *Manager) StopIdle(ctx context.Context, projectID string) error {
	return m.stop(ctx, projectID, "idle")
}

// GetPreview returns a project's sandbox and refreshes lastAccessedAt.
func (m *Manager) GetPreview(projectID string) (domain.Sandbox, error) {
	if err := m.registry.Touch(projectID); err != nil {
		return domain.Sandbox{}, err
	}
	return m.registry.Get(projectID)
}

// ListPreviews returns all active sandboxes.
func (m *Manager) ListPreviews() []domain.Sandbox {
	return m.registry.List()
}

// ContainerLogs returns the recent log tail of a managed container.
func (m *Manager) ContainerLogs(ctx context.Context, handle string) (string, error) {
	if _, err := m.registry.GetByHandle(handle); err != nil {
		return "", err
	}
	logs, err := m.rt.ContainerLogs(ctx, handle, maxStoredLogLines)
	if err != nil {
		if errors.Is(err, runtime.ErrContainerNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	return logs, nil
}

// ExecInContainer runs a command inside a managed container.
func (m *Manager) ExecInContainer(ctx context.Context, handle string, cmd []string) (*runtime.ExecResult, error) {
	if _, err := m.registry.GetByHandle(handle); err != nil {
		return nil, err
	}
	res, err := m.rt.Exec(ctx, handle, cmd)
	if err != nil {
		if errors.Is(err, runtime.ErrContainerNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return res, nil
}

// DetectErrors pulls fresh logs for a managed container, replaces the
// owning sandbox's error set, and returns the analysis.
func (m *Manager) DetectErrors(ctx context.Context, handle string) (domain.ErrorAnalysis, error) {
	sb, err := m.registry.GetByHandle(handle)
	if err != nil {
		return domain.ErrorAnalysis{}, err
	}
	logs, err := m.rt.ContainerLogs(ctx, sb.ContainerName, maxStoredLogLines)
	if err != nil && !errors.Is(err, runtime.ErrContainerNotFound) {
		return domain.ErrorAnalysis{}, err
	}

	errs := m.detector.Scan(logs, sb.ContainerID)
	for _, e := range errs {
		m.metrics.ErrorsDetected.WithLabelValues(string(e.Type), string(e.Severity)).Inc()
	}
	_ = m.registry.Mutate(sb.ProjectID, func(s *domain.Sandbox) {
		s.Logs = tailLines(logs, maxStoredLogLines)
		s.Errors = errs
		s.LastErrorScanAt = time.Now().UTC()
	})
	return errdetect.Analyze(errs), nil
}

// ErrorAnalysis summarizes the error set already stored on a sandbox,
// without pulling fresh logs. Use DetectErrors to rescan first.
func (m *Manager) ErrorAnalysis(handle string) (domain.ErrorAnalysis, error) {
	sb, err := m.registry.GetByHandle(handle)
	if err != nil {
		return domain.ErrorAnalysis{}, err
	}
	return errdetect.Analyze(sb.Errors), nil
}

// Close cancels all running health monitors.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for projectID, h := range m.monitors {
		h.cancel()
		delete(m.monitors, projectID)
	}
}

// rollback unwinds a partially created sandbox: registry entry, port,
// container (a failed `run` can leave a named container behind), and
// staging dir. Best effort. The create call already failed; what matters
// is that nothing stays allocated.
func (m *Manager) rollback(ctx context.Context, projectID, containerName string, port int) {
	if _, err := m.registry.Remove(projectID); err == nil {
		m.allocator.Release(port)
	}
	if containerName != "" {
		if err := m.rt.RemoveContainer(ctx, containerName); err != nil && !errors.Is(err, runtime.ErrContainerNotFound) {
			m.logger.Warn("rollback: removing container failed",
				slog.String("container", containerName),
				slog.String("error", err.Error()),
			)
		}
	}
	if err := m.ws.RemoveProjectStaging(projectID); err != nil {
		m.logger.Warn("rollback: removing staging dir failed",
			slog.String("project_id", projectID),
			slog.String("error", err.Error()),
		)
	}
}

func (m *Manager) startMonitor(projectID string, timeoutMinutes int) {
	cfg := m.cfg.Monitor
	if timeoutMinutes > 0 {
		cfg.MaxAttempts = int(time.Duration(timeoutMinutes) * time.Minute / cfg.Interval)
	}

	ctx, cancel := context.WithCancel(context.Background())
	handle := &monitorHandle{cancel: cancel}
	m.mu.Lock()
	if old, ok := m.monitors[projectID]; ok {
		old.cancel()
	}
	m.monitors[projectID] = handle
	m.mu.Unlock()

	mon := &monitor{
		projectID: projectID,
		cfg:       cfg,
		registry:  m.registry,
		rt:        m.rt,
		detector:  m.detector,
		probe:     m.probe,
		metrics:   m.metrics,
		logger:    m.logger,
	}
	go func() {
		mon.run(ctx)
		cancel()
		m.mu.Lock()
		if current, ok := m.monitors[projectID]; ok && current == handle {
			delete(m.monitors, projectID)
		}
		m.mu.Unlock()
	}()
}

func (m *Manager) cancelMonitor(projectID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.monitors[projectID]; ok {
		h.cancel()
		delete(m.monitors, projectID)
	}
}
