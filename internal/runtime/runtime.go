// Package runtime abstracts the container engine behind a narrow interface.
// Two drivers exist: a docker CLI driver (default, zero extra setup) and a
// Docker Engine API driver. Both apply the same hardening and resource
// limits so a preview container behaves identically regardless of driver.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

const (
	defaultBuildTimeout = 5 * time.Minute
	defaultOpTimeout    = 30 * time.Second
	defaultStopGrace    = 5 * time.Second

	defaultMemoryMB  = 512
	defaultCPUCores  = 1.0
	defaultPIDsLimit = 256

	// maxOutputBytes caps captured build output and log reads so a chatty
	// container cannot OOM the host process.
	maxOutputBytes = 1 << 20 // 1 MiB
)

// ErrContainerNotFound is returned by Stop/Remove/Logs/Exec when the
// engine does not know the container. Stop paths treat it as success.
var ErrContainerNotFound = errors.New("container not found")

// BuildError carries the captured build output alongside the cause so the
// caller can feed it to error detection.
type BuildError struct {
	Tag    string
	Output string
	Err    error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("building image %s: %v", e.Tag, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// RuntimeError carries the engine output of a container that failed to
// start, so the caller can surface it instead of a bare exit status.
type RuntimeError struct {
	Name   string
	Output string
	Err    error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("starting container %s: %v", e.Name, e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// BuildSpec describes an image build from a staging directory that
// contains a Dockerfile at its root.
type BuildSpec struct {
	ContextDir string
	Tag        string
}

// RunSpec describes a detached preview container.
type RunSpec struct {
	Name         string
	Image        string
	HostPort     int
	InternalPort int
	MemoryMB     int
	CPUCores     float64
	PIDsLimit    int
	Env          map[string]string
	Labels       map[string]string
}

// ContainerInfo is one running container as reported by ListRunning.
type ContainerInfo struct {
	ID        string
	Name      string
	Image     string
	Labels    map[string]string
	HostPorts []int
}

// ExecResult captures the outcome of a command run inside a container.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// ContainerRuntime is the engine surface the rest of the system depends
// on. Implementations must be safe for concurrent use.
type ContainerRuntime interface {
	// BuildImage builds spec.ContextDir into spec.Tag. A failed build
	// returns *BuildError with the captured tool output.
	BuildImage(ctx context.Context, spec BuildSpec) error

	// RunContainer starts a detached container and returns its engine ID.
	// A leftover container with the same name is removed first, so the
	// call is safe to retry. A failed start returns *RuntimeError with
	// the captured engine output.
	RunContainer(ctx context.Context, spec RunSpec) (string, error)

	// StopContainer gracefully stops a container. ErrContainerNotFound
	// when the engine does not know it.
	StopContainer(ctx context.Context, nameOrID string) error

	// RemoveContainer force-removes a container. ErrContainerNotFound
	// when the engine does not know it.
	RemoveContainer(ctx context.Context, nameOrID string) error

	// ContainerLogs returns up to tail lines of combined stdout/stderr.
	ContainerLogs(ctx context.Context, nameOrID string, tail int) (string, error)

	// ListRunning lists running containers carrying the given label
	// ("key=value"). Empty label lists all running containers.
	ListRunning(ctx context.Context, label string) ([]ContainerInfo, error)

	// Exec runs a command inside a running container.
	Exec(ctx context.Context, nameOrID string, cmd []string) (*ExecResult, error)

	// PublishedPorts reports every host port currently published by any
	// container, running or not.
	PublishedPorts(ctx context.Context) (map[int]bool, error)
}

// Config holds driver-independent tunables.
type Config struct {
	BuildTimeout time.Duration
	OpTimeout    time.Duration
	MemoryMB     int
	CPUCores     float64
	PIDsLimit    int
}

func (c *Config) applyDefaults() {
	if c.BuildTimeout == 0 {
		c.BuildTimeout = defaultBuildTimeout
	}
	if c.OpTimeout == 0 {
		c.OpTimeout = defaultOpTimeout
	}
	if c.MemoryMB == 0 {
		c.MemoryMB = defaultMemoryMB
	}
	if c.CPUCores <= 0 {
		c.CPUCores = defaultCPUCores
	}
	if c.PIDsLimit <= 0 {
		c.PIDsLimit = defaultPIDsLimit
	}
}

// limits resolves per-run overrides against the driver defaults.
func (c Config) limits(spec RunSpec) (memMB int, cpus float64, pids int) {
	memMB, cpus, pids = c.MemoryMB, c.CPUCores, c.PIDsLimit
	if spec.MemoryMB > 0 {
		memMB = spec.MemoryMB
	}
	if spec.CPUCores > 0 {
		cpus = spec.CPUCores
	}
	if spec.PIDsLimit > 0 {
		pids = spec.PIDsLimit
	}
	return memMB, cpus, pids
}

// limitedWriter writes at most remaining bytes to w, silently discarding
// the rest while still reporting full writes.
type limitedWriter struct {
	w         io.Writer
	remaining int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if lw.remaining <= 0 {
		return len(p), nil
	}
	chunk := p
	if len(chunk) > lw.remaining {
		chunk = chunk[:lw.remaining]
	}
	n, err := lw.w.Write(chunk)
	lw.remaining -= n
	if err != nil {
		return n, err
	}
	return len(p), nil
}
