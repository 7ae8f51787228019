package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"
)

// CLIRuntime drives the engine through the docker binary. It needs nothing
// beyond a working `docker` on PATH, which makes it the default driver.
type CLIRuntime struct {
	config Config
	logger *slog.Logger
}

// NewCLIRuntime creates the CLI-backed driver.
func NewCLIRuntime(cfg Config, logger *slog.Logger) *CLIRuntime {
	cfg.applyDefaults()
	return &CLIRuntime{config: cfg, logger: logger}
}

func (r *CLIRuntime) BuildImage(ctx context.Context, spec BuildSpec) error {
	ctx, cancel := context.WithTimeout(ctx, r.config.BuildTimeout)
	defer cancel()

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, "docker", "build", "-t", spec.Tag, spec.ContextDir)
	cmd.Stdout = &limitedWriter{w: &out, remaining: maxOutputBytes}
	cmd.Stderr = &limitedWriter{w: &out, remaining: maxOutputBytes}

	r.logger.Info("building preview image",
		slog.String("tag", spec.Tag),
		slog.String("context", spec.ContextDir),
	)

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("build timed out after %s", r.config.BuildTimeout)
		}
		return &BuildError{Tag: spec.Tag, Output: out.String(), Err: err}
	}

	r.logger.Info("preview image built",
		slog.String("tag", spec.Tag),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (r *CLIRuntime) RunContainer(ctx context.Context, spec RunSpec) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.OpTimeout)
	defer cancel()

	// A crashed predecessor may still hold the name.
	r.forceRemove(spec.Name)

	memMB, cpus, pids := r.config.limits(spec)
	args := []string{
		"run", "-d",
		"--name", spec.Name,
		"-p", fmt.Sprintf("%d:%d", spec.HostPort, spec.InternalPort),

		"--cap-drop=ALL",
		"--security-opt=no-new-privileges",
		"--memory=" + strconv.Itoa(memMB) + "m",
		"--memory-swap=" + strconv.Itoa(memMB) + "m",
		"--cpus=" + strconv.FormatFloat(cpus, 'f', 2, 64),
		"--pids-limit=" + strconv.Itoa(pids),
		"--tmpfs", "/tmp:rw,noexec,nosuid,size=64m",
	}
	for k, v := range spec.Labels {
		args = append(args, "--label", k+"="+v)
	}
	for k, v := range spec.Env {
		args = append(args, "--env", k+"="+v)
	}
	args = append(args, spec.Image)

	out, err := r.run(ctx, args...)
	if err != nil {
		return "", &RuntimeError{Name: spec.Name, Output: out, Err: err}
	}
	id := strings.TrimSpace(out)

	r.logger.Info("preview container started",
		slog.String("container", spec.Name),
		slog.String("id", shortID(id)),
		slog.Int("host_port", spec.HostPort),
		slog.Int("internal_port", spec.InternalPort),
	)
	return id, nil
}

func (r *CLIRuntime) StopContainer(ctx context.Context, nameOrID string) error {
	ctx, cancel := context.WithTimeout(ctx, r.config.OpTimeout)
	defer cancel()

	grace := int(defaultStopGrace.Seconds())
	out, err := r.run(ctx, "stop", "-t", strconv.Itoa(grace), nameOrID)
	if err != nil {
		if isNoSuchContainer(out) {
			return ErrContainerNotFound
		}
		return fmt.Errorf("stopping container %s: %w: %s", nameOrID, err, out)
	}
	return nil
}

func (r *CLIRuntime) RemoveContainer(ctx context.Context, nameOrID string) error {
	ctx, cancel := context.WithTimeout(ctx, r.config.OpTimeout)
	defer cancel()

	out, err := r.run(ctx, "rm", "-f", nameOrID)
	if err != nil {
		if isNoSuchContainer(out) {
			return ErrContainerNotFound
		}
		return fmt.Errorf("removing container %s: %w: %s", nameOrID, err, out)
	}
	return nil
}

func (r *CLIRuntime) ContainerLogs(ctx context.Context, nameOrID string, tail int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.OpTimeout)
	defer cancel()

	if tail <= 0 {
		tail = 300
	}
	out, err := r.run(ctx, "logs", "--tail", strconv.Itoa(tail), nameOrID)
	if err != nil {
		if isNoSuchContainer(out) {
			return "", ErrContainerNotFound
		}
		return "", fmt.Errorf("reading logs of %s: %w", nameOrID, err)
	}
	return out, nil
}

func (r *CLIRuntime) ListRunning(ctx context.Context, label string) ([]ContainerInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.OpTimeout)
	defer cancel()

	args := []string{"ps", "--no-trunc", "--format", "{{.ID}}\t{{.Names}}\t{{.Image}}\t{{.Ports}}\t{{.Labels}}"}
	if label != "" {
		args = append(args, "--filter", "label="+label)
	}
	out, err := r.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("listing containers: %w", err)
	}

	var infos []ContainerInfo
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 4 {
			continue
		}
		info := ContainerInfo{
			ID:        fields[0],
			Name:      fields[1],
			Image:     fields[2],
			HostPorts: parsePortsColumn(fields[3]),
			Labels:    map[string]string{},
		}
		if len(fields) >= 5 {
			for _, kv := range strings.Split(fields[4], ",") {
				if k, v, ok := strings.Cut(kv, "="); ok {
					info.Labels[strings.TrimSpace(k)] = v
				}
			}
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (r *CLIRuntime) Exec(ctx context.Context, nameOrID string, cmd []string) (*ExecResult, error) {
	if len(cmd) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	ctx, cancel := context.WithTimeout(ctx, r.config.OpTimeout)
	defer cancel()

	args := append([]string{"exec", nameOrID}, cmd...)
	c := exec.CommandContext(ctx, "docker", args...)

	var stdoutBuf, stderrBuf bytes.Buffer
	c.Stdout = &limitedWriter{w: &stdoutBuf, remaining: maxOutputBytes}
	c.Stderr = &limitedWriter{w: &stderrBuf, remaining: maxOutputBytes}

	start := time.Now()
	runErr := c.Run()
	duration := time.Since(start)

	exitCode := 0
	if runErr != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("exec timed out after %s", r.config.OpTimeout)
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("exec in %s: %w", nameOrID, runErr)
		}
		if isNoSuchContainer(stderrBuf.String()) {
			return nil, ErrContainerNotFound
		}
	}

	return &ExecResult{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		ExitCode: exitCode,
		Duration: duration,
	}, nil
}

func (r *CLIRuntime) PublishedPorts(ctx context.Context) (map[int]bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.OpTimeout)
	defer cancel()

	out, err := r.run(ctx, "ps", "-a", "--format", "{{.Ports}}")
	if err != nil {
		return nil, fmt.Errorf("listing published ports: %w", err)
	}

	ports := make(map[int]bool)
	for _, line := range strings.Split(out, "\n") {
		for _, p := range parsePortsColumn(line) {
			ports[p] = true
		}
	}
	return ports, nil
}

// run executes a docker subcommand and returns its combined output.
func (r *CLIRuntime) run(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "docker", args...).CombinedOutput()
	return string(out), err
}

// forceRemove is the pre-run safety net against leftover same-named
// containers. Best effort; "No such container" is the expected case.
func (r *CLIRuntime) forceRemove(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultStopGrace)
	defer cancel()

	out, err := exec.CommandContext(ctx, "docker", "rm", "-f", name).CombinedOutput()
	if err != nil && !isNoSuchContainer(string(out)) {
		r.logger.Warn("docker rm -f failed",
			slog.String("container", name),
			slog.String("output", strings.TrimSpace(string(out))),
		)
	}
}

func isNoSuchContainer(out string) bool {
	return strings.Contains(out, "No such container")
}

// parsePortsColumn extracts distinct host ports from a docker ps Ports
// column, e.g. "0.0.0.0:4005->3000/tcp, :::4005->3000/tcp".
func parsePortsColumn(col string) []int {
	seen := make(map[int]bool)
	for _, part := range strings.Split(col, ",") {
		part = strings.TrimSpace(part)
		arrow := strings.Index(part, "->")
		if arrow < 0 {
			continue
		}
		hostSide := part[:arrow]
		colon := strings.LastIndex(hostSide, ":")
		if colon < 0 {
			continue
		}
		port, err := strconv.Atoi(hostSide[colon+1:])
		if err != nil || port <= 0 {
			continue
		}
		seen[port] = true
	}
	if len(seen) == 0 {
		return nil
	}
	ports := make([]int, 0, len(seen))
	for p := range seen {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
