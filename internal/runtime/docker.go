package runtime

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

// SDKRuntime drives the engine over the Docker Engine API. Preferred when
// the daemon is remote or the docker binary is not installed next to the
// service.
type SDKRuntime struct {
	config Config
	client *client.Client
	logger *slog.Logger
}

// NewSDKRuntime creates the API-backed driver, honoring DOCKER_HOST and
// friends from the environment.
func NewSDKRuntime(cfg Config, logger *slog.Logger) (*SDKRuntime, error) {
	cfg.applyDefaults()
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &SDKRuntime{config: cfg, client: cli, logger: logger}, nil
}

// NewSDKRuntimeWithClient creates the driver around an existing client.
func NewSDKRuntimeWithClient(cfg Config, cli *client.Client, logger *slog.Logger) *SDKRuntime {
	cfg.applyDefaults()
	return &SDKRuntime{config: cfg, client: cli, logger: logger}
}

// Close releases the underlying API client.
func (r *SDKRuntime) Close() error {
	return r.client.Close()
}

func (r *SDKRuntime) BuildImage(ctx context.Context, spec BuildSpec) error {
	ctx, cancel := context.WithTimeout(ctx, r.config.BuildTimeout)
	defer cancel()

	buildCtx, err := tarDirectory(spec.ContextDir)
	if err != nil {
		return &BuildError{Tag: spec.Tag, Err: fmt.Errorf("packing build context: %w", err)}
	}

	r.logger.Info("building preview image",
		slog.String("tag", spec.Tag),
		slog.String("context", spec.ContextDir),
	)

	start := time.Now()
	resp, err := r.client.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:       []string{spec.Tag},
		Dockerfile: "Dockerfile",
		Remove:     true,
	})
	if err != nil {
		return &BuildError{Tag: spec.Tag, Err: err}
	}
	defer resp.Body.Close()

	// The build stream reports failures inline; surface them as the error.
	var out bytes.Buffer
	sink := &limitedWriter{w: &out, remaining: maxOutputBytes}
	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, sink, 0, false, nil); err != nil {
		return &BuildError{Tag: spec.Tag, Output: out.String(), Err: err}
	}

	r.logger.Info("preview image built",
		slog.String("tag", spec.Tag),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (r *SDKRuntime) RunContainer(ctx context.Context, spec RunSpec) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.OpTimeout)
	defer cancel()

	// Clear any leftover same-named container before creating.
	_ = r.client.ContainerRemove(ctx, spec.Name, container.RemoveOptions{Force: true})

	memMB, cpus, pids := r.config.limits(spec)
	internal := nat.Port(fmt.Sprintf("%d/tcp", spec.InternalPort))
	pidsLimit := int64(pids)

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	containerCfg := &container.Config{
		Image:        spec.Image,
		Env:          env,
		Labels:       spec.Labels,
		ExposedPorts: nat.PortSet{internal: struct{}{}},
	}
	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{
			internal: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(spec.HostPort)}},
		},
		CapDrop:     []string{"ALL"},
		SecurityOpt: []string{"no-new-privileges:true"},
		Resources: container.Resources{
			Memory:     int64(memMB) * 1024 * 1024,
			MemorySwap: int64(memMB) * 1024 * 1024,
			CPUQuota:   int64(cpus * 100000),
			CPUPeriod:  100000,
			PidsLimit:  &pidsLimit,
		},
		Tmpfs: map[string]string{"/tmp": "rw,noexec,nosuid,size=64m"},
	}

	resp, err := r.client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", &RuntimeError{Name: spec.Name, Output: err.Error(), Err: err}
	}
	if err := r.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = r.client.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return "", &RuntimeError{Name: spec.Name, Output: err.Error(), Err: err}
	}

	r.logger.Info("preview container started",
		slog.String("container", spec.Name),
		slog.String("id", shortID(resp.ID)),
		slog.Int("host_port", spec.HostPort),
		slog.Int("internal_port", spec.InternalPort),
	)
	return resp.ID, nil
}

func (r *SDKRuntime) StopContainer(ctx context.Context, nameOrID string) error {
	ctx, cancel := context.WithTimeout(ctx, r.config.OpTimeout)
	defer cancel()

	grace := int(defaultStopGrace.Seconds())
	if err := r.client.ContainerStop(ctx, nameOrID, container.StopOptions{Timeout: &grace}); err != nil {
		if errdefs.IsNotFound(err) {
			return ErrContainerNotFound
		}
		return fmt.Errorf("stopping container %s: %w", nameOrID, err)
	}
	return nil
}

func (r *SDKRuntime) RemoveContainer(ctx context.Context, nameOrID string) error {
	ctx, cancel := context.WithTimeout(ctx, r.config.OpTimeout)
	defer cancel()

	if err := r.client.ContainerRemove(ctx, nameOrID, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) {
			return ErrContainerNotFound
		}
		return fmt.Errorf("removing container %s: %w", nameOrID, err)
	}
	return nil
}

func (r *SDKRuntime) ContainerLogs(ctx context.Context, nameOrID string, tail int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.OpTimeout)
	defer cancel()

	if tail <= 0 {
		tail = 300
	}
	rc, err := r.client.ContainerLogs(ctx, nameOrID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(tail),
	})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return "", ErrContainerNotFound
		}
		return "", fmt.Errorf("reading logs of %s: %w", nameOrID, err)
	}
	defer rc.Close()

	// Demultiplex the attached stream; both channels land in one buffer.
	var out bytes.Buffer
	sink := &limitedWriter{w: &out, remaining: maxOutputBytes}
	if _, err := stdcopy.StdCopy(sink, sink, rc); err != nil {
		return "", fmt.Errorf("demuxing logs of %s: %w", nameOrID, err)
	}
	return out.String(), nil
}

func (r *SDKRuntime) ListRunning(ctx context.Context, label string) ([]ContainerInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.OpTimeout)
	defer cancel()

	opts := container.ListOptions{}
	if label != "" {
		opts.Filters = filters.NewArgs(filters.Arg("label", label))
	}
	list, err := r.client.ContainerList(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("listing containers: %w", err)
	}

	infos := make([]ContainerInfo, 0, len(list))
	for _, c := range list {
		info := ContainerInfo{
			ID:     c.ID,
			Image:  c.Image,
			Labels: c.Labels,
		}
		if len(c.Names) > 0 {
			info.Name = trimSlash(c.Names[0])
		}
		for _, p := range c.Ports {
			if p.PublicPort > 0 {
				info.HostPorts = append(info.HostPorts, int(p.PublicPort))
			}
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (r *SDKRuntime) Exec(ctx context.Context, nameOrID string, cmd []string) (*ExecResult, error) {
	if len(cmd) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	ctx, cancel := context.WithTimeout(ctx, r.config.OpTimeout)
	defer cancel()

	execResp, err := r.client.ContainerExecCreate(ctx, nameOrID, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, ErrContainerNotFound
		}
		return nil, fmt.Errorf("creating exec in %s: %w", nameOrID, err)
	}

	attach, err := r.client.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("attaching exec in %s: %w", nameOrID, err)
	}
	defer attach.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	start := time.Now()
	done := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(
			&limitedWriter{w: &stdoutBuf, remaining: maxOutputBytes},
			&limitedWriter{w: &stderrBuf, remaining: maxOutputBytes},
			attach.Reader,
		)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("reading exec output: %w", err)
		}
	case <-ctx.Done():
		return nil, fmt.Errorf("exec timed out after %s", r.config.OpTimeout)
	}

	inspect, err := r.client.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return nil, fmt.Errorf("inspecting exec: %w", err)
	}

	return &ExecResult{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		ExitCode: inspect.ExitCode,
		Duration: time.Since(start),
	}, nil
}

func (r *SDKRuntime) PublishedPorts(ctx context.Context) (map[int]bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.OpTimeout)
	defer cancel()

	list, err := r.client.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("listing published ports: %w", err)
	}

	ports := make(map[int]bool)
	for _, c := range list {
		for _, p := range c.Ports {
			if p.PublicPort > 0 {
				ports[int(p.PublicPort)] = true
			}
		}
	}
	return ports, nil
}

// Ping checks daemon reachability, used by the readiness probe.
func (r *SDKRuntime) Ping(ctx context.Context) error {
	_, err := r.client.Ping(ctx)
	return err
}

func trimSlash(name string) string {
	if len(name) > 0 && name[0] == '/' {
		return name[1:]
	}
	return name
}

// tarDirectory packs dir into an in-memory tar stream for ImageBuild.
// Staging directories are small (source files, no node_modules), so
// buffering the archive is fine.
func tarDirectory(dir string) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}
