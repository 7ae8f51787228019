package runtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"testing"
	"time"
)

// skipIfNoDocker skips the test if Docker is unavailable.
func skipIfNoDocker(t *testing.T) {
	t.Helper()
	if err := exec.Command("docker", "info").Run(); err != nil {
		t.Skip("docker not available, skipping integration test")
	}
}

func newTestCLIRuntime(t *testing.T) *CLIRuntime {
	t.Helper()
	skipIfNoDocker(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewCLIRuntime(Config{
		BuildTimeout: 2 * time.Minute,
		OpTimeout:    30 * time.Second,
		MemoryMB:     64,
		CPUCores:     0.5,
		PIDsLimit:    32,
	}, logger)
}

func TestCLIRuntime_StopUnknownContainer(t *testing.T) {
	r := newTestCLIRuntime(t)
	err := r.StopContainer(context.Background(), "onyesha-test-does-not-exist")
	if !errors.Is(err, ErrContainerNotFound) {
		t.Errorf("err = %v, want ErrContainerNotFound", err)
	}
}

func TestCLIRuntime_RemoveUnknownContainer(t *testing.T) {
	r := newTestCLIRuntime(t)
	// docker rm -f of a missing container exits non-zero with
	// "No such container" on stderr.
	err := r.RemoveContainer(context.Background(), "onyesha-test-does-not-exist")
	if err != nil && !errors.Is(err, ErrContainerNotFound) {
		t.Errorf("err = %v, want nil or ErrContainerNotFound", err)
	}
}

func TestCLIRuntime_ListRunningFiltersByLabel(t *testing.T) {
	r := newTestCLIRuntime(t)

	infos, err := r.ListRunning(context.Background(), "onyesha.test-label=never-set")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 0 {
		t.Errorf("label filter returned %d containers, want 0", len(infos))
	}
}

func TestCLIRuntime_PublishedPorts(t *testing.T) {
	r := newTestCLIRuntime(t)

	ports, err := r.PublishedPorts(context.Background())
	if err != nil {
		t.Fatalf("published ports: %v", err)
	}
	for p := range ports {
		if p <= 0 || p > 65535 {
			t.Errorf("impossible port %d reported", p)
		}
	}
}

func TestCLIRuntime_BuildFailureCarriesOutput(t *testing.T) {
	r := newTestCLIRuntime(t)

	// An empty directory has no Dockerfile, so the build must fail.
	err := r.BuildImage(context.Background(), BuildSpec{
		ContextDir: t.TempDir(),
		Tag:        "onyesha-test-nodockerfile:latest",
	})
	var be *BuildError
	if !errors.As(err, &be) {
		t.Fatalf("err = %v, want *BuildError", err)
	}
	if be.Tag != "onyesha-test-nodockerfile:latest" {
		t.Errorf("tag = %q", be.Tag)
	}
	if !strings.Contains(strings.ToLower(be.Output), "dockerfile") {
		t.Errorf("build output %q does not mention the missing Dockerfile", be.Output)
	}
}
