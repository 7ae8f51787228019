package runtime

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestParsePortsColumn(t *testing.T) {
	tests := []struct {
		in   string
		want []int
	}{
		{"0.0.0.0:4005->3000/tcp, :::4005->3000/tcp", []int{4005}},
		{"0.0.0.0:4005->3000/tcp, 0.0.0.0:4006->3001/tcp", []int{4005, 4006}},
		{"3000/tcp", nil},
		{"", nil},
		{"127.0.0.1:4100->80/tcp", []int{4100}},
	}
	for _, tt := range tests {
		if got := parsePortsColumn(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("parsePortsColumn(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLimitedWriter_Caps(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, remaining: 5}

	n, err := lw.Write([]byte("0123456789"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != 10 {
		t.Errorf("reported n = %d, want 10 (excess silently dropped)", n)
	}
	if buf.String() != "01234" {
		t.Errorf("captured %q, want %q", buf.String(), "01234")
	}

	// Subsequent writes are fully discarded.
	if _, err := lw.Write([]byte("more")); err != nil {
		t.Fatalf("write after cap: %v", err)
	}
	if buf.Len() != 5 {
		t.Errorf("buffer grew past cap: %d bytes", buf.Len())
	}
}

func TestConfig_Limits(t *testing.T) {
	cfg := Config{}
	cfg.applyDefaults()

	mem, cpus, pids := cfg.limits(RunSpec{})
	if mem != defaultMemoryMB || cpus != defaultCPUCores || pids != defaultPIDsLimit {
		t.Errorf("defaults not applied: %d %f %d", mem, cpus, pids)
	}

	mem, cpus, pids = cfg.limits(RunSpec{MemoryMB: 1024, CPUCores: 2, PIDsLimit: 64})
	if mem != 1024 || cpus != 2 || pids != 64 {
		t.Errorf("overrides not applied: %d %f %d", mem, cpus, pids)
	}
}

func TestBuildError_Unwrap(t *testing.T) {
	cause := errors.New("exit status 1")
	err := error(&BuildError{Tag: "img:latest", Output: "npm ERR!", Err: cause})

	if !errors.Is(err, cause) {
		t.Error("BuildError does not unwrap to its cause")
	}
	var be *BuildError
	if !errors.As(err, &be) || be.Output != "npm ERR!" {
		t.Error("BuildError output not recoverable via errors.As")
	}
	if !strings.Contains(err.Error(), "img:latest") {
		t.Errorf("error text %q missing tag", err.Error())
	}
}

func TestRuntimeError_Unwrap(t *testing.T) {
	cause := errors.New("exit status 125")
	err := error(&RuntimeError{Name: "onyesha-preview-p1", Output: "port is already allocated", Err: cause})

	if !errors.Is(err, cause) {
		t.Error("RuntimeError does not unwrap to its cause")
	}
	var re *RuntimeError
	if !errors.As(err, &re) || re.Output != "port is already allocated" {
		t.Error("RuntimeError output not recoverable via errors.As")
	}
	if !strings.Contains(err.Error(), "onyesha-preview-p1") {
		t.Errorf("error text %q missing container name", err.Error())
	}
}

func TestFake_LifecycleAndListing(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	id, err := f.RunContainer(ctx, RunSpec{
		Name:     "onyesha-preview-p1",
		Image:    "onyesha-preview-p1:latest",
		HostPort: 4000,
		Labels:   map[string]string{"onyesha.preview": "true"},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	infos, err := f.ListRunning(ctx, "onyesha.preview=true")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 1 || infos[0].ID != id {
		t.Fatalf("listed %+v, want the started container", infos)
	}

	ports, err := f.PublishedPorts(ctx)
	if err != nil || !ports[4000] {
		t.Errorf("published ports = %v (%v), want 4000", ports, err)
	}

	// Stop by ID, remove by name.
	if err := f.StopContainer(ctx, id); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if infos, _ := f.ListRunning(ctx, ""); len(infos) != 0 {
		t.Errorf("stopped container still listed: %+v", infos)
	}
	if err := f.RemoveContainer(ctx, "onyesha-preview-p1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := f.StopContainer(ctx, id); !errors.Is(err, ErrContainerNotFound) {
		t.Errorf("stop after remove err = %v, want ErrContainerNotFound", err)
	}
}

func TestFake_ScriptedLogsAndErrors(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	if _, err := f.RunContainer(ctx, RunSpec{Name: "c1"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	f.LogsByName["c1"] = "Error: Cannot find module 'foo'"

	logs, err := f.ContainerLogs(ctx, "c1", 300)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if !strings.Contains(logs, "Cannot find module") {
		t.Errorf("logs = %q, want scripted content", logs)
	}

	f.BuildErr = &BuildError{Tag: "t", Err: errors.New("boom")}
	var be *BuildError
	if err := f.BuildImage(ctx, BuildSpec{Tag: "t"}); !errors.As(err, &be) {
		t.Errorf("build err = %v, want scripted BuildError", err)
	}
}
