package runtime

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory ContainerRuntime for tests. Containers exist only
// as records; logs and failures are scripted by the test.
type Fake struct {
	mu         sync.Mutex
	seq        int
	containers map[string]*fakeContainer // keyed by name

	// BuildErr, when set, is returned by every BuildImage call.
	BuildErr error
	// RunErr, when set, is returned by every RunContainer call.
	RunErr error
	// LogsByName scripts ContainerLogs output per container name.
	LogsByName map[string]string

	BuildCalls  []BuildSpec
	RunCalls    []RunSpec
	StopCalls   []string
	RemoveCalls []string
}

type fakeContainer struct {
	id      string
	spec    RunSpec
	running bool
}

// NewFake creates an empty fake runtime.
func NewFake() *Fake {
	return &Fake{
		containers: make(map[string]*fakeContainer),
		LogsByName: make(map[string]string),
	}
}

func (f *Fake) BuildImage(ctx context.Context, spec BuildSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.BuildCalls = append(f.BuildCalls, spec)
	return f.BuildErr
}

func (f *Fake) RunContainer(ctx context.Context, spec RunSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RunCalls = append(f.RunCalls, spec)
	if f.RunErr != nil {
		return "", f.RunErr
	}
	f.seq++
	c := &fakeContainer{
		id:      fmt.Sprintf("fake-%04d", f.seq),
		spec:    spec,
		running: true,
	}
	f.containers[spec.Name] = c
	return c.id, nil
}

func (f *Fake) StopContainer(ctx context.Context, nameOrID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StopCalls = append(f.StopCalls, nameOrID)
	c := f.lookup(nameOrID)
	if c == nil {
		return ErrContainerNotFound
	}
	c.running = false
	return nil
}

func (f *Fake) RemoveContainer(ctx context.Context, nameOrID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RemoveCalls = append(f.RemoveCalls, nameOrID)
	c := f.lookup(nameOrID)
	if c == nil {
		return ErrContainerNotFound
	}
	delete(f.containers, c.spec.Name)
	return nil
}

func (f *Fake) ContainerLogs(ctx context.Context, nameOrID string, tail int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.lookup(nameOrID)
	if c == nil {
		return "", ErrContainerNotFound
	}
	return f.LogsByName[c.spec.Name], nil
}

func (f *Fake) ListRunning(ctx context.Context, label string) ([]ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var infos []ContainerInfo
	for _, c := range f.containers {
		if !c.running {
			continue
		}
		if label != "" && !labelMatches(c.spec.Labels, label) {
			continue
		}
		infos = append(infos, ContainerInfo{
			ID:        c.id,
			Name:      c.spec.Name,
			Image:     c.spec.Image,
			Labels:    c.spec.Labels,
			HostPorts: []int{c.spec.HostPort},
		})
	}
	return infos, nil
}

func (f *Fake) Exec(ctx context.Context, nameOrID string, cmd []string) (*ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.lookup(nameOrID)
	if c == nil || !c.running {
		return nil, ErrContainerNotFound
	}
	return &ExecResult{Stdout: "", ExitCode: 0}, nil
}

func (f *Fake) PublishedPorts(ctx context.Context) (map[int]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ports := make(map[int]bool)
	for _, c := range f.containers {
		ports[c.spec.HostPort] = true
	}
	return ports, nil
}

// MarkExited flips a container to not-running so liveness checks see it
// as gone while Remove still finds it.
func (f *Fake) MarkExited(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[name]; ok {
		c.running = false
	}
}

// Running reports whether a container with the given name is running.
func (f *Fake) Running(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	return ok && c.running
}

func (f *Fake) lookup(nameOrID string) *fakeContainer {
	if c, ok := f.containers[nameOrID]; ok {
		return c
	}
	for _, c := range f.containers {
		if c.id == nameOrID {
			return c
		}
	}
	return nil
}

func labelMatches(labels map[string]string, filter string) bool {
	for k, v := range labels {
		if filter == k+"="+v || filter == k {
			return true
		}
	}
	return false
}
