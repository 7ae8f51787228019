package preview

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/onyesha/internal/domain"
)

func newSandbox(projectID string, port int) *domain.Sandbox {
	now := time.Now().UTC()
	return &domain.Sandbox{
		ID:             uuid.New(),
		ProjectID:      projectID,
		Port:           port,
		Status:         domain.StatusStarting,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
}

func TestRegistry_InsertAndGet(t *testing.T) {
	r := NewRegistry()

	if _, err := r.Get("p1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get on empty registry: %v", err)
	}

	_, inserted := r.Insert(newSandbox("p1", 4000))
	if !inserted {
		t.Fatal("first insert reported a duplicate")
	}

	sb, err := r.Get("p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sb.Port != 4000 {
		t.Errorf("port = %d", sb.Port)
	}
}

func TestRegistry_InsertDedupes(t *testing.T) {
	r := NewRegistry()
	first := newSandbox("p1", 4000)
	r.Insert(first)

	existing, inserted := r.Insert(newSandbox("p1", 4001))
	if inserted {
		t.Fatal("second insert for the same project succeeded")
	}
	if existing.ID != first.ID {
		t.Error("dedupe returned a different sandbox")
	}
	if r.Len() != 1 {
		t.Errorf("registry holds %d entries, want 1", r.Len())
	}
}

func TestRegistry_InsertDedupes_Concurrent(t *testing.T) {
	r := NewRegistry()

	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	insertions := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, ok := r.Insert(newSandbox("p1", 4000+i)); ok {
				mu.Lock()
				insertions++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if insertions != 1 {
		t.Errorf("%d inserts passed the not-exists check, want exactly 1", insertions)
	}
	if r.Len() != 1 {
		t.Errorf("registry holds %d entries, want 1", r.Len())
	}
}

func TestRegistry_GetReturnsCopy(t *testing.T) {
	r := NewRegistry()
	sb := newSandbox("p1", 4000)
	sb.Logs = []string{"line1"}
	r.Insert(sb)

	got, _ := r.Get("p1")
	got.Status = domain.StatusError
	got.Logs[0] = "mutated"

	fresh, _ := r.Get("p1")
	if fresh.Status != domain.StatusStarting {
		t.Error("caller mutation leaked into the registry")
	}
	if fresh.Logs[0] != "line1" {
		t.Error("caller log mutation leaked into the registry")
	}
}

func TestRegistry_Mutate(t *testing.T) {
	r := NewRegistry()
	r.Insert(newSandbox("p1", 4000))

	err := r.Mutate("p1", func(sb *domain.Sandbox) {
		sb.Status = domain.StatusRunning
		sb.ContainerID = "cid-1"
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}

	sb, _ := r.Get("p1")
	if sb.Status != domain.StatusRunning || sb.ContainerID != "cid-1" {
		t.Errorf("mutation not applied: %+v", sb)
	}

	if err := r.Mutate("missing", func(*domain.Sandbox) {}); !errors.Is(err, ErrNotFound) {
		t.Errorf("mutate on missing entry: %v", err)
	}
}

func TestRegistry_Remove(t *testing.T) {
	r := NewRegistry()
	r.Insert(newSandbox("p1", 4000))

	removed, err := r.Remove("p1")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if removed.Port != 4000 {
		t.Errorf("removed sandbox port = %d", removed.Port)
	}
	if _, err := r.Remove("p1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second remove: %v", err)
	}
}

func TestRegistry_Touch(t *testing.T) {
	r := NewRegistry()
	sb := newSandbox("p1", 4000)
	sb.LastAccessedAt = time.Now().UTC().Add(-time.Hour)
	r.Insert(sb)

	if err := r.Touch("p1"); err != nil {
		t.Fatalf("touch: %v", err)
	}
	got, _ := r.Get("p1")
	if time.Since(got.LastAccessedAt) > time.Minute {
		t.Error("touch did not refresh lastAccessedAt")
	}

	if err := r.Touch("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("touch on missing entry: %v", err)
	}
}

func TestRegistry_GetByHandle(t *testing.T) {
	r := NewRegistry()
	sb := newSandbox("p1", 4000)
	sb.ContainerID = "cid-1"
	sb.ContainerName = "onyesha-preview-p1"
	r.Insert(sb)

	if got, err := r.GetByHandle("cid-1"); err != nil || got.ProjectID != "p1" {
		t.Errorf("by id: %+v, %v", got, err)
	}
	if got, err := r.GetByHandle("onyesha-preview-p1"); err != nil || got.ProjectID != "p1" {
		t.Errorf("by name: %+v, %v", got, err)
	}
	if _, err := r.GetByHandle("unknown"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown handle: %v", err)
	}
}

func TestRegistry_List(t *testing.T) {
	r := NewRegistry()
	r.Insert(newSandbox("p1", 4000))
	r.Insert(newSandbox("p2", 4001))

	if got := len(r.List()); got != 2 {
		t.Errorf("listed %d sandboxes, want 2", got)
	}
}
