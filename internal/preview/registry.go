package preview

import (
	"errors"
	"sync"
	"time"

	"github.com/jkaninda/onyesha/internal/domain"
)

// ErrNotFound is returned for operations on a project with no active
// sandbox, and by the HTTP layer mapped to 404.
var ErrNotFound = errors.New("no active preview for project")

// Registry is the single source of truth for project → sandbox state. It
// owns its mutex: every mutation goes through a method that holds the
// lock, so two creations for the same project can never both pass the
// not-exists check.
type Registry struct {
	mu        sync.RWMutex
	byProject map[string]*domain.Sandbox
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byProject: make(map[string]*domain.Sandbox)}
}

// Get returns a copy of the sandbox for a project, or ErrNotFound.
// Copies keep callers from mutating shared state outside the lock.
func (r *Registry) Get(projectID string) (domain.Sandbox, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sb, ok := r.byProject[projectID]
	if !ok {
		return domain.Sandbox{}, ErrNotFound
	}
	return cloneSandbox(sb), nil
}

// GetByHandle returns a copy of the sandbox owning the given container ID
// or name, or ErrNotFound.
func (r *Registry) GetByHandle(handle string) (domain.Sandbox, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sb := range r.byProject {
		if sb.ContainerID == handle || sb.ContainerName == handle {
			return cloneSandbox(sb), nil
		}
	}
	return domain.Sandbox{}, ErrNotFound
}

// List returns copies of all registered sandboxes. Stopped sandboxes never
// appear — stopping removes the entry.
func (r *Registry) List() []domain.Sandbox {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Sandbox, 0, len(r.byProject))
	for _, sb := range r.byProject {
		out = append(out, cloneSandbox(sb))
	}
	return out
}

// Len reports the number of registered sandboxes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byProject)
}

// Insert registers a sandbox for its project if none exists yet. When an
// entry is already present, the existing sandbox is touched and returned
// with ok=false — this is the create-dedupe path.
func (r *Registry) Insert(sb *domain.Sandbox) (domain.Sandbox, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byProject[sb.ProjectID]; ok {
		existing.LastAccessedAt = time.Now().UTC()
		return cloneSandbox(existing), false
	}
	r.byProject[sb.ProjectID] = sb
	return cloneSandbox(sb), true
}

// Remove deletes a project's entry and returns a copy of what was removed.
func (r *Registry) Remove(projectID string) (domain.Sandbox, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sb, ok := r.byProject[projectID]
	if !ok {
		return domain.Sandbox{}, ErrNotFound
	}
	delete(r.byProject, projectID)
	return cloneSandbox(sb), nil
}

// Touch refreshes a sandbox's lastAccessedAt.
func (r *Registry) Touch(projectID string) error {
	return r.Mutate(projectID, func(sb *domain.Sandbox) {
		sb.LastAccessedAt = time.Now().UTC()
	})
}

// Mutate applies fn to a sandbox under the registry lock, serializing all
// writers (health monitor, lifecycle, cleanup) to a single entry.
func (r *Registry) Mutate(projectID string, fn func(*domain.Sandbox)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sb, ok := r.byProject[projectID]
	if !ok {
		return ErrNotFound
	}
	fn(sb)
	return nil
}

func cloneSandbox(sb *domain.Sandbox) domain.Sandbox {
	out := *sb
	out.Logs = append([]string(nil), sb.Logs...)
	out.Errors = append([]domain.PreviewError(nil), sb.Errors...)
	return out
}
