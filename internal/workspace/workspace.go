// Package workspace manages the Onyesha runtime directory structure.
// All runtime state (database, logs, per-preview staging directories) is
// consolidated under a single workspace root, making the service portable.
//
// Default workspace: ~/.onyesha/workspace (configurable via config or ONYESHA_WORKSPACE env var).
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jkaninda/onyesha/internal/domain"
)

// Default workspace location relative to user home directory.
const defaultRelativePath = ".onyesha/workspace"

// ErrUnsafePath is returned when a project file path would escape its
// staging directory.
var ErrUnsafePath = fmt.Errorf("file path escapes staging directory")

// Workspace manages all runtime directories and derived paths.
type Workspace struct {
	Root string

	mu      sync.Mutex
	created map[string]bool // tracks which directories have been ensured
}

// New creates a Workspace rooted at the given path.
// It resolves ~ to the user's home directory and creates the root directory
// with appropriate permissions if it does not exist.
func New(root string) (*Workspace, error) {
	resolved, err := resolvePath(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root %q: %w", root, err)
	}

	w := &Workspace{
		Root:    resolved,
		created: make(map[string]bool),
	}

	if err := w.ensureDir(resolved, 0750); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}

	return w, nil
}

// Default creates a Workspace at ~/.onyesha/workspace.
func Default() (*Workspace, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("determining home directory: %w", err)
	}
	return New(filepath.Join(home, defaultRelativePath))
}

// --- Top-level directory accessors ---

// StagingDir returns <root>/staging/. Per-preview build contexts live here.
func (w *Workspace) StagingDir() string {
	return w.dir("staging")
}

// DataDir returns <root>/data/. Database files.
func (w *Workspace) DataDir() string {
	return w.dir("data")
}

// LogsDir returns <root>/logs/. Application log files.
func (w *Workspace) LogsDir() string {
	return w.dir("logs")
}

// --- Derived paths ---

// DatabasePath returns <root>/data/onyesha.db.
func (w *Workspace) DatabasePath() string {
	return filepath.Join(w.DataDir(), "onyesha.db")
}

// --- Project staging ---

// ProjectStagingDir returns <root>/staging/<projectID>/, created on demand.
func (w *Workspace) ProjectStagingDir(projectID string) string {
	p := filepath.Join(w.StagingDir(), sanitizeName(projectID))
	_ = w.ensureDir(p, 0750)
	return p
}

// MaterializeProject writes a project file snapshot into the project's
// staging directory and returns the directory path. Existing contents are
// replaced wholesale so stale files from a previous snapshot never leak
// into the next build.
func (w *Workspace) MaterializeProject(projectID string, files []domain.ProjectFile) (string, error) {
	dir := w.ProjectStagingDir(projectID)

	if err := clearDir(dir); err != nil {
		return "", fmt.Errorf("clearing staging dir for %s: %w", projectID, err)
	}

	for _, f := range files {
		dst, err := securePath(dir, f.Path)
		if err != nil {
			return "", fmt.Errorf("file %q: %w", f.Path, err)
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
			return "", fmt.Errorf("creating parent of %s: %w", f.Path, err)
		}
		if err := os.WriteFile(dst, []byte(f.Content), 0640); err != nil {
			return "", fmt.Errorf("writing %s: %w", f.Path, err)
		}
	}
	return dir, nil
}

// WriteDescriptor writes the build descriptor at the staging dir root.
func (w *Workspace) WriteDescriptor(projectID, content string) error {
	dir := w.ProjectStagingDir(projectID)
	if err := os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte(content), 0640); err != nil {
		return fmt.Errorf("writing descriptor for %s: %w", projectID, err)
	}
	return nil
}

// RemoveProjectStaging deletes a project's staging directory. Removing a
// directory that does not exist is a no-op.
func (w *Workspace) RemoveProjectStaging(projectID string) error {
	dir := filepath.Join(w.StagingDir(), sanitizeName(projectID))
	w.forget(dir)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing staging dir for %s: %w", projectID, err)
	}
	return nil
}

// CleanStaging removes all per-project staging directories. Called on
// startup so crashed previews never leave build contexts behind.
func (w *Workspace) CleanStaging() error {
	dir := filepath.Join(w.Root, "staging")
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading staging dir: %w", err)
	}
	for _, entry := range entries {
		p := filepath.Join(dir, entry.Name())
		w.forget(p)
		if err := os.RemoveAll(p); err != nil {
			return fmt.Errorf("removing staging entry %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// EnsureAll creates all standard workspace directories.
func (w *Workspace) EnsureAll() error {
	dirs := []string{
		w.StagingDir(),
		w.DataDir(),
		w.LogsDir(),
	}
	for _, d := range dirs {
		if err := w.ensureDir(d, 0750); err != nil {
			return err
		}
	}
	return nil
}

// --- Internal helpers ---

// dir returns an absolute path under the workspace root and ensures the directory exists.
func (w *Workspace) dir(name string) string {
	p := filepath.Join(w.Root, name)
	_ = w.ensureDir(p, 0750)
	return p
}

// ensureDir creates a directory if it doesn't already exist.
// Uses a cache to avoid redundant stat/mkdir calls.
func (w *Workspace) ensureDir(path string, perm os.FileMode) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.created[path] {
		return nil
	}

	if err := os.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("creating directory %s: %w", path, err)
	}
	w.created[path] = true
	return nil
}

// forget drops a path from the ensured cache so a later access recreates it.
func (w *Workspace) forget(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.created, path)
}

// clearDir removes the contents of dir without removing dir itself.
func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// securePath joins rel under root and rejects any path that would resolve
// outside root.
func securePath(root, rel string) (string, error) {
	if rel == "" || filepath.IsAbs(rel) {
		return "", ErrUnsafePath
	}
	dst := filepath.Join(root, filepath.Clean(rel))
	if dst != root && !strings.HasPrefix(dst, root+string(filepath.Separator)) {
		return "", ErrUnsafePath
	}
	return dst, nil
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// sanitizeName replaces path separator characters to prevent directory traversal.
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" {
		name = "_"
	}
	return name
}
