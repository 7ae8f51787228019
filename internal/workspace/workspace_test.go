package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jkaninda/onyesha/internal/domain"
)

func TestNew(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, "workspace")

	ws, err := New(root)
	if err != nil {
		t.Fatalf("New(%q): %v", root, err)
	}
	if ws.Root != root {
		t.Errorf("Root = %q, want %q", ws.Root, root)
	}

	// Root directory should exist.
	if _, err := os.Stat(root); err != nil {
		t.Errorf("root dir not created: %v", err)
	}
}

func TestDirectoryAccessors(t *testing.T) {
	tmp := t.TempDir()
	ws, err := New(filepath.Join(tmp, "ws"))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		fn   func() string
		want string
	}{
		{"StagingDir", ws.StagingDir, "staging"},
		{"DataDir", ws.DataDir, "data"},
		{"LogsDir", ws.LogsDir, "logs"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.fn()
			expected := filepath.Join(ws.Root, tc.want)
			if got != expected {
				t.Errorf("%s() = %q, want %q", tc.name, got, expected)
			}
			// Directory should exist.
			if _, err := os.Stat(got); err != nil {
				t.Errorf("directory not created: %v", err)
			}
		})
	}
}

func TestDerivedPaths(t *testing.T) {
	tmp := t.TempDir()
	ws, err := New(filepath.Join(tmp, "ws"))
	if err != nil {
		t.Fatal(err)
	}

	if got, want := ws.DatabasePath(), filepath.Join(ws.Root, "data", "onyesha.db"); got != want {
		t.Errorf("DatabasePath() = %q, want %q", got, want)
	}
}

func TestMaterializeProject(t *testing.T) {
	tmp := t.TempDir()
	ws, err := New(filepath.Join(tmp, "ws"))
	if err != nil {
		t.Fatal(err)
	}

	files := []domain.ProjectFile{
		{Path: "package.json", Content: `{"name":"app"}`},
		{Path: "src/App.jsx", Content: "export default function App() {}"},
	}
	dir, err := ws.MaterializeProject("proj-1", files)
	if err != nil {
		t.Fatalf("MaterializeProject: %v", err)
	}
	if dir != filepath.Join(ws.Root, "staging", "proj-1") {
		t.Errorf("staging dir = %q", dir)
	}

	got, err := os.ReadFile(filepath.Join(dir, "src", "App.jsx"))
	if err != nil {
		t.Fatalf("reading materialized file: %v", err)
	}
	if string(got) != files[1].Content {
		t.Errorf("content = %q, want %q", got, files[1].Content)
	}
}

func TestMaterializeProject_ReplacesStaleFiles(t *testing.T) {
	tmp := t.TempDir()
	ws, err := New(filepath.Join(tmp, "ws"))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := ws.MaterializeProject("proj-1", []domain.ProjectFile{
		{Path: "old.txt", Content: "stale"},
	}); err != nil {
		t.Fatal(err)
	}
	dir, err := ws.MaterializeProject("proj-1", []domain.ProjectFile{
		{Path: "new.txt", Content: "fresh"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, "old.txt")); !os.IsNotExist(err) {
		t.Error("stale file survived re-materialization")
	}
	if _, err := os.Stat(filepath.Join(dir, "new.txt")); err != nil {
		t.Errorf("new file missing: %v", err)
	}
}

func TestMaterializeProject_RejectsTraversal(t *testing.T) {
	tmp := t.TempDir()
	ws, err := New(filepath.Join(tmp, "ws"))
	if err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{"../escape.txt", "/etc/passwd", "a/../../escape.txt", ""} {
		_, err := ws.MaterializeProject("proj-1", []domain.ProjectFile{
			{Path: path, Content: "x"},
		})
		if !errors.Is(err, ErrUnsafePath) {
			t.Errorf("path %q: err = %v, want ErrUnsafePath", path, err)
		}
	}
}

func TestWriteDescriptor(t *testing.T) {
	tmp := t.TempDir()
	ws, err := New(filepath.Join(tmp, "ws"))
	if err != nil {
		t.Fatal(err)
	}

	if err := ws.WriteDescriptor("proj-1", "FROM node:20-alpine\n"); err != nil {
		t.Fatalf("WriteDescriptor: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(ws.Root, "staging", "proj-1", "Dockerfile"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "FROM node:20-alpine\n" {
		t.Errorf("descriptor = %q", got)
	}
}

func TestRemoveProjectStaging(t *testing.T) {
	tmp := t.TempDir()
	ws, err := New(filepath.Join(tmp, "ws"))
	if err != nil {
		t.Fatal(err)
	}

	dir, err := ws.MaterializeProject("proj-1", []domain.ProjectFile{
		{Path: "a.txt", Content: "x"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.RemoveProjectStaging("proj-1"); err != nil {
		t.Fatalf("RemoveProjectStaging: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("staging dir survived removal")
	}
	// Removing again is a no-op.
	if err := ws.RemoveProjectStaging("proj-1"); err != nil {
		t.Errorf("second removal: %v", err)
	}
	// A later materialization recreates the directory.
	if _, err := ws.MaterializeProject("proj-1", []domain.ProjectFile{
		{Path: "b.txt", Content: "y"},
	}); err != nil {
		t.Errorf("re-materialize after removal: %v", err)
	}
}

func TestCleanStaging(t *testing.T) {
	tmp := t.TempDir()
	ws, err := New(filepath.Join(tmp, "ws"))
	if err != nil {
		t.Fatal(err)
	}

	for _, p := range []string{"proj-1", "proj-2"} {
		if _, err := ws.MaterializeProject(p, []domain.ProjectFile{
			{Path: "a.txt", Content: "x"},
		}); err != nil {
			t.Fatal(err)
		}
	}

	if err := ws.CleanStaging(); err != nil {
		t.Fatalf("CleanStaging: %v", err)
	}
	entries, _ := os.ReadDir(filepath.Join(ws.Root, "staging"))
	if len(entries) != 0 {
		t.Errorf("staging dir not empty after clean: %d entries", len(entries))
	}
}

func TestCleanStagingNoop(t *testing.T) {
	tmp := t.TempDir()
	ws, err := New(filepath.Join(tmp, "ws"))
	if err != nil {
		t.Fatal(err)
	}
	// Don't create staging dir — CleanStaging should be a no-op.
	os.RemoveAll(filepath.Join(ws.Root, "staging"))
	if err := ws.CleanStaging(); err != nil {
		t.Fatalf("CleanStaging on missing dir: %v", err)
	}
}

func TestEnsureAll(t *testing.T) {
	tmp := t.TempDir()
	ws, err := New(filepath.Join(tmp, "ws"))
	if err != nil {
		t.Fatal(err)
	}

	if err := ws.EnsureAll(); err != nil {
		t.Fatal(err)
	}

	for _, sub := range []string{"staging", "data", "logs"} {
		p := filepath.Join(ws.Root, sub)
		if _, err := os.Stat(p); err != nil {
			t.Errorf("directory %q not created: %v", sub, err)
		}
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		input, want string
	}{
		{"normal", "normal"},
		{"a/b", "a_b"},
		{"a\\b", "a_b"},
		{"../etc/passwd", "__etc_passwd"},
		{"", "_"},
	}
	for _, tc := range tests {
		got := sanitizeName(tc.input)
		if got != tc.want {
			t.Errorf("sanitizeName(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestResolveTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	got, err := resolvePath("~/test")
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(home, "test")
	if got != want {
		t.Errorf("resolvePath(~/test) = %q, want %q", got, want)
	}
}
