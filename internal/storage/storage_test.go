package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/jkaninda/onyesha/internal/domain"
)

func newTestStore(t *testing.T) SnapshotStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := OpenSQLite(SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")}, logger)
	if err != nil {
		t.Fatalf("opening sqlite store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestSaveAndGetProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &domain.Project{ID: "proj-1", UserID: "user-1", Kind: domain.KindReact}
	if err := s.SaveProject(ctx, p); err != nil {
		t.Fatalf("save: %v", err)
	}
	if p.CreatedAt.IsZero() || p.UpdatedAt.IsZero() {
		t.Error("timestamps not set on save")
	}

	got, err := s.GetProject(ctx, "proj-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.UserID != "user-1" || got.Kind != domain.KindReact {
		t.Errorf("got %+v", got)
	}
}

func TestGetProject_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetProject(context.Background(), "missing")
	if !errors.Is(err, ErrProjectNotFound) {
		t.Errorf("err = %v, want ErrProjectNotFound", err)
	}
}

func TestSaveProject_UpsertKeepsCreatedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &domain.Project{ID: "proj-1", UserID: "user-1", Kind: domain.KindReact}
	if err := s.SaveProject(ctx, p); err != nil {
		t.Fatal(err)
	}
	created := p.CreatedAt

	p.Kind = domain.KindNext
	if err := s.SaveProject(ctx, p); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.GetProject(ctx, "proj-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Kind != domain.KindNext {
		t.Errorf("kind = %q after upsert", got.Kind)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("created_at changed on upsert: %v -> %v", created, got.CreatedAt)
	}
}

func TestProjectFiles_ReplaceWholesale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveProject(ctx, &domain.Project{ID: "proj-1", Kind: domain.KindStatic}); err != nil {
		t.Fatal(err)
	}

	first := []domain.ProjectFile{
		{Path: "index.html", Content: "<html/>"},
		{Path: "style.css", Content: "body{}"},
	}
	if err := s.PutProjectFiles(ctx, "proj-1", first); err != nil {
		t.Fatalf("put files: %v", err)
	}

	second := []domain.ProjectFile{
		{Path: "index.html", Content: "<html>v2</html>"},
	}
	if err := s.PutProjectFiles(ctx, "proj-1", second); err != nil {
		t.Fatalf("replace files: %v", err)
	}

	files, err := s.GetProjectFiles(ctx, "proj-1")
	if err != nil {
		t.Fatalf("get files: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("got %d files, want 1 (stale file must not linger)", len(files))
	}
	if files[0].Content != "<html>v2</html>" {
		t.Errorf("content = %q", files[0].Content)
	}
}

func TestPutProjectFiles_UnknownProject(t *testing.T) {
	s := newTestStore(t)
	err := s.PutProjectFiles(context.Background(), "missing", []domain.ProjectFile{
		{Path: "a.txt", Content: "x"},
	})
	if !errors.Is(err, ErrProjectNotFound) {
		t.Errorf("err = %v, want ErrProjectNotFound", err)
	}
}

func TestPutProjectFiles_BumpsUpdatedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &domain.Project{ID: "proj-1", Kind: domain.KindFlask}
	if err := s.SaveProject(ctx, p); err != nil {
		t.Fatal(err)
	}
	before, err := s.GetProject(ctx, "proj-1")
	if err != nil {
		t.Fatal(err)
	}

	if err := s.PutProjectFiles(ctx, "proj-1", []domain.ProjectFile{
		{Path: "app.py", Content: "print('hi')"},
	}); err != nil {
		t.Fatal(err)
	}

	after, err := s.GetProject(ctx, "proj-1")
	if err != nil {
		t.Fatal(err)
	}
	if after.UpdatedAt.Before(before.UpdatedAt) {
		t.Errorf("updated_at went backwards: %v -> %v", before.UpdatedAt, after.UpdatedAt)
	}
}

func TestDeleteProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveProject(ctx, &domain.Project{ID: "proj-1", Kind: domain.KindVue}); err != nil {
		t.Fatal(err)
	}
	if err := s.PutProjectFiles(ctx, "proj-1", []domain.ProjectFile{
		{Path: "main.js", Content: "x"},
	}); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteProject(ctx, "proj-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetProject(ctx, "proj-1"); !errors.Is(err, ErrProjectNotFound) {
		t.Errorf("project survived deletion: %v", err)
	}
	files, err := s.GetProjectFiles(ctx, "proj-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 0 {
		t.Errorf("%d orphaned files after deletion", len(files))
	}

	if err := s.DeleteProject(ctx, "proj-1"); !errors.Is(err, ErrProjectNotFound) {
		t.Errorf("second delete err = %v, want ErrProjectNotFound", err)
	}
}

func TestListProjects(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"p1", "p2", "p3"} {
		if err := s.SaveProject(ctx, &domain.Project{ID: id, Kind: domain.KindReact}); err != nil {
			t.Fatal(err)
		}
	}
	projects, err := s.ListProjects(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(projects) != 3 {
		t.Errorf("listed %d projects, want 3", len(projects))
	}
}

func TestDriver(t *testing.T) {
	s := newTestStore(t)
	if s.Driver() != DriverSQLite {
		t.Errorf("driver = %q", s.Driver())
	}
}
