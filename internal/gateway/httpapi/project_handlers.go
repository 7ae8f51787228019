package httpapi

import (
	"errors"
	"log/slog"
	"time"

	"github.com/jkaninda/okapi"

	"github.com/jkaninda/onyesha/internal/domain"
	"github.com/jkaninda/onyesha/internal/preview"
	"github.com/jkaninda/onyesha/internal/storage"
)

// ProjectResponse is the JSON view of a stored project.
type ProjectResponse struct {
	ProjectID string    `json:"project_id"`
	UserID    string    `json:"user_id"`
	Kind      string    `json:"kind,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FileInput is one file in an uploaded snapshot.
type FileInput struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// PutFilesRequest is the JSON body for PUT /v1/projects/{projectID}/files.
// The snapshot is replaced wholesale.
type PutFilesRequest struct {
	Kind  string      `json:"kind,omitempty"`
	Files []FileInput `json:"files"`
}

// FileResponse is one file in a downloaded snapshot.
type FileResponse struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func toProjectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ProjectID: p.ID,
		UserID:    p.UserID,
		Kind:      string(p.Kind),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func (g *Gateway) handleProjectList(c *okapi.Context) error {
	projects, err := g.store.ListProjects(c.Context())
	if err != nil {
		return previewError(c, err)
	}
	resp := make([]ProjectResponse, len(projects))
	for i, p := range projects {
		resp[i] = toProjectResponse(p)
	}
	return c.OK(resp)
}

func (g *Gateway) handleProjectPutFiles(c *okapi.Context) error {
	userID := c.GetString("userID")
	if err := g.rateLimit(c, userID); err != nil {
		return err
	}

	projectID := c.Param("projectID")

	var req PutFilesRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if len(req.Files) == 0 {
		return c.AbortBadRequest("files must not be empty")
	}
	kind := domain.RuntimeKind(req.Kind)
	if req.Kind != "" && !kind.Valid() {
		return c.AbortBadRequest("unknown runtime kind")
	}
	for _, f := range req.Files {
		if f.Path == "" {
			return c.AbortBadRequest("file path must not be empty")
		}
	}

	ctx := c.Context()
	project := &domain.Project{ID: projectID, UserID: userID, Kind: kind}
	if existing, err := g.store.GetProject(ctx, projectID); err == nil {
		// Upsert keeps the original owner; kind updates only when sent.
		project.UserID = existing.UserID
		if kind == "" {
			project.Kind = existing.Kind
		}
	} else if !errors.Is(err, storage.ErrProjectNotFound) {
		return previewError(c, err)
	}

	if err := g.store.SaveProject(ctx, project); err != nil {
		return previewError(c, err)
	}

	files := make([]domain.ProjectFile, len(req.Files))
	for i, f := range req.Files {
		files[i] = domain.ProjectFile{Path: f.Path, Content: f.Content}
	}
	if err := g.store.PutProjectFiles(ctx, projectID, files); err != nil {
		return previewError(c, err)
	}

	g.logger.Info("project snapshot replaced",
		slog.String("project_id", projectID),
		slog.Int("files", len(files)),
	)
	return c.OK(okapi.M{"project_id": projectID, "files": len(files)})
}

func (g *Gateway) handleProjectGetFiles(c *okapi.Context) error {
	projectID := c.Param("projectID")

	if _, err := g.store.GetProject(c.Context(), projectID); err != nil {
		return previewError(c, err)
	}
	files, err := g.store.GetProjectFiles(c.Context(), projectID)
	if err != nil {
		return previewError(c, err)
	}

	resp := make([]FileResponse, len(files))
	for i, f := range files {
		resp[i] = FileResponse{Path: f.Path, Content: f.Content}
	}
	return c.OK(resp)
}

func (g *Gateway) handleProjectDelete(c *okapi.Context) error {
	userID := c.GetString("userID")
	if err := g.rateLimit(c, userID); err != nil {
		return err
	}

	projectID := c.Param("projectID")

	// An active sandbox goes first; a missing one is fine.
	if err := g.manager.StopPreview(c.Context(), projectID); err != nil && !errors.Is(err, preview.ErrNotFound) {
		return previewError(c, err)
	}

	if err := g.store.DeleteProject(c.Context(), projectID); err != nil {
		return previewError(c, err)
	}

	g.logger.Info("project deleted", slog.String("project_id", projectID))
	return c.OK(okapi.M{"status": "deleted"})
}
