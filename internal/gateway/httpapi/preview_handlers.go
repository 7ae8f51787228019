package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/jkaninda/okapi"

	"github.com/jkaninda/onyesha/internal/domain"
	"github.com/jkaninda/onyesha/internal/preview"
)

// CreatePreviewRequest is the JSON body for POST /v1/previews.
type CreatePreviewRequest struct {
	ProjectID      string `json:"project_id"`
	Kind           string `json:"kind,omitempty"`            // Empty = auto-detect from the snapshot.
	DisableCleanup bool   `json:"disable_cleanup,omitempty"` // Exempt from the idle sweep.
	TimeoutMinutes int    `json:"timeout_minutes,omitempty"` // Overrides the readiness deadline.
}

// SandboxResponse is the JSON view of a preview sandbox.
type SandboxResponse struct {
	SandboxID      string                 `json:"sandbox_id"`
	ProjectID      string                 `json:"project_id"`
	Kind           string                 `json:"kind"`
	Port           int                    `json:"port"`
	URL            string                 `json:"url"`
	Status         string                 `json:"status"`
	ContainerID    string                 `json:"container_id,omitempty"`
	ContainerName  string                 `json:"container_name"`
	AutoCleanup    bool                   `json:"auto_cleanup"`
	CreatedAt      time.Time              `json:"created_at"`
	LastAccessedAt time.Time              `json:"last_accessed_at"`
	Logs           []string               `json:"logs,omitempty"`
	Errors         []PreviewErrorResponse `json:"errors,omitempty"`
}

// PreviewErrorResponse is the JSON view of one detected error.
type PreviewErrorResponse struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Severity     string    `json:"severity"`
	Message      string    `json:"message"`
	Details      string    `json:"details,omitempty"`
	SuggestedFix string    `json:"suggested_fix,omitempty"`
	AutoFixable  bool      `json:"auto_fixable"`
	MatchedLine  string    `json:"matched_line,omitempty"`
	DetectedAt   time.Time `json:"detected_at"`
}

// ErrorAnalysisResponse is the JSON body for GET /v1/previews/{projectID}/errors.
type ErrorAnalysisResponse struct {
	Errors       []PreviewErrorResponse `json:"errors"`
	Summary      string                 `json:"summary"`
	MostCritical *PreviewErrorResponse  `json:"most_critical,omitempty"`
	HasCritical  bool                   `json:"has_critical"`
	FixableCount int                    `json:"fixable_count"`
}

// LogsResponse is the JSON body for GET /v1/containers/{handle}/logs.
type LogsResponse struct {
	Logs string `json:"logs"`
}

// ExecRequest is the JSON body for POST /v1/containers/{handle}/exec.
type ExecRequest struct {
	Cmd []string `json:"cmd"`
}

// ExecResponse is the JSON body returned after a container exec.
type ExecResponse struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr,omitempty"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
}

func toSandboxResponse(sb domain.Sandbox, detail bool) SandboxResponse {
	resp := SandboxResponse{
		SandboxID:      sb.ID.String(),
		ProjectID:      sb.ProjectID,
		Kind:           string(sb.Kind),
		Port:           sb.Port,
		URL:            sb.URL,
		Status:         string(sb.Status),
		ContainerID:    sb.ContainerID,
		ContainerName:  sb.ContainerName,
		AutoCleanup:    sb.AutoCleanup,
		CreatedAt:      sb.CreatedAt,
		LastAccessedAt: sb.LastAccessedAt,
	}
	if detail {
		resp.Logs = sb.Logs
		resp.Errors = toErrorResponses(sb.Errors)
	}
	return resp
}

func toErrorResponses(errs []domain.PreviewError) []PreviewErrorResponse {
	if len(errs) == 0 {
		return nil
	}
	out := make([]PreviewErrorResponse, len(errs))
	for i, e := range errs {
		out[i] = toErrorResponse(e)
	}
	return out
}

func toErrorResponse(e domain.PreviewError) PreviewErrorResponse {
	return PreviewErrorResponse{
		ID:           e.ID.String(),
		Type:         string(e.Type),
		Severity:     string(e.Severity),
		Message:      e.Message,
		Details:      e.Details,
		SuggestedFix: e.SuggestedFix,
		AutoFixable:  e.AutoFixable,
		MatchedLine:  e.MatchedLine,
		DetectedAt:   e.DetectedAt,
	}
}

func (g *Gateway) handlePreviewCreate(c *okapi.Context) error {
	userID := c.GetString("userID")
	if err := g.rateLimit(c, userID); err != nil {
		return err
	}

	var req CreatePreviewRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.ProjectID == "" {
		return c.AbortBadRequest("project_id is required")
	}
	kind := domain.RuntimeKind(req.Kind)
	if req.Kind != "" && !kind.Valid() {
		return c.AbortBadRequest("unknown runtime kind")
	}

	g.logger.Info("http preview create",
		slog.String("user_id", userID),
		slog.String("project_id", req.ProjectID),
		slog.String("kind", req.Kind),
	)

	sb, err := g.manager.CreatePreview(c.Context(), req.ProjectID, userID, preview.CreateOptions{
		Kind:           kind,
		DisableCleanup: req.DisableCleanup,
		TimeoutMinutes: req.TimeoutMinutes,
	})
	if err != nil {
		return previewError(c, err)
	}

	return c.JSON(http.StatusCreated, toSandboxResponse(sb, false))
}

func (g *Gateway) handlePreviewList(c *okapi.Context) error {
	sandboxes := g.manager.ListPreviews()
	resp := make([]SandboxResponse, len(sandboxes))
	for i, sb := range sandboxes {
		resp[i] = toSandboxResponse(sb, false)
	}
	return c.OK(resp)
}

func (g *Gateway) handlePreviewGet(c *okapi.Context) error {
	sb, err := g.manager.GetPreview(c.Param("projectID"))
	if err != nil {
		return previewError(c, err)
	}
	return c.OK(toSandboxResponse(sb, true))
}

func (g *Gateway) handlePreviewUpdate(c *okapi.Context) error {
	userID := c.GetString("userID")
	if err := g.rateLimit(c, userID); err != nil {
		return err
	}

	sb, err := g.manager.UpdatePreview(c.Context(), c.Param("projectID"))
	if err != nil {
		return previewError(c, err)
	}
	return c.OK(toSandboxResponse(sb, true))
}

func (g *Gateway) handlePreviewStop(c *okapi.Context) error {
	projectID := c.Param("projectID")
	if err := g.manager.StopPreview(c.Context(), projectID); err != nil {
		return previewError(c, err)
	}
	g.logger.Info("http preview stop", slog.String("project_id", projectID))
	return c.OK(okapi.M{"status": "stopped"})
}

func toAnalysisResponse(analysis domain.ErrorAnalysis) ErrorAnalysisResponse {
	resp := ErrorAnalysisResponse{
		Errors:       toErrorResponses(analysis.Errors),
		Summary:      analysis.Summary,
		HasCritical:  analysis.HasCritical,
		FixableCount: len(analysis.FixableErrors),
	}
	if analysis.MostCritical != nil {
		mc := toErrorResponse(*analysis.MostCritical)
		resp.MostCritical = &mc
	}
	return resp
}

// handlePreviewErrors rescans the container logs before analyzing.
func (g *Gateway) handlePreviewErrors(c *okapi.Context) error {
	sb, err := g.manager.GetPreview(c.Param("projectID"))
	if err != nil {
		return previewError(c, err)
	}

	analysis, err := g.manager.DetectErrors(c.Context(), sb.ContainerName)
	if err != nil {
		return previewError(c, err)
	}
	return c.OK(toAnalysisResponse(analysis))
}

// handlePreviewAnalysis summarizes the stored error set without touching
// the container. Cheap enough to poll.
func (g *Gateway) handlePreviewAnalysis(c *okapi.Context) error {
	sb, err := g.manager.GetPreview(c.Param("projectID"))
	if err != nil {
		return previewError(c, err)
	}

	analysis, err := g.manager.ErrorAnalysis(sb.ContainerName)
	if err != nil {
		return previewError(c, err)
	}
	return c.OK(toAnalysisResponse(analysis))
}

func (g *Gateway) handleContainerLogs(c *okapi.Context) error {
	logs, err := g.manager.ContainerLogs(c.Context(), c.Param("handle"))
	if err != nil {
		return previewError(c, err)
	}
	return c.OK(LogsResponse{Logs: logs})
}

func (g *Gateway) handleContainerExec(c *okapi.Context) error {
	userID := c.GetString("userID")
	if err := g.rateLimit(c, userID); err != nil {
		return err
	}

	var req ExecRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if len(req.Cmd) == 0 {
		return c.AbortBadRequest("cmd is required")
	}

	res, err := g.manager.ExecInContainer(c.Context(), c.Param("handle"), req.Cmd)
	if err != nil {
		return previewError(c, err)
	}
	return c.OK(ExecResponse{
		Stdout:     res.Stdout,
		Stderr:     res.Stderr,
		ExitCode:   res.ExitCode,
		DurationMS: res.Duration.Milliseconds(),
	})
}
