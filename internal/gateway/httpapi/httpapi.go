// Package httpapi implements the HTTP API gateway for Onyesha.
//
// Security:
//   - Bearer token authentication on every /v1 request (constant-time comparison)
//   - Request body size limits (default 10 MB)
//   - Per-client rate limiting via token bucket
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/okapi"

	"github.com/jkaninda/onyesha/internal/observability"
	"github.com/jkaninda/onyesha/internal/ports"
	"github.com/jkaninda/onyesha/internal/preview"
	"github.com/jkaninda/onyesha/internal/ratelimit"
	"github.com/jkaninda/onyesha/internal/runtime"
	"github.com/jkaninda/onyesha/internal/storage"
)

const defaultMaxRequestSize = 10 << 20 // 10 MB

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string // e.g., ":8080"
	EnableDocs     bool
	APIKeys        map[string]string // Bearer token → user ID mapping. Empty = auth disabled.
	MaxRequestSize int64             // Maximum request body in bytes. 0 = 10 MB default.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz endpoint.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config  Config
	manager *preview.Manager
	store   storage.SnapshotStore
	limiter *ratelimit.Limiter
	logger  *slog.Logger
	server  *http.Server

	okapi *okapi.Okapi
	group *okapi.Group
}

// NewGateway creates an HTTP API gateway.
func NewGateway(cfg Config, mgr *preview.Manager, store storage.SnapshotStore, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	maxSize := cfg.MaxRequestSize
	if maxSize <= 0 {
		maxSize = defaultMaxRequestSize
	}
	return &Gateway{
		config:  cfg,
		manager: mgr,
		store:   store,
		limiter: rl,
		logger:  logger,
		okapi:   okapi.New(okapi.WithMaxMultipartMemory(maxSize)),
	}
}

// WithOpenAPIDocs enables the interactive API documentation.
func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Onyesha",
			Version: "v0.1.0",
		},
	)
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	// Metrics/tracing middleware (applied globally).
	if g.config.Metrics != nil || g.config.Tracer != nil {
		g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return observability.HTTPMetricsMiddleware(g.config.Metrics, g.config.Tracer, next)
		})
	}

	// Authenticated /v1 group.
	g.group = g.okapi.Group("/v1", g.authenticate)

	// Preview lifecycle endpoints.
	g.group.Post("/previews", g.handlePreviewCreate,
		okapi.DocSummary("Create a preview sandbox for a project"),
		okapi.DocTags("Previews"),
		okapi.DocRequestBody(CreatePreviewRequest{}),
		okapi.DocResponse(http.StatusCreated, SandboxResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
		okapi.DocResponse(http.StatusUnprocessableEntity, ErrorBody{}),
		okapi.DocResponse(http.StatusServiceUnavailable, ErrorBody{}),
	)
	g.group.Get("/previews", g.handlePreviewList,
		okapi.DocSummary("List active preview sandboxes"),
		okapi.DocTags("Previews"),
		okapi.DocResponse([]SandboxResponse{}),
	)
	g.group.Get("/previews/{projectID}", g.handlePreviewGet,
		okapi.DocSummary("Get a project's preview sandbox"),
		okapi.DocTags("Previews"),
		okapi.DocPathParam("projectID", "string", "Project ID"),
		okapi.DocResponse(SandboxResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Put("/previews/{projectID}", g.handlePreviewUpdate,
		okapi.DocSummary("Re-sync the project snapshot into a running preview"),
		okapi.DocTags("Previews"),
		okapi.DocPathParam("projectID", "string", "Project ID"),
		okapi.DocResponse(SandboxResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Delete("/previews/{projectID}", g.handlePreviewStop,
		okapi.DocSummary("Stop and remove a preview sandbox"),
		okapi.DocTags("Previews"),
		okapi.DocPathParam("projectID", "string", "Project ID"),
		okapi.DocResponse(map[string]string{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Get("/previews/{projectID}/errors", g.handlePreviewErrors,
		okapi.DocSummary("Scan preview logs and return the error analysis"),
		okapi.DocTags("Previews"),
		okapi.DocPathParam("projectID", "string", "Project ID"),
		okapi.DocResponse(ErrorAnalysisResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Get("/previews/{projectID}/analysis", g.handlePreviewAnalysis,
		okapi.DocSummary("Summarize the stored error set without rescanning"),
		okapi.DocTags("Previews"),
		okapi.DocPathParam("projectID", "string", "Project ID"),
		okapi.DocResponse(ErrorAnalysisResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)

	// Container endpoints (addressed by container name or ID).
	g.group.Get("/containers/{handle}/logs", g.handleContainerLogs,
		okapi.DocSummary("Fetch the recent log tail of a preview container"),
		okapi.DocTags("Containers"),
		okapi.DocPathParam("handle", "string", "Container name or ID"),
		okapi.DocResponse(LogsResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Post("/containers/{handle}/exec", g.handleContainerExec,
		okapi.DocSummary("Run a command inside a preview container"),
		okapi.DocTags("Containers"),
		okapi.DocPathParam("handle", "string", "Container name or ID"),
		okapi.DocRequestBody(ExecRequest{}),
		okapi.DocResponse(ExecResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)

	// Project snapshot endpoints.
	g.group.Get("/projects", g.handleProjectList,
		okapi.DocSummary("List stored projects"),
		okapi.DocTags("Projects"),
		okapi.DocResponse([]ProjectResponse{}),
	)
	g.group.Put("/projects/{projectID}/files", g.handleProjectPutFiles,
		okapi.DocSummary("Replace a project's file snapshot"),
		okapi.DocTags("Projects"),
		okapi.DocPathParam("projectID", "string", "Project ID"),
		okapi.DocRequestBody(PutFilesRequest{}),
		okapi.DocResponse(okapi.M{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
	)
	g.group.Get("/projects/{projectID}/files", g.handleProjectGetFiles,
		okapi.DocSummary("Get a project's file snapshot"),
		okapi.DocTags("Projects"),
		okapi.DocPathParam("projectID", "string", "Project ID"),
		okapi.DocResponse([]FileResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Delete("/projects/{projectID}", g.handleProjectDelete,
		okapi.DocSummary("Delete a project and its snapshot"),
		okapi.DocTags("Projects"),
		okapi.DocPathParam("projectID", "string", "Project ID"),
		okapi.DocResponse(map[string]string{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting", slog.String("addr", g.config.ListenAddr))

	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// HealthResponse is the JSON response for the health endpoints.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleLiveness is the Kubernetes liveness probe.
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// --- Authentication ---

// authenticate validates the bearer token and stores the mapped user ID
// on the request context. With no configured keys, auth is disabled and
// all requests run as "anonymous".
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		if len(g.config.APIKeys) == 0 {
			c.Set("userID", "anonymous")
			return next(c)
		}

		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")

		userID := ""
		for key, mapped := range g.config.APIKeys {
			if subtle.ConstantTimeCompare([]byte(token), []byte(key)) == 1 {
				userID = mapped
			}
		}
		if userID == "" {
			return c.AbortUnauthorized("invalid API token")
		}
		c.Set("userID", userID)
		return next(c)
	}
}

// rateLimit applies the per-client token bucket. Returns a non-nil error
// response when the client is over quota.
func (g *Gateway) rateLimit(c *okapi.Context, userID string) error {
	if g.limiter == nil {
		return nil
	}
	if err := g.limiter.Allow(userID); err != nil {
		return c.AbortTooManyRequests("rate limit exceeded")
	}
	return nil
}

// --- Helpers ---

// previewError maps domain errors to HTTP responses.
func previewError(c *okapi.Context, err error) error {
	var buildErr *runtime.BuildError
	var runErr *runtime.RuntimeError
	switch {
	case errors.Is(err, preview.ErrNotFound):
		return c.JSON(http.StatusNotFound, okapi.M{"error": "no active preview"})
	case errors.Is(err, storage.ErrProjectNotFound):
		return c.JSON(http.StatusNotFound, okapi.M{"error": "project not found"})
	case errors.Is(err, preview.ErrTooManyPreviews):
		return c.JSON(http.StatusTooManyRequests, okapi.M{"error": "active preview limit reached"})
	case errors.Is(err, ports.ErrNoFreePort):
		return c.JSON(http.StatusServiceUnavailable, okapi.M{"error": "no free port in the managed range"})
	case errors.As(err, &buildErr):
		return c.JSON(http.StatusUnprocessableEntity, okapi.M{
			"error":        "image build failed",
			"build_output": buildErr.Output,
		})
	case errors.As(err, &runErr):
		return c.JSON(http.StatusUnprocessableEntity, okapi.M{
			"error":          "container failed to start",
			"runtime_output": runErr.Output,
		})
	case errors.Is(err, runtime.ErrContainerNotFound):
		return c.JSON(http.StatusNotFound, okapi.M{"error": "container not found"})
	default:
		return c.AbortInternalServerError("internal error")
	}
}
