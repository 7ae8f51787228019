// Package domain defines cross-cutting entity types used across the system.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a preview sandbox.
//
// Legal transitions: starting→running, starting→error, running→error.
// Stopping removes the sandbox from the registry entirely rather than
// parking it in a terminal state; only UpdatePreview or a fresh
// CreatePreview moves an errored sandbox back toward starting.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopped  Status = "stopped"
	StatusError    Status = "error"
)

// Active reports whether the sandbox still owns a port and a container.
func (s Status) Active() bool {
	return s != StatusStopped
}

// RuntimeKind identifies the framework a generated project runs on.
// It selects the build descriptor template and the container's internal port.
type RuntimeKind string

const (
	KindReact   RuntimeKind = "react"
	KindVue     RuntimeKind = "vue"
	KindSvelte  RuntimeKind = "svelte"
	KindNext    RuntimeKind = "next"
	KindFlask   RuntimeKind = "flask"
	KindFastAPI RuntimeKind = "fastapi"
	KindDjango  RuntimeKind = "django"
	KindStatic  RuntimeKind = "static"
)

// InternalPort returns the port the dev/static server listens on inside
// the container for this kind.
func (k RuntimeKind) InternalPort() int {
	switch k {
	case KindReact, KindVue, KindSvelte, KindNext:
		return 3000
	case KindFlask, KindFastAPI, KindDjango:
		return 5000
	default:
		return 80
	}
}

// Valid reports whether k is a known runtime kind.
func (k RuntimeKind) Valid() bool {
	switch k {
	case KindReact, KindVue, KindSvelte, KindNext, KindFlask, KindFastAPI, KindDjango, KindStatic:
		return true
	}
	return false
}

// Sandbox is one ephemeral running preview instance of a project.
//
// Invariants (enforced by the preview registry):
//   - at most one non-stopped Sandbox per ProjectID
//   - Port is never shared between two non-stopped Sandboxes
type Sandbox struct {
	ID              uuid.UUID
	ProjectID       string
	UserID          string
	Kind            RuntimeKind
	Port            int
	URL             string // Derived: http://localhost:<Port>.
	Status          Status
	ContainerID     string // Opaque runtime handle.
	ContainerName   string
	ImageRef        string
	StagingDir      string // Where the file snapshot is materialized.
	AutoCleanup     bool   // Eligible for the idle sweep.
	CreatedAt       time.Time
	LastAccessedAt  time.Time
	LastErrorScanAt time.Time
	Logs            []string // Bounded, append-only tail of container output.
	Errors          []PreviewError
}

// ErrorType classifies a detected preview error.
type ErrorType string

const (
	ErrorCompilation ErrorType = "compilation"
	ErrorRuntime     ErrorType = "runtime"
	ErrorDependency  ErrorType = "dependency"
	ErrorNetwork     ErrorType = "network"
	ErrorContainer   ErrorType = "container"
	ErrorImport      ErrorType = "import"
)

// Severity ranks a detected error. Ordered: low < medium < high < critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns the numeric order of the severity for comparisons.
// Unknown severities rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// PreviewError is one problem detected in a sandbox's logs.
// Within one Sandbox no two PreviewErrors share the same (Type, Message)
// pair — detection replaces the set wholesale on each scan.
type PreviewError struct {
	ID             uuid.UUID
	Type           ErrorType
	Severity       Severity
	Message        string
	Details        string
	SuggestedFix   string
	AutoFixable    bool
	DetectedAt     time.Time
	ContainerID    string
	MatchedLine    string
	MatchedPattern string
}

// ErrorAnalysis is a read-only view computed on demand from a PreviewError
// set. It is never stored.
type ErrorAnalysis struct {
	Errors        []PreviewError
	Summary       string
	MostCritical  *PreviewError
	FixableErrors []PreviewError
	HasCritical   bool
}

// Project is the stored identity of a generated project. Its file
// snapshot lives alongside it and is replaced wholesale on update.
type Project struct {
	ID        string
	UserID    string
	Kind      RuntimeKind
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProjectFile is one file of a project snapshot, as stored and as
// materialized into a sandbox staging directory.
type ProjectFile struct {
	Path    string
	Content string
}

// PreviewURL derives the externally reachable URL for a host port.
func PreviewURL(port int) string {
	return fmt.Sprintf("http://localhost:%d", port)
}
