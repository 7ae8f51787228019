// Package storage persists project snapshots behind the SnapshotStore
// interface. Two backends are provided: SQLite (default, zero-config) and
// PostgreSQL. All GORM usage is confined to this package — domain types
// remain ORM-free.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jkaninda/onyesha/internal/domain"
)

// DefaultDriver is the default storage driver.
const DefaultDriver = "sqlite"

// DriverSQLite is the SQLite driver name.
const DriverSQLite = "sqlite"

// DriverPostgres is the PostgreSQL driver name.
const DriverPostgres = "postgres"

// ErrProjectNotFound is returned when a project does not exist.
var ErrProjectNotFound = errors.New("project not found")

// SnapshotStore is the persistence surface for projects and their file
// snapshots. Both backends implement it through the shared repository.
type SnapshotStore interface {
	// GetProject returns a stored project, or ErrProjectNotFound.
	GetProject(ctx context.Context, projectID string) (*domain.Project, error)

	// SaveProject upserts a project's identity row.
	SaveProject(ctx context.Context, p *domain.Project) error

	// ListProjects returns all stored projects, newest first.
	ListProjects(ctx context.Context) ([]domain.Project, error)

	// DeleteProject removes a project and its snapshot.
	// ErrProjectNotFound when the project does not exist.
	DeleteProject(ctx context.Context, projectID string) error

	// GetProjectFiles returns the current file snapshot, sorted by path.
	GetProjectFiles(ctx context.Context, projectID string) ([]domain.ProjectFile, error)

	// PutProjectFiles replaces the project's snapshot wholesale and bumps
	// its UpdatedAt. The project row must already exist.
	PutProjectFiles(ctx context.Context, projectID string, files []domain.ProjectFile) error

	// Lifecycle.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	// Driver returns the storage driver name ("sqlite" or "postgres").
	Driver() string
}

// Config holds storage configuration for driver selection.
type Config struct {
	Driver   string         `json:"driver" yaml:"driver"` // "sqlite" (default) or "postgres"
	SQLite   SQLiteConfig   `json:"sqlite" yaml:"sqlite"`
	Postgres PostgresConfig `json:"postgres" yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: derived from workspace.
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"`
}

// Open selects and opens a backend from config. defaultSQLitePath is used
// when the sqlite path is not set explicitly (derived from the workspace).
func Open(cfg Config, defaultSQLitePath string, logger *slog.Logger) (SnapshotStore, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DefaultDriver
	}
	switch driver {
	case DriverSQLite:
		sc := cfg.SQLite
		if sc.Path == "" {
			sc.Path = defaultSQLitePath
		}
		return OpenSQLite(sc, logger)
	case DriverPostgres:
		return OpenPostgres(cfg.Postgres, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
