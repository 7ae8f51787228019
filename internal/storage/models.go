package storage

import (
	"time"

	"github.com/jkaninda/onyesha/internal/domain"
)

// ProjectModel is the GORM row for a project.
type ProjectModel struct {
	ID        string    `gorm:"primaryKey;size:128"`
	UserID    string    `gorm:"size:128;index"`
	Kind      string    `gorm:"size:32"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (ProjectModel) TableName() string { return "projects" }

// ProjectFileModel is one file of a project snapshot.
type ProjectFileModel struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	ProjectID string `gorm:"size:128;index:idx_project_file_path,unique"`
	Path      string `gorm:"size:512;index:idx_project_file_path,unique"`
	Content   string `gorm:"type:text"`
}

func (ProjectFileModel) TableName() string { return "project_files" }

func toProjectModel(p *domain.Project) ProjectModel {
	return ProjectModel{
		ID:        p.ID,
		UserID:    p.UserID,
		Kind:      string(p.Kind),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func toProjectDomain(m *ProjectModel) *domain.Project {
	return &domain.Project{
		ID:        m.ID,
		UserID:    m.UserID,
		Kind:      domain.RuntimeKind(m.Kind),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}
