package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jkaninda/onyesha/internal/domain"
)

// repository implements the SnapshotStore data operations over a GORM DB.
// Both backends embed it; GORM's dialects handle the SQL differences.
type repository struct {
	db     *gorm.DB
	driver string
}

func (r *repository) GetProject(ctx context.Context, projectID string) (*domain.Project, error) {
	var model ProjectModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", projectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("getting project %s: %w", projectID, err)
	}
	return toProjectDomain(&model), nil
}

func (r *repository) SaveProject(ctx context.Context, p *domain.Project) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	model := toProjectModel(p)
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"user_id", "kind", "updated_at"}),
		}).
		Create(&model).Error; err != nil {
		return fmt.Errorf("saving project %s: %w", p.ID, err)
	}
	return nil
}

func (r *repository) ListProjects(ctx context.Context) ([]domain.Project, error) {
	var models []ProjectModel
	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	projects := make([]domain.Project, len(models))
	for i := range models {
		projects[i] = *toProjectDomain(&models[i])
	}
	return projects, nil
}

func (r *repository) DeleteProject(ctx context.Context, projectID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&ProjectModel{}, "id = ?", projectID)
		if result.Error != nil {
			return fmt.Errorf("deleting project %s: %w", projectID, result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrProjectNotFound
		}
		if err := tx.Delete(&ProjectFileModel{}, "project_id = ?", projectID).Error; err != nil {
			return fmt.Errorf("deleting files of project %s: %w", projectID, err)
		}
		return nil
	})
}

func (r *repository) GetProjectFiles(ctx context.Context, projectID string) ([]domain.ProjectFile, error) {
	var models []ProjectFileModel
	if err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("path ASC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("getting files of project %s: %w", projectID, err)
	}
	files := make([]domain.ProjectFile, len(models))
	for i, m := range models {
		files[i] = domain.ProjectFile{Path: m.Path, Content: m.Content}
	}
	return files, nil
}

func (r *repository) PutProjectFiles(ctx context.Context, projectID string, files []domain.ProjectFile) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&ProjectModel{}).Where("id = ?", projectID).Count(&count).Error; err != nil {
			return fmt.Errorf("checking project %s: %w", projectID, err)
		}
		if count == 0 {
			return ErrProjectNotFound
		}

		// Replace the snapshot wholesale so removed files do not linger.
		if err := tx.Delete(&ProjectFileModel{}, "project_id = ?", projectID).Error; err != nil {
			return fmt.Errorf("clearing snapshot of project %s: %w", projectID, err)
		}
		for _, f := range files {
			model := ProjectFileModel{ProjectID: projectID, Path: f.Path, Content: f.Content}
			if err := tx.Create(&model).Error; err != nil {
				return fmt.Errorf("storing file %s of project %s: %w", f.Path, projectID, err)
			}
		}

		return tx.Model(&ProjectModel{}).
			Where("id = ?", projectID).
			Update("updated_at", time.Now().UTC()).Error
	})
}

func (r *repository) Migrate(_ context.Context) error {
	return r.db.AutoMigrate(&ProjectModel{}, &ProjectFileModel{})
}

func (r *repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (r *repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r *repository) Driver() string {
	return r.driver
}
