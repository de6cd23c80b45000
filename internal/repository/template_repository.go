package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-cohort-api/internal/models"
)

// TemplateRepository reads certificate templates and teacher assignments.
// Both are external reference data, read-only to the engine.
type TemplateRepository struct {
	db *sqlx.DB
}

// NewTemplateRepository constructs the repository.
func NewTemplateRepository(db *sqlx.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// FindByID returns a template by its ID.
func (r *TemplateRepository) FindByID(ctx context.Context, id string) (*models.CertificateTemplate, error) {
	const query = `SELECT id, name, title, subtitle, signed_by, active, created_at
        FROM certificate_templates WHERE id = $1`
	var tpl models.CertificateTemplate
	if err := r.db.GetContext(ctx, &tpl, query, id); err != nil {
		return nil, err
	}
	return &tpl, nil
}

// ListActive returns all active templates.
func (r *TemplateRepository) ListActive(ctx context.Context) ([]models.CertificateTemplate, error) {
	const query = `SELECT id, name, title, subtitle, signed_by, active, created_at
        FROM certificate_templates WHERE active = TRUE ORDER BY name`
	var templates []models.CertificateTemplate
	if err := r.db.SelectContext(ctx, &templates, query); err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return templates, nil
}

// ListForTeacher returns the templates assigned to a teacher.
func (r *TemplateRepository) ListForTeacher(ctx context.Context, teacherID string) ([]models.CertificateTemplate, error) {
	const query = `SELECT t.id, t.name, t.title, t.subtitle, t.signed_by, t.active, t.created_at
        FROM certificate_templates t
        JOIN certificate_assignments a ON a.template_id = t.id
        WHERE a.teacher_id = $1 AND t.active = TRUE ORDER BY t.name`
	var templates []models.CertificateTemplate
	if err := r.db.SelectContext(ctx, &templates, query, teacherID); err != nil {
		return nil, fmt.Errorf("list teacher templates: %w", err)
	}
	return templates, nil
}
