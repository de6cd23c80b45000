package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/lms-cohort-api/internal/models"
)

// ErrDuplicateCertificate is returned when the unique (student_id, course_id)
// constraint rejects an insert. It is the write-time uniqueness guarantee;
// eligibility checks are only a read-time filter.
var ErrDuplicateCertificate = errors.New("certificate already exists for student and course")

const pgUniqueViolation = "23505"

// CertificateRepository handles persistence of issued certificates.
type CertificateRepository struct {
	db *sqlx.DB
}

// NewCertificateRepository constructs the repository.
func NewCertificateRepository(db *sqlx.DB) *CertificateRepository {
	return &CertificateRepository{db: db}
}

// Exists checks whether a certificate exists for the (student, course) pair.
func (r *CertificateRepository) Exists(ctx context.Context, studentID, courseID string) (bool, error) {
	const query = `SELECT 1 FROM certificates WHERE student_id = $1 AND course_id = $2 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, courseID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check certificate: %w", err)
	}
	return true, nil
}

// Create persists a new certificate. A unique-constraint violation on
// (student_id, course_id) is reported as ErrDuplicateCertificate.
func (r *CertificateRepository) Create(ctx context.Context, cert *models.Certificate) error {
	if cert.ID == "" {
		cert.ID = uuid.NewString()
	}
	if cert.IssuedAt.IsZero() {
		cert.IssuedAt = time.Now().UTC()
	}
	const query = `INSERT INTO certificates (id, student_id, course_id, enrollment_id, template_id,
        serial_number, artifact_path, artifact_url, issued_at, issued_by)
        VALUES (:id, :student_id, :course_id, :enrollment_id, :template_id,
        :serial_number, :artifact_path, :artifact_url, :issued_at, :issued_by)`
	if _, err := r.db.NamedExecContext(ctx, query, cert); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation {
			return ErrDuplicateCertificate
		}
		return fmt.Errorf("create certificate: %w", err)
	}
	return nil
}

// FindByID returns a certificate by its ID.
func (r *CertificateRepository) FindByID(ctx context.Context, id string) (*models.Certificate, error) {
	const query = `SELECT id, student_id, course_id, enrollment_id, template_id, serial_number,
        artifact_path, artifact_url, issued_at, issued_by, regenerated_at
        FROM certificates WHERE id = $1`
	var cert models.Certificate
	if err := r.db.GetContext(ctx, &cert, query, id); err != nil {
		return nil, err
	}
	return &cert, nil
}

// FindByStudentAndCourse returns the certificate for a pair if it exists.
func (r *CertificateRepository) FindByStudentAndCourse(ctx context.Context, studentID, courseID string) (*models.Certificate, error) {
	const query = `SELECT id, student_id, course_id, enrollment_id, template_id, serial_number,
        artifact_path, artifact_url, issued_at, issued_by, regenerated_at
        FROM certificates WHERE student_id = $1 AND course_id = $2`
	var cert models.Certificate
	if err := r.db.GetContext(ctx, &cert, query, studentID, courseID); err != nil {
		return nil, err
	}
	return &cert, nil
}

// List returns certificates filtered by the provided criteria.
func (r *CertificateRepository) List(ctx context.Context, filter models.CertificateFilter) ([]models.Certificate, int, error) {
	base := "FROM certificates"
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT id, student_id, course_id, enrollment_id, template_id, serial_number,
        artifact_path, artifact_url, issued_at, issued_by, regenerated_at
        %s ORDER BY issued_at DESC LIMIT %d OFFSET %d`, base+clause, size, offset)

	var certs []models.Certificate
	if err := r.db.SelectContext(ctx, &certs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list certificates: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count certificates: %w", err)
	}
	return certs, total, nil
}

// ListByCourse returns all certificates issued for a course.
func (r *CertificateRepository) ListByCourse(ctx context.Context, courseID string) ([]models.Certificate, error) {
	const query = `SELECT id, student_id, course_id, enrollment_id, template_id, serial_number,
        artifact_path, artifact_url, issued_at, issued_by, regenerated_at
        FROM certificates WHERE course_id = $1`
	var certs []models.Certificate
	if err := r.db.SelectContext(ctx, &certs, query, courseID); err != nil {
		return nil, fmt.Errorf("list course certificates: %w", err)
	}
	return certs, nil
}

// UpdateArtifact replaces the rendered artifact for an existing certificate.
// The identity key (student, course) never changes.
func (r *CertificateRepository) UpdateArtifact(ctx context.Context, id, artifactPath, artifactURL string, regeneratedAt time.Time) error {
	const query = `UPDATE certificates SET artifact_path = $2, artifact_url = $3, regenerated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, artifactPath, artifactURL, regeneratedAt); err != nil {
		return fmt.Errorf("update certificate artifact: %w", err)
	}
	return nil
}
