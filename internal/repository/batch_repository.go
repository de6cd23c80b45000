package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-cohort-api/internal/models"
)

// BatchRepository handles persistence of batches and their rosters.
type BatchRepository struct {
	db *sqlx.DB
}

// NewBatchRepository constructs the repository.
func NewBatchRepository(db *sqlx.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// List returns batches filtered by the provided criteria.
func (r *BatchRepository) List(ctx context.Context, filter models.BatchFilter) ([]models.BatchDetail, int, error) {
	base := `FROM batches b
LEFT JOIN courses c ON c.id = b.course_id`
	var conditions []string
	var args []interface{}

	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("b.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("b.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("b.active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"created_at":   "b.created_at",
		"name":         "b.name",
		"start_date":   "b.start_date",
		"course_title": "c.title",
	}
	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}
	orderBy := allowedSorts[sortBy]
	if orderBy == "" {
		orderBy = "b.created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT b.id, b.course_id, b.name, b.status, b.start_date, b.end_date,
        b.progress_percentage, b.certificates_issued, b.active, b.created_at, b.updated_at,
        c.title AS course_title, c.duration_weeks,
        (SELECT COUNT(*) FROM batch_students bs WHERE bs.batch_id = b.id) AS student_count
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var batches []models.BatchDetail
	if err := r.db.SelectContext(ctx, &batches, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list batches: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count batches: %w", err)
	}
	return batches, total, nil
}

// FindByID returns a batch by its ID.
func (r *BatchRepository) FindByID(ctx context.Context, id string) (*models.Batch, error) {
	const query = `SELECT id, course_id, name, status, start_date, end_date, progress_percentage,
        certificates_issued, active, created_at, updated_at FROM batches WHERE id = $1`
	var batch models.Batch
	if err := r.db.GetContext(ctx, &batch, query, id); err != nil {
		return nil, err
	}
	return &batch, nil
}

// FindDetailByID returns a batch with course context.
func (r *BatchRepository) FindDetailByID(ctx context.Context, id string) (*models.BatchDetail, error) {
	const query = `SELECT b.id, b.course_id, b.name, b.status, b.start_date, b.end_date,
        b.progress_percentage, b.certificates_issued, b.active, b.created_at, b.updated_at,
        c.title AS course_title, c.duration_weeks,
        (SELECT COUNT(*) FROM batch_students bs WHERE bs.batch_id = b.id) AS student_count
        FROM batches b
        LEFT JOIN courses c ON c.id = b.course_id
        WHERE b.id = $1`
	var detail models.BatchDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// Create persists a new batch record.
func (r *BatchRepository) Create(ctx context.Context, batch *models.Batch) error {
	now := time.Now().UTC()
	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	if batch.Status == "" {
		batch.Status = models.BatchStatusNotStarted
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = now
	}
	batch.UpdatedAt = now
	batch.Active = true
	const query = `INSERT INTO batches (id, course_id, name, status, start_date, end_date,
        progress_percentage, certificates_issued, active, created_at, updated_at)
        VALUES (:id, :course_id, :name, :status, :start_date, :end_date,
        :progress_percentage, :certificates_issued, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, batch); err != nil {
		return fmt.Errorf("create batch: %w", err)
	}
	return nil
}

// Update persists status, dates, progress and flags for a batch.
func (r *BatchRepository) Update(ctx context.Context, batch *models.Batch) error {
	batch.UpdatedAt = time.Now().UTC()
	const query = `UPDATE batches SET status = :status, start_date = :start_date, end_date = :end_date,
        progress_percentage = :progress_percentage, certificates_issued = :certificates_issued,
        name = :name, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, batch); err != nil {
		return fmt.Errorf("update batch: %w", err)
	}
	return nil
}

// SetActive soft-deletes or restores a batch.
func (r *BatchRepository) SetActive(ctx context.Context, id string, active bool) error {
	const query = `UPDATE batches SET active = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, active, time.Now().UTC()); err != nil {
		return fmt.Errorf("set batch active: %w", err)
	}
	return nil
}

// Delete hard-deletes the batch record. Roster rows and enrollments are
// intentionally not cascaded.
func (r *BatchRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM batches WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete batch: %w", err)
	}
	return nil
}

// AssignStudent adds a student to the batch roster. Adding twice is a no-op.
func (r *BatchRepository) AssignStudent(ctx context.Context, batchID, studentID string) error {
	const query = `INSERT INTO batch_students (batch_id, student_id, assigned_at)
        VALUES ($1, $2, $3) ON CONFLICT (batch_id, student_id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, batchID, studentID, time.Now().UTC()); err != nil {
		return fmt.Errorf("assign student: %w", err)
	}
	return nil
}

// RemoveStudent removes a student from the batch roster.
func (r *BatchRepository) RemoveStudent(ctx context.Context, batchID, studentID string) error {
	const query = `DELETE FROM batch_students WHERE batch_id = $1 AND student_id = $2`
	if _, err := r.db.ExecContext(ctx, query, batchID, studentID); err != nil {
		return fmt.Errorf("remove student: %w", err)
	}
	return nil
}

// ListStudentIDs returns the roster for a batch.
func (r *BatchRepository) ListStudentIDs(ctx context.Context, batchID string) ([]string, error) {
	const query = `SELECT student_id FROM batch_students WHERE batch_id = $1 ORDER BY assigned_at`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, batchID); err != nil {
		return nil, fmt.Errorf("list batch students: %w", err)
	}
	return ids, nil
}
