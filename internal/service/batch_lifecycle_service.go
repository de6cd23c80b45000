package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-cohort-api/internal/models"
	appErrors "github.com/noah-isme/lms-cohort-api/pkg/errors"
)

type batchRepository interface {
	List(ctx context.Context, filter models.BatchFilter) ([]models.BatchDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Batch, error)
	FindDetailByID(ctx context.Context, id string) (*models.BatchDetail, error)
	Create(ctx context.Context, batch *models.Batch) error
	Update(ctx context.Context, batch *models.Batch) error
	SetActive(ctx context.Context, id string, active bool) error
	Delete(ctx context.Context, id string) error
	AssignStudent(ctx context.Context, batchID, studentID string) error
	RemoveStudent(ctx context.Context, batchID, studentID string) error
	ListStudentIDs(ctx context.Context, batchID string) ([]string, error)
}

type courseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type weekProgressWiper interface {
	CountCompleted(ctx context.Context, batchID string) (int, error)
	DeleteByBatch(ctx context.Context, batchID string) error
}

// CreateBatchRequest describes batch creation payload.
type CreateBatchRequest struct {
	CourseID string `json:"course_id" validate:"required"`
	Name     string `json:"name" validate:"required"`
}

// SetBatchDatesRequest carries explicit start/end dates.
type SetBatchDatesRequest struct {
	StartDate time.Time `json:"start_date" validate:"required"`
	EndDate   time.Time `json:"end_date" validate:"required"`
}

// BatchLifecycleService owns batch status transitions and date computation.
// Batches are mutated only through this service and ProgressService so the
// transition table and the week prefix invariant always hold.
type BatchLifecycleService struct {
	repo      batchRepository
	courses   courseReader
	weeks     weekProgressWiper
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewBatchLifecycleService constructs BatchLifecycleService.
func NewBatchLifecycleService(repo batchRepository, courses courseReader, weeks weekProgressWiper, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *BatchLifecycleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchLifecycleService{repo: repo, courses: courses, weeks: weeks, cache: cache, metrics: metrics, validator: validate, logger: logger}
}

// List returns batches with pagination metadata.
func (s *BatchLifecycleService) List(ctx context.Context, filter models.BatchFilter) ([]models.BatchDetail, *models.Pagination, error) {
	batches, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list batches")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return batches, pagination, nil
}

// Get returns a single batch with course context.
func (s *BatchLifecycleService) Get(ctx context.Context, id string) (*models.BatchDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "batch not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load batch")
	}
	return detail, nil
}

// Create registers a new batch bound to a course, starting at not started.
func (s *BatchLifecycleService) Create(ctx context.Context, req CreateBatchRequest) (*models.BatchDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid batch payload")
	}
	if _, err := s.courses.FindByID(ctx, req.CourseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	batch := &models.Batch{CourseID: req.CourseID, Name: req.Name, Status: models.BatchStatusNotStarted}
	if err := s.repo.Create(ctx, batch); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create batch")
	}
	return s.Get(ctx, batch.ID)
}

// Start begins a not-started batch, computing dates from the course duration.
func (s *BatchLifecycleService) Start(ctx context.Context, id string) (*models.BatchDetail, error) {
	batch, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if batch.Status != models.BatchStatusNotStarted {
		return nil, appErrors.Clone(appErrors.ErrPrecondition, "batch already started")
	}
	if batch.CourseID == "" {
		return nil, appErrors.Clone(appErrors.ErrPrecondition, "batch has no course assigned")
	}
	course, err := s.courses.FindByID(ctx, batch.CourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrPrecondition, "assigned course no longer exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	start := time.Now().UTC()
	end := start.AddDate(0, 0, course.DurationWeeks*7)
	batch.StartDate = &start
	batch.EndDate = &end
	batch.Status = models.BatchStatusActive
	if err := s.repo.Update(ctx, batch); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to start batch")
	}
	s.logger.Info("batch started", zap.String("batch_id", batch.ID), zap.Time("end_date", end))
	return s.Get(ctx, id)
}

// SetDates sets explicit dates; on a not-started batch this is an alternate
// path to starting and promotes the batch to active.
func (s *BatchLifecycleService) SetDates(ctx context.Context, id string, req SetBatchDatesRequest) (*models.BatchDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid dates payload")
	}
	if !req.EndDate.After(req.StartDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end date must be after start date")
	}
	batch, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if batch.Status == models.BatchStatusArchived {
		return nil, appErrors.Clone(appErrors.ErrPrecondition, "batch is archived")
	}
	start := req.StartDate.UTC()
	end := req.EndDate.UTC()
	batch.StartDate = &start
	batch.EndDate = &end
	if batch.Status == models.BatchStatusNotStarted {
		batch.Status = models.BatchStatusActive
	}
	if err := s.repo.Update(ctx, batch); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to set batch dates")
	}
	return s.Get(ctx, id)
}

// Restart resets a batch to not started, wiping all week progress.
// Restarting a not-started batch is a no-op success.
func (s *BatchLifecycleService) Restart(ctx context.Context, id string) (*models.BatchDetail, error) {
	batch, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if batch.Status == models.BatchStatusArchived {
		return nil, appErrors.Clone(appErrors.ErrPrecondition, "batch is archived")
	}
	if batch.Status == models.BatchStatusNotStarted {
		return s.Get(ctx, id)
	}
	if err := s.weeks.DeleteByBatch(ctx, id); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset week progress")
	}
	batch.StartDate = nil
	batch.EndDate = nil
	batch.ProgressPercentage = 0
	batch.CertificatesIssued = false
	batch.Status = models.BatchStatusNotStarted
	if err := s.repo.Update(ctx, batch); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to restart batch")
	}
	s.cache.InvalidateProgress(ctx, id)
	s.logger.Info("batch restarted", zap.String("batch_id", id))
	return s.Get(ctx, id)
}

// MarkCompleted transitions a batch to completed once every week is done.
func (s *BatchLifecycleService) MarkCompleted(ctx context.Context, id string) (*models.BatchDetail, error) {
	batch, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if batch.Status == models.BatchStatusCompleted {
		return s.Get(ctx, id)
	}
	if !batch.Status.CanTransitionTo(models.BatchStatusCompleted) {
		return nil, appErrors.Clone(appErrors.ErrPrecondition, "batch cannot be completed from its current state")
	}
	course, err := s.courses.FindByID(ctx, batch.CourseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	completed, err := s.weeks.CountCompleted(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count completed weeks")
	}
	if completed < course.DurationWeeks {
		return nil, appErrors.Clone(appErrors.ErrPrecondition, "all weeks must be completed first")
	}
	batch.Status = models.BatchStatusCompleted
	batch.ProgressPercentage = 100
	if err := s.repo.Update(ctx, batch); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete batch")
	}
	return s.Get(ctx, id)
}

// Archive moves a batch to the terminal archived state.
func (s *BatchLifecycleService) Archive(ctx context.Context, id string) (*models.BatchDetail, error) {
	batch, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if batch.Status == models.BatchStatusArchived {
		return s.Get(ctx, id)
	}
	if !batch.Status.CanTransitionTo(models.BatchStatusArchived) {
		return nil, appErrors.Clone(appErrors.ErrPrecondition, "batch cannot be archived from its current state")
	}
	batch.Status = models.BatchStatusArchived
	if err := s.repo.Update(ctx, batch); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to archive batch")
	}
	return s.Get(ctx, id)
}

// SoftDelete deactivates a batch without removing its rows.
func (s *BatchLifecycleService) SoftDelete(ctx context.Context, id string) error {
	if _, err := s.load(ctx, id); err != nil {
		return err
	}
	if err := s.repo.SetActive(ctx, id, false); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate batch")
	}
	return nil
}

// HardDelete removes the batch record. Enrollments and roster rows are left
// in place for audit; only the batch itself is deleted.
func (s *BatchLifecycleService) HardDelete(ctx context.Context, id string) error {
	if _, err := s.load(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete batch")
	}
	s.cache.InvalidateProgress(ctx, id)
	return nil
}

// AssignStudent adds a student to the batch roster.
func (s *BatchLifecycleService) AssignStudent(ctx context.Context, batchID, studentID string) error {
	batch, err := s.load(ctx, batchID)
	if err != nil {
		return err
	}
	if batch.Status == models.BatchStatusArchived {
		return appErrors.Clone(appErrors.ErrPrecondition, "batch is archived")
	}
	if err := s.repo.AssignStudent(ctx, batchID, studentID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign student")
	}
	return nil
}

// RemoveStudent removes a student from the batch roster.
func (s *BatchLifecycleService) RemoveStudent(ctx context.Context, batchID, studentID string) error {
	if _, err := s.load(ctx, batchID); err != nil {
		return err
	}
	if err := s.repo.RemoveStudent(ctx, batchID, studentID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove student")
	}
	return nil
}

func (s *BatchLifecycleService) load(ctx context.Context, id string) (*models.Batch, error) {
	batch, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "batch not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load batch")
	}
	return batch, nil
}
