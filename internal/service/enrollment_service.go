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

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
	UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus, decidedAt, completedAt *time.Time) error
	UpdateProgressPercent(ctx context.Context, id string, percent int) error
}

// ApplyEnrollmentRequest describes an enrollment application payload.
type ApplyEnrollmentRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	CourseID  string `json:"course_id" validate:"required"`
}

// SetStudentProgressRequest updates the teacher-entered per-student percentage.
type SetStudentProgressRequest struct {
	ProgressPercent int `json:"progress_percent" validate:"min=0,max=100"`
}

// EnrollmentService owns the pending -> approved/rejected gate and the
// externally driven approved -> completed transition.
type EnrollmentService struct {
	repo      enrollmentRepository
	courses   courseReader
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, courses courseReader, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{repo: repo, courses: courses, validator: validate, logger: logger}
}

// List returns enrollments with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
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
	return enrollments, pagination, nil
}

// Apply registers a new pending enrollment for a student and course.
func (s *EnrollmentService) Apply(ctx context.Context, req ApplyEnrollmentRequest) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	if _, err := s.courses.FindByID(ctx, req.CourseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	enrollment := &models.Enrollment{StudentID: req.StudentID, CourseID: req.CourseID, Status: models.EnrollmentStatusPending}
	if err := s.repo.Create(ctx, enrollment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}
	return s.detail(ctx, enrollment.ID)
}

// Approve moves a pending enrollment to approved.
func (s *EnrollmentService) Approve(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	return s.transition(ctx, id, models.EnrollmentStatusApproved)
}

// Reject moves a pending enrollment to rejected. Rejected is terminal.
func (s *EnrollmentService) Reject(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	return s.transition(ctx, id, models.EnrollmentStatusRejected)
}

// Complete moves an approved enrollment to completed. The trigger is
// external (attendance or grading); the engine only enforces the gate.
func (s *EnrollmentService) Complete(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	return s.transition(ctx, id, models.EnrollmentStatusCompleted)
}

func (s *EnrollmentService) transition(ctx context.Context, id string, target models.EnrollmentStatus) (*models.EnrollmentDetail, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if !enrollment.Status.CanTransitionTo(target) {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "enrollment is "+string(enrollment.Status)+", cannot become "+string(target))
	}

	now := time.Now().UTC()
	var decidedAt, completedAt *time.Time
	switch target {
	case models.EnrollmentStatusApproved, models.EnrollmentStatusRejected:
		decidedAt = &now
	case models.EnrollmentStatusCompleted:
		completedAt = &now
	}
	if err := s.repo.UpdateStatus(ctx, id, target, decidedAt, completedAt); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update enrollment status")
	}
	s.logger.Info("enrollment transitioned", zap.String("enrollment_id", id), zap.String("status", string(target)))
	return s.detail(ctx, id)
}

// SetStudentProgress stores the teacher-entered percentage for one student.
// This metric is independent from batch week progress and never derived
// from it.
func (s *EnrollmentService) SetStudentProgress(ctx context.Context, id string, req SetStudentProgressRequest) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid progress payload")
	}
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if err := s.repo.UpdateProgressPercent(ctx, id, req.ProgressPercent); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update student progress")
	}
	return s.detail(ctx, id)
}

func (s *EnrollmentService) detail(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment detail")
	}
	return detail, nil
}
