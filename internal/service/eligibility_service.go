package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/lms-cohort-api/internal/models"
	appErrors "github.com/noah-isme/lms-cohort-api/pkg/errors"
)

type eligibilityEnrollmentReader interface {
	ListByCourse(ctx context.Context, courseID string, status models.EnrollmentStatus) ([]models.Enrollment, error)
}

type certificateReader interface {
	Exists(ctx context.Context, studentID, courseID string) (bool, error)
	ListByCourse(ctx context.Context, courseID string) ([]models.Certificate, error)
}

type rosterReader interface {
	FindByID(ctx context.Context, id string) (*models.Batch, error)
	ListStudentIDs(ctx context.Context, batchID string) ([]string, error)
}

// EligibilityService resolves which enrollments qualify for a certificate:
// status completed and no certificate yet for the (student, course) pair.
// The result is a read-time filter; the certificate store's uniqueness
// constraint remains the write-time guarantee.
type EligibilityService struct {
	enrollments  eligibilityEnrollmentReader
	certificates certificateReader
	batches      rosterReader
	logger       *zap.Logger
}

// NewEligibilityService constructs EligibilityService.
func NewEligibilityService(enrollments eligibilityEnrollmentReader, certificates certificateReader, batches rosterReader, logger *zap.Logger) *EligibilityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EligibilityService{enrollments: enrollments, certificates: certificates, batches: batches, logger: logger}
}

// EligibleForCourse returns completed, not-yet-certified enrollments for a course.
func (s *EligibilityService) EligibleForCourse(ctx context.Context, courseID string) ([]models.Enrollment, error) {
	completed, err := s.enrollments.ListByCourse(ctx, courseID, models.EnrollmentStatusCompleted)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list completed enrollments")
	}
	certs, err := s.certificates.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list certificates")
	}
	return FilterEligible(completed, certs, nil), nil
}

// EligibleForBatch restricts the course filter to the batch roster and
// additionally requires the batch itself to be completed.
func (s *EligibilityService) EligibleForBatch(ctx context.Context, batchID string) ([]models.Enrollment, error) {
	batch, err := s.batches.FindByID(ctx, batchID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "batch not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load batch")
	}
	if batch.Status != models.BatchStatusCompleted {
		return nil, appErrors.Clone(appErrors.ErrPrecondition, "batch is not completed")
	}

	roster, err := s.batches.ListStudentIDs(ctx, batchID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}
	rosterSet := make(map[string]bool, len(roster))
	for _, id := range roster {
		rosterSet[id] = true
	}

	completed, err := s.enrollments.ListByCourse(ctx, batch.CourseID, models.EnrollmentStatusCompleted)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list completed enrollments")
	}
	certs, err := s.certificates.ListByCourse(ctx, batch.CourseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list certificates")
	}
	return FilterEligible(completed, certs, rosterSet), nil
}

// HasCertificate reports whether a certificate exists for the pair.
func (s *EligibilityService) HasCertificate(ctx context.Context, studentID, courseID string) (bool, error) {
	exists, err := s.certificates.Exists(ctx, studentID, courseID)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check certificate")
	}
	return exists, nil
}

// FilterEligible keeps completed enrollments whose (student, course) pair has
// no certificate yet. A non-nil roster additionally restricts by student.
// Pure function; callers may sort the result as they see fit.
func FilterEligible(enrollments []models.Enrollment, certificates []models.Certificate, roster map[string]bool) []models.Enrollment {
	certified := make(map[string]bool, len(certificates))
	for _, cert := range certificates {
		certified[cert.StudentID+"|"+cert.CourseID] = true
	}

	eligible := make([]models.Enrollment, 0, len(enrollments))
	for _, e := range enrollments {
		if e.Status != models.EnrollmentStatusCompleted {
			continue
		}
		if roster != nil && !roster[e.StudentID] {
			continue
		}
		if certified[e.StudentID+"|"+e.CourseID] {
			continue
		}
		eligible = append(eligible, e)
	}
	return eligible
}
