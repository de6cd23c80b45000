package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-cohort-api/internal/models"
	"github.com/noah-isme/lms-cohort-api/internal/repository"
	appErrors "github.com/noah-isme/lms-cohort-api/pkg/errors"
	"github.com/noah-isme/lms-cohort-api/pkg/jobs"
)

type issuanceEnrollmentReader interface {
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
}

type certificateStore interface {
	Exists(ctx context.Context, studentID, courseID string) (bool, error)
	Create(ctx context.Context, cert *models.Certificate) error
	FindByID(ctx context.Context, id string) (*models.Certificate, error)
	List(ctx context.Context, filter models.CertificateFilter) ([]models.Certificate, int, error)
	UpdateArtifact(ctx context.Context, id, artifactPath, artifactURL string, regeneratedAt time.Time) error
}

type templateReader interface {
	FindByID(ctx context.Context, id string) (*models.CertificateTemplate, error)
	ListActive(ctx context.Context) ([]models.CertificateTemplate, error)
	ListForTeacher(ctx context.Context, teacherID string) ([]models.CertificateTemplate, error)
}

type issuanceBatchStore interface {
	FindByID(ctx context.Context, id string) (*models.Batch, error)
	Update(ctx context.Context, batch *models.Batch) error
}

type batchEligibilityResolver interface {
	EligibleForBatch(ctx context.Context, batchID string) ([]models.Enrollment, error)
	EligibleForCourse(ctx context.Context, courseID string) ([]models.Enrollment, error)
}

// IssueManyRequest is the bulk issuance payload.
type IssueManyRequest struct {
	EnrollmentIDs []string `json:"enrollment_ids" validate:"required,min=1,dive,required"`
	TemplateID    string   `json:"template_id" validate:"required"`
}

// IssuanceService coordinates certificate issuance: it re-checks eligibility
// per enrollment, invokes the issuer once per target and aggregates
// independent per-item outcomes. A duplicate-key rejection from the
// certificate store is reported as AlreadyCertified, which makes every
// issuance call safe to re-invoke.
type IssuanceService struct {
	enrollments  issuanceEnrollmentReader
	certificates certificateStore
	templates    templateReader
	batches      issuanceBatchStore
	courses      courseReader
	eligibility  batchEligibilityResolver
	issuer       CertificateIssuer
	pool         *jobs.Pool
	metrics      *MetricsService
	validator    *validator.Validate
	logger       *zap.Logger
}

// NewIssuanceService constructs IssuanceService.
func NewIssuanceService(
	enrollments issuanceEnrollmentReader,
	certificates certificateStore,
	templates templateReader,
	batches issuanceBatchStore,
	courses courseReader,
	eligibility batchEligibilityResolver,
	issuer CertificateIssuer,
	pool *jobs.Pool,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
) *IssuanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if pool == nil {
		pool = jobs.NewPool(jobs.PoolConfig{Concurrency: 1, Logger: logger})
	}
	return &IssuanceService{
		enrollments:  enrollments,
		certificates: certificates,
		templates:    templates,
		batches:      batches,
		courses:      courses,
		eligibility:  eligibility,
		issuer:       issuer,
		pool:         pool,
		metrics:      metrics,
		validator:    validate,
		logger:       logger,
	}
}

// IssueOne issues a certificate for a single enrollment. Domain failures
// (already certified, enrollment not completed, template missing, issuer
// failure) come back as a failed result, not an error; errors are reserved
// for unknown ids and infrastructure faults.
func (s *IssuanceService) IssueOne(ctx context.Context, enrollmentID, templateID, issuedBy string) (*models.IssuanceResult, error) {
	if enrollmentID == "" || templateID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "enrollment id and template id are required")
	}

	detail, err := s.enrollments.FindDetailByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	course, err := s.courses.FindByID(ctx, detail.CourseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if !course.CertificateEnabled {
		return nil, appErrors.Clone(appErrors.ErrPrecondition, "course does not issue certificates")
	}

	result := s.issue(ctx, detail, templateID, issuedBy)
	s.metrics.RecordIssuance(result.Issued, string(result.Reason))
	return &result, nil
}

// issue performs one issuance attempt and encodes every domain failure in
// the result so bulk flows never abort.
func (s *IssuanceService) issue(ctx context.Context, detail *models.EnrollmentDetail, templateID, issuedBy string) models.IssuanceResult {
	result := models.IssuanceResult{EnrollmentID: detail.ID}

	if detail.Status != models.EnrollmentStatusCompleted {
		result.Reason = models.FailureEnrollmentNotCompleted
		result.Detail = "enrollment status is " + string(detail.Status)
		return result
	}

	// Read-time filter; the insert below is the authoritative guard.
	exists, err := s.certificates.Exists(ctx, detail.StudentID, detail.CourseID)
	if err != nil {
		result.Reason = models.FailureIssuerError
		result.Detail = err.Error()
		return result
	}
	if exists {
		result.Reason = models.FailureAlreadyCertified
		return result
	}

	tpl, err := s.templates.FindByID(ctx, templateID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			result.Reason = models.FailureTemplateNotFound
			return result
		}
		result.Reason = models.FailureIssuerError
		result.Detail = err.Error()
		return result
	}

	cert := models.Certificate{
		ID:           uuid.NewString(),
		StudentID:    detail.StudentID,
		CourseID:     detail.CourseID,
		EnrollmentID: detail.ID,
		TemplateID:   tpl.ID,
		SerialNumber: newSerialNumber(),
		IssuedAt:     time.Now().UTC(),
		IssuedBy:     issuedBy,
	}

	artifactPath, artifactURL, err := s.issuer.Issue(ctx, IssueArtifactRequest{
		Certificate: cert,
		Template:    *tpl,
		StudentName: detail.StudentName,
		CourseTitle: detail.CourseTitle,
	})
	if err != nil {
		result.Reason = models.FailureIssuerError
		result.Detail = err.Error()
		return result
	}
	cert.ArtifactPath = artifactPath
	cert.ArtifactURL = artifactURL

	if err := s.certificates.Create(ctx, &cert); err != nil {
		if errors.Is(err, repository.ErrDuplicateCertificate) {
			// Lost the race; the winning certificate stands.
			result.Reason = models.FailureAlreadyCertified
			return result
		}
		result.Reason = models.FailureIssuerError
		result.Detail = err.Error()
		return result
	}

	s.logger.Info("certificate issued",
		zap.String("certificate_id", cert.ID),
		zap.String("student_id", cert.StudentID),
		zap.String("course_id", cert.CourseID))
	result.Issued = true
	result.Certificate = &cert
	return result
}

// IssueMany issues certificates for each enrollment independently. The
// output always carries exactly one outcome per input id; one failure never
// aborts the rest.
func (s *IssuanceService) IssueMany(ctx context.Context, req IssueManyRequest, issuedBy string) (*models.BulkIssuanceResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk issuance payload")
	}

	tasks := make([]jobs.Task, len(req.EnrollmentIDs))
	for i, id := range req.EnrollmentIDs {
		tasks[i] = jobs.Task{Key: id}
	}

	poolResults := s.pool.Run(ctx, func(ctx context.Context, task jobs.Task) (interface{}, error) {
		detail, err := s.enrollments.FindDetailByID(ctx, task.Key)
		if err != nil {
			return nil, err
		}
		result := s.issue(ctx, detail, req.TemplateID, issuedBy)
		return result, nil
	}, tasks)

	bulk := &models.BulkIssuanceResult{Results: make([]models.IssuanceResult, 0, len(poolResults))}
	for _, pr := range poolResults {
		var item models.IssuanceResult
		if pr.Err != nil {
			item = models.IssuanceResult{EnrollmentID: pr.Key, Reason: models.FailureIssuerError, Detail: pr.Err.Error()}
			if errors.Is(pr.Err, sql.ErrNoRows) {
				item.Detail = "enrollment not found"
			}
		} else {
			item = pr.Value.(models.IssuanceResult)
		}
		if item.Issued {
			bulk.SuccessCount++
		} else {
			bulk.FailCount++
		}
		s.metrics.RecordIssuance(item.Issued, string(item.Reason))
		bulk.Results = append(bulk.Results, item)
	}

	s.logger.Info("bulk issuance finished",
		zap.Int("requested", len(req.EnrollmentIDs)),
		zap.Int("succeeded", bulk.SuccessCount),
		zap.Int("failed", bulk.FailCount))
	return bulk, nil
}

// IssueForBatch issues certificates for every eligible student of a
// completed batch. On full success the batch is flagged as certified.
func (s *IssuanceService) IssueForBatch(ctx context.Context, batchID, templateID, issuedBy string) (*models.BulkIssuanceResult, error) {
	eligible, err := s.eligibility.EligibleForBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if len(eligible) == 0 {
		return &models.BulkIssuanceResult{Results: []models.IssuanceResult{}}, nil
	}

	ids := make([]string, len(eligible))
	for i, e := range eligible {
		ids[i] = e.ID
	}
	bulk, err := s.IssueMany(ctx, IssueManyRequest{EnrollmentIDs: ids, TemplateID: templateID}, issuedBy)
	if err != nil {
		return nil, err
	}

	if bulk.FailCount == 0 && bulk.SuccessCount > 0 {
		batch, err := s.batches.FindByID(ctx, batchID)
		if err == nil {
			batch.CertificatesIssued = true
			if err := s.batches.Update(ctx, batch); err != nil {
				s.logger.Warn("failed to flag batch as certified", zap.String("batch_id", batchID), zap.Error(err))
			}
		}
	}
	return bulk, nil
}

// IssueForCourse issues certificates for every eligible enrollment of a
// course, across batches.
func (s *IssuanceService) IssueForCourse(ctx context.Context, courseID, templateID, issuedBy string) (*models.BulkIssuanceResult, error) {
	eligible, err := s.eligibility.EligibleForCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if len(eligible) == 0 {
		return &models.BulkIssuanceResult{Results: []models.IssuanceResult{}}, nil
	}

	ids := make([]string, len(eligible))
	for i, e := range eligible {
		ids[i] = e.ID
	}
	return s.IssueMany(ctx, IssueManyRequest{EnrollmentIDs: ids, TemplateID: templateID}, issuedBy)
}

// Regenerate re-renders the artifact of an existing certificate. The
// (student, course) identity never changes.
func (s *IssuanceService) Regenerate(ctx context.Context, certificateID string) (*models.Certificate, error) {
	cert, err := s.certificates.FindByID(ctx, certificateID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "certificate not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load certificate")
	}

	detail, err := s.enrollments.FindDetailByID(ctx, cert.EnrollmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	tpl, err := s.templates.FindByID(ctx, cert.TemplateID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "certificate template not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load template")
	}

	artifactPath, artifactURL, err := s.issuer.Issue(ctx, IssueArtifactRequest{
		Certificate: *cert,
		Template:    *tpl,
		StudentName: detail.StudentName,
		CourseTitle: detail.CourseTitle,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrIssuer.Code, appErrors.ErrIssuer.Status, "failed to regenerate certificate")
	}

	now := time.Now().UTC()
	if err := s.certificates.UpdateArtifact(ctx, cert.ID, artifactPath, artifactURL, now); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update certificate artifact")
	}
	cert.ArtifactPath = artifactPath
	cert.ArtifactURL = artifactURL
	cert.RegeneratedAt = &now
	return cert, nil
}

// List returns certificates with pagination metadata.
func (s *IssuanceService) List(ctx context.Context, filter models.CertificateFilter) ([]models.Certificate, *models.Pagination, error) {
	certs, total, err := s.certificates.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list certificates")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 50
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return certs, pagination, nil
}

// ListTemplates returns the active certificate templates. Teachers only see
// templates assigned to them; admins see everything.
func (s *IssuanceService) ListTemplates(ctx context.Context, role models.UserRole, userID string) ([]models.CertificateTemplate, error) {
	var (
		templates []models.CertificateTemplate
		err       error
	)
	if role == models.RoleTeacher {
		templates, err = s.templates.ListForTeacher(ctx, userID)
	} else {
		templates, err = s.templates.ListActive(ctx)
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list templates")
	}
	return templates, nil
}

func newSerialNumber() string {
	return "CERT-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}
