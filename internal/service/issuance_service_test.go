package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-cohort-api/internal/models"
	"github.com/noah-isme/lms-cohort-api/internal/repository"
	appErrors "github.com/noah-isme/lms-cohort-api/pkg/errors"
	"github.com/noah-isme/lms-cohort-api/pkg/jobs"
)

type mockEnrollmentReader struct {
	details map[string]models.EnrollmentDetail
}

func (m *mockEnrollmentReader) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	if d, ok := m.details[id]; ok {
		copied := d
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

// mockCertStore enforces the one-certificate-per-pair constraint the same
// way the database unique index does.
type mockCertStore struct {
	mu    sync.Mutex
	byID  map[string]models.Certificate
	pairs map[string]string
}

func newMockCertStore() *mockCertStore {
	return &mockCertStore{byID: map[string]models.Certificate{}, pairs: map[string]string{}}
}

func (m *mockCertStore) pairKey(studentID, courseID string) string {
	return studentID + "|" + courseID
}

func (m *mockCertStore) Exists(ctx context.Context, studentID, courseID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pairs[m.pairKey(studentID, courseID)]
	return ok, nil
}

func (m *mockCertStore) Create(ctx context.Context, cert *models.Certificate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := m.pairKey(cert.StudentID, cert.CourseID)
	if _, ok := m.pairs[key]; ok {
		return repository.ErrDuplicateCertificate
	}
	m.pairs[key] = cert.ID
	m.byID[cert.ID] = *cert
	return nil
}

func (m *mockCertStore) FindByID(ctx context.Context, id string) (*models.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.byID[id]; ok {
		copied := c
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCertStore) List(ctx context.Context, filter models.CertificateFilter) ([]models.Certificate, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	certs := make([]models.Certificate, 0, len(m.byID))
	for _, c := range m.byID {
		certs = append(certs, c)
	}
	return certs, len(certs), nil
}

func (m *mockCertStore) UpdateArtifact(ctx context.Context, id, artifactPath, artifactURL string, regeneratedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok {
		return sql.ErrNoRows
	}
	c.ArtifactPath = artifactPath
	c.ArtifactURL = artifactURL
	c.RegeneratedAt = &regeneratedAt
	m.byID[id] = c
	return nil
}

func (m *mockCertStore) seed(cert models.Certificate) {
	m.pairs[m.pairKey(cert.StudentID, cert.CourseID)] = cert.ID
	m.byID[cert.ID] = cert
}

type mockTemplateReader struct {
	templates map[string]models.CertificateTemplate
}

func (m *mockTemplateReader) FindByID(ctx context.Context, id string) (*models.CertificateTemplate, error) {
	if t, ok := m.templates[id]; ok {
		copied := t
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockTemplateReader) ListActive(ctx context.Context) ([]models.CertificateTemplate, error) {
	list := make([]models.CertificateTemplate, 0, len(m.templates))
	for _, t := range m.templates {
		list = append(list, t)
	}
	return list, nil
}

func (m *mockTemplateReader) ListForTeacher(ctx context.Context, teacherID string) ([]models.CertificateTemplate, error) {
	return m.ListActive(ctx)
}

type mockEligibility struct {
	batchEligible  []models.Enrollment
	courseEligible []models.Enrollment
	err            error
}

func (m *mockEligibility) EligibleForBatch(ctx context.Context, batchID string) ([]models.Enrollment, error) {
	return m.batchEligible, m.err
}

func (m *mockEligibility) EligibleForCourse(ctx context.Context, courseID string) ([]models.Enrollment, error) {
	return m.courseEligible, m.err
}

type stubIssuer struct {
	err error
}

func (s *stubIssuer) Issue(ctx context.Context, req IssueArtifactRequest) (string, string, error) {
	if s.err != nil {
		return "", "", s.err
	}
	return req.Certificate.CourseID + "/" + req.Certificate.ID + ".pdf", "/certificates/download?token=test", nil
}

type issuanceFixture struct {
	svc         *IssuanceService
	enrollments *mockEnrollmentReader
	certs       *mockCertStore
	templates   *mockTemplateReader
	batches     *mockBatchStore
	eligibility *mockEligibility
	issuer      *stubIssuer
}

func newIssuanceFixture(concurrency int) *issuanceFixture {
	f := &issuanceFixture{
		enrollments: &mockEnrollmentReader{details: map[string]models.EnrollmentDetail{}},
		certs:       newMockCertStore(),
		templates: &mockTemplateReader{templates: map[string]models.CertificateTemplate{
			"tpl1": {ID: "tpl1", Name: "default", Title: "Certificate of Completion", SignedBy: "Head of School", Active: true},
		}},
		batches:     newMockBatchStore(models.Batch{ID: "b1", CourseID: "c1", Status: models.BatchStatusCompleted, Active: true}),
		eligibility: &mockEligibility{},
		issuer:      &stubIssuer{},
	}
	courses := &mockCourseReader{courses: map[string]models.Course{
		"c1": {ID: "c1", Title: "Go Fundamentals", DurationWeeks: 3, CertificateEnabled: true, Active: true},
		"c2": {ID: "c2", Title: "No Certs", DurationWeeks: 2, CertificateEnabled: false, Active: true},
	}}
	pool := jobs.NewPool(jobs.PoolConfig{Concurrency: concurrency, Logger: zap.NewNop()})
	f.svc = NewIssuanceService(f.enrollments, f.certs, f.templates, f.batches, courses,
		f.eligibility, f.issuer, pool, nil, validator.New(), zap.NewNop())
	return f
}

func (f *issuanceFixture) addEnrollment(id, studentID, courseID string, status models.EnrollmentStatus) {
	f.enrollments.details[id] = models.EnrollmentDetail{
		Enrollment:  models.Enrollment{ID: id, StudentID: studentID, CourseID: courseID, Status: status},
		StudentName: "Student " + studentID,
		CourseTitle: "Course " + courseID,
	}
}

func TestIssuanceServiceIssueOne(t *testing.T) {
	f := newIssuanceFixture(1)
	f.addEnrollment("e1", "s1", "c1", models.EnrollmentStatusCompleted)

	result, err := f.svc.IssueOne(context.Background(), "e1", "tpl1", "admin")
	require.NoError(t, err)
	assert.True(t, result.Issued)
	require.NotNil(t, result.Certificate)
	assert.Equal(t, "s1", result.Certificate.StudentID)
	assert.NotEmpty(t, result.Certificate.SerialNumber)
	assert.NotEmpty(t, result.Certificate.ArtifactPath)

	exists, _ := f.certs.Exists(context.Background(), "s1", "c1")
	assert.True(t, exists)
}

func TestIssuanceServiceIssueOneNotCompleted(t *testing.T) {
	f := newIssuanceFixture(1)
	f.addEnrollment("e1", "s1", "c1", models.EnrollmentStatusApproved)

	result, err := f.svc.IssueOne(context.Background(), "e1", "tpl1", "admin")
	require.NoError(t, err)
	assert.False(t, result.Issued)
	assert.Equal(t, models.FailureEnrollmentNotCompleted, result.Reason)
}

func TestIssuanceServiceIssueOneUnknownEnrollment(t *testing.T) {
	f := newIssuanceFixture(1)

	_, err := f.svc.IssueOne(context.Background(), "nope", "tpl1", "admin")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound))
}

func TestIssuanceServiceIssueOneCertificatesDisabled(t *testing.T) {
	f := newIssuanceFixture(1)
	f.addEnrollment("e1", "s1", "c2", models.EnrollmentStatusCompleted)

	_, err := f.svc.IssueOne(context.Background(), "e1", "tpl1", "admin")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrPrecondition))
}

func TestIssuanceServiceIssueOneTemplateMissing(t *testing.T) {
	f := newIssuanceFixture(1)
	f.addEnrollment("e1", "s1", "c1", models.EnrollmentStatusCompleted)

	result, err := f.svc.IssueOne(context.Background(), "e1", "missing", "admin")
	require.NoError(t, err)
	assert.False(t, result.Issued)
	assert.Equal(t, models.FailureTemplateNotFound, result.Reason)
}

func TestIssuanceServiceIssueOneIssuerFailure(t *testing.T) {
	f := newIssuanceFixture(1)
	f.addEnrollment("e1", "s1", "c1", models.EnrollmentStatusCompleted)
	f.issuer.err = errors.New("renderer crashed")

	result, err := f.svc.IssueOne(context.Background(), "e1", "tpl1", "admin")
	require.NoError(t, err)
	assert.False(t, result.Issued)
	assert.Equal(t, models.FailureIssuerError, result.Reason)

	exists, _ := f.certs.Exists(context.Background(), "s1", "c1")
	assert.False(t, exists)
}

func TestIssuanceServiceIssueManyMixedOutcomes(t *testing.T) {
	f := newIssuanceFixture(2)
	f.addEnrollment("e1", "s1", "c1", models.EnrollmentStatusCompleted)
	f.addEnrollment("e2", "s2", "c1", models.EnrollmentStatusCompleted)
	f.addEnrollment("e3", "s3", "c1", models.EnrollmentStatusCompleted)
	f.certs.seed(models.Certificate{ID: "cert-old", StudentID: "s2", CourseID: "c1"})

	bulk, err := f.svc.IssueMany(context.Background(), IssueManyRequest{
		EnrollmentIDs: []string{"e1", "e2", "e3"},
		TemplateID:    "tpl1",
	}, "admin")
	require.NoError(t, err)
	require.Len(t, bulk.Results, 3)
	assert.Equal(t, 2, bulk.SuccessCount)
	assert.Equal(t, 1, bulk.FailCount)

	assert.Equal(t, "e1", bulk.Results[0].EnrollmentID)
	assert.True(t, bulk.Results[0].Issued)
	assert.Equal(t, "e2", bulk.Results[1].EnrollmentID)
	assert.False(t, bulk.Results[1].Issued)
	assert.Equal(t, models.FailureAlreadyCertified, bulk.Results[1].Reason)
	assert.Equal(t, "e3", bulk.Results[2].EnrollmentID)
	assert.True(t, bulk.Results[2].Issued)
}

func TestIssuanceServiceIssueManyUnknownIDDoesNotAbort(t *testing.T) {
	f := newIssuanceFixture(2)
	f.addEnrollment("e1", "s1", "c1", models.EnrollmentStatusCompleted)

	bulk, err := f.svc.IssueMany(context.Background(), IssueManyRequest{
		EnrollmentIDs: []string{"ghost", "e1"},
		TemplateID:    "tpl1",
	}, "admin")
	require.NoError(t, err)
	require.Len(t, bulk.Results, 2)
	assert.Equal(t, 1, bulk.SuccessCount)
	assert.Equal(t, 1, bulk.FailCount)
	assert.False(t, bulk.Results[0].Issued)
	assert.True(t, bulk.Results[1].Issued)
}

func TestIssuanceServiceConcurrentSamePairOneWins(t *testing.T) {
	f := newIssuanceFixture(4)
	// Two completed enrollments for the same student and course.
	f.addEnrollment("e1", "s1", "c1", models.EnrollmentStatusCompleted)
	f.addEnrollment("e2", "s1", "c1", models.EnrollmentStatusCompleted)

	bulk, err := f.svc.IssueMany(context.Background(), IssueManyRequest{
		EnrollmentIDs: []string{"e1", "e2"},
		TemplateID:    "tpl1",
	}, "admin")
	require.NoError(t, err)
	assert.Equal(t, 1, bulk.SuccessCount)
	assert.Equal(t, 1, bulk.FailCount)
	for _, r := range bulk.Results {
		if !r.Issued {
			assert.Equal(t, models.FailureAlreadyCertified, r.Reason)
		}
	}

	certs, total, _ := f.certs.List(context.Background(), models.CertificateFilter{})
	assert.Equal(t, 1, total)
	assert.Len(t, certs, 1)
}

func TestIssuanceServiceIssueForBatchFlagsBatch(t *testing.T) {
	f := newIssuanceFixture(2)
	f.addEnrollment("e1", "s1", "c1", models.EnrollmentStatusCompleted)
	f.addEnrollment("e2", "s2", "c1", models.EnrollmentStatusCompleted)
	f.eligibility.batchEligible = []models.Enrollment{
		{ID: "e1", StudentID: "s1", CourseID: "c1", Status: models.EnrollmentStatusCompleted},
		{ID: "e2", StudentID: "s2", CourseID: "c1", Status: models.EnrollmentStatusCompleted},
	}

	bulk, err := f.svc.IssueForBatch(context.Background(), "b1", "tpl1", "admin")
	require.NoError(t, err)
	assert.Equal(t, 2, bulk.SuccessCount)
	assert.Zero(t, bulk.FailCount)

	batch, _ := f.batches.FindByID(context.Background(), "b1")
	assert.True(t, batch.CertificatesIssued)
}

func TestIssuanceServiceIssueForBatchNoEligible(t *testing.T) {
	f := newIssuanceFixture(2)

	bulk, err := f.svc.IssueForBatch(context.Background(), "b1", "tpl1", "admin")
	require.NoError(t, err)
	assert.Empty(t, bulk.Results)

	batch, _ := f.batches.FindByID(context.Background(), "b1")
	assert.False(t, batch.CertificatesIssued)
}

func TestIssuanceServiceRegenerateKeepsIdentity(t *testing.T) {
	f := newIssuanceFixture(1)
	f.addEnrollment("e1", "s1", "c1", models.EnrollmentStatusCompleted)
	f.certs.seed(models.Certificate{
		ID: "cert1", StudentID: "s1", CourseID: "c1", EnrollmentID: "e1",
		TemplateID: "tpl1", SerialNumber: "CERT-AAA", ArtifactPath: "old/path.pdf",
	})

	cert, err := f.svc.Regenerate(context.Background(), "cert1")
	require.NoError(t, err)
	assert.Equal(t, "CERT-AAA", cert.SerialNumber)
	assert.Equal(t, "s1", cert.StudentID)
	assert.NotEqual(t, "old/path.pdf", cert.ArtifactPath)
	assert.NotNil(t, cert.RegeneratedAt)
}

func TestIssuanceServiceRegenerateUnknownCertificate(t *testing.T) {
	f := newIssuanceFixture(1)

	_, err := f.svc.Regenerate(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound))
}
