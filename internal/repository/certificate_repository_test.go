package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-cohort-api/internal/models"
)

func TestCertificateRepositoryExists(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCertificateRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM certificates WHERE student_id = $1 AND course_id = $2 LIMIT 1")).
		WithArgs("stu-1", "course-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	exists, err := repo.Exists(context.Background(), "stu-1", "course-1")
	require.NoError(t, err)
	require.True(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCertificateRepositoryExistsNoRows(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCertificateRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM certificates WHERE student_id = $1 AND course_id = $2 LIMIT 1")).
		WithArgs("stu-1", "course-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

	exists, err := repo.Exists(context.Background(), "stu-1", "course-1")
	require.NoError(t, err)
	require.False(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCertificateRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCertificateRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO certificates")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	cert := &models.Certificate{StudentID: "stu-1", CourseID: "course-1", EnrollmentID: "enr-1",
		TemplateID: "tpl-1", SerialNumber: "CERT-ABC"}
	require.NoError(t, repo.Create(context.Background(), cert))
	require.NotEmpty(t, cert.ID)
	require.False(t, cert.IssuedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCertificateRepositoryCreateDuplicate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCertificateRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO certificates")).
		WillReturnError(&pq.Error{Code: "23505"})

	cert := &models.Certificate{StudentID: "stu-1", CourseID: "course-1"}
	err := repo.Create(context.Background(), cert)
	require.ErrorIs(t, err, ErrDuplicateCertificate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCertificateRepositoryListFiltersByCourse(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCertificateRepository(db)

	rows := sqlmock.NewRows([]string{"id", "student_id", "course_id", "enrollment_id", "template_id",
		"serial_number", "artifact_path", "artifact_url", "issued_at", "issued_by", "regenerated_at"}).
		AddRow("cert-1", "stu-1", "course-1", "enr-1", "tpl-1", "CERT-ABC", "course-1/cert-1.pdf", "/dl", time.Now(), "admin", nil)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, student_id, course_id, enrollment_id, template_id, serial_number")).
		WithArgs("course-1").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM certificates WHERE course_id = $1")).
		WithArgs("course-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	certs, total, err := repo.List(context.Background(), models.CertificateFilter{CourseID: "course-1"})
	require.NoError(t, err)
	require.Len(t, certs, 1)
	require.Equal(t, 1, total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCertificateRepositoryUpdateArtifact(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewCertificateRepository(db)

	now := time.Now()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE certificates SET artifact_path = $2, artifact_url = $3, regenerated_at = $4 WHERE id = $1")).
		WithArgs("cert-1", "new/path.pdf", "/new-url", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateArtifact(context.Background(), "cert-1", "new/path.pdf", "/new-url", now))
	require.NoError(t, mock.ExpectationsWereMet())
}
