package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-cohort-api/internal/models"
)

func TestEnrollmentRepositoryListByCourseWithStatus(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "student_id", "course_id", "status", "progress_percent",
		"applied_at", "decided_at", "completed_at"}).
		AddRow("enr-1", "stu-1", "course-1", models.EnrollmentStatusCompleted, 100, now, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments WHERE course_id = $1 AND status = $2")).
		WithArgs("course-1", models.EnrollmentStatusCompleted).
		WillReturnRows(rows)

	enrollments, err := repo.ListByCourse(context.Background(), "course-1", models.EnrollmentStatusCompleted)
	require.NoError(t, err)
	require.Len(t, enrollments, 1)
	require.Equal(t, "stu-1", enrollments[0].StudentID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCreateDefaults(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO enrollments")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	enrollment := &models.Enrollment{StudentID: "stu-1", CourseID: "course-1"}
	require.NoError(t, repo.Create(context.Background(), enrollment))
	require.NotEmpty(t, enrollment.ID)
	require.Equal(t, models.EnrollmentStatusPending, enrollment.Status)
	require.False(t, enrollment.AppliedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryUpdateStatus(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	decided := time.Now()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $2")).
		WithArgs("enr-1", models.EnrollmentStatusApproved, &decided, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateStatus(context.Background(), "enr-1", models.EnrollmentStatusApproved, &decided, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryUpdateProgressPercent(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET progress_percent = $2 WHERE id = $1")).
		WithArgs("enr-1", 80).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateProgressPercent(context.Background(), "enr-1", 80))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryListFiltered(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "student_id", "course_id", "status", "progress_percent",
		"applied_at", "decided_at", "completed_at", "student_name", "course_title"}).
		AddRow("enr-1", "stu-1", "course-1", models.EnrollmentStatusPending, 0, now, nil, nil, "Ada Lovelace", "Go Fundamentals")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT e.id, e.student_id, e.course_id, e.status")).
		WithArgs("course-1", models.EnrollmentStatusPending).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollments e")).
		WithArgs("course-1", models.EnrollmentStatusPending).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	enrollments, total, err := repo.List(context.Background(), models.EnrollmentFilter{
		CourseID: "course-1",
		Status:   models.EnrollmentStatusPending,
	})
	require.NoError(t, err)
	require.Len(t, enrollments, 1)
	require.Equal(t, 1, total)
	require.Equal(t, "Ada Lovelace", enrollments[0].StudentName)
	require.NoError(t, mock.ExpectationsWereMet())
}
