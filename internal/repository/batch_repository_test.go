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

func TestBatchRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewBatchRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "course_id", "name", "status", "start_date", "end_date",
		"progress_percentage", "certificates_issued", "active", "created_at", "updated_at"}).
		AddRow("batch-1", "course-1", "Cohort 1", models.BatchStatusActive, now, now.AddDate(0, 0, 28), 25, false, true, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, course_id, name, status, start_date, end_date, progress_percentage")).
		WithArgs("batch-1").
		WillReturnRows(rows)

	batch, err := repo.FindByID(context.Background(), "batch-1")
	require.NoError(t, err)
	require.Equal(t, models.BatchStatusActive, batch.Status)
	require.Equal(t, 25, batch.ProgressPercentage)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchRepositoryListWithFilters(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewBatchRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "course_id", "name", "status", "start_date", "end_date",
		"progress_percentage", "certificates_issued", "active", "created_at", "updated_at",
		"course_title", "duration_weeks", "student_count"}).
		AddRow("batch-1", "course-1", "Cohort 1", models.BatchStatusInProgress, now, now, 50, false, true, now, now, "Go Fundamentals", 4, 12)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT b.id, b.course_id, b.name, b.status")).
		WithArgs("course-1", models.BatchStatusInProgress).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM batches b")).
		WithArgs("course-1", models.BatchStatusInProgress).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	batches, total, err := repo.List(context.Background(), models.BatchFilter{CourseID: "course-1", Status: models.BatchStatusInProgress})
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Equal(t, 1, total)
	require.Equal(t, "Go Fundamentals", batches[0].CourseTitle)
	require.Equal(t, 12, batches[0].StudentCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchRepositoryCreateDefaults(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewBatchRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO batches")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	batch := &models.Batch{CourseID: "course-1", Name: "Cohort 1"}
	require.NoError(t, repo.Create(context.Background(), batch))
	require.NotEmpty(t, batch.ID)
	require.Equal(t, models.BatchStatusNotStarted, batch.Status)
	require.True(t, batch.Active)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchRepositoryUpdate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewBatchRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE batches SET status")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	batch := &models.Batch{ID: "batch-1", Name: "Cohort 1", Status: models.BatchStatusCompleted, ProgressPercentage: 100}
	require.NoError(t, repo.Update(context.Background(), batch))
	require.False(t, batch.UpdatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchRepositoryAssignStudentIdempotent(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewBatchRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO batch_students")).
		WithArgs("batch-1", "stu-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.AssignStudent(context.Background(), "batch-1", "stu-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchRepositoryListStudentIDs(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewBatchRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT student_id FROM batch_students WHERE batch_id = $1")).
		WithArgs("batch-1").
		WillReturnRows(sqlmock.NewRows([]string{"student_id"}).AddRow("stu-1").AddRow("stu-2"))

	ids, err := repo.ListStudentIDs(context.Background(), "batch-1")
	require.NoError(t, err)
	require.Equal(t, []string{"stu-1", "stu-2"}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}
