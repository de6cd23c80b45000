package service

import (
	"context"
	"database/sql"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-cohort-api/internal/models"
	appErrors "github.com/noah-isme/lms-cohort-api/pkg/errors"
)

type mockWeekRepo struct {
	mu        sync.Mutex
	completed map[string]map[int]models.WeekProgress
}

func newMockWeekRepo() *mockWeekRepo {
	return &mockWeekRepo{completed: map[string]map[int]models.WeekProgress{}}
}

func (m *mockWeekRepo) ListByBatch(ctx context.Context, batchID string) ([]models.WeekProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := make([]models.WeekProgress, 0, len(m.completed[batchID]))
	for _, row := range m.completed[batchID] {
		rows = append(rows, row)
	}
	return rows, nil
}

func (m *mockWeekRepo) CountCompleted(ctx context.Context, batchID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.completed[batchID]), nil
}

func (m *mockWeekRepo) CompleteNext(ctx context.Context, batchID string, weekNumber int, actor string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if weekNumber != len(m.completed[batchID])+1 {
		return false, nil
	}
	if m.completed[batchID] == nil {
		m.completed[batchID] = map[int]models.WeekProgress{}
	}
	now := time.Now()
	m.completed[batchID][weekNumber] = models.WeekProgress{
		BatchID:     batchID,
		WeekNumber:  weekNumber,
		IsCompleted: true,
		CompletedAt: &now,
		CompletedBy: &actor,
	}
	return true, nil
}

func (m *mockWeekRepo) UncompleteLast(ctx context.Context, batchID string, weekNumber int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if weekNumber != len(m.completed[batchID]) || weekNumber == 0 {
		return false, nil
	}
	delete(m.completed[batchID], weekNumber)
	return true, nil
}

func (m *mockWeekRepo) DeleteByBatch(ctx context.Context, batchID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.completed, batchID)
	return nil
}

type mockBatchStore struct {
	mu      sync.Mutex
	batches map[string]models.Batch
}

func newMockBatchStore(batches ...models.Batch) *mockBatchStore {
	store := &mockBatchStore{batches: map[string]models.Batch{}}
	for _, b := range batches {
		store.batches[b.ID] = b
	}
	return store
}

func (m *mockBatchStore) FindByID(ctx context.Context, id string) (*models.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.batches[id]; ok {
		copied := b
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockBatchStore) Update(ctx context.Context, batch *models.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches[batch.ID] = *batch
	return nil
}

type mockCourseReader struct {
	courses map[string]models.Course
}

func (m *mockCourseReader) FindByID(ctx context.Context, id string) (*models.Course, error) {
	if c, ok := m.courses[id]; ok {
		copied := c
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func newProgressFixture(status models.BatchStatus, durationWeeks int) (*ProgressService, *mockWeekRepo, *mockBatchStore) {
	weeks := newMockWeekRepo()
	batches := newMockBatchStore(models.Batch{ID: "b1", CourseID: "c1", Name: "Cohort 1", Status: status, Active: true})
	courses := &mockCourseReader{courses: map[string]models.Course{
		"c1": {ID: "c1", Title: "Go Fundamentals", DurationWeeks: durationWeeks, CertificateEnabled: true, Active: true},
	}}
	cacheSvc := NewCacheService(nil, nil, 0, zap.NewNop(), false)
	svc := NewProgressService(weeks, batches, courses, cacheSvc, nil, validator.New(), zap.NewNop())
	return svc, weeks, batches
}

func TestProgressServiceSequentialCompletion(t *testing.T) {
	svc, _, batches := newProgressFixture(models.BatchStatusActive, 3)
	ctx := context.Background()

	summary, err := svc.SetWeekStatus(ctx, "b1", SetWeekStatusRequest{WeekNumber: 1, Completed: true}, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.CompletedWeeks)
	assert.Equal(t, 33, summary.Percentage)

	batch, _ := batches.FindByID(ctx, "b1")
	assert.Equal(t, models.BatchStatusInProgress, batch.Status)

	summary, err = svc.SetWeekStatus(ctx, "b1", SetWeekStatusRequest{WeekNumber: 2, Completed: true}, "u1")
	require.NoError(t, err)
	assert.Equal(t, 67, summary.Percentage)

	summary, err = svc.SetWeekStatus(ctx, "b1", SetWeekStatusRequest{WeekNumber: 3, Completed: true}, "u1")
	require.NoError(t, err)
	assert.Equal(t, 100, summary.Percentage)
	assert.Equal(t, 3, summary.CompletedWeeks)

	batch, _ = batches.FindByID(ctx, "b1")
	assert.Equal(t, models.BatchStatusCompleted, batch.Status)
	assert.Equal(t, 100, batch.ProgressPercentage)
}

func TestProgressServiceRejectsOutOfOrderCompletion(t *testing.T) {
	svc, weeks, _ := newProgressFixture(models.BatchStatusActive, 3)

	_, err := svc.SetWeekStatus(context.Background(), "b1", SetWeekStatusRequest{WeekNumber: 2, Completed: true}, "u1")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrSequenceViolation))

	count, _ := weeks.CountCompleted(context.Background(), "b1")
	assert.Zero(t, count)
}

func TestProgressServiceReopenOnlyLastWeek(t *testing.T) {
	svc, _, _ := newProgressFixture(models.BatchStatusActive, 3)
	ctx := context.Background()

	_, err := svc.SetWeekStatus(ctx, "b1", SetWeekStatusRequest{WeekNumber: 1, Completed: true}, "u1")
	require.NoError(t, err)
	_, err = svc.SetWeekStatus(ctx, "b1", SetWeekStatusRequest{WeekNumber: 2, Completed: true}, "u1")
	require.NoError(t, err)

	_, err = svc.SetWeekStatus(ctx, "b1", SetWeekStatusRequest{WeekNumber: 1, Completed: false}, "u1")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrSequenceViolation))

	summary, err := svc.SetWeekStatus(ctx, "b1", SetWeekStatusRequest{WeekNumber: 2, Completed: false}, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.CompletedWeeks)
	assert.Equal(t, 33, summary.Percentage)
}

func TestProgressServiceReopenToZeroRevertsStatus(t *testing.T) {
	svc, _, batches := newProgressFixture(models.BatchStatusActive, 3)
	ctx := context.Background()

	_, err := svc.SetWeekStatus(ctx, "b1", SetWeekStatusRequest{WeekNumber: 1, Completed: true}, "u1")
	require.NoError(t, err)
	_, err = svc.SetWeekStatus(ctx, "b1", SetWeekStatusRequest{WeekNumber: 1, Completed: false}, "u1")
	require.NoError(t, err)

	batch, _ := batches.FindByID(ctx, "b1")
	assert.Equal(t, models.BatchStatusActive, batch.Status)
	assert.Zero(t, batch.ProgressPercentage)
}

func TestProgressServiceCompletedBatchIsLocked(t *testing.T) {
	svc, _, _ := newProgressFixture(models.BatchStatusCompleted, 3)

	_, err := svc.SetWeekStatus(context.Background(), "b1", SetWeekStatusRequest{WeekNumber: 3, Completed: false}, "u1")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrPrecondition))
}

func TestProgressServiceNotStartedBatchRejected(t *testing.T) {
	svc, _, _ := newProgressFixture(models.BatchStatusNotStarted, 3)

	_, err := svc.SetWeekStatus(context.Background(), "b1", SetWeekStatusRequest{WeekNumber: 1, Completed: true}, "u1")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrPrecondition))
}

func TestProgressServiceWeekBeyondDuration(t *testing.T) {
	svc, _, _ := newProgressFixture(models.BatchStatusActive, 3)

	_, err := svc.SetWeekStatus(context.Background(), "b1", SetWeekStatusRequest{WeekNumber: 4, Completed: true}, "u1")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation))
}

func TestProgressServiceConcurrentCompletionsOneWins(t *testing.T) {
	svc, weeks, _ := newProgressFixture(models.BatchStatusActive, 3)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.SetWeekStatus(ctx, "b1", SetWeekStatusRequest{WeekNumber: 1, Completed: true}, "u1")
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		} else {
			assert.True(t, appErrors.HasCode(err, appErrors.ErrSequenceViolation))
		}
	}
	assert.Equal(t, 1, successes)

	count, _ := weeks.CountCompleted(ctx, "b1")
	assert.Equal(t, 1, count)
}

func TestProgressServiceSummary(t *testing.T) {
	svc, _, _ := newProgressFixture(models.BatchStatusActive, 4)
	ctx := context.Background()

	_, err := svc.SetWeekStatus(ctx, "b1", SetWeekStatusRequest{WeekNumber: 1, Completed: true}, "u1")
	require.NoError(t, err)

	summary, err := svc.Summary(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "b1", summary.BatchID)
	assert.Equal(t, 4, summary.DurationWeeks)
	assert.Len(t, summary.Weeks, 4)
	assert.True(t, summary.Weeks[0].IsCompleted)
	assert.False(t, summary.Weeks[1].IsCompleted)
	assert.Equal(t, 25, summary.Percentage)
}

func TestProgressServiceUnknownBatch(t *testing.T) {
	svc, _, _ := newProgressFixture(models.BatchStatusActive, 3)

	_, err := svc.Summary(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound))
}

func TestProgressServicePrefixInvariantRandomOps(t *testing.T) {
	const duration = 8
	svc, weeks, batches := newProgressFixture(models.BatchStatusActive, duration)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	completedPrefix := func() int {
		rows, err := weeks.ListByBatch(ctx, "b1")
		require.NoError(t, err)
		seen := map[int]bool{}
		for _, row := range rows {
			seen[row.WeekNumber] = true
		}
		for n := 1; n <= len(rows); n++ {
			require.True(t, seen[n], "completed weeks must form the prefix 1..%d, week %d is missing", len(rows), n)
		}
		return len(rows)
	}

	expected := 0
	locked := false
	for i := 0; i < 400; i++ {
		week := rng.Intn(duration + 2)
		complete := rng.Intn(2) == 0

		accepted := !locked && week >= 1 && week <= duration
		if accepted {
			if complete {
				accepted = week == expected+1
			} else {
				accepted = week == expected
			}
		}

		summary, err := svc.SetWeekStatus(ctx, "b1", SetWeekStatusRequest{WeekNumber: week, Completed: complete}, "u1")

		if accepted {
			require.NoError(t, err, "op %d: complete=%v week=%d at prefix %d", i, complete, week, expected)
			if complete {
				expected++
			} else {
				expected--
			}
			assert.Equal(t, expected, summary.CompletedWeeks)
			if expected == duration {
				locked = true
			}
		} else {
			require.Error(t, err, "op %d: complete=%v week=%d at prefix %d", i, complete, week, expected)
		}

		require.Equal(t, expected, completedPrefix())

		batch, err := batches.FindByID(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, percentage(expected, duration), batch.ProgressPercentage)
		if locked {
			assert.Equal(t, models.BatchStatusCompleted, batch.Status)
		}
	}
}
