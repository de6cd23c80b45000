package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-cohort-api/internal/models"
	appErrors "github.com/noah-isme/lms-cohort-api/pkg/errors"
)

type weekProgressRepository interface {
	ListByBatch(ctx context.Context, batchID string) ([]models.WeekProgress, error)
	CountCompleted(ctx context.Context, batchID string) (int, error)
	CompleteNext(ctx context.Context, batchID string, weekNumber int, actor string) (bool, error)
	UncompleteLast(ctx context.Context, batchID string, weekNumber int) (bool, error)
	DeleteByBatch(ctx context.Context, batchID string) error
}

type progressBatchRepository interface {
	FindByID(ctx context.Context, id string) (*models.Batch, error)
	Update(ctx context.Context, batch *models.Batch) error
}

// SetWeekStatusRequest toggles completion of one week.
type SetWeekStatusRequest struct {
	WeekNumber int  `json:"week_number" validate:"required,min=1"`
	Completed  bool `json:"completed"`
}

// ProgressService enforces sequential week completion for a batch.
//
// The completed weeks of a batch always form a prefix {1..k}: completing is
// only valid for week k+1 and reopening only for week k. Concurrent updates
// on the same batch are serialized through a per-batch mutex, and the
// repository re-checks the count in the write itself, so two racing
// completions can never both advance the prefix.
type ProgressService struct {
	weeks     weekProgressRepository
	batches   progressBatchRepository
	courses   courseReader
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewProgressService constructs ProgressService.
func NewProgressService(weeks weekProgressRepository, batches progressBatchRepository, courses courseReader, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *ProgressService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressService{
		weeks:     weeks,
		batches:   batches,
		courses:   courses,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		locks:     map[string]*sync.Mutex{},
	}
}

func (s *ProgressService) batchLock(batchID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[batchID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[batchID] = lock
	}
	return lock
}

// SetWeekStatus marks one week complete or reopens the last completed week,
// then recomputes the batch percentage and advances the batch status.
func (s *ProgressService) SetWeekStatus(ctx context.Context, batchID string, req SetWeekStatusRequest, actor string) (*models.ProgressSummary, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid week payload")
	}

	batch, err := s.batches.FindByID(ctx, batchID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "batch not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load batch")
	}
	switch batch.Status {
	case models.BatchStatusActive, models.BatchStatusInProgress:
	case models.BatchStatusCompleted:
		return nil, appErrors.Clone(appErrors.ErrPrecondition, "batch is already completed, restart it to change progress")
	default:
		return nil, appErrors.Clone(appErrors.ErrPrecondition, "batch has not been started")
	}

	course, err := s.courses.FindByID(ctx, batch.CourseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if req.WeekNumber > course.DurationWeeks {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("course has only %d weeks", course.DurationWeeks))
	}

	lock := s.batchLock(batchID)
	lock.Lock()
	defer lock.Unlock()

	completedCount, err := s.weeks.CountCompleted(ctx, batchID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count completed weeks")
	}

	if req.Completed {
		if req.WeekNumber != completedCount+1 {
			s.metrics.RecordSequenceViolation()
			return nil, appErrors.Clone(appErrors.ErrSequenceViolation, fmt.Sprintf("complete week %d first", completedCount+1))
		}
		ok, err := s.weeks.CompleteNext(ctx, batchID, req.WeekNumber, actor)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete week")
		}
		if !ok {
			s.metrics.RecordSequenceViolation()
			return nil, appErrors.Clone(appErrors.ErrSequenceViolation, "another update advanced the batch, retry")
		}
		s.metrics.RecordWeekCompletion()
	} else {
		if req.WeekNumber != completedCount {
			s.metrics.RecordSequenceViolation()
			return nil, appErrors.Clone(appErrors.ErrSequenceViolation, fmt.Sprintf("only week %d, the last completed week, can be reopened", completedCount))
		}
		ok, err := s.weeks.UncompleteLast(ctx, batchID, req.WeekNumber)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reopen week")
		}
		if !ok {
			s.metrics.RecordSequenceViolation()
			return nil, appErrors.Clone(appErrors.ErrSequenceViolation, "another update changed the batch, retry")
		}
	}

	newCount, err := s.weeks.CountCompleted(ctx, batchID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to recount completed weeks")
	}

	batch.ProgressPercentage = percentage(newCount, course.DurationWeeks)
	batch.Status = nextBatchStatus(batch.Status, newCount, course.DurationWeeks)
	if err := s.batches.Update(ctx, batch); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update batch progress")
	}

	s.cache.InvalidateProgress(ctx, batchID)
	s.logger.Info("week status updated",
		zap.String("batch_id", batchID),
		zap.Int("week", req.WeekNumber),
		zap.Bool("completed", req.Completed),
		zap.Int("progress", batch.ProgressPercentage))

	return s.buildSummary(ctx, batchID, course.DurationWeeks)
}

// Summary returns the batch's week states, recomputed from the authoritative
// week progress rows.
func (s *ProgressService) Summary(ctx context.Context, batchID string) (*models.ProgressSummary, error) {
	batch, err := s.batches.FindByID(ctx, batchID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "batch not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load batch")
	}
	course, err := s.courses.FindByID(ctx, batch.CourseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	key := progressCacheKey(batchID)
	var cached models.ProgressSummary
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, nil
	}

	summary, err := s.buildSummary(ctx, batchID, course.DurationWeeks)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, key, summary, 0); err != nil {
		s.logger.Warn("failed to cache progress summary", zap.String("batch_id", batchID), zap.Error(err))
	}
	return summary, nil
}

func (s *ProgressService) buildSummary(ctx context.Context, batchID string, durationWeeks int) (*models.ProgressSummary, error) {
	rows, err := s.weeks.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list week progress")
	}

	completedByWeek := make(map[int]models.WeekProgress, len(rows))
	completed := 0
	for _, row := range rows {
		completedByWeek[row.WeekNumber] = row
		completed++
	}

	weeks := make([]models.WeekState, 0, durationWeeks)
	for week := 1; week <= durationWeeks; week++ {
		state := models.WeekState{WeekNumber: week}
		if row, ok := completedByWeek[week]; ok {
			state.IsCompleted = true
			state.CompletedAt = row.CompletedAt
			state.CompletedBy = row.CompletedBy
		}
		weeks = append(weeks, state)
	}

	return &models.ProgressSummary{
		BatchID:        batchID,
		DurationWeeks:  durationWeeks,
		CompletedWeeks: completed,
		Percentage:     percentage(completed, durationWeeks),
		Weeks:          weeks,
	}, nil
}

func percentage(completed, duration int) int {
	if duration <= 0 {
		return 0
	}
	return int(math.Round(float64(completed) * 100 / float64(duration)))
}

// nextBatchStatus derives the batch status implied by the completed-week
// count, staying within the transition table.
func nextBatchStatus(current models.BatchStatus, completed, duration int) models.BatchStatus {
	switch {
	case completed >= duration && duration > 0:
		if current.CanTransitionTo(models.BatchStatusCompleted) {
			return models.BatchStatusCompleted
		}
	case completed == 0:
		if current == models.BatchStatusInProgress {
			return models.BatchStatusActive
		}
	default:
		if current == models.BatchStatusActive {
			return models.BatchStatusInProgress
		}
	}
	return current
}
