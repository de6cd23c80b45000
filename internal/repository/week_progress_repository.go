package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-cohort-api/internal/models"
)

// WeekProgressRepository handles persistence of per-batch week completion rows.
//
// The conditional writes below are the write-boundary guard for the prefix
// invariant: each statement re-checks the current completed-week count inside
// the database, so a stale in-memory count cannot advance the prefix twice.
type WeekProgressRepository struct {
	db *sqlx.DB
}

// NewWeekProgressRepository constructs the repository.
func NewWeekProgressRepository(db *sqlx.DB) *WeekProgressRepository {
	return &WeekProgressRepository{db: db}
}

// ListByBatch returns completed week rows ordered by week number.
func (r *WeekProgressRepository) ListByBatch(ctx context.Context, batchID string) ([]models.WeekProgress, error) {
	const query = `SELECT id, batch_id, week_number, is_completed, completed_at, completed_by
        FROM week_progress WHERE batch_id = $1 AND is_completed = TRUE ORDER BY week_number`
	var weeks []models.WeekProgress
	if err := r.db.SelectContext(ctx, &weeks, query, batchID); err != nil {
		return nil, fmt.Errorf("list week progress: %w", err)
	}
	return weeks, nil
}

// CountCompleted returns the number of completed weeks for a batch.
func (r *WeekProgressRepository) CountCompleted(ctx context.Context, batchID string) (int, error) {
	const query = `SELECT COUNT(*) FROM week_progress WHERE batch_id = $1 AND is_completed = TRUE`
	var count int
	if err := r.db.GetContext(ctx, &count, query, batchID); err != nil {
		return 0, fmt.Errorf("count completed weeks: %w", err)
	}
	return count, nil
}

// CompleteNext marks weekNumber complete only if exactly weekNumber-1 weeks
// are currently completed. Returns false when the condition did not hold.
func (r *WeekProgressRepository) CompleteNext(ctx context.Context, batchID string, weekNumber int, actor string) (bool, error) {
	const query = `INSERT INTO week_progress (id, batch_id, week_number, is_completed, completed_at, completed_by)
        SELECT $1, $2, $3, TRUE, $4, $5
        WHERE (SELECT COUNT(*) FROM week_progress WHERE batch_id = $2 AND is_completed = TRUE) = $3 - 1
        ON CONFLICT (batch_id, week_number)
        DO UPDATE SET is_completed = TRUE, completed_at = EXCLUDED.completed_at, completed_by = EXCLUDED.completed_by
        WHERE week_progress.is_completed = FALSE`
	res, err := r.db.ExecContext(ctx, query, uuid.NewString(), batchID, weekNumber, time.Now().UTC(), actor)
	if err != nil {
		return false, fmt.Errorf("complete week: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete week result: %w", err)
	}
	return affected == 1, nil
}

// UncompleteLast clears weekNumber only if it is the highest completed week.
// Returns false when the condition did not hold.
func (r *WeekProgressRepository) UncompleteLast(ctx context.Context, batchID string, weekNumber int) (bool, error) {
	const query = `DELETE FROM week_progress
        WHERE batch_id = $1 AND week_number = $2 AND is_completed = TRUE
        AND (SELECT COUNT(*) FROM week_progress wp WHERE wp.batch_id = $1 AND wp.is_completed = TRUE) = $2`
	res, err := r.db.ExecContext(ctx, query, batchID, weekNumber)
	if err != nil {
		return false, fmt.Errorf("uncomplete week: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("uncomplete week result: %w", err)
	}
	return affected == 1, nil
}

// DeleteByBatch removes all week progress rows for a batch.
func (r *WeekProgressRepository) DeleteByBatch(ctx context.Context, batchID string) error {
	const query = `DELETE FROM week_progress WHERE batch_id = $1`
	if _, err := r.db.ExecContext(ctx, query, batchID); err != nil {
		return fmt.Errorf("delete week progress: %w", err)
	}
	return nil
}
