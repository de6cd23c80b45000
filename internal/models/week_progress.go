package models

import "time"

// WeekProgress records completion of one curriculum week for a batch.
// Rows are created lazily on first completion; the set of completed week
// numbers for a batch is always a contiguous prefix {1..k}.
type WeekProgress struct {
	ID          string     `db:"id" json:"id"`
	BatchID     string     `db:"batch_id" json:"batch_id"`
	WeekNumber  int        `db:"week_number" json:"week_number"`
	IsCompleted bool       `db:"is_completed" json:"is_completed"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CompletedBy *string    `db:"completed_by" json:"completed_by,omitempty"`
}

// WeekState is the read-model for a single week in a progress summary.
type WeekState struct {
	WeekNumber  int        `json:"week_number"`
	IsCompleted bool       `json:"is_completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CompletedBy *string    `json:"completed_by,omitempty"`
}

// ProgressSummary reports batch-level week progress, recomputed from the
// authoritative WeekProgress rows on every read.
type ProgressSummary struct {
	BatchID        string      `json:"batch_id"`
	DurationWeeks  int         `json:"duration_weeks"`
	CompletedWeeks int         `json:"completed_weeks"`
	Percentage     int         `json:"percentage"`
	Weeks          []WeekState `json:"weeks"`
}
