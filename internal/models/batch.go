package models

import "time"

// BatchStatus represents the lifecycle state of a batch.
type BatchStatus string

// Possible batch statuses.
const (
	BatchStatusNotStarted BatchStatus = "NOT_STARTED"
	BatchStatusActive     BatchStatus = "ACTIVE"
	BatchStatusInProgress BatchStatus = "IN_PROGRESS"
	BatchStatusCompleted  BatchStatus = "COMPLETED"
	BatchStatusArchived   BatchStatus = "ARCHIVED"
)

// IsValid reports whether the status is a known batch status.
func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusNotStarted, BatchStatusActive, BatchStatusInProgress, BatchStatusCompleted, BatchStatusArchived:
		return true
	}
	return false
}

// batchTransitions is the closed transition table for batch statuses.
// Archived is terminal; completed may still be reset to not started.
var batchTransitions = map[BatchStatus][]BatchStatus{
	BatchStatusNotStarted: {BatchStatusActive, BatchStatusArchived},
	BatchStatusActive:     {BatchStatusInProgress, BatchStatusCompleted, BatchStatusNotStarted, BatchStatusArchived},
	BatchStatusInProgress: {BatchStatusActive, BatchStatusCompleted, BatchStatusNotStarted, BatchStatusArchived},
	BatchStatusCompleted:  {BatchStatusNotStarted, BatchStatusArchived},
	BatchStatusArchived:   {},
}

// CanTransitionTo reports whether moving from s to next is a legal transition.
func (s BatchStatus) CanTransitionTo(next BatchStatus) bool {
	for _, allowed := range batchTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Batch is a cohort of students progressing through one course together.
type Batch struct {
	ID                 string      `db:"id" json:"id"`
	CourseID           string      `db:"course_id" json:"course_id"`
	Name               string      `db:"name" json:"name"`
	Status             BatchStatus `db:"status" json:"status"`
	StartDate          *time.Time  `db:"start_date" json:"start_date,omitempty"`
	EndDate            *time.Time  `db:"end_date" json:"end_date,omitempty"`
	ProgressPercentage int         `db:"progress_percentage" json:"progress_percentage"`
	CertificatesIssued bool        `db:"certificates_issued" json:"certificates_issued"`
	Active             bool        `db:"active" json:"active"`
	CreatedAt          time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time   `db:"updated_at" json:"updated_at"`
}

// BatchDetail enriches Batch with course context.
type BatchDetail struct {
	Batch
	CourseTitle   string `db:"course_title" json:"course_title"`
	DurationWeeks int    `db:"duration_weeks" json:"duration_weeks"`
	StudentCount  int    `db:"student_count" json:"student_count"`
}

// BatchFilter provides filters for listing batches.
type BatchFilter struct {
	CourseID  string
	Status    BatchStatus
	Active    *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
