package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusPending   EnrollmentStatus = "PENDING"
	EnrollmentStatusApproved  EnrollmentStatus = "APPROVED"
	EnrollmentStatusRejected  EnrollmentStatus = "REJECTED"
	EnrollmentStatusCompleted EnrollmentStatus = "COMPLETED"
)

// IsValid reports whether the status is a known enrollment status.
func (s EnrollmentStatus) IsValid() bool {
	switch s {
	case EnrollmentStatusPending, EnrollmentStatusApproved, EnrollmentStatusRejected, EnrollmentStatusCompleted:
		return true
	}
	return false
}

// enrollmentTransitions is the closed transition table for enrollments.
// Rejected is terminal; a new enrollment must be created to retry.
var enrollmentTransitions = map[EnrollmentStatus][]EnrollmentStatus{
	EnrollmentStatusPending:   {EnrollmentStatusApproved, EnrollmentStatusRejected},
	EnrollmentStatusApproved:  {EnrollmentStatusCompleted},
	EnrollmentStatusRejected:  {},
	EnrollmentStatusCompleted: {},
}

// CanTransitionTo reports whether moving from s to next is a legal transition.
func (s EnrollmentStatus) CanTransitionTo(next EnrollmentStatus) bool {
	for _, allowed := range enrollmentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Enrollment captures a student's registration to a course.
// ProgressPercent is a teacher-entered per-student metric, stored
// independently from batch-level week progress.
type Enrollment struct {
	ID              string           `db:"id" json:"id"`
	StudentID       string           `db:"student_id" json:"student_id"`
	CourseID        string           `db:"course_id" json:"course_id"`
	Status          EnrollmentStatus `db:"status" json:"status"`
	ProgressPercent int              `db:"progress_percent" json:"progress_percent"`
	AppliedAt       time.Time        `db:"applied_at" json:"applied_at"`
	DecidedAt       *time.Time       `db:"decided_at" json:"decided_at,omitempty"`
	CompletedAt     *time.Time       `db:"completed_at" json:"completed_at,omitempty"`
}

// EnrollmentDetail enriches Enrollment with student and course info.
type EnrollmentDetail struct {
	Enrollment
	StudentName string `db:"student_name" json:"student_name"`
	CourseTitle string `db:"course_title" json:"course_title"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID string
	CourseID  string
	Status    EnrollmentStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
