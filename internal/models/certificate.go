package models

import "time"

// Certificate is the issued artifact for a (student, course) pair.
// At most one certificate exists per pair system-wide; regeneration
// replaces the artifact, never the identity key.
type Certificate struct {
	ID            string     `db:"id" json:"id"`
	StudentID     string     `db:"student_id" json:"student_id"`
	CourseID      string     `db:"course_id" json:"course_id"`
	EnrollmentID  string     `db:"enrollment_id" json:"enrollment_id"`
	TemplateID    string     `db:"template_id" json:"template_id"`
	SerialNumber  string     `db:"serial_number" json:"serial_number"`
	ArtifactPath  string     `db:"artifact_path" json:"artifact_path"`
	ArtifactURL   string     `db:"artifact_url" json:"artifact_url"`
	IssuedAt      time.Time  `db:"issued_at" json:"issued_at"`
	IssuedBy      string     `db:"issued_by" json:"issued_by"`
	RegeneratedAt *time.Time `db:"regenerated_at" json:"regenerated_at,omitempty"`
}

// CertificateFilter provides filters for listing certificates.
type CertificateFilter struct {
	StudentID string
	CourseID  string
	Page      int
	PageSize  int
}

// CertificateTemplate is external reference data selecting the layout
// used when rendering a certificate.
type CertificateTemplate struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Title     string    `db:"title" json:"title"`
	Subtitle  string    `db:"subtitle" json:"subtitle"`
	SignedBy  string    `db:"signed_by" json:"signed_by"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// CertificateAssignment links a teacher to the templates they may use.
type CertificateAssignment struct {
	ID         string    `db:"id" json:"id"`
	TeacherID  string    `db:"teacher_id" json:"teacher_id"`
	TemplateID string    `db:"template_id" json:"template_id"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// FailureReason classifies why a single issuance did not produce a certificate.
type FailureReason string

// Possible issuance failure reasons. AlreadyCertified is a normal,
// expected outcome of bulk issuance, not an error.
const (
	FailureAlreadyCertified       FailureReason = "ALREADY_CERTIFIED"
	FailureEnrollmentNotCompleted FailureReason = "ENROLLMENT_NOT_COMPLETED"
	FailureTemplateNotFound       FailureReason = "TEMPLATE_NOT_FOUND"
	FailureIssuerError            FailureReason = "ISSUER_ERROR"
)

// IssuanceResult is the per-enrollment outcome of an issuance attempt.
type IssuanceResult struct {
	EnrollmentID string        `json:"enrollment_id"`
	Issued       bool          `json:"issued"`
	Reason       FailureReason `json:"reason,omitempty"`
	Detail       string        `json:"detail,omitempty"`
	Certificate  *Certificate  `json:"certificate,omitempty"`
}

// BulkIssuanceResult aggregates independent per-item outcomes.
// Callers always receive counts, never a single boolean.
type BulkIssuanceResult struct {
	Results      []IssuanceResult `json:"results"`
	SuccessCount int              `json:"success_count"`
	FailCount    int              `json:"fail_count"`
}
