package models

import "time"

// Course is reference data owned by course authoring; read-only to the engine.
type Course struct {
	ID                 string    `db:"id" json:"id"`
	Title              string    `db:"title" json:"title"`
	DurationWeeks      int       `db:"duration_weeks" json:"duration_weeks"`
	CertificateEnabled bool      `db:"certificate_enabled" json:"certificate_enabled"`
	Active             bool      `db:"active" json:"active"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}
