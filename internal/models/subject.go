package models

import (
	"time"

	"github.com/lib/pq"
)

// SubjectType distinguishes compulsory and elective subjects.
type SubjectType string

const (
	SubjectTypeCompulsory SubjectType = "compulsory"
	SubjectTypeElective   SubjectType = "elective"
)

// Subject represents a course taught at the school.
type Subject struct {
	ID          string        `db:"id" json:"id"`
	SchoolID    string        `db:"school_id" json:"school_id"`
	SubjectCode string        `db:"subject_code" json:"subject_code"`
	SubjectName string        `db:"subject_name" json:"subject_name"`
	Grades      pq.Int64Array `db:"grades" json:"grades"`
	Type        SubjectType   `db:"type" json:"type"`
	Coefficient float64       `db:"coefficient" json:"coefficient"`
	Description *string       `db:"description" json:"description,omitempty"`
	IsActive    bool          `db:"is_active" json:"is_active"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at" json:"updated_at"`
}

// SubjectFilter defines filter criteria for listing subjects.
type SubjectFilter struct {
	SchoolID string
	Grade    int
	Type     SubjectType
	Active   *bool
	Search   string
	Page     int
	PageSize int
}
