package models

import "time"

// ClassStatus tracks the lifecycle of a class.
type ClassStatus string

const (
	ClassStatusActive ClassStatus = "active"
	ClassStatusEnded  ClassStatus = "ended"
	ClassStatusPaused ClassStatus = "paused"
)

// DefaultClassCapacity applies when a class is created without capacity.
const DefaultClassCapacity = 40

// Class represents a homeroom group. CurrentStudents is only changed by
// enrollment, transfer and student deletion and always satisfies
// 0 <= CurrentStudents <= Capacity.
type Class struct {
	ID                string      `db:"id" json:"id"`
	SchoolID          string      `db:"school_id" json:"school_id"`
	ClassCode         string      `db:"class_code" json:"class_code"`
	ClassName         string      `db:"class_name" json:"class_name"`
	Grade             int         `db:"grade" json:"grade"`
	AcademicYear      string      `db:"academic_year" json:"academic_year"`
	HomeroomTeacherID *string     `db:"homeroom_teacher_id" json:"homeroom_teacher_id,omitempty"`
	Capacity          int         `db:"capacity" json:"capacity"`
	CurrentStudents   int         `db:"current_students" json:"current_students"`
	Classroom         *string     `db:"classroom" json:"classroom,omitempty"`
	Status            ClassStatus `db:"status" json:"status"`
	Notes             *string     `db:"notes" json:"notes,omitempty"`
	WorkspaceID       *string     `db:"workspace_id" json:"workspace_id,omitempty"`
	WorkspaceCode     *string     `db:"workspace_code" json:"workspace_code,omitempty"`
	WorkspacePath     *string     `db:"workspace_path" json:"workspace_path,omitempty"`
	CreatedAt         time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time   `db:"updated_at" json:"updated_at"`
}

// HasSeat reports whether another student fits.
func (c *Class) HasSeat() bool {
	return c.CurrentStudents < c.Capacity
}

// ClassFilter defines filter criteria for listing classes.
type ClassFilter struct {
	SchoolID     string
	Grade        int
	AcademicYear string
	Status       ClassStatus
	TeacherID    string
	Search       string
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}

// ClassGradeStats aggregates classes of a grade.
type ClassGradeStats struct {
	Grade    int `db:"grade" json:"grade"`
	Classes  int `db:"classes" json:"classes"`
	Students int `db:"students" json:"students"`
	Capacity int `db:"capacity" json:"capacity"`
}

// ClassStatistics summarises the classes of a school.
type ClassStatistics struct {
	TotalClasses  int               `json:"total_classes"`
	ActiveClasses int               `json:"active_classes"`
	TotalCapacity int               `json:"total_capacity"`
	TotalStudents int               `json:"total_students"`
	OccupancyRate float64           `json:"occupancy_rate"`
	ByGrade       []ClassGradeStats `json:"by_grade"`
}
