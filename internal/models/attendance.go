package models

import "time"

// AttendanceStatus enumerates attendance marks.
type AttendanceStatus string

const (
	AttendancePresent   AttendanceStatus = "present"
	AttendanceExcused   AttendanceStatus = "excused"
	AttendanceUnexcused AttendanceStatus = "unexcused"
	AttendanceLate      AttendanceStatus = "late"
	AttendanceLeftEarly AttendanceStatus = "left_early"
)

// Valid reports whether the status is known.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendancePresent, AttendanceExcused, AttendanceUnexcused, AttendanceLate, AttendanceLeftEarly:
		return true
	}
	return false
}

// Absent reports whether the status counts as an absence.
func (s AttendanceStatus) Absent() bool {
	return s == AttendanceExcused || s == AttendanceUnexcused
}

// AttendanceSession identifies the part of the day.
type AttendanceSession string

const (
	SessionMorning   AttendanceSession = "morning"
	SessionAfternoon AttendanceSession = "afternoon"
	SessionFullDay   AttendanceSession = "full_day"
)

// Attendance is unique by (student, date, session, period).
type Attendance struct {
	ID        string            `db:"id" json:"id"`
	SchoolID  string            `db:"school_id" json:"school_id"`
	StudentID string            `db:"student_id" json:"student_id"`
	ClassID   string            `db:"class_id" json:"class_id"`
	Date      time.Time         `db:"date" json:"date"`
	Session   AttendanceSession `db:"session" json:"session"`
	Period    int               `db:"period" json:"period"`
	Status    AttendanceStatus  `db:"status" json:"status"`
	Note      *string           `db:"note" json:"note,omitempty"`
	MarkedBy  string            `db:"marked_by" json:"marked_by"`
	CreatedAt time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt time.Time         `db:"updated_at" json:"updated_at"`
}

// AttendanceFilter defines filter criteria for listing attendance.
type AttendanceFilter struct {
	SchoolID  string
	ClassID   string
	StudentID string
	From      *time.Time
	To        *time.Time
	Status    AttendanceStatus
	Page      int
	PageSize  int
}

// AttendanceMarkResult summarises a class roll call.
type AttendanceMarkResult struct {
	Marked  int `json:"marked"`
	Skipped int `json:"skipped"`
	Absent  int `json:"absent"`
}

// AttendanceStatistics summarises attendance over a date range.
type AttendanceStatistics struct {
	Total          int          `json:"total"`
	ByStatus       []GroupCount `json:"by_status"`
	AttendanceRate float64      `json:"attendance_rate"`
}
