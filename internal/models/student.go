package models

import (
	"strings"
	"time"
)

// Gender canonical values.
const (
	GenderMale   = "Male"
	GenderFemale = "Female"
	GenderOther  = "Other"
)

// StudentStatus enumerates enrollment states.
type StudentStatus string

const (
	StudentStatusStudying    StudentStatus = "studying"
	StudentStatusSuspended   StudentStatus = "suspended"
	StudentStatusTransferred StudentStatus = "transferred"
	StudentStatusGraduated   StudentStatus = "graduated"
)

var genderAliases = map[string]string{
	"male": GenderMale, "m": GenderMale, "boy": GenderMale, "nam": GenderMale,
	"female": GenderFemale, "f": GenderFemale, "girl": GenderFemale, "nu": GenderFemale, "nữ": GenderFemale,
	"other": GenderOther, "non-binary": GenderOther, "nb": GenderOther, "khac": GenderOther,
}

var statusAliases = map[string]StudentStatus{
	"studying": StudentStatusStudying, "active": StudentStatusStudying, "enrolled": StudentStatusStudying,
	"suspended": StudentStatusSuspended, "inactive": StudentStatusSuspended, "pause": StudentStatusSuspended,
	"transferred": StudentStatusTransferred, "transfer": StudentStatusTransferred,
	"graduated": StudentStatusGraduated, "graduation": StudentStatusGraduated,
}

// NormalizeGender maps user input onto a canonical gender, or "" when unknown.
func NormalizeGender(value string) string {
	return genderAliases[strings.ToLower(strings.TrimSpace(value))]
}

// NormalizeStudentStatus maps user input onto a canonical status, or "" when unknown.
func NormalizeStudentStatus(value string) StudentStatus {
	return statusAliases[strings.ToLower(strings.TrimSpace(value))]
}

// Student represents a learner. When ClassID is set, ClassWorkspaceID
// references that class's current workspace.
type Student struct {
	ID               string           `db:"id" json:"id"`
	SchoolID         string           `db:"school_id" json:"school_id"`
	StudentCode      string           `db:"student_code" json:"student_code"`
	FullName         string           `db:"full_name" json:"full_name"`
	DateOfBirth      *time.Time       `db:"date_of_birth" json:"date_of_birth,omitempty"`
	Gender           string           `db:"gender" json:"gender"`
	Address          *string          `db:"address" json:"address,omitempty"`
	Phone            *string          `db:"phone" json:"phone,omitempty"`
	ParentName       *string          `db:"parent_name" json:"parent_name,omitempty"`
	ParentPhone      *string          `db:"parent_phone" json:"parent_phone,omitempty"`
	ClassID          *string          `db:"class_id" json:"class_id,omitempty"`
	ClassWorkspaceID *string          `db:"class_workspace_id" json:"class_workspace_id,omitempty"`
	AcademicYear     string           `db:"academic_year" json:"academic_year"`
	Status           StudentStatus    `db:"status" json:"status"`
	TransferHistory  []TransferRecord `db:"-" json:"transfer_history,omitempty"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
}

// TransferRecord is an append-only entry of a student's class moves.
type TransferRecord struct {
	ID            string    `db:"id" json:"id"`
	StudentID     string    `db:"student_id" json:"student_id"`
	FromClassID   *string   `db:"from_class_id" json:"from_class_id,omitempty"`
	ToClassID     string    `db:"to_class_id" json:"to_class_id"`
	TransferDate  time.Time `db:"transfer_date" json:"transfer_date"`
	Reason        *string   `db:"reason" json:"reason,omitempty"`
	TransferredBy string    `db:"transferred_by" json:"transferred_by"`
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	SchoolID     string
	ClassID      string
	Status       StudentStatus
	Gender       string
	AcademicYear string
	Search       string
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}

// GroupCount is a generic label and count pair used by statistics queries.
type GroupCount struct {
	Key   string `db:"key" json:"key"`
	Count int    `db:"count" json:"count"`
}

// StudentStatistics summarises the students of a school.
type StudentStatistics struct {
	Total    int          `json:"total"`
	ByStatus []GroupCount `json:"by_status"`
	ByGender []GroupCount `json:"by_gender"`
	ByClass  []GroupCount `json:"by_class"`
}

// ImportRowError describes a rejected bulk import row.
type ImportRowError struct {
	Row         int    `json:"row"`
	StudentCode string `json:"student_code"`
	Message     string `json:"message"`
}

// ImportResult summarises a bulk import.
type ImportResult struct {
	Imported int              `json:"imported"`
	Failed   int              `json:"failed"`
	Errors   []ImportRowError `json:"errors"`
}
