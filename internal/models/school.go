package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// SubscriptionPlan enumerates billing tiers.
type SubscriptionPlan string

const (
	PlanFree       SubscriptionPlan = "free"
	PlanBasic      SubscriptionPlan = "basic"
	PlanPremium    SubscriptionPlan = "premium"
	PlanEnterprise SubscriptionPlan = "enterprise"
)

// SchoolSettings holds the academic-year configuration of a tenant.
type SchoolSettings struct {
	AcademicYearStart int      `json:"academicYearStart" validate:"min=1,max=12"`
	SemestersPerYear  int      `json:"semestersPerYear" validate:"min=1,max=4"`
	GradesOffered     []string `json:"gradesOffered"`
	Currency          string   `json:"currency"`
	Timezone          string   `json:"timezone"`
}

// DefaultSchoolSettings returns the settings applied to new schools.
func DefaultSchoolSettings(currency, timezone string) SchoolSettings {
	if currency == "" {
		currency = "VND"
	}
	if timezone == "" {
		timezone = "Asia/Ho_Chi_Minh"
	}
	return SchoolSettings{
		AcademicYearStart: 9,
		SemestersPerYear:  2,
		GradesOffered:     []string{"10", "11", "12"},
		Currency:          currency,
		Timezone:          timezone,
	}
}

// Value marshals settings to JSON for persistence.
func (s SchoolSettings) Value() (driver.Value, error) {
	if s.GradesOffered == nil {
		s.GradesOffered = []string{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal school settings: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the settings struct.
func (s *SchoolSettings) Scan(value interface{}) error {
	if value == nil {
		*s = SchoolSettings{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for SchoolSettings", value)
	}
	if len(data) == 0 {
		*s = SchoolSettings{}
		return nil
	}
	return json.Unmarshal(data, s)
}

// School is the tenant record.
type School struct {
	ID                    string           `db:"id" json:"id"`
	SchoolName            string           `db:"school_name" json:"school_name"`
	SchoolCode            string           `db:"school_code" json:"school_code"`
	Address               *string          `db:"address" json:"address,omitempty"`
	Phone                 *string          `db:"phone" json:"phone,omitempty"`
	Email                 *string          `db:"email" json:"email,omitempty"`
	TotalStudents         int              `db:"total_students" json:"total_students"`
	TotalTeachers         int              `db:"total_teachers" json:"total_teachers"`
	TotalClasses          int              `db:"total_classes" json:"total_classes"`
	IsActive              bool             `db:"is_active" json:"is_active"`
	SubscriptionPlan      SubscriptionPlan `db:"subscription_plan" json:"subscription_plan"`
	SubscriptionExpiresAt time.Time        `db:"subscription_expires_at" json:"subscription_expires_at"`
	Settings              SchoolSettings   `db:"settings" json:"settings"`
	WorkspaceID           *string          `db:"workspace_id" json:"workspace_id,omitempty"`
	WorkspaceCode         *string          `db:"workspace_code" json:"workspace_code,omitempty"`
	WorkspacePath         *string          `db:"workspace_path" json:"workspace_path,omitempty"`
	CreatedAt             time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time        `db:"updated_at" json:"updated_at"`
}

// SubscriptionActive reports whether the school may be used at time now.
func (s *School) SubscriptionActive(now time.Time) bool {
	return s.IsActive && s.SubscriptionExpiresAt.After(now)
}

// RemainingDays returns the whole days left on the subscription, never negative.
func (s *School) RemainingDays(now time.Time) int {
	diff := s.SubscriptionExpiresAt.Sub(now)
	if diff <= 0 {
		return 0
	}
	return int(math.Ceil(diff.Hours() / 24))
}

// SchoolSummary is the public projection returned by auth flows.
type SchoolSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Code string `json:"code"`
}

// SchoolCounter names an aggregate column on the schools table.
type SchoolCounter string

const (
	CounterStudents SchoolCounter = "total_students"
	CounterTeachers SchoolCounter = "total_teachers"
	CounterClasses  SchoolCounter = "total_classes"
)
