package models

import "time"

// DashboardStats aggregates the admin dashboard counters of a school.
type DashboardStats struct {
	SchoolID          string         `json:"school_id"`
	TotalUsers        int            `json:"total_users"`
	ActiveUsers       int            `json:"active_users"`
	PendingUsers      int            `json:"pending_users"`
	UsersByRole       []GroupCount   `json:"users_by_role"`
	TotalStudents     int            `json:"total_students"`
	TotalTeachers     int            `json:"total_teachers"`
	TotalClasses      int            `json:"total_classes"`
	TotalSubjects     int            `json:"total_subjects"`
	Payments          []StatusTotals `json:"payments"`
	SubscriptionPlan  string         `json:"subscription_plan"`
	RemainingDays     int            `json:"remaining_days"`
	AttendanceToday   int            `json:"attendance_today"`
	GeneratedAt       time.Time      `json:"generated_at"`
	SubscriptionValid bool           `json:"subscription_valid"`
}

// UserOverview is the per-user landing payload.
type UserOverview struct {
	UserID         string         `json:"user_id"`
	Username       string         `json:"username"`
	FullName       string         `json:"full_name"`
	Role           UserRole       `json:"role"`
	SchoolID       string         `json:"school_id"`
	ManagedClasses *int           `json:"managed_classes,omitempty"`
	Student        *Student       `json:"student,omitempty"`
	RecentScores   []Score        `json:"recent_scores,omitempty"`
	Permissions    Permissions    `json:"permissions"`
	GeneratedAt    time.Time      `json:"generated_at"`
	Extras         map[string]int `json:"extras,omitempty"`
}

// SystemMetrics represents process level counters captured from instrumentation.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	Transactions             uint64    `json:"transactions"`
	TransactionRetries       uint64    `json:"transaction_retries"`
	AuditEntriesDropped      uint64    `json:"audit_entries_dropped"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
