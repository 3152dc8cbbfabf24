package models

import "time"

// User represents an application user stored in the users table. Users are
// unique by username and by email within their school.
type User struct {
	ID                string      `db:"id" json:"id"`
	SchoolID          string      `db:"school_id" json:"school_id"`
	Username          string      `db:"username" json:"username"`
	Email             string      `db:"email" json:"email"`
	PasswordHash      string      `db:"password_hash" json:"-"`
	FullName          string      `db:"full_name" json:"full_name"`
	Phone             *string     `db:"phone" json:"phone,omitempty"`
	Role              UserRole    `db:"role" json:"role"`
	Permissions       Permissions `db:"permissions" json:"permissions"`
	CustomPermissions bool        `db:"custom_permissions" json:"custom_permissions"`
	Active            bool        `db:"is_active" json:"is_active"`
	StudentID         *string     `db:"student_id" json:"student_id,omitempty"`
	RefreshToken      *string     `db:"refresh_token" json:"-"`
	LastLogin         *time.Time  `db:"last_login" json:"last_login,omitempty"`
	LastLogout        *time.Time  `db:"last_logout" json:"last_logout,omitempty"`
	CreatedAt         time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time   `db:"updated_at" json:"updated_at"`
}

// AssignRole sets the role and recomputes permissions from the preset. A
// non-nil override replaces the preset and marks the set as custom.
func (u *User) AssignRole(role UserRole, override *Permissions) {
	u.Role = role
	if override != nil {
		u.Permissions = *override
		u.CustomPermissions = !MatchesRolePreset(role, *override)
		return
	}
	u.Permissions = DerivePermissions(role)
	u.CustomPermissions = false
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	SchoolID  string
	Role      *UserRole
	Active    *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

// NewPagination normalises page arguments with the shared defaults.
func NewPagination(page, pageSize, total int) *Pagination {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return &Pagination{Page: page, PageSize: pageSize, TotalCount: total}
}

// Offset returns the row offset for the page.
func (p *Pagination) Offset() int {
	return (p.Page - 1) * p.PageSize
}
