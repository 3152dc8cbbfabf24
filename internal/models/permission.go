package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin    UserRole = "admin"
	RoleTeacher  UserRole = "teacher"
	RoleStudent  UserRole = "student"
	RoleParent   UserRole = "parent"
	RoleUser     UserRole = "user"
	RoleStaff    UserRole = "staff"
	RoleSubAdmin UserRole = "subadmin"
)

// Permission names a single capability. The values match the keys used by
// route guards and the permission update payloads.
type Permission string

const (
	PermCreate       Permission = "canCreate"
	PermUpdate       Permission = "canUpdate"
	PermDelete       Permission = "canDelete"
	PermViewAll      Permission = "canViewAll"
	PermManageUsers  Permission = "canManageUsers"
	PermManageSchool Permission = "canManageSchool"
)

// AllPermissions lists every capability in display order.
var AllPermissions = []Permission{PermCreate, PermUpdate, PermDelete, PermViewAll, PermManageUsers, PermManageSchool}

// Permissions is the six-boolean capability set stored as JSONB on users.
type Permissions struct {
	CanCreate       bool `json:"canCreate"`
	CanUpdate       bool `json:"canUpdate"`
	CanDelete       bool `json:"canDelete"`
	CanViewAll      bool `json:"canViewAll"`
	CanManageUsers  bool `json:"canManageUsers"`
	CanManageSchool bool `json:"canManageSchool"`
}

// Has reports whether the capability is granted.
func (p Permissions) Has(perm Permission) bool {
	switch perm {
	case PermCreate:
		return p.CanCreate
	case PermUpdate:
		return p.CanUpdate
	case PermDelete:
		return p.CanDelete
	case PermViewAll:
		return p.CanViewAll
	case PermManageUsers:
		return p.CanManageUsers
	case PermManageSchool:
		return p.CanManageSchool
	default:
		return false
	}
}

// Value marshals permissions to JSON for persistence.
func (p Permissions) Value() (driver.Value, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal permissions: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the permission set.
func (p *Permissions) Scan(value interface{}) error {
	if value == nil {
		*p = Permissions{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for Permissions", value)
	}
	if len(data) == 0 {
		*p = Permissions{}
		return nil
	}
	return json.Unmarshal(data, p)
}

// PermissionPatch carries optional per-capability overrides.
type PermissionPatch struct {
	CanCreate       *bool `json:"canCreate,omitempty"`
	CanUpdate       *bool `json:"canUpdate,omitempty"`
	CanDelete       *bool `json:"canDelete,omitempty"`
	CanViewAll      *bool `json:"canViewAll,omitempty"`
	CanManageUsers  *bool `json:"canManageUsers,omitempty"`
	CanManageSchool *bool `json:"canManageSchool,omitempty"`
}

// Apply returns a copy of base with the patch applied.
func (pp PermissionPatch) Apply(base Permissions) Permissions {
	set := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}
	set(&base.CanCreate, pp.CanCreate)
	set(&base.CanUpdate, pp.CanUpdate)
	set(&base.CanDelete, pp.CanDelete)
	set(&base.CanViewAll, pp.CanViewAll)
	set(&base.CanManageUsers, pp.CanManageUsers)
	set(&base.CanManageSchool, pp.CanManageSchool)
	return base
}

// RolePreset describes the default capability set of a role.
type RolePreset struct {
	Role        UserRole    `json:"role"`
	Label       string      `json:"label"`
	Description string      `json:"description"`
	Auxiliary   bool        `json:"auxiliary"`
	Permissions Permissions `json:"permissions"`
}

var rolePresets = []RolePreset{
	{Role: RoleAdmin, Label: "Administrator", Description: "Full access to the school", Permissions: Permissions{true, true, true, true, true, true}},
	{Role: RoleTeacher, Label: "Teacher", Description: "Creates and updates academic records", Permissions: Permissions{CanCreate: true, CanUpdate: true, CanViewAll: true}},
	{Role: RoleStudent, Label: "Student", Description: "Reads own records"},
	{Role: RoleParent, Label: "Parent", Description: "Reads own children's records"},
	{Role: RoleUser, Label: "User", Description: "Minimal access"},
	{Role: RoleStaff, Label: "Staff", Description: "Operational staff", Auxiliary: true, Permissions: Permissions{CanCreate: true, CanUpdate: true, CanViewAll: true}},
	{Role: RoleSubAdmin, Label: "Deputy administrator", Description: "Manages records and users but not school settings", Auxiliary: true, Permissions: Permissions{CanCreate: true, CanUpdate: true, CanDelete: true, CanViewAll: true, CanManageUsers: true}},
}

// DerivePermissions returns the preset capability set for a role. Unknown
// roles receive the minimal user preset.
func DerivePermissions(role UserRole) Permissions {
	for _, preset := range rolePresets {
		if preset.Role == role {
			return preset.Permissions
		}
	}
	return Permissions{}
}

// RolePresets returns a copy of the preset table.
func RolePresets() []RolePreset {
	out := make([]RolePreset, len(rolePresets))
	copy(out, rolePresets)
	return out
}

// IsValidRole reports whether the role has a preset.
func IsValidRole(role UserRole) bool {
	for _, preset := range rolePresets {
		if preset.Role == role {
			return true
		}
	}
	return false
}

// MatchesRolePreset reports whether perms equal the role's preset.
func MatchesRolePreset(role UserRole, perms Permissions) bool {
	return DerivePermissions(role) == perms
}
