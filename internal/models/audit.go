package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// AuditAction constants represent actions to be logged.
const (
	AuditActionLogin                = "LOGIN"
	AuditActionLogout               = "LOGOUT"
	AuditActionRegister             = "REGISTER"
	AuditActionPasswordChange       = "PASSWORD_CHANGE"
	AuditActionStudentCreate        = "STUDENT_CREATE"
	AuditActionStudentUpdate        = "STUDENT_UPDATE"
	AuditActionStudentDelete        = "STUDENT_DELETE"
	AuditActionStudentTransfer      = "STUDENT_TRANSFER"
	AuditActionStudentImport        = "STUDENT_BULK_IMPORT"
	AuditActionClassCreate          = "CLASS_CREATE"
	AuditActionClassUpdate          = "CLASS_UPDATE"
	AuditActionClassDelete          = "CLASS_DELETE"
	AuditActionScoreEnter           = "SCORE_ENTER"
	AuditActionScoreUpdate          = "SCORE_UPDATE"
	AuditActionScoreDelete          = "SCORE_DELETE"
	AuditActionScoreLock            = "SCORE_LOCK"
	AuditActionScoreUnlock          = "SCORE_UNLOCK"
	AuditActionPaymentCreate        = "PAYMENT_CREATE"
	AuditActionPaymentBulkCreate    = "PAYMENT_BULK_CREATE"
	AuditActionPaymentRecord        = "PAYMENT_RECORD"
	AuditActionPaymentDiscount      = "PAYMENT_DISCOUNT"
	AuditActionPaymentDelete        = "PAYMENT_DELETE"
	AuditActionPermissionUpdate     = "PERMISSION_UPDATE"
	AuditActionPermissionBulkUpdate = "PERMISSION_BULK_UPDATE"
	AuditActionRoleApply            = "ROLE_APPLY"
	AuditActionUserApprove          = "USER_APPROVE"
	AuditActionUserReject           = "USER_REJECT"
	AuditActionUserDelete           = "USER_DELETE"
	AuditActionSettingsUpdate       = "SCHOOL_SETTINGS_UPDATE"
)

// PermissionAuditActions are the actions surfaced by the permission change log.
var PermissionAuditActions = []string{
	AuditActionPermissionUpdate,
	AuditActionPermissionBulkUpdate,
	AuditActionRoleApply,
	AuditActionUserApprove,
}

// AuditStatus records the outcome of the audited operation.
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusFailure AuditStatus = "failure"
)

// AuditLog represents an append-only audit trail record.
type AuditLog struct {
	ID           string         `db:"id" json:"id"`
	SchoolID     *string        `db:"school_id" json:"school_id,omitempty"`
	UserID       *string        `db:"user_id" json:"user_id,omitempty"`
	UserEmail    *string        `db:"user_email" json:"user_email,omitempty"`
	UserRole     *string        `db:"user_role" json:"user_role,omitempty"`
	Action       string         `db:"action" json:"action"`
	ResourceType string         `db:"resource_type" json:"resource_type"`
	ResourceID   *string        `db:"resource_id" json:"resource_id,omitempty"`
	OldData      types.JSONText `db:"old_data" json:"old_data,omitempty"`
	NewData      types.JSONText `db:"new_data" json:"new_data,omitempty"`
	IPAddress    string         `db:"ip_address" json:"ip_address"`
	UserAgent    string         `db:"user_agent" json:"user_agent"`
	Status       AuditStatus    `db:"status" json:"status"`
	ErrorMessage *string        `db:"error_message" json:"error_message,omitempty"`
	Metadata     types.JSONText `db:"metadata" json:"metadata,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
}

// AuditFilter captures filtering criteria for listing audit logs.
type AuditFilter struct {
	SchoolID     string
	UserID       string
	Actions      []string
	ResourceType string
	From         *time.Time
	To           *time.Time
	Page         int
	PageSize     int
}

// RequestMeta carries request details recorded on audit entries.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// Actor identifies the authenticated user performing an operation.
type Actor struct {
	UserID   string
	SchoolID string
	Email    string
	Role     UserRole
	Meta     RequestMeta
}
