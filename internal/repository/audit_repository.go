package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-school-api/internal/models"
)

const auditColumns = `id, school_id, user_id, user_email, user_role, action, resource_type, resource_id, old_data, new_data, ip_address, user_agent, status, error_message, metadata, created_at`

// AuditRepository appends to and reads the audit trail.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository constructs the repository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create appends an audit entry.
func (r *AuditRepository) Create(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Status == "" {
		entry.Status = models.AuditStatusSuccess
	}
	for _, field := range []*types.JSONText{&entry.OldData, &entry.NewData, &entry.Metadata} {
		if len(*field) == 0 {
			*field = types.JSONText(`null`)
		}
	}
	const query = `
INSERT INTO audit_logs (id, school_id, user_id, user_email, user_role, action, resource_type, resource_id, old_data, new_data, ip_address, user_agent, status, error_message, metadata, created_at)
VALUES (:id, :school_id, :user_id, :user_email, :user_role, :action, :resource_type, :resource_id, :old_data, :new_data, :ip_address, :user_agent, :status, :error_message, :metadata, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

// List returns audit entries of a school, newest first.
func (r *AuditRepository) List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, int, error) {
	base := "FROM audit_logs WHERE school_id = $1"
	args := []interface{}{filter.SchoolID}
	if filter.UserID != "" {
		base += fmt.Sprintf(" AND user_id = $%d", len(args)+1)
		args = append(args, filter.UserID)
	}
	if len(filter.Actions) > 0 {
		base += fmt.Sprintf(" AND action = ANY($%d)", len(args)+1)
		args = append(args, pq.Array(filter.Actions))
	}
	if filter.ResourceType != "" {
		base += fmt.Sprintf(" AND resource_type = $%d", len(args)+1)
		args = append(args, filter.ResourceType)
	}
	if filter.From != nil {
		base += fmt.Sprintf(" AND created_at >= $%d", len(args)+1)
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		base += fmt.Sprintf(" AND created_at <= $%d", len(args)+1)
		args = append(args, *filter.To)
	}
	page := models.NewPagination(filter.Page, filter.PageSize, 0)
	query := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", auditColumns, base, page.PageSize, page.Offset())
	var logs []models.AuditLog
	if err := r.db.SelectContext(ctx, &logs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list audit logs: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count audit logs: %w", err)
	}
	return logs, total, nil
}
