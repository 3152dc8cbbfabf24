package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-school-api/internal/models"
)

const feeColumns = `id, school_id, fee_name, fee_type, amount, applies_to, class_id, academic_year, semester, due_date, description, is_active, created_at, updated_at`

// FeeRepository persists billable fee definitions.
type FeeRepository struct {
	db *sqlx.DB
}

// NewFeeRepository constructs the repository.
func NewFeeRepository(db *sqlx.DB) *FeeRepository {
	return &FeeRepository{db: db}
}

// List returns fees of a school.
func (r *FeeRepository) List(ctx context.Context, filter models.FeeFilter) ([]models.Fee, int, error) {
	base := "FROM fees WHERE school_id = $1"
	args := []interface{}{filter.SchoolID}
	if filter.AcademicYear != "" {
		base += fmt.Sprintf(" AND academic_year = $%d", len(args)+1)
		args = append(args, filter.AcademicYear)
	}
	if filter.Semester != 0 {
		base += fmt.Sprintf(" AND semester = $%d", len(args)+1)
		args = append(args, filter.Semester)
	}
	if filter.FeeType != "" {
		base += fmt.Sprintf(" AND fee_type = $%d", len(args)+1)
		args = append(args, filter.FeeType)
	}
	if filter.Active != nil {
		base += fmt.Sprintf(" AND is_active = $%d", len(args)+1)
		args = append(args, *filter.Active)
	}
	page := models.NewPagination(filter.Page, filter.PageSize, 0)
	query := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", feeColumns, base, page.PageSize, page.Offset())
	var fees []models.Fee
	if err := r.db.SelectContext(ctx, &fees, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list fees: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count fees: %w", err)
	}
	return fees, total, nil
}

// FindByID returns a fee of the school.
func (r *FeeRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, schoolID, id string) (*models.Fee, error) {
	if exec == nil {
		exec = r.db
	}
	query := `SELECT ` + feeColumns + ` FROM fees WHERE school_id = $1 AND id = $2`
	var fee models.Fee
	if err := sqlx.GetContext(ctx, exec, &fee, query, schoolID, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find fee: %w", err)
	}
	return &fee, nil
}

// Create inserts a fee.
func (r *FeeRepository) Create(ctx context.Context, fee *models.Fee) error {
	if fee.ID == "" {
		fee.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	fee.CreatedAt = now
	fee.UpdatedAt = now
	const query = `
INSERT INTO fees (id, school_id, fee_name, fee_type, amount, applies_to, class_id, academic_year, semester, due_date, description, is_active, created_at, updated_at)
VALUES (:id, :school_id, :fee_name, :fee_type, :amount, :applies_to, :class_id, :academic_year, :semester, :due_date, :description, :is_active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, fee); err != nil {
		return fmt.Errorf("create fee: %w", err)
	}
	return nil
}

// Update modifies a fee.
func (r *FeeRepository) Update(ctx context.Context, fee *models.Fee) error {
	fee.UpdatedAt = time.Now().UTC()
	const query = `
UPDATE fees SET fee_name = :fee_name, fee_type = :fee_type, amount = :amount, applies_to = :applies_to, class_id = :class_id,
	academic_year = :academic_year, semester = :semester, due_date = :due_date, description = :description,
	is_active = :is_active, updated_at = :updated_at
WHERE id = :id AND school_id = :school_id`
	result, err := r.db.NamedExecContext(ctx, query, fee)
	if err != nil {
		return fmt.Errorf("update fee: %w", err)
	}
	return requireAffected(result, "update fee")
}

// Delete removes a fee.
func (r *FeeRepository) Delete(ctx context.Context, schoolID, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM fees WHERE school_id = $1 AND id = $2`, schoolID, id)
	if err != nil {
		return fmt.Errorf("delete fee: %w", err)
	}
	return requireAffected(result, "delete fee")
}
