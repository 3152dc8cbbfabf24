package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-school-api/internal/models"
)

const schoolColumns = `id, school_name, school_code, address, phone, email, total_students, total_teachers, total_classes, is_active, subscription_plan, subscription_expires_at, settings, workspace_id, workspace_code, workspace_path, created_at, updated_at`

// SchoolRepository persists tenant records.
type SchoolRepository struct {
	db *sqlx.DB
}

// NewSchoolRepository constructs the repository.
func NewSchoolRepository(db *sqlx.DB) *SchoolRepository {
	return &SchoolRepository{db: db}
}

func (r *SchoolRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// FindByName looks a school up by trimmed, case-insensitive name.
func (r *SchoolRepository) FindByName(ctx context.Context, exec sqlx.ExtContext, name string) (*models.School, error) {
	query := `SELECT ` + schoolColumns + ` FROM schools WHERE LOWER(school_name) = LOWER($1) LIMIT 1`
	var school models.School
	if err := sqlx.GetContext(ctx, r.exec(exec), &school, query, strings.TrimSpace(name)); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find school by name: %w", err)
	}
	return &school, nil
}

// FindByID returns a school by identifier.
func (r *SchoolRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.School, error) {
	query := `SELECT ` + schoolColumns + ` FROM schools WHERE id = $1`
	var school models.School
	if err := sqlx.GetContext(ctx, r.exec(exec), &school, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find school by id: %w", err)
	}
	return &school, nil
}

// Create inserts a school.
func (r *SchoolRepository) Create(ctx context.Context, exec sqlx.ExtContext, school *models.School) error {
	if school.ID == "" {
		school.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if school.CreatedAt.IsZero() {
		school.CreatedAt = now
	}
	school.UpdatedAt = now

	const query = `
INSERT INTO schools (id, school_name, school_code, address, phone, email, total_students, total_teachers, total_classes, is_active, subscription_plan, subscription_expires_at, settings, created_at, updated_at)
VALUES (:id, :school_name, :school_code, :address, :phone, :email, :total_students, :total_teachers, :total_classes, :is_active, :subscription_plan, :subscription_expires_at, :settings, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, school); err != nil {
		return fmt.Errorf("create school: %w", err)
	}
	return nil
}

// UpdateSettings replaces the settings document of a school.
func (r *SchoolRepository) UpdateSettings(ctx context.Context, exec sqlx.ExtContext, id string, settings models.SchoolSettings) error {
	const query = `UPDATE schools SET settings = $2, updated_at = $3 WHERE id = $1`
	result, err := r.exec(exec).ExecContext(ctx, query, id, settings, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update school settings: %w", err)
	}
	return requireAffected(result, "school settings")
}

// SetWorkspace back-fills the denormalized workspace pointer.
func (r *SchoolRepository) SetWorkspace(ctx context.Context, exec sqlx.ExtContext, id string, ref models.WorkspaceRef) error {
	const query = `UPDATE schools SET workspace_id = $2, workspace_code = $3, workspace_path = $4, updated_at = $5 WHERE id = $1`
	if _, err := r.exec(exec).ExecContext(ctx, query, id, ref.ID, ref.Code, ref.Path, time.Now().UTC()); err != nil {
		return fmt.Errorf("set school workspace: %w", err)
	}
	return nil
}

// IncrementCounter adds delta to one of the aggregate counters, never going below zero.
func (r *SchoolRepository) IncrementCounter(ctx context.Context, exec sqlx.ExtContext, id string, counter models.SchoolCounter, delta int) error {
	switch counter {
	case models.CounterStudents, models.CounterTeachers, models.CounterClasses:
	default:
		return fmt.Errorf("unknown school counter %q", counter)
	}
	query := fmt.Sprintf(`UPDATE schools SET %[1]s = GREATEST(%[1]s + $2, 0), updated_at = $3 WHERE id = $1`, counter)
	result, err := r.exec(exec).ExecContext(ctx, query, id, delta, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("increment school %s: %w", counter, err)
	}
	return requireAffected(result, "school counter")
}
