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

const subjectColumns = `id, school_id, subject_code, subject_name, grades, type, coefficient, description, is_active, created_at, updated_at`

// SubjectRepository handles persistence for subjects.
type SubjectRepository struct {
	db *sqlx.DB
}

// NewSubjectRepository constructs a new repository.
func NewSubjectRepository(db *sqlx.DB) *SubjectRepository {
	return &SubjectRepository{db: db}
}

// List returns subjects of a school with optional filters.
func (r *SubjectRepository) List(ctx context.Context, filter models.SubjectFilter) ([]models.Subject, int, error) {
	base := "FROM subjects WHERE school_id = $1"
	args := []interface{}{filter.SchoolID}
	var conditions []string
	if filter.Grade != 0 {
		conditions = append(conditions, fmt.Sprintf("$%d = ANY(grades)", len(args)+1))
		args = append(args, filter.Grade)
	}
	if filter.Type != "" {
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)+1))
		args = append(args, filter.Type)
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("is_active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(subject_name) LIKE $%d OR LOWER(subject_code) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, likePattern(filter.Search))
	}
	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}
	page := models.NewPagination(filter.Page, filter.PageSize, 0)

	query := fmt.Sprintf("SELECT %s %s ORDER BY subject_code ASC LIMIT %d OFFSET %d", subjectColumns, base, page.PageSize, page.Offset())
	var subjects []models.Subject
	if err := r.db.SelectContext(ctx, &subjects, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list subjects: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count subjects: %w", err)
	}
	return subjects, total, nil
}

// FindByID fetches a subject of the school.
func (r *SubjectRepository) FindByID(ctx context.Context, schoolID, id string) (*models.Subject, error) {
	query := `SELECT ` + subjectColumns + ` FROM subjects WHERE school_id = $1 AND id = $2`
	var subject models.Subject
	if err := r.db.GetContext(ctx, &subject, query, schoolID, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find subject: %w", err)
	}
	return &subject, nil
}

// ExistsByCode checks subject code uniqueness within a school.
func (r *SubjectRepository) ExistsByCode(ctx context.Context, schoolID, code, excludeID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM subjects WHERE school_id = $1 AND subject_code = $2`
	args := []interface{}{schoolID, code}
	if excludeID != "" {
		query += ` AND id <> $3`
		args = append(args, excludeID)
	}
	query += `)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, args...); err != nil {
		return false, fmt.Errorf("check subject code: %w", err)
	}
	return exists, nil
}

// Create inserts a subject.
func (r *SubjectRepository) Create(ctx context.Context, subject *models.Subject) error {
	if subject.ID == "" {
		subject.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	subject.CreatedAt = now
	subject.UpdatedAt = now
	const query = `
INSERT INTO subjects (id, school_id, subject_code, subject_name, grades, type, coefficient, description, is_active, created_at, updated_at)
VALUES (:id, :school_id, :subject_code, :subject_name, :grades, :type, :coefficient, :description, :is_active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, subject); err != nil {
		return fmt.Errorf("create subject: %w", err)
	}
	return nil
}

// Update modifies an existing subject.
func (r *SubjectRepository) Update(ctx context.Context, subject *models.Subject) error {
	subject.UpdatedAt = time.Now().UTC()
	const query = `
UPDATE subjects SET subject_code = :subject_code, subject_name = :subject_name, grades = :grades, type = :type,
	coefficient = :coefficient, description = :description, is_active = :is_active, updated_at = :updated_at
WHERE id = :id AND school_id = :school_id`
	result, err := r.db.NamedExecContext(ctx, query, subject)
	if err != nil {
		return fmt.Errorf("update subject: %w", err)
	}
	return requireAffected(result, "update subject")
}

// Delete removes a subject.
func (r *SubjectRepository) Delete(ctx context.Context, schoolID, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM subjects WHERE school_id = $1 AND id = $2`, schoolID, id)
	if err != nil {
		return fmt.Errorf("delete subject: %w", err)
	}
	return requireAffected(result, "delete subject")
}

// CountBySchool returns the number of subjects of a school.
func (r *SubjectRepository) CountBySchool(ctx context.Context, schoolID string) (int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM subjects WHERE school_id = $1`, schoolID); err != nil {
		return 0, fmt.Errorf("count subjects: %w", err)
	}
	return total, nil
}
