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

const classColumns = `id, school_id, class_code, class_name, grade, academic_year, homeroom_teacher_id, capacity, current_students, classroom, status, notes, workspace_id, workspace_code, workspace_path, created_at, updated_at`

// ClassRepository manages persistence for classes.
type ClassRepository struct {
	db *sqlx.DB
}

// NewClassRepository constructs a new class repository.
func NewClassRepository(db *sqlx.DB) *ClassRepository {
	return &ClassRepository{db: db}
}

func (r *ClassRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// List returns classes matching filter criteria.
func (r *ClassRepository) List(ctx context.Context, filter models.ClassFilter) ([]models.Class, int, error) {
	base := "FROM classes WHERE school_id = $1"
	args := []interface{}{filter.SchoolID}
	var conditions []string

	if filter.Grade != 0 {
		conditions = append(conditions, fmt.Sprintf("grade = $%d", len(args)+1))
		args = append(args, filter.Grade)
	}
	if filter.AcademicYear != "" {
		conditions = append(conditions, fmt.Sprintf("academic_year = $%d", len(args)+1))
		args = append(args, filter.AcademicYear)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf("homeroom_teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(class_name) LIKE $%d OR LOWER(class_code) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, likePattern(filter.Search))
	}
	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	order := orderBy(filter.SortBy, filter.SortOrder, map[string]bool{
		"class_code": true,
		"class_name": true,
		"grade":      true,
		"created_at": true,
	}, "created_at")
	page := models.NewPagination(filter.Page, filter.PageSize, 0)

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s LIMIT %d OFFSET %d", classColumns, base, order, page.PageSize, page.Offset())
	var classes []models.Class
	if err := r.db.SelectContext(ctx, &classes, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list classes: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count classes: %w", err)
	}
	return classes, total, nil
}

// FindByID returns a class of the school.
func (r *ClassRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, schoolID, id string) (*models.Class, error) {
	query := `SELECT ` + classColumns + ` FROM classes WHERE school_id = $1 AND id = $2`
	var class models.Class
	if err := sqlx.GetContext(ctx, r.exec(exec), &class, query, schoolID, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find class: %w", err)
	}
	return &class, nil
}

// GetForUpdate re-reads a class row holding a row lock until the transaction ends.
func (r *ClassRepository) GetForUpdate(ctx context.Context, exec sqlx.ExtContext, schoolID, id string) (*models.Class, error) {
	query := `SELECT ` + classColumns + ` FROM classes WHERE school_id = $1 AND id = $2 FOR UPDATE`
	var class models.Class
	if err := sqlx.GetContext(ctx, r.exec(exec), &class, query, schoolID, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock class: %w", err)
	}
	return &class, nil
}

// ExistsByCode reports whether the class code is taken within the school.
func (r *ClassRepository) ExistsByCode(ctx context.Context, schoolID, code, excludeID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM classes WHERE school_id = $1 AND class_code = $2`
	args := []interface{}{schoolID, code}
	if excludeID != "" {
		query += ` AND id <> $3`
		args = append(args, excludeID)
	}
	query += `)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, args...); err != nil {
		return false, fmt.Errorf("check class code: %w", err)
	}
	return exists, nil
}

// Create inserts a class record.
func (r *ClassRepository) Create(ctx context.Context, exec sqlx.ExtContext, class *models.Class) error {
	if class.ID == "" {
		class.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	class.CreatedAt = now
	class.UpdatedAt = now

	const query = `
INSERT INTO classes (id, school_id, class_code, class_name, grade, academic_year, homeroom_teacher_id, capacity, current_students, classroom, status, notes, created_at, updated_at)
VALUES (:id, :school_id, :class_code, :class_name, :grade, :academic_year, :homeroom_teacher_id, :capacity, :current_students, :classroom, :status, :notes, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, class); err != nil {
		return fmt.Errorf("create class: %w", err)
	}
	return nil
}

// Update modifies the descriptive fields of a class. current_students is
// owned by enrollment and never written here.
func (r *ClassRepository) Update(ctx context.Context, exec sqlx.ExtContext, class *models.Class) error {
	class.UpdatedAt = time.Now().UTC()
	const query = `
UPDATE classes SET class_code = :class_code, class_name = :class_name, grade = :grade, academic_year = :academic_year,
	homeroom_teacher_id = :homeroom_teacher_id, capacity = :capacity, classroom = :classroom, status = :status,
	notes = :notes, updated_at = :updated_at
WHERE id = :id AND school_id = :school_id`
	result, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, class)
	if err != nil {
		return fmt.Errorf("update class: %w", err)
	}
	return requireAffected(result, "update class")
}

// AdjustCount moves current_students by delta. Increments are refused by
// the store once the class is full and decrements stop at zero.
func (r *ClassRepository) AdjustCount(ctx context.Context, exec sqlx.ExtContext, id string, delta int) error {
	const query = `
UPDATE classes SET current_students = GREATEST(current_students + $2, 0), updated_at = $3
WHERE id = $1 AND ($2 <= 0 OR current_students + $2 <= capacity)`
	result, err := r.exec(exec).ExecContext(ctx, query, id, delta, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("adjust class count: %w", err)
	}
	return requireAffected(result, "adjust class count")
}

// SetWorkspace back-fills the denormalized workspace pointer.
func (r *ClassRepository) SetWorkspace(ctx context.Context, exec sqlx.ExtContext, id string, ref models.WorkspaceRef) error {
	const query = `UPDATE classes SET workspace_id = $2, workspace_code = $3, workspace_path = $4 WHERE id = $1`
	if _, err := r.exec(exec).ExecContext(ctx, query, id, ref.ID, ref.Code, ref.Path); err != nil {
		return fmt.Errorf("set class workspace: %w", err)
	}
	return nil
}

// Delete removes a class.
func (r *ClassRepository) Delete(ctx context.Context, exec sqlx.ExtContext, schoolID, id string) error {
	const query = `DELETE FROM classes WHERE school_id = $1 AND id = $2`
	result, err := r.exec(exec).ExecContext(ctx, query, schoolID, id)
	if err != nil {
		return fmt.Errorf("delete class: %w", err)
	}
	return requireAffected(result, "delete class")
}

// StatisticsByGrade aggregates class occupancy per grade.
func (r *ClassRepository) StatisticsByGrade(ctx context.Context, schoolID, academicYear string) ([]models.ClassGradeStats, int, error) {
	query := `
SELECT grade, COUNT(*) AS classes, COALESCE(SUM(current_students), 0) AS students, COALESCE(SUM(capacity), 0) AS capacity
FROM classes WHERE school_id = $1`
	args := []interface{}{schoolID}
	if academicYear != "" {
		query += ` AND academic_year = $2`
		args = append(args, academicYear)
	}
	var stats []models.ClassGradeStats
	if err := r.db.SelectContext(ctx, &stats, query+` GROUP BY grade ORDER BY grade`, args...); err != nil {
		return nil, 0, fmt.Errorf("class statistics: %w", err)
	}

	activeQuery := `SELECT COUNT(*) FROM classes WHERE school_id = $1 AND status = 'active'`
	if academicYear != "" {
		activeQuery += ` AND academic_year = $2`
	}
	var active int
	if err := r.db.GetContext(ctx, &active, activeQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count active classes: %w", err)
	}
	return stats, active, nil
}
