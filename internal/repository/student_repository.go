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

const studentColumns = `id, school_id, student_code, full_name, date_of_birth, gender, address, phone, parent_name, parent_phone, class_id, class_workspace_id, academic_year, status, created_at, updated_at`

// StudentRepository handles persistence for students and their transfer history.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a new repository instance.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

func (r *StudentRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// List returns students matching filters along with the total count.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	base := "FROM students WHERE school_id = $1"
	args := []interface{}{filter.SchoolID}
	var conditions []string

	if filter.ClassID != "" {
		conditions = append(conditions, fmt.Sprintf("class_id = $%d", len(args)+1))
		args = append(args, filter.ClassID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.Gender != "" {
		conditions = append(conditions, fmt.Sprintf("gender = $%d", len(args)+1))
		args = append(args, filter.Gender)
	}
	if filter.AcademicYear != "" {
		conditions = append(conditions, fmt.Sprintf("academic_year = $%d", len(args)+1))
		args = append(args, filter.AcademicYear)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(full_name) LIKE $%d OR LOWER(student_code) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, likePattern(filter.Search))
	}
	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	order := orderBy(filter.SortBy, filter.SortOrder, map[string]bool{
		"student_code": true,
		"full_name":    true,
		"created_at":   true,
	}, "created_at")
	page := models.NewPagination(filter.Page, filter.PageSize, 0)

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s LIMIT %d OFFSET %d", studentColumns, base, order, page.PageSize, page.Offset())
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}

// ListByClass returns the students currently enrolled in a class.
func (r *StudentRepository) ListByClass(ctx context.Context, schoolID, classID string) ([]models.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE school_id = $1 AND class_id = $2 ORDER BY full_name`
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, schoolID, classID); err != nil {
		return nil, fmt.Errorf("list class students: %w", err)
	}
	return students, nil
}

// FindByID returns a student of the school.
func (r *StudentRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, schoolID, id string) (*models.Student, error) {
	return r.findOne(ctx, exec, "find student", `SELECT `+studentColumns+` FROM students WHERE school_id = $1 AND id = $2`, schoolID, id)
}

// GetForUpdate re-reads a student holding a row lock.
func (r *StudentRepository) GetForUpdate(ctx context.Context, exec sqlx.ExtContext, schoolID, id string) (*models.Student, error) {
	return r.findOne(ctx, exec, "lock student", `SELECT `+studentColumns+` FROM students WHERE school_id = $1 AND id = $2 FOR UPDATE`, schoolID, id)
}

func (r *StudentRepository) findOne(ctx context.Context, exec sqlx.ExtContext, label, query string, args ...interface{}) (*models.Student, error) {
	var student models.Student
	if err := sqlx.GetContext(ctx, r.exec(exec), &student, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w", label, err)
	}
	return &student, nil
}

// ExistsByCode checks uniqueness of the student code within a school.
func (r *StudentRepository) ExistsByCode(ctx context.Context, exec sqlx.ExtContext, schoolID, code, excludeID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM students WHERE school_id = $1 AND student_code = $2`
	args := []interface{}{schoolID, code}
	if excludeID != "" {
		query += ` AND id <> $3`
		args = append(args, excludeID)
	}
	query += `)`
	var exists bool
	if err := sqlx.GetContext(ctx, r.exec(exec), &exists, query, args...); err != nil {
		return false, fmt.Errorf("check student code: %w", err)
	}
	return exists, nil
}

// Create inserts a new student.
func (r *StudentRepository) Create(ctx context.Context, exec sqlx.ExtContext, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	student.CreatedAt = now
	student.UpdatedAt = now
	const query = `
INSERT INTO students (id, school_id, student_code, full_name, date_of_birth, gender, address, phone, parent_name, parent_phone, class_id, class_workspace_id, academic_year, status, created_at, updated_at)
VALUES (:id, :school_id, :student_code, :full_name, :date_of_birth, :gender, :address, :phone, :parent_name, :parent_phone, :class_id, :class_workspace_id, :academic_year, :status, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, student); err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// Update modifies a student record including its class pointer.
func (r *StudentRepository) Update(ctx context.Context, exec sqlx.ExtContext, student *models.Student) error {
	student.UpdatedAt = time.Now().UTC()
	const query = `
UPDATE students SET student_code = :student_code, full_name = :full_name, date_of_birth = :date_of_birth, gender = :gender,
	address = :address, phone = :phone, parent_name = :parent_name, parent_phone = :parent_phone, class_id = :class_id,
	class_workspace_id = :class_workspace_id, academic_year = :academic_year, status = :status, updated_at = :updated_at
WHERE id = :id AND school_id = :school_id`
	result, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, student)
	if err != nil {
		return fmt.Errorf("update student: %w", err)
	}
	return requireAffected(result, "update student")
}

// SetClass moves a student to a class and records the class workspace.
func (r *StudentRepository) SetClass(ctx context.Context, exec sqlx.ExtContext, id, classID, workspaceID string) error {
	const query = `UPDATE students SET class_id = $2, class_workspace_id = $3, updated_at = $4 WHERE id = $1`
	result, err := r.exec(exec).ExecContext(ctx, query, id, classID, workspaceID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set student class: %w", err)
	}
	return requireAffected(result, "set student class")
}

// Delete removes a student.
func (r *StudentRepository) Delete(ctx context.Context, exec sqlx.ExtContext, schoolID, id string) error {
	const query = `DELETE FROM students WHERE school_id = $1 AND id = $2`
	result, err := r.exec(exec).ExecContext(ctx, query, schoolID, id)
	if err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	return requireAffected(result, "delete student")
}

// CountByClass counts students enrolled in a class.
func (r *StudentRepository) CountByClass(ctx context.Context, exec sqlx.ExtContext, classID string) (int, error) {
	const query = `SELECT COUNT(*) FROM students WHERE class_id = $1`
	var total int
	if err := sqlx.GetContext(ctx, r.exec(exec), &total, query, classID); err != nil {
		return 0, fmt.Errorf("count class students: %w", err)
	}
	return total, nil
}

// AppendTransfer records one class move.
func (r *StudentRepository) AppendTransfer(ctx context.Context, exec sqlx.ExtContext, record *models.TransferRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.TransferDate.IsZero() {
		record.TransferDate = time.Now().UTC()
	}
	const query = `
INSERT INTO student_transfers (id, student_id, from_class_id, to_class_id, transfer_date, reason, transferred_by)
VALUES (:id, :student_id, :from_class_id, :to_class_id, :transfer_date, :reason, :transferred_by)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, record); err != nil {
		return fmt.Errorf("append student transfer: %w", err)
	}
	return nil
}

// ListTransfers returns a student's transfer history, oldest first.
func (r *StudentRepository) ListTransfers(ctx context.Context, studentID string) ([]models.TransferRecord, error) {
	const query = `SELECT id, student_id, from_class_id, to_class_id, transfer_date, reason, transferred_by FROM student_transfers WHERE student_id = $1 ORDER BY transfer_date ASC`
	var records []models.TransferRecord
	if err := r.db.SelectContext(ctx, &records, query, studentID); err != nil {
		return nil, fmt.Errorf("list student transfers: %w", err)
	}
	return records, nil
}

// Statistics aggregates students of a school by status, gender and class.
func (r *StudentRepository) Statistics(ctx context.Context, schoolID string) (*models.StudentStatistics, error) {
	stats := &models.StudentStatistics{}
	if err := r.db.GetContext(ctx, &stats.Total, `SELECT COUNT(*) FROM students WHERE school_id = $1`, schoolID); err != nil {
		return nil, fmt.Errorf("count students: %w", err)
	}
	groups := []struct {
		label string
		dest  *[]models.GroupCount
		query string
	}{
		{"status", &stats.ByStatus, `SELECT status AS key, COUNT(*) AS count FROM students WHERE school_id = $1 GROUP BY status ORDER BY status`},
		{"gender", &stats.ByGender, `SELECT gender AS key, COUNT(*) AS count FROM students WHERE school_id = $1 GROUP BY gender ORDER BY gender`},
		{"class", &stats.ByClass, `SELECT COALESCE(c.class_name, 'unassigned') AS key, COUNT(*) AS count FROM students s LEFT JOIN classes c ON c.id = s.class_id WHERE s.school_id = $1 GROUP BY c.class_name ORDER BY key`},
	}
	for _, g := range groups {
		if err := r.db.SelectContext(ctx, g.dest, g.query, schoolID); err != nil {
			return nil, fmt.Errorf("group students by %s: %w", g.label, err)
		}
	}
	return stats, nil
}
