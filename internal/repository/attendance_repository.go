package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-school-api/internal/models"
)

const attendanceColumns = `id, school_id, student_id, class_id, date, session, period, status, note, marked_by, created_at, updated_at`

// AttendanceRepository persists daily attendance marks.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

func (r *AttendanceRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Upsert writes a mark keyed by (student, date, session, period).
func (r *AttendanceRepository) Upsert(ctx context.Context, exec sqlx.ExtContext, att *models.Attendance) error {
	if att.ID == "" {
		att.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	att.CreatedAt = now
	att.UpdatedAt = now
	const query = `
INSERT INTO attendance (id, school_id, student_id, class_id, date, session, period, status, note, marked_by, created_at, updated_at)
VALUES (:id, :school_id, :student_id, :class_id, :date, :session, :period, :status, :note, :marked_by, :created_at, :updated_at)
ON CONFLICT (student_id, date, session, period) DO UPDATE SET
	status = EXCLUDED.status,
	note = EXCLUDED.note,
	class_id = EXCLUDED.class_id,
	marked_by = EXCLUDED.marked_by,
	updated_at = EXCLUDED.updated_at`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, att); err != nil {
		return fmt.Errorf("upsert attendance: %w", err)
	}
	return nil
}

// List returns attendance rows matching the filter.
func (r *AttendanceRepository) List(ctx context.Context, filter models.AttendanceFilter) ([]models.Attendance, int, error) {
	base, args := attendanceFilterClause(filter)
	page := models.NewPagination(filter.Page, filter.PageSize, 0)
	query := fmt.Sprintf("SELECT %s %s ORDER BY date DESC, period ASC LIMIT %d OFFSET %d", attendanceColumns, base, page.PageSize, page.Offset())
	var rows []models.Attendance
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list attendance: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count attendance: %w", err)
	}
	return rows, total, nil
}

// CountByStatus groups attendance rows matching the filter by status.
func (r *AttendanceRepository) CountByStatus(ctx context.Context, filter models.AttendanceFilter) ([]models.GroupCount, error) {
	base, args := attendanceFilterClause(filter)
	query := "SELECT status AS key, COUNT(*) AS count " + base + " GROUP BY status ORDER BY status"
	var groups []models.GroupCount
	if err := r.db.SelectContext(ctx, &groups, query, args...); err != nil {
		return nil, fmt.Errorf("group attendance by status: %w", err)
	}
	return groups, nil
}

// Delete removes an attendance row.
func (r *AttendanceRepository) Delete(ctx context.Context, schoolID, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM attendance WHERE school_id = $1 AND id = $2`, schoolID, id)
	if err != nil {
		return fmt.Errorf("delete attendance: %w", err)
	}
	return requireAffected(result, "delete attendance")
}

func attendanceFilterClause(filter models.AttendanceFilter) (string, []interface{}) {
	base := "FROM attendance WHERE school_id = $1"
	args := []interface{}{filter.SchoolID}
	add := func(cond string, value interface{}) {
		base += fmt.Sprintf(" AND "+cond, len(args)+1)
		args = append(args, value)
	}
	if filter.ClassID != "" {
		add("class_id = $%d", filter.ClassID)
	}
	if filter.StudentID != "" {
		add("student_id = $%d", filter.StudentID)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.From != nil {
		add("date >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("date <= $%d", *filter.To)
	}
	return base, args
}
