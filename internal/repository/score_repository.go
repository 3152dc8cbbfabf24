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

const scoreColumns = `id, school_id, student_id, class_id, subject_id, semester, academic_year, score_type, score, coefficient, note, teacher_id, is_locked, locked_by, locked_at, entered_at, created_at, updated_at`

// ScoreRepository persists assessment scores.
type ScoreRepository struct {
	db *sqlx.DB
}

// NewScoreRepository constructs the repository.
func NewScoreRepository(db *sqlx.DB) *ScoreRepository {
	return &ScoreRepository{db: db}
}

func (r *ScoreRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// FindByKeyForUpdate locks the score matching the natural key of s.
func (r *ScoreRepository) FindByKeyForUpdate(ctx context.Context, exec sqlx.ExtContext, s *models.Score) (*models.Score, error) {
	query := `SELECT ` + scoreColumns + ` FROM scores
WHERE student_id = $1 AND class_id = $2 AND subject_id = $3 AND semester = $4 AND academic_year = $5 AND score_type = $6
FOR UPDATE`
	var score models.Score
	if err := sqlx.GetContext(ctx, r.exec(exec), &score, query, s.StudentID, s.ClassID, s.SubjectID, s.Semester, s.AcademicYear, s.ScoreType); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock score by key: %w", err)
	}
	return &score, nil
}

// GetForUpdate locks a score by id.
func (r *ScoreRepository) GetForUpdate(ctx context.Context, exec sqlx.ExtContext, schoolID, id string) (*models.Score, error) {
	query := `SELECT ` + scoreColumns + ` FROM scores WHERE school_id = $1 AND id = $2 FOR UPDATE`
	var score models.Score
	if err := sqlx.GetContext(ctx, r.exec(exec), &score, query, schoolID, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock score: %w", err)
	}
	return &score, nil
}

// Create inserts a new score.
func (r *ScoreRepository) Create(ctx context.Context, exec sqlx.ExtContext, score *models.Score) error {
	if score.ID == "" {
		score.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	score.CreatedAt = now
	score.UpdatedAt = now
	if score.EnteredAt.IsZero() {
		score.EnteredAt = now
	}
	const query = `
INSERT INTO scores (id, school_id, student_id, class_id, subject_id, semester, academic_year, score_type, score, coefficient, note, teacher_id, is_locked, entered_at, created_at, updated_at)
VALUES (:id, :school_id, :student_id, :class_id, :subject_id, :semester, :academic_year, :score_type, :score, :coefficient, :note, :teacher_id, FALSE, :entered_at, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, score); err != nil {
		return fmt.Errorf("create score: %w", err)
	}
	return nil
}

// UpdateValue rewrites value and note of an unlocked score. A locked row is
// left untouched and reported as sql.ErrNoRows.
func (r *ScoreRepository) UpdateValue(ctx context.Context, exec sqlx.ExtContext, score *models.Score) error {
	score.UpdatedAt = time.Now().UTC()
	const query = `UPDATE scores SET score = :score, note = :note, teacher_id = :teacher_id, entered_at = :updated_at, updated_at = :updated_at WHERE id = :id AND is_locked = FALSE`
	result, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, score)
	if err != nil {
		return fmt.Errorf("update score: %w", err)
	}
	return requireAffected(result, "update score")
}

// Delete removes an unlocked score.
func (r *ScoreRepository) Delete(ctx context.Context, exec sqlx.ExtContext, schoolID, id string) error {
	const query = `DELETE FROM scores WHERE school_id = $1 AND id = $2 AND is_locked = FALSE`
	result, err := r.exec(exec).ExecContext(ctx, query, schoolID, id)
	if err != nil {
		return fmt.Errorf("delete score: %w", err)
	}
	return requireAffected(result, "delete score")
}

// SetLocked flips the lock flag of every score in the cohort and returns
// how many rows changed.
func (r *ScoreRepository) SetLocked(ctx context.Context, exec sqlx.ExtContext, cohort models.ScoreCohort, locked bool, actorID string, ts time.Time) (int64, error) {
	var (
		query string
		args  []interface{}
	)
	if locked {
		query = `UPDATE scores SET is_locked = TRUE, locked_by = $1, locked_at = $2, updated_at = $2`
		args = []interface{}{actorID, ts}
	} else {
		query = `UPDATE scores SET is_locked = FALSE, locked_by = NULL, locked_at = NULL, updated_at = $1`
		args = []interface{}{ts}
	}
	conditions := []string{
		fmt.Sprintf("school_id = $%d", len(args)+1),
		fmt.Sprintf("class_id = $%d", len(args)+2),
		fmt.Sprintf("subject_id = $%d", len(args)+3),
		fmt.Sprintf("semester = $%d", len(args)+4),
		fmt.Sprintf("academic_year = $%d", len(args)+5),
		fmt.Sprintf("is_locked = %t", !locked),
	}
	args = append(args, cohort.SchoolID, cohort.ClassID, cohort.SubjectID, cohort.Semester, cohort.AcademicYear)
	if cohort.ScoreType != "" {
		conditions = append(conditions, fmt.Sprintf("score_type = $%d", len(args)+1))
		args = append(args, cohort.ScoreType)
	}
	query += " WHERE " + strings.Join(conditions, " AND ")

	result, err := r.exec(exec).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("set score lock: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("score lock rows affected: %w", err)
	}
	return affected, nil
}

// List returns scores matching the filter.
func (r *ScoreRepository) List(ctx context.Context, filter models.ScoreFilter) ([]models.Score, int, error) {
	base, args := scoreFilterClause(filter)
	page := models.NewPagination(filter.Page, filter.PageSize, 0)
	query := fmt.Sprintf("SELECT %s %s ORDER BY entered_at DESC LIMIT %d OFFSET %d", scoreColumns, base, page.PageSize, page.Offset())
	var scores []models.Score
	if err := r.db.SelectContext(ctx, &scores, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list scores: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count scores: %w", err)
	}
	return scores, total, nil
}

// ListAll returns every score matching the filter without pagination, used
// by transcripts, rankings and exports.
func (r *ScoreRepository) ListAll(ctx context.Context, filter models.ScoreFilter) ([]models.Score, error) {
	base, args := scoreFilterClause(filter)
	query := fmt.Sprintf("SELECT %s %s ORDER BY student_id, subject_id, semester, score_type", scoreColumns, base)
	var scores []models.Score
	if err := r.db.SelectContext(ctx, &scores, query, args...); err != nil {
		return nil, fmt.Errorf("list all scores: %w", err)
	}
	return scores, nil
}

func scoreFilterClause(filter models.ScoreFilter) (string, []interface{}) {
	base := "FROM scores WHERE school_id = $1"
	args := []interface{}{filter.SchoolID}
	add := func(column string, value interface{}) {
		base += fmt.Sprintf(" AND %s = $%d", column, len(args)+1)
		args = append(args, value)
	}
	if filter.StudentID != "" {
		add("student_id", filter.StudentID)
	}
	if filter.ClassID != "" {
		add("class_id", filter.ClassID)
	}
	if filter.SubjectID != "" {
		add("subject_id", filter.SubjectID)
	}
	if filter.Semester != 0 {
		add("semester", filter.Semester)
	}
	if filter.AcademicYear != "" {
		add("academic_year", filter.AcademicYear)
	}
	if filter.ScoreType != "" {
		add("score_type", filter.ScoreType)
	}
	return base, args
}
