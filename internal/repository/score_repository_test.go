package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-school-api/internal/models"
)

func TestScoreSetLockedWithScoreType(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewScoreRepository(db)

	ts := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE scores SET is_locked = TRUE, locked_by = $1, locked_at = $2, updated_at = $2 WHERE school_id = $3 AND class_id = $4 AND subject_id = $5 AND semester = $6 AND academic_year = $7 AND is_locked = false AND score_type = $8")).
		WithArgs("u1", ts, "s1", "c1", "sub1", 1, "2024-2025", models.ScoreTypeFinal).
		WillReturnResult(sqlmock.NewResult(0, 12))

	cohort := models.ScoreCohort{SchoolID: "s1", ClassID: "c1", SubjectID: "sub1", Semester: 1, AcademicYear: "2024-2025", ScoreType: models.ScoreTypeFinal}
	affected, err := repo.SetLocked(context.Background(), nil, cohort, true, "u1", ts)
	require.NoError(t, err)
	assert.EqualValues(t, 12, affected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScoreUnlockWholeCohort(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewScoreRepository(db)

	ts := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE scores SET is_locked = FALSE, locked_by = NULL, locked_at = NULL, updated_at = $1 WHERE school_id = $2 AND class_id = $3 AND subject_id = $4 AND semester = $5 AND academic_year = $6 AND is_locked = true")).
		WithArgs(ts, "s1", "c1", "sub1", 2, "2024-2025").
		WillReturnResult(sqlmock.NewResult(0, 0))

	cohort := models.ScoreCohort{SchoolID: "s1", ClassID: "c1", SubjectID: "sub1", Semester: 2, AcademicYear: "2024-2025"}
	affected, err := repo.SetLocked(context.Background(), nil, cohort, false, "u1", ts)
	require.NoError(t, err)
	assert.Zero(t, affected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScoreUpdateValueSkipsLockedRow(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewScoreRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = ? AND is_locked = FALSE")).WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateValue(context.Background(), nil, &models.Score{ID: "sc1", Score: 8})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentCreateIfAbsentReportsDuplicate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPaymentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (student_id, fee_id) DO NOTHING")).WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := repo.CreateIfAbsent(context.Background(), nil, &models.Payment{SchoolID: "s1", StudentID: "st1", FeeID: "f1", AmountDue: 100, Status: models.PaymentUnpaid})
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditListFiltersByActions(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM audit_logs WHERE school_id = $1 AND action = ANY($2) ORDER BY created_at DESC LIMIT 20 OFFSET 0")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM audit_logs WHERE school_id = $1 AND action = ANY($2)")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	logs, total, err := repo.List(context.Background(), models.AuditFilter{SchoolID: "s1", Actions: models.PermissionAuditActions})
	require.NoError(t, err)
	assert.Empty(t, logs)
	assert.Zero(t, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}
