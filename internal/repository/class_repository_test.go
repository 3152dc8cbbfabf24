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

var classRowColumns = []string{"id", "school_id", "class_code", "class_name", "grade", "academic_year", "homeroom_teacher_id", "capacity", "current_students", "classroom", "status", "notes", "workspace_id", "workspace_code", "workspace_path", "created_at", "updated_at"}

func TestClassGetForUpdateLocksRow(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewClassRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM classes WHERE school_id = $1 AND id = $2 FOR UPDATE")).
		WithArgs("s1", "c1").
		WillReturnRows(sqlmock.NewRows(classRowColumns).
			AddRow("c1", "s1", "10A1", "10A1", 10, "2024-2025", nil, 40, 39, nil, "active", nil, nil, nil, nil, now, now))

	class, err := repo.GetForUpdate(context.Background(), nil, "s1", "c1")
	require.NoError(t, err)
	assert.True(t, class.HasSeat())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassAdjustCountRefusedWhenFull(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewClassRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("current_students + $2 <= capacity")).
		WithArgs("c1", 1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.AdjustCount(context.Background(), nil, "c1", 1)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassListFiltersBySchoolAndGrade(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewClassRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM classes WHERE school_id = $1 AND grade = $2 ORDER BY class_code ASC LIMIT 20 OFFSET 0")).
		WithArgs("s1", 11).
		WillReturnRows(sqlmock.NewRows(classRowColumns))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM classes WHERE school_id = $1 AND grade = $2")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	classes, total, err := repo.List(context.Background(), models.ClassFilter{SchoolID: "s1", Grade: 11, SortBy: "class_code", SortOrder: "asc"})
	require.NoError(t, err)
	assert.Empty(t, classes)
	assert.Zero(t, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSchoolIncrementCounterRejectsUnknownColumn(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSchoolRepository(db)

	err := repo.IncrementCounter(context.Background(), nil, "s1", models.SchoolCounter("password"), 1)
	assert.Error(t, err)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE schools SET total_teachers = GREATEST(total_teachers + $2, 0)")).
		WithArgs("s1", 1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.IncrementCounter(context.Background(), nil, "s1", models.CounterTeachers, 1))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkspaceUpsertKeepsStoredID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewWorkspaceRepository(db)

	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (school_id, type, linked_entity_id) DO UPDATE")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("ws-existing", created))

	ws := &models.Workspace{SchoolID: "s1", Type: models.WorkspaceTypeSchool, LinkedEntityID: "s1", Name: "Alpha", Code: "SCH-AHS", Path: "school:s1", Status: models.WorkspaceStatusActive}
	require.NoError(t, repo.Upsert(context.Background(), nil, ws))
	assert.Equal(t, "ws-existing", ws.ID)
	assert.Equal(t, created, ws.CreatedAt)
	assert.JSONEq(t, `{}`, string(ws.Metadata))
	assert.NoError(t, mock.ExpectationsWereMet())
}
