package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-school-api/internal/models"
	"github.com/noah-isme/sma-school-api/internal/service"
	appErrors "github.com/noah-isme/sma-school-api/pkg/errors"
)

type fakeScoreService struct {
	cohort    models.ScoreCohort
	filter    models.ScoreFilter
	semester  int
	year      string
	studentID string
}

func (f *fakeScoreService) Enter(_ context.Context, _ models.Actor, req service.EnterScoresRequest) (*models.ScoreEntryResult, error) {
	return &models.ScoreEntryResult{}, nil
}

func (f *fakeScoreService) Update(_ context.Context, _ models.Actor, id string, _ service.UpdateScoreRequest) (*models.Score, error) {
	if id == "locked" {
		return nil, appErrors.ErrScoreLocked
	}
	return &models.Score{ID: id}, nil
}

func (f *fakeScoreService) Delete(context.Context, models.Actor, string) error { return nil }

func (f *fakeScoreService) Lock(_ context.Context, _ models.Actor, cohort models.ScoreCohort) (int64, error) {
	f.cohort = cohort
	return 12, nil
}

func (f *fakeScoreService) Unlock(_ context.Context, _ models.Actor, cohort models.ScoreCohort) (int64, error) {
	f.cohort = cohort
	return 0, appErrors.Clone(appErrors.ErrNotFound, "no scores matched")
}

func (f *fakeScoreService) List(_ context.Context, filter models.ScoreFilter) ([]models.Score, *models.Pagination, error) {
	f.filter = filter
	return nil, models.NewPagination(1, 20, 0), nil
}

func (f *fakeScoreService) ClassScores(_ context.Context, _, _, _ string, semester int, year string) ([]service.ClassScoreRow, error) {
	f.semester, f.year = semester, year
	return []service.ClassScoreRow{{StudentID: "s-1"}}, nil
}

func (f *fakeScoreService) Transcript(_ context.Context, _, studentID string, semester int, year string) (*models.Transcript, error) {
	f.studentID, f.semester, f.year = studentID, semester, year
	return &models.Transcript{}, nil
}

func (f *fakeScoreService) Ranking(context.Context, string, string, int, string) ([]models.RankingEntry, error) {
	return []models.RankingEntry{}, nil
}

func (f *fakeScoreService) Statistics(_ context.Context, filter models.ScoreFilter) (*models.ScoreStatistics, error) {
	f.filter = filter
	return &models.ScoreStatistics{}, nil
}

func TestScoreHandlerLockStampsActorSchool(t *testing.T) {
	svc := &fakeScoreService{}
	h := NewScoreHandler(svc)
	c, rec := newTestContext(http.MethodPost, "/scores/lock", map[string]interface{}{
		"school_id":     "school-9",
		"class_id":      "c-1",
		"subject_id":    "sub-1",
		"semester":      1,
		"academic_year": "2025-2026",
	}, adminClaims)

	h.Lock(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "school-1", svc.cohort.SchoolID)
	assert.Equal(t, "c-1", svc.cohort.ClassID)
	var body map[string]int64
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &body))
	assert.Equal(t, int64(12), body["modified"])
}

func TestScoreHandlerUnlockNothingMatched(t *testing.T) {
	h := NewScoreHandler(&fakeScoreService{})
	c, rec := newTestContext(http.MethodPost, "/scores/unlock", map[string]interface{}{
		"class_id": "c-1", "subject_id": "sub-1", "semester": 2, "academic_year": "2025-2026",
	}, adminClaims)

	h.Unlock(c)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScoreHandlerUpdateLocked(t *testing.T) {
	h := NewScoreHandler(&fakeScoreService{})
	c, rec := newTestContext(http.MethodPut, "/scores/locked", map[string]float64{"score": 7.5}, adminClaims)
	c.Params = gin.Params{{Key: "id", Value: "locked"}}

	h.Update(c)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "SCORE_LOCKED", errorCodeOf(t, rec))
}

func TestScoreHandlerClassScoresQueryValidation(t *testing.T) {
	cases := []struct {
		name  string
		query string
		code  int
	}{
		{"missing class", "?subjectId=s&semester=1&academicYear=2025-2026", http.StatusBadRequest},
		{"missing subject", "?classId=c&semester=1&academicYear=2025-2026", http.StatusBadRequest},
		{"bad semester", "?classId=c&subjectId=s&semester=3&academicYear=2025-2026", http.StatusBadRequest},
		{"non numeric semester", "?classId=c&subjectId=s&semester=one&academicYear=2025-2026", http.StatusBadRequest},
		{"missing year", "?classId=c&subjectId=s&semester=1", http.StatusBadRequest},
		{"ok", "?classId=c&subjectId=s&semester=2&academicYear=2025-2026", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeScoreService{}
			h := NewScoreHandler(svc)
			c, rec := newTestContext(http.MethodGet, "/scores/class"+tc.query, nil, adminClaims)

			h.ClassScores(c)

			assert.Equal(t, tc.code, rec.Code)
			if tc.code == http.StatusOK {
				assert.Equal(t, 2, svc.semester)
				assert.Equal(t, "2025-2026", svc.year)
			}
		})
	}
}

func TestScoreHandlerTranscript(t *testing.T) {
	svc := &fakeScoreService{}
	h := NewScoreHandler(svc)
	c, rec := newTestContext(http.MethodGet, "/scores/student/s-7/transcript?semester=1&academicYear=2025-2026", nil, adminClaims)
	c.Params = gin.Params{{Key: "id", Value: "s-7"}}

	h.Transcript(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "s-7", svc.studentID)
	assert.Equal(t, 1, svc.semester)
}

func TestScoreHandlerListFilter(t *testing.T) {
	svc := &fakeScoreService{}
	h := NewScoreHandler(svc)
	c, rec := newTestContext(http.MethodGet, "/scores?classId=c-1&scoreType=final&semester=2", nil, adminClaims)

	h.List(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "school-1", svc.filter.SchoolID)
	assert.Equal(t, "c-1", svc.filter.ClassID)
	assert.Equal(t, models.ScoreTypeFinal, svc.filter.ScoreType)
	assert.Equal(t, 2, svc.filter.Semester)
}
