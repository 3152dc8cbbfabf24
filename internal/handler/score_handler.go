package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-school-api/internal/models"
	"github.com/noah-isme/sma-school-api/internal/service"
	appErrors "github.com/noah-isme/sma-school-api/pkg/errors"
	"github.com/noah-isme/sma-school-api/pkg/response"
)

type scoreService interface {
	Enter(ctx context.Context, actor models.Actor, req service.EnterScoresRequest) (*models.ScoreEntryResult, error)
	Update(ctx context.Context, actor models.Actor, id string, req service.UpdateScoreRequest) (*models.Score, error)
	Delete(ctx context.Context, actor models.Actor, id string) error
	Lock(ctx context.Context, actor models.Actor, cohort models.ScoreCohort) (int64, error)
	Unlock(ctx context.Context, actor models.Actor, cohort models.ScoreCohort) (int64, error)
	List(ctx context.Context, filter models.ScoreFilter) ([]models.Score, *models.Pagination, error)
	ClassScores(ctx context.Context, schoolID, classID, subjectID string, semester int, academicYear string) ([]service.ClassScoreRow, error)
	Transcript(ctx context.Context, schoolID, studentID string, semester int, academicYear string) (*models.Transcript, error)
	Ranking(ctx context.Context, schoolID, classID string, semester int, academicYear string) ([]models.RankingEntry, error)
	Statistics(ctx context.Context, filter models.ScoreFilter) (*models.ScoreStatistics, error)
}

// ScoreHandler exposes score entry and reporting endpoints.
type ScoreHandler struct {
	service scoreService
}

// NewScoreHandler constructs ScoreHandler.
func NewScoreHandler(svc scoreService) *ScoreHandler {
	return &ScoreHandler{service: svc}
}

func scoreFilterFromQuery(c *gin.Context, schoolID string) (models.ScoreFilter, bool) {
	semester, ok := queryInt(c, "semester")
	if !ok {
		return models.ScoreFilter{}, false
	}
	filter := models.ScoreFilter{
		SchoolID:     schoolID,
		StudentID:    strings.TrimSpace(c.Query("studentId")),
		ClassID:      strings.TrimSpace(c.Query("classId")),
		SubjectID:    strings.TrimSpace(c.Query("subjectId")),
		Semester:     semester,
		AcademicYear: strings.TrimSpace(c.Query("academicYear")),
		ScoreType:    models.ScoreType(strings.TrimSpace(c.Query("scoreType"))),
	}
	filter.Page, filter.PageSize = pageParams(c)
	return filter, true
}

func requiredQuery(c *gin.Context, key string) (string, bool) {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, key+" is required"))
		return "", false
	}
	return v, true
}

// List godoc
// @Summary List scores
// @Tags Scores
// @Security BearerAuth
// @Produce json
// @Param studentId query string false "Student"
// @Param classId query string false "Class"
// @Param subjectId query string false "Subject"
// @Param semester query int false "Semester"
// @Param academicYear query string false "Academic year"
// @Param scoreType query string false "Score type"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /scores [get]
func (h *ScoreHandler) List(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	filter, ok := scoreFilterFromQuery(c, actor.SchoolID)
	if !ok {
		return
	}
	scores, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, scores, pagination)
}

// Statistics godoc
// @Summary Score distribution
// @Tags Scores
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /scores/statistics [get]
func (h *ScoreHandler) Statistics(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	filter, ok := scoreFilterFromQuery(c, actor.SchoolID)
	if !ok {
		return
	}
	stats, err := h.service.Statistics(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, stats)
}

// Enter godoc
// @Summary Enter scores for a class and subject
// @Tags Scores
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param payload body service.EnterScoresRequest true "Scores"
// @Success 200 {object} response.Envelope
// @Router /scores/enter [post]
func (h *ScoreHandler) Enter(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req service.EnterScoresRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.service.Enter(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}

// Update godoc
// @Summary Update a single score
// @Tags Scores
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Score ID"
// @Param payload body service.UpdateScoreRequest true "Score"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /scores/{id} [put]
func (h *ScoreHandler) Update(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req service.UpdateScoreRequest
	if !bindJSON(c, &req) {
		return
	}
	score, err := h.service.Update(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, score)
}

// Delete godoc
// @Summary Delete score
// @Tags Scores
// @Security BearerAuth
// @Param id path string true "Score ID"
// @Success 204
// @Failure 409 {object} response.Envelope
// @Router /scores/{id} [delete]
func (h *ScoreHandler) Delete(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Lock godoc
// @Summary Lock a score cohort
// @Tags Scores
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param payload body models.ScoreCohort true "Cohort"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /scores/lock [post]
func (h *ScoreHandler) Lock(c *gin.Context) {
	h.toggle(c, h.service.Lock)
}

// Unlock godoc
// @Summary Unlock a score cohort
// @Tags Scores
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param payload body models.ScoreCohort true "Cohort"
// @Success 200 {object} response.Envelope
// @Router /scores/unlock [post]
func (h *ScoreHandler) Unlock(c *gin.Context) {
	h.toggle(c, h.service.Unlock)
}

func (h *ScoreHandler) toggle(c *gin.Context, apply func(context.Context, models.Actor, models.ScoreCohort) (int64, error)) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var cohort models.ScoreCohort
	if !bindJSON(c, &cohort) {
		return
	}
	cohort.SchoolID = actor.SchoolID
	modified, err := apply(c.Request.Context(), actor, cohort)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"modified": modified})
}

// ClassScores godoc
// @Summary Scores of a class for one subject
// @Tags Scores
// @Security BearerAuth
// @Produce json
// @Param classId query string true "Class"
// @Param subjectId query string true "Subject"
// @Param semester query int true "Semester"
// @Param academicYear query string true "Academic year"
// @Success 200 {object} response.Envelope
// @Router /scores/class [get]
func (h *ScoreHandler) ClassScores(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	classID, ok := requiredQuery(c, "classId")
	if !ok {
		return
	}
	subjectID, ok := requiredQuery(c, "subjectId")
	if !ok {
		return
	}
	semester, year, ok := semesterQuery(c)
	if !ok {
		return
	}
	rows, err := h.service.ClassScores(c.Request.Context(), actor.SchoolID, classID, subjectID, semester, year)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, rows)
}

// Ranking godoc
// @Summary Class ranking by overall average
// @Tags Scores
// @Security BearerAuth
// @Produce json
// @Param classId query string true "Class"
// @Param semester query int true "Semester"
// @Param academicYear query string true "Academic year"
// @Success 200 {object} response.Envelope
// @Router /scores/ranking [get]
func (h *ScoreHandler) Ranking(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	classID, ok := requiredQuery(c, "classId")
	if !ok {
		return
	}
	semester, year, ok := semesterQuery(c)
	if !ok {
		return
	}
	ranking, err := h.service.Ranking(c.Request.Context(), actor.SchoolID, classID, semester, year)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, ranking)
}

// Transcript godoc
// @Summary Student transcript
// @Tags Scores
// @Security BearerAuth
// @Produce json
// @Param id path string true "Student ID"
// @Param semester query int true "Semester"
// @Param academicYear query string true "Academic year"
// @Success 200 {object} response.Envelope
// @Router /scores/student/{id}/transcript [get]
func (h *ScoreHandler) Transcript(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	semester, year, ok := semesterQuery(c)
	if !ok {
		return
	}
	transcript, err := h.service.Transcript(c.Request.Context(), actor.SchoolID, c.Param("id"), semester, year)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, transcript)
}
