package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-school-api/internal/models"
	"github.com/noah-isme/sma-school-api/internal/service"
	appErrors "github.com/noah-isme/sma-school-api/pkg/errors"
	"github.com/noah-isme/sma-school-api/pkg/response"
)

type attendanceService interface {
	Mark(ctx context.Context, actor models.Actor, req service.MarkAttendanceRequest) (*models.AttendanceMarkResult, error)
	List(ctx context.Context, filter models.AttendanceFilter) ([]models.Attendance, *models.Pagination, error)
	Statistics(ctx context.Context, filter models.AttendanceFilter) (*models.AttendanceStatistics, error)
	Delete(ctx context.Context, actor models.Actor, id string) error
}

// markAttendancePayload accepts the date as a plain calendar day.
type markAttendancePayload struct {
	service.MarkAttendanceRequest
	Date string `json:"date"`
}

// AttendanceHandler exposes roll call endpoints.
type AttendanceHandler struct {
	service attendanceService
}

// NewAttendanceHandler constructs AttendanceHandler.
func NewAttendanceHandler(svc attendanceService) *AttendanceHandler {
	return &AttendanceHandler{service: svc}
}

func attendanceFilterFromQuery(c *gin.Context, schoolID string) (models.AttendanceFilter, bool) {
	filter := models.AttendanceFilter{
		SchoolID:  schoolID,
		ClassID:   strings.TrimSpace(c.Query("classId")),
		StudentID: strings.TrimSpace(c.Query("studentId")),
		Status:    models.AttendanceStatus(strings.TrimSpace(c.Query("status"))),
	}
	date, ok := queryDate(c, "date")
	if !ok {
		return filter, false
	}
	if date != nil {
		filter.From, filter.To = date, date
	} else {
		if filter.From, ok = queryDate(c, "from"); !ok {
			return filter, false
		}
		if filter.To, ok = queryDate(c, "to"); !ok {
			return filter, false
		}
	}
	filter.Page, filter.PageSize = pageParams(c)
	return filter, true
}

// Mark godoc
// @Summary Mark attendance for a class
// @Tags Attendance
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param payload body service.MarkAttendanceRequest true "Roll call; date as YYYY-MM-DD"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /attendance/mark [post]
func (h *AttendanceHandler) Mark(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var payload markAttendancePayload
	if !bindJSON(c, &payload) {
		return
	}
	req := payload.MarkAttendanceRequest
	date, err := parseDay(payload.Date)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid date, expected YYYY-MM-DD"))
		return
	}
	req.Date = date

	result, err := h.service.Mark(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}

// List godoc
// @Summary List attendance
// @Tags Attendance
// @Security BearerAuth
// @Produce json
// @Param classId query string false "Class"
// @Param studentId query string false "Student"
// @Param date query string false "Single day (YYYY-MM-DD)"
// @Param from query string false "From (YYYY-MM-DD)"
// @Param to query string false "To (YYYY-MM-DD)"
// @Param status query string false "Status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /attendance [get]
func (h *AttendanceHandler) List(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	filter, ok := attendanceFilterFromQuery(c, actor.SchoolID)
	if !ok {
		return
	}
	rows, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, pagination)
}

// Statistics godoc
// @Summary Attendance counts by status
// @Tags Attendance
// @Security BearerAuth
// @Produce json
// @Param classId query string false "Class"
// @Param from query string false "From (YYYY-MM-DD)"
// @Param to query string false "To (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /attendance/statistics [get]
func (h *AttendanceHandler) Statistics(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	filter, ok := attendanceFilterFromQuery(c, actor.SchoolID)
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

// Delete godoc
// @Summary Delete attendance row
// @Tags Attendance
// @Security BearerAuth
// @Param id path string true "Attendance ID"
// @Success 204
// @Router /attendance/{id} [delete]
func (h *AttendanceHandler) Delete(c *gin.Context) {
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

func parseDay(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(dateLayout, raw); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}
