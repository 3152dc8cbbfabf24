package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-school-api/internal/models"
	"github.com/noah-isme/sma-school-api/internal/service"
	"github.com/noah-isme/sma-school-api/pkg/response"
)

type classService interface {
	List(ctx context.Context, filter models.ClassFilter) ([]models.Class, *models.Pagination, error)
	Get(ctx context.Context, schoolID, id string) (*models.Class, error)
	Students(ctx context.Context, schoolID, id string) ([]models.Student, error)
	Statistics(ctx context.Context, schoolID, academicYear string) (*models.ClassStatistics, error)
	Create(ctx context.Context, actor models.Actor, req service.CreateClassRequest) (*models.Class, error)
	Update(ctx context.Context, actor models.Actor, id string, req service.UpdateClassRequest) (*models.Class, error)
	Delete(ctx context.Context, actor models.Actor, id string) error
}

// ClassHandler manages class endpoints.
type ClassHandler struct {
	service classService
}

// NewClassHandler creates a new class handler.
func NewClassHandler(svc classService) *ClassHandler {
	return &ClassHandler{service: svc}
}

// List godoc
// @Summary List classes
// @Tags Classes
// @Security BearerAuth
// @Produce json
// @Param grade query int false "Grade (10-12)"
// @Param academicYear query string false "Academic year"
// @Param status query string false "Class status"
// @Param teacherId query string false "Homeroom teacher"
// @Param search query string false "Search by code or name"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /classes [get]
func (h *ClassHandler) List(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	grade, ok := queryInt(c, "grade")
	if !ok {
		return
	}
	filter := models.ClassFilter{
		SchoolID:     actor.SchoolID,
		Grade:        grade,
		AcademicYear: strings.TrimSpace(c.Query("academicYear")),
		Status:       models.ClassStatus(strings.TrimSpace(c.Query("status"))),
		TeacherID:    strings.TrimSpace(c.Query("teacherId")),
		Search:       strings.TrimSpace(c.Query("search")),
		SortBy:       c.Query("sort"),
		SortOrder:    c.Query("order"),
	}
	filter.Page, filter.PageSize = pageParams(c)

	classes, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, classes, pagination)
}

// Get godoc
// @Summary Get class
// @Tags Classes
// @Security BearerAuth
// @Produce json
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /classes/{id} [get]
func (h *ClassHandler) Get(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	class, err := h.service.Get(c.Request.Context(), actor.SchoolID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, class)
}

// Students godoc
// @Summary Students enrolled in a class
// @Tags Classes
// @Security BearerAuth
// @Produce json
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/students [get]
func (h *ClassHandler) Students(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	students, err := h.service.Students(c.Request.Context(), actor.SchoolID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, students)
}

// Statistics godoc
// @Summary Class statistics
// @Tags Classes
// @Security BearerAuth
// @Produce json
// @Param academicYear query string false "Academic year"
// @Success 200 {object} response.Envelope
// @Router /classes/statistics [get]
func (h *ClassHandler) Statistics(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	stats, err := h.service.Statistics(c.Request.Context(), actor.SchoolID, strings.TrimSpace(c.Query("academicYear")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, stats)
}

// Create godoc
// @Summary Create class
// @Tags Classes
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param payload body service.CreateClassRequest true "Class payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /classes [post]
func (h *ClassHandler) Create(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req service.CreateClassRequest
	if !bindJSON(c, &req) {
		return
	}
	class, err := h.service.Create(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, class)
}

// Update godoc
// @Summary Update class
// @Tags Classes
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Class ID"
// @Param payload body service.UpdateClassRequest true "Class payload"
// @Success 200 {object} response.Envelope
// @Router /classes/{id} [put]
func (h *ClassHandler) Update(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req service.UpdateClassRequest
	if !bindJSON(c, &req) {
		return
	}
	class, err := h.service.Update(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, class)
}

// Delete godoc
// @Summary Delete class
// @Tags Classes
// @Security BearerAuth
// @Param id path string true "Class ID"
// @Success 204
// @Failure 409 {object} response.Envelope
// @Router /classes/{id} [delete]
func (h *ClassHandler) Delete(c *gin.Context) {
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
