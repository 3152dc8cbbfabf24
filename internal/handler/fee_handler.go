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

type feeService interface {
	List(ctx context.Context, filter models.FeeFilter) ([]models.Fee, *models.Pagination, error)
	Get(ctx context.Context, schoolID, id string) (*models.Fee, error)
	Create(ctx context.Context, actor models.Actor, req service.FeeRequest) (*models.Fee, error)
	Update(ctx context.Context, actor models.Actor, id string, req service.FeeRequest) (*models.Fee, error)
	Delete(ctx context.Context, actor models.Actor, id string) error
}

// FeeHandler exposes fee catalogue endpoints.
type FeeHandler struct {
	service feeService
}

// NewFeeHandler constructs FeeHandler.
func NewFeeHandler(svc feeService) *FeeHandler {
	return &FeeHandler{service: svc}
}

// List godoc
// @Summary List fees
// @Tags Fees
// @Security BearerAuth
// @Produce json
// @Param academicYear query string false "Academic year"
// @Param semester query int false "Semester"
// @Param feeType query string false "Fee type"
// @Param active query bool false "Active state"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /fees [get]
func (h *FeeHandler) List(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	semester, ok := queryInt(c, "semester")
	if !ok {
		return
	}
	filter := models.FeeFilter{
		SchoolID:     actor.SchoolID,
		AcademicYear: strings.TrimSpace(c.Query("academicYear")),
		Semester:     semester,
		FeeType:      strings.TrimSpace(c.Query("feeType")),
		Active:       queryBool(c, "active"),
	}
	filter.Page, filter.PageSize = pageParams(c)

	fees, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, fees, pagination)
}

// Get godoc
// @Summary Get fee
// @Tags Fees
// @Security BearerAuth
// @Produce json
// @Param id path string true "Fee ID"
// @Success 200 {object} response.Envelope
// @Router /fees/{id} [get]
func (h *FeeHandler) Get(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	fee, err := h.service.Get(c.Request.Context(), actor.SchoolID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, fee)
}

// Create godoc
// @Summary Create fee
// @Tags Fees
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param payload body service.FeeRequest true "Fee payload"
// @Success 201 {object} response.Envelope
// @Router /fees [post]
func (h *FeeHandler) Create(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req service.FeeRequest
	if !bindJSON(c, &req) {
		return
	}
	fee, err := h.service.Create(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, fee)
}

// Update godoc
// @Summary Update fee
// @Tags Fees
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Fee ID"
// @Param payload body service.FeeRequest true "Fee payload"
// @Success 200 {object} response.Envelope
// @Router /fees/{id} [put]
func (h *FeeHandler) Update(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req service.FeeRequest
	if !bindJSON(c, &req) {
		return
	}
	fee, err := h.service.Update(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, fee)
}

// Delete godoc
// @Summary Delete fee
// @Tags Fees
// @Security BearerAuth
// @Param id path string true "Fee ID"
// @Success 204
// @Router /fees/{id} [delete]
func (h *FeeHandler) Delete(c *gin.Context) {
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
