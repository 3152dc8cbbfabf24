package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-school-api/internal/middleware"
	"github.com/noah-isme/sma-school-api/internal/models"
	appErrors "github.com/noah-isme/sma-school-api/pkg/errors"
	"github.com/noah-isme/sma-school-api/pkg/response"
)

type dashboardService interface {
	Stats(ctx context.Context, schoolID string) (*models.DashboardStats, error)
}

// DashboardHandler wires dashboard service to HTTP endpoints.
type DashboardHandler struct {
	service dashboardService
}

// NewDashboardHandler constructs the handler.
func NewDashboardHandler(service dashboardService) *DashboardHandler {
	return &DashboardHandler{service: service}
}

// Stats godoc
// @Summary School dashboard counters
// @Tags Admin
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/dashboard [get]
func (h *DashboardHandler) Stats(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	stats, err := h.service.Stats(c.Request.Context(), actor.SchoolID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil, middleware.ResponseMeta(c))
}
