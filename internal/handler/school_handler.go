package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-school-api/internal/models"
	"github.com/noah-isme/sma-school-api/pkg/response"
)

type schoolSettingsService interface {
	GetSettings(ctx context.Context, schoolID string) (*models.SchoolSettings, error)
	UpdateSettings(ctx context.Context, actor models.Actor, settings models.SchoolSettings) (*models.SchoolSettings, error)
}

type workspaceTree interface {
	Tree(ctx context.Context, schoolID string) ([]models.Workspace, error)
}

// SchoolHandler serves school level settings.
type SchoolHandler struct {
	schools    schoolSettingsService
	workspaces workspaceTree
}

// NewSchoolHandler constructs SchoolHandler.
func NewSchoolHandler(schools schoolSettingsService, workspaces workspaceTree) *SchoolHandler {
	return &SchoolHandler{schools: schools, workspaces: workspaces}
}

// Settings godoc
// @Summary Get school settings
// @Tags Admin
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/school-settings [get]
func (h *SchoolHandler) Settings(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	settings, err := h.schools.GetSettings(c.Request.Context(), actor.SchoolID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, settings)
}

// UpdateSettings godoc
// @Summary Replace school settings
// @Tags Admin
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param payload body models.SchoolSettings true "Settings"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /admin/school-settings [put]
func (h *SchoolHandler) UpdateSettings(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req models.SchoolSettings
	if !bindJSON(c, &req) {
		return
	}
	settings, err := h.schools.UpdateSettings(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, settings)
}

// Workspaces godoc
// @Summary School workspace tree
// @Tags Admin
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/workspaces [get]
func (h *SchoolHandler) Workspaces(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	nodes, err := h.workspaces.Tree(c.Request.Context(), actor.SchoolID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, nodes)
}
