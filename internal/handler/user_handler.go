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

type userAdminService interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error)
	Get(ctx context.Context, schoolID, id string) (*models.User, error)
	UpdatePermissions(ctx context.Context, actor models.Actor, id string, req service.UpdatePermissionsRequest) (*models.User, error)
	Delete(ctx context.Context, actor models.Actor, id string) error
	ListPending(ctx context.Context, schoolID string) ([]models.User, error)
	Approve(ctx context.Context, actor models.Actor, id string, req service.ApproveUserRequest) (*models.User, error)
	Reject(ctx context.Context, actor models.Actor, id string) error
	ApplyRole(ctx context.Context, actor models.Actor, id string, req service.ApplyRoleRequest) (*models.User, error)
	BulkUpdatePermissions(ctx context.Context, actor models.Actor, req service.BulkPermissionsRequest) (*service.BulkPermissionsResult, error)
	Overview(ctx context.Context, actor models.Actor) (*models.UserOverview, error)
}

// UserHandler exposes user administration endpoints.
type UserHandler struct {
	service userAdminService
}

// NewUserHandler constructs a user handler.
func NewUserHandler(svc userAdminService) *UserHandler {
	return &UserHandler{service: svc}
}

// List godoc
// @Summary List users of the school
// @Tags Admin
// @Security BearerAuth
// @Produce json
// @Param role query string false "Role filter"
// @Param active query bool false "Active filter"
// @Param search query string false "Search by name, username or email"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /admin/users [get]
func (h *UserHandler) List(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	filter := models.UserFilter{
		SchoolID:  actor.SchoolID,
		Active:    queryBool(c, "active"),
		Search:    strings.TrimSpace(c.Query("search")),
		SortBy:    c.Query("sort"),
		SortOrder: c.Query("order"),
	}
	if raw := strings.TrimSpace(c.Query("role")); raw != "" {
		role := models.UserRole(raw)
		if !models.IsValidRole(role) {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "unknown role "+raw))
			return
		}
		filter.Role = &role
	}
	filter.Page, filter.PageSize = pageParams(c)

	users, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, users, pagination)
}

// Get godoc
// @Summary Get user
// @Tags Admin
// @Security BearerAuth
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/users/{id} [get]
func (h *UserHandler) Get(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	user, err := h.service.Get(c.Request.Context(), actor.SchoolID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, user)
}

// Pending godoc
// @Summary List users awaiting approval
// @Tags Admin
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/users/pending [get]
func (h *UserHandler) Pending(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	users, err := h.service.ListPending(c.Request.Context(), actor.SchoolID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, users)
}

// UpdatePermissions godoc
// @Summary Update user permissions
// @Tags Admin
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "User ID"
// @Param payload body service.UpdatePermissionsRequest true "Permission patch"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /admin/users/{id}/permissions [put]
func (h *UserHandler) UpdatePermissions(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req service.UpdatePermissionsRequest
	if !bindJSON(c, &req) {
		return
	}
	user, err := h.service.UpdatePermissions(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, user)
}

// Delete godoc
// @Summary Delete user
// @Tags Admin
// @Security BearerAuth
// @Param id path string true "User ID"
// @Success 204
// @Failure 403 {object} response.Envelope
// @Router /admin/users/{id} [delete]
func (h *UserHandler) Delete(c *gin.Context) {
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

// Approve godoc
// @Summary Approve pending user
// @Tags Admin
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "User ID"
// @Param payload body service.ApproveUserRequest false "Approval options"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/users/{id}/approve [post]
func (h *UserHandler) Approve(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req service.ApproveUserRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	user, err := h.service.Approve(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, user)
}

// Reject godoc
// @Summary Reject pending user
// @Tags Admin
// @Security BearerAuth
// @Param id path string true "User ID"
// @Success 204
// @Router /admin/users/{id}/reject [post]
func (h *UserHandler) Reject(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	if err := h.service.Reject(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ApplyRole godoc
// @Summary Apply a role preset to a user
// @Tags Admin
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "User ID"
// @Param payload body service.ApplyRoleRequest true "Role and optional custom permissions"
// @Success 200 {object} response.Envelope
// @Router /admin/users/{id}/apply-role [post]
func (h *UserHandler) ApplyRole(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req service.ApplyRoleRequest
	if !bindJSON(c, &req) {
		return
	}
	user, err := h.service.ApplyRole(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, user)
}

// BulkPermissions godoc
// @Summary Update permissions for many users
// @Tags Admin
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param payload body service.BulkPermissionsRequest true "Users and permissions"
// @Success 200 {object} response.Envelope
// @Router /admin/users/bulk-permissions [post]
func (h *UserHandler) BulkPermissions(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req service.BulkPermissionsRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.service.BulkUpdatePermissions(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}

// RolePresets godoc
// @Summary List role presets
// @Tags Admin
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/role-presets [get]
func (h *UserHandler) RolePresets(c *gin.Context) {
	response.OK(c, models.RolePresets())
}

// Overview godoc
// @Summary Role-specific overview for the current user
// @Tags App
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /app/overview [get]
func (h *UserHandler) Overview(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	overview, err := h.service.Overview(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, overview)
}
