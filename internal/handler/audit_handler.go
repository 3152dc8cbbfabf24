package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-school-api/internal/models"
	"github.com/noah-isme/sma-school-api/pkg/response"
)

type auditReader interface {
	List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, *models.Pagination, error)
	ListForUser(ctx context.Context, schoolID, userID string, page, pageSize int) ([]models.AuditLog, *models.Pagination, error)
	PermissionChanges(ctx context.Context, schoolID string, page, pageSize int) ([]models.AuditLog, *models.Pagination, error)
}

// AuditHandler exposes the audit trail of a school.
type AuditHandler struct {
	audit auditReader
}

// NewAuditHandler constructs AuditHandler.
func NewAuditHandler(audit auditReader) *AuditHandler {
	return &AuditHandler{audit: audit}
}

// List godoc
// @Summary List audit logs
// @Tags Admin
// @Security BearerAuth
// @Produce json
// @Param userId query string false "Acting user"
// @Param action query string false "Comma separated actions"
// @Param resourceType query string false "Resource type"
// @Param from query string false "From date (YYYY-MM-DD)"
// @Param to query string false "To date (YYYY-MM-DD)"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /admin/audit-logs [get]
func (h *AuditHandler) List(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	filter := models.AuditFilter{
		SchoolID:     actor.SchoolID,
		UserID:       strings.TrimSpace(c.Query("userId")),
		ResourceType: strings.TrimSpace(c.Query("resourceType")),
	}
	if raw := strings.TrimSpace(c.Query("action")); raw != "" {
		for _, action := range strings.Split(raw, ",") {
			if action = strings.TrimSpace(action); action != "" {
				filter.Actions = append(filter.Actions, strings.ToUpper(action))
			}
		}
	}
	if filter.From, ok = queryDate(c, "from"); !ok {
		return
	}
	if filter.To, ok = queryDate(c, "to"); !ok {
		return
	}
	if filter.To != nil {
		// the upper bound names a whole day
		end := filter.To.AddDate(0, 0, 1).Add(-time.Nanosecond)
		filter.To = &end
	}
	filter.Page, filter.PageSize = pageParams(c)

	logs, pagination, err := h.audit.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs, pagination)
}

// ForUser godoc
// @Summary Audit logs of one user
// @Tags Admin
// @Security BearerAuth
// @Produce json
// @Param id path string true "User ID"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /admin/users/{id}/audit-logs [get]
func (h *AuditHandler) ForUser(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	page, size := pageParams(c)
	logs, pagination, err := h.audit.ListForUser(c.Request.Context(), actor.SchoolID, c.Param("id"), page, size)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs, pagination)
}

// PermissionChanges godoc
// @Summary Role and permission change log
// @Tags Admin
// @Security BearerAuth
// @Produce json
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /admin/audit-logs/permissions [get]
func (h *AuditHandler) PermissionChanges(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	page, size := pageParams(c)
	logs, pagination, err := h.audit.PermissionChanges(c.Request.Context(), actor.SchoolID, page, size)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs, pagination)
}
