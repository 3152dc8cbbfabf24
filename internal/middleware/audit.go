package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-school-api/internal/models"
	appErrors "github.com/noah-isme/sma-school-api/pkg/errors"
)

type auditRecorder interface {
	Record(ctx context.Context, entry *models.AuditLog)
}

// AuditFailures records rejected attempts of a sensitive action. Successful
// requests are audited by the service that performed the change.
func AuditFailures(recorder auditRecorder, action, resourceType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		status := c.Writer.Status()
		if recorder == nil || status < http.StatusBadRequest {
			return
		}

		entry := &models.AuditLog{
			Action:       action,
			ResourceType: resourceType,
			IPAddress:    c.ClientIP(),
			UserAgent:    c.GetHeader("User-Agent"),
			Status:       models.AuditStatusFailure,
		}
		if id := c.Param("id"); id != "" {
			entry.ResourceID = &id
		}
		if claims, ok := CurrentClaims(c); ok {
			entry.UserID = &claims.UserID
			entry.SchoolID = &claims.SchoolID
			entry.UserEmail = &claims.Email
			role := string(claims.Role)
			entry.UserRole = &role
		}
		msg := http.StatusText(status)
		if last := c.Errors.Last(); last != nil {
			msg = appErrors.FromError(last.Err).Message
		}
		entry.ErrorMessage = &msg

		recorder.Record(c.Request.Context(), entry)
	}
}
