package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-school-api/internal/models"
	appErrors "github.com/noah-isme/sma-school-api/pkg/errors"
	"github.com/noah-isme/sma-school-api/pkg/response"
)

// RequirePermission allows the request when the authenticated user holds perm.
func RequirePermission(perm models.Permission) gin.HandlerFunc {
	return RequireAllPermissions(perm)
}

// RequireAnyPermission allows the request when at least one of perms is granted.
func RequireAnyPermission(perms ...models.Permission) gin.HandlerFunc {
	return guard(func(claims *models.JWTClaims) bool {
		for _, p := range perms {
			if claims.Permissions.Has(p) {
				return true
			}
		}
		return false
	})
}

// RequireAllPermissions allows the request only when every perm is granted.
func RequireAllPermissions(perms ...models.Permission) gin.HandlerFunc {
	return guard(func(claims *models.JWTClaims) bool {
		for _, p := range perms {
			if !claims.Permissions.Has(p) {
				return false
			}
		}
		return true
	})
}

// RequireAdmin restricts the route to admins.
func RequireAdmin() gin.HandlerFunc {
	return RequireRoles(models.RoleAdmin)
}

// RequireRoles allows the listed roles.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		claims, ok := CurrentClaims(c)
		if !ok {
			response.Abort(c, appErrors.ErrUnauthorized)
			return
		}
		if _, ok := allowed[claims.Role]; !ok {
			response.Abort(c, appErrors.ErrForbidden)
			return
		}
		c.Next()
	}
}

// RequireSameSchool rejects requests whose path or query parameter names a
// school other than the one in the token. Requests without the parameter pass.
func RequireSameSchool(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := CurrentClaims(c)
		if !ok {
			response.Abort(c, appErrors.ErrUnauthorized)
			return
		}
		target := c.Param(param)
		if target == "" {
			target = c.Query(param)
		}
		if target != "" && target != claims.SchoolID {
			response.Abort(c, appErrors.ErrCrossTenantForbidden)
			return
		}
		c.Next()
	}
}

func guard(allow func(*models.JWTClaims) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := CurrentClaims(c)
		if !ok {
			response.Abort(c, appErrors.ErrUnauthorized)
			return
		}
		if !allow(claims) {
			response.Abort(c, appErrors.ErrInsufficientRights)
			return
		}
		c.Next()
	}
}
