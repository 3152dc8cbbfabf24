package handler

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-school-api/internal/middleware"
	"github.com/noah-isme/sma-school-api/internal/models"
)

type responseEnvelope struct {
	Data       json.RawMessage        `json:"data"`
	Pagination *models.Pagination     `json:"pagination"`
	Meta       map[string]interface{} `json:"meta"`
	Error      *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

var adminClaims = &models.JWTClaims{
	UserID:      "u-admin",
	SchoolID:    "school-1",
	Email:       "admin@school.test",
	Role:        models.RoleAdmin,
	Permissions: models.DerivePermissions(models.RoleAdmin),
}

// newTestContext builds a gin context for calling a handler method directly.
// A nil claims value leaves the request unauthenticated.
func newTestContext(method, target string, body interface{}, claims *models.JWTClaims) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	var buf bytes.Buffer
	switch v := body.(type) {
	case nil:
	case string:
		buf.WriteString(v)
	default:
		_ = json.NewEncoder(&buf).Encode(v)
	}
	c.Request = httptest.NewRequest(method, target, &buf)
	if buf.Len() > 0 {
		c.Request.Header.Set("Content-Type", "application/json")
	}
	c.Request.Header.Set("User-Agent", "handler-test")
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
		c.Set(middleware.ContextSchoolKey, claims.SchoolID)
	}
	return c, rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) responseEnvelope {
	t.Helper()
	var env responseEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func errorCodeOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	env := decodeEnvelope(t, rec)
	require.NotNil(t, env.Error, rec.Body.String())
	return env.Error.Code
}
