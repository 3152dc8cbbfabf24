package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-school-api/internal/models"
	appErrors "github.com/noah-isme/sma-school-api/pkg/errors"
	"github.com/noah-isme/sma-school-api/pkg/response"
)

type tokenStub map[string]*models.JWTClaims

func (s tokenStub) Authenticate(_ context.Context, token string) (*models.JWTClaims, error) {
	if claims, ok := s[token]; ok {
		cp := *claims
		return &cp, nil
	}
	return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
}

type recorderSpy struct {
	mu      sync.Mutex
	entries []*models.AuditLog
}

func (r *recorderSpy) Record(_ context.Context, entry *models.AuditLog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

var testTokens = tokenStub{
	"admin":   {UserID: "u-admin", SchoolID: "school-1", Role: models.RoleAdmin, Permissions: models.DerivePermissions(models.RoleAdmin)},
	"teacher": {UserID: "u-teacher", SchoolID: "school-1", Role: models.RoleTeacher, Permissions: models.DerivePermissions(models.RoleTeacher)},
	"parent":  {UserID: "u-parent", SchoolID: "school-1", Role: models.RoleParent},
}

func newEngine(guards ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	chain := append([]gin.HandlerFunc{JWT(testTokens)}, guards...)
	chain = append(chain, func(c *gin.Context) {
		actor, _ := CurrentActor(c)
		c.JSON(http.StatusOK, gin.H{"user": actor.UserID, "school": c.GetString(ContextSchoolKey)})
	})
	r.GET("/schools/:school_id/things/:id", chain...)
	r.GET("/things", chain...)
	return r
}

func do(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Error.Code
}

func TestJWT(t *testing.T) {
	r := newEngine()

	rec := do(r, "/things", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(r, "/things", "forged")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(r, "/things", "teacher")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user":"u-teacher","school":"school-1"}`, rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/things", nil)
	req.Header.Set("Authorization", "Basic teacher")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOptionalJWT(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", OptionalJWT(testTokens), func(c *gin.Context) {
		_, ok := CurrentClaims(c)
		c.JSON(http.StatusOK, gin.H{"authenticated": ok})
	})

	assert.JSONEq(t, `{"authenticated":false}`, do(r, "/", "").Body.String())
	assert.JSONEq(t, `{"authenticated":false}`, do(r, "/", "forged").Body.String())
	assert.JSONEq(t, `{"authenticated":true}`, do(r, "/", "parent").Body.String())
}

func TestRequirePermission(t *testing.T) {
	r := newEngine(RequirePermission(models.PermCreate))

	assert.Equal(t, http.StatusOK, do(r, "/things", "teacher").Code)
	rec := do(r, "/things", "parent")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, appErrors.ErrInsufficientRights.Code, errorCode(t, rec))
}

func TestRequireAnyAndAllPermissions(t *testing.T) {
	anyGuard := newEngine(RequireAnyPermission(models.PermDelete, models.PermViewAll))
	assert.Equal(t, http.StatusOK, do(anyGuard, "/things", "teacher").Code)
	assert.Equal(t, http.StatusForbidden, do(anyGuard, "/things", "parent").Code)

	allGuard := newEngine(RequireAllPermissions(models.PermCreate, models.PermDelete))
	assert.Equal(t, http.StatusForbidden, do(allGuard, "/things", "teacher").Code)
	assert.Equal(t, http.StatusOK, do(allGuard, "/things", "admin").Code)
}

func TestRequireAdmin(t *testing.T) {
	r := newEngine(RequireAdmin())
	assert.Equal(t, http.StatusOK, do(r, "/things", "admin").Code)
	rec := do(r, "/things", "teacher")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, appErrors.ErrForbidden.Code, errorCode(t, rec))
}

func TestRequireSameSchool(t *testing.T) {
	r := newEngine(RequireSameSchool("school_id"))

	assert.Equal(t, http.StatusOK, do(r, "/schools/school-1/things/1", "teacher").Code)
	rec := do(r, "/schools/school-2/things/1", "teacher")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, appErrors.ErrCrossTenantForbidden.Code, errorCode(t, rec))

	assert.Equal(t, http.StatusOK, do(r, "/things?school_id=school-1", "teacher").Code)
	assert.Equal(t, http.StatusForbidden, do(r, "/things?school_id=school-9", "teacher").Code)
	assert.Equal(t, http.StatusOK, do(r, "/things", "teacher").Code)
}

func TestAuditFailuresRecordsRejectedAttempts(t *testing.T) {
	gin.SetMode(gin.TestMode)
	spy := &recorderSpy{}
	r := gin.New()
	r.DELETE("/users/:id",
		JWT(testTokens),
		AuditFailures(spy, models.AuditActionUserDelete, "user"),
		RequireAdmin(),
		func(c *gin.Context) {
			if c.Param("id") == "u-admin" {
				response.Error(c, appErrors.ErrCannotDeleteSelf)
				return
			}
			response.NoContent(c)
		},
	)

	send := func(id, token string) int {
		req := httptest.NewRequest(http.MethodDelete, "/users/"+id, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, send("u-2", "admin"))
	assert.Empty(t, spy.entries)

	assert.Equal(t, http.StatusForbidden, send("u-admin", "admin"))
	assert.Equal(t, http.StatusForbidden, send("u-2", "teacher"))
	require.Len(t, spy.entries, 2)

	first := spy.entries[0]
	assert.Equal(t, models.AuditStatusFailure, first.Status)
	assert.Equal(t, models.AuditActionUserDelete, first.Action)
	require.NotNil(t, first.ResourceID)
	assert.Equal(t, "u-admin", *first.ResourceID)
	require.NotNil(t, first.ErrorMessage)
	assert.Equal(t, appErrors.ErrCannotDeleteSelf.Message, *first.ErrorMessage)
	require.NotNil(t, spy.entries[1].UserID)
	assert.Equal(t, "u-teacher", *spy.entries[1].UserID)
}

func TestResponseMeta(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", RequestTimer(), func(c *gin.Context) {
		c.JSON(http.StatusOK, ResponseMeta(c))
	})
	rec := do(r, "/", "")
	var meta map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &meta))
	assert.Contains(t, meta, "processing_time_ms")
}

// userResolver mirrors the auth service: the token names a user and the
// guards see whatever is stored for that user now.
type userResolver struct {
	mu    sync.Mutex
	users map[string]models.User
}

func (r *userResolver) Authenticate(_ context.Context, token string) (*models.JWTClaims, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[token]
	if !ok || !user.Active {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "account is inactive")
	}
	return &models.JWTClaims{UserID: user.ID, SchoolID: user.SchoolID, Role: user.Role, Permissions: user.Permissions}, nil
}

func (r *userResolver) set(token string, mutate func(*models.User)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user := r.users[token]
	mutate(&user)
	r.users[token] = user
}

func TestGuardsFollowStoredPermissions(t *testing.T) {
	gin.SetMode(gin.TestMode)
	users := &userResolver{users: map[string]models.User{
		"tok-1": {ID: "u-1", SchoolID: "school-1", Role: models.RoleAdmin, Permissions: models.DerivePermissions(models.RoleAdmin), Active: true},
	}}
	r := gin.New()
	r.DELETE("/students/:id", JWT(users), RequirePermission(models.PermDelete), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	call := func() int {
		req := httptest.NewRequest(http.MethodDelete, "/students/st-1", nil)
		req.Header.Set("Authorization", "Bearer tok-1")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, call())

	users.set("tok-1", func(u *models.User) { u.Permissions.CanDelete = false })
	assert.Equal(t, http.StatusForbidden, call())

	users.set("tok-1", func(u *models.User) { u.Permissions.CanDelete = true; u.Active = false })
	assert.Equal(t, http.StatusUnauthorized, call())
}
