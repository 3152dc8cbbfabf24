package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-school-api/internal/models"
)

type fakeAuditReader struct {
	filter   models.AuditFilter
	userID   string
	schoolID string
}

func (f *fakeAuditReader) List(_ context.Context, filter models.AuditFilter) ([]models.AuditLog, *models.Pagination, error) {
	f.filter = filter
	return []models.AuditLog{{ID: "a-1", Action: models.AuditActionLogin}}, models.NewPagination(filter.Page, filter.PageSize, 1), nil
}

func (f *fakeAuditReader) ListForUser(_ context.Context, schoolID, userID string, page, pageSize int) ([]models.AuditLog, *models.Pagination, error) {
	f.schoolID, f.userID = schoolID, userID
	return nil, models.NewPagination(page, pageSize, 0), nil
}

func (f *fakeAuditReader) PermissionChanges(_ context.Context, schoolID string, page, pageSize int) ([]models.AuditLog, *models.Pagination, error) {
	f.schoolID = schoolID
	return nil, models.NewPagination(page, pageSize, 0), nil
}

type fakeSchoolSettings struct {
	updated *models.SchoolSettings
}

func (f *fakeSchoolSettings) GetSettings(context.Context, string) (*models.SchoolSettings, error) {
	s := models.DefaultSchoolSettings("", "")
	return &s, nil
}

func (f *fakeSchoolSettings) UpdateSettings(_ context.Context, _ models.Actor, settings models.SchoolSettings) (*models.SchoolSettings, error) {
	f.updated = &settings
	return &settings, nil
}

type fakeWorkspaceTree struct{}

func (fakeWorkspaceTree) Tree(_ context.Context, schoolID string) ([]models.Workspace, error) {
	return []models.Workspace{{ID: "ws-1", SchoolID: schoolID, Type: models.WorkspaceTypeSchool}}, nil
}

func TestAuditHandlerListParsesFilters(t *testing.T) {
	reader := &fakeAuditReader{}
	h := NewAuditHandler(reader)
	c, rec := newTestContext(http.MethodGet, "/admin/audit-logs?action=login,%20role_apply,&resourceType=user&from=2026-10-01&to=2026-10-14", nil, adminClaims)

	h.List(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "school-1", reader.filter.SchoolID)
	assert.Equal(t, []string{"LOGIN", "ROLE_APPLY"}, reader.filter.Actions)
	assert.Equal(t, "user", reader.filter.ResourceType)
	require.NotNil(t, reader.filter.From)
	require.NotNil(t, reader.filter.To)
	assert.Equal(t, 14, reader.filter.To.Day())

	c, rec = newTestContext(http.MethodGet, "/admin/audit-logs?from=last-week", nil, adminClaims)
	h.List(c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuditHandlerScopedQueries(t *testing.T) {
	reader := &fakeAuditReader{}
	h := NewAuditHandler(reader)

	c, rec := newTestContext(http.MethodGet, "/admin/users/u-9/audit-logs", nil, adminClaims)
	c.Params = gin.Params{{Key: "id", Value: "u-9"}}
	h.ForUser(c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u-9", reader.userID)
	assert.Equal(t, "school-1", reader.schoolID)

	c, rec = newTestContext(http.MethodGet, "/admin/audit-logs/permissions", nil, adminClaims)
	h.PermissionChanges(c)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSchoolHandlerSettings(t *testing.T) {
	schools := &fakeSchoolSettings{}
	h := NewSchoolHandler(schools, fakeWorkspaceTree{})

	c, rec := newTestContext(http.MethodGet, "/admin/school-settings", nil, adminClaims)
	h.Settings(c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(decodeEnvelope(t, rec).Data), `"semestersPerYear":2`)

	c, rec = newTestContext(http.MethodPut, "/admin/school-settings", map[string]interface{}{
		"academicYearStart": 8,
		"semestersPerYear":  2,
		"gradesOffered":     []string{"10"},
		"currency":          "USD",
		"timezone":          "UTC",
	}, adminClaims)
	h.UpdateSettings(c)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, schools.updated)
	assert.Equal(t, 8, schools.updated.AcademicYearStart)

	c, rec = newTestContext(http.MethodGet, "/admin/workspaces", nil, adminClaims)
	h.Workspaces(c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(decodeEnvelope(t, rec).Data), `"ws-1"`)
}
