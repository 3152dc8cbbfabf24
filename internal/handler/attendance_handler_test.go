package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-school-api/internal/models"
	"github.com/noah-isme/sma-school-api/internal/service"
)

type fakeAttendanceService struct {
	marked service.MarkAttendanceRequest
	filter models.AttendanceFilter
}

func (f *fakeAttendanceService) Mark(_ context.Context, _ models.Actor, req service.MarkAttendanceRequest) (*models.AttendanceMarkResult, error) {
	f.marked = req
	return &models.AttendanceMarkResult{Marked: len(req.Marks)}, nil
}

func (f *fakeAttendanceService) List(_ context.Context, filter models.AttendanceFilter) ([]models.Attendance, *models.Pagination, error) {
	f.filter = filter
	return nil, models.NewPagination(filter.Page, filter.PageSize, 0), nil
}

func (f *fakeAttendanceService) Statistics(_ context.Context, filter models.AttendanceFilter) (*models.AttendanceStatistics, error) {
	f.filter = filter
	return &models.AttendanceStatistics{}, nil
}

func (f *fakeAttendanceService) Delete(context.Context, models.Actor, string) error { return nil }

func TestAttendanceHandlerMarkParsesCalendarDay(t *testing.T) {
	svc := &fakeAttendanceService{}
	h := NewAttendanceHandler(svc)
	c, rec := newTestContext(http.MethodPost, "/attendance/mark", map[string]interface{}{
		"class_id": "c-1",
		"date":     "2026-10-12",
		"session":  "morning",
		"marks": []map[string]string{
			{"student_id": "s-1", "status": "present"},
			{"student_id": "s-2", "status": "late"},
		},
	}, adminClaims)

	h.Mark(c)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "c-1", svc.marked.ClassID)
	assert.Equal(t, time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC), svc.marked.Date)
	assert.Equal(t, models.AttendanceSession("morning"), svc.marked.Session)
	assert.Len(t, svc.marked.Marks, 2)
}

func TestAttendanceHandlerMarkRejectsBadDate(t *testing.T) {
	h := NewAttendanceHandler(&fakeAttendanceService{})
	c, rec := newTestContext(http.MethodPost, "/attendance/mark", map[string]interface{}{
		"class_id": "c-1",
		"date":     "12/10/2026",
		"marks":    []map[string]string{{"student_id": "s-1", "status": "present"}},
	}, adminClaims)

	h.Mark(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAttendanceHandlerListFilters(t *testing.T) {
	svc := &fakeAttendanceService{}
	h := NewAttendanceHandler(svc)

	c, rec := newTestContext(http.MethodGet, "/attendance?classId=c-1&date=2026-10-12", nil, adminClaims)
	h.List(c)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.filter.From)
	require.NotNil(t, svc.filter.To)
	assert.True(t, svc.filter.From.Equal(*svc.filter.To))
	assert.Equal(t, "c-1", svc.filter.ClassID)

	c, rec = newTestContext(http.MethodGet, "/attendance/statistics?from=2026-10-01&to=2026-10-31", nil, adminClaims)
	h.Statistics(c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, svc.filter.From.Day())
	assert.Equal(t, 31, svc.filter.To.Day())

	c, rec = newTestContext(http.MethodGet, "/attendance?from=yesterday", nil, adminClaims)
	h.List(c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
