package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-school-api/internal/models"
	"github.com/noah-isme/sma-school-api/internal/repository"
	"github.com/noah-isme/sma-school-api/pkg/cache"
	appErrors "github.com/noah-isme/sma-school-api/pkg/errors"
)

type dashboardUsersStub struct {
	calls  int
	counts repository.UserCounts
	err    error
}

func (s *dashboardUsersStub) CountsBySchool(context.Context, string) (*repository.UserCounts, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	c := s.counts
	return &c, nil
}

type dashboardSchoolStub struct {
	school *models.School
	now    time.Time
}

func (s *dashboardSchoolStub) Get(_ context.Context, id string) (*models.School, error) {
	if s.school == nil || s.school.ID != id {
		return nil, appErrors.ErrSchoolNotFound
	}
	cp := *s.school
	return &cp, nil
}

func (s *dashboardSchoolStub) RemainingDays(school *models.School) int {
	return school.RemainingDays(s.now)
}

func (s *dashboardSchoolStub) CheckSubscription(school *models.School) bool {
	return school.SubscriptionActive(s.now)
}

type dashboardSubjectsStub struct{ count int }

func (s dashboardSubjectsStub) CountBySchool(context.Context, string) (int, error) {
	return s.count, nil
}

type dashboardAttendanceStub struct {
	filter models.AttendanceFilter
	groups []models.GroupCount
}

func (s *dashboardAttendanceStub) CountByStatus(_ context.Context, filter models.AttendanceFilter) ([]models.GroupCount, error) {
	s.filter = filter
	return s.groups, nil
}

type dashboardFixture struct {
	svc        *DashboardService
	cache      *CacheService
	users      *dashboardUsersStub
	attendance *dashboardAttendanceStub
	now        time.Time
}

func newDashboardFixture(t *testing.T, withCache bool) *dashboardFixture {
	t.Helper()
	now := time.Date(2026, 10, 5, 9, 30, 0, 0, time.UTC)
	store := newMemStore()
	payments := &fakePaymentRepo{store: store}
	store.payments["p1"] = models.Payment{ID: "p1", SchoolID: "school-1", Status: models.PaymentPaid, AmountDue: 100, AmountPaid: 100}
	store.payments["p2"] = models.Payment{ID: "p2", SchoolID: "school-1", Status: models.PaymentUnpaid, AmountDue: 50}

	f := &dashboardFixture{
		users: &dashboardUsersStub{counts: repository.UserCounts{
			Total:   5,
			Active:  4,
			Pending: 1,
			ByRole:  []models.GroupCount{{Key: "admin", Count: 1}, {Key: "teacher", Count: 4}},
		}},
		attendance: &dashboardAttendanceStub{groups: []models.GroupCount{{Key: "present", Count: 30}, {Key: "late", Count: 2}}},
		now:        now,
	}
	if withCache {
		f.cache = NewCacheService(cache.NewMemoryStore(time.Minute, 10), nil, time.Minute, nil, true)
	}
	school := &models.School{
		ID:                    "school-1",
		TotalStudents:         120,
		TotalTeachers:         9,
		TotalClasses:          4,
		IsActive:              true,
		SubscriptionPlan:      models.PlanBasic,
		SubscriptionExpiresAt: now.Add(10 * 24 * time.Hour),
	}
	f.svc = NewDashboardService(DashboardServiceParams{
		Users:      f.users,
		Schools:    &dashboardSchoolStub{school: school, now: now},
		Subjects:   dashboardSubjectsStub{count: 13},
		Payments:   payments,
		Attendance: f.attendance,
		Cache:      f.cache,
	})
	f.svc.now = func() time.Time { return f.now }
	return f
}

func TestDashboardStatsComposesCounters(t *testing.T) {
	f := newDashboardFixture(t, false)

	stats, err := f.svc.Stats(context.Background(), "school-1")
	require.NoError(t, err)
	assert.Equal(t, 5, stats.TotalUsers)
	assert.Equal(t, 1, stats.PendingUsers)
	assert.Len(t, stats.UsersByRole, 2)
	assert.Equal(t, 120, stats.TotalStudents)
	assert.Equal(t, 9, stats.TotalTeachers)
	assert.Equal(t, 4, stats.TotalClasses)
	assert.Equal(t, 13, stats.TotalSubjects)
	assert.Len(t, stats.Payments, 2)
	assert.Equal(t, "basic", stats.SubscriptionPlan)
	assert.Equal(t, 10, stats.RemainingDays)
	assert.True(t, stats.SubscriptionValid)
	assert.Equal(t, 32, stats.AttendanceToday)

	today := time.Date(2026, 10, 5, 0, 0, 0, 0, time.UTC)
	require.NotNil(t, f.attendance.filter.From)
	assert.Equal(t, today, *f.attendance.filter.From)
	assert.Equal(t, today, *f.attendance.filter.To)
}

func TestDashboardStatsCachedUntilInvalidated(t *testing.T) {
	f := newDashboardFixture(t, true)
	ctx := context.Background()

	first, err := f.svc.Stats(ctx, "school-1")
	require.NoError(t, err)
	f.users.counts.Total = 6
	second, err := f.svc.Stats(ctx, "school-1")
	require.NoError(t, err)
	assert.Equal(t, 1, f.users.calls)
	assert.Equal(t, first.TotalUsers, second.TotalUsers)

	f.cache.InvalidateSchoolMetrics(ctx, "school-1")
	third, err := f.svc.Stats(ctx, "school-1")
	require.NoError(t, err)
	assert.Equal(t, 2, f.users.calls)
	assert.Equal(t, 6, third.TotalUsers)
}

func TestDashboardStatsErrors(t *testing.T) {
	f := newDashboardFixture(t, true)

	_, err := f.svc.Stats(context.Background(), "school-9")
	assert.True(t, appErrors.Is(err, appErrors.ErrSchoolNotFound))

	f.users.err = errors.New("connection reset")
	_, err = f.svc.Stats(context.Background(), "school-1")
	assert.True(t, appErrors.Is(err, appErrors.ErrInternal))
}
