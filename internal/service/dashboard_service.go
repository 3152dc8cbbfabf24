package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-school-api/internal/models"
	"github.com/noah-isme/sma-school-api/internal/repository"
)

type dashboardUserCounter interface {
	CountsBySchool(ctx context.Context, schoolID string) (*repository.UserCounts, error)
}

type dashboardSchoolReader interface {
	Get(ctx context.Context, schoolID string) (*models.School, error)
	RemainingDays(school *models.School) int
	CheckSubscription(school *models.School) bool
}

type dashboardSubjectCounter interface {
	CountBySchool(ctx context.Context, schoolID string) (int, error)
}

type dashboardPaymentTotals interface {
	TotalsByStatus(ctx context.Context, schoolID string) ([]models.StatusTotals, error)
}

type dashboardAttendanceCounter interface {
	CountByStatus(ctx context.Context, filter models.AttendanceFilter) ([]models.GroupCount, error)
}

// DashboardServiceConfig tunes dashboard behaviour.
type DashboardServiceConfig struct {
	CacheTTL time.Duration
}

// DashboardServiceParams groups constructor dependencies.
type DashboardServiceParams struct {
	Users      dashboardUserCounter
	Schools    dashboardSchoolReader
	Subjects   dashboardSubjectCounter
	Payments   dashboardPaymentTotals
	Attendance dashboardAttendanceCounter
	Cache      *CacheService
	Logger     *zap.Logger
	Config     DashboardServiceConfig
}

// DashboardService composes the admin dashboard of a school.
type DashboardService struct {
	users      dashboardUserCounter
	schools    dashboardSchoolReader
	subjects   dashboardSubjectCounter
	payments   dashboardPaymentTotals
	attendance dashboardAttendanceCounter
	cache      *CacheService
	logger     *zap.Logger
	now        func() time.Time
	cfg        DashboardServiceConfig
}

// NewDashboardService constructs a DashboardService with sane defaults.
func NewDashboardService(params DashboardServiceParams) *DashboardService {
	cfg := params.Config
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DashboardStatsTTL
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardService{
		users:      params.Users,
		schools:    params.Schools,
		subjects:   params.Subjects,
		payments:   params.Payments,
		attendance: params.Attendance,
		cache:      params.Cache,
		logger:     logger,
		now:        time.Now,
		cfg:        cfg,
	}
}

// Stats returns the dashboard counters of a school, memoized for a short TTL.
// Writes touching these counters invalidate the entry.
func (s *DashboardService) Stats(ctx context.Context, schoolID string) (*models.DashboardStats, error) {
	var stats models.DashboardStats
	err := s.cache.Wrap(ctx, DashboardStatsKey(schoolID), s.cfg.CacheTTL, &stats, func(ctx context.Context) (interface{}, error) {
		return s.compose(ctx, schoolID)
	})
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (s *DashboardService) compose(ctx context.Context, schoolID string) (*models.DashboardStats, error) {
	school, err := s.schools.Get(ctx, schoolID)
	if err != nil {
		return nil, err
	}
	counts, err := s.users.CountsBySchool(ctx, schoolID)
	if err != nil {
		return nil, internal(err, "failed to count users")
	}
	subjects, err := s.subjects.CountBySchool(ctx, schoolID)
	if err != nil {
		return nil, internal(err, "failed to count subjects")
	}
	payments, err := s.payments.TotalsByStatus(ctx, schoolID)
	if err != nil {
		return nil, internal(err, "failed to load payment totals")
	}

	now := s.now().UTC()
	today := truncateDay(now)
	attendance, err := s.attendance.CountByStatus(ctx, models.AttendanceFilter{SchoolID: schoolID, From: &today, To: &today})
	if err != nil {
		return nil, internal(err, "failed to count attendance")
	}
	marked := 0
	for _, g := range attendance {
		marked += g.Count
	}

	stats := &models.DashboardStats{
		SchoolID:          schoolID,
		TotalUsers:        counts.Total,
		ActiveUsers:       counts.Active,
		PendingUsers:      counts.Pending,
		UsersByRole:       counts.ByRole,
		TotalStudents:     school.TotalStudents,
		TotalTeachers:     school.TotalTeachers,
		TotalClasses:      school.TotalClasses,
		TotalSubjects:     subjects,
		Payments:          payments,
		SubscriptionPlan:  string(school.SubscriptionPlan),
		RemainingDays:     s.schools.RemainingDays(school),
		SubscriptionValid: s.schools.CheckSubscription(school),
		AttendanceToday:   marked,
		GeneratedAt:       now,
	}
	s.logger.Debug("dashboard stats composed", zap.String("school_id", schoolID))
	return stats, nil
}
