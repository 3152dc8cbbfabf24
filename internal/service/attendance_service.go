package service

import (
	"context"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-school-api/internal/models"
	appErrors "github.com/noah-isme/sma-school-api/pkg/errors"
)

type attendanceRepository interface {
	Upsert(ctx context.Context, exec sqlx.ExtContext, att *models.Attendance) error
	List(ctx context.Context, filter models.AttendanceFilter) ([]models.Attendance, int, error)
	CountByStatus(ctx context.Context, filter models.AttendanceFilter) ([]models.GroupCount, error)
	Delete(ctx context.Context, schoolID, id string) error
}

type attendanceRosterSource interface {
	ListByClass(ctx context.Context, schoolID, classID string) ([]models.Student, error)
}

// AttendanceMark is one student's status in a roll call.
type AttendanceMark struct {
	StudentID string                  `json:"student_id"`
	Status    models.AttendanceStatus `json:"status"`
	Note      *string                 `json:"note,omitempty"`
}

// MarkAttendanceRequest records a class roll call for one date.
type MarkAttendanceRequest struct {
	ClassID string                   `json:"class_id" validate:"required"`
	Date    time.Time                `json:"date" validate:"required"`
	Session models.AttendanceSession `json:"session" validate:"omitempty,oneof=morning afternoon full_day"`
	Period  int                      `json:"period" validate:"omitempty,min=0,max=12"`
	Marks   []AttendanceMark         `json:"marks" validate:"required,min=1"`
}

// AttendanceService records daily attendance.
type AttendanceService struct {
	repo      attendanceRepository
	classes   scoreClassSource
	students  attendanceRosterSource
	tx        txRunner
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewAttendanceService constructs the attendance service.
func NewAttendanceService(repo attendanceRepository, classes scoreClassSource, students attendanceRosterSource, tx txRunner, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *AttendanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttendanceService{
		repo:      repo,
		classes:   classes,
		students:  students,
		tx:        tx,
		cache:     cache,
		validator: validate,
		logger:    logger,
		now:       time.Now,
	}
}

// Mark upserts the marks of a class for a date. Marks for students outside
// the class or with an unknown status are skipped.
func (s *AttendanceService) Mark(ctx context.Context, actor models.Actor, req MarkAttendanceRequest) (*models.AttendanceMarkResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid attendance payload")
	}
	date := truncateDay(req.Date)
	if date.After(truncateDay(s.now())) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "attendance cannot be marked for a future date")
	}
	if req.Session == "" {
		req.Session = models.SessionFullDay
	}
	if _, err := s.classes.FindByID(ctx, nil, actor.SchoolID, req.ClassID); err != nil {
		return nil, notFoundOr(err, appErrors.ErrNotFound, "class not found", "failed to load class")
	}
	roster, err := s.students.ListByClass(ctx, actor.SchoolID, req.ClassID)
	if err != nil {
		return nil, internal(err, "failed to load class students")
	}
	enrolled := make(map[string]bool, len(roster))
	for _, st := range roster {
		enrolled[st.ID] = true
	}

	var result models.AttendanceMarkResult
	err = s.tx.WithTransaction(ctx, "attendance.mark", func(tx *sqlx.Tx) error {
		result = models.AttendanceMarkResult{}
		for _, mark := range req.Marks {
			if !enrolled[mark.StudentID] || !mark.Status.Valid() {
				result.Skipped++
				continue
			}
			row := &models.Attendance{
				SchoolID:  actor.SchoolID,
				StudentID: mark.StudentID,
				ClassID:   req.ClassID,
				Date:      date,
				Session:   req.Session,
				Period:    req.Period,
				Status:    mark.Status,
				Note:      mark.Note,
				MarkedBy:  actor.UserID,
			}
			if err := s.repo.Upsert(ctx, tx, row); err != nil {
				return internal(err, "failed to save attendance")
			}
			result.Marked++
			if mark.Status.Absent() {
				result.Absent++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.InvalidateSchoolMetrics(ctx, actor.SchoolID)
	s.logger.Debug("attendance marked",
		zap.String("class_id", req.ClassID),
		zap.Time("date", date),
		zap.Int("marked", result.Marked),
		zap.Int("skipped", result.Skipped),
	)
	return &result, nil
}

// List returns attendance rows matching filter.
func (s *AttendanceService) List(ctx context.Context, filter models.AttendanceFilter) ([]models.Attendance, *models.Pagination, error) {
	pagination := models.NewPagination(filter.Page, filter.PageSize, 0)
	filter.Page, filter.PageSize = pagination.Page, pagination.PageSize
	rows, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, internal(err, "failed to list attendance")
	}
	pagination.TotalCount = total
	return rows, pagination, nil
}

// Statistics counts marks by status. The attendance rate is the share of
// marks that are not absences.
func (s *AttendanceService) Statistics(ctx context.Context, filter models.AttendanceFilter) (*models.AttendanceStatistics, error) {
	groups, err := s.repo.CountByStatus(ctx, filter)
	if err != nil {
		return nil, internal(err, "failed to load attendance statistics")
	}
	stats := &models.AttendanceStatistics{ByStatus: groups}
	absent := 0
	for _, g := range groups {
		stats.Total += g.Count
		if models.AttendanceStatus(g.Key).Absent() {
			absent += g.Count
		}
	}
	if stats.Total > 0 {
		stats.AttendanceRate = math.Round(float64(stats.Total-absent)/float64(stats.Total)*1000) / 10
	}
	return stats, nil
}

// Delete removes one attendance row.
func (s *AttendanceService) Delete(ctx context.Context, actor models.Actor, id string) error {
	if err := s.repo.Delete(ctx, actor.SchoolID, id); err != nil {
		return notFoundOr(err, appErrors.ErrNotFound, "attendance not found", "failed to delete attendance")
	}
	s.cache.InvalidateSchoolMetrics(ctx, actor.SchoolID)
	return nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
