package service

import (
	"context"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-school-api/internal/models"
	appErrors "github.com/noah-isme/sma-school-api/pkg/errors"
)

type classRepository interface {
	List(ctx context.Context, filter models.ClassFilter) ([]models.Class, int, error)
	FindByID(ctx context.Context, exec sqlx.ExtContext, schoolID, id string) (*models.Class, error)
	GetForUpdate(ctx context.Context, exec sqlx.ExtContext, schoolID, id string) (*models.Class, error)
	ExistsByCode(ctx context.Context, schoolID, code, excludeID string) (bool, error)
	Create(ctx context.Context, exec sqlx.ExtContext, class *models.Class) error
	Update(ctx context.Context, exec sqlx.ExtContext, class *models.Class) error
	AdjustCount(ctx context.Context, exec sqlx.ExtContext, id string, delta int) error
	Delete(ctx context.Context, exec sqlx.ExtContext, schoolID, id string) error
	StatisticsByGrade(ctx context.Context, schoolID, academicYear string) ([]models.ClassGradeStats, int, error)
}

type classRosterSource interface {
	ListByClass(ctx context.Context, schoolID, classID string) ([]models.Student, error)
	CountByClass(ctx context.Context, exec sqlx.ExtContext, classID string) (int, error)
}

type classWorkspaceSyncer interface {
	SyncClassWorkspace(ctx context.Context, q sqlx.ExtContext, class *models.Class) (*models.Workspace, error)
	RemoveClassWorkspace(ctx context.Context, q sqlx.ExtContext, schoolID, classID string) error
}

type schoolCounterAdjuster interface {
	AdjustCounter(ctx context.Context, q sqlx.ExtContext, schoolID string, counter models.SchoolCounter, delta int) error
}

// CreateClassRequest payload for creating a class.
type CreateClassRequest struct {
	ClassCode         string             `json:"class_code" validate:"required,max=20"`
	ClassName         string             `json:"class_name" validate:"required,max=100"`
	Grade             int                `json:"grade" validate:"required,min=10,max=12"`
	AcademicYear      string             `json:"academic_year" validate:"required"`
	HomeroomTeacherID *string            `json:"homeroom_teacher_id,omitempty"`
	Capacity          int                `json:"capacity" validate:"omitempty,min=1"`
	Classroom         *string            `json:"classroom,omitempty"`
	Status            models.ClassStatus `json:"status" validate:"omitempty,oneof=active ended paused"`
	Notes             *string            `json:"notes,omitempty"`
}

// UpdateClassRequest payload for updating a class. Only set fields change.
type UpdateClassRequest struct {
	ClassCode         *string             `json:"class_code,omitempty" validate:"omitempty,max=20"`
	ClassName         *string             `json:"class_name,omitempty" validate:"omitempty,max=100"`
	Grade             *int                `json:"grade,omitempty" validate:"omitempty,min=10,max=12"`
	AcademicYear      *string             `json:"academic_year,omitempty"`
	HomeroomTeacherID *string             `json:"homeroom_teacher_id,omitempty"`
	Capacity          *int                `json:"capacity,omitempty" validate:"omitempty,min=1"`
	Classroom         *string             `json:"classroom,omitempty"`
	Status            *models.ClassStatus `json:"status,omitempty" validate:"omitempty,oneof=active ended paused"`
	Notes             *string             `json:"notes,omitempty"`
}

// ClassService implements class management use cases.
type ClassService struct {
	repo       classRepository
	students   classRosterSource
	workspaces classWorkspaceSyncer
	schools    schoolCounterAdjuster
	tx         txRunner
	cache      *CacheService
	audit      AuditRecorder
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewClassService constructs a ClassService.
func NewClassService(repo classRepository, students classRosterSource, workspaces classWorkspaceSyncer, schools schoolCounterAdjuster, tx txRunner, cache *CacheService, audit AuditRecorder, validate *validator.Validate, logger *zap.Logger) *ClassService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClassService{
		repo:       repo,
		students:   students,
		workspaces: workspaces,
		schools:    schools,
		tx:         tx,
		cache:      cache,
		audit:      audit,
		validator:  validate,
		logger:     logger,
	}
}

// List returns classes of the school.
func (s *ClassService) List(ctx context.Context, filter models.ClassFilter) ([]models.Class, *models.Pagination, error) {
	pagination := models.NewPagination(filter.Page, filter.PageSize, 0)
	filter.Page, filter.PageSize = pagination.Page, pagination.PageSize
	classes, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, internal(err, "failed to list classes")
	}
	pagination.TotalCount = total
	return classes, pagination, nil
}

// Get returns a class by id.
func (s *ClassService) Get(ctx context.Context, schoolID, id string) (*models.Class, error) {
	class, err := s.repo.FindByID(ctx, nil, schoolID, id)
	if err != nil {
		return nil, notFoundOr(err, appErrors.ErrNotFound, "class not found", "failed to get class")
	}
	return class, nil
}

// Students returns the roster of a class.
func (s *ClassService) Students(ctx context.Context, schoolID, id string) ([]models.Student, error) {
	if _, err := s.Get(ctx, schoolID, id); err != nil {
		return nil, err
	}
	students, err := s.students.ListByClass(ctx, schoolID, id)
	if err != nil {
		return nil, internal(err, "failed to list class students")
	}
	return students, nil
}

// Statistics summarises occupancy of the school's classes.
func (s *ClassService) Statistics(ctx context.Context, schoolID, academicYear string) (*models.ClassStatistics, error) {
	byGrade, active, err := s.repo.StatisticsByGrade(ctx, schoolID, academicYear)
	if err != nil {
		return nil, internal(err, "failed to load class statistics")
	}
	stats := &models.ClassStatistics{ActiveClasses: active, ByGrade: byGrade}
	for _, g := range byGrade {
		stats.TotalClasses += g.Classes
		stats.TotalCapacity += g.Capacity
		stats.TotalStudents += g.Students
	}
	if stats.TotalCapacity > 0 {
		stats.OccupancyRate = math.Round(float64(stats.TotalStudents)/float64(stats.TotalCapacity)*1000) / 10
	}
	return stats, nil
}

// Create inserts a class together with its workspace node.
func (s *ClassService) Create(ctx context.Context, actor models.Actor, req CreateClassRequest) (*models.Class, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid class payload")
	}
	code := strings.ToUpper(strings.TrimSpace(req.ClassCode))
	if err := s.ensureUniqueCode(ctx, actor.SchoolID, code, ""); err != nil {
		return nil, err
	}

	class := &models.Class{
		SchoolID:          actor.SchoolID,
		ClassCode:         code,
		ClassName:         strings.TrimSpace(req.ClassName),
		Grade:             req.Grade,
		AcademicYear:      req.AcademicYear,
		HomeroomTeacherID: req.HomeroomTeacherID,
		Capacity:          req.Capacity,
		Classroom:         req.Classroom,
		Status:            req.Status,
		Notes:             req.Notes,
	}
	if class.Capacity == 0 {
		class.Capacity = models.DefaultClassCapacity
	}
	if class.Status == "" {
		class.Status = models.ClassStatusActive
	}

	err := s.tx.WithTransaction(ctx, "class.create", func(tx *sqlx.Tx) error {
		class.ID, class.WorkspaceID, class.WorkspaceCode, class.WorkspacePath = "", nil, nil, nil
		if err := s.repo.Create(ctx, tx, class); err != nil {
			return internal(uniqueConflict(err, classCodeConflict()), "failed to create class")
		}
		if _, err := s.workspaces.SyncClassWorkspace(ctx, tx, class); err != nil {
			return internal(err, "failed to create class workspace")
		}
		return s.schools.AdjustCounter(ctx, tx, actor.SchoolID, models.CounterClasses, 1)
	})
	if err != nil {
		return nil, err
	}

	s.cache.InvalidateSchoolMetrics(ctx, actor.SchoolID)
	recordAudit(ctx, s.audit, AuditEvent{Actor: actor, Action: models.AuditActionClassCreate, ResourceType: "class", ResourceID: class.ID, NewData: class})
	return class, nil
}

// Update modifies a class and re-syncs its workspace node. The enrollment
// count is never taken from the request.
func (s *ClassService) Update(ctx context.Context, actor models.Actor, id string, req UpdateClassRequest) (*models.Class, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid class payload")
	}
	if req.ClassCode != nil {
		code := strings.ToUpper(strings.TrimSpace(*req.ClassCode))
		req.ClassCode = &code
		if err := s.ensureUniqueCode(ctx, actor.SchoolID, code, id); err != nil {
			return nil, err
		}
	}

	var before, class *models.Class
	err := s.tx.WithTransaction(ctx, "class.update", func(tx *sqlx.Tx) error {
		current, err := s.repo.GetForUpdate(ctx, tx, actor.SchoolID, id)
		if err != nil {
			return notFoundOr(err, appErrors.ErrNotFound, "class not found", "failed to load class")
		}
		snapshot := *current
		before = &snapshot
		applyClassUpdate(current, req)
		if current.Capacity < current.CurrentStudents {
			return appErrors.ErrCapacityBelowCount
		}
		if err := s.repo.Update(ctx, tx, current); err != nil {
			return notFoundOr(uniqueConflict(err, classCodeConflict()), appErrors.ErrNotFound, "class not found", "failed to update class")
		}
		if _, err := s.workspaces.SyncClassWorkspace(ctx, tx, current); err != nil {
			return internal(err, "failed to sync class workspace")
		}
		class = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.InvalidateSchoolMetrics(ctx, actor.SchoolID)
	recordAudit(ctx, s.audit, AuditEvent{Actor: actor, Action: models.AuditActionClassUpdate, ResourceType: "class", ResourceID: class.ID, OldData: before, NewData: class})
	return class, nil
}

// Delete removes an empty class and its workspace node.
func (s *ClassService) Delete(ctx context.Context, actor models.Actor, id string) error {
	var removed *models.Class
	err := s.tx.WithTransaction(ctx, "class.delete", func(tx *sqlx.Tx) error {
		class, err := s.repo.GetForUpdate(ctx, tx, actor.SchoolID, id)
		if err != nil {
			return notFoundOr(err, appErrors.ErrNotFound, "class not found", "failed to load class")
		}
		enrolled, err := s.students.CountByClass(ctx, tx, class.ID)
		if err != nil {
			return internal(err, "failed to count class students")
		}
		if enrolled > 0 || class.CurrentStudents > 0 {
			return appErrors.ErrClassNotEmpty
		}
		if err := s.workspaces.RemoveClassWorkspace(ctx, tx, class.SchoolID, class.ID); err != nil {
			return internal(err, "failed to remove class workspace")
		}
		if err := s.repo.Delete(ctx, tx, class.SchoolID, class.ID); err != nil {
			return notFoundOr(err, appErrors.ErrNotFound, "class not found", "failed to delete class")
		}
		removed = class
		return s.schools.AdjustCounter(ctx, tx, actor.SchoolID, models.CounterClasses, -1)
	})
	if err != nil {
		return err
	}

	s.cache.InvalidateSchoolMetrics(ctx, actor.SchoolID)
	recordAudit(ctx, s.audit, AuditEvent{Actor: actor, Action: models.AuditActionClassDelete, ResourceType: "class", ResourceID: id, OldData: removed})
	return nil
}

func (s *ClassService) ensureUniqueCode(ctx context.Context, schoolID, code, excludeID string) error {
	exists, err := s.repo.ExistsByCode(ctx, schoolID, code, excludeID)
	if err != nil {
		return internal(err, "failed to check class code")
	}
	if exists {
		return classCodeConflict()
	}
	return nil
}

func classCodeConflict() *appErrors.Error {
	return appErrors.Clone(appErrors.ErrConflict, "class code already exists")
}

func applyClassUpdate(class *models.Class, req UpdateClassRequest) {
	if req.ClassCode != nil {
		class.ClassCode = *req.ClassCode
	}
	if req.ClassName != nil {
		class.ClassName = strings.TrimSpace(*req.ClassName)
	}
	if req.Grade != nil {
		class.Grade = *req.Grade
	}
	if req.AcademicYear != nil {
		class.AcademicYear = *req.AcademicYear
	}
	if req.HomeroomTeacherID != nil {
		class.HomeroomTeacherID = req.HomeroomTeacherID
	}
	if req.Capacity != nil {
		class.Capacity = *req.Capacity
	}
	if req.Classroom != nil {
		class.Classroom = req.Classroom
	}
	if req.Status != nil {
		class.Status = *req.Status
	}
	if req.Notes != nil {
		class.Notes = req.Notes
	}
}
