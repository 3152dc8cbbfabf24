package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-school-api/internal/models"
	appErrors "github.com/noah-isme/sma-school-api/pkg/errors"
)

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
	FindByID(ctx context.Context, exec sqlx.ExtContext, schoolID, id string) (*models.Student, error)
	GetForUpdate(ctx context.Context, exec sqlx.ExtContext, schoolID, id string) (*models.Student, error)
	ExistsByCode(ctx context.Context, exec sqlx.ExtContext, schoolID, code, excludeID string) (bool, error)
	Create(ctx context.Context, exec sqlx.ExtContext, student *models.Student) error
	Update(ctx context.Context, exec sqlx.ExtContext, student *models.Student) error
	Delete(ctx context.Context, exec sqlx.ExtContext, schoolID, id string) error
	AppendTransfer(ctx context.Context, exec sqlx.ExtContext, record *models.TransferRecord) error
	ListTransfers(ctx context.Context, studentID string) ([]models.TransferRecord, error)
	Statistics(ctx context.Context, schoolID string) (*models.StudentStatistics, error)
}

type enrollmentClassStore interface {
	GetForUpdate(ctx context.Context, exec sqlx.ExtContext, schoolID, id string) (*models.Class, error)
	AdjustCount(ctx context.Context, exec sqlx.ExtContext, id string, delta int) error
}

type classWorkspaceResolver interface {
	EnsureClassWorkspaceID(ctx context.Context, q sqlx.ExtContext, class *models.Class) (string, error)
}

// CreateStudentRequest holds payload for creating students.
type CreateStudentRequest struct {
	StudentCode  string     `json:"student_code" validate:"required,max=20"`
	FullName     string     `json:"full_name" validate:"required,max=100"`
	DateOfBirth  *time.Time `json:"date_of_birth,omitempty"`
	Gender       string     `json:"gender" validate:"required"`
	Address      *string    `json:"address,omitempty"`
	Phone        *string    `json:"phone,omitempty"`
	ParentName   *string    `json:"parent_name,omitempty"`
	ParentPhone  *string    `json:"parent_phone,omitempty"`
	ClassID      *string    `json:"class_id,omitempty"`
	AcademicYear string     `json:"academic_year" validate:"required"`
	Status       string     `json:"status,omitempty"`
}

// UpdateStudentRequest holds payload for updating students. Only set fields change.
type UpdateStudentRequest struct {
	StudentCode  *string    `json:"student_code,omitempty" validate:"omitempty,max=20"`
	FullName     *string    `json:"full_name,omitempty" validate:"omitempty,max=100"`
	DateOfBirth  *time.Time `json:"date_of_birth,omitempty"`
	Gender       *string    `json:"gender,omitempty"`
	Address      *string    `json:"address,omitempty"`
	Phone        *string    `json:"phone,omitempty"`
	ParentName   *string    `json:"parent_name,omitempty"`
	ParentPhone  *string    `json:"parent_phone,omitempty"`
	ClassID      *string    `json:"class_id,omitempty"`
	AcademicYear *string    `json:"academic_year,omitempty"`
	Status       *string    `json:"status,omitempty"`
}

// TransferStudentRequest moves a student to another class.
type TransferStudentRequest struct {
	StudentID string  `json:"student_id" validate:"required"`
	ToClassID string  `json:"to_class_id" validate:"required"`
	Reason    *string `json:"reason,omitempty"`
}

// ImportStudentsRequest is the payload of a bulk import.
type ImportStudentsRequest struct {
	Students []CreateStudentRequest `json:"students" validate:"required,min=1"`
}

// StudentService handles student use-cases.
type StudentService struct {
	repo       studentRepository
	classes    enrollmentClassStore
	workspaces classWorkspaceResolver
	schools    schoolCounterAdjuster
	tx         txRunner
	cache      *CacheService
	audit      AuditRecorder
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewStudentService constructs the student service.
func NewStudentService(repo studentRepository, classes enrollmentClassStore, workspaces classWorkspaceResolver, schools schoolCounterAdjuster, tx txRunner, cache *CacheService, audit AuditRecorder, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{
		repo:       repo,
		classes:    classes,
		workspaces: workspaces,
		schools:    schools,
		tx:         tx,
		cache:      cache,
		audit:      audit,
		validator:  validate,
		logger:     logger,
	}
}

// List returns students according to filter.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error) {
	pagination := models.NewPagination(filter.Page, filter.PageSize, 0)
	filter.Page, filter.PageSize = pagination.Page, pagination.PageSize
	if filter.Gender != "" {
		filter.Gender = models.NormalizeGender(filter.Gender)
	}
	if filter.Status != "" {
		filter.Status = models.NormalizeStudentStatus(string(filter.Status))
	}
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, internal(err, "failed to list students")
	}
	pagination.TotalCount = total
	return students, pagination, nil
}

// Get returns a student together with the transfer history.
func (s *StudentService) Get(ctx context.Context, schoolID, id string) (*models.Student, error) {
	student, err := s.repo.FindByID(ctx, nil, schoolID, id)
	if err != nil {
		return nil, notFoundOr(err, appErrors.ErrNotFound, "student not found", "failed to get student")
	}
	history, err := s.repo.ListTransfers(ctx, student.ID)
	if err != nil {
		return nil, internal(err, "failed to load transfer history")
	}
	student.TransferHistory = history
	return student, nil
}

// Statistics groups the school's students by status, gender and class.
func (s *StudentService) Statistics(ctx context.Context, schoolID string) (*models.StudentStatistics, error) {
	stats, err := s.repo.Statistics(ctx, schoolID)
	if err != nil {
		return nil, internal(err, "failed to load student statistics")
	}
	return stats, nil
}

// Create registers a new student, enrolling them when a class is given.
func (s *StudentService) Create(ctx context.Context, actor models.Actor, req CreateStudentRequest) (*models.Student, error) {
	student, err := s.create(ctx, actor, req)
	if err != nil {
		return nil, err
	}
	s.cache.InvalidateSchoolMetrics(ctx, actor.SchoolID)
	recordAudit(ctx, s.audit, AuditEvent{Actor: actor, Action: models.AuditActionStudentCreate, ResourceType: "student", ResourceID: student.ID, NewData: student})
	return student, nil
}

func (s *StudentService) create(ctx context.Context, actor models.Actor, req CreateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid student payload")
	}
	gender := models.NormalizeGender(req.Gender)
	if gender == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown gender "+req.Gender)
	}
	status := models.StudentStatusStudying
	if req.Status != "" {
		if status = models.NormalizeStudentStatus(req.Status); status == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "unknown student status "+req.Status)
		}
	}

	var student *models.Student
	err := s.tx.WithTransaction(ctx, "student.create", func(tx *sqlx.Tx) error {
		code := strings.ToUpper(strings.TrimSpace(req.StudentCode))
		if err := s.ensureUniqueCode(ctx, tx, actor.SchoolID, code, ""); err != nil {
			return err
		}
		candidate := &models.Student{
			SchoolID:     actor.SchoolID,
			StudentCode:  code,
			FullName:     strings.TrimSpace(req.FullName),
			DateOfBirth:  req.DateOfBirth,
			Gender:       gender,
			Address:      req.Address,
			Phone:        req.Phone,
			ParentName:   req.ParentName,
			ParentPhone:  req.ParentPhone,
			AcademicYear: req.AcademicYear,
			Status:       status,
		}
		if classID := stringValue(req.ClassID); classID != "" {
			workspaceID, err := s.enroll(ctx, tx, actor.SchoolID, classID)
			if err != nil {
				return err
			}
			candidate.ClassID = &classID
			candidate.ClassWorkspaceID = &workspaceID
		}
		if err := s.repo.Create(ctx, tx, candidate); err != nil {
			return internal(uniqueConflict(err, studentCodeConflict()), "failed to create student")
		}
		if err := s.schools.AdjustCounter(ctx, tx, actor.SchoolID, models.CounterStudents, 1); err != nil {
			return err
		}
		student = candidate
		return nil
	})
	if err != nil {
		return nil, err
	}
	return student, nil
}

// Update modifies a student. A class change releases the old seat and
// claims one in the new class within the same transaction.
func (s *StudentService) Update(ctx context.Context, actor models.Actor, id string, req UpdateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid student payload")
	}

	var before, student *models.Student
	err := s.tx.WithTransaction(ctx, "student.update", func(tx *sqlx.Tx) error {
		current, err := s.repo.GetForUpdate(ctx, tx, actor.SchoolID, id)
		if err != nil {
			return notFoundOr(err, appErrors.ErrNotFound, "student not found", "failed to load student")
		}
		snapshot := *current
		before = &snapshot
		if err := applyStudentUpdate(current, req); err != nil {
			return err
		}
		if req.StudentCode != nil && current.StudentCode != before.StudentCode {
			if err := s.ensureUniqueCode(ctx, tx, actor.SchoolID, current.StudentCode, current.ID); err != nil {
				return err
			}
		}

		if req.ClassID != nil {
			newClass := strings.TrimSpace(*req.ClassID)
			oldClass := stringValue(before.ClassID)
			if newClass != oldClass {
				if oldClass != "" {
					if err := s.release(ctx, tx, oldClass); err != nil {
						return err
					}
				}
				current.ClassID, current.ClassWorkspaceID = nil, nil
				if newClass != "" {
					workspaceID, err := s.enroll(ctx, tx, actor.SchoolID, newClass)
					if err != nil {
						return err
					}
					current.ClassID = &newClass
					current.ClassWorkspaceID = &workspaceID
				}
			}
		}

		if err := s.repo.Update(ctx, tx, current); err != nil {
			return notFoundOr(uniqueConflict(err, studentCodeConflict()), appErrors.ErrNotFound, "student not found", "failed to update student")
		}
		student = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.InvalidateSchoolMetrics(ctx, actor.SchoolID)
	recordAudit(ctx, s.audit, AuditEvent{Actor: actor, Action: models.AuditActionStudentUpdate, ResourceType: "student", ResourceID: student.ID, OldData: before, NewData: student})
	return student, nil
}

// Delete removes a student and frees their seat.
func (s *StudentService) Delete(ctx context.Context, actor models.Actor, id string) error {
	var removed *models.Student
	err := s.tx.WithTransaction(ctx, "student.delete", func(tx *sqlx.Tx) error {
		student, err := s.repo.GetForUpdate(ctx, tx, actor.SchoolID, id)
		if err != nil {
			return notFoundOr(err, appErrors.ErrNotFound, "student not found", "failed to load student")
		}
		if classID := stringValue(student.ClassID); classID != "" {
			if err := s.release(ctx, tx, classID); err != nil {
				return err
			}
		}
		if err := s.repo.Delete(ctx, tx, actor.SchoolID, student.ID); err != nil {
			return notFoundOr(err, appErrors.ErrNotFound, "student not found", "failed to delete student")
		}
		removed = student
		return s.schools.AdjustCounter(ctx, tx, actor.SchoolID, models.CounterStudents, -1)
	})
	if err != nil {
		return err
	}

	s.cache.InvalidateSchoolMetrics(ctx, actor.SchoolID)
	recordAudit(ctx, s.audit, AuditEvent{Actor: actor, Action: models.AuditActionStudentDelete, ResourceType: "student", ResourceID: id, OldData: removed})
	return nil
}

// Transfer moves a student between classes. Both class rows are locked
// in id order so concurrent transfers cannot deadlock.
func (s *StudentService) Transfer(ctx context.Context, actor models.Actor, req TransferStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid transfer payload")
	}

	var student *models.Student
	var record *models.TransferRecord
	err := s.tx.WithTransaction(ctx, "student.transfer", func(tx *sqlx.Tx) error {
		current, err := s.repo.GetForUpdate(ctx, tx, actor.SchoolID, req.StudentID)
		if err != nil {
			return notFoundOr(err, appErrors.ErrNotFound, "student not found", "failed to load student")
		}
		fromID := stringValue(current.ClassID)
		if fromID == req.ToClassID {
			return appErrors.Clone(appErrors.ErrValidation, "student is already in this class")
		}

		locked, err := s.lockClasses(ctx, tx, actor.SchoolID, fromID, req.ToClassID)
		if err != nil {
			return err
		}
		target := locked[req.ToClassID]
		if !target.HasSeat() {
			return appErrors.ErrClassFull
		}
		if fromID != "" {
			if err := s.classes.AdjustCount(ctx, tx, fromID, -1); err != nil {
				return notFoundOr(err, appErrors.ErrNotFound, "class not found", "failed to release seat")
			}
		}
		if err := s.classes.AdjustCount(ctx, tx, target.ID, 1); err != nil {
			return seatError(err)
		}
		workspaceID, err := s.workspaces.EnsureClassWorkspaceID(ctx, tx, target)
		if err != nil {
			return internal(err, "failed to resolve class workspace")
		}

		current.ClassID = &target.ID
		current.ClassWorkspaceID = &workspaceID
		if err := s.repo.Update(ctx, tx, current); err != nil {
			return notFoundOr(err, appErrors.ErrNotFound, "student not found", "failed to update student")
		}

		entry := &models.TransferRecord{
			StudentID:     current.ID,
			ToClassID:     target.ID,
			Reason:        req.Reason,
			TransferredBy: actor.UserID,
		}
		if fromID != "" {
			entry.FromClassID = &fromID
		}
		if err := s.repo.AppendTransfer(ctx, tx, entry); err != nil {
			return internal(err, "failed to record transfer")
		}
		student, record = current, entry
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.InvalidateSchoolMetrics(ctx, actor.SchoolID)
	recordAudit(ctx, s.audit, AuditEvent{Actor: actor, Action: models.AuditActionStudentTransfer, ResourceType: "student", ResourceID: student.ID, NewData: record})
	s.logger.Info("student transferred", zap.String("student_id", student.ID), zap.String("to_class_id", req.ToClassID))
	return student, nil
}

// Import creates students row by row. Each row commits on its own and a
// rejected row never affects the others.
func (s *StudentService) Import(ctx context.Context, actor models.Actor, req ImportStudentsRequest) (*models.ImportResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid import payload")
	}

	result := &models.ImportResult{Errors: []models.ImportRowError{}}
	for i, row := range req.Students {
		if _, err := s.create(ctx, actor, row); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, models.ImportRowError{
				Row:         i + 1,
				StudentCode: row.StudentCode,
				Message:     importMessage(err),
			})
			continue
		}
		result.Imported++
	}

	if result.Imported > 0 {
		s.cache.InvalidateSchoolMetrics(ctx, actor.SchoolID)
	}
	recordAudit(ctx, s.audit, AuditEvent{
		Actor:        actor,
		Action:       models.AuditActionStudentImport,
		ResourceType: "student",
		Metadata:     map[string]interface{}{"imported": result.Imported, "failed": result.Failed},
	})
	return result, nil
}

// enroll claims a seat in classID and returns the class workspace id.
func (s *StudentService) enroll(ctx context.Context, tx sqlx.ExtContext, schoolID, classID string) (string, error) {
	class, err := s.classes.GetForUpdate(ctx, tx, schoolID, classID)
	if err != nil {
		return "", notFoundOr(err, appErrors.ErrNotFound, "class not found", "failed to load class")
	}
	if !class.HasSeat() {
		return "", appErrors.ErrClassFull
	}
	if err := s.classes.AdjustCount(ctx, tx, class.ID, 1); err != nil {
		return "", seatError(err)
	}
	workspaceID, err := s.workspaces.EnsureClassWorkspaceID(ctx, tx, class)
	if err != nil {
		return "", internal(err, "failed to resolve class workspace")
	}
	return workspaceID, nil
}

func (s *StudentService) release(ctx context.Context, tx sqlx.ExtContext, classID string) error {
	if err := s.classes.AdjustCount(ctx, tx, classID, -1); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return internal(err, "failed to release seat")
	}
	return nil
}

func (s *StudentService) lockClasses(ctx context.Context, tx sqlx.ExtContext, schoolID string, ids ...string) (map[string]*models.Class, error) {
	ordered := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			ordered = append(ordered, id)
		}
	}
	sort.Strings(ordered)
	locked := make(map[string]*models.Class, len(ordered))
	for _, id := range ordered {
		class, err := s.classes.GetForUpdate(ctx, tx, schoolID, id)
		if err != nil {
			return nil, notFoundOr(err, appErrors.ErrNotFound, "class not found", "failed to lock class")
		}
		locked[id] = class
	}
	return locked, nil
}

func (s *StudentService) ensureUniqueCode(ctx context.Context, tx sqlx.ExtContext, schoolID, code, excludeID string) error {
	exists, err := s.repo.ExistsByCode(ctx, tx, schoolID, code, excludeID)
	if err != nil {
		return internal(err, "failed to check student code")
	}
	if exists {
		return studentCodeConflict()
	}
	return nil
}

func applyStudentUpdate(student *models.Student, req UpdateStudentRequest) error {
	if req.StudentCode != nil {
		student.StudentCode = strings.ToUpper(strings.TrimSpace(*req.StudentCode))
	}
	if req.FullName != nil {
		student.FullName = strings.TrimSpace(*req.FullName)
	}
	if req.DateOfBirth != nil {
		student.DateOfBirth = req.DateOfBirth
	}
	if req.Gender != nil {
		gender := models.NormalizeGender(*req.Gender)
		if gender == "" {
			return appErrors.Clone(appErrors.ErrValidation, "unknown gender "+*req.Gender)
		}
		student.Gender = gender
	}
	if req.Status != nil {
		status := models.NormalizeStudentStatus(*req.Status)
		if status == "" {
			return appErrors.Clone(appErrors.ErrValidation, "unknown student status "+*req.Status)
		}
		student.Status = status
	}
	if req.Address != nil {
		student.Address = req.Address
	}
	if req.Phone != nil {
		student.Phone = req.Phone
	}
	if req.ParentName != nil {
		student.ParentName = req.ParentName
	}
	if req.ParentPhone != nil {
		student.ParentPhone = req.ParentPhone
	}
	if req.AcademicYear != nil {
		student.AcademicYear = *req.AcademicYear
	}
	return nil
}

// seatError maps a refused counter increment to CLASS_FULL.
func seatError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.ErrClassFull
	}
	return internal(err, "failed to claim seat")
}

func studentCodeConflict() *appErrors.Error {
	return appErrors.Clone(appErrors.ErrConflict, "student code already exists")
}

func importMessage(err error) string {
	if appErr := appErrors.FromError(err); appErr != nil && appErr.Code != appErrors.ErrInternal.Code {
		return appErr.Message
	}
	return "failed to import row"
}

func stringValue(v *string) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(*v)
}
