package service

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-school-api/internal/models"
	appErrors "github.com/noah-isme/sma-school-api/pkg/errors"
)

type feeRepository interface {
	List(ctx context.Context, filter models.FeeFilter) ([]models.Fee, int, error)
	FindByID(ctx context.Context, exec sqlx.ExtContext, schoolID, id string) (*models.Fee, error)
	Create(ctx context.Context, fee *models.Fee) error
	Update(ctx context.Context, fee *models.Fee) error
	Delete(ctx context.Context, schoolID, id string) error
}

// FeeRequest is the payload for creating and replacing fees.
type FeeRequest struct {
	FeeName      string              `json:"fee_name" validate:"required,max=200"`
	FeeType      string              `json:"fee_type" validate:"required,max=50"`
	Amount       float64             `json:"amount" validate:"required,gt=0"`
	AppliesTo    models.FeeAppliesTo `json:"applies_to" validate:"omitempty,oneof=all grade10 grade11 grade12 class"`
	ClassID      *string             `json:"class_id,omitempty"`
	AcademicYear string              `json:"academic_year" validate:"required"`
	Semester     *int                `json:"semester,omitempty" validate:"omitempty,oneof=1 2"`
	DueDate      *time.Time          `json:"due_date,omitempty"`
	Description  *string             `json:"description,omitempty"`
	IsActive     *bool               `json:"is_active,omitempty"`
}

// FeeService manages billable fee definitions.
type FeeService struct {
	repo      feeRepository
	classes   scoreClassSource
	validator *validator.Validate
	logger    *zap.Logger
}

// NewFeeService constructs the fee service.
func NewFeeService(repo feeRepository, classes scoreClassSource, validate *validator.Validate, logger *zap.Logger) *FeeService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeeService{repo: repo, classes: classes, validator: validate, logger: logger}
}

// List returns fees of the school.
func (s *FeeService) List(ctx context.Context, filter models.FeeFilter) ([]models.Fee, *models.Pagination, error) {
	pagination := models.NewPagination(filter.Page, filter.PageSize, 0)
	filter.Page, filter.PageSize = pagination.Page, pagination.PageSize
	fees, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, internal(err, "failed to list fees")
	}
	pagination.TotalCount = total
	return fees, pagination, nil
}

// Get returns a fee.
func (s *FeeService) Get(ctx context.Context, schoolID, id string) (*models.Fee, error) {
	fee, err := s.repo.FindByID(ctx, nil, schoolID, id)
	if err != nil {
		return nil, notFoundOr(err, appErrors.ErrNotFound, "fee not found", "failed to load fee")
	}
	return fee, nil
}

// Create defines a new fee.
func (s *FeeService) Create(ctx context.Context, actor models.Actor, req FeeRequest) (*models.Fee, error) {
	fee := &models.Fee{SchoolID: actor.SchoolID, IsActive: true}
	if err := s.apply(ctx, actor.SchoolID, fee, req); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, fee); err != nil {
		return nil, internal(err, "failed to create fee")
	}
	return fee, nil
}

// Update replaces the fields of a fee. Existing payment records keep the
// amount due they were created with.
func (s *FeeService) Update(ctx context.Context, actor models.Actor, id string, req FeeRequest) (*models.Fee, error) {
	fee, err := s.Get(ctx, actor.SchoolID, id)
	if err != nil {
		return nil, err
	}
	if err := s.apply(ctx, actor.SchoolID, fee, req); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, fee); err != nil {
		return nil, notFoundOr(err, appErrors.ErrNotFound, "fee not found", "failed to update fee")
	}
	return fee, nil
}

// Delete removes a fee.
func (s *FeeService) Delete(ctx context.Context, actor models.Actor, id string) error {
	if err := s.repo.Delete(ctx, actor.SchoolID, id); err != nil {
		return notFoundOr(err, appErrors.ErrNotFound, "fee not found", "failed to delete fee")
	}
	return nil
}

func (s *FeeService) apply(ctx context.Context, schoolID string, fee *models.Fee, req FeeRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return validationError(err, "invalid fee payload")
	}
	if req.AppliesTo == "" {
		req.AppliesTo = models.FeeAppliesAll
	}
	if req.AppliesTo == models.FeeAppliesClass {
		classID := stringValue(req.ClassID)
		if classID == "" {
			return appErrors.Clone(appErrors.ErrValidation, "class_id is required when the fee applies to a class")
		}
		if _, err := s.classes.FindByID(ctx, nil, schoolID, classID); err != nil {
			return notFoundOr(err, appErrors.ErrNotFound, "class not found", "failed to load class")
		}
		fee.ClassID = &classID
	} else {
		fee.ClassID = nil
	}

	fee.FeeName = strings.TrimSpace(req.FeeName)
	fee.FeeType = strings.TrimSpace(req.FeeType)
	fee.Amount = req.Amount
	fee.AppliesTo = req.AppliesTo
	fee.AcademicYear = req.AcademicYear
	fee.Semester = req.Semester
	fee.DueDate = req.DueDate
	fee.Description = req.Description
	if req.IsActive != nil {
		fee.IsActive = *req.IsActive
	}
	return nil
}

// FeeAppliesToStudent reports whether fee is billable to a student in class.
func FeeAppliesToStudent(fee *models.Fee, class *models.Class) bool {
	switch fee.AppliesTo {
	case models.FeeAppliesAll, "":
		return true
	case models.FeeAppliesClass:
		return class != nil && fee.ClassID != nil && *fee.ClassID == class.ID
	case models.FeeAppliesGrade10:
		return class != nil && class.Grade == 10
	case models.FeeAppliesGrade11:
		return class != nil && class.Grade == 11
	case models.FeeAppliesGrade12:
		return class != nil && class.Grade == 12
	}
	return false
}
