package service

import (
	"context"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-school-api/internal/models"
	appErrors "github.com/noah-isme/sma-school-api/pkg/errors"
)

type subjectRepository interface {
	List(ctx context.Context, filter models.SubjectFilter) ([]models.Subject, int, error)
	FindByID(ctx context.Context, schoolID, id string) (*models.Subject, error)
	ExistsByCode(ctx context.Context, schoolID, code, excludeID string) (bool, error)
	Create(ctx context.Context, subject *models.Subject) error
	Update(ctx context.Context, subject *models.Subject) error
	Delete(ctx context.Context, schoolID, id string) error
}

// CreateSubjectRequest captures fields for creating subjects.
type CreateSubjectRequest struct {
	SubjectCode string             `json:"subject_code" validate:"required,max=20"`
	SubjectName string             `json:"subject_name" validate:"required,max=100"`
	Grades      []int64            `json:"grades" validate:"required,min=1,dive,min=10,max=12"`
	Type        models.SubjectType `json:"type" validate:"omitempty,oneof=compulsory elective"`
	Coefficient float64            `json:"coefficient" validate:"omitempty,min=1"`
	Description *string            `json:"description,omitempty"`
}

// UpdateSubjectRequest modifies subject fields. Only set fields change.
type UpdateSubjectRequest struct {
	SubjectCode *string             `json:"subject_code,omitempty" validate:"omitempty,max=20"`
	SubjectName *string             `json:"subject_name,omitempty" validate:"omitempty,max=100"`
	Grades      []int64             `json:"grades,omitempty" validate:"omitempty,min=1,dive,min=10,max=12"`
	Type        *models.SubjectType `json:"type,omitempty" validate:"omitempty,oneof=compulsory elective"`
	Coefficient *float64            `json:"coefficient,omitempty" validate:"omitempty,min=1"`
	Description *string             `json:"description,omitempty"`
	IsActive    *bool               `json:"is_active,omitempty"`
}

// SubjectService handles subject domain workflows.
type SubjectService struct {
	repo      subjectRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewSubjectService creates a new subject service.
func NewSubjectService(repo subjectRepository, validate *validator.Validate, logger *zap.Logger) *SubjectService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubjectService{repo: repo, validator: validate, logger: logger}
}

// List returns paginated subjects.
func (s *SubjectService) List(ctx context.Context, filter models.SubjectFilter) ([]models.Subject, *models.Pagination, error) {
	pagination := models.NewPagination(filter.Page, filter.PageSize, 0)
	filter.Page, filter.PageSize = pagination.Page, pagination.PageSize
	subjects, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, internal(err, "failed to list subjects")
	}
	pagination.TotalCount = total
	return subjects, pagination, nil
}

// Get returns subject by identifier.
func (s *SubjectService) Get(ctx context.Context, schoolID, id string) (*models.Subject, error) {
	subject, err := s.repo.FindByID(ctx, schoolID, id)
	if err != nil {
		return nil, notFoundOr(err, appErrors.ErrNotFound, "subject not found", "failed to load subject")
	}
	return subject, nil
}

// Create adds a new subject ensuring code uniqueness.
func (s *SubjectService) Create(ctx context.Context, actor models.Actor, req CreateSubjectRequest) (*models.Subject, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid subject payload")
	}

	code := strings.ToUpper(strings.TrimSpace(req.SubjectCode))
	if err := s.ensureUniqueCode(ctx, actor.SchoolID, code, ""); err != nil {
		return nil, err
	}

	subject := &models.Subject{
		SchoolID:    actor.SchoolID,
		SubjectCode: code,
		SubjectName: strings.TrimSpace(req.SubjectName),
		Grades:      normalizeGrades(req.Grades),
		Type:        req.Type,
		Coefficient: req.Coefficient,
		Description: req.Description,
		IsActive:    true,
	}
	if subject.Type == "" {
		subject.Type = models.SubjectTypeCompulsory
	}
	if subject.Coefficient == 0 {
		subject.Coefficient = 1
	}

	if err := s.repo.Create(ctx, subject); err != nil {
		return nil, internal(uniqueConflict(err, subjectCodeConflict()), "failed to create subject")
	}
	s.logger.Debug("subject created", zap.String("subject_id", subject.ID), zap.String("school_id", subject.SchoolID))
	return subject, nil
}

// Update modifies an existing subject.
func (s *SubjectService) Update(ctx context.Context, actor models.Actor, id string, req UpdateSubjectRequest) (*models.Subject, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid subject payload")
	}

	subject, err := s.Get(ctx, actor.SchoolID, id)
	if err != nil {
		return nil, err
	}

	if req.SubjectCode != nil {
		code := strings.ToUpper(strings.TrimSpace(*req.SubjectCode))
		if code != subject.SubjectCode {
			if err := s.ensureUniqueCode(ctx, actor.SchoolID, code, id); err != nil {
				return nil, err
			}
		}
		subject.SubjectCode = code
	}
	if req.SubjectName != nil {
		subject.SubjectName = strings.TrimSpace(*req.SubjectName)
	}
	if req.Grades != nil {
		subject.Grades = normalizeGrades(req.Grades)
	}
	if req.Type != nil {
		subject.Type = *req.Type
	}
	if req.Coefficient != nil {
		subject.Coefficient = *req.Coefficient
	}
	if req.Description != nil {
		subject.Description = req.Description
	}
	if req.IsActive != nil {
		subject.IsActive = *req.IsActive
	}

	if err := s.repo.Update(ctx, subject); err != nil {
		return nil, notFoundOr(uniqueConflict(err, subjectCodeConflict()), appErrors.ErrNotFound, "subject not found", "failed to update subject")
	}
	return subject, nil
}

// Delete removes a subject.
func (s *SubjectService) Delete(ctx context.Context, actor models.Actor, id string) error {
	if err := s.repo.Delete(ctx, actor.SchoolID, id); err != nil {
		return notFoundOr(err, appErrors.ErrNotFound, "subject not found", "failed to delete subject")
	}
	return nil
}

func (s *SubjectService) ensureUniqueCode(ctx context.Context, schoolID, code, excludeID string) error {
	exists, err := s.repo.ExistsByCode(ctx, schoolID, code, excludeID)
	if err != nil {
		return internal(err, "failed to check subject code")
	}
	if exists {
		return subjectCodeConflict()
	}
	return nil
}

func subjectCodeConflict() *appErrors.Error {
	return appErrors.Clone(appErrors.ErrConflict, "subject code already exists")
}

// normalizeGrades sorts grades and drops duplicates.
func normalizeGrades(grades []int64) pq.Int64Array {
	seen := make(map[int64]bool, len(grades))
	out := make(pq.Int64Array, 0, len(grades))
	for _, g := range grades {
		if !seen[g] {
			seen[g] = true
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
