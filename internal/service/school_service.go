package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-school-api/internal/models"
	"github.com/noah-isme/sma-school-api/pkg/database"
	appErrors "github.com/noah-isme/sma-school-api/pkg/errors"
)

const (
	schoolNameMin = 3
	schoolNameMax = 200
)

var offeredGrades = map[string]bool{"10": true, "11": true, "12": true}

type schoolRepository interface {
	FindByName(ctx context.Context, exec sqlx.ExtContext, name string) (*models.School, error)
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.School, error)
	Create(ctx context.Context, exec sqlx.ExtContext, school *models.School) error
	UpdateSettings(ctx context.Context, exec sqlx.ExtContext, id string, settings models.SchoolSettings) error
	IncrementCounter(ctx context.Context, exec sqlx.ExtContext, id string, counter models.SchoolCounter, delta int) error
}

type schoolWorkspaceSyncer interface {
	EnsureSchoolWorkspace(ctx context.Context, q sqlx.ExtContext, school *models.School) (*models.Workspace, error)
}

// SchoolConfig carries tenant defaults.
type SchoolConfig struct {
	TrialPeriod     time.Duration
	DefaultTimezone string
	DefaultCurrency string
}

// SchoolService resolves tenants and manages their settings.
type SchoolService struct {
	repo       schoolRepository
	workspaces schoolWorkspaceSyncer
	tx         txRunner
	cache      *CacheService
	audit      AuditRecorder
	validator  *validator.Validate
	logger     *zap.Logger
	config     SchoolConfig
	now        func() time.Time
}

// NewSchoolService constructs the tenant directory.
func NewSchoolService(repo schoolRepository, workspaces schoolWorkspaceSyncer, tx txRunner, cache *CacheService, audit AuditRecorder, validate *validator.Validate, logger *zap.Logger, config SchoolConfig) *SchoolService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.TrialPeriod <= 0 {
		config.TrialPeriod = 30 * 24 * time.Hour
	}
	return &SchoolService{
		repo:       repo,
		workspaces: workspaces,
		tx:         tx,
		cache:      cache,
		audit:      audit,
		validator:  validate,
		logger:     logger,
		config:     config,
		now:        time.Now,
	}
}

// GenerateSchoolCode builds a code from the initials of name and a three
// digit suffix: "THPT Nguyen Hue" becomes "THPTNH042".
func GenerateSchoolCode(name string) string {
	var b strings.Builder
	for _, word := range strings.Fields(name) {
		for _, r := range word {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				b.WriteRune(unicode.ToUpper(r))
				break
			}
		}
	}
	n, err := rand.Int(rand.Reader, big.NewInt(1000))
	if err != nil {
		n = big.NewInt(0)
	}
	return fmt.Sprintf("%s%03d", b.String(), n.Int64())
}

// FindOrCreateByName resolves the school with the given name, creating it
// with trial defaults when absent. created reports whether it was inserted.
func (s *SchoolService) FindOrCreateByName(ctx context.Context, q sqlx.ExtContext, name string) (*models.School, bool, error) {
	name = strings.TrimSpace(name)
	if l := len([]rune(name)); l < schoolNameMin || l > schoolNameMax {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("school name must be between %d and %d characters", schoolNameMin, schoolNameMax))
	}

	school, err := s.repo.FindByName(ctx, q, name)
	if err == nil {
		return school, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, internal(err, "failed to look up school")
	}

	now := s.now().UTC()
	school = &models.School{
		SchoolName:            name,
		SchoolCode:            GenerateSchoolCode(name),
		IsActive:              true,
		SubscriptionPlan:      models.PlanFree,
		SubscriptionExpiresAt: now.Add(s.config.TrialPeriod),
		Settings:              models.DefaultSchoolSettings(s.config.DefaultCurrency, s.config.DefaultTimezone),
	}
	if err := s.repo.Create(ctx, q, school); err != nil {
		if database.IsUniqueViolation(err) {
			// Another registration created the school first; a fresh attempt will find it.
			s.logger.Info("school created concurrently", zap.String("school_name", name), zap.String("constraint", database.ConstraintName(err)))
			return nil, false, &appErrors.Error{
				Code:    appErrors.ErrConflict.Code,
				Message: "school was created concurrently",
				Status:  appErrors.ErrConflict.Status,
				Kind:    appErrors.KindTransient,
			}
		}
		return nil, false, internal(err, "failed to create school")
	}
	s.logger.Info("school created", zap.String("school_id", school.ID), zap.String("school_code", school.SchoolCode))
	return school, true, nil
}

// FindByName returns the school with the given name without creating it.
func (s *SchoolService) FindByName(ctx context.Context, name string) (*models.School, error) {
	school, err := s.repo.FindByName(ctx, nil, strings.TrimSpace(name))
	if err != nil {
		return nil, notFoundOr(err, appErrors.ErrSchoolNotFound, "school not found", "failed to look up school")
	}
	return school, nil
}

// CheckSubscription reports whether the school may be used now.
func (s *SchoolService) CheckSubscription(school *models.School) bool {
	return school != nil && school.SubscriptionActive(s.now())
}

// RemainingDays returns the whole days left on the subscription.
func (s *SchoolService) RemainingDays(school *models.School) int {
	if school == nil {
		return 0
	}
	return school.RemainingDays(s.now())
}

// Get returns a school by id.
func (s *SchoolService) Get(ctx context.Context, schoolID string) (*models.School, error) {
	school, err := s.repo.FindByID(ctx, nil, schoolID)
	if err != nil {
		return nil, notFoundOr(err, appErrors.ErrSchoolNotFound, "school not found", "failed to load school")
	}
	return school, nil
}

// GetSettings returns the settings document of a school.
func (s *SchoolService) GetSettings(ctx context.Context, schoolID string) (*models.SchoolSettings, error) {
	school, err := s.Get(ctx, schoolID)
	if err != nil {
		return nil, err
	}
	return &school.Settings, nil
}

// UpdateSettings validates and stores new settings and re-syncs the school workspace.
func (s *SchoolService) UpdateSettings(ctx context.Context, actor models.Actor, settings models.SchoolSettings) (*models.SchoolSettings, error) {
	if err := s.validator.Struct(settings); err != nil {
		return nil, validationError(err, "invalid school settings")
	}
	for _, grade := range settings.GradesOffered {
		if !offeredGrades[grade] {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("grade %q is not offered", grade))
		}
	}

	var before models.SchoolSettings
	err := s.tx.WithTransaction(ctx, "school.update_settings", func(tx *sqlx.Tx) error {
		school, err := s.repo.FindByID(ctx, tx, actor.SchoolID)
		if err != nil {
			return notFoundOr(err, appErrors.ErrSchoolNotFound, "school not found", "failed to load school")
		}
		before = school.Settings
		if err := s.repo.UpdateSettings(ctx, tx, school.ID, settings); err != nil {
			return notFoundOr(err, appErrors.ErrSchoolNotFound, "school not found", "failed to update settings")
		}
		school.Settings = settings
		if _, err := s.workspaces.EnsureSchoolWorkspace(ctx, tx, school); err != nil {
			return internal(err, "failed to sync school workspace")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.InvalidateSchoolMetrics(ctx, actor.SchoolID)
	recordAudit(ctx, s.audit, AuditEvent{
		Actor:        actor,
		Action:       models.AuditActionSettingsUpdate,
		ResourceType: "school",
		ResourceID:   actor.SchoolID,
		OldData:      before,
		NewData:      settings,
	})
	return &settings, nil
}

// AdjustCounter changes an aggregate counter inside the caller's transaction.
func (s *SchoolService) AdjustCounter(ctx context.Context, q sqlx.ExtContext, schoolID string, counter models.SchoolCounter, delta int) error {
	if delta == 0 {
		return nil
	}
	if err := s.repo.IncrementCounter(ctx, q, schoolID, counter, delta); err != nil {
		return notFoundOr(err, appErrors.ErrSchoolNotFound, "school not found", "failed to update school counters")
	}
	return nil
}
