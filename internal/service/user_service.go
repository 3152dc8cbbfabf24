package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-school-api/internal/models"
	appErrors "github.com/noah-isme/sma-school-api/pkg/errors"
)

const recentScoresLimit = 5

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	ListPending(ctx context.Context, schoolID string) ([]models.User, error)
	ListByIDs(ctx context.Context, schoolID string, ids []string) ([]models.User, error)
	UpdateAccess(ctx context.Context, exec sqlx.ExtContext, user *models.User) error
	Delete(ctx context.Context, exec sqlx.ExtContext, id string) error
}

type overviewClassSource interface {
	List(ctx context.Context, filter models.ClassFilter) ([]models.Class, int, error)
}

type overviewStudentSource interface {
	FindByID(ctx context.Context, exec sqlx.ExtContext, schoolID, id string) (*models.Student, error)
}

type overviewScoreSource interface {
	List(ctx context.Context, filter models.ScoreFilter) ([]models.Score, int, error)
}

// UpdatePermissionsRequest patches individual capabilities of a user.
type UpdatePermissionsRequest struct {
	Permissions models.PermissionPatch `json:"permissions"`
}

// ApproveUserRequest activates a pending account.
type ApproveUserRequest struct {
	PromoteToAdmin bool `json:"promote_to_admin"`
}

// ApplyRoleRequest assigns a role with its preset or a custom capability set.
type ApplyRoleRequest struct {
	Role              models.UserRole     `json:"role" validate:"required"`
	CustomPermissions *models.Permissions `json:"custom_permissions,omitempty"`
}

// BulkPermissionsRequest updates several users at once. A role applies its
// preset and takes precedence over the patch.
type BulkPermissionsRequest struct {
	UserIDs     []string                `json:"user_ids" validate:"required,min=1,dive,required"`
	Role        *models.UserRole        `json:"role,omitempty"`
	Permissions *models.PermissionPatch `json:"permissions,omitempty"`
}

// BulkPermissionsResult summarises a bulk permission update.
type BulkPermissionsResult struct {
	Updated int      `json:"updated"`
	Skipped int      `json:"skipped"`
	UserIDs []string `json:"user_ids"`
}

// UserService handles user administration within a school.
type UserService struct {
	repo      userRepository
	classes   overviewClassSource
	students  overviewStudentSource
	scores    overviewScoreSource
	tx        txRunner
	cache     *CacheService
	audit     AuditRecorder
	validator *validator.Validate
	logger    *zap.Logger
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, classes overviewClassSource, students overviewStudentSource, scores overviewScoreSource, tx txRunner, cache *CacheService, audit AuditRecorder, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &UserService{
		repo:      repo,
		classes:   classes,
		students:  students,
		scores:    scores,
		tx:        tx,
		cache:     cache,
		audit:     audit,
		validator: validate,
		logger:    logger,
	}
}

// List returns users of the school matching the filter.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	pagination := models.NewPagination(filter.Page, filter.PageSize, 0)
	filter.Page, filter.PageSize = pagination.Page, pagination.PageSize
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, internal(err, "failed to list users")
	}
	pagination.TotalCount = total
	return users, pagination, nil
}

// Get returns a user of the school.
func (s *UserService) Get(ctx context.Context, schoolID, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, appErrors.ErrNotFound, "user not found", "failed to get user")
	}
	if user.SchoolID != schoolID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
	}
	return user, nil
}

// UpdatePermissions applies a capability patch. Admins cannot revoke their
// own user management capability.
func (s *UserService) UpdatePermissions(ctx context.Context, actor models.Actor, id string, req UpdatePermissionsRequest) (*models.User, error) {
	user, err := s.Get(ctx, actor.SchoolID, id)
	if err != nil {
		return nil, err
	}
	before := user.Permissions
	next := req.Permissions.Apply(before)
	if user.ID == actor.UserID && !next.CanManageUsers {
		return nil, appErrors.ErrCannotModifySelf
	}

	user.AssignRole(user.Role, &next)
	if err := s.repo.UpdateAccess(ctx, nil, user); err != nil {
		return nil, notFoundOr(err, appErrors.ErrNotFound, "user not found", "failed to update permissions")
	}

	s.cache.InvalidateUserOverview(ctx, user.ID)
	recordAudit(ctx, s.audit, AuditEvent{
		Actor:        actor,
		Action:       models.AuditActionPermissionUpdate,
		ResourceType: "user",
		ResourceID:   user.ID,
		OldData:      before,
		NewData:      user.Permissions,
	})
	return user, nil
}

// Delete removes a user account. Users cannot delete themselves.
func (s *UserService) Delete(ctx context.Context, actor models.Actor, id string) error {
	if id == actor.UserID {
		return appErrors.ErrCannotDeleteSelf
	}
	user, err := s.Get(ctx, actor.SchoolID, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, nil, user.ID); err != nil {
		return notFoundOr(err, appErrors.ErrNotFound, "user not found", "failed to delete user")
	}

	s.cache.InvalidateSchoolMetrics(ctx, actor.SchoolID)
	s.cache.InvalidateUserOverview(ctx, user.ID)
	recordAudit(ctx, s.audit, AuditEvent{
		Actor:        actor,
		Action:       models.AuditActionUserDelete,
		ResourceType: "user",
		ResourceID:   user.ID,
		OldData:      models.NewUserInfo(user),
	})
	return nil
}

// ListPending returns accounts awaiting approval.
func (s *UserService) ListPending(ctx context.Context, schoolID string) ([]models.User, error) {
	users, err := s.repo.ListPending(ctx, schoolID)
	if err != nil {
		return nil, internal(err, "failed to list pending users")
	}
	return users, nil
}

// Approve activates a pending account, optionally promoting it to admin.
func (s *UserService) Approve(ctx context.Context, actor models.Actor, id string, req ApproveUserRequest) (*models.User, error) {
	user, err := s.Get(ctx, actor.SchoolID, id)
	if err != nil {
		return nil, err
	}
	if user.Active {
		return nil, appErrors.ErrAlreadyActive
	}
	before := models.NewUserInfo(user)
	user.Active = true
	if req.PromoteToAdmin {
		user.AssignRole(models.RoleAdmin, nil)
	}
	if err := s.repo.UpdateAccess(ctx, nil, user); err != nil {
		return nil, notFoundOr(err, appErrors.ErrNotFound, "user not found", "failed to approve user")
	}

	s.cache.InvalidateSchoolMetrics(ctx, actor.SchoolID)
	s.cache.InvalidateUserOverview(ctx, user.ID)
	recordAudit(ctx, s.audit, AuditEvent{
		Actor:        actor,
		Action:       models.AuditActionUserApprove,
		ResourceType: "user",
		ResourceID:   user.ID,
		OldData:      before,
		NewData:      models.NewUserInfo(user),
		Metadata:     map[string]interface{}{"promoteToAdmin": req.PromoteToAdmin},
	})
	return user, nil
}

// Reject deletes an account that has not been approved yet.
func (s *UserService) Reject(ctx context.Context, actor models.Actor, id string) error {
	user, err := s.Get(ctx, actor.SchoolID, id)
	if err != nil {
		return err
	}
	if user.Active {
		return appErrors.Clone(appErrors.ErrAlreadyActive, "only pending users can be rejected")
	}
	if err := s.repo.Delete(ctx, nil, user.ID); err != nil {
		return notFoundOr(err, appErrors.ErrNotFound, "user not found", "failed to reject user")
	}

	s.cache.InvalidateSchoolMetrics(ctx, actor.SchoolID)
	recordAudit(ctx, s.audit, AuditEvent{
		Actor:        actor,
		Action:       models.AuditActionUserReject,
		ResourceType: "user",
		ResourceID:   user.ID,
		OldData:      models.NewUserInfo(user),
	})
	return nil
}

// ApplyRole assigns a role with its preset or a custom override.
func (s *UserService) ApplyRole(ctx context.Context, actor models.Actor, id string, req ApplyRoleRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid role payload")
	}
	if !models.IsValidRole(req.Role) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown role")
	}
	user, err := s.Get(ctx, actor.SchoolID, id)
	if err != nil {
		return nil, err
	}
	before := models.NewUserInfo(user)
	user.AssignRole(req.Role, req.CustomPermissions)
	if user.ID == actor.UserID && !user.Permissions.CanManageUsers {
		return nil, appErrors.ErrCannotModifySelf
	}
	if err := s.repo.UpdateAccess(ctx, nil, user); err != nil {
		return nil, notFoundOr(err, appErrors.ErrNotFound, "user not found", "failed to apply role")
	}

	s.cache.InvalidateSchoolMetrics(ctx, actor.SchoolID)
	s.cache.InvalidateUserOverview(ctx, user.ID)
	recordAudit(ctx, s.audit, AuditEvent{
		Actor:        actor,
		Action:       models.AuditActionRoleApply,
		ResourceType: "user",
		ResourceID:   user.ID,
		OldData:      before,
		NewData:      models.NewUserInfo(user),
		Metadata:     map[string]interface{}{"custom": user.CustomPermissions},
	})
	return user, nil
}

// BulkUpdatePermissions applies a role preset or a patch to several users
// of the school in one transaction. The actor is always skipped.
func (s *UserService) BulkUpdatePermissions(ctx context.Context, actor models.Actor, req BulkPermissionsRequest) (*BulkPermissionsResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid bulk permission payload")
	}
	if req.Role == nil && req.Permissions == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "role or permissions is required")
	}
	if req.Role != nil && !models.IsValidRole(*req.Role) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown role")
	}

	users, err := s.repo.ListByIDs(ctx, actor.SchoolID, req.UserIDs)
	if err != nil {
		return nil, internal(err, "failed to load users")
	}

	var result *BulkPermissionsResult
	err = s.tx.WithTransaction(ctx, "user.bulk_permissions", func(tx *sqlx.Tx) error {
		result = &BulkPermissionsResult{Skipped: len(req.UserIDs) - len(users)}
		for i := range users {
			user := users[i]
			if user.ID == actor.UserID {
				result.Skipped++
				continue
			}
			if req.Role != nil {
				user.AssignRole(*req.Role, nil)
			} else {
				next := req.Permissions.Apply(user.Permissions)
				user.AssignRole(user.Role, &next)
			}
			if err := s.repo.UpdateAccess(ctx, tx, &user); err != nil {
				return internal(err, "failed to update permissions")
			}
			result.Updated++
			result.UserIDs = append(result.UserIDs, user.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.InvalidateSchoolMetrics(ctx, actor.SchoolID)
	s.cache.InvalidateUserOverview(ctx, result.UserIDs...)
	recordAudit(ctx, s.audit, AuditEvent{
		Actor:        actor,
		Action:       models.AuditActionPermissionBulkUpdate,
		ResourceType: "user",
		NewData:      req,
		Metadata:     map[string]interface{}{"updated": result.Updated, "skipped": result.Skipped},
	})
	return result, nil
}

// Overview returns the landing payload of the actor, cached briefly.
func (s *UserService) Overview(ctx context.Context, actor models.Actor) (*models.UserOverview, error) {
	var overview models.UserOverview
	err := s.cache.Wrap(ctx, UserOverviewKey(actor.UserID), UserOverviewTTL, &overview, func(ctx context.Context) (interface{}, error) {
		return s.buildOverview(ctx, actor)
	})
	if err != nil {
		return nil, err
	}
	return &overview, nil
}

func (s *UserService) buildOverview(ctx context.Context, actor models.Actor) (*models.UserOverview, error) {
	user, err := s.Get(ctx, actor.SchoolID, actor.UserID)
	if err != nil {
		return nil, err
	}
	overview := &models.UserOverview{
		UserID:      user.ID,
		Username:    user.Username,
		FullName:    user.FullName,
		Role:        user.Role,
		SchoolID:    user.SchoolID,
		Permissions: user.Permissions,
		GeneratedAt: time.Now().UTC(),
	}

	switch user.Role {
	case models.RoleTeacher:
		_, managed, err := s.classes.List(ctx, models.ClassFilter{SchoolID: user.SchoolID, TeacherID: user.ID, PageSize: 1})
		if err != nil {
			return nil, internal(err, "failed to count managed classes")
		}
		overview.ManagedClasses = &managed
	case models.RoleStudent:
		if user.StudentID == nil {
			break
		}
		student, err := s.students.FindByID(ctx, nil, user.SchoolID, *user.StudentID)
		if err != nil {
			s.logger.Warn("student record for overview not found", zap.String("user_id", user.ID), zap.Error(err))
			break
		}
		overview.Student = student
		scores, _, err := s.scores.List(ctx, models.ScoreFilter{SchoolID: user.SchoolID, StudentID: student.ID, PageSize: recentScoresLimit})
		if err != nil {
			return nil, internal(err, "failed to load recent scores")
		}
		overview.RecentScores = scores
	case models.RoleParent:
		overview.Extras = map[string]int{"children": 0}
	}
	return overview, nil
}
