package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/sma-school-api/internal/models"
	"github.com/noah-isme/sma-school-api/pkg/database"
	appErrors "github.com/noah-isme/sma-school-api/pkg/errors"
)

type authUserRepository interface {
	FindByEmail(ctx context.Context, exec sqlx.ExtContext, schoolID, email string) (*models.User, error)
	FindByUsername(ctx context.Context, exec sqlx.ExtContext, schoolID, username string) (*models.User, error)
	FindByIdentifier(ctx context.Context, schoolID, identifier string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	CountBySchool(ctx context.Context, exec sqlx.ExtContext, schoolID string) (int, error)
	Create(ctx context.Context, exec sqlx.ExtContext, user *models.User) error
	RecordLogin(ctx context.Context, id, refreshToken string, ts time.Time) error
	UpdateRefreshToken(ctx context.Context, id, refreshToken string) error
	RecordLogout(ctx context.Context, id string, ts time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
}

type authTenantDirectory interface {
	FindOrCreateByName(ctx context.Context, q sqlx.ExtContext, name string) (*models.School, bool, error)
	FindByName(ctx context.Context, name string) (*models.School, error)
	Get(ctx context.Context, schoolID string) (*models.School, error)
	CheckSubscription(school *models.School) bool
	AdjustCounter(ctx context.Context, q sqlx.ExtContext, schoolID string, counter models.SchoolCounter, delta int) error
}

type authWorkspaceSyncer interface {
	EnsureSchoolWorkspace(ctx context.Context, q sqlx.ExtContext, school *models.School) (*models.Workspace, error)
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	AccessTokenSecret  string
	RefreshTokenSecret string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	Issuer             string
	BcryptCost         int
}

// AuthService provides registration, login and session use cases.
type AuthService struct {
	users      authUserRepository
	schools    authTenantDirectory
	workspaces authWorkspaceSyncer
	tx         txRunner
	cache      *CacheService
	audit      AuditRecorder
	validator  *validator.Validate
	logger     *zap.Logger
	config     AuthConfig
	now        func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(users authUserRepository, schools authTenantDirectory, workspaces authWorkspaceSyncer, tx txRunner, cache *CacheService, audit AuditRecorder, validate *validator.Validate, logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.RefreshTokenSecret == "" {
		config.RefreshTokenSecret = config.AccessTokenSecret
	}
	if config.AccessTokenExpiry <= 0 {
		config.AccessTokenExpiry = 24 * time.Hour
	}
	if config.RefreshTokenExpiry <= 0 {
		config.RefreshTokenExpiry = 7 * 24 * time.Hour
	}
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	return &AuthService{
		users:      users,
		schools:    schools,
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

// Register creates a user in the named school, creating the school when it
// does not exist yet. Every write happens in one transaction.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (*models.RegisterResponse, error) {
	req.SchoolName = strings.TrimSpace(req.SchoolName)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Username = strings.TrimSpace(req.Username)
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid registration payload")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.config.BcryptCost)
	if err != nil {
		return nil, internal(err, "failed to hash password")
	}

	var (
		user          *models.User
		school        *models.School
		schoolCreated bool
		existingUsers int
		requiresApp   bool
	)
	err = s.tx.WithTransaction(ctx, "auth.register", func(tx *sqlx.Tx) error {
		var err error
		school, schoolCreated, err = s.schools.FindOrCreateByName(ctx, tx, req.SchoolName)
		if err != nil {
			return err
		}
		if !s.schools.CheckSubscription(school) {
			return appErrors.ErrSubscriptionExpired
		}
		if _, err := s.workspaces.EnsureSchoolWorkspace(ctx, tx, school); err != nil {
			return internal(err, "failed to prepare school workspace")
		}

		if _, err := s.users.FindByEmail(ctx, tx, school.ID, req.Email); err == nil {
			return appErrors.ErrEmailExists
		} else if !errors.Is(err, sql.ErrNoRows) {
			return internal(err, "failed to check email")
		}
		if _, err := s.users.FindByUsername(ctx, tx, school.ID, req.Username); err == nil {
			return appErrors.ErrUsernameExists
		} else if !errors.Is(err, sql.ErrNoRows) {
			return internal(err, "failed to check username")
		}

		existingUsers, err = s.users.CountBySchool(ctx, tx, school.ID)
		if err != nil {
			return internal(err, "failed to count users")
		}

		var role models.UserRole
		role, requiresApp = registrationRole(schoolCreated || existingUsers == 0, req.RequestedRole)
		user = &models.User{
			SchoolID:     school.ID,
			Username:     req.Username,
			Email:        req.Email,
			PasswordHash: string(hash),
			FullName:     strings.TrimSpace(req.FullName),
			Phone:        req.Phone,
			Active:       !requiresApp,
		}
		user.AssignRole(role, nil)
		if err := s.users.Create(ctx, tx, user); err != nil {
			if database.IsUniqueViolation(err) && strings.Contains(database.ConstraintName(err), "email") {
				return uniqueConflict(err, appErrors.ErrEmailExists)
			}
			if database.IsUniqueViolation(err) {
				return uniqueConflict(err, appErrors.ErrUsernameExists)
			}
			return internal(err, "failed to create user")
		}
		if role == models.RoleAdmin {
			if err := s.schools.AdjustCounter(ctx, tx, school.ID, models.CounterTeachers, 1); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.InvalidateSchoolMetrics(ctx, school.ID)
	recordAudit(ctx, s.audit, AuditEvent{
		Actor:        models.Actor{UserID: user.ID, SchoolID: school.ID, Email: user.Email, Role: user.Role, Meta: models.RequestMeta{IP: req.IP, UserAgent: req.UserAgent}},
		Action:       models.AuditActionRegister,
		ResourceType: "user",
		ResourceID:   user.ID,
		NewData:      models.NewUserInfo(user),
		Metadata:     map[string]interface{}{"schoolCreated": schoolCreated, "requiresApproval": requiresApp},
	})
	s.logger.Info("user registered",
		zap.String("user_id", user.ID),
		zap.String("school_id", school.ID),
		zap.String("role", string(user.Role)),
		zap.Bool("school_created", schoolCreated),
	)

	return &models.RegisterResponse{
		User:             models.NewUserInfo(user),
		School:           models.SchoolSummary{ID: school.ID, Name: school.SchoolName, Code: school.SchoolCode},
		IsFirstUser:      schoolCreated || existingUsers == 0,
		RequiresApproval: requiresApp,
	}, nil
}

// registrationRole decides the role of a newly registered user and whether
// an admin has to approve the account.
func registrationRole(firstUser bool, requested models.UserRole) (models.UserRole, bool) {
	if firstUser {
		return models.RoleAdmin, false
	}
	switch requested {
	case models.RoleAdmin:
		return models.RoleUser, true
	case models.RoleTeacher, models.RoleStudent, models.RoleParent:
		return requested, true
	default:
		return models.RoleUser, false
	}
}

// Login authenticates a user within a school and returns issued tokens.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid login payload")
	}

	school, err := s.schools.FindByName(ctx, req.SchoolName)
	if err != nil {
		return nil, err
	}
	if !s.schools.CheckSubscription(school) {
		return nil, appErrors.ErrSubscriptionExpired
	}

	user, err := s.users.FindByIdentifier(ctx, school.ID, req.Identifier)
	if err != nil {
		return nil, notFoundOr(err, appErrors.ErrInvalidCredentials, "", "failed to fetch user")
	}
	meta := models.RequestMeta{IP: req.IP, UserAgent: req.UserAgent}
	actor := models.Actor{UserID: user.ID, SchoolID: school.ID, Email: user.Email, Role: user.Role, Meta: meta}

	if !user.Active {
		return nil, appErrors.ErrInactiveAccount
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		recordAudit(ctx, s.audit, AuditEvent{Actor: actor, Action: models.AuditActionLogin, ResourceType: "auth", ResourceID: user.ID, Err: appErrors.ErrInvalidCredentials})
		return nil, appErrors.ErrInvalidCredentials
	}

	issuedAt := s.now().UTC()
	accessToken, err := s.generateAccessToken(user, issuedAt)
	if err != nil {
		return nil, internal(err, "failed to create access token")
	}
	refreshToken, err := s.generateRefreshToken(user, issuedAt)
	if err != nil {
		return nil, internal(err, "failed to create refresh token")
	}
	if err := s.users.RecordLogin(ctx, user.ID, refreshToken, issuedAt); err != nil {
		return nil, internal(err, "failed to persist session")
	}
	recordAudit(ctx, s.audit, AuditEvent{Actor: actor, Action: models.AuditActionLogin, ResourceType: "auth", ResourceID: user.ID})

	return &models.LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.config.AccessTokenExpiry.Seconds()),
		User:         models.NewUserInfo(user),
		School:       models.SchoolSummary{ID: school.ID, Name: school.SchoolName, Code: school.SchoolCode},
		IssuedAt:     issuedAt,
	}, nil
}

// RefreshToken exchanges the stored refresh token for a new token pair.
func (s *AuthService) RefreshToken(ctx context.Context, req models.RefreshTokenRequest) (*models.RefreshTokenResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid refresh payload")
	}

	claims := &models.RefreshClaims{}
	token, err := jwt.ParseWithClaims(req.RefreshToken, claims, s.keyFunc(s.config.RefreshTokenSecret))
	if err != nil || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid refresh token")
	}

	user, err := s.users.FindByID(ctx, claims.UserID)
	if err != nil {
		return nil, notFoundOr(err, appErrors.ErrUnauthorized, "associated user no longer exists", "failed to load user")
	}
	if user.RefreshToken == nil || *user.RefreshToken != req.RefreshToken {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "refresh token has been revoked")
	}
	if !user.Active {
		return nil, appErrors.ErrInactiveAccount
	}

	issuedAt := s.now().UTC()
	accessToken, err := s.generateAccessToken(user, issuedAt)
	if err != nil {
		return nil, internal(err, "failed to generate access token")
	}
	refreshToken, err := s.generateRefreshToken(user, issuedAt)
	if err != nil {
		return nil, internal(err, "failed to create refresh token")
	}
	if err := s.users.UpdateRefreshToken(ctx, user.ID, refreshToken); err != nil {
		return nil, internal(err, "failed to persist refresh token")
	}

	return &models.RefreshTokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.config.AccessTokenExpiry.Seconds()),
		IssuedAt:     issuedAt,
	}, nil
}

// Logout revokes the stored refresh token of the actor.
func (s *AuthService) Logout(ctx context.Context, actor models.Actor) error {
	if err := s.users.RecordLogout(ctx, actor.UserID, s.now().UTC()); err != nil {
		return internal(err, "failed to revoke session")
	}
	recordAudit(ctx, s.audit, AuditEvent{Actor: actor, Action: models.AuditActionLogout, ResourceType: "auth", ResourceID: actor.UserID})
	return nil
}

// ChangePassword verifies the current password, stores the new hash and
// ends the refresh session.
func (s *AuthService) ChangePassword(ctx context.Context, actor models.Actor, req models.ChangePasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return validationError(err, "invalid change password payload")
	}

	user, err := s.users.FindByID(ctx, actor.UserID)
	if err != nil {
		return notFoundOr(err, appErrors.ErrNotFound, "user not found", "failed to load user")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.OldPassword)); err != nil {
		return appErrors.Clone(appErrors.ErrValidation, "current password is incorrect")
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), s.config.BcryptCost)
	if err != nil {
		return internal(err, "failed to hash password")
	}
	if err := s.users.UpdatePassword(ctx, user.ID, string(newHash), s.now().UTC()); err != nil {
		return internal(err, "failed to update password")
	}
	recordAudit(ctx, s.audit, AuditEvent{Actor: actor, Action: models.AuditActionPasswordChange, ResourceType: "auth", ResourceID: user.ID})
	return nil
}

// Me returns the profile of the authenticated user and its school.
func (s *AuthService) Me(ctx context.Context, userID string) (*models.UserInfo, *models.SchoolSummary, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, nil, notFoundOr(err, appErrors.ErrNotFound, "user not found", "failed to load user")
	}
	school, err := s.schools.Get(ctx, user.SchoolID)
	if err != nil {
		return nil, nil, err
	}
	info := models.NewUserInfo(user)
	return &info, &models.SchoolSummary{ID: school.ID, Name: school.SchoolName, Code: school.SchoolCode}, nil
}

// ValidateToken parses and validates an access token returning the claims.
func (s *AuthService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, s.keyFunc(s.config.AccessTokenSecret))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid || claims.UserID == "" || claims.SchoolID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	return claims, nil
}

// Authenticate validates an access token and reloads its user. Only the
// identity claims are trusted: role and permissions come from the stored
// user, so revocations, deactivation and deletion apply to tokens already
// issued. A token issued before the user's last logout is rejected.
func (s *AuthService) Authenticate(ctx context.Context, tokenString string) (*models.JWTClaims, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}

	user, err := s.users.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "account no longer exists")
		}
		return nil, internal(err, "failed to load user")
	}
	if user.SchoolID != claims.SchoolID {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "account is inactive")
	}
	if user.LastLogout != nil && claims.IssuedAt != nil && user.LastLogout.Truncate(time.Second).After(claims.IssuedAt.Time) {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "session has ended")
	}

	claims.Role = user.Role
	claims.Email = user.Email
	claims.Permissions = user.Permissions
	return claims, nil
}

func (s *AuthService) keyFunc(secret string) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}
}

func (s *AuthService) generateAccessToken(user *models.User, issuedAt time.Time) (string, error) {
	claims := &models.JWTClaims{
		UserID:      user.ID,
		SchoolID:    user.SchoolID,
		Role:        user.Role,
		Email:       user.Email,
		Permissions: user.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.config.Issuer,
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.config.AccessTokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.AccessTokenSecret))
}

func (s *AuthService) generateRefreshToken(user *models.User, issuedAt time.Time) (string, error) {
	claims := &models.RefreshClaims{
		UserID:   user.ID,
		SchoolID: user.SchoolID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.config.Issuer,
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.config.RefreshTokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.RefreshTokenSecret))
}
