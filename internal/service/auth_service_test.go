package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/sma-school-api/internal/models"
	appErrors "github.com/noah-isme/sma-school-api/pkg/errors"
)

type memSchoolRepo struct {
	mu      sync.Mutex
	seq     int
	schools map[string]models.School
}

func newMemSchoolRepo() *memSchoolRepo {
	return &memSchoolRepo{schools: map[string]models.School{}}
}

func (r *memSchoolRepo) FindByName(_ context.Context, _ sqlx.ExtContext, name string) (*models.School, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.schools {
		if strings.EqualFold(s.SchoolName, name) {
			cp := s
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *memSchoolRepo) FindByID(_ context.Context, _ sqlx.ExtContext, id string) (*models.School, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schools[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &s, nil
}

func (r *memSchoolRepo) Create(_ context.Context, _ sqlx.ExtContext, school *models.School) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	school.ID = fmt.Sprintf("school-%d", r.seq)
	r.schools[school.ID] = *school
	return nil
}

func (r *memSchoolRepo) UpdateSettings(_ context.Context, _ sqlx.ExtContext, id string, settings models.SchoolSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schools[id]
	if !ok {
		return sql.ErrNoRows
	}
	s.Settings = settings
	r.schools[id] = s
	return nil
}

func (r *memSchoolRepo) IncrementCounter(_ context.Context, _ sqlx.ExtContext, id string, counter models.SchoolCounter, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schools[id]
	if !ok {
		return sql.ErrNoRows
	}
	switch counter {
	case models.CounterStudents:
		s.TotalStudents += delta
	case models.CounterTeachers:
		s.TotalTeachers += delta
	case models.CounterClasses:
		s.TotalClasses += delta
	}
	r.schools[id] = s
	return nil
}

func (r *memSchoolRepo) expire(id string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.schools[id]
	s.SubscriptionExpiresAt = at
	r.schools[id] = s
}

type memUserRepo struct {
	mu    sync.Mutex
	seq   int
	users map[string]models.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: map[string]models.User{}}
}

func (r *memUserRepo) find(match func(models.User) bool) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if match(u) {
			cp := u
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *memUserRepo) FindByEmail(_ context.Context, _ sqlx.ExtContext, schoolID, email string) (*models.User, error) {
	return r.find(func(u models.User) bool { return u.SchoolID == schoolID && u.Email == email })
}

func (r *memUserRepo) FindByUsername(_ context.Context, _ sqlx.ExtContext, schoolID, username string) (*models.User, error) {
	return r.find(func(u models.User) bool { return u.SchoolID == schoolID && u.Username == username })
}

func (r *memUserRepo) FindByIdentifier(_ context.Context, schoolID, identifier string) (*models.User, error) {
	return r.find(func(u models.User) bool {
		return u.SchoolID == schoolID && (u.Username == identifier || u.Email == strings.ToLower(identifier))
	})
}

func (r *memUserRepo) FindByID(_ context.Context, id string) (*models.User, error) {
	return r.find(func(u models.User) bool { return u.ID == id })
}

func (r *memUserRepo) CountBySchool(_ context.Context, _ sqlx.ExtContext, schoolID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, u := range r.users {
		if u.SchoolID == schoolID {
			n++
		}
	}
	return n, nil
}

func (r *memUserRepo) Create(_ context.Context, _ sqlx.ExtContext, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	user.ID = fmt.Sprintf("user-%d", r.seq)
	r.users[user.ID] = *user
	return nil
}

func (r *memUserRepo) update(id string, fn func(*models.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	fn(&u)
	r.users[id] = u
	return nil
}

func (r *memUserRepo) RecordLogin(_ context.Context, id, refreshToken string, ts time.Time) error {
	return r.update(id, func(u *models.User) {
		u.RefreshToken = &refreshToken
		u.LastLogin = &ts
	})
}

func (r *memUserRepo) UpdateRefreshToken(_ context.Context, id, refreshToken string) error {
	return r.update(id, func(u *models.User) { u.RefreshToken = &refreshToken })
}

func (r *memUserRepo) RecordLogout(_ context.Context, id string, ts time.Time) error {
	return r.update(id, func(u *models.User) {
		u.RefreshToken = nil
		u.LastLogout = &ts
	})
}

func (r *memUserRepo) UpdatePassword(_ context.Context, id, passwordHash string, updatedAt time.Time) error {
	return r.update(id, func(u *models.User) {
		u.PasswordHash = passwordHash
		u.RefreshToken = nil
		u.UpdatedAt = updatedAt
	})
}

type schoolWorkspaceStub struct {
	mu      sync.Mutex
	ensured map[string]int
}

func (w *schoolWorkspaceStub) EnsureSchoolWorkspace(_ context.Context, _ sqlx.ExtContext, school *models.School) (*models.Workspace, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ensured == nil {
		w.ensured = map[string]int{}
	}
	w.ensured[school.ID]++
	return &models.Workspace{ID: "ws-" + school.ID, SchoolID: school.ID, Type: models.WorkspaceTypeSchool, Name: school.SchoolName}, nil
}

type authFixture struct {
	svc        *AuthService
	schools    *SchoolService
	schoolRepo *memSchoolRepo
	users      *memUserRepo
	workspaces *schoolWorkspaceStub
	audit      *auditSpy
	now        time.Time
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	f := &authFixture{
		schoolRepo: newMemSchoolRepo(),
		users:      newMemUserRepo(),
		workspaces: &schoolWorkspaceStub{},
		audit:      &auditSpy{},
		now:        time.Now().UTC().Truncate(time.Second),
	}
	tx := &fakeTx{store: newMemStore()}
	f.schools = NewSchoolService(f.schoolRepo, f.workspaces, tx, nil, f.audit, nil, nil, SchoolConfig{DefaultTimezone: "Asia/Ho_Chi_Minh", DefaultCurrency: "VND"})
	f.schools.now = func() time.Time { return f.now }
	f.svc = NewAuthService(f.users, f.schools, f.workspaces, tx, nil, f.audit, nil, nil, AuthConfig{
		AccessTokenSecret:  "access-secret",
		RefreshTokenSecret: "refresh-secret",
		AccessTokenExpiry:  time.Hour,
		RefreshTokenExpiry: 24 * time.Hour,
		Issuer:             "sma-school-api",
		BcryptCost:         bcrypt.MinCost,
	})
	f.svc.now = func() time.Time { return f.now }
	return f
}

func registerRequest(school, username string, role models.UserRole) models.RegisterRequest {
	return models.RegisterRequest{
		SchoolName:    school,
		Username:      username,
		Email:         username + "@example.com",
		Password:      "secret123",
		FullName:      "User " + username,
		RequestedRole: role,
	}
}

func TestAuthRegisterFirstUserBecomesAdmin(t *testing.T) {
	f := newAuthFixture(t)

	resp, err := f.svc.Register(context.Background(), registerRequest("THPT Nguyen Hue", "founder", models.RoleTeacher))
	require.NoError(t, err)
	assert.True(t, resp.IsFirstUser)
	assert.False(t, resp.RequiresApproval)
	assert.Equal(t, models.RoleAdmin, resp.User.Role)
	assert.True(t, strings.HasPrefix(resp.School.Code, "TNH"))

	school, err := f.schools.Get(context.Background(), resp.School.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, school.TotalTeachers)
	assert.Equal(t, models.PlanFree, school.SubscriptionPlan)
	assert.Equal(t, f.now.Add(30*24*time.Hour), school.SubscriptionExpiresAt)
	assert.Equal(t, 1, f.workspaces.ensured[school.ID])
	assert.Equal(t, []string{models.AuditActionRegister}, f.audit.actions())
}

func TestAuthRegisterRolesNeedingApproval(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, registerRequest("THPT Nguyen Hue", "founder", ""))
	require.NoError(t, err)

	cases := []struct {
		username string
		role     models.UserRole
		want     models.UserRole
		approval bool
	}{
		{"wantsadmin", models.RoleAdmin, models.RoleUser, true},
		{"teacher1", models.RoleTeacher, models.RoleTeacher, true},
		{"parent1", models.RoleParent, models.RoleParent, true},
		{"plain1", "", models.RoleUser, false},
	}
	for _, tc := range cases {
		t.Run(tc.username, func(t *testing.T) {
			resp, err := f.svc.Register(ctx, registerRequest("thpt nguyen hue", tc.username, tc.role))
			require.NoError(t, err)
			assert.False(t, resp.IsFirstUser)
			assert.Equal(t, tc.want, resp.User.Role)
			assert.Equal(t, tc.approval, resp.RequiresApproval)

			stored, err := f.users.FindByID(ctx, resp.User.ID)
			require.NoError(t, err)
			assert.Equal(t, !tc.approval, stored.Active)
		})
	}
	assert.Len(t, f.schoolRepo.schools, 1)
}

func TestAuthRegisterRejectsDuplicates(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, registerRequest("THPT Nguyen Hue", "founder", ""))
	require.NoError(t, err)

	dup := registerRequest("THPT Nguyen Hue", "other", "")
	dup.Email = "FOUNDER@example.com"
	_, err = f.svc.Register(ctx, dup)
	assert.True(t, appErrors.Is(err, appErrors.ErrEmailExists))

	_, err = f.svc.Register(ctx, registerRequest("THPT Nguyen Hue", "founder", ""))
	assert.True(t, appErrors.Is(err, appErrors.ErrEmailExists))

	sameName := registerRequest("THPT Nguyen Hue", "founder", "")
	sameName.Email = "new@example.com"
	_, err = f.svc.Register(ctx, sameName)
	assert.True(t, appErrors.Is(err, appErrors.ErrUsernameExists))

	// Another school may reuse both.
	_, err = f.svc.Register(ctx, registerRequest("THPT Le Loi", "founder", ""))
	require.NoError(t, err)
}

func TestAuthRegisterValidation(t *testing.T) {
	f := newAuthFixture(t)

	req := registerRequest("THPT Nguyen Hue", "founder", "")
	req.Password = "123"
	_, err := f.svc.Register(context.Background(), req)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	req = registerRequest("AB", "founder", "")
	_, err = f.svc.Register(context.Background(), req)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	assert.Empty(t, f.schoolRepo.schools)
}

func TestAuthRegisterExpiredSubscription(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	resp, err := f.svc.Register(ctx, registerRequest("THPT Nguyen Hue", "founder", ""))
	require.NoError(t, err)
	f.schoolRepo.expire(resp.School.ID, f.now.Add(-time.Minute))

	_, err = f.svc.Register(ctx, registerRequest("THPT Nguyen Hue", "late", ""))
	assert.True(t, appErrors.Is(err, appErrors.ErrSubscriptionExpired))

	_, err = f.svc.Login(ctx, models.LoginRequest{SchoolName: "THPT Nguyen Hue", Identifier: "founder", Password: "secret123"})
	assert.True(t, appErrors.Is(err, appErrors.ErrSubscriptionExpired))
}

func TestAuthLogin(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, registerRequest("THPT Nguyen Hue", "founder", ""))
	require.NoError(t, err)
	pending, err := f.svc.Register(ctx, registerRequest("THPT Nguyen Hue", "teacher1", models.RoleTeacher))
	require.NoError(t, err)

	t.Run("by username", func(t *testing.T) {
		resp, err := f.svc.Login(ctx, models.LoginRequest{SchoolName: "THPT Nguyen Hue", Identifier: "founder", Password: "secret123", IP: "10.0.0.1"})
		require.NoError(t, err)
		assert.NotEmpty(t, resp.AccessToken)
		assert.NotEmpty(t, resp.RefreshToken)
		assert.Equal(t, int64(3600), resp.ExpiresIn)
		assert.Equal(t, models.RoleAdmin, resp.User.Role)

		stored, err := f.users.FindByID(ctx, resp.User.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.RefreshToken)
		assert.Equal(t, resp.RefreshToken, *stored.RefreshToken)
		require.NotNil(t, stored.LastLogin)
	})

	t.Run("by email", func(t *testing.T) {
		_, err := f.svc.Login(ctx, models.LoginRequest{SchoolName: "THPT Nguyen Hue", Identifier: "Founder@Example.com", Password: "secret123"})
		require.NoError(t, err)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := f.svc.Login(ctx, models.LoginRequest{SchoolName: "THPT Nguyen Hue", Identifier: "founder", Password: "nope"})
		assert.True(t, appErrors.Is(err, appErrors.ErrInvalidCredentials))
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := f.svc.Login(ctx, models.LoginRequest{SchoolName: "THPT Nguyen Hue", Identifier: "ghost", Password: "secret123"})
		assert.True(t, appErrors.Is(err, appErrors.ErrInvalidCredentials))
	})

	t.Run("unknown school", func(t *testing.T) {
		_, err := f.svc.Login(ctx, models.LoginRequest{SchoolName: "Nowhere", Identifier: "founder", Password: "secret123"})
		assert.True(t, appErrors.Is(err, appErrors.ErrSchoolNotFound))
	})

	t.Run("awaiting approval", func(t *testing.T) {
		_, err := f.svc.Login(ctx, models.LoginRequest{SchoolName: "THPT Nguyen Hue", Identifier: pending.User.Username, Password: "secret123"})
		assert.True(t, appErrors.Is(err, appErrors.ErrInactiveAccount))
	})
}

func TestAuthRefreshAndLogout(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, registerRequest("THPT Nguyen Hue", "founder", ""))
	require.NoError(t, err)
	login, err := f.svc.Login(ctx, models.LoginRequest{SchoolName: "THPT Nguyen Hue", Identifier: "founder", Password: "secret123"})
	require.NoError(t, err)

	refreshed, err := f.svc.RefreshToken(ctx, models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)

	// The previous refresh token was rotated out.
	_, err = f.svc.RefreshToken(ctx, models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))

	// An access token is not accepted as a refresh token.
	_, err = f.svc.RefreshToken(ctx, models.RefreshTokenRequest{RefreshToken: refreshed.AccessToken})
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))

	actor := models.Actor{UserID: login.User.ID, SchoolID: login.School.ID}
	require.NoError(t, f.svc.Logout(ctx, actor))
	_, err = f.svc.RefreshToken(ctx, models.RefreshTokenRequest{RefreshToken: refreshed.RefreshToken})
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))
	assert.Contains(t, f.audit.actions(), models.AuditActionLogout)
}

func TestAuthChangePassword(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	reg, err := f.svc.Register(ctx, registerRequest("THPT Nguyen Hue", "founder", ""))
	require.NoError(t, err)
	actor := models.Actor{UserID: reg.User.ID, SchoolID: reg.School.ID}

	err = f.svc.ChangePassword(ctx, actor, models.ChangePasswordRequest{OldPassword: "wrong", NewPassword: "newsecret"})
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	require.NoError(t, f.svc.ChangePassword(ctx, actor, models.ChangePasswordRequest{OldPassword: "secret123", NewPassword: "newsecret"}))

	_, err = f.svc.Login(ctx, models.LoginRequest{SchoolName: "THPT Nguyen Hue", Identifier: "founder", Password: "secret123"})
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidCredentials))
	_, err = f.svc.Login(ctx, models.LoginRequest{SchoolName: "THPT Nguyen Hue", Identifier: "founder", Password: "newsecret"})
	require.NoError(t, err)
	assert.Contains(t, f.audit.actions(), models.AuditActionPasswordChange)
}

func TestAuthValidateToken(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, registerRequest("THPT Nguyen Hue", "founder", ""))
	require.NoError(t, err)
	login, err := f.svc.Login(ctx, models.LoginRequest{SchoolName: "THPT Nguyen Hue", Identifier: "founder", Password: "secret123"})
	require.NoError(t, err)

	claims, err := f.svc.ValidateToken(login.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, login.User.ID, claims.UserID)
	assert.Equal(t, login.School.ID, claims.SchoolID)
	assert.Equal(t, models.RoleAdmin, claims.Role)
	assert.True(t, claims.Permissions.Has(models.PermManageSchool))

	_, err = f.svc.ValidateToken(login.RefreshToken)
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, &models.JWTClaims{UserID: "u", SchoolID: "s"})
	signed, err := forged.SignedString([]byte("other-secret"))
	require.NoError(t, err)
	_, err = f.svc.ValidateToken(signed)
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))

	noSchool := jwt.NewWithClaims(jwt.SigningMethodHS256, &models.JWTClaims{UserID: "u"})
	signed, err = noSchool.SignedString([]byte("access-secret"))
	require.NoError(t, err)
	_, err = f.svc.ValidateToken(signed)
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))
}

func TestAuthAuthenticateUsesStoredUser(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, registerRequest("THPT Nguyen Hue", "founder", ""))
	require.NoError(t, err)
	login, err := f.svc.Login(ctx, models.LoginRequest{SchoolName: "THPT Nguyen Hue", Identifier: "founder", Password: "secret123"})
	require.NoError(t, err)
	userID := login.User.ID

	claims, err := f.svc.Authenticate(ctx, login.AccessToken)
	require.NoError(t, err)
	assert.True(t, claims.Permissions.Has(models.PermDelete))

	require.NoError(t, f.users.update(userID, func(u *models.User) {
		u.Role = models.RoleTeacher
		u.Permissions = models.Permissions{CanViewAll: true}
	}))
	claims, err = f.svc.Authenticate(ctx, login.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, models.RoleTeacher, claims.Role)
	assert.False(t, claims.Permissions.Has(models.PermDelete))
	assert.False(t, claims.Permissions.Has(models.PermManageUsers))

	require.NoError(t, f.users.update(userID, func(u *models.User) { u.Active = false }))
	_, err = f.svc.Authenticate(ctx, login.AccessToken)
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))

	require.NoError(t, f.users.Delete(ctx, nil, userID))
	_, err = f.svc.Authenticate(ctx, login.AccessToken)
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))
}

func TestAuthAuthenticateAfterLogout(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	reg, err := f.svc.Register(ctx, registerRequest("THPT Nguyen Hue", "founder", ""))
	require.NoError(t, err)
	login, err := f.svc.Login(ctx, models.LoginRequest{SchoolName: "THPT Nguyen Hue", Identifier: "founder", Password: "secret123"})
	require.NoError(t, err)

	f.now = f.now.Add(2 * time.Second)
	require.NoError(t, f.svc.Logout(ctx, models.Actor{UserID: reg.User.ID, SchoolID: reg.School.ID}))

	_, err = f.svc.Authenticate(ctx, login.AccessToken)
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))

	relogin, err := f.svc.Login(ctx, models.LoginRequest{SchoolName: "THPT Nguyen Hue", Identifier: "founder", Password: "secret123"})
	require.NoError(t, err)
	_, err = f.svc.Authenticate(ctx, relogin.AccessToken)
	assert.NoError(t, err)
}

func TestAuthMe(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	reg, err := f.svc.Register(ctx, registerRequest("THPT Nguyen Hue", "founder", ""))
	require.NoError(t, err)

	info, school, err := f.svc.Me(ctx, reg.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "founder", info.Username)
	assert.Equal(t, "THPT Nguyen Hue", school.Name)

	_, _, err = f.svc.Me(ctx, "missing")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestRegistrationRole(t *testing.T) {
	role, approval := registrationRole(true, models.RoleStudent)
	assert.Equal(t, models.RoleAdmin, role)
	assert.False(t, approval)

	role, approval = registrationRole(false, models.RoleStudent)
	assert.Equal(t, models.RoleStudent, role)
	assert.True(t, approval)

	role, approval = registrationRole(false, models.RoleStaff)
	assert.Equal(t, models.RoleUser, role)
	assert.False(t, approval)
}
