package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-school-api/internal/models"
	appErrors "github.com/noah-isme/sma-school-api/pkg/errors"
)

type fakeAuthService struct {
	registerReq models.RegisterRequest
	loginReq    models.LoginRequest
	loginErr    error
	loggedOut   string
	changed     models.ChangePasswordRequest
}

func (f *fakeAuthService) Register(_ context.Context, req models.RegisterRequest) (*models.RegisterResponse, error) {
	f.registerReq = req
	return &models.RegisterResponse{
		User:        models.UserInfo{ID: "u-1", Username: req.Username, Role: models.RoleAdmin},
		School:      models.SchoolSummary{ID: "school-1", Name: req.SchoolName},
		IsFirstUser: true,
	}, nil
}

func (f *fakeAuthService) Login(_ context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	f.loginReq = req
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return &models.LoginResponse{AccessToken: "access", RefreshToken: "refresh"}, nil
}

func (f *fakeAuthService) RefreshToken(_ context.Context, req models.RefreshTokenRequest) (*models.RefreshTokenResponse, error) {
	if req.RefreshToken != "refresh" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid refresh token")
	}
	return &models.RefreshTokenResponse{AccessToken: "access-2", RefreshToken: "refresh-2"}, nil
}

func (f *fakeAuthService) Logout(_ context.Context, actor models.Actor) error {
	f.loggedOut = actor.UserID
	return nil
}

func (f *fakeAuthService) ChangePassword(_ context.Context, _ models.Actor, req models.ChangePasswordRequest) error {
	f.changed = req
	return nil
}

func (f *fakeAuthService) Me(_ context.Context, userID string) (*models.UserInfo, *models.SchoolSummary, error) {
	return &models.UserInfo{ID: userID}, &models.SchoolSummary{ID: "school-1"}, nil
}

func TestAuthHandlerRegisterCapturesClientMeta(t *testing.T) {
	svc := &fakeAuthService{}
	h := NewAuthHandler(svc)
	c, rec := newTestContext(http.MethodPost, "/auth/register", map[string]string{
		"school_name": "Tran Hung Dao",
		"username":    "admin1",
		"email":       "admin@school.test",
		"password":    "secret1",
		"full_name":   "Admin",
	}, nil)
	c.Request.RemoteAddr = "10.1.2.3:5555"

	h.Register(c)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Tran Hung Dao", svc.registerReq.SchoolName)
	assert.Equal(t, "10.1.2.3", svc.registerReq.IP)
	assert.Equal(t, "handler-test", svc.registerReq.UserAgent)

	var body models.RegisterResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &body))
	assert.True(t, body.IsFirstUser)
}

func TestAuthHandlerRegisterRejectsMalformedBody(t *testing.T) {
	h := NewAuthHandler(&fakeAuthService{})
	c, rec := newTestContext(http.MethodPost, "/auth/register", "{not json", nil)

	h.Register(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, appErrors.ErrValidation.Code, errorCodeOf(t, rec))
}

func TestAuthHandlerLoginMapsServiceErrors(t *testing.T) {
	svc := &fakeAuthService{loginErr: appErrors.ErrSubscriptionExpired}
	h := NewAuthHandler(svc)
	c, rec := newTestContext(http.MethodPost, "/auth/login", map[string]string{
		"school_name": "Tran Hung Dao", "identifier": "admin1", "password": "secret1",
	}, nil)

	h.Login(c)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "SUBSCRIPTION_EXPIRED", errorCodeOf(t, rec))
	assert.Equal(t, "admin1", svc.loginReq.Identifier)
}

func TestAuthHandlerRefresh(t *testing.T) {
	h := NewAuthHandler(&fakeAuthService{})

	c, rec := newTestContext(http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": "refresh"}, nil)
	h.Refresh(c)
	assert.Equal(t, http.StatusOK, rec.Code)

	c, rec = newTestContext(http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": "stale"}, nil)
	h.Refresh(c)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthHandlerAuthenticatedRoutesNeedClaims(t *testing.T) {
	svc := &fakeAuthService{}
	h := NewAuthHandler(svc)

	c, rec := newTestContext(http.MethodPost, "/auth/logout", nil, nil)
	h.Logout(c)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, svc.loggedOut)

	c, rec = newTestContext(http.MethodPost, "/auth/logout", nil, adminClaims)
	h.Logout(c)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "u-admin", svc.loggedOut)

	c, rec = newTestContext(http.MethodPut, "/auth/change-password", map[string]string{"old_password": "a", "new_password": "bbbbbb"}, adminClaims)
	h.ChangePassword(c)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "bbbbbb", svc.changed.NewPassword)

	c, rec = newTestContext(http.MethodGet, "/auth/me", nil, adminClaims)
	h.Me(c)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		User models.UserInfo `json:"user"`
	}
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &body))
	assert.Equal(t, "u-admin", body.User.ID)
}
