package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RegisterRequest creates a user, and the school when the name is new.
type RegisterRequest struct {
	SchoolName    string   `json:"school_name" validate:"required,min=3,max=200"`
	Username      string   `json:"username" validate:"required,min=3,max=50,alphanum"`
	Email         string   `json:"email" validate:"required,email"`
	Password      string   `json:"password" validate:"required,min=6"`
	FullName      string   `json:"full_name" validate:"required,max=100"`
	Phone         *string  `json:"phone,omitempty"`
	RequestedRole UserRole `json:"requested_role,omitempty"`
	IP            string   `json:"-"`
	UserAgent     string   `json:"-"`
}

// RegisterResponse describes the outcome of a registration.
type RegisterResponse struct {
	User             UserInfo      `json:"user"`
	School           SchoolSummary `json:"school"`
	IsFirstUser      bool          `json:"is_first_user"`
	RequiresApproval bool          `json:"requires_approval"`
}

// LoginRequest holds credentials for authenticating a user within a school.
// Identifier matches either username or email.
type LoginRequest struct {
	SchoolName string `json:"school_name" validate:"required"`
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
	IP         string `json:"-"`
	UserAgent  string `json:"-"`
}

// LoginResponse returns the issued tokens and user info.
type LoginResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	ExpiresIn    int64         `json:"expires_in"`
	User         UserInfo      `json:"user"`
	School       SchoolSummary `json:"school"`
	IssuedAt     time.Time     `json:"issued_at"`
}

// RefreshTokenRequest exchanges a refresh token for a new access token.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// RefreshTokenResponse returns the refreshed tokens.
type RefreshTokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	IssuedAt     time.Time `json:"issued_at"`
}

// ChangePasswordRequest payload for updating password.
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=6"`
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	ID          string      `json:"id"`
	SchoolID    string      `json:"school_id"`
	Username    string      `json:"username"`
	Email       string      `json:"email"`
	FullName    string      `json:"full_name"`
	Role        UserRole    `json:"role"`
	Permissions Permissions `json:"permissions"`
	Active      bool        `json:"is_active"`
}

// NewUserInfo projects a user for responses.
func NewUserInfo(u *User) UserInfo {
	return UserInfo{
		ID:          u.ID,
		SchoolID:    u.SchoolID,
		Username:    u.Username,
		Email:       u.Email,
		FullName:    u.FullName,
		Role:        u.Role,
		Permissions: u.Permissions,
		Active:      u.Active,
	}
}

// JWTClaims represents the JWT payload for access tokens. Downstream code
// trusts UserID, SchoolID and Role without re-reading the user.
type JWTClaims struct {
	UserID      string      `json:"userId"`
	SchoolID    string      `json:"schoolId"`
	Role        UserRole    `json:"role"`
	Email       string      `json:"email"`
	Permissions Permissions `json:"permissions"`
	jwt.RegisteredClaims
}

// Actor converts the claims into an operation actor.
func (c *JWTClaims) Actor(meta RequestMeta) Actor {
	return Actor{UserID: c.UserID, SchoolID: c.SchoolID, Email: c.Email, Role: c.Role, Meta: meta}
}

// RefreshClaims is the payload of refresh tokens.
type RefreshClaims struct {
	UserID   string `json:"userId"`
	SchoolID string `json:"schoolId"`
	jwt.RegisteredClaims
}
