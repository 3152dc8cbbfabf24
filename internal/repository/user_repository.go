package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-school-api/internal/models"
)

const userColumns = `id, school_id, username, email, password_hash, full_name, phone, role, permissions, custom_permissions, is_active, student_id, refresh_token, last_login, last_logout, created_at, updated_at`

// UserRepository provides database access for user management.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

func (r *UserRepository) getOne(ctx context.Context, exec sqlx.ExtContext, label, where string, args ...interface{}) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where + ` LIMIT 1`
	var user models.User
	if err := sqlx.GetContext(ctx, r.exec(exec), &user, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by %s: %w", label, err)
	}
	return &user, nil
}

// FindByEmail returns a user of the school by email address.
func (r *UserRepository) FindByEmail(ctx context.Context, exec sqlx.ExtContext, schoolID, email string) (*models.User, error) {
	return r.getOne(ctx, exec, "email", `school_id = $1 AND LOWER(email) = LOWER($2)`, schoolID, strings.TrimSpace(email))
}

// FindByUsername returns a user of the school by username.
func (r *UserRepository) FindByUsername(ctx context.Context, exec sqlx.ExtContext, schoolID, username string) (*models.User, error) {
	return r.getOne(ctx, exec, "username", `school_id = $1 AND LOWER(username) = LOWER($2)`, schoolID, strings.TrimSpace(username))
}

// FindByIdentifier matches either the username or the email within a school.
func (r *UserRepository) FindByIdentifier(ctx context.Context, schoolID, identifier string) (*models.User, error) {
	return r.getOne(ctx, nil, "identifier", `school_id = $1 AND (LOWER(username) = LOWER($2) OR LOWER(email) = LOWER($2))`, schoolID, strings.TrimSpace(identifier))
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	return r.getOne(ctx, nil, "id", `id = $1`, id)
}

// CountBySchool returns the number of users registered in a school.
func (r *UserRepository) CountBySchool(ctx context.Context, exec sqlx.ExtContext, schoolID string) (int, error) {
	const query = `SELECT COUNT(*) FROM users WHERE school_id = $1`
	var total int
	if err := sqlx.GetContext(ctx, r.exec(exec), &total, query, schoolID); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return total, nil
}

// Create inserts a new user.
func (r *UserRepository) Create(ctx context.Context, exec sqlx.ExtContext, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	const query = `
INSERT INTO users (id, school_id, username, email, password_hash, full_name, phone, role, permissions, custom_permissions, is_active, student_id, created_at, updated_at)
VALUES (:id, :school_id, :username, :email, :password_hash, :full_name, :phone, :role, :permissions, :custom_permissions, :is_active, :student_id, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// UpdateAccess persists role, permissions and activation state.
func (r *UserRepository) UpdateAccess(ctx context.Context, exec sqlx.ExtContext, user *models.User) error {
	user.UpdatedAt = time.Now().UTC()
	const query = `UPDATE users SET role = :role, permissions = :permissions, custom_permissions = :custom_permissions, is_active = :is_active, updated_at = :updated_at WHERE id = :id`
	result, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, user)
	if err != nil {
		return fmt.Errorf("update user access: %w", err)
	}
	return requireAffected(result, "user access")
}

// RecordLogin stores the issued refresh token and the login timestamp.
func (r *UserRepository) RecordLogin(ctx context.Context, id, refreshToken string, ts time.Time) error {
	const query = `UPDATE users SET refresh_token = $2, last_login = $3, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, refreshToken, ts); err != nil {
		return fmt.Errorf("record login: %w", err)
	}
	return nil
}

// UpdateRefreshToken rotates the stored refresh token.
func (r *UserRepository) UpdateRefreshToken(ctx context.Context, id, refreshToken string) error {
	const query = `UPDATE users SET refresh_token = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, refreshToken, time.Now().UTC()); err != nil {
		return fmt.Errorf("update refresh token: %w", err)
	}
	return nil
}

// RecordLogout clears the refresh token and stamps last_logout.
func (r *UserRepository) RecordLogout(ctx context.Context, id string, ts time.Time) error {
	const query = `UPDATE users SET refresh_token = NULL, last_logout = $2, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, ts); err != nil {
		return fmt.Errorf("record logout: %w", err)
	}
	return nil
}

// UpdatePassword updates the stored password hash and invalidates the session.
func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	const query = `UPDATE users SET password_hash = $2, refresh_token = NULL, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, passwordHash, updatedAt); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// Delete removes a user.
func (r *UserRepository) Delete(ctx context.Context, exec sqlx.ExtContext, id string) error {
	const query = `DELETE FROM users WHERE id = $1`
	result, err := r.exec(exec).ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return requireAffected(result, "delete user")
}

// List returns users of a school based on filters with total count.
func (r *UserRepository) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	baseQuery := `FROM users WHERE school_id = $1`
	args := []interface{}{filter.SchoolID}
	var conditions []string

	if filter.Role != nil {
		conditions = append(conditions, fmt.Sprintf("role = $%d", len(args)+1))
		args = append(args, *filter.Role)
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("is_active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(email) LIKE $%d OR LOWER(full_name) LIKE $%d OR LOWER(username) LIKE $%d)", len(args)+1, len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"email":      true,
		"username":   true,
		"created_at": true,
		"updated_at": true,
		"full_name":  true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "created_at"
	}

	sortOrder := strings.ToUpper(filter.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "DESC"
	}

	page := models.NewPagination(filter.Page, filter.PageSize, 0)
	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", userColumns, baseQuery, sortBy, sortOrder, page.PageSize, page.Offset())

	var users []models.User
	if err := r.db.SelectContext(ctx, &users, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	return users, total, nil
}

// ListPending returns inactive users awaiting approval, oldest first.
func (r *UserRepository) ListPending(ctx context.Context, schoolID string) ([]models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE school_id = $1 AND is_active = FALSE ORDER BY created_at ASC`
	var users []models.User
	if err := r.db.SelectContext(ctx, &users, query, schoolID); err != nil {
		return nil, fmt.Errorf("list pending users: %w", err)
	}
	return users, nil
}

// ListByIDs returns the users of a school with the given identifiers.
func (r *UserRepository) ListByIDs(ctx context.Context, schoolID string, ids []string) ([]models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT `+userColumns+` FROM users WHERE school_id = ? AND id IN (?)`, schoolID, ids)
	if err != nil {
		return nil, fmt.Errorf("build list users by ids: %w", err)
	}
	var users []models.User
	if err := r.db.SelectContext(ctx, &users, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list users by ids: %w", err)
	}
	return users, nil
}

// UserCounts aggregates users of a school for the dashboard.
type UserCounts struct {
	Total   int                 `db:"total"`
	Active  int                 `db:"active"`
	Pending int                 `db:"pending"`
	ByRole  []models.GroupCount `db:"-"`
}

// CountsBySchool returns the user totals of a school.
func (r *UserRepository) CountsBySchool(ctx context.Context, schoolID string) (*UserCounts, error) {
	const totals = `SELECT COUNT(*) AS total, COUNT(*) FILTER (WHERE is_active) AS active, COUNT(*) FILTER (WHERE NOT is_active) AS pending FROM users WHERE school_id = $1`
	var counts UserCounts
	if err := r.db.GetContext(ctx, &counts, totals, schoolID); err != nil {
		return nil, fmt.Errorf("count users by school: %w", err)
	}
	const byRole = `SELECT role AS key, COUNT(*) AS count FROM users WHERE school_id = $1 GROUP BY role ORDER BY role`
	if err := r.db.SelectContext(ctx, &counts.ByRole, byRole, schoolID); err != nil {
		return nil, fmt.Errorf("count users by role: %w", err)
	}
	return &counts, nil
}
