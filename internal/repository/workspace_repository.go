package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/noah-isme/sma-school-api/internal/models"
)

const workspaceColumns = `id, school_id, type, parent_workspace_id, linked_entity_id, name, code, path, metadata, status, created_at, updated_at`

// WorkspaceRepository persists the school and class workspace tree.
type WorkspaceRepository struct {
	db *sqlx.DB
}

// NewWorkspaceRepository constructs the repository.
func NewWorkspaceRepository(db *sqlx.DB) *WorkspaceRepository {
	return &WorkspaceRepository{db: db}
}

func (r *WorkspaceRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Upsert inserts or refreshes the workspace keyed by (school_id, type,
// linked_entity_id). The stored id is kept on conflict and written back to ws.
func (r *WorkspaceRepository) Upsert(ctx context.Context, exec sqlx.ExtContext, ws *models.Workspace) error {
	if ws.ID == "" {
		ws.ID = uuid.NewString()
	}
	if len(ws.Metadata) == 0 {
		ws.Metadata = types.JSONText(`{}`)
	}
	now := time.Now().UTC()
	if ws.CreatedAt.IsZero() {
		ws.CreatedAt = now
	}
	ws.UpdatedAt = now

	const query = `
INSERT INTO workspaces (id, school_id, type, parent_workspace_id, linked_entity_id, name, code, path, metadata, status, created_at, updated_at)
VALUES (:id, :school_id, :type, :parent_workspace_id, :linked_entity_id, :name, :code, :path, :metadata, :status, :created_at, :updated_at)
ON CONFLICT (school_id, type, linked_entity_id) DO UPDATE SET
	parent_workspace_id = EXCLUDED.parent_workspace_id,
	name = EXCLUDED.name,
	code = EXCLUDED.code,
	path = EXCLUDED.path,
	metadata = EXCLUDED.metadata,
	status = EXCLUDED.status,
	updated_at = EXCLUDED.updated_at
RETURNING id, created_at`
	target := r.exec(exec)
	bound, args, err := target.BindNamed(query, ws)
	if err != nil {
		return fmt.Errorf("bind workspace upsert: %w", err)
	}
	var stored struct {
		ID        string    `db:"id"`
		CreatedAt time.Time `db:"created_at"`
	}
	if err := sqlx.GetContext(ctx, target, &stored, bound, args...); err != nil {
		return fmt.Errorf("upsert workspace: %w", err)
	}
	ws.ID = stored.ID
	ws.CreatedAt = stored.CreatedAt
	return nil
}

// FindByEntity returns the workspace linked to an entity.
func (r *WorkspaceRepository) FindByEntity(ctx context.Context, exec sqlx.ExtContext, schoolID string, wsType models.WorkspaceType, entityID string) (*models.Workspace, error) {
	query := `SELECT ` + workspaceColumns + ` FROM workspaces WHERE school_id = $1 AND type = $2 AND linked_entity_id = $3`
	var ws models.Workspace
	if err := sqlx.GetContext(ctx, r.exec(exec), &ws, query, schoolID, wsType, entityID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find workspace: %w", err)
	}
	return &ws, nil
}

// DeleteByEntity removes a single workspace node.
func (r *WorkspaceRepository) DeleteByEntity(ctx context.Context, exec sqlx.ExtContext, schoolID string, wsType models.WorkspaceType, entityID string) error {
	const query = `DELETE FROM workspaces WHERE school_id = $1 AND type = $2 AND linked_entity_id = $3`
	if _, err := r.exec(exec).ExecContext(ctx, query, schoolID, wsType, entityID); err != nil {
		return fmt.Errorf("delete workspace: %w", err)
	}
	return nil
}

// ListBySchool returns every workspace of a school ordered by path.
func (r *WorkspaceRepository) ListBySchool(ctx context.Context, schoolID string) ([]models.Workspace, error) {
	query := `SELECT ` + workspaceColumns + ` FROM workspaces WHERE school_id = $1 ORDER BY path`
	var items []models.Workspace
	if err := r.db.SelectContext(ctx, &items, query, schoolID); err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	return items, nil
}
