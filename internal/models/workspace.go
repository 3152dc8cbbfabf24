package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// WorkspaceType distinguishes hierarchy levels.
type WorkspaceType string

const (
	WorkspaceTypeSchool WorkspaceType = "school"
	WorkspaceTypeClass  WorkspaceType = "class"
)

// WorkspaceStatus mirrors the lifecycle of the linked entity.
type WorkspaceStatus string

const (
	WorkspaceStatusActive   WorkspaceStatus = "active"
	WorkspaceStatusInactive WorkspaceStatus = "inactive"
	WorkspaceStatusArchived WorkspaceStatus = "archived"
)

// Workspace is a node in the school to class identifier tree. There is at
// most one workspace per (school_id, type, linked_entity_id).
type Workspace struct {
	ID                string          `db:"id" json:"id"`
	SchoolID          string          `db:"school_id" json:"school_id"`
	Type              WorkspaceType   `db:"type" json:"type"`
	ParentWorkspaceID *string         `db:"parent_workspace_id" json:"parent_workspace_id,omitempty"`
	LinkedEntityID    string          `db:"linked_entity_id" json:"linked_entity_id"`
	Name              string          `db:"name" json:"name"`
	Code              string          `db:"code" json:"code"`
	Path              string          `db:"path" json:"path"`
	Metadata          types.JSONText  `db:"metadata" json:"metadata"`
	Status            WorkspaceStatus `db:"status" json:"status"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// WorkspaceRef is the denormalized pointer stored on schools and classes.
type WorkspaceRef struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Path string `json:"path"`
}
