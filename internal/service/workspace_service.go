package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-school-api/internal/models"
)

var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9]`)

const (
	schoolWorkspacePrefix = "SCH"
	classWorkspacePrefix  = "CLS"
	workspacePathSep      = "::"
)

type workspaceRepository interface {
	Upsert(ctx context.Context, exec sqlx.ExtContext, ws *models.Workspace) error
	FindByEntity(ctx context.Context, exec sqlx.ExtContext, schoolID string, wsType models.WorkspaceType, entityID string) (*models.Workspace, error)
	DeleteByEntity(ctx context.Context, exec sqlx.ExtContext, schoolID string, wsType models.WorkspaceType, entityID string) error
	ListBySchool(ctx context.Context, schoolID string) ([]models.Workspace, error)
}

type workspaceSchoolStore interface {
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.School, error)
	SetWorkspace(ctx context.Context, exec sqlx.ExtContext, id string, ref models.WorkspaceRef) error
}

type workspaceClassStore interface {
	SetWorkspace(ctx context.Context, exec sqlx.ExtContext, id string, ref models.WorkspaceRef) error
}

// BuildCode derives a workspace code from an identifier, e.g. ("CLS",
// "10-a1") becomes "CLS-10A1". An identifier without alphanumerics falls back
// to a random six character suffix.
func BuildCode(prefix, identifier string) string {
	sanitized := nonAlphanumeric.ReplaceAllString(identifier, "")
	if sanitized == "" {
		sanitized = randomSuffix()
	}
	return prefix + "-" + strings.ToUpper(sanitized)
}

// SchoolWorkspacePath is the root path of a school's tree.
func SchoolWorkspacePath(schoolID string) string {
	return "school:" + schoolID
}

// ClassWorkspacePath nests a class under its school path.
func ClassWorkspacePath(schoolPath, classID string) string {
	return strings.Join([]string{schoolPath, "class:" + classID}, workspacePathSep)
}

// ClassWorkspaceStatus maps the class lifecycle onto workspace status.
func ClassWorkspaceStatus(status models.ClassStatus) models.WorkspaceStatus {
	switch status {
	case models.ClassStatusActive:
		return models.WorkspaceStatusActive
	case models.ClassStatusEnded:
		return models.WorkspaceStatusArchived
	default:
		return models.WorkspaceStatusInactive
	}
}

// WorkspaceService keeps the school and class workspace tree in step with
// the entities it mirrors. Every method takes the caller's executor so the
// writes join the surrounding transaction.
type WorkspaceService struct {
	repo    workspaceRepository
	schools workspaceSchoolStore
	classes workspaceClassStore
	logger  *zap.Logger
}

// NewWorkspaceService constructs the registry.
func NewWorkspaceService(repo workspaceRepository, schools workspaceSchoolStore, classes workspaceClassStore, logger *zap.Logger) *WorkspaceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkspaceService{repo: repo, schools: schools, classes: classes, logger: logger}
}

// EnsureSchoolWorkspace upserts the root workspace of a school and records
// it on the school row.
func (s *WorkspaceService) EnsureSchoolWorkspace(ctx context.Context, q sqlx.ExtContext, school *models.School) (*models.Workspace, error) {
	identifier := school.SchoolCode
	if identifier == "" {
		identifier = school.SchoolName
	}
	status := models.WorkspaceStatusInactive
	if school.IsActive {
		status = models.WorkspaceStatusActive
	}
	ws := &models.Workspace{
		SchoolID:       school.ID,
		Type:           models.WorkspaceTypeSchool,
		LinkedEntityID: school.ID,
		Name:           school.SchoolName,
		Code:           BuildCode(schoolWorkspacePrefix, identifier),
		Path:           SchoolWorkspacePath(school.ID),
		Metadata: metadataJSON(map[string]interface{}{
			"schoolCode": school.SchoolCode,
			"plan":       school.SubscriptionPlan,
			"timezone":   school.Settings.Timezone,
		}),
		Status: status,
	}
	if err := s.repo.Upsert(ctx, q, ws); err != nil {
		return nil, fmt.Errorf("ensure school workspace: %w", err)
	}

	ref := models.WorkspaceRef{ID: ws.ID, Code: ws.Code, Path: ws.Path}
	if !sameRef(school.WorkspaceID, school.WorkspaceCode, school.WorkspacePath, ref) {
		if err := s.schools.SetWorkspace(ctx, q, school.ID, ref); err != nil {
			return nil, fmt.Errorf("link school workspace: %w", err)
		}
		school.WorkspaceID, school.WorkspaceCode, school.WorkspacePath = &ref.ID, &ref.Code, &ref.Path
	}
	return ws, nil
}

// SyncClassWorkspace upserts the class node under its school workspace,
// regenerating code, path and metadata, and records it on the class row.
func (s *WorkspaceService) SyncClassWorkspace(ctx context.Context, q sqlx.ExtContext, class *models.Class) (*models.Workspace, error) {
	school, err := s.schools.FindByID(ctx, q, class.SchoolID)
	if err != nil {
		return nil, fmt.Errorf("load school for class workspace: %w", err)
	}
	parent, err := s.EnsureSchoolWorkspace(ctx, q, school)
	if err != nil {
		return nil, err
	}

	identifier := class.ClassCode
	if identifier == "" {
		identifier = class.ClassName
	}
	classroom := ""
	if class.Classroom != nil {
		classroom = *class.Classroom
	}
	ws := &models.Workspace{
		SchoolID:          class.SchoolID,
		Type:              models.WorkspaceTypeClass,
		ParentWorkspaceID: &parent.ID,
		LinkedEntityID:    class.ID,
		Name:              class.ClassName,
		Code:              BuildCode(classWorkspacePrefix, identifier),
		Path:              ClassWorkspacePath(parent.Path, class.ID),
		Metadata: metadataJSON(map[string]interface{}{
			"grade":        class.Grade,
			"academicYear": class.AcademicYear,
			"capacity":     class.Capacity,
			"classroom":    classroom,
		}),
		Status: ClassWorkspaceStatus(class.Status),
	}
	if err := s.repo.Upsert(ctx, q, ws); err != nil {
		return nil, fmt.Errorf("sync class workspace: %w", err)
	}

	ref := models.WorkspaceRef{ID: ws.ID, Code: ws.Code, Path: ws.Path}
	if !sameRef(class.WorkspaceID, class.WorkspaceCode, class.WorkspacePath, ref) {
		if err := s.classes.SetWorkspace(ctx, q, class.ID, ref); err != nil {
			return nil, fmt.Errorf("link class workspace: %w", err)
		}
		class.WorkspaceID, class.WorkspaceCode, class.WorkspacePath = &ref.ID, &ref.Code, &ref.Path
	}
	return ws, nil
}

// RemoveClassWorkspace deletes the class node only.
func (s *WorkspaceService) RemoveClassWorkspace(ctx context.Context, q sqlx.ExtContext, schoolID, classID string) error {
	if err := s.repo.DeleteByEntity(ctx, q, schoolID, models.WorkspaceTypeClass, classID); err != nil {
		return fmt.Errorf("remove class workspace: %w", err)
	}
	return nil
}

// EnsureClassWorkspaceID returns the recorded workspace id of the class,
// syncing the node first when none is recorded.
func (s *WorkspaceService) EnsureClassWorkspaceID(ctx context.Context, q sqlx.ExtContext, class *models.Class) (string, error) {
	if class.WorkspaceID != nil && *class.WorkspaceID != "" {
		return *class.WorkspaceID, nil
	}
	ws, err := s.SyncClassWorkspace(ctx, q, class)
	if err != nil {
		return "", err
	}
	return ws.ID, nil
}

// Tree lists the workspace nodes of a school ordered by path.
func (s *WorkspaceService) Tree(ctx context.Context, schoolID string) ([]models.Workspace, error) {
	items, err := s.repo.ListBySchool(ctx, schoolID)
	if err != nil {
		return nil, internal(err, "failed to list workspaces")
	}
	return items, nil
}

func sameRef(id, code, path *string, ref models.WorkspaceRef) bool {
	return id != nil && code != nil && path != nil && *id == ref.ID && *code == ref.Code && *path == ref.Path
}

func metadataJSON(values map[string]interface{}) types.JSONText {
	data, err := json.Marshal(values)
	if err != nil {
		return types.JSONText(`{}`)
	}
	return types.JSONText(data)
}

func randomSuffix() string {
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return "000000"
	}
	return hex.EncodeToString(buf)
}
