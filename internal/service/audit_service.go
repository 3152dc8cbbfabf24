package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-school-api/internal/models"
	"github.com/noah-isme/sma-school-api/pkg/jobs"
)

const auditJobType = "audit.write"

type auditRepository interface {
	Create(ctx context.Context, entry *models.AuditLog) error
	List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, int, error)
}

type auditQueue interface {
	TryEnqueue(job jobs.Job) error
}

// AuditRecorder is the write side of the audit trail used by other services.
type AuditRecorder interface {
	Record(ctx context.Context, entry *models.AuditLog)
}

// AuditEvent describes one audited operation before it is persisted.
type AuditEvent struct {
	Actor        models.Actor
	Action       string
	ResourceType string
	ResourceID   string
	OldData      interface{}
	NewData      interface{}
	Metadata     map[string]interface{}
	Err          error
}

// AuditService persists audit entries off the request path. Failures are
// logged and counted, never returned to the caller.
type AuditService struct {
	repo    auditRepository
	queue   auditQueue
	metrics *MetricsService
	logger  *zap.Logger
	timeout time.Duration
}

// NewAuditService constructs the audit sink. A nil queue persists entries
// synchronously on a detached context.
func NewAuditService(repo auditRepository, queue auditQueue, metrics *MetricsService, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{repo: repo, queue: queue, metrics: metrics, logger: logger, timeout: 5 * time.Second}
}

// AttachQueue sets the queue used for asynchronous writes.
func (s *AuditService) AttachQueue(queue auditQueue) {
	s.queue = queue
}

// HandleJob is the jobs.Handler persisting queued entries.
func (s *AuditService) HandleJob(ctx context.Context, job jobs.Job) error {
	entry, ok := job.Payload.(*models.AuditLog)
	if !ok || entry == nil {
		s.logger.Warn("discarding malformed audit job", zap.String("job_id", job.ID))
		return nil
	}
	return s.persist(ctx, entry)
}

// GiveUp counts a queued entry the worker pool could not persist.
func (s *AuditService) GiveUp(job jobs.Job, err error) {
	if entry, ok := job.Payload.(*models.AuditLog); ok && entry != nil {
		s.drop(entry, err)
	}
}

// Record queues entry for persistence and returns immediately.
func (s *AuditService) Record(ctx context.Context, entry *models.AuditLog) {
	if s == nil || entry == nil {
		return
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if s.queue != nil {
		err := s.queue.TryEnqueue(jobs.Job{ID: entry.ID, Type: auditJobType, Payload: entry})
		if err == nil {
			return
		}
		s.drop(entry, err)
		return
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	if err := s.persist(writeCtx, entry); err != nil {
		s.drop(entry, err)
	}
}

// Log builds an entry from event and records it.
func (s *AuditService) Log(ctx context.Context, event AuditEvent) {
	if s == nil {
		return
	}
	s.Record(ctx, newAuditEntry(event))
}

// List returns audit entries of a school.
func (s *AuditService) List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, *models.Pagination, error) {
	pagination := models.NewPagination(filter.Page, filter.PageSize, 0)
	filter.Page, filter.PageSize = pagination.Page, pagination.PageSize
	logs, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, internal(err, "failed to list audit logs")
	}
	pagination.TotalCount = total
	return logs, pagination, nil
}

// ListForUser returns the entries performed by one user of the school.
func (s *AuditService) ListForUser(ctx context.Context, schoolID, userID string, page, pageSize int) ([]models.AuditLog, *models.Pagination, error) {
	return s.List(ctx, models.AuditFilter{SchoolID: schoolID, UserID: userID, Page: page, PageSize: pageSize})
}

// PermissionChanges returns role and permission changes of the school.
func (s *AuditService) PermissionChanges(ctx context.Context, schoolID string, page, pageSize int) ([]models.AuditLog, *models.Pagination, error) {
	return s.List(ctx, models.AuditFilter{SchoolID: schoolID, Actions: models.PermissionAuditActions, Page: page, PageSize: pageSize})
}

func (s *AuditService) persist(ctx context.Context, entry *models.AuditLog) error {
	return s.repo.Create(ctx, entry)
}

func (s *AuditService) drop(entry *models.AuditLog, err error) {
	s.metrics.RecordAuditDropped()
	s.logger.Warn("audit entry dropped",
		zap.String("action", entry.Action),
		zap.String("resource_type", entry.ResourceType),
		zap.Error(err),
	)
}

func recordAudit(ctx context.Context, rec AuditRecorder, event AuditEvent) {
	if rec == nil {
		return
	}
	rec.Record(ctx, newAuditEntry(event))
}

func newAuditEntry(event AuditEvent) *models.AuditLog {
	entry := &models.AuditLog{
		Action:       event.Action,
		ResourceType: event.ResourceType,
		ResourceID:   optionalString(event.ResourceID),
		SchoolID:     optionalString(event.Actor.SchoolID),
		UserID:       optionalString(event.Actor.UserID),
		UserEmail:    optionalString(event.Actor.Email),
		UserRole:     optionalString(string(event.Actor.Role)),
		IPAddress:    event.Actor.Meta.IP,
		UserAgent:    event.Actor.Meta.UserAgent,
		OldData:      toJSONText(event.OldData),
		NewData:      toJSONText(event.NewData),
		Status:       models.AuditStatusSuccess,
	}
	if len(event.Metadata) > 0 {
		entry.Metadata = toJSONText(event.Metadata)
	}
	if event.Err != nil {
		entry.Status = models.AuditStatusFailure
		msg := event.Err.Error()
		entry.ErrorMessage = &msg
	}
	return entry
}

func toJSONText(v interface{}) types.JSONText {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return types.JSONText(data)
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
