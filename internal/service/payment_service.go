package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-school-api/internal/models"
	appErrors "github.com/noah-isme/sma-school-api/pkg/errors"
)

// amountEpsilon absorbs float rounding when comparing money amounts.
const amountEpsilon = 1e-6

type paymentRepository interface {
	CreateIfAbsent(ctx context.Context, exec sqlx.ExtContext, payment *models.Payment) (bool, error)
	GetForUpdate(ctx context.Context, exec sqlx.ExtContext, schoolID, id string) (*models.Payment, error)
	UpdateBalance(ctx context.Context, exec sqlx.ExtContext, payment *models.Payment) error
	Delete(ctx context.Context, schoolID, id string) error
	List(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentView, int, error)
	ListByStudent(ctx context.Context, schoolID, studentID string) ([]models.PaymentView, error)
	ListOverdue(ctx context.Context, schoolID string, now time.Time) ([]models.PaymentView, error)
	TotalsByStatus(ctx context.Context, schoolID string) ([]models.StatusTotals, error)
	TotalDiscount(ctx context.Context, schoolID string) (float64, error)
}

type paymentFeeSource interface {
	FindByID(ctx context.Context, exec sqlx.ExtContext, schoolID, id string) (*models.Fee, error)
}

type paymentStudentSource interface {
	FindByID(ctx context.Context, exec sqlx.ExtContext, schoolID, id string) (*models.Student, error)
}

// CreatePaymentRequest bills one fee to one student.
type CreatePaymentRequest struct {
	StudentID      string  `json:"student_id" validate:"required"`
	FeeID          string  `json:"fee_id" validate:"required"`
	Discount       float64 `json:"discount" validate:"min=0"`
	DiscountReason *string `json:"discount_reason,omitempty"`
}

// RecordPaymentRequest collects money against a payment record.
type RecordPaymentRequest struct {
	PaymentID     string               `json:"payment_id" validate:"required"`
	Amount        float64              `json:"amount"`
	PaymentMethod models.PaymentMethod `json:"payment_method" validate:"omitempty,oneof=cash transfer card ewallet other"`
	TransactionID *string              `json:"transaction_id,omitempty"`
	Note          *string              `json:"note,omitempty"`
}

// ApplyDiscountRequest sets the discount of a payment record.
type ApplyDiscountRequest struct {
	PaymentID string  `json:"payment_id" validate:"required"`
	Discount  float64 `json:"discount" validate:"min=0"`
	Reason    *string `json:"reason,omitempty"`
}

// BulkCreatePaymentsRequest bills one fee to many students.
type BulkCreatePaymentsRequest struct {
	FeeID          string   `json:"fee_id" validate:"required"`
	StudentIDs     []string `json:"student_ids" validate:"required,min=1"`
	Discount       float64  `json:"discount" validate:"min=0"`
	DiscountReason *string  `json:"discount_reason,omitempty"`
}

// StudentPaymentSummary totals a student's payment records.
type StudentPaymentSummary struct {
	TotalDue       float64 `json:"total_due"`
	TotalPaid      float64 `json:"total_paid"`
	TotalRemaining float64 `json:"total_remaining"`
	UnpaidCount    int     `json:"unpaid_count"`
}

// StudentPaymentStatus is the payment overview of one student.
type StudentPaymentStatus struct {
	Student  *models.Student       `json:"student"`
	Payments []models.PaymentView  `json:"payments"`
	Summary  StudentPaymentSummary `json:"summary"`
}

// PaymentService manages per-student fee balances.
type PaymentService struct {
	repo      paymentRepository
	fees      paymentFeeSource
	students  paymentStudentSource
	classes   scoreClassSource
	tx        txRunner
	cache     *CacheService
	audit     AuditRecorder
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewPaymentService constructs the payment service.
func NewPaymentService(repo paymentRepository, fees paymentFeeSource, students paymentStudentSource, classes scoreClassSource, tx txRunner, cache *CacheService, audit AuditRecorder, validate *validator.Validate, logger *zap.Logger) *PaymentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentService{
		repo:      repo,
		fees:      fees,
		students:  students,
		classes:   classes,
		tx:        tx,
		cache:     cache,
		audit:     audit,
		validator: validate,
		logger:    logger,
		now:       time.Now,
	}
}

// List returns payments matching filter.
func (s *PaymentService) List(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentView, *models.Pagination, error) {
	pagination := models.NewPagination(filter.Page, filter.PageSize, 0)
	filter.Page, filter.PageSize = pagination.Page, pagination.PageSize
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, internal(err, "failed to list payments")
	}
	pagination.TotalCount = total
	return items, pagination, nil
}

// Create bills a fee to a student. The amount due is taken from the fee.
func (s *PaymentService) Create(ctx context.Context, actor models.Actor, req CreatePaymentRequest) (*models.Payment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid payment payload")
	}
	if _, err := s.students.FindByID(ctx, nil, actor.SchoolID, req.StudentID); err != nil {
		return nil, notFoundOr(err, appErrors.ErrNotFound, "student not found", "failed to load student")
	}
	fee, err := s.fees.FindByID(ctx, nil, actor.SchoolID, req.FeeID)
	if err != nil {
		return nil, notFoundOr(err, appErrors.ErrNotFound, "fee not found", "failed to load fee")
	}
	if req.Discount > fee.Amount+amountEpsilon {
		return nil, appErrors.Clone(appErrors.ErrValidation, "discount cannot exceed the amount due")
	}

	payment := s.newPayment(actor.SchoolID, req.StudentID, fee, req.Discount, req.DiscountReason)
	created, err := s.repo.CreateIfAbsent(ctx, nil, payment)
	if err != nil {
		return nil, internal(err, "failed to create payment")
	}
	if !created {
		return nil, appErrors.ErrPaymentExists
	}

	s.cache.InvalidateSchoolMetrics(ctx, actor.SchoolID)
	recordAudit(ctx, s.audit, AuditEvent{Actor: actor, Action: models.AuditActionPaymentCreate, ResourceType: "payment", ResourceID: payment.ID, NewData: payment})
	return payment, nil
}

// BulkCreate bills a fee to every eligible student of the list. Students
// that are not studying, not covered by the fee or already billed are skipped.
func (s *PaymentService) BulkCreate(ctx context.Context, actor models.Actor, req BulkCreatePaymentsRequest) (*models.BulkPaymentResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid bulk payment payload")
	}
	fee, err := s.fees.FindByID(ctx, nil, actor.SchoolID, req.FeeID)
	if err != nil {
		return nil, notFoundOr(err, appErrors.ErrNotFound, "fee not found", "failed to load fee")
	}
	if !fee.IsActive {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "fee not found")
	}
	if req.Discount > fee.Amount+amountEpsilon {
		return nil, appErrors.Clone(appErrors.ErrValidation, "discount cannot exceed the amount due")
	}

	var result models.BulkPaymentResult
	err = s.tx.WithTransaction(ctx, "payment.bulk_create", func(tx *sqlx.Tx) error {
		result = models.BulkPaymentResult{}
		seen := make(map[string]bool, len(req.StudentIDs))
		classes := map[string]*models.Class{}
		for _, studentID := range req.StudentIDs {
			if seen[studentID] {
				continue
			}
			seen[studentID] = true

			eligible, err := s.eligible(ctx, tx, actor.SchoolID, studentID, fee, classes)
			if err != nil {
				return err
			}
			if !eligible {
				result.Skipped++
				continue
			}
			created, err := s.repo.CreateIfAbsent(ctx, tx, s.newPayment(actor.SchoolID, studentID, fee, req.Discount, req.DiscountReason))
			if err != nil {
				return internal(err, "failed to create payment")
			}
			if created {
				result.Created++
			} else {
				result.Skipped++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Created > 0 {
		s.cache.InvalidateSchoolMetrics(ctx, actor.SchoolID)
	}
	recordAudit(ctx, s.audit, AuditEvent{
		Actor:        actor,
		Action:       models.AuditActionPaymentBulkCreate,
		ResourceType: "payment",
		Metadata:     map[string]interface{}{"fee_id": fee.ID, "created": result.Created, "skipped": result.Skipped},
	})
	return &result, nil
}

// Record adds a collected amount to a payment. The row stays locked until
// commit so concurrent collections cannot overshoot the balance.
func (s *PaymentService) Record(ctx context.Context, actor models.Actor, req RecordPaymentRequest) (*models.Payment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid payment payload")
	}
	if req.Amount <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "payment amount must be positive")
	}

	var before, payment *models.Payment
	err := s.tx.WithTransaction(ctx, "payment.record", func(tx *sqlx.Tx) error {
		current, err := s.repo.GetForUpdate(ctx, tx, actor.SchoolID, req.PaymentID)
		if err != nil {
			return notFoundOr(err, appErrors.ErrNotFound, "payment not found", "failed to load payment")
		}
		snapshot := *current
		before = &snapshot

		if current.AmountPaid+req.Amount > current.AmountDue-current.Discount+amountEpsilon {
			return appErrors.Clone(appErrors.ErrPaymentExceeds, fmt.Sprintf("payment exceeds remaining balance of %.2f", current.AmountRemaining()))
		}
		current.AmountPaid += req.Amount
		if req.PaymentMethod != "" {
			method := req.PaymentMethod
			current.PaymentMethod = &method
		}
		current.TransactionID = req.TransactionID
		current.Note = req.Note
		current.CollectedBy = optionalString(actor.UserID)
		current.Recompute(s.now().UTC())

		if err := s.repo.UpdateBalance(ctx, tx, current); err != nil {
			return notFoundOr(err, appErrors.ErrNotFound, "payment not found", "failed to update payment")
		}
		payment = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.InvalidateSchoolMetrics(ctx, actor.SchoolID)
	recordAudit(ctx, s.audit, AuditEvent{
		Actor:        actor,
		Action:       models.AuditActionPaymentRecord,
		ResourceType: "payment",
		ResourceID:   payment.ID,
		OldData:      before,
		NewData:      payment,
		Metadata:     map[string]interface{}{"amount": req.Amount},
	})
	return payment, nil
}

// ApplyDiscount replaces the discount of a payment and re-derives its status.
func (s *PaymentService) ApplyDiscount(ctx context.Context, actor models.Actor, req ApplyDiscountRequest) (*models.Payment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid discount payload")
	}

	var before, payment *models.Payment
	err := s.tx.WithTransaction(ctx, "payment.discount", func(tx *sqlx.Tx) error {
		current, err := s.repo.GetForUpdate(ctx, tx, actor.SchoolID, req.PaymentID)
		if err != nil {
			return notFoundOr(err, appErrors.ErrNotFound, "payment not found", "failed to load payment")
		}
		if req.Discount > current.AmountDue+amountEpsilon {
			return appErrors.Clone(appErrors.ErrValidation, "discount cannot exceed the amount due")
		}
		if current.AmountPaid > current.AmountDue-req.Discount+amountEpsilon {
			return appErrors.Clone(appErrors.ErrValidation, "discount would leave the payment overpaid")
		}
		snapshot := *current
		before = &snapshot

		current.Discount = req.Discount
		current.DiscountReason = req.Reason
		current.Recompute(s.now().UTC())
		if err := s.repo.UpdateBalance(ctx, tx, current); err != nil {
			return notFoundOr(err, appErrors.ErrNotFound, "payment not found", "failed to update payment")
		}
		payment = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.InvalidateSchoolMetrics(ctx, actor.SchoolID)
	recordAudit(ctx, s.audit, AuditEvent{Actor: actor, Action: models.AuditActionPaymentDiscount, ResourceType: "payment", ResourceID: payment.ID, OldData: before, NewData: payment})
	return payment, nil
}

// Delete removes a payment record.
func (s *PaymentService) Delete(ctx context.Context, actor models.Actor, id string) error {
	if err := s.repo.Delete(ctx, actor.SchoolID, id); err != nil {
		return notFoundOr(err, appErrors.ErrNotFound, "payment not found", "failed to delete payment")
	}
	s.cache.InvalidateSchoolMetrics(ctx, actor.SchoolID)
	recordAudit(ctx, s.audit, AuditEvent{Actor: actor, Action: models.AuditActionPaymentDelete, ResourceType: "payment", ResourceID: id})
	return nil
}

// StudentStatus lists a student's payments with their totals.
func (s *PaymentService) StudentStatus(ctx context.Context, schoolID, studentID string) (*StudentPaymentStatus, error) {
	student, err := s.students.FindByID(ctx, nil, schoolID, studentID)
	if err != nil {
		return nil, notFoundOr(err, appErrors.ErrNotFound, "student not found", "failed to load student")
	}
	payments, err := s.repo.ListByStudent(ctx, schoolID, studentID)
	if err != nil {
		return nil, internal(err, "failed to list student payments")
	}
	status := &StudentPaymentStatus{Student: student, Payments: payments}
	if status.Payments == nil {
		status.Payments = []models.PaymentView{}
	}
	for i := range payments {
		p := &payments[i].Payment
		status.Summary.TotalDue += p.AmountDue - p.Discount
		status.Summary.TotalPaid += p.AmountPaid
		status.Summary.TotalRemaining += p.AmountRemaining()
		if p.Status != models.PaymentPaid {
			status.Summary.UnpaidCount++
		}
	}
	return status, nil
}

// Overdue lists unsettled payments whose fee is past its due date.
func (s *PaymentService) Overdue(ctx context.Context, schoolID string) ([]models.PaymentView, error) {
	items, err := s.repo.ListOverdue(ctx, schoolID, s.now().UTC())
	if err != nil {
		return nil, internal(err, "failed to list overdue payments")
	}
	if items == nil {
		items = []models.PaymentView{}
	}
	return items, nil
}

// Statistics totals the school's payments.
func (s *PaymentService) Statistics(ctx context.Context, schoolID string) (*models.FinancialStatistics, error) {
	totals, err := s.repo.TotalsByStatus(ctx, schoolID)
	if err != nil {
		return nil, internal(err, "failed to load payment totals")
	}
	discount, err := s.repo.TotalDiscount(ctx, schoolID)
	if err != nil {
		return nil, internal(err, "failed to load payment discounts")
	}
	stats := &models.FinancialStatistics{TotalDiscount: discount, ByStatus: totals}
	for _, t := range totals {
		stats.TotalDue += t.AmountDue
		stats.TotalPaid += t.AmountPaid
	}
	stats.TotalRemaining = math.Max(0, stats.TotalDue-stats.TotalDiscount-stats.TotalPaid)
	if billable := stats.TotalDue - stats.TotalDiscount; billable > 0 {
		stats.CollectionRate = math.Round(stats.TotalPaid/billable*1000) / 10
	}
	return stats, nil
}

func (s *PaymentService) newPayment(schoolID, studentID string, fee *models.Fee, discount float64, reason *string) *models.Payment {
	payment := &models.Payment{
		SchoolID:       schoolID,
		StudentID:      studentID,
		FeeID:          fee.ID,
		AmountDue:      fee.Amount,
		Discount:       discount,
		DiscountReason: reason,
	}
	payment.Recompute(s.now().UTC())
	return payment
}

func (s *PaymentService) eligible(ctx context.Context, tx sqlx.ExtContext, schoolID, studentID string, fee *models.Fee, classes map[string]*models.Class) (bool, error) {
	student, err := s.students.FindByID(ctx, tx, schoolID, studentID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, internal(err, "failed to load student")
	}
	if student.Status != models.StudentStatusStudying {
		return false, nil
	}

	var class *models.Class
	if classID := stringValue(student.ClassID); classID != "" {
		class = classes[classID]
		if class == nil {
			class, err = s.classes.FindByID(ctx, tx, schoolID, classID)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return false, internal(err, "failed to load class")
			}
			classes[classID] = class
		}
	}
	return FeeAppliesToStudent(fee, class), nil
}
