package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-school-api/internal/models"
	"github.com/noah-isme/sma-school-api/internal/service"
	"github.com/noah-isme/sma-school-api/pkg/response"
)

type paymentService interface {
	List(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentView, *models.Pagination, error)
	Create(ctx context.Context, actor models.Actor, req service.CreatePaymentRequest) (*models.Payment, error)
	BulkCreate(ctx context.Context, actor models.Actor, req service.BulkCreatePaymentsRequest) (*models.BulkPaymentResult, error)
	Record(ctx context.Context, actor models.Actor, req service.RecordPaymentRequest) (*models.Payment, error)
	ApplyDiscount(ctx context.Context, actor models.Actor, req service.ApplyDiscountRequest) (*models.Payment, error)
	Delete(ctx context.Context, actor models.Actor, id string) error
	StudentStatus(ctx context.Context, schoolID, studentID string) (*service.StudentPaymentStatus, error)
	Overdue(ctx context.Context, schoolID string) ([]models.PaymentView, error)
	Statistics(ctx context.Context, schoolID string) (*models.FinancialStatistics, error)
}

// PaymentHandler exposes payment ledger endpoints.
type PaymentHandler struct {
	service paymentService
}

// NewPaymentHandler constructs PaymentHandler.
func NewPaymentHandler(svc paymentService) *PaymentHandler {
	return &PaymentHandler{service: svc}
}

// List godoc
// @Summary List payments
// @Tags Payments
// @Security BearerAuth
// @Produce json
// @Param studentId query string false "Student"
// @Param feeId query string false "Fee"
// @Param classId query string false "Class"
// @Param status query string false "unpaid, partial or paid"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /payments [get]
func (h *PaymentHandler) List(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	filter := models.PaymentFilter{
		SchoolID:  actor.SchoolID,
		StudentID: strings.TrimSpace(c.Query("studentId")),
		FeeID:     strings.TrimSpace(c.Query("feeId")),
		ClassID:   strings.TrimSpace(c.Query("classId")),
		Status:    models.PaymentStatus(strings.TrimSpace(c.Query("status"))),
	}
	filter.Page, filter.PageSize = pageParams(c)

	payments, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payments, pagination)
}

// Create godoc
// @Summary Create payment record for a student and fee
// @Tags Payments
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param payload body service.CreatePaymentRequest true "Payment record"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /payments/create [post]
func (h *PaymentHandler) Create(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req service.CreatePaymentRequest
	if !bindJSON(c, &req) {
		return
	}
	payment, err := h.service.Create(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, payment)
}

// BulkCreate godoc
// @Summary Create payment records for many students
// @Tags Payments
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param payload body service.BulkCreatePaymentsRequest true "Fee and students"
// @Success 200 {object} response.Envelope
// @Router /payments/bulk-create [post]
func (h *PaymentHandler) BulkCreate(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req service.BulkCreatePaymentsRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.service.BulkCreate(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}

// Record godoc
// @Summary Record an instalment
// @Tags Payments
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param payload body service.RecordPaymentRequest true "Instalment"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /payments/record [post]
func (h *PaymentHandler) Record(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req service.RecordPaymentRequest
	if !bindJSON(c, &req) {
		return
	}
	payment, err := h.service.Record(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, payment)
}

// ApplyDiscount godoc
// @Summary Apply a discount
// @Tags Payments
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param payload body service.ApplyDiscountRequest true "Discount"
// @Success 200 {object} response.Envelope
// @Router /payments/apply-discount [post]
func (h *PaymentHandler) ApplyDiscount(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req service.ApplyDiscountRequest
	if !bindJSON(c, &req) {
		return
	}
	payment, err := h.service.ApplyDiscount(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, payment)
}

// Delete godoc
// @Summary Delete payment record
// @Tags Payments
// @Security BearerAuth
// @Param id path string true "Payment ID"
// @Success 204
// @Router /payments/{id} [delete]
func (h *PaymentHandler) Delete(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// StudentStatus godoc
// @Summary Payment status of a student
// @Tags Payments
// @Security BearerAuth
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /payments/student/{id} [get]
func (h *PaymentHandler) StudentStatus(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	status, err := h.service.StudentStatus(c.Request.Context(), actor.SchoolID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, status)
}

// Overdue godoc
// @Summary Overdue payments
// @Tags Payments
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /payments/overdue [get]
func (h *PaymentHandler) Overdue(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	rows, err := h.service.Overdue(c.Request.Context(), actor.SchoolID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, rows)
}

// Statistics godoc
// @Summary Financial statistics
// @Tags Payments
// @Security BearerAuth
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /payments/statistics [get]
func (h *PaymentHandler) Statistics(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	stats, err := h.service.Statistics(c.Request.Context(), actor.SchoolID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, stats)
}
