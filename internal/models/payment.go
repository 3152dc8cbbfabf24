package models

import (
	"math"
	"time"
)

// FeeAppliesTo restricts the students a fee is billed to.
type FeeAppliesTo string

const (
	FeeAppliesAll     FeeAppliesTo = "all"
	FeeAppliesGrade10 FeeAppliesTo = "grade10"
	FeeAppliesGrade11 FeeAppliesTo = "grade11"
	FeeAppliesGrade12 FeeAppliesTo = "grade12"
	FeeAppliesClass   FeeAppliesTo = "class"
)

// Fee is a billable item.
type Fee struct {
	ID           string       `db:"id" json:"id"`
	SchoolID     string       `db:"school_id" json:"school_id"`
	FeeName      string       `db:"fee_name" json:"fee_name"`
	FeeType      string       `db:"fee_type" json:"fee_type"`
	Amount       float64      `db:"amount" json:"amount"`
	AppliesTo    FeeAppliesTo `db:"applies_to" json:"applies_to"`
	ClassID      *string      `db:"class_id" json:"class_id,omitempty"`
	AcademicYear string       `db:"academic_year" json:"academic_year"`
	Semester     *int         `db:"semester" json:"semester,omitempty"`
	DueDate      *time.Time   `db:"due_date" json:"due_date,omitempty"`
	Description  *string      `db:"description" json:"description,omitempty"`
	IsActive     bool         `db:"is_active" json:"is_active"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at" json:"updated_at"`
}

// FeeFilter defines filter criteria for listing fees.
type FeeFilter struct {
	SchoolID     string
	AcademicYear string
	Semester     int
	FeeType      string
	Active       *bool
	Page         int
	PageSize     int
}

// PaymentStatus is derived from the amounts and never set by clients.
type PaymentStatus string

const (
	PaymentUnpaid  PaymentStatus = "unpaid"
	PaymentPartial PaymentStatus = "partial"
	PaymentPaid    PaymentStatus = "paid"
)

// PaymentMethod enumerates accepted payment channels.
type PaymentMethod string

const (
	MethodCash     PaymentMethod = "cash"
	MethodTransfer PaymentMethod = "transfer"
	MethodCard     PaymentMethod = "card"
	MethodEWallet  PaymentMethod = "ewallet"
	MethodOther    PaymentMethod = "other"
)

// DerivePaymentStatus is the pure status function over the three amounts.
func DerivePaymentStatus(amountDue, discount, amountPaid float64) PaymentStatus {
	switch {
	case amountPaid <= 0:
		return PaymentUnpaid
	case amountPaid >= amountDue-discount:
		return PaymentPaid
	default:
		return PaymentPartial
	}
}

// Payment is unique by (student, fee) and always satisfies
// AmountPaid <= AmountDue - Discount.
type Payment struct {
	ID             string         `db:"id" json:"id"`
	SchoolID       string         `db:"school_id" json:"school_id"`
	StudentID      string         `db:"student_id" json:"student_id"`
	FeeID          string         `db:"fee_id" json:"fee_id"`
	AmountDue      float64        `db:"amount_due" json:"amount_due"`
	AmountPaid     float64        `db:"amount_paid" json:"amount_paid"`
	Discount       float64        `db:"discount" json:"discount"`
	DiscountReason *string        `db:"discount_reason" json:"discount_reason,omitempty"`
	Status         PaymentStatus  `db:"status" json:"status"`
	PaidDate       *time.Time     `db:"paid_date" json:"paid_date,omitempty"`
	PaymentMethod  *PaymentMethod `db:"payment_method" json:"payment_method,omitempty"`
	TransactionID  *string        `db:"transaction_id" json:"transaction_id,omitempty"`
	CollectedBy    *string        `db:"collected_by" json:"collected_by,omitempty"`
	Note           *string        `db:"note" json:"note,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// AmountRemaining returns the outstanding balance, never negative.
func (p *Payment) AmountRemaining() float64 {
	return math.Max(0, p.AmountDue-p.Discount-p.AmountPaid)
}

// Recompute refreshes the derived status and stamps the paid date when the
// balance is cleared.
func (p *Payment) Recompute(now time.Time) {
	p.Status = DerivePaymentStatus(p.AmountDue, p.Discount, p.AmountPaid)
	if p.Status == PaymentPaid && p.PaidDate == nil {
		p.PaidDate = &now
	}
	if p.Status != PaymentPaid {
		p.PaidDate = nil
	}
}

// PaymentFilter defines filter criteria for listing payments.
type PaymentFilter struct {
	SchoolID  string
	StudentID string
	FeeID     string
	ClassID   string
	Status    PaymentStatus
	Page      int
	PageSize  int
}

// PaymentView is a payment joined with its fee and student.
type PaymentView struct {
	Payment
	FeeName     string     `db:"fee_name" json:"fee_name"`
	DueDate     *time.Time `db:"due_date" json:"due_date,omitempty"`
	StudentCode string     `db:"student_code" json:"student_code"`
	StudentName string     `db:"student_name" json:"student_name"`
}

// StatusTotals aggregates payments of one status.
type StatusTotals struct {
	Status     PaymentStatus `db:"status" json:"status"`
	Count      int           `db:"count" json:"count"`
	AmountDue  float64       `db:"amount_due" json:"amount_due"`
	AmountPaid float64       `db:"amount_paid" json:"amount_paid"`
}

// FinancialStatistics summarises payments of a school.
type FinancialStatistics struct {
	TotalDue       float64        `json:"total_due"`
	TotalPaid      float64        `json:"total_paid"`
	TotalDiscount  float64        `json:"total_discount"`
	TotalRemaining float64        `json:"total_remaining"`
	CollectionRate float64        `json:"collection_rate"`
	ByStatus       []StatusTotals `json:"by_status"`
}

// BulkPaymentResult summarises a bulk payment record creation.
type BulkPaymentResult struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
}
