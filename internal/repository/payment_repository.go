package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-school-api/internal/models"
)

const paymentColumns = `id, school_id, student_id, fee_id, amount_due, amount_paid, discount, discount_reason, status, paid_date, payment_method, transaction_id, collected_by, note, created_at, updated_at`

const paymentViewSelect = `SELECT p.id, p.school_id, p.student_id, p.fee_id, p.amount_due, p.amount_paid, p.discount, p.discount_reason, p.status, p.paid_date,
	p.payment_method, p.transaction_id, p.collected_by, p.note, p.created_at, p.updated_at,
	f.fee_name, f.due_date, s.student_code, s.full_name AS student_name
FROM payments p
JOIN fees f ON f.id = p.fee_id
JOIN students s ON s.id = p.student_id`

// PaymentRepository persists per-student fee balances.
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository constructs the repository.
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// CreateIfAbsent inserts the payment unless one already exists for the
// (student, fee) pair. It reports whether a row was created.
func (r *PaymentRepository) CreateIfAbsent(ctx context.Context, exec sqlx.ExtContext, payment *models.Payment) (bool, error) {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	payment.CreatedAt = now
	payment.UpdatedAt = now
	const query = `
INSERT INTO payments (id, school_id, student_id, fee_id, amount_due, amount_paid, discount, discount_reason, status, paid_date, payment_method, transaction_id, collected_by, note, created_at, updated_at)
VALUES (:id, :school_id, :student_id, :fee_id, :amount_due, :amount_paid, :discount, :discount_reason, :status, :paid_date, :payment_method, :transaction_id, :collected_by, :note, :created_at, :updated_at)
ON CONFLICT (student_id, fee_id) DO NOTHING`
	result, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, payment)
	if err != nil {
		return false, fmt.Errorf("create payment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("payment rows affected: %w", err)
	}
	return affected > 0, nil
}

// GetForUpdate locks a payment row for the rest of the transaction.
func (r *PaymentRepository) GetForUpdate(ctx context.Context, exec sqlx.ExtContext, schoolID, id string) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE school_id = $1 AND id = $2 FOR UPDATE`
	var payment models.Payment
	if err := sqlx.GetContext(ctx, r.exec(exec), &payment, query, schoolID, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock payment: %w", err)
	}
	return &payment, nil
}

// UpdateBalance persists the amounts, derived status and collection details.
func (r *PaymentRepository) UpdateBalance(ctx context.Context, exec sqlx.ExtContext, payment *models.Payment) error {
	payment.UpdatedAt = time.Now().UTC()
	const query = `
UPDATE payments SET amount_paid = :amount_paid, discount = :discount, discount_reason = :discount_reason, status = :status,
	paid_date = :paid_date, payment_method = :payment_method, transaction_id = :transaction_id, collected_by = :collected_by,
	note = :note, updated_at = :updated_at
WHERE id = :id`
	result, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, payment)
	if err != nil {
		return fmt.Errorf("update payment balance: %w", err)
	}
	return requireAffected(result, "update payment balance")
}

// Delete removes a payment record.
func (r *PaymentRepository) Delete(ctx context.Context, schoolID, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM payments WHERE school_id = $1 AND id = $2`, schoolID, id)
	if err != nil {
		return fmt.Errorf("delete payment: %w", err)
	}
	return requireAffected(result, "delete payment")
}

// List returns payments joined with fee and student details.
func (r *PaymentRepository) List(ctx context.Context, filter models.PaymentFilter) ([]models.PaymentView, int, error) {
	where := " WHERE p.school_id = $1"
	args := []interface{}{filter.SchoolID}
	if filter.StudentID != "" {
		where += fmt.Sprintf(" AND p.student_id = $%d", len(args)+1)
		args = append(args, filter.StudentID)
	}
	if filter.FeeID != "" {
		where += fmt.Sprintf(" AND p.fee_id = $%d", len(args)+1)
		args = append(args, filter.FeeID)
	}
	if filter.ClassID != "" {
		where += fmt.Sprintf(" AND s.class_id = $%d", len(args)+1)
		args = append(args, filter.ClassID)
	}
	if filter.Status != "" {
		where += fmt.Sprintf(" AND p.status = $%d", len(args)+1)
		args = append(args, filter.Status)
	}
	page := models.NewPagination(filter.Page, filter.PageSize, 0)
	query := fmt.Sprintf("%s%s ORDER BY p.created_at DESC LIMIT %d OFFSET %d", paymentViewSelect, where, page.PageSize, page.Offset())
	var items []models.PaymentView
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list payments: %w", err)
	}
	countQuery := "SELECT COUNT(*) FROM payments p JOIN students s ON s.id = p.student_id" + where
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count payments: %w", err)
	}
	return items, total, nil
}

// ListByStudent returns every payment of a student.
func (r *PaymentRepository) ListByStudent(ctx context.Context, schoolID, studentID string) ([]models.PaymentView, error) {
	query := paymentViewSelect + ` WHERE p.school_id = $1 AND p.student_id = $2 ORDER BY f.due_date NULLS LAST, p.created_at`
	var items []models.PaymentView
	if err := r.db.SelectContext(ctx, &items, query, schoolID, studentID); err != nil {
		return nil, fmt.Errorf("list student payments: %w", err)
	}
	return items, nil
}

// ListOverdue returns unsettled payments whose fee due date has passed.
func (r *PaymentRepository) ListOverdue(ctx context.Context, schoolID string, now time.Time) ([]models.PaymentView, error) {
	query := paymentViewSelect + ` WHERE p.school_id = $1 AND p.status <> 'paid' AND f.due_date IS NOT NULL AND f.due_date < $2 ORDER BY f.due_date ASC`
	var items []models.PaymentView
	if err := r.db.SelectContext(ctx, &items, query, schoolID, now); err != nil {
		return nil, fmt.Errorf("list overdue payments: %w", err)
	}
	return items, nil
}

// TotalsByStatus aggregates payment amounts per status.
func (r *PaymentRepository) TotalsByStatus(ctx context.Context, schoolID string) ([]models.StatusTotals, error) {
	const query = `SELECT status, COUNT(*) AS count, COALESCE(SUM(amount_due), 0) AS amount_due, COALESCE(SUM(amount_paid), 0) AS amount_paid
FROM payments WHERE school_id = $1 GROUP BY status ORDER BY status`
	var totals []models.StatusTotals
	if err := r.db.SelectContext(ctx, &totals, query, schoolID); err != nil {
		return nil, fmt.Errorf("payment totals by status: %w", err)
	}
	return totals, nil
}

// TotalDiscount sums the discounts granted in a school.
func (r *PaymentRepository) TotalDiscount(ctx context.Context, schoolID string) (float64, error) {
	var total float64
	if err := r.db.GetContext(ctx, &total, `SELECT COALESCE(SUM(discount), 0) FROM payments WHERE school_id = $1`, schoolID); err != nil {
		return 0, fmt.Errorf("payment discount total: %w", err)
	}
	return total, nil
}
