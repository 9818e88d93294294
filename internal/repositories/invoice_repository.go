package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"masterskayaBack/internal/models"
)

// InvoiceRepository owns the invoices table and the payment_history table.
// The paid transition runs in one transaction under a row lock so that a
// webhook and a poll sweep racing on the same invoice cannot both win.
type InvoiceRepository struct {
	DB *sql.DB
}

const invoiceColumns = `id, user_id, master_class_id, amount, description, label, status, refund_status,
       COALESCE(provider, ''), COALESCE(provider_tx_id, ''), COALESCE(payment_method, ''),
       paid_at, refund_amount, COALESCE(refund_request_id, ''), refunded_at, created_at`

func scanInvoice(row interface{ Scan(...any) error }) (models.Invoice, error) {
	var inv models.Invoice
	err := row.Scan(
		&inv.ID, &inv.UserID, &inv.MasterClassID, &inv.Amount, &inv.Description, &inv.Label,
		&inv.Status, &inv.RefundStatus, &inv.Provider, &inv.ProviderTxID, &inv.PaymentMethod,
		&inv.PaidAt, &inv.RefundAmount, &inv.RefundReqID, &inv.RefundedAt, &inv.CreatedAt,
	)
	return inv, err
}

// CreateInvoice inserts a pending invoice with a fresh correlation label.
// Amount is frozen here; nothing later may change it.
func (r *InvoiceRepository) CreateInvoice(ctx context.Context, userID int, masterClassID int64, amount float64, description string) (models.Invoice, error) {
	label := uuid.NewString()
	now := time.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		INSERT INTO invoices (user_id, master_class_id, amount, description, label, status, refund_status, refund_amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)
	`, userID, masterClassID, amount, description, label, models.InvoiceStatusPending, models.RefundStatusNone, now)
	if err != nil {
		return models.Invoice{}, fmt.Errorf("create invoice: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Invoice{}, err
	}
	return models.Invoice{
		ID:            int(id),
		UserID:        userID,
		MasterClassID: masterClassID,
		Amount:        amount,
		Description:   description,
		Label:         label,
		Status:        models.InvoiceStatusPending,
		RefundStatus:  models.RefundStatusNone,
		CreatedAt:     now,
	}, nil
}

func (r *InvoiceRepository) GetByID(ctx context.Context, id int) (models.Invoice, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id)
	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Invoice{}, models.ErrInvoiceNotFound
	}
	return inv, err
}

func (r *InvoiceRepository) GetByLabel(ctx context.Context, label string) (models.Invoice, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE label = ?`, label)
	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Invoice{}, models.ErrInvoiceNotFound
	}
	return inv, err
}

func (r *InvoiceRepository) GetByUser(ctx context.Context, userID int) ([]models.Invoice, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE user_id = ? ORDER BY id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectInvoices(rows)
}

// ListPending returns the most recent pending invoices, newest first.
func (r *InvoiceRepository) ListPending(ctx context.Context, limit int) ([]models.Invoice, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+invoiceColumns+` FROM invoices WHERE status = ? ORDER BY id DESC LIMIT ?
	`, models.InvoiceStatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectInvoices(rows)
}

// ListRefundPending returns invoices whose refund is awaiting a gateway
// outcome.
func (r *InvoiceRepository) ListRefundPending(ctx context.Context, limit int) ([]models.Invoice, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+invoiceColumns+` FROM invoices WHERE refund_status = ? ORDER BY id DESC LIMIT ?
	`, models.RefundStatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectInvoices(rows)
}

func collectInvoices(rows *sql.Rows) ([]models.Invoice, error) {
	var out []models.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// SetProvider records which gateway the pay link was created with.
func (r *InvoiceRepository) SetProvider(ctx context.Context, id int, provider, providerTxID string) error {
	_, err := r.DB.ExecContext(ctx, `
		UPDATE invoices SET provider = ?, provider_tx_id = ? WHERE id = ?
	`, provider, providerTxID, id)
	return err
}

// MarkPaid applies pending→paid and appends the payment-history row in one
// transaction. The row lock plus the status precondition make the transition
// apply at most once; a lost race reports applied=false with no error.
func (r *InvoiceRepository) MarkPaid(ctx context.Context, id int, provider, method, providerTxID string, amount float64, paidAt time.Time) (bool, error) {
	tx, err := r.DB.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM invoices WHERE id = ? FOR UPDATE`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, models.ErrInvoiceNotFound
	}
	if err != nil {
		return false, err
	}
	if status != models.InvoiceStatusPending {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE invoices
		SET status = ?, provider = ?, payment_method = ?, provider_tx_id = ?, paid_at = ?
		WHERE id = ?
	`, models.InvoiceStatusPaid, provider, method, providerTxID, paidAt, id); err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO payment_history (invoice_id, provider, amount, method, provider_tx_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, provider, amount, method, providerTxID, paidAt); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// Cancel applies pending→cancelled optimistically.
func (r *InvoiceRepository) Cancel(ctx context.Context, id int) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE invoices SET status = ? WHERE id = ? AND status = ?
	`, models.InvoiceStatusCancelled, id, models.InvoiceStatusPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SetRefundRequested moves refund_status none→pending, guarded so a double
// request cannot fire two gateway refunds.
func (r *InvoiceRepository) SetRefundRequested(ctx context.Context, id int, amount float64, requestID string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE invoices SET refund_status = ?, refund_amount = ?, refund_request_id = ?
		WHERE id = ? AND status = ? AND refund_status = ?
	`, models.RefundStatusPending, amount, requestID, id, models.InvoiceStatusPaid, models.RefundStatusNone)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SetRefundRequestID backfills the gateway request id after a retried refund
// creation finally succeeds.
func (r *InvoiceRepository) SetRefundRequestID(ctx context.Context, id int, requestID string) error {
	_, err := r.DB.ExecContext(ctx, `
		UPDATE invoices SET refund_request_id = ? WHERE id = ? AND refund_status = ?
	`, requestID, id, models.RefundStatusPending)
	return err
}

// SetRefundOutcome advances refund_status pending→{completed|failed}.
func (r *InvoiceRepository) SetRefundOutcome(ctx context.Context, id int, outcome string, refundedAt *time.Time) (bool, error) {
	if outcome != models.RefundStatusCompleted && outcome != models.RefundStatusFailed {
		return false, models.ErrInvalidTransition
	}
	res, err := r.DB.ExecContext(ctx, `
		UPDATE invoices SET refund_status = ?, refunded_at = ?
		WHERE id = ? AND refund_status = ?
	`, outcome, refundedAt, id, models.RefundStatusPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// HistoryByUser returns confirmed payments for the user's invoices, newest first.
func (r *InvoiceRepository) HistoryByUser(ctx context.Context, userID int) ([]models.PaymentHistoryItem, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT h.id, h.invoice_id, h.provider, h.amount, COALESCE(h.method, ''), COALESCE(h.provider_tx_id, ''), h.created_at
		FROM payment_history h
		JOIN invoices i ON i.id = h.invoice_id
		WHERE i.user_id = ?
		ORDER BY h.id DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PaymentHistoryItem
	for rows.Next() {
		var item models.PaymentHistoryItem
		if err := rows.Scan(&item.ID, &item.InvoiceID, &item.Provider, &item.Amount, &item.Method, &item.ProviderTxID, &item.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}
