package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"masterskayaBack/internal/models"
)

// PaymentRetryRepository owns the payment_retries table. Rows are updated only
// by their own id; no cross-attempt locking is needed.
type PaymentRetryRepository struct {
	DB *sql.DB
}

const retryColumns = `id, label, operation, provider, attempt, max_attempts, COALESCE(last_error, ''), next_retry_at, status, created_at, updated_at`

func scanRetry(row interface{ Scan(...any) error }) (models.PaymentRetry, error) {
	var p models.PaymentRetry
	err := row.Scan(&p.ID, &p.Label, &p.Operation, &p.Provider, &p.Attempt, &p.MaxAttempts,
		&p.LastError, &p.NextRetryAt, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// Create records the first failure of an operation: attempt=1, status pending.
func (r *PaymentRetryRepository) Create(ctx context.Context, label, operation, provider, lastError string, maxAttempts int, nextRetryAt time.Time) (models.PaymentRetry, error) {
	now := time.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		INSERT INTO payment_retries (label, operation, provider, attempt, max_attempts, last_error, next_retry_at, status, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?, ?, ?, ?, ?)
	`, label, operation, provider, maxAttempts, lastError, nextRetryAt, models.RetryStatusPending, now, now)
	if err != nil {
		return models.PaymentRetry{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.PaymentRetry{}, err
	}
	return models.PaymentRetry{
		ID: id, Label: label, Operation: operation, Provider: provider,
		Attempt: 1, MaxAttempts: maxAttempts, LastError: lastError,
		NextRetryAt: nextRetryAt, Status: models.RetryStatusPending,
		CreatedAt: now, UpdatedAt: now,
	}, nil
}

func (r *PaymentRetryRepository) GetByID(ctx context.Context, id int64) (models.PaymentRetry, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+retryColumns+` FROM payment_retries WHERE id = ?`, id)
	p, err := scanRetry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PaymentRetry{}, models.ErrRetryNotFound
	}
	return p, err
}

// ListDue selects attempts eligible for re-execution right now.
func (r *PaymentRetryRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.PaymentRetry, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+retryColumns+` FROM payment_retries
		WHERE status = ? AND next_retry_at <= ? AND attempt < max_attempts
		ORDER BY next_retry_at ASC
		LIMIT ?
	`, models.RetryStatusPending, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PaymentRetry
	for rows.Next() {
		p, err := scanRetry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Reschedule bumps the attempt counter and the next eligible time after
// another failure.
func (r *PaymentRetryRepository) Reschedule(ctx context.Context, id int64, attempt int, lastError string, nextRetryAt time.Time) error {
	_, err := r.DB.ExecContext(ctx, `
		UPDATE payment_retries SET attempt = ?, last_error = ?, next_retry_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, attempt, lastError, nextRetryAt, time.Now().UTC(), id, models.RetryStatusPending)
	return err
}

// MarkStatus moves the attempt to a terminal status. Terminal rows are never
// selected again.
func (r *PaymentRetryRepository) MarkStatus(ctx context.Context, id int64, status string) error {
	_, err := r.DB.ExecContext(ctx, `
		UPDATE payment_retries SET status = ?, updated_at = ? WHERE id = ? AND status = ?
	`, status, time.Now().UTC(), id, models.RetryStatusPending)
	return err
}

// DeleteTerminalBefore garbage-collects finished attempts past the retention
// window.
func (r *PaymentRetryRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM payment_retries WHERE status IN (?, ?) AND updated_at < ?
	`, models.RetryStatusSuccess, models.RetryStatusFailed, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
