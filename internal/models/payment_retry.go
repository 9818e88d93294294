package models

import "time"

// Операции, которые переигрывает планировщик ретраев.
const (
	RetryOpStatusCheck  = "status_check"
	RetryOpRefundCreate = "refund_create"
)

const (
	RetryStatusPending = "pending"
	RetryStatusSuccess = "success"
	RetryStatusFailed  = "failed"
)

// DefaultMaxRetryAttempts bounds the attempt counter unless configured otherwise.
const DefaultMaxRetryAttempts = 3

// PaymentRetry records a failed provider interaction awaiting re-execution.
// Label resolves back to the invoice; Attempt only ever grows.
type PaymentRetry struct {
	ID          int64     `json:"id"`
	Label       string    `json:"label"`
	Operation   string    `json:"operation"`
	Provider    string    `json:"provider"`
	Attempt     int       `json:"attempt"`
	MaxAttempts int       `json:"max_attempts"`
	LastError   string    `json:"last_error,omitempty"`
	NextRetryAt time.Time `json:"next_retry_at"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TerminalRetry reports whether the attempt is finished for good.
func (p *PaymentRetry) TerminalRetry() bool {
	return p.Status == RetryStatusSuccess || p.Status == RetryStatusFailed
}
