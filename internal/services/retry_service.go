package services

import (
	"context"
	"log"
	"time"

	"masterskayaBack/internal/models"
)

// RetryStore is the persistence slice of the retry coordinator. Implemented
// by repositories.PaymentRetryRepository.
type RetryStore interface {
	Create(ctx context.Context, label, operation, provider, lastError string, maxAttempts int, nextRetryAt time.Time) (models.PaymentRetry, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.PaymentRetry, error)
	Reschedule(ctx context.Context, id int64, attempt int, lastError string, nextRetryAt time.Time) error
	MarkStatus(ctx context.Context, id int64, status string) error
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetryOperator re-executes and, on exhaustion, abandons a failed operation.
// Implemented by LedgerService.
type RetryOperator interface {
	RetryOperation(ctx context.Context, attempt models.PaymentRetry) error
	AbandonOperation(ctx context.Context, attempt models.PaymentRetry) (userID int, err error)
}

// Notifier tells the user about a terminal failure. Delivery problems stay
// inside the implementation.
type Notifier interface {
	PaymentFailed(ctx context.Context, userID int, label string)
}

// RetryService owns failed provider calls: it records them, re-executes them
// on an exponential schedule and closes them out after the attempt budget.
type RetryService struct {
	Store    RetryStore
	Invoices InvoiceStore
	Operator RetryOperator
	Notifier Notifier // optional

	BaseDelay   time.Duration // first retry waits this long
	Exponential bool          // double the delay on every further failure
	Tick        time.Duration
	MaxAttempts int
	Retention   time.Duration // terminal rows older than this are purged

	InfoLog  *log.Logger
	ErrorLog *log.Logger
}

const retryBatchSize = 50

func (s *RetryService) maxAttempts() int {
	if s.MaxAttempts > 0 {
		return s.MaxAttempts
	}
	return models.DefaultMaxRetryAttempts
}

// delay returns the wait before try number attempt+1, counting the original
// call as attempt 1.
func (s *RetryService) delay(attempt int) time.Duration {
	d := s.BaseDelay
	if d <= 0 {
		d = 5 * time.Second
	}
	if !s.Exponential {
		return d
	}
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// RecordFailure registers the first failure of an operation. Errors here are
// logged, not returned: the caller's own flow must not fail because the retry
// row could not be written.
func (s *RetryService) RecordFailure(ctx context.Context, label, operation, provider string, cause error) {
	next := time.Now().UTC().Add(s.delay(1))
	attempt, err := s.Store.Create(ctx, label, operation, provider, cause.Error(), s.maxAttempts(), next)
	if err != nil {
		s.ErrorLog.Printf("retry: record failure %s/%s: %v", operation, label, err)
		return
	}
	s.InfoLog.Printf("retry: %s for %s scheduled, attempt %d/%d at %s",
		operation, label, attempt.Attempt+1, attempt.MaxAttempts, next.Format(time.RFC3339))
}

// Run drives the scheduler until ctx is cancelled.
func (s *RetryService) Run(ctx context.Context) {
	tick := s.Tick
	if tick <= 0 {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.ProcessDue(ctx, time.Now().UTC())
		case <-ctx.Done():
			return
		}
	}
}

// ProcessDue executes every attempt whose time has come.
func (s *RetryService) ProcessDue(ctx context.Context, now time.Time) {
	due, err := s.Store.ListDue(ctx, now, retryBatchSize)
	if err != nil {
		s.ErrorLog.Printf("retry: list due: %v", err)
		return
	}
	for _, attempt := range due {
		if ctx.Err() != nil {
			return
		}
		s.processOne(ctx, attempt)
	}
}

func (s *RetryService) processOne(ctx context.Context, attempt models.PaymentRetry) {
	if s.invoiceSettled(ctx, attempt) {
		// Счёт дошёл до терминального состояния другим путём: ретрай больше
		// не нужен.
		if err := s.Store.MarkStatus(ctx, attempt.ID, models.RetryStatusSuccess); err != nil {
			s.ErrorLog.Printf("retry: close settled attempt %d: %v", attempt.ID, err)
		}
		return
	}

	err := s.Operator.RetryOperation(ctx, attempt)
	if err == nil {
		if err := s.Store.MarkStatus(ctx, attempt.ID, models.RetryStatusSuccess); err != nil {
			s.ErrorLog.Printf("retry: mark success attempt %d: %v", attempt.ID, err)
		}
		s.InfoLog.Printf("retry: %s for %s succeeded on attempt %d", attempt.Operation, attempt.Label, attempt.Attempt+1)
		return
	}

	nextAttempt := attempt.Attempt + 1
	if nextAttempt >= attempt.MaxAttempts {
		s.exhaust(ctx, attempt, err)
		return
	}
	next := time.Now().UTC().Add(s.delay(nextAttempt))
	if rerr := s.Store.Reschedule(ctx, attempt.ID, nextAttempt, err.Error(), next); rerr != nil {
		s.ErrorLog.Printf("retry: reschedule attempt %d: %v", attempt.ID, rerr)
		return
	}
	s.InfoLog.Printf("retry: %s for %s failed (%v), attempt %d/%d at %s",
		attempt.Operation, attempt.Label, err, nextAttempt+1, attempt.MaxAttempts, next.Format(time.RFC3339))
}

// exhaust closes the attempt after the last failure and notifies the user
// exactly once.
func (s *RetryService) exhaust(ctx context.Context, attempt models.PaymentRetry, cause error) {
	s.ErrorLog.Printf("retry: %s for %s gave up after %d attempts: %v",
		attempt.Operation, attempt.Label, attempt.MaxAttempts, cause)
	if err := s.Store.MarkStatus(ctx, attempt.ID, models.RetryStatusFailed); err != nil {
		s.ErrorLog.Printf("retry: mark failed attempt %d: %v", attempt.ID, err)
		return
	}
	userID, err := s.Operator.AbandonOperation(ctx, attempt)
	if err != nil {
		s.ErrorLog.Printf("retry: abandon %s for %s: %v", attempt.Operation, attempt.Label, err)
	}
	if s.Notifier != nil && userID != 0 {
		s.Notifier.PaymentFailed(ctx, userID, attempt.Label)
	}
}

// invoiceSettled reports whether the attempt's invoice no longer needs this
// operation.
func (s *RetryService) invoiceSettled(ctx context.Context, attempt models.PaymentRetry) bool {
	inv, err := s.Invoices.GetByLabel(ctx, attempt.Label)
	if err != nil {
		return false
	}
	switch attempt.Operation {
	case models.RetryOpRefundCreate:
		return inv.RefundStatus == models.RefundStatusCompleted || inv.RefundStatus == models.RefundStatusFailed
	case models.RetryOpStatusCheck:
		return inv.Terminal()
	}
	return false
}

// RunGC purges terminal attempts past the retention window once a day.
func (s *RetryService) RunGC(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.gcOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *RetryService) gcOnce(ctx context.Context) {
	retention := s.Retention
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	n, err := s.Store.DeleteTerminalBefore(ctx, time.Now().UTC().Add(-retention))
	if err != nil {
		s.ErrorLog.Printf("retry: gc: %v", err)
		return
	}
	if n > 0 {
		s.InfoLog.Printf("retry: gc removed %d finished attempts", n)
	}
}
