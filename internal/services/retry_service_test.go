package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"masterskayaBack/internal/models"
)

type stubRetryStore struct {
	mu       sync.Mutex
	nextID   int64
	attempts map[int64]models.PaymentRetry
}

func newStubRetryStore() *stubRetryStore {
	return &stubRetryStore{nextID: 1, attempts: map[int64]models.PaymentRetry{}}
}

func (s *stubRetryStore) Create(_ context.Context, label, operation, provider, lastError string, maxAttempts int, nextRetryAt time.Time) (models.PaymentRetry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := models.PaymentRetry{
		ID: s.nextID, Label: label, Operation: operation, Provider: provider,
		Attempt: 1, MaxAttempts: maxAttempts, LastError: lastError,
		NextRetryAt: nextRetryAt, Status: models.RetryStatusPending,
	}
	s.attempts[s.nextID] = a
	s.nextID++
	return a, nil
}

func (s *stubRetryStore) ListDue(_ context.Context, now time.Time, _ int) ([]models.PaymentRetry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PaymentRetry
	for _, a := range s.attempts {
		if a.Status == models.RetryStatusPending && !a.NextRetryAt.After(now) && a.Attempt < a.MaxAttempts {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *stubRetryStore) Reschedule(_ context.Context, id int64, attempt int, lastError string, nextRetryAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.attempts[id]
	a.Attempt = attempt
	a.LastError = lastError
	a.NextRetryAt = nextRetryAt
	s.attempts[id] = a
	return nil
}

func (s *stubRetryStore) MarkStatus(_ context.Context, id int64, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.attempts[id]
	a.Status = status
	s.attempts[id] = a
	return nil
}

func (s *stubRetryStore) DeleteTerminalBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (s *stubRetryStore) get(id int64) models.PaymentRetry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[id]
}

type stubOperator struct {
	mu           sync.Mutex
	err          error
	execCalls    int
	abandonCalls int
	abandonUser  int
}

func (o *stubOperator) RetryOperation(_ context.Context, _ models.PaymentRetry) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.execCalls++
	return o.err
}

func (o *stubOperator) AbandonOperation(_ context.Context, _ models.PaymentRetry) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.abandonCalls++
	return o.abandonUser, nil
}

type stubNotifier struct {
	mu    sync.Mutex
	calls []int
}

func (n *stubNotifier) PaymentFailed(_ context.Context, userID int, _ string) {
	n.mu.Lock()
	n.calls = append(n.calls, userID)
	n.mu.Unlock()
}

func newTestRetry(store *stubRetryStore, invoices *stubInvoiceStore, op *stubOperator, n *stubNotifier) *RetryService {
	return &RetryService{
		Store:       store,
		Invoices:    invoices,
		Operator:    op,
		Notifier:    n,
		BaseDelay:   5 * time.Second,
		Exponential: true,
		MaxAttempts: 3,
		InfoLog:     quietLog(),
		ErrorLog:    quietLog(),
	}
}

func refundPendingInvoice(store *stubInvoiceStore, label string) models.Invoice {
	return store.add(models.Invoice{
		UserID: 42, MasterClassID: 5, Amount: 900, Label: label,
		Status: models.InvoiceStatusPaid, RefundStatus: models.RefundStatusPending, Provider: "stub",
	})
}

func TestRetryBackoffSchedule(t *testing.T) {
	store := newStubRetryStore()
	invoices := newStubInvoiceStore()
	refundPendingInvoice(invoices, "label-d")
	op := &stubOperator{err: errors.New("timeout")}
	svc := newTestRetry(store, invoices, op, &stubNotifier{})

	start := time.Now().UTC()
	svc.RecordFailure(context.Background(), "label-d", models.RetryOpRefundCreate, "stub", errors.New("timeout"))

	a := store.get(1)
	if a.Attempt != 1 || a.Status != models.RetryStatusPending {
		t.Fatalf("attempt %+v", a)
	}
	if d := a.NextRetryAt.Sub(start); d < 4*time.Second || d > 6*time.Second {
		t.Fatalf("first retry delay = %s, want ~5s", d)
	}

	// до срока — ничего не выполняется
	svc.ProcessDue(context.Background(), start.Add(2*time.Second))
	if op.execCalls != 0 {
		t.Fatalf("exec calls = %d before due time", op.execCalls)
	}

	// первый ретрай падает — интервал удваивается
	svc.ProcessDue(context.Background(), start.Add(6*time.Second))
	if op.execCalls != 1 {
		t.Fatalf("exec calls = %d", op.execCalls)
	}
	a = store.get(1)
	if a.Attempt != 2 {
		t.Fatalf("attempt = %d", a.Attempt)
	}
	if d := a.NextRetryAt.Sub(time.Now().UTC()); d < 9*time.Second || d > 11*time.Second {
		t.Fatalf("second retry delay = %s, want ~10s", d)
	}
}

func TestRetryExhaustionNotifiesOnce(t *testing.T) {
	store := newStubRetryStore()
	invoices := newStubInvoiceStore()
	refundPendingInvoice(invoices, "label-x")
	op := &stubOperator{err: errors.New("timeout"), abandonUser: 42}
	notifier := &stubNotifier{}
	svc := newTestRetry(store, invoices, op, notifier)

	svc.RecordFailure(context.Background(), "label-x", models.RetryOpRefundCreate, "stub", errors.New("timeout"))

	far := time.Now().UTC().Add(time.Hour)
	svc.ProcessDue(context.Background(), far) // attempt 1→2
	svc.ProcessDue(context.Background(), far.Add(time.Hour)) // attempt 2→исчерпан

	a := store.get(1)
	if a.Status != models.RetryStatusFailed {
		t.Fatalf("status = %s", a.Status)
	}
	if op.abandonCalls != 1 {
		t.Fatalf("abandon calls = %d", op.abandonCalls)
	}
	if len(notifier.calls) != 1 || notifier.calls[0] != 42 {
		t.Fatalf("notifier calls = %v, want exactly one", notifier.calls)
	}

	// терминальная попытка больше не выбирается
	svc.ProcessDue(context.Background(), far.Add(2*time.Hour))
	if op.execCalls != 2 {
		t.Fatalf("exec calls = %d after exhaustion", op.execCalls)
	}
}

func TestRetrySuccessCloses(t *testing.T) {
	store := newStubRetryStore()
	invoices := newStubInvoiceStore()
	refundPendingInvoice(invoices, "label-s")
	op := &stubOperator{}
	svc := newTestRetry(store, invoices, op, &stubNotifier{})

	svc.RecordFailure(context.Background(), "label-s", models.RetryOpRefundCreate, "stub", errors.New("timeout"))
	svc.ProcessDue(context.Background(), time.Now().UTC().Add(time.Minute))

	if a := store.get(1); a.Status != models.RetryStatusSuccess {
		t.Fatalf("status = %s", a.Status)
	}
	if op.execCalls != 1 {
		t.Fatalf("exec calls = %d", op.execCalls)
	}
}

func TestRetrySkipsSettledInvoice(t *testing.T) {
	store := newStubRetryStore()
	invoices := newStubInvoiceStore()
	invoices.add(models.Invoice{
		UserID: 1, MasterClassID: 5, Amount: 900, Label: "label-done",
		Status: models.InvoiceStatusPaid, RefundStatus: models.RefundStatusCompleted, Provider: "stub",
	})
	op := &stubOperator{err: errors.New("timeout")}
	svc := newTestRetry(store, invoices, op, &stubNotifier{})

	svc.RecordFailure(context.Background(), "label-done", models.RetryOpRefundCreate, "stub", errors.New("timeout"))
	svc.ProcessDue(context.Background(), time.Now().UTC().Add(time.Minute))

	if op.execCalls != 0 {
		t.Fatalf("exec calls = %d, settled invoice must not be retried", op.execCalls)
	}
	if a := store.get(1); a.Status != models.RetryStatusSuccess {
		t.Fatalf("status = %s", a.Status)
	}
}
