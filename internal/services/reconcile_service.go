package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"masterskayaBack/internal/models"
	"masterskayaBack/internal/pay"
)

// SyncSummary reports what a manual sweep over pending invoices did.
// InProgress means another sweep held the lock and nothing was checked.
type SyncSummary struct {
	Checked    int  `json:"checked"`
	Updated    int  `json:"updated"`
	Failed     int  `json:"failed"`
	InProgress bool `json:"in_progress,omitempty"`
}

// NotificationDeduper is the slice of the redis client the webhook dedup
// uses. Satisfied by *redis.Client.
type NotificationDeduper interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// ReconcileService drives the three confirmation channels — gateway webhooks,
// the background poller and admin-triggered sync — and funnels all of them
// into LedgerService.ApplyPayment.
type ReconcileService struct {
	Providers map[string]pay.Provider
	Ledger    *LedgerService
	Invoices  InvoiceStore
	Dedup     NotificationDeduper // optional, nil disables webhook dedup

	PollInterval   time.Duration
	InterCallDelay time.Duration
	PageSize       int

	InfoLog  *log.Logger
	ErrorLog *log.Logger

	mu       sync.Mutex
	running  bool
	sweeping bool
	cancel   context.CancelFunc
	done     chan struct{}
}

const dedupTTL = 24 * time.Hour

func parseAmount(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// ProcessNotification handles one gateway webhook. A bad signature is the
// only rejection; everything after verification resolves to an acknowledged
// outcome so the gateway stops redelivering.
func (s *ReconcileService) ProcessNotification(ctx context.Context, providerName string, n models.PaymentNotification) error {
	prov, ok := s.Providers[providerName]
	if !ok {
		return fmt.Errorf("unknown payment provider %q", providerName)
	}
	if !prov.VerifyNotification(n) {
		s.ErrorLog.Printf("reconcile: notification %s/%s: invalid signature, label %q, sender %q",
			providerName, n.OperationID, n.Label, n.Sender)
		return models.ErrSignatureInvalid
	}

	if s.alreadySeen(ctx, providerName, n.OperationID) {
		s.InfoLog.Printf("reconcile: duplicate notification %s/%s, skipping", providerName, n.OperationID)
		return nil
	}

	amount, err := parseAmount(n.Amount)
	if err != nil {
		s.ErrorLog.Printf("reconcile: notification %s/%s: bad amount %q", providerName, n.OperationID, n.Amount)
		return nil
	}

	res, err := s.Ledger.ApplyPayment(ctx, PaymentEvidence{
		Label:       n.Label,
		Provider:    providerName,
		Amount:      amount,
		Method:      "notification",
		OperationID: n.OperationID,
		Escrowed:    n.Escrowed,
		PaidAt:      parseNotificationTime(n.DateTime),
	})
	switch {
	case errors.Is(err, models.ErrInvoiceNotFound):
		// Метка не наша (другая витрина на том же кошельке) — подтверждаем,
		// чтобы шлюз не долбил повторами.
		s.ErrorLog.Printf("reconcile: notification %s/%s: unknown label %q", providerName, n.OperationID, n.Label)
		return nil
	case errors.Is(err, models.ErrAmountMismatch):
		return nil
	case err != nil:
		// Транзиентный сбой леджера: хендлер ответит 500 и шлюз повторит
		// доставку. Снимаем ключ дедупликации, иначе повтор пропадёт.
		s.forgetSeen(ctx, providerName, n.OperationID)
		return err
	}
	if res.Outcome == OutcomeNoOp {
		s.InfoLog.Printf("reconcile: notification %s/%s: no-op (%s)", providerName, n.OperationID, res.Reason)
	}
	return nil
}

// alreadySeen marks the operation id in Redis and reports whether it was
// there before. Redis being down degrades to "not seen": the ledger is
// idempotent anyway.
func (s *ReconcileService) alreadySeen(ctx context.Context, providerName, operationID string) bool {
	if s.Dedup == nil || operationID == "" {
		return false
	}
	key := "pay:notify:" + providerName + ":" + operationID
	set, err := s.Dedup.SetNX(ctx, key, 1, dedupTTL).Result()
	if err != nil {
		s.ErrorLog.Printf("reconcile: dedup check %s: %v", key, err)
		return false
	}
	return !set
}

// forgetSeen releases a dedup key after a failed transition so the gateway's
// redelivery is processed instead of being swallowed for dedupTTL.
func (s *ReconcileService) forgetSeen(ctx context.Context, providerName, operationID string) {
	if s.Dedup == nil || operationID == "" {
		return
	}
	key := "pay:notify:" + providerName + ":" + operationID
	if err := s.Dedup.Del(ctx, key).Err(); err != nil {
		s.ErrorLog.Printf("reconcile: dedup release %s: %v", key, err)
	}
}

// StartPolling launches the background sweep loop. Returns false if it is
// already running.
func (s *ReconcileService) StartPolling(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.pollLoop(loopCtx, s.done)
	s.InfoLog.Printf("reconcile: polling started, interval %s", s.PollInterval)
	return true
}

// StopPolling stops the loop and waits for an in-flight sweep to finish.
// Returns false if polling was not running.
func (s *ReconcileService) StopPolling() bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return false
	}
	cancel, done := s.cancel, s.done
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	<-done
	s.InfoLog.Println("reconcile: polling stopped")
	return true
}

func (s *ReconcileService) Polling() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *ReconcileService) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// sweep checks every pending invoice and every pending refund against its
// gateway. At most one sweep runs at a time; a tick that lands mid-sweep is
// skipped rather than stacked.
func (s *ReconcileService) sweep(ctx context.Context) SyncSummary {
	s.mu.Lock()
	if s.sweeping {
		s.mu.Unlock()
		return SyncSummary{InProgress: true}
	}
	s.sweeping = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.sweeping = false
		s.mu.Unlock()
	}()

	var sum SyncSummary

	pending, err := s.Invoices.ListPending(ctx, s.PageSize)
	if err != nil {
		s.ErrorLog.Printf("reconcile: list pending: %v", err)
		return sum
	}
	for _, inv := range pending {
		if ctx.Err() != nil {
			return sum
		}
		res, err := s.checkOne(ctx, inv)
		sum.Checked++
		switch {
		case err != nil:
			sum.Failed++
			s.ErrorLog.Printf("reconcile: check invoice %d (%s): %v", inv.ID, inv.Label, err)
		case res.Outcome == OutcomeApplied:
			sum.Updated++
		}
		s.pause(ctx)
	}

	refunds, err := s.Invoices.ListRefundPending(ctx, s.PageSize)
	if err != nil {
		s.ErrorLog.Printf("reconcile: list pending refunds: %v", err)
		return sum
	}
	for _, inv := range refunds {
		if ctx.Err() != nil {
			return sum
		}
		if inv.RefundReqID == "" {
			continue // ещё в очереди ретраев на создание
		}
		prov, ok := s.Providers[inv.Provider]
		if !ok {
			continue
		}
		sum.Checked++
		state, err := prov.RefundStatus(ctx, inv.RefundReqID)
		if err != nil {
			sum.Failed++
			s.ErrorLog.Printf("reconcile: refund status invoice %d: %v", inv.ID, err)
			s.pause(ctx)
			continue
		}
		res, err := s.Ledger.ApplyRefundState(ctx, inv, state)
		if err != nil {
			sum.Failed++
			s.ErrorLog.Printf("reconcile: apply refund state invoice %d: %v", inv.ID, err)
		} else if res.Outcome == OutcomeApplied {
			sum.Updated++
		}
		s.pause(ctx)
	}
	return sum
}

// checkOne queries the invoice's gateway and applies the result if it shows a
// completed payment.
func (s *ReconcileService) checkOne(ctx context.Context, inv models.Invoice) (TransitionResult, error) {
	if inv.Provider == "" || inv.ProviderTxID == "" {
		// Кошелёк подтверждается только вебхуком: опрашивать нечего.
		return TransitionResult{Outcome: OutcomeNoOp, Reason: "nothing to poll", Invoice: inv}, nil
	}
	prov, ok := s.Providers[inv.Provider]
	if !ok {
		return TransitionResult{}, fmt.Errorf("unknown payment provider %q", inv.Provider)
	}
	st, err := prov.OperationStatus(ctx, inv.ProviderTxID)
	if err != nil {
		return TransitionResult{}, err
	}
	if !st.Succeeded {
		return TransitionResult{Outcome: OutcomeNoOp, Reason: "not paid yet", Invoice: inv}, nil
	}
	return s.Ledger.ApplyPayment(ctx, evidenceFromOperation(inv, st))
}

// SyncPending is the admin-triggered variant of the sweep.
func (s *ReconcileService) SyncPending(ctx context.Context) SyncSummary {
	return s.sweep(ctx)
}

// CheckInvoice re-verifies a single invoice on demand.
func (s *ReconcileService) CheckInvoice(ctx context.Context, invoiceID int) (TransitionResult, error) {
	inv, err := s.Invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return TransitionResult{}, err
	}
	if inv.Status != models.InvoiceStatusPending {
		return TransitionResult{Outcome: OutcomeNoOp, Reason: "already " + inv.Status, Invoice: inv}, nil
	}
	return s.checkOne(ctx, inv)
}

func (s *ReconcileService) pause(ctx context.Context) {
	if s.InterCallDelay <= 0 {
		return
	}
	select {
	case <-time.After(s.InterCallDelay):
	case <-ctx.Done():
	}
}

func parseNotificationTime(v string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05Z0700", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}
