package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"masterskayaBack/internal/models"
	"masterskayaBack/internal/pay"
)

// EventPublisher is the handle to the realtime fan-out. The hub instance is
// constructed in main and passed in here; there is no ambient global.
type EventPublisher interface {
	Publish(event models.Event)
}

// InvoiceStore is the transactional persistence slice the ledger needs.
// Implemented by repositories.InvoiceRepository.
type InvoiceStore interface {
	CreateInvoice(ctx context.Context, userID int, masterClassID int64, amount float64, description string) (models.Invoice, error)
	GetByID(ctx context.Context, id int) (models.Invoice, error)
	GetByLabel(ctx context.Context, label string) (models.Invoice, error)
	GetByUser(ctx context.Context, userID int) ([]models.Invoice, error)
	ListPending(ctx context.Context, limit int) ([]models.Invoice, error)
	ListRefundPending(ctx context.Context, limit int) ([]models.Invoice, error)
	SetProvider(ctx context.Context, id int, provider, providerTxID string) error
	MarkPaid(ctx context.Context, id int, provider, method, providerTxID string, amount float64, paidAt time.Time) (bool, error)
	Cancel(ctx context.Context, id int) (bool, error)
	SetRefundRequested(ctx context.Context, id int, amount float64, requestID string) (bool, error)
	SetRefundRequestID(ctx context.Context, id int, requestID string) error
	SetRefundOutcome(ctx context.Context, id int, outcome string, refundedAt *time.Time) (bool, error)
	HistoryByUser(ctx context.Context, userID int) ([]models.PaymentHistoryItem, error)
}

// MasterClassStore is the seat-counter slice of the catalog.
type MasterClassStore interface {
	GetByID(ctx context.Context, id int64) (models.MasterClass, error)
	IncrementSeatsPaid(ctx context.Context, id int64) (int, error)
}

// RetryEnqueuer hands a failed provider call to the retry coordinator.
type RetryEnqueuer interface {
	RecordFailure(ctx context.Context, label, operation, provider string, cause error)
}

// Исходы transition: применено, ничего делать не нужно, либо ошибка (возврат error).
const (
	OutcomeApplied = "applied"
	OutcomeNoOp    = "noop"
)

// TransitionResult is the explicit outcome of a ledger transition; callers
// branch on Outcome instead of catching control-flow errors.
type TransitionResult struct {
	Outcome string
	Reason  string
	Invoice models.Invoice
}

// PaymentEvidence is a verified, provider-agnostic claim that an invoice was
// paid. Built by the reconciliation engine from a webhook, a poll result or a
// manual check — all three shapes converge here.
type PaymentEvidence struct {
	Label       string
	Provider    string
	Amount      float64
	Method      string
	OperationID string
	Escrowed    bool
	PaidAt      time.Time
}

// LedgerService is the only writer of invoice status. All transitions go
// through it; everything else observes.
type LedgerService struct {
	Invoices      InvoiceStore
	MasterClasses MasterClassStore
	Providers     map[string]pay.Provider
	Publisher     EventPublisher
	Retries       RetryEnqueuer

	InfoLog  *log.Logger
	ErrorLog *log.Logger
}

func (s *LedgerService) provider(name string) (pay.Provider, error) {
	p, ok := s.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown payment provider %q", name)
	}
	return p, nil
}

// CreatePayment freezes a new invoice and asks the chosen gateway to make it
// payable. The returned result carries either a redirect URL or signed form
// fields for the frontend.
func (s *LedgerService) CreatePayment(ctx context.Context, userID int, masterClassID int64, amount float64, description, providerName string) (models.Invoice, pay.CreateInvoiceResult, error) {
	prov, err := s.provider(providerName)
	if err != nil {
		return models.Invoice{}, pay.CreateInvoiceResult{}, err
	}
	if amount <= 0 {
		return models.Invoice{}, pay.CreateInvoiceResult{}, models.ErrInvalidInvoiceData
	}
	if _, err := s.MasterClasses.GetByID(ctx, masterClassID); err != nil {
		return models.Invoice{}, pay.CreateInvoiceResult{}, err
	}

	inv, err := s.Invoices.CreateInvoice(ctx, userID, masterClassID, amount, description)
	if err != nil {
		return models.Invoice{}, pay.CreateInvoiceResult{}, err
	}

	res, err := prov.CreateInvoice(ctx, pay.InvoiceDraft{
		InvoiceID:   inv.ID,
		Label:       inv.Label,
		Amount:      inv.Amount,
		Currency:    "RUB",
		Description: description,
	})
	if err != nil {
		// Счёт остаётся pending: клиент может повторить создание ссылки.
		return inv, pay.CreateInvoiceResult{}, err
	}
	if err := s.Invoices.SetProvider(ctx, inv.ID, providerName, res.ProviderInvoiceID); err != nil {
		s.ErrorLog.Printf("ledger: set provider for invoice %d: %v", inv.ID, err)
	}
	inv.Provider = providerName
	inv.ProviderTxID = res.ProviderInvoiceID
	return inv, res, nil
}

// ApplyPayment is the single transition function behind webhook, poller and
// manual sync. Identical evidence produces identical effects regardless of
// which path delivered it.
func (s *LedgerService) ApplyPayment(ctx context.Context, ev PaymentEvidence) (TransitionResult, error) {
	inv, err := s.Invoices.GetByLabel(ctx, strings.TrimSpace(ev.Label))
	if err != nil {
		return TransitionResult{}, err
	}

	if inv.Status != models.InvoiceStatusPending {
		// Повторная доставка того же уведомления — штатная ситуация.
		return TransitionResult{Outcome: OutcomeNoOp, Reason: "already " + inv.Status, Invoice: inv}, nil
	}
	if ev.Escrowed {
		s.InfoLog.Printf("ledger: invoice %d (%s): escrowed transfer held, waiting for release", inv.ID, inv.Label)
		return TransitionResult{Outcome: OutcomeNoOp, Reason: "escrowed hold", Invoice: inv}, nil
	}
	if ev.Amount+1e-9 < inv.Amount {
		s.ErrorLog.Printf("ledger: invoice %d (%s): amount mismatch, invoice %.2f, notified %.2f — needs manual review",
			inv.ID, inv.Label, inv.Amount, ev.Amount)
		return TransitionResult{}, models.ErrAmountMismatch
	}

	paidAt := ev.PaidAt
	if paidAt.IsZero() {
		paidAt = time.Now().UTC()
	}
	applied, err := s.Invoices.MarkPaid(ctx, inv.ID, ev.Provider, ev.Method, ev.OperationID, ev.Amount, paidAt)
	if err != nil {
		return TransitionResult{}, err
	}
	if !applied {
		// Проиграли гонку конкурентному пути — тот уже применил переход.
		cur, err := s.Invoices.GetByID(ctx, inv.ID)
		if err != nil {
			cur = inv
		}
		return TransitionResult{Outcome: OutcomeNoOp, Reason: "concurrent transition won", Invoice: cur}, nil
	}

	inv.Status = models.InvoiceStatusPaid
	inv.Provider = ev.Provider
	inv.PaymentMethod = ev.Method
	inv.ProviderTxID = ev.OperationID
	inv.PaidAt = &paidAt

	seats, err := s.MasterClasses.IncrementSeatsPaid(ctx, inv.MasterClassID)
	if err != nil {
		s.ErrorLog.Printf("ledger: increment seats for master class %d: %v", inv.MasterClassID, err)
	} else {
		s.Publisher.Publish(models.Event{
			Type:     models.EventMasterClassUpdate,
			Data:     models.MasterClassUpdateData{MasterClassID: inv.MasterClassID, SeatsPaid: seats},
			Channels: []string{models.ChannelSystem},
			Roles:    []string{"admin"},
		})
	}
	s.publishInvoiceUpdate(inv)
	s.InfoLog.Printf("ledger: invoice %d (%s) paid via %s, operation %s", inv.ID, inv.Label, ev.Provider, ev.OperationID)
	return TransitionResult{Outcome: OutcomeApplied, Invoice: inv}, nil
}

// Cancel applies the admin pending→cancelled transition.
func (s *LedgerService) Cancel(ctx context.Context, invoiceID int) (TransitionResult, error) {
	inv, err := s.Invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return TransitionResult{}, err
	}
	if inv.Status == models.InvoiceStatusCancelled {
		return TransitionResult{Outcome: OutcomeNoOp, Reason: "already cancelled", Invoice: inv}, nil
	}
	if !models.CanTransition(inv.Status, models.InvoiceStatusCancelled) {
		return TransitionResult{}, models.ErrInvalidTransition
	}
	applied, err := s.Invoices.Cancel(ctx, invoiceID)
	if err != nil {
		return TransitionResult{}, err
	}
	if !applied {
		cur, err := s.Invoices.GetByID(ctx, invoiceID)
		if err != nil {
			cur = inv
		}
		return TransitionResult{Outcome: OutcomeNoOp, Reason: "concurrent transition won", Invoice: cur}, nil
	}
	inv.Status = models.InvoiceStatusCancelled
	s.publishInvoiceUpdate(inv)
	return TransitionResult{Outcome: OutcomeApplied, Invoice: inv}, nil
}

// RequestRefund starts the refund flow for a paid invoice. A transient
// gateway failure does not lose the request: it is recorded and handed to the
// retry coordinator.
func (s *LedgerService) RequestRefund(ctx context.Context, invoiceID int, amount float64) (TransitionResult, error) {
	inv, err := s.Invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return TransitionResult{}, err
	}
	if inv.Status != models.InvoiceStatusPaid {
		return TransitionResult{}, models.ErrInvalidTransition
	}
	if inv.RefundStatus != models.RefundStatusNone {
		return TransitionResult{}, models.ErrInvalidTransition
	}
	prov, err := s.provider(inv.Provider)
	if err != nil {
		return TransitionResult{}, err
	}
	mc, err := s.MasterClasses.GetByID(ctx, inv.MasterClassID)
	if err != nil {
		return TransitionResult{}, err
	}
	if !prov.RefundEligible(mc.EventDate, time.Now()) {
		return TransitionResult{}, models.ErrRefundNotEligible
	}
	if amount <= 0 || amount > inv.Amount {
		amount = inv.Amount
	}

	requestID, err := prov.CreateRefund(ctx, inv.ProviderTxID, amount, []pay.RefundLineItem{
		{Name: inv.Description, Amount: amount},
	})
	if err != nil {
		if errors.Is(err, models.ErrProviderUnavailable) && s.Retries != nil {
			if applied, herr := s.Invoices.SetRefundRequested(ctx, inv.ID, amount, ""); herr == nil && applied {
				s.Retries.RecordFailure(ctx, inv.Label, models.RetryOpRefundCreate, inv.Provider, err)
				inv.RefundStatus = models.RefundStatusPending
				inv.RefundAmount = amount
				s.publishInvoiceUpdate(inv)
				return TransitionResult{Outcome: OutcomeApplied, Reason: "refund queued for retry", Invoice: inv}, nil
			}
		}
		return TransitionResult{}, err
	}

	applied, err := s.Invoices.SetRefundRequested(ctx, inv.ID, amount, requestID)
	if err != nil {
		return TransitionResult{}, err
	}
	if !applied {
		return TransitionResult{}, models.ErrInvalidTransition
	}
	inv.RefundStatus = models.RefundStatusPending
	inv.RefundAmount = amount
	inv.RefundReqID = requestID
	s.publishInvoiceUpdate(inv)
	return TransitionResult{Outcome: OutcomeApplied, Invoice: inv}, nil
}

// ApplyRefundState advances refund_status from a gateway poll result.
func (s *LedgerService) ApplyRefundState(ctx context.Context, inv models.Invoice, state pay.RefundState) (TransitionResult, error) {
	if inv.RefundStatus != models.RefundStatusPending {
		return TransitionResult{Outcome: OutcomeNoOp, Reason: "refund already " + inv.RefundStatus, Invoice: inv}, nil
	}
	var outcome string
	switch state.Status {
	case pay.RefundFinished:
		outcome = models.RefundStatusCompleted
	case pay.RefundCanceled:
		outcome = models.RefundStatusFailed
	default:
		return TransitionResult{Outcome: OutcomeNoOp, Reason: "refund still processing", Invoice: inv}, nil
	}

	now := time.Now().UTC()
	var refundedAt *time.Time
	if outcome == models.RefundStatusCompleted {
		refundedAt = &now
	}
	applied, err := s.Invoices.SetRefundOutcome(ctx, inv.ID, outcome, refundedAt)
	if err != nil {
		return TransitionResult{}, err
	}
	if !applied {
		return TransitionResult{Outcome: OutcomeNoOp, Reason: "concurrent transition won", Invoice: inv}, nil
	}
	inv.RefundStatus = outcome
	inv.RefundedAt = refundedAt
	s.publishInvoiceUpdate(inv)
	return TransitionResult{Outcome: OutcomeApplied, Invoice: inv}, nil
}

// RetryOperation re-executes a previously failed provider call. Invoked by
// the retry scheduler.
func (s *LedgerService) RetryOperation(ctx context.Context, attempt models.PaymentRetry) error {
	switch attempt.Operation {
	case models.RetryOpRefundCreate:
		inv, err := s.Invoices.GetByLabel(ctx, attempt.Label)
		if err != nil {
			return err
		}
		if inv.RefundStatus != models.RefundStatusPending || inv.RefundReqID != "" {
			return nil
		}
		prov, err := s.provider(inv.Provider)
		if err != nil {
			return err
		}
		amount := inv.RefundAmount
		if amount <= 0 {
			amount = inv.Amount
		}
		requestID, err := prov.CreateRefund(ctx, inv.ProviderTxID, amount, []pay.RefundLineItem{
			{Name: inv.Description, Amount: amount},
		})
		if err != nil {
			return err
		}
		return s.Invoices.SetRefundRequestID(ctx, inv.ID, requestID)
	case models.RetryOpStatusCheck:
		inv, err := s.Invoices.GetByLabel(ctx, attempt.Label)
		if err != nil {
			return err
		}
		if inv.Terminal() || inv.ProviderTxID == "" {
			return nil
		}
		prov, err := s.provider(inv.Provider)
		if err != nil {
			return err
		}
		st, err := prov.OperationStatus(ctx, inv.ProviderTxID)
		if err != nil {
			return err
		}
		if st.Succeeded {
			_, err = s.ApplyPayment(ctx, evidenceFromOperation(inv, st))
		}
		return err
	default:
		return fmt.Errorf("unknown retry operation %q", attempt.Operation)
	}
}

// AbandonOperation runs the terminal side effects after the retry budget is
// exhausted.
func (s *LedgerService) AbandonOperation(ctx context.Context, attempt models.PaymentRetry) (int, error) {
	inv, err := s.Invoices.GetByLabel(ctx, attempt.Label)
	if err != nil {
		return 0, err
	}
	if attempt.Operation == models.RetryOpRefundCreate && inv.RefundStatus == models.RefundStatusPending {
		if res, err := s.ApplyRefundState(ctx, inv, pay.RefundState{Status: pay.RefundCanceled}); err != nil {
			return inv.UserID, err
		} else if res.Outcome == OutcomeApplied {
			s.ErrorLog.Printf("ledger: refund for invoice %d (%s) abandoned after %d attempts", inv.ID, inv.Label, attempt.Attempt)
		}
	}
	return inv.UserID, nil
}

func (s *LedgerService) publishInvoiceUpdate(inv models.Invoice) {
	s.Publisher.Publish(models.Event{
		Type: models.EventInvoiceUpdate,
		Data: models.InvoiceUpdateData{
			InvoiceID:     inv.ID,
			Status:        inv.Status,
			RefundStatus:  inv.RefundStatus,
			MasterClassID: inv.MasterClassID,
		},
		UserIDs: []int{inv.UserID},
		Roles:   []string{"admin"},
	})
}

func evidenceFromOperation(inv models.Invoice, st pay.OperationState) PaymentEvidence {
	amount := inv.Amount
	if v, err := parseAmount(st.Amount); err == nil {
		amount = v
	}
	label := st.Label
	if label == "" {
		label = inv.Label
	}
	return PaymentEvidence{
		Label:       label,
		Provider:    inv.Provider,
		Amount:      amount,
		Method:      st.Method,
		OperationID: st.OperationID,
		Escrowed:    st.Escrowed,
	}
}
