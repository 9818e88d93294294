package pay

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"masterskayaBack/internal/models"
)

// InvoiceDraft is what the ledger knows about an invoice when asking a
// gateway to make it payable.
type InvoiceDraft struct {
	InvoiceID   int
	Label       string
	Amount      float64
	Currency    string
	Description string
}

// CreateInvoiceResult is either a redirect URL or a pre-signed form the
// frontend submits to the gateway, plus the gateway's own invoice id when it
// assigns one at creation time.
type CreateInvoiceResult struct {
	PaymentURL        string
	FormAction        string
	FormFields        url.Values
	ProviderInvoiceID string
}

// RefundLineItem describes one position of a partial refund.
type RefundLineItem struct {
	Name   string
	Amount float64
}

// Статусы возврата на стороне шлюза.
const (
	RefundFinished   = "finished"
	RefundProcessing = "processing"
	RefundCanceled   = "canceled"
)

// RefundState is the gateway's view of a refund request.
type RefundState struct {
	Amount float64
	Status string
}

// OperationState is the gateway's view of a payment operation, as returned by
// polling. Label carries the correlation key back to the ledger.
type OperationState struct {
	Succeeded   bool
	Status      string
	Label       string
	Amount      string
	OperationID string
	Method      string
	Escrowed    bool
}

// Provider abstracts one payment gateway. The reconciliation engine only ever
// talks to this interface; adding a gateway must not touch ledger logic.
type Provider interface {
	Name() string

	CreateInvoice(ctx context.Context, draft InvoiceDraft) (CreateInvoiceResult, error)

	// VerifyNotification is pure: it checks the signature against the shared
	// secret and mutates nothing.
	VerifyNotification(n models.PaymentNotification) bool

	// CreateRefund returns the gateway's refund request id. Callers must check
	// the invoice refund status first: the call is not idempotent.
	CreateRefund(ctx context.Context, operationID string, amount float64, items []RefundLineItem) (string, error)

	RefundStatus(ctx context.Context, requestID string) (RefundState, error)

	// RefundEligible is a pure date-window policy, independent of gateway
	// availability.
	RefundEligible(eventDate, now time.Time) bool

	OperationStatus(ctx context.Context, operationID string) (OperationState, error)
}

// APIError is a non-2xx gateway response.
type APIError struct {
	Provider   string
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	bt := strings.TrimSpace(e.Body)
	if bt == "" {
		return fmt.Sprintf("%s error: %s", e.Provider, e.Status)
	}
	return fmt.Sprintf("%s error: %s: %s", e.Provider, e.Status, bt)
}

func trimBody(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
