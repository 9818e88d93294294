package models

import (
	"errors"
	"fmt"
)

var (
	ErrNoRecord            = errors.New("models: no matching record found")
	ErrInvoiceNotFound     = errors.New("models: invoice not found")
	ErrMasterClassNotFound = errors.New("models: master class not found")
	ErrSignatureInvalid    = errors.New("models: notification signature invalid")
	ErrAmountMismatch      = errors.New("models: notification amount does not cover invoice")
	ErrInvalidTransition   = errors.New("models: invalid invoice status transition")
	ErrProviderUnavailable = errors.New("models: payment provider unavailable")
	ErrInvalidInvoiceData  = errors.New("models: invoice data rejected by provider")
	ErrRefundNotConfigured = errors.New("models: refund credential is not configured")
	ErrRefundNotEligible   = errors.New("models: refund window has closed")
	ErrRetryNotFound       = errors.New("models: retry attempt not found")
)

// RefundRejectedError carries the provider's own rejection message so the
// admin caller sees it verbatim.
type RefundRejectedError struct {
	Provider string
	Message  string
}

func (e *RefundRejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: refund rejected", e.Provider)
	}
	return fmt.Sprintf("%s: refund rejected: %s", e.Provider, e.Message)
}
