package models

import (
	"time"
)

// Статусы счёта. paid и cancelled — терминальные.
const (
	InvoiceStatusPending   = "pending"
	InvoiceStatusPaid      = "paid"
	InvoiceStatusCancelled = "cancelled"
)

// Статусы возврата. Отдельная ось от статуса счёта.
const (
	RefundStatusNone      = "none"
	RefundStatusPending   = "pending"
	RefundStatusCompleted = "completed"
	RefundStatusFailed    = "failed"
)

var invoiceTransitions = map[string]map[string]struct{}{
	InvoiceStatusPending: {
		InvoiceStatusPaid:      {},
		InvoiceStatusCancelled: {},
	},
	InvoiceStatusPaid:      {},
	InvoiceStatusCancelled: {},
}

var refundTransitions = map[string]map[string]struct{}{
	RefundStatusNone: {
		RefundStatusPending: {},
	},
	RefundStatusPending: {
		RefundStatusCompleted: {},
		RefundStatusFailed:    {},
	},
	RefundStatusCompleted: {},
	RefundStatusFailed:    {},
}

// CanTransition reports whether an invoice may move from one status to another.
// Same-status "transitions" are allowed so that duplicate evidence stays a no-op.
func CanTransition(from, to string) bool {
	if from == to {
		return true
	}
	allowed, ok := invoiceTransitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}

// RefundCanAdvance reports whether the refund status may advance. Never regresses.
func RefundCanAdvance(from, to string) bool {
	if from == to {
		return true
	}
	allowed, ok := refundTransitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}

// Invoice represents a participant's payable obligation for one master class.
// Amount is frozen at creation; Label is the correlation key the gateways echo back.
type Invoice struct {
	ID            int        `json:"id"`
	UserID        int        `json:"user_id"`
	MasterClassID int64      `json:"master_class_id"`
	Amount        float64    `json:"amount"`
	Description   string     `json:"description"`
	Label         string     `json:"label"`
	Status        string     `json:"status"`
	RefundStatus  string     `json:"refund_status"`
	Provider      string     `json:"provider,omitempty"`
	ProviderTxID  string     `json:"provider_tx_id,omitempty"`
	PaymentMethod string     `json:"payment_method,omitempty"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
	RefundAmount  float64    `json:"refund_amount,omitempty"`
	RefundReqID   string     `json:"refund_request_id,omitempty"`
	RefundedAt    *time.Time `json:"refunded_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Terminal reports whether no further payment transition is possible.
func (inv *Invoice) Terminal() bool {
	return inv.Status != InvoiceStatusPending
}
