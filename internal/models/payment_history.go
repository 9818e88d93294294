package models

import (
	"time"
)

// PaymentHistoryItem is an append-only record of a confirmed payment.
// Exactly one row per paid invoice regardless of how many notifications arrive.
type PaymentHistoryItem struct {
	ID           int64     `json:"id"`
	InvoiceID    int       `json:"invoice_id"`
	Provider     string    `json:"provider"`
	Amount       float64   `json:"amount"`
	Method       string    `json:"method,omitempty"`
	ProviderTxID string    `json:"provider_tx_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
