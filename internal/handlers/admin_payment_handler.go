package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"masterskayaBack/internal/models"
	services "masterskayaBack/internal/services"
)

type AdminPaymentHandler struct {
	Ledger    *services.LedgerService
	Reconcile *services.ReconcileService
}

// POST /payment/:id/refund
// { "amount": 3500.00 } — amount опционален, по умолчанию полная сумма.
func (h *AdminPaymentHandler) RefundCreate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.URL.Query().Get(":id"))
	if err != nil {
		http.Error(w, "invalid invoice id", http.StatusBadRequest)
		return
	}
	var req struct {
		Amount float64 `json:"amount"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	res, err := h.Ledger.RequestRefund(r.Context(), id, req.Amount)
	if err != nil {
		writeTransitionError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"outcome":       res.Outcome,
		"refund_status": res.Invoice.RefundStatus,
	})
}

// POST /admin/payments/cancel/:id
func (h *AdminPaymentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.URL.Query().Get(":id"))
	if err != nil {
		http.Error(w, "invalid invoice id", http.StatusBadRequest)
		return
	}
	res, err := h.Ledger.Cancel(r.Context(), id)
	if err != nil {
		writeTransitionError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"outcome": res.Outcome,
		"status":  res.Invoice.Status,
	})
}

// POST /admin/payments/sync — принудительная сверка всех pending-счетов.
func (h *AdminPaymentHandler) SyncPending(w http.ResponseWriter, r *http.Request) {
	sum := h.Reconcile.SyncPending(r.Context())
	_ = json.NewEncoder(w).Encode(sum)
}

// POST /admin/payments/check/:id
func (h *AdminPaymentHandler) CheckInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.URL.Query().Get(":id"))
	if err != nil {
		http.Error(w, "invalid invoice id", http.StatusBadRequest)
		return
	}
	res, err := h.Reconcile.CheckInvoice(r.Context(), id)
	if err != nil {
		writeTransitionError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"outcome": res.Outcome,
		"reason":  res.Reason,
		"status":  res.Invoice.Status,
	})
}

// POST /admin/payments/polling/start
func (h *AdminPaymentHandler) StartPolling(w http.ResponseWriter, r *http.Request) {
	// контекст запроса умирает вместе с ответом — циклу нужен свой
	started := h.Reconcile.StartPolling(context.Background())
	_ = json.NewEncoder(w).Encode(map[string]any{"running": true, "started": started})
}

// POST /admin/payments/polling/stop
func (h *AdminPaymentHandler) StopPolling(w http.ResponseWriter, r *http.Request) {
	stopped := h.Reconcile.StopPolling()
	_ = json.NewEncoder(w).Encode(map[string]any{"running": false, "stopped": stopped})
}

func writeTransitionError(w http.ResponseWriter, err error) {
	var rejected *models.RefundRejectedError
	switch {
	case errors.Is(err, models.ErrInvoiceNotFound) || errors.Is(err, models.ErrMasterClassNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, models.ErrInvalidTransition) || errors.Is(err, models.ErrRefundNotEligible):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, models.ErrRefundNotConfigured):
		http.Error(w, err.Error(), http.StatusNotImplemented)
	case errors.As(err, &rejected):
		http.Error(w, rejected.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, models.ErrProviderUnavailable):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
