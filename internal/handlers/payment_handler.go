package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"masterskayaBack/internal/models"
	"masterskayaBack/internal/pay"
	services "masterskayaBack/internal/services"
)

type PaymentHandler struct {
	Ledger    *services.LedgerService
	Reconcile *services.ReconcileService

	// Browser return targets after the gateway form.
	SuccessURL string
	FailureURL string
}

// POST /payment
// { "master_class_id": 12, "amount": 3500.00, "description": "Гончарное дело", "provider": "wallet" }
func (h *PaymentHandler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MasterClassID int64   `json:"master_class_id"`
		Amount        float64 `json:"amount"`
		Description   string  `json:"description"`
		Provider      string  `json:"provider"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	userID, _ := r.Context().Value("user_id").(int)
	if userID == 0 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if req.Provider == "" {
		req.Provider = pay.ProviderWallet
	}

	inv, res, err := h.Ledger.CreatePayment(r.Context(), userID, req.MasterClassID, req.Amount, req.Description, req.Provider)
	switch {
	case errors.Is(err, models.ErrInvalidInvoiceData) || errors.Is(err, models.ErrMasterClassNotFound):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		http.Error(w, "create payment: "+err.Error(), http.StatusInternalServerError)
		return
	}

	_ = json.NewEncoder(w).Encode(map[string]any{
		"invoice_id":  inv.ID,
		"label":       inv.Label,
		"payment_url": res.PaymentURL,
		"form_action": res.FormAction,
		"form_fields": flattenForm(res.FormFields),
	})
}

// POST /payment/wallet/notify  (application/x-www-form-urlencoded)
// Кошелёк шлёт повторы, пока не получит 200 — подтверждаем всё, кроме
// битой подписи.
func (h *PaymentHandler) WalletNotify(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	n := models.PaymentNotification{
		OperationID: r.FormValue("operation_id"),
		Amount:      r.FormValue("amount"),
		Currency:    r.FormValue("currency"),
		DateTime:    r.FormValue("datetime"),
		Sender:      r.FormValue("sender"),
		Escrowed:    r.FormValue("codepro") == "true",
		Label:       r.FormValue("label"),
		Signature:   r.FormValue("sha1_hash"),
	}

	err := h.Reconcile.ProcessNotification(r.Context(), pay.ProviderWallet, n)
	switch {
	case errors.Is(err, models.ErrSignatureInvalid):
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	case err != nil:
		http.Error(w, "process notification: "+err.Error(), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write([]byte("OK" + n.Label))
}

// POST /payment/acquiring/callback  (JSON + X-Signature)
func (h *PaymentHandler) AcquiringCallback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OperationID string `json:"operation_id"`
		Label       string `json:"order_id"`
		Amount      string `json:"amount"`
		Currency    string `json:"currency"`
		DateTime    string `json:"datetime"`
		Sender      string `json:"sender"`
		Escrowed    bool   `json:"escrowed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	n := models.PaymentNotification{
		OperationID: req.OperationID,
		Label:       req.Label,
		Amount:      req.Amount,
		Currency:    req.Currency,
		DateTime:    req.DateTime,
		Sender:      req.Sender,
		Escrowed:    req.Escrowed,
		Signature:   r.Header.Get("X-Signature"),
	}

	err := h.Reconcile.ProcessNotification(r.Context(), pay.ProviderAcquiring, n)
	switch {
	case errors.Is(err, models.ErrSignatureInvalid):
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	case err != nil:
		http.Error(w, "process notification: "+err.Error(), http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
}

// GET /payment/history/:user_id
func (h *PaymentHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.Atoi(r.URL.Query().Get(":user_id"))
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}
	// обычный пользователь видит только свою историю
	if role, _ := r.Context().Value("role").(string); role != "admin" {
		if authID, _ := r.Context().Value("user_id").(int); authID != userID {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}
	items, err := h.Ledger.Invoices.HistoryByUser(r.Context(), userID)
	if err != nil {
		http.Error(w, "payment history: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []models.PaymentHistoryItem{}
	}
	_ = json.NewEncoder(w).Encode(items)
}

// GET /payment/success — браузерный возврат со страницы оплаты.
func (h *PaymentHandler) SuccessRedirect(w http.ResponseWriter, r *http.Request) {
	h.redirect(w, r, h.SuccessURL, "Оплата принята. Статус обновится после подтверждения платёжной системы.")
}

// GET /payment/failure
func (h *PaymentHandler) FailureRedirect(w http.ResponseWriter, r *http.Request) {
	h.redirect(w, r, h.FailureURL, "Оплата не завершена. Попробуйте ещё раз.")
}

func (h *PaymentHandler) redirect(w http.ResponseWriter, r *http.Request, target, fallback string) {
	if target != "" {
		http.Redirect(w, r, target, http.StatusFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(fallback))
}

func flattenForm(v url.Values) map[string]string {
	if len(v) == 0 {
		return nil
	}
	out := make(map[string]string, len(v))
	for k := range v {
		out[k] = v.Get(k)
	}
	return out
}
