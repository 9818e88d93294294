package pay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"masterskayaBack/internal/models"
)

func walletNotification(secret string) models.PaymentNotification {
	n := models.PaymentNotification{
		OperationID: "op-42",
		Amount:      "3500.00",
		Currency:    "643",
		DateTime:    "2026-08-01T10:00:00Z",
		Sender:      "41001000000",
		Escrowed:    false,
		Label:       "d6f1f1a0-1111-2222-3333-444455556666",
	}
	n.Signature = KeyedSHA1Hex(n.OperationID, n.Amount, n.Currency, n.DateTime, n.Sender, "false", secret, n.Label)
	return n
}

func TestWalletVerifyNotification(t *testing.T) {
	p, err := NewWalletProvider(WalletConfig{Receiver: "410011234567890", NotificationSecret: "notify-secret"})
	if err != nil {
		t.Fatal(err)
	}

	n := walletNotification("notify-secret")
	if !p.VerifyNotification(n) {
		t.Fatal("expected valid signature")
	}

	bad := n
	bad.Amount = "3500.01"
	if p.VerifyNotification(bad) {
		t.Fatal("mutated amount must invalidate signature")
	}

	wrongSecret := walletNotification("other-secret")
	if p.VerifyNotification(wrongSecret) {
		t.Fatal("signature from wrong secret must not verify")
	}

	unsigned := n
	unsigned.Signature = ""
	if p.VerifyNotification(unsigned) {
		t.Fatal("empty signature must not verify")
	}
}

func TestWalletEscrowedSignature(t *testing.T) {
	p, _ := NewWalletProvider(WalletConfig{Receiver: "41001", NotificationSecret: "s"})
	n := models.PaymentNotification{
		OperationID: "op-1", Amount: "100.00", Currency: "643",
		DateTime: "2026-08-01T10:00:00Z", Sender: "41002", Escrowed: true, Label: "l",
	}
	n.Signature = KeyedSHA1Hex(n.OperationID, n.Amount, n.Currency, n.DateTime, n.Sender, "true", "s", n.Label)
	if !p.VerifyNotification(n) {
		t.Fatal("escrowed flag must enter the canonical string as true")
	}
}

func TestWalletCreateInvoiceForm(t *testing.T) {
	p, _ := NewWalletProvider(WalletConfig{Receiver: "410011234567890", NotificationSecret: "s"})
	res, err := p.CreateInvoice(context.Background(), InvoiceDraft{
		InvoiceID: 7, Label: "label-7", Amount: 4200, Currency: "643", Description: "Мастер-класс",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.FormAction == "" {
		t.Fatal("expected quickpay form action")
	}
	if got := res.FormFields.Get("sum"); got != "4200.00" {
		t.Fatalf("sum = %q", got)
	}
	if got := res.FormFields.Get("label"); got != "label-7" {
		t.Fatalf("label = %q", got)
	}
	if got := res.FormFields.Get("receiver"); got != "410011234567890" {
		t.Fatalf("receiver = %q", got)
	}

	if _, err := p.CreateInvoice(context.Background(), InvoiceDraft{Amount: 0}); !errors.Is(err, models.ErrInvalidInvoiceData) {
		t.Fatalf("zero amount: got %v", err)
	}
}

func TestWalletRefundWithoutToken(t *testing.T) {
	p, _ := NewWalletProvider(WalletConfig{Receiver: "41001", NotificationSecret: "s"})
	if _, err := p.CreateRefund(context.Background(), "op-1", 100, nil); !errors.Is(err, models.ErrRefundNotConfigured) {
		t.Fatalf("got %v", err)
	}
}

func TestWalletCreateRefund(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/refund" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer api-token" {
			t.Fatalf("authorization = %q", got)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["operation_id"] != "op-9" {
			t.Fatalf("operation_id = %v", body["operation_id"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"request_id": "req-1", "status": "success"})
	}))
	defer srv.Close()

	p, _ := NewWalletProvider(WalletConfig{
		Receiver: "41001", NotificationSecret: "s", Token: "api-token",
		APIBaseURL: srv.URL, Client: srv.Client(),
	})
	reqID, err := p.CreateRefund(context.Background(), "op-9", 500, []RefundLineItem{{Name: "Возврат", Amount: 500}})
	if err != nil {
		t.Fatal(err)
	}
	if reqID != "req-1" {
		t.Fatalf("request id = %q", reqID)
	}
}

func TestWalletCreateRefundRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "refused", "error": "illegal_param_operation_id"})
	}))
	defer srv.Close()

	p, _ := NewWalletProvider(WalletConfig{
		Receiver: "41001", NotificationSecret: "s", Token: "t",
		APIBaseURL: srv.URL, Client: srv.Client(),
	})
	_, err := p.CreateRefund(context.Background(), "bad-op", 500, nil)
	var rejected *models.RefundRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("got %v", err)
	}
}

func TestWalletServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	p, _ := NewWalletProvider(WalletConfig{
		Receiver: "41001", NotificationSecret: "s", Token: "t",
		APIBaseURL: srv.URL, Client: srv.Client(),
	})
	if _, err := p.OperationStatus(context.Background(), "op-1"); !errors.Is(err, models.ErrProviderUnavailable) {
		t.Fatalf("got %v", err)
	}
}

func TestWalletOperationStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"operation_id": "op-5", "status": "success", "amount": "3500.00",
			"label": "label-5", "codepro": false, "type": "p2p-incoming",
		})
	}))
	defer srv.Close()

	p, _ := NewWalletProvider(WalletConfig{
		Receiver: "41001", NotificationSecret: "s", Token: "t",
		APIBaseURL: srv.URL, Client: srv.Client(),
	})
	st, err := p.OperationStatus(context.Background(), "op-5")
	if err != nil {
		t.Fatal(err)
	}
	if !st.Succeeded || st.Label != "label-5" || st.Amount != "3500.00" {
		t.Fatalf("unexpected state %+v", st)
	}
}
