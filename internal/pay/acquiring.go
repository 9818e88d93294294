package pay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"masterskayaBack/internal/models"
)

// ProviderAcquiring is the registry name of the card-acquiring gateway.
const ProviderAcquiring = "acquiring"

// AcquiringConfig configures the acquiring gateway. Every outbound request
// carries an HMAC-SHA256 token of the body in X-Signature; inbound callbacks
// carry the same token over the documented field concatenation. RefundKey is a
// separate credential: without it refund calls are rejected locally.
type AcquiringConfig struct {
	MerchantID  string
	Secret      string
	RefundKey   string
	BaseURL     string // пример: https://ps.acquiring.kz/api
	CallbackURL string

	Client *http.Client
	Logger *slog.Logger
}

// AcquiringProvider implements Provider for the acquiring gateway.
type AcquiringProvider struct {
	merchantID  string
	secret      string
	refundKey   string
	baseURL     *url.URL
	callbackURL string

	httpClient *http.Client
	logger     *slog.Logger
}

func NewAcquiringProvider(cfg AcquiringConfig) (*AcquiringProvider, error) {
	if strings.TrimSpace(cfg.MerchantID) == "" ||
		strings.TrimSpace(cfg.Secret) == "" ||
		strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("acquiring: merchant_id/secret/base_url are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("acquiring: parse base url: %w", err)
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &AcquiringProvider{
		merchantID:  cfg.MerchantID,
		secret:      cfg.Secret,
		refundKey:   cfg.RefundKey,
		baseURL:     u,
		callbackURL: cfg.CallbackURL,
		httpClient:  client,
		logger:      logger,
	}, nil
}

func (p *AcquiringProvider) Name() string { return ProviderAcquiring }

func (p *AcquiringProvider) CreateInvoice(ctx context.Context, draft InvoiceDraft) (CreateInvoiceResult, error) {
	if draft.Amount <= 0 || strings.TrimSpace(draft.Label) == "" {
		return CreateInvoiceResult{}, models.ErrInvalidInvoiceData
	}
	payload := map[string]any{
		"merchant_id":  p.merchantID,
		"order_id":     draft.Label,
		"amount":       FormatAmount(draft.Amount),
		"currency":     draft.Currency,
		"description":  draft.Description,
		"callback_url": p.callbackURL,
	}
	var out struct {
		Success    bool   `json:"success"`
		PaymentURL string `json:"payment_url"`
		InvoiceID  string `json:"invoice_id"`
		Message    string `json:"message"`
	}
	if err := p.call(ctx, http.MethodPost, "payment", payload, &out); err != nil {
		return CreateInvoiceResult{}, err
	}
	if !out.Success || strings.TrimSpace(out.PaymentURL) == "" {
		return CreateInvoiceResult{}, fmt.Errorf("%w: %s", models.ErrInvalidInvoiceData, out.Message)
	}
	return CreateInvoiceResult{
		PaymentURL:        out.PaymentURL,
		ProviderInvoiceID: out.InvoiceID,
	}, nil
}

// VerifyNotification checks the HMAC token over the documented concatenation:
// operation_id&label&amount&currency&datetime&sender&escrowed.
func (p *AcquiringProvider) VerifyNotification(n models.PaymentNotification) bool {
	if strings.TrimSpace(n.Signature) == "" {
		return false
	}
	computed := TokenHMACSHA256([]byte(notificationPayload(n)), p.secret)
	return EqualDigests(n.Signature, computed)
}

func notificationPayload(n models.PaymentNotification) string {
	return strings.Join([]string{
		n.OperationID,
		n.Label,
		n.Amount,
		n.Currency,
		n.DateTime,
		n.Sender,
		boolField(n.Escrowed),
	}, "&")
}

func (p *AcquiringProvider) CreateRefund(ctx context.Context, operationID string, amount float64, items []RefundLineItem) (string, error) {
	if strings.TrimSpace(p.refundKey) == "" {
		return "", models.ErrRefundNotConfigured
	}
	lines := make([]map[string]any, 0, len(items))
	for _, it := range items {
		lines = append(lines, map[string]any{"name": it.Name, "amount": FormatAmount(it.Amount)})
	}
	payload := map[string]any{
		"merchant_id":  p.merchantID,
		"operation_id": operationID,
		"amount":       FormatAmount(amount),
		"refund_key":   p.refundKey,
		"items":        lines,
	}
	var out struct {
		Success   bool   `json:"success"`
		RequestID string `json:"request_id"`
		Message   string `json:"message"`
	}
	if err := p.call(ctx, http.MethodPost, "payment/refund", payload, &out); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError {
			return "", &models.RefundRejectedError{Provider: ProviderAcquiring, Message: apiErr.Body}
		}
		return "", err
	}
	if !out.Success {
		return "", &models.RefundRejectedError{Provider: ProviderAcquiring, Message: out.Message}
	}
	return out.RequestID, nil
}

func (p *AcquiringProvider) RefundStatus(ctx context.Context, requestID string) (RefundState, error) {
	payload := map[string]any{
		"merchant_id": p.merchantID,
		"request_id":  requestID,
	}
	var out struct {
		Status string `json:"status"`
		Amount string `json:"amount"`
	}
	if err := p.call(ctx, http.MethodPost, "payment/refund/status", payload, &out); err != nil {
		return RefundState{}, err
	}
	state := RefundState{}
	if v, err := strconv.ParseFloat(strings.TrimSpace(out.Amount), 64); err == nil {
		state.Amount = v
	}
	switch out.Status {
	case "finished", "success":
		state.Status = RefundFinished
	case "processing", "in_progress":
		state.Status = RefundProcessing
	default:
		state.Status = RefundCanceled
	}
	return state, nil
}

func (p *AcquiringProvider) RefundEligible(eventDate, now time.Time) bool {
	return now.Before(eventDate)
}

func (p *AcquiringProvider) OperationStatus(ctx context.Context, operationID string) (OperationState, error) {
	payload := map[string]any{
		"merchant_id":  p.merchantID,
		"operation_id": operationID,
	}
	var out struct {
		Status   string `json:"status"`
		Paid     bool   `json:"paid"`
		OrderID  string `json:"order_id"`
		Amount   string `json:"amount"`
		Method   string `json:"method"`
		Escrowed bool   `json:"escrowed"`
	}
	if err := p.call(ctx, http.MethodPost, "payment/status", payload, &out); err != nil {
		return OperationState{}, err
	}
	return OperationState{
		Succeeded:   out.Paid && !out.Escrowed,
		Status:      out.Status,
		Label:       out.OrderID,
		Amount:      out.Amount,
		OperationID: operationID,
		Method:      out.Method,
		Escrowed:    out.Escrowed,
	}, nil
}

func (p *AcquiringProvider) call(ctx context.Context, method, endpoint string, payload map[string]any, out any) error {
	u := *p.baseURL
	u.Path = path.Join(u.Path, endpoint)

	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("acquiring %s: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", TokenHMACSHA256(body, p.secret))

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: acquiring %s: %v", models.ErrProviderUnavailable, endpoint, err)
	}
	defer resp.Body.Close()

	b, _ := io.ReadAll(resp.Body)
	p.logger.Debug("acquiring api raw", "endpoint", endpoint, "status", resp.Status, "body", trimBody(string(b), 2000))

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: %v", models.ErrProviderUnavailable,
			&APIError{Provider: ProviderAcquiring, StatusCode: resp.StatusCode, Status: resp.Status, Body: string(b)})
	}
	if resp.StatusCode >= 300 {
		return &APIError{Provider: ProviderAcquiring, StatusCode: resp.StatusCode, Status: resp.Status, Body: string(b)}
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("acquiring %s: decode: %w", endpoint, err)
	}
	return nil
}

var _ Provider = (*AcquiringProvider)(nil)
