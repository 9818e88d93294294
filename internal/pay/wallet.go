package pay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"masterskayaBack/internal/models"
)

// ProviderWallet is the registry name of the wallet gateway.
const ProviderWallet = "wallet"

// WalletConfig configures the P2P wallet gateway (quickpay form + keyed-hash
// webhook). NotificationSecret signs inbound webhooks; Token authorizes
// outbound API calls (operation details, refunds). Without a token the
// provider still works for webhook-only reconciliation.
type WalletConfig struct {
	Receiver           string // номер кошелька-получателя
	NotificationSecret string
	Token              string

	QuickpayURL string // пример: https://yoomoney.ru/quickpay/confirm.xml
	APIBaseURL  string // пример: https://yoomoney.ru/api

	Client *http.Client
	Logger *slog.Logger
}

// WalletProvider implements Provider for the wallet gateway.
type WalletProvider struct {
	receiver    string
	secret      string
	token       string
	quickpayURL string
	apiBase     *url.URL

	httpClient *http.Client
	logger     *slog.Logger
}

func NewWalletProvider(cfg WalletConfig) (*WalletProvider, error) {
	if strings.TrimSpace(cfg.Receiver) == "" || strings.TrimSpace(cfg.NotificationSecret) == "" {
		return nil, fmt.Errorf("wallet: receiver/notification_secret are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	apiBase := cfg.APIBaseURL
	if apiBase == "" {
		apiBase = "https://yoomoney.ru/api"
	}
	u, err := url.Parse(apiBase)
	if err != nil {
		return nil, fmt.Errorf("wallet: parse api base url: %w", err)
	}
	quickpay := cfg.QuickpayURL
	if quickpay == "" {
		quickpay = "https://yoomoney.ru/quickpay/confirm.xml"
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &WalletProvider{
		receiver:    cfg.Receiver,
		secret:      cfg.NotificationSecret,
		token:       cfg.Token,
		quickpayURL: quickpay,
		apiBase:     u,
		httpClient:  client,
		logger:      logger,
	}, nil
}

func (p *WalletProvider) Name() string { return ProviderWallet }

// CreateInvoice returns the quickpay form fields the frontend renders and
// submits; the wallet assigns its operation id only when money arrives.
func (p *WalletProvider) CreateInvoice(_ context.Context, draft InvoiceDraft) (CreateInvoiceResult, error) {
	if draft.Amount <= 0 {
		return CreateInvoiceResult{}, models.ErrInvalidInvoiceData
	}
	fields := url.Values{}
	fields.Set("receiver", p.receiver)
	fields.Set("quickpay-form", "shop")
	fields.Set("targets", draft.Description)
	fields.Set("sum", FormatAmount(draft.Amount))
	fields.Set("label", draft.Label)
	fields.Set("paymentType", "AC")
	return CreateInvoiceResult{
		FormAction: p.quickpayURL,
		FormFields: fields,
	}, nil
}

// VerifyNotification checks the keyed SHA-1 hash. Field order is fixed by the
// gateway docs: operation_id&amount&currency&datetime&sender&codepro&secret&label.
func (p *WalletProvider) VerifyNotification(n models.PaymentNotification) bool {
	if strings.TrimSpace(n.Signature) == "" {
		return false
	}
	computed := KeyedSHA1Hex(
		n.OperationID,
		n.Amount,
		n.Currency,
		n.DateTime,
		n.Sender,
		boolField(n.Escrowed),
		p.secret,
		n.Label,
	)
	return EqualDigests(n.Signature, computed)
}

func boolField(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func (p *WalletProvider) CreateRefund(ctx context.Context, operationID string, amount float64, items []RefundLineItem) (string, error) {
	if strings.TrimSpace(p.token) == "" {
		return "", models.ErrRefundNotConfigured
	}
	body := map[string]any{
		"operation_id": operationID,
		"amount":       FormatAmount(amount),
	}
	if len(items) > 0 {
		body["items"] = items
	}
	var out struct {
		RequestID string `json:"request_id"`
		Status    string `json:"status"`
		Error     string `json:"error"`
	}
	if err := p.call(ctx, "refund", body, &out); err != nil {
		return "", err
	}
	if out.Status == "refused" || out.Error != "" {
		return "", &models.RefundRejectedError{Provider: ProviderWallet, Message: out.Error}
	}
	if strings.TrimSpace(out.RequestID) == "" {
		return "", fmt.Errorf("wallet: empty refund request_id")
	}
	return out.RequestID, nil
}

func (p *WalletProvider) RefundStatus(ctx context.Context, requestID string) (RefundState, error) {
	if strings.TrimSpace(p.token) == "" {
		return RefundState{}, models.ErrRefundNotConfigured
	}
	var out struct {
		Status string  `json:"status"`
		Amount float64 `json:"amount"`
	}
	if err := p.call(ctx, "refund-details", map[string]any{"request_id": requestID}, &out); err != nil {
		return RefundState{}, err
	}
	state := RefundState{Amount: out.Amount}
	switch out.Status {
	case "success":
		state.Status = RefundFinished
	case "in_progress":
		state.Status = RefundProcessing
	default:
		state.Status = RefundCanceled
	}
	return state, nil
}

// RefundEligible: возврат возможен только до даты проведения мастер-класса.
func (p *WalletProvider) RefundEligible(eventDate, now time.Time) bool {
	return now.Before(eventDate)
}

func (p *WalletProvider) OperationStatus(ctx context.Context, operationID string) (OperationState, error) {
	if strings.TrimSpace(p.token) == "" {
		return OperationState{}, fmt.Errorf("wallet: api token is not configured")
	}
	var out struct {
		OperationID string `json:"operation_id"`
		Status      string `json:"status"`
		Amount      string `json:"amount"`
		Label       string `json:"label"`
		Codepro     bool   `json:"codepro"`
		Type        string `json:"type"`
	}
	if err := p.call(ctx, "operation-details", map[string]any{"operation_id": operationID}, &out); err != nil {
		return OperationState{}, err
	}
	return OperationState{
		Succeeded:   out.Status == "success" && !out.Codepro,
		Status:      out.Status,
		Label:       out.Label,
		Amount:      out.Amount,
		OperationID: out.OperationID,
		Method:      out.Type,
		Escrowed:    out.Codepro,
	}, nil
}

func (p *WalletProvider) call(ctx context.Context, method string, body map[string]any, out any) error {
	endpoint := *p.apiBase
	endpoint.Path = path.Join(endpoint.Path, method)

	raw, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("wallet %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: wallet %s: %v", models.ErrProviderUnavailable, method, err)
	}
	defer resp.Body.Close()

	b, _ := io.ReadAll(resp.Body)
	p.logger.Debug("wallet api raw", "method", method, "status", resp.Status, "body", trimBody(string(b), 2000))

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: %v", models.ErrProviderUnavailable,
			&APIError{Provider: ProviderWallet, StatusCode: resp.StatusCode, Status: resp.Status, Body: string(b)})
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{Provider: ProviderWallet, StatusCode: resp.StatusCode, Status: resp.Status, Body: string(b)}
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("wallet %s: decode: %w", method, err)
	}
	return nil
}

var _ Provider = (*WalletProvider)(nil)
