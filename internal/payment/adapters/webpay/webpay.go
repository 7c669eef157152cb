// Package webpay implements the synchronous-redirect gateway shape:
// initiate returns a token plus redirect URL, and funds are only
// confirmed by an explicit commit on the return-URL leg.
package webpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/facturante/facturante/internal/clock"
	invoicedomain "github.com/facturante/facturante/internal/invoice/domain"
	"github.com/facturante/facturante/internal/payment/domain"
)

const transactionsPath = "/rswebpaytransaction/api/webpay/v1.2/transactions"

type Factory struct {
	client *http.Client
}

func NewFactory() *Factory {
	return &Factory{client: &http.Client{Timeout: 10 * time.Second}}
}

func (f *Factory) Provider() string {
	return "webpay"
}

// NewAdapter degrades to simulation mode when commerce credentials are
// absent so sandbox deployments can exercise the full flow.
func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.GatewayAdapter, error) {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.NewSystemClock()
	}

	commerceCode, _ := readString(cfg.Config, "commerce_code")
	apiKey, _ := readString(cfg.Config, "api_key")
	baseURL, _ := readString(cfg.Config, "base_url")
	if baseURL == "" {
		baseURL = "https://webpay3g.transbank.cl"
	}

	return &Adapter{
		orgID:        cfg.OrgID,
		commerceCode: strings.TrimSpace(commerceCode),
		apiKey:       strings.TrimSpace(apiKey),
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       f.client,
		clk:          clk,
	}, nil
}

type Adapter struct {
	orgID        snowflake.ID
	commerceCode string
	apiKey       string
	baseURL      string
	client       *http.Client
	clk          clock.Clock
}

func (a *Adapter) Provider() string { return "webpay" }

func (a *Adapter) simulated() bool {
	return a.commerceCode == "" || a.apiKey == ""
}

type createResponse struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

type transactionResponse struct {
	Status          string `json:"status"`
	ResponseCode    *int   `json:"response_code"`
	TransactionDate string `json:"transaction_date"`
}

func (a *Adapter) Initiate(ctx context.Context, invoice *invoicedomain.Invoice, payment *domain.Payment, opts domain.InitiateOptions) domain.GatewayResult {
	if a.simulated() {
		return a.simulatedPaid(payment.ID)
	}

	body := map[string]any{
		"buy_order":  payment.ID.String(),
		"session_id": fmt.Sprintf("%s-%s", a.orgID.String(), payment.ID.String()),
		"amount":     payment.Amount,
		"return_url": opts.ReturnURL,
	}

	raw, err := a.call(ctx, http.MethodPost, transactionsPath, body)
	if err != nil {
		return domain.ErrorResult(errorRaw(err))
	}

	var resp createResponse
	if err := json.Unmarshal(raw, &resp); err != nil || strings.TrimSpace(resp.Token) == "" {
		return domain.ErrorResult(raw)
	}

	redirect := resp.URL
	if redirect != "" {
		redirect = fmt.Sprintf("%s?token_ws=%s", resp.URL, resp.Token)
	}

	return domain.GatewayResult{
		ProviderPaymentID: resp.Token,
		RedirectURL:       redirect,
		Status:            domain.IntentInitiated,
		Raw:               raw,
	}
}

// Commit confirms the transaction after the payer returns from the
// hosted form. This is the only real-mode path that can report paid.
func (a *Adapter) Commit(ctx context.Context, providerPaymentID string) domain.GatewayResult {
	if a.simulated() {
		return a.simulatedConfirm(providerPaymentID)
	}

	raw, err := a.call(ctx, http.MethodPut, transactionsPath+"/"+providerPaymentID, nil)
	if err != nil {
		return domain.ErrorResult(errorRaw(err))
	}
	return a.resultFromTransaction(providerPaymentID, raw, true)
}

func (a *Adapter) Retrieve(ctx context.Context, providerPaymentID string, createdAt time.Time) domain.GatewayResult {
	if a.simulated() {
		return a.simulatedConfirm(providerPaymentID)
	}

	raw, err := a.call(ctx, http.MethodGet, transactionsPath+"/"+providerPaymentID, nil)
	if err != nil {
		// Provider outage is a recoverable read failure, not a settlement change.
		return domain.GatewayResult{ProviderPaymentID: providerPaymentID, Status: domain.IntentFailed, Raw: errorRaw(err)}
	}
	return a.resultFromTransaction(providerPaymentID, raw, false)
}

type webhookPayload struct {
	TokenWs      string `json:"token_ws"`
	Status       string `json:"status"`
	ResponseCode *int   `json:"response_code"`
}

func (a *Adapter) HandleWebhook(ctx context.Context, payload []byte) (domain.GatewayResult, error) {
	var event webhookPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		return domain.GatewayResult{}, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.TokenWs) == "" {
		return domain.GatewayResult{}, domain.ErrInvalidPayload
	}

	status, paid := mapStatus(event.Status, event.ResponseCode)
	result := domain.GatewayResult{
		ProviderPaymentID: event.TokenWs,
		Status:            status,
		Paid:              paid,
		Raw:               payload,
	}
	if paid {
		now := a.clk.Now()
		result.PaidAt = &now
	}
	return result, nil
}

func (a *Adapter) resultFromTransaction(token string, raw []byte, allowPaid bool) domain.GatewayResult {
	var resp transactionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return domain.ErrorResult(raw)
	}

	status, paid := mapStatus(resp.Status, resp.ResponseCode)
	// Commit is the only confirmation path for this provider; a plain
	// status read never settles the payment.
	if !allowPaid {
		paid = false
	}

	result := domain.GatewayResult{
		ProviderPaymentID: token,
		Status:            status,
		Paid:              paid,
		Raw:               raw,
	}
	if paid {
		paidAt := parseTransactionDate(resp.TransactionDate, a.clk)
		result.PaidAt = &paidAt
	}
	return result
}

// mapStatus is the adapter-private mapping from Webpay transaction
// states to normalized intent statuses. Unknown states stay pending:
// ambiguity never settles a payment.
func mapStatus(status string, responseCode *int) (string, bool) {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "AUTHORIZED":
		if responseCode != nil && *responseCode != 0 {
			return domain.IntentRejected, false
		}
		return domain.IntentPaid, true
	case "FAILED":
		return domain.IntentFailed, false
	case "NULLIFIED", "REVERSED":
		return domain.IntentCancelled, false
	case "INITIALIZED":
		return domain.IntentInitiated, false
	default:
		return domain.IntentCreated, false
	}
}

func parseTransactionDate(value string, clk clock.Clock) time.Time {
	value = strings.TrimSpace(value)
	if value != "" {
		if ts, err := time.Parse(time.RFC3339, value); err == nil {
			return ts.UTC()
		}
	}
	return clk.Now()
}

func (a *Adapter) simulatedPaid(paymentID snowflake.ID) domain.GatewayResult {
	now := a.clk.Now()
	token := "sim-webpay-" + paymentID.String()
	raw, _ := json.Marshal(map[string]any{
		"simulated": true,
		"token":     token,
		"status":    "AUTHORIZED",
	})
	return domain.GatewayResult{
		ProviderPaymentID: token,
		Status:            domain.IntentPaid,
		Paid:              true,
		PaidAt:            &now,
		Raw:               raw,
	}
}

func (a *Adapter) simulatedConfirm(token string) domain.GatewayResult {
	now := a.clk.Now()
	raw, _ := json.Marshal(map[string]any{
		"simulated": true,
		"token":     token,
		"status":    "AUTHORIZED",
	})
	return domain.GatewayResult{
		ProviderPaymentID: token,
		Status:            domain.IntentPaid,
		Paid:              true,
		PaidAt:            &now,
		Raw:               raw,
	}
}

func (a *Adapter) call(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Tbk-Api-Key-Id", a.commerceCode)
	req.Header.Set("Tbk-Api-Key-Secret", a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("webpay responded %d: %s", resp.StatusCode, string(raw))
	}
	return raw, nil
}

func errorRaw(err error) []byte {
	raw, _ := json.Marshal(map[string]string{"error": err.Error()})
	return raw
}

func readString(config map[string]any, key string) (string, bool) {
	value, ok := config[key]
	if !ok {
		return "", false
	}
	switch cast := value.(type) {
	case string:
		return cast, true
	default:
		return "", false
	}
}
