// Package flow implements the asynchronous-token gateway shape:
// initiate returns a hosted redirect, completion arrives later via
// polling or webhook. It also carries the recurring-customer variant and
// provider-side refunds.
package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/facturante/facturante/internal/clock"
	invoicedomain "github.com/facturante/facturante/internal/invoice/domain"
	"github.com/facturante/facturante/internal/payment/domain"
	"github.com/facturante/facturante/pkg/crypto/signing"
)

// simulationSettleDelay is how long a simulated payment stays pending
// before deterministically settling, measured from intent creation.
const simulationSettleDelay = 30 * time.Second

// Provider status codes, per the gateway's payment/getStatus contract.
const (
	codePending   = 1
	codePaid      = 2
	codeRejected  = 3
	codeCancelled = 4
)

type Factory struct {
	client *http.Client
}

func NewFactory() *Factory {
	return &Factory{client: &http.Client{Timeout: 10 * time.Second}}
}

func (f *Factory) Provider() string {
	return "flow"
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.GatewayAdapter, error) {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.NewSystemClock()
	}

	apiKey, _ := readString(cfg.Config, "api_key")
	secretKey, _ := readString(cfg.Config, "secret_key")
	baseURL, _ := readString(cfg.Config, "base_url")
	if baseURL == "" {
		baseURL = "https://www.flow.cl/api"
	}

	return &Adapter{
		orgID:     cfg.OrgID,
		apiKey:    strings.TrimSpace(apiKey),
		secretKey: strings.TrimSpace(secretKey),
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    f.client,
		clk:       clk,
	}, nil
}

type Adapter struct {
	orgID     snowflake.ID
	apiKey    string
	secretKey string
	baseURL   string
	client    *http.Client
	clk       clock.Clock
}

func (a *Adapter) Provider() string { return "flow" }

func (a *Adapter) simulated() bool {
	return a.apiKey == "" || a.secretKey == ""
}

type createResponse struct {
	URL       string `json:"url"`
	Token     string `json:"token"`
	FlowOrder int64  `json:"flowOrder"`
}

type statusResponse struct {
	FlowOrder   int64  `json:"flowOrder"`
	Status      int    `json:"status"`
	PaymentDate string `json:"paymentDate"`
}

func (a *Adapter) Initiate(ctx context.Context, invoice *invoicedomain.Invoice, payment *domain.Payment, opts domain.InitiateOptions) domain.GatewayResult {
	if a.simulated() {
		return a.simulatedInitiate(payment.ID)
	}

	params := map[string]string{
		"apiKey":          a.apiKey,
		"commerceOrder":   payment.ID.String(),
		"subject":         paymentSubject(invoice),
		"currency":        payment.Currency,
		"amount":          strconv.FormatInt(payment.Amount, 10),
		"urlConfirmation": opts.CallbackURL,
		"urlReturn":       opts.ReturnURL,
	}
	for key, value := range opts.Metadata {
		if key == "email" {
			params["email"] = value
		}
	}

	raw, err := a.post(ctx, "/payment/create", params)
	if err != nil {
		return domain.ErrorResult(errorRaw(err))
	}

	var resp createResponse
	if err := json.Unmarshal(raw, &resp); err != nil || strings.TrimSpace(resp.Token) == "" {
		return domain.ErrorResult(raw)
	}

	redirect := resp.URL
	if redirect != "" {
		redirect = fmt.Sprintf("%s?token=%s", resp.URL, resp.Token)
	}

	return domain.GatewayResult{
		ProviderPaymentID: resp.Token,
		RedirectURL:       redirect,
		Status:            domain.IntentInitiated,
		Raw:               raw,
	}
}

func (a *Adapter) Retrieve(ctx context.Context, providerPaymentID string, createdAt time.Time) domain.GatewayResult {
	if a.simulated() {
		return a.simulatedStatus(providerPaymentID, createdAt)
	}

	raw, err := a.get(ctx, "/payment/getStatus", map[string]string{
		"apiKey": a.apiKey,
		"token":  providerPaymentID,
	})
	if err != nil {
		return domain.GatewayResult{ProviderPaymentID: providerPaymentID, Status: domain.IntentFailed, Raw: errorRaw(err)}
	}

	var resp statusResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return domain.GatewayResult{ProviderPaymentID: providerPaymentID, Status: domain.IntentFailed, Raw: raw}
	}
	return a.resultFromStatus(providerPaymentID, resp, raw)
}

type webhookPayload struct {
	Token    string `json:"token"`
	Status   int    `json:"status"`
	PaidDate string `json:"paymentDate"`
}

func (a *Adapter) HandleWebhook(ctx context.Context, payload []byte) (domain.GatewayResult, error) {
	var event webhookPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		return domain.GatewayResult{}, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.Token) == "" {
		return domain.GatewayResult{}, domain.ErrInvalidPayload
	}
	return a.resultFromStatus(event.Token, statusResponse{
		Status:      event.Status,
		PaymentDate: event.PaidDate,
	}, payload), nil
}

// resultFromStatus is the adapter-private numeric mapping. Unknown codes
// map to pending, never to completed.
func (a *Adapter) resultFromStatus(token string, resp statusResponse, raw []byte) domain.GatewayResult {
	result := domain.GatewayResult{
		ProviderPaymentID: token,
		Raw:               raw,
	}

	switch resp.Status {
	case codePaid:
		result.Status = domain.IntentPaid
		result.Paid = true
		paidAt := parsePaymentDate(resp.PaymentDate, a.clk)
		result.PaidAt = &paidAt
	case codeRejected:
		result.Status = domain.IntentRejected
	case codeCancelled:
		result.Status = domain.IntentCancelled
	case codePending:
		result.Status = domain.IntentInitiated
	default:
		result.Status = domain.IntentInitiated
	}
	return result
}

func (a *Adapter) simulatedInitiate(paymentID snowflake.ID) domain.GatewayResult {
	token := "sim-flow-" + paymentID.String()
	raw, _ := json.Marshal(map[string]any{
		"simulated": true,
		"token":     token,
		"url":       "https://sandbox.flow.local/pay",
	})
	return domain.GatewayResult{
		ProviderPaymentID: token,
		RedirectURL:       "https://sandbox.flow.local/pay?token=" + token,
		Status:            domain.IntentInitiated,
		Raw:               raw,
	}
}

// simulatedStatus settles deterministically once the fixed delay since
// intent creation has elapsed, so tests can observe both states.
func (a *Adapter) simulatedStatus(token string, createdAt time.Time) domain.GatewayResult {
	settleAt := createdAt.Add(simulationSettleDelay)
	if a.clk.Now().Before(settleAt) {
		raw, _ := json.Marshal(map[string]any{"simulated": true, "token": token, "status": codePending})
		return domain.GatewayResult{
			ProviderPaymentID: token,
			Status:            domain.IntentInitiated,
			Raw:               raw,
		}
	}

	paidAt := settleAt.UTC()
	raw, _ := json.Marshal(map[string]any{"simulated": true, "token": token, "status": codePaid})
	return domain.GatewayResult{
		ProviderPaymentID: token,
		Status:            domain.IntentPaid,
		Paid:              true,
		PaidAt:            &paidAt,
		Raw:               raw,
	}
}

func paymentSubject(invoice *invoicedomain.Invoice) string {
	if invoice == nil || strings.TrimSpace(invoice.Number) == "" {
		return "payment"
	}
	return "Invoice " + invoice.Number
}

func parsePaymentDate(value string, clk clock.Clock) time.Time {
	value = strings.TrimSpace(value)
	if value != "" {
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05"} {
			if ts, err := time.Parse(layout, value); err == nil {
				return ts.UTC()
			}
		}
	}
	return clk.Now()
}

// sign computes the request signature: HMAC-SHA256 over the sorted
// key/value concatenation, keyed by the secret key.
func (a *Adapter) sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, key := range keys {
		sb.WriteString(key)
		sb.WriteString(params[key])
	}
	return signing.HexHMACSHA256([]byte(sb.String()), []byte(a.secretKey))
}

func (a *Adapter) post(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	form := url.Values{}
	for key, value := range params {
		form.Set(key, value)
	}
	form.Set("s", a.sign(params))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return a.do(req)
}

func (a *Adapter) get(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	query := url.Values{}
	for key, value := range params {
		query.Set(key, value)
	}
	query.Set("s", a.sign(params))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	return a.do(req)
}

func (a *Adapter) do(req *http.Request) ([]byte, error) {
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
		return nil, fmt.Errorf("flow responded %d: %s", resp.StatusCode, string(raw))
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
