// Package mercadopago is a stub adapter: initiation always simulates and
// webhooks translate the provider's status vocabulary. It reserves the
// provider slot so configs, routing and dashboards stay stable while the
// real integration lands.
package mercadopago

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/facturante/facturante/internal/clock"
	invoicedomain "github.com/facturante/facturante/internal/invoice/domain"
	"github.com/facturante/facturante/internal/payment/domain"
)

type Factory struct{}

func NewFactory() *Factory { return &Factory{} }

func (f *Factory) Provider() string { return "mercadopago" }

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.GatewayAdapter, error) {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	return &Adapter{clk: clk}, nil
}

type Adapter struct {
	clk clock.Clock
}

func (a *Adapter) Provider() string { return "mercadopago" }

func (a *Adapter) Initiate(ctx context.Context, invoice *invoicedomain.Invoice, payment *domain.Payment, opts domain.InitiateOptions) domain.GatewayResult {
	token := "sim-mp-" + payment.ID.String()
	raw, _ := json.Marshal(map[string]any{
		"simulated": true,
		"id":        token,
		"init_point": "https://sandbox.mercadopago.local/checkout?pref_id=" + token,
	})
	return domain.GatewayResult{
		ProviderPaymentID: token,
		RedirectURL:       "https://sandbox.mercadopago.local/checkout?pref_id=" + token,
		Status:            domain.IntentInitiated,
		Raw:               raw,
	}
}

func (a *Adapter) Retrieve(ctx context.Context, providerPaymentID string, createdAt time.Time) domain.GatewayResult {
	raw, _ := json.Marshal(map[string]any{"simulated": true, "id": providerPaymentID, "status": "pending"})
	return domain.GatewayResult{
		ProviderPaymentID: providerPaymentID,
		Status:            domain.IntentInitiated,
		Raw:               raw,
	}
}

type webhookPayload struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Data   struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (a *Adapter) HandleWebhook(ctx context.Context, payload []byte) (domain.GatewayResult, error) {
	var event webhookPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		return domain.GatewayResult{}, domain.ErrInvalidPayload
	}

	id := strings.TrimSpace(event.ID)
	if id == "" {
		id = strings.TrimSpace(event.Data.ID)
	}
	if id == "" {
		return domain.GatewayResult{}, domain.ErrInvalidPayload
	}

	result := domain.GatewayResult{ProviderPaymentID: id, Raw: payload}
	switch strings.ToLower(strings.TrimSpace(event.Status)) {
	case "approved", "paid":
		result.Status = domain.IntentPaid
		result.Paid = true
		now := a.clk.Now()
		result.PaidAt = &now
	case "rejected":
		result.Status = domain.IntentRejected
	case "cancelled", "canceled":
		result.Status = domain.IntentCancelled
	case "refunded", "charged_back":
		result.Status = domain.IntentCancelled
	default:
		result.Status = domain.IntentInitiated
	}
	return result, nil
}
