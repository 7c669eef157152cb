package flow

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	invoicedomain "github.com/facturante/facturante/internal/invoice/domain"
	"github.com/facturante/facturante/internal/payment/domain"
)

type customerResponse struct {
	CustomerID   string `json:"customerId"`
	RegisterURL  string `json:"url"`
	Token        string `json:"token"`
	Status       int    `json:"status"`
	CreditCard   string `json:"creditCardType"`
	Last4Digits  string `json:"last4CardDigits"`
	FlowOrder    int64  `json:"flowOrder"`
	PaymentToken string `json:"paymentToken"`
}

// RegisterCustomer creates the provider-side customer and returns the
// hosted card-registration redirect. Card metadata arrives later via the
// registration callback.
func (a *Adapter) RegisterCustomer(ctx context.Context, customer *domain.RecurringCustomer, returnURL string) domain.GatewayResult {
	if a.simulated() {
		return a.simulatedRegister(customer)
	}

	params := map[string]string{
		"apiKey":     a.apiKey,
		"name":       customer.Email,
		"email":      customer.Email,
		"externalId": customer.ID.String(),
	}
	raw, err := a.post(ctx, "/customer/create", params)
	if err != nil {
		return domain.ErrorResult(errorRaw(err))
	}

	var resp customerResponse
	if err := json.Unmarshal(raw, &resp); err != nil || strings.TrimSpace(resp.CustomerID) == "" {
		return domain.ErrorResult(raw)
	}

	registerRaw, err := a.post(ctx, "/customer/register", map[string]string{
		"apiKey":     a.apiKey,
		"customerId": resp.CustomerID,
		"url_return": returnURL,
	})
	if err != nil {
		return domain.ErrorResult(errorRaw(err))
	}

	var register customerResponse
	if err := json.Unmarshal(registerRaw, &register); err != nil {
		return domain.ErrorResult(registerRaw)
	}

	redirect := register.RegisterURL
	if redirect != "" && register.Token != "" {
		redirect = register.RegisterURL + "?token=" + register.Token
	}

	return domain.GatewayResult{
		ProviderPaymentID: resp.CustomerID,
		RedirectURL:       redirect,
		Status:            domain.IntentInitiated,
		Raw:               registerRaw,
	}
}

// ChargeCustomer debits a registered card directly, no redirect leg.
func (a *Adapter) ChargeCustomer(ctx context.Context, customer *domain.RecurringCustomer, invoice *invoicedomain.Invoice, payment *domain.Payment) domain.GatewayResult {
	if a.simulated() {
		return a.simulatedCharge(payment)
	}

	params := map[string]string{
		"apiKey":        a.apiKey,
		"customerId":    customer.ProviderCustomerID,
		"commerceOrder": payment.ID.String(),
		"subject":       paymentSubject(invoice),
		"currency":      payment.Currency,
		"amount":        strconv.FormatInt(payment.Amount, 10),
	}
	raw, err := a.post(ctx, "/customer/charge", params)
	if err != nil {
		return domain.ErrorResult(errorRaw(err))
	}

	var resp statusResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return domain.ErrorResult(raw)
	}

	token := strconv.FormatInt(resp.FlowOrder, 10)
	return a.resultFromStatus(token, resp, raw)
}

// RemoveCard unregisters the stored card. The customer record survives
// so a new card can be registered later.
func (a *Adapter) RemoveCard(ctx context.Context, customer *domain.RecurringCustomer) domain.GatewayResult {
	if a.simulated() {
		raw, _ := json.Marshal(map[string]any{"simulated": true, "customerId": customer.ProviderCustomerID})
		return domain.GatewayResult{ProviderPaymentID: customer.ProviderCustomerID, Status: domain.StatusCompleted, Raw: raw}
	}

	raw, err := a.post(ctx, "/customer/unRegister", map[string]string{
		"apiKey":     a.apiKey,
		"customerId": customer.ProviderCustomerID,
	})
	if err != nil {
		return domain.ErrorResult(errorRaw(err))
	}
	return domain.GatewayResult{ProviderPaymentID: customer.ProviderCustomerID, Status: domain.StatusCompleted, Raw: raw}
}

func (a *Adapter) simulatedRegister(customer *domain.RecurringCustomer) domain.GatewayResult {
	customerID := "sim-flow-cus-" + customer.ID.String()
	raw, _ := json.Marshal(map[string]any{
		"simulated":       true,
		"customerId":      customerID,
		"creditCardType":  "Visa",
		"last4CardDigits": "4242",
	})
	return domain.GatewayResult{
		ProviderPaymentID: customerID,
		RedirectURL:       "https://sandbox.flow.local/register?token=" + customerID,
		Status:            domain.IntentInitiated,
		Raw:               raw,
	}
}

func (a *Adapter) simulatedCharge(payment *domain.Payment) domain.GatewayResult {
	now := a.clk.Now()
	token := "sim-flow-charge-" + payment.ID.String()
	raw, _ := json.Marshal(map[string]any{"simulated": true, "token": token, "status": codePaid})
	return domain.GatewayResult{
		ProviderPaymentID: token,
		Status:            domain.IntentPaid,
		Paid:              true,
		PaidAt:            &now,
		Raw:               raw,
	}
}
