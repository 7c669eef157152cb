package flow

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/facturante/facturante/internal/payment/domain"
)

type refundCreateResponse struct {
	Token           string `json:"token"`
	FlowRefundOrder int64  `json:"flowRefundOrder"`
	Status          string `json:"status"`
}

// CreateRefund opens a provider-side refund order. The provider settles
// it asynchronously and reports the outcome via the refund webhook.
func (a *Adapter) CreateRefund(ctx context.Context, payment *domain.Payment, amount int64, reason string) domain.GatewayResult {
	if a.simulated() {
		return a.simulatedRefund(payment)
	}

	params := map[string]string{
		"apiKey":              a.apiKey,
		"refundCommerceOrder": payment.ID.String(),
		"token":               payment.ProviderPaymentID,
		"amount":              strconv.FormatInt(amount, 10),
		"urlCallBack":         "",
	}

	raw, err := a.post(ctx, "/refund/create", params)
	if err != nil {
		return domain.ErrorResult(errorRaw(err))
	}

	var resp refundCreateResponse
	if err := json.Unmarshal(raw, &resp); err != nil || resp.FlowRefundOrder == 0 {
		return domain.ErrorResult(raw)
	}

	return domain.GatewayResult{
		ProviderPaymentID: strconv.FormatInt(resp.FlowRefundOrder, 10),
		Status:            domain.StatusPending,
		Raw:               raw,
	}
}

type refundWebhookPayload struct {
	Token           string `json:"token"`
	FlowRefundOrder int64  `json:"flowRefundOrder"`
	Status          string `json:"status"`
}

// HandleRefundWebhook translates a verified refund callback. Unknown
// statuses stay pending: ambiguity never completes a refund.
func (a *Adapter) HandleRefundWebhook(ctx context.Context, payload []byte) (domain.RefundResult, error) {
	var event refundWebhookPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		return domain.RefundResult{}, domain.ErrInvalidPayload
	}
	if event.FlowRefundOrder == 0 {
		return domain.RefundResult{}, domain.ErrInvalidPayload
	}

	result := domain.RefundResult{
		ProviderRef: strconv.FormatInt(event.FlowRefundOrder, 10),
		Raw:         payload,
	}
	switch strings.ToLower(strings.TrimSpace(event.Status)) {
	case "accepted":
		result.Status = domain.StatusCompleted
	case "rejected":
		result.Status = domain.StatusFailed
	case "canceled", "cancelled":
		result.Status = domain.StatusCancelled
	default:
		result.Status = domain.StatusPending
	}
	return result, nil
}

// simulatedRefund settles immediately so sandbox deployments can walk
// the full refund path without provider credentials.
func (a *Adapter) simulatedRefund(payment *domain.Payment) domain.GatewayResult {
	ref := "sim-flow-refund-" + payment.ID.String()
	raw, _ := json.Marshal(map[string]any{
		"simulated":       true,
		"flowRefundOrder": ref,
		"status":          "accepted",
	})
	return domain.GatewayResult{
		ProviderPaymentID: ref,
		Status:            domain.StatusCompleted,
		Raw:               raw,
	}
}
