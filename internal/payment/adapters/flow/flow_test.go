package flow_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/facturante/facturante/internal/clock"
	"github.com/facturante/facturante/internal/payment/adapters/flow"
	"github.com/facturante/facturante/internal/payment/domain"
)

func newSimulatedAdapter(t *testing.T, clk clock.Clock) domain.GatewayAdapter {
	t.Helper()
	adapter, err := flow.NewFactory().NewAdapter(domain.AdapterConfig{
		Provider: "flow",
		Config:   map[string]any{},
		Clock:    clk,
	})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return adapter
}

func TestHandleWebhookStatusMapping(t *testing.T) {
	adapter := newSimulatedAdapter(t, clock.NewFakeClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)))

	cases := []struct {
		name       string
		payload    string
		wantStatus string
		wantPaid   bool
	}{
		{"pending", `{"token":"tok-1","status":1}`, domain.IntentInitiated, false},
		{"paid", `{"token":"tok-2","status":2}`, domain.IntentPaid, true},
		{"rejected", `{"token":"tok-3","status":3}`, domain.IntentRejected, false},
		{"cancelled", `{"token":"tok-4","status":4}`, domain.IntentCancelled, false},
		{"unknown stays pending", `{"token":"tok-5","status":99}`, domain.IntentInitiated, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := adapter.HandleWebhook(context.Background(), []byte(tc.payload))
			if err != nil {
				t.Fatalf("handle webhook: %v", err)
			}
			if result.Status != tc.wantStatus {
				t.Fatalf("expected status %s, got %s", tc.wantStatus, result.Status)
			}
			if result.Paid != tc.wantPaid {
				t.Fatalf("expected paid=%v, got %v", tc.wantPaid, result.Paid)
			}
			if tc.wantPaid && result.PaidAt == nil {
				t.Fatal("paid result must carry paid_at")
			}
		})
	}
}

func TestHandleWebhookUsesProviderPaymentDate(t *testing.T) {
	adapter := newSimulatedAdapter(t, clock.NewFakeClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)))

	result, err := adapter.HandleWebhook(context.Background(), []byte(`{"token":"tok-1","status":2,"paymentDate":"2024-05-30 10:15:00"}`))
	if err != nil {
		t.Fatalf("handle webhook: %v", err)
	}
	want := time.Date(2024, 5, 30, 10, 15, 0, 0, time.UTC)
	if result.PaidAt == nil || !result.PaidAt.Equal(want) {
		t.Fatalf("expected paid_at %v, got %v", want, result.PaidAt)
	}
}

func TestHandleWebhookRejectsMissingToken(t *testing.T) {
	adapter := newSimulatedAdapter(t, clock.NewFakeClock(time.Now()))

	if _, err := adapter.HandleWebhook(context.Background(), []byte(`{"status":2}`)); err == nil {
		t.Fatal("expected error for missing token")
	}
}

func TestSimulatedStatusSettlesAfterDelay(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(start)
	adapter := newSimulatedAdapter(t, clk)

	result := adapter.Retrieve(context.Background(), "sim-flow-1", start)
	if result.Paid || result.Status != domain.IntentInitiated {
		t.Fatalf("expected pending before settle delay, got status=%s paid=%v", result.Status, result.Paid)
	}

	clk.Advance(time.Minute)

	result = adapter.Retrieve(context.Background(), "sim-flow-1", start)
	if !result.Paid || result.Status != domain.IntentPaid {
		t.Fatalf("expected settled after delay, got status=%s paid=%v", result.Status, result.Paid)
	}
	if result.PaidAt == nil {
		t.Fatal("settled result must carry paid_at")
	}
	// Replays report the same deterministic settle time.
	clk.Advance(time.Hour)
	replay := adapter.Retrieve(context.Background(), "sim-flow-1", start)
	if !replay.PaidAt.Equal(*result.PaidAt) {
		t.Fatalf("expected stable paid_at, got %v then %v", result.PaidAt, replay.PaidAt)
	}
}

func TestSimulatedInitiateReturnsRedirect(t *testing.T) {
	adapter := newSimulatedAdapter(t, clock.NewFakeClock(time.Now()))

	node, err := snowflake.NewNode(2)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	payment := &domain.Payment{ID: node.Generate(), Amount: 5000, Currency: "CLP"}

	result := adapter.Initiate(context.Background(), nil, payment, domain.InitiateOptions{})
	if result.Paid {
		t.Fatal("async initiate must not settle")
	}
	if result.RedirectURL == "" || result.ProviderPaymentID == "" {
		t.Fatal("expected redirect and token")
	}
}

func TestRefundWebhookStatusMapping(t *testing.T) {
	adapter := newSimulatedAdapter(t, clock.NewFakeClock(time.Now()))
	gateway, ok := adapter.(domain.RefundGateway)
	if !ok {
		t.Fatal("adapter must support refunds")
	}

	cases := []struct {
		name    string
		payload string
		want    string
	}{
		{"accepted", `{"flowRefundOrder":77,"status":"accepted"}`, domain.StatusCompleted},
		{"rejected", `{"flowRefundOrder":77,"status":"rejected"}`, domain.StatusFailed},
		{"canceled", `{"flowRefundOrder":77,"status":"canceled"}`, domain.StatusCancelled},
		{"unknown stays pending", `{"flowRefundOrder":77,"status":"weird"}`, domain.StatusPending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := gateway.HandleRefundWebhook(context.Background(), []byte(tc.payload))
			if err != nil {
				t.Fatalf("handle refund webhook: %v", err)
			}
			if result.Status != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, result.Status)
			}
			if result.ProviderRef != "77" {
				t.Fatalf("expected provider ref 77, got %s", result.ProviderRef)
			}
		})
	}
}
