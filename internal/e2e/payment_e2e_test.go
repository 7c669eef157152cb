// Package e2e drives the full HTTP surface against an in-memory
// database: signed link, public init, webhook settlement, refund.
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/facturante/facturante/internal/clock"
	"github.com/facturante/facturante/internal/config"
	invoicedomain "github.com/facturante/facturante/internal/invoice/domain"
	invoiceservice "github.com/facturante/facturante/internal/invoice/service"
	"github.com/facturante/facturante/internal/payment/adapters"
	"github.com/facturante/facturante/internal/payment/adapters/flow"
	"github.com/facturante/facturante/internal/payment/adapters/mercadopago"
	"github.com/facturante/facturante/internal/payment/adapters/webpay"
	"github.com/facturante/facturante/internal/payment/recurring"
	"github.com/facturante/facturante/internal/payment/refund"
	paymentrepo "github.com/facturante/facturante/internal/payment/repository"
	paymentservice "github.com/facturante/facturante/internal/payment/service"
	"github.com/facturante/facturante/internal/payment/webhook"
	"github.com/facturante/facturante/internal/publiclink"
	"github.com/facturante/facturante/internal/ratelimit"
	"github.com/facturante/facturante/internal/server"
	"github.com/facturante/facturante/pkg/crypto/signing"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const webhookSecret = "e2e-webhook-secret"

type stack struct {
	db     *gorm.DB
	node   *snowflake.Node
	clk    *clock.FakeClock
	engine *gin.Engine
}

func newStack(t *testing.T) *stack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := setupTestDB(t)
	node, err := snowflake.NewNode(30)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	clk := clock.NewFakeClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))

	cfg := config.Config{
		WebhookSecrets:   map[string]string{"*": webhookSecret},
		ReplayWindow:     300 * time.Second,
		PublicLinkSecret: "e2e-link-secret",
		PublicLinkTTL:    24 * time.Hour,
	}
	catalog := config.NewStaticProviderCatalog()
	registry := adapters.NewRegistry(
		webpay.NewFactory(),
		flow.NewFactory(),
		mercadopago.NewFactory(),
	)
	repo := paymentrepo.Provide()
	log := zap.NewNop()

	invoiceSvc := invoiceservice.NewService(invoiceservice.Params{
		DB: db, Log: log, Clock: clk,
	})
	paymentSvc := paymentservice.NewService(paymentservice.Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		Clock:       clk,
		Config:      cfg,
		Catalog:     catalog,
		Registry:    registry,
		Repo:        repo,
		InvoiceSvc:  invoiceSvc,
		IntentLocks: ratelimit.NewIntentLocks(nil, log),
	})
	refundSvc := refund.NewService(refund.Params{
		DB: db, Log: log, GenID: node, Clock: clk,
		Repo: repo, PaymentSvc: paymentSvc, InvoiceSvc: invoiceSvc,
	})
	recurringSvc := recurring.NewService(recurring.Params{
		DB: db, Log: log, GenID: node, Clock: clk,
		Repo: repo, PaymentSvc: paymentSvc, InvoiceSvc: invoiceSvc,
	})
	webhookSvc := webhook.NewService(webhook.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Config: cfg,
		Registry: registry, Repo: repo,
		PaymentSvc: paymentSvc, RefundSvc: refundSvc,
	})
	linkCodec := publiclink.NewCodec(cfg, clk)

	engine := server.NewEngine(log)
	server.NewServer(server.ServerParams{
		Gin:          engine,
		Cfg:          cfg,
		DB:           db,
		GenID:        node,
		Catalog:      catalog,
		InvoiceSvc:   invoiceSvc,
		PaymentSvc:   paymentSvc,
		RefundSvc:    refundSvc,
		RecurringSvc: recurringSvc,
		WebhookSvc:   webhookSvc,
		LinkCodec:    linkCodec,
	})

	return &stack{db: db, node: node, clk: clk, engine: engine}
}

func (s *stack) do(t *testing.T, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &decoded)
	}
	return rec, decoded
}

func (s *stack) seedInvoice(t *testing.T, orgID snowflake.ID, amount int64) snowflake.ID {
	t.Helper()
	id := s.node.Generate()
	now := s.clk.Now()
	if err := s.db.Exec(
		`INSERT INTO invoices (id, org_id, number, currency, amount, amount_paid, status, paid_at, created_at, updated_at)
		 VALUES (?, ?, ?, 'CLP', ?, 0, 'pending', NULL, ?, ?)`,
		id, orgID, fmt.Sprintf("INV-%d", id), amount, now, now,
	).Error; err != nil {
		t.Fatalf("seed invoice: %v", err)
	}
	return id
}

func (s *stack) signedWebhookHeaders(eventID string, body []byte) map[string]string {
	timestamp := strconv.FormatInt(s.clk.Now().Unix(), 10)
	message := append([]byte(timestamp+"."), body...)
	return map[string]string{
		"X-Event-Id":            eventID,
		"X-Signature":           signing.HexHMACSHA256(message, []byte(webhookSecret)),
		"X-Signature-Timestamp": timestamp,
	}
}

func TestPublicLinkPaymentLifecycle(t *testing.T) {
	s := newStack(t)
	orgID := s.node.Generate()
	invoiceID := s.seedInvoice(t, orgID, 120000)
	orgHeader := map[string]string{"X-Org-ID": orgID.String()}

	// Issue the signed link.
	rec, link := s.do(t, http.MethodPost, "/api/invoices/"+invoiceID.String()+"/payment_link", nil, orgHeader)
	if rec.Code != http.StatusCreated {
		t.Fatalf("payment link: status %d body %s", rec.Code, rec.Body.String())
	}
	token, _ := link["token"].(string)
	if token == "" {
		t.Fatal("expected link token")
	}

	// The public page shows the payable balance and enabled providers.
	rec, page := s.do(t, http.MethodGet, "/public/pay/"+token, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("public page: status %d", rec.Code)
	}
	invoiceView, _ := page["invoice"].(map[string]any)
	if invoiceView["remaining"].(float64) != 120000 {
		t.Fatalf("expected remaining 120000, got %v", invoiceView["remaining"])
	}
	// CLP is zero-decimal, so the display string carries no fraction.
	if invoiceView["remaining_formatted"].(string) != "120000" {
		t.Fatalf("expected formatted remaining 120000, got %v", invoiceView["remaining_formatted"])
	}
	if providers, _ := page["providers"].([]any); len(providers) == 0 {
		t.Fatal("expected enabled providers")
	}

	// The payer picks the async-token provider.
	rec, initResp := s.do(t, http.MethodPost, "/public/pay/"+token+"/init", gin.H{"provider": "flow"}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("public init: status %d body %s", rec.Code, rec.Body.String())
	}
	paymentID, _ := initResp["payment_id"].(string)
	if paymentID == "" || initResp["redirect_url"].(string) == "" {
		t.Fatalf("expected payment id and redirect, got %v", initResp)
	}
	providerRef, _ := initResp["provider_payment_id"].(string)
	if providerRef == "" {
		t.Fatalf("expected provider reference in init response, got %v", initResp)
	}
	if initResp["intent_status"].(string) == "" {
		t.Fatalf("expected intent status in init response, got %v", initResp)
	}

	// The merchant API sees the same pending intent.
	rec, payment := s.do(t, http.MethodGet, "/api/payments/"+paymentID, nil, orgHeader)
	if rec.Code != http.StatusOK {
		t.Fatalf("get payment: status %d", rec.Code)
	}
	if payment["provider_payment_id"].(string) != providerRef {
		t.Fatalf("provider reference mismatch: %v", payment["provider_payment_id"])
	}
	if payment["status"].(string) != "pending" {
		t.Fatalf("expected pending, got %v", payment["status"])
	}

	// The provider confirms by webhook.
	body := []byte(fmt.Sprintf(`{"token":%q,"status":2,"paymentDate":"2024-06-01 12:05:00"}`, providerRef))
	rec, ack := s.do(t, http.MethodPost, "/webhooks/payments/flow", json.RawMessage(body), s.signedWebhookHeaders("evt-e2e-1", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook: status %d body %s", rec.Code, rec.Body.String())
	}
	if ack["success"] != true || ack["status"] != "processed" {
		t.Fatalf("expected successful processed ack, got %v", ack)
	}
	if ack["payment_id"].(string) != paymentID {
		t.Fatalf("expected ack for payment %s, got %v", paymentID, ack["payment_id"])
	}
	if ack["event_id"].(string) == "" {
		t.Fatal("expected event id in ack")
	}

	// Settlement reached both the payment and the invoice.
	rec, payment = s.do(t, http.MethodGet, "/api/payments/"+paymentID, nil, orgHeader)
	if rec.Code != http.StatusOK || payment["status"].(string) != "completed" {
		t.Fatalf("expected completed payment, got status %d %v", rec.Code, payment["status"])
	}
	rec, page = s.do(t, http.MethodGet, "/public/pay/"+token, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("public page after settle: status %d", rec.Code)
	}
	invoiceView, _ = page["invoice"].(map[string]any)
	if invoiceView["status"].(string) != string(invoicedomain.InvoiceStatusPaid) {
		t.Fatalf("expected paid invoice, got %v", invoiceView["status"])
	}

	// A second init on the settled invoice conflicts.
	rec, _ = s.do(t, http.MethodPost, "/public/pay/"+token+"/init", gin.H{"provider": "flow"}, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on paid invoice, got %d", rec.Code)
	}

	// A partial refund reopens the balance.
	rec, refundResp := s.do(t, http.MethodPost, "/api/payments/"+paymentID+"/refunds", gin.H{"amount": 20000, "reason": "partial return"}, orgHeader)
	if rec.Code != http.StatusCreated {
		t.Fatalf("refund: status %d body %s", rec.Code, rec.Body.String())
	}
	if refundResp["status"].(string) != "completed" {
		t.Fatalf("expected completed refund, got %v", refundResp["status"])
	}

	rec, page = s.do(t, http.MethodGet, "/public/pay/"+token, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("public page after refund: status %d", rec.Code)
	}
	invoiceView, _ = page["invoice"].(map[string]any)
	if invoiceView["status"].(string) != string(invoicedomain.InvoiceStatusPending) {
		t.Fatalf("expected reopened invoice, got %v", invoiceView["status"])
	}
	if invoiceView["amount_paid"].(float64) != 100000 {
		t.Fatalf("expected amount_paid 100000, got %v", invoiceView["amount_paid"])
	}
}

func TestWebhookRejectsBadSignatureOverHTTP(t *testing.T) {
	s := newStack(t)

	body := []byte(`{"token":"tok-x","status":2}`)
	headers := s.signedWebhookHeaders("evt-bad", body)
	headers["X-Signature"] = "deadbeef"

	rec, resp := s.do(t, http.MethodPost, "/webhooks/payments/flow", json.RawMessage(body), headers)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d body %s", rec.Code, rec.Body.String())
	}
	if resp["error"] == nil {
		t.Fatal("expected error payload")
	}
}

func TestWebhookRejectsStaleTimestampOverHTTP(t *testing.T) {
	s := newStack(t)

	body := []byte(`{"token":"tok-x","status":2}`)
	timestamp := strconv.FormatInt(s.clk.Now().Add(-10*time.Minute).Unix(), 10)
	message := append([]byte(timestamp+"."), body...)
	headers := map[string]string{
		"X-Event-Id":            "evt-stale",
		"X-Signature":           signing.HexHMACSHA256(message, []byte(webhookSecret)),
		"X-Signature-Timestamp": timestamp,
	}

	// A correctly signed but replayed capture is a bad request, not an
	// authentication failure.
	rec, resp := s.do(t, http.MethodPost, "/webhooks/payments/flow", json.RawMessage(body), headers)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body %s", rec.Code, rec.Body.String())
	}
	if resp["error"] == nil {
		t.Fatal("expected error payload")
	}
}

func TestExpiredLinkReturnsGone(t *testing.T) {
	s := newStack(t)
	orgID := s.node.Generate()
	invoiceID := s.seedInvoice(t, orgID, 5000)
	orgHeader := map[string]string{"X-Org-ID": orgID.String()}

	rec, link := s.do(t, http.MethodPost, "/api/invoices/"+invoiceID.String()+"/payment_link", nil, orgHeader)
	if rec.Code != http.StatusCreated {
		t.Fatalf("payment link: status %d", rec.Code)
	}
	token := link["token"].(string)

	s.clk.Advance(24*time.Hour + time.Minute)

	rec, _ = s.do(t, http.MethodGet, "/public/pay/"+token, nil, nil)
	if rec.Code != http.StatusGone {
		t.Fatalf("expected 410, got %d", rec.Code)
	}

	// A structurally broken token is gone too, not a lookup miss.
	rec, _ = s.do(t, http.MethodGet, "/public/pay/not-a-token", nil, nil)
	if rec.Code != http.StatusGone {
		t.Fatalf("expected 410 for invalid token, got %d", rec.Code)
	}
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_e2e_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	for _, stmt := range testSchema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("schema exec failed: %v", err)
		}
	}
	return db
}

var testSchema = []string{
	`CREATE TABLE invoices (
		id BIGINT PRIMARY KEY,
		org_id BIGINT NOT NULL,
		number TEXT NOT NULL,
		currency TEXT NOT NULL,
		amount BIGINT NOT NULL,
		amount_paid BIGINT NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		paid_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE payments (
		id BIGINT PRIMARY KEY,
		org_id BIGINT NOT NULL,
		invoice_id BIGINT,
		provider TEXT NOT NULL,
		provider_payment_id TEXT,
		amount BIGINT NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		intent_status TEXT NOT NULL,
		paid_at TIMESTAMPTZ,
		raw_response TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE refunds (
		id BIGINT PRIMARY KEY,
		org_id BIGINT NOT NULL,
		payment_id BIGINT NOT NULL,
		amount BIGINT NOT NULL,
		status TEXT NOT NULL,
		provider_ref TEXT,
		reason TEXT,
		raw_response TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE webhook_events (
		id BIGINT PRIMARY KEY,
		provider TEXT NOT NULL,
		provider_event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		signature TEXT,
		status TEXT NOT NULL,
		related_id BIGINT,
		received_at TIMESTAMPTZ NOT NULL,
		processed_at TIMESTAMPTZ
	)`,
	`CREATE UNIQUE INDEX uq_webhook_events_provider_event ON webhook_events(provider, provider_event_id)`,
	`CREATE TABLE recurring_customers (
		id BIGINT PRIMARY KEY,
		org_id BIGINT NOT NULL,
		provider TEXT NOT NULL,
		provider_customer_id TEXT,
		email TEXT NOT NULL,
		has_registered_card BOOLEAN NOT NULL DEFAULT FALSE,
		card_brand TEXT,
		card_last4 TEXT,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE payment_provider_configs (
		id BIGINT PRIMARY KEY,
		org_id BIGINT NOT NULL,
		provider TEXT NOT NULL,
		config TEXT,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
}
