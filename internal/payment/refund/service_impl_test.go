package refund_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/facturante/facturante/internal/clock"
	"github.com/facturante/facturante/internal/config"
	invoicedomain "github.com/facturante/facturante/internal/invoice/domain"
	invoiceservice "github.com/facturante/facturante/internal/invoice/service"
	"github.com/facturante/facturante/internal/payment/adapters"
	"github.com/facturante/facturante/internal/payment/adapters/flow"
	"github.com/facturante/facturante/internal/payment/adapters/mercadopago"
	"github.com/facturante/facturante/internal/payment/adapters/webpay"
	paymentdomain "github.com/facturante/facturante/internal/payment/domain"
	"github.com/facturante/facturante/internal/payment/refund"
	paymentrepo "github.com/facturante/facturante/internal/payment/repository"
	paymentservice "github.com/facturante/facturante/internal/payment/service"
	"github.com/facturante/facturante/internal/ratelimit"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type harness struct {
	db         *gorm.DB
	node       *snowflake.Node
	clk        *clock.FakeClock
	invoiceSvc invoicedomain.Service
	refundSvc  *refund.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(22)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	clk := clock.NewFakeClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))

	invoiceSvc := invoiceservice.NewService(invoiceservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: clk,
	})

	repo := paymentrepo.Provide()
	paymentSvc := paymentservice.NewService(paymentservice.Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   clk,
		Config:  config.Config{},
		Catalog: config.NewStaticProviderCatalog(),
		Registry: adapters.NewRegistry(
			webpay.NewFactory(),
			flow.NewFactory(),
			mercadopago.NewFactory(),
		),
		Repo:        repo,
		InvoiceSvc:  invoiceSvc,
		IntentLocks: ratelimit.NewIntentLocks(nil, zap.NewNop()),
	})

	refundSvc := refund.NewService(refund.Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      clk,
		Repo:       repo,
		PaymentSvc: paymentSvc,
		InvoiceSvc: invoiceSvc,
	})

	return &harness{
		db:         db,
		node:       node,
		clk:        clk,
		invoiceSvc: invoiceSvc,
		refundSvc:  refundSvc,
	}
}

func (h *harness) seedSettledPayment(t *testing.T, orgID snowflake.ID, amount int64) (invoiceID, paymentID snowflake.ID) {
	t.Helper()
	now := h.clk.Now()

	invoiceID = h.node.Generate()
	if err := h.db.Exec(
		`INSERT INTO invoices (id, org_id, number, currency, amount, amount_paid, status, paid_at, created_at, updated_at)
		 VALUES (?, ?, ?, 'CLP', ?, ?, 'paid', ?, ?, ?)`,
		invoiceID, orgID, fmt.Sprintf("INV-%d", invoiceID), amount, amount, now, now, now,
	).Error; err != nil {
		t.Fatalf("seed invoice: %v", err)
	}

	paymentID = h.node.Generate()
	if err := h.db.Exec(
		`INSERT INTO payments (id, org_id, invoice_id, provider, provider_payment_id, amount, currency, status, intent_status, paid_at, raw_response, created_at, updated_at)
		 VALUES (?, ?, ?, 'flow', ?, ?, 'CLP', 'completed', 'paid', ?, NULL, ?, ?)`,
		paymentID, orgID, invoiceID, fmt.Sprintf("tok-%d", paymentID), amount, now, now, now,
	).Error; err != nil {
		t.Fatalf("seed payment: %v", err)
	}
	return invoiceID, paymentID
}

func TestCreateRefundCompletesAndReopensInvoice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	orgID := h.node.Generate()
	invoiceID, paymentID := h.seedSettledPayment(t, orgID, 100000)

	// The simulated flow gateway accepts refunds immediately.
	created, err := h.refundSvc.CreateRefund(ctx, orgID, paymentID, 40000, "customer request")
	if err != nil {
		t.Fatalf("create refund: %v", err)
	}
	if created.Status != paymentdomain.StatusCompleted {
		t.Fatalf("expected completed refund, got %s", created.Status)
	}
	if created.ProviderRef == "" {
		t.Fatal("expected provider refund reference")
	}

	invoice, err := h.invoiceSvc.FindByID(ctx, orgID, invoiceID)
	if err != nil {
		t.Fatalf("find invoice: %v", err)
	}
	if invoice.Status != invoicedomain.InvoiceStatusPending {
		t.Fatalf("expected reopened invoice, got %s", invoice.Status)
	}
	if invoice.AmountPaid != 60000 {
		t.Fatalf("expected amount_paid 60000, got %d", invoice.AmountPaid)
	}
	if invoice.PaidAt != nil {
		t.Fatal("reopened invoice must clear paid_at")
	}
}

func TestCreateRefundOverRefundGuard(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	orgID := h.node.Generate()
	_, paymentID := h.seedSettledPayment(t, orgID, 50000)

	if _, err := h.refundSvc.CreateRefund(ctx, orgID, paymentID, 30000, ""); err != nil {
		t.Fatalf("first refund: %v", err)
	}
	if _, err := h.refundSvc.CreateRefund(ctx, orgID, paymentID, 20000, ""); err != nil {
		t.Fatalf("second refund to the limit: %v", err)
	}
	if _, err := h.refundSvc.CreateRefund(ctx, orgID, paymentID, 1, ""); !errors.Is(err, paymentdomain.ErrRefundExceedsPayment) {
		t.Fatalf("expected over-refund guard, got %v", err)
	}
}

func TestCreateRefundCountsPendingRefunds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	orgID := h.node.Generate()
	_, paymentID := h.seedSettledPayment(t, orgID, 50000)

	// A pending refund holds its amount even before the provider confirms.
	now := h.clk.Now()
	if err := h.db.Exec(
		`INSERT INTO refunds (id, org_id, payment_id, amount, status, provider_ref, reason, raw_response, created_at, updated_at)
		 VALUES (?, ?, ?, 45000, 'pending', 'ref-hold', '', NULL, ?, ?)`,
		h.node.Generate(), orgID, paymentID, now, now,
	).Error; err != nil {
		t.Fatalf("seed pending refund: %v", err)
	}

	if _, err := h.refundSvc.CreateRefund(ctx, orgID, paymentID, 10000, ""); !errors.Is(err, paymentdomain.ErrRefundExceedsPayment) {
		t.Fatalf("expected over-refund guard, got %v", err)
	}
}

func TestCreateRefundPreconditions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	orgID := h.node.Generate()
	_, paymentID := h.seedSettledPayment(t, orgID, 50000)

	if _, err := h.refundSvc.CreateRefund(ctx, orgID, paymentID, 0, ""); !errors.Is(err, paymentdomain.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if _, err := h.refundSvc.CreateRefund(ctx, orgID, paymentID, -5, ""); !errors.Is(err, paymentdomain.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount for negative, got %v", err)
	}

	// A pending payment cannot be refunded.
	now := h.clk.Now()
	pendingID := h.node.Generate()
	if err := h.db.Exec(
		`INSERT INTO payments (id, org_id, invoice_id, provider, provider_payment_id, amount, currency, status, intent_status, paid_at, raw_response, created_at, updated_at)
		 VALUES (?, ?, NULL, 'flow', 'tok-pending', 10000, 'CLP', 'pending', 'initiated', NULL, NULL, ?, ?)`,
		pendingID, orgID, now, now,
	).Error; err != nil {
		t.Fatalf("seed pending payment: %v", err)
	}
	if _, err := h.refundSvc.CreateRefund(ctx, orgID, pendingID, 1000, ""); !errors.Is(err, paymentdomain.ErrPaymentNotCompleted) {
		t.Fatalf("expected payment not completed, got %v", err)
	}

	// A settled payment without a provider reference cannot be refunded.
	noRefID := h.node.Generate()
	if err := h.db.Exec(
		`INSERT INTO payments (id, org_id, invoice_id, provider, provider_payment_id, amount, currency, status, intent_status, paid_at, raw_response, created_at, updated_at)
		 VALUES (?, ?, NULL, 'flow', '', 10000, 'CLP', 'completed', 'paid', ?, NULL, ?, ?)`,
		noRefID, orgID, now, now, now,
	).Error; err != nil {
		t.Fatalf("seed payment without reference: %v", err)
	}
	if _, err := h.refundSvc.CreateRefund(ctx, orgID, noRefID, 1000, ""); !errors.Is(err, paymentdomain.ErrNoProviderReference) {
		t.Fatalf("expected no provider reference, got %v", err)
	}

	if _, err := h.refundSvc.CreateRefund(ctx, orgID, h.node.Generate(), 1000, ""); !errors.Is(err, paymentdomain.ErrPaymentNotFound) {
		t.Fatalf("expected payment not found, got %v", err)
	}
}

func TestApplyWebhookCompletedRefundNeverRegresses(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	orgID := h.node.Generate()
	_, paymentID := h.seedSettledPayment(t, orgID, 50000)

	now := h.clk.Now()
	refundID := h.node.Generate()
	if err := h.db.Exec(
		`INSERT INTO refunds (id, org_id, payment_id, amount, status, provider_ref, reason, raw_response, created_at, updated_at)
		 VALUES (?, ?, ?, 50000, 'completed', 'ref-done', '', NULL, ?, ?)`,
		refundID, orgID, paymentID, now, now,
	).Error; err != nil {
		t.Fatalf("seed refund: %v", err)
	}

	updated, err := h.refundSvc.ApplyWebhook(ctx, "flow", paymentdomain.RefundResult{
		ProviderRef: "ref-done",
		Status:      paymentdomain.StatusFailed,
	})
	if err != nil {
		t.Fatalf("apply webhook: %v", err)
	}
	if updated.Status != paymentdomain.StatusCompleted {
		t.Fatalf("completed refund regressed to %s", updated.Status)
	}
}

func TestApplyWebhookUnmatchedReference(t *testing.T) {
	h := newHarness(t)

	updated, err := h.refundSvc.ApplyWebhook(context.Background(), "flow", paymentdomain.RefundResult{
		ProviderRef: "ref-unknown",
		Status:      paymentdomain.StatusCompleted,
	})
	if err != nil {
		t.Fatalf("apply webhook: %v", err)
	}
	if updated != nil {
		t.Fatal("expected no refund for unknown reference")
	}
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_rf_%d?mode=memory&cache=shared", time.Now().UnixNano())
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
