// Package refund orchestrates money returned against completed payments.
package refund

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/facturante/facturante/internal/clock"
	invoicedomain "github.com/facturante/facturante/internal/invoice/domain"
	obsmetrics "github.com/facturante/facturante/internal/observability/metrics"
	"github.com/facturante/facturante/internal/payment/domain"
	paymentservice "github.com/facturante/facturante/internal/payment/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	PaymentSvc *paymentservice.Service
	InvoiceSvc invoicedomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	paymentSvc *paymentservice.Service
	invoiceSvc invoicedomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("refund.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		paymentSvc: p.PaymentSvc,
		invoiceSvc: p.InvoiceSvc,
		obsMetrics: p.ObsMetrics,
	}
}

// CreateRefund opens a refund against a completed payment. Pending and
// completed refunds both count against the refundable balance so two
// concurrent requests cannot jointly exceed the captured amount.
func (s *Service) CreateRefund(ctx context.Context, orgID, paymentID snowflake.ID, amount int64, reason string) (*domain.Refund, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	payment, err := s.paymentSvc.FindPayment(ctx, orgID, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != domain.StatusCompleted {
		return nil, domain.ErrPaymentNotCompleted
	}
	if strings.TrimSpace(payment.ProviderPaymentID) == "" {
		return nil, domain.ErrNoProviderReference
	}

	refunded, err := s.repo.SumCompletedRefunds(ctx, s.db, payment.ID)
	if err != nil {
		return nil, err
	}
	if refunded+amount > payment.Amount {
		return nil, domain.ErrRefundExceedsPayment
	}

	adapter, err := s.paymentSvc.AdapterFor(ctx, orgID, payment.Provider)
	if err != nil {
		return nil, err
	}
	gateway, ok := adapter.(domain.RefundGateway)
	if !ok {
		return nil, domain.ErrRefundUnsupported
	}

	now := s.clock.Now()
	refund := &domain.Refund{
		ID:        s.genID.Generate(),
		OrgID:     orgID,
		PaymentID: payment.ID,
		Amount:    amount,
		Status:    domain.StatusPending,
		Reason:    strings.TrimSpace(reason),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateRefund(ctx, s.db, refund); err != nil {
		return nil, err
	}

	result := gateway.CreateRefund(ctx, payment, amount, refund.Reason)
	if err := s.applyResult(ctx, refund, payment, domain.RefundResult{
		ProviderRef: result.ProviderPaymentID,
		Status:      refundStatusFromGateway(result.Status),
		Raw:         result.Raw,
	}); err != nil {
		return nil, err
	}
	return refund, nil
}

// ApplyWebhook folds a provider refund callback into the matching refund
// record. Unmatched references are acknowledged and dropped.
func (s *Service) ApplyWebhook(ctx context.Context, provider string, result domain.RefundResult) (*domain.Refund, error) {
	ref := strings.TrimSpace(result.ProviderRef)
	if ref == "" {
		return nil, nil
	}

	refund, err := s.repo.FindRefundByProviderRef(ctx, s.db, ref)
	if err != nil {
		return nil, err
	}
	if refund == nil {
		s.log.Warn("refund webhook references unknown refund",
			zap.String("provider", provider),
			zap.String("provider_ref", ref),
		)
		return nil, nil
	}

	payment, err := s.repo.FindPayment(ctx, s.db, refund.OrgID, refund.PaymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, domain.ErrPaymentNotFound
	}

	if err := s.applyResult(ctx, refund, payment, result); err != nil {
		return nil, err
	}
	return refund, nil
}

// applyResult moves a refund record from a gateway-side result. A refund
// that completed stays completed on replays.
func (s *Service) applyResult(ctx context.Context, refund *domain.Refund, payment *domain.Payment, result domain.RefundResult) error {
	changed := false

	if ref := strings.TrimSpace(result.ProviderRef); ref != "" && refund.ProviderRef == "" {
		refund.ProviderRef = ref
		changed = true
	}
	if len(result.Raw) > 0 {
		refund.RawResponse = datatypes.JSON(result.Raw)
		changed = true
	}

	completed := false
	if refund.Status != domain.StatusCompleted && result.Status != "" && result.Status != refund.Status {
		refund.Status = result.Status
		completed = result.Status == domain.StatusCompleted
		changed = true
	}

	if !changed {
		return nil
	}

	refund.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdateRefund(ctx, s.db, refund); err != nil {
		return err
	}

	s.obsMetrics.RecordRefund(payment.Provider, refund.Status)

	// A completed refund reopens the invoice balance.
	if completed && payment.InvoiceID != nil && *payment.InvoiceID != 0 {
		if _, err := s.invoiceSvc.Reconcile(ctx, payment.OrgID, *payment.InvoiceID); err != nil {
			s.log.Error("invoice reconcile after refund failed",
				zap.String("invoice_id", payment.InvoiceID.String()),
				zap.String("refund_id", refund.ID.String()),
				zap.Error(err),
			)
		}
	}
	return nil
}

// refundStatusFromGateway normalizes adapter create-side statuses into
// refund settlement statuses.
func refundStatusFromGateway(status string) string {
	switch status {
	case domain.StatusCompleted:
		return domain.StatusCompleted
	case domain.StatusFailed, domain.IntentError, domain.IntentRejected:
		return domain.StatusFailed
	case domain.StatusCancelled:
		return domain.StatusCancelled
	default:
		return domain.StatusPending
	}
}
