package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/facturante/facturante/internal/clock"
	"github.com/facturante/facturante/internal/config"
	invoicedomain "github.com/facturante/facturante/internal/invoice/domain"
	obsmetrics "github.com/facturante/facturante/internal/observability/metrics"
	"github.com/facturante/facturante/internal/payment/adapters"
	"github.com/facturante/facturante/internal/payment/domain"
	"github.com/facturante/facturante/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Config      config.Config
	Catalog     *config.ProviderCatalog
	Registry    *adapters.Registry
	Repo        domain.Repository
	InvoiceSvc  invoicedomain.Service
	IntentLocks *ratelimit.IntentLocks
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

// Service orchestrates payment intents across gateway adapters. It owns
// all writes to the payments table; adapters stay persistence-free.
type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	cfg         config.Config
	catalog     *config.ProviderCatalog
	registry    *adapters.Registry
	repo        domain.Repository
	invoiceSvc  invoicedomain.Service
	intentLocks *ratelimit.IntentLocks
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("payment.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		cfg:         p.Config,
		catalog:     p.Catalog,
		registry:    p.Registry,
		repo:        p.Repo,
		invoiceSvc:  p.InvoiceSvc,
		intentLocks: p.IntentLocks,
		obsMetrics:  p.ObsMetrics,
	}
}

// AdapterFor builds the provider adapter for one company, layering the
// company's stored credentials over the deployment defaults.
func (s *Service) AdapterFor(ctx context.Context, orgID snowflake.ID, provider string) (domain.GatewayAdapter, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return nil, domain.ErrInvalidProvider
	}
	if !s.registry.ProviderExists(provider) {
		return nil, domain.ErrProviderNotFound
	}
	if !s.catalog.Enabled(provider) {
		return nil, domain.ErrProviderDisabled
	}

	credentials := s.deploymentCredentials(provider)

	stored, err := s.repo.FindProviderConfig(ctx, s.db, orgID, provider)
	if err != nil {
		return nil, err
	}
	if stored != nil && len(stored.Config) > 0 {
		var overrides map[string]any
		if err := json.Unmarshal(stored.Config, &overrides); err != nil {
			return nil, domain.ErrInvalidConfig
		}
		for key, value := range overrides {
			credentials[key] = value
		}
	}

	return s.registry.NewAdapter(provider, domain.AdapterConfig{
		OrgID:    orgID,
		Provider: provider,
		Config:   credentials,
		Clock:    s.clock,
	})
}

func (s *Service) deploymentCredentials(provider string) map[string]any {
	credentials := map[string]any{}
	switch provider {
	case "webpay":
		credentials["commerce_code"] = s.cfg.Webpay.CommerceCode
		credentials["api_key"] = s.cfg.Webpay.APIKey
		credentials["base_url"] = s.cfg.Webpay.BaseURL
	case "flow":
		credentials["api_key"] = s.cfg.Flow.APIKey
		credentials["secret_key"] = s.cfg.Flow.SecretKey
		credentials["base_url"] = s.cfg.Flow.BaseURL
	}
	return credentials
}

// InitiatePayment starts (or resumes) a payment intent for the invoice's
// remaining balance. A second call for the same (invoice, provider) while
// an intent is in flight returns the existing intent instead of opening a
// duplicate provider-side transaction.
func (s *Service) InitiatePayment(ctx context.Context, orgID, invoiceID snowflake.ID, provider string, opts domain.InitiateOptions) (*domain.Payment, error) {
	adapter, err := s.AdapterFor(ctx, orgID, provider)
	if err != nil {
		return nil, err
	}
	provider = adapter.Provider()

	invoice, err := s.invoiceSvc.FindByID(ctx, orgID, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.Status == invoicedomain.InvoiceStatusPaid || invoice.Remaining() <= 0 {
		return nil, invoicedomain.ErrInvoiceAlreadyPaid
	}
	if invoice.Status != invoicedomain.InvoiceStatusPending && invoice.Status != invoicedomain.InvoiceStatusOverdue {
		return nil, invoicedomain.ErrInvoiceNotPayable
	}

	unlock := s.intentLocks.Lock(ctx, fmt.Sprintf("payment:init:%s:%s", invoiceID.String(), provider))
	defer unlock()

	existing, err := s.repo.FindInFlightPayment(ctx, s.db, invoiceID, provider)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		// The open intent is returned as-is when the provider already
		// issued a token; only a token-less intent is re-initiated.
		if strings.TrimSpace(existing.ProviderPaymentID) != "" {
			return existing, nil
		}
		result := adapter.Initiate(ctx, invoice, existing, opts)
		if err := s.applyResult(ctx, existing, result); err != nil {
			return nil, err
		}
		existing.RedirectURL = result.RedirectURL
		return existing, nil
	}

	now := s.clock.Now()
	payment := &domain.Payment{
		ID:           s.genID.Generate(),
		OrgID:        orgID,
		InvoiceID:    &invoiceID,
		Provider:     provider,
		Amount:       invoice.Remaining(),
		Currency:     invoice.Currency,
		Status:       domain.StatusPending,
		IntentStatus: domain.IntentCreated,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.CreatePayment(ctx, s.db, payment); err != nil {
		return nil, err
	}

	result := adapter.Initiate(ctx, invoice, payment, opts)
	if err := s.applyResult(ctx, payment, result); err != nil {
		return nil, err
	}
	payment.RedirectURL = result.RedirectURL
	return payment, nil
}

// RefreshStatus polls the provider for the current state of an intent and
// folds the answer into the record.
func (s *Service) RefreshStatus(ctx context.Context, orgID, paymentID snowflake.ID) (*domain.Payment, error) {
	payment, err := s.FindPayment(ctx, orgID, paymentID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(payment.ProviderPaymentID) == "" {
		return nil, domain.ErrNoProviderReference
	}

	adapter, err := s.AdapterFor(ctx, orgID, payment.Provider)
	if err != nil {
		return nil, err
	}

	result := adapter.Retrieve(ctx, payment.ProviderPaymentID, payment.CreatedAt)
	if err := s.applyResult(ctx, payment, result); err != nil {
		return nil, err
	}
	return payment, nil
}

// CommitReturn confirms a synchronous-redirect payment on the return-URL
// leg. Only providers exposing a commit leg support this.
func (s *Service) CommitReturn(ctx context.Context, provider, providerPaymentID string) (*domain.Payment, error) {
	providerPaymentID = strings.TrimSpace(providerPaymentID)
	if providerPaymentID == "" {
		return nil, domain.ErrInvalidPayload
	}

	payment, err := s.repo.FindPaymentByProviderRef(ctx, s.db, provider, providerPaymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, domain.ErrPaymentNotFound
	}

	adapter, err := s.AdapterFor(ctx, payment.OrgID, provider)
	if err != nil {
		return nil, err
	}
	committer, ok := adapter.(domain.Committer)
	if !ok {
		return nil, domain.ErrCommitUnsupported
	}

	result := committer.Commit(ctx, providerPaymentID)
	if err := s.applyResult(ctx, payment, result); err != nil {
		return nil, err
	}
	return payment, nil
}

// ApplyWebhook folds an adapter-translated webhook result into the
// matching payment. An unmatched provider reference is not an error: the
// event stays on the ledger and the caller still acknowledges it.
func (s *Service) ApplyWebhook(ctx context.Context, provider string, result domain.GatewayResult) (*domain.Payment, error) {
	ref := strings.TrimSpace(result.ProviderPaymentID)
	if ref == "" {
		return nil, nil
	}

	payment, err := s.repo.FindPaymentByProviderRef(ctx, s.db, provider, ref)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		s.log.Warn("webhook references unknown payment",
			zap.String("provider", provider),
			zap.String("provider_payment_id", ref),
		)
		return nil, nil
	}

	if err := s.applyResult(ctx, payment, result); err != nil {
		return nil, err
	}
	return payment, nil
}

func (s *Service) FindPayment(ctx context.Context, orgID, paymentID snowflake.ID) (*domain.Payment, error) {
	payment, err := s.repo.FindPayment(ctx, s.db, orgID, paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, domain.ErrPaymentNotFound
	}
	return payment, nil
}

// ApplyResult lets sibling orchestrators (recurring charges) fold their
// gateway results through the same settlement algorithm.
func (s *Service) ApplyResult(ctx context.Context, payment *domain.Payment, result domain.GatewayResult) error {
	return s.applyResult(ctx, payment, result)
}

// applyResult is the one algorithm that moves a payment record from a
// gateway result, shared by initiate, poll, commit and webhook paths.
// It is idempotent: replaying the same result is a no-op, and a payment
// that has settled never loses its paid_at or regresses to failed.
func (s *Service) applyResult(ctx context.Context, payment *domain.Payment, result domain.GatewayResult) error {
	changed := false

	if ref := strings.TrimSpace(result.ProviderPaymentID); ref != "" && payment.ProviderPaymentID == "" {
		payment.ProviderPaymentID = ref
		changed = true
	}
	if len(result.Raw) > 0 {
		payment.RawResponse = datatypes.JSON(result.Raw)
		changed = true
	}
	if result.Status != "" && payment.IntentStatus != result.Status {
		payment.IntentStatus = result.Status
		changed = true
	}

	settled := false
	switch {
	case result.Paid && payment.PaidAt == nil:
		// Earliest of (provider timestamp, now): a future-dated provider
		// clock never pushes paid_at past receipt time.
		paidAt := s.clock.Now()
		if result.PaidAt != nil && result.PaidAt.Before(paidAt) {
			paidAt = *result.PaidAt
		}
		payment.PaidAt = &paidAt
		payment.Status = domain.StatusCompleted
		settled = true
		changed = true
	case payment.PaidAt != nil:
		// Settled payments keep their original paid_at and completed
		// status no matter what later results report.
		payment.Status = domain.StatusCompleted
	case domain.FailureStatuses[result.Status]:
		if payment.Status != domain.StatusFailed {
			payment.Status = domain.StatusFailed
			changed = true
			s.obsMetrics.RecordPaymentFailed(payment.Provider)
		}
	}

	if !changed {
		return nil
	}

	payment.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdatePayment(ctx, s.db, payment); err != nil {
		return err
	}

	if settled {
		s.obsMetrics.RecordPaymentSettled(payment.Provider)
		s.reconcileInvoice(ctx, payment)
	}
	return nil
}

// reconcileInvoice is best-effort here: the invoice can always be
// re-derived from payments, so a failure is logged, not propagated.
func (s *Service) reconcileInvoice(ctx context.Context, payment *domain.Payment) {
	if payment.InvoiceID == nil || *payment.InvoiceID == 0 {
		return
	}
	if _, err := s.invoiceSvc.Reconcile(ctx, payment.OrgID, *payment.InvoiceID); err != nil {
		s.log.Error("invoice reconcile after settlement failed",
			zap.String("invoice_id", payment.InvoiceID.String()),
			zap.String("payment_id", payment.ID.String()),
			zap.Error(err),
		)
	}
}
