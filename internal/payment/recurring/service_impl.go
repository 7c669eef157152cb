// Package recurring manages tokenized payers and card-on-file charges
// for providers that support them.
package recurring

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/facturante/facturante/internal/clock"
	invoicedomain "github.com/facturante/facturante/internal/invoice/domain"
	"github.com/facturante/facturante/internal/payment/domain"
	paymentservice "github.com/facturante/facturante/internal/payment/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
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
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	paymentSvc *paymentservice.Service
	invoiceSvc invoicedomain.Service
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("recurring.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		paymentSvc: p.PaymentSvc,
		invoiceSvc: p.InvoiceSvc,
	}
}

// RegisterCustomer creates a provider-side payer and hands back the
// hosted card-registration redirect. Card metadata lands when the payer
// finishes the registration form.
func (s *Service) RegisterCustomer(ctx context.Context, orgID snowflake.ID, provider, email, returnURL string) (*domain.RecurringCustomer, string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, "", domain.ErrInvalidPayload
	}

	gateway, err := s.gatewayFor(ctx, orgID, provider)
	if err != nil {
		return nil, "", err
	}

	now := s.clock.Now()
	customer := &domain.RecurringCustomer{
		ID:        s.genID.Generate(),
		OrgID:     orgID,
		Provider:  strings.ToLower(strings.TrimSpace(provider)),
		Email:     email,
		Status:    domain.RecurringCustomerActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateRecurringCustomer(ctx, s.db, customer); err != nil {
		return nil, "", err
	}

	result := gateway.RegisterCustomer(ctx, customer, returnURL)
	if result.Status == domain.IntentError {
		return nil, "", domain.ErrInvalidConfig
	}

	customer.ProviderCustomerID = result.ProviderPaymentID
	applyCardMetadata(customer, result.Raw)
	customer.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdateRecurringCustomer(ctx, s.db, customer); err != nil {
		return nil, "", err
	}
	return customer, result.RedirectURL, nil
}

// ConfirmRegistration records the card metadata reported by the
// provider's registration callback.
func (s *Service) ConfirmRegistration(ctx context.Context, orgID, customerID snowflake.ID, cardBrand, cardLast4 string) (*domain.RecurringCustomer, error) {
	customer, err := s.findCustomer(ctx, orgID, customerID)
	if err != nil {
		return nil, err
	}

	customer.HasRegisteredCard = true
	customer.CardBrand = strings.TrimSpace(cardBrand)
	customer.CardLast4 = strings.TrimSpace(cardLast4)
	customer.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdateRecurringCustomer(ctx, s.db, customer); err != nil {
		return nil, err
	}
	return customer, nil
}

// ChargeCustomer debits the stored card for the invoice's remaining
// balance. The resulting payment settles through the shared algorithm,
// so the invoice reconciles exactly as it would for a redirect payment.
func (s *Service) ChargeCustomer(ctx context.Context, orgID, customerID, invoiceID snowflake.ID) (*domain.Payment, error) {
	customer, err := s.findCustomer(ctx, orgID, customerID)
	if err != nil {
		return nil, err
	}
	if !customer.HasRegisteredCard || customer.ProviderCustomerID == "" {
		return nil, domain.ErrCardNotRegistered
	}

	gateway, err := s.gatewayFor(ctx, orgID, customer.Provider)
	if err != nil {
		return nil, err
	}

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

	now := s.clock.Now()
	payment := &domain.Payment{
		ID:           s.genID.Generate(),
		OrgID:        orgID,
		InvoiceID:    &invoiceID,
		Provider:     customer.Provider,
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

	result := gateway.ChargeCustomer(ctx, customer, invoice, payment)
	if err := s.paymentSvc.ApplyResult(ctx, payment, result); err != nil {
		return nil, err
	}
	return payment, nil
}

// RemoveCard unregisters the stored card while keeping the customer and
// its payment history. A new card can be registered afterwards.
func (s *Service) RemoveCard(ctx context.Context, orgID, customerID snowflake.ID) (*domain.RecurringCustomer, error) {
	customer, err := s.findCustomer(ctx, orgID, customerID)
	if err != nil {
		return nil, err
	}
	if !customer.HasRegisteredCard {
		return nil, domain.ErrCardNotRegistered
	}

	gateway, err := s.gatewayFor(ctx, orgID, customer.Provider)
	if err != nil {
		return nil, err
	}
	result := gateway.RemoveCard(ctx, customer)
	if result.Status == domain.IntentError {
		return nil, domain.ErrInvalidConfig
	}

	customer.HasRegisteredCard = false
	customer.CardBrand = ""
	customer.CardLast4 = ""
	customer.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdateRecurringCustomer(ctx, s.db, customer); err != nil {
		return nil, err
	}
	return customer, nil
}

func (s *Service) findCustomer(ctx context.Context, orgID, customerID snowflake.ID) (*domain.RecurringCustomer, error) {
	customer, err := s.repo.FindRecurringCustomer(ctx, s.db, orgID, customerID)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, domain.ErrCustomerNotFound
	}
	return customer, nil
}

func (s *Service) gatewayFor(ctx context.Context, orgID snowflake.ID, provider string) (domain.RecurringGateway, error) {
	adapter, err := s.paymentSvc.AdapterFor(ctx, orgID, provider)
	if err != nil {
		return nil, err
	}
	gateway, ok := adapter.(domain.RecurringGateway)
	if !ok {
		return nil, domain.ErrRecurringUnsupported
	}
	return gateway, nil
}

// applyCardMetadata lifts card details out of a registration response
// when the provider reports them inline.
func applyCardMetadata(customer *domain.RecurringCustomer, raw []byte) {
	if len(raw) == 0 {
		return
	}
	var payload struct {
		CardType string `json:"creditCardType"`
		Last4    string `json:"last4CardDigits"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return
	}
	if payload.CardType != "" || payload.Last4 != "" {
		customer.HasRegisteredCard = true
		customer.CardBrand = payload.CardType
		customer.CardLast4 = payload.Last4
	}
}
