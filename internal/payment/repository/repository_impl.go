package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/facturante/facturante/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) CreatePayment(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payments (
			id, org_id, invoice_id, provider, provider_payment_id, amount,
			currency, status, intent_status, paid_at, raw_response,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID,
		payment.OrgID,
		payment.InvoiceID,
		payment.Provider,
		payment.ProviderPaymentID,
		payment.Amount,
		payment.Currency,
		payment.Status,
		payment.IntentStatus,
		payment.PaidAt,
		payment.RawResponse,
		payment.CreatedAt,
		payment.UpdatedAt,
	).Error
}

func (r *repo) UpdatePayment(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET provider_payment_id = ?, status = ?, intent_status = ?,
		     paid_at = ?, raw_response = ?, updated_at = ?
		 WHERE id = ?`,
		payment.ProviderPaymentID,
		payment.Status,
		payment.IntentStatus,
		payment.PaidAt,
		payment.RawResponse,
		payment.UpdatedAt,
		payment.ID,
	).Error
}

func (r *repo) FindPayment(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, invoice_id, provider, provider_payment_id, amount,
			currency, status, intent_status, paid_at, raw_response,
			created_at, updated_at
		 FROM payments
		 WHERE org_id = ? AND id = ?
		 LIMIT 1`,
		orgID,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindPaymentByProviderRef(ctx context.Context, db *gorm.DB, provider, providerPaymentID string) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, invoice_id, provider, provider_payment_id, amount,
			currency, status, intent_status, paid_at, raw_response,
			created_at, updated_at
		 FROM payments
		 WHERE provider = ? AND provider_payment_id = ?
		 LIMIT 1`,
		provider,
		providerPaymentID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindInFlightPayment(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID, provider string) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, invoice_id, provider, provider_payment_id, amount,
			currency, status, intent_status, paid_at, raw_response,
			created_at, updated_at
		 FROM payments
		 WHERE invoice_id = ? AND provider = ?
		   AND paid_at IS NULL
		   AND intent_status IN ('created', 'initiated', 'authorized')
		 ORDER BY created_at DESC
		 LIMIT 1`,
		invoiceID,
		provider,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListInFlightPayments(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]domain.Payment, error) {
	var items []domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, invoice_id, provider, provider_payment_id, amount,
			currency, status, intent_status, paid_at, raw_response,
			created_at, updated_at
		 FROM payments
		 WHERE paid_at IS NULL
		   AND intent_status IN ('created', 'initiated', 'authorized')
		   AND provider_payment_id <> ''
		   AND created_at < ?
		 ORDER BY created_at ASC
		 LIMIT ?`,
		before,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) CreateRefund(ctx context.Context, db *gorm.DB, refund *domain.Refund) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO refunds (
			id, org_id, payment_id, amount, status, provider_ref, reason,
			raw_response, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		refund.ID,
		refund.OrgID,
		refund.PaymentID,
		refund.Amount,
		refund.Status,
		refund.ProviderRef,
		refund.Reason,
		refund.RawResponse,
		refund.CreatedAt,
		refund.UpdatedAt,
	).Error
}

func (r *repo) UpdateRefund(ctx context.Context, db *gorm.DB, refund *domain.Refund) error {
	return db.WithContext(ctx).Exec(
		`UPDATE refunds
		 SET status = ?, provider_ref = ?, raw_response = ?, updated_at = ?
		 WHERE id = ?`,
		refund.Status,
		refund.ProviderRef,
		refund.RawResponse,
		refund.UpdatedAt,
		refund.ID,
	).Error
}

func (r *repo) FindRefundByProviderRef(ctx context.Context, db *gorm.DB, providerRef string) (*domain.Refund, error) {
	var item domain.Refund
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, payment_id, amount, status, provider_ref, reason,
			raw_response, created_at, updated_at
		 FROM refunds
		 WHERE provider_ref = ?
		 LIMIT 1`,
		providerRef,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) SumCompletedRefunds(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0)
		 FROM refunds
		 WHERE payment_id = ? AND status IN ('pending', 'completed')`,
		paymentID,
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.WebhookEvent) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO webhook_events (
			id, provider, provider_event_id, event_type, payload, signature,
			status, related_id, received_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, provider_event_id) DO NOTHING`,
		event.ID,
		event.Provider,
		event.ProviderEventID,
		event.EventType,
		event.Payload,
		event.Signature,
		event.Status,
		event.RelatedID,
		event.ReceivedAt,
		event.ProcessedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*domain.WebhookEvent, error) {
	var item domain.WebhookEvent
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, provider_event_id, event_type, payload, signature,
			status, related_id, received_at, processed_at
		 FROM webhook_events
		 WHERE provider = ? AND provider_event_id = ?
		 LIMIT 1`,
		provider,
		providerEventID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) MarkEventProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, relatedID *snowflake.ID, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_events
		 SET status = ?, related_id = ?, processed_at = ?
		 WHERE id = ?`,
		domain.EventProcessed,
		relatedID,
		processedAt,
		id,
	).Error
}

func (r *repo) MarkEventRejected(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_events
		 SET status = ?, processed_at = ?
		 WHERE id = ?`,
		domain.EventRejected,
		processedAt,
		id,
	).Error
}

func (r *repo) CreateRecurringCustomer(ctx context.Context, db *gorm.DB, customer *domain.RecurringCustomer) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO recurring_customers (
			id, org_id, provider, provider_customer_id, email,
			has_registered_card, card_brand, card_last4, status,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		customer.ID,
		customer.OrgID,
		customer.Provider,
		customer.ProviderCustomerID,
		customer.Email,
		customer.HasRegisteredCard,
		customer.CardBrand,
		customer.CardLast4,
		customer.Status,
		customer.CreatedAt,
		customer.UpdatedAt,
	).Error
}

func (r *repo) UpdateRecurringCustomer(ctx context.Context, db *gorm.DB, customer *domain.RecurringCustomer) error {
	return db.WithContext(ctx).Exec(
		`UPDATE recurring_customers
		 SET provider_customer_id = ?, has_registered_card = ?, card_brand = ?,
		     card_last4 = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		customer.ProviderCustomerID,
		customer.HasRegisteredCard,
		customer.CardBrand,
		customer.CardLast4,
		customer.Status,
		customer.UpdatedAt,
		customer.ID,
	).Error
}

func (r *repo) FindRecurringCustomer(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.RecurringCustomer, error) {
	var item domain.RecurringCustomer
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, provider, provider_customer_id, email,
			has_registered_card, card_brand, card_last4, status,
			created_at, updated_at
		 FROM recurring_customers
		 WHERE org_id = ? AND id = ?
		 LIMIT 1`,
		orgID,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindProviderConfig(ctx context.Context, db *gorm.DB, orgID snowflake.ID, provider string) (*domain.ProviderConfig, error) {
	var item domain.ProviderConfig
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, provider, config, is_active, created_at, updated_at
		 FROM payment_provider_configs
		 WHERE org_id = ? AND provider = ? AND is_active
		 LIMIT 1`,
		orgID,
		provider,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}
