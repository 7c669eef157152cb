package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository is raw persistence for the payment core. No business rules:
// every rule lives in the services.
type Repository interface {
	CreatePayment(ctx context.Context, db *gorm.DB, payment *Payment) error
	UpdatePayment(ctx context.Context, db *gorm.DB, payment *Payment) error
	FindPayment(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Payment, error)
	FindPaymentByProviderRef(ctx context.Context, db *gorm.DB, provider, providerPaymentID string) (*Payment, error)
	FindInFlightPayment(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID, provider string) (*Payment, error)
	// ListInFlightPayments returns unsettled intents with a provider
	// reference created before the cutoff, oldest first.
	ListInFlightPayments(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]Payment, error)

	CreateRefund(ctx context.Context, db *gorm.DB, refund *Refund) error
	UpdateRefund(ctx context.Context, db *gorm.DB, refund *Refund) error
	FindRefundByProviderRef(ctx context.Context, db *gorm.DB, providerRef string) (*Refund, error)
	SumCompletedRefunds(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) (int64, error)

	// InsertEvent reports false when the (provider, provider_event_id)
	// pair already exists; exactly one concurrent insert wins.
	InsertEvent(ctx context.Context, db *gorm.DB, event *WebhookEvent) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*WebhookEvent, error)
	MarkEventProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, relatedID *snowflake.ID, processedAt time.Time) error
	MarkEventRejected(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error

	CreateRecurringCustomer(ctx context.Context, db *gorm.DB, customer *RecurringCustomer) error
	UpdateRecurringCustomer(ctx context.Context, db *gorm.DB, customer *RecurringCustomer) error
	FindRecurringCustomer(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*RecurringCustomer, error)

	FindProviderConfig(ctx context.Context, db *gorm.DB, orgID snowflake.ID, provider string) (*ProviderConfig, error)
}

// ProviderConfig is a company's activation record for one provider,
// holding its gateway credentials as an opaque JSON document.
type ProviderConfig struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID     snowflake.ID `json:"org_id" gorm:"not null"`
	Provider  string       `json:"provider" gorm:"type:text;not null"`
	Config    []byte       `json:"config" gorm:"type:jsonb"`
	IsActive  bool         `json:"is_active" gorm:"not null;default:true"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time    `json:"updated_at" gorm:"not null"`
}

func (ProviderConfig) TableName() string { return "payment_provider_configs" }
