package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Payment settlement status, derived by the orchestrator.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Provider-reported intent statuses. The set is open: adapters may report
// provider-specific strings, these are the ones the orchestrator keys on.
const (
	IntentCreated    = "created"
	IntentInitiated  = "initiated"
	IntentAuthorized = "authorized"
	IntentPaid       = "paid"
	IntentFailed     = "failed"
	IntentError      = "error"
	IntentAborted    = "aborted"
	IntentRejected   = "rejected"
	IntentCancelled  = "cancelled"
)

// Payment is a payment intent against one provider. Rows are never
// deleted; failed intents stay on record for the audit trail.
type Payment struct {
	ID                snowflake.ID   `json:"id" gorm:"primaryKey"`
	OrgID             snowflake.ID   `json:"org_id" gorm:"not null;index"`
	InvoiceID         *snowflake.ID  `json:"invoice_id" gorm:"index"`
	Provider          string         `json:"provider" gorm:"type:text;not null"`
	ProviderPaymentID string         `json:"provider_payment_id" gorm:"type:text"`
	Amount            int64          `json:"amount" gorm:"not null"`
	Currency          string         `json:"currency" gorm:"type:text;not null"`
	Status            string         `json:"status" gorm:"type:text;not null"`
	IntentStatus      string         `json:"intent_status" gorm:"type:text;not null"`
	PaidAt            *time.Time     `json:"paid_at"`
	RawResponse       datatypes.JSON `json:"raw_gateway_response" gorm:"type:jsonb"`
	CreatedAt         time.Time      `json:"created_at" gorm:"not null"`
	UpdatedAt         time.Time      `json:"updated_at" gorm:"not null"`

	// RedirectURL is handed back from initiate and never persisted.
	RedirectURL string `json:"redirect_url,omitempty" gorm:"-"`
}

func (Payment) TableName() string { return "payments" }

// InFlight reports whether this intent can still settle and should be
// reused instead of creating a duplicate.
func (p Payment) InFlight() bool {
	if p.PaidAt != nil {
		return false
	}
	switch p.IntentStatus {
	case IntentCreated, IntentInitiated, IntentAuthorized:
		return true
	}
	return false
}

// Refund tracks money returned against a completed payment.
type Refund struct {
	ID          snowflake.ID   `json:"id" gorm:"primaryKey"`
	OrgID       snowflake.ID   `json:"org_id" gorm:"not null;index"`
	PaymentID   snowflake.ID   `json:"payment_id" gorm:"not null;index"`
	Amount      int64          `json:"amount" gorm:"not null"`
	Status      string         `json:"status" gorm:"type:text;not null"`
	ProviderRef string         `json:"provider_refund_reference" gorm:"type:text"`
	Reason      string         `json:"reason" gorm:"type:text"`
	RawResponse datatypes.JSON `json:"raw_gateway_response" gorm:"type:jsonb"`
	CreatedAt   time.Time      `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time      `json:"updated_at" gorm:"not null"`
}

func (Refund) TableName() string { return "refunds" }

// Webhook event processing states.
const (
	EventPending   = "pending"
	EventProcessed = "processed"
	EventRejected  = "rejected"
)

// WebhookEvent is the append-only idempotency ledger: every verified
// inbound callback is recorded here before any business logic runs.
type WebhookEvent struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:text;not null"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	Signature       string         `json:"signature" gorm:"type:text"`
	Status          string         `json:"status" gorm:"type:text;not null"`
	RelatedID       *snowflake.ID  `json:"related_id"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }

// RecurringCustomer is a provider-side tokenized payer used for repeat
// charges. Removing the card clears the card fields, not the row.
type RecurringCustomer struct {
	ID                 snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID              snowflake.ID `json:"org_id" gorm:"not null;index"`
	Provider           string       `json:"provider" gorm:"type:text;not null"`
	ProviderCustomerID string       `json:"provider_customer_id" gorm:"type:text"`
	Email              string       `json:"email" gorm:"type:text;not null"`
	HasRegisteredCard  bool         `json:"has_registered_card" gorm:"not null;default:false"`
	CardBrand          string       `json:"card_brand" gorm:"type:text"`
	CardLast4          string       `json:"card_last4" gorm:"type:text"`
	Status             string       `json:"status" gorm:"type:text;not null"`
	CreatedAt          time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt          time.Time    `json:"updated_at" gorm:"not null"`
}

func (RecurringCustomer) TableName() string { return "recurring_customers" }

const (
	RecurringCustomerActive  = "active"
	RecurringCustomerDeleted = "deleted"
)
