package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/facturante/facturante/internal/clock"
	invoicedomain "github.com/facturante/facturante/internal/invoice/domain"
)

// InitiateOptions carries per-intent routing data into an adapter.
type InitiateOptions struct {
	ReturnURL   string
	CallbackURL string
	Metadata    map[string]string
}

// GatewayResult is the normalized shape every adapter operation returns.
// Provider-side failure is data, not a Go error: Status carries the
// normalized outcome and Raw the diagnostic payload.
type GatewayResult struct {
	ProviderPaymentID string
	RedirectURL       string
	Status            string
	Paid              bool
	PaidAt            *time.Time
	Raw               []byte
}

// ErrorResult builds the failure shape adapters return when the provider
// is unreachable or answered outside its contract.
func ErrorResult(raw []byte) GatewayResult {
	return GatewayResult{Status: IntentError, Raw: raw}
}

// GatewayAdapter unifies the three provider protocols behind one
// contract. Implementations must not touch persistence, and must not
// return Go errors for expected provider-side failure (see ErrorResult).
type GatewayAdapter interface {
	Provider() string

	// Initiate creates the provider-side transaction for a pending
	// intent. Safe to call once per intent.
	Initiate(ctx context.Context, invoice *invoicedomain.Invoice, payment *Payment, opts InitiateOptions) GatewayResult

	// Retrieve reads the current provider-side status by token. Pure
	// read, side-effect-free on the provider.
	Retrieve(ctx context.Context, providerPaymentID string, createdAt time.Time) GatewayResult

	// HandleWebhook translates an already-verified inbound payload into
	// the normalized shape. No signature checks, no persistence.
	HandleWebhook(ctx context.Context, payload []byte) (GatewayResult, error)
}

// Committer is the synchronous-redirect extension: confirmation happens
// on the return-URL leg, not via Retrieve.
type Committer interface {
	Commit(ctx context.Context, providerPaymentID string) GatewayResult
}

// RefundGateway is implemented by adapters that can push refunds.
type RefundGateway interface {
	CreateRefund(ctx context.Context, payment *Payment, amount int64, reason string) GatewayResult
	HandleRefundWebhook(ctx context.Context, payload []byte) (RefundResult, error)
}

// RefundResult is the normalized refund-side shape; ProviderRef is the
// provider's refund order identifier.
type RefundResult struct {
	ProviderRef string
	Status      string
	Raw         []byte
}

// RecurringGateway is the async-token variant for tokenized repeat
// charges.
type RecurringGateway interface {
	RegisterCustomer(ctx context.Context, customer *RecurringCustomer, returnURL string) GatewayResult
	ChargeCustomer(ctx context.Context, customer *RecurringCustomer, invoice *invoicedomain.Invoice, payment *Payment) GatewayResult
	RemoveCard(ctx context.Context, customer *RecurringCustomer) GatewayResult
}

// AdapterConfig carries per-company provider credentials into a factory.
// An empty credential map puts the adapter in simulation mode.
type AdapterConfig struct {
	OrgID    snowflake.ID
	Provider string
	Config   map[string]any
	Clock    clock.Clock
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (GatewayAdapter, error)
}

// FailureStatuses is the fixed set of normalized statuses that move a
// payment to failed; anything else leaves settlement status untouched.
var FailureStatuses = map[string]bool{
	IntentFailed:   true,
	IntentError:    true,
	IntentAborted:  true,
	IntentRejected: true,
}
