package domain

import "errors"

var (
	ErrInvalidProvider       = errors.New("invalid_provider")
	ErrProviderNotFound      = errors.New("provider_not_found")
	ErrProviderDisabled      = errors.New("provider_disabled")
	ErrInvalidConfig         = errors.New("invalid_provider_config")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrInvalidAmount         = errors.New("invalid_amount")
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrStaleTimestamp        = errors.New("stale_timestamp")
	ErrSecretNotConfigured   = errors.New("webhook_secret_not_configured")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
	ErrPaymentNotFound       = errors.New("payment_not_found")
	ErrRefundNotFound        = errors.New("refund_not_found")
	ErrCustomerNotFound      = errors.New("recurring_customer_not_found")
	ErrPaymentNotCompleted   = errors.New("payment_not_completed")
	ErrNoProviderReference   = errors.New("payment_missing_provider_reference")
	ErrRefundExceedsPayment  = errors.New("refund_exceeds_payment")
	ErrCardNotRegistered     = errors.New("card_not_registered")
	ErrRefundUnsupported     = errors.New("refund_unsupported")
	ErrRecurringUnsupported  = errors.New("recurring_unsupported")

	// ErrCommitUnsupported is a programmer-contract violation: commit
	// called for a provider without a return-URL confirmation leg.
	ErrCommitUnsupported = errors.New("commit_unsupported")
)
