package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	invoicedomain "github.com/facturante/facturante/internal/invoice/domain"
	paymentdomain "github.com/facturante/facturante/internal/payment/domain"
	"github.com/facturante/facturante/internal/publiclink"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrNotFound       = errors.New("not_found")
	ErrInternal       = errors.New("internal_error")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case isBadRequestError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_request",
			Message: err.Error(),
		}
	case errors.Is(err, paymentdomain.ErrInvalidSignature):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: err.Error(),
		}
	case errors.Is(err, paymentdomain.ErrProviderDisabled):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: err.Error(),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, invoicedomain.ErrInvoiceAlreadyPaid),
		errors.Is(err, invoicedomain.ErrInvoiceNotPayable):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case errors.Is(err, publiclink.ErrLinkExpired),
		errors.Is(err, publiclink.ErrLinkInvalid):
		return http.StatusGone, errorPayload{
			Type:    "gone",
			Message: "link expired or invalid",
		}
	case isUnprocessableError(err):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "unprocessable",
			Message: err.Error(),
		}
	default:
		// ErrSecretNotConfigured lands here on purpose: a webhook that
		// cannot be verified is an operator problem, not the caller's.
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isBadRequestError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, paymentdomain.ErrInvalidProvider),
		errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, paymentdomain.ErrInvalidEvent),
		errors.Is(err, paymentdomain.ErrInvalidAmount),
		// A replayed capture is a malformed request, not an auth failure;
		// 401 stays reserved for signature mismatches.
		errors.Is(err, paymentdomain.ErrStaleTimestamp):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, paymentdomain.ErrProviderNotFound),
		errors.Is(err, paymentdomain.ErrPaymentNotFound),
		errors.Is(err, paymentdomain.ErrRefundNotFound),
		errors.Is(err, paymentdomain.ErrCustomerNotFound),
		errors.Is(err, invoicedomain.ErrInvoiceNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isUnprocessableError(err error) bool {
	switch {
	case errors.Is(err, paymentdomain.ErrRefundExceedsPayment),
		errors.Is(err, paymentdomain.ErrPaymentNotCompleted),
		errors.Is(err, paymentdomain.ErrNoProviderReference),
		errors.Is(err, paymentdomain.ErrCardNotRegistered),
		errors.Is(err, paymentdomain.ErrRefundUnsupported),
		errors.Is(err, paymentdomain.ErrRecurringUnsupported),
		errors.Is(err, paymentdomain.ErrCommitUnsupported),
		errors.Is(err, paymentdomain.ErrInvalidConfig):
		return true
	default:
		return false
	}
}
