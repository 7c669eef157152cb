package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/facturante/facturante/internal/payment/domain"
	"github.com/facturante/facturante/pkg/money"
)

// CreatePaymentLink issues a signed customer-facing link for an invoice.
func (s *Server) CreatePaymentLink(c *gin.Context) {
	invoiceID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	invoice, err := s.invoiceSvc.FindByID(c.Request.Context(), orgID(c), invoiceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	token, err := s.linkCodec.Generate(invoice.OrgID, invoice.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"token": token,
		"url":   "/public/pay/" + token,
	})
}

// GetPublicInvoice renders the payable view behind a signed link. The
// token alone scopes the request; there is no session.
func (s *Server) GetPublicInvoice(c *gin.Context) {
	claims, err := s.linkCodec.Parse(c.Param("token"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	invoice, err := s.invoiceSvc.FindByID(c.Request.Context(), claims.OrgID, claims.InvoiceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	providers := make([]gin.H, 0)
	for _, entry := range s.catalog.List() {
		if !entry.Enabled {
			continue
		}
		providers = append(providers, gin.H{
			"provider":     entry.Provider,
			"display_name": entry.DisplayName,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"invoice": gin.H{
			"number":              invoice.Number,
			"currency":            invoice.Currency,
			"amount":              invoice.Amount,
			"amount_paid":         invoice.AmountPaid,
			"remaining":           invoice.Remaining(),
			"amount_formatted":    money.New(invoice.Amount, invoice.Currency).String(),
			"remaining_formatted": money.New(invoice.Remaining(), invoice.Currency).String(),
			"status":              invoice.Status,
			"paid_at":             invoice.PaidAt,
		},
		"providers": providers,
	})
}

type publicInitRequest struct {
	Provider  string `json:"provider" binding:"required"`
	ReturnURL string `json:"return_url"`
	Email     string `json:"email"`
}

// InitPublicPayment starts a payment from the customer-facing page. A
// paid invoice conflicts instead of opening another intent.
func (s *Server) InitPublicPayment(c *gin.Context) {
	claims, err := s.linkCodec.Parse(c.Param("token"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req publicInitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	opts := domain.InitiateOptions{ReturnURL: req.ReturnURL}
	if req.Email != "" {
		opts.Metadata = map[string]string{"email": req.Email}
	}

	payment, err := s.paymentSvc.InitiatePayment(c.Request.Context(), claims.OrgID, claims.InvoiceID, req.Provider, opts)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"payment_id":          payment.ID.String(),
		"provider":            payment.Provider,
		"provider_payment_id": payment.ProviderPaymentID,
		"status":              payment.Status,
		"intent_status":       payment.IntentStatus,
		"redirect_url":        payment.RedirectURL,
	})
}
