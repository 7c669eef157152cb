package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/facturante/facturante/internal/payment/domain"
)

type initiatePaymentRequest struct {
	InvoiceID   string            `json:"invoice_id" binding:"required"`
	Provider    string            `json:"provider" binding:"required"`
	ReturnURL   string            `json:"return_url"`
	CallbackURL string            `json:"callback_url"`
	Metadata    map[string]string `json:"metadata"`
}

func (s *Server) InitiatePayment(c *gin.Context) {
	var req initiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	invoiceID, err := snowflake.ParseString(req.InvoiceID)
	if err != nil || invoiceID == 0 {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	payment, err := s.paymentSvc.InitiatePayment(c.Request.Context(), orgID(c), invoiceID, req.Provider, domain.InitiateOptions{
		ReturnURL:   req.ReturnURL,
		CallbackURL: req.CallbackURL,
		Metadata:    req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, payment)
}

func (s *Server) GetPaymentByID(c *gin.Context) {
	paymentID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	payment, err := s.paymentSvc.FindPayment(c.Request.Context(), orgID(c), paymentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (s *Server) RefreshPaymentStatus(c *gin.Context) {
	paymentID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	payment, err := s.paymentSvc.RefreshStatus(c.Request.Context(), orgID(c), paymentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

type createRefundRequest struct {
	Amount int64  `json:"amount" binding:"required"`
	Reason string `json:"reason"`
}

func (s *Server) CreateRefund(c *gin.Context) {
	paymentID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req createRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	refund, err := s.refundSvc.CreateRefund(c.Request.Context(), orgID(c), paymentID, req.Amount, req.Reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, refund)
}

// HandleWebpayReturn is the payer's landing point after the hosted form.
// The commit call here is what actually settles the payment.
func (s *Server) HandleWebpayReturn(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token_ws"))
	if token == "" {
		token = strings.TrimSpace(c.PostForm("token_ws"))
	}
	if token == "" {
		// The payer aborted on the hosted form; nothing to commit.
		if aborted := strings.TrimSpace(c.Query("TBK_TOKEN")); aborted != "" {
			c.JSON(http.StatusOK, gin.H{"status": "aborted"})
			return
		}
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	payment, err := s.paymentSvc.CommitReturn(c.Request.Context(), "webpay", token)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}
