package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentwebhook "github.com/facturante/facturante/internal/payment/webhook"
)

func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	req, ok := s.webhookRequest(c)
	if !ok {
		return
	}

	receipt, err := s.webhookSvc.Ingest(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, webhookAck("payment_id", receipt))
}

func (s *Server) HandleRefundWebhook(c *gin.Context) {
	req, ok := s.webhookRequest(c)
	if !ok {
		return
	}
	req.EventType = "refund"

	receipt, err := s.webhookSvc.IngestRefund(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, webhookAck("refund_id", receipt))
}

// webhookAck is the acknowledgement body: success is always true once
// the signature verified, and the related id stays null for unmatched
// events.
func webhookAck(relatedKey string, receipt paymentwebhook.Receipt) gin.H {
	body := gin.H{
		"success":  true,
		"status":   receipt.Outcome,
		"event_id": receipt.EventID.String(),
		relatedKey: nil,
	}
	if receipt.RelatedID != nil {
		body[relatedKey] = receipt.RelatedID.String()
	}
	return body
}

func (s *Server) webhookRequest(c *gin.Context) (paymentwebhook.Request, bool) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return paymentwebhook.Request{}, false
	}

	signature := c.GetHeader("X-Signature")
	if signature == "" {
		signature = c.GetHeader("X-Hmac-Signature")
	}

	return paymentwebhook.Request{
		Provider:  strings.TrimSpace(c.Param("provider")),
		EventID:   c.GetHeader("X-Event-Id"),
		Signature: signature,
		Timestamp: c.GetHeader("X-Signature-Timestamp"),
		EventType: c.GetHeader("X-Event-Type"),
		Body:      payload,
	}, true
}
