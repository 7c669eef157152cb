package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

type registerRecurringRequest struct {
	Provider  string `json:"provider" binding:"required"`
	Email     string `json:"email" binding:"required"`
	ReturnURL string `json:"return_url"`
}

func (s *Server) RegisterRecurringCustomer(c *gin.Context) {
	var req registerRecurringRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	customer, redirectURL, err := s.recurringSvc.RegisterCustomer(c.Request.Context(), orgID(c), req.Provider, req.Email, req.ReturnURL)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"customer":     customer,
		"redirect_url": redirectURL,
	})
}

type confirmRecurringRequest struct {
	CardBrand string `json:"card_brand"`
	CardLast4 string `json:"card_last4"`
}

func (s *Server) ConfirmRecurringRegistration(c *gin.Context) {
	customerID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req confirmRecurringRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	customer, err := s.recurringSvc.ConfirmRegistration(c.Request.Context(), orgID(c), customerID, req.CardBrand, req.CardLast4)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, customer)
}

type chargeRecurringRequest struct {
	InvoiceID string `json:"invoice_id" binding:"required"`
}

func (s *Server) ChargeRecurringCustomer(c *gin.Context) {
	customerID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req chargeRecurringRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	invoiceID, err := snowflake.ParseString(req.InvoiceID)
	if err != nil || invoiceID == 0 {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	payment, err := s.recurringSvc.ChargeCustomer(c.Request.Context(), orgID(c), customerID, invoiceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, payment)
}

func (s *Server) RemoveRecurringCard(c *gin.Context) {
	customerID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	customer, err := s.recurringSvc.RemoveCard(c.Request.Context(), orgID(c), customerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, customer)
}
