package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "draft"
	InvoiceStatusPending   InvoiceStatus = "pending"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusOverdue   InvoiceStatus = "overdue"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

// Invoice is the billing aggregate payments settle against. This core
// consumes it: record CRUD lives elsewhere, only the reconciler mutates
// the settlement fields (AmountPaid, Status, PaidAt).
type Invoice struct {
	ID         snowflake.ID  `json:"id" gorm:"primaryKey"`
	OrgID      snowflake.ID  `json:"org_id" gorm:"not null;index"`
	Number     string        `json:"number" gorm:"type:text"`
	Currency   string        `json:"currency" gorm:"type:text;not null"`
	Amount     int64         `json:"amount" gorm:"not null"`
	AmountPaid int64         `json:"amount_paid" gorm:"not null;default:0"`
	Status     InvoiceStatus `json:"status" gorm:"type:text;not null"`
	PaidAt     *time.Time    `json:"paid_at"`
	CreatedAt  time.Time     `json:"created_at" gorm:"not null"`
	UpdatedAt  time.Time     `json:"updated_at" gorm:"not null"`
}

func (Invoice) TableName() string { return "invoices" }

// Remaining is the outstanding balance derived from settled payments.
func (i Invoice) Remaining() int64 {
	return i.Amount - i.AmountPaid
}

func (i Invoice) IsPaid() bool {
	return i.Status == InvoiceStatusPaid
}

// Service recomputes an invoice's settlement state from its completed
// payments and refunds.
type Service interface {
	FindByID(ctx context.Context, orgID, invoiceID snowflake.ID) (*Invoice, error)
	Reconcile(ctx context.Context, orgID, invoiceID snowflake.ID) (*Invoice, error)
}

var (
	ErrInvoiceNotFound    = errors.New("invoice_not_found")
	ErrInvoiceAlreadyPaid = errors.New("invoice_already_paid")
	ErrInvoiceNotPayable  = errors.New("invoice_not_payable")
)
