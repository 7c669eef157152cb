package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/facturante/facturante/internal/clock"
	invoicedomain "github.com/facturante/facturante/internal/invoice/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
}

// Service owns invoice settlement state. Reconcile is the only writer of
// amount_paid, status=paid and paid_at; invoice lifecycle transitions
// (draft, overdue, cancelled) belong to the invoicing subsystem.
type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
}

func NewService(p Params) invoicedomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("invoice.service"),
		clock: p.Clock,
	}
}

func (s *Service) FindByID(ctx context.Context, orgID, invoiceID snowflake.ID) (*invoicedomain.Invoice, error) {
	var item invoicedomain.Invoice
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, org_id, number, currency, amount, amount_paid, status, paid_at, created_at, updated_at
		 FROM invoices
		 WHERE id = ? AND org_id = ?
		 LIMIT 1`,
		invoiceID,
		orgID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	return &item, nil
}

// Reconcile recomputes amount_paid from completed payments net of
// completed refunds and flips the paid/pending status both ways. The row
// lock keeps concurrent webhook deliveries from interleaving updates.
func (s *Service) Reconcile(ctx context.Context, orgID, invoiceID snowflake.ID) (*invoicedomain.Invoice, error) {
	var out invoicedomain.Invoice

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := `SELECT id, org_id, number, currency, amount, amount_paid, status, paid_at, created_at, updated_at
			 FROM invoices
			 WHERE id = ? AND org_id = ?`
		// sqlite serializes writers already and has no FOR UPDATE syntax.
		if tx.Dialector.Name() != "sqlite" {
			query += " FOR UPDATE"
		}

		var row invoicedomain.Invoice
		if err := tx.Raw(query, invoiceID, orgID).Scan(&row).Error; err != nil {
			return err
		}
		if row.ID == 0 {
			return invoicedomain.ErrInvoiceNotFound
		}

		var settled int64
		if err := tx.Raw(
			`SELECT COALESCE(SUM(amount), 0)
			 FROM payments
			 WHERE invoice_id = ? AND org_id = ? AND status = 'completed'`,
			invoiceID,
			orgID,
		).Scan(&settled).Error; err != nil {
			return err
		}

		var refunded int64
		if err := tx.Raw(
			`SELECT COALESCE(SUM(r.amount), 0)
			 FROM refunds r
			 JOIN payments p ON p.id = r.payment_id
			 WHERE p.invoice_id = ? AND p.org_id = ? AND r.status = 'completed'`,
			invoiceID,
			orgID,
		).Scan(&refunded).Error; err != nil {
			return err
		}

		paid := settled - refunded
		if paid < 0 {
			paid = 0
		}

		now := s.clock.Now()
		status := row.Status
		paidAt := row.PaidAt
		remaining := row.Amount - paid

		switch {
		case remaining <= 0 && row.Status != invoicedomain.InvoiceStatusPaid:
			status = invoicedomain.InvoiceStatusPaid
			if paidAt == nil {
				paidAt = &now
			}
		case remaining > 0 && row.Status == invoicedomain.InvoiceStatusPaid:
			// A refund or edited payment reopened the balance.
			status = invoicedomain.InvoiceStatusPending
			paidAt = nil
		}

		if err := tx.Exec(
			`UPDATE invoices
			 SET amount_paid = ?, status = ?, paid_at = ?, updated_at = ?
			 WHERE id = ? AND org_id = ?`,
			paid,
			status,
			paidAt,
			now,
			invoiceID,
			orgID,
		).Error; err != nil {
			return err
		}

		row.AmountPaid = paid
		row.Status = status
		row.PaidAt = paidAt
		row.UpdatedAt = now
		out = row
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug("invoice reconciled",
		zap.String("invoice_id", out.ID.String()),
		zap.Int64("amount_paid", out.AmountPaid),
		zap.String("status", string(out.Status)),
	)
	return &out, nil
}
