// Package seed loads a demo company with open invoices so a fresh
// deployment can exercise the payment flows without real data.
package seed

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/facturante/facturante/internal/clock"
	"github.com/facturante/facturante/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	demoOrgID       = snowflake.ID(1)
	demoInvoiceBase = "DEMO"
)

type demoInvoice struct {
	number   string
	currency string
	amount   int64
}

var demoInvoices = []demoInvoice{
	{number: demoInvoiceBase + "-0001", currency: "CLP", amount: 150000},
	{number: demoInvoiceBase + "-0002", currency: "CLP", amount: 89990},
	{number: demoInvoiceBase + "-0003", currency: "USD", amount: 4999},
}

// EnsureDemoData inserts the demo invoices once; reruns are no-ops.
func EnsureDemoData(db *gorm.DB, node *snowflake.Node, clk clock.Clock) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Raw(
			`SELECT COUNT(1) FROM invoices WHERE org_id = ? AND number LIKE ?`,
			demoOrgID, demoInvoiceBase+"-%",
		).Scan(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		now := clk.Now()
		for _, inv := range demoInvoices {
			if err := tx.Exec(
				`INSERT INTO invoices (id, org_id, number, currency, amount, amount_paid, status, paid_at, created_at, updated_at)
				 VALUES (?, ?, ?, ?, ?, 0, 'pending', NULL, ?, ?)`,
				node.Generate(), demoOrgID, inv.number, inv.currency, inv.amount, now, now,
			).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func register(cfg config.Config, db *gorm.DB, node *snowflake.Node, clk clock.Clock, log *zap.Logger) error {
	if !cfg.SeedDemo {
		return nil
	}
	if err := EnsureDemoData(db, node, clk); err != nil {
		return err
	}
	log.Named("seed").Info("demo data ensured", zap.Int("invoices", len(demoInvoices)))
	return nil
}

var Module = fx.Module("seed",
	fx.Invoke(register),
)
