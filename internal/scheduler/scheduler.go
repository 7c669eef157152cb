// Package scheduler runs the background status poller for in-flight
// payment intents. Async providers confirm through webhooks; the poller
// covers deliveries that never arrive.
package scheduler

import (
	"context"
	"time"

	"github.com/facturante/facturante/internal/clock"
	"github.com/facturante/facturante/internal/config"
	"github.com/facturante/facturante/internal/payment/domain"
	paymentservice "github.com/facturante/facturante/internal/payment/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Config     config.Config
	Repo       domain.Repository
	PaymentSvc *paymentservice.Service
}

// Poller periodically refreshes unsettled intents against their
// providers. Refreshing goes through the orchestrator's apply-result
// path, so a poll can never disagree with a webhook about settlement.
type Poller struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	cfg        config.Config
	repo       domain.Repository
	paymentSvc *paymentservice.Service
}

func NewPoller(p Params) *Poller {
	return &Poller{
		db:         p.DB,
		log:        p.Log.Named("payment.poller"),
		clock:      p.Clock,
		cfg:        p.Config,
		repo:       p.Repo,
		paymentSvc: p.PaymentSvc,
	}
}

// Poll refreshes one batch of stale in-flight intents. Per-payment
// failures are logged and skipped; the batch keeps going.
func (p *Poller) Poll(ctx context.Context) int {
	cutoff := p.clock.Now().Add(-p.cfg.PollMinAge)
	payments, err := p.repo.ListInFlightPayments(ctx, p.db, cutoff, p.batchSize())
	if err != nil {
		p.log.Error("listing in-flight payments failed", zap.Error(err))
		return 0
	}

	refreshed := 0
	for i := range payments {
		payment := payments[i]
		if _, err := p.paymentSvc.RefreshStatus(ctx, payment.OrgID, payment.ID); err != nil {
			p.log.Warn("status refresh failed",
				zap.String("payment_id", payment.ID.String()),
				zap.String("provider", payment.Provider),
				zap.Error(err),
			)
			continue
		}
		refreshed++
	}

	if refreshed > 0 {
		p.log.Info("poll cycle complete",
			zap.Int("candidates", len(payments)),
			zap.Int("refreshed", refreshed),
		)
	}
	return refreshed
}

func (p *Poller) batchSize() int {
	if p.cfg.PollBatchSize <= 0 {
		return 50
	}
	return p.cfg.PollBatchSize
}

func (p *Poller) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// register starts the poll loop when an interval is configured.
func register(lc fx.Lifecycle, poller *Poller, cfg config.Config, log *zap.Logger) {
	if cfg.PollInterval <= 0 {
		log.Named("payment.poller").Info("status poller disabled")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				poller.run(ctx, cfg.PollInterval)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}
