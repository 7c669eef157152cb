package payment

import (
	"github.com/facturante/facturante/internal/payment/adapters"
	"github.com/facturante/facturante/internal/payment/adapters/flow"
	"github.com/facturante/facturante/internal/payment/adapters/mercadopago"
	"github.com/facturante/facturante/internal/payment/adapters/webpay"
	"github.com/facturante/facturante/internal/payment/recurring"
	"github.com/facturante/facturante/internal/payment/refund"
	"github.com/facturante/facturante/internal/payment/repository"
	paymentservice "github.com/facturante/facturante/internal/payment/service"
	"github.com/facturante/facturante/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			webpay.NewFactory(),
			flow.NewFactory(),
			mercadopago.NewFactory(),
		)
	}),
	fx.Provide(paymentservice.NewService),
	fx.Provide(refund.NewService),
	fx.Provide(recurring.NewService),
	fx.Provide(webhook.NewService),
)
