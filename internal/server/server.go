package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/facturante/facturante/internal/config"
	"github.com/facturante/facturante/internal/invoice"
	invoicedomain "github.com/facturante/facturante/internal/invoice/domain"
	obsmetrics "github.com/facturante/facturante/internal/observability/metrics"
	"github.com/facturante/facturante/internal/payment"
	paymentrecurring "github.com/facturante/facturante/internal/payment/recurring"
	paymentrefund "github.com/facturante/facturante/internal/payment/refund"
	paymentservice "github.com/facturante/facturante/internal/payment/service"
	paymentwebhook "github.com/facturante/facturante/internal/payment/webhook"
	"github.com/facturante/facturante/internal/publiclink"
	"github.com/facturante/facturante/internal/ratelimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	obsmetrics.Module,
	ratelimit.Module,
	invoice.Module,
	payment.Module,
	publiclink.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogMiddleware(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(log *zap.Logger) *gin.Engine {
	return NewEngine(log)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	db           *gorm.DB
	genID        *snowflake.Node
	catalog      *config.ProviderCatalog
	invoiceSvc   invoicedomain.Service
	paymentSvc   *paymentservice.Service
	refundSvc    *paymentrefund.Service
	recurringSvc *paymentrecurring.Service
	webhookSvc   *paymentwebhook.Service
	linkCodec    *publiclink.Codec
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	DB           *gorm.DB
	GenID        *snowflake.Node
	Catalog      *config.ProviderCatalog
	InvoiceSvc   invoicedomain.Service
	PaymentSvc   *paymentservice.Service
	RefundSvc    *paymentrefund.Service
	RecurringSvc *paymentrecurring.Service
	WebhookSvc   *paymentwebhook.Service
	LinkCodec    *publiclink.Codec
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		db:           p.DB,
		genID:        p.GenID,
		catalog:      p.Catalog,
		invoiceSvc:   p.InvoiceSvc,
		paymentSvc:   p.PaymentSvc,
		refundSvc:    p.RefundSvc,
		recurringSvc: p.RecurringSvc,
		webhookSvc:   p.WebhookSvc,
		linkCodec:    p.LinkCodec,
	}

	svc.registerAPIRoutes()
	svc.registerPublicRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	api.GET("/payment_providers", s.ListPaymentProviders)

	// -------- Payments --------
	payments := api.Group("/payments", s.OrgContext())
	payments.POST("", s.InitiatePayment)
	payments.GET("/:id", s.GetPaymentByID)
	payments.POST("/:id/refresh", s.RefreshPaymentStatus)
	payments.POST("/:id/refunds", s.CreateRefund)

	// -------- Recurring --------
	recurring := api.Group("/recurring_customers", s.OrgContext())
	recurring.POST("", s.RegisterRecurringCustomer)
	recurring.POST("/:id/confirm", s.ConfirmRecurringRegistration)
	recurring.POST("/:id/charges", s.ChargeRecurringCustomer)
	recurring.DELETE("/:id/card", s.RemoveRecurringCard)

	// -------- Payment links --------
	api.POST("/invoices/:id/payment_link", s.OrgContext(), s.CreatePaymentLink)
}

func (s *Server) registerPublicRoutes() {
	// Provider-facing webhooks, HMAC-verified, outside the /api group.
	webhooks := s.engine.Group("/webhooks/payments")
	webhooks.POST("/:provider", s.HandlePaymentWebhook)
	webhooks.POST("/:provider/refunds", s.HandleRefundWebhook)

	// Return leg for the synchronous-redirect provider; the payer's
	// browser lands here carrying the transaction token.
	s.engine.GET("/payments/webpay/return", s.HandleWebpayReturn)
	s.engine.POST("/payments/webpay/return", s.HandleWebpayReturn)

	public := s.engine.Group("/public")
	public.GET("/pay/:token", s.GetPublicInvoice)
	public.POST("/pay/:token/init", s.InitPublicPayment)
}
