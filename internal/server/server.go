package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/seatledger/internal/audit"
	auditdomain "github.com/smallbiznis/seatledger/internal/audit/domain"
	"github.com/smallbiznis/seatledger/internal/authorization"
	"github.com/smallbiznis/seatledger/internal/changeorder"
	changeorderdomain "github.com/smallbiznis/seatledger/internal/changeorder/domain"
	"github.com/smallbiznis/seatledger/internal/config"
	"github.com/smallbiznis/seatledger/internal/invoice"
	invoicedomain "github.com/smallbiznis/seatledger/internal/invoice/domain"
	"github.com/smallbiznis/seatledger/internal/observability"
	obsmiddleware "github.com/smallbiznis/seatledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/seatledger/internal/observability/metrics"
	obstracing "github.com/smallbiznis/seatledger/internal/observability/tracing"
	"github.com/smallbiznis/seatledger/internal/override"
	overridedomain "github.com/smallbiznis/seatledger/internal/override/domain"
	"github.com/smallbiznis/seatledger/internal/payment"
	paymentdomain "github.com/smallbiznis/seatledger/internal/payment/domain"
	"github.com/smallbiznis/seatledger/internal/publicinvoice"
	publicinvoicedomain "github.com/smallbiznis/seatledger/internal/publicinvoice/domain"
	"github.com/smallbiznis/seatledger/internal/ratelimit"
	"github.com/smallbiznis/seatledger/internal/seat"
	seatdomain "github.com/smallbiznis/seatledger/internal/seat/domain"
	"github.com/smallbiznis/seatledger/internal/tenant"
	tenantdomain "github.com/smallbiznis/seatledger/internal/tenant/domain"
	"github.com/smallbiznis/seatledger/internal/tier"
	tierdomain "github.com/smallbiznis/seatledger/internal/tier/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authorization.Module,
	audit.Module,
	tenant.Module,
	override.Module,
	tier.Module,
	seat.Module,
	invoice.Module,
	changeorder.Module,
	publicinvoice.Module,
	payment.Module,
	ratelimit.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, log *zap.Logger, httpMetrics *obsmetrics.Metrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(log, obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, log *zap.Logger, httpMetrics *obsmetrics.Metrics) *gin.Engine {
	return NewEngine(obsCfg, log, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
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
	engine           *gin.Engine
	log              *zap.Logger
	authzSvc         authorization.Service
	auditSvc         auditdomain.Service
	tenantSvc        tenantdomain.Service
	overrideSvc      overridedomain.Service
	tierSvc          tierdomain.Service
	seatSvc          seatdomain.Service
	invoiceSvc       invoicedomain.Service
	changeOrderSvc   changeorderdomain.Service
	publicInvoiceSvc publicinvoicedomain.Service
	paymentSvc       paymentdomain.Service
	publicLimiter    *ratelimit.PublicLimiter
}

type ServerParams struct {
	fx.In

	Gin              *gin.Engine
	Log              *zap.Logger
	AuthzSvc         authorization.Service
	AuditSvc         auditdomain.Service
	TenantSvc        tenantdomain.Service
	OverrideSvc      overridedomain.Service
	TierSvc          tierdomain.Service
	SeatSvc          seatdomain.Service
	InvoiceSvc       invoicedomain.Service
	ChangeOrderSvc   changeorderdomain.Service
	PublicInvoiceSvc publicinvoicedomain.Service
	PaymentSvc       paymentdomain.Service
	PublicLimiter    *ratelimit.PublicLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:           p.Gin,
		log:              p.Log.Named("http.server"),
		authzSvc:         p.AuthzSvc,
		auditSvc:         p.AuditSvc,
		tenantSvc:        p.TenantSvc,
		overrideSvc:      p.OverrideSvc,
		tierSvc:          p.TierSvc,
		seatSvc:          p.SeatSvc,
		invoiceSvc:       p.InvoiceSvc,
		changeOrderSvc:   p.ChangeOrderSvc,
		publicInvoiceSvc: p.PublicInvoiceSvc,
		paymentSvc:       p.PaymentSvc,
		publicLimiter:    p.PublicLimiter,
	}

	svc.registerAPIRoutes()
	svc.registerPublicRoutes()
	svc.registerWebhookRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1", s.RequestScope())

	// -------- Billing --------
	api.GET("/billing", s.authorize(authorization.ObjectBilling, authorization.ActionBillingView), s.GetBillingState)
	api.GET("/billing/overrides", s.authorize(authorization.ObjectBilling, authorization.ActionBillingView), s.ListOverrides)
	api.POST("/billing/tier", s.authorize(authorization.ObjectBilling, authorization.ActionBillingTier), s.ChangeTier)
	api.POST("/billing/comp", s.authorize(authorization.ObjectBilling, authorization.ActionBillingOverride), s.Comp)
	api.POST("/billing/discount", s.authorize(authorization.ObjectBilling, authorization.ActionBillingOverride), s.Discount)
	api.POST("/billing/seats/reconcile", s.authorize(authorization.ObjectBilling, authorization.ActionBillingReconcile), s.ReconcileSeats)

	// -------- Invoices --------
	api.POST("/invoices", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceCreate), s.CreateInvoice)
	api.GET("/invoices", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceView), s.ListInvoices)
	api.GET("/invoices/:id", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceView), s.GetInvoiceByID)
	api.PUT("/invoices/:id/line-items", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceUpdate), s.ReplaceLineItems)
	api.POST("/invoices/:id/send", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceSend), s.SendInvoice)
	api.POST("/invoices/:id/payments", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceRecordPayment), s.RecordPayment)
	api.GET("/invoices/:id/payments", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceView), s.ListPayments)
	api.POST("/invoices/:id/void", s.authorize(authorization.ObjectInvoice, authorization.ActionInvoiceVoid), s.VoidInvoice)

	// -------- Change orders --------
	api.POST("/invoices/:id/change-orders", s.authorize(authorization.ObjectChangeOrder, authorization.ActionChangeOrderCreate), s.CreateChangeOrder)
	api.GET("/invoices/:id/change-orders", s.authorize(authorization.ObjectChangeOrder, authorization.ActionChangeOrderView), s.ListChangeOrders)
	api.POST("/change-orders/:id/approve", s.authorize(authorization.ObjectChangeOrder, authorization.ActionChangeOrderApprove), s.ApproveChangeOrder)
	api.POST("/change-orders/:id/reject", s.authorize(authorization.ObjectChangeOrder, authorization.ActionChangeOrderApprove), s.RejectChangeOrder)

	// -------- Audit --------
	api.GET("/audit-logs", s.authorize(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
}

func (s *Server) registerPublicRoutes() {
	public := s.engine.Group("/public/invoices")

	public.GET("", s.publicRateLimit("view"), s.ViewPublicInvoice)
	public.POST("/pay", s.publicRateLimit("pay"), s.PayPublicInvoice)
	public.GET("/pdf", s.publicRateLimit("pdf"), s.DownloadPublicInvoicePDF)
}

func (s *Server) registerWebhookRoutes() {
	// Signed by the provider; no business scope headers.
	s.engine.POST("/webhooks/payments/:provider", s.HandlePaymentWebhook)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
