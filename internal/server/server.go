package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/railzwaylabs/crmbilling/internal/authorization"
	"github.com/railzwaylabs/crmbilling/internal/bootstrap"
	"github.com/railzwaylabs/crmbilling/internal/config"
	"github.com/railzwaylabs/crmbilling/internal/observability"
	paymentdomain "github.com/railzwaylabs/crmbilling/internal/payment/domain"
	"github.com/railzwaylabs/crmbilling/internal/payment/reconcile"
	plandomain "github.com/railzwaylabs/crmbilling/internal/plan/domain"
	refunddomain "github.com/railzwaylabs/crmbilling/internal/refund/domain"
	subscriptiondomain "github.com/railzwaylabs/crmbilling/internal/subscription/domain"
	tenantdomain "github.com/railzwaylabs/crmbilling/internal/tenant/domain"
	upgradedomain "github.com/railzwaylabs/crmbilling/internal/upgrade/domain"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	HeaderRequestID = "X-Request-Id"

	contextRequestIDKey = "request_id"
)

var Module = fx.Module("server",
	fx.Provide(New),
)

type Params struct {
	fx.In

	Config     config.Config
	Log        *zap.Logger
	DB         *gorm.DB
	Authorizer *authorization.Authorizer
	SchemaGate bootstrap.SchemaGate   `optional:"true"`
	Redis      *goredis.Client        `optional:"true"`
	Metrics    *observability.Metrics `optional:"true"`

	TenantSvc       tenantdomain.Service
	PlanSvc         plandomain.Service
	SubscriptionSvc subscriptiondomain.Service
	UpgradeSvc      upgradedomain.Service
	RefundSvc       refunddomain.Service
	Reconcile       *reconcile.Service
	TransactionRepo paymentdomain.TransactionRepository
}

type Server struct {
	cfg    config.Config
	log    *zap.Logger
	engine *gin.Engine

	db         *gorm.DB
	authz      *authorization.Authorizer
	schemaGate bootstrap.SchemaGate
	redis      *goredis.Client
	metrics    *observability.Metrics
	keys       *apiKeyVerifier
	limiter    *keyLimiter

	tenantSvc       tenantdomain.Service
	planSvc         plandomain.Service
	subscriptionSvc subscriptiondomain.Service
	upgradeSvc      upgradedomain.Service
	refundSvc       refunddomain.Service
	reconcile       *reconcile.Service
	transactionRepo paymentdomain.TransactionRepository
}

func New(p Params) *Server {
	if p.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:    p.Config,
		log:    p.Log.Named("server"),
		engine: gin.New(),

		db:         p.DB,
		authz:      p.Authorizer,
		schemaGate: p.SchemaGate,
		redis:      p.Redis,
		metrics:    p.Metrics,
		keys:       newAPIKeyVerifier(p.Config.Auth.APIKeys),
		limiter:    newKeyLimiter(p.Config.HTTP.RateLimitPerMinute),

		tenantSvc:       p.TenantSvc,
		planSvc:         p.PlanSvc,
		subscriptionSvc: p.SubscriptionSvc,
		upgradeSvc:      p.UpgradeSvc,
		refundSvc:       p.RefundSvc,
		reconcile:       p.Reconcile,
		transactionRepo: p.TransactionRepo,
	}

	s.engine.Use(s.requestID(), s.accessLog(), gin.CustomRecovery(s.recover))
	s.RegisterRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) RegisterRoutes() {
	s.RegisterSystemRoutes()

	api := s.engine.Group("/api/v1")
	api.POST("/webhooks/razorpay", s.HandleRazorpayWebhook)

	authed := api.Group("", s.APIKeyRequired())
	authed.GET("/plans", s.ListPlans)

	authed.POST("/tenants", s.OnboardTenant)
	authed.GET("/tenants/:id/subscription", s.GetCurrentSubscription)
	authed.GET("/tenants/:id/subscriptions", s.ListSubscriptions)
	authed.GET("/tenants/:id/transactions", s.ListTransactions)
	authed.POST("/tenants/:id/upgrade/quote", s.QuoteUpgrade)
	authed.POST("/tenants/:id/upgrade/checkout", s.CheckoutUpgrade)
	authed.POST("/tenants/:id/upgrade/confirm", s.ConfirmUpgrade)

	authed.POST("/subscriptions/:id/cancel", s.CancelSubscription)

	admin := authed.Group("/admin")
	admin.GET("/refunds/pending", s.ListPendingRefunds)
	admin.POST("/refunds/:transaction_id/settle", s.SettleRefund)
	admin.POST("/plans/:id/retire", s.RetirePlan)
	admin.POST("/plans/:id/activate", s.ActivatePlan)
	admin.POST("/tenants/:id/activate", s.AdminActivateTenant)
}

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(contextRequestIDKey, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString(contextRequestIDKey)),
		}
		if name := c.GetString(contextAPIKeyNameKey); name != "" {
			fields = append(fields, zap.String("api_key", name))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.Error(c.Errors.Last().Err))
			s.log.Error("request failed", fields...)
			return
		}
		s.log.Info("request", fields...)
	}
}

func (s *Server) recover(c *gin.Context, recovered any) {
	s.log.Error("panic recovered",
		zap.Any("panic", recovered),
		zap.String("request_id", c.GetString(contextRequestIDKey)),
	)
	AbortWithError(c, errors.New("panic"))
}

// Start serves HTTP for the lifetime of the fx application.
func Start(lc fx.Lifecycle, s *Server) {
	srv := &http.Server{
		Addr:         s.cfg.HTTP.Addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.HTTP.ReadTimeout,
		WriteTimeout: s.cfg.HTTP.WriteTimeout,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			s.log.Info("http server listening", zap.String("addr", ln.Addr().String()))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					s.log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			timeout := s.cfg.HTTP.ShutdownTimeout
			if timeout <= 0 {
				timeout = 10 * time.Second
			}
			shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
