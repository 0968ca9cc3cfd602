package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	bookingdomain "github.com/railzwaylabs/deskbill/internal/booking/domain"
	"github.com/railzwaylabs/deskbill/internal/config"
	"github.com/railzwaylabs/deskbill/internal/observability/tracing"
	paymentdomain "github.com/railzwaylabs/deskbill/internal/payment/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const retryAfterSeconds = "30"

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, log *zap.Logger) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(tracing.GinMiddleware())
	r.Use(RequestLogger(log.Named("http")))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server failed", zap.Error(err))
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
	engine     *gin.Engine
	log        *zap.Logger
	db         *gorm.DB
	redis      *redis.Client
	bookingSvc bookingdomain.Service
	webhookSvc paymentdomain.WebhookService
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Log        *zap.Logger
	DB         *gorm.DB      `optional:"true"`
	Redis      *redis.Client `optional:"true"`
	BookingSvc bookingdomain.Service
	WebhookSvc paymentdomain.WebhookService
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		log:        p.Log.Named("http.server"),
		db:         p.DB,
		redis:      p.Redis,
		bookingSvc: p.BookingSvc,
		webhookSvc: p.WebhookSvc,
	}

	svc.registerSystemRoutes()
	svc.registerAPIRoutes()
	svc.registerWebhookRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerSystemRoutes() {
	s.engine.GET("/ready", s.GetSystemReadiness)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Booking billing --------
	api.POST("/bookings/billing/quote", s.QuoteBookingBilling)
	api.POST("/bookings/billing", s.CreateBookingBilling)
	api.GET("/bookings/billing/:id", s.GetBookingBilling)

	// -------- Subscriptions --------
	api.POST("/subscriptions/:id/resync", s.ResyncSubscription)
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/stripe", s.HandleStripeWebhook)
}
