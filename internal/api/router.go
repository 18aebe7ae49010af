package api

import (
	"net/http"

	"github.com/ayo6706/wallet-settlement/internal/api/handler"
	"github.com/ayo6706/wallet-settlement/internal/api/middleware"
	"github.com/ayo6706/wallet-settlement/internal/api/spec"
	"github.com/ayo6706/wallet-settlement/internal/config"
	"github.com/ayo6706/wallet-settlement/internal/idempotency"
	"github.com/ayo6706/wallet-settlement/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Services groups everything the handlers call into.
type Services struct {
	Users       *service.UserService
	Ledger      *service.WalletLedger
	Pins        *service.PinGuard
	Commissions *service.CommissionEngine
	Withdrawals *service.WithdrawalService
	Payments    *service.PaymentService
	Reconciler  *service.Reconciler
	Settings    *service.Settings
	Audit       *service.AuditService
	Jobs        handler.Jobs
}

type Router struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        handler.Pinger
	redis     redis.Cmdable
	idemStore *idempotency.Store
	svc       Services
}

func NewRouter(cfg *config.Config, logger *zap.Logger, db handler.Pinger, redis redis.Cmdable, idemStore *idempotency.Store, svc Services) *Router {
	return &Router{cfg: cfg, logger: logger, db: db, redis: redis, idemStore: idemStore, svc: svc}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	healthHandler := handler.NewHealthHandler(api.db, api.redis)
	userHandler := handler.NewUserHandler(api.svc.Users)
	walletHandler := handler.NewWalletHandler(api.svc.Ledger, api.svc.Pins, api.svc.Payments, api.svc.Commissions, api.cfg.Currency)
	orderHandler := handler.NewOrderHandler(api.svc.Payments, api.svc.Commissions)
	withdrawalHandler := handler.NewWithdrawalHandler(api.svc.Withdrawals)
	callbackHandler := handler.NewCallbackHandler(api.svc.Reconciler)
	adminHandler := handler.NewAdminHandler(api.svc.Commissions, api.svc.Settings, api.svc.Audit, api.svc.Reconciler, api.svc.Jobs)
	idempotent := middleware.IdempotencyMiddleware(api.idemStore, api.logger)

	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/docs/index.html", http.StatusMovedPermanently)
	})

	// Public routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
		r.Post("/v1/users", userHandler.Register)
	})

	// Gateway callbacks, authenticated by HMAC signature
	r.Route("/v1/callbacks", func(r chi.Router) {
		r.Post("/collection", callbackHandler.Collection)
		r.Post("/payout-result", callbackHandler.PayoutResult)
		r.Post("/payout-timeout", callbackHandler.PayoutTimeout)
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

		r.Get("/v1/users/me", userHandler.Me)

		r.Get("/v1/wallet", walletHandler.GetWallet)
		r.Get("/v1/wallet/commissions", walletHandler.ListCommissions)
		r.Post("/v1/wallet/pin", walletHandler.SetPin)
		r.Put("/v1/wallet/pin", walletHandler.ChangePin)
		r.Post("/v1/wallet/pin/otp", walletHandler.RequestPinCode)
		r.With(idempotent).Post("/v1/wallet/deposits", walletHandler.Deposit)

		r.With(idempotent).Post("/v1/orders/{kind}/{id}/pay", orderHandler.Pay)
		r.With(idempotent).Post("/v1/orders/{kind}/{id}/pay-from-wallet", orderHandler.PayFromWallet)

		r.With(idempotent).Post("/v1/withdrawals", withdrawalHandler.Create)
		r.Get("/v1/withdrawals/{id}", withdrawalHandler.Get)

		r.Route("/v1/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin)

			r.Get("/withdrawals", withdrawalHandler.List)
			r.Post("/withdrawals/{id}/approve", withdrawalHandler.Approve)
			r.Post("/withdrawals/{id}/reject", withdrawalHandler.Reject)
			r.Post("/withdrawals/{id}/force-complete", withdrawalHandler.ForceComplete)
			r.Post("/withdrawals/{id}/refund", withdrawalHandler.Refund)

			r.Post("/commissions", adminHandler.CreateCommission)
			r.Post("/commissions/{id}/remove", adminHandler.RemoveCommission)

			r.Post("/orders/{kind}/{id}/confirm-payment", orderHandler.ConfirmPayment)

			r.Get("/settings", adminHandler.ListSettings)
			r.Put("/settings/{key}", adminHandler.UpdateSetting)

			r.Get("/review/audit", adminHandler.ListAuditReview)
			r.Get("/review/gateway", adminHandler.ListGatewayReview)

			r.Post("/jobs/sweep", adminHandler.RunSweep)
			r.Post("/jobs/audit", adminHandler.RunAudit)
		})
	})

	return r
}
