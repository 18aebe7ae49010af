package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ayo6706/wallet-settlement/internal/api"
	"github.com/ayo6706/wallet-settlement/internal/api/middleware"
	"github.com/ayo6706/wallet-settlement/internal/config"
	"github.com/ayo6706/wallet-settlement/internal/db"
	"github.com/ayo6706/wallet-settlement/internal/gateway"
	"github.com/ayo6706/wallet-settlement/internal/idempotency"
	"github.com/ayo6706/wallet-settlement/internal/notify"
	"github.com/ayo6706/wallet-settlement/internal/observability"
	"github.com/ayo6706/wallet-settlement/internal/otp"
	"github.com/ayo6706/wallet-settlement/internal/repository"
	"github.com/ayo6706/wallet-settlement/internal/service"
	"github.com/ayo6706/wallet-settlement/internal/worker"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// App holds the process-wide dependencies.
type App struct {
	cfg      *config.Config
	logger   *zap.Logger
	pool     *pgxpool.Pool
	redis    *redis.Client
	queue    *asynq.Client
	notifier *notify.AsynqNotifier
	services api.Services
	sweeper  *service.StuckSweeper
	auditor  *service.BalanceAuditor
	idem     *idempotency.Store
}

// ServeOptions tune the serve command.
type ServeOptions struct {
	Migrate     bool
	WithWorkers bool
}

// New loads configuration and connects to Postgres and Redis.
func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

	pool, err := db.Connect(ctx, cfg.DatabaseURL, db.WithMaxConns(cfg.DBMaxConns), db.WithStatementTimeout(cfg.DBStatementTimeout))
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	a := &App{cfg: cfg, logger: logger, pool: pool, redis: redisClient}
	if err := a.wire(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire() error {
	queueOpt, err := asynq.ParseRedisURI(a.cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse queue redis url: %w", err)
	}
	a.queue = asynq.NewClient(queueOpt)
	a.notifier = notify.NewAsynqNotifier(a.queue, a.cfg.NotifyEnqueueTimeout)

	gw := newGateway(a.cfg.Gateway)
	store := repository.NewStore(a.pool)
	codes := otp.NewStore(a.redis, a.cfg.OTPTTL)

	settings := service.NewSettings(store)
	ledger := service.NewWalletLedger(store)
	commissions := service.NewCommissionEngine(store, ledger, settings, a.notifier)
	pins := service.NewPinGuard(store, codes, a.notifier, service.PinGuardConfig{
		MaxAttempts: a.cfg.PinMaxAttempts,
		Lockout:     a.cfg.PinLockout,
	})
	withdrawals := service.NewWithdrawalService(store, ledger, pins, settings, gw, a.notifier, service.WithdrawalConfig{
		Cooldown: a.cfg.WithdrawalCooldown,
	})
	reconciler := service.NewReconciler(store, ledger, commissions, withdrawals, a.notifier, a.cfg.WebhookHMACKey, a.cfg.WebhookSkipSignature)
	a.sweeper = service.NewStuckSweeper(store, gw, reconciler, withdrawals, service.SweepConfig{
		StuckAfter:   a.cfg.Sweep.StuckAfter,
		ManualAfter:  a.cfg.Sweep.ManualAfter,
		BatchSize:    a.cfg.Sweep.BatchSize,
		Concurrency:  a.cfg.Sweep.Concurrency,
		QueryTimeout: a.cfg.Gateway.Timeout,
	})
	a.auditor = service.NewBalanceAuditor(store, a.cfg.Sweep.StuckAfter)
	a.idem = idempotency.NewStore(a.redis, repository.New(a.pool), a.cfg.IdempotencyTTL)

	a.services = api.Services{
		Users:       service.NewUserService(store),
		Ledger:      ledger,
		Pins:        pins,
		Commissions: commissions,
		Withdrawals: withdrawals,
		Payments:    service.NewPaymentService(store, ledger, commissions, gw, a.notifier),
		Reconciler:  reconciler,
		Settings:    settings,
		Audit:       service.NewAuditService(store),
		Jobs:        a.Jobs(),
	}
	return nil
}

func newGateway(cfg config.GatewayConfig) gateway.Client {
	if cfg.Mode == config.GatewayModeLive {
		return gateway.NewHTTPClient(gateway.Config{
			BaseURL:         cfg.BaseURL,
			ConsumerKey:     cfg.ConsumerKey,
			ConsumerSecret:  cfg.ConsumerSecret,
			Shortcode:       cfg.Shortcode,
			CallbackBaseURL: cfg.CallbackBaseURL,
			Timeout:         cfg.Timeout,
			MaxRetries:      uint64(cfg.MaxRetries),
		})
	}
	zap.L().Warn("using sandbox payment gateway")
	return gateway.NewSandbox()
}

// Jobs runs the sweep and the balance audit once.
func (a *App) Jobs() worker.Runner {
	return worker.Runner{Sweeper: a.sweeper, Auditor: a.auditor}
}

func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Migrate applies the embedded schema migrations.
func (a *App) Migrate(ctx context.Context) (int, error) {
	return db.Migrate(ctx, a.pool)
}

// Serve runs the HTTP server, the background workers and the notification
// consumer until SIGINT or SIGTERM.
func (a *App) Serve(ctx context.Context, opts ServeOptions) error {
	logger := a.logger
	if opts.Migrate {
		if _, err := a.Migrate(ctx); err != nil {
			return err
		}
		logger.Info("migrations applied")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var stops []func()
	if opts.WithWorkers {
		sweepWorker := worker.NewSweepWorker(a.sweeper).WithPollInterval(a.cfg.Sweep.Interval)
		auditWorker := worker.NewAuditWorker(a.auditor).WithInterval(a.cfg.AuditInterval)
		stops = append(stops, sweepWorker.Run(ctx), auditWorker.Run(ctx))
		logger.Info("workers started",
			zap.Duration("sweep_interval", a.cfg.Sweep.Interval),
			zap.Duration("audit_interval", a.cfg.AuditInterval),
		)
	}

	queueOpt, err := asynq.ParseRedisURI(a.cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse queue redis url: %w", err)
	}
	consumer := asynq.NewServer(queueOpt, asynq.Config{
		Concurrency: 4,
		Queues:      map[string]int{notify.Queue: 1},
		Logger:      logger.Sugar(),
	})
	if err := consumer.Start(notify.NewServeMux(deliverNotification)); err != nil {
		return fmt.Errorf("start notification consumer: %w", err)
	}

	router := api.NewRouter(a.cfg, logger, a.pool, a.redis, a.idem, a.services)
	server := &http.Server{
		Addr:         ":" + a.cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", a.cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("stopping workers")
	for _, stop := range stops {
		stop()
	}
	consumer.Shutdown()
	a.notifier.Wait()

	logger.Info("shutdown complete")
	return runErr
}

// deliverNotification hands a message to the notification service. Delivery
// channels live outside this system, so the consumer records the hand-off.
func deliverNotification(_ context.Context, msg notify.Message) error {
	zap.L().Info("notification delivered",
		zap.String("event", msg.Event),
		zap.Time("occurred_at", msg.OccurredAt),
	)
	return nil
}

// Close releases connections. Safe to call after a failed New.
func (a *App) Close() {
	if a.queue != nil {
		_ = a.queue.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
