package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/wallet-settlement/internal/domain"
	"github.com/ayo6706/wallet-settlement/internal/gateway"
	"github.com/ayo6706/wallet-settlement/internal/models"
	"golang.org/x/sync/errgroup"
	"go.uber.org/zap"
)

type SweepConfig struct {
	// StuckAfter is how long a request may wait for its callback before the
	// sweep asks the gateway directly.
	StuckAfter time.Duration
	// ManualAfter is the age after which a request the gateway still reports
	// as pending is flagged for an operator.
	ManualAfter  time.Duration
	BatchSize    int32
	Concurrency  int
	QueryTimeout time.Duration
}

// SweepReport summarizes one sweep run.
type SweepReport struct {
	Checked      int `json:"checked"`
	Resolved     int `json:"resolved"`
	Flagged      int `json:"flagged"`
	Deferred     int `json:"deferred"`
	Redispatched int `json:"redispatched"`
}

// StuckSweeper resolves gateway requests whose callback never arrived.
type StuckSweeper struct {
	store       QueryStore
	gateway     gateway.Client
	reconciler  *Reconciler
	withdrawals *WithdrawalService
	cfg         SweepConfig
	now         func() time.Time
}

func NewStuckSweeper(store QueryStore, gw gateway.Client, reconciler *Reconciler, withdrawals *WithdrawalService, cfg SweepConfig) *StuckSweeper {
	if cfg.StuckAfter <= 0 {
		cfg.StuckAfter = 5 * time.Minute
	}
	if cfg.ManualAfter < cfg.StuckAfter {
		cfg.ManualAfter = 6 * cfg.StuckAfter
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 15 * time.Second
	}
	return &StuckSweeper{
		store:       store,
		gateway:     gw,
		reconciler:  reconciler,
		withdrawals: withdrawals,
		cfg:         cfg,
		now:         utcNow,
	}
}

// Run performs one sweep. A status query that fails or times out defers the
// record to the next run instead of guessing an outcome.
func (s *StuckSweeper) Run(ctx context.Context) (SweepReport, error) {
	var (
		report SweepReport
		mu     sync.Mutex
	)
	now := s.now()

	stale, err := s.store.Queries().ListStaleGatewayTransactions(ctx, now.Add(-s.cfg.StuckAfter), s.cfg.BatchSize)
	if err != nil {
		return report, fmt.Errorf("list stale gateway transactions: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, tx := range stale {
		g.Go(func() error {
			result, err := s.resolve(gctx, tx, now)
			mu.Lock()
			defer mu.Unlock()
			report.Checked++
			switch {
			case err != nil:
				report.Deferred++
				zap.L().Warn("stuck request deferred", zap.String("correlation_id", tx.CorrelationID), zap.Error(err))
			case result == OutcomeFlagged:
				report.Flagged++
			case result == "":
				report.Deferred++
			default:
				report.Resolved++
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return report, err
	}

	undispatched, err := s.store.Queries().ListUndispatchedWithdrawals(ctx, now.Add(-s.cfg.StuckAfter), s.cfg.BatchSize)
	if err != nil {
		return report, fmt.Errorf("list undispatched withdrawals: %w", err)
	}
	for _, w := range undispatched {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		dispatched, err := s.withdrawals.Redispatch(ctx, w)
		if err != nil {
			zap.L().Warn("payout re-dispatch failed", zap.String("withdrawal_id", w.ID.String()), zap.Error(err))
			continue
		}
		if dispatched.GatewayConversationID != nil || dispatched.Status != domain.WithdrawalProcessing {
			report.Redispatched++
		}
	}

	zap.L().Info("stuck sweep finished",
		zap.Int("checked", report.Checked),
		zap.Int("resolved", report.Resolved),
		zap.Int("flagged", report.Flagged),
		zap.Int("deferred", report.Deferred),
		zap.Int("redispatched", report.Redispatched),
	)
	return report, nil
}

// resolve returns "" when the record was left for the next run.
func (s *StuckSweeper) resolve(ctx context.Context, tx models.GatewayTransaction, now time.Time) (CallbackOutcome, error) {
	qctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	status, err := s.gateway.QueryTransactionStatus(qctx, tx.CorrelationID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, domain.ErrGatewayUnavailable) {
			return "", nil
		}
		return "", fmt.Errorf("query transaction status: %w", err)
	}

	switch status.Status {
	case domain.QuerySuccess, domain.QueryFailed:
		return s.apply(ctx, tx, status)
	default:
		if now.Sub(tx.CreatedAt) < s.cfg.ManualAfter {
			return "", nil
		}
		if err := s.reconciler.FlagUnresolved(ctx, tx.CorrelationID, ReasonUnresolved); err != nil {
			return "", err
		}
		return OutcomeFlagged, nil
	}
}

func (s *StuckSweeper) apply(ctx context.Context, tx models.GatewayTransaction, status gateway.TransactionStatus) (CallbackOutcome, error) {
	code := resultCodeSuccess
	if status.Status == domain.QueryFailed {
		code = status.ResultCode
		if code == "" || code == resultCodeSuccess {
			code = "failed"
		}
	}
	switch tx.Kind {
	case domain.GatewayKindCollection:
		return s.reconciler.HandleCollection(ctx, CollectionCallback{
			CorrelationID: tx.CorrelationID,
			ResultCode:    code,
			ResultDesc:    status.ResultDesc,
			Receipt:       status.Receipt,
		})
	case domain.GatewayKindPayout:
		return s.reconciler.HandlePayoutResult(ctx, PayoutResultCallback{
			CorrelationID: tx.CorrelationID,
			ResultCode:    code,
			ResultDesc:    status.ResultDesc,
			Receipt:       status.Receipt,
		})
	default:
		return "", fmt.Errorf("unknown gateway transaction kind %q", tx.Kind)
	}
}
