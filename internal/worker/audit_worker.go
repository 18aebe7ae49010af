package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ayo6706/wallet-settlement/internal/observability"
	"github.com/ayo6706/wallet-settlement/internal/service"
	"go.uber.org/zap"
)

// Auditor is satisfied by *service.BalanceAuditor.
type Auditor interface {
	Run(ctx context.Context) (service.AuditReport, error)
}

// AuditWorker runs the periodic balance audit.
type AuditWorker struct {
	auditor  Auditor
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewAuditWorker constructs a worker with a default hourly interval.
func NewAuditWorker(auditor Auditor) *AuditWorker {
	return &AuditWorker{
		auditor:  auditor,
		interval: time.Hour,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (w *AuditWorker) WithInterval(interval time.Duration) *AuditWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// Start blocks and runs the audit at the configured interval, once at startup.
func (w *AuditWorker) Start(ctx context.Context) {
	defer close(w.done)
	zap.L().Info("audit worker starting", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("audit worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("audit worker stop signal received")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *AuditWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	<-w.done
}

func (w *AuditWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *AuditWorker) runOnce(ctx context.Context) {
	report, err := w.auditor.Run(ctx)
	if err != nil {
		observability.IncrementWorkerRun("audit", "failed")
		zap.L().Error("balance audit failed", zap.Error(err))
		return
	}
	observability.IncrementWorkerRun("audit", "success")
	if report.DriftedWallets > 0 {
		zap.L().Warn("balance audit found drift", zap.Int("wallets", report.DriftedWallets))
	}
}
