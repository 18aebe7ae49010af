package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/wallet-settlement/internal/observability"
	"github.com/ayo6706/wallet-settlement/internal/service"
	"go.uber.org/zap"
)

// Sweeper is satisfied by *service.StuckSweeper.
type Sweeper interface {
	Run(ctx context.Context) (service.SweepReport, error)
}

// SweepWorker resolves stuck gateway requests in the background.
// Safe for concurrent instances: every record is re-locked before it is applied.
type SweepWorker struct {
	sweeper      Sweeper
	pollInterval time.Duration
	stopCh       chan struct{}
	stopOnce     sync.Once
	done         chan struct{}
}

func NewSweepWorker(sweeper Sweeper) *SweepWorker {
	return &SweepWorker{
		sweeper:      sweeper,
		pollInterval: time.Minute,
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// WithPollInterval sets the poll interval for the worker.
func (w *SweepWorker) WithPollInterval(interval time.Duration) *SweepWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

// Start runs until Stop is called or the context is canceled.
func (w *SweepWorker) Start(ctx context.Context) {
	defer close(w.done)
	zap.L().Info("sweep worker starting", zap.Duration("interval", w.pollInterval))

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("sweep worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("sweep worker stop signal received")
			return
		case <-ticker.C:
			_, _ = w.ProcessOnce(ctx)
		}
	}
}

// Stop signals the worker and waits for an in-flight sweep to finish.
func (w *SweepWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	<-w.done
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *SweepWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// ProcessOnce runs a single sweep immediately.
func (w *SweepWorker) ProcessOnce(ctx context.Context) (service.SweepReport, error) {
	report, err := w.sweeper.Run(ctx)
	if err != nil {
		observability.IncrementWorkerRun("sweep", "failed")
		zap.L().Error("sweep run failed", zap.Error(err))
		return report, err
	}
	observability.IncrementWorkerRun("sweep", "success")
	if report.Checked > 0 || report.Redispatched > 0 {
		zap.L().Info("sweep run finished",
			zap.Int("checked", report.Checked),
			zap.Int("resolved", report.Resolved),
			zap.Int("flagged", report.Flagged),
			zap.Int("deferred", report.Deferred),
			zap.Int("redispatched", report.Redispatched),
		)
	}
	return report, nil
}

func (w *SweepWorker) String() string {
	return fmt.Sprintf("SweepWorker(interval=%v)", w.pollInterval)
}
