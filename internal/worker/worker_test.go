package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ayo6706/wallet-settlement/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSweeper struct {
	runs atomic.Int32
	err  error
}

func (s *countingSweeper) Run(context.Context) (service.SweepReport, error) {
	s.runs.Add(1)
	return service.SweepReport{Checked: 2, Resolved: 1, Deferred: 1}, s.err
}

type countingAuditor struct {
	runs atomic.Int32
}

func (a *countingAuditor) Run(context.Context) (service.AuditReport, error) {
	a.runs.Add(1)
	return service.AuditReport{DriftedWallets: 1}, nil
}

func TestSweepWorker_ProcessOnce(t *testing.T) {
	s := &countingSweeper{}
	report, err := NewSweepWorker(s).ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Resolved)

	s.err = errors.New("db down")
	_, err = NewSweepWorker(s).ProcessOnce(context.Background())
	assert.Error(t, err)
}

func TestSweepWorker_TicksUntilStopped(t *testing.T) {
	s := &countingSweeper{}
	w := NewSweepWorker(s).WithPollInterval(5 * time.Millisecond)
	stop := w.Run(context.Background())

	require.Eventually(t, func() bool { return s.runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
	stop()
	stop()

	after := s.runs.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, s.runs.Load())
}

func TestAuditWorker_RunsAtStartupAndStopsWithContext(t *testing.T) {
	a := &countingAuditor{}
	w := NewAuditWorker(a).WithInterval(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	w.Run(ctx)

	require.Eventually(t, func() bool { return a.runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	w.Stop()
	assert.Equal(t, int32(1), a.runs.Load())
}
