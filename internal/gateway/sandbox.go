package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/ayo6706/wallet-settlement/internal/domain"
)

// Sandbox simulates the mobile-money gateway for local runs. It never sends
// callbacks; requests settle after SettleAfter and are observed through
// QueryTransactionStatus, which is how the stuck sweep resolves them.
type Sandbox struct {
	// FailureRate is the probability that a request settles as failed.
	FailureRate float64
	SettleAfter time.Duration
	MaxLatency  time.Duration

	mu      sync.Mutex
	seq     int
	entries map[string]sandboxEntry
	now     func() time.Time
}

type sandboxEntry struct {
	createdAt time.Time
	fails     bool
}

func NewSandbox() *Sandbox {
	return &Sandbox{
		FailureRate: 0.1,
		SettleAfter: 30 * time.Second,
		MaxLatency:  300 * time.Millisecond,
		entries:     map[string]sandboxEntry{},
		now:         time.Now,
	}
}

func (g *Sandbox) latency(ctx context.Context) error {
	if g.MaxLatency <= 0 {
		return nil
	}
	select {
	case <-time.After(time.Duration(rand.Int63n(int64(g.MaxLatency)))):
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, ctx.Err())
	}
}

func (g *Sandbox) GetAccessToken(ctx context.Context) (string, error) {
	if err := g.latency(ctx); err != nil {
		return "", err
	}
	return "sandbox-token", nil
}

func (g *Sandbox) register(prefix string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	id := fmt.Sprintf("SBX-%s-%s-%05d", prefix, g.now().Format("20060102-150405"), g.seq)
	g.entries[id] = sandboxEntry{createdAt: g.now(), fails: rand.Float64() < g.FailureRate}
	return id
}

func (g *Sandbox) InitiateCollection(ctx context.Context, req CollectionRequest) (string, error) {
	if err := g.latency(ctx); err != nil {
		return "", err
	}
	if !req.Amount.IsPositive() {
		return "", fmt.Errorf("%w: amount must be positive", ErrRejected)
	}
	return g.register("C"), nil
}

func (g *Sandbox) InitiatePayout(ctx context.Context, req PayoutRequest) (string, error) {
	if err := g.latency(ctx); err != nil {
		return "", err
	}
	if !req.Amount.IsPositive() {
		return "", fmt.Errorf("%w: amount must be positive", ErrRejected)
	}
	return g.register("P"), nil
}

func (g *Sandbox) QueryTransactionStatus(ctx context.Context, correlationID string) (TransactionStatus, error) {
	if err := g.latency(ctx); err != nil {
		return TransactionStatus{}, err
	}
	g.mu.Lock()
	e, ok := g.entries[correlationID]
	g.mu.Unlock()
	if !ok {
		return TransactionStatus{}, fmt.Errorf("%w: unknown correlation id %s", ErrRejected, correlationID)
	}
	if g.now().Sub(e.createdAt) < g.SettleAfter {
		return TransactionStatus{Status: domain.QueryPending}, nil
	}
	if e.fails {
		return TransactionStatus{Status: domain.QueryFailed, ResultCode: "1", ResultDesc: "sandbox declined"}, nil
	}
	return TransactionStatus{
		Status:     domain.QuerySuccess,
		ResultCode: "0",
		ResultDesc: "sandbox settled",
		Receipt:    "SBXR" + correlationID[len(correlationID)-5:],
	}, nil
}
