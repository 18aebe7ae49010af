package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const readyTimeout = time.Second

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	checks map[string]func(context.Context) error
}

// NewHealthHandler checks whichever of db and redis are configured.
func NewHealthHandler(db Pinger, rdb redis.Cmdable) *HealthHandler {
	checks := make(map[string]func(context.Context) error)
	if db != nil {
		checks["postgres"] = db.Ping
	}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	return &HealthHandler{checks: checks}
}

type readiness struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready pings every dependency in parallel. One failure makes the instance
// unready; the body still reports each check.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	var (
		mu     sync.Mutex
		report = readiness{Status: "ready", Checks: make(map[string]string, len(h.checks))}
		g      errgroup.Group
	)
	for name, check := range h.checks {
		g.Go(func() error {
			err := check(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Checks[name] = "down"
				report.Status = "unready"
				return err
			}
			report.Checks[name] = "up"
			return nil
		})
	}

	status := http.StatusOK
	if err := g.Wait(); err != nil {
		status = http.StatusServiceUnavailable
	}
	RespondJSON(w, status, report)
}
