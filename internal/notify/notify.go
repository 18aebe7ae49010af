package notify

//go:generate mockgen -source=notify.go -destination=mock_notify.go -package=notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const (
	TaskDeliver = "notification:deliver"
	Queue       = "notifications"
)

// Notifier hands an event to the external notification service.
// Implementations never block the caller on delivery and never return an
// error; a lost notification must not affect a financial operation.
type Notifier interface {
	Notify(ctx context.Context, event string, payload map[string]any)
}

// Message is the task payload consumed by the delivery worker.
type Message struct {
	Event      string         `json:"event"`
	Payload    map[string]any `json:"payload"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsynqNotifier enqueues notifications in the background with a bounded timeout.
type AsynqNotifier struct {
	client  Enqueuer
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewAsynqNotifier(client Enqueuer, timeout time.Duration) *AsynqNotifier {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &AsynqNotifier{client: client, timeout: timeout}
}

func (n *AsynqNotifier) Notify(ctx context.Context, event string, payload map[string]any) {
	body, err := json.Marshal(Message{Event: event, Payload: payload, OccurredAt: time.Now().UTC()})
	if err != nil {
		zap.L().Warn("notification dropped: encode failed", zap.String("event", event), zap.Error(err))
		return
	}

	// detached from the request so a finished handler does not cancel delivery
	base := context.WithoutCancel(ctx)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		enqueueCtx, cancel := context.WithTimeout(base, n.timeout)
		defer cancel()

		task := asynq.NewTask(TaskDeliver, body, asynq.Queue(Queue), asynq.MaxRetry(5))
		if _, err := n.client.EnqueueContext(enqueueCtx, task); err != nil {
			zap.L().Warn("notification dropped: enqueue failed", zap.String("event", event), zap.Error(err))
		}
	}()
}

// Wait blocks until in-flight enqueues finish. Used on shutdown.
func (n *AsynqNotifier) Wait() {
	n.wg.Wait()
}

// LogNotifier only logs events. Used when no queue is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, event string, payload map[string]any) {
	zap.L().Info("notification", zap.String("event", event), zap.Any("payload", payload))
}

// HandleDeliver is the asynq handler for TaskDeliver. Delivery over email or
// SMS belongs to the external notification service; this worker hands off to
// send and reports failures back to asynq for retry.
func HandleDeliver(send func(ctx context.Context, msg Message) error) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var msg Message
		if err := json.Unmarshal(t.Payload(), &msg); err != nil {
			zap.L().Error("notification payload unreadable", zap.Error(err))
			return asynq.SkipRetry
		}
		return send(ctx, msg)
	}
}

// NewServeMux wires the delivery handler.
func NewServeMux(send func(ctx context.Context, msg Message) error) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TaskDeliver, HandleDeliver(send))
	return mux
}
