package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestAsynqNotifier_EnqueuesDetachedFromRequest(t *testing.T) {
	ctrl := gomock.NewController(t)
	enq := NewMockEnqueuer(ctrl)

	var got Message
	enq.EXPECT().EnqueueContext(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
			assert.NoError(t, ctx.Err())
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			assert.Equal(t, TaskDeliver, task.Type())
			assert.NoError(t, json.Unmarshal(task.Payload(), &got))
			return &asynq.TaskInfo{}, nil
		})

	n := NewAsynqNotifier(enq, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n.Notify(ctx, "commission.earned", map[string]any{"amount": "6.00"})
	n.Wait()

	assert.Equal(t, "commission.earned", got.Event)
	assert.Equal(t, "6.00", got.Payload["amount"])
}

func TestAsynqNotifier_SwallowsEnqueueFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	enq := NewMockEnqueuer(ctrl)
	enq.EXPECT().EnqueueContext(gomock.Any(), gomock.Any()).Return(nil, errors.New("redis down"))

	n := NewAsynqNotifier(enq, 50*time.Millisecond)
	assert.NotPanics(t, func() {
		n.Notify(context.Background(), "withdrawal.completed", nil)
		n.Wait()
	})
}

func TestHandleDeliver(t *testing.T) {
	var delivered Message
	h := HandleDeliver(func(_ context.Context, msg Message) error {
		delivered = msg
		return nil
	})

	body, err := json.Marshal(Message{Event: "pin.change_code", Payload: map[string]any{"code": "123456"}})
	require.NoError(t, err)
	require.NoError(t, h.ProcessTask(context.Background(), asynq.NewTask(TaskDeliver, body)))
	assert.Equal(t, "pin.change_code", delivered.Event)

	err = h.ProcessTask(context.Background(), asynq.NewTask(TaskDeliver, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
