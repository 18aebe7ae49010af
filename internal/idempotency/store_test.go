package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ayo6706/wallet-settlement/internal/testutil/memstore"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *memstore.IdempotencyKeys, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	keys := memstore.NewIdempotencyKeys()
	s := NewStore(rdb, keys, time.Hour)
	s.poll = 5 * time.Millisecond
	return s, keys, mr
}

func TestStore_ReserveFinalizeReplay(t *testing.T) {
	s, keys, mr := newTestStore(t)
	ctx := context.Background()

	_, err := s.Lookup(ctx, "k1", "h1")
	assert.ErrorIs(t, err, ErrNotFound)

	reserved, err := s.Reserve(ctx, "k1", "h1", "POST", "/v1/withdrawals")
	require.NoError(t, err)
	assert.True(t, reserved)

	again, err := s.Reserve(ctx, "k1", "h1", "POST", "/v1/withdrawals")
	require.NoError(t, err)
	assert.False(t, again)

	_, err = s.Lookup(ctx, "k1", "h1")
	assert.ErrorIs(t, err, ErrInProgress)

	_, err = s.Finalize(ctx, "k1", "h1", 201, []byte(`{"status":"pending"}`), "application/json")
	require.NoError(t, err)
	assert.True(t, mr.Exists(redisKey("k1")))

	before := keys.Lookups()
	rec, err := s.Lookup(ctx, "k1", "h1")
	require.NoError(t, err)
	assert.Equal(t, "redis", rec.ServedBy)
	assert.Equal(t, 201, rec.Status)
	assert.JSONEq(t, `{"status":"pending"}`, string(rec.Body))
	assert.Equal(t, before, keys.Lookups(), "cache hit skips the database")
}

func TestStore_HashMismatch(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Reserve(ctx, "k1", "h1", "POST", "/v1/withdrawals")
	require.NoError(t, err)
	_, err = s.Lookup(ctx, "k1", "other")
	assert.ErrorIs(t, err, ErrHashMismatch)

	_, err = s.Finalize(ctx, "k1", "h1", 201, []byte(`{}`), "application/json")
	require.NoError(t, err)
	_, err = s.Lookup(ctx, "k1", "other")
	assert.ErrorIs(t, err, ErrHashMismatch)
}

func TestStore_FallsBackToDatabaseWhenCacheIsDown(t *testing.T) {
	s, _, mr := newTestStore(t)
	ctx := context.Background()

	_, err := s.Reserve(ctx, "k1", "h1", "POST", "/v1/withdrawals")
	require.NoError(t, err)
	_, err = s.Finalize(ctx, "k1", "h1", 409, []byte(`{}`), "application/problem+json")
	require.NoError(t, err)

	mr.Close()
	rec, err := s.Lookup(ctx, "k1", "h1")
	require.NoError(t, err)
	assert.Equal(t, "postgres", rec.ServedBy)
	assert.Equal(t, 409, rec.Status)
}

func TestStore_WaitForCompletion(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Reserve(ctx, "k1", "h1", "POST", "/v1/withdrawals")
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = s.Finalize(context.Background(), "k1", "h1", 201, []byte(`{}`), "application/json")
	}()

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	rec, err := s.WaitForCompletion(waitCtx, "k1", "h1")
	require.NoError(t, err)
	assert.Equal(t, 201, rec.Status)
}

func TestStore_WaitGivesUpWithContext(t *testing.T) {
	s, _, _ := newTestStore(t)
	_, err := s.Reserve(context.Background(), "k1", "h1", "POST", "/v1/withdrawals")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.WaitForCompletion(ctx, "k1", "h1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStore_ReleaseAllowsRetry(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Reserve(ctx, "k1", "h1", "POST", "/v1/withdrawals")
	require.NoError(t, err)
	require.NoError(t, s.Release(ctx, "k1", "h1"))

	reserved, err := s.Reserve(ctx, "k1", "h1", "POST", "/v1/withdrawals")
	require.NoError(t, err)
	assert.True(t, reserved)
}

func TestStore_WaitIsBoundedWithoutCallerDeadline(t *testing.T) {
	s, _, _ := newTestStore(t)
	s.maxWait = 20 * time.Millisecond
	ctx := context.Background()

	_, err := s.Reserve(ctx, "k1", "h1", "POST", "/v1/withdrawals")
	require.NoError(t, err)

	_, err = s.WaitForCompletion(ctx, "k1", "h1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
