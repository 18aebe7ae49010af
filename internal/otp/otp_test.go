package otp

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ayo6706/wallet-settlement/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStore(rdb, 10*time.Minute), mr
}

func TestStore_IssueAndVerify(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	userID := uuid.New()

	code, err := s.Issue(ctx, userID, PurposePinChange)
	require.NoError(t, err)
	assert.Len(t, code, 6)

	require.NoError(t, s.Verify(ctx, userID, PurposePinChange, code))
	assert.ErrorIs(t, s.Verify(ctx, userID, PurposePinChange, code), domain.ErrInvalidOTP, "codes are single use")
}

func TestStore_WrongCodeConsumesIt(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	userID := uuid.New()

	code, err := s.Issue(ctx, userID, PurposePinChange)
	require.NoError(t, err)

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	assert.ErrorIs(t, s.Verify(ctx, userID, PurposePinChange, wrong), domain.ErrInvalidOTP)
	assert.ErrorIs(t, s.Verify(ctx, userID, PurposePinChange, code), domain.ErrInvalidOTP)
}

func TestStore_CodeExpires(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()
	userID := uuid.New()

	code, err := s.Issue(ctx, userID, PurposePinChange)
	require.NoError(t, err)

	mr.FastForward(10*time.Minute + time.Second)
	assert.ErrorIs(t, s.Verify(ctx, userID, PurposePinChange, code), domain.ErrInvalidOTP)
}

func TestStore_CodesAreScopedPerUser(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	code, err := s.Issue(ctx, alice, PurposePinChange)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Verify(ctx, bob, PurposePinChange, code), domain.ErrInvalidOTP)
	assert.True(t, mr.Exists(key(alice, PurposePinChange)))
	stored, err := mr.Get(key(alice, PurposePinChange))
	require.NoError(t, err)
	assert.NotEqual(t, code, stored, "only the hash is stored")
}
