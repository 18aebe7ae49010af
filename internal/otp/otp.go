package otp

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ayo6706/wallet-settlement/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "otp"
	codeDigits = 6

	PurposePinChange = "pin_change"
)

// Store issues single-use numeric codes. Only a hash of the code is kept,
// and any verification attempt consumes it.
type Store struct {
	redis redis.Cmdable
	ttl   time.Duration
}

func NewStore(rdb redis.Cmdable, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = domain.DefaultOTPTTL
	}
	return &Store{redis: rdb, ttl: ttl}
}

func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Issue replaces any outstanding code for the user and purpose.
func (s *Store) Issue(ctx context.Context, userID uuid.UUID, purpose string) (string, error) {
	code, err := randomCode()
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	if err := s.redis.Set(ctx, key(userID, purpose), hash(code), s.ttl).Err(); err != nil {
		return "", fmt.Errorf("store code: %w", err)
	}
	return code, nil
}

// Verify consumes the outstanding code. It returns domain.ErrInvalidOTP when
// no code is outstanding, it expired, or it does not match.
func (s *Store) Verify(ctx context.Context, userID uuid.UUID, purpose, code string) error {
	stored, err := s.redis.GetDel(ctx, key(userID, purpose)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.ErrInvalidOTP
	}
	if err != nil {
		return fmt.Errorf("load code: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(hash(code))) != 1 {
		return domain.ErrInvalidOTP
	}
	return nil
}

func key(userID uuid.UUID, purpose string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, purpose, userID)
}

func hash(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}
