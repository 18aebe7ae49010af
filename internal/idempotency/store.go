// Package idempotency stores the first response to each Idempotency-Key so
// retried money-moving requests replay instead of executing twice.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/wallet-settlement/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrNotFound     = errors.New("idempotency key not found")
	ErrHashMismatch = errors.New("idempotency key body mismatch")
	ErrInProgress   = errors.New("idempotency key in progress")
)

const (
	cachePrefix = "settlement:idem:"

	servedByCache    = "redis"
	servedByDatabase = "postgres"

	defaultPoll    = 50 * time.Millisecond
	defaultMaxWait = 10 * time.Second
)

// Record is a completed response.
type Record struct {
	Key         string
	RequestHash string
	Status      int
	Body        []byte
	ContentType string
	ServedBy    string
}

// Keys is the durable side of the store. *repository.Queries satisfies it.
type Keys interface {
	GetIdempotencyKey(ctx context.Context, key string) (repository.IdempotencyKey, error)
	ReserveIdempotencyKey(ctx context.Context, arg repository.ReserveIdempotencyKeyParams) (repository.IdempotencyKey, error)
	FinalizeIdempotencyKey(ctx context.Context, arg repository.FinalizeIdempotencyKeyParams) (repository.IdempotencyKey, error)
	ReleaseIdempotencyKey(ctx context.Context, key, requestHash string) error
}

// Store keeps reservations and responses in Postgres, with Redis as a
// read-through cache of completed responses. A cache outage only costs a
// database round trip.
type Store struct {
	cache   redis.Cmdable
	keys    Keys
	ttl     time.Duration
	poll    time.Duration
	maxWait time.Duration
}

func NewStore(cache redis.Cmdable, keys Keys, ttl time.Duration) *Store {
	return &Store{cache: cache, keys: keys, ttl: ttl, poll: defaultPoll, maxWait: defaultMaxWait}
}

type cachedResponse struct {
	Hash        string `json:"hash"`
	Status      int    `json:"status"`
	Body        []byte `json:"body"`
	ContentType string `json:"content_type"`
}

// Lookup returns the completed response for key. ErrInProgress means another
// request holds the reservation.
func (s *Store) Lookup(ctx context.Context, key, requestHash string) (*Record, error) {
	if rec, ok := s.fromCache(ctx, key); ok {
		if rec.RequestHash != requestHash {
			return nil, ErrHashMismatch
		}
		return rec, nil
	}

	row, err := s.keys.GetIdempotencyKey(ctx, key)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}
	if row.RequestHash != requestHash {
		return nil, ErrHashMismatch
	}
	if row.InProgress {
		return nil, ErrInProgress
	}
	rec := recordFromRow(row)
	s.store(ctx, rec)
	return rec, nil
}

// Reserve claims key for this request. false means someone else holds it.
func (s *Store) Reserve(ctx context.Context, key, requestHash, method, path string) (bool, error) {
	_, err := s.keys.ReserveIdempotencyKey(ctx, repository.ReserveIdempotencyKeyParams{
		IdempotencyKey: key,
		RequestHash:    requestHash,
		Method:         method,
		Path:           path,
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, pgx.ErrNoRows):
		return false, nil
	default:
		return false, fmt.Errorf("reserve idempotency key: %w", err)
	}
}

// Finalize records the response for a reservation this request holds.
func (s *Store) Finalize(ctx context.Context, key, requestHash string, status int, body []byte, contentType string) (*Record, error) {
	row, err := s.keys.FinalizeIdempotencyKey(ctx, repository.FinalizeIdempotencyKeyParams{
		ResponseStatus: int32(status),
		ResponseBody:   body,
		ContentType:    contentType,
		IdempotencyKey: key,
		RequestHash:    requestHash,
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finalize idempotency key: %w", err)
	}
	rec := recordFromRow(row)
	s.store(ctx, rec)
	return rec, nil
}

// Release drops an unfinished reservation so the client can retry with the
// same key, used when the handler failed with a server error.
func (s *Store) Release(ctx context.Context, key, requestHash string) error {
	if err := s.keys.ReleaseIdempotencyKey(ctx, key, requestHash); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// WaitForCompletion polls until the holder of key finalizes it, ctx ends or
// maxWait passes.
func (s *Store) WaitForCompletion(ctx context.Context, key, requestHash string) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.maxWait)
	defer cancel()

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		rec, err := s.Lookup(ctx, key, requestHash)
		if !errors.Is(err, ErrInProgress) {
			return rec, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func recordFromRow(row repository.IdempotencyKey) *Record {
	return &Record{
		Key:         row.IdempotencyKey,
		RequestHash: row.RequestHash,
		Status:      int(row.ResponseStatus),
		Body:        row.ResponseBody,
		ContentType: row.ContentType,
		ServedBy:    servedByDatabase,
	}
}

func (s *Store) fromCache(ctx context.Context, key string) (*Record, bool) {
	if s.cache == nil {
		return nil, false
	}
	val, err := s.cache.Get(ctx, redisKey(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zap.L().Warn("redis idempotency lookup failed", zap.Error(err))
		}
		return nil, false
	}
	var cached cachedResponse
	if err := json.Unmarshal(val, &cached); err != nil {
		zap.L().Warn("discarding unreadable idempotency cache entry", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &Record{
		Key:         key,
		RequestHash: cached.Hash,
		Status:      cached.Status,
		Body:        cached.Body,
		ContentType: cached.ContentType,
		ServedBy:    servedByCache,
	}, true
}

func (s *Store) store(ctx context.Context, rec *Record) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(cachedResponse{
		Hash:        rec.RequestHash,
		Status:      rec.Status,
		Body:        rec.Body,
		ContentType: rec.ContentType,
	})
	if err != nil {
		zap.L().Warn("marshal idempotency cache", zap.Error(err))
		return
	}
	if err := s.cache.Set(ctx, redisKey(rec.Key), payload, s.ttl).Err(); err != nil {
		zap.L().Warn("redis idempotency cache set failed", zap.Error(err))
	}
}

func redisKey(key string) string {
	return cachePrefix + key
}
