package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/ayo6706/wallet-settlement/internal/repository"
	"github.com/jackc/pgx/v5"
)

// IdempotencyKeys is an in-memory idempotency_keys table.
type IdempotencyKeys struct {
	mu      sync.Mutex
	rows    map[string]repository.IdempotencyKey
	lookups int
}

func NewIdempotencyKeys() *IdempotencyKeys {
	return &IdempotencyKeys{rows: make(map[string]repository.IdempotencyKey)}
}

// Lookups counts GetIdempotencyKey calls.
func (k *IdempotencyKeys) Lookups() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.lookups
}

func (k *IdempotencyKeys) GetIdempotencyKey(_ context.Context, key string) (repository.IdempotencyKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.lookups++
	row, ok := k.rows[key]
	if !ok {
		return repository.IdempotencyKey{}, pgx.ErrNoRows
	}
	return row, nil
}

func (k *IdempotencyKeys) ReserveIdempotencyKey(_ context.Context, arg repository.ReserveIdempotencyKeyParams) (repository.IdempotencyKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.rows[arg.IdempotencyKey]; ok {
		return repository.IdempotencyKey{}, pgx.ErrNoRows
	}
	now := time.Now().UTC()
	row := repository.IdempotencyKey{
		IdempotencyKey: arg.IdempotencyKey,
		RequestHash:    arg.RequestHash,
		Method:         arg.Method,
		Path:           arg.Path,
		InProgress:     true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	k.rows[arg.IdempotencyKey] = row
	return row, nil
}

func (k *IdempotencyKeys) FinalizeIdempotencyKey(_ context.Context, arg repository.FinalizeIdempotencyKeyParams) (repository.IdempotencyKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	row, ok := k.rows[arg.IdempotencyKey]
	if !ok || row.RequestHash != arg.RequestHash {
		return repository.IdempotencyKey{}, pgx.ErrNoRows
	}
	row.InProgress = false
	row.ResponseStatus = arg.ResponseStatus
	row.ResponseBody = append([]byte(nil), arg.ResponseBody...)
	row.ContentType = arg.ContentType
	row.UpdatedAt = time.Now().UTC()
	k.rows[arg.IdempotencyKey] = row
	return row, nil
}

func (k *IdempotencyKeys) ReleaseIdempotencyKey(_ context.Context, key, requestHash string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if row, ok := k.rows[key]; ok && row.InProgress && row.RequestHash == requestHash {
		delete(k.rows, key)
	}
	return nil
}
