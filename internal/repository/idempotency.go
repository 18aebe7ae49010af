package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

type IdempotencyKey struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
	InProgress     bool
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type ReserveIdempotencyKeyParams struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
}

type FinalizeIdempotencyKeyParams struct {
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	IdempotencyKey string
	RequestHash    string
}

const idempotencyColumns = `idempotency_key, request_hash, method, path, in_progress, response_status, response_body, content_type, created_at, updated_at`

func scanIdempotencyKey(row pgx.Row) (IdempotencyKey, error) {
	var k IdempotencyKey
	err := row.Scan(&k.IdempotencyKey, &k.RequestHash, &k.Method, &k.Path, &k.InProgress,
		&k.ResponseStatus, &k.ResponseBody, &k.ContentType, &k.CreatedAt, &k.UpdatedAt)
	return k, err
}

func (q *Queries) GetIdempotencyKey(ctx context.Context, key string) (IdempotencyKey, error) {
	return scanIdempotencyKey(q.db.QueryRow(ctx, `SELECT `+idempotencyColumns+` FROM idempotency_keys WHERE idempotency_key = $1`, key))
}

// ReserveIdempotencyKey returns pgx.ErrNoRows when the key is already taken.
func (q *Queries) ReserveIdempotencyKey(ctx context.Context, arg ReserveIdempotencyKeyParams) (IdempotencyKey, error) {
	const query = `
		INSERT INTO idempotency_keys (idempotency_key, request_hash, method, path)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING ` + idempotencyColumns
	return scanIdempotencyKey(q.db.QueryRow(ctx, query, arg.IdempotencyKey, arg.RequestHash, arg.Method, arg.Path))
}

func (q *Queries) FinalizeIdempotencyKey(ctx context.Context, arg FinalizeIdempotencyKeyParams) (IdempotencyKey, error) {
	const query = `
		UPDATE idempotency_keys
		SET in_progress = FALSE, response_status = $1, response_body = $2, content_type = $3, updated_at = NOW()
		WHERE idempotency_key = $4 AND request_hash = $5
		RETURNING ` + idempotencyColumns
	return scanIdempotencyKey(q.db.QueryRow(ctx, query, arg.ResponseStatus, arg.ResponseBody, arg.ContentType, arg.IdempotencyKey, arg.RequestHash))
}

// ReleaseIdempotencyKey deletes a reservation that never produced a response.
func (q *Queries) ReleaseIdempotencyKey(ctx context.Context, key, requestHash string) error {
	_, err := q.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE idempotency_key = $1 AND request_hash = $2 AND in_progress`, key, requestHash)
	return err
}
