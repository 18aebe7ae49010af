package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/wallet-settlement/internal/domain"
	"github.com/ayo6706/wallet-settlement/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const gatewayColumns = `id, correlation_id, kind, purpose, user_id, amount_cents, order_kind, order_id, withdrawal_id,
	status, result_code, result_desc, receipt, needs_review, review_reason, created_at, updated_at, resolved_at`

func scanGatewayTransaction(row pgx.Row) (models.GatewayTransaction, error) {
	var (
		g         models.GatewayTransaction
		orderKind *string
		orderID   *uuid.UUID
	)
	err := row.Scan(
		&g.ID, &g.CorrelationID, &g.Kind, &g.Purpose, &g.UserID, &g.Amount, &orderKind, &orderID, &g.WithdrawalID,
		&g.Status, &g.ResultCode, &g.ResultDesc, &g.Receipt, &g.NeedsReview, &g.ReviewReason,
		&g.CreatedAt, &g.UpdatedAt, &g.ResolvedAt,
	)
	if err != nil {
		return models.GatewayTransaction{}, err
	}
	if orderKind != nil && orderID != nil {
		g.OrderRef = &domain.OrderRef{Kind: domain.OrderKind(*orderKind), ID: *orderID}
	}
	return g, nil
}

func orderColumns(ref *domain.OrderRef) (*string, *uuid.UUID) {
	if ref == nil {
		return nil, nil
	}
	kind := string(ref.Kind)
	id := ref.ID
	return &kind, &id
}

func (q *Queries) InsertGatewayTransaction(ctx context.Context, g models.GatewayTransaction) error {
	const query = `
		INSERT INTO gateway_transactions (id, correlation_id, kind, purpose, user_id, amount_cents, order_kind, order_id, withdrawal_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	kind, id := orderColumns(g.OrderRef)
	if _, err := q.db.Exec(ctx, query, g.ID, g.CorrelationID, g.Kind, g.Purpose, g.UserID, g.Amount, kind, id, g.WithdrawalID, g.Status); err != nil {
		return fmt.Errorf("insert gateway transaction: %w", err)
	}
	return nil
}

// GetGatewayTransactionForUpdate locks the row so a callback and the sweeper cannot both resolve it.
func (q *Queries) GetGatewayTransactionForUpdate(ctx context.Context, correlationID string) (models.GatewayTransaction, error) {
	const query = `SELECT ` + gatewayColumns + ` FROM gateway_transactions WHERE correlation_id = $1 FOR UPDATE`
	return scanGatewayTransaction(q.db.QueryRow(ctx, query, correlationID))
}

func (q *Queries) UpdateGatewayTransaction(ctx context.Context, g models.GatewayTransaction) (int64, error) {
	const query = `
		UPDATE gateway_transactions SET
			status = $1, result_code = $2, result_desc = $3, receipt = $4,
			needs_review = $5, review_reason = $6, resolved_at = $7, updated_at = NOW()
		WHERE id = $8`
	tag, err := q.db.Exec(ctx, query, g.Status, g.ResultCode, g.ResultDesc, g.Receipt, g.NeedsReview, g.ReviewReason, g.ResolvedAt, g.ID)
	if err != nil {
		return 0, fmt.Errorf("update gateway transaction: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectGatewayTransactions(rows pgx.Rows) ([]models.GatewayTransaction, error) {
	defer rows.Close()
	var out []models.GatewayTransaction
	for rows.Next() {
		g, err := scanGatewayTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan gateway transaction: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// ListStaleGatewayTransactions returns unflagged initiated requests older than createdBefore, oldest first.
func (q *Queries) ListStaleGatewayTransactions(ctx context.Context, createdBefore time.Time, limit int32) ([]models.GatewayTransaction, error) {
	const query = `
		SELECT ` + gatewayColumns + ` FROM gateway_transactions
		WHERE status = $1 AND created_at < $2 AND NOT needs_review
		ORDER BY created_at ASC
		LIMIT $3`
	rows, err := q.db.Query(ctx, query, domain.GatewayStatusInitiated, createdBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale gateway transactions: %w", err)
	}
	return collectGatewayTransactions(rows)
}

func (q *Queries) ListGatewayTransactionsNeedingReview(ctx context.Context, limit, offset int32) ([]models.GatewayTransaction, error) {
	const query = `
		SELECT ` + gatewayColumns + ` FROM gateway_transactions
		WHERE needs_review
		ORDER BY updated_at DESC
		LIMIT $1 OFFSET $2`
	rows, err := q.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list gateway transactions needing review: %w", err)
	}
	return collectGatewayTransactions(rows)
}

// CountStuckRecords counts initiated gateway requests and processing withdrawals older than before.
func (q *Queries) CountStuckRecords(ctx context.Context, before time.Time) (int64, error) {
	const query = `
		SELECT
			(SELECT COUNT(*) FROM gateway_transactions WHERE status = $1 AND created_at < $2) +
			(SELECT COUNT(*) FROM withdrawals WHERE status = $3 AND updated_at < $2)`
	var n int64
	if err := q.db.QueryRow(ctx, query, domain.GatewayStatusInitiated, before, domain.WithdrawalProcessing).Scan(&n); err != nil {
		return 0, fmt.Errorf("count stuck records: %w", err)
	}
	return n, nil
}
