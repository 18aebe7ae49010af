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

const withdrawalColumns = `id, user_id, amount_cents, phone_number, status, debited_commission_cents, debited_deposited_cents,
	external_transaction_id, gateway_conversation_id, failure_reason, needs_review, requested_at, approved_at, paid_at, updated_at`

func scanWithdrawal(row pgx.Row) (models.Withdrawal, error) {
	var w models.Withdrawal
	err := row.Scan(
		&w.ID, &w.UserID, &w.Amount, &w.PhoneNumber, &w.Status, &w.DebitedCommission, &w.DebitedDeposited,
		&w.ExternalTransactionID, &w.GatewayConversationID, &w.FailureReason, &w.NeedsReview,
		&w.RequestedAt, &w.ApprovedAt, &w.PaidAt, &w.UpdatedAt,
	)
	return w, err
}

func collectWithdrawals(rows pgx.Rows) ([]models.Withdrawal, error) {
	defer rows.Close()
	var out []models.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan withdrawal: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (q *Queries) InsertWithdrawal(ctx context.Context, w models.Withdrawal) error {
	const query = `INSERT INTO withdrawals (id, user_id, amount_cents, phone_number, status, requested_at) VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := q.db.Exec(ctx, query, w.ID, w.UserID, w.Amount, w.PhoneNumber, w.Status, w.RequestedAt); err != nil {
		return fmt.Errorf("insert withdrawal: %w", err)
	}
	return nil
}

func (q *Queries) GetWithdrawal(ctx context.Context, id uuid.UUID) (models.Withdrawal, error) {
	return scanWithdrawal(q.db.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1`, id))
}

func (q *Queries) GetWithdrawalForUpdate(ctx context.Context, id uuid.UUID) (models.Withdrawal, error) {
	return scanWithdrawal(q.db.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1 FOR UPDATE`, id))
}

func (q *Queries) GetOpenWithdrawalForUser(ctx context.Context, userID uuid.UUID) (models.Withdrawal, error) {
	const query = `SELECT ` + withdrawalColumns + ` FROM withdrawals WHERE user_id = $1 AND status IN ($2, $3) LIMIT 1`
	return scanWithdrawal(q.db.QueryRow(ctx, query, userID, domain.WithdrawalPending, domain.WithdrawalProcessing))
}

// GetLastCompletedWithdrawalAt returns nil when the user has never completed a withdrawal.
func (q *Queries) GetLastCompletedWithdrawalAt(ctx context.Context, userID uuid.UUID) (*time.Time, error) {
	const query = `SELECT MAX(paid_at) FROM withdrawals WHERE user_id = $1 AND status = $2`
	var at *time.Time
	if err := q.db.QueryRow(ctx, query, userID, domain.WithdrawalCompleted).Scan(&at); err != nil {
		return nil, fmt.Errorf("last completed withdrawal: %w", err)
	}
	return at, nil
}

// UpdateWithdrawal writes every mutable column. amount_cents is immutable.
func (q *Queries) UpdateWithdrawal(ctx context.Context, w models.Withdrawal) (int64, error) {
	const query = `
		UPDATE withdrawals SET
			status = $1, debited_commission_cents = $2, debited_deposited_cents = $3,
			external_transaction_id = $4, gateway_conversation_id = $5, failure_reason = $6,
			needs_review = $7, approved_at = $8, paid_at = $9, updated_at = NOW()
		WHERE id = $10`
	tag, err := q.db.Exec(ctx, query,
		w.Status, w.DebitedCommission, w.DebitedDeposited,
		w.ExternalTransactionID, w.GatewayConversationID, w.FailureReason,
		w.NeedsReview, w.ApprovedAt, w.PaidAt, w.ID,
	)
	if err != nil {
		return 0, fmt.Errorf("update withdrawal: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) ListWithdrawalsByStatus(ctx context.Context, status string, limit, offset int32) ([]models.Withdrawal, error) {
	const query = `SELECT ` + withdrawalColumns + ` FROM withdrawals WHERE status = $1 ORDER BY requested_at ASC LIMIT $2 OFFSET $3`
	rows, err := q.db.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list withdrawals: %w", err)
	}
	return collectWithdrawals(rows)
}

// ListUndispatchedWithdrawals finds approved withdrawals whose payout request never reached the gateway.
func (q *Queries) ListUndispatchedWithdrawals(ctx context.Context, approvedBefore time.Time, limit int32) ([]models.Withdrawal, error) {
	const query = `
		SELECT ` + withdrawalColumns + ` FROM withdrawals
		WHERE status = $1 AND gateway_conversation_id IS NULL AND NOT needs_review AND approved_at < $2
		ORDER BY approved_at ASC
		LIMIT $3`
	rows, err := q.db.Query(ctx, query, domain.WithdrawalProcessing, approvedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("list undispatched withdrawals: %w", err)
	}
	return collectWithdrawals(rows)
}
