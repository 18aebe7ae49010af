package repository

import (
	"context"
	"fmt"

	"github.com/ayo6706/wallet-settlement/internal/domain"
	"github.com/ayo6706/wallet-settlement/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const commissionColumns = `id, referrer_id, source_kind, source_order_id, amount_cents, type, description, reverses_id, refund_withdrawal_id, created_at`

func sourceOrderID(src domain.CommissionSource) *uuid.UUID {
	if src.IsNone() {
		return nil
	}
	id := src.OrderID
	return &id
}

func sourceKind(src domain.CommissionSource) domain.SourceKind {
	if src.IsNone() {
		return domain.SourceNone
	}
	return src.Kind
}

func scanCommission(row pgx.Row) (models.Commission, error) {
	var (
		c       models.Commission
		kind    string
		orderID *uuid.UUID
	)
	err := row.Scan(&c.ID, &c.ReferrerID, &kind, &orderID, &c.Amount, &c.Type, &c.Description, &c.ReversesID, &c.RefundWithdrawalID, &c.CreatedAt)
	if err != nil {
		return models.Commission{}, err
	}
	c.Source = domain.CommissionSource{Kind: domain.SourceKind(kind)}
	if orderID != nil {
		c.Source.OrderID = *orderID
	}
	return c, nil
}

// InsertCommission reports false when an order-sourced commission already exists
// for the same source; the partial unique index decides, not a prior read.
func (q *Queries) InsertCommission(ctx context.Context, c models.Commission) (bool, error) {
	const query = `
		INSERT INTO commissions (id, referrer_id, source_kind, source_order_id, amount_cents, type, description, reverses_id, refund_withdrawal_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (source_kind, source_order_id) WHERE source_order_id IS NOT NULL DO NOTHING
		RETURNING TRUE`
	var inserted bool
	err := q.db.QueryRow(ctx, query,
		c.ID, c.ReferrerID, sourceKind(c.Source), sourceOrderID(c.Source),
		c.Amount, c.Type, c.Description, c.ReversesID, c.RefundWithdrawalID,
	).Scan(&inserted)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert commission: %w", err)
	}
	return inserted, nil
}

func (q *Queries) GetCommission(ctx context.Context, id uuid.UUID) (models.Commission, error) {
	return scanCommission(q.db.QueryRow(ctx, `SELECT `+commissionColumns+` FROM commissions WHERE id = $1`, id))
}

func (q *Queries) GetCommissionBySource(ctx context.Context, src domain.CommissionSource) (models.Commission, error) {
	if src.IsNone() {
		return models.Commission{}, pgx.ErrNoRows
	}
	const query = `SELECT ` + commissionColumns + ` FROM commissions WHERE source_kind = $1 AND source_order_id = $2`
	return scanCommission(q.db.QueryRow(ctx, query, src.Kind, src.OrderID))
}

func (q *Queries) ListCommissionsByReferrer(ctx context.Context, referrerID uuid.UUID, limit, offset int32) ([]models.Commission, error) {
	const query = `SELECT ` + commissionColumns + ` FROM commissions WHERE referrer_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := q.db.Query(ctx, query, referrerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list commissions: %w", err)
	}
	defer rows.Close()

	var out []models.Commission
	for rows.Next() {
		c, err := scanCommission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan commission: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
