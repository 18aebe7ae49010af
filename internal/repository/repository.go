package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/wallet-settlement/internal/domain"
	"github.com/ayo6706/wallet-settlement/internal/models"
)

// orderTable maps an order kind onto its catalog table. The table name is
// never taken from input directly.
func orderTable(kind domain.OrderKind) (string, error) {
	switch kind {
	case domain.SourceEcommerceOrder:
		return "ecommerce_orders", nil
	case domain.SourceServiceOrder:
		return "service_orders", nil
	default:
		return "", fmt.Errorf("unknown order kind %q", kind)
	}
}

func (q *Queries) getOrder(ctx context.Context, ref domain.OrderRef, lock bool) (models.Order, error) {
	table, err := orderTable(ref.Kind)
	if err != nil {
		return models.Order{}, err
	}
	query := `SELECT user_id, amount_cents, payment_status, paid_at FROM ` + table + ` WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	o := models.Order{Ref: ref}
	if err := q.db.QueryRow(ctx, query, ref.ID).Scan(&o.UserID, &o.Amount, &o.PaymentStatus, &o.PaidAt); err != nil {
		return models.Order{}, err
	}
	return o, nil
}

func (q *Queries) GetOrder(ctx context.Context, ref domain.OrderRef) (models.Order, error) {
	return q.getOrder(ctx, ref, false)
}

func (q *Queries) GetOrderForUpdate(ctx context.Context, ref domain.OrderRef) (models.Order, error) {
	return q.getOrder(ctx, ref, true)
}

// MarkOrderPaid only flips unpaid orders; zero rows means it was already paid.
func (q *Queries) MarkOrderPaid(ctx context.Context, ref domain.OrderRef, paidAt time.Time) (int64, error) {
	table, err := orderTable(ref.Kind)
	if err != nil {
		return 0, err
	}
	query := `UPDATE ` + table + ` SET payment_status = $1, paid_at = $2 WHERE id = $3 AND payment_status <> $1`
	tag, err := q.db.Exec(ctx, query, domain.PaymentStatusPaid, paidAt, ref.ID)
	if err != nil {
		return 0, fmt.Errorf("mark order paid: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := q.db.QueryRow(ctx, `SELECT value FROM system_settings WHERE key = $1`, key).Scan(&value)
	return value, err
}

func (q *Queries) UpsertSetting(ctx context.Context, key, value string) error {
	const query = `
		INSERT INTO system_settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`
	if _, err := q.db.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("upsert setting %s: %w", key, err)
	}
	return nil
}
