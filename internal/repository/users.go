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

const userColumns = `id, username, email, phone, referral_code, referred_by, created_at`

func scanUser(row pgx.Row) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Phone, &u.ReferralCode, &u.ReferredBy, &u.CreatedAt)
	return u, err
}

func (q *Queries) CreateUser(ctx context.Context, u models.User) error {
	const query = `INSERT INTO users (id, username, email, phone, referral_code, referred_by) VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := q.db.Exec(ctx, query, u.ID, u.Username, u.Email, u.Phone, u.ReferralCode, u.ReferredBy); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (q *Queries) GetUser(ctx context.Context, id uuid.UUID) (models.User, error) {
	return scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (q *Queries) GetUserByReferralCode(ctx context.Context, code string) (models.User, error) {
	return scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE referral_code = $1`, code))
}

const walletColumns = `user_id, deposited_cents, commission_cents, pin_hash, pin_attempts, pin_locked_until, created_at, updated_at`

func scanWallet(row pgx.Row) (models.Wallet, error) {
	var w models.Wallet
	err := row.Scan(&w.UserID, &w.DepositedBalance, &w.CommissionBalance, &w.PinHash, &w.PinAttempts, &w.PinLockedUntil, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}

func (q *Queries) CreateWallet(ctx context.Context, userID uuid.UUID) error {
	if _, err := q.db.Exec(ctx, `INSERT INTO wallets (user_id) VALUES ($1)`, userID); err != nil {
		return fmt.Errorf("insert wallet: %w", err)
	}
	return nil
}

func (q *Queries) GetWallet(ctx context.Context, userID uuid.UUID) (models.Wallet, error) {
	return scanWallet(q.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, userID))
}

// GetWalletForUpdate takes the row lock that serializes every wallet mutation.
func (q *Queries) GetWalletForUpdate(ctx context.Context, userID uuid.UUID) (models.Wallet, error) {
	return scanWallet(q.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1 FOR UPDATE`, userID))
}

func (q *Queries) UpdateWalletBalances(ctx context.Context, userID uuid.UUID, b domain.Balances) (int64, error) {
	const query = `UPDATE wallets SET deposited_cents = $1, commission_cents = $2, updated_at = NOW() WHERE user_id = $3`
	tag, err := q.db.Exec(ctx, query, b.Deposited, b.Commission, userID)
	if err != nil {
		return 0, fmt.Errorf("update wallet balances: %w", err)
	}
	return tag.RowsAffected(), nil
}

type UpdateWalletPinParams struct {
	UserID      uuid.UUID
	PinHash     string
	Attempts    int
	LockedUntil *time.Time
}

func (q *Queries) UpdateWalletPin(ctx context.Context, arg UpdateWalletPinParams) (int64, error) {
	const query = `UPDATE wallets SET pin_hash = $1, pin_attempts = $2, pin_locked_until = $3, updated_at = NOW() WHERE user_id = $4`
	tag, err := q.db.Exec(ctx, query, arg.PinHash, arg.Attempts, arg.LockedUntil, arg.UserID)
	if err != nil {
		return 0, fmt.Errorf("update wallet pin: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) InsertWalletEntry(ctx context.Context, e models.WalletEntry) error {
	const query = `INSERT INTO wallet_entries (id, user_id, bucket, amount_cents, reason, reference) VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := q.db.Exec(ctx, query, e.ID, e.UserID, e.Bucket, e.Amount, e.Reason, e.Reference); err != nil {
		return fmt.Errorf("insert wallet entry: %w", err)
	}
	return nil
}

// ListWalletDrift returns wallets whose stored balances differ from the sum of their journal.
func (q *Queries) ListWalletDrift(ctx context.Context, limit int32) ([]models.WalletDrift, error) {
	const query = `
		SELECT w.user_id, w.deposited_cents, w.commission_cents,
		       COALESCE(SUM(e.amount_cents) FILTER (WHERE e.bucket = 'deposited'), 0)::BIGINT,
		       COALESCE(SUM(e.amount_cents) FILTER (WHERE e.bucket = 'commission'), 0)::BIGINT
		FROM wallets w
		LEFT JOIN wallet_entries e ON e.user_id = w.user_id
		GROUP BY w.user_id, w.deposited_cents, w.commission_cents
		HAVING w.deposited_cents <> COALESCE(SUM(e.amount_cents) FILTER (WHERE e.bucket = 'deposited'), 0)
		    OR w.commission_cents <> COALESCE(SUM(e.amount_cents) FILTER (WHERE e.bucket = 'commission'), 0)
		LIMIT $1`
	rows, err := q.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query wallet drift: %w", err)
	}
	defer rows.Close()

	var out []models.WalletDrift
	for rows.Next() {
		var d models.WalletDrift
		if err := rows.Scan(&d.UserID, &d.StoredDeposited, &d.StoredCommission, &d.JournalDeposited, &d.JournalCommission); err != nil {
			return nil, fmt.Errorf("scan wallet drift: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
