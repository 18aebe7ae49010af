package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ayo6706/wallet-settlement/internal/domain"
	"github.com/ayo6706/wallet-settlement/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock pools.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Querier is the full data access contract used by services.
type Querier interface {
	CreateUser(ctx context.Context, u models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (models.User, error)
	GetUserByReferralCode(ctx context.Context, code string) (models.User, error)

	CreateWallet(ctx context.Context, userID uuid.UUID) error
	GetWallet(ctx context.Context, userID uuid.UUID) (models.Wallet, error)
	GetWalletForUpdate(ctx context.Context, userID uuid.UUID) (models.Wallet, error)
	UpdateWalletBalances(ctx context.Context, userID uuid.UUID, b domain.Balances) (int64, error)
	UpdateWalletPin(ctx context.Context, arg UpdateWalletPinParams) (int64, error)
	InsertWalletEntry(ctx context.Context, e models.WalletEntry) error
	ListWalletDrift(ctx context.Context, limit int32) ([]models.WalletDrift, error)

	InsertCommission(ctx context.Context, c models.Commission) (bool, error)
	GetCommission(ctx context.Context, id uuid.UUID) (models.Commission, error)
	GetCommissionBySource(ctx context.Context, src domain.CommissionSource) (models.Commission, error)
	ListCommissionsByReferrer(ctx context.Context, referrerID uuid.UUID, limit, offset int32) ([]models.Commission, error)

	InsertWithdrawal(ctx context.Context, w models.Withdrawal) error
	GetWithdrawal(ctx context.Context, id uuid.UUID) (models.Withdrawal, error)
	GetWithdrawalForUpdate(ctx context.Context, id uuid.UUID) (models.Withdrawal, error)
	GetOpenWithdrawalForUser(ctx context.Context, userID uuid.UUID) (models.Withdrawal, error)
	GetLastCompletedWithdrawalAt(ctx context.Context, userID uuid.UUID) (*time.Time, error)
	UpdateWithdrawal(ctx context.Context, w models.Withdrawal) (int64, error)
	ListWithdrawalsByStatus(ctx context.Context, status string, limit, offset int32) ([]models.Withdrawal, error)
	ListUndispatchedWithdrawals(ctx context.Context, approvedBefore time.Time, limit int32) ([]models.Withdrawal, error)

	InsertGatewayTransaction(ctx context.Context, g models.GatewayTransaction) error
	GetGatewayTransactionForUpdate(ctx context.Context, correlationID string) (models.GatewayTransaction, error)
	UpdateGatewayTransaction(ctx context.Context, g models.GatewayTransaction) (int64, error)
	ListStaleGatewayTransactions(ctx context.Context, createdBefore time.Time, limit int32) ([]models.GatewayTransaction, error)
	ListGatewayTransactionsNeedingReview(ctx context.Context, limit, offset int32) ([]models.GatewayTransaction, error)
	CountStuckRecords(ctx context.Context, before time.Time) (int64, error)

	GetOrderForUpdate(ctx context.Context, ref domain.OrderRef) (models.Order, error)
	GetOrder(ctx context.Context, ref domain.OrderRef) (models.Order, error)
	MarkOrderPaid(ctx context.Context, ref domain.OrderRef, paidAt time.Time) (int64, error)

	GetSetting(ctx context.Context, key string) (string, error)
	UpsertSetting(ctx context.Context, key, value string) error

	InsertAuditLog(ctx context.Context, arg InsertAuditLogParams) error
	ListAuditNeedingReview(ctx context.Context, limit, offset int32) ([]models.AuditEntry, error)
}

type Queries struct {
	db DBTX
}

var _ Querier = (*Queries)(nil)

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

const (
	uniqueViolation = "23505"

	ConstraintOpenWithdrawal = "withdrawals_one_open_per_user"
	ConstraintCommissionSrc  = "commissions_source_uniq"
)

// IsUniqueViolation reports whether err is a unique violation, optionally on a named constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// IsNotFound reports a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
