package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/ayo6706/wallet-settlement/internal/domain"
	"github.com/ayo6706/wallet-settlement/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*Queries, pgxmock.PgxPoolIface) {
	t.Helper()
	mockDB, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockDB.Close)
	return New(mockDB), mockDB
}

func TestQueries_UpdateWalletBalances(t *testing.T) {
	q, mock := newMock(t)
	userID := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE wallets SET deposited_cents = $1, commission_cents = $2")).
		WithArgs(domain.Money(15000), domain.Money(250), userID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	n, err := q.UpdateWalletBalances(context.Background(), userID, domain.Balances{Deposited: 15000, Commission: 250})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueries_InsertCommission(t *testing.T) {
	orderID := uuid.New()
	c := models.Commission{
		ID:         uuid.New(),
		ReferrerID: uuid.New(),
		Source:     domain.ServiceOrderRef(orderID),
		Amount:     domain.MustParseMoney("40.00"),
		Type:       domain.CommissionTypeOrder,
	}

	tests := []struct {
		name      string
		mockSetup func(mock pgxmock.PgxPoolIface)
		inserted  bool
		expectErr bool
	}{
		{
			name: "first commission for the source is inserted",
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO commissions")).
					WithArgs(c.ID, c.ReferrerID, domain.SourceServiceOrder, pgxmock.AnyArg(), c.Amount, c.Type, "", pgxmock.AnyArg(), pgxmock.AnyArg()).
					WillReturnRows(pgxmock.NewRows([]string{"bool"}).AddRow(true))
			},
			inserted: true,
		},
		{
			name: "conflict on the source yields no row",
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO commissions")).
					WillReturnError(pgx.ErrNoRows)
			},
			inserted: false,
		},
		{
			name: "database error",
			mockSetup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO commissions")).
					WillReturnError(errors.New("connection reset"))
			},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, mock := newMock(t)
			tt.mockSetup(mock)

			inserted, err := q.InsertCommission(context.Background(), c)
			if tt.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.inserted, inserted)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestQueries_GetCommissionBySourceNone(t *testing.T) {
	q, mock := newMock(t)

	_, err := q.GetCommissionBySource(context.Background(), domain.NoSource())
	assert.ErrorIs(t, err, pgx.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueries_MarkOrderPaid(t *testing.T) {
	paidAt := time.Now()

	t.Run("ecommerce orders table", func(t *testing.T) {
		q, mock := newMock(t)
		ref := domain.OrderRef{Kind: domain.SourceEcommerceOrder, ID: uuid.New()}
		mock.ExpectExec(regexp.QuoteMeta("UPDATE ecommerce_orders SET payment_status = $1")).
			WithArgs(domain.PaymentStatusPaid, paidAt, ref.ID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		n, err := q.MarkOrderPaid(context.Background(), ref, paidAt)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already paid service order", func(t *testing.T) {
		q, mock := newMock(t)
		ref := domain.OrderRef{Kind: domain.SourceServiceOrder, ID: uuid.New()}
		mock.ExpectExec(regexp.QuoteMeta("UPDATE service_orders SET payment_status = $1")).
			WithArgs(domain.PaymentStatusPaid, paidAt, ref.ID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		n, err := q.MarkOrderPaid(context.Background(), ref, paidAt)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})

	t.Run("unknown kind never reaches the database", func(t *testing.T) {
		q, mock := newMock(t)
		_, err := q.MarkOrderPaid(context.Background(), domain.OrderRef{Kind: domain.SourceNone, ID: uuid.New()}, paidAt)
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestQueries_GetSetting(t *testing.T) {
	q, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM system_settings WHERE key = $1")).
		WithArgs(domain.SettingServiceRate).
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow("0.25"))

	v, err := q.GetSetting(context.Background(), domain.SettingServiceRate)
	require.NoError(t, err)
	assert.Equal(t, "0.25", v)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueries_UpsertSetting(t *testing.T) {
	q, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO system_settings (key, value) VALUES ($1, $2)")).
		WithArgs(domain.SettingWithdrawalMin, "20.00").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, q.UpsertSetting(context.Background(), domain.SettingWithdrawalMin, "20.00"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueries_InsertAuditLog(t *testing.T) {
	q, mock := newMock(t)
	next := domain.WithdrawalProcessing
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_log")).
		WithArgs("withdrawal", "w-1", pgxmock.AnyArg(), "approve", pgxmock.AnyArg(), pgxmock.AnyArg(), true, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := q.InsertAuditLog(context.Background(), InsertAuditLogParams{
		EntityType:  "withdrawal",
		EntityID:    "w-1",
		Action:      "approve",
		NextState:   &next,
		NeedsReview: true,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueries_UpdateWithdrawalWrapsError(t *testing.T) {
	q, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE withdrawals SET")).
		WillReturnError(errors.New("withdrawal amount is immutable"))

	_, err := q.UpdateWithdrawal(context.Background(), models.Withdrawal{ID: uuid.New(), Status: domain.WithdrawalCompleted})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "update withdrawal")
}

func TestIsUniqueViolation(t *testing.T) {
	err := &pgconn.PgError{Code: "23505", ConstraintName: ConstraintOpenWithdrawal}

	assert.True(t, IsUniqueViolation(err, ConstraintOpenWithdrawal))
	assert.True(t, IsUniqueViolation(err, ""))
	assert.False(t, IsUniqueViolation(err, ConstraintCommissionSrc))
	assert.False(t, IsUniqueViolation(errors.New("boom"), ""))
	assert.True(t, IsNotFound(pgx.ErrNoRows))
}

func TestQueries_ReserveIdempotencyKeyTaken(t *testing.T) {
	q, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO idempotency_keys")).
		WithArgs("user:key-1", "hash", "POST", "/v1/withdrawals").
		WillReturnError(pgx.ErrNoRows)

	_, err := q.ReserveIdempotencyKey(context.Background(), ReserveIdempotencyKeyParams{
		IdempotencyKey: "user:key-1",
		RequestHash:    "hash",
		Method:         "POST",
		Path:           "/v1/withdrawals",
	})
	assert.ErrorIs(t, err, pgx.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueries_ReleaseIdempotencyKey(t *testing.T) {
	q, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM idempotency_keys WHERE idempotency_key = $1 AND request_hash = $2 AND in_progress")).
		WithArgs("user:key-1", "hash").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, q.ReleaseIdempotencyKey(context.Background(), "user:key-1", "hash"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_RunInTxRetriesDeadlock(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store := NewStore(mock)
	userID := uuid.New()
	update := regexp.QuoteMeta("UPDATE wallets SET deposited_cents = $1, commission_cents = $2")

	mock.ExpectBegin()
	mock.ExpectExec(update).WithArgs(domain.Money(100), domain.Money(0), userID).
		WillReturnError(&pgconn.PgError{Code: "40P01"})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec(update).WithArgs(domain.Money(100), domain.Money(0), userID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	calls := 0
	err = store.RunInTx(context.Background(), func(q Querier) error {
		calls++
		_, err := q.UpdateWalletBalances(context.Background(), userID, domain.Balances{Deposited: 100})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_RunInTxDoesNotRetryDomainErrors(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store := NewStore(mock)

	mock.ExpectBegin()
	mock.ExpectRollback()

	calls := 0
	err = store.RunInTx(context.Background(), func(Querier) error {
		calls++
		return domain.ErrInsufficientFunds
	})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, 1, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}
