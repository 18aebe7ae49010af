package repository_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/ayo6706/wallet-settlement/internal/db"
	"github.com/ayo6706/wallet-settlement/internal/domain"
	"github.com/ayo6706/wallet-settlement/internal/models"
	"github.com/ayo6706/wallet-settlement/internal/repository"
	"github.com/ayo6706/wallet-settlement/internal/testutil/dblock"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestDB migrates the database named by DATABASE_URL. Tests sharing the
// database serialize on dblock.
func openTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	dblock.Acquire(t)

	pool, err := db.Connect(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	_, err = db.Migrate(context.Background(), pool)
	require.NoError(t, err)

	_, err = pool.Exec(context.Background(), `TRUNCATE audit_log, gateway_transactions, commissions, withdrawals, wallet_entries, wallets, ecommerce_orders, service_orders, users CASCADE`)
	require.NoError(t, err)
	return pool
}

func seedWallet(t *testing.T, store *repository.Store) uuid.UUID {
	t.Helper()
	u := models.User{
		ID:           uuid.New(),
		Username:     gofakeit.Username() + gofakeit.Numerify("####"),
		Email:        uuid.NewString()[:8] + "@example.com",
		Phone:        "2547" + gofakeit.Numerify("########"),
		ReferralCode: gofakeit.Password(false, true, true, false, false, 8),
	}
	err := store.RunInTx(context.Background(), func(q repository.Querier) error {
		if err := q.CreateUser(context.Background(), u); err != nil {
			return err
		}
		return q.CreateWallet(context.Background(), u.ID)
	})
	require.NoError(t, err)
	return u.ID
}

func TestIntegration_OneOpenWithdrawalPerUser(t *testing.T) {
	pool := openTestDB(t)
	store := repository.NewStore(pool)
	ctx := context.Background()
	userID := seedWallet(t, store)

	first := models.Withdrawal{ID: uuid.New(), UserID: userID, Amount: 5000, PhoneNumber: "254700000001", Status: domain.WithdrawalPending, RequestedAt: time.Now()}
	require.NoError(t, store.Queries().InsertWithdrawal(ctx, first))

	second := first
	second.ID = uuid.New()
	err := store.Queries().InsertWithdrawal(ctx, second)
	require.Error(t, err)
	assert.True(t, repository.IsUniqueViolation(err, repository.ConstraintOpenWithdrawal))

	// A closed withdrawal frees the slot.
	first.Status = domain.WithdrawalFailed
	rows, err := store.Queries().UpdateWithdrawal(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)
	require.NoError(t, store.Queries().InsertWithdrawal(ctx, second))
}

func TestIntegration_RunInTxRollsBack(t *testing.T) {
	pool := openTestDB(t)
	store := repository.NewStore(pool)
	ctx := context.Background()
	userID := seedWallet(t, store)

	boom := errors.New("boom")
	err := store.RunInTx(ctx, func(q repository.Querier) error {
		if _, err := q.UpdateWalletBalances(ctx, userID, domain.Balances{Deposited: 10000}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	w, err := store.Queries().GetWallet(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, domain.Money(0), w.DepositedBalance)
}

func TestIntegration_BalancesCannotGoNegative(t *testing.T) {
	pool := openTestDB(t)
	store := repository.NewStore(pool)
	ctx := context.Background()
	userID := seedWallet(t, store)

	_, err := store.Queries().UpdateWalletBalances(ctx, userID, domain.Balances{Deposited: -1})
	require.Error(t, err)
}
