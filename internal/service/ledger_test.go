package service

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/ayo6706/wallet-settlement/internal/domain"
	"github.com/ayo6706/wallet-settlement/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalletLedgerJournalsEveryBucketMove(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.newUser(t, nil)
	h.fund(t, user.ID, "50", "200")

	var split domain.Split
	err := h.store.RunInTx(ctx, func(q repository.Querier) error {
		var err error
		_, split, err = h.ledger.DeductWithdrawal(ctx, q, user.ID, money("230"), Posting{Reason: domain.EntryWithdrawal, Reference: "w-1"})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, domain.Split{Commission: money("200"), Deposited: money("30")}, split)
	assert.Equal(t, domain.Balances{Deposited: money("20")}, h.balances(t, user.ID))

	var withdrawn []domain.Money
	for _, e := range h.store.Entries(user.ID) {
		if e.Reason == domain.EntryWithdrawal {
			withdrawn = append(withdrawn, e.Amount)
		}
	}
	assert.ElementsMatch(t, []domain.Money{-money("30"), -money("200")}, withdrawn)

	report, err := h.auditor.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.DriftedWallets)
}

func TestWalletLedgerDeductPurchaseBoundary(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.newUser(t, nil)
	h.fund(t, user.ID, "12.34", "5.66")

	err := h.store.RunInTx(ctx, func(q repository.Querier) error {
		_, _, err := h.ledger.DeductPurchase(ctx, q, user.ID, money("18.01"), Posting{Reason: domain.EntryPurchase})
		return err
	})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, domain.Balances{Deposited: money("12.34"), Commission: money("5.66")}, h.balances(t, user.ID))

	err = h.store.RunInTx(ctx, func(q repository.Querier) error {
		_, split, err := h.ledger.DeductPurchase(ctx, q, user.ID, money("18.00"), Posting{Reason: domain.EntryPurchase})
		assert.Equal(t, domain.Split{Deposited: money("12.34"), Commission: money("5.66")}, split)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, domain.Balances{}, h.balances(t, user.ID))
}

func TestWalletLedgerRollsBackOnJournalFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.newUser(t, nil)
	h.fund(t, user.ID, "100", "0")

	h.store.FailNext("InsertWalletEntry", errors.New("disk full"))
	err := h.store.RunInTx(ctx, func(q repository.Querier) error {
		_, err := h.ledger.AddDeposit(ctx, q, user.ID, money("25"), Posting{Reason: domain.EntryDeposit})
		return err
	})
	require.Error(t, err)
	assert.Equal(t, domain.Balances{Deposited: money("100")}, h.balances(t, user.ID))
	assert.Len(t, h.store.Entries(user.ID), 1)
}

func TestWalletLedgerMissingWallet(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	err := h.store.RunInTx(ctx, func(q repository.Querier) error {
		_, err := h.ledger.AddDeposit(ctx, q, uuid.New(), money("1"), Posting{Reason: domain.EntryDeposit})
		return err
	})
	require.ErrorIs(t, err, ErrWalletNotFound)
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = h.ledger.GetWallet(ctx, uuid.New())
	require.ErrorIs(t, err, ErrWalletNotFound)
}

func TestWalletLedgerCanWithdraw(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.newUser(t, nil)
	h.fund(t, user.ID, "10", "5")

	check := func(amount string) error {
		return h.store.RunInTx(ctx, func(q repository.Querier) error {
			return h.ledger.CanWithdraw(ctx, q, user.ID, money(amount))
		})
	}
	require.NoError(t, check("15"))
	require.ErrorIs(t, check("15.01"), domain.ErrInsufficientFunds)

	h.setPin(t, user.ID)
	_, err := h.withdrawals.Request(ctx, WithdrawalRequest{UserID: user.ID, Amount: money("10"), Phone: "0712345678", Pin: testPin})
	require.NoError(t, err)
	require.ErrorIs(t, check("10"), domain.ErrWithdrawalAlreadyPending)
}

func TestWalletLedgerTotalInvariantUnderRandomOps(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.newUser(t, nil)
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 300; i++ {
		before := h.balances(t, user.ID)
		amount := domain.Money(rng.Int63n(5_000) + 1)
		var delta domain.Money
		err := h.store.RunInTx(ctx, func(q repository.Querier) error {
			switch rng.Intn(4) {
			case 0:
				delta = amount
				_, err := h.ledger.AddDeposit(ctx, q, user.ID, amount, Posting{Reason: domain.EntryDeposit})
				return err
			case 1:
				delta = amount
				_, err := h.ledger.AddCommission(ctx, q, user.ID, amount, Posting{Reason: domain.EntryCommission})
				return err
			case 2:
				delta = -amount
				_, _, err := h.ledger.DeductPurchase(ctx, q, user.ID, amount, Posting{Reason: domain.EntryPurchase})
				return err
			default:
				delta = -amount
				_, _, err := h.ledger.DeductWithdrawal(ctx, q, user.ID, amount, Posting{Reason: domain.EntryWithdrawal})
				return err
			}
		})
		after := h.balances(t, user.ID)
		if err != nil {
			require.ErrorIs(t, err, domain.ErrInsufficientFunds)
			require.Equal(t, before, after)
			continue
		}
		require.Equal(t, before.Total()+delta, after.Total())
		require.GreaterOrEqual(t, after.Deposited, domain.Money(0))
		require.GreaterOrEqual(t, after.Commission, domain.Money(0))
	}

	report, err := h.auditor.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.DriftedWallets)
}
