package domain

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBalances_DeductPurchaseDrainsDepositedFirst(t *testing.T) {
	b := Balances{Deposited: MustParseMoney("50"), Commission: MustParseMoney("200")}

	next, split, err := b.DeductPurchase(MustParseMoney("80"))
	require.NoError(t, err)
	assert.Equal(t, Money(0), next.Deposited)
	assert.Equal(t, MustParseMoney("170"), next.Commission)
	assert.Equal(t, Split{Deposited: MustParseMoney("50"), Commission: MustParseMoney("30")}, split)
}

func TestBalances_DeductWithdrawalDrainsCommissionFirst(t *testing.T) {
	b := Balances{Deposited: MustParseMoney("50"), Commission: MustParseMoney("200")}

	next, split, err := b.DeductWithdrawal(MustParseMoney("150"))
	require.NoError(t, err)
	assert.Equal(t, MustParseMoney("50"), next.Commission)
	assert.Equal(t, MustParseMoney("50"), next.Deposited)
	assert.Equal(t, Split{Commission: MustParseMoney("150")}, split)

	next, split, err = next.DeductWithdrawal(MustParseMoney("70"))
	require.NoError(t, err)
	assert.Equal(t, Money(0), next.Commission)
	assert.Equal(t, MustParseMoney("30"), next.Deposited)
	assert.Equal(t, Split{Commission: MustParseMoney("50"), Deposited: MustParseMoney("20")}, split)
}

func TestBalances_DeductBoundary(t *testing.T) {
	b := Balances{Deposited: MustParseMoney("12.34"), Commission: MustParseMoney("5.66")}

	drained, _, err := b.DeductPurchase(b.Total())
	require.NoError(t, err)
	assert.Equal(t, Balances{}, drained)

	unchanged, split, err := b.DeductPurchase(b.Total() + MustParseMoney("0.01"))
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, b, unchanged)
	assert.Equal(t, Split{}, split)
}

func TestBalances_RejectsNonPositive(t *testing.T) {
	b := Balances{Deposited: 100}
	for _, amount := range []Money{0, -1} {
		_, err := b.AddDeposit(amount)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)

		_, err = b.AddCommission(amount)
		require.ErrorAs(t, err, &verr)

		_, _, err = b.DeductWithdrawal(amount)
		require.ErrorAs(t, err, &verr)
	}
}

func TestBalances_WithdrawalRestoreRoundTrip(t *testing.T) {
	b := Balances{Deposited: MustParseMoney("50"), Commission: MustParseMoney("20")}

	debited, split, err := b.DeductWithdrawal(MustParseMoney("60"))
	require.NoError(t, err)

	restored, err := debited.Restore(split)
	require.NoError(t, err)
	assert.Equal(t, b, restored)
}

func TestBalances_TotalInvariantUnderRandomOps(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	b := Balances{}
	var deposited, commission Money

	for i := 0; i < 2000; i++ {
		amount := Money(rng.Int63n(10_000) + 1)
		switch rng.Intn(4) {
		case 0:
			next, err := b.AddDeposit(amount)
			require.NoError(t, err)
			b = next
			deposited += amount
		case 1:
			next, err := b.AddCommission(amount)
			require.NoError(t, err)
			b = next
			commission += amount
		case 2:
			next, split, err := b.DeductPurchase(amount)
			if err == nil {
				deposited -= split.Deposited
				commission -= split.Commission
				assert.Equal(t, amount, split.Total())
			} else {
				require.ErrorIs(t, err, ErrInsufficientFunds)
			}
			b = next
		case 3:
			next, split, err := b.DeductWithdrawal(amount)
			if err == nil {
				deposited -= split.Deposited
				commission -= split.Commission
			} else {
				require.ErrorIs(t, err, ErrInsufficientFunds)
			}
			b = next
		}
		require.GreaterOrEqual(t, b.Deposited, Money(0))
		require.GreaterOrEqual(t, b.Commission, Money(0))
		require.Equal(t, b.Deposited+b.Commission, b.Total())
		require.Equal(t, deposited, b.Deposited)
		require.Equal(t, commission, b.Commission)
	}
}
