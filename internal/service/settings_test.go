package service

import (
	"context"
	"testing"

	"github.com/ayo6706/wallet-settlement/internal/domain"
	"github.com/ayo6706/wallet-settlement/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsDefaults(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	all, err := h.settings.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultEcommerceRate, all[domain.SettingEcommerceRate])
	assert.Equal(t, domain.DefaultServiceRate, all[domain.SettingServiceRate])

	err = h.store.RunInTx(ctx, func(q repository.Querier) error {
		rate, err := h.settings.CommissionRate(ctx, q, domain.SourceServiceOrder)
		require.NoError(t, err)
		assert.True(t, decimal.RequireFromString("0.20").Equal(rate))

		lo, hi, err := h.settings.WithdrawalBounds(ctx, q)
		require.NoError(t, err)
		assert.Equal(t, money("10"), lo)
		assert.Equal(t, money("150000"), hi)
		return nil
	})
	require.NoError(t, err)
}

func TestSettingsSetValidates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	admin := uuid.New()

	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown_key", "fx.rate", "1"},
		{"rate_above_one", domain.SettingEcommerceRate, "1.5"},
		{"negative_rate", domain.SettingServiceRate, "-0.1"},
		{"not_money", domain.SettingWithdrawalMin, "ten"},
		{"min_above_max", domain.SettingWithdrawalMin, "200000"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			var verr *domain.ValidationError
			require.ErrorAs(t, h.settings.Set(ctx, &admin, tc.key, tc.value), &verr)
		})
	}

	require.NoError(t, h.settings.Set(ctx, &admin, domain.SettingWithdrawalMax, "500"))
	all, err := h.settings.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, "500.00", all[domain.SettingWithdrawalMax])
	assert.Contains(t, auditActions(h.store.AuditLog(), domain.SettingWithdrawalMax), "setting_updated")

	user := h.newUser(t, nil)
	h.fund(t, user.ID, "1000", "0")
	h.setPin(t, user.ID)
	_, err = h.withdrawals.Request(ctx, WithdrawalRequest{UserID: user.ID, Amount: money("500.01"), Phone: "0712345678", Pin: testPin})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
}
