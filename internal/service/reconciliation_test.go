package service

import (
	"context"
	"testing"
	"time"

	"github.com/ayo6706/wallet-settlement/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBalanceAuditorFlagsDrift(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	clean := h.newUser(t, nil)
	drifted := h.newUser(t, nil)
	h.fund(t, clean.ID, "40", "10")
	h.fund(t, drifted.ID, "40", "10")

	report, err := h.auditor.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.DriftedWallets)

	h.store.SetWalletBalances(drifted.ID, domain.Balances{Deposited: money("40"), Commission: money("15")})
	report, err = h.auditor.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.DriftedWallets)

	// Drift is reported, never corrected.
	assert.Equal(t, money("15"), h.balances(t, drifted.ID).Commission)

	var flags int
	for _, e := range h.store.AuditLog() {
		if e.NeedsReview && e.Action == "balance_drift" {
			flags++
			assert.Equal(t, drifted.ID.String(), e.EntityID)
		}
	}
	assert.Equal(t, 1, flags)

	entries, err := NewAuditService(h.store).ListNeedingReview(ctx, 10, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestBalanceAuditorCountsStuckRecords(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	startOrderCollection(t, h, "200", "ws_CO_a")
	startOrderCollection(t, h, "200", "ws_CO_b")
	h.store.AgeGatewayTransaction("ws_CO_a", time.Hour)

	report, err := h.auditor.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.StuckRecords)
}
