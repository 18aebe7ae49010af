package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ayo6706/wallet-settlement/internal/domain"
	"github.com/ayo6706/wallet-settlement/internal/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestStuckSweeperResolvesFromStatusQuery(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	referrer, _, ref := startOrderCollection(t, h, "200", "ws_CO_stuck")
	user := h.newUser(t, nil)
	h.fund(t, user.ID, "100", "0")
	h.setPin(t, user.ID)
	w := h.processingWithdrawal(t, user.ID, "60", "AG_STUCK")

	h.store.AgeGatewayTransaction("ws_CO_stuck", 10*time.Minute)
	h.store.AgeGatewayTransaction("AG_STUCK", 10*time.Minute)

	h.gateway.EXPECT().QueryTransactionStatus(gomock.Any(), "ws_CO_stuck").
		Return(gateway.TransactionStatus{Status: domain.QuerySuccess, ResultCode: "0", Receipt: "QK9"}, nil)
	h.gateway.EXPECT().QueryTransactionStatus(gomock.Any(), "AG_STUCK").
		Return(gateway.TransactionStatus{Status: domain.QueryFailed, ResultDesc: "insufficient float"}, nil)

	report, err := h.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Checked: 2, Resolved: 2}, report)

	order, err := h.store.Queries().GetOrder(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, order.PaymentStatus)
	assert.Equal(t, money("6.00"), h.balances(t, referrer.ID).Commission)

	w = h.withdrawal(t, w.ID)
	assert.Equal(t, domain.WithdrawalB2CFailed, w.Status)
	assert.Equal(t, "failed insufficient float", *w.FailureReason)

	// Resolved rows are not picked up again.
	report, err = h.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Checked)
}

func TestStuckSweeperIgnoresFreshRequests(t *testing.T) {
	h := newHarness(t)
	startOrderCollection(t, h, "200", "ws_CO_fresh")

	report, err := h.sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Checked)
}

func TestStuckSweeperDefersWhenGatewayUnavailable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	startOrderCollection(t, h, "200", "ws_CO_down")
	h.store.AgeGatewayTransaction("ws_CO_down", 10*time.Minute)

	h.gateway.EXPECT().QueryTransactionStatus(gomock.Any(), "ws_CO_down").
		Return(gateway.TransactionStatus{}, fmt.Errorf("%w: timeout", domain.ErrGatewayUnavailable))

	report, err := h.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Checked: 1, Deferred: 1}, report)

	g := h.gatewayTx(t, "ws_CO_down")
	assert.Equal(t, domain.GatewayStatusInitiated, g.Status)
	assert.False(t, g.NeedsReview)
}

func TestStuckSweeperDefersOnQueryTimeout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	startOrderCollection(t, h, "200", "ws_CO_slow")
	h.store.AgeGatewayTransaction("ws_CO_slow", 10*time.Minute)
	h.sweeper.cfg.QueryTimeout = 20 * time.Millisecond

	h.gateway.EXPECT().QueryTransactionStatus(gomock.Any(), "ws_CO_slow").
		DoAndReturn(func(ctx context.Context, _ string) (gateway.TransactionStatus, error) {
			<-ctx.Done()
			return gateway.TransactionStatus{}, ctx.Err()
		})

	report, err := h.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deferred)
	assert.Equal(t, domain.GatewayStatusInitiated, h.gatewayTx(t, "ws_CO_slow").Status)
}

func TestStuckSweeperFlagsLongPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	startOrderCollection(t, h, "200", "ws_CO_young")
	startOrderCollection(t, h, "200", "ws_CO_old")
	h.store.AgeGatewayTransaction("ws_CO_young", 10*time.Minute)
	h.store.AgeGatewayTransaction("ws_CO_old", 31*time.Minute)

	h.gateway.EXPECT().QueryTransactionStatus(gomock.Any(), gomock.Any()).
		Return(gateway.TransactionStatus{Status: domain.QueryPending}, nil).Times(2)

	report, err := h.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Checked: 2, Flagged: 1, Deferred: 1}, report)

	old := h.gatewayTx(t, "ws_CO_old")
	assert.True(t, old.NeedsReview)
	assert.Equal(t, "unresolved_after_status_query", *old.ReviewReason)
	assert.False(t, h.gatewayTx(t, "ws_CO_young").NeedsReview)

	// Flagged rows leave the sweep; only the young one is queried again.
	h.gateway.EXPECT().QueryTransactionStatus(gomock.Any(), "ws_CO_young").
		Return(gateway.TransactionStatus{Status: domain.QueryPending}, nil)
	report, err = h.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
}

func TestStuckSweeperRedispatchesUnsentPayouts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.newUser(t, nil)
	h.fund(t, user.ID, "100", "0")
	h.setPin(t, user.ID)

	w, err := h.withdrawals.Request(ctx, WithdrawalRequest{UserID: user.ID, Amount: money("45"), Phone: "0712345678", Pin: testPin})
	require.NoError(t, err)
	h.gateway.EXPECT().InitiatePayout(gomock.Any(), gomock.Any()).Return("", fmt.Errorf("%w: 503", domain.ErrGatewayUnavailable))
	_, err = h.withdrawals.Approve(ctx, nil, w.ID)
	require.NoError(t, err)

	// Not old enough yet.
	report, err := h.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Redispatched)

	h.store.AgeWithdrawal(w.ID, 10*time.Minute)
	h.gateway.EXPECT().InitiatePayout(gomock.Any(), gomock.Any()).Return("AG_RETRY", nil)
	report, err = h.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Redispatched)

	w = h.withdrawal(t, w.ID)
	assert.Equal(t, "AG_RETRY", *w.GatewayConversationID)
	assert.Equal(t, money("55"), h.balances(t, user.ID).Total())

	_, err = h.withdrawals.Redispatch(ctx, *w)
	require.ErrorIs(t, err, errAlreadyDispatched)
}
