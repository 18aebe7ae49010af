package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ayo6706/wallet-settlement/internal/domain"
	"github.com/ayo6706/wallet-settlement/internal/gateway"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestPayOrderFromWalletDrainsDepositedFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	referrer := h.newUser(t, nil)
	buyer := h.newUser(t, referrer)
	h.fund(t, buyer.ID, "50", "200")
	ref := h.seedOrder(buyer.ID, domain.SourceEcommerceOrder, "80")

	result, err := h.payments.PayOrderFromWallet(ctx, buyer.ID, ref)
	require.NoError(t, err)
	assert.Equal(t, domain.Split{Deposited: money("50"), Commission: money("30")}, result.Debited)
	assert.Equal(t, domain.Balances{Commission: money("170")}, result.Balances)
	assert.Equal(t, domain.PaymentStatusPaid, result.Order.PaymentStatus)
	require.NotNil(t, result.Commission)
	assert.Equal(t, money("2.40"), result.Commission.Amount)
	assert.Equal(t, money("2.40"), h.balances(t, referrer.ID).Commission)

	_, err = h.payments.PayOrderFromWallet(ctx, buyer.ID, ref)
	require.ErrorIs(t, err, ErrOrderAlreadyPaid)
	assert.Equal(t, 1, h.notifier.count(domain.EventOrderPaid))
}

func TestPayOrderFromWalletRejectsForeignOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner := h.newUser(t, nil)
	other := h.newUser(t, nil)
	h.fund(t, other.ID, "500", "0")
	ref := h.seedOrder(owner.ID, domain.SourceServiceOrder, "80")

	_, err := h.payments.PayOrderFromWallet(ctx, other.ID, ref)
	require.ErrorIs(t, err, ErrOrderNotFound)
	assert.Equal(t, money("500"), h.balances(t, other.ID).Deposited)
}

func TestPayOrderFromWalletInsufficientFunds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	buyer := h.newUser(t, nil)
	h.fund(t, buyer.ID, "10", "5")
	ref := h.seedOrder(buyer.ID, domain.SourceEcommerceOrder, "15.01")

	_, err := h.payments.PayOrderFromWallet(ctx, buyer.ID, ref)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	order, err := h.store.Queries().GetOrder(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusUnpaid, order.PaymentStatus)
}

func TestInitiateOrderCollection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	buyer := h.newUser(t, nil)
	ref := h.seedOrder(buyer.ID, domain.SourceEcommerceOrder, "200")

	h.gateway.EXPECT().InitiateCollection(gomock.Any(), gateway.CollectionRequest{
		Phone:     "254712345678",
		Amount:    money("200"),
		Reference: ref.String(),
	}).Return("ws_CO_1", nil)

	g, err := h.payments.InitiateOrderCollection(ctx, buyer.ID, ref, "+254 712 345 678")
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_1", g.CorrelationID)
	assert.Equal(t, domain.PurposeOrderPayment, g.Purpose)
	assert.Equal(t, domain.GatewayStatusInitiated, h.gatewayTx(t, "ws_CO_1").Status)

	_, err = h.payments.InitiateOrderCollection(ctx, uuid.New(), ref, "0712345678")
	require.ErrorIs(t, err, ErrOrderNotFound)
}

func TestInitiateOrderCollectionAlreadyPaid(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	buyer := h.newUser(t, nil)
	ref := h.seedOrder(buyer.ID, domain.SourceEcommerceOrder, "20")
	_, err := h.commissions.HandlePaymentConfirmed(ctx, nil, ref)
	require.NoError(t, err)

	_, err = h.payments.InitiateOrderCollection(ctx, buyer.ID, ref, "0712345678")
	require.ErrorIs(t, err, ErrOrderAlreadyPaid)
}

func TestInitiateDeposit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.newUser(t, nil)

	_, err := h.payments.InitiateDeposit(ctx, user.ID, 0, "0712345678")
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = h.payments.InitiateDeposit(ctx, uuid.New(), money("10"), "0712345678")
	require.ErrorIs(t, err, ErrWalletNotFound)

	h.gateway.EXPECT().InitiateCollection(gomock.Any(), gomock.Any()).Return("", fmt.Errorf("%w: 503", domain.ErrGatewayUnavailable))
	_, err = h.payments.InitiateDeposit(ctx, user.ID, money("10"), "0712345678")
	require.ErrorIs(t, err, domain.ErrGatewayUnavailable)
	assert.Empty(t, h.store.GatewayTransactions())

	h.gateway.EXPECT().InitiateCollection(gomock.Any(), gomock.Any()).Return("ws_CO_2", nil)
	g, err := h.payments.InitiateDeposit(ctx, user.ID, money("10"), "0712345678")
	require.NoError(t, err)
	assert.Equal(t, domain.PurposeWalletDeposit, g.Purpose)
	assert.Nil(t, g.OrderRef)

	outcome, err := h.reconciler.HandleCollection(ctx, CollectionCallback{CorrelationID: "ws_CO_2", ResultCode: "0", Amount: money("10"), Receipt: "RCP1"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, domain.Balances{Deposited: money("10")}, h.balances(t, user.ID))
	assert.Equal(t, 1, h.notifier.count(domain.EventDepositReceived))
}

func TestInitiateCollectionRecordFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.newUser(t, nil)

	h.gateway.EXPECT().InitiateCollection(gomock.Any(), gomock.Any()).Return("ws_CO_3", nil)
	h.store.FailNext("InsertGatewayTransaction", errors.New("connection reset"))
	_, err := h.payments.InitiateDeposit(ctx, user.ID, money("10"), "0712345678")
	require.Error(t, err)

	// The callback arrives with nothing to match and is parked for review.
	outcome, err := h.reconciler.HandleCollection(ctx, CollectionCallback{CorrelationID: "ws_CO_3", ResultCode: "0", Amount: money("10")})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnmatched, outcome)
	assert.Equal(t, domain.Money(0), h.balances(t, user.ID).Total())
}
