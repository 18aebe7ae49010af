package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ayo6706/wallet-settlement/internal/domain"
	"github.com/ayo6706/wallet-settlement/internal/gateway"
	"github.com/ayo6706/wallet-settlement/internal/models"
	"github.com/ayo6706/wallet-settlement/internal/otp"
	"github.com/ayo6706/wallet-settlement/internal/repository"
	"github.com/ayo6706/wallet-settlement/internal/testutil/memstore"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/crypto/bcrypt"
)

const testPin = "4821"

type sentEvent struct {
	event   string
	payload map[string]any
}

// recordingNotifier keeps every notification for later assertions.
type recordingNotifier struct {
	mu     sync.Mutex
	events []sentEvent
}

func (n *recordingNotifier) Notify(_ context.Context, event string, payload map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, sentEvent{event: event, payload: payload})
}

func (n *recordingNotifier) count(event string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e.event == event {
			c++
		}
	}
	return c
}

func (n *recordingNotifier) last(event string) (map[string]any, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.events) - 1; i >= 0; i-- {
		if n.events[i].event == event {
			return n.events[i].payload, true
		}
	}
	return nil, false
}

type harness struct {
	store       *memstore.Store
	gateway     *gateway.MockClient
	notifier    *recordingNotifier
	redis       *miniredis.Miniredis
	codes       *otp.Store
	ledger      *WalletLedger
	settings    *Settings
	commissions *CommissionEngine
	pins        *PinGuard
	withdrawals *WithdrawalService
	reconciler  *Reconciler
	payments    *PaymentService
	users       *UserService
	sweeper     *StuckSweeper
	auditor     *BalanceAuditor
}

const testHMACKey = "callback-secret"

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctrl := gomock.NewController(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := &harness{
		store:    memstore.New(),
		gateway:  gateway.NewMockClient(ctrl),
		notifier: &recordingNotifier{},
		redis:    mr,
	}
	h.codes = otp.NewStore(rdb, domain.DefaultOTPTTL)
	h.ledger = NewWalletLedger(h.store)
	h.settings = NewSettings(h.store)
	h.commissions = NewCommissionEngine(h.store, h.ledger, h.settings, h.notifier)
	h.pins = NewPinGuard(h.store, h.codes, h.notifier, PinGuardConfig{})
	h.pins.cost = bcrypt.MinCost
	h.withdrawals = NewWithdrawalService(h.store, h.ledger, h.pins, h.settings, h.gateway, h.notifier, WithdrawalConfig{Cooldown: domain.DefaultWithdrawalCooldown})
	h.reconciler = NewReconciler(h.store, h.ledger, h.commissions, h.withdrawals, h.notifier, testHMACKey, false)
	h.payments = NewPaymentService(h.store, h.ledger, h.commissions, h.gateway, h.notifier)
	h.users = NewUserService(h.store)
	h.sweeper = NewStuckSweeper(h.store, h.gateway, h.reconciler, h.withdrawals, SweepConfig{StuckAfter: 5 * time.Minute})
	h.auditor = NewBalanceAuditor(h.store, 5*time.Minute)
	return h
}

// newUser registers a user, optionally referred by referrer.
func (h *harness) newUser(t *testing.T, referrer *models.User) *models.User {
	t.Helper()
	req := RegisterRequest{
		Username: gofakeit.Username() + gofakeit.Numerify("####"),
		Email:    strings.ToLower(uuid.NewString()[:8]) + "." + gofakeit.Email(),
		Phone:    "2547" + gofakeit.Numerify("########"),
	}
	if referrer != nil {
		req.ReferralCode = referrer.ReferralCode
	}
	u, err := h.users.Register(context.Background(), req)
	require.NoError(t, err)
	return u
}

// fund credits the wallet through the journal so the balance audit stays clean.
func (h *harness) fund(t *testing.T, userID uuid.UUID, deposited, commission string) {
	t.Helper()
	err := h.store.RunInTx(context.Background(), func(q repository.Querier) error {
		if m := domain.MustParseMoney(deposited); m > 0 {
			if _, err := h.ledger.AddDeposit(context.Background(), q, userID, m, Posting{Reason: domain.EntryDeposit, Reference: "test"}); err != nil {
				return err
			}
		}
		if m := domain.MustParseMoney(commission); m > 0 {
			if _, err := h.ledger.AddCommission(context.Background(), q, userID, m, Posting{Reason: domain.EntryCommission, Reference: "test"}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func (h *harness) balances(t *testing.T, userID uuid.UUID) domain.Balances {
	t.Helper()
	w, err := h.ledger.GetWallet(context.Background(), userID)
	require.NoError(t, err)
	return w.Balances()
}

func (h *harness) setPin(t *testing.T, userID uuid.UUID) {
	t.Helper()
	require.NoError(t, h.pins.SetPin(context.Background(), userID, testPin))
}

func (h *harness) seedOrder(userID uuid.UUID, kind domain.OrderKind, amount string) domain.OrderRef {
	ref := domain.OrderRef{Kind: kind, ID: uuid.New()}
	h.store.SeedOrder(models.Order{Ref: ref, UserID: userID, Amount: domain.MustParseMoney(amount)})
	return ref
}

// processingWithdrawal requests and approves a withdrawal whose payout the
// gateway accepts under conversationID.
func (h *harness) processingWithdrawal(t *testing.T, userID uuid.UUID, amount, conversationID string) *models.Withdrawal {
	t.Helper()
	ctx := context.Background()
	w, err := h.withdrawals.Request(ctx, WithdrawalRequest{UserID: userID, Amount: domain.MustParseMoney(amount), Phone: "+254 700 000 001", Pin: testPin})
	require.NoError(t, err)

	h.gateway.EXPECT().InitiatePayout(gomock.Any(), gomock.Any()).Return(conversationID, nil)
	w, err = h.withdrawals.Approve(ctx, nil, w.ID)
	require.NoError(t, err)
	require.Equal(t, domain.WithdrawalProcessing, w.Status)
	require.NotNil(t, w.GatewayConversationID)
	return w
}

func (h *harness) withdrawal(t *testing.T, id uuid.UUID) *models.Withdrawal {
	t.Helper()
	w, err := h.withdrawals.Get(context.Background(), id)
	require.NoError(t, err)
	return w
}

func (h *harness) gatewayTx(t *testing.T, correlationID string) models.GatewayTransaction {
	t.Helper()
	for _, g := range h.store.GatewayTransactions() {
		if g.CorrelationID == correlationID {
			return g
		}
	}
	t.Fatalf("gateway transaction %s not found", correlationID)
	return models.GatewayTransaction{}
}

func (h *harness) commissionsFor(t *testing.T, referrerID uuid.UUID) []models.Commission {
	t.Helper()
	out, err := h.commissions.ListForReferrer(context.Background(), referrerID, 100, 0)
	require.NoError(t, err)
	return out
}

func auditActions(entries []models.AuditEntry, entityID string) []string {
	var out []string
	for _, e := range entries {
		if e.EntityID == entityID {
			out = append(out, e.Action)
		}
	}
	return out
}

func money(s string) domain.Money { return domain.MustParseMoney(s) }
