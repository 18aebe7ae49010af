package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/wallet-settlement/internal/domain"
	"github.com/ayo6706/wallet-settlement/internal/models"
	"github.com/ayo6706/wallet-settlement/internal/notify"
	"github.com/ayo6706/wallet-settlement/internal/observability"
	"github.com/ayo6706/wallet-settlement/internal/repository"
	"go.uber.org/zap"
)

var ErrInvalidSignature = errors.New("invalid signature")

const resultCodeSuccess = "0"

// CallbackOutcome says what a callback did. Every outcome is acknowledged to
// the gateway; only storage errors are returned as errors.
type CallbackOutcome string

const (
	OutcomeApplied   CallbackOutcome = "applied"
	OutcomeDuplicate CallbackOutcome = "duplicate"
	OutcomeUnmatched CallbackOutcome = "unmatched"
	OutcomeFlagged   CallbackOutcome = "flagged"
)

// CollectionCallback reports the result of a customer charge.
type CollectionCallback struct {
	CorrelationID string       `json:"correlation_id"`
	ResultCode    string       `json:"result_code"`
	ResultDesc    string       `json:"result_desc"`
	Amount        domain.Money `json:"amount"`
	Receipt       string       `json:"receipt"`
}

func (c CollectionCallback) Succeeded() bool { return c.ResultCode == resultCodeSuccess }

// PayoutResultCallback reports the result of a payout.
type PayoutResultCallback struct {
	CorrelationID string `json:"correlation_id"`
	ResultCode    string `json:"result_code"`
	ResultDesc    string `json:"result_desc"`
	Receipt       string `json:"receipt"`
}

func (c PayoutResultCallback) Succeeded() bool { return c.ResultCode == resultCodeSuccess }

// PayoutTimeoutCallback reports that the gateway gave up on a payout.
type PayoutTimeoutCallback struct {
	CorrelationID string `json:"correlation_id"`
	ResultDesc    string `json:"result_desc"`
}

// Reconciler applies gateway results to orders, wallets and withdrawals.
// Each result is idempotent by correlation id: the gateway transaction row is
// locked first and a terminal row is never applied twice.
type Reconciler struct {
	store       QueryStore
	ledger      *WalletLedger
	commissions *CommissionEngine
	withdrawals *WithdrawalService
	audit       *AuditService
	notifier    notify.Notifier
	hmacKey     []byte
	skipSig     bool
}

func NewReconciler(store QueryStore, ledger *WalletLedger, commissions *CommissionEngine, withdrawals *WithdrawalService, notifier notify.Notifier, hmacKey string, skipSignature bool) *Reconciler {
	return &Reconciler{
		store:       store,
		ledger:      ledger,
		commissions: commissions,
		withdrawals: withdrawals,
		audit:       NewAuditService(store),
		notifier:    notifier,
		hmacKey:     []byte(hmacKey),
		skipSig:     skipSignature,
	}
}

// VerifySignature checks the "sha256=<hex>" HMAC of payload.
func (r *Reconciler) VerifySignature(payload []byte, signature string) error {
	if r.skipSig {
		return nil
	}
	if len(r.hmacKey) == 0 {
		return ErrInvalidSignature
	}

	h := hmac.New(sha256.New, r.hmacKey)
	h.Write(payload)
	expectedSig := "sha256=" + hex.EncodeToString(h.Sum(nil))

	if !hmac.Equal([]byte(strings.TrimSpace(signature)), []byte(expectedSig)) {
		return ErrInvalidSignature
	}
	return nil
}

// afterCommit collects notifications that must only go out once the
// transaction that produced them has committed.
type afterCommit []func(ctx context.Context)

func (a *afterCommit) add(fn func(ctx context.Context)) { *a = append(*a, fn) }

func (a afterCommit) run(ctx context.Context) {
	for _, fn := range a {
		fn(ctx)
	}
}

// HandleCollection applies a collection result.
func (r *Reconciler) HandleCollection(ctx context.Context, cb CollectionCallback) (CallbackOutcome, error) {
	return r.settle(ctx, domain.GatewayKindCollection, cb.CorrelationID, func(ctx context.Context, q repository.Querier, g *models.GatewayTransaction, post *afterCommit) (CallbackOutcome, error) {
		return r.applyCollection(ctx, q, g, cb, post)
	})
}

// HandlePayoutResult applies a payout success or failure.
func (r *Reconciler) HandlePayoutResult(ctx context.Context, cb PayoutResultCallback) (CallbackOutcome, error) {
	return r.settle(ctx, domain.GatewayKindPayout, cb.CorrelationID, func(ctx context.Context, q repository.Querier, g *models.GatewayTransaction, post *afterCommit) (CallbackOutcome, error) {
		if cb.Succeeded() {
			return r.applyPayoutSuccess(ctx, q, g, cb.Receipt, cb.ResultCode, cb.ResultDesc, post)
		}
		return r.applyPayoutFailure(ctx, q, g, cb.ResultCode, cb.ResultDesc, post)
	})
}

// HandlePayoutTimeout treats a gateway timeout as a payout failure.
func (r *Reconciler) HandlePayoutTimeout(ctx context.Context, cb PayoutTimeoutCallback) (CallbackOutcome, error) {
	desc := cb.ResultDesc
	if desc == "" {
		desc = "payout timed out at gateway"
	}
	return r.settle(ctx, domain.GatewayKindPayout, cb.CorrelationID, func(ctx context.Context, q repository.Querier, g *models.GatewayTransaction, post *afterCommit) (CallbackOutcome, error) {
		return r.applyPayoutFailure(ctx, q, g, "timeout", desc, post)
	})
}

type settleFunc func(ctx context.Context, q repository.Querier, g *models.GatewayTransaction, post *afterCommit) (CallbackOutcome, error)

func (r *Reconciler) settle(ctx context.Context, kind, correlationID string, apply settleFunc) (CallbackOutcome, error) {
	correlationID = strings.TrimSpace(correlationID)
	if correlationID == "" {
		return r.unmatched(ctx, kind, correlationID, "missing correlation id")
	}

	var (
		outcome CallbackOutcome
		post    afterCommit
	)
	err := r.store.RunInTx(ctx, func(q repository.Querier) error {
		outcome, post = "", nil
		g, err := q.GetGatewayTransactionForUpdate(ctx, correlationID)
		if repository.IsNotFound(err) {
			outcome = OutcomeUnmatched
			return nil
		}
		if err != nil {
			return fmt.Errorf("lock gateway transaction: %w", err)
		}
		if g.Kind != kind {
			outcome = OutcomeFlagged
			return r.flagGateway(ctx, q, &g, "callback_kind_mismatch", map[string]any{"callback_kind": kind})
		}
		outcome, err = apply(ctx, q, &g, &post)
		return err
	})
	if err != nil {
		observability.IncrementCallback(kind, "error")
		return "", err
	}
	if outcome == OutcomeUnmatched {
		return r.unmatched(ctx, kind, correlationID, "no gateway transaction for correlation id")
	}

	observability.IncrementCallback(kind, string(outcome))
	post.run(ctx)
	return outcome, nil
}

func (r *Reconciler) unmatched(ctx context.Context, kind, correlationID, reason string) (CallbackOutcome, error) {
	zap.L().Warn("unmatched gateway callback", zap.String("kind", kind), zap.String("correlation_id", correlationID), zap.String("reason", reason))
	observability.IncrementCallback(kind, string(OutcomeUnmatched))
	r.audit.FlagDetached(ctx, "gateway_callback", correlationID, "unmatched_callback", marshalMetadata(map[string]any{
		"kind":   kind,
		"reason": reason,
	}))
	return OutcomeUnmatched, nil
}

func (r *Reconciler) applyCollection(ctx context.Context, q repository.Querier, g *models.GatewayTransaction, cb CollectionCallback, post *afterCommit) (CallbackOutcome, error) {
	if g.IsTerminal() {
		return OutcomeDuplicate, nil
	}
	if g.NeedsReview {
		if g.ReviewReason == nil || *g.ReviewReason != ReasonUnresolved {
			// An operator owns this row; keep the result for them.
			return OutcomeFlagged, r.audit.Flag(ctx, q, "gateway_transaction", g.CorrelationID, "late_collection_result", g.Status, marshalMetadata(map[string]any{
				"result_code": cb.ResultCode,
				"receipt":     cb.Receipt,
				"amount":      cb.Amount.String(),
				"flagged_for": g.ReviewReason,
			}))
		}
		// The sweep only parked it for lack of an answer; this is the answer.
		g.NeedsReview = false
		g.ReviewReason = nil
	}
	if !cb.Succeeded() {
		return OutcomeApplied, r.resolveGateway(ctx, q, g, domain.GatewayStatusFailed, cb.ResultCode, cb.ResultDesc, cb.Receipt)
	}
	if cb.Amount != 0 && cb.Amount != g.Amount {
		return OutcomeFlagged, r.flagGateway(ctx, q, g, "amount_mismatch", map[string]any{
			"expected": g.Amount.String(),
			"reported": cb.Amount.String(),
			"receipt":  cb.Receipt,
		})
	}

	switch g.Purpose {
	case domain.PurposeWalletDeposit:
		if _, err := r.ledger.AddDeposit(ctx, q, g.UserID, g.Amount, Posting{
			Reason:    domain.EntryDeposit,
			Reference: "collection:" + g.CorrelationID,
		}); err != nil {
			return "", fmt.Errorf("credit deposit: %w", err)
		}
		userID, amount := g.UserID, g.Amount
		post.add(func(ctx context.Context) {
			r.notifier.Notify(ctx, domain.EventDepositReceived, map[string]any{
				"user_id": userID.String(),
				"amount":  amount.String(),
			})
		})

	case domain.PurposeOrderPayment:
		if g.OrderRef == nil {
			return OutcomeFlagged, r.flagGateway(ctx, q, g, "order_reference_missing", nil)
		}
		ref := *g.OrderRef
		order, err := q.GetOrderForUpdate(ctx, ref)
		if repository.IsNotFound(err) {
			return OutcomeFlagged, r.flagGateway(ctx, q, g, "order_missing", nil)
		}
		if err != nil {
			return "", fmt.Errorf("lock order: %w", err)
		}
		if order.PaymentStatus == domain.PaymentStatusPaid {
			// The customer paid twice; the money is in but the order cannot absorb it.
			if err := r.resolveGateway(ctx, q, g, domain.GatewayStatusSucceeded, cb.ResultCode, cb.ResultDesc, cb.Receipt); err != nil {
				return "", err
			}
			return OutcomeFlagged, r.flagGateway(ctx, q, g, "order_already_paid", map[string]any{"order": ref.String()})
		}
		now := utcNow()
		rows, err := q.MarkOrderPaid(ctx, ref, now)
		if err != nil {
			return "", fmt.Errorf("mark order paid: %w", err)
		}
		if err := requireExactlyOne(rows, "mark order paid"); err != nil {
			return "", err
		}
		if err := r.audit.Write(ctx, q, "order", ref.String(), nil, "payment_confirmed", order.PaymentStatus, domain.PaymentStatusPaid, marshalMetadata(map[string]any{
			"correlation_id": g.CorrelationID,
		})); err != nil {
			return "", err
		}
		order.PaymentStatus = domain.PaymentStatusPaid
		order.PaidAt = &now

		commission, err := r.commissions.PostOrderCommission(ctx, q, order)
		if err != nil {
			return "", err
		}
		userID, amount := order.UserID, order.Amount
		post.add(func(ctx context.Context) {
			r.notifier.Notify(ctx, domain.EventOrderPaid, map[string]any{
				"order":   ref.String(),
				"user_id": userID.String(),
				"amount":  amount.String(),
			})
			r.commissions.NotifyEarned(ctx, commission)
		})

	default:
		return OutcomeFlagged, r.flagGateway(ctx, q, g, "unknown_collection_purpose", map[string]any{"purpose": g.Purpose})
	}

	return OutcomeApplied, r.resolveGateway(ctx, q, g, domain.GatewayStatusSucceeded, cb.ResultCode, cb.ResultDesc, cb.Receipt)
}

func (r *Reconciler) applyPayoutSuccess(ctx context.Context, q repository.Querier, g *models.GatewayTransaction, receipt, code, desc string, post *afterCommit) (CallbackOutcome, error) {
	w, err := r.lockPayoutWithdrawal(ctx, q, g)
	if err != nil {
		return "", err
	}
	if w == nil {
		return OutcomeFlagged, r.flagGateway(ctx, q, g, "withdrawal_missing", nil)
	}

	switch w.Status {
	case domain.WithdrawalProcessing:
		if err := r.withdrawals.completeFromGateway(ctx, q, w, receipt); err != nil {
			return "", err
		}
		if err := r.resolveGateway(ctx, q, g, domain.GatewayStatusSucceeded, code, desc, receipt); err != nil {
			return "", err
		}
		completed := *w
		post.add(func(ctx context.Context) {
			observability.IncrementWithdrawalTransition(domain.WithdrawalProcessing, domain.WithdrawalCompleted)
			r.withdrawals.notifyStatus(ctx, domain.EventWithdrawalCompleted, completed)
		})
		return OutcomeApplied, nil

	case domain.WithdrawalCompleted:
		return OutcomeDuplicate, nil

	default:
		// Success reported after a failure or timeout was recorded. The funds
		// may have reached the recipient; an operator decides.
		if g.NeedsReview && w.NeedsReview {
			return OutcomeDuplicate, nil
		}
		if err := r.flagWithdrawal(ctx, q, w, "late_payout_success", receipt); err != nil {
			return "", err
		}
		return OutcomeFlagged, r.flagGateway(ctx, q, g, "late_payout_success", map[string]any{
			"withdrawal_status": w.Status,
			"receipt":           receipt,
		})
	}
}

func (r *Reconciler) applyPayoutFailure(ctx context.Context, q repository.Querier, g *models.GatewayTransaction, code, desc string, post *afterCommit) (CallbackOutcome, error) {
	w, err := r.lockPayoutWithdrawal(ctx, q, g)
	if err != nil {
		return "", err
	}
	if w == nil {
		return OutcomeFlagged, r.flagGateway(ctx, q, g, "withdrawal_missing", nil)
	}

	switch w.Status {
	case domain.WithdrawalProcessing:
		reason := strings.TrimSpace(code + " " + desc)
		if err := r.withdrawals.failFromGateway(ctx, q, w, reason); err != nil {
			return "", err
		}
		if err := r.resolveGateway(ctx, q, g, domain.GatewayStatusFailed, code, desc, ""); err != nil {
			return "", err
		}
		failed := *w
		post.add(func(ctx context.Context) {
			observability.IncrementWithdrawalTransition(domain.WithdrawalProcessing, domain.WithdrawalB2CFailed)
			r.withdrawals.notifyStatus(ctx, domain.EventWithdrawalFailed, failed)
		})
		return OutcomeApplied, nil

	case domain.WithdrawalB2CFailed, domain.WithdrawalRefunded:
		return OutcomeDuplicate, nil

	default:
		if g.NeedsReview {
			return OutcomeDuplicate, nil
		}
		return OutcomeFlagged, r.flagGateway(ctx, q, g, "failure_after_completion", map[string]any{
			"withdrawal_status": w.Status,
			"result_code":       code,
		})
	}
}

func (r *Reconciler) lockPayoutWithdrawal(ctx context.Context, q repository.Querier, g *models.GatewayTransaction) (*models.Withdrawal, error) {
	if g.WithdrawalID == nil {
		return nil, nil
	}
	w, err := q.GetWithdrawalForUpdate(ctx, *g.WithdrawalID)
	if repository.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock withdrawal: %w", err)
	}
	return &w, nil
}

func (r *Reconciler) resolveGateway(ctx context.Context, q repository.Querier, g *models.GatewayTransaction, status, code, desc, receipt string) error {
	prev := g.Status
	g.Status = status
	g.ResultCode = textParam(code)
	g.ResultDesc = textParam(desc)
	if receipt != "" {
		g.Receipt = &receipt
	}
	g.ResolvedAt = ptr(utcNow())
	rows, err := q.UpdateGatewayTransaction(ctx, *g)
	if err != nil {
		return fmt.Errorf("update gateway transaction: %w", err)
	}
	if err := requireExactlyOne(rows, "update gateway transaction"); err != nil {
		return err
	}
	return r.audit.Write(ctx, q, "gateway_transaction", g.CorrelationID, nil, g.Kind+"_resolved", prev, status, nil)
}

func (r *Reconciler) flagGateway(ctx context.Context, q repository.Querier, g *models.GatewayTransaction, reason string, details map[string]any) error {
	g.NeedsReview = true
	g.ReviewReason = &reason
	rows, err := q.UpdateGatewayTransaction(ctx, *g)
	if err != nil {
		return fmt.Errorf("flag gateway transaction: %w", err)
	}
	if err := requireExactlyOne(rows, "flag gateway transaction"); err != nil {
		return err
	}
	zap.L().Warn("gateway transaction flagged for review", zap.String("correlation_id", g.CorrelationID), zap.String("reason", reason))
	return r.audit.Flag(ctx, q, "gateway_transaction", g.CorrelationID, reason, g.Status, marshalMetadata(details))
}

func (r *Reconciler) flagWithdrawal(ctx context.Context, q repository.Querier, w *models.Withdrawal, reason, receipt string) error {
	w.NeedsReview = true
	rows, err := q.UpdateWithdrawal(ctx, *w)
	if err != nil {
		return fmt.Errorf("flag withdrawal: %w", err)
	}
	if err := requireExactlyOne(rows, "flag withdrawal"); err != nil {
		return err
	}
	return r.audit.Flag(ctx, q, "withdrawal", w.ID.String(), reason, w.Status, marshalMetadata(map[string]any{
		"receipt": receipt,
	}))
}

// ReasonUnresolved marks a transaction the sweep could not resolve. A later
// callback still settles it.
const ReasonUnresolved = "unresolved_after_status_query"

// FlagUnresolved parks a stale gateway transaction for manual resolution.
func (r *Reconciler) FlagUnresolved(ctx context.Context, correlationID, reason string) error {
	return r.store.RunInTx(ctx, func(q repository.Querier) error {
		g, err := q.GetGatewayTransactionForUpdate(ctx, correlationID)
		if err != nil {
			return fmt.Errorf("lock gateway transaction: %w", err)
		}
		if g.IsTerminal() || g.NeedsReview {
			return nil
		}
		return r.flagGateway(ctx, q, &g, reason, nil)
	})
}

// ListNeedingReview returns flagged gateway transactions.
func (r *Reconciler) ListNeedingReview(ctx context.Context, limit, offset int32) ([]models.GatewayTransaction, error) {
	limit, offset = clampPage(limit, offset)
	out, err := r.store.Queries().ListGatewayTransactionsNeedingReview(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list gateway transactions needing review: %w", err)
	}
	return out, nil
}
