package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ayo6706/wallet-settlement/internal/domain"
	"github.com/ayo6706/wallet-settlement/internal/gateway"
	"github.com/ayo6706/wallet-settlement/internal/models"
	"github.com/ayo6706/wallet-settlement/internal/notify"
	"github.com/ayo6706/wallet-settlement/internal/observability"
	"github.com/ayo6706/wallet-settlement/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrWithdrawalNotFound = fmt.Errorf("withdrawal %w", domain.ErrNotFound)

var phonePattern = regexp.MustCompile(`^[0-9]{9,15}$`)

// NormalizePhone strips formatting and a leading plus sign.
func NormalizePhone(raw string) (string, error) {
	phone := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(raw))
	phone = strings.TrimPrefix(phone, "+")
	if !phonePattern.MatchString(phone) {
		return "", domain.NewValidationError("phone", "must be 9 to 15 digits")
	}
	return phone, nil
}

type WithdrawalConfig struct {
	Cooldown time.Duration
}

// WithdrawalService drives withdrawals through their state machine.
type WithdrawalService struct {
	store    QueryStore
	ledger   *WalletLedger
	pins     *PinGuard
	settings *Settings
	gateway  gateway.Client
	audit    *AuditService
	notifier notify.Notifier
	cooldown time.Duration
	now      func() time.Time
}

func NewWithdrawalService(store QueryStore, ledger *WalletLedger, pins *PinGuard, settings *Settings, gw gateway.Client, notifier notify.Notifier, cfg WithdrawalConfig) *WithdrawalService {
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	}
	return &WithdrawalService{
		store:    store,
		ledger:   ledger,
		pins:     pins,
		settings: settings,
		gateway:  gw,
		audit:    NewAuditService(store),
		notifier: notifier,
		cooldown: cfg.Cooldown,
		now:      utcNow,
	}
}

// WithdrawalRequest holds the parameters for a cash-out request.
type WithdrawalRequest struct {
	UserID uuid.UUID
	Amount domain.Money
	Phone  string
	Pin    string
}

// Request validates the PIN, the amount and the user's withdrawal state,
// then records the withdrawal as pending. Funds move at approval.
func (s *WithdrawalService) Request(ctx context.Context, req WithdrawalRequest) (*models.Withdrawal, error) {
	if !req.Amount.IsPositive() {
		return nil, domain.NewValidationError("amount", "must be positive")
	}
	phone, err := NormalizePhone(req.Phone)
	if err != nil {
		return nil, err
	}
	if err := ValidatePinFormat(req.Pin); err != nil {
		return nil, err
	}
	if err := s.pins.VerifyPin(ctx, req.UserID, req.Pin); err != nil {
		return nil, err
	}

	w := models.Withdrawal{
		ID:          uuid.New(),
		UserID:      req.UserID,
		Amount:      req.Amount,
		PhoneNumber: phone,
		Status:      domain.WithdrawalRequested,
		RequestedAt: s.now(),
	}
	err = s.store.RunInTx(ctx, func(q repository.Querier) error {
		w.Status = domain.WithdrawalRequested
		lo, hi, err := s.settings.WithdrawalBounds(ctx, q)
		if err != nil {
			return err
		}
		if req.Amount < lo || req.Amount > hi {
			return domain.NewValidationError("amount", fmt.Sprintf("must be between %s and %s", lo, hi))
		}

		if err := s.ledger.CanWithdraw(ctx, q, req.UserID, req.Amount); err != nil {
			return err
		}
		if err := s.checkCooldown(ctx, q, req.UserID); err != nil {
			return err
		}

		if err := q.InsertWithdrawal(ctx, w); err != nil {
			if repository.IsUniqueViolation(err, repository.ConstraintOpenWithdrawal) {
				return domain.ErrWithdrawalAlreadyPending
			}
			return fmt.Errorf("insert withdrawal: %w", err)
		}
		if err := s.audit.Write(ctx, q, "withdrawal", w.ID.String(), &req.UserID, "requested", "", domain.WithdrawalRequested, marshalMetadata(map[string]any{
			"amount": req.Amount.String(),
		})); err != nil {
			return err
		}
		return transitionWithdrawal(ctx, q, s.audit, &w, domain.WithdrawalPending, &req.UserID, "awaiting_approval", nil)
	})
	if err != nil {
		return nil, err
	}

	observability.IncrementWithdrawalTransition(domain.WithdrawalRequested, domain.WithdrawalPending)
	s.notifyStatus(ctx, domain.EventWithdrawalRequested, w)
	return &w, nil
}

func (s *WithdrawalService) checkCooldown(ctx context.Context, q repository.Querier, userID uuid.UUID) error {
	if s.cooldown <= 0 {
		return nil
	}
	last, err := q.GetLastCompletedWithdrawalAt(ctx, userID)
	if err != nil {
		return fmt.Errorf("get last completed withdrawal: %w", err)
	}
	if last != nil && s.now().Sub(*last) < s.cooldown {
		return domain.ErrWithdrawalCooldown
	}
	return nil
}

// Approve moves a pending withdrawal to processing and debits the wallet in
// the same transaction, then dispatches the payout. If the debit fails the
// withdrawal stays pending. A dispatch that exhausts its retries leaves the
// withdrawal processing for the stuck sweep to re-dispatch.
func (s *WithdrawalService) Approve(ctx context.Context, actorID *uuid.UUID, id uuid.UUID) (*models.Withdrawal, error) {
	var w models.Withdrawal
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		var err error
		w, err = s.lockWithdrawal(ctx, q, id)
		if err != nil {
			return err
		}
		if w.Status != domain.WithdrawalPending {
			return domain.InvalidTransition("withdrawal", w.Status, domain.WithdrawalProcessing)
		}

		_, split, err := s.ledger.DeductWithdrawal(ctx, q, w.UserID, w.Amount, Posting{
			Reason:    domain.EntryWithdrawal,
			Reference: "withdrawal:" + w.ID.String(),
		})
		if err != nil {
			return err
		}
		w.DebitedCommission = split.Commission
		w.DebitedDeposited = split.Deposited
		w.ApprovedAt = ptr(s.now())
		return transitionWithdrawal(ctx, q, s.audit, &w, domain.WithdrawalProcessing, actorID, "approved", marshalMetadata(map[string]any{
			"debited_commission": split.Commission.String(),
			"debited_deposited":  split.Deposited.String(),
		}))
	})
	if err != nil {
		return nil, err
	}
	observability.IncrementWithdrawalTransition(domain.WithdrawalPending, domain.WithdrawalProcessing)

	dispatched, err := s.dispatchPayout(ctx, w)
	if err != nil {
		zap.L().Error("payout dispatch failed after approval", zap.Error(err), zap.String("withdrawal_id", id.String()))
		return &w, nil
	}
	return &dispatched, nil
}

// Reject declines a pending withdrawal. No funds have moved yet.
func (s *WithdrawalService) Reject(ctx context.Context, actorID *uuid.UUID, id uuid.UUID, reason string) (*models.Withdrawal, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, domain.NewValidationError("reason", "is required")
	}
	var w models.Withdrawal
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		var err error
		w, err = s.lockWithdrawal(ctx, q, id)
		if err != nil {
			return err
		}
		if w.Status != domain.WithdrawalPending {
			return domain.InvalidTransition("withdrawal", w.Status, domain.WithdrawalFailed)
		}
		w.FailureReason = &reason
		return transitionWithdrawal(ctx, q, s.audit, &w, domain.WithdrawalFailed, actorID, "rejected", marshalReasonMetadata(reason))
	})
	if err != nil {
		return nil, err
	}
	observability.IncrementWithdrawalTransition(domain.WithdrawalPending, domain.WithdrawalFailed)
	s.notifyStatus(ctx, domain.EventWithdrawalFailed, w)
	return &w, nil
}

// ForceComplete records an operator's out-of-band confirmation that a
// b2c_failed payout did reach the recipient.
func (s *WithdrawalService) ForceComplete(ctx context.Context, actorID *uuid.UUID, id uuid.UUID, externalRef string) (*models.Withdrawal, error) {
	externalRef = strings.TrimSpace(externalRef)
	if externalRef == "" {
		externalRef = "MANUAL-" + strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:12])
	}
	var w models.Withdrawal
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		var err error
		w, err = s.lockWithdrawal(ctx, q, id)
		if err != nil {
			return err
		}
		if w.Status != domain.WithdrawalB2CFailed {
			return domain.InvalidTransition("withdrawal", w.Status, domain.WithdrawalCompleted)
		}
		w.ExternalTransactionID = &externalRef
		w.PaidAt = ptr(s.now())
		w.NeedsReview = false
		return transitionWithdrawal(ctx, q, s.audit, &w, domain.WithdrawalCompleted, actorID, "force_completed", marshalMetadata(map[string]any{
			"external_transaction_id": externalRef,
		}))
	})
	if err != nil {
		return nil, err
	}
	observability.IncrementWithdrawalTransition(domain.WithdrawalB2CFailed, domain.WithdrawalCompleted)
	s.notifyStatus(ctx, domain.EventWithdrawalCompleted, w)
	return &w, nil
}

// Refund restores the exact split debited at approval and records an
// offsetting withdrawal_refund commission entry for the commission part.
func (s *WithdrawalService) Refund(ctx context.Context, actorID *uuid.UUID, id uuid.UUID, reason string) (*models.Withdrawal, error) {
	reason = strings.TrimSpace(reason)
	var w models.Withdrawal
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		var err error
		w, err = s.lockWithdrawal(ctx, q, id)
		if err != nil {
			return err
		}
		if w.Status != domain.WithdrawalB2CFailed {
			return domain.InvalidTransition("withdrawal", w.Status, domain.WithdrawalRefunded)
		}
		if err := s.restoreSplit(ctx, q, w, domain.EntryWithdrawalRefund); err != nil {
			return err
		}
		if reason != "" {
			w.FailureReason = &reason
		}
		w.NeedsReview = false
		return transitionWithdrawal(ctx, q, s.audit, &w, domain.WithdrawalRefunded, actorID, "refunded", marshalMetadata(map[string]any{
			"restored_commission": w.DebitedCommission.String(),
			"restored_deposited":  w.DebitedDeposited.String(),
			"reason":              reason,
		}))
	})
	if err != nil {
		return nil, err
	}
	observability.IncrementWithdrawalTransition(domain.WithdrawalB2CFailed, domain.WithdrawalRefunded)
	s.notifyStatus(ctx, domain.EventWithdrawalRefunded, w)
	return &w, nil
}

func (s *WithdrawalService) restoreSplit(ctx context.Context, q repository.Querier, w models.Withdrawal, reason string) error {
	split := w.DebitSplit()
	if split.Total() != w.Amount {
		return &domain.DataIntegrityError{Entity: "withdrawal", ID: w.ID.String(), Reason: fmt.Sprintf("debited split %s does not match amount %s", split.Total(), w.Amount)}
	}
	if _, err := s.ledger.Restore(ctx, q, w.UserID, split, Posting{
		Reason:    reason,
		Reference: "withdrawal:" + w.ID.String(),
	}); err != nil {
		return err
	}
	if !split.Commission.IsPositive() {
		return nil
	}
	offset := models.Commission{
		ID:                 uuid.New(),
		ReferrerID:         w.UserID,
		Source:             domain.NoSource(),
		Amount:             split.Commission,
		Type:               domain.CommissionTypeWithdrawalRefund,
		Description:        "refund of withdrawal " + w.ID.String(),
		RefundWithdrawalID: &w.ID,
	}
	if _, err := q.InsertCommission(ctx, offset); err != nil {
		return fmt.Errorf("insert refund commission: %w", err)
	}
	return nil
}

func (s *WithdrawalService) Get(ctx context.Context, id uuid.UUID) (*models.Withdrawal, error) {
	w, err := s.store.Queries().GetWithdrawal(ctx, id)
	if repository.IsNotFound(err) {
		return nil, ErrWithdrawalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get withdrawal: %w", err)
	}
	return &w, nil
}

// ListByStatus returns withdrawals in a status, oldest request first.
func (s *WithdrawalService) ListByStatus(ctx context.Context, status string, limit, offset int32) ([]models.Withdrawal, error) {
	if _, known := withdrawalTransitions[status]; !known {
		return nil, domain.NewValidationError("status", fmt.Sprintf("unknown withdrawal status %q", status))
	}
	limit, offset = clampPage(limit, offset)
	out, err := s.store.Queries().ListWithdrawalsByStatus(ctx, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list withdrawals: %w", err)
	}
	return out, nil
}

// completeFromGateway applies a payout success on the caller's transaction.
func (s *WithdrawalService) completeFromGateway(ctx context.Context, q repository.Querier, w *models.Withdrawal, receipt string) error {
	if receipt != "" {
		w.ExternalTransactionID = &receipt
	}
	w.PaidAt = ptr(s.now())
	return transitionWithdrawal(ctx, q, s.audit, w, domain.WithdrawalCompleted, nil, "payout_succeeded", marshalMetadata(map[string]any{
		"receipt": receipt,
	}))
}

// failFromGateway applies a payout failure or timeout. Funds stay debited
// until an operator refunds or force-completes.
func (s *WithdrawalService) failFromGateway(ctx context.Context, q repository.Querier, w *models.Withdrawal, reason string) error {
	w.FailureReason = &reason
	return transitionWithdrawal(ctx, q, s.audit, w, domain.WithdrawalB2CFailed, nil, "payout_failed", marshalReasonMetadata(reason))
}

func (s *WithdrawalService) lockWithdrawal(ctx context.Context, q repository.Querier, id uuid.UUID) (models.Withdrawal, error) {
	w, err := q.GetWithdrawalForUpdate(ctx, id)
	if repository.IsNotFound(err) {
		return models.Withdrawal{}, ErrWithdrawalNotFound
	}
	if err != nil {
		return models.Withdrawal{}, fmt.Errorf("lock withdrawal: %w", err)
	}
	return w, nil
}

func (s *WithdrawalService) notifyStatus(ctx context.Context, event string, w models.Withdrawal) {
	payload := map[string]any{
		"withdrawal_id": w.ID.String(),
		"user_id":       w.UserID.String(),
		"amount":        w.Amount.String(),
		"status":        w.Status,
	}
	if w.ExternalTransactionID != nil {
		payload["external_transaction_id"] = *w.ExternalTransactionID
	}
	if w.FailureReason != nil {
		payload["reason"] = *w.FailureReason
	}
	s.notifier.Notify(ctx, event, payload)
}
