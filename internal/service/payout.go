package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/wallet-settlement/internal/domain"
	"github.com/ayo6706/wallet-settlement/internal/gateway"
	"github.com/ayo6706/wallet-settlement/internal/models"
	"github.com/ayo6706/wallet-settlement/internal/observability"
	"github.com/ayo6706/wallet-settlement/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var errAlreadyDispatched = errors.New("payout already dispatched")

// recordTimeout bounds the bookkeeping after the gateway accepted a payout.
const recordTimeout = 10 * time.Second

// dispatchPayout asks the gateway to pay out an approved withdrawal and
// records the conversation id used to match the result callback.
//
// A definitive rejection fails the withdrawal and restores its split, since
// the gateway never accepted the payout. Any other error leaves the
// withdrawal processing without a conversation id; the sweep retries it.
func (s *WithdrawalService) dispatchPayout(ctx context.Context, w models.Withdrawal) (models.Withdrawal, error) {
	conversationID, err := s.gateway.InitiatePayout(ctx, gateway.PayoutRequest{
		Phone:     w.PhoneNumber,
		Amount:    w.Amount,
		Reference: w.ID.String(),
	})
	if err != nil {
		if errors.Is(err, gateway.ErrRejected) {
			return s.failRejectedPayout(ctx, w, err.Error())
		}
		zap.L().Warn("payout dispatch deferred to sweep", zap.Error(err), zap.String("withdrawal_id", w.ID.String()))
		return w, nil
	}

	// The payout is live from here on. A caller that goes away must not leave
	// it unrecorded, or the sweep would dispatch it a second time.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	err = s.store.RunInTx(ctx, func(q repository.Querier) error {
		current, err := s.lockWithdrawal(ctx, q, w.ID)
		if err != nil {
			return err
		}
		if current.Status != domain.WithdrawalProcessing || current.GatewayConversationID != nil {
			return errAlreadyDispatched
		}
		current.GatewayConversationID = &conversationID
		rows, err := q.UpdateWithdrawal(ctx, current)
		if err != nil {
			return fmt.Errorf("record conversation id: %w", err)
		}
		if err := requireExactlyOne(rows, "record conversation id"); err != nil {
			return err
		}
		if err := q.InsertGatewayTransaction(ctx, models.GatewayTransaction{
			ID:            uuid.New(),
			CorrelationID: conversationID,
			Kind:          domain.GatewayKindPayout,
			UserID:        current.UserID,
			Amount:        current.Amount,
			WithdrawalID:  &current.ID,
			Status:        domain.GatewayStatusInitiated,
		}); err != nil {
			return fmt.Errorf("insert gateway transaction: %w", err)
		}
		if err := s.audit.Write(ctx, q, "withdrawal", current.ID.String(), nil, "payout_dispatched", current.Status, current.Status, marshalMetadata(map[string]any{
			"conversation_id": conversationID,
		})); err != nil {
			return err
		}
		w = current
		return nil
	})
	if err != nil {
		// The gateway accepted the payout but we could not record it. A second
		// dispatch could pay twice, so park the withdrawal for an operator.
		s.markManualReview(ctx, w.ID, conversationID, err.Error())
		return w, err
	}
	return w, nil
}

func (s *WithdrawalService) failRejectedPayout(ctx context.Context, w models.Withdrawal, reason string) (models.Withdrawal, error) {
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		current, err := s.lockWithdrawal(ctx, q, w.ID)
		if err != nil {
			return err
		}
		if current.Status != domain.WithdrawalProcessing || current.GatewayConversationID != nil {
			return errAlreadyDispatched
		}
		if err := s.restoreSplit(ctx, q, current, domain.EntryWithdrawalRefund); err != nil {
			return err
		}
		current.FailureReason = &reason
		if err := transitionWithdrawal(ctx, q, s.audit, &current, domain.WithdrawalFailed, nil, "payout_rejected", marshalReasonMetadata(reason)); err != nil {
			return err
		}
		w = current
		return nil
	})
	if err != nil {
		return w, fmt.Errorf("fail rejected payout: %w", err)
	}
	observability.IncrementWithdrawalTransition(domain.WithdrawalProcessing, domain.WithdrawalFailed)
	zap.L().Warn("payout rejected by gateway", zap.String("withdrawal_id", w.ID.String()), zap.String("reason", reason))
	s.notifyStatus(ctx, domain.EventWithdrawalFailed, w)
	return w, nil
}

// Redispatch retries the payout for an approved withdrawal that never
// reached the gateway.
func (s *WithdrawalService) Redispatch(ctx context.Context, w models.Withdrawal) (models.Withdrawal, error) {
	if w.Status != domain.WithdrawalProcessing || w.GatewayConversationID != nil {
		return w, errAlreadyDispatched
	}
	return s.dispatchPayout(ctx, w)
}

func (s *WithdrawalService) markManualReview(ctx context.Context, withdrawalID uuid.UUID, conversationID, reason string) {
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		current, err := s.lockWithdrawal(ctx, q, withdrawalID)
		if err != nil {
			return err
		}
		current.NeedsReview = true
		rows, err := q.UpdateWithdrawal(ctx, current)
		if err != nil {
			return fmt.Errorf("flag withdrawal: %w", err)
		}
		if err := requireExactlyOne(rows, "flag withdrawal"); err != nil {
			return err
		}
		return s.audit.Flag(ctx, q, "withdrawal", withdrawalID.String(), "payout_unrecorded", current.Status, marshalMetadata(map[string]any{
			"conversation_id": conversationID,
			"reason":          reason,
		}))
	})
	if err != nil {
		zap.L().Error("failed to flag withdrawal for manual review",
			zap.Error(err),
			zap.String("withdrawal_id", withdrawalID.String()),
			zap.String("conversation_id", conversationID),
		)
	}
}
