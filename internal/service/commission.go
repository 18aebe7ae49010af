package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/wallet-settlement/internal/domain"
	"github.com/ayo6706/wallet-settlement/internal/models"
	"github.com/ayo6706/wallet-settlement/internal/notify"
	"github.com/ayo6706/wallet-settlement/internal/observability"
	"github.com/ayo6706/wallet-settlement/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrCommissionNotFound       = fmt.Errorf("commission %w", domain.ErrNotFound)
	ErrOrderNotFound            = fmt.Errorf("order %w", domain.ErrNotFound)
	ErrNotManualCommission      = errors.New("only manual commissions can be removed")
	ErrCommissionAlreadyRemoved = errors.New("commission has already been removed")
)

// CommissionEngine posts referral commissions. Posting is idempotent per
// order: the commissions source index rejects a second row for the same
// order, and the wallet is only credited when the insert actually happened.
type CommissionEngine struct {
	store    QueryStore
	ledger   *WalletLedger
	settings *Settings
	audit    *AuditService
	notifier notify.Notifier
}

func NewCommissionEngine(store QueryStore, ledger *WalletLedger, settings *Settings, notifier notify.Notifier) *CommissionEngine {
	return &CommissionEngine{
		store:    store,
		ledger:   ledger,
		settings: settings,
		audit:    NewAuditService(store),
		notifier: notifier,
	}
}

// PostOrderCommission runs on the caller's transaction after the order has
// been confirmed paid. It returns nil when there is nothing to post.
func (e *CommissionEngine) PostOrderCommission(ctx context.Context, q repository.Querier, order models.Order) (*models.Commission, error) {
	buyer, err := q.GetUser(ctx, order.UserID)
	if err != nil {
		return nil, fmt.Errorf("get order owner: %w", err)
	}
	if buyer.ReferredBy == nil {
		return nil, nil
	}

	source := order.Ref.Source()
	if _, err := q.GetCommissionBySource(ctx, source); err == nil {
		observability.IncrementCommission(domain.CommissionTypeOrder, "duplicate")
		return nil, nil
	} else if !repository.IsNotFound(err) {
		return nil, fmt.Errorf("check existing commission: %w", err)
	}

	rate, err := e.settings.CommissionRate(ctx, q, order.Ref.Kind)
	if err != nil {
		return nil, err
	}
	amount := order.Amount.MulRate(rate)
	if !amount.IsPositive() {
		return nil, nil
	}

	referrerID := *buyer.ReferredBy
	if _, err := q.GetWalletForUpdate(ctx, referrerID); err != nil {
		if !repository.IsNotFound(err) {
			return nil, fmt.Errorf("lock referrer wallet: %w", err)
		}
		// Money has not moved yet: flag and let the order confirmation commit.
		zap.L().Error("referrer wallet missing, commission not posted",
			zap.String("referrer_id", referrerID.String()),
			zap.String("order", order.Ref.String()),
		)
		observability.IncrementCommission(domain.CommissionTypeOrder, "referrer_wallet_missing")
		integrity := &domain.DataIntegrityError{Entity: "wallet", ID: referrerID.String(), Reason: "referrer wallet missing"}
		return nil, e.audit.Flag(ctx, q, "order", order.Ref.String(), "referrer_wallet_missing", order.PaymentStatus, marshalMetadata(map[string]any{
			"referrer_id": referrerID.String(),
			"amount":      amount.String(),
			"error":       integrity.Error(),
		}))
	}

	c := models.Commission{
		ID:         uuid.New(),
		ReferrerID: referrerID,
		Source:     source,
		Amount:     amount,
		Type:       domain.CommissionTypeOrder,
	}
	inserted, err := q.InsertCommission(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("insert commission: %w", err)
	}
	if !inserted {
		observability.IncrementCommission(domain.CommissionTypeOrder, "duplicate")
		return nil, nil
	}

	if _, err := e.ledger.AddCommission(ctx, q, referrerID, amount, Posting{
		Reason:    domain.EntryCommission,
		Reference: "commission:" + c.ID.String(),
	}); err != nil {
		return nil, fmt.Errorf("credit referrer: %w", err)
	}
	if err := e.audit.Write(ctx, q, "commission", c.ID.String(), nil, "commission_posted", "", c.Type, marshalMetadata(map[string]any{
		"source": source.String(),
		"rate":   rate.String(),
		"amount": amount.String(),
	})); err != nil {
		return nil, err
	}
	observability.IncrementCommission(domain.CommissionTypeOrder, "posted")
	return &c, nil
}

// HandlePaymentConfirmed marks an order paid and posts its commission in one
// transaction. Safe to call repeatedly for the same order.
func (e *CommissionEngine) HandlePaymentConfirmed(ctx context.Context, actorID *uuid.UUID, ref domain.OrderRef) (*models.Commission, error) {
	var posted *models.Commission
	err := e.store.RunInTx(ctx, func(q repository.Querier) error {
		posted = nil
		order, err := q.GetOrderForUpdate(ctx, ref)
		if repository.IsNotFound(err) {
			return ErrOrderNotFound
		}
		if err != nil {
			return fmt.Errorf("get order: %w", err)
		}

		if order.PaymentStatus != domain.PaymentStatusPaid {
			now := utcNow()
			rows, err := q.MarkOrderPaid(ctx, ref, now)
			if err != nil {
				return fmt.Errorf("mark order paid: %w", err)
			}
			if err := requireExactlyOne(rows, "mark order paid"); err != nil {
				return err
			}
			if err := e.audit.Write(ctx, q, "order", ref.String(), actorID, "payment_confirmed", order.PaymentStatus, domain.PaymentStatusPaid, nil); err != nil {
				return err
			}
			order.PaymentStatus = domain.PaymentStatusPaid
			order.PaidAt = &now
		}

		posted, err = e.PostOrderCommission(ctx, q, order)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.NotifyEarned(ctx, posted)
	return posted, nil
}

// CreateManualCommission credits a referrer outside any order.
func (e *CommissionEngine) CreateManualCommission(ctx context.Context, actorID *uuid.UUID, userID uuid.UUID, amount domain.Money, description string) (*models.Commission, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, domain.NewValidationError("description", "is required")
	}
	if !amount.IsPositive() {
		return nil, domain.NewValidationError("amount", "must be positive")
	}

	c := models.Commission{
		ID:          uuid.New(),
		ReferrerID:  userID,
		Source:      domain.NoSource(),
		Amount:      amount,
		Type:        domain.CommissionTypeManual,
		Description: description,
	}
	err := e.store.RunInTx(ctx, func(q repository.Querier) error {
		if _, err := e.ledger.AddCommission(ctx, q, userID, amount, Posting{
			Reason:    domain.EntryCommission,
			Reference: "commission:" + c.ID.String(),
		}); err != nil {
			return err
		}
		if _, err := q.InsertCommission(ctx, c); err != nil {
			return fmt.Errorf("insert commission: %w", err)
		}
		return e.audit.Write(ctx, q, "commission", c.ID.String(), actorID, "manual_commission_created", "", c.Type, marshalMetadata(map[string]any{
			"amount":      amount.String(),
			"description": description,
		}))
	})
	if err != nil {
		return nil, err
	}
	observability.IncrementCommission(domain.CommissionTypeManual, "posted")
	e.NotifyEarned(ctx, &c)
	return &c, nil
}

// RemoveManualCommission offsets a manual commission with a manual_removal
// entry and debits the commission balance. The original row is never changed.
func (e *CommissionEngine) RemoveManualCommission(ctx context.Context, actorID *uuid.UUID, commissionID uuid.UUID, description string) (*models.Commission, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, domain.NewValidationError("description", "is required")
	}

	var removal models.Commission
	err := e.store.RunInTx(ctx, func(q repository.Querier) error {
		original, err := q.GetCommission(ctx, commissionID)
		if repository.IsNotFound(err) {
			return ErrCommissionNotFound
		}
		if err != nil {
			return fmt.Errorf("get commission: %w", err)
		}
		if original.Type != domain.CommissionTypeManual {
			return ErrNotManualCommission
		}

		removal = models.Commission{
			ID:          uuid.New(),
			ReferrerID:  original.ReferrerID,
			Source:      domain.NoSource(),
			Amount:      original.Amount,
			Type:        domain.CommissionTypeManualRemoval,
			Description: description,
			ReversesID:  &original.ID,
		}
		if _, err := q.InsertCommission(ctx, removal); err != nil {
			if repository.IsUniqueViolation(err, "") {
				return ErrCommissionAlreadyRemoved
			}
			return fmt.Errorf("insert removal: %w", err)
		}
		if _, err := e.ledger.DeductCommission(ctx, q, original.ReferrerID, original.Amount, Posting{
			Reason:    domain.EntryManualRemoval,
			Reference: "commission:" + removal.ID.String(),
		}); err != nil {
			return err
		}
		return e.audit.Write(ctx, q, "commission", original.ID.String(), actorID, "manual_commission_removed", original.Type, removal.Type, marshalMetadata(map[string]any{
			"removal_id":  removal.ID.String(),
			"description": description,
		}))
	})
	if err != nil {
		return nil, err
	}
	observability.IncrementCommission(domain.CommissionTypeManualRemoval, "posted")
	return &removal, nil
}

// ListForReferrer returns a referrer's commission entries, newest first.
func (e *CommissionEngine) ListForReferrer(ctx context.Context, referrerID uuid.UUID, limit, offset int32) ([]models.Commission, error) {
	limit, offset = clampPage(limit, offset)
	out, err := e.store.Queries().ListCommissionsByReferrer(ctx, referrerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list commissions: %w", err)
	}
	return out, nil
}

// NotifyEarned is called after commit. Delivery failures never surface.
func (e *CommissionEngine) NotifyEarned(ctx context.Context, c *models.Commission) {
	if c == nil {
		return
	}
	e.notifier.Notify(ctx, domain.EventCommissionEarned, map[string]any{
		"commission_id": c.ID.String(),
		"referrer_id":   c.ReferrerID.String(),
		"amount":        c.Amount.String(),
		"type":          c.Type,
		"source":        c.Source.String(),
	})
}
