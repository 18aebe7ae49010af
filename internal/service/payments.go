package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/wallet-settlement/internal/domain"
	"github.com/ayo6706/wallet-settlement/internal/gateway"
	"github.com/ayo6706/wallet-settlement/internal/models"
	"github.com/ayo6706/wallet-settlement/internal/notify"
	"github.com/ayo6706/wallet-settlement/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrOrderAlreadyPaid = errors.New("order is already paid")

// PaymentService starts collections and pays orders from wallet balance.
type PaymentService struct {
	store       QueryStore
	ledger      *WalletLedger
	commissions *CommissionEngine
	gateway     gateway.Client
	audit       *AuditService
	notifier    notify.Notifier
}

func NewPaymentService(store QueryStore, ledger *WalletLedger, commissions *CommissionEngine, gw gateway.Client, notifier notify.Notifier) *PaymentService {
	return &PaymentService{
		store:       store,
		ledger:      ledger,
		commissions: commissions,
		gateway:     gw,
		audit:       NewAuditService(store),
		notifier:    notifier,
	}
}

// PurchaseResult is the outcome of paying an order from the wallet.
type PurchaseResult struct {
	Order      models.Order       `json:"order"`
	Debited    domain.Split       `json:"-"`
	Balances   domain.Balances    `json:"-"`
	Commission *models.Commission `json:"commission,omitempty"`
}

// InitiateOrderCollection charges the customer's phone for an unpaid order.
// The order is confirmed when the collection callback arrives.
func (s *PaymentService) InitiateOrderCollection(ctx context.Context, userID uuid.UUID, ref domain.OrderRef, phone string) (*models.GatewayTransaction, error) {
	phone, err := NormalizePhone(phone)
	if err != nil {
		return nil, err
	}
	order, err := s.store.Queries().GetOrder(ctx, ref)
	if repository.IsNotFound(err) || (err == nil && order.UserID != userID) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order.PaymentStatus == domain.PaymentStatusPaid {
		return nil, ErrOrderAlreadyPaid
	}
	return s.initiateCollection(ctx, models.GatewayTransaction{
		Purpose:  domain.PurposeOrderPayment,
		UserID:   userID,
		Amount:   order.Amount,
		OrderRef: &ref,
	}, phone, ref.String())
}

// InitiateDeposit charges the customer's phone to top up the deposited balance.
func (s *PaymentService) InitiateDeposit(ctx context.Context, userID uuid.UUID, amount domain.Money, phone string) (*models.GatewayTransaction, error) {
	if !amount.IsPositive() {
		return nil, domain.NewValidationError("amount", "must be positive")
	}
	phone, err := NormalizePhone(phone)
	if err != nil {
		return nil, err
	}
	if _, err := s.ledger.GetWallet(ctx, userID); err != nil {
		return nil, err
	}
	return s.initiateCollection(ctx, models.GatewayTransaction{
		Purpose: domain.PurposeWalletDeposit,
		UserID:  userID,
		Amount:  amount,
	}, phone, "deposit:"+userID.String())
}

func (s *PaymentService) initiateCollection(ctx context.Context, g models.GatewayTransaction, phone, reference string) (*models.GatewayTransaction, error) {
	correlationID, err := s.gateway.InitiateCollection(ctx, gateway.CollectionRequest{
		Phone:     phone,
		Amount:    g.Amount,
		Reference: reference,
	})
	if err != nil {
		return nil, fmt.Errorf("initiate collection: %w", err)
	}

	g.ID = uuid.New()
	g.CorrelationID = correlationID
	g.Kind = domain.GatewayKindCollection
	g.Status = domain.GatewayStatusInitiated
	err = s.store.RunInTx(ctx, func(q repository.Querier) error {
		if err := q.InsertGatewayTransaction(ctx, g); err != nil {
			return fmt.Errorf("insert gateway transaction: %w", err)
		}
		return s.audit.Write(ctx, q, "gateway_transaction", correlationID, &g.UserID, "collection_initiated", "", g.Status, marshalMetadata(map[string]any{
			"purpose": g.Purpose,
			"amount":  g.Amount.String(),
		}))
	})
	if err != nil {
		// The charge is live at the gateway; its callback will arrive unmatched
		// and be flagged, so nothing is lost silently.
		zap.L().Error("collection initiated but not recorded", zap.Error(err), zap.String("correlation_id", correlationID))
		return nil, err
	}
	return &g, nil
}

// PayOrderFromWallet debits the wallet (deposited first), marks the order
// paid and posts the referral commission in one transaction.
func (s *PaymentService) PayOrderFromWallet(ctx context.Context, userID uuid.UUID, ref domain.OrderRef) (*PurchaseResult, error) {
	var result PurchaseResult
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		order, err := q.GetOrderForUpdate(ctx, ref)
		if repository.IsNotFound(err) || (err == nil && order.UserID != userID) {
			return ErrOrderNotFound
		}
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		if order.PaymentStatus == domain.PaymentStatusPaid {
			return ErrOrderAlreadyPaid
		}

		balances, split, err := s.ledger.DeductPurchase(ctx, q, userID, order.Amount, Posting{
			Reason:    domain.EntryPurchase,
			Reference: "order:" + ref.String(),
		})
		if err != nil {
			return err
		}

		now := utcNow()
		rows, err := q.MarkOrderPaid(ctx, ref, now)
		if err != nil {
			return fmt.Errorf("mark order paid: %w", err)
		}
		if err := requireExactlyOne(rows, "mark order paid"); err != nil {
			return err
		}
		if err := s.audit.Write(ctx, q, "order", ref.String(), &userID, "paid_from_wallet", order.PaymentStatus, domain.PaymentStatusPaid, marshalMetadata(map[string]any{
			"debited_deposited":  split.Deposited.String(),
			"debited_commission": split.Commission.String(),
		})); err != nil {
			return err
		}
		order.PaymentStatus = domain.PaymentStatusPaid
		order.PaidAt = &now

		commission, err := s.commissions.PostOrderCommission(ctx, q, order)
		if err != nil {
			return err
		}
		result = PurchaseResult{Order: order, Debited: split, Balances: balances, Commission: commission}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, domain.EventOrderPaid, map[string]any{
		"order":   ref.String(),
		"user_id": userID.String(),
		"amount":  result.Order.Amount.String(),
	})
	s.commissions.NotifyEarned(ctx, result.Commission)
	return &result, nil
}
