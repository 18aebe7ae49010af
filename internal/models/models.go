package models

import (
	"encoding/json"
	"time"

	"github.com/ayo6706/wallet-settlement/internal/domain"
	"github.com/google/uuid"
)

type User struct {
	ID           uuid.UUID  `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	Phone        string     `json:"phone"`
	ReferralCode string     `json:"referral_code"`
	ReferredBy   *uuid.UUID `json:"referred_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Wallet is owned 1:1 by a user. Total is never stored.
type Wallet struct {
	UserID            uuid.UUID    `json:"user_id"`
	DepositedBalance  domain.Money `json:"deposited_balance"`
	CommissionBalance domain.Money `json:"commission_balance"`
	PinHash           string       `json:"-"`
	PinAttempts       int          `json:"-"`
	PinLockedUntil    *time.Time   `json:"-"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

func (w Wallet) Balances() domain.Balances {
	return domain.Balances{Deposited: w.DepositedBalance, Commission: w.CommissionBalance}
}

func (w *Wallet) SetBalances(b domain.Balances) {
	w.DepositedBalance = b.Deposited
	w.CommissionBalance = b.Commission
}

func (w Wallet) TotalBalance() domain.Money {
	return w.Balances().Total()
}

func (w Wallet) MarshalJSON() ([]byte, error) {
	type alias Wallet
	return json.Marshal(struct {
		alias
		TotalBalance domain.Money `json:"total_balance"`
		PinSet       bool         `json:"pin_set"`
	}{alias: alias(w), TotalBalance: w.TotalBalance(), PinSet: w.PinHash != ""})
}

// WalletEntry is one signed movement on a wallet bucket.
type WalletEntry struct {
	ID        uuid.UUID    `json:"id"`
	UserID    uuid.UUID    `json:"user_id"`
	Bucket    string       `json:"bucket"`
	Amount    domain.Money `json:"amount"`
	Reason    string       `json:"reason"`
	Reference string       `json:"reference"`
	CreatedAt time.Time    `json:"created_at"`
}

// Commission is an immutable ledger entry. Offsets are new rows, never updates.
type Commission struct {
	ID                 uuid.UUID               `json:"id"`
	ReferrerID         uuid.UUID               `json:"referrer_id"`
	Source             domain.CommissionSource `json:"-"`
	Amount             domain.Money            `json:"amount"`
	Type               string                  `json:"type"`
	Description        string                  `json:"description,omitempty"`
	ReversesID         *uuid.UUID              `json:"reverses_id,omitempty"`
	RefundWithdrawalID *uuid.UUID              `json:"refund_withdrawal_id,omitempty"`
	CreatedAt          time.Time               `json:"created_at"`
}

func (c Commission) MarshalJSON() ([]byte, error) {
	type alias Commission
	var orderID *uuid.UUID
	if ref, ok := c.Source.OrderRef(); ok {
		orderID = &ref.ID
	}
	return json.Marshal(struct {
		alias
		SourceKind    domain.SourceKind `json:"source_kind"`
		SourceOrderID *uuid.UUID        `json:"source_order_id,omitempty"`
	}{alias: alias(c), SourceKind: sourceKindOrNone(c.Source), SourceOrderID: orderID})
}

func sourceKindOrNone(s domain.CommissionSource) domain.SourceKind {
	if s.IsNone() {
		return domain.SourceNone
	}
	return s.Kind
}

type Withdrawal struct {
	ID                    uuid.UUID    `json:"id"`
	UserID                uuid.UUID    `json:"user_id"`
	Amount                domain.Money `json:"amount"`
	PhoneNumber           string       `json:"phone_number"`
	Status                string       `json:"status"`
	DebitedCommission     domain.Money `json:"debited_commission"`
	DebitedDeposited      domain.Money `json:"debited_deposited"`
	ExternalTransactionID *string      `json:"external_transaction_id,omitempty"`
	GatewayConversationID *string      `json:"gateway_conversation_id,omitempty"`
	FailureReason         *string      `json:"failure_reason,omitempty"`
	NeedsReview           bool         `json:"needs_review"`
	RequestedAt           time.Time    `json:"requested_at"`
	ApprovedAt            *time.Time   `json:"approved_at,omitempty"`
	PaidAt                *time.Time   `json:"paid_at,omitempty"`
	UpdatedAt             time.Time    `json:"updated_at"`
}

func (w Withdrawal) DebitSplit() domain.Split {
	return domain.Split{Deposited: w.DebitedDeposited, Commission: w.DebitedCommission}
}

// Order is the catalog's view of a product or service order.
type Order struct {
	Ref           domain.OrderRef `json:"-"`
	UserID        uuid.UUID       `json:"user_id"`
	Amount        domain.Money    `json:"amount"`
	PaymentStatus string          `json:"payment_status"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
}

// GatewayTransaction tracks one outbound gateway request until its callback arrives.
type GatewayTransaction struct {
	ID            uuid.UUID        `json:"id"`
	CorrelationID string           `json:"correlation_id"`
	Kind          string           `json:"kind"`
	Purpose       string           `json:"purpose,omitempty"`
	UserID        uuid.UUID        `json:"user_id"`
	Amount        domain.Money     `json:"amount"`
	OrderRef      *domain.OrderRef `json:"-"`
	WithdrawalID  *uuid.UUID       `json:"withdrawal_id,omitempty"`
	Status        string           `json:"status"`
	ResultCode    *string          `json:"result_code,omitempty"`
	ResultDesc    *string          `json:"result_desc,omitempty"`
	Receipt       *string          `json:"receipt,omitempty"`
	NeedsReview   bool             `json:"needs_review"`
	ReviewReason  *string          `json:"review_reason,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	ResolvedAt    *time.Time       `json:"resolved_at,omitempty"`
}

func (g GatewayTransaction) IsTerminal() bool {
	return g.Status == domain.GatewayStatusSucceeded || g.Status == domain.GatewayStatusFailed
}

type AuditEntry struct {
	ID          int64           `json:"id"`
	EntityType  string          `json:"entity_type"`
	EntityID    string          `json:"entity_id"`
	ActorID     *uuid.UUID      `json:"actor_id,omitempty"`
	Action      string          `json:"action"`
	PrevState   *string         `json:"prev_state,omitempty"`
	NextState   *string         `json:"next_state,omitempty"`
	NeedsReview bool            `json:"needs_review"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// WalletDrift is a wallet whose stored sub-balances disagree with its journal.
type WalletDrift struct {
	UserID            uuid.UUID    `json:"user_id"`
	StoredDeposited   domain.Money `json:"stored_deposited"`
	StoredCommission  domain.Money `json:"stored_commission"`
	JournalDeposited  domain.Money `json:"journal_deposited"`
	JournalCommission domain.Money `json:"journal_commission"`
}
