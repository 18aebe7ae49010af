package domain

import "time"

const (
	// Wallet buckets.
	BucketDeposited  = "deposited"
	BucketCommission = "commission"

	// Wallet entry reasons.
	EntryDeposit          = "deposit"
	EntryCommission       = "commission"
	EntryPurchase         = "purchase"
	EntryWithdrawal       = "withdrawal"
	EntryWithdrawalRefund = "withdrawal_refund"
	EntryManualRemoval    = "manual_removal"

	// Commission types.
	CommissionTypeOrder            = "order"
	CommissionTypeManual           = "manual"
	CommissionTypeManualRemoval    = "manual_removal"
	CommissionTypeWithdrawalRefund = "withdrawal_refund"

	// Withdrawal statuses.
	WithdrawalRequested  = "requested"
	WithdrawalPending    = "pending"
	WithdrawalProcessing = "processing"
	WithdrawalCompleted  = "completed"
	WithdrawalFailed     = "failed"
	WithdrawalB2CFailed  = "b2c_failed"
	WithdrawalRefunded   = "refunded"

	// Order payment statuses as reported by the catalog.
	PaymentStatusUnpaid = "unpaid"
	PaymentStatusPaid   = "paid"

	// Gateway transaction kinds and statuses.
	GatewayKindCollection = "collection"
	GatewayKindPayout     = "payout"

	GatewayStatusInitiated = "initiated"
	GatewayStatusSucceeded = "succeeded"
	GatewayStatusFailed    = "failed"

	// Collection purposes.
	PurposeOrderPayment  = "order_payment"
	PurposeWalletDeposit = "wallet_deposit"

	// Gateway status-query outcomes.
	QueryPending = "pending"
	QuerySuccess = "success"
	QueryFailed  = "failed"

	// Roles.
	RoleAdmin = "admin"
)

// System setting keys.
const (
	SettingEcommerceRate = "commission_rate.ecommerce"
	SettingServiceRate   = "commission_rate.service"
	SettingWithdrawalMin = "withdrawal.min"
	SettingWithdrawalMax = "withdrawal.max"
)

// Defaults used when a system setting is absent.
const (
	DefaultEcommerceRate = "0.03"
	DefaultServiceRate   = "0.20"
	DefaultWithdrawalMin = "10.00"
	DefaultWithdrawalMax = "150000.00"
)

const (
	DefaultPinMaxAttempts     = 4
	DefaultPinLockout         = 2 * time.Hour
	DefaultOTPTTL             = 10 * time.Minute
	DefaultWithdrawalCooldown = 5 * time.Minute
)

// Notification events.
const (
	EventCommissionEarned    = "commission.earned"
	EventWithdrawalRequested = "withdrawal.requested"
	EventWithdrawalCompleted = "withdrawal.completed"
	EventWithdrawalFailed    = "withdrawal.b2c_failed"
	EventWithdrawalRefunded  = "withdrawal.refunded"
	EventDepositReceived     = "wallet.deposit_received"
	EventOrderPaid           = "order.paid"
	EventPinChangeCode       = "pin.change_code"
	EventPinLocked           = "pin.locked"
)
