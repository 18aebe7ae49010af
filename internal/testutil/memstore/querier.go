package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/ayo6706/wallet-settlement/internal/domain"
	"github.com/ayo6706/wallet-settlement/internal/models"
	"github.com/ayo6706/wallet-settlement/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type querier struct {
	store    *Store
	st       *state
	autoLock bool
}

var _ repository.Querier = (*querier)(nil)

func (q *querier) begin(method string) (*state, func(), error) {
	st, done := q.st, func() {}
	if q.autoLock {
		q.store.mu.Lock()
		st, done = q.store.data, q.store.mu.Unlock
	}
	if err, ok := q.store.faults[method]; ok {
		delete(q.store.faults, method)
		done()
		return nil, nil, err
	}
	return st, done, nil
}

func (q *querier) now() time.Time {
	return q.store.now().UTC()
}

func window[T any](items []T, limit, offset int32) []T {
	if int(offset) >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && int(limit) < len(items) {
		items = items[:limit]
	}
	return items
}

func (q *querier) CreateUser(_ context.Context, u models.User) error {
	st, done, err := q.begin("CreateUser")
	if err != nil {
		return err
	}
	defer done()
	for _, existing := range st.users {
		switch {
		case existing.ID == u.ID:
			return uniqueViolation("users_pkey")
		case existing.Username == u.Username:
			return uniqueViolation("users_username_key")
		case existing.Email == u.Email:
			return uniqueViolation("users_email_key")
		case existing.ReferralCode == u.ReferralCode:
			return uniqueViolation("users_referral_code_key")
		}
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = q.now()
	}
	st.users[u.ID] = u
	return nil
}

func (q *querier) GetUser(_ context.Context, id uuid.UUID) (models.User, error) {
	st, done, err := q.begin("GetUser")
	if err != nil {
		return models.User{}, err
	}
	defer done()
	u, ok := st.users[id]
	if !ok {
		return models.User{}, pgx.ErrNoRows
	}
	return u, nil
}

func (q *querier) GetUserByReferralCode(_ context.Context, code string) (models.User, error) {
	st, done, err := q.begin("GetUserByReferralCode")
	if err != nil {
		return models.User{}, err
	}
	defer done()
	for _, u := range st.users {
		if u.ReferralCode == code {
			return u, nil
		}
	}
	return models.User{}, pgx.ErrNoRows
}

func (q *querier) CreateWallet(_ context.Context, userID uuid.UUID) error {
	st, done, err := q.begin("CreateWallet")
	if err != nil {
		return err
	}
	defer done()
	if _, ok := st.wallets[userID]; ok {
		return uniqueViolation("wallets_pkey")
	}
	now := q.now()
	st.wallets[userID] = models.Wallet{UserID: userID, CreatedAt: now, UpdatedAt: now}
	return nil
}

func (q *querier) GetWallet(_ context.Context, userID uuid.UUID) (models.Wallet, error) {
	st, done, err := q.begin("GetWallet")
	if err != nil {
		return models.Wallet{}, err
	}
	defer done()
	w, ok := st.wallets[userID]
	if !ok {
		return models.Wallet{}, pgx.ErrNoRows
	}
	return w, nil
}

func (q *querier) GetWalletForUpdate(ctx context.Context, userID uuid.UUID) (models.Wallet, error) {
	return q.GetWallet(ctx, userID)
}

func (q *querier) UpdateWalletBalances(_ context.Context, userID uuid.UUID, b domain.Balances) (int64, error) {
	st, done, err := q.begin("UpdateWalletBalances")
	if err != nil {
		return 0, err
	}
	defer done()
	w, ok := st.wallets[userID]
	if !ok {
		return 0, nil
	}
	if b.Deposited < 0 {
		return 0, checkViolation("wallets_deposited_cents_check")
	}
	if b.Commission < 0 {
		return 0, checkViolation("wallets_commission_cents_check")
	}
	w.SetBalances(b)
	w.UpdatedAt = q.now()
	st.wallets[userID] = w
	return 1, nil
}

func (q *querier) UpdateWalletPin(_ context.Context, arg repository.UpdateWalletPinParams) (int64, error) {
	st, done, err := q.begin("UpdateWalletPin")
	if err != nil {
		return 0, err
	}
	defer done()
	w, ok := st.wallets[arg.UserID]
	if !ok {
		return 0, nil
	}
	w.PinHash = arg.PinHash
	w.PinAttempts = arg.Attempts
	w.PinLockedUntil = arg.LockedUntil
	w.UpdatedAt = q.now()
	st.wallets[arg.UserID] = w
	return 1, nil
}

func (q *querier) InsertWalletEntry(_ context.Context, e models.WalletEntry) error {
	st, done, err := q.begin("InsertWalletEntry")
	if err != nil {
		return err
	}
	defer done()
	if e.Amount == 0 {
		return checkViolation("wallet_entries_amount_cents_check")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = q.now()
	}
	st.entries = append(st.entries, e)
	return nil
}

func (q *querier) ListWalletDrift(_ context.Context, limit int32) ([]models.WalletDrift, error) {
	st, done, err := q.begin("ListWalletDrift")
	if err != nil {
		return nil, err
	}
	defer done()
	sums := map[uuid.UUID]*domain.Balances{}
	for _, e := range st.entries {
		b, ok := sums[e.UserID]
		if !ok {
			b = &domain.Balances{}
			sums[e.UserID] = b
		}
		if e.Bucket == domain.BucketDeposited {
			b.Deposited += e.Amount
		} else {
			b.Commission += e.Amount
		}
	}
	var out []models.WalletDrift
	for id, w := range st.wallets {
		j := domain.Balances{}
		if b, ok := sums[id]; ok {
			j = *b
		}
		if j != w.Balances() {
			out = append(out, models.WalletDrift{
				UserID:            id,
				StoredDeposited:   w.DepositedBalance,
				StoredCommission:  w.CommissionBalance,
				JournalDeposited:  j.Deposited,
				JournalCommission: j.Commission,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID.String() < out[j].UserID.String() })
	return window(out, limit, 0), nil
}

func (q *querier) InsertCommission(_ context.Context, c models.Commission) (bool, error) {
	st, done, err := q.begin("InsertCommission")
	if err != nil {
		return false, err
	}
	defer done()
	if c.Amount <= 0 {
		return false, checkViolation("commissions_amount_cents_check")
	}
	for _, existing := range st.commissions {
		if existing.ID == c.ID {
			return false, uniqueViolation("commissions_pkey")
		}
		if !c.Source.IsNone() && existing.Source == c.Source {
			return false, nil
		}
		if c.ReversesID != nil && existing.ReversesID != nil && *existing.ReversesID == *c.ReversesID {
			return false, uniqueViolation("commissions_reverses_id_key")
		}
		if c.RefundWithdrawalID != nil && existing.RefundWithdrawalID != nil && *existing.RefundWithdrawalID == *c.RefundWithdrawalID {
			return false, uniqueViolation("commissions_refund_withdrawal_id_key")
		}
	}
	if c.Source.IsNone() {
		c.Source = domain.NoSource()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = q.now()
	}
	st.commissions = append(st.commissions, c)
	return true, nil
}

func (q *querier) GetCommission(_ context.Context, id uuid.UUID) (models.Commission, error) {
	st, done, err := q.begin("GetCommission")
	if err != nil {
		return models.Commission{}, err
	}
	defer done()
	for _, c := range st.commissions {
		if c.ID == id {
			return c, nil
		}
	}
	return models.Commission{}, pgx.ErrNoRows
}

func (q *querier) GetCommissionBySource(_ context.Context, src domain.CommissionSource) (models.Commission, error) {
	st, done, err := q.begin("GetCommissionBySource")
	if err != nil {
		return models.Commission{}, err
	}
	defer done()
	if src.IsNone() {
		return models.Commission{}, pgx.ErrNoRows
	}
	for _, c := range st.commissions {
		if c.Source == src {
			return c, nil
		}
	}
	return models.Commission{}, pgx.ErrNoRows
}

func (q *querier) ListCommissionsByReferrer(_ context.Context, referrerID uuid.UUID, limit, offset int32) ([]models.Commission, error) {
	st, done, err := q.begin("ListCommissionsByReferrer")
	if err != nil {
		return nil, err
	}
	defer done()
	var out []models.Commission
	for i := len(st.commissions) - 1; i >= 0; i-- {
		if st.commissions[i].ReferrerID == referrerID {
			out = append(out, st.commissions[i])
		}
	}
	return window(out, limit, offset), nil
}

func openConflict(st *state, w models.Withdrawal) bool {
	if !isOpen(w.Status) {
		return false
	}
	for _, other := range st.withdrawals {
		if other.ID != w.ID && other.UserID == w.UserID && isOpen(other.Status) {
			return true
		}
	}
	return false
}

func (q *querier) InsertWithdrawal(_ context.Context, w models.Withdrawal) error {
	st, done, err := q.begin("InsertWithdrawal")
	if err != nil {
		return err
	}
	defer done()
	if _, ok := st.withdrawals[w.ID]; ok {
		return uniqueViolation("withdrawals_pkey")
	}
	if openConflict(st, w) {
		return uniqueViolation(repository.ConstraintOpenWithdrawal)
	}
	if w.Amount <= 0 {
		return checkViolation("withdrawals_amount_cents_check")
	}
	now := q.now()
	if w.RequestedAt.IsZero() {
		w.RequestedAt = now
	}
	w.UpdatedAt = now
	st.withdrawals[w.ID] = w
	return nil
}

func (q *querier) GetWithdrawal(_ context.Context, id uuid.UUID) (models.Withdrawal, error) {
	st, done, err := q.begin("GetWithdrawal")
	if err != nil {
		return models.Withdrawal{}, err
	}
	defer done()
	w, ok := st.withdrawals[id]
	if !ok {
		return models.Withdrawal{}, pgx.ErrNoRows
	}
	return w, nil
}

func (q *querier) GetWithdrawalForUpdate(ctx context.Context, id uuid.UUID) (models.Withdrawal, error) {
	return q.GetWithdrawal(ctx, id)
}

func (q *querier) GetOpenWithdrawalForUser(_ context.Context, userID uuid.UUID) (models.Withdrawal, error) {
	st, done, err := q.begin("GetOpenWithdrawalForUser")
	if err != nil {
		return models.Withdrawal{}, err
	}
	defer done()
	for _, w := range st.withdrawals {
		if w.UserID == userID && isOpen(w.Status) {
			return w, nil
		}
	}
	return models.Withdrawal{}, pgx.ErrNoRows
}

func (q *querier) GetLastCompletedWithdrawalAt(_ context.Context, userID uuid.UUID) (*time.Time, error) {
	st, done, err := q.begin("GetLastCompletedWithdrawalAt")
	if err != nil {
		return nil, err
	}
	defer done()
	var last *time.Time
	for _, w := range st.withdrawals {
		if w.UserID != userID || w.Status != domain.WithdrawalCompleted || w.PaidAt == nil {
			continue
		}
		if last == nil || w.PaidAt.After(*last) {
			t := *w.PaidAt
			last = &t
		}
	}
	return last, nil
}

func (q *querier) UpdateWithdrawal(_ context.Context, w models.Withdrawal) (int64, error) {
	st, done, err := q.begin("UpdateWithdrawal")
	if err != nil {
		return 0, err
	}
	defer done()
	existing, ok := st.withdrawals[w.ID]
	if !ok {
		return 0, nil
	}
	if openConflict(st, w) {
		return 0, uniqueViolation(repository.ConstraintOpenWithdrawal)
	}
	w.Amount = existing.Amount
	w.UserID = existing.UserID
	w.PhoneNumber = existing.PhoneNumber
	w.RequestedAt = existing.RequestedAt
	w.UpdatedAt = q.now()
	st.withdrawals[w.ID] = w
	return 1, nil
}

func sortedWithdrawals(st *state, keep func(models.Withdrawal) bool) []models.Withdrawal {
	var out []models.Withdrawal
	for _, w := range st.withdrawals {
		if keep(w) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out
}

func (q *querier) ListWithdrawalsByStatus(_ context.Context, status string, limit, offset int32) ([]models.Withdrawal, error) {
	st, done, err := q.begin("ListWithdrawalsByStatus")
	if err != nil {
		return nil, err
	}
	defer done()
	out := sortedWithdrawals(st, func(w models.Withdrawal) bool { return w.Status == status })
	return window(out, limit, offset), nil
}

func (q *querier) ListUndispatchedWithdrawals(_ context.Context, approvedBefore time.Time, limit int32) ([]models.Withdrawal, error) {
	st, done, err := q.begin("ListUndispatchedWithdrawals")
	if err != nil {
		return nil, err
	}
	defer done()
	out := sortedWithdrawals(st, func(w models.Withdrawal) bool {
		return w.Status == domain.WithdrawalProcessing && w.GatewayConversationID == nil && !w.NeedsReview &&
			w.ApprovedAt != nil && w.ApprovedAt.Before(approvedBefore)
	})
	return window(out, limit, 0), nil
}

func (q *querier) InsertGatewayTransaction(_ context.Context, g models.GatewayTransaction) error {
	st, done, err := q.begin("InsertGatewayTransaction")
	if err != nil {
		return err
	}
	defer done()
	if _, ok := st.gateway[g.CorrelationID]; ok {
		return uniqueViolation("gateway_transactions_correlation_id_key")
	}
	now := q.now()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	g.UpdatedAt = now
	st.gateway[g.CorrelationID] = g
	return nil
}

func (q *querier) GetGatewayTransactionForUpdate(_ context.Context, correlationID string) (models.GatewayTransaction, error) {
	st, done, err := q.begin("GetGatewayTransactionForUpdate")
	if err != nil {
		return models.GatewayTransaction{}, err
	}
	defer done()
	g, ok := st.gateway[correlationID]
	if !ok {
		return models.GatewayTransaction{}, pgx.ErrNoRows
	}
	return g, nil
}

func (q *querier) UpdateGatewayTransaction(_ context.Context, g models.GatewayTransaction) (int64, error) {
	st, done, err := q.begin("UpdateGatewayTransaction")
	if err != nil {
		return 0, err
	}
	defer done()
	existing, ok := st.gateway[g.CorrelationID]
	if !ok || existing.ID != g.ID {
		return 0, nil
	}
	existing.Status = g.Status
	existing.ResultCode = g.ResultCode
	existing.ResultDesc = g.ResultDesc
	existing.Receipt = g.Receipt
	existing.NeedsReview = g.NeedsReview
	existing.ReviewReason = g.ReviewReason
	existing.ResolvedAt = g.ResolvedAt
	existing.UpdatedAt = q.now()
	st.gateway[g.CorrelationID] = existing
	return 1, nil
}

func sortedGateway(st *state, keep func(models.GatewayTransaction) bool) []models.GatewayTransaction {
	var out []models.GatewayTransaction
	for _, g := range st.gateway {
		if keep(g) {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (q *querier) ListStaleGatewayTransactions(_ context.Context, createdBefore time.Time, limit int32) ([]models.GatewayTransaction, error) {
	st, done, err := q.begin("ListStaleGatewayTransactions")
	if err != nil {
		return nil, err
	}
	defer done()
	out := sortedGateway(st, func(g models.GatewayTransaction) bool {
		return g.Status == domain.GatewayStatusInitiated && !g.NeedsReview && g.CreatedAt.Before(createdBefore)
	})
	return window(out, limit, 0), nil
}

func (q *querier) ListGatewayTransactionsNeedingReview(_ context.Context, limit, offset int32) ([]models.GatewayTransaction, error) {
	st, done, err := q.begin("ListGatewayTransactionsNeedingReview")
	if err != nil {
		return nil, err
	}
	defer done()
	out := sortedGateway(st, func(g models.GatewayTransaction) bool { return g.NeedsReview })
	return window(out, limit, offset), nil
}

func (q *querier) CountStuckRecords(_ context.Context, before time.Time) (int64, error) {
	st, done, err := q.begin("CountStuckRecords")
	if err != nil {
		return 0, err
	}
	defer done()
	var n int64
	for _, g := range st.gateway {
		if g.Status == domain.GatewayStatusInitiated && g.CreatedAt.Before(before) {
			n++
		}
	}
	for _, w := range st.withdrawals {
		if w.Status == domain.WithdrawalProcessing && w.UpdatedAt.Before(before) {
			n++
		}
	}
	return n, nil
}

func (q *querier) GetOrder(_ context.Context, ref domain.OrderRef) (models.Order, error) {
	st, done, err := q.begin("GetOrder")
	if err != nil {
		return models.Order{}, err
	}
	defer done()
	o, ok := st.orders[ref]
	if !ok {
		return models.Order{}, pgx.ErrNoRows
	}
	return o, nil
}

func (q *querier) GetOrderForUpdate(ctx context.Context, ref domain.OrderRef) (models.Order, error) {
	return q.GetOrder(ctx, ref)
}

func (q *querier) MarkOrderPaid(_ context.Context, ref domain.OrderRef, paidAt time.Time) (int64, error) {
	st, done, err := q.begin("MarkOrderPaid")
	if err != nil {
		return 0, err
	}
	defer done()
	o, ok := st.orders[ref]
	if !ok || o.PaymentStatus == domain.PaymentStatusPaid {
		return 0, nil
	}
	o.PaymentStatus = domain.PaymentStatusPaid
	o.PaidAt = &paidAt
	st.orders[ref] = o
	return 1, nil
}

func (q *querier) GetSetting(_ context.Context, key string) (string, error) {
	st, done, err := q.begin("GetSetting")
	if err != nil {
		return "", err
	}
	defer done()
	v, ok := st.settings[key]
	if !ok {
		return "", pgx.ErrNoRows
	}
	return v, nil
}

func (q *querier) UpsertSetting(_ context.Context, key, value string) error {
	st, done, err := q.begin("UpsertSetting")
	if err != nil {
		return err
	}
	defer done()
	st.settings[key] = value
	return nil
}

func (q *querier) InsertAuditLog(_ context.Context, arg repository.InsertAuditLogParams) error {
	st, done, err := q.begin("InsertAuditLog")
	if err != nil {
		return err
	}
	defer done()
	st.auditSeq++
	st.audit = append(st.audit, models.AuditEntry{
		ID:          st.auditSeq,
		EntityType:  arg.EntityType,
		EntityID:    arg.EntityID,
		ActorID:     arg.ActorID,
		Action:      arg.Action,
		PrevState:   arg.PrevState,
		NextState:   arg.NextState,
		NeedsReview: arg.NeedsReview,
		Metadata:    arg.Metadata,
		CreatedAt:   q.now(),
	})
	return nil
}

func (q *querier) ListAuditNeedingReview(_ context.Context, limit, offset int32) ([]models.AuditEntry, error) {
	st, done, err := q.begin("ListAuditNeedingReview")
	if err != nil {
		return nil, err
	}
	defer done()
	var out []models.AuditEntry
	for i := len(st.audit) - 1; i >= 0; i-- {
		if st.audit[i].NeedsReview {
			out = append(out, st.audit[i])
		}
	}
	return window(out, limit, offset), nil
}
