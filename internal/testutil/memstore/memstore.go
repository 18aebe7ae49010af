// Package memstore is an in-memory repository.Querier for service tests.
// Transactions run one at a time against a copy of the data and are
// discarded unless fn returns nil, which mirrors row-lock serialization and
// rollback closely enough for the service layer.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ayo6706/wallet-settlement/internal/domain"
	"github.com/ayo6706/wallet-settlement/internal/models"
	"github.com/ayo6706/wallet-settlement/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

type state struct {
	users       map[uuid.UUID]models.User
	wallets     map[uuid.UUID]models.Wallet
	entries     []models.WalletEntry
	commissions []models.Commission
	withdrawals map[uuid.UUID]models.Withdrawal
	gateway     map[string]models.GatewayTransaction
	orders      map[domain.OrderRef]models.Order
	settings    map[string]string
	audit       []models.AuditEntry
	auditSeq    int64
}

func newState() *state {
	return &state{
		users:       map[uuid.UUID]models.User{},
		wallets:     map[uuid.UUID]models.Wallet{},
		withdrawals: map[uuid.UUID]models.Withdrawal{},
		gateway:     map[string]models.GatewayTransaction{},
		orders:      map[domain.OrderRef]models.Order{},
		settings:    map[string]string{},
	}
}

func (s *state) clone() *state {
	c := &state{
		users:       make(map[uuid.UUID]models.User, len(s.users)),
		wallets:     make(map[uuid.UUID]models.Wallet, len(s.wallets)),
		entries:     append([]models.WalletEntry(nil), s.entries...),
		commissions: append([]models.Commission(nil), s.commissions...),
		withdrawals: make(map[uuid.UUID]models.Withdrawal, len(s.withdrawals)),
		gateway:     make(map[string]models.GatewayTransaction, len(s.gateway)),
		orders:      make(map[domain.OrderRef]models.Order, len(s.orders)),
		settings:    make(map[string]string, len(s.settings)),
		audit:       append([]models.AuditEntry(nil), s.audit...),
		auditSeq:    s.auditSeq,
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	for k, v := range s.withdrawals {
		c.withdrawals[k] = v
	}
	for k, v := range s.gateway {
		c.gateway[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.settings {
		c.settings[k] = v
	}
	return c
}

// Store satisfies the service layer's QueryStore.
type Store struct {
	mu     sync.Mutex
	data   *state
	faults map[string]error
	now    func() time.Time
}

func New() *Store {
	return &Store{data: newState(), faults: map[string]error{}, now: time.Now}
}

// FailNext makes the next call to the named Querier method return err.
func (s *Store) FailNext(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[method] = err
}

func (s *Store) Queries() repository.Querier {
	return &querier{store: s, autoLock: true}
}

func (s *Store) RunInTx(ctx context.Context, fn func(q repository.Querier) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	work := s.data.clone()
	if err := fn(&querier{store: s, st: work}); err != nil {
		return err
	}
	s.data = work
	return nil
}

// SeedOrder inserts a catalog order.
func (s *Store) SeedOrder(o models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.PaymentStatus == "" {
		o.PaymentStatus = domain.PaymentStatusUnpaid
	}
	s.data.orders[o.Ref] = o
}

// SetWalletBalances overwrites balances without journaling, for drift scenarios.
func (s *Store) SetWalletBalances(userID uuid.UUID, b domain.Balances) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.data.wallets[userID]
	w.SetBalances(b)
	s.data.wallets[userID] = w
}

// AgeGatewayTransaction shifts created_at into the past.
func (s *Store) AgeGatewayTransaction(correlationID string, by time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.data.gateway[correlationID]
	g.CreatedAt = g.CreatedAt.Add(-by)
	s.data.gateway[correlationID] = g
}

// AgeWithdrawal shifts approved_at, paid_at and updated_at into the past.
func (s *Store) AgeWithdrawal(id uuid.UUID, by time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.data.withdrawals[id]
	shift := func(t *time.Time) *time.Time {
		if t == nil {
			return nil
		}
		v := t.Add(-by)
		return &v
	}
	w.ApprovedAt = shift(w.ApprovedAt)
	w.PaidAt = shift(w.PaidAt)
	w.UpdatedAt = w.UpdatedAt.Add(-by)
	s.data.withdrawals[id] = w
}

func (s *Store) Entries(userID uuid.UUID) []models.WalletEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.WalletEntry
	for _, e := range s.data.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

func (s *Store) AuditLog() []models.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AuditEntry(nil), s.data.audit...)
}

func (s *Store) GatewayTransactions() []models.GatewayTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.GatewayTransaction, 0, len(s.data.gateway))
	for _, g := range s.data.gateway {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func uniqueViolation(constraint string) error {
	return &pgconn.PgError{Code: "23505", ConstraintName: constraint, Message: "duplicate key value violates unique constraint"}
}

func checkViolation(constraint string) error {
	return &pgconn.PgError{Code: "23514", ConstraintName: constraint, Message: "new row violates check constraint"}
}

func isOpen(status string) bool {
	return status == domain.WithdrawalPending || status == domain.WithdrawalProcessing
}
