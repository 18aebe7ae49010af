package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/wallet-settlement/internal/domain"
	"github.com/ayo6706/wallet-settlement/internal/models"
	"github.com/ayo6706/wallet-settlement/internal/repository"
	"github.com/google/uuid"
)

var ErrWalletNotFound = fmt.Errorf("wallet %w", domain.ErrNotFound)

// WalletLedger owns wallet balance state. Every mutating method runs on the
// caller's transaction, takes the wallet row lock first, and journals each
// bucket movement to wallet_entries.
type WalletLedger struct {
	store QueryStore
}

func NewWalletLedger(store QueryStore) *WalletLedger {
	return &WalletLedger{store: store}
}

// Posting labels a balance movement in the journal.
type Posting struct {
	Reason    string
	Reference string
}

func (l *WalletLedger) AddDeposit(ctx context.Context, q repository.Querier, userID uuid.UUID, amount domain.Money, p Posting) (domain.Balances, error) {
	return l.mutate(ctx, q, userID, p, func(b domain.Balances) (domain.Balances, error) {
		return b.AddDeposit(amount)
	})
}

func (l *WalletLedger) AddCommission(ctx context.Context, q repository.Querier, userID uuid.UUID, amount domain.Money, p Posting) (domain.Balances, error) {
	return l.mutate(ctx, q, userID, p, func(b domain.Balances) (domain.Balances, error) {
		return b.AddCommission(amount)
	})
}

// DeductPurchase drains deposited first. On error nothing is written.
func (l *WalletLedger) DeductPurchase(ctx context.Context, q repository.Querier, userID uuid.UUID, amount domain.Money, p Posting) (domain.Balances, domain.Split, error) {
	var split domain.Split
	b, err := l.mutate(ctx, q, userID, p, func(b domain.Balances) (domain.Balances, error) {
		next, s, err := b.DeductPurchase(amount)
		split = s
		return next, err
	})
	return b, split, err
}

// DeductWithdrawal drains commission first. On error nothing is written.
func (l *WalletLedger) DeductWithdrawal(ctx context.Context, q repository.Querier, userID uuid.UUID, amount domain.Money, p Posting) (domain.Balances, domain.Split, error) {
	var split domain.Split
	b, err := l.mutate(ctx, q, userID, p, func(b domain.Balances) (domain.Balances, error) {
		next, s, err := b.DeductWithdrawal(amount)
		split = s
		return next, err
	})
	return b, split, err
}

func (l *WalletLedger) DeductCommission(ctx context.Context, q repository.Querier, userID uuid.UUID, amount domain.Money, p Posting) (domain.Balances, error) {
	return l.mutate(ctx, q, userID, p, func(b domain.Balances) (domain.Balances, error) {
		return b.DeductCommission(amount)
	})
}

// Restore credits a recorded split back into the buckets it came from.
func (l *WalletLedger) Restore(ctx context.Context, q repository.Querier, userID uuid.UUID, split domain.Split, p Posting) (domain.Balances, error) {
	return l.mutate(ctx, q, userID, p, func(b domain.Balances) (domain.Balances, error) {
		return b.Restore(split)
	})
}

// CanWithdraw locks the wallet and checks that amount is covered and that no
// other withdrawal is pending or processing.
func (l *WalletLedger) CanWithdraw(ctx context.Context, q repository.Querier, userID uuid.UUID, amount domain.Money) error {
	w, err := l.lock(ctx, q, userID)
	if err != nil {
		return err
	}
	if w.TotalBalance() < amount {
		return domain.ErrInsufficientFunds
	}
	_, err = q.GetOpenWithdrawalForUser(ctx, userID)
	switch {
	case err == nil:
		return domain.ErrWithdrawalAlreadyPending
	case repository.IsNotFound(err):
		return nil
	default:
		return fmt.Errorf("check open withdrawal: %w", err)
	}
}

// GetWallet reads a wallet without locking it.
func (l *WalletLedger) GetWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	w, err := l.store.Queries().GetWallet(ctx, userID)
	if repository.IsNotFound(err) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return &w, nil
}

func (l *WalletLedger) lock(ctx context.Context, q repository.Querier, userID uuid.UUID) (models.Wallet, error) {
	w, err := q.GetWalletForUpdate(ctx, userID)
	if repository.IsNotFound(err) {
		return models.Wallet{}, ErrWalletNotFound
	}
	if err != nil {
		return models.Wallet{}, fmt.Errorf("lock wallet %s: %w", userID, err)
	}
	return w, nil
}

func (l *WalletLedger) mutate(ctx context.Context, q repository.Querier, userID uuid.UUID, p Posting, op func(domain.Balances) (domain.Balances, error)) (domain.Balances, error) {
	w, err := l.lock(ctx, q, userID)
	if err != nil {
		return domain.Balances{}, err
	}
	before := w.Balances()
	after, err := op(before)
	if err != nil {
		return before, err
	}

	rows, err := q.UpdateWalletBalances(ctx, userID, after)
	if err != nil {
		return before, fmt.Errorf("update wallet balances: %w", err)
	}
	if err := requireExactlyOne(rows, "update wallet balances"); err != nil {
		return before, err
	}

	deltas := []struct {
		bucket string
		amount domain.Money
	}{
		{domain.BucketDeposited, after.Deposited - before.Deposited},
		{domain.BucketCommission, after.Commission - before.Commission},
	}
	for _, d := range deltas {
		if d.amount == 0 {
			continue
		}
		if err := q.InsertWalletEntry(ctx, models.WalletEntry{
			ID:        uuid.New(),
			UserID:    userID,
			Bucket:    d.bucket,
			Amount:    d.amount,
			Reason:    p.Reason,
			Reference: p.Reference,
		}); err != nil {
			return before, fmt.Errorf("journal %s entry: %w", d.bucket, err)
		}
	}
	return after, nil
}
