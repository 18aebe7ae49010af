package domain

import "fmt"

// Balances is the pair of wallet sub-balances. The total is always derived.
type Balances struct {
	Deposited  Money
	Commission Money
}

// Split records how much of a debit or credit hit each bucket.
type Split struct {
	Deposited  Money
	Commission Money
}

func (s Split) Total() Money { return s.Deposited + s.Commission }

func (b Balances) Total() Money { return b.Deposited + b.Commission }

func requirePositive(amount Money) error {
	if amount <= 0 {
		return NewValidationError("amount", fmt.Sprintf("must be positive, got %s", amount))
	}
	return nil
}

func (b Balances) AddDeposit(amount Money) (Balances, error) {
	if err := requirePositive(amount); err != nil {
		return b, err
	}
	b.Deposited += amount
	return b, nil
}

func (b Balances) AddCommission(amount Money) (Balances, error) {
	if err := requirePositive(amount); err != nil {
		return b, err
	}
	b.Commission += amount
	return b, nil
}

// DeductPurchase drains deposited first, then commission.
func (b Balances) DeductPurchase(amount Money) (Balances, Split, error) {
	return b.deduct(amount, false)
}

// DeductWithdrawal drains commission first, then deposited.
func (b Balances) DeductWithdrawal(amount Money) (Balances, Split, error) {
	return b.deduct(amount, true)
}

// DeductCommission removes amount from the commission bucket only.
func (b Balances) DeductCommission(amount Money) (Balances, error) {
	if err := requirePositive(amount); err != nil {
		return b, err
	}
	if b.Commission < amount {
		return b, ErrInsufficientFunds
	}
	b.Commission -= amount
	return b, nil
}

// Restore credits a previously recorded split back into the matching buckets.
func (b Balances) Restore(split Split) (Balances, error) {
	if split.Deposited < 0 || split.Commission < 0 || split.Total() <= 0 {
		return b, NewValidationError("split", "restore requires a positive split")
	}
	b.Deposited += split.Deposited
	b.Commission += split.Commission
	return b, nil
}

func (b Balances) deduct(amount Money, commissionFirst bool) (Balances, Split, error) {
	if err := requirePositive(amount); err != nil {
		return b, Split{}, err
	}
	if b.Total() < amount {
		return b, Split{}, ErrInsufficientFunds
	}

	first, second := &b.Deposited, &b.Commission
	if commissionFirst {
		first, second = &b.Commission, &b.Deposited
	}
	fromFirst := min(*first, amount)
	fromSecond := amount - fromFirst
	*first -= fromFirst
	*second -= fromSecond

	split := Split{Deposited: fromFirst, Commission: fromSecond}
	if commissionFirst {
		split = Split{Deposited: fromSecond, Commission: fromFirst}
	}
	return b, split, nil
}
