package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/wallet-settlement/internal/domain"
	"github.com/ayo6706/wallet-settlement/internal/models"
	"github.com/ayo6706/wallet-settlement/internal/repository"
	"github.com/google/uuid"
)

var withdrawalTransitions = map[string]map[string]struct{}{
	domain.WithdrawalRequested: {
		domain.WithdrawalPending: {},
		domain.WithdrawalFailed:  {},
	},
	domain.WithdrawalPending: {
		domain.WithdrawalProcessing: {},
		domain.WithdrawalFailed:     {},
	},
	domain.WithdrawalProcessing: {
		domain.WithdrawalCompleted: {},
		domain.WithdrawalFailed:    {},
		domain.WithdrawalB2CFailed: {},
	},
	// b2c_failed leaves only through an operator decision.
	domain.WithdrawalB2CFailed: {
		domain.WithdrawalCompleted: {},
		domain.WithdrawalRefunded:  {},
	},
	domain.WithdrawalCompleted: {},
	domain.WithdrawalFailed:    {},
	domain.WithdrawalRefunded:  {},
}

func canTransition(current, next string) bool {
	nextStates, ok := withdrawalTransitions[current]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}

// transitionWithdrawal persists w with its status moved to next and writes
// the audit record. w must have been read with GetWithdrawalForUpdate on q;
// callers set any other mutable fields on w before calling.
func transitionWithdrawal(ctx context.Context, q repository.Querier, audit *AuditService, w *models.Withdrawal, next string, actorID *uuid.UUID, action string, metadata []byte) error {
	current := w.Status
	if !canTransition(current, next) {
		return domain.InvalidTransition("withdrawal", current, next)
	}

	w.Status = next
	rows, err := q.UpdateWithdrawal(ctx, *w)
	if err != nil {
		if repository.IsUniqueViolation(err, repository.ConstraintOpenWithdrawal) {
			w.Status = current
			return domain.ErrWithdrawalAlreadyPending
		}
		w.Status = current
		return fmt.Errorf("update withdrawal state: %w", err)
	}
	if err := requireExactlyOne(rows, "update withdrawal state"); err != nil {
		w.Status = current
		return err
	}

	return audit.Write(ctx, q, "withdrawal", w.ID.String(), actorID, action, current, next, metadata)
}
