package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/wallet-settlement/internal/observability"
	"go.uber.org/zap"
)

const driftBatchSize = 500

// AuditReport summarizes one balance audit.
type AuditReport struct {
	DriftedWallets int   `json:"drifted_wallets"`
	StuckRecords   int64 `json:"stuck_records"`
}

// BalanceAuditor recomputes wallet balances from the journal and counts
// records that have waited too long for a gateway result.
type BalanceAuditor struct {
	store      QueryStore
	audit      *AuditService
	stuckAfter time.Duration
	now        func() time.Time
}

func NewBalanceAuditor(store QueryStore, stuckAfter time.Duration) *BalanceAuditor {
	if stuckAfter <= 0 {
		stuckAfter = 5 * time.Minute
	}
	return &BalanceAuditor{
		store:      store,
		audit:      NewAuditService(store),
		stuckAfter: stuckAfter,
		now:        utcNow,
	}
}

// Run flags every wallet whose stored sub-balances disagree with the sum of
// its journal entries. Drift is never corrected automatically.
func (s *BalanceAuditor) Run(ctx context.Context) (AuditReport, error) {
	var report AuditReport
	queries := s.store.Queries()

	drift, err := queries.ListWalletDrift(ctx, driftBatchSize)
	if err != nil {
		return report, fmt.Errorf("run wallet drift query: %w", err)
	}
	report.DriftedWallets = len(drift)
	observability.SetWalletDrift(len(drift))

	for _, d := range drift {
		zap.L().Error("CRITICAL: wallet balance drift detected",
			zap.String("user_id", d.UserID.String()),
			zap.String("stored_deposited", d.StoredDeposited.String()),
			zap.String("journal_deposited", d.JournalDeposited.String()),
			zap.String("stored_commission", d.StoredCommission.String()),
			zap.String("journal_commission", d.JournalCommission.String()),
		)
		s.audit.FlagDetached(ctx, "wallet", d.UserID.String(), "balance_drift", marshalMetadata(map[string]any{
			"stored_deposited":   d.StoredDeposited.String(),
			"stored_commission":  d.StoredCommission.String(),
			"journal_deposited":  d.JournalDeposited.String(),
			"journal_commission": d.JournalCommission.String(),
		}))
	}

	stuck, err := queries.CountStuckRecords(ctx, s.now().Add(-s.stuckAfter))
	if err != nil {
		return report, fmt.Errorf("count stuck records: %w", err)
	}
	report.StuckRecords = stuck
	observability.SetStuckRecords(stuck)

	if len(drift) == 0 {
		zap.L().Info("Wallet balances match journal", zap.Int64("stuck_records", stuck))
	}
	return report, nil
}
