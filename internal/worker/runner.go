package worker

import (
	"context"

	"github.com/ayo6706/wallet-settlement/internal/service"
)

// Runner runs the jobs once, outside the tickers. Used by the admin
// endpoints and the CLI.
type Runner struct {
	Sweeper Sweeper
	Auditor Auditor
}

func (r Runner) Sweep(ctx context.Context) (service.SweepReport, error) {
	return NewSweepWorker(r.Sweeper).ProcessOnce(ctx)
}

func (r Runner) Audit(ctx context.Context) (service.AuditReport, error) {
	report, err := r.Auditor.Run(ctx)
	if err != nil {
		return report, err
	}
	return report, nil
}
