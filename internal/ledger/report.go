package ledger

import (
	"context"

	"github.com/fia-cloud/fia/internal/models"
	"github.com/fia-cloud/fia/pkg/money"
)

// Report compares a month's estimates with reported actuals. Divergence is
// expected; reconciling it is a reporting concern only.
type Report struct {
	models.MonthlyUsage
	HardStop           money.Amount `json:"hard_stop"`
	Remaining          money.Amount `json:"remaining"`
	CostVariance       money.Amount `json:"cost_variance"`
	CPUMinutesVariance float64      `json:"cpu_minutes_variance"`
}

// Report builds the variance view of month against hardStop.
func (l *Ledger) Report(ctx context.Context, month string, hardStop money.Amount) (Report, error) {
	usage, err := l.GetMonth(ctx, month)
	if err != nil {
		return Report{}, err
	}

	remaining := hardStop.Sub(usage.CostEstimated)
	if remaining < 0 {
		remaining = money.Zero
	}

	return Report{
		MonthlyUsage:       usage,
		HardStop:           hardStop,
		Remaining:          remaining,
		CostVariance:       usage.CostActual.Sub(usage.CostEstimated),
		CPUMinutesVariance: usage.CPUMinutesActual - usage.CPUMinutesEstimated,
	}, nil
}
