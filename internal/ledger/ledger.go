// Package ledger keeps the monthly usage accounting. Every write is an
// additive delta applied with an upsert, so concurrent writers never lose
// each other's updates.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/fia-cloud/fia/internal/models"
	"github.com/fia-cloud/fia/pkg/money"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const monthLayout = "2006-01"

var (
	// ErrNegativeDelta is returned for deltas that would decrease a month.
	ErrNegativeDelta = errors.New("ledger deltas must not be negative")
	// ErrOverflow is returned when a delta would push a month's cost past
	// the largest representable amount.
	ErrOverflow = errors.New("ledger cost total out of range")
)

// Ledger reads and writes monthly_usage.
type Ledger struct {
	db       *gorm.DB
	location *time.Location
	now      func() time.Time
}

func New(db *gorm.DB, location *time.Location) *Ledger {
	if db == nil {
		panic("ledger requires database")
	}
	if location == nil {
		location = time.UTC
	}
	return &Ledger{db: db, location: location, now: time.Now}
}

// WithTx returns a ledger bound to an open transaction.
func (l *Ledger) WithTx(tx *gorm.DB) *Ledger {
	clone := *l
	clone.db = tx
	return &clone
}

// WithClock overrides the time source used for updated_at.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	clone := *l
	clone.now = now
	return &clone
}

// MonthKey returns the canonical month key for t.
func (l *Ledger) MonthKey(t time.Time) string {
	return t.In(l.location).Format(monthLayout)
}

// Location returns the canonical time zone.
func (l *Ledger) Location() *time.Location {
	return l.location
}

// AddEstimated adds an estimate to month.
func (l *Ledger) AddEstimated(ctx context.Context, month string, cpuMinutes float64, cost money.Amount) error {
	if err := checkDelta(month, cpuMinutes, cost); err != nil {
		return err
	}
	return l.upsert(ctx, models.MonthlyUsage{
		Month:               month,
		CPUMinutesEstimated: cpuMinutes,
		CostEstimated:       cost,
	}, cost, "cost_estimated", "cpu_minutes_estimated")
}

// AddActual adds reported usage to month.
func (l *Ledger) AddActual(ctx context.Context, month string, cpuMinutes float64, cost money.Amount) error {
	if err := checkDelta(month, cpuMinutes, cost); err != nil {
		return err
	}
	return l.upsert(ctx, models.MonthlyUsage{
		Month:            month,
		CPUMinutesActual: cpuMinutes,
		CostActual:       cost,
	}, cost, "cost_actual", "cpu_minutes_actual")
}

// GetMonth returns the usage for month. A month that has never been written
// reads as zero.
func (l *Ledger) GetMonth(ctx context.Context, month string) (models.MonthlyUsage, error) {
	if _, err := time.Parse(monthLayout, month); err != nil {
		return models.MonthlyUsage{}, fmt.Errorf("invalid month %q: %w", month, err)
	}

	var rows []models.MonthlyUsage
	if err := l.db.WithContext(ctx).
		Where("month = ?", month).
		Limit(1).
		Find(&rows).Error; err != nil {
		return models.MonthlyUsage{}, err
	}
	if len(rows) == 0 {
		return models.MonthlyUsage{Month: month}, nil
	}
	return rows[0], nil
}

// upsert adds row's deltas to the month. The update is skipped, and
// ErrOverflow returned, when costColumn would exceed money.MaxAmount.
func (l *Ledger) upsert(ctx context.Context, row models.MonthlyUsage, cost money.Amount, costColumn string, others ...string) error {
	row.UpdatedAt = l.now().UTC()

	assignments := map[string]interface{}{
		"updated_at": gorm.Expr("excluded.updated_at"),
	}
	for _, col := range append([]string{costColumn}, others...) {
		assignments[col] = gorm.Expr(fmt.Sprintf("monthly_usage.%s + excluded.%s", col, col))
	}

	guard := clause.Expr{
		SQL:  fmt.Sprintf("monthly_usage.%s <= ?", costColumn),
		Vars: []interface{}{money.MaxAmount.Sub(cost).Micros()},
	}

	res := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "month"}},
			DoUpdates: clause.Assignments(assignments),
			Where:     clause.Where{Exprs: []clause.Expression{guard}},
		}).
		Create(&row)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s %s + %s", ErrOverflow, row.Month, costColumn, cost)
	}
	return nil
}

func checkDelta(month string, cpuMinutes float64, cost money.Amount) error {
	if month == "" {
		return errors.New("ledger month is required")
	}
	if math.IsNaN(cpuMinutes) || math.IsInf(cpuMinutes, 0) {
		return fmt.Errorf("invalid cpu minutes %v", cpuMinutes)
	}
	if cpuMinutes < 0 || cost < 0 {
		return ErrNegativeDelta
	}
	return nil
}
