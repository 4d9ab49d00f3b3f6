package models

import (
	"time"

	"github.com/fia-cloud/fia/pkg/money"
)

// MonthlyUsage accumulates estimated and actual spend for one calendar
// month. Cost columns hold micro-units.
type MonthlyUsage struct {
	Month               string       `gorm:"type:text;primaryKey" json:"month"`
	CPUMinutesEstimated float64      `gorm:"column:cpu_minutes_estimated;not null;default:0" json:"cpu_minutes_estimated"`
	CPUMinutesActual    float64      `gorm:"column:cpu_minutes_actual;not null;default:0" json:"cpu_minutes_actual"`
	CostEstimated       money.Amount `gorm:"column:cost_estimated;type:bigint;not null;default:0" json:"cost_estimated"`
	CostActual          money.Amount `gorm:"column:cost_actual;type:bigint;not null;default:0" json:"cost_actual"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

func (MonthlyUsage) TableName() string {
	return "monthly_usage"
}
