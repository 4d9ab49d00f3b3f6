package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// AnomalyRollup is the derived per-day summary of anomalous events.
type AnomalyRollup struct {
	ID        uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	Day       string            `gorm:"type:text;uniqueIndex;not null" json:"day"`
	Summary   datatypes.JSONMap `gorm:"type:json" json:"summary"`
	CreatedAt time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time         `gorm:"not null" json:"updated_at"`
}

func (AnomalyRollup) TableName() string {
	return "anomaly_rollups"
}
