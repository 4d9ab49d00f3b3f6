package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Signal is a stage output keyed by run and ticker. Immutable once written.
type Signal struct {
	ID        uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	RunID     string            `gorm:"type:text;index;not null" json:"run_id"`
	Ticker    string            `gorm:"type:text;index;not null" json:"ticker"`
	Payload   datatypes.JSONMap `gorm:"type:json" json:"payload,omitempty"`
	CreatedAt time.Time         `gorm:"not null" json:"created_at"`
}

func (Signal) TableName() string {
	return "signals"
}

// Result is a deep-analysis output keyed by run and ticker.
type Result struct {
	ID        uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	RunID     string            `gorm:"type:text;index;not null" json:"run_id"`
	Ticker    string            `gorm:"type:text;index;not null" json:"ticker"`
	Payload   datatypes.JSONMap `gorm:"type:json" json:"payload,omitempty"`
	CreatedAt time.Time         `gorm:"not null" json:"created_at"`
}

func (Result) TableName() string {
	return "results"
}
