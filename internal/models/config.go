package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// FiaConfig stores a guardrail configuration document. At most one row is
// active at a time.
type FiaConfig struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Active    bool           `gorm:"index;not null;default:false" json:"active"`
	Config    datatypes.JSON `gorm:"type:json" json:"config"`
	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
}

func (FiaConfig) TableName() string {
	return "fia_configs"
}
