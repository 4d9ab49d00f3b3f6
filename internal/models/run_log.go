package models

import (
	"time"

	"gorm.io/datatypes"
)

// RunLog is the append-only audit record of one pipeline run.
type RunLog struct {
	RunID     string            `gorm:"column:run_id;type:text;primaryKey" json:"run_id"`
	Stage     string            `gorm:"type:text;index;not null" json:"stage"`
	Meta      datatypes.JSONMap `gorm:"type:json" json:"meta,omitempty"`
	StartedAt time.Time         `gorm:"not null" json:"started_at"`
	EndedAt   *time.Time        `json:"ended_at,omitempty"`
	Success   *bool             `json:"success,omitempty"`
	Details   datatypes.JSONMap `gorm:"type:json" json:"details,omitempty"`
}

func (RunLog) TableName() string {
	return "run_log"
}

// Closed reports whether the run has an end time.
func (r *RunLog) Closed() bool {
	return r.EndedAt != nil
}
