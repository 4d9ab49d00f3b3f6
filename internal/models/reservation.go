package models

import (
	"fmt"
	"time"

	"github.com/fia-cloud/fia/pkg/money"
	"github.com/google/uuid"
)

// ReservationStatus is the lifecycle state of a compute reservation.
type ReservationStatus string

const (
	ReservationPending  ReservationStatus = "pending"
	ReservationActive   ReservationStatus = "active"
	ReservationReleased ReservationStatus = "released"
	ReservationExpired  ReservationStatus = "expired"
)

var reservationTransitions = map[ReservationStatus][]ReservationStatus{
	ReservationPending: {ReservationActive, ReservationExpired},
	ReservationActive:  {ReservationReleased, ReservationExpired},
}

// OutstandingStatuses hold budget and concurrency.
var OutstandingStatuses = []ReservationStatus{ReservationPending, ReservationActive}

// ParseReservationStatus rejects unknown status strings.
func ParseReservationStatus(s string) (ReservationStatus, error) {
	switch st := ReservationStatus(s); st {
	case ReservationPending, ReservationActive, ReservationReleased, ReservationExpired:
		return st, nil
	default:
		return "", fmt.Errorf("unknown reservation status %q", s)
	}
}

// CanTransition reports whether s may move to next.
func (s ReservationStatus) CanTransition(next ReservationStatus) bool {
	for _, allowed := range reservationTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Sources returns every status that may transition into s.
func (s ReservationStatus) Sources() []ReservationStatus {
	var from []ReservationStatus
	for _, candidate := range []ReservationStatus{ReservationPending, ReservationActive, ReservationReleased, ReservationExpired} {
		if candidate.CanTransition(s) {
			from = append(from, candidate)
		}
	}
	return from
}

// Terminal reports whether no further transition is possible.
func (s ReservationStatus) Terminal() bool {
	return len(reservationTransitions[s]) == 0
}

// Reservation is a provisional claim on budget and concurrency for a run.
type Reservation struct {
	ID                  uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	RunID               string            `gorm:"type:text;index;not null" json:"run_id"`
	EstimatedCPUMinutes float64           `gorm:"column:estimated_cpu_minutes;not null" json:"estimated_cpu_minutes"`
	EstimatedCost       money.Amount      `gorm:"type:bigint;not null;default:0" json:"estimated_cost"`
	CostRate            string            `gorm:"type:text;not null" json:"cost_rate"`
	ActualCPUMinutes    *float64          `gorm:"column:actual_cpu_minutes" json:"actual_cpu_minutes,omitempty"`
	ActualCost          money.Amount      `gorm:"type:bigint;not null;default:0" json:"actual_cost"`
	Status              ReservationStatus `gorm:"type:text;index;not null" json:"status"`
	CreatedAt           time.Time         `gorm:"not null" json:"created_at"`
	ExpiresAt           time.Time         `gorm:"index;not null" json:"expires_at"`
	ReleasedAt          *time.Time        `json:"released_at,omitempty"`
	UpdatedAt           time.Time         `gorm:"not null" json:"updated_at"`
}

func (Reservation) TableName() string {
	return "fly_reservations"
}

// Outstanding reports whether the reservation still holds budget and a
// concurrency slot at now.
func (r *Reservation) Outstanding(now time.Time) bool {
	return (r.Status == ReservationPending || r.Status == ReservationActive) && r.ExpiresAt.After(now)
}
