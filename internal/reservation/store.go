// Package reservation manages compute reservations: provisional claims on
// budget and concurrency that are released with reported usage or reclaimed
// by the expiry sweep.
package reservation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/fia-cloud/fia/internal/anomaly"
	"github.com/fia-cloud/fia/internal/event"
	"github.com/fia-cloud/fia/internal/ledger"
	"github.com/fia-cloud/fia/internal/metrics"
	"github.com/fia-cloud/fia/internal/models"
	"github.com/fia-cloud/fia/internal/tracing"
	"github.com/fia-cloud/fia/pkg/log"
	"github.com/fia-cloud/fia/pkg/money"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

const defaultBatchSize = 256

var (
	ErrUnknownReservation = errors.New("reservation not found")
	ErrReservationExpired = errors.New("reservation expired before release")
	ErrInvalidUsage       = errors.New("actual cpu minutes must be a non-negative number")
	ErrNotActive          = errors.New("reservation is not active")

	errTransitionLost = errors.New("reservation transition lost to concurrent writer")
)

// Store reads and writes fly_reservations.
type Store struct {
	db        *gorm.DB
	ledger    *ledger.Ledger
	recorder  anomaly.Recorder
	events    event.Publisher
	now       func() time.Time
	batchSize int
}

func NewStore(db *gorm.DB, l *ledger.Ledger) *Store {
	if db == nil {
		panic("reservation store requires database")
	}
	if l == nil {
		l = ledger.New(db, time.UTC)
	}
	return &Store{
		db:        db,
		ledger:    l,
		events:    event.Discard,
		now:       time.Now,
		batchSize: defaultBatchSize,
	}
}

// WithTx returns a store, and its ledger, bound to an open transaction.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	clone := *s
	clone.db = tx
	clone.ledger = s.ledger.WithTx(tx)
	return &clone
}

// WithClock overrides the time source.
func (s *Store) WithClock(now func() time.Time) *Store {
	clone := *s
	clone.now = now
	clone.ledger = s.ledger.WithClock(now)
	return &clone
}

// WithRecorder routes expirations into the anomaly rollup.
func (s *Store) WithRecorder(recorder anomaly.Recorder) *Store {
	clone := *s
	clone.recorder = recorder
	return &clone
}

// WithEvents publishes release and expiry events to pub.
func (s *Store) WithEvents(pub event.Publisher) *Store {
	clone := *s
	if pub == nil {
		pub = event.Discard
	}
	clone.events = pub
	return &clone
}

// WithBatchSize bounds how many reservations one sweep examines.
func (s *Store) WithBatchSize(n int) *Store {
	clone := *s
	if n > 0 {
		clone.batchSize = n
	}
	return &clone
}

// CreateParams describes a reservation being granted.
type CreateParams struct {
	RunID               string
	EstimatedCPUMinutes float64
	EstimatedCost       money.Amount
	Rate                money.Rate
	TTL                 time.Duration
}

// Create inserts a pending reservation. It is meant to run inside the grant
// transaction, followed by Activate.
func (s *Store) Create(ctx context.Context, p CreateParams) (*models.Reservation, error) {
	if p.RunID == "" {
		return nil, errors.New("reservation requires a run id")
	}
	if p.TTL <= 0 {
		return nil, fmt.Errorf("invalid reservation ttl %s", p.TTL)
	}

	now := s.now().UTC()
	r := &models.Reservation{
		ID:                  uuid.New(),
		RunID:               p.RunID,
		EstimatedCPUMinutes: p.EstimatedCPUMinutes,
		EstimatedCost:       p.EstimatedCost,
		CostRate:            p.Rate.String(),
		Status:              models.ReservationPending,
		CreatedAt:           now,
		ExpiresAt:           now.Add(p.TTL),
		UpdatedAt:           now,
	}
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return nil, err
	}
	return r, nil
}

// Activate moves a pending reservation to active.
func (s *Store) Activate(ctx context.Context, r *models.Reservation) error {
	now := s.now().UTC()
	if err := s.transition(ctx, r.ID, models.ReservationActive, map[string]interface{}{
		"updated_at": now,
	}); err != nil {
		return err
	}
	r.Status = models.ReservationActive
	r.UpdatedAt = now
	return nil
}

// CountOutstanding counts reservations that hold a concurrency slot at now.
// Rows past their expiry no longer count even before the sweep marks them.
func (s *Store) CountOutstanding(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Reservation{}).
		Where("status IN ? AND expires_at > ?", models.OutstandingStatuses, now.UTC()).
		Count(&count).Error
	return count, err
}

// Get returns the reservation or ErrUnknownReservation.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*models.Reservation, error) {
	r := &models.Reservation{}
	err := s.db.WithContext(ctx).First(r, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownReservation, id)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ForRun lists reservations for runID, oldest first.
func (s *Store) ForRun(ctx context.Context, runID string) ([]models.Reservation, error) {
	var out []models.Reservation
	err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

// ListFilter narrows List.
type ListFilter struct {
	Status models.ReservationStatus
	Limit  int
}

// List returns reservations newest first.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]models.Reservation, error) {
	q := s.db.WithContext(ctx).Model(&models.Reservation{}).Order("created_at DESC")
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var out []models.Reservation
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Release records actual usage for an active reservation and adds it to the
// ledger month of the release, in one transaction. Releasing twice returns
// the stored reservation without touching the ledger again.
func (s *Store) Release(ctx context.Context, id uuid.UUID, actualCPUMinutes float64) (*models.Reservation, error) {
	ctx, span := tracing.Start(ctx, "reservation.release", attribute.String("reservation_id", id.String()))
	released, err := s.release(ctx, id, actualCPUMinutes)
	tracing.End(span, err)
	return released, err
}

func (s *Store) release(ctx context.Context, id uuid.UUID, actualCPUMinutes float64) (*models.Reservation, error) {
	if math.IsNaN(actualCPUMinutes) || math.IsInf(actualCPUMinutes, 0) || actualCPUMinutes < 0 {
		return nil, ErrInvalidUsage
	}

	var (
		released *models.Reservation
		applied  bool
	)
	now := s.now().UTC()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		store := s.WithTx(tx)

		r, err := store.Get(ctx, id)
		if err != nil {
			return err
		}

		switch r.Status {
		case models.ReservationReleased:
			released = r
			return nil
		case models.ReservationExpired:
			return fmt.Errorf("%w: %s", ErrReservationExpired, id)
		case models.ReservationPending:
			return fmt.Errorf("%w: %s", ErrNotActive, id)
		}

		rate, err := money.ParseRate(r.CostRate)
		if err != nil {
			return fmt.Errorf("reservation %s has unusable cost rate: %w", id, err)
		}
		cost, err := rate.Cost(actualCPUMinutes)
		if err != nil {
			return err
		}

		err = store.transition(ctx, id, models.ReservationReleased, map[string]interface{}{
			"actual_cpu_minutes": actualCPUMinutes,
			"actual_cost":        cost,
			"released_at":        now,
			"updated_at":         now,
		})
		if errors.Is(err, errTransitionLost) {
			// A concurrent writer moved the row after it was read; report its outcome.
			released, err = store.settled(ctx, id)
			return err
		}
		if err != nil {
			return err
		}

		if err := store.ledger.AddActual(ctx, store.ledger.MonthKey(now), actualCPUMinutes, cost); err != nil {
			return err
		}

		r.Status = models.ReservationReleased
		r.ActualCPUMinutes = &actualCPUMinutes
		r.ActualCost = cost
		r.ReleasedAt = &now
		r.UpdatedAt = now
		released = r
		applied = true
		return nil
	}, &sql.TxOptions{Isolation: sql.LevelSerializable})

	if errors.Is(err, ErrReservationExpired) {
		s.recordAnomaly(now, anomaly.KindReleaseAfterExpiry)
		log.Warn("release after reservation expiry", "reservation_id", id, "actual_cpu_minutes", actualCPUMinutes)
	}
	if err != nil {
		return nil, err
	}

	if applied {
		metrics.ReservationsReleasedTotal.Inc()
		metrics.CostActualMicros.Add(float64(released.ActualCost.Micros()))
		s.events.Publish(event.NewEvent(event.TypeReservationReleased, released.RunID, released.ID.String(), map[string]interface{}{
			"actual_cpu_minutes": actualCPUMinutes,
			"actual_cost":        released.ActualCost,
		}))
		log.Info("reservation released", "reservation_id", id, "run_id", released.RunID, "actual_cost", released.ActualCost.String())
	} else {
		log.Debug("reservation already released", "reservation_id", id)
	}

	return released, nil
}

// SweepExpired moves pending and active reservations whose expiry is before
// now to expired and returns the ids it transitioned. The ledger is not
// touched: the estimate stays counted as spent.
func (s *Store) SweepExpired(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	ctx, span := tracing.Start(ctx, "reservation.sweep")
	expired, err := s.sweepExpired(ctx, now)
	span.SetAttributes(attribute.Int("expired", len(expired)))
	tracing.End(span, err)
	return expired, err
}

func (s *Store) sweepExpired(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	now = now.UTC()

	var candidates []uuid.UUID
	if err := s.db.WithContext(ctx).
		Model(&models.Reservation{}).
		Where("status IN ? AND expires_at < ?", models.ReservationExpired.Sources(), now).
		Order("expires_at ASC").
		Limit(s.batchSize).
		Pluck("id", &candidates).Error; err != nil {
		return nil, err
	}

	expired := make([]uuid.UUID, 0, len(candidates))
	for _, id := range candidates {
		result := s.db.WithContext(ctx).
			Model(&models.Reservation{}).
			Where("id = ? AND status IN ? AND expires_at < ?", id, models.ReservationExpired.Sources(), now).
			Updates(map[string]interface{}{
				"status":     models.ReservationExpired,
				"updated_at": now,
			})
		if result.Error != nil {
			return expired, result.Error
		}
		if result.RowsAffected == 0 {
			metrics.TransitionContentionTotal.WithLabelValues(string(models.ReservationExpired)).Inc()
			continue
		}

		expired = append(expired, id)
		metrics.ReservationsExpiredTotal.Inc()
		s.recordAnomaly(now, anomaly.KindReservationExpired)
		s.events.Publish(event.NewEvent(event.TypeReservationExpired, "", id.String(), nil))
		log.Warn("reservation expired", "reservation_id", id)
	}

	if len(expired) > 0 {
		log.Info("expired reservations swept", "count", len(expired))
	}
	return expired, nil
}

func (s *Store) transition(ctx context.Context, id uuid.UUID, to models.ReservationStatus, columns map[string]interface{}) error {
	from := to.Sources()
	if len(from) == 0 {
		return fmt.Errorf("no transition into %s", to)
	}

	columns["status"] = to
	result := s.db.WithContext(ctx).
		Model(&models.Reservation{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(columns)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		metrics.TransitionContentionTotal.WithLabelValues(string(to)).Inc()
		return errTransitionLost
	}
	return nil
}

// settled classifies a reservation whose release lost its transition guard.
func (s *Store) settled(ctx context.Context, id uuid.UUID) (*models.Reservation, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch r.Status {
	case models.ReservationReleased:
		return r, nil
	case models.ReservationExpired:
		return nil, fmt.Errorf("%w: %s", ErrReservationExpired, id)
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotActive, id)
	}
}

func (s *Store) recordAnomaly(now time.Time, kind anomaly.Kind) {
	if s.recorder == nil {
		return
	}
	s.recorder.RecordEvent(now.In(s.ledger.Location()).Format("2006-01-02"), kind)
}
