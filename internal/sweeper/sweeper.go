// Package sweeper reclaims reservations that outlived their TTL and closes
// the runs that abandoned them.
package sweeper

import (
	"context"
	"time"

	"github.com/fia-cloud/fia/internal/models"
	"github.com/fia-cloud/fia/pkg/log"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const defaultInterval = 2 * time.Minute

type Expirer interface {
	SweepExpired(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Reservation, error)
}

type RunCloser interface {
	Close(ctx context.Context, runID string, endedAt time.Time, success bool, details datatypes.JSONMap) (*models.RunLog, error)
}

// Report summarizes one sweep.
type Report struct {
	SweptAt    time.Time   `json:"swept_at"`
	Expired    []uuid.UUID `json:"expired"`
	RunsClosed []string    `json:"runs_closed"`
}

type Sweeper struct {
	reservations Expirer
	runs         RunCloser
	workers      int
	interval     time.Duration
	now          func() time.Time
}

// New builds a sweeper that closes abandoned runs over up to workers
// goroutines per sweep.
func New(reservations Expirer, runs RunCloser, workers int, interval time.Duration) *Sweeper {
	if reservations == nil || runs == nil {
		panic("sweeper requires reservations and runs")
	}
	if workers < 1 {
		workers = 1
	}
	if interval <= 0 {
		interval = defaultInterval
	}

	return &Sweeper{
		reservations: reservations,
		runs:         runs,
		workers:      workers,
		interval:     interval,
		now:          time.Now,
	}
}

// WithClock overrides the time source.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	clone := *s
	clone.now = now
	return &clone
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			log.Error("failed to sweep expired reservations", "error", err)
		}

		if err := sleepWithContext(ctx, s.interval); err != nil {
			return nil
		}
	}
}

// SweepOnce expires overdue reservations and closes their runs as failed.
// Closing is idempotent, so a run already closed by its caller is left as
// it was.
func (s *Sweeper) SweepOnce(ctx context.Context) (Report, error) {
	now := s.now().UTC()
	report := Report{SweptAt: now, Expired: []uuid.UUID{}, RunsClosed: []string{}}

	ids, err := s.reservations.SweepExpired(ctx, now)
	report.Expired = append(report.Expired, ids...)
	if err != nil {
		return report, err
	}

	batch := newCloseBatch(s.workers)
	for _, id := range ids {
		id := id
		if err := batch.Go(ctx, func() (string, error) {
			return s.closeAbandoned(ctx, id, now)
		}); err != nil {
			break
		}
	}

	closed, err := batch.Wait()
	report.RunsClosed = append(report.RunsClosed, closed...)
	return report, err
}

func (s *Sweeper) closeAbandoned(ctx context.Context, id uuid.UUID, now time.Time) (string, error) {
	r, err := s.reservations.Get(ctx, id)
	if err != nil {
		return "", err
	}

	if _, err := s.runs.Close(ctx, r.RunID, now, false, datatypes.JSONMap{
		"reason":         "reservation_expired",
		"reservation_id": id.String(),
	}); err != nil {
		log.Error("failed to close abandoned run", "run_id", r.RunID, "reservation_id", id, "error", err)
		return "", err
	}
	return r.RunID, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
